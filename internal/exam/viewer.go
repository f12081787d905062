package exam

// Viewer follows the paginated exam document so the answer sheet can point
// at the question block that is probably on screen.
type Viewer struct {
	pages     int
	questions int
	current   int
}

// NewViewer creates a Viewer on page 1. Zero pages means the count is unknown.
func NewViewer(pages, questions int) *Viewer {
	return &Viewer{pages: pages, questions: questions, current: 1}
}

// SetPage is the document's page-change callback.
func (v *Viewer) SetPage(n int) error {
	if n < 1 || (v.pages > 0 && n > v.pages) {
		return ErrPageOutOfRange
	}
	v.current = n
	return nil
}

// Page returns the current page.
func (v *Viewer) Page() int {
	return v.current
}

// Pages returns the page count, or zero if unknown.
func (v *Viewer) Pages() int {
	return v.pages
}

// VisibleQuestions estimates the questions on the current page by spreading
// them evenly over the document. It is a display aid only.
func (v *Viewer) VisibleQuestions() QuestionRange {
	if v.pages <= 0 || v.questions <= 0 {
		return QuestionRange{}
	}
	perPage := (v.questions + v.pages - 1) / v.pages
	first := (v.current-1)*perPage + 1
	if first > v.questions {
		return QuestionRange{}
	}
	last := first + perPage - 1
	if last > v.questions {
		last = v.questions
	}
	return QuestionRange{First: first, Last: last}
}
