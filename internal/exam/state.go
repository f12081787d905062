package exam

import (
	"errors"
	"sort"

	"github.com/stemsi/exstem-taker/internal/model"
)

// Status is the lifecycle position of one exam session.
type Status int

const (
	StatusNotStarted Status = iota
	StatusActive
	StatusFinishing
	StatusFinished
)

func (s Status) String() string {
	switch s {
	case StatusNotStarted:
		return "not_started"
	case StatusActive:
		return "active"
	case StatusFinishing:
		return "finishing"
	case StatusFinished:
		return "finished"
	default:
		return "unknown"
	}
}

// Dialog is the single open confirmation, if any.
type Dialog int

const (
	DialogNone Dialog = iota
	DialogConfirmFinish
	DialogConfirmExit
)

func (d Dialog) String() string {
	switch d {
	case DialogConfirmFinish:
		return "confirm_finish"
	case DialogConfirmExit:
		return "confirm_exit"
	default:
		return "none"
	}
}

var (
	ErrNotStarted     = errors.New("exam session has not started")
	ErrSessionClosed  = errors.New("exam session is closed")
	ErrFinishInFlight = errors.New("finish is already in progress")
	ErrNoDialog       = errors.New("no confirmation is open")
	ErrInvalidAnswer  = errors.New("question number must be positive and answer non-empty and at most 64 characters")
	ErrDialogOpen     = errors.New("another confirmation is open")
	ErrPageOutOfRange = errors.New("page is out of range")
	ErrAlreadyRunning = errors.New("controller is already running")
)

// QuestionRange is an inclusive range of question numbers. Zero means unknown.
type QuestionRange struct {
	First int
	Last  int
}

// Empty reports whether the range carries no questions.
func (r QuestionRange) Empty() bool {
	return r.First == 0 || r.Last < r.First
}

// Snapshot is an immutable copy of the session state for rendering.
type Snapshot struct {
	Status           Status
	Dialog           Dialog
	Session          model.Session
	Test             *model.Test
	TimeLeft         int
	Answers          []AnswerEntry
	Page             int
	Pages            int
	VisibleQuestions QuestionRange
	Exited           bool
}

// Answer returns the entry for question q.
func (s Snapshot) Answer(q int) (AnswerEntry, bool) {
	i := sort.Search(len(s.Answers), func(i int) bool { return s.Answers[i].QuestionNumber >= q })
	if i < len(s.Answers) && s.Answers[i].QuestionNumber == q {
		return s.Answers[i], true
	}
	return AnswerEntry{}, false
}

// AnswerMap returns question number → answer value.
func (s Snapshot) AnswerMap() map[int]string {
	m := make(map[int]string, len(s.Answers))
	for _, a := range s.Answers {
		m[a.QuestionNumber] = a.Value
	}
	return m
}

// Unsynced counts answers the server has not confirmed.
func (s Snapshot) Unsynced() int {
	n := 0
	for _, a := range s.Answers {
		if a.Status != SyncConfirmed {
			n++
		}
	}
	return n
}
