package exam

import "sort"

// SyncStatus tracks whether the server has the local value of an answer.
type SyncStatus int

const (
	SyncPending SyncStatus = iota
	SyncConfirmed
	SyncFailed
	// SyncRejected means the server refused the value; resending it cannot help.
	SyncRejected
)

func (s SyncStatus) String() string {
	switch s {
	case SyncPending:
		return "pending"
	case SyncConfirmed:
		return "confirmed"
	case SyncFailed:
		return "failed"
	case SyncRejected:
		return "rejected"
	default:
		return "unknown"
	}
}

// AnswerEntry is one row of the answer sheet.
type AnswerEntry struct {
	QuestionNumber int
	Value          string
	Status         SyncStatus
}

type answerSlot struct {
	value  string
	status SyncStatus
	seq    uint64
}

// AnswerSheet is the local question → answer map. Entries are overwritten,
// never removed. Not safe for concurrent use; the controller owns it.
type AnswerSheet struct {
	slots map[int]*answerSlot
}

// NewAnswerSheet creates an empty AnswerSheet.
func NewAnswerSheet() *AnswerSheet {
	return &AnswerSheet{slots: make(map[int]*answerSlot)}
}

// Set stores value for q as pending and returns the sequence number the
// matching server response must carry.
func (a *AnswerSheet) Set(q int, value string) uint64 {
	slot, ok := a.slots[q]
	if !ok {
		slot = &answerSlot{}
		a.slots[q] = slot
	}
	slot.seq++
	slot.value = value
	slot.status = SyncPending
	return slot.seq
}

// Resolve records the server's response for (q, seq). Responses for an
// overwritten value are ignored; the return value reports whether it applied.
func (a *AnswerSheet) Resolve(q int, seq uint64, err error) bool {
	slot, ok := a.slots[q]
	if !ok || slot.seq != seq {
		return false
	}
	if err != nil {
		slot.status = SyncFailed
	} else {
		slot.status = SyncConfirmed
	}
	return true
}

// Reject records a permanent refusal for (q, seq). Rejected values are not
// offered by Failed; only a new Set clears the state.
func (a *AnswerSheet) Reject(q int, seq uint64) bool {
	slot, ok := a.slots[q]
	if !ok || slot.seq != seq {
		return false
	}
	slot.status = SyncRejected
	return true
}

// Resend marks q pending again and returns its value and new sequence.
func (a *AnswerSheet) Resend(q int) (string, uint64, bool) {
	slot, ok := a.slots[q]
	if !ok {
		return "", 0, false
	}
	slot.seq++
	slot.status = SyncPending
	return slot.value, slot.seq, true
}

// Failed returns the question numbers whose last send failed, ascending.
func (a *AnswerSheet) Failed() []int {
	var out []int
	for q, slot := range a.slots {
		if slot.status == SyncFailed {
			out = append(out, q)
		}
	}
	sort.Ints(out)
	return out
}

// Get returns the entry for q.
func (a *AnswerSheet) Get(q int) (AnswerEntry, bool) {
	slot, ok := a.slots[q]
	if !ok {
		return AnswerEntry{}, false
	}
	return AnswerEntry{QuestionNumber: q, Value: slot.value, Status: slot.status}, true
}

// Entries returns every entry ordered by question number.
func (a *AnswerSheet) Entries() []AnswerEntry {
	out := make([]AnswerEntry, 0, len(a.slots))
	for q, slot := range a.slots {
		out = append(out, AnswerEntry{QuestionNumber: q, Value: slot.value, Status: slot.status})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].QuestionNumber < out[j].QuestionNumber })
	return out
}

// Len returns the number of answered questions.
func (a *AnswerSheet) Len() int {
	return len(a.slots)
}
