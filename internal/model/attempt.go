package model

import "time"

// Attempt is the stub API's record behind a Session: one user's single try
// at one test. There is at most one per (test, user).
type Attempt struct {
	ID         int
	TestID     int
	UserID     int
	DeviceID   string
	StartedAt  time.Time
	EndsAt     time.Time
	FinishedAt *time.Time
	Answers    map[int]string
}

// Finished reports whether the attempt was submitted or force-closed.
func (a *Attempt) Finished() bool {
	return a.FinishedAt != nil
}

// Remaining returns whole seconds left at now, never negative.
func (a *Attempt) Remaining(now time.Time) int {
	d := a.EndsAt.Sub(now)
	if d <= 0 {
		return 0
	}
	return int(d / time.Second)
}

// Session is the client-facing view of the attempt.
func (a *Attempt) Session() Session {
	return Session{ID: a.ID, TestID: a.TestID, DeviceID: a.DeviceID, StartTime: a.StartedAt}
}

// State is the authoritative deadline view of the attempt at now.
func (a *Attempt) State(now time.Time) SessionState {
	return SessionState{
		SessionID:        a.ID,
		RemainingSeconds: a.Remaining(now),
		EndsAt:           a.EndsAt,
		Finished:         a.Finished(),
	}
}
