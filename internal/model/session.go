package model

import "time"

// Session represents one user's attempt at one test, issued by the server.
// The client never mutates it.
type Session struct {
	ID        int       `json:"session_id"`
	TestID    int       `json:"test_id"`
	DeviceID  string    `json:"device_id"`
	StartTime time.Time `json:"start_time"`
}

// SessionState is the server's authoritative view of an open session's deadline.
type SessionState struct {
	SessionID        int       `json:"session_id"`
	RemainingSeconds int       `json:"remaining_seconds"`
	EndsAt           time.Time `json:"ends_at"`
	Finished         bool      `json:"finished"`
}

// EnterTestRequest is the payload for starting a test on a device.
type EnterTestRequest struct {
	TestID   int    `json:"test_id" binding:"required,min=1"`
	DeviceID string `json:"device_id" binding:"required,min=8,max=128"`
}

// MaxAnswerLength is the longest answer, in characters, the API stores.
// Keep it in step with the max tag below.
const MaxAnswerLength = 64

// RecordAnswerRequest is the payload for recording a single answer.
type RecordAnswerRequest struct {
	QuestionNumber int    `json:"question_number" binding:"required,min=1"`
	Answer         string `json:"answer" binding:"required,max=64"`
}
