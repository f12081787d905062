package model

import (
	"fmt"
	"time"
)

// TestStatus enumerates the publication states of a test.
type TestStatus string

const (
	TestStatusScheduled TestStatus = "scheduled"
	TestStatusOpen      TestStatus = "open"
	TestStatusClosed    TestStatus = "closed"
)

// Test is the read-only exam metadata shown while taking it.
type Test struct {
	ID             int        `json:"id"`
	Name           string     `json:"name"`
	Duration       int        `json:"duration"` // minutes
	File           string     `json:"file,omitempty"`
	Status         TestStatus `json:"status"`
	Pages          int        `json:"pages"`
	QuestionsCount int        `json:"questions_count"`
	StartAt        *time.Time `json:"start_at,omitempty"`
	EndAt          *time.Time `json:"end_at,omitempty"`
}

// DurationSeconds returns the allotted time in whole seconds.
func (t *Test) DurationSeconds() int {
	return t.Duration * 60
}

// ResultPath is the front-end route showing a test's results.
func ResultPath(testID int) string {
	return fmt.Sprintf("/panel/tests/%d/result/", testID)
}
