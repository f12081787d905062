package model

import (
	"strconv"
	"time"
)

// ChatMessage is one message of a course's live chat channel.
type ChatMessage struct {
	ID        int       `json:"id"`
	UserID    int       `json:"user_id"`
	FirstName string    `json:"first_name"`
	LastName  string    `json:"last_name"`
	Message   string    `json:"message"`
	Timestamp time.Time `json:"timestamp"`
}

// Author returns the display name of the sender.
func (m ChatMessage) Author() string {
	switch {
	case m.FirstName == "" && m.LastName == "":
		return "user #" + strconv.Itoa(m.UserID)
	case m.LastName == "":
		return m.FirstName
	case m.FirstName == "":
		return m.LastName
	}
	return m.FirstName + " " + m.LastName
}
