package chat

import "github.com/stemsi/exstem-taker/internal/model"

// HistorySize is how many messages a server sends on connect.
const HistorySize = 50

// ─── Requests (Client → Server) ─────────────────────────────────────

// PostRequest is sent by the client to post a message.
type PostRequest struct {
	Message string `json:"message" binding:"required,max=2000"`
}

// ─── Events (Server → Client) ───────────────────────────────────────

type EventType string

const (
	EventHistory EventType = "last_50_messages"
	EventMessage EventType = "chat_message"
	EventError   EventType = "error"
)

// Envelope is used to peek at the type before full parsing.
type Envelope struct {
	Type EventType `json:"type"`
}

// HistoryEvent is pushed once on connect, oldest message first.
type HistoryEvent struct {
	Type     EventType           `json:"type"`
	Messages []model.ChatMessage `json:"messages"`
}

// MessageEvent carries one new message.
type MessageEvent struct {
	Type    EventType         `json:"type"`
	Message model.ChatMessage `json:"message"`
}

type ErrorEvent struct {
	Type  EventType `json:"type"`
	Error string    `json:"error"`
}
