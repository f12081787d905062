// Package chat is the live chat of a course: the shared wire schema, the
// ordered message list and a WebSocket client that keeps it current.
package chat

import (
	"sync"

	"github.com/stemsi/exstem-taker/internal/model"
)

// UpdateKind says how the message list changed.
type UpdateKind int

const (
	UpdateReplaced UpdateKind = iota
	UpdateAppended
)

// Update is delivered to observers after each change.
type Update struct {
	Kind UpdateKind
	// Message is set for UpdateAppended.
	Message model.ChatMessage
	Len     int
}

// Room is the ordered message list of one course. Messages are never edited
// or reordered; a history replaces the whole list, a new message is appended.
// Safe for concurrent use.
type Room struct {
	limit int

	mu       sync.RWMutex
	messages []model.ChatMessage

	obsMu     sync.Mutex
	observers map[chan Update]struct{}
}

// NewRoom creates a Room keeping at most limit messages (oldest dropped
// first). Zero keeps everything.
func NewRoom(limit int) *Room {
	return &Room{limit: limit, observers: make(map[chan Update]struct{})}
}

// Replace sets the list to msgs, in the given order.
func (r *Room) Replace(msgs []model.ChatMessage) {
	cp := make([]model.ChatMessage, len(msgs))
	copy(cp, msgs)

	r.mu.Lock()
	r.messages = r.trim(cp)
	n := len(r.messages)
	r.mu.Unlock()

	r.broadcast(Update{Kind: UpdateReplaced, Len: n})
}

// Append adds msg after every message already held.
func (r *Room) Append(msg model.ChatMessage) {
	r.mu.Lock()
	r.messages = r.trim(append(r.messages, msg))
	n := len(r.messages)
	r.mu.Unlock()

	r.broadcast(Update{Kind: UpdateAppended, Message: msg, Len: n})
}

// Messages returns a copy of the list.
func (r *Room) Messages() []model.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.ChatMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Last returns a copy of the newest n messages, oldest first.
func (r *Room) Last(n int) []model.ChatMessage {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if n > len(r.messages) {
		n = len(r.messages)
	}
	out := make([]model.ChatMessage, n)
	copy(out, r.messages[len(r.messages)-n:])
	return out
}

// Len returns the number of messages held.
func (r *Room) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.messages)
}

// Observe returns a channel of updates and a function that stops it.
// A lagging observer misses updates rather than blocking the room.
func (r *Room) Observe() (<-chan Update, func()) {
	ch := make(chan Update, 16)
	r.obsMu.Lock()
	r.observers[ch] = struct{}{}
	r.obsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			r.obsMu.Lock()
			delete(r.observers, ch)
			close(ch)
			r.obsMu.Unlock()
		})
	}
}

func (r *Room) trim(msgs []model.ChatMessage) []model.ChatMessage {
	if r.limit > 0 && len(msgs) > r.limit {
		return append([]model.ChatMessage(nil), msgs[len(msgs)-r.limit:]...)
	}
	return msgs
}

func (r *Room) broadcast(u Update) {
	r.obsMu.Lock()
	defer r.obsMu.Unlock()
	for ch := range r.observers {
		select {
		case ch <- u:
		default:
		}
	}
}
