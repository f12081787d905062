package handler

import (
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/chat"
	"github.com/stemsi/exstem-taker/internal/middleware"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/response"
	"github.com/stemsi/exstem-taker/internal/validator"
)

const (
	// roomLimit is how many messages a course channel keeps in memory.
	roomLimit = 500
	// peerBuffer is the outbound queue of one connection. A peer that
	// falls this far behind is disconnected.
	peerBuffer = 64
)

// buildUpgrader creates a WebSocket upgrader with origin validation.
// allowedOrigins comes from config.Config.AllowedOrigins.
// An empty slice permits all origins (development mode).
func buildUpgrader(allowedOrigins []string) websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin: func(r *http.Request) bool {
			if len(allowedOrigins) == 0 {
				return true
			}
			origin := r.Header.Get("Origin")
			for _, allowed := range allowedOrigins {
				if strings.EqualFold(allowed, origin) {
					return true
				}
			}
			return false
		},
	}
}

// ChatHandler is the live chat hub: one channel per course, each with its
// message list and connected peers.
type ChatHandler struct {
	log      zerolog.Logger
	upgrader websocket.Upgrader
	now      func() time.Time

	mu       sync.Mutex
	channels map[int]*channel
}

type channel struct {
	room   *chat.Room
	nextID int
	peers  map[*peer]struct{}
}

type peer struct {
	conn *websocket.Conn
	send chan interface{}
}

// NewChatHandler creates a new ChatHandler.
func NewChatHandler(log zerolog.Logger, allowedOrigins []string) *ChatHandler {
	return &ChatHandler{
		log:      log.With().Str("component", "chat_handler").Logger(),
		upgrader: buildUpgrader(allowedOrigins),
		now:      time.Now,
		channels: make(map[int]*channel),
	}
}

// Publish appends a message to a course channel and delivers it to every
// connected peer. Used by the socket reader and for seeding.
func (h *ChatHandler) Publish(courseID, userID int, firstName, lastName, text string) model.ChatMessage {
	h.mu.Lock()
	defer h.mu.Unlock()

	ch := h.channelLocked(courseID)
	ch.nextID++
	msg := model.ChatMessage{
		ID:        ch.nextID,
		UserID:    userID,
		FirstName: firstName,
		LastName:  lastName,
		Message:   text,
		Timestamp: h.now().UTC(),
	}
	ch.room.Append(msg)

	ev := chat.MessageEvent{Type: chat.EventMessage, Message: msg}
	for p := range ch.peers {
		select {
		case p.send <- ev:
		default:
			h.log.Warn().Int("course_id", courseID).Msg("Dropping slow chat peer")
			delete(ch.peers, p)
			close(p.send)
		}
	}
	return msg
}

// Stream godoc
// WS /ws/chat/:course_id/
// Sends the latest history on connect, then relays every posted message.
func (h *ChatHandler) Stream(c *gin.Context) {
	claims := middleware.GetClaims(c)
	if claims == nil {
		response.Fail(c, http.StatusUnauthorized, response.ErrTokenRequired)
		return
	}
	courseID, ok := paramID(c, "course_id")
	if !ok {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Error().Err(err).Msg("WebSocket upgrade failed")
		return
	}

	wsLog := h.log.With().
		Int("user_id", claims.UserID).
		Int("course_id", courseID).
		Logger()

	p := &peer{conn: conn, send: make(chan interface{}, peerBuffer)}
	h.join(courseID, p)
	wsLog.Info().Msg("Chat peer connected")

	go h.writePump(p)

	chat.KeepAlive(conn)
	for {
		var req chat.PostRequest
		if err := chat.ReadJSON(conn, &req); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				wsLog.Warn().Err(err).Msg("Unexpected close")
			} else {
				wsLog.Debug().Msg("Connection closed")
			}
			break
		}

		req.Message = strings.TrimSpace(req.Message)
		if fields := validator.Struct(&req); fields != nil {
			h.reply(p, chat.ErrorEvent{Type: chat.EventError, Error: fields["message"]})
			continue
		}
		h.Publish(courseID, claims.UserID, claims.FirstName, claims.LastName, req.Message)
	}

	h.leave(courseID, p)
	conn.Close()
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (h *ChatHandler) channelLocked(courseID int) *channel {
	ch, ok := h.channels[courseID]
	if !ok {
		ch = &channel{room: chat.NewRoom(roomLimit), peers: make(map[*peer]struct{})}
		h.channels[courseID] = ch
	}
	return ch
}

// join registers p and queues the history ahead of any later message.
func (h *ChatHandler) join(courseID int, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch := h.channelLocked(courseID)
	p.send <- chat.HistoryEvent{Type: chat.EventHistory, Messages: ch.room.Last(chat.HistorySize)}
	ch.peers[p] = struct{}{}
}

// leave unregisters p. Only the holder of the map entry closes send.
func (h *ChatHandler) leave(courseID int, p *peer) {
	h.mu.Lock()
	defer h.mu.Unlock()
	ch, ok := h.channels[courseID]
	if !ok {
		return
	}
	if _, ok := ch.peers[p]; ok {
		delete(ch.peers, p)
		close(p.send)
	}
}

func (h *ChatHandler) reply(p *peer, ev interface{}) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, ch := range h.channels {
		if _, ok := ch.peers[p]; ok {
			select {
			case p.send <- ev:
			default:
			}
			return
		}
	}
}

// writePump is the only writer of p.conn.
func (h *ChatHandler) writePump(p *peer) {
	ticker := time.NewTicker(chat.PingPeriod)
	defer func() {
		ticker.Stop()
		p.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-p.send:
			if !ok {
				chat.WriteClose(p.conn)
				return
			}
			if err := chat.WriteTyped(p.conn, ev); err != nil {
				h.log.Debug().Err(err).Msg("Chat write failed")
				return
			}
		case <-ticker.C:
			if err := chat.WritePing(p.conn); err != nil {
				return
			}
		}
	}
}
