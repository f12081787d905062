package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/validator"
)

var (
	ErrClosed       = errors.New("chat connection is closed")
	ErrEmptyMessage = errors.New("message is empty")
)

// ChannelURL returns the socket URL of a course channel. The token travels as
// a query parameter because browsers cannot set headers on a WebSocket.
func ChannelURL(wsBase string, courseID int, token string) string {
	u := fmt.Sprintf("%s/ws/chat/%d/", strings.TrimRight(wsBase, "/"), courseID)
	if token != "" {
		u += "?token=" + url.QueryEscape(token)
	}
	return u
}

// Client is a live connection to one course channel. Incoming events are
// applied to its Room; Close releases the socket on every exit path.
type Client struct {
	conn     *websocket.Conn
	room     *Room
	log      zerolog.Logger
	courseID int

	writeMu sync.Mutex

	quit      chan struct{}
	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup

	errMu sync.Mutex
	err   error
}

// Dial connects to the course channel and starts the reader and keepalive.
func Dial(ctx context.Context, wsBase string, courseID int, token string, room *Room, log zerolog.Logger) (*Client, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: 10 * time.Second,
		ReadBufferSize:   1024,
		WriteBufferSize:  1024,
	}
	conn, resp, err := dialer.DialContext(ctx, ChannelURL(wsBase, courseID, token), nil)
	if err != nil {
		if resp != nil {
			return nil, fmt.Errorf("dial chat %d: status %d: %w", courseID, resp.StatusCode, err)
		}
		return nil, fmt.Errorf("dial chat %d: %w", courseID, err)
	}

	c := &Client{
		conn:     conn,
		room:     room,
		courseID: courseID,
		log:      log.With().Str("component", "chat_client").Int("course_id", courseID).Logger(),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
	KeepAlive(conn)

	c.wg.Add(2)
	go c.readLoop()
	go c.pingLoop()

	c.log.Info().Msg("Chat connected")
	return c, nil
}

// Room returns the message list this client feeds.
func (c *Client) Room() *Room {
	return c.room
}

// Send posts a message to the channel.
func (c *Client) Send(text string) error {
	text = strings.TrimSpace(text)
	if text == "" {
		return ErrEmptyMessage
	}
	req := PostRequest{Message: text}
	if fields := validator.Struct(&req); fields != nil {
		return fmt.Errorf("invalid message: %s", fields["message"])
	}

	select {
	case <-c.done:
		return ErrClosed
	default:
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	if err := WriteTyped(c.conn, req); err != nil {
		return fmt.Errorf("send message: %w", err)
	}
	return nil
}

// Done is closed when the connection ends for any reason.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// Err returns why the connection ended, or nil after a local Close.
func (c *Client) Err() error {
	c.errMu.Lock()
	defer c.errMu.Unlock()
	return c.err
}

// Close says goodbye, closes the socket and waits for the goroutines.
func (c *Client) Close() error {
	c.closeOnce.Do(func() {
		close(c.quit)
		c.writeMu.Lock()
		WriteClose(c.conn)
		c.writeMu.Unlock()
		c.conn.Close()
	})
	c.wg.Wait()
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (c *Client) readLoop() {
	defer c.wg.Done()
	defer close(c.done)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.finish(err)
			return
		}
		if err := c.apply(data); err != nil {
			c.log.Warn().Err(err).Msg("Bad chat frame")
		}
	}
}

func (c *Client) apply(data []byte) error {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("decode envelope: %w", err)
	}

	switch env.Type {
	case EventHistory:
		var ev HistoryEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode history: %w", err)
		}
		c.room.Replace(ev.Messages)
		c.log.Debug().Int("messages", len(ev.Messages)).Msg("History received")
	case EventMessage:
		var ev MessageEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode message: %w", err)
		}
		c.room.Append(ev.Message)
	case EventError:
		var ev ErrorEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return fmt.Errorf("decode error: %w", err)
		}
		c.log.Warn().Str("error", ev.Error).Msg("Chat server error")
	default:
		c.log.Debug().Str("type", string(env.Type)).Msg("Unknown chat event")
	}
	return nil
}

func (c *Client) pingLoop() {
	defer c.wg.Done()
	ticker := time.NewTicker(PingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-c.quit:
			return
		case <-c.done:
			return
		case <-ticker.C:
			c.writeMu.Lock()
			err := WritePing(c.conn)
			c.writeMu.Unlock()
			if err != nil {
				c.log.Debug().Err(err).Msg("Ping failed")
				return
			}
		}
	}
}

func (c *Client) finish(err error) {
	select {
	case <-c.quit:
		c.log.Debug().Msg("Chat closed")
		return
	default:
	}

	if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
		c.log.Info().Msg("Chat closed by server")
	} else {
		c.log.Warn().Err(err).Msg("Chat connection lost")
	}
	c.errMu.Lock()
	c.err = err
	c.errMu.Unlock()
	// The socket is unusable; release it now.
	c.conn.Close()
}
