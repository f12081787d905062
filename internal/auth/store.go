// Package auth holds the process-wide signed-in state and keeps it in step
// with other running instances through a publish/subscribe Bus.
package auth

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/model"
)

// ErrNotInitialized is returned when the store is used before Init or after Close.
var ErrNotInitialized = errors.New("auth store is not initialized")

// Store is the explicit replacement for an ambient global user context.
// Lifecycle: NewStore → Init → (Login | Logout)* → Close.
type Store struct {
	bus Bus
	id  string
	log zerolog.Logger
	now func() time.Time

	mu      sync.RWMutex
	state   *State
	running bool

	subsMu sync.Mutex
	subs   map[chan Event]struct{}

	cancel context.CancelFunc
	done   chan struct{}
}

// NewStore creates a Store publishing through bus.
func NewStore(bus Bus, log zerolog.Logger) *Store {
	id := uuid.New().String()
	return &Store{
		bus:  bus,
		id:   id,
		log:  log.With().Str("component", "auth_store").Str("instance", id[:8]).Logger(),
		now:  time.Now,
		subs: make(map[chan Event]struct{}),
	}
}

// Init loads the shared state and starts following other instances.
func (s *Store) Init(ctx context.Context) error {
	st, err := s.bus.Load(ctx)
	if err != nil {
		return fmt.Errorf("load state: %w", err)
	}

	runCtx, cancel := context.WithCancel(context.Background())
	events, err := s.bus.Subscribe(runCtx)
	if err != nil {
		cancel()
		return fmt.Errorf("subscribe: %w", err)
	}

	s.mu.Lock()
	s.state = st
	s.running = true
	s.mu.Unlock()

	s.cancel = cancel
	s.done = make(chan struct{})
	go s.follow(events)

	s.log.Debug().Bool("signed_in", st != nil).Msg("Auth store initialized")
	return nil
}

// Login stores the tokens and announces the sign-in.
func (s *Store) Login(ctx context.Context, pair model.TokenPair) (State, error) {
	if !s.isRunning() {
		return State{}, ErrNotInitialized
	}
	st, err := StateFromTokens(pair)
	if err != nil {
		return State{}, err
	}
	if st.Expired(s.now()) {
		return State{}, errors.New("token already expired")
	}

	s.mu.Lock()
	s.state = &st
	s.mu.Unlock()

	if err := s.bus.Save(ctx, &st); err != nil {
		return st, fmt.Errorf("save state: %w", err)
	}
	ev := Event{Type: EventLogin, Origin: s.id, State: &st}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("Publish login failed")
	}
	s.fanOut(ev)

	s.log.Info().Int("user_id", st.UserID).Msg("Signed in")
	return st, nil
}

// Logout clears the state here and in every other instance.
func (s *Store) Logout(ctx context.Context) error {
	if !s.isRunning() {
		return ErrNotInitialized
	}

	s.mu.Lock()
	s.state = nil
	s.mu.Unlock()

	if err := s.bus.Save(ctx, nil); err != nil {
		return fmt.Errorf("clear state: %w", err)
	}
	ev := Event{Type: EventLogout, Origin: s.id}
	if err := s.bus.Publish(ctx, ev); err != nil {
		s.log.Warn().Err(err).Msg("Publish logout failed")
	}
	s.fanOut(ev)

	s.log.Info().Msg("Signed out")
	return nil
}

// Current returns the signed-in state. ok is false when signed out or expired.
func (s *Store) Current() (State, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.state == nil || s.state.Expired(s.now()) {
		return State{}, false
	}
	return *s.state, true
}

// AccessToken returns the bearer token, or "" when signed out.
func (s *Store) AccessToken() string {
	st, ok := s.Current()
	if !ok {
		return ""
	}
	return st.Access
}

// Subscribe returns a channel of transitions, local and remote, and a
// function that stops the subscription.
func (s *Store) Subscribe() (<-chan Event, func()) {
	ch := make(chan Event, 8)
	s.subsMu.Lock()
	s.subs[ch] = struct{}{}
	s.subsMu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			s.subsMu.Lock()
			if _, ok := s.subs[ch]; ok {
				delete(s.subs, ch)
				close(ch)
			}
			s.subsMu.Unlock()
		})
	}
}

// Close stops following other instances and closes every subscription.
func (s *Store) Close() error {
	s.mu.Lock()
	wasRunning := s.running
	s.running = false
	s.mu.Unlock()
	if !wasRunning {
		return nil
	}

	s.cancel()
	<-s.done

	s.subsMu.Lock()
	for ch := range s.subs {
		close(ch)
		delete(s.subs, ch)
	}
	s.subsMu.Unlock()
	return nil
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (s *Store) follow(events <-chan Event) {
	defer close(s.done)
	for ev := range events {
		if ev.Origin == s.id {
			continue
		}

		s.mu.Lock()
		switch ev.Type {
		case EventLogin:
			if ev.State != nil {
				cp := *ev.State
				s.state = &cp
			}
		case EventLogout:
			s.state = nil
		default:
			s.mu.Unlock()
			s.log.Warn().Str("type", string(ev.Type)).Msg("Unknown auth event")
			continue
		}
		s.mu.Unlock()

		s.log.Debug().Str("type", string(ev.Type)).Str("origin", ev.Origin).Msg("Applied remote auth event")
		s.fanOut(ev)
	}
}

func (s *Store) fanOut(ev Event) {
	s.subsMu.Lock()
	defer s.subsMu.Unlock()
	for ch := range s.subs {
		select {
		case ch <- ev:
		default:
			s.log.Warn().Str("type", string(ev.Type)).Msg("Subscriber lagging, event dropped")
		}
	}
}

func (s *Store) isRunning() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.running
}
