package auth

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/config"
)

// EventType names an auth-state transition.
type EventType string

const (
	EventLogin  EventType = "login"
	EventLogout EventType = "logout"
)

// Event is published on every transition so other instances can follow.
type Event struct {
	Type   EventType `json:"type"`
	Origin string    `json:"origin"`
	State  *State    `json:"state,omitempty"`
}

// Bus shares auth state between independent instances of the client.
type Bus interface {
	// Load returns the last saved state, or nil when signed out.
	Load(ctx context.Context) (*State, error)
	// Save stores st; nil clears it.
	Save(ctx context.Context, st *State) error
	Publish(ctx context.Context, ev Event) error
	// Subscribe streams events until ctx is done.
	Subscribe(ctx context.Context) (<-chan Event, error)
}

// ─── In-process bus ─────────────────────────────────────────────────

// MemoryBus is a Bus for instances living in the same process.
type MemoryBus struct {
	mu    sync.Mutex
	state *State
	subs  map[chan Event]struct{}
}

// NewMemoryBus creates an empty MemoryBus.
func NewMemoryBus() *MemoryBus {
	return &MemoryBus{subs: make(map[chan Event]struct{})}
}

func (b *MemoryBus) Load(_ context.Context) (*State, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.state == nil {
		return nil, nil
	}
	cp := *b.state
	return &cp, nil
}

func (b *MemoryBus) Save(_ context.Context, st *State) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if st == nil {
		b.state = nil
		return nil
	}
	cp := *st
	b.state = &cp
	return nil
}

func (b *MemoryBus) Publish(_ context.Context, ev Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- ev:
		default:
		}
	}
	return nil
}

func (b *MemoryBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	ch := make(chan Event, 16)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	go func() {
		<-ctx.Done()
		b.mu.Lock()
		delete(b.subs, ch)
		close(ch)
		b.mu.Unlock()
	}()
	return ch, nil
}

// ─── Redis bus ──────────────────────────────────────────────────────

// RedisBus shares state through a Redis key and Pub/Sub channel per profile.
type RedisBus struct {
	rdb     *redis.Client
	profile string
	log     zerolog.Logger
}

// NewRedisBus creates a RedisBus for the given profile name.
func NewRedisBus(rdb *redis.Client, profile string, log zerolog.Logger) *RedisBus {
	return &RedisBus{
		rdb:     rdb,
		profile: profile,
		log:     log.With().Str("component", "auth_bus").Str("profile", profile).Logger(),
	}
}

func (b *RedisBus) Load(ctx context.Context) (*State, error) {
	raw, err := b.rdb.Get(ctx, config.CacheKey.AuthStateKey(b.profile)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("load auth state: %w", err)
	}
	var st State
	if err := json.Unmarshal([]byte(raw), &st); err != nil {
		return nil, fmt.Errorf("decode auth state: %w", err)
	}
	return &st, nil
}

func (b *RedisBus) Save(ctx context.Context, st *State) error {
	key := config.CacheKey.AuthStateKey(b.profile)
	if st == nil {
		return b.rdb.Del(ctx, key).Err()
	}

	payload, err := json.Marshal(st)
	if err != nil {
		return fmt.Errorf("encode auth state: %w", err)
	}

	// Expire with the token so a stale login never outlives it.
	var ttl time.Duration
	if !st.ExpiresAt.IsZero() {
		ttl = time.Until(st.ExpiresAt)
		if ttl <= 0 {
			return b.rdb.Del(ctx, key).Err()
		}
	}
	if err := b.rdb.Set(ctx, key, payload, ttl).Err(); err != nil {
		return fmt.Errorf("save auth state: %w", err)
	}
	return nil
}

func (b *RedisBus) Publish(ctx context.Context, ev Event) error {
	payload, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode auth event: %w", err)
	}
	if err := b.rdb.Publish(ctx, config.CacheKey.AuthEventsChannel(b.profile), payload).Err(); err != nil {
		return fmt.Errorf("publish auth event: %w", err)
	}
	return nil
}

func (b *RedisBus) Subscribe(ctx context.Context) (<-chan Event, error) {
	pubsub := b.rdb.Subscribe(ctx, config.CacheKey.AuthEventsChannel(b.profile))
	// Wait for the subscription to be confirmed before reporting success.
	if _, err := pubsub.Receive(ctx); err != nil {
		pubsub.Close()
		return nil, fmt.Errorf("subscribe auth events: %w", err)
	}

	out := make(chan Event, 16)
	go func() {
		defer close(out)
		defer pubsub.Close()

		ch := pubsub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var ev Event
				if err := json.Unmarshal([]byte(msg.Payload), &ev); err != nil {
					b.log.Warn().Err(err).Msg("Discarding malformed auth event")
					continue
				}
				select {
				case out <- ev:
				case <-ctx.Done():
					return
				}
			}
		}
	}()
	return out, nil
}
