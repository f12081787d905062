package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/stemsi/exstem-taker/internal/model"
)

// NewMemoryStore returns a Store kept in process memory. Used when no
// DATABASE_URL is configured and by tests.
func NewMemoryStore() *Store {
	return &Store{
		Users:    &memoryUsers{byID: make(map[int]*model.User)},
		Tests:    &memoryTests{byID: make(map[int]*model.Test)},
		Attempts: &memoryAttempts{byID: make(map[int]*model.Attempt)},
	}
}

// ─── Users ──────────────────────────────────────────────────────────

type memoryUsers struct {
	mu     sync.RWMutex
	byID   map[int]*model.User
	nextID int
}

func (m *memoryUsers) GetByID(_ context.Context, id int) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memoryUsers) GetByUsername(_ context.Context, username string) (*model.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.byID {
		if strings.EqualFold(u.Username, username) {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryUsers) Create(_ context.Context, u *model.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if strings.EqualFold(existing.Username, u.Username) {
			return ErrConflict
		}
	}
	m.nextID++
	u.ID = m.nextID
	u.CreatedAt = time.Now()
	cp := *u
	m.byID[u.ID] = &cp
	return nil
}

// ─── Tests ──────────────────────────────────────────────────────────

type memoryTests struct {
	mu     sync.RWMutex
	byID   map[int]*model.Test
	nextID int
}

func (m *memoryTests) List(_ context.Context) ([]model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]model.Test, 0, len(m.byID))
	for _, t := range m.byID {
		out = append(out, *t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (m *memoryTests) GetByID(_ context.Context, id int) (*model.Test, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	t, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *t
	return &cp, nil
}

func (m *memoryTests) Create(_ context.Context, t *model.Test) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.nextID++
	t.ID = m.nextID
	cp := *t
	m.byID[t.ID] = &cp
	return nil
}

// ─── Attempts ───────────────────────────────────────────────────────

type memoryAttempts struct {
	mu     sync.RWMutex
	byID   map[int]*model.Attempt
	nextID int
}

func copyAttempt(a *model.Attempt) *model.Attempt {
	cp := *a
	cp.Answers = make(map[int]string, len(a.Answers))
	for q, v := range a.Answers {
		cp.Answers[q] = v
	}
	if a.FinishedAt != nil {
		at := *a.FinishedAt
		cp.FinishedAt = &at
	}
	return &cp
}

func (m *memoryAttempts) GetByID(_ context.Context, id int) (*model.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	return copyAttempt(a), nil
}

func (m *memoryAttempts) GetByTestAndUser(_ context.Context, testID, userID int) (*model.Attempt, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, a := range m.byID {
		if a.TestID == testID && a.UserID == userID {
			return copyAttempt(a), nil
		}
	}
	return nil, ErrNotFound
}

func (m *memoryAttempts) Create(_ context.Context, a *model.Attempt) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.byID {
		if existing.TestID == a.TestID && existing.UserID == a.UserID {
			return ErrConflict
		}
	}
	m.nextID++
	a.ID = m.nextID
	if a.StartedAt.IsZero() {
		a.StartedAt = time.Now()
	}
	m.byID[a.ID] = copyAttempt(a)
	return nil
}

func (m *memoryAttempts) SaveAnswer(_ context.Context, attemptID, questionNumber int, answer string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[attemptID]
	if !ok {
		return ErrNotFound
	}
	a.Answers[questionNumber] = answer
	return nil
}

func (m *memoryAttempts) Finish(_ context.Context, id int, at time.Time) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.byID[id]
	if !ok {
		return false, ErrNotFound
	}
	if a.FinishedAt != nil {
		return false, nil
	}
	a.FinishedAt = &at
	return true, nil
}

func (m *memoryAttempts) FinishExpired(_ context.Context, now time.Time) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var ids []int
	for id, a := range m.byID {
		if a.FinishedAt == nil && !a.EndsAt.After(now) {
			at := now
			a.FinishedAt = &at
			ids = append(ids, id)
		}
	}
	sort.Ints(ids)
	return ids, nil
}
