package repository

import (
	"context"
	"errors"
	"time"

	"github.com/stemsi/exstem-taker/internal/model"
)

var (
	ErrNotFound = errors.New("record not found")
	ErrConflict = errors.New("record already exists")
)

// UserRepository is the account data access used by the stub API.
type UserRepository interface {
	GetByID(ctx context.Context, id int) (*model.User, error)
	GetByUsername(ctx context.Context, username string) (*model.User, error)
	Create(ctx context.Context, u *model.User) error
}

// TestRepository is the test metadata data access.
type TestRepository interface {
	List(ctx context.Context) ([]model.Test, error)
	GetByID(ctx context.Context, id int) (*model.Test, error)
	Create(ctx context.Context, t *model.Test) error
}

// AttemptRepository is the attempt data access. Create fails with
// ErrConflict when the user already has an attempt at the test.
type AttemptRepository interface {
	GetByID(ctx context.Context, id int) (*model.Attempt, error)
	GetByTestAndUser(ctx context.Context, testID, userID int) (*model.Attempt, error)
	Create(ctx context.Context, a *model.Attempt) error
	SaveAnswer(ctx context.Context, attemptID, questionNumber int, answer string) error
	// Finish closes the attempt at the given time. It reports false if the
	// attempt was already finished.
	Finish(ctx context.Context, id int, at time.Time) (bool, error)
	// FinishExpired closes every open attempt whose deadline is before now
	// and returns their ids.
	FinishExpired(ctx context.Context, now time.Time) ([]int, error)
}

// Store groups the repositories behind one backend.
type Store struct {
	Users    UserRepository
	Tests    TestRepository
	Attempts AttemptRepository
}
