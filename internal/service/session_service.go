package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/repository"
)

// Entry and session errors. Each maps to one wire code in the handler.
var (
	ErrTestNotFound         = errors.New("test not found")
	ErrSessionNotFound      = errors.New("session not found")
	ErrNotOwner             = errors.New("session belongs to another user")
	ErrAlreadyParticipating = errors.New("user already has an open attempt")
	ErrCompleted            = errors.New("user already completed this test")
	ErrDeviceMismatch       = errors.New("attempt was started on another device")
	ErrTestNotStarted       = errors.New("test has not started yet")
	ErrTestEnded            = errors.New("test has ended")
	ErrSessionFinished      = errors.New("session is finished")
	ErrQuestionOutOfRange   = errors.New("question number out of range")
)

// SessionService enforces the entry rules and owns attempt state.
type SessionService struct {
	tests    repository.TestRepository
	attempts repository.AttemptRepository
	log      zerolog.Logger
	now      func() time.Time
}

// NewSessionService creates a new SessionService.
func NewSessionService(tests repository.TestRepository, attempts repository.AttemptRepository, log zerolog.Logger) *SessionService {
	return &SessionService{
		tests:    tests,
		attempts: attempts,
		log:      log.With().Str("component", "session_service").Logger(),
		now:      time.Now,
	}
}

// ListTests returns every test.
func (s *SessionService) ListTests(ctx context.Context) ([]model.Test, error) {
	tests, err := s.tests.List(ctx)
	if err != nil {
		return nil, fmt.Errorf("list tests: %w", err)
	}
	return tests, nil
}

// GetTest returns one test.
func (s *SessionService) GetTest(ctx context.Context, id int) (*model.Test, error) {
	t, err := s.tests.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrTestNotFound
		}
		return nil, fmt.Errorf("get test: %w", err)
	}
	return t, nil
}

// Enter starts the user's single attempt at a test on a device.
func (s *SessionService) Enter(ctx context.Context, userID, testID int, deviceID string) (*model.Session, error) {
	t, err := s.GetTest(ctx, testID)
	if err != nil {
		return nil, err
	}

	existing, err := s.attempts.GetByTestAndUser(ctx, testID, userID)
	switch {
	case err == nil:
		return nil, s.rejectReentry(existing, deviceID)
	case !errors.Is(err, repository.ErrNotFound):
		return nil, fmt.Errorf("get attempt: %w", err)
	}

	now := s.now()
	if err := checkWindow(t, now); err != nil {
		return nil, err
	}

	a := &model.Attempt{
		TestID:    testID,
		UserID:    userID,
		DeviceID:  deviceID,
		StartedAt: now,
		EndsAt:    now.Add(time.Duration(t.DurationSeconds()) * time.Second),
	}
	if err := s.attempts.Create(ctx, a); err != nil {
		if errors.Is(err, repository.ErrConflict) {
			// Lost a race with a concurrent enter for the same user.
			return nil, ErrAlreadyParticipating
		}
		return nil, fmt.Errorf("create attempt: %w", err)
	}

	s.log.Info().
		Int("session_id", a.ID).
		Int("test_id", testID).
		Int("user_id", userID).
		Time("ends_at", a.EndsAt).
		Msg("Attempt started")

	sess := a.Session()
	return &sess, nil
}

// rejectReentry answers an enter for a test the user already has an attempt
// at. An attempt past its deadline counts as completed even before the
// expiry sweep closes it.
func (s *SessionService) rejectReentry(a *model.Attempt, deviceID string) error {
	switch {
	case a.Finished(), !s.now().Before(a.EndsAt):
		return ErrCompleted
	case a.DeviceID != deviceID:
		return ErrDeviceMismatch
	default:
		return ErrAlreadyParticipating
	}
}

func checkWindow(t *model.Test, now time.Time) error {
	switch t.Status {
	case model.TestStatusScheduled:
		return ErrTestNotStarted
	case model.TestStatusClosed:
		return ErrTestEnded
	}
	if t.StartAt != nil && now.Before(*t.StartAt) {
		return ErrTestNotStarted
	}
	if t.EndAt != nil && !now.Before(*t.EndAt) {
		return ErrTestEnded
	}
	return nil
}

// State returns the authoritative deadline of the user's session.
func (s *SessionService) State(ctx context.Context, userID, sessionID int) (*model.SessionState, error) {
	a, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return nil, err
	}
	st := a.State(s.now())
	return &st, nil
}

// RecordAnswer stores one answer of an open session, overwriting any
// previous value for the question.
func (s *SessionService) RecordAnswer(ctx context.Context, userID, sessionID, questionNumber int, answer string) error {
	a, err := s.owned(ctx, userID, sessionID)
	if err != nil {
		return err
	}
	if a.Finished() || a.Remaining(s.now()) == 0 {
		return ErrSessionFinished
	}

	t, err := s.GetTest(ctx, a.TestID)
	if err != nil {
		return err
	}
	if t.QuestionsCount > 0 && questionNumber > t.QuestionsCount {
		return ErrQuestionOutOfRange
	}

	if err := s.attempts.SaveAnswer(ctx, sessionID, questionNumber, answer); err != nil {
		return fmt.Errorf("save answer: %w", err)
	}
	return nil
}

// Finish submits the session. Finishing twice fails with ErrSessionFinished.
func (s *SessionService) Finish(ctx context.Context, userID, sessionID int) error {
	if _, err := s.owned(ctx, userID, sessionID); err != nil {
		return err
	}
	closed, err := s.attempts.Finish(ctx, sessionID, s.now())
	if err != nil {
		return fmt.Errorf("finish attempt: %w", err)
	}
	if !closed {
		return ErrSessionFinished
	}
	s.log.Info().Int("session_id", sessionID).Int("user_id", userID).Msg("Attempt finished")
	return nil
}

func (s *SessionService) owned(ctx context.Context, userID, sessionID int) (*model.Attempt, error) {
	a, err := s.attempts.GetByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return nil, ErrSessionNotFound
		}
		return nil, fmt.Errorf("get attempt: %w", err)
	}
	if a.UserID != userID {
		return nil, ErrNotOwner
	}
	return a, nil
}
