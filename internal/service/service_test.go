package service

import (
	"context"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/config"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/repository"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// ────────────────────────────────────────────────────────────────────────────
// Helper builders
// ────────────────────────────────────────────────────────────────────────────

func testConfig() *config.Config {
	return &config.Config{JWTSecret: "test-secret", JWTExpiry: time.Hour, BcryptCost: 4}
}

type fixture struct {
	store    *repository.Store
	auth     *AuthService
	sessions *SessionService
	now      time.Time
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := repository.NewMemoryStore()
	f := &fixture{
		store:    store,
		auth:     NewAuthService(testConfig(), store.Users),
		sessions: NewSessionService(store.Tests, store.Attempts, zerolog.Nop()),
		now:      time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	f.sessions.now = func() time.Time { return f.now }
	return f
}

func (f *fixture) addTest(t *testing.T, test model.Test) int {
	t.Helper()
	require.NoError(t, f.store.Tests.Create(context.Background(), &test))
	return test.ID
}

func openTest() model.Test {
	return model.Test{Name: "Algebra", Duration: 30, Status: model.TestStatusOpen, Pages: 4, QuestionsCount: 40}
}

// ─── Auth ───────────────────────────────────────────────────────────

func TestLoginIssuesVerifiableToken(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	u := &model.User{Username: "student", FirstName: "Sara", LastName: "Karimi"}
	require.NoError(t, f.auth.Register(ctx, u, "password123"))

	pair, err := f.auth.Login(ctx, "student", "password123")
	require.NoError(t, err)
	assert.NotEmpty(t, pair.Refresh)

	claims, err := f.auth.ValidateToken(pair.Access)
	require.NoError(t, err)
	assert.Equal(t, u.ID, claims.UserID)
	assert.Equal(t, "Sara", claims.FirstName)
	assert.Equal(t, "Karimi", claims.LastName)
}

func TestLoginRejectsBadCredentials(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.auth.Register(ctx, &model.User{Username: "student"}, "password123"))

	_, err := f.auth.Login(ctx, "student", "wrong-password")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
	_, err = f.auth.Login(ctx, "nobody", "password123")
	assert.ErrorIs(t, err, ErrInvalidCredentials)
}

func TestRegisterDuplicateUsername(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, f.auth.Register(ctx, &model.User{Username: "student"}, "password123"))
	assert.ErrorIs(t, f.auth.Register(ctx, &model.User{Username: "student"}, "password123"), ErrUsernameTaken)
}

func TestValidateTokenRejectsForeignSecret(t *testing.T) {
	f := newFixture(t)
	other := NewAuthService(&config.Config{JWTSecret: "other", JWTExpiry: time.Hour, BcryptCost: 4}, f.store.Users)

	token, err := other.GenerateToken(&model.User{ID: 3})
	require.NoError(t, err)
	_, err = f.auth.ValidateToken(token)
	assert.Error(t, err)
}

// ─── Entry ──────────────────────────────────────────────────────────

func TestEnterOpensSessionWithDeadline(t *testing.T) {
	f := newFixture(t)
	testID := f.addTest(t, openTest())

	sess, err := f.sessions.Enter(context.Background(), 1, testID, "device-0001")
	require.NoError(t, err)
	assert.Equal(t, testID, sess.TestID)
	assert.Equal(t, "device-0001", sess.DeviceID)
	assert.Equal(t, f.now, sess.StartTime)

	st, err := f.sessions.State(context.Background(), 1, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, 1800, st.RemainingSeconds)
	assert.False(t, st.Finished)
}

func TestEnterRules(t *testing.T) {
	future := time.Date(2026, 5, 5, 0, 0, 0, 0, time.UTC)
	past := time.Date(2026, 5, 1, 0, 0, 0, 0, time.UTC)

	cases := []struct {
		name string
		test model.Test
		want error
	}{
		{"scheduled", model.Test{Duration: 30, Status: model.TestStatusScheduled}, ErrTestNotStarted},
		{"start in future", model.Test{Duration: 30, Status: model.TestStatusOpen, StartAt: &future}, ErrTestNotStarted},
		{"closed", model.Test{Duration: 30, Status: model.TestStatusClosed}, ErrTestEnded},
		{"end in past", model.Test{Duration: 30, Status: model.TestStatusOpen, EndAt: &past}, ErrTestEnded},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			f := newFixture(t)
			id := f.addTest(t, tc.test)
			_, err := f.sessions.Enter(context.Background(), 1, id, "device-0001")
			assert.ErrorIs(t, err, tc.want)
		})
	}

	t.Run("unknown test", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.sessions.Enter(context.Background(), 1, 77, "device-0001")
		assert.ErrorIs(t, err, ErrTestNotFound)
	})
}

func TestReentry(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testID := f.addTest(t, openTest())

	sess, err := f.sessions.Enter(ctx, 1, testID, "device-0001")
	require.NoError(t, err)

	_, err = f.sessions.Enter(ctx, 1, testID, "device-0001")
	assert.ErrorIs(t, err, ErrAlreadyParticipating)

	_, err = f.sessions.Enter(ctx, 1, testID, "device-0002")
	assert.ErrorIs(t, err, ErrDeviceMismatch)

	require.NoError(t, f.sessions.Finish(ctx, 1, sess.ID))
	_, err = f.sessions.Enter(ctx, 1, testID, "device-0001")
	assert.ErrorIs(t, err, ErrCompleted)

	// Another user is unaffected.
	_, err = f.sessions.Enter(ctx, 2, testID, "device-0003")
	assert.NoError(t, err)
}

func TestReentryAfterDeadlineBeforeSweep(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testID := f.addTest(t, openTest())

	_, err := f.sessions.Enter(ctx, 1, testID, "device-0001")
	require.NoError(t, err)

	f.now = f.now.Add(30*time.Minute - 500*time.Millisecond)
	_, err = f.sessions.Enter(ctx, 1, testID, "device-0001")
	assert.ErrorIs(t, err, ErrAlreadyParticipating)

	// Deadline passed, attempt not closed yet.
	f.now = f.now.Add(time.Second)
	_, err = f.sessions.Enter(ctx, 1, testID, "device-0001")
	assert.ErrorIs(t, err, ErrCompleted)
	_, err = f.sessions.Enter(ctx, 1, testID, "device-0002")
	assert.ErrorIs(t, err, ErrCompleted)
}

// ─── Session operations ─────────────────────────────────────────────

func TestRecordAnswerAndFinish(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testID := f.addTest(t, openTest())
	sess, err := f.sessions.Enter(ctx, 1, testID, "device-0001")
	require.NoError(t, err)

	require.NoError(t, f.sessions.RecordAnswer(ctx, 1, sess.ID, 1, "2"))
	require.NoError(t, f.sessions.RecordAnswer(ctx, 1, sess.ID, 1, "3"))
	assert.ErrorIs(t, f.sessions.RecordAnswer(ctx, 1, sess.ID, 41, "1"), ErrQuestionOutOfRange)
	assert.ErrorIs(t, f.sessions.RecordAnswer(ctx, 2, sess.ID, 1, "1"), ErrNotOwner)
	assert.ErrorIs(t, f.sessions.RecordAnswer(ctx, 1, 999, 1, "1"), ErrSessionNotFound)

	a, err := f.store.Attempts.GetByID(ctx, sess.ID)
	require.NoError(t, err)
	assert.Equal(t, "3", a.Answers[1])

	require.NoError(t, f.sessions.Finish(ctx, 1, sess.ID))
	assert.ErrorIs(t, f.sessions.Finish(ctx, 1, sess.ID), ErrSessionFinished)
	assert.ErrorIs(t, f.sessions.RecordAnswer(ctx, 1, sess.ID, 2, "1"), ErrSessionFinished)

	st, err := f.sessions.State(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.True(t, st.Finished)
}

func TestRecordAnswerAfterDeadline(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	testID := f.addTest(t, openTest())
	sess, err := f.sessions.Enter(ctx, 1, testID, "device-0001")
	require.NoError(t, err)

	f.now = f.now.Add(31 * time.Minute)
	assert.ErrorIs(t, f.sessions.RecordAnswer(ctx, 1, sess.ID, 1, "2"), ErrSessionFinished)

	st, err := f.sessions.State(ctx, 1, sess.ID)
	require.NoError(t, err)
	assert.Zero(t, st.RemainingSeconds)
}

func TestSeedDemoIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	require.NoError(t, SeedDemo(ctx, f.store, f.auth))
	require.NoError(t, SeedDemo(ctx, f.store, f.auth))

	tests, err := f.sessions.ListTests(ctx)
	require.NoError(t, err)
	assert.Len(t, tests, 4)

	_, err = f.auth.Login(ctx, "student", DemoPassword)
	assert.NoError(t, err)
}
