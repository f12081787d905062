package exam

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/apiclient"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/response"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errServer = &apiclient.APIError{Kind: apiclient.KindServer, Status: 500, Code: response.ErrInternal}

func gated(gate <-chan struct{}, err error) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		select {
		case <-gate:
			return err
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func TestAnswerThenFinishScenario(t *testing.T) {
	h := startController(t, &fakeAPI{}, Options{})

	snap := h.waitStatus(t, StatusActive)
	assert.Equal(t, 1800, snap.TimeLeft)
	assert.Equal(t, 1, snap.Page)

	require.NoError(t, h.ctrl.RecordAnswer(1, "2"))
	assert.Equal(t, map[int]string{1: "2"}, h.ctrl.Snapshot().AnswerMap())

	require.Eventually(t, func() bool {
		e, _ := h.ctrl.Snapshot().Answer(1)
		return e.Status == SyncConfirmed
	}, 2*time.Second, time.Millisecond)
	assert.Equal(t, []recordedAnswer{{SessionID: 12, QuestionNumber: 1, Answer: "2"}}, h.api.recorded())

	require.NoError(t, h.ctrl.RequestFinish())
	assert.Equal(t, DialogConfirmFinish, h.ctrl.Snapshot().Dialog)
	require.NoError(t, h.ctrl.Confirm())

	require.NoError(t, h.wait(t))
	assert.Equal(t, 1, h.api.finishes())
	assert.Equal(t, []string{DefaultTestListPath}, h.ui.Paths())

	final := h.ctrl.Snapshot()
	assert.Equal(t, StatusFinished, final.Status)
	assert.Equal(t, DialogNone, final.Dialog)

	n, ok := h.ui.lastNotice()
	require.True(t, ok)
	assert.Equal(t, LevelSuccess, n.Level)
	assert.True(t, h.clock.stopped(time.Second))
}

func TestTimeLeftFollowsTicks(t *testing.T) {
	h := startController(t, &fakeAPI{}, Options{})
	h.waitStatus(t, StatusActive)

	h.tick(t, 75)
	assert.Equal(t, 1800-75, h.ctrl.Snapshot().TimeLeft)
}

func TestExpiryFinishesExactlyOnce(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{test: &model.Test{Duration: 1, Pages: 1, QuestionsCount: 5}, onFinish: gated(gate, nil)}
	h := startController(t, api, Options{})
	h.waitStatus(t, StatusActive)

	h.tick(t, 60)
	snap := h.ctrl.Snapshot()
	assert.Equal(t, 0, snap.TimeLeft)
	assert.Equal(t, StatusFinishing, snap.Status)
	require.Eventually(t, func() bool { return api.finishes() == 1 }, 2*time.Second, time.Millisecond)

	// The ticker is gone, so no further tick can reach the handler.
	assert.False(t, h.clock.fire(t, time.Second))
	assert.ErrorIs(t, h.ctrl.RecordAnswer(1, "a"), ErrFinishInFlight)

	close(gate)
	require.NoError(t, h.wait(t))
	assert.Equal(t, 1, api.finishes())
	assert.Equal(t, []string{DefaultTestListPath}, h.ui.Paths())
}

func TestExpiryWhileUserFinishIsInFlight(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{test: &model.Test{Duration: 1}, onFinish: gated(gate, nil)}
	h := startController(t, api, Options{})
	h.waitStatus(t, StatusActive)

	h.tick(t, 59)
	require.NoError(t, h.ctrl.RequestFinish())
	require.NoError(t, h.ctrl.Confirm())
	require.Eventually(t, func() bool { return api.finishes() == 1 }, 2*time.Second, time.Millisecond)

	h.tick(t, 1)
	assert.Equal(t, 0, h.ctrl.Snapshot().TimeLeft)
	assert.False(t, h.clock.fire(t, time.Second))

	close(gate)
	require.NoError(t, h.wait(t))
	assert.Equal(t, 1, api.finishes())
}

func TestFinishFailureKeepsSessionActive(t *testing.T) {
	cases := []struct {
		name  string
		err   error
		code  response.ErrCode
		level Level
	}{
		{"rejected", errServer, response.ErrFinishRejected, LevelError},
		{"unreachable", &apiclient.APIError{Kind: apiclient.KindNetwork, Err: errors.New("connection refused")}, response.ErrFinishUnreachable, LevelWarning},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			api := &fakeAPI{onFinish: func(context.Context) error { return tc.err }}
			h := startController(t, api, Options{})
			h.waitStatus(t, StatusActive)
			h.tick(t, 10)

			require.NoError(t, h.ctrl.RequestFinish())
			require.NoError(t, h.ctrl.Confirm())
			snap := h.waitStatus(t, StatusActive)
			assert.Equal(t, 1790, snap.TimeLeft)
			assert.Equal(t, DialogConfirmFinish, snap.Dialog)

			n, ok := h.ui.lastNotice()
			require.True(t, ok)
			assert.Equal(t, tc.code, n.Code)
			assert.Equal(t, tc.level, n.Level)

			h.tick(t, 3)
			assert.Equal(t, 1787, h.ctrl.Snapshot().TimeLeft)
			require.NoError(t, h.ctrl.Cancel())
			require.NoError(t, h.ctrl.RecordAnswer(2, "b"))
			assert.Equal(t, "b", h.ctrl.Snapshot().AnswerMap()[2])
			assert.Empty(t, h.ui.Paths())
		})
	}
}

func TestForcedFinishFailureReopensConfirmation(t *testing.T) {
	fail := true
	api := &fakeAPI{test: &model.Test{Duration: 1}}
	api.onFinish = func(context.Context) error {
		api.mu.Lock()
		defer api.mu.Unlock()
		if fail {
			fail = false
			return errServer
		}
		return nil
	}
	h := startController(t, api, Options{})
	h.waitStatus(t, StatusActive)

	h.tick(t, 60)
	snap := h.waitStatus(t, StatusActive)
	assert.Equal(t, 0, snap.TimeLeft)
	assert.Equal(t, DialogConfirmFinish, snap.Dialog)
	assert.Equal(t, 1, api.finishes())

	require.NoError(t, h.ctrl.Confirm())
	require.NoError(t, h.wait(t))
	assert.Equal(t, 2, api.finishes())
}

func TestFinishOnClosedSessionCountsAsFinished(t *testing.T) {
	api := &fakeAPI{onFinish: func(context.Context) error {
		return &apiclient.APIError{Kind: apiclient.KindForbidden, Status: 403, Code: response.ErrSessionFinished}
	}}
	h := startController(t, api, Options{})
	h.waitStatus(t, StatusActive)

	require.NoError(t, h.ctrl.RequestFinish())
	require.NoError(t, h.ctrl.Confirm())
	require.NoError(t, h.wait(t))
	assert.Equal(t, StatusFinished, h.ctrl.Snapshot().Status)
}

func TestFailedAnswerIsKeptAndRetried(t *testing.T) {
	calls := 0
	api := &fakeAPI{}
	api.onAnswer = func(ctx context.Context, q int, value string) error {
		api.mu.Lock()
		defer api.mu.Unlock()
		calls++
		if calls == 1 {
			return errServer
		}
		return nil
	}
	h := startController(t, api, Options{})
	h.waitStatus(t, StatusActive)

	require.NoError(t, h.ctrl.RecordAnswer(3, "x"))
	require.Eventually(t, func() bool {
		e, _ := h.ctrl.Snapshot().Answer(3)
		return e.Status == SyncFailed
	}, 2*time.Second, time.Millisecond)

	snap := h.ctrl.Snapshot()
	assert.Equal(t, "x", snap.AnswerMap()[3])
	assert.Equal(t, 1, snap.Unsynced())
	n, _ := h.ui.lastNotice()
	assert.Equal(t, response.ErrAnswerNotSaved, n.Code)

	sent, err := h.ctrl.RetryFailed()
	require.NoError(t, err)
	assert.Equal(t, 1, sent)
	require.Eventually(t, func() bool {
		e, _ := h.ctrl.Snapshot().Answer(3)
		return e.Status == SyncConfirmed
	}, 2*time.Second, time.Millisecond)
	assert.Len(t, api.recorded(), 2)
}

func TestLateResponseDoesNotOverrideNewerAnswer(t *testing.T) {
	gate := make(chan struct{})
	api := &fakeAPI{onAnswer: func(ctx context.Context, q int, value string) error {
		if value == "1" {
			return gated(gate, errServer)(ctx)
		}
		return nil
	}}
	h := startController(t, api, Options{})
	h.waitStatus(t, StatusActive)

	require.NoError(t, h.ctrl.RecordAnswer(4, "1"))
	require.NoError(t, h.ctrl.RecordAnswer(4, "2"))
	require.Eventually(t, func() bool {
		e, _ := h.ctrl.Snapshot().Answer(4)
		return e.Value == "2" && e.Status == SyncConfirmed
	}, 2*time.Second, time.Millisecond)

	close(gate)
	assert.Never(t, func() bool {
		e, _ := h.ctrl.Snapshot().Answer(4)
		return e.Value != "2" || e.Status != SyncConfirmed
	}, 100*time.Millisecond, 5*time.Millisecond)
	assert.Empty(t, h.ui.Notices())
}

func TestOverlongAnswerIsNeverStored(t *testing.T) {
	h := startController(t, &fakeAPI{}, Options{})
	h.waitStatus(t, StatusActive)

	long := strings.Repeat("a", model.MaxAnswerLength+1)
	assert.ErrorIs(t, h.ctrl.RecordAnswer(1, long), ErrInvalidAnswer)

	// The limit counts characters, not bytes.
	limit := strings.Repeat("é", model.MaxAnswerLength)
	require.NoError(t, h.ctrl.RecordAnswer(2, limit))
	require.Eventually(t, func() bool {
		e, _ := h.ctrl.Snapshot().Answer(2)
		return e.Status == SyncConfirmed
	}, 2*time.Second, time.Millisecond)

	_, ok := h.ctrl.Snapshot().Answer(1)
	assert.False(t, ok)
	require.Len(t, h.api.recorded(), 1)
	assert.Equal(t, 2, h.api.recorded()[0].QuestionNumber)
}

func TestRejectedAnswerIsNotRetried(t *testing.T) {
	var answerHits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		switch r.URL.Path {
		case "/tests/7/":
			json.NewEncoder(w).Encode(model.Test{ID: 7, Name: "Algebra midterm", Duration: 30, Pages: 4, QuestionsCount: 40})
		case "/sessions/12/answers/":
			answerHits.Add(1)
			w.WriteHeader(http.StatusBadRequest)
			json.NewEncoder(w).Encode(response.ErrorBody{
				Error:  response.ErrValidation,
				Fields: map[string]string{"question_number": "question_number is out of range"},
			})
		default:
			w.WriteHeader(http.StatusNotFound)
		}
	}))
	defer srv.Close()

	client := apiclient.New(srv.URL, 2*time.Second, nil, zerolog.Nop())
	h := runController(t, client, Options{})
	h.waitStatus(t, StatusActive)

	assert.ErrorIs(t, h.ctrl.RecordAnswer(1, strings.Repeat("b", model.MaxAnswerLength+1)), ErrInvalidAnswer)
	assert.Zero(t, answerHits.Load())

	require.NoError(t, h.ctrl.RecordAnswer(99, "B"))
	require.Eventually(t, func() bool {
		e, _ := h.ctrl.Snapshot().Answer(99)
		return e.Status == SyncRejected
	}, 2*time.Second, time.Millisecond)

	n, _ := h.ui.lastNotice()
	assert.Equal(t, response.ErrAnswerRejected, n.Code)
	assert.Equal(t, LevelError, n.Level)

	for i := 0; i < 3; i++ {
		sent, err := h.ctrl.RetryFailed()
		require.NoError(t, err)
		assert.Zero(t, sent)
	}
	assert.Equal(t, int32(1), answerHits.Load())
	assert.Equal(t, 1, h.ctrl.Snapshot().Unsynced())

	// A new value for the question is sent normally.
	require.NoError(t, h.ctrl.RecordAnswer(99, "C"))
	require.Eventually(t, func() bool { return answerHits.Load() == 2 }, 2*time.Second, time.Millisecond)
}

func TestDialogsAreExclusive(t *testing.T) {
	h := startController(t, &fakeAPI{}, Options{})
	h.waitStatus(t, StatusActive)

	assert.ErrorIs(t, h.ctrl.Confirm(), ErrNoDialog)
	assert.ErrorIs(t, h.ctrl.Cancel(), ErrNoDialog)

	require.NoError(t, h.ctrl.RequestFinish())
	require.NoError(t, h.ctrl.RequestFinish())
	assert.ErrorIs(t, h.ctrl.RequestExit(), ErrDialogOpen)
	assert.Equal(t, DialogConfirmFinish, h.ctrl.Snapshot().Dialog)

	require.NoError(t, h.ctrl.Cancel())
	require.NoError(t, h.ctrl.RequestExit())
	assert.ErrorIs(t, h.ctrl.RequestFinish(), ErrDialogOpen)
	assert.Equal(t, DialogConfirmExit, h.ctrl.Snapshot().Dialog)

	require.NoError(t, h.ctrl.Cancel())
	assert.Equal(t, DialogNone, h.ctrl.Snapshot().Dialog)
	assert.Zero(t, h.api.finishes())
}

func TestConfirmExitLeavesWithoutFinishing(t *testing.T) {
	h := startController(t, &fakeAPI{}, Options{})
	h.waitStatus(t, StatusActive)

	require.NoError(t, h.ctrl.SetPage(3))
	require.NoError(t, h.ctrl.RequestExit())
	require.NoError(t, h.ctrl.Confirm())
	require.NoError(t, h.wait(t))

	assert.Zero(t, h.api.finishes())
	assert.Equal(t, []string{DefaultTestListPath}, h.ui.Paths())
	snap := h.ctrl.Snapshot()
	assert.True(t, snap.Exited)
	assert.Equal(t, 3, snap.Page)
	assert.ErrorIs(t, h.ctrl.RecordAnswer(1, "a"), ErrSessionClosed)
	assert.True(t, h.clock.stopped(time.Second))
}

func TestCommandsBeforeRun(t *testing.T) {
	api := &fakeAPI{test: &model.Test{Duration: 30}}
	ctrl := NewController(testSession(), api, &fakeUI{}, &fakeUI{}, zerolog.Nop(), Options{Clock: newFakeClock()})

	assert.ErrorIs(t, ctrl.RecordAnswer(1, "a"), ErrNotStarted)
	assert.ErrorIs(t, ctrl.RecordAnswer(0, "a"), ErrInvalidAnswer)
	assert.ErrorIs(t, ctrl.RecordAnswer(1, "  "), ErrInvalidAnswer)
	assert.ErrorIs(t, ctrl.SetPage(1), ErrNotStarted)
	assert.Equal(t, StatusNotStarted, ctrl.Snapshot().Status)
}

func TestRunTwice(t *testing.T) {
	h := startController(t, &fakeAPI{}, Options{})
	h.waitStatus(t, StatusActive)
	assert.ErrorIs(t, h.ctrl.Run(context.Background()), ErrAlreadyRunning)
}

func TestSetPageOutOfRange(t *testing.T) {
	h := startController(t, &fakeAPI{}, Options{})
	h.waitStatus(t, StatusActive)

	assert.ErrorIs(t, h.ctrl.SetPage(9), ErrPageOutOfRange)
	require.NoError(t, h.ctrl.SetPage(2))
	snap := h.ctrl.Snapshot()
	assert.Equal(t, 2, snap.Page)
	assert.Equal(t, QuestionRange{First: 11, Last: 20}, snap.VisibleQuestions)
}

func TestLoadFailure(t *testing.T) {
	cases := []struct {
		name string
		err  error
		path string
	}{
		{"unauthorized", &apiclient.APIError{Kind: apiclient.KindUnauthorized, Status: 401, Code: response.ErrTokenInvalid}, LoginPath},
		{"not found", &apiclient.APIError{Kind: apiclient.KindNotFound, Status: 404, Code: response.ErrNotFound}, DefaultTestListPath},
		{"network", &apiclient.APIError{Kind: apiclient.KindNetwork, Err: errors.New("refused")}, ""},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			h := startController(t, &fakeAPI{getTestErr: tc.err}, Options{})
			err := h.wait(t)
			require.Error(t, err)
			assert.ErrorIs(t, err, tc.err)

			if tc.path == "" {
				assert.Empty(t, h.ui.Paths())
			} else {
				assert.Equal(t, []string{tc.path}, h.ui.Paths())
			}
			assert.Len(t, h.ui.Notices(), 1)
			assert.Equal(t, StatusNotStarted, h.ctrl.Snapshot().Status)
		})
	}
}

func TestZeroDurationIsRejected(t *testing.T) {
	h := startController(t, &fakeAPI{test: &model.Test{Duration: 0}}, Options{})
	assert.Error(t, h.wait(t))
	assert.Nil(t, h.clock.ticker(time.Second))
}

func TestTeardownCancelsWork(t *testing.T) {
	inFlight := make(chan struct{})
	api := &fakeAPI{onAnswer: func(ctx context.Context, q int, value string) error {
		close(inFlight)
		<-ctx.Done()
		return ctx.Err()
	}}
	h := startController(t, api, Options{ReconcileInterval: 30 * time.Second})
	h.waitStatus(t, StatusActive)

	require.NoError(t, h.ctrl.RecordAnswer(1, "a"))
	<-inFlight

	h.cancel()
	assert.ErrorIs(t, h.wait(t), context.Canceled)
	<-h.ctrl.Done()

	assert.True(t, h.clock.stopped(time.Second))
	assert.True(t, h.clock.stopped(30*time.Second))
	assert.ErrorIs(t, h.ctrl.RequestFinish(), ErrSessionClosed)
	assert.Empty(t, h.ui.Notices())
}

// ─── Reconciliation ─────────────────────────────────────────────────────────

func TestReconcileLowersCountdown(t *testing.T) {
	api := &fakeAPI{onState: func() (*model.SessionState, error) {
		return &model.SessionState{SessionID: 12, RemainingSeconds: 1000}, nil
	}}
	h := startController(t, api, Options{ReconcileInterval: 30 * time.Second, DriftTolerance: 5 * time.Second})
	h.waitStatus(t, StatusActive)

	require.True(t, h.clock.fire(t, 30*time.Second))
	require.Eventually(t, func() bool { return h.ctrl.Snapshot().TimeLeft == 1000 }, 2*time.Second, time.Millisecond)

	h.tick(t, 1)
	assert.Equal(t, 999, h.ctrl.Snapshot().TimeLeft)
}

func TestReconcileNeverRaisesOrJittersWithinTolerance(t *testing.T) {
	remaining := 1797
	api := &fakeAPI{}
	api.onState = func() (*model.SessionState, error) {
		return &model.SessionState{SessionID: 12, RemainingSeconds: remaining}, nil
	}
	h := startController(t, api, Options{ReconcileInterval: 30 * time.Second, DriftTolerance: 5 * time.Second})
	h.waitStatus(t, StatusActive)

	require.True(t, h.clock.fire(t, 30*time.Second))
	require.Eventually(t, func() bool {
		api.mu.Lock()
		defer api.mu.Unlock()
		return api.stateCalls == 1
	}, 2*time.Second, time.Millisecond)
	assert.Never(t, func() bool { return h.ctrl.Snapshot().TimeLeft != 1800 }, 100*time.Millisecond, 5*time.Millisecond)
}

func TestReconcileToZeroForcesFinish(t *testing.T) {
	api := &fakeAPI{onState: func() (*model.SessionState, error) {
		return &model.SessionState{SessionID: 12}, nil
	}}
	h := startController(t, api, Options{ReconcileInterval: 30 * time.Second})
	h.waitStatus(t, StatusActive)

	require.True(t, h.clock.fire(t, 30*time.Second))
	require.NoError(t, h.wait(t))
	assert.Equal(t, 1, api.finishes())
	assert.Equal(t, 0, h.ctrl.Snapshot().TimeLeft)
}

func TestReconcileSeesServerFinished(t *testing.T) {
	api := &fakeAPI{onState: func() (*model.SessionState, error) {
		return &model.SessionState{SessionID: 12, Finished: true}, nil
	}}
	h := startController(t, api, Options{ReconcileInterval: 30 * time.Second})
	h.waitStatus(t, StatusActive)

	require.True(t, h.clock.fire(t, 30*time.Second))
	require.NoError(t, h.wait(t))
	assert.Zero(t, api.finishes())
	assert.Equal(t, StatusFinished, h.ctrl.Snapshot().Status)
	assert.Equal(t, []string{DefaultTestListPath}, h.ui.Paths())
}
