package exam

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stretchr/testify/require"
)

// ─── Manual clock ───────────────────────────────────────────────────────────

type fakeTicker struct {
	c       chan time.Time
	stopped chan struct{}
	once    sync.Once
}

func (f *fakeTicker) C() <-chan time.Time { return f.c }
func (f *fakeTicker) Stop()               { f.once.Do(func() { close(f.stopped) }) }

type fakeClock struct {
	mu      sync.Mutex
	tickers map[time.Duration]*fakeTicker
}

func newFakeClock() *fakeClock {
	return &fakeClock{tickers: make(map[time.Duration]*fakeTicker)}
}

func (f *fakeClock) NewTicker(d time.Duration) Ticker {
	f.mu.Lock()
	defer f.mu.Unlock()
	t := &fakeTicker{c: make(chan time.Time), stopped: make(chan struct{})}
	f.tickers[d] = t
	return t
}

func (f *fakeClock) ticker(d time.Duration) *fakeTicker {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.tickers[d]
}

// fire delivers one tick to the ticker of period d. The send is unbuffered,
// so when fire returns true the controller has taken the tick and any later
// command observes its effect. It returns false if the ticker was stopped.
func (f *fakeClock) fire(t *testing.T, d time.Duration) bool {
	t.Helper()
	var tk *fakeTicker
	require.Eventually(t, func() bool {
		tk = f.ticker(d)
		return tk != nil
	}, 2*time.Second, time.Millisecond, "no ticker for %s", d)

	select {
	case <-tk.stopped:
		return false
	default:
	}
	select {
	case tk.c <- time.Now():
		return true
	case <-tk.stopped:
		return false
	case <-time.After(2 * time.Second):
		t.Fatalf("tick for %s not consumed", d)
		return false
	}
}

func (f *fakeClock) stopped(d time.Duration) bool {
	tk := f.ticker(d)
	if tk == nil {
		return false
	}
	select {
	case <-tk.stopped:
		return true
	default:
		return false
	}
}

// ─── Fake API ───────────────────────────────────────────────────────────────

type recordedAnswer struct {
	SessionID      int
	QuestionNumber int
	Answer         string
}

type fakeAPI struct {
	mu sync.Mutex

	test       *model.Test
	getTestErr error
	onAnswer   func(ctx context.Context, q int, value string) error
	onFinish   func(ctx context.Context) error
	onState    func() (*model.SessionState, error)
	onEnter    func(testID int, deviceID string) (*model.Session, error)

	answers     []recordedAnswer
	finishCalls int
	stateCalls  int
	enterCalls  int
}

func (f *fakeAPI) GetTest(ctx context.Context, testID int) (*model.Test, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.getTestErr != nil {
		return nil, f.getTestErr
	}
	t := *f.test
	t.ID = testID
	return &t, nil
}

func (f *fakeAPI) RecordAnswer(ctx context.Context, sessionID, q int, value string) error {
	f.mu.Lock()
	f.answers = append(f.answers, recordedAnswer{SessionID: sessionID, QuestionNumber: q, Answer: value})
	hook := f.onAnswer
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx, q, value)
	}
	return nil
}

func (f *fakeAPI) FinishSession(ctx context.Context, sessionID int) error {
	f.mu.Lock()
	f.finishCalls++
	hook := f.onFinish
	f.mu.Unlock()
	if hook != nil {
		return hook(ctx)
	}
	return nil
}

func (f *fakeAPI) GetSessionState(ctx context.Context, sessionID int) (*model.SessionState, error) {
	f.mu.Lock()
	f.stateCalls++
	hook := f.onState
	f.mu.Unlock()
	if hook != nil {
		return hook()
	}
	return nil, context.DeadlineExceeded
}

func (f *fakeAPI) EnterTest(ctx context.Context, testID int, deviceID string) (*model.Session, error) {
	f.mu.Lock()
	f.enterCalls++
	hook := f.onEnter
	f.mu.Unlock()
	return hook(testID, deviceID)
}

func (f *fakeAPI) recorded() []recordedAnswer {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]recordedAnswer(nil), f.answers...)
}

func (f *fakeAPI) finishes() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.finishCalls
}

// ─── Fake front end ─────────────────────────────────────────────────────────

type fakeUI struct {
	mu      sync.Mutex
	notices []Notice
	paths   []string
}

func (f *fakeUI) Notify(n Notice) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.notices = append(f.notices, n)
}

func (f *fakeUI) Navigate(path string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.paths = append(f.paths, path)
}

func (f *fakeUI) Notices() []Notice {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Notice(nil), f.notices...)
}

func (f *fakeUI) Paths() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.paths...)
}

func (f *fakeUI) lastNotice() (Notice, bool) {
	n := f.Notices()
	if len(n) == 0 {
		return Notice{}, false
	}
	return n[len(n)-1], true
}

// ─── Harness ────────────────────────────────────────────────────────────────

type harness struct {
	ctrl   *Controller
	api    *fakeAPI
	ui     *fakeUI
	clock  *fakeClock
	cancel context.CancelFunc
	result chan error
}

func testSession() model.Session {
	return model.Session{ID: 12, TestID: 7, DeviceID: "device-0001", StartTime: time.Now()}
}

func startController(t *testing.T, api *fakeAPI, opts Options) *harness {
	t.Helper()
	if api.test == nil && api.getTestErr == nil {
		api.test = &model.Test{Name: "Algebra midterm", Duration: 30, Pages: 4, QuestionsCount: 40, Status: model.TestStatusOpen}
	}
	h := runController(t, api, opts)
	h.api = api
	return h
}

// runController starts a controller on any API implementation.
func runController(t *testing.T, api API, opts Options) *harness {
	t.Helper()
	h := &harness{
		ui:     &fakeUI{},
		clock:  newFakeClock(),
		result: make(chan error, 1),
	}
	opts.Clock = h.clock
	h.ctrl = NewController(testSession(), api, h.ui, h.ui, zerolog.Nop(), opts)

	ctx, cancel := context.WithCancel(context.Background())
	h.cancel = cancel
	go func() { h.result <- h.ctrl.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		select {
		case <-h.ctrl.Done():
		case <-time.After(2 * time.Second):
			t.Error("controller did not shut down")
		}
	})
	return h
}

func (h *harness) waitStatus(t *testing.T, want Status) Snapshot {
	t.Helper()
	var snap Snapshot
	require.Eventually(t, func() bool {
		snap = h.ctrl.Snapshot()
		return snap.Status == want
	}, 2*time.Second, time.Millisecond, "status never became %s", want)
	return snap
}

func (h *harness) wait(t *testing.T) error {
	t.Helper()
	select {
	case err := <-h.result:
		return err
	case <-time.After(2 * time.Second):
		t.Fatal("Run did not return")
		return nil
	}
}

func (h *harness) tick(t *testing.T, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		require.True(t, h.clock.fire(t, time.Second), "tick %d not delivered", i+1)
	}
}
