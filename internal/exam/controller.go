package exam

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/apiclient"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/response"
)

// API is the part of the REST API an open exam view uses.
type API interface {
	GetTest(ctx context.Context, testID int) (*model.Test, error)
	RecordAnswer(ctx context.Context, sessionID, questionNumber int, answer string) error
	FinishSession(ctx context.Context, sessionID int) error
	GetSessionState(ctx context.Context, sessionID int) (*model.SessionState, error)
}

// Options tune a Controller. Zero values fall back to defaults.
type Options struct {
	TestListPath string
	// ReconcileInterval is how often the countdown is checked against the
	// server deadline. Zero disables reconciliation.
	ReconcileInterval time.Duration
	// DriftTolerance is how far ahead of the server the local countdown may
	// run before it is lowered.
	DriftTolerance time.Duration
	Clock          Clock
}

// Controller owns one exam session. Run is the only goroutine that mutates
// session state; every public method is a command executed by it.
type Controller struct {
	session model.Session
	api     API
	notify  Notifier
	nav     Navigator
	log     zerolog.Logger
	opts    Options

	cmds    chan command
	events  chan event
	done    chan struct{}
	started atomic.Bool
	wg      sync.WaitGroup
	current atomic.Pointer[Snapshot]

	// ─── Owned by the Run goroutine ────────────────────────────────────
	runCtx      context.Context
	status      Status
	dialog      Dialog
	test        *model.Test
	answers     *AnswerSheet
	countdown   *Countdown
	viewer      *Viewer
	ticker      Ticker
	reconciler  Ticker
	reconciling bool
	forced      bool
	exited      bool
	stop        bool
	result      error
}

type command struct {
	fn    func() error
	reply chan error
}

// event is the result of asynchronous work, applied by the Run goroutine.
type event interface{}

type testLoaded struct {
	test *model.Test
	err  error
}

type answerSent struct {
	question int
	seq      uint64
	err      error
}

type finishDone struct {
	err error
}

type stateFetched struct {
	state *model.SessionState
	err   error
}

// NewController creates the controller for a session returned by the bootstrap.
func NewController(session model.Session, api API, notify Notifier, nav Navigator, log zerolog.Logger, opts Options) *Controller {
	if opts.TestListPath == "" {
		opts.TestListPath = DefaultTestListPath
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}

	c := &Controller{
		session: session,
		api:     api,
		notify:  notify,
		nav:     nav,
		log: log.With().
			Str("component", "exam_controller").
			Int("session_id", session.ID).
			Int("test_id", session.TestID).
			Logger(),
		opts:    opts,
		cmds:    make(chan command),
		events:  make(chan event),
		done:    make(chan struct{}),
		status:  StatusNotStarted,
		answers: NewAnswerSheet(),
	}
	c.publish()
	return c
}

// Run loads the test, starts the countdown and serves commands until the
// session is finished, the user exits, loading fails or ctx is cancelled.
// Timers are stopped and in-flight requests cancelled on every exit path.
func (c *Controller) Run(ctx context.Context) error {
	if !c.started.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	runCtx, cancel := context.WithCancel(ctx)
	c.runCtx = runCtx
	defer func() {
		cancel()
		c.stopTimers()
		c.publish()
		close(c.done)
		c.wg.Wait()
		c.log.Debug().Msg("Exam view released")
	}()

	c.log.Info().Msg("Exam view mounted")

	testID := c.session.TestID
	c.spawn(func(ctx context.Context) event {
		test, err := c.api.GetTest(ctx, testID)
		return testLoaded{test: test, err: err}
	})

	for !c.stop {
		c.publish()

		select {
		case <-ctx.Done():
			c.log.Info().Str("status", c.status.String()).Msg("Exam view torn down")
			return ctx.Err()
		case cmd := <-c.cmds:
			cmd.reply <- cmd.fn()
		case ev := <-c.events:
			c.handle(ev)
		case <-tickC(c.ticker):
			c.onTick()
		case <-tickC(c.reconciler):
			c.onReconcileTick()
		}
	}
	return c.result
}

// Done is closed once Run has returned and released its resources.
func (c *Controller) Done() <-chan struct{} {
	return c.done
}

// Snapshot returns the current state. While Run is serving it reflects every
// command and tick received so far.
func (c *Controller) Snapshot() Snapshot {
	if c.started.Load() {
		var snap Snapshot
		if err := c.exec(func() error {
			snap = c.buildSnapshot()
			return nil
		}); err == nil {
			return snap
		}
	}
	return *c.current.Load()
}

// ────────────────────────────────────────────────────────────────────────────
// Commands
// ────────────────────────────────────────────────────────────────────────────

// RecordAnswer stores the answer locally right away and sends it to the
// server in the background. A failed send is reported, never rolled back.
func (c *Controller) RecordAnswer(questionNumber int, value string) error {
	if questionNumber < 1 || strings.TrimSpace(value) == "" || utf8.RuneCountInString(value) > model.MaxAnswerLength {
		return ErrInvalidAnswer
	}
	return c.run(func() error {
		if err := c.requireActive(); err != nil {
			return err
		}
		seq := c.answers.Set(questionNumber, value)
		c.sendAnswer(questionNumber, value, seq)
		return nil
	})
}

// RetryFailed re-sends every answer whose last send failed and returns how
// many were sent.
func (c *Controller) RetryFailed() (int, error) {
	sent := 0
	err := c.run(func() error {
		if err := c.requireActive(); err != nil {
			return err
		}
		for _, q := range c.answers.Failed() {
			value, seq, ok := c.answers.Resend(q)
			if !ok {
				continue
			}
			c.sendAnswer(q, value, seq)
			sent++
		}
		return nil
	})
	return sent, err
}

// SetPage is the document viewer's page-change callback.
func (c *Controller) SetPage(page int) error {
	return c.run(func() error {
		switch c.status {
		case StatusNotStarted:
			return ErrNotStarted
		case StatusFinished:
			return ErrSessionClosed
		}
		return c.viewer.SetPage(page)
	})
}

// RequestFinish opens the finish confirmation. It fails with ErrDialogOpen
// while the exit confirmation is open.
func (c *Controller) RequestFinish() error {
	return c.run(func() error {
		if err := c.requireActive(); err != nil {
			return err
		}
		return c.openDialog(DialogConfirmFinish)
	})
}

// RequestExit opens the exit confirmation.
func (c *Controller) RequestExit() error {
	return c.run(func() error {
		if err := c.requireActive(); err != nil {
			return err
		}
		return c.openDialog(DialogConfirmExit)
	})
}

// Cancel closes the open confirmation.
func (c *Controller) Cancel() error {
	return c.run(func() error {
		if c.status == StatusFinishing {
			return ErrFinishInFlight
		}
		if c.dialog == DialogNone {
			return ErrNoDialog
		}
		c.dialog = DialogNone
		return nil
	})
}

// Confirm accepts the open confirmation.
func (c *Controller) Confirm() error {
	return c.run(func() error {
		switch c.dialog {
		case DialogConfirmFinish:
			if err := c.requireActive(); err != nil {
				return err
			}
			c.beginFinish()
			return nil
		case DialogConfirmExit:
			if err := c.requireActive(); err != nil {
				return err
			}
			c.exitView()
			return nil
		default:
			return ErrNoDialog
		}
	})
}

// ────────────────────────────────────────────────────────────────────────────
// Event handling (Run goroutine only)
// ────────────────────────────────────────────────────────────────────────────

func (c *Controller) handle(ev event) {
	if c.runCtx.Err() != nil {
		return
	}
	switch e := ev.(type) {
	case testLoaded:
		c.onTestLoaded(e)
	case answerSent:
		c.onAnswerSent(e)
	case finishDone:
		c.onFinishDone(e)
	case stateFetched:
		c.onStateFetched(e)
	default:
		c.log.Error().Str("event", fmt.Sprintf("%T", ev)).Msg("Unknown event")
	}
}

func (c *Controller) onTestLoaded(e testLoaded) {
	if e.err != nil {
		c.failLoad(e.err)
		return
	}
	if e.test.Duration <= 0 {
		c.notify.Notify(Notice{Level: LevelError, Code: response.ErrUnknown, Message: "This test has no time allotted and cannot be taken."})
		c.stop = true
		c.result = fmt.Errorf("test %d has no duration", e.test.ID)
		return
	}

	c.test = e.test
	c.countdown = NewCountdown(e.test.DurationSeconds())
	c.viewer = NewViewer(e.test.Pages, e.test.QuestionsCount)
	c.status = StatusActive
	c.ticker = c.opts.Clock.NewTicker(time.Second)
	if c.opts.ReconcileInterval > 0 {
		c.reconciler = c.opts.Clock.NewTicker(c.opts.ReconcileInterval)
	}

	c.log.Info().
		Str("test", e.test.Name).
		Int("seconds", c.countdown.Remaining()).
		Int("pages", e.test.Pages).
		Msg("Exam active")
}

func (c *Controller) failLoad(err error) {
	c.stop = true
	c.result = fmt.Errorf("load test: %w", err)
	c.log.Error().Err(err).Msg("Load test failed")

	apiErr, ok := apiclient.AsAPIError(err)
	if !ok {
		c.notify.Notify(Notice{Level: LevelError, Code: response.ErrUnknown, Message: response.GetMessage(response.ErrUnknown)})
		return
	}

	switch apiErr.Kind {
	case apiclient.KindUnauthorized:
		c.notify.Notify(Notice{Level: LevelError, Code: apiErr.Code, Message: apiErr.Message()})
		c.nav.Navigate(LoginPath)
	case apiclient.KindForbidden, apiclient.KindNotFound:
		c.notify.Notify(Notice{Level: LevelError, Code: apiErr.Code, Message: apiErr.Message()})
		c.nav.Navigate(c.opts.TestListPath)
	case apiclient.KindNetwork:
		c.notify.Notify(Notice{Level: LevelWarning, Code: response.ErrNetwork, Message: apiErr.Message()})
	default:
		c.notify.Notify(Notice{Level: LevelError, Code: apiErr.Code, Message: apiErr.Message()})
	}
}

func (c *Controller) onAnswerSent(e answerSent) {
	if apiErr, ok := apiclient.AsAPIError(e.err); ok && apiErr.Kind == apiclient.KindValidation {
		if !c.answers.Reject(e.question, e.seq) {
			return
		}
		c.log.Warn().Err(e.err).Int("question", e.question).Msg("Answer rejected")
		c.notify.Notify(Notice{
			Level:   LevelError,
			Code:    response.ErrAnswerRejected,
			Message: fmt.Sprintf("Question %d: %s", e.question, response.GetMessage(response.ErrAnswerRejected)),
		})
		return
	}

	if !c.answers.Resolve(e.question, e.seq, e.err) {
		return // superseded by a newer value
	}
	if e.err == nil {
		return
	}
	c.log.Warn().Err(e.err).Int("question", e.question).Msg("Record answer failed")
	c.notify.Notify(Notice{
		Level:   LevelWarning,
		Code:    response.ErrAnswerNotSaved,
		Message: fmt.Sprintf("Question %d: %s", e.question, response.GetMessage(response.ErrAnswerNotSaved)),
	})
}

func (c *Controller) onTick() {
	if c.countdown == nil || c.status == StatusFinished {
		return
	}
	if c.countdown.Tick() {
		c.onExpired()
	}
}

// onExpired runs once, on the transition to zero.
func (c *Controller) onExpired() {
	c.stopTicker()
	c.forced = true
	c.log.Info().Str("status", c.status.String()).Msg("Time is up")
	c.notify.Notify(Notice{Level: LevelWarning, Message: "Time is up. Submitting your answers."})

	// A finish already in flight decides the outcome on its own.
	if c.status == StatusActive {
		c.beginFinish()
	}
}

func (c *Controller) beginFinish() {
	c.status = StatusFinishing
	sessionID := c.session.ID
	c.log.Info().Bool("forced", c.forced).Int("answers", c.answers.Len()).Msg("Finishing")
	c.spawn(func(ctx context.Context) event {
		return finishDone{err: c.api.FinishSession(ctx, sessionID)}
	})
}

func (c *Controller) onFinishDone(e finishDone) {
	if e.err == nil || apiclient.IsCode(e.err, response.ErrSessionFinished) {
		c.status = StatusFinished
		c.dialog = DialogNone
		c.stopTimers()
		c.stop = true
		c.log.Info().Msg("Exam finished")
		c.notify.Notify(Notice{Level: LevelSuccess, Message: "Your test has been submitted."})
		c.nav.Navigate(c.opts.TestListPath)
		return
	}

	// Failure leaves the exam open for a retry.
	c.status = StatusActive
	if c.forced {
		c.dialog = DialogConfirmFinish
	}

	code, level := response.ErrFinishRejected, LevelError
	if apiErr, ok := apiclient.AsAPIError(e.err); ok && apiErr.Kind == apiclient.KindNetwork {
		code, level = response.ErrFinishUnreachable, LevelWarning
	}
	c.log.Warn().Err(e.err).Str("code", string(code)).Msg("Finish failed")
	c.notify.Notify(Notice{Level: level, Code: code, Message: response.GetMessage(code)})
}

func (c *Controller) exitView() {
	c.dialog = DialogNone
	c.exited = true
	c.stop = true

	level, msg := LevelInfo, "Your answers are saved, but the test has not been finished."
	if n := c.buildSnapshot().Unsynced(); n > 0 {
		level = LevelWarning
		msg = fmt.Sprintf("The test has not been finished and %d answer(s) have not reached the server yet.", n)
	}
	c.log.Info().Msg("Exam exited without finishing")
	c.notify.Notify(Notice{Level: level, Message: msg})
	c.nav.Navigate(c.opts.TestListPath)
}

func (c *Controller) onReconcileTick() {
	if c.reconciling || c.status != StatusActive {
		return
	}
	c.reconciling = true
	sessionID := c.session.ID
	c.spawn(func(ctx context.Context) event {
		state, err := c.api.GetSessionState(ctx, sessionID)
		return stateFetched{state: state, err: err}
	})
}

func (c *Controller) onStateFetched(e stateFetched) {
	c.reconciling = false
	if e.err != nil {
		c.log.Warn().Err(e.err).Msg("Reconcile failed")
		return
	}
	if c.status != StatusActive {
		return
	}

	if e.state.Finished {
		c.status = StatusFinished
		c.dialog = DialogNone
		c.stopTimers()
		c.stop = true
		c.log.Info().Msg("Server reports session finished")
		c.notify.Notify(Notice{Level: LevelInfo, Code: response.ErrSessionFinished, Message: response.GetMessage(response.ErrSessionFinished)})
		c.nav.Navigate(c.opts.TestListPath)
		return
	}

	local := c.countdown.Remaining()
	tolerance := int(c.opts.DriftTolerance / time.Second)
	if local-e.state.RemainingSeconds <= tolerance {
		return
	}
	_, expired := c.countdown.Lower(e.state.RemainingSeconds)
	c.log.Info().
		Int("local", local).
		Int("server", e.state.RemainingSeconds).
		Msg("Countdown lowered to server deadline")
	if expired {
		c.onExpired()
	}
}

// ────────────────────────────────────────────────────────────────────────────
// Internal helpers
// ────────────────────────────────────────────────────────────────────────────

func (c *Controller) run(fn func() error) error {
	if !c.started.Load() {
		return ErrNotStarted
	}
	return c.exec(fn)
}

func (c *Controller) exec(fn func() error) error {
	cmd := command{fn: fn, reply: make(chan error, 1)}
	select {
	case c.cmds <- cmd:
	case <-c.done:
		return ErrSessionClosed
	}
	return <-cmd.reply
}

// openDialog opens d unless the other confirmation is already open.
func (c *Controller) openDialog(d Dialog) error {
	if c.dialog != DialogNone && c.dialog != d {
		return ErrDialogOpen
	}
	c.dialog = d
	return nil
}

func (c *Controller) requireActive() error {
	switch c.status {
	case StatusNotStarted:
		return ErrNotStarted
	case StatusFinishing:
		return ErrFinishInFlight
	case StatusFinished:
		return ErrSessionClosed
	}
	return nil
}

func (c *Controller) sendAnswer(q int, value string, seq uint64) {
	sessionID := c.session.ID
	c.spawn(func(ctx context.Context) event {
		return answerSent{question: q, seq: seq, err: c.api.RecordAnswer(ctx, sessionID, q, value)}
	})
}

// spawn runs fn off the loop and hands its result back, unless Run has
// already returned.
func (c *Controller) spawn(fn func(ctx context.Context) event) {
	ctx := c.runCtx
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		ev := fn(ctx)
		select {
		case c.events <- ev:
		case <-c.done:
		}
	}()
}

func (c *Controller) stopTicker() {
	if c.ticker != nil {
		c.ticker.Stop()
		c.ticker = nil
	}
}

func (c *Controller) stopTimers() {
	c.stopTicker()
	if c.reconciler != nil {
		c.reconciler.Stop()
		c.reconciler = nil
	}
}

func (c *Controller) buildSnapshot() Snapshot {
	snap := Snapshot{
		Status:  c.status,
		Dialog:  c.dialog,
		Session: c.session,
		Answers: c.answers.Entries(),
		Exited:  c.exited,
	}
	if c.test != nil {
		t := *c.test
		snap.Test = &t
	}
	if c.countdown != nil {
		snap.TimeLeft = c.countdown.Remaining()
	}
	if c.viewer != nil {
		snap.Page = c.viewer.Page()
		snap.Pages = c.viewer.Pages()
		snap.VisibleQuestions = c.viewer.VisibleQuestions()
	}
	return snap
}

func (c *Controller) publish() {
	snap := c.buildSnapshot()
	c.current.Store(&snap)
}

// tickC returns the ticker's channel, or nil (never ready) when t is nil.
func tickC(t Ticker) <-chan time.Time {
	if t == nil {
		return nil
	}
	return t.C()
}
