package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/apiclient"
	"github.com/stemsi/exstem-taker/internal/auth"
	"github.com/stemsi/exstem-taker/internal/cli"
	"github.com/stemsi/exstem-taker/internal/config"
	"github.com/stemsi/exstem-taker/internal/database"
	"github.com/stemsi/exstem-taker/internal/device"
	"github.com/stemsi/exstem-taker/internal/exam"
	"github.com/stemsi/exstem-taker/internal/logger"
	"github.com/stemsi/exstem-taker/internal/model"
)

// errReported marks failures the user has already been told about.
var errReported = errors.New("reported")

func main() {
	var testID int
	flag.IntVar(&testID, "test", 0, "ID of the test to take")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, testID, log); err != nil {
		if !errors.Is(err, errReported) {
			fmt.Fprintln(os.Stderr, err)
		}
		os.Exit(1)
	}
}

// run owns every resource of the process; it returns instead of exiting so
// deferred cleanup always happens.
func run(cfg *config.Config, testID int, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	bus, closeBus := openBus(ctx, cfg, log)
	defer closeBus()

	return takeTest(ctx, cfg, testID, bus, cli.NewPrompt(os.Stdout), os.Stdout, log)
}

// takeTest signs in, enters the test and runs the exam until it ends.
func takeTest(ctx context.Context, cfg *config.Config, testID int, bus auth.Bus, prompt *cli.Prompt, out io.Writer, log zerolog.Logger) error {
	ctx, stop := context.WithCancel(ctx)
	defer stop()

	console := cli.NewConsole(out)

	// ─── Device Fingerprint ────────────────────────────────────────────
	// Started first; it is awaited only when entering the test.
	fingerprint := device.Compute(ctx, cfg.DeviceSalt)

	// ─── Auth State ────────────────────────────────────────────────────
	store := auth.NewStore(bus, log)
	if err := store.Init(ctx); err != nil {
		return fmt.Errorf("initialize auth store: %w", err)
	}
	defer store.Close()

	api := apiclient.New(cfg.APIBaseURL, cfg.RequestTimeout, store, log)

	if cfg.AccessToken != "" {
		if _, err := store.Login(ctx, model.TokenPair{Access: cfg.AccessToken}); err != nil {
			return fmt.Errorf("ACCESS_TOKEN is not usable: %w", err)
		}
	}
	st, err := cli.EnsureSignedIn(ctx, store, api, prompt)
	if err != nil {
		return fmt.Errorf("sign in: %w", err)
	}
	console.Printf("Signed in as %s %s\n", st.FirstName, st.LastName)

	// ─── Choose Test ───────────────────────────────────────────────────
	if testID == 0 {
		testID, err = chooseTest(ctx, api, prompt, console)
		if err != nil {
			return err
		}
	}

	// ─── Bootstrap Session ─────────────────────────────────────────────
	boot := exam.NewBootstrapper(api, console, console, fingerprint, cfg.TestListPath, log)
	session, err := boot.Start(ctx, testID)
	if err != nil {
		// The notice has already been shown.
		return fmt.Errorf("%w: enter test %d: %w", errReported, testID, err)
	}

	// ─── Run Exam ──────────────────────────────────────────────────────
	ctrl := exam.NewController(*session, api, console, console, log, exam.Options{
		TestListPath:      cfg.TestListPath,
		ReconcileInterval: cfg.ReconcileInterval,
		DriftTolerance:    cfg.DriftTolerance,
	})

	runErr := make(chan error, 1)
	go func() { runErr <- ctrl.Run(ctx) }()
	go announceTime(ctx, ctrl, console)

	// A sign-out in another instance ends this one too.
	events, unsubscribe := store.Subscribe()
	defer unsubscribe()
	go func() {
		for ev := range events {
			if ev.Type == auth.EventLogout {
				console.Printf("Signed out elsewhere.\n")
				stop()
				return
			}
		}
	}()

	if err := cli.NewREPL(ctrl, console).Run(ctx, prompt.Reader()); err != nil && !errors.Is(err, context.Canceled) {
		log.Warn().Err(err).Msg("Input closed")
	}
	stop()

	if err := <-runErr; err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("Exam session ended with error")
		return fmt.Errorf("%w: %w", errReported, err)
	}
	return nil
}

// openBus shares sign-in state through Redis when REDIS_URL is set.
func openBus(ctx context.Context, cfg *config.Config, log zerolog.Logger) (auth.Bus, func()) {
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, auth state stays local")
		return auth.NewMemoryBus(), func() {}
	}
	if rdb == nil {
		return auth.NewMemoryBus(), func() {}
	}
	return auth.NewRedisBus(rdb, cfg.AuthProfile, log), func() { rdb.Close() }
}

func chooseTest(ctx context.Context, api *apiclient.Client, p *cli.Prompt, console *cli.Console) (int, error) {
	tests, err := api.ListTests(ctx)
	if err != nil {
		return 0, fmt.Errorf("list tests: %w", err)
	}
	if len(tests) == 0 {
		return 0, errors.New("no tests available")
	}
	for _, t := range tests {
		console.Printf("  %3d  %-28s %3d min  %s\n", t.ID, t.Name, t.Duration, t.Status)
	}

	for {
		line, err := p.Line("Test ID: ")
		if err != nil {
			return 0, err
		}
		var id int
		if _, err := fmt.Sscan(line, &id); err == nil && id > 0 {
			return id, nil
		}
		console.Printf("Enter a number from the list.\n")
	}
}

// announceTime prints the remaining time once a minute and every second of
// the last ten.
func announceTime(ctx context.Context, ctrl *exam.Controller, console *cli.Console) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ctrl.Done():
			return
		case <-ticker.C:
			s := ctrl.Snapshot()
			if s.Status != exam.StatusActive {
				continue
			}
			if s.TimeLeft%60 == 0 || s.TimeLeft <= 10 {
				console.Printf("time left %s\n", cli.FormatClock(s.TimeLeft))
			}
		}
	}
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
