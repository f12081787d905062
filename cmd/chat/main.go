package main

import (
	"bufio"
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/apiclient"
	"github.com/stemsi/exstem-taker/internal/auth"
	"github.com/stemsi/exstem-taker/internal/chat"
	"github.com/stemsi/exstem-taker/internal/cli"
	"github.com/stemsi/exstem-taker/internal/config"
	"github.com/stemsi/exstem-taker/internal/database"
	"github.com/stemsi/exstem-taker/internal/logger"
	"github.com/stemsi/exstem-taker/internal/model"
)

func main() {
	var courseID int
	flag.IntVar(&courseID, "course", 1, "ID of the course channel")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if err := run(cfg, courseID, log); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// run returns instead of exiting so every deferred close happens.
func run(cfg *config.Config, courseID int, log zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	console := cli.NewConsole(os.Stdout)

	// ─── Auth State ────────────────────────────────────────────────────
	var bus auth.Bus = auth.NewMemoryBus()
	rdb, err := database.NewRedisClient(ctx, cfg, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, auth state stays local")
	} else if rdb != nil {
		defer rdb.Close()
		bus = auth.NewRedisBus(rdb, cfg.AuthProfile, log)
	}
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
	prompt := cli.NewPrompt(os.Stdout)
	if _, err := cli.EnsureSignedIn(ctx, store, api, prompt); err != nil {
		return fmt.Errorf("sign in: %w", err)
	}

	// ─── Connect ───────────────────────────────────────────────────────
	room := chat.NewRoom(0)
	updates, stopUpdates := room.Observe()
	defer stopUpdates()

	client, err := chat.Dial(ctx, cfg.WSBaseURL, courseID, store.AccessToken(), room, log)
	if err != nil {
		return fmt.Errorf("join chat: %w", err)
	}
	defer client.Close()

	go render(ctx, room, updates, console)

	// ─── Input Loop ────────────────────────────────────────────────────
	lines := make(chan string)
	go func() {
		sc := bufio.NewScanner(prompt.Reader())
		for sc.Scan() {
			select {
			case lines <- sc.Text():
			case <-ctx.Done():
				return
			}
		}
		close(lines)
	}()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-client.Done():
			if err := client.Err(); err != nil {
				return fmt.Errorf("disconnected: %w", err)
			}
			return nil
		case line, ok := <-lines:
			if !ok {
				return nil
			}
			if err := client.Send(line); err != nil && !errors.Is(err, chat.ErrEmptyMessage) {
				console.Printf("not sent: %v\n", err)
			}
		}
	}
}

func render(ctx context.Context, room *chat.Room, updates <-chan chat.Update, console *cli.Console) {
	for {
		select {
		case <-ctx.Done():
			return
		case u, ok := <-updates:
			if !ok {
				return
			}
			switch u.Kind {
			case chat.UpdateReplaced:
				for _, m := range room.Messages() {
					printMessage(console, m)
				}
			case chat.UpdateAppended:
				printMessage(console, u.Message)
			}
		}
	}
}

func printMessage(console *cli.Console, m model.ChatMessage) {
	console.Printf("%s  %s: %s\n", m.Timestamp.Local().Format("15:04"), m.Author(), m.Message)
}

// init sets zerolog global defaults before main runs.
func init() {
	zerolog.TimeFieldFormat = time.RFC3339
}
