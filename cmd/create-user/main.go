package main

import (
	"context"
	"errors"
	"fmt"
	"os"

	"github.com/stemsi/exstem-taker/internal/cli"
	"github.com/stemsi/exstem-taker/internal/config"
	"github.com/stemsi/exstem-taker/internal/database"
	"github.com/stemsi/exstem-taker/internal/logger"
	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/service"
	"github.com/stemsi/exstem-taker/internal/validator"
)

func main() {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	ctx := context.Background()

	if cfg.DatabaseURL == "" {
		fmt.Println("Error: DATABASE_URL is not set")
		os.Exit(1)
	}

	// ─── Connect to PostgreSQL ─────────────────────────────────────────
	store, closeStore, err := database.OpenStore(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect to PostgreSQL")
	}
	defer closeStore()

	// ─── Initialize Service ────────────────────────────────────────────
	authService := service.NewAuthService(cfg, store.Users)

	// ─── CLI Input ─────────────────────────────────────────────────────
	p := cli.NewPrompt(os.Stdout)

	fmt.Println("=== Create New User ===")

	username, _ := p.Line("Enter Username: ")
	firstName, _ := p.Line("Enter First Name: ")
	lastName, _ := p.Line("Enter Last Name: ")
	password, err := p.Password("Enter Password: ")
	if err != nil {
		fmt.Println("Error reading password")
		return
	}

	req := model.LoginRequest{Username: username, Password: password}
	if fields := validator.Struct(&req); fields != nil {
		for field, msg := range fields {
			fmt.Printf("Error: %s: %s\n", field, msg)
		}
		os.Exit(1)
	}

	// ─── Logic ─────────────────────────────────────────────────────────
	u := &model.User{Username: username, FirstName: firstName, LastName: lastName}
	if err := authService.Register(ctx, u, password); err != nil {
		if errors.Is(err, service.ErrUsernameTaken) {
			fmt.Printf("Error: username %q already exists\n", username)
			os.Exit(1)
		}
		log.Fatal().Err(err).Msg("Failed to create user")
	}

	fmt.Printf("\nSuccess! User '%s' created with ID: %d\n", u.Username, u.ID)
}
