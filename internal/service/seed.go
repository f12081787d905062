package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/stemsi/exstem-taker/internal/model"
	"github.com/stemsi/exstem-taker/internal/repository"
)

// DemoPassword is the password of every seeded demo user.
const DemoPassword = "password123"

// SeedDemo fills an empty store with demo users and tests covering the
// open, scheduled and closed entry outcomes.
func SeedDemo(ctx context.Context, store *repository.Store, authService *AuthService) error {
	existing, err := store.Tests.List(ctx)
	if err != nil {
		return fmt.Errorf("list tests: %w", err)
	}
	if len(existing) > 0 {
		return nil
	}

	users := []model.User{
		{Username: "student", FirstName: "Sara", LastName: "Karimi"},
		{Username: "student2", FirstName: "Omid", LastName: "Rahimi"},
	}
	for i := range users {
		if err := authService.Register(ctx, &users[i], DemoPassword); err != nil && !errors.Is(err, ErrUsernameTaken) {
			return fmt.Errorf("seed user %s: %w", users[i].Username, err)
		}
	}

	later := time.Now().Add(24 * time.Hour)
	tests := []model.Test{
		{Name: "Algebra midterm", Duration: 30, File: "algebra-midterm.pdf", Status: model.TestStatusOpen, Pages: 4, QuestionsCount: 40},
		{Name: "Quick quiz", Duration: 1, File: "quick-quiz.pdf", Status: model.TestStatusOpen, Pages: 1, QuestionsCount: 5},
		{Name: "Physics final", Duration: 90, File: "physics-final.pdf", Status: model.TestStatusScheduled, Pages: 8, QuestionsCount: 60, StartAt: &later},
		{Name: "Chemistry placement", Duration: 45, File: "chemistry.pdf", Status: model.TestStatusClosed, Pages: 3, QuestionsCount: 25},
	}
	for i := range tests {
		if err := store.Tests.Create(ctx, &tests[i]); err != nil {
			return fmt.Errorf("seed test %s: %w", tests[i].Name, err)
		}
	}
	return nil
}
