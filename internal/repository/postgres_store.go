package repository

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stemsi/exstem-taker/internal/model"
)

// NewPostgresStore returns a Store backed by PostgreSQL. The schema lives in
// migrations/ and is applied with cmd/migrate.
func NewPostgresStore(pool *pgxpool.Pool) *Store {
	return &Store{
		Users:    NewPgUserRepository(pool),
		Tests:    NewPgTestRepository(pool),
		Attempts: NewPgAttemptRepository(pool),
	}
}

// translate maps driver errors onto the repository sentinels.
func translate(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrConflict
	}
	return err
}

// ─── Users ──────────────────────────────────────────────────────────

// PgUserRepository handles user data access.
type PgUserRepository struct {
	pool *pgxpool.Pool
}

// NewPgUserRepository creates a new PgUserRepository.
func NewPgUserRepository(pool *pgxpool.Pool) *PgUserRepository {
	return &PgUserRepository{pool: pool}
}

// GetByID retrieves a user by ID.
func (r *PgUserRepository) GetByID(ctx context.Context, id int) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name, password_hash, created_at
		 FROM users WHERE id = $1`, id,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// GetByUsername retrieves a user by login name, case-insensitively.
func (r *PgUserRepository) GetByUsername(ctx context.Context, username string) (*model.User, error) {
	u := &model.User{}
	err := r.pool.QueryRow(ctx,
		`SELECT id, username, first_name, last_name, password_hash, created_at
		 FROM users WHERE LOWER(username) = LOWER($1)`, username,
	).Scan(&u.ID, &u.Username, &u.FirstName, &u.LastName, &u.PasswordHash, &u.CreatedAt)
	if err != nil {
		return nil, translate(err)
	}
	return u, nil
}

// Create inserts a new user.
func (r *PgUserRepository) Create(ctx context.Context, u *model.User) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO users (username, first_name, last_name, password_hash)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, created_at`,
		u.Username, u.FirstName, u.LastName, u.PasswordHash,
	).Scan(&u.ID, &u.CreatedAt)
	return translate(err)
}

// ─── Tests ──────────────────────────────────────────────────────────

// PgTestRepository handles test metadata access.
type PgTestRepository struct {
	pool *pgxpool.Pool
}

// NewPgTestRepository creates a new PgTestRepository.
func NewPgTestRepository(pool *pgxpool.Pool) *PgTestRepository {
	return &PgTestRepository{pool: pool}
}

const testColumns = `id, name, duration_minutes, file, status, pages, questions_count, start_at, end_at`

func scanTest(row pgx.Row, t *model.Test) error {
	return row.Scan(&t.ID, &t.Name, &t.Duration, &t.File, &t.Status, &t.Pages, &t.QuestionsCount, &t.StartAt, &t.EndAt)
}

// List retrieves every test ordered by ID.
func (r *PgTestRepository) List(ctx context.Context) ([]model.Test, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+testColumns+` FROM tests ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tests []model.Test
	for rows.Next() {
		var t model.Test
		if err := scanTest(rows, &t); err != nil {
			return nil, err
		}
		tests = append(tests, t)
	}
	return tests, rows.Err()
}

// GetByID retrieves a test by ID.
func (r *PgTestRepository) GetByID(ctx context.Context, id int) (*model.Test, error) {
	t := &model.Test{}
	if err := scanTest(r.pool.QueryRow(ctx, `SELECT `+testColumns+` FROM tests WHERE id = $1`, id), t); err != nil {
		return nil, translate(err)
	}
	return t, nil
}

// Create inserts a new test.
func (r *PgTestRepository) Create(ctx context.Context, t *model.Test) error {
	return r.pool.QueryRow(ctx,
		`INSERT INTO tests (name, duration_minutes, file, status, pages, questions_count, start_at, end_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		 RETURNING id`,
		t.Name, t.Duration, t.File, t.Status, t.Pages, t.QuestionsCount, t.StartAt, t.EndAt,
	).Scan(&t.ID)
}

// ─── Attempts ───────────────────────────────────────────────────────

// PgAttemptRepository handles attempt and answer data access.
type PgAttemptRepository struct {
	pool *pgxpool.Pool
}

// NewPgAttemptRepository creates a new PgAttemptRepository.
func NewPgAttemptRepository(pool *pgxpool.Pool) *PgAttemptRepository {
	return &PgAttemptRepository{pool: pool}
}

const attemptColumns = `id, test_id, user_id, device_id, started_at, ends_at, finished_at`

func (r *PgAttemptRepository) load(ctx context.Context, where string, args ...any) (*model.Attempt, error) {
	a := &model.Attempt{}
	err := r.pool.QueryRow(ctx, `SELECT `+attemptColumns+` FROM attempts WHERE `+where, args...).
		Scan(&a.ID, &a.TestID, &a.UserID, &a.DeviceID, &a.StartedAt, &a.EndsAt, &a.FinishedAt)
	if err != nil {
		return nil, translate(err)
	}

	rows, err := r.pool.Query(ctx,
		`SELECT question_number, answer FROM attempt_answers WHERE attempt_id = $1`, a.ID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	a.Answers = make(map[int]string)
	for rows.Next() {
		var q int
		var ans string
		if err := rows.Scan(&q, &ans); err != nil {
			return nil, err
		}
		a.Answers[q] = ans
	}
	return a, rows.Err()
}

// GetByID retrieves an attempt with its answers.
func (r *PgAttemptRepository) GetByID(ctx context.Context, id int) (*model.Attempt, error) {
	return r.load(ctx, `id = $1`, id)
}

// GetByTestAndUser retrieves the attempt of a user at a test.
func (r *PgAttemptRepository) GetByTestAndUser(ctx context.Context, testID, userID int) (*model.Attempt, error) {
	return r.load(ctx, `test_id = $1 AND user_id = $2`, testID, userID)
}

// Create inserts a new attempt. The (test_id, user_id) unique key enforces
// a single attempt per user.
func (r *PgAttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	err := r.pool.QueryRow(ctx,
		`INSERT INTO attempts (test_id, user_id, device_id, ends_at)
		 VALUES ($1, $2, $3, $4)
		 RETURNING id, started_at`,
		a.TestID, a.UserID, a.DeviceID, a.EndsAt,
	).Scan(&a.ID, &a.StartedAt)
	if a.Answers == nil {
		a.Answers = make(map[int]string)
	}
	return translate(err)
}

// SaveAnswer upserts one answer.
func (r *PgAttemptRepository) SaveAnswer(ctx context.Context, attemptID, questionNumber int, answer string) error {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO attempt_answers (attempt_id, question_number, answer)
		 VALUES ($1, $2, $3)
		 ON CONFLICT (attempt_id, question_number)
		 DO UPDATE SET answer = EXCLUDED.answer, updated_at = NOW()`,
		attemptID, questionNumber, answer)
	return translate(err)
}

// Finish closes an open attempt.
func (r *PgAttemptRepository) Finish(ctx context.Context, id int, at time.Time) (bool, error) {
	tag, err := r.pool.Exec(ctx,
		`UPDATE attempts SET finished_at = $1 WHERE id = $2 AND finished_at IS NULL`, at, id)
	if err != nil {
		return false, err
	}
	if tag.RowsAffected() == 1 {
		return true, nil
	}
	// Distinguish "already finished" from "missing".
	if _, err := r.load(ctx, `id = $1`, id); err != nil {
		return false, err
	}
	return false, nil
}

// FinishExpired closes every open attempt past its deadline.
func (r *PgAttemptRepository) FinishExpired(ctx context.Context, now time.Time) ([]int, error) {
	rows, err := r.pool.Query(ctx,
		`UPDATE attempts SET finished_at = $1
		 WHERE finished_at IS NULL AND ends_at <= $1
		 RETURNING id`, now)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []int
	for rows.Next() {
		var id int
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}
