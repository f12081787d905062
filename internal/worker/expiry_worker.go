package worker

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"github.com/stemsi/exstem-taker/internal/repository"
)

// ExpiryWorker closes attempts whose deadline has passed without a finish,
// so a taker who disappears is still graded on what was saved.
type ExpiryWorker struct {
	attempts repository.AttemptRepository
	interval time.Duration
	log      zerolog.Logger
	now      func() time.Time
}

// NewExpiryWorker creates a new ExpiryWorker sweeping every interval.
func NewExpiryWorker(attempts repository.AttemptRepository, interval time.Duration, log zerolog.Logger) *ExpiryWorker {
	return &ExpiryWorker{
		attempts: attempts,
		interval: interval,
		log:      log.With().Str("component", "expiry_worker").Logger(),
		now:      time.Now,
	}
}

// Start begins the sweep loop. Call in a goroutine.
func (w *ExpiryWorker) Start(ctx context.Context) {
	w.log.Info().Dur("interval", w.interval).Msg("Worker started")

	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			w.log.Info().Msg("Worker stopped")
			return
		case <-ticker.C:
			w.Sweep(ctx)
		}
	}
}

// Sweep closes every expired attempt once and returns how many it closed.
func (w *ExpiryWorker) Sweep(ctx context.Context) int {
	ids, err := w.attempts.FinishExpired(ctx, w.now())
	if err != nil {
		if ctx.Err() == nil {
			w.log.Error().Err(err).Msg("Finish expired attempts failed")
		}
		return 0
	}
	if len(ids) > 0 {
		w.log.Info().Ints("session_ids", ids).Msg("Expired attempts finished")
	}
	return len(ids)
}
