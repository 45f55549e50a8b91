package processor

import (
	"context"
	"time"

	"github.com/rs/zerolog/log"
	"github.com/suPer8Hu/omi-jarvis/internal/retry"
)

type Releaser interface {
	Release(ctx context.Context, ids []uint64, availableAt time.Time) error
}

// DBRequeuer puts failed batches back in the segments table with a future
// available_at.
type DBRequeuer struct {
	store       Releaser
	backoff     retry.Backoff
	maxAttempts int
	now         func() time.Time
}

func NewDBRequeuer(store Releaser, backoff retry.Backoff, maxAttempts int) *DBRequeuer {
	if maxAttempts <= 0 {
		maxAttempts = 3
	}
	return &DBRequeuer{store: store, backoff: backoff, maxAttempts: maxAttempts, now: time.Now}
}

func (r *DBRequeuer) Requeue(ctx context.Context, ids []uint64, attempts int) (bool, error) {
	if attempts+1 >= r.maxAttempts {
		return false, nil
	}
	delay := r.backoff.Delay(attempts)
	if err := r.store.Release(ctx, ids, r.now().Add(delay)); err != nil {
		return false, err
	}
	log.Info().Int("segments", len(ids)).Dur("delay", delay).Msg("batch released for retry")
	return true, nil
}

// Redeliver is a no-op; released rows become due on their own.
func (r *DBRequeuer) Redeliver(context.Context, time.Time) error { return nil }
