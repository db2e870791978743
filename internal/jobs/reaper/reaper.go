package reaper

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"go.uber.org/zap"

	pgrepo "github.com/captain-yun7/private-lms-v1-sub000/internal/repo/postgres"
)

// Job cancels card payments that sat in pending past their TTL. A card
// checkout that never came back from the gateway holds no money and no
// review queue entry, so expiring it is safe; bank transfers wait for a
// human and are never touched.
type Job struct {
	payments staleCanceller
	tx       txRunner
	ttl      time.Duration
	batch    int
	now      func() time.Time
	logger   *zap.Logger
}

type staleCanceller interface {
	ListStaleCardPending(ctx context.Context, cutoff time.Time, limit int) ([]int64, error)
	CancelTx(ctx context.Context, tx pgx.Tx, orderID int64, reason string) (pgrepo.PaymentRecord, bool, error)
}

type txRunner interface {
	WithTx(ctx context.Context, fn func(context.Context, pgx.Tx) error) error
}

func New(payments staleCanceller, tx txRunner, ttl time.Duration, logger *zap.Logger) *Job {
	if ttl <= 0 {
		ttl = 30 * time.Minute
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		payments: payments,
		tx:       tx,
		ttl:      ttl,
		batch:    100,
		now:      time.Now,
		logger:   logger,
	}
}

func (j *Job) Run(ctx context.Context) error {
	if j.payments == nil || j.tx == nil {
		return nil
	}

	cutoff := j.now().UTC().Add(-j.ttl)
	orderIDs, err := j.payments.ListStaleCardPending(ctx, cutoff, j.batch)
	if err != nil {
		return fmt.Errorf("list stale card payments: %w", err)
	}
	if len(orderIDs) == 0 {
		return nil
	}

	canceled := 0
	for _, orderID := range orderIDs {
		err := j.tx.WithTx(ctx, func(ctx context.Context, tx pgx.Tx) error {
			_, changed, cancelErr := j.payments.CancelTx(ctx, tx, orderID, "capture not confirmed in time")
			if cancelErr != nil {
				return cancelErr
			}
			if changed {
				canceled++
			}
			return nil
		})
		if err != nil {
			// A payment that completed between list and cancel is fine;
			// everything else stops the sweep.
			j.logger.Warn("failed to cancel stale payment", zap.Int64("order_id", orderID), zap.Error(err))
		}
	}

	if canceled > 0 {
		j.logger.Info("stale card payments canceled", zap.Int("canceled", canceled))
	}
	return nil
}

// Start runs the sweep on the interval until the context ends.
func (j *Job) Start(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = 5 * time.Minute
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := j.Run(ctx); err != nil {
				j.logger.Warn("stale payment sweep failed", zap.Error(err))
			}
		}
	}
}
