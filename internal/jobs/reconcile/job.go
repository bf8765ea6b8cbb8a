// Package reconcile re-drives TON payment attempts that buyers opened but
// never explicitly verified. A transfer can land on chain while the buyer
// has already closed the chat, so the job polls the ledger's pending tail
// and runs the same verification path the "I paid" button uses.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
	reconcilesvc "github.com/rey45eyh45/daromatx/internal/services/reconcile"
)

const (
	defaultMinAge = time.Minute
	defaultWindow = 24 * time.Hour
	defaultBatch  = 50
)

type PendingSource interface {
	ListPendingByChannel(ctx context.Context, channel string, createdBefore time.Time, limit int) ([]pgrepo.PaymentAttemptRecord, error)
}

type Verifier interface {
	Verify(ctx context.Context, buyerID, courseID int64) (reconcilesvc.Outcome, error)
}

type Expirer interface {
	Fail(ctx context.Context, attemptID int64, reason string) (pgrepo.PaymentAttemptRecord, error)
}

type Job struct {
	attempts PendingSource
	verifier Verifier
	ledger   Expirer
	minAge   time.Duration
	window   time.Duration
	batch    int
	now      func() time.Time
	logger   *zap.Logger
}

func NewTONReconcileJob(attempts PendingSource, verifier Verifier, ledger Expirer, window time.Duration, logger *zap.Logger) *Job {
	if window <= 0 {
		window = defaultWindow
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &Job{
		attempts: attempts,
		verifier: verifier,
		ledger:   ledger,
		minAge:   defaultMinAge,
		window:   window,
		batch:    defaultBatch,
		now:      time.Now,
		logger:   logger,
	}
}

// Run makes one pass over the pending TON tail. Attempts younger than a
// minute are left to the buyer's own polling, attempts older than the
// match window are closed as failed, everything in between gets one
// verification round. Per-attempt errors are logged and skipped so one
// broken row never stalls the tail behind it.
func (j *Job) Run(ctx context.Context) error {
	if j.attempts == nil || j.verifier == nil || j.ledger == nil {
		return nil
	}

	now := j.now()
	pending, err := j.attempts.ListPendingByChannel(ctx, enums.ChannelTON.String(), now.Add(-j.minAge), j.batch)
	if err != nil {
		return fmt.Errorf("list pending ton attempts: %w", err)
	}

	expiryCutoff := now.Add(-j.window)
	var settled, expired int
	for _, attempt := range pending {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		if attempt.CreatedAt.Before(expiryCutoff) {
			if _, err := j.ledger.Fail(ctx, attempt.ID, "verification window expired"); err != nil {
				j.logger.Warn("expire stale ton attempt",
					zap.Error(err),
					zap.Int64("attempt_id", attempt.ID))
				continue
			}
			expired++
			continue
		}

		outcome, err := j.verifier.Verify(ctx, attempt.BuyerID, attempt.CourseID)
		if err != nil {
			j.logger.Warn("reverify ton attempt",
				zap.Error(err),
				zap.Int64("attempt_id", attempt.ID))
			continue
		}
		if outcome.Kind == reconcilesvc.OutcomeSettled {
			settled++
		}
	}

	if settled > 0 || expired > 0 {
		j.logger.Info("ton reconcile pass completed",
			zap.Int("checked", len(pending)),
			zap.Int("settled", settled),
			zap.Int("expired", expired))
	}
	return nil
}
