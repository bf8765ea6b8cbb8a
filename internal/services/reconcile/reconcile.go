// Package reconcile turns external payment evidence into settled ledger
// attempts and entitlements. Each channel has its own verifier; all of
// them funnel through the same settle-then-grant step so an entitlement
// can only ever appear behind a settled attempt.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	"github.com/rey45eyh45/daromatx/internal/infra/tonindex"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

var (
	ErrNotSettled     = errors.New("attempt is not settled")
	ErrUnknownPayload = errors.New("unknown invoice payload")
)

type Ledger interface {
	Open(ctx context.Context, buyerID, courseID int64, channel enums.PaymentChannel) (pgrepo.PaymentAttemptRecord, error)
	Settle(ctx context.Context, attemptID int64, externalRef string) (pgrepo.PaymentAttemptRecord, bool, error)
	Fail(ctx context.Context, attemptID int64, reason string) (pgrepo.PaymentAttemptRecord, error)
	Get(ctx context.Context, attemptID int64) (pgrepo.PaymentAttemptRecord, error)
}

type Granter interface {
	Grant(ctx context.Context, buyerID, courseID, viaAttemptID int64) (pgrepo.EntitlementRecord, bool, error)
	Has(ctx context.Context, buyerID, courseID int64) (bool, error)
}

type AttemptLocator interface {
	FindLatestPending(ctx context.Context, buyerID, courseID int64, channel string) (pgrepo.PaymentAttemptRecord, error)
	FindLatestSettled(ctx context.Context, buyerID, courseID int64, channel string) (pgrepo.PaymentAttemptRecord, error)
}

type ChainIndex interface {
	RecentTransfers(ctx context.Context, wallet string, limit int) ([]tonindex.Transfer, error)
}

type PollLimiter interface {
	IncrementWindow(ctx context.Context, attemptID int64, window time.Duration) (int64, time.Duration, error)
}

type OutcomeKind string

const (
	OutcomeSettled         OutcomeKind = "settled"
	OutcomeAlreadyEntitled OutcomeKind = "already_entitled"
	// OutcomeNotFoundYet means the evidence was not observed this round.
	// It is always retryable and never a proof of non-payment.
	OutcomeNotFoundYet OutcomeKind = "not_found_yet"
	OutcomeThrottled   OutcomeKind = "throttled"
)

type Outcome struct {
	Kind        OutcomeKind
	Attempt     pgrepo.PaymentAttemptRecord
	Entitlement pgrepo.EntitlementRecord

	// Set on NotFoundYet for the TON channel so the caller can re-render
	// payment instructions.
	ExpectedNanoton int64
	Wallet          string

	// Set on Throttled.
	RetryAfter time.Duration
}

// Coordinator is the single settle-then-grant path shared by every
// verifier.
type Coordinator struct {
	ledger  Ledger
	granter Granter
	logger  *zap.Logger
}

func NewCoordinator(ledger Ledger, granter Granter, logger *zap.Logger) *Coordinator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Coordinator{
		ledger:  ledger,
		granter: granter,
		logger:  logger,
	}
}

// Grant gives the attempt's buyer access to the attempt's course. The
// attempt must already be settled. Concurrent callers for the same pair
// collapse onto one entitlement row; the losers observe the winner's row.
func (c *Coordinator) Grant(ctx context.Context, attempt pgrepo.PaymentAttemptRecord) (pgrepo.EntitlementRecord, bool, error) {
	if attempt.Status != enums.PaymentSettled.String() {
		return pgrepo.EntitlementRecord{}, false, ErrNotSettled
	}

	record, created, err := c.granter.Grant(ctx, attempt.BuyerID, attempt.CourseID, attempt.ID)
	if err != nil {
		return pgrepo.EntitlementRecord{}, false, fmt.Errorf("grant for attempt %d: %w", attempt.ID, err)
	}

	return record, created, nil
}

// settleAndGrant is what every verifier calls once it holds evidence:
// settle the attempt with the provider reference, then grant. A repeated
// settlement signal settles nothing new but still converges on the same
// entitlement row.
func (c *Coordinator) settleAndGrant(ctx context.Context, attemptID int64, externalRef string) (Outcome, error) {
	settled, changed, err := c.ledger.Settle(ctx, attemptID, externalRef)
	if err != nil {
		return Outcome{}, err
	}

	entitlement, created, err := c.Grant(ctx, settled)
	if err != nil {
		return Outcome{}, err
	}

	c.logger.Info("payment reconciled",
		zap.Int64("attempt_id", settled.ID),
		zap.Int64("buyer_id", settled.BuyerID),
		zap.Int64("course_id", settled.CourseID),
		zap.String("channel", settled.Channel),
		zap.Bool("settled_now", changed),
		zap.Bool("granted_now", created),
	)

	return Outcome{
		Kind:        OutcomeSettled,
		Attempt:     settled,
		Entitlement: entitlement,
	}, nil
}

// recoverStranded closes the gap left by a grant that failed after its
// settlement landed. Settle and grant are separate writes, so a crash or a
// transient store error between them leaves a settled attempt without an
// entitlement; every verifier checks for that state first and re-drives
// the grant instead of hunting for fresh payment evidence.
func (c *Coordinator) recoverStranded(ctx context.Context, attempts AttemptLocator, buyerID, courseID int64, channel enums.PaymentChannel) (Outcome, bool, error) {
	attempt, err := attempts.FindLatestSettled(ctx, buyerID, courseID, channel.String())
	if err != nil {
		if errors.Is(err, pgrepo.ErrAttemptNotFound) {
			return Outcome{}, false, nil
		}
		return Outcome{}, false, fmt.Errorf("find settled attempt: %w", err)
	}

	entitlement, created, err := c.Grant(ctx, attempt)
	if err != nil {
		return Outcome{}, false, err
	}

	c.logger.Warn("re-granted settled attempt",
		zap.Int64("attempt_id", attempt.ID),
		zap.Int64("buyer_id", attempt.BuyerID),
		zap.Int64("course_id", attempt.CourseID),
		zap.String("channel", attempt.Channel),
		zap.Bool("granted_now", created),
	)

	return Outcome{
		Kind:        OutcomeSettled,
		Attempt:     attempt,
		Entitlement: entitlement,
	}, true, nil
}

// locatePending finds the buyer's newest pending attempt on a channel or
// opens a fresh one at the course's current price.
func locatePending(ctx context.Context, pending AttemptLocator, ledger Ledger, buyerID, courseID int64, channel enums.PaymentChannel) (pgrepo.PaymentAttemptRecord, error) {
	attempt, err := pending.FindLatestPending(ctx, buyerID, courseID, channel.String())
	if err == nil {
		return attempt, nil
	}
	if !errors.Is(err, pgrepo.ErrAttemptNotFound) {
		return pgrepo.PaymentAttemptRecord{}, err
	}
	return ledger.Open(ctx, buyerID, courseID, channel)
}
