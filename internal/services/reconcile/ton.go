package reconcile

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/rey45eyh45/daromatx/internal/config"
	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

const nanotonPerTON = 1_000_000_000

// TONVerifier reconciles on-chain TON transfers against pending attempts.
// The chain indexer is the only evidence source and it is best-effort:
// every indexer failure maps to NotFoundYet, which the buyer can retry.
// A pending attempt is never failed because of an unreachable indexer.
type TONVerifier struct {
	coordinator *Coordinator
	attempts    AttemptLocator
	chain       ChainIndex
	limiter     PollLimiter
	cfg         config.TONConfig
	logger      *zap.Logger
	now         func() time.Time
}

func NewTONVerifier(coordinator *Coordinator, attempts AttemptLocator, chain ChainIndex, limiter PollLimiter, cfg config.TONConfig, logger *zap.Logger) *TONVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TONVerifier{
		coordinator: coordinator,
		attempts:    attempts,
		chain:       chain,
		limiter:     limiter,
		cfg:         cfg,
		logger:      logger,
		now:         time.Now,
	}
}

// ExpectedNanoton converts a fiat price frozen into an attempt to the
// transfer value the buyer was asked to send.
func ExpectedNanoton(fiatAmount, fiatPerTON int64) int64 {
	if fiatAmount <= 0 || fiatPerTON <= 0 {
		return 0
	}
	return fiatAmount * nanotonPerTON / fiatPerTON
}

// MatchesComment reports whether a transfer comment claims the course.
// Buyers paste the comment by hand from wallets that trim or decorate it,
// so the match is a case-insensitive substring test. The course id must
// end on a non-digit boundary: `course_4` may not claim a transfer
// commented `course_42`. The buyer-suffix form `course_<id>_<buyer>`
// satisfies the same test because the underscore closes the id.
func MatchesComment(comment string, courseID, buyerID int64) bool {
	lowered := strings.ToLower(comment)
	return containsToken(lowered, fmt.Sprintf("course_%d_%d", courseID, buyerID)) ||
		containsToken(lowered, fmt.Sprintf("course_%d", courseID))
}

// containsToken is a substring search that refuses a match when the token
// is followed by another digit, so a shorter id never claims a longer one.
func containsToken(lowered, token string) bool {
	for from := 0; from+len(token) <= len(lowered); {
		idx := strings.Index(lowered[from:], token)
		if idx < 0 {
			return false
		}
		end := from + idx + len(token)
		if end == len(lowered) || lowered[end] < '0' || lowered[end] > '9' {
			return true
		}
		from += idx + 1
	}
	return false
}

// Verify runs one reconciliation round for the buyer's TON purchase of a
// course. It locates (or opens) the pending attempt, pulls the wallet's
// recent transfers, and scans them newest first; the first transfer that
// is incoming, inside the match window, at or above the tolerance floor
// and carrying a claiming comment settles the attempt and grants access.
func (v *TONVerifier) Verify(ctx context.Context, buyerID, courseID int64) (Outcome, error) {
	entitled, err := v.coordinator.granter.Has(ctx, buyerID, courseID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check entitlement: %w", err)
	}
	if entitled {
		return Outcome{Kind: OutcomeAlreadyEntitled}, nil
	}

	if outcome, recovered, err := v.coordinator.recoverStranded(ctx, v.attempts, buyerID, courseID, enums.ChannelTON); err != nil {
		return Outcome{}, err
	} else if recovered {
		return outcome, nil
	}

	attempt, err := locatePending(ctx, v.attempts, v.coordinator.ledger, buyerID, courseID, enums.ChannelTON)
	if err != nil {
		return Outcome{}, fmt.Errorf("locate ton attempt: %w", err)
	}

	expected := ExpectedNanoton(attempt.Amount, v.cfg.FiatPerTON)
	if expected <= 0 {
		return Outcome{}, fmt.Errorf("attempt %d has no derivable ton amount", attempt.ID)
	}

	if outcome, throttled := v.throttled(ctx, attempt); throttled {
		return outcome, nil
	}

	reqCtx, cancel := context.WithTimeout(ctx, v.requestTimeout())
	defer cancel()

	transfers, err := v.chain.RecentTransfers(reqCtx, v.cfg.Wallet, v.cfg.ScanLimit)
	if err != nil {
		// Indexer trouble is not proof of non-payment.
		v.logger.Warn("chain indexer unavailable, treating as not found yet",
			zap.Int64("attempt_id", attempt.ID),
			zap.Error(err),
		)
		return v.notFoundYet(attempt, expected), nil
	}

	cutoff := v.now().Add(-v.matchWindow())
	floor := expected * int64(v.cfg.TolerancePct) / 100

	for _, transfer := range transfers {
		if !transfer.Incoming {
			continue
		}
		if transfer.At.Before(cutoff) {
			continue
		}
		if transfer.Value < floor {
			continue
		}
		if !MatchesComment(transfer.Comment, courseID, buyerID) {
			continue
		}

		outcome, err := v.coordinator.settleAndGrant(ctx, attempt.ID, transfer.Hash)
		if err != nil {
			if errors.Is(err, pgrepo.ErrExternalRefConflict) {
				// This tx hash already settled another attempt; it
				// cannot pay for two purchases, keep scanning.
				v.logger.Warn("transfer already claimed by another attempt",
					zap.Int64("attempt_id", attempt.ID),
					zap.String("tx_hash", transfer.Hash),
				)
				continue
			}
			return Outcome{}, fmt.Errorf("settle ton attempt %d: %w", attempt.ID, err)
		}
		return outcome, nil
	}

	return v.notFoundYet(attempt, expected), nil
}

// throttled enforces the per-attempt poll allowance. A broken limiter never
// blocks verification; it only stops saving indexer round-trips.
func (v *TONVerifier) throttled(ctx context.Context, attempt pgrepo.PaymentAttemptRecord) (Outcome, bool) {
	if v.limiter == nil || v.cfg.PollMaxPerMin <= 0 {
		return Outcome{}, false
	}

	count, ttl, err := v.limiter.IncrementWindow(ctx, attempt.ID, time.Minute)
	if err != nil {
		v.logger.Warn("poll limiter unavailable", zap.Int64("attempt_id", attempt.ID), zap.Error(err))
		return Outcome{}, false
	}
	if count <= int64(v.cfg.PollMaxPerMin) {
		return Outcome{}, false
	}

	return Outcome{
		Kind:       OutcomeThrottled,
		Attempt:    attempt,
		RetryAfter: ttl,
	}, true
}

func (v *TONVerifier) notFoundYet(attempt pgrepo.PaymentAttemptRecord, expected int64) Outcome {
	return Outcome{
		Kind:            OutcomeNotFoundYet,
		Attempt:         attempt,
		ExpectedNanoton: expected,
		Wallet:          v.cfg.Wallet,
	}
}

func (v *TONVerifier) requestTimeout() time.Duration {
	if v.cfg.RequestTimeout > 0 {
		return v.cfg.RequestTimeout
	}
	return 30 * time.Second
}

func (v *TONVerifier) matchWindow() time.Duration {
	if v.cfg.MatchWindow > 0 {
		return v.cfg.MatchWindow
	}
	return 24 * time.Hour
}
