package reconcile

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/rey45eyh45/daromatx/internal/domain/enums"
)

// CoursePayload is the invoice payload attached to a Stars invoice for a
// course. Telegram echoes it back on pre-checkout and on the successful
// payment update, which is how the payment maps back to a course.
func CoursePayload(courseID int64) string {
	return fmt.Sprintf("course_%d", courseID)
}

func ParseCoursePayload(payload string) (int64, bool) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(payload), "course_")
	if !ok {
		return 0, false
	}
	courseID, err := strconv.ParseInt(rest, 10, 64)
	if err != nil || courseID <= 0 {
		return 0, false
	}
	return courseID, true
}

// StarsVerifier settles Telegram Stars payments. Stars money moves inside
// Telegram itself, so the successful-payment update is the settlement
// evidence; there is nothing external to poll.
type StarsVerifier struct {
	coordinator *Coordinator
	attempts    AttemptLocator
	logger      *zap.Logger
}

func NewStarsVerifier(coordinator *Coordinator, attempts AttemptLocator, logger *zap.Logger) *StarsVerifier {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &StarsVerifier{
		coordinator: coordinator,
		attempts:    attempts,
		logger:      logger,
	}
}

// ApprovePreCheckout answers Telegram's pre-checkout query. The charge is
// only authorized here, not captured, so unknown payloads are declined
// while anything that maps to a course goes through.
func (v *StarsVerifier) ApprovePreCheckout(payload string) (bool, string) {
	if _, ok := ParseCoursePayload(payload); !ok {
		v.logger.Warn("declining pre-checkout with unknown payload", zap.String("payload", payload))
		return false, "unknown invoice payload"
	}
	return true, ""
}

// Settle handles the successful-payment update: the payload maps back to
// the course, the buyer's pending attempt is settled with the Telegram
// charge id, and the entitlement is granted. A buyer who paid without a
// prior attempt row (invoice sent from a stale chat, for example) gets
// one opened on the spot.
func (v *StarsVerifier) Settle(ctx context.Context, buyerID int64, payload, chargeID string) (Outcome, error) {
	courseID, ok := ParseCoursePayload(payload)
	if !ok {
		return Outcome{}, ErrUnknownPayload
	}

	// Telegram redelivers updates after restarts. Once the buyer is
	// entitled there is nothing left to settle, and retrying would trip
	// over the already-claimed charge id.
	entitled, err := v.coordinator.granter.Has(ctx, buyerID, courseID)
	if err != nil {
		return Outcome{}, fmt.Errorf("check entitlement: %w", err)
	}
	if entitled {
		return Outcome{Kind: OutcomeAlreadyEntitled}, nil
	}

	if outcome, recovered, err := v.coordinator.recoverStranded(ctx, v.attempts, buyerID, courseID, enums.ChannelTelegramStars); err != nil {
		return Outcome{}, err
	} else if recovered {
		return outcome, nil
	}

	attempt, err := locatePending(ctx, v.attempts, v.coordinator.ledger, buyerID, courseID, enums.ChannelTelegramStars)
	if err != nil {
		return Outcome{}, fmt.Errorf("locate stars attempt: %w", err)
	}

	return v.coordinator.settleAndGrant(ctx, attempt.ID, chargeID)
}
