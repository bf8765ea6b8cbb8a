package ledger

import (
	"context"
	"errors"
	"fmt"

	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

var (
	ErrValidation      = errors.New("validation error")
	ErrCourseNotFound  = errors.New("course not found")
	ErrAttemptNotFound = errors.New("payment attempt not found")
	ErrInvalidState    = errors.New("payment attempt is not in the required state")
)

type AttemptStore interface {
	CreatePending(ctx context.Context, buyerID, courseID, amount int64, currency, channel string) (pgrepo.PaymentAttemptRecord, error)
	FindByID(ctx context.Context, attemptID int64) (pgrepo.PaymentAttemptRecord, error)
	Settle(ctx context.Context, attemptID int64, externalRef string) (pgrepo.PaymentAttemptRecord, bool, error)
	Fail(ctx context.Context, attemptID int64, reason string) (pgrepo.PaymentAttemptRecord, error)
	MarkRefunded(ctx context.Context, attemptID int64) (pgrepo.PaymentAttemptRecord, error)
}

type CourseStore interface {
	FindByID(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error)
}

// PricePolicy decides which price field of a course a channel charges.
// The quote is computed once at Open time and frozen into the attempt;
// later course price edits never touch an existing attempt.
type PricePolicy interface {
	Quote(course pgrepo.CourseRecord, channel enums.PaymentChannel) (amount int64, currency string, err error)
}

type Service struct {
	attempts AttemptStore
	courses  CourseStore
	policy   PricePolicy
}

func NewService(attempts AttemptStore, courses CourseStore, policy PricePolicy) *Service {
	if policy == nil {
		policy = DefaultPricePolicy{}
	}
	return &Service{
		attempts: attempts,
		courses:  courses,
		policy:   policy,
	}
}

func (s *Service) Open(ctx context.Context, buyerID, courseID int64, channel enums.PaymentChannel) (pgrepo.PaymentAttemptRecord, error) {
	if buyerID <= 0 || courseID <= 0 {
		return pgrepo.PaymentAttemptRecord{}, ErrValidation
	}
	if s.attempts == nil || s.courses == nil {
		return pgrepo.PaymentAttemptRecord{}, fmt.Errorf("ledger dependencies are not configured")
	}

	course, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrCourseNotFound) {
			return pgrepo.PaymentAttemptRecord{}, ErrCourseNotFound
		}
		return pgrepo.PaymentAttemptRecord{}, err
	}
	if !course.IsActive {
		return pgrepo.PaymentAttemptRecord{}, ErrCourseNotFound
	}

	amount, currency, err := s.policy.Quote(course, channel)
	if err != nil {
		return pgrepo.PaymentAttemptRecord{}, err
	}

	record, err := s.attempts.CreatePending(ctx, buyerID, courseID, amount, currency, channel.String())
	if err != nil {
		return pgrepo.PaymentAttemptRecord{}, fmt.Errorf("open payment attempt: %w", err)
	}

	return record, nil
}

// Settle is idempotent: settling an already settled attempt returns the
// existing row with changed=false, regardless of the reference passed.
func (s *Service) Settle(ctx context.Context, attemptID int64, externalRef string) (pgrepo.PaymentAttemptRecord, bool, error) {
	if s.attempts == nil {
		return pgrepo.PaymentAttemptRecord{}, false, fmt.Errorf("attempt store is nil")
	}

	record, changed, err := s.attempts.Settle(ctx, attemptID, externalRef)
	if err != nil {
		return pgrepo.PaymentAttemptRecord{}, false, mapAttemptErr(err)
	}
	return record, changed, nil
}

func (s *Service) Fail(ctx context.Context, attemptID int64, reason string) (pgrepo.PaymentAttemptRecord, error) {
	if s.attempts == nil {
		return pgrepo.PaymentAttemptRecord{}, fmt.Errorf("attempt store is nil")
	}

	record, err := s.attempts.Fail(ctx, attemptID, reason)
	if err != nil {
		return pgrepo.PaymentAttemptRecord{}, mapAttemptErr(err)
	}
	return record, nil
}

func (s *Service) Refund(ctx context.Context, attemptID int64) (pgrepo.PaymentAttemptRecord, error) {
	if s.attempts == nil {
		return pgrepo.PaymentAttemptRecord{}, fmt.Errorf("attempt store is nil")
	}

	record, err := s.attempts.MarkRefunded(ctx, attemptID)
	if err != nil {
		return pgrepo.PaymentAttemptRecord{}, mapAttemptErr(err)
	}
	return record, nil
}

func (s *Service) Get(ctx context.Context, attemptID int64) (pgrepo.PaymentAttemptRecord, error) {
	if s.attempts == nil {
		return pgrepo.PaymentAttemptRecord{}, fmt.Errorf("attempt store is nil")
	}

	record, err := s.attempts.FindByID(ctx, attemptID)
	if err != nil {
		return pgrepo.PaymentAttemptRecord{}, mapAttemptErr(err)
	}
	return record, nil
}

func mapAttemptErr(err error) error {
	switch {
	case errors.Is(err, pgrepo.ErrAttemptNotFound):
		return ErrAttemptNotFound
	case errors.Is(err, pgrepo.ErrAttemptInvalidState):
		return ErrInvalidState
	default:
		return err
	}
}

// DefaultPricePolicy charges the stars price on the in-app currency rail
// and the fiat price everywhere else.
type DefaultPricePolicy struct{}

func (DefaultPricePolicy) Quote(course pgrepo.CourseRecord, channel enums.PaymentChannel) (int64, string, error) {
	switch channel {
	case enums.ChannelTelegramStars:
		if course.StarsPrice <= 0 {
			return 0, "", ErrValidation
		}
		return course.StarsPrice, channel.Currency(), nil
	case enums.ChannelClick, enums.ChannelPayme, enums.ChannelTON:
		if course.Price <= 0 {
			return 0, "", ErrValidation
		}
		return course.Price, channel.Currency(), nil
	default:
		return 0, "", ErrValidation
	}
}
