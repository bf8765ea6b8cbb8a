package entitlements

import (
	"context"
	"errors"
	"fmt"

	"go.uber.org/zap"

	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

var ErrValidation = errors.New("validation error")

type Store interface {
	GrantOnce(ctx context.Context, buyerID, courseID, viaAttemptID int64) (pgrepo.EntitlementRecord, bool, error)
	Has(ctx context.Context, buyerID, courseID int64) (bool, error)
	ListByBuyer(ctx context.Context, buyerID int64) ([]pgrepo.EntitlementRecord, error)
}

// GrantListener is notified after a grant actually creates a new row.
// Duplicate grants never fire it. Listener failures are logged and
// swallowed: the entitlement row is already durable at that point.
type GrantListener func(ctx context.Context, record pgrepo.EntitlementRecord)

type Service struct {
	store     Store
	listeners []GrantListener
	logger    *zap.Logger
}

func NewService(store Store, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		store:  store,
		logger: logger,
	}
}

func (s *Service) OnGranted(listener GrantListener) {
	if listener != nil {
		s.listeners = append(s.listeners, listener)
	}
}

// Grant records buyer access to a course. At most one entitlement per
// (buyer, course) pair ever exists; repeats return the original row with
// created=false and the original granted_via attempt untouched.
func (s *Service) Grant(ctx context.Context, buyerID, courseID, viaAttemptID int64) (pgrepo.EntitlementRecord, bool, error) {
	if buyerID <= 0 || courseID <= 0 {
		return pgrepo.EntitlementRecord{}, false, ErrValidation
	}
	if s.store == nil {
		return pgrepo.EntitlementRecord{}, false, fmt.Errorf("entitlement store is nil")
	}

	record, created, err := s.store.GrantOnce(ctx, buyerID, courseID, viaAttemptID)
	if err != nil {
		return pgrepo.EntitlementRecord{}, false, fmt.Errorf("grant entitlement: %w", err)
	}

	if created {
		s.logger.Info("entitlement granted",
			zap.Int64("buyer_id", record.BuyerID),
			zap.Int64("course_id", record.CourseID),
			zap.Int64("granted_via", record.GrantedVia),
		)
		for _, listener := range s.listeners {
			listener(ctx, record)
		}
	}

	return record, created, nil
}

func (s *Service) Has(ctx context.Context, buyerID, courseID int64) (bool, error) {
	if buyerID <= 0 || courseID <= 0 {
		return false, ErrValidation
	}
	if s.store == nil {
		return false, fmt.Errorf("entitlement store is nil")
	}
	return s.store.Has(ctx, buyerID, courseID)
}

func (s *Service) ListByBuyer(ctx context.Context, buyerID int64) ([]pgrepo.EntitlementRecord, error) {
	if buyerID <= 0 {
		return nil, ErrValidation
	}
	if s.store == nil {
		return nil, fmt.Errorf("entitlement store is nil")
	}
	return s.store.ListByBuyer(ctx, buyerID)
}
