package users

import (
	"context"
	"errors"
	"fmt"

	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

var ErrValidation = errors.New("validation error")

type Store interface {
	Upsert(ctx context.Context, telegramID int64, username, fullName string) (pgrepo.UserRecord, error)
	FindByTelegramID(ctx context.Context, telegramID int64) (pgrepo.UserRecord, error)
}

type Service struct {
	store Store
}

func NewService(store Store) *Service {
	return &Service{store: store}
}

// Ensure provisions the buyer on first contact and refreshes the profile
// fields Telegram reported since.
func (s *Service) Ensure(ctx context.Context, telegramID int64, username, fullName string) (pgrepo.UserRecord, error) {
	if telegramID <= 0 {
		return pgrepo.UserRecord{}, ErrValidation
	}
	if s.store == nil {
		return pgrepo.UserRecord{}, fmt.Errorf("user store is nil")
	}

	record, err := s.store.Upsert(ctx, telegramID, username, fullName)
	if err != nil {
		return pgrepo.UserRecord{}, fmt.Errorf("ensure user: %w", err)
	}
	return record, nil
}

func (s *Service) Get(ctx context.Context, telegramID int64) (pgrepo.UserRecord, error) {
	if telegramID <= 0 {
		return pgrepo.UserRecord{}, ErrValidation
	}
	if s.store == nil {
		return pgrepo.UserRecord{}, fmt.Errorf("user store is nil")
	}
	return s.store.FindByTelegramID(ctx, telegramID)
}
