package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepo struct {
	pool *pgxpool.Pool
}

type UserRecord struct {
	ID         int64
	TelegramID int64
	Username   *string
	FullName   string
	Balance    int64
	IsActive   bool
	CreatedAt  time.Time
}

func NewUserRepo(pool *pgxpool.Pool) *UserRepo {
	return &UserRepo{pool: pool}
}

// Upsert provisions the user on first contact and refreshes the profile
// fields Telegram reported on later contacts.
func (r *UserRepo) Upsert(ctx context.Context, telegramID int64, username, fullName string) (UserRecord, error) {
	if r.pool == nil {
		return UserRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if telegramID <= 0 {
		return UserRecord{}, fmt.Errorf("invalid telegram id")
	}
	fullName = strings.TrimSpace(fullName)
	if fullName == "" {
		fullName = "user"
	}

	record, err := scanUser(r.pool.QueryRow(ctx, `
INSERT INTO users (telegram_id, username, full_name, balance, is_active, created_at)
VALUES ($1, NULLIF($2, ''), $3, 0, TRUE, NOW())
ON CONFLICT (telegram_id) DO UPDATE
SET username = COALESCE(NULLIF(EXCLUDED.username, ''), users.username),
	full_name = EXCLUDED.full_name
RETURNING id, telegram_id, username, full_name, balance, is_active, created_at
`, telegramID, strings.TrimSpace(username), fullName))
	if err != nil {
		return UserRecord{}, fmt.Errorf("upsert user: %w", err)
	}

	return record, nil
}

func (r *UserRepo) FindByTelegramID(ctx context.Context, telegramID int64) (UserRecord, error) {
	if r.pool == nil {
		return UserRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if telegramID <= 0 {
		return UserRecord{}, fmt.Errorf("invalid telegram id")
	}

	record, err := scanUser(r.pool.QueryRow(ctx, `
SELECT id, telegram_id, username, full_name, balance, is_active, created_at
FROM users
WHERE telegram_id = $1
LIMIT 1
`, telegramID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return UserRecord{}, ErrUserNotFound
		}
		return UserRecord{}, fmt.Errorf("find user by telegram id: %w", err)
	}

	return record, nil
}

func scanUser(row pgx.Row) (UserRecord, error) {
	var record UserRecord
	if err := row.Scan(
		&record.ID,
		&record.TelegramID,
		&record.Username,
		&record.FullName,
		&record.Balance,
		&record.IsActive,
		&record.CreatedAt,
	); err != nil {
		return UserRecord{}, err
	}
	return record, nil
}
