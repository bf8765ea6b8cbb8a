package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

var (
	ErrAttemptNotFound     = errors.New("payment attempt not found")
	ErrAttemptInvalidState = errors.New("payment attempt is not in the required state")
	ErrExternalRefConflict = errors.New("external reference already attached to another attempt")
)

const attemptColumns = `id, buyer_id, course_id, amount, currency, channel, status, external_reference, failure_reason, idempotency_key, created_at, settled_at`

type PaymentAttemptRepo struct {
	pool *pgxpool.Pool
}

type PaymentAttemptRecord struct {
	ID             int64
	BuyerID        int64
	CourseID       int64
	Amount         int64
	Currency       string
	Channel        string
	Status         string
	ExternalRef    *string
	FailureReason  *string
	IdempotencyKey string
	CreatedAt      time.Time
	SettledAt      *time.Time
}

func NewPaymentAttemptRepo(pool *pgxpool.Pool) *PaymentAttemptRepo {
	return &PaymentAttemptRepo{pool: pool}
}

func (r *PaymentAttemptRepo) CreatePending(ctx context.Context, buyerID, courseID, amount int64, currency, channel string) (PaymentAttemptRecord, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 || courseID <= 0 || amount <= 0 {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid attempt create payload")
	}
	currency = strings.ToUpper(strings.TrimSpace(currency))
	channel = strings.ToLower(strings.TrimSpace(channel))
	if currency == "" || channel == "" {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid attempt create payload")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
INSERT INTO payment_attempts (
	buyer_id,
	course_id,
	amount,
	currency,
	channel,
	status,
	idempotency_key,
	created_at
) VALUES ($1, $2, $3, $4, $5, 'pending', $6, NOW())
RETURNING `+attemptColumns+`
`, buyerID, courseID, amount, currency, channel, uuid.NewString()))
	if err != nil {
		return PaymentAttemptRecord{}, fmt.Errorf("create pending attempt: %w", err)
	}

	return record, nil
}

func (r *PaymentAttemptRepo) FindByID(ctx context.Context, attemptID int64) (PaymentAttemptRecord, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if attemptID <= 0 {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid attempt id")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
SELECT `+attemptColumns+`
FROM payment_attempts
WHERE id = $1
LIMIT 1
`, attemptID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentAttemptRecord{}, ErrAttemptNotFound
		}
		return PaymentAttemptRecord{}, fmt.Errorf("find attempt by id: %w", err)
	}

	return record, nil
}

func (r *PaymentAttemptRepo) FindByExternalRef(ctx context.Context, channel, externalRef string) (PaymentAttemptRecord, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	channel = strings.ToLower(strings.TrimSpace(channel))
	externalRef = strings.TrimSpace(externalRef)
	if channel == "" || externalRef == "" {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid external ref payload")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
SELECT `+attemptColumns+`
FROM payment_attempts
WHERE channel = $1
  AND external_reference = $2
LIMIT 1
`, channel, externalRef))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentAttemptRecord{}, ErrAttemptNotFound
		}
		return PaymentAttemptRecord{}, fmt.Errorf("find attempt by external ref: %w", err)
	}

	return record, nil
}

func (r *PaymentAttemptRepo) FindLatestPending(ctx context.Context, buyerID, courseID int64, channel string) (PaymentAttemptRecord, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 || courseID <= 0 {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid pending lookup payload")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
SELECT `+attemptColumns+`
FROM payment_attempts
WHERE buyer_id = $1
  AND course_id = $2
  AND channel = $3
  AND status = 'pending'
ORDER BY created_at DESC
LIMIT 1
`, buyerID, courseID, strings.ToLower(strings.TrimSpace(channel))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentAttemptRecord{}, ErrAttemptNotFound
		}
		return PaymentAttemptRecord{}, fmt.Errorf("find latest pending attempt: %w", err)
	}

	return record, nil
}

// FindLatestSettled returns the buyer's newest settled attempt for the
// course on a channel. Reconciliation uses it to spot attempts whose
// settlement landed but whose grant did not.
func (r *PaymentAttemptRepo) FindLatestSettled(ctx context.Context, buyerID, courseID int64, channel string) (PaymentAttemptRecord, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 || courseID <= 0 {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid settled lookup payload")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
SELECT `+attemptColumns+`
FROM payment_attempts
WHERE buyer_id = $1
  AND course_id = $2
  AND channel = $3
  AND status = 'settled'
ORDER BY settled_at DESC
LIMIT 1
`, buyerID, courseID, strings.ToLower(strings.TrimSpace(channel))))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return PaymentAttemptRecord{}, ErrAttemptNotFound
		}
		return PaymentAttemptRecord{}, fmt.Errorf("find latest settled attempt: %w", err)
	}

	return record, nil
}

// Settle moves a pending attempt to settled and stamps settled_at plus the
// provider's transaction reference. An already settled attempt is returned
// unchanged with changed=false so repeated settlement signals stay no-ops.
func (r *PaymentAttemptRepo) Settle(ctx context.Context, attemptID int64, externalRef string) (PaymentAttemptRecord, bool, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if attemptID <= 0 {
		return PaymentAttemptRecord{}, false, fmt.Errorf("invalid attempt id")
	}
	externalRef = strings.TrimSpace(externalRef)

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
UPDATE payment_attempts
SET
	status = 'settled',
	external_reference = NULLIF($2, ''),
	settled_at = NOW()
WHERE id = $1
  AND status = 'pending'
RETURNING `+attemptColumns+`
`, attemptID, externalRef))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return PaymentAttemptRecord{}, false, ErrExternalRefConflict
		}
		return PaymentAttemptRecord{}, false, fmt.Errorf("settle attempt: %w", err)
	}

	existing, err := r.FindByID(ctx, attemptID)
	if err != nil {
		return PaymentAttemptRecord{}, false, err
	}
	if existing.Status == "settled" {
		return existing, false, nil
	}
	return PaymentAttemptRecord{}, false, ErrAttemptInvalidState
}

// Fail moves a pending attempt to failed. Repeated failure signals are
// no-ops; failing a settled attempt is an invalid state transition.
func (r *PaymentAttemptRepo) Fail(ctx context.Context, attemptID int64, reason string) (PaymentAttemptRecord, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if attemptID <= 0 {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid attempt id")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
UPDATE payment_attempts
SET
	status = 'failed',
	failure_reason = NULLIF($2, '')
WHERE id = $1
  AND status = 'pending'
RETURNING `+attemptColumns+`
`, attemptID, strings.TrimSpace(reason)))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PaymentAttemptRecord{}, fmt.Errorf("fail attempt: %w", err)
	}

	existing, err := r.FindByID(ctx, attemptID)
	if err != nil {
		return PaymentAttemptRecord{}, err
	}
	if existing.Status == "failed" {
		return existing, nil
	}
	return PaymentAttemptRecord{}, ErrAttemptInvalidState
}

// MarkRefunded flags a settled attempt as refunded. Administrative only;
// the money movement itself happens outside this service.
func (r *PaymentAttemptRepo) MarkRefunded(ctx context.Context, attemptID int64) (PaymentAttemptRecord, error) {
	if r.pool == nil {
		return PaymentAttemptRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if attemptID <= 0 {
		return PaymentAttemptRecord{}, fmt.Errorf("invalid attempt id")
	}

	record, err := scanAttempt(r.pool.QueryRow(ctx, `
UPDATE payment_attempts
SET status = 'refunded'
WHERE id = $1
  AND status = 'settled'
RETURNING `+attemptColumns+`
`, attemptID))
	if err == nil {
		return record, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return PaymentAttemptRecord{}, fmt.Errorf("mark attempt refunded: %w", err)
	}

	existing, err := r.FindByID(ctx, attemptID)
	if err != nil {
		return PaymentAttemptRecord{}, err
	}
	if existing.Status == "refunded" {
		return existing, nil
	}
	return PaymentAttemptRecord{}, ErrAttemptInvalidState
}

func (r *PaymentAttemptRepo) ListPendingByChannel(ctx context.Context, channel string, createdBefore time.Time, limit int) ([]PaymentAttemptRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if limit <= 0 {
		limit = 100
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+attemptColumns+`
FROM payment_attempts
WHERE channel = $1
  AND status = 'pending'
  AND created_at < $2
ORDER BY created_at ASC
LIMIT $3
`, strings.ToLower(strings.TrimSpace(channel)), createdBefore.UTC(), limit)
	if err != nil {
		return nil, fmt.Errorf("list pending attempts: %w", err)
	}
	defer rows.Close()

	var records []PaymentAttemptRecord
	for rows.Next() {
		record, err := scanAttempt(rows)
		if err != nil {
			return nil, fmt.Errorf("scan pending attempt: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate pending attempts: %w", err)
	}

	return records, nil
}

func scanAttempt(row pgx.Row) (PaymentAttemptRecord, error) {
	var record PaymentAttemptRecord
	if err := row.Scan(
		&record.ID,
		&record.BuyerID,
		&record.CourseID,
		&record.Amount,
		&record.Currency,
		&record.Channel,
		&record.Status,
		&record.ExternalRef,
		&record.FailureReason,
		&record.IdempotencyKey,
		&record.CreatedAt,
		&record.SettledAt,
	); err != nil {
		return PaymentAttemptRecord{}, err
	}
	return record, nil
}
