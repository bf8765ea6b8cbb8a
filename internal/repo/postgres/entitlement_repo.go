package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrEntitlementNotFound = errors.New("entitlement not found")

type EntitlementRepo struct {
	pool *pgxpool.Pool
}

type EntitlementRecord struct {
	ID         int64
	BuyerID    int64
	CourseID   int64
	GrantedVia int64
	GrantedAt  time.Time
}

func NewEntitlementRepo(pool *pgxpool.Pool) *EntitlementRepo {
	return &EntitlementRepo{pool: pool}
}

// GrantOnce inserts the (buyer, course) grant if absent and returns the
// surviving row. The unique constraint on (buyer_id, course_id) is what
// makes concurrent duplicate grants collapse into one row: the losing
// insert hits DO NOTHING and the follow-up select observes the winner.
func (r *EntitlementRepo) GrantOnce(ctx context.Context, buyerID, courseID, viaAttemptID int64) (EntitlementRecord, bool, error) {
	if r.pool == nil {
		return EntitlementRecord{}, false, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 || courseID <= 0 {
		return EntitlementRecord{}, false, fmt.Errorf("invalid grant payload")
	}

	record, err := scanEntitlement(r.pool.QueryRow(ctx, `
INSERT INTO entitlements (buyer_id, course_id, granted_via, granted_at)
VALUES ($1, $2, $3, NOW())
ON CONFLICT (buyer_id, course_id) DO NOTHING
RETURNING id, buyer_id, course_id, granted_via, granted_at
`, buyerID, courseID, viaAttemptID))
	if err == nil {
		return record, true, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return EntitlementRecord{}, false, fmt.Errorf("grant entitlement: %w", err)
	}

	existing, err := r.Find(ctx, buyerID, courseID)
	if err != nil {
		return EntitlementRecord{}, false, err
	}
	return existing, false, nil
}

func (r *EntitlementRepo) Find(ctx context.Context, buyerID, courseID int64) (EntitlementRecord, error) {
	if r.pool == nil {
		return EntitlementRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 || courseID <= 0 {
		return EntitlementRecord{}, fmt.Errorf("invalid entitlement lookup payload")
	}

	record, err := scanEntitlement(r.pool.QueryRow(ctx, `
SELECT id, buyer_id, course_id, granted_via, granted_at
FROM entitlements
WHERE buyer_id = $1
  AND course_id = $2
LIMIT 1
`, buyerID, courseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return EntitlementRecord{}, ErrEntitlementNotFound
		}
		return EntitlementRecord{}, fmt.Errorf("find entitlement: %w", err)
	}

	return record, nil
}

func (r *EntitlementRepo) Has(ctx context.Context, buyerID, courseID int64) (bool, error) {
	_, err := r.Find(ctx, buyerID, courseID)
	if err != nil {
		if errors.Is(err, ErrEntitlementNotFound) {
			return false, nil
		}
		return false, err
	}
	return true, nil
}

func (r *EntitlementRepo) ListByBuyer(ctx context.Context, buyerID int64) ([]EntitlementRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if buyerID <= 0 {
		return nil, fmt.Errorf("invalid buyer id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT id, buyer_id, course_id, granted_via, granted_at
FROM entitlements
WHERE buyer_id = $1
ORDER BY granted_at DESC
`, buyerID)
	if err != nil {
		return nil, fmt.Errorf("list entitlements: %w", err)
	}
	defer rows.Close()

	var records []EntitlementRecord
	for rows.Next() {
		record, err := scanEntitlement(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entitlement: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entitlements: %w", err)
	}

	return records, nil
}

func scanEntitlement(row pgx.Row) (EntitlementRecord, error) {
	var record EntitlementRecord
	if err := row.Scan(
		&record.ID,
		&record.BuyerID,
		&record.CourseID,
		&record.GrantedVia,
		&record.GrantedAt,
	); err != nil {
		return EntitlementRecord{}, err
	}
	return record, nil
}
