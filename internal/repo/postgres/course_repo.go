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

var ErrCourseNotFound = errors.New("course not found")

const courseColumns = `id, title, description, price, stars_price, thumbnail_key, category, is_active, position, created_at`

type CourseRepo struct {
	pool *pgxpool.Pool
}

type CourseRecord struct {
	ID           int64
	Title        string
	Description  string
	Price        int64 // UZS, whole som
	StarsPrice   int64
	ThumbnailKey *string
	Category     string
	IsActive     bool
	Position     int
	CreatedAt    time.Time
}

func NewCourseRepo(pool *pgxpool.Pool) *CourseRepo {
	return &CourseRepo{pool: pool}
}

func (r *CourseRepo) Create(ctx context.Context, title, description string, price, starsPrice int64, category string) (CourseRecord, error) {
	if r.pool == nil {
		return CourseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	title = strings.TrimSpace(title)
	if title == "" || price <= 0 {
		return CourseRecord{}, fmt.Errorf("invalid course create payload")
	}
	if category == "" {
		category = "other"
	}

	record, err := scanCourse(r.pool.QueryRow(ctx, `
INSERT INTO courses (title, description, price, stars_price, category, is_active, position, created_at)
VALUES ($1, $2, $3, $4, $5, TRUE, 0, NOW())
RETURNING `+courseColumns+`
`, title, description, price, starsPrice, category))
	if err != nil {
		return CourseRecord{}, fmt.Errorf("create course: %w", err)
	}

	return record, nil
}

func (r *CourseRepo) FindByID(ctx context.Context, courseID int64) (CourseRecord, error) {
	if r.pool == nil {
		return CourseRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if courseID <= 0 {
		return CourseRecord{}, fmt.Errorf("invalid course id")
	}

	record, err := scanCourse(r.pool.QueryRow(ctx, `
SELECT `+courseColumns+`
FROM courses
WHERE id = $1
LIMIT 1
`, courseID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CourseRecord{}, ErrCourseNotFound
		}
		return CourseRecord{}, fmt.Errorf("find course by id: %w", err)
	}

	return record, nil
}

func (r *CourseRepo) ListActive(ctx context.Context) ([]CourseRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+courseColumns+`
FROM courses
WHERE is_active = TRUE
ORDER BY position ASC, created_at DESC
`)
	if err != nil {
		return nil, fmt.Errorf("list active courses: %w", err)
	}
	defer rows.Close()

	var records []CourseRecord
	for rows.Next() {
		record, err := scanCourse(rows)
		if err != nil {
			return nil, fmt.Errorf("scan course: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate courses: %w", err)
	}

	return records, nil
}

func (r *CourseRepo) SetActive(ctx context.Context, courseID int64, active bool) (CourseRecord, error) {
	if r.pool == nil {
		return CourseRecord{}, fmt.Errorf("postgres pool is nil")
	}

	record, err := scanCourse(r.pool.QueryRow(ctx, `
UPDATE courses
SET is_active = $2
WHERE id = $1
RETURNING `+courseColumns+`
`, courseID, active))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return CourseRecord{}, ErrCourseNotFound
		}
		return CourseRecord{}, fmt.Errorf("set course active: %w", err)
	}

	return record, nil
}

func scanCourse(row pgx.Row) (CourseRecord, error) {
	var record CourseRecord
	if err := row.Scan(
		&record.ID,
		&record.Title,
		&record.Description,
		&record.Price,
		&record.StarsPrice,
		&record.ThumbnailKey,
		&record.Category,
		&record.IsActive,
		&record.Position,
		&record.CreatedAt,
	); err != nil {
		return CourseRecord{}, err
	}
	return record, nil
}
