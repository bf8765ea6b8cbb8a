package postgres

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

var ErrLessonNotFound = errors.New("lesson not found")

const lessonColumns = `id, course_id, title, description, video_file_id, video_object_key, duration_sec, position, is_free`

type LessonRepo struct {
	pool *pgxpool.Pool
}

type LessonRecord struct {
	ID             int64
	CourseID       int64
	Title          string
	Description    *string
	VideoFileID    *string
	VideoObjectKey *string
	DurationSec    int
	Position       int
	IsFree         bool
}

func NewLessonRepo(pool *pgxpool.Pool) *LessonRepo {
	return &LessonRepo{pool: pool}
}

func (r *LessonRepo) Create(ctx context.Context, courseID int64, title string, isFree bool, videoFileID, videoObjectKey string) (LessonRecord, error) {
	if r.pool == nil {
		return LessonRecord{}, fmt.Errorf("postgres pool is nil")
	}
	title = strings.TrimSpace(title)
	if courseID <= 0 || title == "" {
		return LessonRecord{}, fmt.Errorf("invalid lesson create payload")
	}

	record, err := scanLesson(r.pool.QueryRow(ctx, `
INSERT INTO lessons (course_id, title, video_file_id, video_object_key, duration_sec, position, is_free)
VALUES ($1, $2, NULLIF($3, ''), NULLIF($4, ''), 0, 0, $5)
RETURNING `+lessonColumns+`
`, courseID, title, strings.TrimSpace(videoFileID), strings.TrimSpace(videoObjectKey), isFree))
	if err != nil {
		return LessonRecord{}, fmt.Errorf("create lesson: %w", err)
	}

	return record, nil
}

func (r *LessonRepo) FindByID(ctx context.Context, lessonID int64) (LessonRecord, error) {
	if r.pool == nil {
		return LessonRecord{}, fmt.Errorf("postgres pool is nil")
	}
	if lessonID <= 0 {
		return LessonRecord{}, fmt.Errorf("invalid lesson id")
	}

	record, err := scanLesson(r.pool.QueryRow(ctx, `
SELECT `+lessonColumns+`
FROM lessons
WHERE id = $1
LIMIT 1
`, lessonID))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return LessonRecord{}, ErrLessonNotFound
		}
		return LessonRecord{}, fmt.Errorf("find lesson by id: %w", err)
	}

	return record, nil
}

func (r *LessonRepo) ListByCourse(ctx context.Context, courseID int64) ([]LessonRecord, error) {
	if r.pool == nil {
		return nil, fmt.Errorf("postgres pool is nil")
	}
	if courseID <= 0 {
		return nil, fmt.Errorf("invalid course id")
	}

	rows, err := r.pool.Query(ctx, `
SELECT `+lessonColumns+`
FROM lessons
WHERE course_id = $1
ORDER BY position ASC, id ASC
`, courseID)
	if err != nil {
		return nil, fmt.Errorf("list lessons: %w", err)
	}
	defer rows.Close()

	var records []LessonRecord
	for rows.Next() {
		record, err := scanLesson(rows)
		if err != nil {
			return nil, fmt.Errorf("scan lesson: %w", err)
		}
		records = append(records, record)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate lessons: %w", err)
	}

	return records, nil
}

func scanLesson(row pgx.Row) (LessonRecord, error) {
	var record LessonRecord
	if err := row.Scan(
		&record.ID,
		&record.CourseID,
		&record.Title,
		&record.Description,
		&record.VideoFileID,
		&record.VideoObjectKey,
		&record.DurationSec,
		&record.Position,
		&record.IsFree,
	); err != nil {
		return LessonRecord{}, err
	}
	return record, nil
}
