package catalog

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

var (
	ErrValidation     = errors.New("validation error")
	ErrCourseNotFound = errors.New("course not found")
	ErrLessonNotFound = errors.New("lesson not found")
)

const cacheTTL = time.Minute

type CourseStore interface {
	Create(ctx context.Context, title, description string, price, starsPrice int64, category string) (pgrepo.CourseRecord, error)
	FindByID(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error)
	ListActive(ctx context.Context) ([]pgrepo.CourseRecord, error)
	SetActive(ctx context.Context, courseID int64, active bool) (pgrepo.CourseRecord, error)
}

type LessonStore interface {
	Create(ctx context.Context, courseID int64, title string, isFree bool, videoFileID, videoObjectKey string) (pgrepo.LessonRecord, error)
	FindByID(ctx context.Context, lessonID int64) (pgrepo.LessonRecord, error)
	ListByCourse(ctx context.Context, courseID int64) ([]pgrepo.LessonRecord, error)
}

// Cache is the redis-backed course-list cache. All of its failures are
// soft: postgres remains the source of truth.
type Cache interface {
	Get(ctx context.Context, target any) (bool, error)
	Set(ctx context.Context, value any, ttl time.Duration) error
	Invalidate(ctx context.Context) error
}

type Service struct {
	courses CourseStore
	lessons LessonStore
	cache   Cache
	logger  *zap.Logger
}

func NewService(courses CourseStore, lessons LessonStore, cache Cache, logger *zap.Logger) *Service {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		courses: courses,
		lessons: lessons,
		cache:   cache,
		logger:  logger,
	}
}

// ListActive returns the storefront course list, cache first.
func (s *Service) ListActive(ctx context.Context) ([]pgrepo.CourseRecord, error) {
	if s.cache != nil {
		var cached []pgrepo.CourseRecord
		hit, err := s.cache.Get(ctx, &cached)
		if err != nil {
			s.logger.Warn("catalog cache read failed", zap.Error(err))
		} else if hit {
			return cached, nil
		}
	}

	records, err := s.courses.ListActive(ctx)
	if err != nil {
		return nil, fmt.Errorf("list active courses: %w", err)
	}

	if s.cache != nil && len(records) > 0 {
		if err := s.cache.Set(ctx, records, cacheTTL); err != nil {
			s.logger.Warn("catalog cache write failed", zap.Error(err))
		}
	}

	return records, nil
}

func (s *Service) GetCourse(ctx context.Context, courseID int64) (pgrepo.CourseRecord, error) {
	if courseID <= 0 {
		return pgrepo.CourseRecord{}, ErrValidation
	}

	record, err := s.courses.FindByID(ctx, courseID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrCourseNotFound) {
			return pgrepo.CourseRecord{}, ErrCourseNotFound
		}
		return pgrepo.CourseRecord{}, fmt.Errorf("find course: %w", err)
	}
	return record, nil
}

func (s *Service) ListLessons(ctx context.Context, courseID int64) ([]pgrepo.LessonRecord, error) {
	if courseID <= 0 {
		return nil, ErrValidation
	}
	if _, err := s.GetCourse(ctx, courseID); err != nil {
		return nil, err
	}
	return s.lessons.ListByCourse(ctx, courseID)
}

func (s *Service) GetLesson(ctx context.Context, lessonID int64) (pgrepo.LessonRecord, error) {
	if lessonID <= 0 {
		return pgrepo.LessonRecord{}, ErrValidation
	}
	record, err := s.lessons.FindByID(ctx, lessonID)
	if err != nil {
		if errors.Is(err, pgrepo.ErrLessonNotFound) {
			return pgrepo.LessonRecord{}, ErrLessonNotFound
		}
		return pgrepo.LessonRecord{}, fmt.Errorf("find lesson %d: %w", lessonID, err)
	}
	return record, nil
}

func (s *Service) CreateCourse(ctx context.Context, title, description string, price, starsPrice int64, category string) (pgrepo.CourseRecord, error) {
	title = strings.TrimSpace(title)
	if title == "" || price <= 0 {
		return pgrepo.CourseRecord{}, ErrValidation
	}

	record, err := s.courses.Create(ctx, title, strings.TrimSpace(description), price, starsPrice, strings.TrimSpace(category))
	if err != nil {
		return pgrepo.CourseRecord{}, fmt.Errorf("create course: %w", err)
	}

	s.invalidate(ctx)
	return record, nil
}

func (s *Service) CreateLesson(ctx context.Context, courseID int64, title string, isFree bool, videoFileID, videoObjectKey string) (pgrepo.LessonRecord, error) {
	if courseID <= 0 || strings.TrimSpace(title) == "" {
		return pgrepo.LessonRecord{}, ErrValidation
	}
	if _, err := s.GetCourse(ctx, courseID); err != nil {
		return pgrepo.LessonRecord{}, err
	}

	record, err := s.lessons.Create(ctx, courseID, title, isFree, videoFileID, videoObjectKey)
	if err != nil {
		return pgrepo.LessonRecord{}, fmt.Errorf("create lesson: %w", err)
	}
	return record, nil
}

func (s *Service) SetCourseActive(ctx context.Context, courseID int64, active bool) (pgrepo.CourseRecord, error) {
	if courseID <= 0 {
		return pgrepo.CourseRecord{}, ErrValidation
	}

	record, err := s.courses.SetActive(ctx, courseID, active)
	if err != nil {
		if errors.Is(err, pgrepo.ErrCourseNotFound) {
			return pgrepo.CourseRecord{}, ErrCourseNotFound
		}
		return pgrepo.CourseRecord{}, fmt.Errorf("set course active: %w", err)
	}

	s.invalidate(ctx)
	return record, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx); err != nil {
		s.logger.Warn("catalog cache invalidation failed", zap.Error(err))
	}
}
