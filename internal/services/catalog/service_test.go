package catalog

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
)

type stubCourseStore struct {
	nextID  int64
	courses map[int64]pgrepo.CourseRecord
	listErr error
	lists   int
}

func newStubCourseStore() *stubCourseStore {
	return &stubCourseStore{courses: make(map[int64]pgrepo.CourseRecord)}
}

func (s *stubCourseStore) Create(_ context.Context, title, description string, price, starsPrice int64, category string) (pgrepo.CourseRecord, error) {
	s.nextID++
	record := pgrepo.CourseRecord{
		ID:          s.nextID,
		Title:       title,
		Description: description,
		Price:       price,
		StarsPrice:  starsPrice,
		Category:    category,
		IsActive:    true,
	}
	s.courses[record.ID] = record
	return record, nil
}

func (s *stubCourseStore) FindByID(_ context.Context, courseID int64) (pgrepo.CourseRecord, error) {
	record, ok := s.courses[courseID]
	if !ok {
		return pgrepo.CourseRecord{}, pgrepo.ErrCourseNotFound
	}
	return record, nil
}

func (s *stubCourseStore) ListActive(_ context.Context) ([]pgrepo.CourseRecord, error) {
	s.lists++
	if s.listErr != nil {
		return nil, s.listErr
	}
	var records []pgrepo.CourseRecord
	for _, record := range s.courses {
		if record.IsActive {
			records = append(records, record)
		}
	}
	return records, nil
}

func (s *stubCourseStore) SetActive(_ context.Context, courseID int64, active bool) (pgrepo.CourseRecord, error) {
	record, ok := s.courses[courseID]
	if !ok {
		return pgrepo.CourseRecord{}, pgrepo.ErrCourseNotFound
	}
	record.IsActive = active
	s.courses[courseID] = record
	return record, nil
}

type stubLessonStore struct {
	nextID  int64
	lessons map[int64][]pgrepo.LessonRecord
}

func newStubLessonStore() *stubLessonStore {
	return &stubLessonStore{lessons: make(map[int64][]pgrepo.LessonRecord)}
}

func (s *stubLessonStore) Create(_ context.Context, courseID int64, title string, isFree bool, videoFileID, videoObjectKey string) (pgrepo.LessonRecord, error) {
	s.nextID++
	record := pgrepo.LessonRecord{
		ID:       s.nextID,
		CourseID: courseID,
		Title:    title,
		IsFree:   isFree,
	}
	if videoFileID != "" {
		record.VideoFileID = &videoFileID
	}
	if videoObjectKey != "" {
		record.VideoObjectKey = &videoObjectKey
	}
	s.lessons[courseID] = append(s.lessons[courseID], record)
	return record, nil
}

func (s *stubLessonStore) FindByID(_ context.Context, lessonID int64) (pgrepo.LessonRecord, error) {
	for _, records := range s.lessons {
		for _, record := range records {
			if record.ID == lessonID {
				return record, nil
			}
		}
	}
	return pgrepo.LessonRecord{}, pgrepo.ErrLessonNotFound
}

func (s *stubLessonStore) ListByCourse(_ context.Context, courseID int64) ([]pgrepo.LessonRecord, error) {
	return s.lessons[courseID], nil
}

// memCache is a map-backed stand-in for the redis catalog cache.
type memCache struct {
	raw  []byte
	sets int
}

func (c *memCache) Get(_ context.Context, target any) (bool, error) {
	if c.raw == nil {
		return false, nil
	}
	if err := json.Unmarshal(c.raw, target); err != nil {
		return false, nil
	}
	return true, nil
}

func (c *memCache) Set(_ context.Context, value any, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	c.raw = raw
	c.sets++
	return nil
}

func (c *memCache) Invalidate(_ context.Context) error {
	c.raw = nil
	return nil
}

func TestListActiveServesFromCacheAfterFirstLoad(t *testing.T) {
	courses := newStubCourseStore()
	cache := &memCache{}
	svc := NewService(courses, newStubLessonStore(), cache, nil)

	if _, err := courses.Create(context.Background(), "Editing 101", "", 299000, 250, "video"); err != nil {
		t.Fatalf("seed course: %v", err)
	}

	for i := 0; i < 3; i++ {
		records, err := svc.ListActive(context.Background())
		if err != nil {
			t.Fatalf("list %d: %v", i, err)
		}
		if len(records) != 1 {
			t.Fatalf("list %d: got %d courses, want 1", i, len(records))
		}
	}

	if courses.lists != 1 {
		t.Fatalf("postgres hit %d times, want 1 (rest served from cache)", courses.lists)
	}
	if cache.sets != 1 {
		t.Fatalf("cache written %d times, want 1", cache.sets)
	}
}

func TestAdminWritesInvalidateCache(t *testing.T) {
	courses := newStubCourseStore()
	cache := &memCache{}
	svc := NewService(courses, newStubLessonStore(), cache, nil)

	first, err := svc.CreateCourse(context.Background(), "Editing 101", "", 299000, 250, "video")
	if err != nil {
		t.Fatalf("create course: %v", err)
	}
	if _, err := svc.ListActive(context.Background()); err != nil {
		t.Fatalf("prime cache: %v", err)
	}

	if _, err := svc.SetCourseActive(context.Background(), first.ID, false); err != nil {
		t.Fatalf("deactivate: %v", err)
	}

	records, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list after deactivate: %v", err)
	}
	if len(records) != 0 {
		t.Fatalf("got %d courses after deactivation, want 0", len(records))
	}
}

func TestListActiveWorksWithoutCache(t *testing.T) {
	courses := newStubCourseStore()
	svc := NewService(courses, newStubLessonStore(), nil, nil)

	if _, err := svc.CreateCourse(context.Background(), "Editing 101", "desc", 299000, 0, ""); err != nil {
		t.Fatalf("create course: %v", err)
	}

	records, err := svc.ListActive(context.Background())
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(records) != 1 {
		t.Fatalf("got %d courses, want 1", len(records))
	}
}

func TestCreateLessonRequiresExistingCourse(t *testing.T) {
	svc := NewService(newStubCourseStore(), newStubLessonStore(), nil, nil)

	if _, err := svc.CreateLesson(context.Background(), 99, "Intro", true, "", ""); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("err = %v, want ErrCourseNotFound", err)
	}
}

func TestCreateCourseValidation(t *testing.T) {
	svc := NewService(newStubCourseStore(), newStubLessonStore(), nil, nil)

	if _, err := svc.CreateCourse(context.Background(), "  ", "", 100, 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("blank title: err = %v, want ErrValidation", err)
	}
	if _, err := svc.CreateCourse(context.Background(), "Editing", "", 0, 0, ""); !errors.Is(err, ErrValidation) {
		t.Fatalf("zero price: err = %v, want ErrValidation", err)
	}
}

func TestListLessonsForMissingCourse(t *testing.T) {
	svc := NewService(newStubCourseStore(), newStubLessonStore(), nil, nil)

	if _, err := svc.ListLessons(context.Background(), 5); !errors.Is(err, ErrCourseNotFound) {
		t.Fatalf("err = %v, want ErrCourseNotFound", err)
	}
}
