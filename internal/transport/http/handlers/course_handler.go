package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
	catalogsvc "github.com/rey45eyh45/daromatx/internal/services/catalog"
	"github.com/rey45eyh45/daromatx/internal/transport/http/dto"
	httperrors "github.com/rey45eyh45/daromatx/internal/transport/http/errors"
)

const coverURLTTL = 15 * time.Minute

// CoverSigner presigns course cover links; nil disables covers.
type CoverSigner interface {
	PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error)
}

type CourseHandler struct {
	catalog *catalogsvc.Service
	signer  CoverSigner
}

func NewCourseHandler(catalog *catalogsvc.Service, signer CoverSigner) *CourseHandler {
	return &CourseHandler{
		catalog: catalog,
		signer:  signer,
	}
}

func (h *CourseHandler) List(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	records, err := h.catalog.ListActive(r.Context())
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to list courses")
		return
	}

	courses := make([]dto.CourseResponse, 0, len(records))
	for _, record := range records {
		courses = append(courses, h.toCourseResponse(r, record))
	}

	httperrors.Write(w, http.StatusOK, dto.CourseListResponse{Courses: courses})
}

func (h *CourseHandler) Get(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	courseID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid course id")
		return
	}

	record, err := h.catalog.GetCourse(r.Context(), courseID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrCourseNotFound) {
			writeNotFound(w, "COURSE_NOT_FOUND", "course not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load course")
		return
	}

	httperrors.Write(w, http.StatusOK, h.toCourseResponse(r, record))
}

func (h *CourseHandler) Lessons(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	courseID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid course id")
		return
	}

	records, err := h.catalog.ListLessons(r.Context(), courseID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrCourseNotFound) {
			writeNotFound(w, "COURSE_NOT_FOUND", "course not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to list lessons")
		return
	}

	lessons := make([]dto.LessonResponse, 0, len(records))
	for _, record := range records {
		lessons = append(lessons, toLessonResponse(record))
	}

	httperrors.Write(w, http.StatusOK, dto.LessonListResponse{Lessons: lessons})
}

// Lesson serves one lesson's metadata. The video itself stays behind the
// video-url endpoint.
func (h *CourseHandler) Lesson(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	lessonID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid lesson id")
		return
	}

	record, err := h.catalog.GetLesson(r.Context(), lessonID)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrLessonNotFound) {
			writeNotFound(w, "LESSON_NOT_FOUND", "lesson not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load lesson")
		return
	}

	httperrors.Write(w, http.StatusOK, toLessonResponse(record))
}

func (h *CourseHandler) toCourseResponse(r *http.Request, record pgrepo.CourseRecord) dto.CourseResponse {
	resp := dto.CourseResponse{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		Price:       record.Price,
		StarsPrice:  record.StarsPrice,
		Category:    record.Category,
		IsActive:    record.IsActive,
	}

	if h.signer != nil && record.ThumbnailKey != nil && *record.ThumbnailKey != "" {
		if url, err := h.signer.PresignGet(r.Context(), *record.ThumbnailKey, coverURLTTL); err == nil {
			resp.CoverURL = url
		}
	}

	return resp
}

func toLessonResponse(record pgrepo.LessonRecord) dto.LessonResponse {
	resp := dto.LessonResponse{
		ID:          record.ID,
		CourseID:    record.CourseID,
		Title:       record.Title,
		DurationSec: record.DurationSec,
		Position:    record.Position,
		IsFree:      record.IsFree,
	}
	if record.Description != nil {
		resp.Description = *record.Description
	}
	return resp
}

func pathID(r *http.Request, key string) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, key), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}
