package handlers

import (
	"errors"
	"net/http"
	"strconv"

	authsvc "github.com/rey45eyh45/daromatx/internal/services/auth"
	videosvc "github.com/rey45eyh45/daromatx/internal/services/videotoken"
	"github.com/rey45eyh45/daromatx/internal/transport/http/dto"
	httperrors "github.com/rey45eyh45/daromatx/internal/transport/http/errors"
)

type VideoHandler struct {
	videos *videosvc.Service
}

func NewVideoHandler(videos *videosvc.Service) *VideoHandler {
	return &VideoHandler{videos: videos}
}

// URL mints a short-lived playback grant for one lesson.
func (h *VideoHandler) URL(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.videos == nil {
		writeInternal(w, "VIDEO_SERVICE_UNAVAILABLE", "video service is unavailable")
		return
	}

	lessonID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid lesson id")
		return
	}

	grant, err := h.videos.Issue(r.Context(), lessonID, identity.BuyerID)
	if err != nil {
		switch {
		case errors.Is(err, videosvc.ErrForbidden):
			writeForbidden(w, "FORBIDDEN", "course purchase required")
		case errors.Is(err, videosvc.ErrLessonNotFound):
			writeNotFound(w, "LESSON_NOT_FOUND", "lesson not found")
		case errors.Is(err, videosvc.ErrNoVideo):
			writeNotFound(w, "VIDEO_NOT_FOUND", "lesson has no video attached")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to issue video access")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.VideoURLResponse{
		LessonID:    grant.LessonID,
		PlaybackURL: grant.PlaybackURL,
		ExpiresAt:   grant.ExpiresAt.Unix(),
		Tag:         grant.Tag,
	})
}

// StreamCheck re-validates a previously issued grant, for a player or an
// edge proxy that wants to gate segment requests.
func (h *VideoHandler) StreamCheck(w http.ResponseWriter, r *http.Request) {
	if h.videos == nil {
		writeInternal(w, "VIDEO_SERVICE_UNAVAILABLE", "video service is unavailable")
		return
	}

	query := r.URL.Query()
	lessonID, err1 := strconv.ParseInt(query.Get("lesson_id"), 10, 64)
	buyerID, err2 := strconv.ParseInt(query.Get("buyer_id"), 10, 64)
	expiresAt, err3 := strconv.ParseInt(query.Get("expires_at"), 10, 64)
	tag := query.Get("tag")
	if err1 != nil || err2 != nil || err3 != nil || tag == "" {
		writeBadRequest(w, "VALIDATION_ERROR", "lesson_id, buyer_id, expires_at and tag are required")
		return
	}

	allowed := h.videos.Verify(lessonID, buyerID, expiresAt, tag)
	status := http.StatusOK
	if !allowed {
		status = http.StatusForbidden
	}
	httperrors.Write(w, status, dto.StreamCheckResponse{Allowed: allowed})
}
