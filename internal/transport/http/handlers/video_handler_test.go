package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
	authsvc "github.com/rey45eyh45/daromatx/internal/services/auth"
	videosvc "github.com/rey45eyh45/daromatx/internal/services/videotoken"
	"github.com/rey45eyh45/daromatx/internal/transport/http/dto"
)

type lessonStoreStub struct {
	lessons map[int64]pgrepo.LessonRecord
}

func (s lessonStoreStub) FindByID(_ context.Context, lessonID int64) (pgrepo.LessonRecord, error) {
	lesson, ok := s.lessons[lessonID]
	if !ok {
		return pgrepo.LessonRecord{}, pgrepo.ErrLessonNotFound
	}
	return lesson, nil
}

type entitlementCheckerStub struct {
	owned map[[2]int64]bool
}

func (s entitlementCheckerStub) Has(_ context.Context, buyerID, courseID int64) (bool, error) {
	return s.owned[[2]int64{buyerID, courseID}], nil
}

type signerStub struct{}

func (signerStub) PresignGet(_ context.Context, key string, _ time.Duration) (string, error) {
	return "https://s3.local/" + key + "?signed", nil
}

func newVideoHandler() *VideoHandler {
	objectKey := "videos/course_42/lesson_5.mp4"
	lessons := lessonStoreStub{lessons: map[int64]pgrepo.LessonRecord{
		5: {ID: 5, CourseID: 42, Title: "Интро", IsFree: false, VideoObjectKey: &objectKey},
	}}
	ents := entitlementCheckerStub{owned: map[[2]int64]bool{{777, 42}: true}}
	service := videosvc.NewService(lessons, ents, signerStub{}, nil, "", "token-secret", time.Hour)
	return NewVideoHandler(service)
}

func withURLParam(ctx context.Context, key, value string) context.Context {
	routeCtx := chi.NewRouteContext()
	routeCtx.URLParams.Add(key, value)
	return context.WithValue(ctx, chi.RouteCtxKey, routeCtx)
}

func TestVideoURLIssuesGrantForEntitledBuyer(t *testing.T) {
	handler := newVideoHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/lessons/5/video-url", nil)
	req = req.WithContext(authsvc.WithIdentity(req.Context(), authsvc.Identity{BuyerID: 777}))
	req = req.WithContext(withURLParam(req.Context(), "id", "5"))

	rr := httptest.NewRecorder()
	handler.URL(rr, req)

	if rr.Code != http.StatusOK {
		t.Fatalf("unexpected status: got %d want %d, body %s", rr.Code, http.StatusOK, rr.Body.String())
	}

	var resp dto.VideoURLResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.LessonID != 5 || resp.Tag == "" || resp.PlaybackURL == "" {
		t.Fatalf("incomplete grant in response: %+v", resp)
	}

	// The minted tag must pass the gate the player will hit next.
	check := httptest.NewRequest(http.MethodGet,
		fmt.Sprintf("/api/video/stream-check?lesson_id=5&buyer_id=777&expires_at=%d&tag=%s", resp.ExpiresAt, resp.Tag), nil)
	rr = httptest.NewRecorder()
	handler.StreamCheck(rr, check)

	if rr.Code != http.StatusOK {
		t.Fatalf("stream check rejected a fresh grant: %d %s", rr.Code, rr.Body.String())
	}
}

func TestVideoURLForbiddenWithoutEntitlement(t *testing.T) {
	handler := newVideoHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/lessons/5/video-url", nil)
	req = req.WithContext(authsvc.WithIdentity(req.Context(), authsvc.Identity{BuyerID: 888}))
	req = req.WithContext(withURLParam(req.Context(), "id", "5"))

	rr := httptest.NewRecorder()
	handler.URL(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusForbidden)
	}
}

func TestVideoURLRequiresIdentity(t *testing.T) {
	handler := newVideoHandler()

	req := httptest.NewRequest(http.MethodPost, "/api/lessons/5/video-url", nil)
	req = req.WithContext(withURLParam(req.Context(), "id", "5"))

	rr := httptest.NewRecorder()
	handler.URL(rr, req)

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusUnauthorized)
	}
}

func TestStreamCheckDeniesTamperedTag(t *testing.T) {
	handler := newVideoHandler()

	req := httptest.NewRequest(http.MethodGet,
		"/api/video/stream-check?lesson_id=5&buyer_id=777&expires_at=9999999999&tag=00000000000000000000000000000000", nil)
	rr := httptest.NewRecorder()
	handler.StreamCheck(rr, req)

	if rr.Code != http.StatusForbidden {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusForbidden)
	}
	var resp dto.StreamCheckResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Allowed {
		t.Fatal("tampered tag reported as allowed")
	}
}

func TestStreamCheckValidatesQuery(t *testing.T) {
	handler := newVideoHandler()

	req := httptest.NewRequest(http.MethodGet, "/api/video/stream-check?lesson_id=abc", nil)
	rr := httptest.NewRecorder()
	handler.StreamCheck(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("unexpected status: got %d want %d", rr.Code, http.StatusBadRequest)
	}
}
