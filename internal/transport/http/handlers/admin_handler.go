package handlers

import (
	"errors"
	"net/http"
	"time"

	adminsvc "github.com/rey45eyh45/daromatx/internal/services/adminauth"
	authsvc "github.com/rey45eyh45/daromatx/internal/services/auth"
	catalogsvc "github.com/rey45eyh45/daromatx/internal/services/catalog"
	entsvc "github.com/rey45eyh45/daromatx/internal/services/entitlements"
	ledgersvc "github.com/rey45eyh45/daromatx/internal/services/ledger"
	"github.com/rey45eyh45/daromatx/internal/services/reconcile"
	"github.com/rey45eyh45/daromatx/internal/transport/http/dto"
	httperrors "github.com/rey45eyh45/daromatx/internal/transport/http/errors"
)

type AdminHandler struct {
	auth         *adminsvc.Service
	catalog      *catalogsvc.Service
	ledger       *ledgersvc.Service
	gateway      *reconcile.GatewayVerifier
	entitlements *entsvc.Service
}

func NewAdminHandler(auth *adminsvc.Service, catalog *catalogsvc.Service, ledger *ledgersvc.Service, gateway *reconcile.GatewayVerifier, entitlements *entsvc.Service) *AdminHandler {
	return &AdminHandler{
		auth:         auth,
		catalog:      catalog,
		ledger:       ledger,
		gateway:      gateway,
		entitlements: entitlements,
	}
}

// Login exchanges a validated Telegram identity for a short-lived admin
// token. The identity must already be in context via the init-data
// middleware; non-admin identities are rejected.
func (h *AdminHandler) Login(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.auth == nil {
		writeInternal(w, "ADMIN_SERVICE_UNAVAILABLE", "admin service is unavailable")
		return
	}

	token, expiresAt, err := h.auth.Login(identity.BuyerID)
	if err != nil {
		if errors.Is(err, adminsvc.ErrUnauthorized) {
			writeForbidden(w, "FORBIDDEN", "not an admin")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to issue admin token")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AdminLoginResponse{
		AccessToken:  token,
		ExpiresInSec: int64(time.Until(expiresAt).Seconds()),
	})
}

// ConfirmGateway settles a Click or Payme attempt the operator verified in
// the provider's merchant cabinet.
func (h *AdminHandler) ConfirmGateway(w http.ResponseWriter, r *http.Request) {
	if h.gateway == nil {
		writeInternal(w, "RECONCILE_SERVICE_UNAVAILABLE", "gateway verifier is unavailable")
		return
	}

	attemptID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid attempt id")
		return
	}

	var req dto.ConfirmGatewayRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	outcome, err := h.gateway.Confirm(r.Context(), attemptID, req.ProviderTxID)
	if err != nil {
		switch {
		case errors.Is(err, ledgersvc.ErrAttemptNotFound):
			writeNotFound(w, "ATTEMPT_NOT_FOUND", "payment attempt not found")
		case errors.Is(err, ledgersvc.ErrInvalidState):
			writeBadRequest(w, "INVALID_STATE", "attempt is not pending")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to confirm payment")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.ConfirmGatewayResponse{
		AttemptID: outcome.Attempt.ID,
		Status:    outcome.Attempt.Status,
		GrantedTo: outcome.Attempt.BuyerID,
		CourseID:  outcome.Attempt.CourseID,
	})
}

// Grant opens a course for a buyer without a payment attempt, for refund
// compensations and support cases. granted_via stays zero to mark the
// manual origin.
func (h *AdminHandler) Grant(w http.ResponseWriter, r *http.Request) {
	if h.entitlements == nil {
		writeInternal(w, "ENTITLEMENT_SERVICE_UNAVAILABLE", "entitlement service is unavailable")
		return
	}

	var req dto.AdminGrantRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, created, err := h.entitlements.Grant(r.Context(), req.BuyerID, req.CourseID, 0)
	if err != nil {
		if errors.Is(err, entsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "buyer_id and course_id are required")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to grant course access")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.AdminGrantResponse{
		EntitlementID: record.ID,
		BuyerID:       record.BuyerID,
		CourseID:      record.CourseID,
		GrantedAt:     record.GrantedAt.Unix(),
		Created:       created,
	})
}

func (h *AdminHandler) Refund(w http.ResponseWriter, r *http.Request) {
	if h.ledger == nil {
		writeInternal(w, "LEDGER_SERVICE_UNAVAILABLE", "ledger service is unavailable")
		return
	}

	attemptID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid attempt id")
		return
	}

	attempt, err := h.ledger.Refund(r.Context(), attemptID)
	if err != nil {
		switch {
		case errors.Is(err, ledgersvc.ErrAttemptNotFound):
			writeNotFound(w, "ATTEMPT_NOT_FOUND", "payment attempt not found")
		case errors.Is(err, ledgersvc.ErrInvalidState):
			writeBadRequest(w, "INVALID_STATE", "only settled attempts can be refunded")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to refund payment")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, dto.RefundResponse{
		AttemptID: attempt.ID,
		Status:    attempt.Status,
	})
}

func (h *AdminHandler) CreateCourse(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	var req dto.CreateCourseRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, err := h.catalog.CreateCourse(r.Context(), req.Title, req.Description, req.Price, req.StarsPrice, req.Category)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrValidation) {
			writeBadRequest(w, "VALIDATION_ERROR", "invalid course payload")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to create course")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CourseResponse{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		Price:       record.Price,
		StarsPrice:  record.StarsPrice,
		Category:    record.Category,
		IsActive:    record.IsActive,
	})
}

func (h *AdminHandler) CreateLesson(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	courseID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid course id")
		return
	}

	var req dto.CreateLessonRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, err := h.catalog.CreateLesson(r.Context(), courseID, req.Title, req.IsFree, req.VideoFileID, req.VideoObjectKey)
	if err != nil {
		switch {
		case errors.Is(err, catalogsvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid lesson payload")
		case errors.Is(err, catalogsvc.ErrCourseNotFound):
			writeNotFound(w, "COURSE_NOT_FOUND", "course not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to create lesson")
		}
		return
	}

	httperrors.Write(w, http.StatusOK, toLessonResponse(record))
}

func (h *AdminHandler) SetCourseActive(w http.ResponseWriter, r *http.Request) {
	if h.catalog == nil {
		writeInternal(w, "CATALOG_SERVICE_UNAVAILABLE", "catalog service is unavailable")
		return
	}

	courseID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid course id")
		return
	}

	var req dto.SetCourseActiveRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	record, err := h.catalog.SetCourseActive(r.Context(), courseID, req.IsActive)
	if err != nil {
		if errors.Is(err, catalogsvc.ErrCourseNotFound) {
			writeNotFound(w, "COURSE_NOT_FOUND", "course not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to update course")
		return
	}

	httperrors.Write(w, http.StatusOK, dto.CourseResponse{
		ID:          record.ID,
		Title:       record.Title,
		Description: record.Description,
		Price:       record.Price,
		StarsPrice:  record.StarsPrice,
		Category:    record.Category,
		IsActive:    record.IsActive,
	})
}
