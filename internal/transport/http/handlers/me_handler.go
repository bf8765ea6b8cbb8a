package handlers

import (
	"encoding/json"
	"net/http"

	authsvc "github.com/rey45eyh45/daromatx/internal/services/auth"
	entsvc "github.com/rey45eyh45/daromatx/internal/services/entitlements"
	userssvc "github.com/rey45eyh45/daromatx/internal/services/users"
	"github.com/rey45eyh45/daromatx/internal/transport/http/dto"
	httperrors "github.com/rey45eyh45/daromatx/internal/transport/http/errors"
)

type MeHandler struct {
	users        *userssvc.Service
	entitlements *entsvc.Service
}

func NewMeHandler(users *userssvc.Service, entitlements *entsvc.Service) *MeHandler {
	return &MeHandler{
		users:        users,
		entitlements: entitlements,
	}
}

func (h *MeHandler) Get(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.users == nil || h.entitlements == nil {
		writeInternal(w, "USERS_SERVICE_UNAVAILABLE", "users service is unavailable")
		return
	}

	if _, err := h.users.Ensure(r.Context(), identity.BuyerID, identity.Username, identity.FullName); err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to provision user")
		return
	}

	records, err := h.entitlements.ListByBuyer(r.Context(), identity.BuyerID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to load entitlements")
		return
	}

	entitlements := make([]dto.EntitlementResponse, 0, len(records))
	for _, record := range records {
		entitlements = append(entitlements, dto.EntitlementResponse{
			CourseID:  record.CourseID,
			GrantedAt: record.GrantedAt,
		})
	}

	httperrors.Write(w, http.StatusOK, dto.MeResponse{
		BuyerID:      identity.BuyerID,
		Username:     identity.Username,
		FullName:     identity.FullName,
		Entitlements: entitlements,
	})
}

func decodeJSON(r *http.Request, target any) error {
	decoder := json.NewDecoder(r.Body)
	decoder.DisallowUnknownFields()
	return decoder.Decode(target)
}

func writeBadRequest(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusBadRequest, httperrors.APIError{Code: code, Message: message})
}

func writeUnauthorized(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusUnauthorized, httperrors.APIError{Code: code, Message: message})
}

func writeForbidden(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusForbidden, httperrors.APIError{Code: code, Message: message})
}

func writeNotFound(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusNotFound, httperrors.APIError{Code: code, Message: message})
}

func writeInternal(w http.ResponseWriter, code, message string) {
	httperrors.Write(w, http.StatusInternalServerError, httperrors.APIError{Code: code, Message: message})
}
