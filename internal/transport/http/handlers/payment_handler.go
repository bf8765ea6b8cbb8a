package handlers

import (
	"errors"
	"net/http"

	"github.com/rey45eyh45/daromatx/internal/domain/enums"
	pgrepo "github.com/rey45eyh45/daromatx/internal/repo/postgres"
	authsvc "github.com/rey45eyh45/daromatx/internal/services/auth"
	ledgersvc "github.com/rey45eyh45/daromatx/internal/services/ledger"
	"github.com/rey45eyh45/daromatx/internal/services/reconcile"
	"github.com/rey45eyh45/daromatx/internal/transport/http/dto"
	httperrors "github.com/rey45eyh45/daromatx/internal/transport/http/errors"
)

type PaymentHandler struct {
	ledger  *ledgersvc.Service
	gateway *reconcile.GatewayVerifier
	ton     *reconcile.TONVerifier
	wallet  string
	rate    int64
}

func NewPaymentHandler(ledger *ledgersvc.Service, gateway *reconcile.GatewayVerifier, ton *reconcile.TONVerifier, wallet string, fiatPerTON int64) *PaymentHandler {
	return &PaymentHandler{
		ledger:  ledger,
		gateway: gateway,
		ton:     ton,
		wallet:  wallet,
		rate:    fiatPerTON,
	}
}

// Create opens a pending attempt and returns channel-specific payment
// instructions. Stars invoices are sent by the bot, so for that channel
// the response carries the bare attempt.
func (h *PaymentHandler) Create(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.ledger == nil {
		writeInternal(w, "LEDGER_SERVICE_UNAVAILABLE", "ledger service is unavailable")
		return
	}

	var req dto.PaymentCreateRequest
	if err := decodeJSON(r, &req); err != nil {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid request body")
		return
	}

	channel, ok := enums.ParsePaymentChannel(req.Channel)
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "unknown payment channel")
		return
	}

	attempt, err := h.ledger.Open(r.Context(), identity.BuyerID, req.CourseID, channel)
	if err != nil {
		switch {
		case errors.Is(err, ledgersvc.ErrValidation):
			writeBadRequest(w, "VALIDATION_ERROR", "invalid payment create payload")
		case errors.Is(err, ledgersvc.ErrCourseNotFound):
			writeNotFound(w, "COURSE_NOT_FOUND", "course not found")
		default:
			writeInternal(w, "INTERNAL_ERROR", "failed to create payment")
		}
		return
	}

	resp := dto.PaymentCreateResponse{
		AttemptID: attempt.ID,
		CourseID:  attempt.CourseID,
		Channel:   attempt.Channel,
		Status:    attempt.Status,
		Amount:    attempt.Amount,
		Currency:  attempt.Currency,
	}

	switch channel {
	case enums.ChannelClick:
		if h.gateway != nil {
			resp.PayURL = h.gateway.ClickPayURL(attempt)
		}
	case enums.ChannelPayme:
		if h.gateway != nil {
			resp.PayURL = h.gateway.PaymePayURL(attempt)
		}
	case enums.ChannelTON:
		resp.TON = &dto.TONInstructions{
			Wallet:          h.wallet,
			ExpectedNanoton: reconcile.ExpectedNanoton(attempt.Amount, h.rate),
			Comment:         reconcile.CoursePayload(attempt.CourseID),
		}
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func (h *PaymentHandler) Status(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.ledger == nil {
		writeInternal(w, "LEDGER_SERVICE_UNAVAILABLE", "ledger service is unavailable")
		return
	}

	attemptID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid attempt id")
		return
	}

	attempt, err := h.ledger.Get(r.Context(), attemptID)
	if err != nil {
		if errors.Is(err, ledgersvc.ErrAttemptNotFound) {
			writeNotFound(w, "ATTEMPT_NOT_FOUND", "payment attempt not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load payment")
		return
	}
	if attempt.BuyerID != identity.BuyerID {
		// Do not leak the existence of other buyers' attempts.
		writeNotFound(w, "ATTEMPT_NOT_FOUND", "payment attempt not found")
		return
	}

	httperrors.Write(w, http.StatusOK, toStatusResponse(attempt))
}

// VerifyTON runs one on-chain reconciliation round for the buyer's TON
// purchase. "Not found yet" is a 200 with retry instructions, never a
// terminal failure.
func (h *PaymentHandler) VerifyTON(w http.ResponseWriter, r *http.Request) {
	identity, ok := authsvc.IdentityFromContext(r.Context())
	if !ok {
		writeUnauthorized(w, "UNAUTHORIZED", "authentication required")
		return
	}
	if h.ledger == nil || h.ton == nil {
		writeInternal(w, "RECONCILE_SERVICE_UNAVAILABLE", "verification service is unavailable")
		return
	}

	attemptID, ok := pathID(r, "id")
	if !ok {
		writeBadRequest(w, "VALIDATION_ERROR", "invalid attempt id")
		return
	}

	attempt, err := h.ledger.Get(r.Context(), attemptID)
	if err != nil {
		if errors.Is(err, ledgersvc.ErrAttemptNotFound) {
			writeNotFound(w, "ATTEMPT_NOT_FOUND", "payment attempt not found")
			return
		}
		writeInternal(w, "INTERNAL_ERROR", "failed to load payment")
		return
	}
	if attempt.BuyerID != identity.BuyerID {
		writeNotFound(w, "ATTEMPT_NOT_FOUND", "payment attempt not found")
		return
	}
	if attempt.Channel != enums.ChannelTON.String() {
		writeBadRequest(w, "VALIDATION_ERROR", "attempt is not an on-chain payment")
		return
	}

	outcome, err := h.ton.Verify(r.Context(), attempt.BuyerID, attempt.CourseID)
	if err != nil {
		writeInternal(w, "INTERNAL_ERROR", "failed to verify payment")
		return
	}

	if outcome.Kind == reconcile.OutcomeThrottled {
		httperrors.Write(w, http.StatusTooManyRequests, httperrors.ThrottledError{
			Code:          "TOO_MANY_POLLS",
			Message:       "verification is throttled, try again shortly",
			RetryAfterSec: int64(outcome.RetryAfter.Seconds()),
		})
		return
	}

	resp := dto.PaymentVerifyResponse{
		Outcome:   string(outcome.Kind),
		AttemptID: outcome.Attempt.ID,
		Status:    outcome.Attempt.Status,
	}
	if outcome.Kind == reconcile.OutcomeNotFoundYet {
		resp.TON = &dto.TONInstructions{
			Wallet:          outcome.Wallet,
			ExpectedNanoton: outcome.ExpectedNanoton,
			Comment:         reconcile.CoursePayload(attempt.CourseID),
		}
	}

	httperrors.Write(w, http.StatusOK, resp)
}

func toStatusResponse(attempt pgrepo.PaymentAttemptRecord) dto.PaymentStatusResponse {
	resp := dto.PaymentStatusResponse{
		AttemptID: attempt.ID,
		CourseID:  attempt.CourseID,
		Channel:   attempt.Channel,
		Status:    attempt.Status,
		Amount:    attempt.Amount,
		Currency:  attempt.Currency,
		CreatedAt: attempt.CreatedAt,
		SettledAt: attempt.SettledAt,
	}
	if attempt.ExternalRef != nil {
		resp.ExternalRef = *attempt.ExternalRef
	}
	if attempt.FailureReason != nil {
		resp.FailureReason = *attempt.FailureReason
	}
	return resp
}
