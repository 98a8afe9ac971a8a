package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/generation"
	"studybuddy/internal/middleware"
	"studybuddy/internal/service"
)

// maxBodyBytes bounds JSON request bodies, inline images included.
const maxBodyBytes = 20 << 20

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErrorBody(w http.ResponseWriter, status int, code, message string) {
	writeJSON(w, status, dto.ErrorResponseDTO{Error: code, Message: message})
}

// requireUser returns the authenticated user or writes a 401.
func requireUser(w http.ResponseWriter, r *http.Request) (string, bool) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeErrorBody(w, http.StatusUnauthorized, "unauthorized", "Unauthorized: User ID not found in context")
	}
	return userID, ok
}

// decodeAndValidate reads a JSON body into dst and validates it, writing a
// 400 on failure.
func decodeAndValidate(w http.ResponseWriter, r *http.Request, v *validator.Validate, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", "Invalid JSON payload: "+err.Error())
		return false
	}
	if err := v.Struct(dst); err != nil {
		writeErrorBody(w, http.StatusBadRequest, "validation_failed", "Validation failed: "+err.Error())
		return false
	}
	return true
}

// pathID reads a UUID path parameter. Anything else cannot name a stored
// row, so it is answered with 404.
func pathID(w http.ResponseWriter, r *http.Request, param string) (string, bool) {
	id, err := uuid.Parse(chi.URLParam(r, param))
	if err != nil {
		writeErrorBody(w, http.StatusNotFound, "not_found", param+" is not a known id")
		return "", false
	}
	return id.String(), true
}

// errorWriter maps service errors to HTTP responses.
type errorWriter struct {
	upgradeURL string
	logger     zerolog.Logger
}

func (e errorWriter) write(w http.ResponseWriter, err error) {
	var (
		qe *service.QuotaError
		ee *generation.ExhaustedError
		ve validator.ValidationErrors
	)
	switch {
	case errors.As(err, &qe):
		status := http.StatusPaymentRequired
		if qe.Kind == service.QuotaFileTooLarge {
			status = http.StatusRequestEntityTooLarge
		}
		body := dto.ErrorResponseDTO{Error: string(qe.Kind), Message: qe.Message}
		if qe.UpgradeTo != "" {
			body.UpgradeTo = string(qe.UpgradeTo)
			body.UpgradeURL = e.upgradeURL
		}
		if qe.Kind == service.QuotaLimitReached {
			body.Limit, body.Used = &qe.Limit, &qe.Used
		}
		writeJSON(w, status, body)

	case errors.As(err, &ee):
		writeJSON(w, http.StatusBadGateway, dto.ErrorResponseDTO{
			Error:    "generation_failed",
			Message:  "Every AI provider failed to produce a usable result. Please try again.",
			LastKind: string(ee.LastKind()),
		})

	case errors.Is(err, generation.ErrNoEligibleProvider):
		writeErrorBody(w, http.StatusServiceUnavailable, "no_provider", "No AI provider can handle this request right now.")

	case errors.Is(err, service.ErrMaterialNotFound),
		errors.Is(err, service.ErrNarrationNotFound),
		errors.Is(err, service.ErrUserNotFound):
		writeErrorBody(w, http.StatusNotFound, "not_found", err.Error())

	case errors.Is(err, service.ErrEmptySource),
		errors.Is(err, service.ErrUnsupportedContentType),
		errors.Is(err, service.ErrInvalidUser),
		errors.Is(err, service.ErrUnknownPlan),
		errors.Is(err, service.ErrNoPriceForTier),
		errors.As(err, &ve):
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", err.Error())

	case errors.Is(err, service.ErrNoStripeCustomer):
		writeErrorBody(w, http.StatusConflict, "no_subscription", "No billing account exists yet. Start a checkout first.")

	case errors.Is(err, context.DeadlineExceeded):
		writeErrorBody(w, http.StatusGatewayTimeout, "timeout", "The request took too long.")

	default:
		e.logger.Error().Err(err).Msg("Unhandled request error")
		writeErrorBody(w, http.StatusInternalServerError, "internal_error", "internal server error")
	}
}
