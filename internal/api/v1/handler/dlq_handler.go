package handler

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/service"
)

// DLQHandler receives messages pushed by Pub/Sub dead-letter subscriptions.
type DLQHandler struct {
	service service.DLQService
	logger  zerolog.Logger
}

func NewDLQHandler(s service.DLQService, l zerolog.Logger) *DLQHandler {
	return &DLQHandler{service: s, logger: l.With().Str("handler", "DLQHandler").Logger()}
}

func (h *DLQHandler) RegisterRoutes(r chi.Router) {
	r.Post("/dlq", h.RecordDLQ)
}

func (h *DLQHandler) RecordDLQ(w http.ResponseWriter, r *http.Request) {
	var req dto.PubSubPushRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Message.MessageID == "" {
		http.Error(w, "Invalid Pub/Sub message format: missing message ID", http.StatusBadRequest)
		return
	}

	h.logger.Info().
		Str("messageId", req.Message.MessageID).
		Str("subscription", req.Subscription).
		Msg("Processing dead-letter queue message")

	// Pub/Sub gets a 204 even when saving fails so a dead-lettered message
	// is not redelivered; the failure is logged for offline analysis.
	if err := h.service.ProcessAndSave(r.Context(), &req); err != nil {
		h.logger.Error().Err(err).Msg("Failed to save DLQ message to database")
	}
	w.WriteHeader(http.StatusNoContent)
}
