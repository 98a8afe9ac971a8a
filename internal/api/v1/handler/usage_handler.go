package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/model"
	"studybuddy/internal/service"
)

// UsageHandler reports quota usage and admits uploads against it.
type UsageHandler struct {
	quota    service.QuotaService
	tiers    service.SubscriptionService
	validate *validator.Validate
	errs     errorWriter
	logger   zerolog.Logger
}

// NewUsageHandler creates a UsageHandler. upgradeURL is returned with quota denials.
func NewUsageHandler(quota service.QuotaService, tiers service.SubscriptionService, v *validator.Validate, upgradeURL string, logger zerolog.Logger) *UsageHandler {
	lg := logger.With().Str("handler", "UsageHandler").Logger()
	return &UsageHandler{
		quota:    quota,
		tiers:    tiers,
		validate: v,
		errs:     errorWriter{upgradeURL: upgradeURL, logger: lg},
		logger:   lg,
	}
}

func (h *UsageHandler) RegisterRoutes(r chi.Router) {
	r.Get("/usage", h.getUsage)
	r.Post("/uploads/documents", h.reserveDocument)
	r.Post("/uploads/lectures", h.reserveLecture)
}

// getUsage godoc
// @Summary Current quota usage for display
// @Tags usage
// @Produce json
// @Success 200 {object} dto.UsageResponseDTO
// @Router /usage [get]
func (h *UsageHandler) getUsage(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	tier, err := h.tiers.ResolveTier(r.Context(), userID)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	snapshot, err := h.quota.CurrentUsage(r.Context(), userID, tier)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	limits, _ := model.LimitsFor(tier)
	writeJSON(w, http.StatusOK, dto.UsageResponseDTO{Plan: limits, Usage: *snapshot})
}

// reserveDocument godoc
// @Summary Reserve a document upload against the weekly cap
// @Tags usage
// @Accept json
// @Produce json
// @Param upload body dto.DocumentUploadRequestDTO true "Upload"
// @Success 201 {object} dto.ReservationResponseDTO
// @Failure 402 {object} dto.ErrorResponseDTO
// @Failure 413 {object} dto.ErrorResponseDTO
// @Router /uploads/documents [post]
func (h *UsageHandler) reserveDocument(w http.ResponseWriter, r *http.Request) {
	var req dto.DocumentUploadRequestDTO
	h.reserve(w, r, model.ResourceDocument, &req, func() int64 { return req.SizeBytes })
}

// reserveLecture godoc
// @Summary Reserve a lecture recording against the monthly cap
// @Tags usage
// @Accept json
// @Produce json
// @Param upload body dto.LectureUploadRequestDTO true "Lecture"
// @Success 201 {object} dto.ReservationResponseDTO
// @Failure 402 {object} dto.ErrorResponseDTO
// @Router /uploads/lectures [post]
func (h *UsageHandler) reserveLecture(w http.ResponseWriter, r *http.Request) {
	var req dto.LectureUploadRequestDTO
	h.reserve(w, r, model.ResourceLecture, &req, func() int64 { return req.SizeBytes })
}

func (h *UsageHandler) reserve(w http.ResponseWriter, r *http.Request, resource model.ResourceType, req any, size func() int64) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	if !decodeAndValidate(w, r, h.validate, req) {
		return
	}
	tier, err := h.tiers.ResolveTier(r.Context(), userID)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	reservation, err := h.quota.Reserve(r.Context(), userID, resource, tier, size())
	if err != nil {
		h.errs.write(w, err)
		return
	}
	h.logger.Info().Str("user_id", userID).Str("resource", string(resource)).Int("count", reservation.Count).Msg("Upload reserved")
	writeJSON(w, http.StatusCreated, dto.ReservationResponseDTO{Reservation: reservation})
}
