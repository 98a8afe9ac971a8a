package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/service"
)

// NarrationHandler queues styled narrations and reports their progress.
type NarrationHandler struct {
	narrations service.NarrationService
	validate   *validator.Validate
	errs       errorWriter
}

func NewNarrationHandler(narrations service.NarrationService, v *validator.Validate, logger zerolog.Logger) *NarrationHandler {
	return &NarrationHandler{
		narrations: narrations,
		validate:   v,
		errs:       errorWriter{logger: logger.With().Str("handler", "NarrationHandler").Logger()},
	}
}

func (h *NarrationHandler) RegisterRoutes(r chi.Router) {
	r.Get("/narrations/{jobId}", h.get)
}

func (h *NarrationHandler) RegisterGenerationRoutes(r chi.Router) {
	r.Post("/materials/narration", h.queue)
}

// queue godoc
// @Summary Queue a styled audio narration
// @Tags narrations
// @Accept json
// @Produce json
// @Param narration body dto.NarrationRequestDTO true "Narration"
// @Success 202 {object} dto.NarrationResponseDTO
// @Router /materials/narration [post]
func (h *NarrationHandler) queue(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.NarrationRequestDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	job, err := h.narrations.Queue(r.Context(), userID, req.Title, req.Style, req.SourceText)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	w.Header().Set("Location", "/v1/narrations/"+job.ID)
	writeJSON(w, http.StatusAccepted, narrationResponse(&service.NarrationView{NarrationJob: job}))
}

// get godoc
// @Summary Narration job status with a short-lived audio link once complete
// @Tags narrations
// @Produce json
// @Param jobId path string true "Job ID"
// @Success 200 {object} dto.NarrationResponseDTO
// @Router /narrations/{jobId} [get]
func (h *NarrationHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	jobID, ok := pathID(w, r, "jobId")
	if !ok {
		return
	}
	view, err := h.narrations.Get(r.Context(), userID, jobID)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, narrationResponse(view))
}

func narrationResponse(v *service.NarrationView) dto.NarrationResponseDTO {
	return dto.NarrationResponseDTO{
		ID:           v.ID,
		Title:        v.Title,
		Style:        v.Style,
		Status:       v.Status,
		Script:       v.Script,
		AudioURL:     v.AudioURL,
		Provider:     v.Provider,
		ErrorDetails: v.ErrorDetails,
		CreatedAt:    v.CreatedAt,
		UpdatedAt:    v.UpdatedAt,
	}
}
