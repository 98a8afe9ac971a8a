package handler

import (
	"encoding/base64"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/model"
	"studybuddy/internal/provider"
	"studybuddy/internal/service"
)

const (
	defaultListLimit = 20
	maxListLimit     = 100
)

// MaterialHandler generates and serves notes, flashcards and practice tests.
type MaterialHandler struct {
	materials service.MaterialService
	validate  *validator.Validate
	errs      errorWriter
}

func NewMaterialHandler(materials service.MaterialService, v *validator.Validate, logger zerolog.Logger) *MaterialHandler {
	return &MaterialHandler{
		materials: materials,
		validate:  v,
		errs:      errorWriter{logger: logger.With().Str("handler", "MaterialHandler").Logger()},
	}
}

// RegisterRoutes mounts the read routes. Generation is mounted separately so
// it can sit behind the rate limiter.
func (h *MaterialHandler) RegisterRoutes(r chi.Router) {
	r.Get("/materials", h.list)
	r.Get("/materials/{id}", h.get)
	r.Delete("/materials/{id}", h.delete)
}

func (h *MaterialHandler) RegisterGenerationRoutes(r chi.Router) {
	r.Post("/materials/{type:notes|flashcards|test}", h.generate)
}

// generate godoc
// @Summary Generate notes, flashcards or a practice test from source material
// @Tags materials
// @Accept json
// @Produce json
// @Param type path string true "notes, flashcards or test"
// @Param material body dto.MaterialGenerateRequestDTO true "Source"
// @Success 201 {object} dto.MaterialResponseDTO "newly generated"
// @Success 200 {object} dto.MaterialResponseDTO "returned from an earlier identical request"
// @Failure 502 {object} dto.ErrorResponseDTO "every provider failed"
// @Router /materials/{type} [post]
func (h *MaterialHandler) generate(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	contentType, err := model.ParseContentType(chi.URLParam(r, "type"))
	if err != nil {
		writeErrorBody(w, http.StatusNotFound, "not_found", err.Error())
		return
	}
	var req dto.MaterialGenerateRequestDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	images, err := decodeImages(req.Images)
	if err != nil {
		writeErrorBody(w, http.StatusBadRequest, "invalid_request", err.Error())
		return
	}

	m, cached, err := h.materials.Generate(r.Context(), service.GenerateInput{
		UserID:     userID,
		Type:       contentType,
		Title:      req.Title,
		SourceText: req.SourceText,
		Images:     images,
	})
	if err != nil {
		h.errs.write(w, err)
		return
	}
	status := http.StatusCreated
	if cached {
		status = http.StatusOK
	}
	writeJSON(w, status, dto.NewMaterialResponse(m, cached))
}

func (h *MaterialHandler) get(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	m, err := h.materials.Get(r.Context(), userID, id)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.NewMaterialResponse(m, false))
}

func (h *MaterialHandler) list(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	limit := queryInt(r, "limit", defaultListLimit)
	if limit <= 0 || limit > maxListLimit {
		limit = defaultListLimit
	}
	offset := queryInt(r, "offset", 0)
	if offset < 0 {
		offset = 0
	}

	materials, err := h.materials.List(r.Context(), userID, limit, offset)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	out := make([]dto.MaterialSummaryDTO, 0, len(materials))
	for _, m := range materials {
		out = append(out, dto.MaterialSummaryDTO{ID: m.ID, Type: m.Type, Title: m.Title, CreatedAt: m.CreatedAt})
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *MaterialHandler) delete(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	id, ok := pathID(w, r, "id")
	if !ok {
		return
	}
	if err := h.materials.Delete(r.Context(), userID, id); err != nil {
		h.errs.write(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeImages(in []dto.ImageDTO) ([]provider.Image, error) {
	if len(in) == 0 {
		return nil, nil
	}
	out := make([]provider.Image, 0, len(in))
	for _, img := range in {
		data, err := base64.StdEncoding.DecodeString(img.Data)
		if err != nil {
			return nil, err
		}
		out = append(out, provider.Image{MIMEType: img.MIMEType, Data: data})
	}
	return out, nil
}

func queryInt(r *http.Request, key string, def int) int {
	v := r.URL.Query().Get(key)
	if v == "" {
		return def
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return def
	}
	return n
}
