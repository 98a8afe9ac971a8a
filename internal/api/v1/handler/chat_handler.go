package handler

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/provider"
	"studybuddy/internal/service"
)

// ChatHandler answers tutoring questions.
type ChatHandler struct {
	materials service.MaterialService
	validate  *validator.Validate
	errs      errorWriter
}

func NewChatHandler(materials service.MaterialService, v *validator.Validate, logger zerolog.Logger) *ChatHandler {
	return &ChatHandler{
		materials: materials,
		validate:  v,
		errs:      errorWriter{logger: logger.With().Str("handler", "ChatHandler").Logger()},
	}
}

func (h *ChatHandler) RegisterGenerationRoutes(r chi.Router) {
	r.Post("/chat", h.chat)
}

// chat godoc
// @Summary Answer one chat turn, optionally about a stored material
// @Tags chat
// @Accept json
// @Produce json
// @Param chat body dto.ChatRequestDTO true "Chat turn"
// @Success 200 {object} dto.ChatResponseDTO
// @Router /chat [post]
func (h *ChatHandler) chat(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.ChatRequestDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	history := make([]provider.Message, 0, len(req.History))
	for _, m := range req.History {
		history = append(history, provider.Message{Role: provider.Role(m.Role), Content: m.Content})
	}

	reply, err := h.materials.Chat(r.Context(), userID, req.MaterialID, history, req.Message)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.ChatResponseDTO{Message: reply.Message, Provider: reply.Provider})
}
