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

type UserHandler struct {
	userService service.UserService
	subService  service.SubscriptionService
	validate    *validator.Validate
	errs        errorWriter
}

func NewUserHandler(userService service.UserService, subService service.SubscriptionService, v *validator.Validate, logger zerolog.Logger) *UserHandler {
	return &UserHandler{
		userService: userService,
		subService:  subService,
		validate:    v,
		errs:        errorWriter{logger: logger.With().Str("handler", "UserHandler").Logger()},
	}
}

// RegisterRoutes mounts v1 user routes
func (h *UserHandler) RegisterRoutes(r chi.Router) {
	r.Get("/users/me", h.getUser)
	r.Post("/users/me", h.createUser)
}

// createUser godoc
// @Summary Create or update the caller's profile
// @Tags users
// @Accept json
// @Produce json
// @Param user body dto.UserCreateDTO true "Profile"
// @Success 201 {object} dto.UserResponseDTO
// @Router /users/me [post]
func (h *UserHandler) createUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.UserCreateDTO
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}

	created, err := h.userService.Create(r.Context(), &model.User{
		UserID:    userID,
		Name:      req.Name,
		Email:     req.Email,
		AvatarURL: req.AvatarURL,
	})
	if err != nil {
		h.errs.write(w, err)
		return
	}
	h.respond(w, r, http.StatusCreated, created)
}

// getUser godoc
// @Summary Get the caller's profile and plan
// @Tags users
// @Produce json
// @Success 200 {object} dto.UserResponseDTO
// @Router /users/me [get]
func (h *UserHandler) getUser(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	u, err := h.userService.Get(r.Context(), userID)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	h.respond(w, r, http.StatusOK, u)
}

func (h *UserHandler) respond(w http.ResponseWriter, r *http.Request, status int, u *model.User) {
	tier, err := h.subService.ResolveTier(r.Context(), u.UserID)
	if err != nil {
		h.errs.write(w, err)
		return
	}
	writeJSON(w, status, dto.UserResponseDTO{
		UserID:    u.UserID,
		Name:      u.Name,
		Email:     u.Email,
		AvatarURL: u.AvatarURL,
		PlanTier:  string(tier),
		CreatedAt: u.CreatedAt,
		UpdatedAt: u.UpdatedAt,
	})
}
