package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/model"
)

// Billing is the Stripe surface the subscription routes need.
type Billing interface {
	CreateCheckoutSession(ctx context.Context, userID string, tier model.PlanTier) (string, error)
	CreatePortalSession(ctx context.Context, userID string) (string, error)
	HandleWebhook(w http.ResponseWriter, r *http.Request)
}

// SubscriptionHandler handles subscription-related endpoints.
type SubscriptionHandler struct {
	billing  Billing
	validate *validator.Validate
	errs     errorWriter
	logger   zerolog.Logger
}

// NewSubscriptionHandler creates a new SubscriptionHandler.
func NewSubscriptionHandler(billing Billing, v *validator.Validate, logger zerolog.Logger) *SubscriptionHandler {
	lg := logger.With().Str("handler", "SubscriptionHandler").Logger()
	return &SubscriptionHandler{billing: billing, validate: v, errs: errorWriter{logger: lg}, logger: lg}
}

// RegisterRoutes registers the authenticated subscription endpoints.
func (h *SubscriptionHandler) RegisterRoutes(r chi.Router) {
	r.Post("/subscriptions/checkout", h.Checkout)
	r.Get("/subscriptions/portal", h.Portal)
}

// RegisterWebhook registers the Stripe webhook, which authenticates by signature.
func (h *SubscriptionHandler) RegisterWebhook(r chi.Router) {
	r.Post("/stripe/webhook", h.billing.HandleWebhook)
}

// Checkout godoc
// @Summary Initiate a Stripe Checkout session for plan upgrade
// @Description Creates a Stripe Checkout session and returns its URL.
// @Tags subscriptions
// @Accept json
// @Produce json
// @Param subscription body dto.SubscriptionCheckoutRequest true "Subscription checkout request"
// @Success 200 {object} dto.URLResponseDTO "URL of the Stripe Checkout session"
// @Router /subscriptions/checkout [post]
func (h *SubscriptionHandler) Checkout(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	var req dto.SubscriptionCheckoutRequest
	if !decodeAndValidate(w, r, h.validate, &req) {
		return
	}
	url, err := h.billing.CreateCheckoutSession(r.Context(), userID, model.PlanTier(req.Plan))
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to create checkout session")
		h.errs.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponseDTO{URL: url})
}

// Portal godoc
// @Summary Create a Stripe Customer Portal session
// @Description Generates a Stripe Customer Portal session URL for the authenticated user.
// @Tags subscriptions
// @Produce json
// @Success 200 {object} dto.URLResponseDTO "URL of the Customer Portal session"
// @Router /subscriptions/portal [get]
func (h *SubscriptionHandler) Portal(w http.ResponseWriter, r *http.Request) {
	userID, ok := requireUser(w, r)
	if !ok {
		return
	}
	url, err := h.billing.CreatePortalSession(r.Context(), userID)
	if err != nil {
		h.logger.Error().Err(err).Str("user_id", userID).Msg("failed to create portal session")
		h.errs.write(w, err)
		return
	}
	writeJSON(w, http.StatusOK, dto.URLResponseDTO{URL: url})
}
