package router

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"studybuddy/internal/api/v1/handler"
	"studybuddy/internal/metrics"
	"studybuddy/internal/model"
)

type fakeBilling struct{ webhooks int }

func (f *fakeBilling) CreateCheckoutSession(context.Context, string, model.PlanTier) (string, error) {
	return "", nil
}

func (f *fakeBilling) CreatePortalSession(context.Context, string) (string, error) { return "", nil }

func (f *fakeBilling) HandleWebhook(w http.ResponseWriter, _ *http.Request) {
	f.webhooks++
	w.WriteHeader(http.StatusOK)
}

func deny(status int) func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			w.WriteHeader(status)
		})
	}
}

func testHandlers(billing handler.Billing) Handlers {
	v := validator.New()
	log := zerolog.Nop()
	return Handlers{
		User:         handler.NewUserHandler(nil, nil, v, log),
		Usage:        handler.NewUsageHandler(nil, nil, v, "", log),
		Material:     handler.NewMaterialHandler(nil, v, log),
		Narration:    handler.NewNarrationHandler(nil, v, log),
		Chat:         handler.NewChatHandler(nil, v, log),
		Subscription: handler.NewSubscriptionHandler(billing, v, log),
		DLQ:          handler.NewDLQHandler(nil, log),
	}
}

func serve(h http.Handler, method, path string) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(method, path, strings.NewReader("{}")))
	return rec
}

func TestRoutesGuards(t *testing.T) {
	billing := &fakeBilling{}
	g := Guards{
		Auth:       deny(http.StatusUnauthorized),
		PubSubAuth: deny(http.StatusForbidden),
	}
	h := Routes(testHandlers(billing), g, metrics.New(), zerolog.Nop())

	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/v1/usage").Code)
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodPost, "/v1/materials/notes").Code)
	assert.Equal(t, http.StatusForbidden, serve(h, http.MethodPost, "/v1/dlq").Code)

	assert.Equal(t, http.StatusOK, serve(h, http.MethodPost, "/v1/stripe/webhook").Code)
	assert.Equal(t, 1, billing.webhooks)
}

func TestRateLimitCoversGenerationOnly(t *testing.T) {
	g := Guards{RateLimit: deny(http.StatusTooManyRequests)}
	h := Routes(testHandlers(&fakeBilling{}), g, nil, zerolog.Nop())

	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodPost, "/v1/materials/notes").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodPost, "/v1/materials/narration").Code)
	assert.Equal(t, http.StatusTooManyRequests, serve(h, http.MethodPost, "/v1/chat").Code)

	// reads reach the handler, which has no user in context
	assert.Equal(t, http.StatusUnauthorized, serve(h, http.MethodGet, "/v1/materials").Code)
}

func TestRoutesOperational(t *testing.T) {
	g := Guards{Ready: func(context.Context) error { return errors.New("db down") }}
	h := Routes(testHandlers(&fakeBilling{}), g, metrics.New(), zerolog.Nop())

	assert.Equal(t, http.StatusOK, serve(h, http.MethodGet, "/healthz").Code)
	assert.Equal(t, http.StatusServiceUnavailable, serve(h, http.MethodGet, "/readyz").Code)

	rec := serve(h, http.MethodGet, "/metrics")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "studybuddy_http_requests_total")

	rec = serve(h, http.MethodGet, "/api/usage")
	assert.Equal(t, http.StatusMovedPermanently, rec.Code)
	assert.Equal(t, "/v1/usage", rec.Header().Get("Location"))
}

func TestRoutesWithoutBilling(t *testing.T) {
	hs := testHandlers(nil)
	hs.Subscription = nil
	h := Routes(hs, Guards{}, nil, zerolog.Nop())

	assert.Equal(t, http.StatusNotFound, serve(h, http.MethodPost, "/v1/stripe/webhook").Code)
}
