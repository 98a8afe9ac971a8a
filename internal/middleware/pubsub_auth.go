package middleware

import (
	"context"
	"net/http"

	"github.com/rs/zerolog"
	"google.golang.org/api/idtoken"
)

// PushTokenValidator checks a Google-signed ID token for the given audience.
type PushTokenValidator func(ctx context.Context, token, audience string) (*idtoken.Payload, error)

// PushAuth admits Pub/Sub push deliveries signed as one service account.
type PushAuth struct {
	Audience       string
	ServiceAccount string
	// SkipVerify admits every request. The emulator sends no token.
	SkipVerify bool
	Validate   PushTokenValidator
	logger     zerolog.Logger
}

// PubSubAuthMiddleware validates the OIDC token Pub/Sub attaches to push
// requests. It bypasses authentication if isLocalDev is true.
func PubSubAuthMiddleware(isLocalDev bool, audience, expectedEmail string, logger zerolog.Logger) func(http.Handler) http.Handler {
	a := &PushAuth{
		Audience:       audience,
		ServiceAccount: expectedEmail,
		SkipVerify:     isLocalDev,
		Validate:       idtoken.Validate,
		logger:         logger.With().Str("component", "PubSubAuth").Logger(),
	}
	if isLocalDev {
		a.logger.Warn().Msg("Pub/Sub push authentication disabled for the emulator")
	} else if audience == "" || expectedEmail == "" {
		a.logger.Error().Msg("DLQ_ENDPOINT_URL or PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL not set; push requests will be denied")
	}
	return a.Middleware
}

func (a *PushAuth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if a.SkipVerify {
			next.ServeHTTP(w, r)
			return
		}
		if a.Audience == "" || a.ServiceAccount == "" {
			http.Error(w, "push authentication is not configured", http.StatusInternalServerError)
			return
		}

		token, ok := bearerToken(r)
		if !ok {
			a.logger.Warn().Msg("Push request without a bearer token")
			http.Error(w, "Unauthorized: missing authorization header", http.StatusUnauthorized)
			return
		}
		payload, err := a.Validate(r.Context(), token, a.Audience)
		if err != nil {
			a.logger.Warn().Err(err).Msg("Push token rejected")
			http.Error(w, "Unauthorized: invalid token", http.StatusUnauthorized)
			return
		}

		email, _ := payload.Claims["email"].(string)
		verified, _ := payload.Claims["email_verified"].(bool)
		if email != a.ServiceAccount || !verified {
			a.logger.Warn().Str("token_email", email).Msg("Push token signed by an unexpected account")
			http.Error(w, "Forbidden: unexpected service account", http.StatusForbidden)
			return
		}
		next.ServeHTTP(w, r)
	})
}
