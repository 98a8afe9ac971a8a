package router

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/cors"
	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/handler"
	"studybuddy/internal/bootstrap"
	"studybuddy/internal/config"
	"studybuddy/internal/metrics"
	"studybuddy/internal/middleware"
	"studybuddy/internal/repository"
	"studybuddy/internal/service"
	"studybuddy/internal/storage"
)

// Handlers are the v1 route groups.
type Handlers struct {
	User         *handler.UserHandler
	Usage        *handler.UsageHandler
	Material     *handler.MaterialHandler
	Narration    *handler.NarrationHandler
	Chat         *handler.ChatHandler
	Subscription *handler.SubscriptionHandler
	DLQ          *handler.DLQHandler
}

// Guards wrap route groups. A nil guard lets requests through.
type Guards struct {
	Auth       func(http.Handler) http.Handler
	RateLimit  func(http.Handler) http.Handler
	PubSubAuth func(http.Handler) http.Handler
	// Ready reports whether dependencies are reachable, for /readyz.
	Ready func(ctx context.Context) error
}

// Routes mounts every route on a chi router.
//
//	/healthz, /readyz, /metrics       unauthenticated
//	/v1/stripe/webhook                Stripe signature
//	/v1/dlq                           Pub/Sub push token
//	/v1/...                           bearer JWT
//	/v1/materials/{type}, /v1/chat    bearer JWT and per-tier rate limit
func Routes(h Handlers, g Guards, m *metrics.Metrics, logger zerolog.Logger) http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.Recoverer)
	r.Use(middleware.LoggerMiddleware(logger, m))

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if g.Ready != nil {
			if err := g.Ready(r.Context()); err != nil {
				logger.Warn().Err(err).Msg("Readiness check failed")
				http.Error(w, "not ready", http.StatusServiceUnavailable)
				return
			}
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	if m != nil {
		r.Handle("/metrics", m.Handler())
	}

	r.Route("/v1", func(r chi.Router) {
		if h.Subscription != nil {
			h.Subscription.RegisterWebhook(r)
		}
		if h.DLQ != nil {
			r.Group(func(r chi.Router) {
				use(r, g.PubSubAuth)
				h.DLQ.RegisterRoutes(r)
			})
		}

		r.Group(func(r chi.Router) {
			use(r, g.Auth)
			h.User.RegisterRoutes(r)
			h.Usage.RegisterRoutes(r)
			h.Material.RegisterRoutes(r)
			h.Narration.RegisterRoutes(r)
			if h.Subscription != nil {
				h.Subscription.RegisterRoutes(r)
			}

			r.Group(func(r chi.Router) {
				use(r, g.RateLimit)
				h.Material.RegisterGenerationRoutes(r)
				h.Narration.RegisterGenerationRoutes(r)
				h.Chat.RegisterGenerationRoutes(r)
			})
		})
	})

	// Redirect /api/* to /v1/* for older clients.
	r.HandleFunc("/api/*", func(w http.ResponseWriter, r *http.Request) {
		rest := strings.TrimPrefix(r.URL.Path, "/api/")
		http.Redirect(w, r, "/v1/"+rest, http.StatusMovedPermanently)
	})

	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"Location", "Retry-After", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}

func use(r chi.Router, mw func(http.Handler) http.Handler) {
	if mw != nil {
		r.Use(mw)
	}
}

// New wires the API server from configuration. The returned cleanup closes
// every client New opened.
func New(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (http.Handler, func(), error) {
	logger.Info().Str("environment", cfg.Environment).Msg("App environment loaded")

	var closers []func()
	cleanup := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}
	fail := func(err error) (http.Handler, func(), error) {
		cleanup()
		return nil, nil, err
	}

	bootstrap.LoadProviderKeys(ctx, cfg, logger)

	pool, err := bootstrap.OpenDB(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, pool.Close)

	rdb, err := bootstrap.OpenRedis(ctx, cfg, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, func() { _ = rdb.Close() })

	s3Client, err := storage.NewS3Client(ctx, cfg)
	if err != nil {
		return fail(err)
	}
	store := storage.NewS3Store(s3Client, cfg.S3Bucket)

	gen, err := bootstrap.NewGeneration(ctx, cfg, m, logger)
	if err != nil {
		return fail(err)
	}

	transport, err := bootstrap.NewNarrationTransport(ctx, cfg, pool, logger)
	if err != nil {
		return fail(err)
	}
	closers = append(closers, transport.Close)

	validate := validator.New(validator.WithRequiredStructEnabled())

	userRepo := repository.NewUserRepo(pool)
	subRepo := repository.NewSubscriptionRepo(pool)
	usageRepo := repository.NewUsageRepo(pool)
	materialRepo := repository.NewMaterialRepo(pool)
	narrationRepo := repository.NewNarrationRepo(pool)
	dlqRepo := repository.NewDLQRepository(pool)

	tierCache := service.NewRedisTierCache(rdb, time.Duration(cfg.PlanCacheTTLSec)*time.Second)
	subSvc := service.NewSubscriptionService(subRepo, tierCache, bootstrap.PlanPrices(cfg), logger)
	userSvc := service.NewUserService(userRepo)
	quotaSvc := service.NewQuotaService(usageRepo, m, logger)
	materialSvc := service.NewMaterialService(materialRepo, gen.Chain, gen.Prompts, validate, logger)
	narrationSvc := service.NewNarrationService(narrationRepo, transport.Publisher, transport.Queue, store, cfg.NarrationAudioURLTTL(), logger)
	dlqSvc := service.NewDLQService(dlqRepo, logger)

	h := Handlers{
		User:      handler.NewUserHandler(userSvc, subSvc, validate, logger),
		Usage:     handler.NewUsageHandler(quotaSvc, subSvc, validate, cfg.UpgradeURL, logger),
		Material:  handler.NewMaterialHandler(materialSvc, validate, logger),
		Narration: handler.NewNarrationHandler(narrationSvc, validate, logger),
		Chat:      handler.NewChatHandler(materialSvc, validate, logger),
		DLQ:       handler.NewDLQHandler(dlqSvc, logger),
	}
	if cfg.StripeSecretKey != "" {
		stripeSvc := service.NewStripeService(cfg, userRepo, subSvc, logger)
		h.Subscription = handler.NewSubscriptionHandler(stripeSvc, validate, logger)
	} else {
		logger.Warn().Msg("STRIPE_SECRET_KEY not set; billing routes disabled")
	}

	limiter := middleware.NewRateLimiter(middleware.NewRedisCounter(rdb), subSvc, bootstrap.RateLimits(cfg), time.Minute, logger)
	g := Guards{
		Auth:       middleware.AuthMiddleware(cfg.JWTSecret, logger),
		RateLimit:  limiter.Middleware,
		PubSubAuth: middleware.PubSubAuthMiddleware(cfg.PubSubEmulatorHost != "", cfg.DLQEndpointURL, cfg.PubSubPushServiceAccountEmail, logger),
		Ready:      readiness(pool),
	}

	logger.Info().Msg("Router initialized")
	return Routes(h, g, m, logger), cleanup, nil
}

func readiness(pool *pgxpool.Pool) func(ctx context.Context) error {
	return func(ctx context.Context) error {
		ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
		defer cancel()
		return pool.Ping(ctx)
	}
}
