// Package bootstrap builds the clients shared by the API server and the
// narration orchestrator.
package bootstrap

import (
	"context"
	"fmt"
	"net/http"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studybuddy/internal/config"
	"studybuddy/internal/generation"
	"studybuddy/internal/metrics"
	"studybuddy/internal/model"
	"studybuddy/internal/orchestrator/narration"
	"studybuddy/internal/pgmq"
	"studybuddy/internal/provider"
	"studybuddy/internal/pubsub"
	"studybuddy/internal/service"
)

// OpenDB opens and pings the Postgres pool.
func OpenDB(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(withDevSSLMode(cfg))
	if err != nil {
		return nil, fmt.Errorf("parse DB_CONNECTION_STRING: %w", err)
	}
	poolCfg.MaxConns = 25
	// Transaction poolers such as pgbouncer cannot hold server-side prepared
	// statements across transactions.
	if !cfg.IsDevelopment() {
		poolCfg.ConnConfig.DefaultQueryExecMode = pgx.QueryExecModeSimpleProtocol
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("open DB pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping DB: %w", err)
	}
	logger.Info().Str("host", poolCfg.ConnConfig.Host).Msg("Database connection successful")
	return pool, nil
}

// withDevSSLMode disables SSL for local databases unless the DSN says otherwise.
func withDevSSLMode(cfg *config.Config) string {
	dsn := cfg.DBConnectionString
	if !cfg.IsDevelopment() || strings.Contains(dsn, "sslmode") {
		return dsn
	}
	separator := " "
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		separator = "?"
		if strings.Contains(dsn, "?") {
			separator = "&"
		}
	}
	return dsn + separator + "sslmode=disable"
}

// OpenRedis connects to REDIS_URL. A failed ping is logged, not fatal: the
// tier cache and rate limiter both degrade without Redis.
func OpenRedis(ctx context.Context, cfg *config.Config, logger zerolog.Logger) (*redis.Client, error) {
	opts, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		return nil, fmt.Errorf("parse REDIS_URL: %w", err)
	}
	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		logger.Warn().Err(err).Msg("Redis unavailable at startup")
	}
	return client, nil
}

// LoadProviderKeys fills provider keys missing from the environment from
// Secret Manager when a GCP project is configured.
func LoadProviderKeys(ctx context.Context, cfg *config.Config, logger zerolog.Logger) {
	if cfg.GCPProjectID == "" {
		return
	}
	secrets, err := service.NewSecretManagerService(ctx, cfg)
	if err != nil {
		logger.Warn().Err(err).Msg("Secret Manager unavailable; using environment keys only")
		return
	}
	defer func() {
		if err := secrets.Close(); err != nil {
			logger.Warn().Err(err).Msg("Failed to close Secret Manager client")
		}
	}()
	service.ResolveProviderKeys(ctx, cfg, secrets, logger)
}

// Providers builds the chain members in PROVIDER_ORDER. Providers without a
// key are skipped.
func Providers(ctx context.Context, cfg *config.Config, logger zerolog.Logger) ([]provider.Provider, error) {
	httpClient := &http.Client{}
	var out []provider.Provider
	for _, name := range cfg.ProviderOrder {
		var (
			p   provider.Provider
			err error
		)
		switch name {
		case "openai":
			if cfg.OpenAIAPIKey == "" {
				break
			}
			p, err = provider.NewOpenAI(provider.OpenAIConfig{
				APIKey:     cfg.OpenAIAPIKey,
				BaseURL:    cfg.OpenAIBaseURL,
				Model:      cfg.OpenAIModel,
				Vision:     true,
				HTTPClient: httpClient,
			})
		case "xai":
			if cfg.XAIAPIKey == "" {
				break
			}
			p, err = provider.NewXAI(cfg.XAIAPIKey, cfg.XAIBaseURL, cfg.XAIModel, httpClient)
		case "anthropic":
			if cfg.AnthropicAPIKey == "" {
				break
			}
			p, err = provider.NewAnthropic(provider.AnthropicConfig{
				APIKey:     cfg.AnthropicAPIKey,
				BaseURL:    cfg.AnthropicBaseURL,
				Model:      cfg.AnthropicModel,
				HTTPClient: httpClient,
			})
		case "gemini":
			if cfg.GeminiAPIKey == "" {
				break
			}
			p, err = provider.NewGemini(ctx, provider.GeminiConfig{
				APIKey:     cfg.GeminiAPIKey,
				Model:      cfg.GeminiModel,
				HTTPClient: httpClient,
			})
		default:
			return nil, fmt.Errorf("unknown provider %q in PROVIDER_ORDER", name)
		}
		if err != nil {
			return nil, fmt.Errorf("build provider %s: %w", name, err)
		}
		if p == nil {
			logger.Warn().Str("provider", name).Msg("No API key; provider left out of the chain")
			continue
		}
		out = append(out, p)
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("no AI provider configured; set one of the keys for %s", strings.Join(cfg.ProviderOrder, ", "))
	}
	names := make([]string, len(out))
	for i, p := range out {
		names[i] = p.Name()
	}
	logger.Info().Strs("providers", names).Msg("Provider chain configured")
	return out, nil
}

// Generation holds the chain and the prompt builder that feeds it.
type Generation struct {
	Chain   generation.Generator
	Prompts *generation.PromptBuilder
}

// NewGeneration builds the fallback chain over the configured providers.
func NewGeneration(ctx context.Context, cfg *config.Config, m *metrics.Metrics, logger zerolog.Logger) (*Generation, error) {
	providers, err := Providers(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}
	truncator, err := generation.NewTruncator(cfg.MaxSourceTokens)
	if err != nil {
		logger.Warn().Err(err).Msg("Tokenizer unavailable; estimating source length from bytes")
	}
	return &Generation{
		Chain:   generation.NewChain(providers, cfg.ProviderTimeout(), m, logger),
		Prompts: generation.NewPromptBuilder(truncator),
	}, nil
}

// PlanPrices maps the configured Stripe price IDs to the tiers they sell.
func PlanPrices(cfg *config.Config) map[string]model.PlanTier {
	return map[string]model.PlanTier{
		cfg.StripePriceCommited: model.PlanCommited,
		cfg.StripePriceLockedIn: model.PlanLockedIn,
	}
}

// RateLimits are the per-minute generation limits by tier.
func RateLimits(cfg *config.Config) map[model.PlanTier]int {
	return map[model.PlanTier]int{
		model.PlanCooked:   cfg.RateLimitCooked,
		model.PlanCommited: cfg.RateLimitCommited,
		model.PlanLockedIn: cfg.RateLimitLockedIn,
	}
}

// Speech builds the text-to-speech client. Narration needs an OpenAI key.
func Speech(cfg *config.Config) (provider.Synthesizer, error) {
	return provider.NewSpeech(provider.SpeechConfig{
		APIKey:  cfg.OpenAIAPIKey,
		BaseURL: cfg.OpenAIBaseURL,
		Model:   cfg.OpenAITTSModel,
	})
}

// NarrationTransport publishes and consumes narration jobs over the
// configured queue.
type NarrationTransport struct {
	Publisher pubsub.Publisher
	Source    narration.Source
	// Queue is the name publishers send to.
	Queue string
	// Subscription is the name the source receives from.
	Subscription string
	close        func()
}

// Close releases the transport's client, if it owns one.
func (t *NarrationTransport) Close() {
	if t.close != nil {
		t.close()
	}
}

// NewNarrationTransport picks Pub/Sub or pgmq by NARRATION_QUEUE.
func NewNarrationTransport(ctx context.Context, cfg *config.Config, pool *pgxpool.Pool, logger zerolog.Logger) (*NarrationTransport, error) {
	if cfg.NarrationQueue == config.NarrationQueuePgmq {
		client := pgmq.New(pool)
		if err := client.CreateQueue(ctx, cfg.PgmqNarrationQueue); err != nil {
			return nil, err
		}
		logger.Info().Str("queue", cfg.PgmqNarrationQueue).Msg("Narration jobs use pgmq")
		return &NarrationTransport{
			Publisher:    client,
			Source:       pgmq.NewConsumer(client, logger),
			Queue:        cfg.PgmqNarrationQueue,
			Subscription: cfg.PgmqNarrationQueue,
		}, nil
	}

	client, err := pubsub.NewClient(ctx, cfg)
	if err != nil {
		return nil, err
	}
	logger.Info().Str("topic", cfg.PubSubNarrationTopic).Msg("Narration jobs use Pub/Sub")
	return &NarrationTransport{
		Publisher:    pubsub.NewPublisher(client),
		Source:       pubsub.NewSubscriber(client, 2, logger),
		Queue:        cfg.PubSubNarrationTopic,
		Subscription: cfg.PubSubNarrationSubscription,
		close: func() {
			if err := client.Close(); err != nil {
				logger.Warn().Err(err).Msg("Failed to close Pub/Sub client")
			}
		},
	}, nil
}
