package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"google.golang.org/api/option"
)

type Config struct {
	Port        string `envconfig:"PORT" default:"8080"`
	Environment string `envconfig:"ENV" default:"production"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	APIBaseURL  string `envconfig:"API_BASE_URL" default:"http://localhost:8080"`

	DBConnectionString string `envconfig:"DB_CONNECTION_STRING" required:"true"`
	JWTSecret          string `envconfig:"JWT_SECRET" required:"true"`
	RedisURL           string `envconfig:"REDIS_URL" default:"redis://localhost:6379/0"`

	S3URL       string `envconfig:"S3_URL" required:"true"`
	S3Bucket    string `envconfig:"S3_BUCKET" required:"true"`
	S3Region    string `envconfig:"S3_REGION" default:"us-east-1"`
	S3AccessKey string `envconfig:"S3_ACCESS_KEY" required:"true"`
	S3SecretKey string `envconfig:"S3_SECRET_KEY" required:"true"`

	// AI providers. Empty keys are looked up in Secret Manager when GCPProjectID is set.
	ProviderOrder      []string `envconfig:"PROVIDER_ORDER" default:"openai,anthropic,gemini"`
	ProviderTimeoutSec int      `envconfig:"PROVIDER_TIMEOUT_SEC" default:"20"`
	MaxSourceTokens    int      `envconfig:"MAX_SOURCE_TOKENS" default:"12000"`

	OpenAIAPIKey   string `envconfig:"OPENAI_API_KEY"`
	OpenAIBaseURL  string `envconfig:"OPENAI_BASE_URL" default:"https://api.openai.com/v1"`
	OpenAIModel    string `envconfig:"OPENAI_MODEL" default:"gpt-4o-mini"`
	OpenAITTSModel string `envconfig:"OPENAI_TTS_MODEL" default:"gpt-4o-mini-tts"`

	XAIAPIKey  string `envconfig:"XAI_API_KEY"`
	XAIBaseURL string `envconfig:"XAI_BASE_URL" default:"https://api.x.ai/v1"`
	XAIModel   string `envconfig:"XAI_MODEL" default:"grok-4-1-fast-non-reasoning"`

	AnthropicAPIKey  string `envconfig:"ANTHROPIC_API_KEY"`
	AnthropicBaseURL string `envconfig:"ANTHROPIC_BASE_URL" default:"https://api.anthropic.com/v1"`
	AnthropicModel   string `envconfig:"ANTHROPIC_MODEL" default:"claude-haiku-4-5"`

	GeminiAPIKey string `envconfig:"GEMINI_API_KEY"`
	GeminiModel  string `envconfig:"GEMINI_MODEL" default:"gemini-2.0-flash"`

	// Stripe
	StripeSecretKey       string `envconfig:"STRIPE_SECRET_KEY"`
	StripeWebhookSecret   string `envconfig:"STRIPE_WEBHOOK_SECRET"`
	StripePriceCommited   string `envconfig:"STRIPE_PRICE_COMMITED"`
	StripePriceLockedIn   string `envconfig:"STRIPE_PRICE_LOCKED_IN"`
	StripePortalReturnURL string `envconfig:"STRIPE_PORTAL_RETURN_URL" default:"http://localhost:3000/settings/billing"`
	PlanCacheTTLSec       int    `envconfig:"PLAN_CACHE_TTL_SEC" default:"300"`
	UpgradeURL            string `envconfig:"UPGRADE_URL" default:"http://localhost:3000/pricing"`

	// Google Cloud
	GCPProjectID                string `envconfig:"GCP_PROJECT_ID"`
	GCPCredentialsFile          string `envconfig:"GCP_CREDENTIALS_FILE"`
	PubSubNarrationTopic        string `envconfig:"PUBSUB_NARRATION_TOPIC" default:"narration-jobs"`
	PubSubNarrationSubscription string `envconfig:"PUBSUB_NARRATION_SUBSCRIPTION" default:"narration-jobs-worker"`
	PubSubNarrationDLQTopic     string `envconfig:"PUBSUB_NARRATION_DLQ_TOPIC" default:"narration-jobs-dlq"`
	PubSubEmulatorHost          string `envconfig:"PUBSUB_EMULATOR_HOST"`
	// Dead-lettered messages are pushed to DLQEndpointURL with an OIDC token
	// for PubSubPushServiceAccountEmail.
	DLQEndpointURL                string `envconfig:"DLQ_ENDPOINT_URL"`
	PubSubPushServiceAccountEmail string `envconfig:"PUBSUB_PUSH_SERVICE_ACCOUNT_EMAIL"`

	// Narration orchestrator settings. NarrationQueue selects the transport: pubsub or pgmq.
	NarrationQueue             string `envconfig:"NARRATION_QUEUE" default:"pubsub"`
	PgmqNarrationQueue         string `envconfig:"PGMQ_NARRATION_QUEUE" default:"narration_queue"`
	NarrationAudioURLTTLMin    int    `envconfig:"NARRATION_AUDIO_URL_TTL_MIN" default:"15"`
	NarrationMaxRetries        int    `envconfig:"NARRATION_MAX_RETRIES" default:"3"`
	NarrationBackoffInitialSec int    `envconfig:"NARRATION_BACKOFF_INITIAL_SEC" default:"2"`
	NarrationBackoffMaxSec     int    `envconfig:"NARRATION_BACKOFF_MAX_SEC" default:"30"`
	NarrationRequestTimeoutSec int    `envconfig:"NARRATION_REQUEST_TIMEOUT_SEC" default:"180"`

	// Generation requests per minute, by plan tier.
	RateLimitCooked   int `envconfig:"RATE_LIMIT_COOKED" default:"5"`
	RateLimitCommited int `envconfig:"RATE_LIMIT_COMMITED" default:"20"`
	RateLimitLockedIn int `envconfig:"RATE_LIMIT_LOCKED_IN" default:"60"`
}

// Narration queue transports.
const (
	NarrationQueuePubSub = "pubsub"
	NarrationQueuePgmq   = "pgmq"
)

func Load() (*Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return nil, err
	}
	if cfg.ProviderTimeoutSec <= 0 {
		return nil, fmt.Errorf("PROVIDER_TIMEOUT_SEC must be positive, got %d", cfg.ProviderTimeoutSec)
	}
	switch cfg.NarrationQueue {
	case NarrationQueuePubSub, NarrationQueuePgmq:
	default:
		return nil, fmt.Errorf("NARRATION_QUEUE must be %q or %q, got %q", NarrationQueuePubSub, NarrationQueuePgmq, cfg.NarrationQueue)
	}
	for i, name := range cfg.ProviderOrder {
		cfg.ProviderOrder[i] = strings.ToLower(strings.TrimSpace(name))
	}
	return &cfg, nil
}

// ProviderTimeout is the bounded wait applied to each provider attempt.
func (c *Config) ProviderTimeout() time.Duration {
	return time.Duration(c.ProviderTimeoutSec) * time.Second
}

func (c *Config) IsDevelopment() bool {
	return c.Environment == "development"
}

// NarrationQueueName is the topic or queue narration jobs are published to.
func (c *Config) NarrationQueueName() string {
	if c.NarrationQueue == NarrationQueuePgmq {
		return c.PgmqNarrationQueue
	}
	return c.PubSubNarrationTopic
}

// NarrationAudioURLTTL is how long a presigned narration audio link stays valid.
func (c *Config) NarrationAudioURLTTL() time.Duration {
	return time.Duration(c.NarrationAudioURLTTLMin) * time.Minute
}

// GCPClientOptions are shared by the Pub/Sub and Secret Manager clients.
// Without a credentials file the clients use application default credentials.
func (c *Config) GCPClientOptions() []option.ClientOption {
	if c.GCPCredentialsFile == "" {
		return nil
	}
	return []option.ClientOption{option.WithCredentialsFile(c.GCPCredentialsFile)}
}
