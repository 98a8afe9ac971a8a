package service

import (
	"context"
	"fmt"

	secretmanager "cloud.google.com/go/secretmanager/apiv1"
	"cloud.google.com/go/secretmanager/apiv1/secretmanagerpb"
	"github.com/rs/zerolog"

	"studybuddy/internal/config"
)

// SecretManagerService reads provider credentials from GCP Secret Manager.
type SecretManagerService interface {
	GetSecret(ctx context.Context, name string) (string, error)
	Close() error
}

type secretManagerService struct {
	client    *secretmanager.Client
	projectID string
}

func NewSecretManagerService(ctx context.Context, cfg *config.Config) (SecretManagerService, error) {
	if cfg.GCPProjectID == "" {
		return nil, fmt.Errorf("GCP_PROJECT_ID is not set")
	}

	client, err := secretmanager.NewClient(ctx, cfg.GCPClientOptions()...)
	if err != nil {
		return nil, fmt.Errorf("failed to create Secret Manager client: %w", err)
	}

	return &secretManagerService{
		client:    client,
		projectID: cfg.GCPProjectID,
	}, nil
}

func (s *secretManagerService) GetSecret(ctx context.Context, name string) (string, error) {
	resourceName := fmt.Sprintf("projects/%s/secrets/%s/versions/latest", s.projectID, name)

	result, err := s.client.AccessSecretVersion(ctx, &secretmanagerpb.AccessSecretVersionRequest{
		Name: resourceName,
	})
	if err != nil {
		return "", fmt.Errorf("failed to access secret %s: %w", name, err)
	}

	return string(result.Payload.Data), nil
}

func (s *secretManagerService) Close() error {
	return s.client.Close()
}

// providerSecretName is the Secret Manager name holding a provider's API key.
func providerSecretName(provider string) string {
	return fmt.Sprintf("studybuddy-%s-api-key", provider)
}

// ResolveProviderKeys fills API keys missing from the environment with the
// matching secrets. A secret that cannot be read leaves the key empty, which
// drops that provider from the chain.
func ResolveProviderKeys(ctx context.Context, cfg *config.Config, secrets SecretManagerService, logger zerolog.Logger) {
	keys := map[string]*string{
		"openai":    &cfg.OpenAIAPIKey,
		"xai":       &cfg.XAIAPIKey,
		"anthropic": &cfg.AnthropicAPIKey,
		"gemini":    &cfg.GeminiAPIKey,
	}
	for name, key := range keys {
		if *key != "" {
			continue
		}
		v, err := secrets.GetSecret(ctx, providerSecretName(name))
		if err != nil {
			logger.Warn().Err(err).Str("provider", name).Msg("No API key in environment or Secret Manager")
			continue
		}
		*key = v
	}
}
