package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"studybuddy/internal/config"
	"studybuddy/internal/logger"
)

const (
	retention          = 7 * 24 * time.Hour
	subscriptionExpiry = 31 * 24 * time.Hour
	// Narration runs script generation and speech in one delivery.
	narrationAckDeadline = 600 * time.Second
	maxDeliveryAttempts  = 5
)

func main() {
	reset := flag.Bool("reset", false, "Delete every topic and subscription first (emulator only)")
	flag.Parse()

	if err := godotenv.Load(); err != nil {
		fmt.Println("No .env file found, relying on system environment variables.")
	}

	logger := logger.New()
	logger.Info().Msg("Starting Pub/Sub setup for narration jobs.")

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Msgf("Failed to load config: %v", err)
	}
	if cfg.GCPProjectID == "" {
		logger.Fatal().Msg("GCP_PROJECT_ID is not set in the environment.")
	}

	opts := cfg.GCPClientOptions()
	if cfg.PubSubEmulatorHost != "" {
		opts = []option.ClientOption{
			option.WithEndpoint(cfg.PubSubEmulatorHost),
			option.WithoutAuthentication(),
		}
	} else if *reset {
		logger.Fatal().Msg("-reset is only allowed against the emulator (PUBSUB_EMULATOR_HOST).")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
	defer cancel()

	client, err := pubsub.NewClient(ctx, cfg.GCPProjectID, opts...)
	if err != nil {
		logger.Fatal().Msgf("Failed to create Pub/Sub client: %v", err)
	}
	defer func() {
		if err := client.Close(); err != nil {
			logger.Error().Msgf("Failed to close pubsub client: %v", err)
		}
	}()

	if *reset {
		if err := resetEmulator(ctx, client, logger); err != nil {
			logger.Fatal().Err(err).Msg("Failed to reset emulator")
		}
	}
	if err := ensureNarrationResources(ctx, client, cfg, logger); err != nil {
		logger.Fatal().Err(err).Msg("Pub/Sub setup failed")
	}
	logger.Info().Msg("Pub/Sub setup complete.")
}

// resetEmulator deletes all topics and subscriptions.
func resetEmulator(ctx context.Context, client *pubsub.Client, logger zerolog.Logger) error {
	logger.Info().Msg("Deleting all existing resources for a clean local setup")

	subs := client.Subscriptions(ctx)
	for {
		sub, err := subs.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list subscriptions: %w", err)
		}
		logger.Info().Str("subscription", sub.ID()).Msg("Deleting subscription")
		if err := sub.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("subscription", sub.ID()).Msg("Failed to delete subscription")
		}
	}

	topics := client.Topics(ctx)
	for {
		topic, err := topics.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return fmt.Errorf("list topics: %w", err)
		}
		logger.Info().Str("topic", topic.ID()).Msg("Deleting topic")
		if err := topic.Delete(ctx); err != nil {
			logger.Warn().Err(err).Str("topic", topic.ID()).Msg("Failed to delete topic")
		}
	}
	return nil
}

// ensureNarrationResources creates the narration topic and its pull
// subscription, which dead-letters into a DLQ topic pushed to the API.
func ensureNarrationResources(ctx context.Context, client *pubsub.Client, cfg *config.Config, logger zerolog.Logger) error {
	dlqTopic, err := ensureTopic(ctx, client, logger, cfg.PubSubNarrationDLQTopic)
	if err != nil {
		return err
	}
	mainTopic, err := ensureTopic(ctx, client, logger, cfg.PubSubNarrationTopic)
	if err != nil {
		return err
	}

	retry := &pubsub.RetryPolicy{MinimumBackoff: 10 * time.Second, MaximumBackoff: 600 * time.Second}

	err = ensureSubscription(ctx, client, logger, cfg.PubSubNarrationSubscription, pubsub.SubscriptionConfig{
		Topic:            mainTopic,
		AckDeadline:      narrationAckDeadline,
		ExpirationPolicy: subscriptionExpiry,
		RetryPolicy:      retry,
		DeadLetterPolicy: &pubsub.DeadLetterPolicy{
			DeadLetterTopic:     dlqTopic.String(),
			MaxDeliveryAttempts: maxDeliveryAttempts,
		},
	})
	if err != nil {
		return err
	}

	if cfg.DLQEndpointURL == "" {
		logger.Warn().Msg("DLQ_ENDPOINT_URL not set; dead-lettered narration messages will stay in the DLQ topic")
		return nil
	}
	push := pubsub.PushConfig{Endpoint: cfg.DLQEndpointURL}
	if cfg.PubSubPushServiceAccountEmail != "" {
		push.AuthenticationMethod = &pubsub.OIDCToken{
			ServiceAccountEmail: cfg.PubSubPushServiceAccountEmail,
			Audience:            cfg.DLQEndpointURL,
		}
	}
	return ensureSubscription(ctx, client, logger, cfg.PubSubNarrationDLQTopic+"-sub", pubsub.SubscriptionConfig{
		Topic:            dlqTopic,
		PushConfig:       push,
		AckDeadline:      60 * time.Second,
		ExpirationPolicy: subscriptionExpiry,
		RetryPolicy:      retry,
	})
}

func ensureTopic(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, topicID string) (*pubsub.Topic, error) {
	topic := client.Topic(topicID)
	exists, err := topic.Exists(ctx)
	if err != nil {
		return nil, fmt.Errorf("check topic %s: %w", topicID, err)
	}
	if !exists {
		logger.Info().Str("topic", topicID).Dur("retention", retention).Msg("Creating topic")
		return client.CreateTopicWithConfig(ctx, topicID, &pubsub.TopicConfig{RetentionDuration: retention})
	}

	cfg, err := topic.Config(ctx)
	if err != nil {
		return nil, fmt.Errorf("read topic %s config: %w", topicID, err)
	}
	if cfg.RetentionDuration != retention {
		logger.Warn().Str("topic", topicID).Msgf("Retention is %v, expected %v; update it manually", cfg.RetentionDuration, retention)
	}
	return topic, nil
}

func ensureSubscription(ctx context.Context, client *pubsub.Client, logger zerolog.Logger, subID string, want pubsub.SubscriptionConfig) error {
	sub := client.Subscription(subID)
	exists, err := sub.Exists(ctx)
	if err != nil {
		return fmt.Errorf("check subscription %s: %w", subID, err)
	}
	if !exists {
		logger.Info().Str("subscription", subID).Str("push_endpoint", want.PushConfig.Endpoint).Msg("Creating subscription")
		if _, err := client.CreateSubscription(ctx, subID, want); err != nil {
			return fmt.Errorf("create subscription %s: %w", subID, err)
		}
		return nil
	}

	have, err := sub.Config(ctx)
	if err != nil {
		return fmt.Errorf("read subscription %s config: %w", subID, err)
	}

	update := pubsub.SubscriptionConfigToUpdate{}
	changed := false
	if have.PushConfig.Endpoint != want.PushConfig.Endpoint {
		update.PushConfig = &want.PushConfig
		changed = true
	}
	if have.AckDeadline != want.AckDeadline {
		update.AckDeadline = want.AckDeadline
		changed = true
	}
	if !sameRetry(have.RetryPolicy, want.RetryPolicy) {
		update.RetryPolicy = want.RetryPolicy
		changed = true
	}
	if want.DeadLetterPolicy != nil && (have.DeadLetterPolicy == nil || *have.DeadLetterPolicy != *want.DeadLetterPolicy) {
		update.DeadLetterPolicy = want.DeadLetterPolicy
		changed = true
	}
	if !changed {
		logger.Info().Str("subscription", subID).Msg("Subscription is up to date")
		return nil
	}

	logger.Info().Str("subscription", subID).Msg("Updating subscription")
	if _, err := sub.Update(ctx, update); err != nil {
		return fmt.Errorf("update subscription %s: %w", subID, err)
	}
	return nil
}

func sameRetry(a, b *pubsub.RetryPolicy) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.MinimumBackoff == b.MinimumBackoff && a.MaximumBackoff == b.MaximumBackoff
}
