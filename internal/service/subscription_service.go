package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"studybuddy/internal/model"
	"studybuddy/internal/repository"
)

// TierCache holds resolved plan tiers for a short time.
type TierCache interface {
	// Get reports ok=false on a miss.
	Get(ctx context.Context, userID string) (tier model.PlanTier, ok bool, err error)
	Set(ctx context.Context, userID string, tier model.PlanTier) error
	Delete(ctx context.Context, userID string) error
}

type redisTierCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewRedisTierCache stores tiers under plan_tier:<user> with the given TTL.
func NewRedisTierCache(client *redis.Client, ttl time.Duration) TierCache {
	return &redisTierCache{client: client, ttl: ttl}
}

func tierKey(userID string) string {
	return fmt.Sprintf("plan_tier:%s", userID)
}

func (c *redisTierCache) Get(ctx context.Context, userID string) (model.PlanTier, bool, error) {
	v, err := c.client.Get(ctx, tierKey(userID)).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return model.PlanTier(v), true, nil
}

func (c *redisTierCache) Set(ctx context.Context, userID string, tier model.PlanTier) error {
	return c.client.Set(ctx, tierKey(userID), string(tier), c.ttl).Err()
}

func (c *redisTierCache) Delete(ctx context.Context, userID string) error {
	return c.client.Del(ctx, tierKey(userID)).Err()
}

// SubscriptionService resolves plan tiers and records billing changes.
type SubscriptionService interface {
	// ResolveTier returns the user's current tier, defaulting to cooked.
	ResolveTier(ctx context.Context, userID string) (model.PlanTier, error)
	// TierForPrice maps a Stripe price ID to the tier it sells.
	TierForPrice(priceID string) (model.PlanTier, bool)
	// PriceForTier returns the Stripe price ID that sells the tier.
	PriceForTier(tier model.PlanTier) (string, bool)
	UpsertStripeSubscription(ctx context.Context, sub *model.UserSubscription) error
	DowngradeToDefault(ctx context.Context, userID string) error
}

type subscriptionService struct {
	repo   repository.SubscriptionRepository
	cache  TierCache
	prices map[string]model.PlanTier
	logger zerolog.Logger
}

// NewSubscriptionService creates a new SubscriptionService with a scoped logger.
// prices maps Stripe price IDs to tiers. cache may be nil.
func NewSubscriptionService(repo repository.SubscriptionRepository, cache TierCache, prices map[string]model.PlanTier, logger zerolog.Logger) SubscriptionService {
	known := make(map[string]model.PlanTier, len(prices))
	for id, tier := range prices {
		if id != "" {
			known[id] = tier
		}
	}
	return &subscriptionService{
		repo:   repo,
		cache:  cache,
		prices: known,
		logger: logger.With().Str("service", "SubscriptionService").Logger(),
	}
}

func (s *subscriptionService) ResolveTier(ctx context.Context, userID string) (model.PlanTier, error) {
	if s.cache != nil {
		tier, ok, err := s.cache.Get(ctx, userID)
		switch {
		case err != nil:
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Plan tier cache unavailable")
		case ok:
			if _, known := model.LimitsFor(tier); known {
				return tier, nil
			}
		}
	}

	sub, err := s.repo.GetActiveSubscription(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch active subscription")
		return "", err
	}

	tier := model.PlanCooked
	if sub != nil {
		if _, known := model.LimitsFor(sub.Tier); known {
			tier = sub.Tier
		} else {
			s.logger.Warn().Str("user_id", userID).Str("tier", string(sub.Tier)).Msg("Subscription has unknown tier; using default")
		}
	}

	if s.cache != nil {
		if err := s.cache.Set(ctx, userID, tier); err != nil {
			s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to cache plan tier")
		}
	}
	return tier, nil
}

func (s *subscriptionService) TierForPrice(priceID string) (model.PlanTier, bool) {
	tier, ok := s.prices[priceID]
	return tier, ok
}

func (s *subscriptionService) PriceForTier(tier model.PlanTier) (string, bool) {
	for id, t := range s.prices {
		if t == tier {
			return id, true
		}
	}
	return "", false
}

func (s *subscriptionService) UpsertStripeSubscription(ctx context.Context, sub *model.UserSubscription) error {
	if err := s.repo.UpsertStripeSubscription(ctx, sub); err != nil {
		s.logger.Error().Err(err).Str("user_id", sub.UserID).Str("tier", string(sub.Tier)).Msg("Failed to upsert subscription")
		return err
	}
	s.invalidate(ctx, sub.UserID)
	return nil
}

func (s *subscriptionService) DowngradeToDefault(ctx context.Context, userID string) error {
	if err := s.repo.DowngradeToDefault(ctx, userID); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to downgrade subscription")
		return err
	}
	s.invalidate(ctx, userID)
	return nil
}

func (s *subscriptionService) invalidate(ctx context.Context, userID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Delete(ctx, userID); err != nil {
		s.logger.Warn().Err(err).Str("user_id", userID).Msg("Failed to invalidate cached plan tier")
	}
}
