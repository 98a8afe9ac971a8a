package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"studybuddy/internal/model"
)

// SubscriptionRepository defines methods for accessing subscription data.
type SubscriptionRepository interface {
	// GetActiveSubscription returns nil when the user has no subscription in force.
	GetActiveSubscription(ctx context.Context, userID string) (*model.UserSubscription, error)
	UpsertStripeSubscription(ctx context.Context, sub *model.UserSubscription) error
	// DowngradeToDefault moves the user back to the default tier.
	DowngradeToDefault(ctx context.Context, userID string) error
}

type subscriptionRepo struct {
	pool *pgxpool.Pool
}

// NewSubscriptionRepo creates a new SubscriptionRepository.
func NewSubscriptionRepo(pool *pgxpool.Pool) SubscriptionRepository {
	return &subscriptionRepo{pool: pool}
}

// GetActiveSubscription returns the current active subscription for a user.
func (r *subscriptionRepo) GetActiveSubscription(ctx context.Context, userID string) (*model.UserSubscription, error) {
	const q = `
        SELECT user_id, tier, stripe_price_id, stripe_subscription_id, starts_at, ends_at, status, created_at, updated_at
        FROM user_subscriptions
        WHERE user_id = $1
          AND status IN ('active', 'cancelled') -- cancelled plans stay usable until period end
          AND ends_at > NOW()
    `
	var us model.UserSubscription
	err := r.pool.QueryRow(ctx, q, userID).Scan(
		&us.UserID,
		&us.Tier,
		&us.StripePriceID,
		&us.StripeSubscriptionID,
		&us.StartsAt,
		&us.EndsAt,
		&us.Status,
		&us.CreatedAt,
		&us.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("fetch active subscription for user %s: %w", userID, err)
	}
	return &us, nil
}

func (r *subscriptionRepo) UpsertStripeSubscription(ctx context.Context, sub *model.UserSubscription) error {
	const q = `
		INSERT INTO user_subscriptions (user_id, tier, stripe_price_id, stripe_subscription_id, starts_at, ends_at, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, NOW(), NOW())
		ON CONFLICT (user_id) DO UPDATE
		SET tier = EXCLUDED.tier,
			stripe_price_id = EXCLUDED.stripe_price_id,
			stripe_subscription_id = EXCLUDED.stripe_subscription_id,
			starts_at = EXCLUDED.starts_at,
			ends_at = EXCLUDED.ends_at,
			status = EXCLUDED.status,
			updated_at = NOW();
	`
	_, err := r.pool.Exec(ctx, q,
		sub.UserID,
		sub.Tier,
		sub.StripePriceID,
		sub.StripeSubscriptionID,
		sub.StartsAt,
		sub.EndsAt,
		sub.Status,
	)
	if err != nil {
		return fmt.Errorf("upsert stripe subscription for user %s: %w", sub.UserID, err)
	}
	return nil
}

func (r *subscriptionRepo) DowngradeToDefault(ctx context.Context, userID string) error {
	const q = `
		UPDATE user_subscriptions
		SET
			tier = $2,
			status = 'active',
			starts_at = $3,
			ends_at = 'infinity',
			stripe_price_id = NULL,
			stripe_subscription_id = NULL,
			updated_at = NOW()
		WHERE
			user_id = $1;
	`
	if _, err := r.pool.Exec(ctx, q, userID, model.PlanCooked, time.Now()); err != nil {
		return fmt.Errorf("downgrade user %s to %s: %w", userID, model.PlanCooked, err)
	}
	return nil
}
