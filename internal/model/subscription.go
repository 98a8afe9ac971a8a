package model

import "time"

// UserSubscription is the billing state of a user, kept in sync by Stripe webhooks.
type UserSubscription struct {
	UserID               string    `db:"user_id" json:"user_id"`
	Tier                 PlanTier  `db:"tier" json:"tier"`
	StripePriceID        *string   `db:"stripe_price_id" json:"-"`
	StripeSubscriptionID *string   `db:"stripe_subscription_id" json:"-"`
	StartsAt             time.Time `db:"starts_at" json:"starts_at"`
	EndsAt               time.Time `db:"ends_at" json:"ends_at"`
	Status               string    `db:"status" json:"status"`
	CreatedAt            time.Time `db:"created_at" json:"created_at"`
	UpdatedAt            time.Time `db:"updated_at" json:"updated_at"`
}
