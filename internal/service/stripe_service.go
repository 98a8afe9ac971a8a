package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/rs/zerolog"
	"github.com/stripe/stripe-go/v82"
	billingsession "github.com/stripe/stripe-go/v82/billingportal/session"
	checkoutsession "github.com/stripe/stripe-go/v82/checkout/session"
	customerpkg "github.com/stripe/stripe-go/v82/customer"
	subscriptionpkg "github.com/stripe/stripe-go/v82/subscription"
	"github.com/stripe/stripe-go/v82/webhook"

	"studybuddy/internal/config"
	"studybuddy/internal/model"
	"studybuddy/internal/repository"
)

// ErrNoPriceForTier is returned when checkout is requested for a tier that is not sold.
var ErrNoPriceForTier = errors.New("tier has no stripe price")

// ErrNoStripeCustomer is returned when a portal session is requested before any checkout.
var ErrNoStripeCustomer = errors.New("user has no stripe customer")

// StripeService manages Stripe integration
type StripeService struct {
	cfg      *config.Config
	userRepo repository.UserRepository
	subSvc   SubscriptionService
	// getSubscription reads a subscription from the Stripe API.
	getSubscription func(ctx context.Context, id string) (*stripe.Subscription, error)
	logger          zerolog.Logger
}

// NewStripeService initializes Stripe key and returns service with a scoped logger
func NewStripeService(cfg *config.Config, userRepo repository.UserRepository, subSvc SubscriptionService, logger zerolog.Logger) *StripeService {
	stripe.Key = cfg.StripeSecretKey
	lg := logger.With().Str("service", "StripeService").Logger()
	return &StripeService{cfg: cfg, userRepo: userRepo, subSvc: subSvc, getSubscription: fetchSubscription, logger: lg}
}

func fetchSubscription(ctx context.Context, id string) (*stripe.Subscription, error) {
	params := &stripe.SubscriptionParams{}
	params.Context = ctx
	return subscriptionpkg.Get(id, params)
}

// getUserIDFromEvent resolves the user from webhook metadata or, failing that, the customer ID.
func (s *StripeService) getUserIDFromEvent(ctx context.Context, metadata map[string]string, customer *stripe.Customer) (string, error) {
	if userID, ok := metadata["user_id"]; ok && userID != "" {
		return userID, nil
	}
	if customer == nil || customer.ID == "" {
		return "", errors.New("cannot determine user: missing metadata and customer id")
	}
	s.logger.Warn().Str("stripe_customer_id", customer.ID).Msg("Missing user_id metadata; looking up user by customer ID")
	u, err := s.userRepo.GetUserByStripeCustomerID(ctx, customer.ID)
	if err != nil {
		return "", fmt.Errorf("failed to lookup user by Stripe customer ID: %w", err)
	}
	if u == nil {
		return "", fmt.Errorf("no user found for customer ID: %s", customer.ID)
	}
	return u.UserID, nil
}

// GetOrCreateCustomer ensures a Stripe Customer exists for a user
func (s *StripeService) GetOrCreateCustomer(ctx context.Context, user *model.User) (string, error) {
	if user.StripeCustomerID != nil && *user.StripeCustomerID != "" {
		return *user.StripeCustomerID, nil
	}

	params := &stripe.CustomerParams{
		Email:    stripe.String(user.Email),
		Name:     stripe.String(user.Name),
		Metadata: map[string]string{"user_id": user.UserID},
	}
	params.Context = ctx
	cust, err := customerpkg.New(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to create Stripe customer")
		return "", fmt.Errorf("create stripe customer: %w", err)
	}
	if err := s.userRepo.UpdateStripeCustomerID(ctx, user.UserID, cust.ID); err != nil {
		s.logger.Error().Err(err).Str("user_id", user.UserID).Msg("Failed to store stripe customer id in user_profiles")
		return "", fmt.Errorf("store stripe customer id: %w", err)
	}
	return cust.ID, nil
}

// CreateCheckoutSession starts a subscription checkout for a paid tier and returns its URL.
func (s *StripeService) CreateCheckoutSession(ctx context.Context, userID string, tier model.PlanTier) (string, error) {
	priceID, ok := s.subSvc.PriceForTier(tier)
	if !ok {
		return "", fmt.Errorf("%w: %s", ErrNoPriceForTier, tier)
	}

	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user for checkout session")
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user == nil {
		return "", fmt.Errorf("%w: %s", ErrUserNotFound, userID)
	}
	customerID, err := s.GetOrCreateCustomer(ctx, user)
	if err != nil {
		return "", err
	}

	sessParams := &stripe.CheckoutSessionParams{
		Customer:   stripe.String(customerID),
		LineItems:  []*stripe.CheckoutSessionLineItemParams{{Price: stripe.String(priceID), Quantity: stripe.Int64(1)}},
		Mode:       stripe.String(stripe.CheckoutSessionModeSubscription),
		SuccessURL: stripe.String(s.cfg.StripePortalReturnURL + "?status=success"),
		CancelURL:  stripe.String(s.cfg.StripePortalReturnURL + "?status=cancel"),
		Metadata:   map[string]string{"user_id": userID},
		SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
			Metadata: map[string]string{"user_id": userID},
		},
	}
	sessParams.Context = ctx
	sess, err := checkoutsession.New(sessParams)
	if err != nil {
		s.logger.Error().Err(err).Str("tier", string(tier)).Msg("Failed to create Stripe checkout session")
		return "", fmt.Errorf("create checkout session: %w", err)
	}
	return sess.URL, nil
}

// CreatePortalSession creates a Stripe Customer Portal session
func (s *StripeService) CreatePortalSession(ctx context.Context, userID string) (string, error) {
	user, err := s.userRepo.GetUserByID(ctx, userID)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to fetch user for portal session")
		return "", fmt.Errorf("fetch user: %w", err)
	}
	if user == nil || user.StripeCustomerID == nil || *user.StripeCustomerID == "" {
		return "", fmt.Errorf("%w: %s", ErrNoStripeCustomer, userID)
	}
	params := &stripe.BillingPortalSessionParams{Customer: stripe.String(*user.StripeCustomerID), ReturnURL: stripe.String(s.cfg.StripePortalReturnURL)}
	params.Context = ctx
	sess, err := billingsession.New(params)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create Stripe billing portal session")
		return "", fmt.Errorf("create billing portal session: %w", err)
	}
	return sess.URL, nil
}

// webhookError carries the HTTP status returned to Stripe.
type webhookError struct {
	status int
	msg    string
	err    error
}

func (e *webhookError) Error() string {
	if e.err != nil {
		return e.msg + ": " + e.err.Error()
	}
	return e.msg
}

func badPayload(msg string, err error) error { return &webhookError{http.StatusBadRequest, msg, err} }
func webhookFailure(msg string, err error) error {
	return &webhookError{http.StatusInternalServerError, msg, err}
}

// HandleWebhook keeps user_subscriptions in sync with Stripe.
func (s *StripeService) HandleWebhook(w http.ResponseWriter, r *http.Request) {
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		s.logger.Error().Err(err).Msg("Failed to read Stripe webhook payload")
		http.Error(w, "failed to read payload", http.StatusBadRequest)
		return
	}
	event, err := webhook.ConstructEvent(payload, r.Header.Get("Stripe-Signature"), s.cfg.StripeWebhookSecret)
	if err != nil {
		s.logger.Error().Err(err).Msg("Signature verification failed for Stripe webhook")
		http.Error(w, "signature verification failed", http.StatusBadRequest)
		return
	}
	s.logger.Info().Str("event_type", string(event.Type)).Msg("Stripe webhook received")

	if err := s.dispatch(r.Context(), event); err != nil {
		status := http.StatusInternalServerError
		msg := "failed to process event"
		var we *webhookError
		if errors.As(err, &we) {
			status, msg = we.status, we.msg
		}
		s.logger.Error().Err(err).Str("event_type", string(event.Type)).Msg("Failed to process Stripe webhook")
		http.Error(w, msg, status)
		return
	}
	w.WriteHeader(http.StatusOK)
}

func (s *StripeService) dispatch(ctx context.Context, event stripe.Event) error {
	switch event.Type {
	case "checkout.session.completed":
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(event.Data.Raw, &cs); err != nil {
			return badPayload("invalid checkout.session data", err)
		}
		if cs.Subscription == nil || cs.Subscription.ID == "" {
			s.logger.Info().Str("checkout_session_id", cs.ID).Msg("Checkout session has no subscription, skipping")
			return nil
		}
		sub, err := s.getSubscription(ctx, cs.Subscription.ID)
		if err != nil {
			return webhookFailure("failed to fetch subscription details", err)
		}
		userID, err := s.getUserIDFromEvent(ctx, cs.Metadata, cs.Customer)
		if err != nil {
			return badPayload("failed to identify user", err)
		}
		return s.syncSubscription(ctx, userID, sub, "active")

	case "customer.subscription.updated":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return badPayload("invalid subscription data", err)
		}
		// Scheduled cancellations keep access until period end.
		status := string(sub.Status)
		if sub.CancelAtPeriodEnd || sub.Status == stripe.SubscriptionStatusCanceled {
			status = "cancelled"
		}
		userID, err := s.getUserIDFromEvent(ctx, sub.Metadata, sub.Customer)
		if err != nil {
			return webhookFailure("failed to identify user", err)
		}
		return s.syncSubscription(ctx, userID, &sub, status)

	case "customer.subscription.deleted":
		var sub stripe.Subscription
		if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
			return badPayload("invalid subscription data", err)
		}
		userID, err := s.getUserIDFromEvent(ctx, sub.Metadata, sub.Customer)
		if err != nil {
			return webhookFailure("failed to identify user", err)
		}
		if err := s.subSvc.DowngradeToDefault(ctx, userID); err != nil {
			return webhookFailure("failed to downgrade subscription", err)
		}
		return nil

	case "invoice.payment_failed":
		var invoice stripe.Invoice
		if err := json.Unmarshal(event.Data.Raw, &invoice); err != nil {
			return badPayload("invalid invoice data", err)
		}
		subID := invoiceSubscriptionID(&invoice)
		if subID == "" {
			s.logger.Info().Str("invoice_id", invoice.ID).Msg("Invoice has no subscription, skipping subscription update")
			return nil
		}
		userID, err := s.getUserIDFromEvent(ctx, invoice.Metadata, invoice.Customer)
		if err != nil {
			return webhookFailure("failed to identify user", err)
		}
		sub, err := s.getSubscription(ctx, subID)
		if err != nil {
			return webhookFailure("failed to fetch subscription details", err)
		}
		return s.syncSubscription(ctx, userID, sub, "past_due")

	default:
		s.logger.Warn().Str("event_type", string(event.Type)).Msg("Unhandled Stripe webhook event")
		return nil
	}
}

// syncSubscription records the tier sold by the subscription's first item.
func (s *StripeService) syncSubscription(ctx context.Context, userID string, sub *stripe.Subscription, status string) error {
	if sub.Items == nil || len(sub.Items.Data) == 0 || sub.Items.Data[0].Price == nil {
		return badPayload("subscription has no priced items", nil)
	}
	item := sub.Items.Data[0]
	priceID := item.Price.ID
	tier, ok := s.subSvc.TierForPrice(priceID)
	if !ok {
		return badPayload("unknown price "+priceID, nil)
	}

	subID := sub.ID
	record := &model.UserSubscription{
		UserID:               userID,
		Tier:                 tier,
		StripePriceID:        &priceID,
		StripeSubscriptionID: &subID,
		StartsAt:             time.Unix(item.CurrentPeriodStart, 0),
		EndsAt:               time.Unix(item.CurrentPeriodEnd, 0),
		Status:               status,
	}
	s.logger.Info().Str("user_id", userID).Str("subscription_id", subID).Str("tier", string(tier)).Str("status", status).Msg("Syncing subscription")
	if err := s.subSvc.UpsertStripeSubscription(ctx, record); err != nil {
		return webhookFailure("failed to save subscription", err)
	}
	return nil
}

func invoiceSubscriptionID(invoice *stripe.Invoice) string {
	if invoice.Lines == nil {
		return ""
	}
	for _, line := range invoice.Lines.Data {
		if line.Subscription != nil && line.Subscription.ID != "" {
			return line.Subscription.ID
		}
	}
	return ""
}
