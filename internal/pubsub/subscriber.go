package pubsub

import (
	"context"
	"fmt"
	"time"

	"cloud.google.com/go/pubsub"
	"github.com/rs/zerolog"
)

// PubSubSubscriber pulls messages from a Pub/Sub subscription.
type PubSubSubscriber struct {
	client *pubsub.Client
	// MaxOutstanding bounds how many messages are handled at once.
	MaxOutstanding int
	// MaxExtension is how long the client keeps extending a message's ack
	// deadline while the handler runs. Zero keeps the library default.
	MaxExtension time.Duration
	logger       zerolog.Logger
}

// NewSubscriber wraps a Pub/Sub client.
func NewSubscriber(client *pubsub.Client, maxOutstanding int, logger zerolog.Logger) *PubSubSubscriber {
	if maxOutstanding <= 0 {
		maxOutstanding = 1
	}
	return &PubSubSubscriber{
		client:         client,
		MaxOutstanding: maxOutstanding,
		logger:         logger.With().Str("component", "PubSubSubscriber").Logger(),
	}
}

// SetHandleTimeout keeps ack deadlines extended for as long as one handler
// call can run.
func (s *PubSubSubscriber) SetHandleTimeout(d time.Duration) {
	if d > s.MaxExtension {
		s.MaxExtension = d
	}
}

// Receive blocks until ctx is done. A handler error nacks the message so
// Pub/Sub redelivers it; nil acks it.
func (s *PubSubSubscriber) Receive(ctx context.Context, subscription string, handle func(ctx context.Context, data []byte) error) error {
	sub := s.client.Subscription(subscription)
	sub.ReceiveSettings.MaxOutstandingMessages = s.MaxOutstanding
	if s.MaxExtension > 0 {
		sub.ReceiveSettings.MaxExtension = s.MaxExtension
	}

	err := sub.Receive(ctx, func(ctx context.Context, m *pubsub.Message) {
		if err := handle(ctx, m.Data); err != nil {
			s.logger.Warn().Err(err).Str("message_id", m.ID).Int("delivery_attempt", deliveryAttempt(m)).Msg("Message handling failed; nacking")
			m.Nack()
			return
		}
		m.Ack()
	})
	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("receive from subscription %s: %w", subscription, err)
	}
	return nil
}

func deliveryAttempt(m *pubsub.Message) int {
	if m.DeliveryAttempt == nil {
		return 0
	}
	return *m.DeliveryAttempt
}
