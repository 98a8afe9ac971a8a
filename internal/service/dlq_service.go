package service

import (
	"context"
	"encoding/base64"
	"encoding/json"

	"github.com/rs/zerolog"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/model"
	"studybuddy/internal/repository"
)

const dlqStatusUnprocessed = "unprocessed"

// DLQService persists queue messages that could not be processed.
type DLQService interface {
	// ProcessAndSave stores a message pushed by a Pub/Sub dead-letter subscription.
	ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error
	// Record stores a message the narration worker gave up on.
	Record(ctx context.Context, source, messageID string, payload []byte, cause error) error
}

type dlqService struct {
	repo   repository.DLQRepository
	logger zerolog.Logger
}

func NewDLQService(repo repository.DLQRepository, logger zerolog.Logger) DLQService {
	return &dlqService{repo: repo, logger: logger.With().Str("service", "DLQService").Logger()}
}

func (s *dlqService) ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error {
	// Payloads that are not valid base64 are stored as received.
	decodedPayload, err := base64.StdEncoding.DecodeString(req.Message.Data)
	if err != nil {
		decodedPayload = []byte(req.Message.Data)
	}

	var attributesJSON *string
	if len(req.Message.Attributes) > 0 {
		if attrBytes, err := json.Marshal(req.Message.Attributes); err == nil {
			attrStr := string(attrBytes)
			attributesJSON = &attrStr
		}
	}

	return s.save(ctx, &model.DeadLetterMessage{
		SubscriptionName: req.Subscription,
		MessageID:        req.Message.MessageID,
		Payload:          string(decodedPayload),
		Attributes:       attributesJSON,
		ErrorDetails:     "delivery attempts exhausted",
		Status:           dlqStatusUnprocessed,
	})
}

func (s *dlqService) Record(ctx context.Context, source, messageID string, payload []byte, cause error) error {
	details := ""
	if cause != nil {
		details = cause.Error()
	}
	return s.save(ctx, &model.DeadLetterMessage{
		SubscriptionName: source,
		MessageID:        messageID,
		Payload:          string(payload),
		ErrorDetails:     details,
		Status:           dlqStatusUnprocessed,
	})
}

func (s *dlqService) save(ctx context.Context, msg *model.DeadLetterMessage) error {
	if err := s.repo.Create(ctx, msg); err != nil {
		s.logger.Error().Err(err).Str("message_id", msg.MessageID).Str("source", msg.SubscriptionName).Msg("Failed to store dead letter message")
		return err
	}
	s.logger.Warn().Str("message_id", msg.MessageID).Str("source", msg.SubscriptionName).Msg("Dead letter message stored")
	return nil
}
