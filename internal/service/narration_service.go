package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studybuddy/internal/model"
	"studybuddy/internal/pubsub"
	"studybuddy/internal/repository"
	"studybuddy/internal/storage"
)

var ErrNarrationNotFound = errors.New("narration job not found")

// NarrationMessage is the queue payload for one narration job.
type NarrationMessage struct {
	JobID string `json:"job_id"`
}

// NarrationView is a job as shown to its owner.
type NarrationView struct {
	*model.NarrationJob
	AudioURL string `json:"audio_url,omitempty"`
}

// NarrationService queues styled narration jobs and reports on them.
type NarrationService interface {
	Queue(ctx context.Context, userID, title string, style model.NarrationStyle, sourceText string) (*model.NarrationJob, error)
	Get(ctx context.Context, userID, jobID string) (*NarrationView, error)
}

type narrationService struct {
	repo      repository.NarrationRepository
	publisher pubsub.Publisher
	queue     string
	store     storage.ObjectStore
	urlTTL    time.Duration
	logger    zerolog.Logger
}

// NewNarrationService publishes jobs to queue, which is a Pub/Sub topic or a
// pgmq queue depending on the publisher.
func NewNarrationService(repo repository.NarrationRepository, publisher pubsub.Publisher, queue string, store storage.ObjectStore, urlTTL time.Duration, logger zerolog.Logger) NarrationService {
	return &narrationService{
		repo:      repo,
		publisher: publisher,
		queue:     queue,
		store:     store,
		urlTTL:    urlTTL,
		logger:    logger.With().Str("service", "NarrationService").Logger(),
	}
}

func (s *narrationService) Queue(ctx context.Context, userID, title string, style model.NarrationStyle, sourceText string) (*model.NarrationJob, error) {
	if strings.TrimSpace(sourceText) == "" {
		return nil, ErrEmptySource
	}
	if _, err := model.ParseNarrationStyle(string(style)); err != nil {
		return nil, err
	}

	job := &model.NarrationJob{
		UserID:     userID,
		Title:      title,
		Style:      style,
		SourceText: sourceText,
		Status:     model.NarrationQueued,
	}
	if err := s.repo.CreateJob(ctx, job); err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to create narration job")
		return nil, err
	}

	payload, err := json.Marshal(NarrationMessage{JobID: job.ID})
	if err != nil {
		return nil, fmt.Errorf("encode narration message: %w", err)
	}
	msgID, err := s.publisher.Publish(ctx, s.queue, payload)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", job.ID).Str("queue", s.queue).Msg("Failed to publish narration job")
		if ferr := s.repo.Fail(ctx, job.ID, "could not be queued"); ferr != nil {
			s.logger.Error().Err(ferr).Str("job_id", job.ID).Msg("Failed to mark unqueued narration job as failed")
		}
		return nil, err
	}

	s.logger.Info().Str("job_id", job.ID).Str("message_id", msgID).Str("style", string(style)).Msg("Narration job queued")
	return job, nil
}

func (s *narrationService) Get(ctx context.Context, userID, jobID string) (*NarrationView, error) {
	job, err := s.repo.GetJob(ctx, jobID)
	if err != nil {
		s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to fetch narration job")
		return nil, err
	}
	if job == nil || job.UserID != userID {
		return nil, ErrNarrationNotFound
	}

	view := &NarrationView{NarrationJob: job}
	if job.Status == model.NarrationComplete && job.StoragePath != nil {
		url, err := s.store.PresignGet(ctx, *job.StoragePath, s.urlTTL)
		if err != nil {
			s.logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to presign narration audio")
			return nil, err
		}
		view.AudioURL = url
	}
	return view, nil
}
