// Package narration turns queued narration jobs into stored audio.
package narration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studybuddy/internal/generation"
	"studybuddy/internal/metrics"
	"studybuddy/internal/model"
	"studybuddy/internal/provider"
	"studybuddy/internal/repository"
	"studybuddy/internal/service"
	"studybuddy/internal/storage"
)

// Source delivers queue messages. Both the Pub/Sub subscriber and the pgmq
// consumer satisfy it.
type Source interface {
	Receive(ctx context.Context, queue string, handle func(ctx context.Context, data []byte) error) error
}

// handleTimeoutSetter is implemented by sources that hide a message from
// other consumers for a bounded time while it is handled.
type handleTimeoutSetter interface {
	SetHandleTimeout(d time.Duration)
}

var voices = map[model.NarrationStyle]string{
	model.StyleLecturer:    "sage",
	model.StyleStoryteller: "fable",
	model.StylePodcast:     "alloy",
	model.StyleELI5:        "nova",
}

// VoiceFor returns the TTS voice used for a style.
func VoiceFor(style model.NarrationStyle) string {
	if v, ok := voices[style]; ok {
		return v
	}
	return "alloy"
}

// RetryPolicy bounds how often one job is retried inside a single delivery.
type RetryPolicy struct {
	MaxRetries     int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
}

// Backoff is the pause before retry n (0-based).
func (p RetryPolicy) Backoff(n int) time.Duration {
	d := p.InitialBackoff
	for i := 0; i < n && d < p.MaxBackoff; i++ {
		d *= 2
	}
	if p.MaxBackoff > 0 && d > p.MaxBackoff {
		d = p.MaxBackoff
	}
	return d
}

// Budget is the longest one delivery can take: every attempt running to
// attemptTimeout plus every backoff in between.
func (p RetryPolicy) Budget(attemptTimeout time.Duration) time.Duration {
	total := time.Duration(p.MaxRetries+1) * attemptTimeout
	for n := 0; n < p.MaxRetries; n++ {
		total += p.Backoff(n)
	}
	return total
}

const (
	leaseMargin  = time.Minute
	defaultLease = 30 * time.Minute
)

// errPermanent marks failures that retrying cannot fix.
type errPermanent struct{ err error }

func (e errPermanent) Error() string { return e.err.Error() }
func (e errPermanent) Unwrap() error { return e.err }

// Worker processes one narration job per message.
type Worker struct {
	Jobs    repository.NarrationRepository
	Chain   generation.Generator
	Prompts *generation.PromptBuilder
	Speech  provider.Synthesizer
	Store   storage.ObjectStore
	DLQ     service.DLQService
	Metrics *metrics.Metrics
	Retry   RetryPolicy
	// RequestTimeout bounds one attempt, script and audio included.
	RequestTimeout time.Duration
	// Queue names the message source in dead-letter rows.
	Queue  string
	Logger zerolog.Logger

	sleep func(ctx context.Context, d time.Duration) error
}

// Lease is how long a claimed job stays owned by this worker. Redelivered
// messages for a job inside its lease are dropped.
func (w *Worker) Lease() time.Duration {
	if w.RequestTimeout <= 0 {
		return defaultLease
	}
	return w.Retry.Budget(w.RequestTimeout) + leaseMargin
}

// Run consumes narration messages until ctx is done.
func Run(ctx context.Context, logger zerolog.Logger, source Source, w *Worker) error {
	if s, ok := source.(handleTimeoutSetter); ok {
		s.SetHandleTimeout(w.Lease())
	}
	logger.Info().Str("queue", w.Queue).Dur("lease", w.Lease()).Msg("Starting narration orchestrator")
	if err := source.Receive(ctx, w.Queue, w.Handle); err != nil {
		return err
	}
	logger.Info().Msg("Shutting down narration orchestrator")
	return nil
}

// Handle processes one message. A returned error asks the queue to redeliver;
// jobs that exhaust their retries are failed and dead-lettered instead.
func (w *Worker) Handle(ctx context.Context, data []byte) error {
	var msg service.NarrationMessage
	if err := json.Unmarshal(data, &msg); err != nil || msg.JobID == "" {
		if err == nil {
			err = errors.New("missing job_id")
		}
		w.Logger.Error().Err(err).Msg("Malformed narration message")
		return w.deadLetter(ctx, "", data, fmt.Errorf("malformed narration message: %w", err))
	}

	log := w.Logger.With().Str("job_id", msg.JobID).Logger()
	job, err := w.Jobs.GetJob(ctx, msg.JobID)
	if err != nil {
		return err
	}
	if job == nil {
		log.Warn().Msg("Narration job no longer exists; dropping message")
		return nil
	}
	if job.Status == model.NarrationComplete || job.Status == model.NarrationFailed {
		log.Info().Str("status", job.Status).Msg("Narration job already finished; dropping message")
		return nil
	}

	claimed, err := w.Jobs.Claim(ctx, job.ID, w.Lease())
	if err != nil {
		return err
	}
	if !claimed {
		log.Info().Str("status", job.Status).Msg("Narration job is owned by another delivery; dropping message")
		return nil
	}
	w.Metrics.NarrationJob(model.NarrationGenerating)

	var lastErr error
	for attempt := 0; attempt <= w.Retry.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := w.Retry.Backoff(attempt - 1)
			log.Warn().Err(lastErr).Int("attempt", attempt).Dur("backoff", wait).Msg("Retrying narration job")
			if err := w.pause(ctx, wait); err != nil {
				w.release(ctx, job.ID)
				return err
			}
		}

		lastErr = w.process(ctx, job)
		if lastErr == nil {
			w.Metrics.NarrationJob(model.NarrationComplete)
			log.Info().Int("attempts", attempt+1).Msg("Narration job complete")
			return nil
		}
		if ctx.Err() != nil {
			w.release(ctx, job.ID)
			return ctx.Err()
		}
		var perm errPermanent
		if errors.As(lastErr, &perm) {
			break
		}
	}

	log.Error().Err(lastErr).Msg("Narration job failed")
	if err := w.Jobs.Fail(ctx, job.ID, lastErr.Error()); err != nil {
		return err
	}
	w.Metrics.NarrationJob(model.NarrationFailed)
	return w.deadLetter(ctx, job.ID, data, lastErr)
}

func (w *Worker) process(ctx context.Context, job *model.NarrationJob) error {
	if w.RequestTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.RequestTimeout)
		defer cancel()
	}

	req, err := w.Prompts.Narration(generation.Source{Title: job.Title, Text: job.SourceText}, job.Style)
	if err != nil {
		return errPermanent{err}
	}
	res, err := w.Chain.Generate(ctx, req, generation.NonEmptyText)
	if err != nil {
		if errors.Is(err, generation.ErrNoEligibleProvider) {
			return errPermanent{err}
		}
		return fmt.Errorf("generate script: %w", err)
	}
	script := strings.TrimSpace(res.Raw)

	audio, err := w.Speech.Synthesize(ctx, script, VoiceFor(job.Style))
	if err != nil {
		return fmt.Errorf("synthesize speech: %w", err)
	}

	key := storage.NarrationAudioKey(job.UserID, job.ID)
	if err := w.Store.Put(ctx, key, audio, "audio/mpeg"); err != nil {
		return err
	}
	return w.Jobs.Complete(ctx, job.ID, script, key, res.Provider)
}

// release hands a claimed job back to the queue so its redelivery is not
// dropped as a duplicate.
func (w *Worker) release(ctx context.Context, jobID string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	if err := w.Jobs.UpdateStatus(ctx, jobID, model.NarrationQueued); err != nil {
		w.Logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to release narration job")
	}
}

func (w *Worker) deadLetter(ctx context.Context, jobID string, data []byte, cause error) error {
	if w.DLQ == nil {
		return nil
	}
	if err := w.DLQ.Record(ctx, w.Queue, jobID, data, cause); err != nil {
		w.Logger.Error().Err(err).Str("job_id", jobID).Msg("Failed to dead-letter narration message")
	}
	return nil
}

func (w *Worker) pause(ctx context.Context, d time.Duration) error {
	if w.sleep != nil {
		return w.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
