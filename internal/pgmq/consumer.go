package pgmq

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// Queue is the part of Client a Consumer drives.
type Queue interface {
	ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*Message, error)
	Delete(ctx context.Context, queue string, msgIDs []int64) error
	Archive(ctx context.Context, queue string, msgID int64) error
}

// Consumer polls a queue and hands each message to a handler.
type Consumer struct {
	queue Queue
	// VisibilitySec hides a read message from other consumers; a failed
	// message becomes visible again after it.
	VisibilitySec int
	PollSec       int
	// MaxReads archives a message once it has been read this many times.
	MaxReads int
	// ErrorBackoff is the pause after a failed read.
	ErrorBackoff time.Duration
	logger       zerolog.Logger
}

// NewConsumer creates a Consumer with defaults suited to long-running jobs.
func NewConsumer(queue Queue, logger zerolog.Logger) *Consumer {
	return &Consumer{
		queue:         queue,
		VisibilitySec: 300,
		PollSec:       30,
		MaxReads:      5,
		ErrorBackoff:  time.Second,
		logger:        logger.With().Str("component", "PgmqConsumer").Logger(),
	}
}

// SetHandleTimeout sizes the visibility timeout so a message stays hidden for
// as long as one handler call can run.
func (c *Consumer) SetHandleTimeout(d time.Duration) {
	if sec := int((d + time.Second - 1) / time.Second); sec > c.VisibilitySec {
		c.VisibilitySec = sec
	}
}

// Receive blocks until ctx is done. A handler error leaves the message for
// redelivery; nil deletes it.
func (c *Consumer) Receive(ctx context.Context, queue string, handle func(ctx context.Context, data []byte) error) error {
	log := c.logger.With().Str("queue", queue).Logger()
	log.Info().Msg("Starting queue consumer")
	for {
		select {
		case <-ctx.Done():
			log.Info().Msg("Shutting down queue consumer")
			return nil
		default:
		}

		msgs, err := c.queue.ReadWithPoll(ctx, queue, c.VisibilitySec, 1, c.PollSec)
		if err != nil {
			if ctx.Err() != nil {
				continue
			}
			log.Error().Err(err).Msg("Error reading queue")
			sleep(ctx, c.ErrorBackoff)
			continue
		}

		for _, msg := range msgs {
			c.handle(ctx, queue, msg, handle, log)
		}
	}
}

func (c *Consumer) handle(ctx context.Context, queue string, msg *Message, handle func(ctx context.Context, data []byte) error, log zerolog.Logger) {
	if c.MaxReads > 0 && msg.ReadCount > c.MaxReads {
		log.Warn().Int64("msg_id", msg.ID).Int("read_ct", msg.ReadCount).Msg("Message exceeded read limit; archiving")
		if err := c.queue.Archive(ctx, queue, msg.ID); err != nil {
			log.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error archiving message")
		}
		return
	}

	if err := handle(ctx, msg.Data); err != nil {
		log.Warn().Err(err).Int64("msg_id", msg.ID).Int("read_ct", msg.ReadCount).Msg("Message handling failed; leaving for redelivery")
		return
	}
	if err := c.queue.Delete(ctx, queue, []int64{msg.ID}); err != nil {
		log.Error().Err(err).Int64("msg_id", msg.ID).Msg("Error deleting message")
	}
}

func sleep(ctx context.Context, d time.Duration) {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}
