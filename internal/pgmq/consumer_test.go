package pgmq

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeQueue struct {
	mu       sync.Mutex
	pending  []*Message
	readErr  error
	deleted  []int64
	archived []int64
	onDrain  func()
}

func (q *fakeQueue) ReadWithPoll(ctx context.Context, queue string, visibilitySec, maxMessages, pollSec int) ([]*Message, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.readErr != nil {
		err := q.readErr
		q.readErr = nil
		return nil, err
	}
	if len(q.pending) == 0 {
		if q.onDrain != nil {
			q.onDrain()
		}
		return nil, nil
	}
	msg := q.pending[0]
	q.pending = q.pending[1:]
	msg.ReadCount++
	return []*Message{msg}, nil
}

func (q *fakeQueue) Delete(ctx context.Context, queue string, msgIDs []int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.deleted = append(q.deleted, msgIDs...)
	return nil
}

func (q *fakeQueue) Archive(ctx context.Context, queue string, msgID int64) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.archived = append(q.archived, msgID)
	return nil
}

func TestConsumerDeletesHandledMessages(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := &fakeQueue{
		pending: []*Message{{ID: 1, Data: []byte("a")}, {ID: 2, Data: []byte("b")}},
		readErr: errors.New("connection reset"),
		onDrain: cancel,
	}
	c := NewConsumer(q, zerolog.Nop())
	c.ErrorBackoff = time.Millisecond

	var seen []string
	err := c.Receive(ctx, "narration_queue", func(ctx context.Context, data []byte) error {
		seen = append(seen, string(data))
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, seen)
	assert.Equal(t, []int64{1, 2}, q.deleted)
}

func TestConsumerLeavesFailedMessagesAndArchivesPoison(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	q := &fakeQueue{}
	msg := &Message{ID: 7, Data: []byte("bad")}
	c := NewConsumer(q, zerolog.Nop())
	c.MaxReads = 2

	// Simulate the visibility timeout by requeueing after each failure.
	handled := 0
	q.pending = []*Message{msg}
	q.onDrain = cancel
	err := c.Receive(ctx, "narration_queue", func(ctx context.Context, data []byte) error {
		handled++
		q.pending = append(q.pending, msg)
		return errors.New("boom")
	})
	require.NoError(t, err)

	assert.Equal(t, 2, handled)
	assert.Empty(t, q.deleted)
	assert.Equal(t, []int64{7}, q.archived)
}

func TestConsumerVisibilityCoversHandleTimeout(t *testing.T) {
	c := NewConsumer(&fakeQueue{}, zerolog.Nop())

	c.SetHandleTimeout(794*time.Second + 500*time.Millisecond)
	assert.Equal(t, 795, c.VisibilitySec)

	// never shrinks below the default
	c.SetHandleTimeout(time.Second)
	assert.Equal(t, 795, c.VisibilitySec)
}
