package narration

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/generation"
	"studybuddy/internal/metrics"
	"studybuddy/internal/model"
	"studybuddy/internal/provider"
)

type memJobs struct {
	mu   sync.Mutex
	jobs map[string]*model.NarrationJob
}

func (r *memJobs) CreateJob(ctx context.Context, job *model.NarrationJob) error { return nil }

func (r *memJobs) GetJob(ctx context.Context, id string) (*model.NarrationJob, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return nil, nil
	}
	cp := *j
	return &cp, nil
}

func (r *memJobs) UpdateStatus(ctx context.Context, id, status string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.jobs[id].Status = status
	return nil
}

func (r *memJobs) Claim(ctx context.Context, id string, lease time.Duration) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	j, ok := r.jobs[id]
	if !ok {
		return false, nil
	}
	stale := j.Status == model.NarrationGenerating && time.Since(j.UpdatedAt) > lease
	if j.Status != model.NarrationQueued && !stale {
		return false, nil
	}
	j.Status, j.UpdatedAt = model.NarrationGenerating, time.Now()
	return true, nil
}

func (r *memJobs) Complete(ctx context.Context, id, script, storagePath, provider string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Status, j.Script, j.StoragePath, j.Provider = model.NarrationComplete, &script, &storagePath, &provider
	return nil
}

func (r *memJobs) Fail(ctx context.Context, id, details string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	j := r.jobs[id]
	j.Status, j.ErrorDetails = model.NarrationFailed, &details
	return nil
}

type fakeChain struct {
	errs  []error
	calls int
	req   *provider.Request
}

func (c *fakeChain) Generate(ctx context.Context, req *provider.Request, check generation.Check) (*generation.Result, error) {
	c.calls++
	c.req = req
	if len(c.errs) > 0 {
		err := c.errs[0]
		c.errs = c.errs[1:]
		if err != nil {
			return nil, err
		}
	}
	return &generation.Result{Provider: "anthropic", Raw: "  Welcome to the show.  "}, nil
}

type fakeSpeech struct {
	voice string
	err   error
}

func (s *fakeSpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	s.voice = voice
	if s.err != nil {
		return nil, s.err
	}
	return []byte("mp3:" + text), nil
}

type fakeStore struct {
	objects map[string][]byte
}

func (s *fakeStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	s.objects[key] = body
	return nil
}

func (s *fakeStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	return "https://signed/" + key, nil
}

type fakeDLQ struct {
	records []string
}

func (d *fakeDLQ) ProcessAndSave(ctx context.Context, req *dto.PubSubPushRequest) error { return nil }

func (d *fakeDLQ) Record(ctx context.Context, source, messageID string, payload []byte, cause error) error {
	d.records = append(d.records, source+"/"+messageID+": "+cause.Error())
	return nil
}

type fixture struct {
	worker *Worker
	jobs   *memJobs
	chain  *fakeChain
	speech *fakeSpeech
	store  *fakeStore
	dlq    *fakeDLQ
	waits  []time.Duration
}

func newFixture(status string) *fixture {
	f := &fixture{
		jobs: &memJobs{jobs: map[string]*model.NarrationJob{
			"j1": {ID: "j1", UserID: "u1", Title: "Cells", Style: model.StyleStoryteller, SourceText: "ATP", Status: status},
		}},
		chain:  &fakeChain{},
		speech: &fakeSpeech{},
		store:  &fakeStore{objects: map[string][]byte{}},
		dlq:    &fakeDLQ{},
	}
	f.worker = &Worker{
		Jobs:    f.jobs,
		Chain:   f.chain,
		Prompts: generation.NewPromptBuilder(nil),
		Speech:  f.speech,
		Store:   f.store,
		DLQ:     f.dlq,
		Metrics: metrics.New(),
		Retry:   RetryPolicy{MaxRetries: 2, InitialBackoff: time.Second, MaxBackoff: 30 * time.Second},
		Queue:   "narration-jobs",
		Logger:  zerolog.Nop(),
	}
	f.worker.sleep = func(ctx context.Context, d time.Duration) error {
		f.waits = append(f.waits, d)
		return nil
	}
	return f
}

func TestHandleCompletesJob(t *testing.T) {
	f := newFixture(model.NarrationQueued)

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"j1"}`)))

	job := f.jobs.jobs["j1"]
	assert.Equal(t, model.NarrationComplete, job.Status)
	assert.Equal(t, "Welcome to the show.", *job.Script)
	assert.Equal(t, "narrations/u1/j1.mp3", *job.StoragePath)
	assert.Equal(t, "anthropic", *job.Provider)
	assert.Equal(t, []byte("mp3:Welcome to the show."), f.store.objects["narrations/u1/j1.mp3"])
	assert.Equal(t, "fable", f.speech.voice)
	assert.Contains(t, f.chain.req.System, "as a story")
	assert.Empty(t, f.dlq.records)
}

func TestHandleRetriesWithBackoff(t *testing.T) {
	f := newFixture(model.NarrationQueued)
	f.chain.errs = []error{generation.ErrAllProvidersExhausted, generation.ErrAllProvidersExhausted}

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"j1"}`)))

	assert.Equal(t, 3, f.chain.calls)
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second}, f.waits)
	assert.Equal(t, model.NarrationComplete, f.jobs.jobs["j1"].Status)
}

func TestHandleFailsAndDeadLettersAfterRetries(t *testing.T) {
	f := newFixture(model.NarrationQueued)
	f.speech.err = errors.New("tts unavailable")

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"j1"}`)))

	job := f.jobs.jobs["j1"]
	assert.Equal(t, model.NarrationFailed, job.Status)
	assert.Contains(t, *job.ErrorDetails, "tts unavailable")
	assert.Equal(t, 3, f.chain.calls)
	require.Len(t, f.dlq.records, 1)
	assert.Contains(t, f.dlq.records[0], "narration-jobs/j1")
}

func TestHandleDoesNotRetryPermanentFailures(t *testing.T) {
	f := newFixture(model.NarrationQueued)
	f.chain.errs = []error{generation.ErrNoEligibleProvider}

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"j1"}`)))

	assert.Equal(t, 1, f.chain.calls)
	assert.Empty(t, f.waits)
	assert.Equal(t, model.NarrationFailed, f.jobs.jobs["j1"].Status)
}

func TestHandleSkipsFinishedAndMissingJobs(t *testing.T) {
	f := newFixture(model.NarrationComplete)

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"j1"}`)))
	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"gone"}`)))
	assert.Equal(t, 0, f.chain.calls)
}

func TestHandleDeadLettersMalformedMessages(t *testing.T) {
	f := newFixture(model.NarrationQueued)

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`not json`)))
	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{}`)))
	assert.Len(t, f.dlq.records, 2)
}

func TestHandleRedeliversOnShutdown(t *testing.T) {
	f := newFixture(model.NarrationQueued)
	f.chain.errs = []error{errors.New("transport")}
	ctx, cancel := context.WithCancel(context.Background())
	f.worker.sleep = func(ctx context.Context, d time.Duration) error {
		cancel()
		return ctx.Err()
	}

	err := f.worker.Handle(ctx, []byte(`{"job_id":"j1"}`))
	assert.ErrorIs(t, err, context.Canceled)
	// released so the redelivered message is processed, not dropped
	assert.Equal(t, model.NarrationQueued, f.jobs.jobs["j1"].Status)
	assert.Empty(t, f.dlq.records)
}

func TestHandleDropsRedeliveryOfClaimedJob(t *testing.T) {
	f := newFixture(model.NarrationGenerating)
	f.worker.RequestTimeout = time.Minute
	f.jobs.jobs["j1"].UpdatedAt = time.Now()

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"j1"}`)))

	assert.Equal(t, 0, f.chain.calls)
	assert.Empty(t, f.store.objects)
	assert.Equal(t, model.NarrationGenerating, f.jobs.jobs["j1"].Status)
}

func TestHandleTakesOverJobPastItsLease(t *testing.T) {
	f := newFixture(model.NarrationGenerating)
	f.worker.RequestTimeout = time.Minute
	f.jobs.jobs["j1"].UpdatedAt = time.Now().Add(-f.worker.Lease() - time.Minute)

	require.NoError(t, f.worker.Handle(context.Background(), []byte(`{"job_id":"j1"}`)))

	assert.Equal(t, 1, f.chain.calls)
	assert.Equal(t, model.NarrationComplete, f.jobs.jobs["j1"].Status)
}

func TestLeaseCoversRetryBudget(t *testing.T) {
	w := &Worker{
		Retry:          RetryPolicy{MaxRetries: 3, InitialBackoff: 2 * time.Second, MaxBackoff: 60 * time.Second},
		RequestTimeout: 180 * time.Second,
	}
	// 4 attempts of 180s plus 2s, 4s and 8s of backoff
	assert.Equal(t, 734*time.Second, w.Retry.Budget(w.RequestTimeout))
	assert.Equal(t, 734*time.Second+leaseMargin, w.Lease())

	w.RequestTimeout = 0
	assert.Equal(t, defaultLease, w.Lease())
}

type timedSource struct {
	sliceSource
	timeout time.Duration
}

func (s *timedSource) SetHandleTimeout(d time.Duration) { s.timeout = d }

func TestRunSizesSourceHandleTimeout(t *testing.T) {
	f := newFixture(model.NarrationQueued)
	f.worker.RequestTimeout = time.Minute
	src := &timedSource{}

	require.NoError(t, Run(context.Background(), zerolog.Nop(), src, f.worker))
	assert.Equal(t, f.worker.Lease(), src.timeout)
}

func TestBackoffIsCapped(t *testing.T) {
	p := RetryPolicy{InitialBackoff: 2 * time.Second, MaxBackoff: 30 * time.Second}
	assert.Equal(t, 2*time.Second, p.Backoff(0))
	assert.Equal(t, 8*time.Second, p.Backoff(2))
	assert.Equal(t, 30*time.Second, p.Backoff(10))
}

type sliceSource struct {
	messages [][]byte
	results  []error
}

func (s *sliceSource) Receive(ctx context.Context, queue string, handle func(ctx context.Context, data []byte) error) error {
	for _, m := range s.messages {
		s.results = append(s.results, handle(ctx, m))
	}
	return nil
}

func TestRunFeedsMessagesToWorker(t *testing.T) {
	f := newFixture(model.NarrationQueued)
	src := &sliceSource{messages: [][]byte{[]byte(`{"job_id":"j1"}`)}}

	require.NoError(t, Run(context.Background(), zerolog.Nop(), src, f.worker))
	assert.Equal(t, []error{nil}, src.results)
	assert.Equal(t, model.NarrationComplete, f.jobs.jobs["j1"].Status)
}
