package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/stretchr/testify/mock"

	"studybuddy/internal/generation"
	"studybuddy/internal/model"
	"studybuddy/internal/provider"
)

type MockMaterialRepo struct {
	mock.Mock
}

func (m *MockMaterialRepo) CreateMaterial(ctx context.Context, mat *model.Material) error {
	args := m.Called(ctx, mat)
	if args.Error(0) == nil {
		mat.ID = "mat-1"
		mat.CreatedAt = time.Now()
	}
	return args.Error(0)
}

func (m *MockMaterialRepo) GetMaterial(ctx context.Context, userID, id string) (*model.Material, error) {
	args := m.Called(ctx, userID, id)
	mat, _ := args.Get(0).(*model.Material)
	return mat, args.Error(1)
}

func (m *MockMaterialRepo) FindBySourceHash(ctx context.Context, userID string, contentType model.ContentType, hash string) (*model.Material, error) {
	args := m.Called(ctx, userID, contentType, hash)
	mat, _ := args.Get(0).(*model.Material)
	return mat, args.Error(1)
}

func (m *MockMaterialRepo) ListMaterials(ctx context.Context, userID string, limit, offset int) ([]model.Material, error) {
	args := m.Called(ctx, userID, limit, offset)
	mats, _ := args.Get(0).([]model.Material)
	return mats, args.Error(1)
}

func (m *MockMaterialRepo) DeleteMaterial(ctx context.Context, userID, id string) (bool, error) {
	args := m.Called(ctx, userID, id)
	return args.Bool(0), args.Error(1)
}

type MockSubscriptionRepo struct {
	mock.Mock
}

func (m *MockSubscriptionRepo) GetActiveSubscription(ctx context.Context, userID string) (*model.UserSubscription, error) {
	args := m.Called(ctx, userID)
	sub, _ := args.Get(0).(*model.UserSubscription)
	return sub, args.Error(1)
}

func (m *MockSubscriptionRepo) UpsertStripeSubscription(ctx context.Context, sub *model.UserSubscription) error {
	return m.Called(ctx, sub).Error(0)
}

func (m *MockSubscriptionRepo) DowngradeToDefault(ctx context.Context, userID string) error {
	return m.Called(ctx, userID).Error(0)
}

// scriptedGenerator answers every request with the same output and runs the
// caller's check the way the chain does.
type scriptedGenerator struct {
	mu       sync.Mutex
	raw      string
	provider string
	err      error
	delay    time.Duration
	calls    int32
	requests []*provider.Request
}

func (g *scriptedGenerator) Generate(ctx context.Context, req *provider.Request, check generation.Check) (*generation.Result, error) {
	atomic.AddInt32(&g.calls, 1)
	g.mu.Lock()
	g.requests = append(g.requests, req)
	g.mu.Unlock()

	if g.delay > 0 {
		time.Sleep(g.delay)
	}
	if g.err != nil {
		return nil, g.err
	}
	if check != nil {
		if err := check(g.raw); err != nil {
			return nil, &generation.ExhaustedError{Last: provider.NewError(g.provider, provider.KindSchema, err)}
		}
	}
	return &generation.Result{Provider: g.provider, Raw: g.raw}, nil
}

func (g *scriptedGenerator) callCount() int { return int(atomic.LoadInt32(&g.calls)) }

// memTierCache is an in-memory TierCache.
type memTierCache struct {
	mu    sync.Mutex
	tiers map[string]model.PlanTier
	err   error
}

func newMemTierCache() *memTierCache {
	return &memTierCache{tiers: map[string]model.PlanTier{}}
}

func (c *memTierCache) Get(ctx context.Context, userID string) (model.PlanTier, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return "", false, c.err
	}
	t, ok := c.tiers[userID]
	return t, ok, nil
}

func (c *memTierCache) Set(ctx context.Context, userID string, tier model.PlanTier) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.tiers[userID] = tier
	return nil
}

func (c *memTierCache) Delete(ctx context.Context, userID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.tiers, userID)
	return nil
}

type MockNarrationRepo struct {
	mock.Mock
}

func (m *MockNarrationRepo) CreateJob(ctx context.Context, job *model.NarrationJob) error {
	args := m.Called(ctx, job)
	if args.Error(0) == nil {
		job.ID = "job-1"
	}
	return args.Error(0)
}

func (m *MockNarrationRepo) GetJob(ctx context.Context, id string) (*model.NarrationJob, error) {
	args := m.Called(ctx, id)
	job, _ := args.Get(0).(*model.NarrationJob)
	return job, args.Error(1)
}

func (m *MockNarrationRepo) UpdateStatus(ctx context.Context, id, status string) error {
	return m.Called(ctx, id, status).Error(0)
}

func (m *MockNarrationRepo) Claim(ctx context.Context, id string, lease time.Duration) (bool, error) {
	args := m.Called(ctx, id, lease)
	return args.Bool(0), args.Error(1)
}

func (m *MockNarrationRepo) Complete(ctx context.Context, id, script, storagePath, provider string) error {
	return m.Called(ctx, id, script, storagePath, provider).Error(0)
}

func (m *MockNarrationRepo) Fail(ctx context.Context, id, details string) error {
	return m.Called(ctx, id, details).Error(0)
}

type MockPublisher struct {
	mock.Mock
}

func (m *MockPublisher) Publish(ctx context.Context, topic string, payload []byte) (string, error) {
	args := m.Called(ctx, topic, payload)
	return args.String(0), args.Error(1)
}

type MockObjectStore struct {
	mock.Mock
}

func (m *MockObjectStore) Put(ctx context.Context, key string, body []byte, contentType string) error {
	return m.Called(ctx, key, body, contentType).Error(0)
}

func (m *MockObjectStore) PresignGet(ctx context.Context, key string, ttl time.Duration) (string, error) {
	args := m.Called(ctx, key, ttl)
	return args.String(0), args.Error(1)
}

type MockDLQRepo struct {
	mock.Mock
}

func (m *MockDLQRepo) Create(ctx context.Context, message *model.DeadLetterMessage) error {
	return m.Called(ctx, message).Error(0)
}

type MockUserRepo struct {
	mock.Mock
}

func (m *MockUserRepo) CreateUser(ctx context.Context, u *model.User) error {
	return m.Called(ctx, u).Error(0)
}

func (m *MockUserRepo) GetUserByID(ctx context.Context, id string) (*model.User, error) {
	args := m.Called(ctx, id)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *MockUserRepo) GetUserByStripeCustomerID(ctx context.Context, customerID string) (*model.User, error) {
	args := m.Called(ctx, customerID)
	u, _ := args.Get(0).(*model.User)
	return u, args.Error(1)
}

func (m *MockUserRepo) UpdateStripeCustomerID(ctx context.Context, userID, customerID string) error {
	return m.Called(ctx, userID, customerID).Error(0)
}
