package handler

import (
	"context"

	"github.com/stretchr/testify/mock"

	"studybuddy/internal/model"
	"studybuddy/internal/provider"
	"studybuddy/internal/service"
)

type MockMaterialService struct {
	mock.Mock
}

func (m *MockMaterialService) Generate(ctx context.Context, in service.GenerateInput) (*model.Material, bool, error) {
	args := m.Called(ctx, in)
	mat, _ := args.Get(0).(*model.Material)
	return mat, args.Bool(1), args.Error(2)
}

func (m *MockMaterialService) Get(ctx context.Context, userID, id string) (*model.Material, error) {
	args := m.Called(ctx, userID, id)
	mat, _ := args.Get(0).(*model.Material)
	return mat, args.Error(1)
}

func (m *MockMaterialService) List(ctx context.Context, userID string, limit, offset int) ([]model.Material, error) {
	args := m.Called(ctx, userID, limit, offset)
	mats, _ := args.Get(0).([]model.Material)
	return mats, args.Error(1)
}

func (m *MockMaterialService) Delete(ctx context.Context, userID, id string) error {
	return m.Called(ctx, userID, id).Error(0)
}

func (m *MockMaterialService) Chat(ctx context.Context, userID, materialID string, history []provider.Message, message string) (*service.ChatReply, error) {
	args := m.Called(ctx, userID, materialID, history, message)
	reply, _ := args.Get(0).(*service.ChatReply)
	return reply, args.Error(1)
}

type MockNarrationService struct {
	mock.Mock
}

func (m *MockNarrationService) Queue(ctx context.Context, userID, title string, style model.NarrationStyle, sourceText string) (*model.NarrationJob, error) {
	args := m.Called(ctx, userID, title, style, sourceText)
	job, _ := args.Get(0).(*model.NarrationJob)
	return job, args.Error(1)
}

func (m *MockNarrationService) Get(ctx context.Context, userID, jobID string) (*service.NarrationView, error) {
	args := m.Called(ctx, userID, jobID)
	view, _ := args.Get(0).(*service.NarrationView)
	return view, args.Error(1)
}

type MockQuotaService struct {
	mock.Mock
}

func (m *MockQuotaService) Reserve(ctx context.Context, userID string, resource model.ResourceType, tier model.PlanTier, fileSize int64) (*model.Reservation, error) {
	args := m.Called(ctx, userID, resource, tier, fileSize)
	res, _ := args.Get(0).(*model.Reservation)
	return res, args.Error(1)
}

func (m *MockQuotaService) CurrentUsage(ctx context.Context, userID string, tier model.PlanTier) (*model.UsageSnapshot, error) {
	args := m.Called(ctx, userID, tier)
	snap, _ := args.Get(0).(*model.UsageSnapshot)
	return snap, args.Error(1)
}

// fixedTiers resolves every user to one tier.
type fixedTiers struct {
	service.SubscriptionService
	tier model.PlanTier
}

func (f fixedTiers) ResolveTier(context.Context, string) (model.PlanTier, error) {
	return f.tier, nil
}
