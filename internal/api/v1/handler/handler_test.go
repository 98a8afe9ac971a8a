package handler

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/api/v1/dto"
	"studybuddy/internal/generation"
	"studybuddy/internal/middleware"
	"studybuddy/internal/model"
	"studybuddy/internal/provider"
	"studybuddy/internal/service"
)

const (
	testUser = "user-1"
	jobID    = "5f0c6d1e-8a1b-4c53-9a55-3f0d2f7e9b10"
)

// asUser stands in for the auth middleware.
func asUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		next.ServeHTTP(w, r.WithContext(middleware.WithUserID(r.Context(), testUser)))
	})
}

func newTestRouter(register ...func(chi.Router)) http.Handler {
	r := chi.NewRouter()
	r.Use(asUser)
	for _, reg := range register {
		reg(r)
	}
	return r
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decodeError(t *testing.T, rec *httptest.ResponseRecorder) dto.ErrorResponseDTO {
	t.Helper()
	var body dto.ErrorResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestGenerateMaterialStatus(t *testing.T) {
	materials := new(MockMaterialService)
	h := NewMaterialHandler(materials, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterGenerationRoutes)

	stored := &model.Material{ID: "m1", Type: model.ContentNotes, Content: json.RawMessage(`{"markdown":"# Cells"}`)}
	materials.On("Generate", mock.Anything, mock.MatchedBy(func(in service.GenerateInput) bool {
		return in.SourceText == "new" && in.Type == model.ContentNotes && in.UserID == testUser
	})).Return(stored, false, nil)
	materials.On("Generate", mock.Anything, mock.MatchedBy(func(in service.GenerateInput) bool {
		return in.SourceText == "seen"
	})).Return(stored, true, nil)

	rec := do(t, router, http.MethodPost, "/materials/notes", `{"source_text":"new"}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/materials/notes", `{"source_text":"seen"}`)
	assert.Equal(t, http.StatusOK, rec.Code)
	var body dto.MaterialResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.True(t, body.Cached)
	assert.JSONEq(t, `{"markdown":"# Cells"}`, string(body.Content))
}

func TestGenerateMaterialRejectsBadRequests(t *testing.T) {
	materials := new(MockMaterialService)
	h := NewMaterialHandler(materials, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterGenerationRoutes)

	rec := do(t, router, http.MethodPost, "/materials/notes", `{}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/materials/notes", `{"source_text":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, router, http.MethodPost, "/materials/essay", `{"source_text":"x"}`)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	materials.AssertNotCalled(t, "Generate", mock.Anything, mock.Anything)
}

func TestGenerateMaterialExhaustedIsBadGateway(t *testing.T) {
	materials := new(MockMaterialService)
	h := NewMaterialHandler(materials, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterGenerationRoutes)

	exhausted := &generation.ExhaustedError{Last: provider.NewError("gemini", provider.KindSchema, errors.New("bad json"))}
	materials.On("Generate", mock.Anything, mock.Anything).Return(nil, false, exhausted)

	rec := do(t, router, http.MethodPost, "/materials/flashcards", `{"source_text":"x"}`)
	assert.Equal(t, http.StatusBadGateway, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "generation_failed", body.Error)
	assert.Equal(t, string(provider.KindSchema), body.LastKind)
}

func TestMaterialPathIDMustBeUUID(t *testing.T) {
	materials := new(MockMaterialService)
	h := NewMaterialHandler(materials, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterRoutes)

	rec := do(t, router, http.MethodGet, "/materials/not-a-uuid", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
	materials.AssertNotCalled(t, "Get", mock.Anything, mock.Anything, mock.Anything)

	materials.On("Delete", mock.Anything, testUser, jobID).Return(service.ErrMaterialNotFound)
	rec = do(t, router, http.MethodDelete, "/materials/"+jobID, "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestListMaterialsClampsLimit(t *testing.T) {
	materials := new(MockMaterialService)
	h := NewMaterialHandler(materials, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterRoutes)

	materials.On("List", mock.Anything, testUser, defaultListLimit, 0).Return([]model.Material{{ID: "m1", Title: "Cells"}}, nil)

	rec := do(t, router, http.MethodGet, "/materials?limit=5000&offset=-3", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var out []dto.MaterialSummaryDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &out))
	assert.Len(t, out, 1)
}

func TestQueueNarrationAccepted(t *testing.T) {
	narrations := new(MockNarrationService)
	h := NewNarrationHandler(narrations, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterGenerationRoutes, h.RegisterRoutes)

	narrations.On("Queue", mock.Anything, testUser, "Cells", model.StylePodcast, "mitochondria").
		Return(&model.NarrationJob{ID: jobID, Style: model.StylePodcast, Status: model.NarrationQueued}, nil)

	rec := do(t, router, http.MethodPost, "/materials/narration", `{"title":"Cells","style":"podcast","source_text":"mitochondria"}`)
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, "/v1/narrations/"+jobID, rec.Header().Get("Location"))

	rec = do(t, router, http.MethodPost, "/materials/narration", `{"style":"opera","source_text":"x"}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestGetNarrationStatus(t *testing.T) {
	narrations := new(MockNarrationService)
	h := NewNarrationHandler(narrations, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterRoutes)

	narrations.On("Get", mock.Anything, testUser, jobID).Return(&service.NarrationView{
		NarrationJob: &model.NarrationJob{ID: jobID, Status: model.NarrationComplete},
		AudioURL:     "https://cdn.example/a.mp3",
	}, nil)

	rec := do(t, router, http.MethodGet, "/narrations/"+jobID, "")
	assert.Equal(t, http.StatusOK, rec.Code)
	var body dto.NarrationResponseDTO
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, model.NarrationComplete, body.Status)
	assert.Equal(t, "https://cdn.example/a.mp3", body.AudioURL)
}

func TestReserveUploadQuotaResponses(t *testing.T) {
	quota := new(MockQuotaService)
	h := NewUsageHandler(quota, fixedTiers{tier: model.PlanCooked}, validator.New(), "https://app.example/pricing", zerolog.Nop())
	router := newTestRouter(h.RegisterRoutes)

	quota.On("Reserve", mock.Anything, testUser, model.ResourceDocument, model.PlanCooked, int64(10)).
		Return(&model.Reservation{UserID: testUser, Resource: model.ResourceDocument, Count: 1, Limit: 2}, nil)
	quota.On("Reserve", mock.Anything, testUser, model.ResourceDocument, model.PlanCooked, int64(20)).
		Return(nil, &service.QuotaError{Kind: service.QuotaLimitReached, UpgradeTo: model.PlanCommited, Limit: 2, Used: 2, Message: "limit reached"})
	quota.On("Reserve", mock.Anything, testUser, model.ResourceDocument, model.PlanCooked, int64(30)).
		Return(nil, &service.QuotaError{Kind: service.QuotaFileTooLarge, UpgradeTo: model.PlanCommited, Message: "too large"})

	rec := do(t, router, http.MethodPost, "/uploads/documents", `{"filename":"a.pdf","size_bytes":10}`)
	assert.Equal(t, http.StatusCreated, rec.Code)

	rec = do(t, router, http.MethodPost, "/uploads/documents", `{"filename":"a.pdf","size_bytes":20}`)
	assert.Equal(t, http.StatusPaymentRequired, rec.Code)
	body := decodeError(t, rec)
	assert.Equal(t, "quota_exceeded", body.Error)
	assert.Equal(t, "https://app.example/pricing", body.UpgradeURL)
	require.NotNil(t, body.Limit)
	assert.Equal(t, 2, *body.Limit)

	rec = do(t, router, http.MethodPost, "/uploads/documents", `{"filename":"a.pdf","size_bytes":30}`)
	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	body = decodeError(t, rec)
	assert.Equal(t, "file_too_large", body.Error)
	assert.Nil(t, body.Limit)
}

func TestGetUsage(t *testing.T) {
	quota := new(MockQuotaService)
	h := NewUsageHandler(quota, fixedTiers{tier: model.PlanLockedIn}, validator.New(), "", zerolog.Nop())
	router := newTestRouter(h.RegisterRoutes)

	quota.On("CurrentUsage", mock.Anything, testUser, model.PlanLockedIn).Return(&model.UsageSnapshot{}, nil)

	rec := do(t, router, http.MethodGet, "/usage", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	quota.AssertExpectations(t)
}

func TestChatRequiresUser(t *testing.T) {
	materials := new(MockMaterialService)
	h := NewChatHandler(materials, validator.New(), zerolog.Nop())
	r := chi.NewRouter()
	h.RegisterGenerationRoutes(r)

	rec := do(t, r, http.MethodPost, "/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestChatNoEligibleProvider(t *testing.T) {
	materials := new(MockMaterialService)
	h := NewChatHandler(materials, validator.New(), zerolog.Nop())
	router := newTestRouter(h.RegisterGenerationRoutes)

	materials.On("Chat", mock.Anything, testUser, "", mock.Anything, "hi").Return(nil, generation.ErrNoEligibleProvider)

	rec := do(t, router, http.MethodPost, "/chat", `{"message":"hi"}`)
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}
