package service

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"studybuddy/internal/generation"
	"studybuddy/internal/model"
	"studybuddy/internal/provider"
)

func newTestMaterialService(repo *MockMaterialRepo, gen generation.Generator) MaterialService {
	return NewMaterialService(repo, gen, generation.NewPromptBuilder(nil), validator.New(), zerolog.Nop())
}

func TestGenerateFlashcardsStoresValidatedDeck(t *testing.T) {
	repo := new(MockMaterialRepo)
	gen := &scriptedGenerator{provider: "anthropic", raw: `{"flashcards":[{"front":"ATP","back":"Energy carrier"}]}`}
	svc := newTestMaterialService(repo, gen)

	repo.On("FindBySourceHash", mock.Anything, "u1", model.ContentFlashcards, mock.AnythingOfType("string")).Return(nil, nil)
	repo.On("CreateMaterial", mock.Anything, mock.MatchedBy(func(m *model.Material) bool {
		return m.UserID == "u1" && m.Provider == "anthropic" && m.Title == "Flashcards"
	})).Return(nil)

	m, cached, err := svc.Generate(context.Background(), GenerateInput{UserID: "u1", Type: model.ContentFlashcards, SourceText: "cells"})
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, "mat-1", m.ID)

	var deck model.FlashcardDeck
	require.NoError(t, json.Unmarshal(m.Content, &deck))
	assert.Equal(t, "ATP", deck.Flashcards[0].Front)
	assert.True(t, gen.requests[0].JSON)
	repo.AssertExpectations(t)
}

func TestGenerateTestTakesTitleFromArtifact(t *testing.T) {
	repo := new(MockMaterialRepo)
	gen := &scriptedGenerator{provider: "openai", raw: `{"title":"Cell biology quiz","questions":[{"question":"Q?","options":["a","b"],"answer_index":0}]}`}
	svc := newTestMaterialService(repo, gen)

	repo.On("FindBySourceHash", mock.Anything, "u1", model.ContentTest, mock.Anything).Return(nil, nil)
	repo.On("CreateMaterial", mock.Anything, mock.Anything).Return(nil)

	m, _, err := svc.Generate(context.Background(), GenerateInput{UserID: "u1", Type: model.ContentTest, SourceText: "cells"})
	require.NoError(t, err)
	assert.Equal(t, "Cell biology quiz", m.Title)
}

func TestGenerateReturnsStoredArtifactForSameSource(t *testing.T) {
	repo := new(MockMaterialRepo)
	gen := &scriptedGenerator{provider: "openai", raw: "# Notes"}
	svc := newTestMaterialService(repo, gen)

	existing := &model.Material{ID: "old", Type: model.ContentNotes}
	repo.On("FindBySourceHash", mock.Anything, "u1", model.ContentNotes, SourceHash(model.ContentNotes, "cells", nil)).Return(existing, nil)

	m, cached, err := svc.Generate(context.Background(), GenerateInput{UserID: "u1", Type: model.ContentNotes, SourceText: "  cells  "})
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, "old", m.ID)
	assert.Equal(t, 0, gen.callCount())
	repo.AssertNotCalled(t, "CreateMaterial", mock.Anything, mock.Anything)
}

func TestGenerateCollapsesConcurrentIdenticalRequests(t *testing.T) {
	repo := new(MockMaterialRepo)
	gen := &scriptedGenerator{provider: "openai", raw: "# Notes", delay: 50 * time.Millisecond}
	svc := newTestMaterialService(repo, gen)

	repo.On("FindBySourceHash", mock.Anything, "u1", model.ContentNotes, mock.Anything).Return(nil, nil)
	repo.On("CreateMaterial", mock.Anything, mock.Anything).Return(nil)

	var wg sync.WaitGroup
	for i := 0; i < 5; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _, err := svc.Generate(context.Background(), GenerateInput{UserID: "u1", Type: model.ContentNotes, SourceText: "same text"})
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, gen.callCount())
}

func TestGenerateJoinedCallerSurvivesFirstCallerCancel(t *testing.T) {
	repo := new(MockMaterialRepo)
	gen := &scriptedGenerator{provider: "openai", raw: "# Notes", delay: 300 * time.Millisecond}
	svc := newTestMaterialService(repo, gen)

	repo.On("FindBySourceHash", mock.Anything, "u1", model.ContentNotes, mock.Anything).Return(nil, nil)
	repo.On("CreateMaterial", mock.Anything, mock.Anything).Return(nil)

	in := GenerateInput{UserID: "u1", Type: model.ContentNotes, SourceText: "same text"}
	firstCtx, cancel := context.WithCancel(context.Background())

	firstErr := make(chan error, 1)
	go func() {
		_, _, err := svc.Generate(firstCtx, in)
		firstErr <- err
	}()
	time.Sleep(20 * time.Millisecond)

	secondErr := make(chan error, 1)
	var second *model.Material
	go func() {
		m, _, err := svc.Generate(context.Background(), in)
		second = m
		secondErr <- err
	}()

	time.Sleep(30 * time.Millisecond)
	cancel()

	assert.ErrorIs(t, <-firstErr, context.Canceled)
	require.NoError(t, <-secondErr)
	assert.Equal(t, "mat-1", second.ID)
	assert.Equal(t, 1, gen.callCount())
}

func TestGenerateSurfacesExhaustion(t *testing.T) {
	repo := new(MockMaterialRepo)
	gen := &scriptedGenerator{provider: "gemini", raw: "not json"}
	svc := newTestMaterialService(repo, gen)

	repo.On("FindBySourceHash", mock.Anything, "u1", model.ContentFlashcards, mock.Anything).Return(nil, nil)

	_, _, err := svc.Generate(context.Background(), GenerateInput{UserID: "u1", Type: model.ContentFlashcards, SourceText: "x"})
	assert.ErrorIs(t, err, generation.ErrAllProvidersExhausted)
	repo.AssertNotCalled(t, "CreateMaterial", mock.Anything, mock.Anything)
}

func TestGenerateRejectsBadInput(t *testing.T) {
	svc := newTestMaterialService(new(MockMaterialRepo), &scriptedGenerator{})
	ctx := context.Background()

	_, _, err := svc.Generate(ctx, GenerateInput{UserID: "u1", Type: model.ContentNotes, SourceText: "  "})
	assert.ErrorIs(t, err, ErrEmptySource)

	_, _, err = svc.Generate(ctx, GenerateInput{UserID: "u1", Type: model.ContentNarration, SourceText: "x"})
	assert.ErrorIs(t, err, ErrUnsupportedContentType)
}

func TestSourceHashDistinguishesInputs(t *testing.T) {
	img := []provider.Image{{MIMEType: "image/png", Data: []byte{1}}}

	base := SourceHash(model.ContentNotes, "text", nil)
	assert.Equal(t, base, SourceHash(model.ContentNotes, " text\n", nil))
	assert.NotEqual(t, base, SourceHash(model.ContentFlashcards, "text", nil))
	assert.NotEqual(t, base, SourceHash(model.ContentNotes, "text", img))
	assert.NotEqual(t, SourceHash(model.ContentNotes, "ab", nil), SourceHash(model.ContentNotes, "a", []provider.Image{{MIMEType: "b"}}))
}

func TestChatUsesStoredNotesAsContext(t *testing.T) {
	repo := new(MockMaterialRepo)
	gen := &scriptedGenerator{provider: "openai", raw: " ATP is made in mitochondria. "}
	svc := newTestMaterialService(repo, gen)

	notes, _ := json.Marshal(model.Notes{Markdown: "# ATP\nMade by ATP synthase."})
	repo.On("GetMaterial", mock.Anything, "u1", "m1").Return(&model.Material{ID: "m1", Type: model.ContentNotes, Content: notes}, nil)

	reply, err := svc.Chat(context.Background(), "u1", "m1", nil, "where is ATP made?")
	require.NoError(t, err)
	assert.Equal(t, "ATP is made in mitochondria.", reply.Message)
	assert.Equal(t, "openai", reply.Provider)
	assert.Contains(t, gen.requests[0].System, "Made by ATP synthase.")
}

func TestChatUnknownMaterial(t *testing.T) {
	repo := new(MockMaterialRepo)
	svc := newTestMaterialService(repo, &scriptedGenerator{})
	repo.On("GetMaterial", mock.Anything, "u1", "missing").Return(nil, nil)

	_, err := svc.Chat(context.Background(), "u1", "missing", nil, "hi")
	assert.ErrorIs(t, err, ErrMaterialNotFound)
}

func TestDeleteMaterial(t *testing.T) {
	repo := new(MockMaterialRepo)
	svc := newTestMaterialService(repo, &scriptedGenerator{})
	repo.On("DeleteMaterial", mock.Anything, "u1", "m1").Return(true, nil)
	repo.On("DeleteMaterial", mock.Anything, "u1", "m2").Return(false, nil)
	repo.On("DeleteMaterial", mock.Anything, "u1", "m3").Return(false, errors.New("db down"))

	assert.NoError(t, svc.Delete(context.Background(), "u1", "m1"))
	assert.ErrorIs(t, svc.Delete(context.Background(), "u1", "m2"), ErrMaterialNotFound)
	assert.Error(t, svc.Delete(context.Background(), "u1", "m3"))
}
