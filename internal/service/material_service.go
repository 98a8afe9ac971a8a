package service

import (
	"context"
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"

	"studybuddy/internal/generation"
	"studybuddy/internal/model"
	"studybuddy/internal/provider"
	"studybuddy/internal/repository"
)

var (
	ErrMaterialNotFound       = errors.New("material not found")
	ErrEmptySource            = errors.New("source text or images are required")
	ErrUnsupportedContentType = errors.New("content type cannot be generated here")
)

// GenerateInput describes one study-material generation.
type GenerateInput struct {
	UserID     string
	Type       model.ContentType
	Title      string
	SourceText string
	Images     []provider.Image
}

// ChatReply is one tutoring answer.
type ChatReply struct {
	Message  string `json:"message"`
	Provider string `json:"provider"`
}

// MaterialService generates and stores notes, flashcards and practice tests.
type MaterialService interface {
	// Generate returns the stored artifact for identical earlier input, or
	// generates a new one. cached reports which happened.
	Generate(ctx context.Context, in GenerateInput) (m *model.Material, cached bool, err error)
	Get(ctx context.Context, userID, id string) (*model.Material, error)
	List(ctx context.Context, userID string, limit, offset int) ([]model.Material, error)
	Delete(ctx context.Context, userID, id string) error
	// Chat answers a question, grounded on a stored material when materialID is set.
	Chat(ctx context.Context, userID, materialID string, history []provider.Message, message string) (*ChatReply, error)
}

type materialService struct {
	repo     repository.MaterialRepository
	chain    generation.Generator
	prompts  *generation.PromptBuilder
	validate *validator.Validate
	group    singleflight.Group
	// sharedTimeout bounds one deduplicated generation.
	sharedTimeout time.Duration
	logger        zerolog.Logger
}

const defaultSharedGenerationTimeout = 2 * time.Minute

// NewMaterialService creates a new MaterialService with a scoped logger.
func NewMaterialService(repo repository.MaterialRepository, chain generation.Generator, prompts *generation.PromptBuilder, validate *validator.Validate, logger zerolog.Logger) MaterialService {
	return &materialService{
		repo:          repo,
		chain:         chain,
		prompts:       prompts,
		validate:      validate,
		sharedTimeout: defaultSharedGenerationTimeout,
		logger:        logger.With().Str("service", "MaterialService").Logger(),
	}
}

type generateOutcome struct {
	material *model.Material
	cached   bool
}

func (s *materialService) Generate(ctx context.Context, in GenerateInput) (*model.Material, bool, error) {
	switch in.Type {
	case model.ContentNotes, model.ContentFlashcards, model.ContentTest:
	default:
		return nil, false, fmt.Errorf("%w: %s", ErrUnsupportedContentType, in.Type)
	}
	if strings.TrimSpace(in.SourceText) == "" && len(in.Images) == 0 {
		return nil, false, ErrEmptySource
	}

	hash := SourceHash(in.Type, in.SourceText, in.Images)
	key := in.UserID + ":" + string(in.Type) + ":" + hash

	// The shared work outlives any single caller, so one disconnect does not
	// fail the requests that joined it.
	ch := s.group.DoChan(key, func() (any, error) {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.sharedTimeout)
		defer cancel()

		existing, err := s.repo.FindBySourceHash(ctx, in.UserID, in.Type, hash)
		if err != nil {
			return nil, err
		}
		if existing != nil {
			return generateOutcome{material: existing, cached: true}, nil
		}

		m, err := s.generate(ctx, in, hash)
		if err != nil {
			return nil, err
		}
		return generateOutcome{material: m}, nil
	})

	var res singleflight.Result
	select {
	case <-ctx.Done():
		return nil, false, ctx.Err()
	case res = <-ch:
	}
	if err := res.Err; err != nil {
		s.logger.Error().Err(err).Str("user_id", in.UserID).Str("type", string(in.Type)).Msg("Failed to generate material")
		return nil, false, err
	}

	out := res.Val.(generateOutcome)
	if res.Shared {
		s.logger.Debug().Str("user_id", in.UserID).Str("source_hash", hash).Msg("Joined in-flight generation")
	}
	return out.material, out.cached, nil
}

func (s *materialService) generate(ctx context.Context, in GenerateInput, hash string) (*model.Material, error) {
	src := generation.Source{Title: in.Title, Text: in.SourceText, Images: in.Images}
	title := in.Title

	var (
		req     *provider.Request
		check   generation.Check
		content func(raw string) (any, error)
	)
	switch in.Type {
	case model.ContentNotes:
		req, check = s.prompts.Notes(src), generation.NonEmptyText
		content = func(raw string) (any, error) {
			return model.Notes{Markdown: strings.TrimSpace(raw)}, nil
		}
	case model.ContentFlashcards:
		var deck model.FlashcardDeck
		req, check = s.prompts.Flashcards(src), generation.DecodeInto(&deck, s.validate)
		content = func(string) (any, error) { return deck, nil }
	case model.ContentTest:
		var test model.PracticeTest
		req, check = s.prompts.Test(src), generation.DecodeInto(&test, s.validate)
		content = func(string) (any, error) {
			if title == "" {
				title = test.Title
			}
			return test, nil
		}
	}

	res, err := s.chain.Generate(ctx, req, check)
	if err != nil {
		return nil, err
	}

	artifact, err := content(res.Raw)
	if err != nil {
		return nil, err
	}
	body, err := json.Marshal(artifact)
	if err != nil {
		return nil, fmt.Errorf("encode %s content: %w", in.Type, err)
	}
	if title == "" {
		title = defaultTitle(in.Type)
	}

	m := &model.Material{
		UserID:     in.UserID,
		Type:       in.Type,
		Title:      title,
		SourceHash: hash,
		Provider:   res.Provider,
		Content:    body,
	}
	if err := s.repo.CreateMaterial(ctx, m); err != nil {
		return nil, err
	}
	s.logger.Info().Str("user_id", in.UserID).Str("material_id", m.ID).Str("type", string(in.Type)).Str("provider", res.Provider).Msg("Material generated")
	return m, nil
}

func (s *materialService) Get(ctx context.Context, userID, id string) (*model.Material, error) {
	m, err := s.repo.GetMaterial(ctx, userID, id)
	if err != nil {
		s.logger.Error().Err(err).Str("material_id", id).Msg("Failed to fetch material")
		return nil, err
	}
	if m == nil {
		return nil, ErrMaterialNotFound
	}
	return m, nil
}

func (s *materialService) List(ctx context.Context, userID string, limit, offset int) ([]model.Material, error) {
	materials, err := s.repo.ListMaterials(ctx, userID, limit, offset)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Msg("Failed to list materials")
		return nil, err
	}
	return materials, nil
}

func (s *materialService) Delete(ctx context.Context, userID, id string) error {
	deleted, err := s.repo.DeleteMaterial(ctx, userID, id)
	if err != nil {
		s.logger.Error().Err(err).Str("material_id", id).Msg("Failed to delete material")
		return err
	}
	if !deleted {
		return ErrMaterialNotFound
	}
	return nil
}

func (s *materialService) Chat(ctx context.Context, userID, materialID string, history []provider.Message, message string) (*ChatReply, error) {
	var material string
	if materialID != "" {
		m, err := s.Get(ctx, userID, materialID)
		if err != nil {
			return nil, err
		}
		material = materialText(m)
	}

	res, err := s.chain.Generate(ctx, s.prompts.Chat(material, history, message), generation.NonEmptyText)
	if err != nil {
		s.logger.Error().Err(err).Str("user_id", userID).Str("material_id", materialID).Msg("Failed to answer chat turn")
		return nil, err
	}
	return &ChatReply{Message: strings.TrimSpace(res.Raw), Provider: res.Provider}, nil
}

// materialText renders stored content as prompt context.
func materialText(m *model.Material) string {
	if m.Type == model.ContentNotes {
		var notes model.Notes
		if err := json.Unmarshal(m.Content, &notes); err == nil {
			return notes.Markdown
		}
	}
	return string(m.Content)
}

func defaultTitle(t model.ContentType) string {
	switch t {
	case model.ContentFlashcards:
		return "Flashcards"
	case model.ContentTest:
		return "Practice test"
	}
	return "Notes"
}

// SourceHash identifies generation input so repeated requests reuse the stored artifact.
func SourceHash(t model.ContentType, text string, images []provider.Image) string {
	h := sha256.New()
	writeField := func(b []byte) {
		var n [8]byte
		binary.BigEndian.PutUint64(n[:], uint64(len(b)))
		h.Write(n[:])
		h.Write(b)
	}
	writeField([]byte(t))
	writeField([]byte(strings.TrimSpace(text)))
	for _, img := range images {
		writeField([]byte(img.MIMEType))
		writeField(img.Data)
	}
	return hex.EncodeToString(h.Sum(nil))
}
