package dto

import (
	"encoding/json"
	"time"

	"studybuddy/internal/model"
)

// ImageDTO is an inline base64 image attached to the source material.
type ImageDTO struct {
	MIMEType string `json:"mime_type" validate:"required,oneof=image/png image/jpeg image/webp image/gif"`
	Data     string `json:"data" validate:"required,base64"`
}

// MaterialGenerateRequestDTO asks for notes, flashcards or a practice test.
type MaterialGenerateRequestDTO struct {
	Title      string     `json:"title" validate:"max=255"`
	SourceText string     `json:"source_text" validate:"required_without=Images"`
	Images     []ImageDTO `json:"images" validate:"max=8,dive"`
}

// MaterialResponseDTO is a stored artifact.
type MaterialResponseDTO struct {
	ID        string            `json:"id"`
	Type      model.ContentType `json:"type"`
	Title     string            `json:"title"`
	Provider  string            `json:"provider"`
	Cached    bool              `json:"cached"`
	Content   json.RawMessage   `json:"content"`
	CreatedAt time.Time         `json:"created_at"`
}

// MaterialSummaryDTO is a list entry without the content body.
type MaterialSummaryDTO struct {
	ID        string            `json:"id"`
	Type      model.ContentType `json:"type"`
	Title     string            `json:"title"`
	CreatedAt time.Time         `json:"created_at"`
}

// NewMaterialResponse converts a stored material.
func NewMaterialResponse(m *model.Material, cached bool) MaterialResponseDTO {
	return MaterialResponseDTO{
		ID:        m.ID,
		Type:      m.Type,
		Title:     m.Title,
		Provider:  m.Provider,
		Cached:    cached,
		Content:   m.Content,
		CreatedAt: m.CreatedAt,
	}
}
