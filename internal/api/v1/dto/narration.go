package dto

import (
	"time"

	"studybuddy/internal/model"
)

// NarrationRequestDTO queues a styled narration of the source text.
type NarrationRequestDTO struct {
	Title      string               `json:"title" validate:"max=255"`
	SourceText string               `json:"source_text" validate:"required"`
	Style      model.NarrationStyle `json:"style" validate:"required,oneof=lecturer storyteller podcast eli5"`
}

// NarrationResponseDTO reports a narration job.
type NarrationResponseDTO struct {
	ID           string               `json:"id"`
	Title        string               `json:"title"`
	Style        model.NarrationStyle `json:"style"`
	Status       string               `json:"status"`
	Script       *string              `json:"script,omitempty"`
	AudioURL     string               `json:"audio_url,omitempty"`
	Provider     *string              `json:"provider,omitempty"`
	ErrorDetails *string              `json:"error_details,omitempty"`
	CreatedAt    time.Time            `json:"created_at"`
	UpdatedAt    time.Time            `json:"updated_at"`
}
