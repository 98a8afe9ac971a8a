package model

import (
	"fmt"
	"time"
)

// NarrationStyle controls the voice and framing of a narration script.
type NarrationStyle string

const (
	StyleLecturer    NarrationStyle = "lecturer"
	StyleStoryteller NarrationStyle = "storyteller"
	StylePodcast     NarrationStyle = "podcast"
	StyleELI5        NarrationStyle = "eli5"
)

// ParseNarrationStyle validates a style name.
func ParseNarrationStyle(s string) (NarrationStyle, error) {
	switch NarrationStyle(s) {
	case StyleLecturer, StyleStoryteller, StylePodcast, StyleELI5:
		return NarrationStyle(s), nil
	}
	return "", fmt.Errorf("unknown narration style %q", s)
}

// Narration job statuses.
const (
	NarrationQueued     = "queued"
	NarrationGenerating = "generating"
	NarrationComplete   = "complete"
	NarrationFailed     = "failed"
)

// NarrationJob tracks an asynchronous styled-audio generation.
type NarrationJob struct {
	ID           string         `db:"id" json:"id"`
	UserID       string         `db:"user_id" json:"user_id"`
	Title        string         `db:"title" json:"title"`
	Style        NarrationStyle `db:"style" json:"style"`
	SourceText   string         `db:"source_text" json:"-"`
	Status       string         `db:"status" json:"status"`
	Script       *string        `db:"script" json:"script,omitempty"`
	StoragePath  *string        `db:"storage_path" json:"-"`
	Provider     *string        `db:"provider" json:"provider,omitempty"`
	ErrorDetails *string        `db:"error_details" json:"error_details,omitempty"`
	CreatedAt    time.Time      `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time      `db:"updated_at" json:"updated_at"`
}
