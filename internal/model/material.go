package model

import (
	"encoding/json"
	"fmt"
	"time"
)

// ContentType is the kind of artifact a generation request produces.
type ContentType string

const (
	ContentNotes      ContentType = "notes"
	ContentFlashcards ContentType = "flashcards"
	ContentTest       ContentType = "test"
	ContentNarration  ContentType = "narration"
	ContentChat       ContentType = "chat"
)

// ParseContentType validates a content type name.
func ParseContentType(s string) (ContentType, error) {
	switch ContentType(s) {
	case ContentNotes, ContentFlashcards, ContentTest, ContentNarration, ContentChat:
		return ContentType(s), nil
	}
	return "", fmt.Errorf("unknown content type %q", s)
}

// Notes is the stored form of generated Markdown notes.
type Notes struct {
	Markdown string `json:"markdown"`
}

// Flashcard is a single question/answer card.
type Flashcard struct {
	Front string `json:"front" jsonschema:"required,description=Question or term shown first" validate:"required"`
	Back  string `json:"back" jsonschema:"required,description=Answer or definition" validate:"required"`
}

// FlashcardDeck is the structured output for flashcard generation.
type FlashcardDeck struct {
	Flashcards []Flashcard `json:"flashcards" jsonschema:"required,minItems=1" validate:"required,min=1,dive"`
}

// TestQuestion is one multiple-choice question.
type TestQuestion struct {
	Question    string   `json:"question" jsonschema:"required" validate:"required"`
	Options     []string `json:"options" jsonschema:"required,minItems=2,maxItems=6" validate:"required,min=2,max=6,dive,required"`
	AnswerIndex int      `json:"answer_index" jsonschema:"required,minimum=0,description=Zero-based index into options" validate:"gte=0"`
	Explanation string   `json:"explanation,omitempty"`
}

// PracticeTest is the structured output for test generation.
type PracticeTest struct {
	Title     string         `json:"title" jsonschema:"required" validate:"required"`
	Questions []TestQuestion `json:"questions" jsonschema:"required,minItems=1" validate:"required,min=1,dive"`
}

// Check verifies constraints the struct tags cannot express.
func (t *PracticeTest) Check() error {
	for i, q := range t.Questions {
		if q.AnswerIndex >= len(q.Options) {
			return fmt.Errorf("question %d: answer_index %d out of range for %d options", i, q.AnswerIndex, len(q.Options))
		}
	}
	return nil
}

// Material is a persisted generated artifact.
type Material struct {
	ID         string          `db:"id" json:"id"`
	UserID     string          `db:"user_id" json:"user_id"`
	Type       ContentType     `db:"content_type" json:"type"`
	Title      string          `db:"title" json:"title"`
	SourceHash string          `db:"source_hash" json:"source_hash"`
	Provider   string          `db:"provider" json:"provider"`
	Content    json.RawMessage `db:"content" json:"content"`
	CreatedAt  time.Time       `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time       `db:"updated_at" json:"updated_at"`
}
