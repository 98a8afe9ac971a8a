package generation

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/invopop/jsonschema"

	"studybuddy/internal/model"
	"studybuddy/internal/provider"
)

var (
	flashcardSchema = mustSchema[model.FlashcardDeck]()
	testSchema      = mustSchema[model.PracticeTest]()
)

func mustSchema[T any]() string {
	reflector := &jsonschema.Reflector{
		RequiredFromJSONSchemaTags: true,
		ExpandedStruct:             true,
		DoNotReference:             true,
	}
	schema := reflector.Reflect(new(T))
	schema.Version = ""
	b, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		panic(fmt.Sprintf("generation: schema for %T: %v", *new(T), err))
	}
	return string(b)
}

const notesSystemPrompt = `You are a study assistant that turns source material into clear study notes.
Write in Markdown. Start with a one-paragraph summary, then use headings for each major topic,
bullet points for key facts and bold for important terms. Finish with a "Key takeaways" list.
Only use information present in the source material.`

const flashcardsSystemPrompt = `You are a study assistant that writes flashcards from source material.
Each card tests a single fact, term or concept. Keep fronts short and backs precise.
Write between 8 and 25 cards depending on how much material there is.
Return a JSON object that matches this JSON Schema:
%s`

const testSystemPrompt = `You are a study assistant that writes multiple-choice practice tests.
Each question has between 2 and 6 options and exactly one correct answer.
answer_index is the zero-based position of the correct option. Add a short explanation per question.
Write between 5 and 15 questions depending on how much material there is.
Return a JSON object that matches this JSON Schema:
%s`

const chatSystemPrompt = `You are a patient tutor helping a student understand their study material.
Answer the student's question using the material below when it is relevant, and say so when
the material does not cover the question. Keep answers focused and use examples.`

var narrationStylePrompts = map[model.NarrationStyle]string{
	model.StyleLecturer: `Write a script for a university lecturer explaining the material aloud.
Structured, precise and paced for listening, with brief recaps between sections.`,
	model.StyleStoryteller: `Write a script that teaches the material as a story, with characters or
a narrative thread that carries each concept. Keep every fact accurate.`,
	model.StylePodcast: `Write a script for a solo podcast host walking through the material in a
relaxed, conversational tone with occasional rhetorical questions.`,
	model.StyleELI5: `Write a script explaining the material as if to a curious ten-year-old,
using simple words and everyday analogies.`,
}

const narrationCommon = `The script is read aloud by a text-to-speech voice: write plain spoken prose
without Markdown, headings, lists or stage directions. Aim for three to eight minutes of speech.`

// Source is the study material a generation request is built from.
type Source struct {
	Title  string
	Text   string
	Images []provider.Image
}

// PromptBuilder builds provider requests for each content type. Every
// provider in the chain receives the same request.
type PromptBuilder struct {
	truncator *Truncator
}

// NewPromptBuilder creates a builder. A nil truncator leaves source text untouched.
func NewPromptBuilder(truncator *Truncator) *PromptBuilder {
	return &PromptBuilder{truncator: truncator}
}

// Notes builds a Markdown notes request.
func (b *PromptBuilder) Notes(src Source) *provider.Request {
	return b.fromSource(notesSystemPrompt, src, false)
}

// Flashcards builds a request whose output must decode into model.FlashcardDeck.
func (b *PromptBuilder) Flashcards(src Source) *provider.Request {
	return b.fromSource(fmt.Sprintf(flashcardsSystemPrompt, flashcardSchema), src, true)
}

// Test builds a request whose output must decode into model.PracticeTest.
func (b *PromptBuilder) Test(src Source) *provider.Request {
	return b.fromSource(fmt.Sprintf(testSystemPrompt, testSchema), src, true)
}

// Narration builds a spoken-script request in the given style.
func (b *PromptBuilder) Narration(src Source, style model.NarrationStyle) (*provider.Request, error) {
	stylePrompt, ok := narrationStylePrompts[style]
	if !ok {
		return nil, fmt.Errorf("unknown narration style %q", style)
	}
	return b.fromSource(stylePrompt+"\n"+narrationCommon, src, false), nil
}

// Chat builds one tutoring turn. material may be empty.
func (b *PromptBuilder) Chat(material string, history []provider.Message, message string) *provider.Request {
	system := chatSystemPrompt
	if material = strings.TrimSpace(material); material != "" {
		material, _ = b.truncate(material)
		system += "\n\n<material>\n" + material + "\n</material>"
	}

	messages := make([]provider.Message, 0, len(history)+1)
	messages = append(messages, history...)
	messages = append(messages, provider.Message{Role: provider.RoleUser, Content: message})
	return &provider.Request{System: system, Messages: messages}
}

func (b *PromptBuilder) fromSource(system string, src Source, jsonOut bool) *provider.Request {
	text, truncated := b.truncate(strings.TrimSpace(src.Text))

	var sb strings.Builder
	if src.Title != "" {
		sb.WriteString("Title: ")
		sb.WriteString(src.Title)
		sb.WriteString("\n\n")
	}
	sb.WriteString("Source material:\n")
	sb.WriteString(text)
	if truncated {
		sb.WriteString("\n\n(The source was cut short; cover only what is shown.)")
	}
	if len(src.Images) > 0 {
		sb.WriteString("\n\nThe attached images are part of the source material.")
	}

	return &provider.Request{
		System:   system,
		Messages: []provider.Message{{Role: provider.RoleUser, Content: sb.String()}},
		Images:   src.Images,
		JSON:     jsonOut,
	}
}

func (b *PromptBuilder) truncate(text string) (string, bool) {
	if b.truncator == nil {
		return text, false
	}
	return b.truncator.Truncate(text)
}
