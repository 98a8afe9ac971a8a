package provider

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	speechEndpoint     = "/audio/speech"
	defaultSpeechModel = "gpt-4o-mini-tts"
	// maxSpeechInput is the per-request character limit of the speech endpoint.
	maxSpeechInput = 4096
)

// Synthesizer turns text into audio.
type Synthesizer interface {
	// Synthesize returns MP3 audio for text read in the given voice.
	Synthesize(ctx context.Context, text, voice string) ([]byte, error)
}

// SpeechConfig configures the OpenAI text-to-speech client.
type SpeechConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type openAISpeech struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewSpeech creates an OpenAI text-to-speech client.
func NewSpeech(cfg SpeechConfig) (Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultSpeechModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPClientTimeout}
	}
	return &openAISpeech{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  cfg.HTTPClient,
	}, nil
}

type speechRequest struct {
	Model          string `json:"model"`
	Input          string `json:"input"`
	Voice          string `json:"voice"`
	ResponseFormat string `json:"response_format"`
}

// Synthesize splits long text into chunks the endpoint accepts and
// concatenates the MP3 frames of each reply.
func (s *openAISpeech) Synthesize(ctx context.Context, text, voice string) ([]byte, error) {
	chunks := SplitSpeechText(text, maxSpeechInput)
	if len(chunks) == 0 {
		return nil, NewError("openai-tts", KindTransport, fmt.Errorf("nothing to synthesize"))
	}

	headers := map[string]string{"Authorization": "Bearer " + s.apiKey}
	var audio bytes.Buffer
	for i, chunk := range chunks {
		body := speechRequest{
			Model:          s.model,
			Input:          chunk,
			Voice:          voice,
			ResponseFormat: "mp3",
		}
		data, err := post(ctx, s.client, "openai-tts", s.baseURL+speechEndpoint, headers, body)
		if err != nil {
			return nil, fmt.Errorf("synthesize chunk %d/%d: %w", i+1, len(chunks), err)
		}
		audio.Write(data)
	}
	return audio.Bytes(), nil
}

// SplitSpeechText splits text into chunks of at most limit bytes, breaking at
// sentence ends or whitespace where possible.
func SplitSpeechText(text string, limit int) []string {
	text = strings.TrimSpace(text)
	var chunks []string
	for len(text) > limit {
		cut := breakPoint(text, limit)
		chunks = append(chunks, strings.TrimSpace(text[:cut]))
		text = strings.TrimSpace(text[cut:])
	}
	if text != "" {
		chunks = append(chunks, text)
	}
	return chunks
}

func breakPoint(text string, limit int) int {
	window := text[:limit]
	if i := strings.LastIndexAny(window, ".!?\n"); i > limit/2 {
		return i + 1
	}
	if i := strings.LastIndexFunc(window, unicode.IsSpace); i > 0 {
		return i
	}
	cut := limit
	for cut > 0 && !utf8.RuneStart(text[cut]) {
		cut--
	}
	if cut == 0 {
		return limit
	}
	return cut
}
