package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"
)

const (
	openAIBaseURL            = "https://api.openai.com/v1"
	xaiBaseURL               = "https://api.x.ai/v1"
	chatCompletionsEndpoint  = "/chat/completions"
	defaultOpenAIModel       = "gpt-4o-mini"
	defaultXAIModel          = "grok-3-mini"
	defaultHTTPClientTimeout = 2 * time.Minute
)

// OpenAIConfig configures a client for an OpenAI-compatible chat completions API.
type OpenAIConfig struct {
	// Name is reported in errors, logs and metrics. Defaults to "openai".
	Name    string
	APIKey  string
	BaseURL string
	Model   string
	// Vision enables image parts in requests.
	Vision     bool
	HTTPClient *http.Client
}

type openAIProvider struct {
	name    string
	apiKey  string
	baseURL string
	model   string
	vision  bool
	client  *http.Client
}

// NewOpenAI creates a chat completions client. It also serves xAI and other
// compatible endpoints through BaseURL.
func NewOpenAI(cfg OpenAIConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.Name == "" {
		cfg.Name = "openai"
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = openAIBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultOpenAIModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPClientTimeout}
	}

	return &openAIProvider{
		name:    cfg.Name,
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		vision:  cfg.Vision,
		client:  cfg.HTTPClient,
	}, nil
}

// NewXAI creates a client for the xAI chat completions API, which has no image
// input. An empty baseURL uses the public endpoint.
func NewXAI(apiKey, baseURL, model string, httpClient *http.Client) (Provider, error) {
	if baseURL == "" {
		baseURL = xaiBaseURL
	}
	if model == "" {
		model = defaultXAIModel
	}
	return NewOpenAI(OpenAIConfig{
		Name:       "xai",
		APIKey:     apiKey,
		BaseURL:    baseURL,
		Model:      model,
		HTTPClient: httpClient,
	})
}

func (p *openAIProvider) Name() string { return p.name }

func (p *openAIProvider) SupportsVision() bool { return p.vision }

type chatMessage struct {
	Role    string `json:"role"`
	Content any    `json:"content"`
}

type chatContentPart struct {
	Type     string        `json:"type"`
	Text     string        `json:"text,omitempty"`
	ImageURL *chatImageURL `json:"image_url,omitempty"`
}

type chatImageURL struct {
	URL string `json:"url"`
}

type chatCompletionRequest struct {
	Model          string            `json:"model"`
	Messages       []chatMessage     `json:"messages"`
	MaxTokens      int               `json:"max_tokens"`
	Temperature    *float64          `json:"temperature,omitempty"`
	ResponseFormat map[string]string `json:"response_format,omitempty"`
}

type chatCompletionResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
}

func (p *openAIProvider) Generate(ctx context.Context, req *Request) (string, error) {
	if req.HasImages() && !p.vision {
		return "", NewError(p.name, KindTransport, errors.New("model does not accept images"))
	}

	body := chatCompletionRequest{
		Model:       p.model,
		Messages:    p.buildMessages(req),
		MaxTokens:   maxTokens(req),
		Temperature: req.Temperature,
	}
	if req.JSON {
		body.ResponseFormat = map[string]string{"type": "json_object"}
	}

	var resp chatCompletionResponse
	headers := map[string]string{"Authorization": "Bearer " + p.apiKey}
	if err := postJSON(ctx, p.client, p.name, p.baseURL+chatCompletionsEndpoint, headers, body, &resp); err != nil {
		return "", err
	}

	if len(resp.Choices) == 0 || resp.Choices[0].Message.Content == "" {
		return "", NewError(p.name, KindTransport, errors.New("empty completion"))
	}
	return resp.Choices[0].Message.Content, nil
}

func (p *openAIProvider) buildMessages(req *Request) []chatMessage {
	messages := make([]chatMessage, 0, len(req.Messages)+1)
	if req.System != "" {
		messages = append(messages, chatMessage{Role: "system", Content: req.System})
	}

	last := len(req.Messages) - 1
	for i, m := range req.Messages {
		if i != last || !req.HasImages() || m.Role != RoleUser {
			messages = append(messages, chatMessage{Role: string(m.Role), Content: m.Content})
			continue
		}

		parts := []chatContentPart{{Type: "text", Text: m.Content}}
		for _, img := range req.Images {
			parts = append(parts, chatContentPart{
				Type:     "image_url",
				ImageURL: &chatImageURL{URL: dataURL(img)},
			})
		}
		messages = append(messages, chatMessage{Role: string(m.Role), Content: parts})
	}
	return messages
}

func dataURL(img Image) string {
	return "data:" + img.MIMEType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
