package provider

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net/http"
	"strings"
)

const (
	anthropicBaseURL          = "https://api.anthropic.com/v1"
	anthropicMessagesEndpoint = "/messages"
	anthropicVersion          = "2023-06-01"
	defaultAnthropicModel     = "claude-3-5-haiku-latest"
	jsonOnlyInstruction       = "Respond with a single JSON object and nothing else."
)

// AnthropicConfig configures the Messages API client.
type AnthropicConfig struct {
	APIKey     string
	BaseURL    string
	Model      string
	HTTPClient *http.Client
}

type anthropicProvider struct {
	apiKey  string
	baseURL string
	model   string
	client  *http.Client
}

// NewAnthropic creates a Messages API client.
func NewAnthropic(cfg AnthropicConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = anthropicBaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultAnthropicModel
	}
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{Timeout: defaultHTTPClientTimeout}
	}
	return &anthropicProvider{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		model:   cfg.Model,
		client:  cfg.HTTPClient,
	}, nil
}

func (p *anthropicProvider) Name() string { return "anthropic" }

func (p *anthropicProvider) SupportsVision() bool { return true }

type anthropicContentBlock struct {
	Type   string                `json:"type"`
	Text   string                `json:"text,omitempty"`
	Source *anthropicImageSource `json:"source,omitempty"`
}

type anthropicImageSource struct {
	Type      string `json:"type"`
	MediaType string `json:"media_type"`
	Data      string `json:"data"`
}

type anthropicMessage struct {
	Role    string                  `json:"role"`
	Content []anthropicContentBlock `json:"content"`
}

type anthropicRequest struct {
	Model       string             `json:"model"`
	System      string             `json:"system,omitempty"`
	Messages    []anthropicMessage `json:"messages"`
	MaxTokens   int                `json:"max_tokens"`
	Temperature *float64           `json:"temperature,omitempty"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	StopReason string `json:"stop_reason"`
}

func (p *anthropicProvider) Generate(ctx context.Context, req *Request) (string, error) {
	system := req.System
	if req.JSON {
		system = strings.TrimSpace(system + "\n\n" + jsonOnlyInstruction)
	}

	body := anthropicRequest{
		Model:       p.model,
		System:      system,
		Messages:    p.buildMessages(req),
		MaxTokens:   maxTokens(req),
		Temperature: req.Temperature,
	}

	headers := map[string]string{
		"x-api-key":         p.apiKey,
		"anthropic-version": anthropicVersion,
	}
	var resp anthropicResponse
	if err := postJSON(ctx, p.client, p.Name(), p.baseURL+anthropicMessagesEndpoint, headers, body, &resp); err != nil {
		return "", err
	}

	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	if sb.Len() == 0 {
		return "", NewError(p.Name(), KindTransport, errors.New("empty completion"))
	}
	return sb.String(), nil
}

func (p *anthropicProvider) buildMessages(req *Request) []anthropicMessage {
	messages := make([]anthropicMessage, 0, len(req.Messages))
	last := len(req.Messages) - 1
	for i, m := range req.Messages {
		var blocks []anthropicContentBlock
		if i == last && m.Role == RoleUser {
			for _, img := range req.Images {
				blocks = append(blocks, anthropicContentBlock{
					Type: "image",
					Source: &anthropicImageSource{
						Type:      "base64",
						MediaType: img.MIMEType,
						Data:      base64.StdEncoding.EncodeToString(img.Data),
					},
				})
			}
		}
		blocks = append(blocks, anthropicContentBlock{Type: "text", Text: m.Content})
		messages = append(messages, anthropicMessage{Role: string(m.Role), Content: blocks})
	}
	return messages
}
