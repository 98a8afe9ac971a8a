package provider

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"google.golang.org/genai"
)

const defaultGeminiModel = "gemini-2.0-flash"

// GeminiConfig configures the Gemini multimodal client.
type GeminiConfig struct {
	APIKey string
	Model  string
	// BaseURL overrides the API endpoint, mostly for tests.
	BaseURL    string
	HTTPClient *http.Client
}

type geminiProvider struct {
	client *genai.Client
	model  string
}

// NewGemini creates a Gemini API client. It is the multimodal fallback for
// requests that carry images.
func NewGemini(ctx context.Context, cfg GeminiConfig) (Provider, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key cannot be empty")
	}
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}

	clientCfg := &genai.ClientConfig{
		APIKey:     cfg.APIKey,
		Backend:    genai.BackendGeminiAPI,
		HTTPClient: cfg.HTTPClient,
	}
	if cfg.BaseURL != "" {
		clientCfg.HTTPOptions = genai.HTTPOptions{BaseURL: cfg.BaseURL}
	}

	client, err := genai.NewClient(ctx, clientCfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create Gemini client: %w", err)
	}

	return &geminiProvider{client: client, model: cfg.Model}, nil
}

func (p *geminiProvider) Name() string { return "gemini" }

func (p *geminiProvider) SupportsVision() bool { return true }

func (p *geminiProvider) Generate(ctx context.Context, req *Request) (string, error) {
	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens(req)),
	}
	if req.System != "" {
		config.SystemInstruction = &genai.Content{Parts: []*genai.Part{{Text: req.System}}}
	}
	if req.Temperature != nil {
		config.Temperature = genai.Ptr(float32(*req.Temperature))
	}
	if req.JSON {
		config.ResponseMIMEType = "application/json"
	}

	resp, err := p.client.Models.GenerateContent(ctx, p.model, buildGeminiContents(req), config)
	if err != nil {
		return "", classifyGeminiError(ctx, err)
	}

	text := resp.Text()
	if text == "" {
		return "", NewError(p.Name(), KindTransport, errors.New("empty completion"))
	}
	return text, nil
}

func buildGeminiContents(req *Request) []*genai.Content {
	contents := make([]*genai.Content, 0, len(req.Messages))
	last := len(req.Messages) - 1
	for i, m := range req.Messages {
		role := string(genai.RoleUser)
		if m.Role == RoleAssistant {
			role = string(genai.RoleModel)
		}

		parts := []*genai.Part{{Text: m.Content}}
		if i == last && m.Role == RoleUser {
			for _, img := range req.Images {
				parts = append(parts, &genai.Part{
					InlineData: &genai.Blob{MIMEType: img.MIMEType, Data: img.Data},
				})
			}
		}
		contents = append(contents, &genai.Content{Role: role, Parts: parts})
	}
	return contents
}

func classifyGeminiError(ctx context.Context, err error) *Error {
	var (
		code   int
		status string
	)
	var apiErr genai.APIError
	var apiErrPtr *genai.APIError
	switch {
	case errors.As(err, &apiErr):
		code, status = apiErr.Code, apiErr.Status
	case errors.As(err, &apiErrPtr) && apiErrPtr != nil:
		code, status = apiErrPtr.Code, apiErrPtr.Status
	default:
		return wrapCallError(ctx, "gemini", err)
	}

	kind := classifyStatus(code)
	if classifyQuotaCode(status) {
		kind = KindQuota
	}
	return &Error{Provider: "gemini", Kind: kind, StatusCode: code, Err: err}
}
