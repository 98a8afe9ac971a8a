// Package provider holds the AI content-generation clients that the
// fallback chain iterates over. Every client speaks the same Request shape,
// so the same system prompt and output contract reach whichever provider
// ends up answering.
package provider

import "context"

// Role of a conversation message.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Message is one turn of the conversation sent to a provider.
type Message struct {
	Role    Role
	Content string
}

// Image is an inline attachment for vision-capable providers.
type Image struct {
	MIMEType string
	Data     []byte
}

// Request is the provider-neutral generation request.
type Request struct {
	System   string
	Messages []Message
	// Images are attached to the final user message.
	Images []Image
	// JSON asks the provider for a single JSON object as output.
	JSON        bool
	MaxTokens   int
	Temperature *float64
}

// HasImages reports whether the request needs a vision-capable provider.
func (r *Request) HasImages() bool {
	return len(r.Images) > 0
}

// Provider is an external AI content-generation endpoint.
type Provider interface {
	Name() string
	// SupportsVision reports whether Generate accepts requests with images.
	SupportsVision() bool
	// Generate returns the raw text output. Failures are returned as *Error.
	Generate(ctx context.Context, req *Request) (string, error)
}

const defaultMaxTokens = 4096

func maxTokens(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return defaultMaxTokens
}
