package generation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
)

var errEmptyOutput = errors.New("empty output")

// checker is implemented by artifacts with rules beyond struct tags.
type checker interface {
	Check() error
}

// DecodeInto returns a Check that parses raw output as JSON into a T,
// validates it and stores it in out. out is only written when the output passes.
func DecodeInto[T any](out *T, v *validator.Validate) Check {
	return func(raw string) error {
		var artifact T
		body := StripFences(raw)
		if body == "" {
			return errEmptyOutput
		}
		if err := json.Unmarshal([]byte(body), &artifact); err != nil {
			return fmt.Errorf("malformed JSON: %w", err)
		}
		if err := v.Struct(&artifact); err != nil {
			return fmt.Errorf("schema validation: %w", err)
		}
		if c, ok := any(&artifact).(checker); ok {
			if err := c.Check(); err != nil {
				return fmt.Errorf("schema validation: %w", err)
			}
		}
		*out = artifact
		return nil
	}
}

// NonEmptyText accepts any output with visible text.
func NonEmptyText(raw string) error {
	if strings.TrimSpace(raw) == "" {
		return errEmptyOutput
	}
	return nil
}

// StripFences removes a surrounding Markdown code fence, which some
// providers add around JSON even when asked not to.
func StripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if nl := strings.IndexByte(s, '\n'); nl >= 0 {
		s = s[nl+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}
