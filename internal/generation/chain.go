// Package generation runs content-generation requests through an ordered
// list of providers, validating each output against the caller's contract
// and falling back to the next provider on any failure.
package generation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"studybuddy/internal/metrics"
	"studybuddy/internal/provider"
)

// DefaultAttemptTimeout bounds a single provider attempt.
const DefaultAttemptTimeout = 20 * time.Second

var (
	// ErrAllProvidersExhausted is matched by the error returned when every
	// eligible provider failed.
	ErrAllProvidersExhausted = errors.New("all providers exhausted")
	// ErrNoEligibleProvider is returned when no configured provider can serve the request.
	ErrNoEligibleProvider = errors.New("no eligible provider")
)

// Check validates raw provider output. A non-nil error marks the attempt as
// a schema failure.
type Check func(raw string) error

// Attempt describes one provider call made while serving a request.
type Attempt struct {
	Provider string
	Kind     provider.Kind
	Err      error
	Duration time.Duration
}

// Result is the output of the provider that satisfied the request.
type Result struct {
	Provider string
	Raw      string
	Attempts []Attempt
}

// ExhaustedError carries every failed attempt. It matches
// ErrAllProvidersExhausted and unwraps to the last provider error.
type ExhaustedError struct {
	Attempts []Attempt
	Last     *provider.Error
}

func (e *ExhaustedError) Error() string {
	names := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		names = append(names, fmt.Sprintf("%s=%s", a.Provider, a.Kind))
	}
	return fmt.Sprintf("%s [%s]: %v", ErrAllProvidersExhausted, strings.Join(names, ", "), e.Last)
}

func (e *ExhaustedError) Is(target error) bool {
	return target == ErrAllProvidersExhausted
}

func (e *ExhaustedError) Unwrap() error {
	return e.Last
}

// LastKind is the classification shown to the caller.
func (e *ExhaustedError) LastKind() provider.Kind {
	if e.Last == nil {
		return ""
	}
	return e.Last.Kind
}

// Generator produces provider output for a request.
type Generator interface {
	Generate(ctx context.Context, req *provider.Request, check Check) (*Result, error)
}

type chain struct {
	providers []provider.Provider
	timeout   time.Duration
	metrics   *metrics.Metrics
	logger    zerolog.Logger
}

// NewChain creates a Generator that tries providers in the given order.
// A non-positive timeout selects DefaultAttemptTimeout.
func NewChain(providers []provider.Provider, timeout time.Duration, m *metrics.Metrics, logger zerolog.Logger) Generator {
	if timeout <= 0 {
		timeout = DefaultAttemptTimeout
	}
	return &chain{
		providers: providers,
		timeout:   timeout,
		metrics:   m,
		logger:    logger.With().Str("service", "GenerationChain").Logger(),
	}
}

func (c *chain) Generate(ctx context.Context, req *provider.Request, check Check) (*Result, error) {
	var (
		attempts []Attempt
		last     *provider.Error
	)

	for _, p := range c.providers {
		if req.HasImages() && !p.SupportsVision() {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		start := time.Now()
		raw, err := c.attempt(ctx, p, req)
		if err == nil && check != nil {
			if verr := check(raw); verr != nil {
				err = provider.NewError(p.Name(), provider.KindSchema, verr)
			}
		}
		elapsed := time.Since(start)

		if err == nil {
			c.metrics.ProviderAttempt(p.Name(), "success", elapsed)
			attempts = append(attempts, Attempt{Provider: p.Name(), Duration: elapsed})
			c.logger.Info().
				Str("provider", p.Name()).
				Int("attempts", len(attempts)).
				Dur("duration", elapsed).
				Msg("Generation succeeded")
			return &Result{Provider: p.Name(), Raw: raw, Attempts: attempts}, nil
		}

		// The caller went away; there is nobody left to fall back for.
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}

		pe := asProviderError(p.Name(), err)
		c.metrics.ProviderAttempt(p.Name(), string(pe.Kind), elapsed)
		attempts = append(attempts, Attempt{Provider: p.Name(), Kind: pe.Kind, Err: pe, Duration: elapsed})
		c.logger.Warn().
			Err(pe.Err).
			Str("provider", p.Name()).
			Str("kind", string(pe.Kind)).
			Dur("duration", elapsed).
			Msg("Provider attempt failed")
		last = pe
	}

	if len(attempts) == 0 {
		return nil, ErrNoEligibleProvider
	}

	exhausted := &ExhaustedError{Attempts: attempts, Last: last}
	c.logger.Error().
		Int("attempts", len(attempts)).
		Str("last_kind", string(last.Kind)).
		Msg("All providers exhausted")
	return nil, exhausted
}

type attemptResult struct {
	raw string
	err error
}

// attempt calls p under a per-attempt deadline. The attempt context is
// cancelled on return, so an abandoned call is torn down even if p itself
// does not watch the deadline.
func (c *chain) attempt(ctx context.Context, p provider.Provider, req *provider.Request) (string, error) {
	actx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	done := make(chan attemptResult, 1)
	go func() {
		raw, err := p.Generate(actx, req)
		done <- attemptResult{raw: raw, err: err}
	}()

	select {
	case res := <-done:
		if res.err != nil && errors.Is(actx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return "", provider.NewError(p.Name(), provider.KindTimeout, res.err)
		}
		return res.raw, res.err
	case <-actx.Done():
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		return "", provider.NewError(p.Name(), provider.KindTimeout,
			fmt.Errorf("no response within %s", c.timeout))
	}
}

func asProviderError(name string, err error) *provider.Error {
	var pe *provider.Error
	if errors.As(err, &pe) {
		return pe
	}
	return provider.NewError(name, provider.KindTransport, err)
}
