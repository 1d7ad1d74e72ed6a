package llm

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ErrCircuitOpen is returned while the breaker refuses calls to a failing provider.
var ErrCircuitOpen = errors.New("provider circuit open")

// GuardConfig tunes the rate limit and circuit breaker around a provider.
type GuardConfig struct {
	Name              string
	RequestsPerMinute int
	MaxFailures       uint32
	OpenTimeout       time.Duration
	// OnStateChange, if set, is called with the new state name after every
	// breaker transition.
	OnStateChange func(name, state string)
}

// GuardedProvider rate-limits calls to an inner provider and stops calling it
// after repeated consecutive failures until the open timeout elapses.
type GuardedProvider struct {
	inner   Provider
	limiter *rate.Limiter
	breaker *gobreaker.CircuitBreaker
}

// NewGuardedProvider wraps p. A zero RequestsPerMinute disables rate limiting.
func NewGuardedProvider(p Provider, cfg GuardConfig) *GuardedProvider {
	if cfg.Name == "" {
		cfg.Name = "analysis-provider"
	}
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = 3
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = time.Minute
	}

	limit := rate.Inf
	if cfg.RequestsPerMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(cfg.RequestsPerMinute))
	}

	maxFailures := cfg.MaxFailures
	settings := gobreaker.Settings{
		Name:        cfg.Name,
		MaxRequests: 1,
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		IsSuccessful: func(err error) bool {
			// The caller giving up is not a provider failure.
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			log.Printf("Provider %s circuit: %s -> %s", name, from, to)
			if cfg.OnStateChange != nil {
				cfg.OnStateChange(name, to.String())
			}
		},
	}

	return &GuardedProvider{
		inner:   p,
		limiter: rate.NewLimiter(limit, 1),
		breaker: gobreaker.NewCircuitBreaker(settings),
	}
}

// Generate waits for a rate-limit token and calls the inner provider through
// the breaker.
func (g *GuardedProvider) Generate(ctx context.Context, prompt string, maxTokens int) (string, error) {
	if err := g.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("waiting for rate limit: %w", err)
	}

	out, err := g.breaker.Execute(func() (interface{}, error) {
		return g.inner.Generate(ctx, prompt, maxTokens)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return "", fmt.Errorf("%w: %v", ErrCircuitOpen, err)
	}
	if err != nil {
		return "", err
	}
	return out.(string), nil
}

// IsConfigured reports whether the inner provider is usable.
func (g *GuardedProvider) IsConfigured() bool {
	return g.inner != nil && g.inner.IsConfigured()
}

// State returns the breaker state name: "closed", "half-open" or "open".
func (g *GuardedProvider) State() string {
	return g.breaker.State().String()
}
