package provider

import (
	"context"
	"fmt"

	"golang.org/x/time/rate"
)

// RateLimitedProvider waits on a token bucket before every call so that
// concurrent fan-out stays within the backend's request quota.
type RateLimitedProvider struct {
	provider Provider
	limiter  *rate.Limiter
}

// NewRateLimitedProvider allows requestsPerSecond sustained calls with the given burst
func NewRateLimitedProvider(provider Provider, requestsPerSecond float64, burst int) *RateLimitedProvider {
	if burst <= 0 {
		burst = 1
	}
	return &RateLimitedProvider{
		provider: provider,
		limiter:  rate.NewLimiter(rate.Limit(requestsPerSecond), burst),
	}
}

// Name returns the underlying provider name
func (p *RateLimitedProvider) Name() string {
	return p.provider.Name()
}

// CreateCompletion waits for a token then delegates
func (p *RateLimitedProvider) CreateCompletion(ctx context.Context, request CompletionRequest) (*CompletionResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", p.provider.Name(), err)
	}
	return p.provider.CreateCompletion(ctx, request)
}

// CreateStructured waits for a token then delegates
func (p *RateLimitedProvider) CreateStructured(ctx context.Context, request StructuredRequest) (*StructuredResponse, error) {
	if err := p.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("%s rate limit: %w", p.provider.Name(), err)
	}
	return p.provider.CreateStructured(ctx, request)
}
