package llm

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"MachineryNews/internal/ports"
)

// RateLimited spaces out calls to a generator to stay under the API quota.
type RateLimited struct {
	next    ports.Generator
	limiter *rate.Limiter
}

var _ ports.Generator = (*RateLimited)(nil)

// NewRateLimited allows perMinute calls per minute; perMinute <= 0 disables limiting.
func NewRateLimited(next ports.Generator, perMinute int) *RateLimited {
	limit := rate.Inf
	if perMinute > 0 {
		limit = rate.Every(time.Minute / time.Duration(perMinute))
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(limit, 1)}
}

// Generate waits for a token, then delegates.
func (r *RateLimited) Generate(ctx context.Context, prompt string) (string, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return "", fmt.Errorf("rate limiter: %w", err)
	}
	return r.next.Generate(ctx, prompt)
}
