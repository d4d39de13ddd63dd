package ledger

import (
	"context"
	"log/slog"

	"golang.org/x/time/rate"
)

// RateLimiter spaces out calls to one RPC endpoint.
type RateLimiter struct {
	limiter *rate.Limiter
	name    string
}

// NewRateLimiter allows rps requests per second with a burst of one, so calls
// are spread evenly instead of bunching at the start of each second.
func NewRateLimiter(name string, rps float64) *RateLimiter {
	slog.Debug("rate limiter created", "endpoint", name, "rps", rps)
	return &RateLimiter{
		limiter: rate.NewLimiter(rate.Limit(rps), 1),
		name:    name,
	}
}

// Wait blocks until a request may proceed or ctx is done.
func (rl *RateLimiter) Wait(ctx context.Context) error {
	if err := rl.limiter.Wait(ctx); err != nil {
		slog.Warn("rate limiter wait cancelled", "endpoint", rl.name, "error", err)
		return err
	}
	return nil
}
