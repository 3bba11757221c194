package ratelimit

import (
	"context"
	"fmt"
	"time"

	"github.com/palaseus/gillean/internal/metrics"
	"golang.org/x/time/rate"
)

// Limiter wraps a token-bucket rate limiter for outgoing node API calls.
// It keeps the harness from flooding a node that is busy mining.
type Limiter struct {
	limiter *rate.Limiter
	node    string
}

// New creates a limiter that allows rps requests per second with a burst
// capacity of burst tokens.
func New(rps float64, burst int, node string) *Limiter {
	return &Limiter{
		limiter: rate.NewLimiter(rate.Limit(rps), burst),
		node:    node,
	}
}

// Wait blocks until the limiter allows one event, or ctx is done.
// Uses Reserve() to guarantee exactly one token is consumed per call.
func (l *Limiter) Wait(ctx context.Context) error {
	r := l.limiter.Reserve()
	if !r.OK() {
		return fmt.Errorf("rate: cannot reserve token")
	}
	delay := r.Delay()
	if delay > 0 {
		metrics.APIRateLimitWaits.WithLabelValues(l.node).Inc()
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			r.Cancel()
			return ctx.Err()
		}
	}
	return nil
}
