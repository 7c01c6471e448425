package gateway

import (
	"context"
	"log/slog"
	"sync"

	"golang.org/x/time/rate"
)

// RateLimiterPool manages per-endpoint rate limiters
type RateLimiterPool struct {
	limiters map[string]*rate.Limiter
	rates    map[string]int // Track original rates for consistency check
	mu       sync.RWMutex
}

// NewRateLimiterPool creates a new rate limiter pool
func NewRateLimiterPool() *RateLimiterPool {
	return &RateLimiterPool{
		limiters: make(map[string]*rate.Limiter),
		rates:    make(map[string]int),
	}
}

// GetOrCreate returns an existing rate limiter or creates a new one.
// If a limiter exists with a different rate, it logs a warning and keeps
// the existing one.
func (p *RateLimiterPool) GetOrCreate(endpointID string, requestsPerMinute int) *rate.Limiter {
	p.mu.Lock()
	defer p.mu.Unlock()

	if limiter, exists := p.limiters[endpointID]; exists {
		if existingRate, ok := p.rates[endpointID]; ok && existingRate != requestsPerMinute {
			slog.Warn("Rate limiter already exists with different rate, using existing rate",
				"endpoint_id", endpointID,
				"existing_rpm", existingRate,
				"requested_rpm", requestsPerMinute)
		}
		return limiter
	}

	// Convert requests per minute to requests per second
	rps := float64(requestsPerMinute) / 60.0
	burst := requestsPerMinute / 5
	if burst < 5 {
		burst = 5
	}
	limiter := rate.NewLimiter(rate.Limit(rps), burst)
	p.limiters[endpointID] = limiter
	p.rates[endpointID] = requestsPerMinute

	slog.Debug("Created rate limiter",
		"endpoint_id", endpointID,
		"rpm", requestsPerMinute,
		"burst", burst)

	return limiter
}

// Wait blocks until the rate limiter allows the next request. A rate of
// zero or less disables limiting for the endpoint.
func (p *RateLimiterPool) Wait(ctx context.Context, endpointID string, requestsPerMinute int) error {
	if requestsPerMinute <= 0 {
		return nil
	}
	limiter := p.GetOrCreate(endpointID, requestsPerMinute)
	return limiter.Wait(ctx)
}
