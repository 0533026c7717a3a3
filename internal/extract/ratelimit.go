package extract

import (
	"context"

	"golang.org/x/time/rate"
)

// RateLimited bounds how often the wrapped extractor is called across every
// worker sharing it.
type RateLimited struct {
	next    Extractor
	limiter *rate.Limiter
}

// NewRateLimited allows rps calls per second with the given burst.
func NewRateLimited(next Extractor, rps float64, burst int) *RateLimited {
	if burst < 1 {
		burst = 1
	}
	return &RateLimited{next: next, limiter: rate.NewLimiter(rate.Limit(rps), burst)}
}

func (r *RateLimited) Extract(ctx context.Context, data []byte, mimeType string, ec Context) (Result, error) {
	if err := r.limiter.Wait(ctx); err != nil {
		return Result{}, err
	}
	return r.next.Extract(ctx, data, mimeType, ec)
}
