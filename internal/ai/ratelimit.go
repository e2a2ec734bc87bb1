package ai

import (
	"context"

	"golang.org/x/time/rate"
)

// rateLimitedEmbedder throttles calls to an underlying IEmbedder to
// EMBED provider quota (spec.md §6 EMBED_BATCH_MAX governs batch shape;
// this governs request rate against a single-text Embed call).
type rateLimitedEmbedder struct {
	inner   IEmbedder
	limiter *rate.Limiter
}

// NewRateLimitedEmbedder wraps inner so that Embed calls block on a token
// bucket limiter before reaching the provider, instead of relying on the
// provider's own backoff once it starts returning 429s.
func NewRateLimitedEmbedder(inner IEmbedder, rps float64) IEmbedder {
	if rps <= 0 {
		return inner
	}
	return &rateLimitedEmbedder{inner: inner, limiter: rate.NewLimiter(rate.Limit(rps), 1)}
}

func (e *rateLimitedEmbedder) Embed(ctx context.Context, text string, taskType string) ([]float32, error) {
	if err := e.limiter.Wait(ctx); err != nil {
		return nil, err
	}
	return e.inner.Embed(ctx, text, taskType)
}

func (e *rateLimitedEmbedder) ModelName() string {
	return e.inner.ModelName()
}
