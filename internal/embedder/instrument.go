package embedder

import (
	"context"
	"time"

	"github.com/starford/zettelink/internal/metrics"
)

// instrumented records request counts and latency for an inner Provider.
type instrumented struct {
	inner    Provider
	provider string
	model    string
}

// Instrument wraps p so every call is reflected in the Prometheus collectors.
func Instrument(p Provider, provider, model string) Provider {
	return &instrumented{inner: p, provider: provider, model: model}
}

func (i *instrumented) Embed(ctx context.Context, text string) ([]float32, error) {
	start := time.Now()
	vec, err := i.inner.Embed(ctx, text)
	if err != nil {
		metrics.EmbeddingRequestsTotal.WithLabelValues(i.provider, i.model, "error").Inc()
		return nil, err
	}
	metrics.EmbeddingRequestsTotal.WithLabelValues(i.provider, i.model, "success").Inc()
	metrics.EmbeddingRequestDuration.WithLabelValues(i.provider, i.model).Observe(time.Since(start).Seconds())
	return vec, nil
}
