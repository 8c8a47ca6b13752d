// Package embedding provides the Embedding Provider contract and an HTTP
// client implementation hardened with a circuit breaker, a request-rate
// limiter, and a bounded LRU cache.
package embedding

import "context"

// Provider converts text into a fixed-length vector. Implementations must
// honor ctx cancellation; failures map to the Embedding error category at the
// call site.
type Provider interface {
	// Embed returns the embedding vector for text.
	Embed(ctx context.Context, text string) ([]float64, error)

	// Dimensions returns the fixed vector dimensionality for this provider.
	Dimensions() int
}
