package embedding

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"
)

// ClientConfig configures the HTTP embedding client.
type ClientConfig struct {
	// BaseURL is the embedding API root (default: http://localhost:11434).
	BaseURL string

	// Model is the embedding model name (default: nomic-embed-text).
	Model string

	// Dimensions is the expected vector length. Responses with a different
	// length are rejected. Default: 768.
	Dimensions int

	// RequestTimeout bounds each HTTP call. Default: 10s.
	RequestTimeout time.Duration

	// CacheSize is the LRU entry count. Default: 2048.
	CacheSize int

	// RequestsPerSecond and Burst configure the rate limiter.
	// Defaults: 20 rps, burst 5.
	RequestsPerSecond float64
	Burst             int

	// BreakerMaxFailures is the consecutive-failure count that opens the
	// circuit. Default: 3.
	BreakerMaxFailures uint32

	// BreakerTimeout is how long the circuit stays open. Default: 30s.
	BreakerTimeout time.Duration
}

func (c *ClientConfig) normalize() {
	if c.BaseURL == "" {
		c.BaseURL = "http://localhost:11434"
	}
	if c.Model == "" {
		c.Model = "nomic-embed-text"
	}
	if c.Dimensions <= 0 {
		c.Dimensions = 768
	}
	if c.RequestTimeout <= 0 {
		c.RequestTimeout = 10 * time.Second
	}
	if c.CacheSize <= 0 {
		c.CacheSize = 2048
	}
	if c.RequestsPerSecond <= 0 {
		c.RequestsPerSecond = 20
	}
	if c.Burst <= 0 {
		c.Burst = 5
	}
	if c.BreakerMaxFailures == 0 {
		c.BreakerMaxFailures = 3
	}
	if c.BreakerTimeout <= 0 {
		c.BreakerTimeout = 30 * time.Second
	}
}

// Client is an HTTP embedding provider. Repeated texts are served from the
// cache without touching the network; live calls pass through the rate
// limiter and the circuit breaker.
type Client struct {
	cfg     ClientConfig
	http    *http.Client
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
	cache   *lru.Cache[string, []float64]
}

// NewClient builds a Client from cfg, applying defaults to zero values.
func NewClient(cfg ClientConfig) (*Client, error) {
	cfg.normalize()

	cache, err := lru.New[string, []float64](cfg.CacheSize)
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to create cache: %w", err)
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "EmbeddingClient",
		Timeout: cfg.BreakerTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerMaxFailures
		},
	})

	return &Client{
		cfg:     cfg,
		http:    &http.Client{Timeout: cfg.RequestTimeout},
		breaker: breaker,
		limiter: rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		cache:   cache,
	}, nil
}

// Dimensions returns the configured vector length.
func (c *Client) Dimensions() int {
	return c.cfg.Dimensions
}

// Embed returns the embedding vector for text, serving repeats from cache.
func (c *Client) Embed(ctx context.Context, text string) ([]float64, error) {
	key := cacheKey(text)
	if vec, ok := c.cache.Get(key); ok {
		out := make([]float64, len(vec))
		copy(out, vec)
		return out, nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return nil, fmt.Errorf("embedding: rate limit wait: %w", err)
	}

	result, err := c.breaker.Execute(func() (any, error) {
		return c.fetch(ctx, text)
	})
	if err != nil {
		return nil, err
	}

	vec := result.([]float64)
	c.cache.Add(key, vec)

	out := make([]float64, len(vec))
	copy(out, vec)
	return out, nil
}

type embedRequest struct {
	Model  string `json:"model"`
	Prompt string `json:"prompt"`
}

type embedResponse struct {
	Embedding []float64 `json:"embedding"`
}

// fetch performs one HTTP embedding call.
func (c *Client) fetch(ctx context.Context, text string) ([]float64, error) {
	body, err := json.Marshal(embedRequest{Model: c.cfg.Model, Prompt: text})
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to encode request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.cfg.BaseURL+"/api/embeddings", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("embedding: failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("embedding: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		payload, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, fmt.Errorf("embedding: server returned %d: %s", resp.StatusCode, payload)
	}

	var parsed embedResponse
	if err := json.NewDecoder(resp.Body).Decode(&parsed); err != nil {
		return nil, fmt.Errorf("embedding: failed to decode response: %w", err)
	}
	if len(parsed.Embedding) != c.cfg.Dimensions {
		return nil, fmt.Errorf("embedding: got %d dimensions, want %d", len(parsed.Embedding), c.cfg.Dimensions)
	}
	return parsed.Embedding, nil
}

// cacheKey hashes the text so arbitrarily long content keys stay small.
func cacheKey(text string) string {
	sum := sha256.Sum256([]byte(text))
	return hex.EncodeToString(sum[:])
}
