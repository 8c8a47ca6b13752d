package embedding

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newEmbedServer(t *testing.T, dims int, calls *atomic.Int64) *httptest.Server {
	t.Helper()
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)

		var req embedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		require.NotEmpty(t, req.Prompt)

		vec := make([]float64, dims)
		for i := range vec {
			vec[i] = float64(i) / float64(dims)
		}
		require.NoError(t, json.NewEncoder(w).Encode(embedResponse{Embedding: vec}))
	}))
}

func TestEmbedReturnsVector(t *testing.T) {
	var calls atomic.Int64
	server := newEmbedServer(t, 8, &calls)
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Dimensions: 8})
	require.NoError(t, err)

	vec, err := client.Embed(context.Background(), "what is artificial intelligence")
	require.NoError(t, err)
	assert.Len(t, vec, 8)
	assert.Equal(t, 8, client.Dimensions())
}

func TestEmbedCachesRepeatedText(t *testing.T) {
	var calls atomic.Int64
	server := newEmbedServer(t, 8, &calls)
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Dimensions: 8})
	require.NoError(t, err)

	for i := 0; i < 5; i++ {
		_, err := client.Embed(context.Background(), "repeated text")
		require.NoError(t, err)
	}

	assert.Equal(t, int64(1), calls.Load(), "repeated text must be served from cache")
}

func TestEmbedRejectsWrongDimensionality(t *testing.T) {
	var calls atomic.Int64
	server := newEmbedServer(t, 4, &calls)
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Dimensions: 8})
	require.NoError(t, err)

	_, err = client.Embed(context.Background(), "short vector")
	assert.Error(t, err)
}

func TestBreakerOpensAfterConsecutiveFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer server.Close()

	client, err := NewClient(ClientConfig{
		BaseURL:            server.URL,
		Dimensions:         8,
		BreakerMaxFailures: 3,
		BreakerTimeout:     time.Minute,
		RequestsPerSecond:  1000,
		Burst:              1000,
	})
	require.NoError(t, err)

	// Distinct texts so the cache never short-circuits the failures.
	texts := []string{"a", "b", "c", "d"}
	for _, text := range texts[:3] {
		_, err := client.Embed(context.Background(), text)
		require.Error(t, err)
	}

	// Circuit is now open: the failure is immediate, without an HTTP call.
	_, err = client.Embed(context.Background(), texts[3])
	assert.Error(t, err)
}

func TestEmbedHonorsCancelledContext(t *testing.T) {
	var calls atomic.Int64
	server := newEmbedServer(t, 8, &calls)
	defer server.Close()

	client, err := NewClient(ClientConfig{BaseURL: server.URL, Dimensions: 8})
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err = client.Embed(ctx, "cancelled")
	assert.Error(t, err)
}
