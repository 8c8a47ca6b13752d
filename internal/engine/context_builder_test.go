package engine

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/internal/storage/memstore"
	"github.com/evermind-ai/evermind/pkg/types"
)

var builderNow = time.Date(2026, 3, 15, 12, 0, 0, 0, time.UTC)

type builderFixture struct {
	builder   *ContextBuilder
	storage   *StorageEngine
	retrieval *RetrievalEngine
	store     *memstore.Store
	handler   *resilience.Handler
}

func newBuilderFixture(t *testing.T) *builderFixture {
	t.Helper()
	store := memstore.New()
	store.SetClock(func() time.Time { return builderNow })
	handler := resilience.NewHandler(resilience.HandlerConfig{}, quietLogrus())
	embedder := &scriptEmbedder{dims: 4}
	policy := config.DefaultPolicy()

	storageEng, err := NewStorageEngine(store, embedder, handler, policy, quietLogrus())
	require.NoError(t, err)
	storageEng.SetClock(func() time.Time { return builderNow })

	retrievalEng, err := NewRetrievalEngine(store, embedder, handler, policy, quietLogrus())
	require.NoError(t, err)
	retrievalEng.SetClock(func() time.Time { return builderNow })

	builder, err := NewContextBuilder(retrievalEng, store, handler, policy, quietLogrus())
	require.NoError(t, err)
	builder.SetClock(func() time.Time { return builderNow })

	return &builderFixture{builder: builder, storage: storageEng, retrieval: retrievalEng, store: store, handler: handler}
}

func resultWith(id string, memType types.MemoryType, relevance float64) types.MemorySearchResult {
	return types.MemorySearchResult{
		Record: types.MemoryRecord{
			ID:         id,
			Content:    "content for " + id,
			MemoryType: memType,
			OwnerID:    "user-1",
			CreatedAt:  builderNow.Add(-time.Hour),
		},
		RelevanceScore: relevance,
	}
}

func TestBuildConversationContextFiltersAndCaps(t *testing.T) {
	fx := newBuilderFixture(t)

	results := []types.MemorySearchResult{
		resultWith("r1", types.TypeInteraction, 0.9),
		resultWith("r2", types.TypeInteraction, 0.8),
		resultWith("r3", types.TypeInteraction, 0.7),
		resultWith("r4", types.TypeInteraction, 0.6),
		resultWith("r5", types.TypeInteraction, 0.5),
		resultWith("r6", types.TypeInteraction, 0.4),
		resultWith("too-weak", types.TypeInteraction, 0.1),
	}
	text := fx.builder.BuildConversationContext(results)

	assert.NotContains(t, text, "too-weak")
	assert.Contains(t, text, "content for r1")
	// Capped at the configured maximum of five memories.
	assert.NotContains(t, text, "content for r6")
	assert.Equal(t, 5, strings.Count(text, "- ["))
}

func TestBuildConversationContextEmptySelection(t *testing.T) {
	fx := newBuilderFixture(t)
	assert.Empty(t, fx.builder.BuildConversationContext(nil))
	assert.Empty(t, fx.builder.BuildConversationContext([]types.MemorySearchResult{resultWith("weak", types.TypeInteraction, 0.05)}))
}

func TestBuildKnowledgeContextMergesConcepts(t *testing.T) {
	fx := newBuilderFixture(t)

	r := resultWith("r1", types.TypeConceptLearning, 0.9)
	r.Record.Content = "Today I studied machine learning and its philosophy."

	text := fx.builder.BuildKnowledgeContext([]types.MemorySearchResult{r}, []string{"Machine Learning", "quantum computing"})

	assert.Contains(t, text, "machine learning")
	assert.Contains(t, text, "philosophy")
	assert.Contains(t, text, "quantum computing")
	// Memory-derived concepts win on collision, so the term appears once.
	assert.Equal(t, 1, strings.Count(text, "machine learning,")+strings.Count(text, "machine learning\n"))
}

func TestCalculateContextRelevanceBoostsTypeAndOverlap(t *testing.T) {
	fx := newBuilderFixture(t)
	cc := types.ConsciousnessContext{Level: 0.5}

	evolution := resultWith("evolution", types.TypeEvolution, 0.5)
	interaction := resultWith("interaction", types.TypeInteraction, 0.5)
	rescored := fx.builder.CalculateContextRelevance([]types.MemorySearchResult{interaction, evolution}, "", cc)
	assert.Equal(t, "evolution", rescored[0].Record.ID)

	matching := resultWith("matching", types.TypeInteraction, 0.5)
	matching.Record.Content = "deep notes on quantum entanglement"
	other := resultWith("other", types.TypeInteraction, 0.5)
	rescored = fx.builder.CalculateContextRelevance([]types.MemorySearchResult{other, matching}, "quantum entanglement", cc)
	assert.Equal(t, "matching", rescored[0].Record.ID)
}

func TestCalculateContextRelevanceDoesNotMutateInput(t *testing.T) {
	fx := newBuilderFixture(t)

	in := []types.MemorySearchResult{resultWith("r1", types.TypeInteraction, 0.5)}
	_ = fx.builder.CalculateContextRelevance(in, "query", types.ConsciousnessContext{})
	assert.Equal(t, 0.5, in[0].RelevanceScore)
}

func TestBuildComprehensiveContextAssemblesBundle(t *testing.T) {
	fx := newBuilderFixture(t)
	ctx := context.Background()
	cc := types.ConsciousnessContext{Level: 0.5, EmotionalState: "curious"}

	_, err := fx.storage.StoreInteraction(ctx, "What is quantum entanglement?", "Quantum entanglement links particle states.", "user-1", "agent-a", cc)
	require.NoError(t, err)

	mc := fx.builder.BuildComprehensiveContext(ctx, "quantum entanglement", "user-1", cc, ContextFlags{
		IncludeHistory:  true,
		IncludeConcepts: true,
	})
	require.NotNil(t, mc)
	assert.False(t, mc.Degraded)
	require.NotEmpty(t, mc.Memories)
	assert.NotEmpty(t, mc.History)
	assert.NotEmpty(t, mc.FormattedContext)
	assert.Contains(t, mc.FormattedContext, "Recent conversation:")
	assert.Greater(t, mc.ContextStrength, 0.0)
	assert.Greater(t, mc.TemporalRelevance, 0.0)
	assert.Equal(t, "hybrid", mc.Metadata["strategy"])
}

func TestBuildComprehensiveContextIsIdempotent(t *testing.T) {
	fx := newBuilderFixture(t)
	ctx := context.Background()
	cc := types.ConsciousnessContext{Level: 0.5, EmotionalState: "curious"}

	_, err := fx.storage.StoreInteraction(ctx, "What is quantum entanglement?", "Quantum entanglement links particle states.", "user-1", "agent-a", cc)
	require.NoError(t, err)

	first := fx.builder.BuildComprehensiveContext(ctx, "quantum entanglement", "user-1", cc, ContextFlags{IncludeHistory: true, IncludeConcepts: true})
	second := fx.builder.BuildComprehensiveContext(ctx, "quantum entanglement", "user-1", cc, ContextFlags{IncludeHistory: true, IncludeConcepts: true})

	assert.Equal(t, first.FormattedContext, second.FormattedContext)
	assert.Equal(t, first.ContextStrength, second.ContextStrength)
}

type historyErrStore struct {
	*memstore.Store
}

func (s *historyErrStore) RecentHistory(ctx context.Context, ownerID string, limit int) ([]types.HistoryEntry, error) {
	return nil, errors.New("history backend unavailable")
}

func TestBuildComprehensiveContextDegradesOnFailure(t *testing.T) {
	store := &historyErrStore{memstore.New()}
	handler := resilience.NewHandler(resilience.HandlerConfig{}, quietLogrus())
	policy := config.DefaultPolicy()

	retrievalEng, err := NewRetrievalEngine(store, &scriptEmbedder{dims: 4}, handler, policy, quietLogrus())
	require.NoError(t, err)
	builder, err := NewContextBuilder(retrievalEng, store, handler, policy, quietLogrus())
	require.NoError(t, err)

	mc := builder.BuildComprehensiveContext(context.Background(), "query", "user-1", types.ConsciousnessContext{}, ContextFlags{IncludeHistory: true})
	require.NotNil(t, mc)
	assert.True(t, mc.Degraded)
	assert.Empty(t, mc.Memories)
	assert.Empty(t, mc.FormattedContext)
	assert.Equal(t, "history_fetch_failed", mc.Metadata["degraded_reason"])
	assert.NotEmpty(t, handler.Records())
}

type searchErrStore struct {
	*memstore.Store
}

func (s *searchErrStore) List(ctx context.Context, opts storage.ListOptions) ([]types.MemoryRecord, error) {
	return nil, errors.New("search backend unavailable")
}

func TestBuildComprehensiveContextDegradesOnRetrievalFailure(t *testing.T) {
	store := &searchErrStore{memstore.New()}
	handler := resilience.NewHandler(resilience.HandlerConfig{}, quietLogrus())
	policy := config.DefaultPolicy()

	retrievalEng, err := NewRetrievalEngine(store, &scriptEmbedder{dims: 4}, handler, policy, quietLogrus())
	require.NoError(t, err)
	retrievalEng.retry.InitialBackoff = time.Millisecond
	builder, err := NewContextBuilder(retrievalEng, store, handler, policy, quietLogrus())
	require.NoError(t, err)

	mc := builder.BuildComprehensiveContext(context.Background(), "quantum", "user-1", types.ConsciousnessContext{}, ContextFlags{Strategy: StrategyKeyword})
	require.NotNil(t, mc)
	assert.True(t, mc.Degraded, "a failed search must not look like an empty match set")
	assert.Empty(t, mc.Memories)
	assert.Equal(t, "retrieval_failed", mc.Metadata["degraded_reason"])
	assert.NotEmpty(t, handler.Records())
}

func TestComprehensiveContextRespectsLengthCap(t *testing.T) {
	fx := newBuilderFixture(t)
	fx.builder.policy.MaxContextLength = 80

	results := []types.MemorySearchResult{
		resultWith("r1", types.TypeInteraction, 0.9),
		resultWith("r2", types.TypeInteraction, 0.8),
		resultWith("r3", types.TypeInteraction, 0.7),
	}
	text := fx.builder.BuildConversationContext(results)
	assert.LessOrEqual(t, len(text), 80)
	assert.True(t, strings.HasSuffix(text, "..."))
}
