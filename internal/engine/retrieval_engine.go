package engine

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/embedding"
	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/pkg/types"
)

// Strategy selects the candidate-generation approach for a search.
type Strategy string

const (
	StrategySemantic      Strategy = "semantic"
	StrategyKeyword       Strategy = "keyword"
	StrategyTemporal      Strategy = "temporal"
	StrategyHybrid        Strategy = "hybrid"
	StrategyConsciousness Strategy = "consciousness"
)

// SearchOptions tunes one retrieval call. Zero values fall back to policy
// defaults: hybrid strategy, the default limit, no relevance threshold.
type SearchOptions struct {
	Strategy  Strategy
	Limit     int
	Threshold float64
}

// RetrievalEngine finds relevant memories through five search strategies and
// re-ranks them with pluggable ranking variants. Retrieval is fail-open: any
// internal failure is recorded and surfaces as an empty result set, never as
// an error to the caller.
type RetrievalEngine struct {
	store    storage.MemoryStore
	embedder embedding.Provider
	errs     *resilience.Handler
	policy   config.Policy
	retry    resilience.RetryPolicy
	log      *logrus.Entry
	now      func() time.Time
}

// NewRetrievalEngine wires a retrieval engine from its dependencies.
func NewRetrievalEngine(store storage.MemoryStore, embedder embedding.Provider, errs *resilience.Handler, policy config.Policy, logger *logrus.Logger) (*RetrievalEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("retrieval engine: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("retrieval engine: embedder is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &RetrievalEngine{
		store:    store,
		embedder: embedder,
		errs:     errs,
		policy:   policy,
		retry:    resilience.DefaultRetryPolicy(),
		log:      logger.WithField("component", "retrieval_engine"),
		now:      time.Now,
	}, nil
}

// SetClock overrides the engine clock, for tests.
func (e *RetrievalEngine) SetClock(now func() time.Time) {
	e.now = now
}

// SetRetryPolicy overrides the default retry policy for store and embedding
// calls.
func (e *RetrievalEngine) SetRetryPolicy(p resilience.RetryPolicy) {
	e.retry = p
}

// GetRelevantMemories runs one search and returns the scored, ranked results.
// Failures degrade to an empty slice; access statistics on the returned
// memories are bumped best-effort.
func (e *RetrievalEngine) GetRelevantMemories(ctx context.Context, query, ownerID string, cc types.ConsciousnessContext, opts SearchOptions) []types.MemorySearchResult {
	opts = e.normalizeOptions(opts)

	results, err := e.relevantMemories(ctx, query, ownerID, cc, opts)
	if err != nil {
		if e.errs != nil {
			e.errs.HandleWithRecovery(
				resilience.New(resilience.CategoryRetrieval, "retrieval_engine", "get_relevant_memories", err).
					WithOwner(ownerID).WithContext("strategy", string(opts.Strategy)),
				true, true)
		}
		return nil
	}
	return results
}

// relevantMemories is the error-returning search path behind
// GetRelevantMemories. Context assembly uses it directly so a failed search
// can be told apart from an empty result set.
func (e *RetrievalEngine) relevantMemories(ctx context.Context, query, ownerID string, cc types.ConsciousnessContext, opts SearchOptions) ([]types.MemorySearchResult, error) {
	opts = e.normalizeOptions(opts)

	results, err := e.search(ctx, query, ownerID, cc, opts)
	if err != nil {
		return nil, err
	}

	results = e.selectTop(results, opts)
	e.recordAccess(ctx, results)
	return results, nil
}

// search dispatches to the strategy and applies core scoring.
func (e *RetrievalEngine) search(ctx context.Context, query, ownerID string, cc types.ConsciousnessContext, opts SearchOptions) ([]types.MemorySearchResult, error) {
	if opts.Strategy == StrategyHybrid {
		return e.hybridSearch(ctx, query, ownerID, cc, opts)
	}

	candidates, err := e.runStrategy(ctx, opts.Strategy, query, ownerID, cc, opts)
	if err != nil {
		return nil, err
	}
	e.scoreResults(candidates, cc, string(opts.Strategy))

	if opts.Strategy == StrategyConsciousness {
		e.applyEmotionBoost(candidates, cc)
	}
	return candidates, nil
}

// runStrategy produces unscored candidates with a strategy-specific
// similarity score.
func (e *RetrievalEngine) runStrategy(ctx context.Context, strategy Strategy, query, ownerID string, cc types.ConsciousnessContext, opts SearchOptions) ([]types.MemorySearchResult, error) {
	switch strategy {
	case StrategySemantic:
		return e.semanticCandidates(ctx, query, ownerID, opts)
	case StrategyKeyword:
		return e.keywordCandidates(ctx, query, ownerID)
	case StrategyTemporal:
		return e.temporalCandidates(ctx, ownerID)
	case StrategyConsciousness:
		return e.consciousnessCandidates(ctx, ownerID, cc)
	default:
		return nil, resilience.Newf(resilience.CategoryValidation, "retrieval_engine", "search", "unknown strategy %q", strategy)
	}
}

// semanticCandidates embeds the query and ranks candidates by cosine
// similarity against their stored vectors. Candidates below the similarity
// threshold or without a vector are dropped.
func (e *RetrievalEngine) semanticCandidates(ctx context.Context, query, ownerID string, opts SearchOptions) ([]types.MemorySearchResult, error) {
	vec, err := resilience.Do(ctx, e.errs, "retrieval_engine", "embed_query", e.retry, func(ctx context.Context) ([]float64, error) {
		v, err := e.embedder.Embed(ctx, query)
		if err != nil {
			return nil, resilience.New(resilience.CategoryEmbedding, "retrieval_engine", "embed_query", err)
		}
		return v, nil
	})
	if err != nil {
		return nil, err
	}

	records, err := e.listCandidates(ctx, storage.ListOptions{
		OwnerID:        ownerID,
		WithEmbeddings: true,
		Limit:          e.policy.CandidateFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	var out []types.MemorySearchResult
	for i := range records {
		if len(records[i].Embedding) == 0 {
			continue
		}
		sim := cosineSimilarity(vec, records[i].Embedding)
		if sim < opts.Threshold {
			continue
		}
		out = append(out, types.MemorySearchResult{
			Record:            records[i],
			SimilarityScore:   sim,
			MatchedStrategies: []string{string(StrategySemantic)},
		})
	}
	return out, nil
}

// keywordCandidates matches tokenized query terms against memory content.
// Similarity is the keyword base score scaled by the fraction of terms found.
func (e *RetrievalEngine) keywordCandidates(ctx context.Context, query, ownerID string) ([]types.MemorySearchResult, error) {
	terms := tokenizeQuery(query)
	if len(terms) == 0 {
		return nil, nil
	}

	records, err := e.listCandidates(ctx, storage.ListOptions{
		OwnerID: ownerID,
		Limit:   e.policy.CandidateFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	var out []types.MemorySearchResult
	for i := range records {
		content := strings.ToLower(records[i].Content)
		matched := 0
		for _, term := range terms {
			if strings.Contains(content, term) {
				matched++
			}
		}
		if matched == 0 {
			continue
		}
		ratio := float64(matched) / float64(len(terms))
		out = append(out, types.MemorySearchResult{
			Record:            records[i],
			SimilarityScore:   e.policy.KeywordBaseScore * ratio,
			MatchedStrategies: []string{string(StrategyKeyword)},
		})
	}
	return out, nil
}

// temporalCandidates returns memories created inside the recency window with
// a flat base similarity, newest first.
func (e *RetrievalEngine) temporalCandidates(ctx context.Context, ownerID string) ([]types.MemorySearchResult, error) {
	since := e.now().Add(-time.Duration(e.policy.TemporalWindowHours * float64(time.Hour)))
	records, err := e.listCandidates(ctx, storage.ListOptions{
		OwnerID: ownerID,
		Since:   since,
		Limit:   e.policy.CandidateFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	out := make([]types.MemorySearchResult, 0, len(records))
	for i := range records {
		out = append(out, types.MemorySearchResult{
			Record:            records[i],
			SimilarityScore:   e.policy.TemporalBaseScore,
			MatchedStrategies: []string{string(StrategyTemporal)},
		})
	}
	return out, nil
}

// consciousnessCandidates returns memories whose recorded consciousness level
// sits within the tolerance band of the current level. Similarity is the
// normalized closeness within the band.
func (e *RetrievalEngine) consciousnessCandidates(ctx context.Context, ownerID string, cc types.ConsciousnessContext) ([]types.MemorySearchResult, error) {
	records, err := e.listCandidates(ctx, storage.ListOptions{
		OwnerID: ownerID,
		Limit:   e.policy.CandidateFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	tolerance := e.policy.ConsciousnessTolerance
	var out []types.MemorySearchResult
	for i := range records {
		distance := records[i].ConsciousnessLevel - cc.Level
		if distance < 0 {
			distance = -distance
		}
		if distance > tolerance {
			continue
		}
		out = append(out, types.MemorySearchResult{
			Record:            records[i],
			SimilarityScore:   1.0 - distance/tolerance,
			MatchedStrategies: []string{string(StrategyConsciousness)},
		})
	}
	return out, nil
}

// hybridSearch fans out the semantic, keyword, and temporal strategies
// concurrently, merges candidates by memory id, scores with the hybrid weight
// profile, and rewards multi-strategy hits with flat relevance bonuses. A
// failing branch contributes nothing; hybrid only fails when every branch
// fails.
func (e *RetrievalEngine) hybridSearch(ctx context.Context, query, ownerID string, cc types.ConsciousnessContext, opts SearchOptions) ([]types.MemorySearchResult, error) {
	branches := []Strategy{StrategySemantic, StrategyKeyword, StrategyTemporal}

	type branchOutcome struct {
		results []types.MemorySearchResult
		err     error
	}
	outcomes := make([]branchOutcome, len(branches))

	var wg sync.WaitGroup
	for i, strategy := range branches {
		wg.Add(1)
		go func(i int, strategy Strategy) {
			defer wg.Done()
			results, err := e.runStrategy(ctx, strategy, query, ownerID, cc, opts)
			if err != nil {
				if e.errs != nil {
					e.errs.HandleWithRecovery(
						resilience.New(resilience.CategoryRetrieval, "retrieval_engine", "hybrid_branch", err).
							WithOwner(ownerID).WithContext("strategy", string(strategy)),
						true, true)
				}
				outcomes[i] = branchOutcome{err: err}
				return
			}
			outcomes[i] = branchOutcome{results: results}
		}(i, strategy)
	}
	wg.Wait()

	merged := make(map[string]*types.MemorySearchResult)
	var order []string
	failures := 0
	for _, outcome := range outcomes {
		if outcome.err != nil {
			failures++
			continue
		}
		for i := range outcome.results {
			r := &outcome.results[i]
			existing, ok := merged[r.Record.ID]
			if !ok {
				cp := *r
				merged[r.Record.ID] = &cp
				order = append(order, r.Record.ID)
				continue
			}
			if r.SimilarityScore > existing.SimilarityScore {
				existing.SimilarityScore = r.SimilarityScore
			}
			existing.MatchedStrategies = append(existing.MatchedStrategies, r.MatchedStrategies...)
		}
	}
	if failures == len(branches) {
		return nil, resilience.Newf(resilience.CategoryRetrieval, "retrieval_engine", "hybrid_search", "all %d branches failed", failures).WithOwner(ownerID)
	}

	results := make([]types.MemorySearchResult, 0, len(order))
	for _, id := range order {
		results = append(results, *merged[id])
	}
	e.scoreResults(results, cc, string(StrategyHybrid))

	for i := range results {
		switch len(results[i].MatchedStrategies) {
		case 2:
			results[i].RelevanceScore += e.policy.HybridSecondHitBonus
		case 3:
			results[i].RelevanceScore += e.policy.HybridSecondHitBonus + e.policy.HybridThirdHitBonus
		}
	}
	return results, nil
}

// SearchSimilar finds memories similar to an existing one by comparing stored
// embedding vectors. The reference memory itself is excluded. Fail-open like
// every retrieval path.
func (e *RetrievalEngine) SearchSimilar(ctx context.Context, memoryID string, limit int) []types.MemorySearchResult {
	if limit <= 0 {
		limit = e.policy.DefaultLimit
	}

	results, err := e.searchSimilar(ctx, memoryID, limit)
	if err != nil {
		if e.errs != nil {
			e.errs.HandleWithRecovery(
				resilience.New(resilience.CategoryRetrieval, "retrieval_engine", "search_similar", err).WithMemory(memoryID),
				true, true)
		}
		return nil
	}
	return results
}

func (e *RetrievalEngine) searchSimilar(ctx context.Context, memoryID string, limit int) ([]types.MemorySearchResult, error) {
	ref, err := resilience.Do(ctx, e.errs, "retrieval_engine", "search_similar", e.retry, func(ctx context.Context) (*types.MemoryRecord, error) {
		return e.store.GetMemory(ctx, memoryID)
	})
	if err != nil {
		return nil, err
	}
	if len(ref.Embedding) == 0 {
		return nil, resilience.Newf(resilience.CategoryRetrieval, "retrieval_engine", "search_similar", "memory has no embedding").WithMemory(memoryID)
	}

	records, err := e.listCandidates(ctx, storage.ListOptions{
		OwnerID:        ref.OwnerID,
		WithEmbeddings: true,
		Limit:          e.policy.CandidateFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	var out []types.MemorySearchResult
	for i := range records {
		if records[i].ID == memoryID || len(records[i].Embedding) == 0 {
			continue
		}
		out = append(out, types.MemorySearchResult{
			Record:            records[i],
			SimilarityScore:   cosineSimilarity(ref.Embedding, records[i].Embedding),
			MatchedStrategies: []string{string(StrategySemantic)},
		})
	}
	e.scoreResults(out, types.ConsciousnessContext{Level: ref.ConsciousnessLevel, EmotionalState: ref.EmotionalState}, string(StrategySemantic))
	sortByRelevance(out)
	if len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// normalizeOptions fills defaults and clamps the limit.
func (e *RetrievalEngine) normalizeOptions(opts SearchOptions) SearchOptions {
	if opts.Strategy == "" {
		opts.Strategy = StrategyHybrid
	}
	if opts.Limit <= 0 {
		opts.Limit = e.policy.DefaultLimit
	}
	if opts.Limit > e.policy.MaxLimit {
		opts.Limit = e.policy.MaxLimit
	}
	return opts
}

// selectTop sorts by relevance, drops results below the threshold, and caps
// the result count.
func (e *RetrievalEngine) selectTop(results []types.MemorySearchResult, opts SearchOptions) []types.MemorySearchResult {
	sortByRelevance(results)
	if opts.Threshold > 0 {
		kept := results[:0]
		for _, r := range results {
			if r.RelevanceScore >= opts.Threshold {
				kept = append(kept, r)
			}
		}
		results = kept
	}
	if len(results) > opts.Limit {
		results = results[:opts.Limit]
	}
	return results
}

// recordAccess bumps access statistics for returned memories, best-effort.
func (e *RetrievalEngine) recordAccess(ctx context.Context, results []types.MemorySearchResult) {
	if len(results) == 0 {
		return
	}
	ids := make([]string, 0, len(results))
	for _, r := range results {
		ids = append(ids, r.Record.ID)
	}
	if err := e.store.RecordAccess(ctx, ids); err != nil {
		if e.errs != nil {
			e.errs.Handle(resilience.New(resilience.CategoryStorage, "retrieval_engine", "record_access", err))
		}
	}
}

// listCandidates fetches candidate records under retry.
func (e *RetrievalEngine) listCandidates(ctx context.Context, opts storage.ListOptions) ([]types.MemoryRecord, error) {
	return resilience.Do(ctx, e.errs, "retrieval_engine", "list_candidates", e.retry, func(ctx context.Context) ([]types.MemoryRecord, error) {
		return e.store.List(ctx, opts)
	})
}

// applyEmotionBoost multiplies relevance for exact emotional-state matches
// and restores the relevance ordering.
func (e *RetrievalEngine) applyEmotionBoost(results []types.MemorySearchResult, cc types.ConsciousnessContext) {
	for i := range results {
		if cc.EmotionMatches(&results[i].Record) {
			results[i].RelevanceScore *= e.policy.ConsciousnessEmotionBoost
		}
	}
	sortByRelevance(results)
}

// stopWords are dropped during query tokenization.
var stopWords = map[string]bool{
	"a": true, "an": true, "the": true, "is": true, "are": true, "was": true,
	"were": true, "be": true, "been": true, "to": true, "of": true, "in": true,
	"on": true, "at": true, "for": true, "and": true, "or": true, "it": true,
	"this": true, "that": true, "with": true, "as": true, "by": true,
	"do": true, "does": true, "did": true, "what": true, "how": true,
	"why": true, "when": true, "who": true, "me": true, "my": true,
	"you": true, "your": true, "i": true, "we": true, "about": true,
}

// tokenizeQuery lowercases, trims punctuation, and drops stop words.
func tokenizeQuery(query string) []string {
	var terms []string
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word == "" || stopWords[word] {
			continue
		}
		terms = append(terms, word)
	}
	return terms
}

// sortByRelevance orders results by relevance descending, breaking ties by
// recency so ordering is deterministic.
func sortByRelevance(results []types.MemorySearchResult) {
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].RelevanceScore != results[j].RelevanceScore {
			return results[i].RelevanceScore > results[j].RelevanceScore
		}
		return results[i].Record.CreatedAt.After(results[j].Record.CreatedAt)
	})
}
