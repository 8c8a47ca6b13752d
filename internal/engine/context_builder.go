package engine

import (
	"context"
	"fmt"
	"math"
	"strings"
	"text/template"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/pkg/types"
)

// ContextFlags tunes one context-assembly call.
type ContextFlags struct {
	// Strategy selects the retrieval strategy; empty means hybrid.
	Strategy Strategy

	// Limit caps retrieved memories before context selection.
	Limit int

	// IncludeHistory adds recent conversation turns to the bundle.
	IncludeHistory bool

	// IncludeConcepts adds extracted concept names to the bundle.
	IncludeConcepts bool
}

// ContextBuilder assembles ranked memories, conversation history, and
// concepts into the context bundle handed to prompt assembly. Assembly never
// returns an error: internal failures produce an empty bundle with the
// Degraded flag set.
type ContextBuilder struct {
	retrieval *RetrievalEngine
	store     storage.MemoryStore
	errs      *resilience.Handler
	policy    config.Policy
	log       *logrus.Entry
	now       func() time.Time
}

// NewContextBuilder wires a context builder from its dependencies.
func NewContextBuilder(retrieval *RetrievalEngine, store storage.MemoryStore, errs *resilience.Handler, policy config.Policy, logger *logrus.Logger) (*ContextBuilder, error) {
	if retrieval == nil {
		return nil, fmt.Errorf("context builder: retrieval engine is required")
	}
	if store == nil {
		return nil, fmt.Errorf("context builder: store is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &ContextBuilder{
		retrieval: retrieval,
		store:     store,
		errs:      errs,
		policy:    policy,
		log:       logger.WithField("component", "context_builder"),
		now:       time.Now,
	}, nil
}

// SetClock overrides the builder clock, for tests.
func (b *ContextBuilder) SetClock(now func() time.Time) {
	b.now = now
}

// BuildConversationContext renders the selected memories into the
// conversation text layout: filtered by the relevance floor, capped, and
// truncated to the configured length.
func (b *ContextBuilder) BuildConversationContext(memories []types.MemorySearchResult) string {
	selected := b.selectForContext(memories)
	if len(selected) == 0 {
		return ""
	}
	return b.render(conversationTemplate, &types.MemoryContext{Memories: selected})
}

// BuildKnowledgeContext renders a concept-oriented layout. Concepts derived
// from the memories take priority over the supplied ones on collision.
func (b *ContextBuilder) BuildKnowledgeContext(memories []types.MemorySearchResult, concepts []string) string {
	selected := b.selectForContext(memories)

	var merged []string
	seen := make(map[string]bool)
	for _, m := range selected {
		for _, c := range ExtractConcepts(m.Record.Content, b.policy.ConceptMaxMatches) {
			if !seen[c] {
				seen[c] = true
				merged = append(merged, c)
			}
		}
	}
	for _, c := range concepts {
		key := strings.ToLower(strings.TrimSpace(c))
		if key != "" && !seen[key] {
			seen[key] = true
			merged = append(merged, key)
		}
	}

	if len(selected) == 0 && len(merged) == 0 {
		return ""
	}
	return b.render(knowledgeTemplate, &types.MemoryContext{Memories: selected, Concepts: merged})
}

// CalculateContextRelevance re-scores results for context selection by
// blending the retrieval relevance with query keyword overlap, consciousness
// alignment, and temporal recency, then scaling by the memory-type
// multiplier. Results are returned re-sorted; the input slice is not
// modified.
func (b *ContextBuilder) CalculateContextRelevance(results []types.MemorySearchResult, query string, cc types.ConsciousnessContext) []types.MemorySearchResult {
	p := b.policy
	terms := tokenizeQuery(query)

	out := make([]types.MemorySearchResult, len(results))
	copy(out, results)

	for i := range out {
		r := &out[i]

		overlap := 0.0
		if len(terms) > 0 {
			content := strings.ToLower(r.Record.Content)
			matched := 0
			for _, term := range terms {
				if strings.Contains(content, term) {
					matched++
				}
			}
			overlap = float64(matched) / float64(len(terms))
		}

		blended := p.BlendOriginal*r.RelevanceScore +
			p.BlendKeywordOverlap*overlap +
			p.BlendConsciousness*r.ConsciousnessScore +
			p.BlendTemporal*r.TemporalScore

		if mult, ok := p.ContextTypeMultipliers[string(r.Record.MemoryType)]; ok {
			blended *= mult
		}
		r.RelevanceScore = blended
	}
	sortByRelevance(out)
	return out
}

// BuildComprehensiveContext assembles the full context bundle for one
// request: retrieval, context re-scoring, optional history and concepts, the
// rendered text layout, and the aggregate quality metrics. Any internal
// failure yields an empty bundle with Degraded set and a reason in the
// metadata; assembly itself never mutates stored memory, so repeated calls
// with identical inputs against an unchanged store produce identical output.
func (b *ContextBuilder) BuildComprehensiveContext(ctx context.Context, query, ownerID string, cc types.ConsciousnessContext, flags ContextFlags) *types.MemoryContext {
	strategy := flags.Strategy
	if strategy == "" {
		strategy = StrategyHybrid
	}
	results, err := b.retrieval.relevantMemories(ctx, query, ownerID, cc, SearchOptions{
		Strategy: strategy,
		Limit:    flags.Limit,
	})
	if err != nil {
		return b.degraded(ownerID, "retrieval_failed", err)
	}
	results = b.CalculateContextRelevance(results, query, cc)
	selected := b.selectForContext(results)

	mc := &types.MemoryContext{
		Memories: selected,
		Metadata: map[string]any{
			"strategy":        string(strategy),
			"retrieved_count": len(results),
			"selected_count":  len(selected),
		},
	}

	if flags.IncludeHistory {
		history, err := b.store.RecentHistory(ctx, ownerID, b.policy.HistoryLimit)
		if err != nil {
			return b.degraded(ownerID, "history_fetch_failed", err)
		}
		mc.History = history
	}

	if flags.IncludeConcepts {
		mc.Concepts = b.collectConcepts(query, selected)
	}

	mc.FormattedContext = b.render(comprehensiveTemplate, mc)
	b.fillMetrics(mc)

	b.log.WithFields(logrus.Fields{
		"owner_id":         ownerID,
		"memories":         len(mc.Memories),
		"context_strength": mc.ContextStrength,
	}).Debug("assembled comprehensive context")
	return mc
}

// selectForContext filters by the relevance floor, keeps the order, and caps
// the selection size.
func (b *ContextBuilder) selectForContext(results []types.MemorySearchResult) []types.MemorySearchResult {
	p := b.policy
	var selected []types.MemorySearchResult
	for _, r := range results {
		if r.RelevanceScore < p.MinContextRelevance {
			continue
		}
		selected = append(selected, r)
		if len(selected) >= p.MaxContextMemories {
			break
		}
	}
	return selected
}

// collectConcepts merges query-derived and memory-derived concepts, query
// concepts first.
func (b *ContextBuilder) collectConcepts(query string, selected []types.MemorySearchResult) []string {
	max := b.policy.ConceptMaxMatches
	seen := make(map[string]bool)
	var out []string

	add := func(concepts []string) {
		for _, c := range concepts {
			if len(out) >= max {
				return
			}
			if !seen[c] {
				seen[c] = true
				out = append(out, c)
			}
		}
	}
	add(ExtractConcepts(query, max))
	for _, m := range selected {
		add(ExtractConcepts(m.Record.Content, max))
	}
	return out
}

// render executes the template and truncates to the context length cap.
func (b *ContextBuilder) render(tmpl *template.Template, mc *types.MemoryContext) string {
	var sb strings.Builder
	if err := tmpl.Execute(&sb, mc); err != nil {
		if b.errs != nil {
			b.errs.Handle(resilience.New(resilience.CategoryContext, "context_builder", "render", err))
		}
		return ""
	}
	return truncate(sb.String(), b.policy.MaxContextLength)
}

// fillMetrics computes the aggregate quality metrics from the selection.
func (b *ContextBuilder) fillMetrics(mc *types.MemoryContext) {
	n := len(mc.Memories)
	if n == 0 {
		return
	}
	var relevance, consciousness, temporal float64
	for _, m := range mc.Memories {
		relevance += m.RelevanceScore
		consciousness += m.ConsciousnessScore
		temporal += m.TemporalScore
	}
	coverage := math.Min(1.0, float64(n)/float64(b.policy.StrengthCoverageTarget))
	mc.ContextStrength = relevance / float64(n) * coverage
	mc.ConsciousnessAlignment = consciousness / float64(n)
	mc.TemporalRelevance = temporal / float64(n)
}

// degraded builds the empty, flagged bundle returned on assembly failure.
func (b *ContextBuilder) degraded(ownerID, reason string, err error) *types.MemoryContext {
	if b.errs != nil {
		b.errs.HandleWithRecovery(
			resilience.New(resilience.CategoryContext, "context_builder", "build_comprehensive_context", err).
				WithOwner(ownerID).WithContext("reason", reason),
			true, true)
	}
	return &types.MemoryContext{
		Degraded: true,
		Metadata: map[string]any{"degraded_reason": reason},
	}
}
