package types

// MemorySearchResult is the ephemeral, per-query scoring envelope around a
// memory record. It is computed by the retrieval engine and never persisted.
type MemorySearchResult struct {
	Record MemoryRecord `json:"record"`

	// SimilarityScore is the strategy-specific match score (cosine similarity
	// for semantic search, the keyword/temporal base score otherwise).
	SimilarityScore float64 `json:"similarity_score"`

	// TemporalScore is the exponential recency score, floored at the
	// configured minimum.
	TemporalScore float64 `json:"temporal_score"`

	// ConsciousnessScore blends consciousness-level alignment with
	// emotional-state match.
	ConsciousnessScore float64 `json:"consciousness_score"`

	// ImportanceFactor is the record's persisted importance at query time.
	ImportanceFactor float64 `json:"importance_factor"`

	// RelevanceScore is the final weighted combination used for ranking.
	RelevanceScore float64 `json:"relevance_score"`

	// MatchedStrategies lists which sub-strategies produced this result.
	// Hybrid search uses it to apply multi-hit bonuses.
	MatchedStrategies []string `json:"matched_strategies,omitempty"`
}

// MemoryContext is the assembled context bundle handed to the agent's
// prompt-assembly step. It is composed per request and never persisted.
type MemoryContext struct {
	// Memories are the selected, ranked search results.
	Memories []MemorySearchResult `json:"memories"`

	// History is a bounded excerpt of recent conversation turns.
	History []HistoryEntry `json:"history,omitempty"`

	// Concepts are the merged concept names relevant to the request.
	Concepts []string `json:"concepts,omitempty"`

	// ContextStrength is avg(relevance) scaled by result-count coverage.
	ContextStrength float64 `json:"context_strength"`

	// ConsciousnessAlignment is the mean consciousness score of the selection.
	ConsciousnessAlignment float64 `json:"consciousness_alignment"`

	// TemporalRelevance is the mean temporal score of the selection.
	TemporalRelevance float64 `json:"temporal_relevance"`

	// FormattedContext is the rendered text blob consumed by the agent.
	FormattedContext string `json:"formatted_context"`

	// Degraded is true when assembly failed internally and the bundle is an
	// empty placeholder. It lets callers tell "no matches" from "failed".
	Degraded bool `json:"degraded"`

	// Metadata carries free-form assembly details, including a
	// "degraded_reason" entry when Degraded is set.
	Metadata map[string]any `json:"metadata,omitempty"`
}

// ConsciousnessContext is the caller-supplied snapshot of the agent's current
// affective and awareness state, used to bias scoring on nearly every call.
type ConsciousnessContext struct {
	// Level is the current consciousness level in [0, 1].
	Level float64 `json:"consciousness_level"`

	// EmotionalState is the current emotion tag (e.g. "curious").
	EmotionalState string `json:"emotional_state"`

	// EmotionalIntensity scales emotional influence in [0, 1].
	EmotionalIntensity float64 `json:"emotional_intensity,omitempty"`

	// SelfAwareness is the self-awareness score in [0, 1].
	SelfAwareness float64 `json:"self_awareness_score,omitempty"`

	// TotalInteractions counts lifetime interactions for this agent.
	TotalInteractions int `json:"total_interactions,omitempty"`

	// ActiveGoals lists the agent's currently active goals.
	ActiveGoals []string `json:"active_goals,omitempty"`

	// SnapshotID identifies the persisted consciousness snapshot, when one
	// exists, so stored memories can link back to it.
	SnapshotID string `json:"snapshot_id,omitempty"`

	// Extra carries forward-compatible fields without losing type safety on
	// the known ones.
	Extra map[string]any `json:"extra,omitempty"`
}

// EmotionMatches reports whether the record's emotional state exactly matches
// the context's current state. Empty states never match.
func (c ConsciousnessContext) EmotionMatches(m *MemoryRecord) bool {
	return c.EmotionalState != "" && c.EmotionalState == m.EmotionalState
}
