package engine

import (
	"math"
	"time"

	"github.com/evermind-ai/evermind/pkg/types"
)

// scoreResults fills in the temporal, consciousness, and importance factors
// for every result and combines them with the strategy's weight profile into
// the final relevance score. Unknown profiles fall back to hybrid.
func (e *RetrievalEngine) scoreResults(results []types.MemorySearchResult, cc types.ConsciousnessContext, profile string) {
	weights, ok := e.policy.WeightProfiles[profile]
	if !ok {
		weights = e.policy.WeightProfiles[string(StrategyHybrid)]
	}
	now := e.now()

	for i := range results {
		r := &results[i]
		r.TemporalScore = e.temporalScore(&r.Record, now)
		r.ConsciousnessScore = e.consciousnessScore(&r.Record, cc)
		r.ImportanceFactor = r.Record.ImportanceScore
		r.RelevanceScore = weights.Similarity*r.SimilarityScore +
			weights.Temporal*r.TemporalScore +
			weights.Consciousness*r.ConsciousnessScore +
			weights.Importance*r.ImportanceFactor
	}
}

// temporalScore is the exponential recency score with the configured
// half-life, floored at the minimum so old memories stay reachable.
func (e *RetrievalEngine) temporalScore(rec *types.MemoryRecord, now time.Time) float64 {
	age := rec.AgeHours(now)
	score := math.Exp(-age / e.policy.HalfLifeHours * math.Ln2)
	return math.Max(e.policy.MinTemporalScore, score)
}

// consciousnessScore blends level alignment within the tolerance band with
// the emotional-state match.
func (e *RetrievalEngine) consciousnessScore(rec *types.MemoryRecord, cc types.ConsciousnessContext) float64 {
	p := e.policy

	distance := math.Abs(rec.ConsciousnessLevel - cc.Level)
	levelScore := 1.0 - math.Min(1.0, distance/p.ConsciousnessTolerance)

	emotionScore := p.EmotionMismatchScore
	if cc.EmotionMatches(rec) {
		emotionScore = 1.0
	}

	return p.LevelBlendWeight*levelScore + p.EmotionBlendWeight*emotionScore
}

// cosineSimilarity returns the cosine of the angle between a and b, clamped
// to [0, 1]. Mismatched lengths and zero vectors score 0.
func cosineSimilarity(a, b []float64) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += a[i] * b[i]
		normA += a[i] * a[i]
		normB += b[i] * b[i]
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	sim := dot / (math.Sqrt(normA) * math.Sqrt(normB))
	if sim < 0 {
		return 0
	}
	if sim > 1 {
		return 1
	}
	return sim
}
