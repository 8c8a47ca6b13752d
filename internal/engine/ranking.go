package engine

import (
	"context"
	"math"

	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/pkg/types"
)

// RankByImportance reorders results by decayed importance scaled by an
// access-frequency boost. Importance decays exponentially with the record's
// own decay-rate modifier; each access adds a small boost up to the cap.
func (e *RetrievalEngine) RankByImportance(results []types.MemorySearchResult) []types.MemorySearchResult {
	p := e.policy
	now := e.now()

	for i := range results {
		r := &results[i]
		decayRate := r.Record.DecayRate
		if decayRate <= 0 {
			decayRate = 1.0
		}
		decayed := r.Record.ImportanceScore * math.Exp(-r.Record.AgeHours(now)*decayRate/p.HalfLifeHours*math.Ln2)
		boost := 1.0 + math.Min(p.AccessBoostCap, p.AccessBoostPerHit*float64(r.Record.AccessCount))
		r.RelevanceScore = decayed * boost
	}
	sortByRelevance(results)
	return results
}

// RankByTemporalRelevance reorders results by age bucket. Each of the four
// buckets carries its own weight, and memories accessed inside the recent
// bucket get a further multiplier.
func (e *RetrievalEngine) RankByTemporalRelevance(results []types.MemorySearchResult) []types.MemorySearchResult {
	p := e.policy
	now := e.now()

	for i := range results {
		r := &results[i]
		age := r.Record.AgeHours(now)

		var weight float64
		switch {
		case age <= p.RecentBucketHours:
			weight = p.RecentBucketWeight
		case age <= p.ShortBucketDays*24:
			weight = p.ShortBucketWeight
		case age <= p.MediumBucketDays*24:
			weight = p.MediumBucketWeight
		default:
			weight = p.LongBucketWeight
		}

		mult := 1.0
		if r.Record.LastAccessed != nil && now.Sub(*r.Record.LastAccessed).Hours() <= p.RecentBucketHours {
			mult = p.AccessRecencyBoost
		}
		r.RelevanceScore = r.SimilarityScore * weight * mult
	}
	sortByRelevance(results)
	return results
}

// RankComprehensive reorders results with the six-factor profile: semantic
// similarity, consciousness alignment, decayed importance, access frequency,
// temporal recency, and memory-type specificity.
func (e *RetrievalEngine) RankComprehensive(results []types.MemorySearchResult, cc types.ConsciousnessContext) []types.MemorySearchResult {
	p := e.policy
	w := p.Comprehensive
	now := e.now()

	for i := range results {
		r := &results[i]

		decayed := r.Record.ImportanceScore * math.Exp(-r.Record.AgeHours(now)/p.HalfLifeHours*math.Ln2)
		accessFreq := math.Min(1.0, float64(r.Record.AccessCount)/10.0)

		r.TemporalScore = e.temporalScore(&r.Record, now)
		r.ConsciousnessScore = e.consciousnessScore(&r.Record, cc)
		r.RelevanceScore = w.Semantic*r.SimilarityScore +
			w.Consciousness*r.ConsciousnessScore +
			w.ImportanceDecay*decayed +
			w.AccessFrequency*accessFreq +
			w.Temporal*r.TemporalScore +
			w.Specificity*typeSpecificity(r.Record.MemoryType)
	}
	sortByRelevance(results)
	return results
}

// typeSpecificity weights rarer, more deliberate memory types above the
// high-volume interaction stream.
func typeSpecificity(t types.MemoryType) float64 {
	switch t {
	case types.TypeInsight, types.TypeEvolution:
		return 1.0
	case types.TypeReflection:
		return 0.9
	case types.TypeConceptLearning:
		return 0.85
	default:
		return 0.7
	}
}

// OwnerPreferences captures an owner's historical usage patterns, used by
// personalized ranking. Each map holds frequencies normalized to [0, 1].
type OwnerPreferences struct {
	OwnerID string
	Agents  map[string]float64
	Types   map[types.MemoryType]float64
	Hours   map[int]float64
}

// BuildPreferences derives usage-pattern preferences from the owner's stored
// memories: which agents they interact with, which memory types dominate,
// and which hours of the day they are active.
func (e *RetrievalEngine) BuildPreferences(ctx context.Context, ownerID string) (*OwnerPreferences, error) {
	records, err := e.listCandidates(ctx, storage.ListOptions{
		OwnerID: ownerID,
		Limit:   e.policy.CandidateFetchLimit,
	})
	if err != nil {
		return nil, err
	}

	prefs := &OwnerPreferences{
		OwnerID: ownerID,
		Agents:  make(map[string]float64),
		Types:   make(map[types.MemoryType]float64),
		Hours:   make(map[int]float64),
	}
	for i := range records {
		rec := &records[i]
		if rec.SourceName != "" {
			prefs.Agents[rec.SourceName]++
		}
		prefs.Types[rec.MemoryType]++
		prefs.Hours[rec.CreatedAt.UTC().Hour()]++
	}

	normalizeFreq(prefs.Agents)
	normalizeFreq(prefs.Types)
	normalizeFreq(prefs.Hours)
	return prefs, nil
}

// RankPersonalized scales relevance by how well each memory matches the
// owner's usage patterns. The multiplier is floored so unfamiliar memories
// are dampened, never eliminated.
func (e *RetrievalEngine) RankPersonalized(results []types.MemorySearchResult, prefs *OwnerPreferences) []types.MemorySearchResult {
	if prefs == nil {
		sortByRelevance(results)
		return results
	}
	p := e.policy

	for i := range results {
		r := &results[i]
		score := (prefs.Agents[r.Record.SourceName] +
			prefs.Types[r.Record.MemoryType] +
			prefs.Hours[r.Record.CreatedAt.UTC().Hour()]) / 3.0
		r.RelevanceScore *= p.PersonalizationFloor + p.PersonalizationGain*score
	}
	sortByRelevance(results)
	return results
}

// normalizeFreq scales every count by the maximum so the most frequent key
// maps to 1.0.
func normalizeFreq[K comparable](freq map[K]float64) {
	var max float64
	for _, v := range freq {
		if v > max {
			max = v
		}
	}
	if max == 0 {
		return
	}
	for k, v := range freq {
		freq[k] = v / max
	}
}
