package config

import (
	"fmt"
	"math"
	"os"

	"gopkg.in/yaml.v3"
)

// Weights is one relevance-scoring profile. The four factors are combined as
//
//	relevance = Similarity·sim + Temporal·temp + Consciousness·cons + Importance·imp
//
// and each profile must sum to 1.0.
type Weights struct {
	Similarity    float64 `yaml:"similarity"`
	Temporal      float64 `yaml:"temporal"`
	Consciousness float64 `yaml:"consciousness"`
	Importance    float64 `yaml:"importance"`
}

// Sum returns the total of the four weights.
func (w Weights) Sum() float64 {
	return w.Similarity + w.Temporal + w.Consciousness + w.Importance
}

// ComprehensiveWeights is the six-factor reweighting profile used by the
// comprehensive ranking variant.
type ComprehensiveWeights struct {
	Semantic        float64 `yaml:"semantic"`
	Consciousness   float64 `yaml:"consciousness"`
	ImportanceDecay float64 `yaml:"importance_decay"`
	AccessFrequency float64 `yaml:"access_frequency"`
	Temporal        float64 `yaml:"temporal"`
	Specificity     float64 `yaml:"specificity"`
}

// Sum returns the total of the six weights.
func (w ComprehensiveWeights) Sum() float64 {
	return w.Semantic + w.Consciousness + w.ImportanceDecay +
		w.AccessFrequency + w.Temporal + w.Specificity
}

// Policy holds every hand-tuned numeric constant driving importance scoring,
// decay, maintenance heuristics, and ranking. These values are tunable
// operational policy, not validated semantics; deployments override them via
// YAML rather than forking the code.
type Policy struct {
	// --- storage: content and importance heuristics ---

	MaxContentLength      int                `yaml:"max_content_length"`
	ImportanceBase        float64            `yaml:"importance_base"`
	WordCountBonus        float64            `yaml:"word_count_bonus"`
	QueryWordThresholds   []int              `yaml:"query_word_thresholds"`
	ResponseWordThresholds []int             `yaml:"response_word_thresholds"`
	QuestionBonus         float64            `yaml:"question_bonus"`
	LearningKeywords      []string           `yaml:"learning_keywords"`
	EmotionalMultipliers  map[string]float64 `yaml:"emotional_multipliers"`
	ReflectionMultipliers map[string]float64 `yaml:"reflection_multipliers"`

	// --- storage: concept linking ---

	ConceptMaxMatches      int     `yaml:"concept_max_matches"`
	ConceptInitialStrength float64 `yaml:"concept_initial_strength"`
	ConceptStrengthStep    float64 `yaml:"concept_strength_step"`

	// --- maintenance ---

	AlignBoostNear         float64 `yaml:"align_boost_near"`    // distance <= 0.1
	AlignBoostMid          float64 `yaml:"align_boost_mid"`     // distance <= 0.2
	AlignPenaltyFar        float64 `yaml:"align_penalty_far"`   // distance > 0.4
	AlignNearDistance      float64 `yaml:"align_near_distance"`
	AlignMidDistance       float64 `yaml:"align_mid_distance"`
	AlignFarDistance       float64 `yaml:"align_far_distance"`
	EmotionalMatchBoost    float64 `yaml:"emotional_match_boost"`
	GrowthBoost            float64 `yaml:"growth_boost"`
	DeclinePenalty         float64 `yaml:"decline_penalty"`
	EmotionalWindowDays    int     `yaml:"emotional_window_days"`
	EvolutionMinDelta      float64 `yaml:"evolution_min_delta"`
	EvolutionWindowDays    int     `yaml:"evolution_window_days"`
	EvolutionArchiveBelow  float64 `yaml:"evolution_archive_below"`
	EvolutionAlignEpsilon  float64 `yaml:"evolution_align_epsilon"`
	EvolutionPromoteBoost  float64 `yaml:"evolution_promote_boost"`
	EvolutionDemotePenalty float64 `yaml:"evolution_demote_penalty"`
	ArchiveMaxAgeDays      int     `yaml:"archive_max_age_days"`
	ArchiveMinAccess       int     `yaml:"archive_min_access"`
	ArchiveMaxImportance   float64 `yaml:"archive_max_importance"`
	ConsolidateWindowHours int     `yaml:"consolidate_window_hours"`
	ConsolidateMaxImportance float64 `yaml:"consolidate_max_importance"`
	ConsolidateAbsorbFraction float64 `yaml:"consolidate_absorb_fraction"`

	// --- retrieval: scoring ---

	HalfLifeHours          float64            `yaml:"half_life_hours"`
	MinTemporalScore       float64            `yaml:"min_temporal_score"`
	ConsciousnessTolerance float64            `yaml:"consciousness_tolerance"`
	LevelBlendWeight       float64            `yaml:"level_blend_weight"`
	EmotionBlendWeight     float64            `yaml:"emotion_blend_weight"`
	EmotionMismatchScore   float64            `yaml:"emotion_mismatch_score"`
	WeightProfiles         map[string]Weights `yaml:"weight_profiles"`

	// --- retrieval: strategies ---

	KeywordBaseScore      float64 `yaml:"keyword_base_score"`
	TemporalBaseScore     float64 `yaml:"temporal_base_score"`
	TemporalWindowHours   float64 `yaml:"temporal_window_hours"`
	HybridSecondHitBonus  float64 `yaml:"hybrid_second_hit_bonus"`
	HybridThirdHitBonus   float64 `yaml:"hybrid_third_hit_bonus"`
	ConsciousnessEmotionBoost float64 `yaml:"consciousness_emotion_boost"`
	DefaultLimit          int     `yaml:"default_limit"`
	MaxLimit              int     `yaml:"max_limit"`
	CandidateFetchLimit   int     `yaml:"candidate_fetch_limit"`

	// --- retrieval: ranking variants ---

	AccessBoostPerHit   float64              `yaml:"access_boost_per_hit"`
	AccessBoostCap      float64              `yaml:"access_boost_cap"`
	RecentBucketHours   float64              `yaml:"recent_bucket_hours"`
	ShortBucketDays     float64              `yaml:"short_bucket_days"`
	MediumBucketDays    float64              `yaml:"medium_bucket_days"`
	RecentBucketWeight  float64              `yaml:"recent_bucket_weight"`
	ShortBucketWeight   float64              `yaml:"short_bucket_weight"`
	MediumBucketWeight  float64              `yaml:"medium_bucket_weight"`
	LongBucketWeight    float64              `yaml:"long_bucket_weight"`
	AccessRecencyBoost  float64              `yaml:"access_recency_boost"`
	Comprehensive       ComprehensiveWeights `yaml:"comprehensive"`
	PersonalizationFloor float64             `yaml:"personalization_floor"`
	PersonalizationGain  float64             `yaml:"personalization_gain"`

	// --- context builder ---

	MinContextRelevance    float64            `yaml:"min_context_relevance"`
	MaxContextMemories     int                `yaml:"max_context_memories"`
	MaxContextLength       int                `yaml:"max_context_length"`
	HistoryLimit           int                `yaml:"history_limit"`
	BlendOriginal          float64            `yaml:"blend_original"`
	BlendKeywordOverlap    float64            `yaml:"blend_keyword_overlap"`
	BlendConsciousness     float64            `yaml:"blend_consciousness"`
	BlendTemporal          float64            `yaml:"blend_temporal"`
	ContextTypeMultipliers map[string]float64 `yaml:"context_type_multipliers"`
	StrengthCoverageTarget int                `yaml:"strength_coverage_target"`
}

// DefaultPolicy returns the tuned defaults documented in the design notes.
func DefaultPolicy() Policy {
	return Policy{
		MaxContentLength:       2000,
		ImportanceBase:         0.5,
		WordCountBonus:         0.1,
		QueryWordThresholds:    []int{10, 20},
		ResponseWordThresholds: []int{50, 100},
		QuestionBonus:          0.1,
		LearningKeywords:       []string{"how", "why", "explain", "what", "learn", "understand", "teach"},
		EmotionalMultipliers: map[string]float64{
			"curious":    1.1,
			"excited":    1.2,
			"joyful":     1.15,
			"focused":    1.05,
			"neutral":    1.0,
			"confused":   0.9,
			"frustrated": 0.95,
		},
		ReflectionMultipliers: map[string]float64{
			"insight":                  1.2,
			"evolution":                1.1,
			"concept_learning":         1.05,
			"consciousness_reflection": 1.0,
		},

		ConceptMaxMatches:      10,
		ConceptInitialStrength: 0.5,
		ConceptStrengthStep:    0.1,

		AlignBoostNear:            1.1,
		AlignBoostMid:             1.05,
		AlignPenaltyFar:           0.95,
		AlignNearDistance:         0.1,
		AlignMidDistance:          0.2,
		AlignFarDistance:          0.4,
		EmotionalMatchBoost:       1.05,
		GrowthBoost:               1.02,
		DeclinePenalty:            0.98,
		EmotionalWindowDays:       7,
		EvolutionMinDelta:         0.05,
		EvolutionWindowDays:       90,
		EvolutionArchiveBelow:     0.3,
		EvolutionAlignEpsilon:     0.02,
		EvolutionPromoteBoost:     1.05,
		EvolutionDemotePenalty:    0.95,
		ArchiveMaxAgeDays:         30,
		ArchiveMinAccess:          2,
		ArchiveMaxImportance:      0.2,
		ConsolidateWindowHours:    24,
		ConsolidateMaxImportance:  0.4,
		ConsolidateAbsorbFraction: 0.3,

		HalfLifeHours:          168,
		MinTemporalScore:       0.1,
		ConsciousnessTolerance: 0.3,
		LevelBlendWeight:       0.7,
		EmotionBlendWeight:     0.3,
		EmotionMismatchScore:   0.7,
		WeightProfiles: map[string]Weights{
			"semantic":      {Similarity: 0.6, Temporal: 0.15, Consciousness: 0.1, Importance: 0.15},
			"keyword":       {Similarity: 0.5, Temporal: 0.2, Consciousness: 0.1, Importance: 0.2},
			"temporal":      {Similarity: 0.2, Temporal: 0.5, Consciousness: 0.1, Importance: 0.2},
			"hybrid":        {Similarity: 0.4, Temporal: 0.25, Consciousness: 0.15, Importance: 0.2},
			"consciousness": {Similarity: 0.2, Temporal: 0.15, Consciousness: 0.45, Importance: 0.2},
		},

		KeywordBaseScore:          0.6,
		TemporalBaseScore:         0.7,
		TemporalWindowHours:       24,
		HybridSecondHitBonus:      0.2,
		HybridThirdHitBonus:       0.1,
		ConsciousnessEmotionBoost: 1.2,
		DefaultLimit:              10,
		MaxLimit:                  100,
		CandidateFetchLimit:       500,

		AccessBoostPerHit:  0.05,
		AccessBoostCap:     0.3,
		RecentBucketHours:  24,
		ShortBucketDays:    7,
		MediumBucketDays:   30,
		RecentBucketWeight: 1.0,
		ShortBucketWeight:  0.8,
		MediumBucketWeight: 0.6,
		LongBucketWeight:   0.4,
		AccessRecencyBoost: 1.1,
		Comprehensive: ComprehensiveWeights{
			Semantic:        0.25,
			Consciousness:   0.2,
			ImportanceDecay: 0.2,
			AccessFrequency: 0.1,
			Temporal:        0.15,
			Specificity:     0.1,
		},
		PersonalizationFloor: 0.7,
		PersonalizationGain:  0.3,

		MinContextRelevance: 0.3,
		MaxContextMemories:  5,
		MaxContextLength:    4000,
		HistoryLimit:        5,
		BlendOriginal:       0.4,
		BlendKeywordOverlap: 0.3,
		BlendConsciousness:  0.2,
		BlendTemporal:       0.1,
		ContextTypeMultipliers: map[string]float64{
			"interaction":              1.0,
			"consciousness_reflection": 1.1,
			"concept_learning":         1.2,
			"insight":                  1.3,
			"evolution":                1.4,
		},
		StrengthCoverageTarget: 5,
	}
}

// LoadPolicy reads a YAML policy file layered over the defaults, so a file
// only needs to name the values it changes.
func LoadPolicy(path string) (Policy, error) {
	policy := DefaultPolicy()

	data, err := os.ReadFile(path)
	if err != nil {
		return policy, fmt.Errorf("policy: failed to read %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, &policy); err != nil {
		return policy, fmt.Errorf("policy: failed to parse %s: %w", path, err)
	}
	if err := policy.Validate(); err != nil {
		return policy, err
	}
	return policy, nil
}

// Validate checks the structural constraints on the policy.
func (p Policy) Validate() error {
	for name, w := range p.WeightProfiles {
		if math.Abs(w.Sum()-1.0) > 1e-6 {
			return fmt.Errorf("policy: weight profile %q sums to %.4f, want 1.0", name, w.Sum())
		}
	}
	if math.Abs(p.Comprehensive.Sum()-1.0) > 1e-6 {
		return fmt.Errorf("policy: comprehensive weights sum to %.4f, want 1.0", p.Comprehensive.Sum())
	}
	if p.HalfLifeHours <= 0 {
		return fmt.Errorf("policy: half_life_hours must be > 0")
	}
	if p.MaxContentLength <= 0 {
		return fmt.Errorf("policy: max_content_length must be > 0")
	}
	if p.ConsciousnessTolerance <= 0 {
		return fmt.Errorf("policy: consciousness_tolerance must be > 0")
	}
	return nil
}
