// Package types defines the core data structures for the Evermind memory
// subsystem: durable memory records, ephemeral search results, assembled
// context bundles, and the consciousness context that biases scoring.
package types

import (
	"fmt"
	"time"
)

// MemoryType classifies a memory record.
type MemoryType string

const (
	// TypeInteraction is a stored query/response exchange with the agent.
	TypeInteraction MemoryType = "interaction"

	// TypeReflection is a consciousness self-reflection record.
	TypeReflection MemoryType = "consciousness_reflection"

	// TypeInsight is a distilled realization, weighted above reflections.
	TypeInsight MemoryType = "insight"

	// TypeEvolution marks a consciousness-level transition.
	TypeEvolution MemoryType = "evolution"

	// TypeConceptLearning records the acquisition of a new concept.
	TypeConceptLearning MemoryType = "concept_learning"
)

// ValidMemoryTypes lists every accepted memory type for validation.
var ValidMemoryTypes = []MemoryType{
	TypeInteraction,
	TypeReflection,
	TypeInsight,
	TypeEvolution,
	TypeConceptLearning,
}

// IsConsciousnessType reports whether t is one of the consciousness-derived
// types, which carry a higher importance floor than plain interactions.
func (t MemoryType) IsConsciousnessType() bool {
	switch t {
	case TypeReflection, TypeInsight, TypeEvolution, TypeConceptLearning:
		return true
	}
	return false
}

// Valid reports whether t is a known memory type.
func (t MemoryType) Valid() bool {
	for _, v := range ValidMemoryTypes {
		if t == v {
			return true
		}
	}
	return false
}

// Importance score bounds per memory type.
const (
	// MinInteractionImportance is the importance floor for interactions.
	MinInteractionImportance = 0.1

	// MinConsciousnessImportance is the importance floor for
	// consciousness-derived memories (reflections, insights, evolutions).
	MinConsciousnessImportance = 0.3

	// MaxImportance is the importance ceiling for every memory type.
	MaxImportance = 1.0
)

// ImportanceBounds returns the [min, max] importance range for a memory type.
func ImportanceBounds(t MemoryType) (min, max float64) {
	if t.IsConsciousnessType() {
		return MinConsciousnessImportance, MaxImportance
	}
	return MinInteractionImportance, MaxImportance
}

// ClampImportance clamps score to the importance range of memory type t.
func ClampImportance(t MemoryType, score float64) float64 {
	min, max := ImportanceBounds(t)
	if score < min {
		return min
	}
	if score > max {
		return max
	}
	return score
}

// MemoryRecord is the durable unit of memory. Records are created by the
// storage engine, mutated only by access-statistics updates and maintenance
// jobs, and never hard-deleted: destruction is the Archived flag.
type MemoryRecord struct {
	ID                 string         `json:"id"`                      // Immutable, globally unique
	Content            string         `json:"content"`                 // Text, truncated to the configured cap
	MemoryType         MemoryType     `json:"memory_type"`             // Record classification
	OwnerID            string         `json:"owner_id"`                // Owning user
	SourceName         string         `json:"source_name"`             // Producing agent
	Query              string         `json:"query,omitempty"`         // Original query (interactions only)
	Response           string         `json:"response,omitempty"`      // Original response (interactions only)
	ConsciousnessLevel float64        `json:"consciousness_level"`     // [0, 1] level at creation time
	EmotionalState     string         `json:"emotional_state"`         // Emotion tag at creation time
	ImportanceScore    float64        `json:"importance_score"`        // Clamped to the type's range
	SignificanceScore  float64        `json:"significance_score"`      // Slow-moving long-term weight
	DecayRate          float64        `json:"decay_rate"`              // Per-record decay modifier (1.0 = default)
	Embedding          []float64      `json:"embedding,omitempty"`     // Fixed-dimension vector
	CreatedAt          time.Time      `json:"created_at"`              // Creation timestamp
	LastAccessed       *time.Time     `json:"last_accessed,omitempty"` // Most recent retrieval hit
	AccessCount        int            `json:"access_count"`            // Retrieval hit counter
	Archived           bool           `json:"archived"`                // Soft archive flag; never hard-deleted
	ArchiveReason      string         `json:"archive_reason,omitempty"`
	ConsolidatedFrom   []string       `json:"consolidated_from,omitempty"` // IDs absorbed during consolidation
	SnapshotID         string         `json:"snapshot_id,omitempty"`       // Consciousness snapshot active at creation
	Metadata           map[string]any `json:"metadata,omitempty"`          // Forward-compatible extension map
}

// Validate checks structural invariants on the record.
func (m *MemoryRecord) Validate() error {
	if m.ID == "" {
		return fmt.Errorf("memory record: id is required")
	}
	if m.OwnerID == "" {
		return fmt.Errorf("memory record: owner_id is required")
	}
	if !m.MemoryType.Valid() {
		return fmt.Errorf("memory record: unknown memory type %q", m.MemoryType)
	}
	if m.ConsciousnessLevel < 0 || m.ConsciousnessLevel > 1 {
		return fmt.Errorf("memory record: consciousness_level %.3f outside [0, 1]", m.ConsciousnessLevel)
	}
	min, max := ImportanceBounds(m.MemoryType)
	if m.ImportanceScore < min || m.ImportanceScore > max {
		return fmt.Errorf("memory record: importance %.3f outside [%.1f, %.1f] for type %s",
			m.ImportanceScore, min, max, m.MemoryType)
	}
	if m.AccessCount < 0 {
		return fmt.Errorf("memory record: access_count must be >= 0")
	}
	return nil
}

// AgeHours returns the record's age in hours at the given instant.
func (m *MemoryRecord) AgeHours(now time.Time) float64 {
	h := now.Sub(m.CreatedAt).Hours()
	if h < 0 {
		return 0
	}
	return h
}

// ConceptLink is a weighted, reinforcement-accumulating edge between a memory
// and an extracted concept node.
type ConceptLink struct {
	Concept     string  `json:"concept"`
	Strength    float64 `json:"strength"`
	AccessCount int     `json:"access_count"`
}

// MemoryStats summarises an owner's memory population.
type MemoryStats struct {
	Total         int                `json:"total"`
	Archived      int                `json:"archived"`
	ByType        map[MemoryType]int `json:"by_type"`
	AvgImportance float64            `json:"avg_importance"`
}

// HistoryEntry is one query/response pair from the conversation history.
type HistoryEntry struct {
	Query     string    `json:"query"`
	Response  string    `json:"response"`
	CreatedAt time.Time `json:"created_at"`
}
