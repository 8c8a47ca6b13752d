package engine

import (
	"strings"

	"github.com/evermind-ai/evermind/pkg/types"
)

// interactionImportance scores an interaction from length, emotional state,
// and question/learning signals, then clamps to the interaction range.
//
// The heuristic starts at the configured base, adds a bonus per crossed word
// threshold of the query and the response, multiplies by the emotional-state
// multiplier, and adds a flat bonus when the query asks a question or uses a
// learning keyword.
func (e *StorageEngine) interactionImportance(query, response string, cc types.ConsciousnessContext) float64 {
	p := e.policy
	score := p.ImportanceBase

	queryWords := len(strings.Fields(query))
	for _, threshold := range p.QueryWordThresholds {
		if queryWords > threshold {
			score += p.WordCountBonus
		}
	}
	responseWords := len(strings.Fields(response))
	for _, threshold := range p.ResponseWordThresholds {
		if responseWords > threshold {
			score += p.WordCountBonus
		}
	}

	if mult, ok := p.EmotionalMultipliers[cc.EmotionalState]; ok {
		score *= mult
	}

	if strings.Contains(query, "?") || containsLearningKeyword(query, p.LearningKeywords) {
		score += p.QuestionBonus
	}

	return types.ClampImportance(types.TypeInteraction, score)
}

// reflectionImportance scores a consciousness-derived memory. The type
// multiplier orders insights above evolutions above concept learning above
// plain reflections; the result is clamped to the consciousness range, which
// enforces the elevated floor.
func (e *StorageEngine) reflectionImportance(content string, memType types.MemoryType, cc types.ConsciousnessContext) float64 {
	p := e.policy
	score := p.ImportanceBase

	words := len(strings.Fields(content))
	for _, threshold := range p.ResponseWordThresholds {
		if words > threshold {
			score += p.WordCountBonus
		}
	}

	if mult, ok := p.EmotionalMultipliers[cc.EmotionalState]; ok {
		score *= mult
	}
	if mult, ok := p.ReflectionMultipliers[string(memType)]; ok {
		score *= mult
	}

	return types.ClampImportance(memType, score)
}

// containsLearningKeyword reports whether any learning keyword appears as a
// whole word in the query.
func containsLearningKeyword(query string, keywords []string) bool {
	for _, word := range strings.Fields(strings.ToLower(query)) {
		word = strings.Trim(word, ".,!?;:\"'")
		for _, keyword := range keywords {
			if word == keyword {
				return true
			}
		}
	}
	return false
}
