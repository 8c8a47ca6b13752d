package engine

import "strings"

// conceptVocabulary is the curated keyword vocabulary used for concept
// extraction, grouped by category. Categories and terms are ordered so
// extraction is deterministic.
var conceptVocabulary = []struct {
	category string
	terms    []string
}{
	{"technology", []string{
		"artificial intelligence", "machine learning", "neural network",
		"ai", "algorithm", "database", "software", "programming",
		"quantum computing", "robotics", "blockchain", "cloud computing",
		"internet", "encryption",
	}},
	{"domain", []string{
		"consciousness", "memory", "philosophy", "science", "mathematics",
		"physics", "biology", "psychology", "language", "music", "art",
		"history", "emotion", "ethics", "creativity",
	}},
	{"action", []string{
		"learn", "create", "analyze", "explain", "remember", "reflect",
		"explore", "solve", "design", "build", "teach", "question",
	}},
}

// ExtractConcepts returns up to max vocabulary concepts found in content.
// Multi-word terms match as substrings; single words match on word
// boundaries so "art" does not fire inside "particular".
func ExtractConcepts(content string, max int) []string {
	if max <= 0 {
		max = 10
	}
	lower := strings.ToLower(content)
	words := fieldSet(lower)

	seen := make(map[string]bool)
	var out []string
	for _, group := range conceptVocabulary {
		for _, term := range group.terms {
			if len(out) >= max {
				return out
			}
			if seen[term] {
				continue
			}
			var matched bool
			if strings.Contains(term, " ") {
				matched = strings.Contains(lower, term)
			} else {
				matched = words[term]
			}
			if matched {
				seen[term] = true
				out = append(out, term)
			}
		}
	}
	return out
}

// fieldSet returns the set of punctuation-trimmed words in lowered text.
func fieldSet(lower string) map[string]bool {
	set := make(map[string]bool)
	for _, word := range strings.Fields(lower) {
		word = strings.Trim(word, ".,!?;:\"'()[]")
		if word != "" {
			set[word] = true
		}
	}
	return set
}
