package neo4jstore

import (
	"encoding/json"
	"time"

	"github.com/evermind-ai/evermind/pkg/types"
)

// recordFromProps converts a Memory node property map into a MemoryRecord.
// Neo4j returns integers as int64, lists as []any, and datetimes as time.Time;
// the helpers below tolerate the string forms some deployments store instead.
func recordFromProps(props map[string]any) types.MemoryRecord {
	rec := types.MemoryRecord{
		ID:                 asString(props["id"]),
		Content:            asString(props["content"]),
		MemoryType:         types.MemoryType(asString(props["memory_type"])),
		OwnerID:            asString(props["owner_id"]),
		SourceName:         asString(props["source_name"]),
		Query:              asString(props["query"]),
		Response:           asString(props["response"]),
		ConsciousnessLevel: asFloat(props["consciousness_level"]),
		EmotionalState:     asString(props["emotional_state"]),
		ImportanceScore:    asFloat(props["importance_score"]),
		SignificanceScore:  asFloat(props["significance_score"]),
		DecayRate:          asFloat(props["decay_rate"]),
		Embedding:          asFloatSlice(props["embedding"]),
		CreatedAt:          asTime(props["created_at"]),
		AccessCount:        int(asInt(props["access_count"])),
		Archived:           asBool(props["archived"]),
		ArchiveReason:      asString(props["archive_reason"]),
		SnapshotID:         asString(props["snapshot_id"]),
	}

	if v, ok := props["last_accessed"]; ok && v != nil {
		t := asTime(v)
		if !t.IsZero() {
			rec.LastAccessed = &t
		}
	}
	if v, ok := props["consolidated_from"]; ok {
		rec.ConsolidatedFrom = asStringSlice(v)
	}
	if raw := asString(props["metadata_json"]); raw != "" && raw != "{}" {
		var metadata map[string]any
		if err := json.Unmarshal([]byte(raw), &metadata); err == nil {
			rec.Metadata = metadata
		}
	}
	return rec
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asBool(v any) bool {
	b, _ := v.(bool)
	return b
}

func asFloat(v any) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int64:
		return float64(n)
	case int:
		return float64(n)
	}
	return 0
}

func asInt(v any) int64 {
	switch n := v.(type) {
	case int64:
		return n
	case int:
		return int64(n)
	case float64:
		return int64(n)
	}
	return 0
}

func asTime(v any) time.Time {
	switch t := v.(type) {
	case time.Time:
		return t
	case string:
		if parsed, err := time.Parse(time.RFC3339Nano, t); err == nil {
			return parsed
		}
	}
	return time.Time{}
}

func asFloatSlice(v any) []float64 {
	switch vec := v.(type) {
	case []float64:
		return vec
	case []any:
		out := make([]float64, 0, len(vec))
		for _, item := range vec {
			out = append(out, asFloat(item))
		}
		return out
	}
	return nil
}

func asStringSlice(v any) []string {
	switch list := v.(type) {
	case []string:
		return list
	case []any:
		out := make([]string, 0, len(list))
		for _, item := range list {
			if s, ok := item.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}
