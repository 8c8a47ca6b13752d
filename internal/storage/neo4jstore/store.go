// Package neo4jstore implements storage.MemoryStore with Cypher statements
// issued through the graph.Store contract.
package neo4jstore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/evermind-ai/evermind/internal/graph"
	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/pkg/types"
)

// Store persists memory records as Memory nodes owned by User nodes and
// linked to Concept nodes and ConsciousnessSnapshot nodes.
type Store struct {
	graph graph.Store

	// ConceptInitialStrength and ConceptStrengthStep control concept-edge
	// reinforcement. Defaults match the documented policy (0.5 / 0.1).
	ConceptInitialStrength float64
	ConceptStrengthStep    float64
}

// New wraps a graph.Store in the MemoryStore contract.
func New(g graph.Store) *Store {
	return &Store{
		graph:                  g,
		ConceptInitialStrength: 0.5,
		ConceptStrengthStep:    0.1,
	}
}

const createMemoryStmt = `
MERGE (u:User {id: $owner_id})
CREATE (m:Memory {
	id: $id,
	content: $content,
	memory_type: $memory_type,
	owner_id: $owner_id,
	source_name: $source_name,
	query: $query,
	response: $response,
	consciousness_level: $consciousness_level,
	emotional_state: $emotional_state,
	importance_score: $importance_score,
	significance_score: $significance_score,
	decay_rate: $decay_rate,
	embedding: $embedding,
	created_at: $created_at,
	access_count: 0,
	archived: false,
	metadata_json: $metadata_json
})
CREATE (u)-[:OWNS]->(m)
RETURN m.id AS id`

// CreateMemory persists the record and its ownership edge in one statement.
func (s *Store) CreateMemory(ctx context.Context, rec *types.MemoryRecord) error {
	metadataJSON := "{}"
	if len(rec.Metadata) > 0 {
		data, err := json.Marshal(rec.Metadata)
		if err != nil {
			return fmt.Errorf("neo4jstore: failed to encode metadata: %w", err)
		}
		metadataJSON = string(data)
	}

	_, err := s.graph.Write(ctx, createMemoryStmt, map[string]any{
		"id":                  rec.ID,
		"content":             rec.Content,
		"memory_type":         string(rec.MemoryType),
		"owner_id":            rec.OwnerID,
		"source_name":         rec.SourceName,
		"query":               rec.Query,
		"response":            rec.Response,
		"consciousness_level": rec.ConsciousnessLevel,
		"emotional_state":     rec.EmotionalState,
		"importance_score":    rec.ImportanceScore,
		"significance_score":  rec.SignificanceScore,
		"decay_rate":          rec.DecayRate,
		"embedding":           rec.Embedding,
		"created_at":          rec.CreatedAt,
		"metadata_json":       metadataJSON,
	})
	return err
}

const getMemoryStmt = `
MATCH (m:Memory {id: $id})
RETURN m { .* } AS m`

// GetMemory retrieves one record by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error) {
	rows, err := s.graph.Query(ctx, getMemoryStmt, map[string]any{"id": id})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, storage.ErrNotFound
	}
	props, ok := rows[0]["m"].(map[string]any)
	if !ok {
		return nil, fmt.Errorf("neo4jstore: unexpected row shape for memory %s", id)
	}
	rec := recordFromProps(props)
	return &rec, nil
}

// List retrieves records matching opts, newest first. The WHERE clause is
// assembled from the option set; embeddings are projected out unless asked
// for, to keep rows small.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]types.MemoryRecord, error) {
	stmt := "MATCH (m:Memory)\nWHERE 1 = 1"
	params := map[string]any{}

	if opts.OwnerID != "" {
		stmt += "\nAND m.owner_id = $owner_id"
		params["owner_id"] = opts.OwnerID
	}
	if !opts.IncludeArchived {
		stmt += "\nAND m.archived = false"
	}
	if !opts.Since.IsZero() {
		stmt += "\nAND m.created_at >= $since"
		params["since"] = opts.Since
	}
	if len(opts.Types) > 0 {
		typeNames := make([]string, 0, len(opts.Types))
		for _, t := range opts.Types {
			typeNames = append(typeNames, string(t))
		}
		stmt += "\nAND m.memory_type IN $types"
		params["types"] = typeNames
	}

	if opts.WithEmbeddings {
		stmt += "\nRETURN m { .* } AS m"
	} else {
		stmt += "\nRETURN m { .*, embedding: null } AS m"
	}
	stmt += "\nORDER BY m.created_at DESC"

	limit := opts.Limit
	if limit <= 0 {
		limit = 1000
	}
	stmt += "\nLIMIT $limit"
	params["limit"] = limit

	rows, err := s.graph.Query(ctx, stmt, params)
	if err != nil {
		return nil, err
	}

	records := make([]types.MemoryRecord, 0, len(rows))
	for _, row := range rows {
		props, ok := row["m"].(map[string]any)
		if !ok {
			continue
		}
		records = append(records, recordFromProps(props))
	}
	return records, nil
}

const updateImportanceStmt = `
MATCH (m:Memory {id: $id})
SET m.importance_score = $score
RETURN m.id AS id`

// UpdateImportance overwrites the persisted importance score.
func (s *Store) UpdateImportance(ctx context.Context, id string, score float64) error {
	rows, err := s.graph.Write(ctx, updateImportanceStmt, map[string]any{"id": id, "score": score})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const setArchivedStmt = `
MATCH (m:Memory {id: $id})
SET m.archived = true, m.archive_reason = $reason
RETURN m.id AS id`

// SetArchived soft-archives the record.
func (s *Store) SetArchived(ctx context.Context, id string, reason string) error {
	rows, err := s.graph.Write(ctx, setArchivedStmt, map[string]any{"id": id, "reason": reason})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const recordAccessStmt = `
UNWIND $ids AS mid
MATCH (m:Memory {id: mid})
SET m.access_count = m.access_count + 1, m.last_accessed = $now
RETURN count(m) AS updated`

// RecordAccess bumps access statistics for all ids in one statement.
func (s *Store) RecordAccess(ctx context.Context, ids []string) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := s.graph.Write(ctx, recordAccessStmt, map[string]any{"ids": ids, "now": time.Now().UTC()})
	return err
}

const linkConceptStmt = `
MATCH (m:Memory {id: $memory_id})
MERGE (c:Concept {name: $concept})
MERGE (m)-[r:RELATES_TO]->(c)
ON CREATE SET r.strength = $initial_strength, r.access_count = 1
ON MATCH SET
	r.strength = CASE WHEN r.strength + $strength_step > 1.0 THEN 1.0 ELSE r.strength + $strength_step END,
	r.access_count = r.access_count + 1
RETURN r.strength AS strength`

// LinkConcept links a memory to a concept with reinforcement accumulation.
func (s *Store) LinkConcept(ctx context.Context, memoryID, concept string) error {
	rows, err := s.graph.Write(ctx, linkConceptStmt, map[string]any{
		"memory_id":        memoryID,
		"concept":          concept,
		"initial_strength": s.ConceptInitialStrength,
		"strength_step":    s.ConceptStrengthStep,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const conceptsForStmt = `
MATCH (m:Memory {id: $memory_id})-[r:RELATES_TO]->(c:Concept)
RETURN c.name AS name, r.strength AS strength, r.access_count AS access_count
ORDER BY r.strength DESC`

// ConceptsFor returns the concept links for one memory, strongest first.
func (s *Store) ConceptsFor(ctx context.Context, memoryID string) ([]types.ConceptLink, error) {
	rows, err := s.graph.Query(ctx, conceptsForStmt, map[string]any{"memory_id": memoryID})
	if err != nil {
		return nil, err
	}
	links := make([]types.ConceptLink, 0, len(rows))
	for _, row := range rows {
		links = append(links, types.ConceptLink{
			Concept:     asString(row["name"]),
			Strength:    asFloat(row["strength"]),
			AccessCount: int(asInt(row["access_count"])),
		})
	}
	return links, nil
}

const linkSnapshotStmt = `
MATCH (m:Memory {id: $memory_id})
MERGE (s:ConsciousnessSnapshot {id: $snapshot_id})
MERGE (m)-[:CREATED_DURING]->(s)
SET m.snapshot_id = $snapshot_id
RETURN m.id AS id`

// LinkSnapshot records the point-in-time snapshot link.
func (s *Store) LinkSnapshot(ctx context.Context, memoryID, snapshotID string) error {
	rows, err := s.graph.Write(ctx, linkSnapshotStmt, map[string]any{
		"memory_id":   memoryID,
		"snapshot_id": snapshotID,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const mergeMemoriesStmt = `
MATCH (keep:Memory {id: $keeper_id}), (gone:Memory {id: $absorbed_id})
SET keep.importance_score = $new_importance,
	keep.consolidated_from = coalesce(keep.consolidated_from, []) + $absorbed_id,
	gone.archived = true,
	gone.archive_reason = 'consolidated'
CREATE (keep)-[:CONSOLIDATED]->(gone)
RETURN keep.id AS id`

// MergeMemories consolidates absorbedID into keeperID.
func (s *Store) MergeMemories(ctx context.Context, keeperID, absorbedID string, newImportance float64) error {
	rows, err := s.graph.Write(ctx, mergeMemoriesStmt, map[string]any{
		"keeper_id":      keeperID,
		"absorbed_id":    absorbedID,
		"new_importance": newImportance,
	})
	if err != nil {
		return err
	}
	if len(rows) == 0 {
		return storage.ErrNotFound
	}
	return nil
}

const recentHistoryStmt = `
MATCH (m:Memory {owner_id: $owner_id, memory_type: 'interaction'})
WHERE m.archived = false
RETURN m.query AS query, m.response AS response, m.created_at AS created_at
ORDER BY m.created_at DESC
LIMIT $limit`

// RecentHistory returns the owner's most recent interaction turns.
func (s *Store) RecentHistory(ctx context.Context, ownerID string, limit int) ([]types.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	rows, err := s.graph.Query(ctx, recentHistoryStmt, map[string]any{
		"owner_id": ownerID,
		"limit":    limit,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]types.HistoryEntry, 0, len(rows))
	for _, row := range rows {
		entries = append(entries, types.HistoryEntry{
			Query:     asString(row["query"]),
			Response:  asString(row["response"]),
			CreatedAt: asTime(row["created_at"]),
		})
	}
	return entries, nil
}

const statsStmt = `
MATCH (m:Memory {owner_id: $owner_id})
RETURN m.memory_type AS memory_type,
	count(m) AS total,
	sum(CASE WHEN m.archived THEN 1 ELSE 0 END) AS archived,
	avg(m.importance_score) AS avg_importance`

// Stats summarises the owner's memory population grouped by type.
func (s *Store) Stats(ctx context.Context, ownerID string) (*types.MemoryStats, error) {
	rows, err := s.graph.Query(ctx, statsStmt, map[string]any{"owner_id": ownerID})
	if err != nil {
		return nil, err
	}

	stats := &types.MemoryStats{ByType: make(map[types.MemoryType]int)}
	var importanceTotal float64
	for _, row := range rows {
		count := int(asInt(row["total"]))
		stats.Total += count
		stats.Archived += int(asInt(row["archived"]))
		stats.ByType[types.MemoryType(asString(row["memory_type"]))] = count
		importanceTotal += asFloat(row["avg_importance"]) * float64(count)
	}
	if stats.Total > 0 {
		stats.AvgImportance = importanceTotal / float64(stats.Total)
	}
	return stats, nil
}

// Close closes the underlying graph store.
func (s *Store) Close(ctx context.Context) error {
	return s.graph.Close(ctx)
}
