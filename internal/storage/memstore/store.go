// Package memstore provides an in-memory storage.MemoryStore used by tests
// and ephemeral deployments. All operations are safe for concurrent use.
package memstore

import (
	"context"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/pkg/types"
)

// Store keeps all records, concept links, and snapshot links in maps.
type Store struct {
	// ConceptInitialStrength and ConceptStrengthStep control concept link
	// reinforcement, matching the graph backend's fields so both backends
	// agree under the same policy.
	ConceptInitialStrength float64
	ConceptStrengthStep    float64

	mu       sync.RWMutex
	memories map[string]*types.MemoryRecord
	concepts map[string]map[string]*types.ConceptLink // memoryID → concept → link
	now      func() time.Time
}

// New returns an empty in-memory store.
func New() *Store {
	return &Store{
		ConceptInitialStrength: 0.5,
		ConceptStrengthStep:    0.1,
		memories:               make(map[string]*types.MemoryRecord),
		concepts:               make(map[string]map[string]*types.ConceptLink),
		now:                    time.Now,
	}
}

// SetClock overrides the clock used for access stamps, for tests.
func (s *Store) SetClock(now func() time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.now = now
}

// CreateMemory stores a copy of rec.
func (s *Store) CreateMemory(ctx context.Context, rec *types.MemoryRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := *rec
	s.memories[rec.ID] = &cp
	return nil
}

// GetMemory retrieves one record by id.
func (s *Store) GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.memories[id]
	if !ok {
		return nil, storage.ErrNotFound
	}
	cp := *rec
	return &cp, nil
}

// List retrieves records matching opts, newest first.
func (s *Store) List(ctx context.Context, opts storage.ListOptions) ([]types.MemoryRecord, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []types.MemoryRecord
	for _, rec := range s.memories {
		if opts.OwnerID != "" && rec.OwnerID != opts.OwnerID {
			continue
		}
		if !opts.IncludeArchived && rec.Archived {
			continue
		}
		if !opts.Since.IsZero() && rec.CreatedAt.Before(opts.Since) {
			continue
		}
		if len(opts.Types) > 0 && !slices.Contains(opts.Types, rec.MemoryType) {
			continue
		}
		cp := *rec
		if !opts.WithEmbeddings {
			cp.Embedding = nil
		}
		out = append(out, cp)
	}

	sort.Slice(out, func(i, j int) bool {
		return out[i].CreatedAt.After(out[j].CreatedAt)
	})
	if opts.Limit > 0 && len(out) > opts.Limit {
		out = out[:opts.Limit]
	}
	return out, nil
}

// UpdateImportance overwrites the persisted importance score.
func (s *Store) UpdateImportance(ctx context.Context, id string, score float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.memories[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.ImportanceScore = score
	return nil
}

// SetArchived flags a record as soft-archived.
func (s *Store) SetArchived(ctx context.Context, id string, reason string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.memories[id]
	if !ok {
		return storage.ErrNotFound
	}
	rec.Archived = true
	rec.ArchiveReason = reason
	return nil
}

// RecordAccess bumps access statistics for all ids.
func (s *Store) RecordAccess(ctx context.Context, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := s.now()
	for _, id := range ids {
		if rec, ok := s.memories[id]; ok {
			rec.AccessCount++
			stamp := now
			rec.LastAccessed = &stamp
		}
	}
	return nil
}

// LinkConcept links a memory to a concept with reinforcement accumulation.
func (s *Store) LinkConcept(ctx context.Context, memoryID, concept string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.memories[memoryID]; !ok {
		return storage.ErrNotFound
	}
	links, ok := s.concepts[memoryID]
	if !ok {
		links = make(map[string]*types.ConceptLink)
		s.concepts[memoryID] = links
	}
	if link, ok := links[concept]; ok {
		link.Strength = min(1.0, link.Strength+s.ConceptStrengthStep)
		link.AccessCount++
		return nil
	}
	links[concept] = &types.ConceptLink{Concept: concept, Strength: s.ConceptInitialStrength, AccessCount: 1}
	return nil
}

// ConceptsFor returns the concept links for one memory, strongest first.
func (s *Store) ConceptsFor(ctx context.Context, memoryID string) ([]types.ConceptLink, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []types.ConceptLink
	for _, link := range s.concepts[memoryID] {
		out = append(out, *link)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Strength != out[j].Strength {
			return out[i].Strength > out[j].Strength
		}
		return out[i].Concept < out[j].Concept
	})
	return out, nil
}

// LinkSnapshot records the snapshot link on the record.
func (s *Store) LinkSnapshot(ctx context.Context, memoryID, snapshotID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.memories[memoryID]
	if !ok {
		return storage.ErrNotFound
	}
	rec.SnapshotID = snapshotID
	return nil
}

// MergeMemories consolidates absorbedID into keeperID.
func (s *Store) MergeMemories(ctx context.Context, keeperID, absorbedID string, newImportance float64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	keeper, ok := s.memories[keeperID]
	if !ok {
		return storage.ErrNotFound
	}
	absorbed, ok := s.memories[absorbedID]
	if !ok {
		return storage.ErrNotFound
	}
	keeper.ImportanceScore = newImportance
	keeper.ConsolidatedFrom = append(keeper.ConsolidatedFrom, absorbedID)
	absorbed.Archived = true
	absorbed.ArchiveReason = "consolidated"
	return nil
}

// RecentHistory returns the owner's most recent interaction turns.
func (s *Store) RecentHistory(ctx context.Context, ownerID string, limit int) ([]types.HistoryEntry, error) {
	if limit <= 0 {
		limit = 10
	}
	records, err := s.List(ctx, storage.ListOptions{
		OwnerID: ownerID,
		Types:   []types.MemoryType{types.TypeInteraction},
		Limit:   limit,
	})
	if err != nil {
		return nil, err
	}
	entries := make([]types.HistoryEntry, 0, len(records))
	for _, rec := range records {
		entries = append(entries, types.HistoryEntry{
			Query:     rec.Query,
			Response:  rec.Response,
			CreatedAt: rec.CreatedAt,
		})
	}
	return entries, nil
}

// Stats summarises the owner's memory population.
func (s *Store) Stats(ctx context.Context, ownerID string) (*types.MemoryStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := &types.MemoryStats{ByType: make(map[types.MemoryType]int)}
	var importanceTotal float64
	for _, rec := range s.memories {
		if rec.OwnerID != ownerID {
			continue
		}
		stats.Total++
		stats.ByType[rec.MemoryType]++
		if rec.Archived {
			stats.Archived++
		}
		importanceTotal += rec.ImportanceScore
	}
	if stats.Total > 0 {
		stats.AvgImportance = importanceTotal / float64(stats.Total)
	}
	return stats, nil
}

// Close is a no-op for the in-memory backend.
func (s *Store) Close(ctx context.Context) error {
	return nil
}
