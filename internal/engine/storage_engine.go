// Package engine implements the three core engines of the memory subsystem:
// the storage engine (memory formation and maintenance), the retrieval engine
// (multi-strategy search and ranking), and the context builder (context
// assembly for prompt construction).
package engine

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/embedding"
	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/storage"
	"github.com/evermind-ai/evermind/pkg/types"
)

// StorageEngine forms memories from interactions and reflections, scores
// their importance, links concepts, and runs the maintenance operations that
// re-weight, archive, and consolidate the stored population over time.
type StorageEngine struct {
	store    storage.MemoryStore
	embedder embedding.Provider
	errs     *resilience.Handler
	policy   config.Policy
	retry    resilience.RetryPolicy
	log      *logrus.Entry
	now      func() time.Time
}

// NewStorageEngine wires a storage engine from its dependencies.
func NewStorageEngine(store storage.MemoryStore, embedder embedding.Provider, errs *resilience.Handler, policy config.Policy, logger *logrus.Logger) (*StorageEngine, error) {
	if store == nil {
		return nil, fmt.Errorf("storage engine: store is required")
	}
	if embedder == nil {
		return nil, fmt.Errorf("storage engine: embedder is required")
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}
	return &StorageEngine{
		store:    store,
		embedder: embedder,
		errs:     errs,
		policy:   policy,
		retry:    resilience.DefaultRetryPolicy(),
		log:      logger.WithField("component", "storage_engine"),
		now:      time.Now,
	}, nil
}

// SetClock overrides the engine clock, for tests.
func (e *StorageEngine) SetClock(now func() time.Time) {
	e.now = now
}

// SetRetryPolicy overrides the default retry policy for store and embedding
// calls.
func (e *StorageEngine) SetRetryPolicy(p resilience.RetryPolicy) {
	e.retry = p
}

// StoreInteraction persists one query/response exchange as an interaction
// memory. The content is the formatted pair truncated to the configured cap,
// the importance score comes from the interaction heuristic, and matched
// vocabulary concepts are linked best-effort after the write. An embedding
// failure aborts the store with no partial write.
func (e *StorageEngine) StoreInteraction(ctx context.Context, query, response, ownerID, sourceName string, cc types.ConsciousnessContext) (string, error) {
	if strings.TrimSpace(query) == "" {
		return "", resilience.Newf(resilience.CategoryValidation, "storage_engine", "store_interaction", "query is empty").WithOwner(ownerID)
	}
	if ownerID == "" {
		return "", resilience.Newf(resilience.CategoryValidation, "storage_engine", "store_interaction", "owner id is empty")
	}

	content := truncate(fmt.Sprintf("Query: %s\nResponse: %s", query, response), e.policy.MaxContentLength)
	importance := e.interactionImportance(query, response, cc)

	rec := &types.MemoryRecord{
		ID:                 uuid.NewString(),
		Content:            content,
		MemoryType:         types.TypeInteraction,
		OwnerID:            ownerID,
		SourceName:         sourceName,
		Query:              query,
		Response:           response,
		ConsciousnessLevel: cc.Level,
		EmotionalState:     cc.EmotionalState,
		ImportanceScore:    importance,
		SignificanceScore:  importance,
		DecayRate:          1.0,
		CreatedAt:          e.now().UTC(),
		SnapshotID:         cc.SnapshotID,
	}

	if err := e.persist(ctx, "store_interaction", rec); err != nil {
		return "", err
	}

	e.linkConcepts(ctx, rec.ID, query+" "+response)
	e.linkSnapshot(ctx, rec.ID, cc.SnapshotID)

	e.log.WithFields(logrus.Fields{
		"memory_id":  rec.ID,
		"owner_id":   ownerID,
		"importance": importance,
	}).Debug("stored interaction memory")
	return rec.ID, nil
}

// StoreReflection persists a consciousness-derived memory (reflection,
// insight, evolution, or concept learning). Importance uses the reflection
// heuristic with the elevated floor for consciousness types.
func (e *StorageEngine) StoreReflection(ctx context.Context, content, ownerID, sourceName string, memType types.MemoryType, cc types.ConsciousnessContext) (string, error) {
	if strings.TrimSpace(content) == "" {
		return "", resilience.Newf(resilience.CategoryValidation, "storage_engine", "store_reflection", "content is empty").WithOwner(ownerID)
	}
	if ownerID == "" {
		return "", resilience.Newf(resilience.CategoryValidation, "storage_engine", "store_reflection", "owner id is empty")
	}
	if !memType.IsConsciousnessType() {
		return "", resilience.Newf(resilience.CategoryValidation, "storage_engine", "store_reflection", "memory type %q is not a consciousness type", memType).WithOwner(ownerID)
	}

	importance := e.reflectionImportance(content, memType, cc)

	rec := &types.MemoryRecord{
		ID:                 uuid.NewString(),
		Content:            truncate(content, e.policy.MaxContentLength),
		MemoryType:         memType,
		OwnerID:            ownerID,
		SourceName:         sourceName,
		ConsciousnessLevel: cc.Level,
		EmotionalState:     cc.EmotionalState,
		ImportanceScore:    importance,
		SignificanceScore:  importance,
		DecayRate:          1.0,
		CreatedAt:          e.now().UTC(),
		SnapshotID:         cc.SnapshotID,
	}

	if err := e.persist(ctx, "store_reflection", rec); err != nil {
		return "", err
	}

	e.linkConcepts(ctx, rec.ID, content)
	e.linkSnapshot(ctx, rec.ID, cc.SnapshotID)

	e.log.WithFields(logrus.Fields{
		"memory_id":   rec.ID,
		"owner_id":    ownerID,
		"memory_type": memType,
		"importance":  importance,
	}).Debug("stored reflection memory")
	return rec.ID, nil
}

// persist embeds the record content and writes it, both under retry. The
// embedding happens first so a failed vector never leaves a partial record.
func (e *StorageEngine) persist(ctx context.Context, operation string, rec *types.MemoryRecord) error {
	vec, err := resilience.Do(ctx, e.errs, "storage_engine", operation+"_embed", e.retry, func(ctx context.Context) ([]float64, error) {
		v, err := e.embedder.Embed(ctx, rec.Content)
		if err != nil {
			return nil, resilience.New(resilience.CategoryEmbedding, "storage_engine", operation, err).WithOwner(rec.OwnerID)
		}
		return v, nil
	})
	if err != nil {
		return err
	}
	rec.Embedding = vec

	if err := rec.Validate(); err != nil {
		return resilience.New(resilience.CategoryValidation, "storage_engine", operation, err).WithOwner(rec.OwnerID)
	}

	_, err = resilience.Do(ctx, e.errs, "storage_engine", operation, e.retry, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, e.store.CreateMemory(ctx, rec)
	})
	if err != nil {
		return err
	}
	return nil
}

// linkConcepts extracts vocabulary concepts from text and links them to the
// memory. Linking is best-effort: failures are recorded, never propagated.
func (e *StorageEngine) linkConcepts(ctx context.Context, memoryID, text string) {
	for _, concept := range ExtractConcepts(text, e.policy.ConceptMaxMatches) {
		if err := e.store.LinkConcept(ctx, memoryID, concept); err != nil {
			if e.errs != nil {
				e.errs.Handle(resilience.New(resilience.CategoryStorage, "storage_engine", "link_concept", err).
					WithMemory(memoryID).WithContext("concept", concept))
			}
		}
	}
}

// linkSnapshot records the consciousness snapshot edge, best-effort.
func (e *StorageEngine) linkSnapshot(ctx context.Context, memoryID, snapshotID string) {
	if snapshotID == "" {
		return
	}
	if err := e.store.LinkSnapshot(ctx, memoryID, snapshotID); err != nil {
		if e.errs != nil {
			e.errs.Handle(resilience.New(resilience.CategoryStorage, "storage_engine", "link_snapshot", err).
				WithMemory(memoryID).WithContext("snapshot_id", snapshotID))
		}
	}
}

// GetMemoryStats summarises the owner's memory population.
func (e *StorageEngine) GetMemoryStats(ctx context.Context, ownerID string) (*types.MemoryStats, error) {
	stats, err := resilience.Do(ctx, e.errs, "storage_engine", "get_memory_stats", e.retry, func(ctx context.Context) (*types.MemoryStats, error) {
		return e.store.Stats(ctx, ownerID)
	})
	if err != nil {
		return nil, err
	}
	return stats, nil
}

// truncate shortens s to at most max runes, marking the cut with an ellipsis.
func truncate(s string, max int) string {
	if max <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= max {
		return s
	}
	if max <= 3 {
		return string(runes[:max])
	}
	return string(runes[:max-3]) + "..."
}
