// Package storage provides the persistence contract for memory records.
//
// The layer is designed around one focused interface implemented by two
// backends: neo4jstore (Cypher statements against graph.Store) and memstore
// (an in-memory backend used by tests and ephemeral deployments).
package storage

import (
	"context"
	"errors"
	"time"

	"github.com/evermind-ai/evermind/pkg/types"
)

// ErrNotFound is returned when the requested memory does not exist.
var ErrNotFound = errors.New("storage: memory not found")

// ListOptions filters and bounds List calls. Zero values mean "no filter".
type ListOptions struct {
	// OwnerID restricts results to one owner; empty matches all owners.
	OwnerID string

	// Types restricts results to the given memory types.
	Types []types.MemoryType

	// Since restricts results to memories created at or after the instant.
	Since time.Time

	// IncludeArchived includes soft-archived memories.
	IncludeArchived bool

	// WithEmbeddings requests embedding vectors on the returned records.
	// Backends may omit vectors otherwise to keep result rows small.
	WithEmbeddings bool

	// Limit caps the result count; <= 0 falls back to the backend default.
	Limit int
}

// MemoryStore is the persistence contract for memory records and their
// concept/snapshot linkage. Write methods are single-statement atomic; there
// is no cross-call transaction.
type MemoryStore interface {
	// CreateMemory persists a new record and its ownership edge in one
	// mutating statement. The record's ID must be set by the caller.
	CreateMemory(ctx context.Context, rec *types.MemoryRecord) error

	// GetMemory retrieves one record by id, or ErrNotFound.
	GetMemory(ctx context.Context, id string) (*types.MemoryRecord, error)

	// List retrieves records matching opts, newest first.
	List(ctx context.Context, opts ListOptions) ([]types.MemoryRecord, error)

	// UpdateImportance overwrites the persisted importance score.
	UpdateImportance(ctx context.Context, id string, score float64) error

	// SetArchived flags a record as soft-archived with a reason.
	// Archived records are never physically deleted.
	SetArchived(ctx context.Context, id string, reason string) error

	// RecordAccess increments access_count and stamps last_accessed for all
	// given ids in one statement.
	RecordAccess(ctx context.Context, ids []string) error

	// LinkConcept links a memory to a concept node. The first link sets the
	// edge to the initial strength with access=1; repeat links accumulate
	// strength (capped at 1.0) and increment access.
	LinkConcept(ctx context.Context, memoryID, concept string) error

	// ConceptsFor returns the concept links for one memory.
	ConceptsFor(ctx context.Context, memoryID string) ([]types.ConceptLink, error)

	// LinkSnapshot records the point-in-time link from a memory to the
	// consciousness snapshot active when it was created.
	LinkSnapshot(ctx context.Context, memoryID, snapshotID string) error

	// MergeMemories consolidates absorbedID into keeperID: the keeper gets
	// the new importance and a back-link, the absorbed record is archived.
	MergeMemories(ctx context.Context, keeperID, absorbedID string, newImportance float64) error

	// RecentHistory returns the owner's most recent interaction turns,
	// newest first.
	RecentHistory(ctx context.Context, ownerID string, limit int) ([]types.HistoryEntry, error)

	// Stats summarises the owner's memory population.
	Stats(ctx context.Context, ownerID string) (*types.MemoryStats, error)

	// Close releases backend resources.
	Close(ctx context.Context) error
}
