// Package graph defines the external Graph Store contract: a property-graph
// database queried with a declarative pattern-matching language (Cypher), plus
// the Neo4j-backed implementation.
//
// The subsystem uses three node kinds (Memory, Concept, User) and three
// relationship kinds: ownership (User→Memory), concept linkage
// (Memory↔Concept, carrying strength and access_count), and a point-in-time
// link from a memory to the consciousness snapshot active when it was created.
package graph

import (
	"context"
	"errors"
)

// ErrNotFound is returned when a query expected to match a node matched none.
var ErrNotFound = errors.New("graph: not found")

// Row is one result row keyed by the query's return aliases.
type Row map[string]any

// Store is the two-method contract against the external graph database.
// Query runs read statements, Write runs mutating ones; both return zero or
// more rows. Implementations must honor ctx cancellation and deadlines.
type Store interface {
	Query(ctx context.Context, stmt string, params map[string]any) ([]Row, error)
	Write(ctx context.Context, stmt string, params map[string]any) ([]Row, error)
	Close(ctx context.Context) error
}
