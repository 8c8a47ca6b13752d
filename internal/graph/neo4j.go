package graph

import (
	"context"
	"fmt"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

// Neo4jConfig holds connection settings for the Neo4j-backed store.
type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// Neo4jStore implements Store against a Neo4j server over Bolt.
// Sessions are created per call; the underlying driver pools connections.
type Neo4jStore struct {
	driver   neo4j.DriverWithContext
	database string
}

// NewNeo4jStore connects to Neo4j and verifies connectivity before returning.
func NewNeo4jStore(ctx context.Context, cfg Neo4jConfig) (*Neo4jStore, error) {
	driver, err := neo4j.NewDriverWithContext(cfg.URI, neo4j.BasicAuth(cfg.Username, cfg.Password, ""))
	if err != nil {
		return nil, fmt.Errorf("graph: failed to create driver: %w", err)
	}
	if err := driver.VerifyConnectivity(ctx); err != nil {
		_ = driver.Close(ctx)
		return nil, fmt.Errorf("graph: connectivity check failed: %w", err)
	}
	return &Neo4jStore{driver: driver, database: cfg.Database}, nil
}

// Query executes a read statement inside a read transaction.
func (s *Neo4jStore) Query(ctx context.Context, stmt string, params map[string]any) ([]Row, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeRead,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteRead(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, stmt, params)
	})
	if err != nil {
		return nil, fmt.Errorf("graph: read failed: %w", err)
	}
	return rows.([]Row), nil
}

// Write executes a mutating statement inside a write transaction.
func (s *Neo4jStore) Write(ctx context.Context, stmt string, params map[string]any) ([]Row, error) {
	session := s.driver.NewSession(ctx, neo4j.SessionConfig{
		AccessMode:   neo4j.AccessModeWrite,
		DatabaseName: s.database,
	})
	defer session.Close(ctx)

	rows, err := session.ExecuteWrite(ctx, func(tx neo4j.ManagedTransaction) (any, error) {
		return collectRows(ctx, tx, stmt, params)
	})
	if err != nil {
		return nil, fmt.Errorf("graph: write failed: %w", err)
	}
	return rows.([]Row), nil
}

// Close shuts down the driver and its connection pool.
func (s *Neo4jStore) Close(ctx context.Context) error {
	return s.driver.Close(ctx)
}

// collectRows runs stmt and materializes every record as a Row.
func collectRows(ctx context.Context, tx neo4j.ManagedTransaction, stmt string, params map[string]any) ([]Row, error) {
	result, err := tx.Run(ctx, stmt, params)
	if err != nil {
		return nil, err
	}
	records, err := result.Collect(ctx)
	if err != nil {
		return nil, err
	}
	rows := make([]Row, 0, len(records))
	for _, rec := range records {
		rows = append(rows, Row(rec.AsMap()))
	}
	return rows, nil
}
