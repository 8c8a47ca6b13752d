// cmd/evermindd is the entry point for the Evermind memory daemon. It wires
// the Neo4j-backed store, the embedding client, the resilience handler, and
// the three engines, then runs the periodic maintenance sweep until the
// process receives SIGINT or SIGTERM.
//
// Startup sequence:
//  1. Load configuration from environment variables (EVERMIND_ prefix).
//  2. Connect to the graph store and verify connectivity.
//  3. Build the embedding client (breaker, rate limiter, cache).
//  4. Wire the resilience handler and the three engines.
//  5. Run the maintenance ticker until shutdown.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/evermind-ai/evermind/internal/config"
	"github.com/evermind-ai/evermind/internal/embedding"
	"github.com/evermind-ai/evermind/internal/engine"
	"github.com/evermind-ai/evermind/internal/graph"
	"github.com/evermind-ai/evermind/internal/resilience"
	"github.com/evermind-ai/evermind/internal/storage/neo4jstore"
)

func main() {
	logger := logrus.New()
	logger.SetFormatter(&logrus.JSONFormatter{})
	if os.Getenv("EVERMIND_DEBUG") != "" {
		logger.SetLevel(logrus.DebugLevel)
	}

	cfg, err := config.LoadConfig()
	if err != nil {
		logger.WithError(err).Fatal("failed to load config")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	graphStore, err := graph.NewNeo4jStore(ctx, graph.Neo4jConfig{
		URI:      cfg.Graph.URI,
		Username: cfg.Graph.Username,
		Password: cfg.Graph.Password,
		Database: cfg.Graph.Database,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to connect to graph store")
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := graphStore.Close(closeCtx); err != nil {
			logger.WithError(err).Warn("graph store close failed")
		}
	}()
	logger.WithField("uri", cfg.Graph.URI).Info("connected to graph store")

	store := neo4jstore.New(graphStore)
	store.ConceptInitialStrength = cfg.Policy.ConceptInitialStrength
	store.ConceptStrengthStep = cfg.Policy.ConceptStrengthStep

	embedder, err := embedding.NewClient(embedding.ClientConfig{
		BaseURL:           cfg.Embedding.BaseURL,
		Model:             cfg.Embedding.Model,
		Dimensions:        cfg.Embedding.Dimensions,
		RequestTimeout:    cfg.Embedding.RequestTimeout,
		CacheSize:         cfg.Embedding.CacheSize,
		RequestsPerSecond: cfg.Embedding.RequestsPerSecond,
		Burst:             cfg.Embedding.Burst,
	})
	if err != nil {
		logger.WithError(err).Fatal("failed to build embedding client")
	}

	handler := resilience.NewHandler(resilience.HandlerConfig{
		MaxLogSize:         cfg.Resilience.MaxErrorLog,
		CriticalThreshold:  cfg.Resilience.CriticalThreshold,
		CategoryRateMax:    cfg.Resilience.CategoryRateMax,
		CategoryRateWindow: cfg.Resilience.CategoryRateWindow,
		DegradationTimeout: cfg.Resilience.DegradationTimeout,
	}, logger)
	handler.RegisterCallback(func(rec resilience.ErrorRecord) {
		if rec.Severity == resilience.SeverityCritical {
			logger.WithFields(logrus.Fields{
				"category":  rec.Category,
				"component": rec.Component,
				"operation": rec.Operation,
			}).Error("critical memory failure")
		}
	})

	retryPolicy := resilience.RetryPolicy{
		Attempts:       cfg.Resilience.RetryAttempts,
		InitialBackoff: cfg.Resilience.RetryBackoff,
		Timeout:        cfg.Resilience.CallTimeout,
	}

	storageEngine, err := engine.NewStorageEngine(store, embedder, handler, cfg.Policy, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build storage engine")
	}
	storageEngine.SetRetryPolicy(retryPolicy)

	retrievalEngine, err := engine.NewRetrievalEngine(store, embedder, handler, cfg.Policy, logger)
	if err != nil {
		logger.WithError(err).Fatal("failed to build retrieval engine")
	}
	retrievalEngine.SetRetryPolicy(retryPolicy)

	if _, err := engine.NewContextBuilder(retrievalEngine, store, handler, cfg.Policy, logger); err != nil {
		logger.WithError(err).Fatal("failed to build context builder")
	}

	logger.Info("evermind memory daemon started")

	if cfg.Maintenance.Enabled {
		runMaintenanceLoop(ctx, storageEngine, handler, cfg.Maintenance.Interval, logger)
	} else {
		<-ctx.Done()
	}

	logger.Info("shutting down")
}

// runMaintenanceLoop runs the maintenance sweep on the configured interval
// until ctx is cancelled. Sweep failures are recorded and the loop continues.
func runMaintenanceLoop(ctx context.Context, eng *engine.StorageEngine, handler *resilience.Handler, interval time.Duration, logger *logrus.Logger) {
	if interval <= 0 {
		interval = time.Hour
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			report, err := eng.RunMaintenance(ctx, "")
			if err != nil {
				handler.Handle(resilience.New(resilience.CategoryStorage, "evermindd", "maintenance_sweep", err))
				continue
			}
			logger.WithFields(logrus.Fields{
				"archived_stale": report.ArchivedStale,
				"consolidated":   report.Consolidated,
				"degraded":       handler.IsDegraded(),
			}).Info("maintenance sweep finished")
		}
	}
}
