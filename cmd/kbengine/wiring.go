package main

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/xxxsen/kbengine/internal/ai"
	"github.com/xxxsen/kbengine/internal/analyzer"
	"github.com/xxxsen/kbengine/internal/broker"
	"github.com/xxxsen/kbengine/internal/config"
	"github.com/xxxsen/kbengine/internal/db"
	"github.com/xxxsen/kbengine/internal/embedcache"
	"github.com/xxxsen/kbengine/internal/engine"
	"github.com/xxxsen/kbengine/internal/executor"
	"github.com/xxxsen/kbengine/internal/filestore"
	"github.com/xxxsen/kbengine/internal/incremental"
	"github.com/xxxsen/kbengine/internal/retriever"
	"github.com/xxxsen/kbengine/internal/statestore"
	"github.com/xxxsen/kbengine/internal/vectorstore"
)

// app holds every component wiring builds, plus the raw *sql.DB so run can
// close it on shutdown.
type app struct {
	cfg    *config.Config
	db     *sql.DB
	engine *engine.Engine
	broker *broker.Broker
	state  *statestore.Store
}

// wire builds the full dependency graph the same way runServer did for
// mnote: open storage, construct each collaborator with its config slice,
// compose the higher-level components on top, and hand back one app a
// command can drive. Every one-shot CLI subcommand (ingest/search/status/
// delete/cancel) and the long-running run command share this, so a CLI
// query sees exactly the same wiring the worker process does.
func wire(cfg *config.Config) (*app, error) {
	sqlDB, err := db.OpenSQLite(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}

	state := statestore.New(sqlDB)

	fstore, err := filestore.New(cfg.FileStore)
	if err != nil {
		return nil, fmt.Errorf("init file store: %w", err)
	}

	vstore, err := vectorstore.New(cfg.VectorStore)
	if err != nil {
		return nil, fmt.Errorf("init vector store: %w", err)
	}
	if err := vstore.EnsureCollection(context.Background(), cfg.Embedding.Dim); err != nil {
		return nil, fmt.Errorf("ensure vector collection: %w", err)
	}

	embedderEntries, generatorEntries, err := buildProviderEntries(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	embedder := ai.NewRateLimitedEmbedder(ai.NewGroupEmbedder(embedderEntries), cfg.Embedding.RateLimitRPS)
	embedder = embedcache.WrapDBCacheToEmbedder(embedder, embedcache.NewRepo(sqlDB))
	embedder = embedcache.WrapLruCacheToEmbedder(embedder, cfg.Embedding.CacheSize, time.Hour)
	generator := ai.NewGroupGenerator(generatorEntries)
	aiManager := ai.NewManager(embedder, generator, ai.ManagerConfig{})

	an := analyzer.New(cfg.Chunking, cfg.Parallel)

	b := broker.New(sqlDB, broker.Config{
		MaxRetries:               cfg.Broker.MaxRetries,
		TaskTimeLimitSeconds:     cfg.Broker.TaskTimeLimitSeconds,
		TaskSoftTimeLimitSeconds: cfg.Broker.TaskSoftTimeLimitSeconds,
		WorkerPrefetchMultiplier: cfg.Broker.WorkerPrefetchMultiplier,
	})
	if cfg.Parallel.MaxWorkers > 0 {
		b.ConfigureQueue(executor.SegmentQueue, cfg.Parallel.MaxWorkers)
	}
	b.ConfigureQueue(engine.IngestQueue, 4)

	exec := executor.New(b, aiManager, vstore, state)
	incr := incremental.New(state, vstore, aiManager, cfg.Incremental.ForceReprocessThreshold)
	retr := retriever.New(vstore, aiManager, cfg.Retrieval)

	eng := engine.New(state, vstore, fstore, an, aiManager, exec, incr, retr, b)
	eng.RegisterHandlers()

	return &app{cfg: cfg, db: sqlDB, engine: eng, broker: b, state: state}, nil
}

// buildProviderEntries constructs cfg.Provider plus every name in
// cfg.FallbackProviders as named ai.IProvider instances, each decoding the
// same EmbeddingConfig blob, so ai.NewGroupEmbedder/ai.NewGroupGenerator can
// fail over between them in order when the primary provider errors.
func buildProviderEntries(cfg config.EmbeddingConfig) ([]ai.EmbedderEntry, []ai.GeneratorEntry, error) {
	names := append([]string{cfg.Provider}, cfg.FallbackProviders...)
	embedders := make([]ai.EmbedderEntry, 0, len(names))
	generators := make([]ai.GeneratorEntry, 0, len(names))
	for _, name := range names {
		provider, err := ai.NewProvider(name, cfg)
		if err != nil {
			return nil, nil, fmt.Errorf("init ai provider %s: %w", name, err)
		}
		embedders = append(embedders, ai.EmbedderEntry{Name: name, Embedder: ai.NewEmbedder(provider, cfg.Model)})
		generators = append(generators, ai.GeneratorEntry{Name: name, Generator: ai.NewGenerator(provider, cfg.Model)})
	}
	return embedders, generators, nil
}

func (a *app) Close() error {
	return a.db.Close()
}
