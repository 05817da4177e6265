package cli

import (
	"context"
	"errors"
	"fmt"

	"github.com/ppiankov/stmtgraph/internal/cache"
	"github.com/ppiankov/stmtgraph/internal/embed"
	"github.com/ppiankov/stmtgraph/internal/graph"
	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
	"github.com/ppiankov/stmtgraph/internal/observability"
	"github.com/ppiankov/stmtgraph/internal/pipeline"
	"github.com/ppiankov/stmtgraph/internal/reconcile"
	"github.com/ppiankov/stmtgraph/internal/worker"
)

// app holds the long-lived components shared by the commands
type app struct {
	cfg        *model.Config
	log        *logger.Logger
	store      graph.Store
	reconciler *reconcile.Reconciler
	pipeline   *pipeline.Pipeline // nil unless built with the LLM
	responses  *cache.LayeredCache
	shutdown   func(context.Context) error
}

// newApp wires config, logging, tracing and the graph store. withLLM also
// builds the gateway and the ingestion pipeline.
func newApp(ctx context.Context, withLLM bool) (*app, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}

	log, err := logger.New(cfg.Logging.Mode, cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("init logger: %w", err)
	}

	a := &app{
		cfg:      cfg,
		log:      log,
		shutdown: observability.InitTracing(ctx, log, cfg.Tracing, Version),
	}

	a.store, err = openStore(ctx, cfg.Graph, log)
	if err != nil {
		a.Close(ctx)
		return nil, err
	}

	topicCache := cache.NewMemoryCache(cfg.Cache.TopicTTL, 2*cfg.Cache.TopicTTL)
	a.reconciler = reconcile.New(a.store, log, reconcile.WithTopicCache(topicCache, cfg.Cache.TopicTTL))

	if !withLLM {
		return a, nil
	}

	var responses cache.Cache
	if cfg.Cache.Enabled {
		a.responses = cache.NewLayeredCache(cfg.Cache.MemoryTTL, cfg.Cache.Dir, cfg.Cache.DiskTTL)
		if removed, err := a.responses.Prune(); err != nil {
			log.Warn("failed to prune response cache", "dir", cfg.Cache.Dir, "error", err)
		} else if removed > 0 {
			log.Debug("pruned expired responses", "dir", cfg.Cache.Dir, "removed", removed)
		}
		responses = a.responses
	}
	limiter := worker.NewLimiter(cfg.LLM.RateLimit, cfg.LLM.Burst)

	gateway, err := llm.NewGatewayFromConfig(cfg.LLM, log, limiter, responses, cfg.Cache.DiskTTL)
	if err != nil {
		a.Close(ctx)
		return nil, fmt.Errorf("init LLM provider: %w", err)
	}

	opts := []pipeline.Option{pipeline.WithReconciler(a.reconciler)}
	if cfg.Embedding.Enabled {
		embedder, err := embed.New(cfg.Embedding, log)
		switch {
		case errors.Is(err, embed.ErrMissingCredentials):
			log.Warn("embeddings enabled but VOYAGE_API_KEY is not set, continuing without vectors")
		case err != nil:
			log.Warn("embedding client init failed, continuing without vectors", "error", err)
		default:
			opts = append(opts, pipeline.WithEmbedder(embedder))
		}
	}

	a.pipeline = pipeline.NewPipeline(gateway, a.store, cfg.Matching, log, opts...)
	log.Debug("pipeline ready",
		"provider", gateway.Provider().Name(),
		"graph", graphKind(cfg.Graph),
		"cache", cfg.Cache.Enabled,
		"embeddings", cfg.Embedding.Enabled)
	return a, nil
}

func openStore(ctx context.Context, cfg model.GraphConfig, log *logger.Logger) (graph.Store, error) {
	if cfg.URI == "" {
		log.Warn("no graph URI configured, using the in-memory graph (nothing is kept after exit)")
		return graph.NewMemoryStore(), nil
	}
	store, err := graph.NewNeo4jStore(ctx, cfg, log)
	if err != nil {
		return nil, fmt.Errorf("connect to graph: %w", err)
	}
	return store, nil
}

func graphKind(cfg model.GraphConfig) string {
	if cfg.URI == "" {
		return "memory"
	}
	return "neo4j"
}

// Close releases the store, flushes traces and syncs the logger
func (a *app) Close(ctx context.Context) {
	if a.responses != nil {
		stats := a.responses.Stats()
		a.log.Debug("response cache", "hits", stats.Hits, "misses", stats.Misses)
	}
	if a.store != nil {
		if err := a.store.Close(ctx); err != nil {
			a.log.Warn("failed to close graph store", "error", err)
		}
	}
	if a.shutdown != nil {
		if err := a.shutdown(ctx); err != nil {
			a.log.Warn("failed to flush traces", "error", err)
		}
	}
	a.log.Sync()
}
