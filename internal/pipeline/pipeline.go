package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/stmtgraph/internal/extract"
	"github.com/ppiankov/stmtgraph/internal/graph"
	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/match"
	"github.com/ppiankov/stmtgraph/internal/model"
	"github.com/ppiankov/stmtgraph/internal/observability"
	"github.com/ppiankov/stmtgraph/internal/reconcile"
)

// Response status and message of a completed ingestion
const (
	StatusSuccess  = "success"
	MessageSuccess = "Data ingested successfully"
)

// ErrEmptyText is returned for a request without transcript text
var ErrEmptyText = errors.New("transcript text is empty")

// StatementEmbedder attaches vectors to statements
type StatementEmbedder interface {
	EmbedStatements(ctx context.Context, statements []model.Statement) error
}

// Pipeline orchestrates one ingestion: extraction, topic generation for an
// empty catalog, batch matching, persistence and optional embeddings.
type Pipeline struct {
	extractor  *extract.StatementExtractor
	generator  *match.Generator
	matcher    *match.Matcher
	reconciler *reconcile.Reconciler
	store      graph.Store
	embedder   StatementEmbedder // nil when embeddings are disabled
	log        *logger.Logger
	tracer     trace.Tracer
	now        func() time.Time
}

// Option configures a Pipeline
type Option func(*Pipeline)

// WithEmbedder enables statement embeddings
func WithEmbedder(e StatementEmbedder) Option {
	return func(p *Pipeline) { p.embedder = e }
}

// WithReconciler replaces the default reconciler over the store
func WithReconciler(r *reconcile.Reconciler) Option {
	return func(p *Pipeline) { p.reconciler = r }
}

// WithClock sets the time source of response timestamps
func WithClock(now func() time.Time) Option {
	return func(p *Pipeline) { p.now = now }
}

// NewPipeline creates a pipeline that talks to the LLM through completer and
// persists into store
func NewPipeline(completer llm.Completer, store graph.Store, cfg model.MatchingConfig, log *logger.Logger, opts ...Option) *Pipeline {
	if log == nil {
		log = logger.Nop()
	}
	p := &Pipeline{
		extractor: extract.NewStatementExtractor(completer, log, cfg.ExtractMaxTokens),
		generator: match.NewGenerator(completer, log, cfg.GenerateMaxTokens),
		matcher:   match.NewMatcher(completer, log, cfg),
		store:     store,
		log:       log,
		tracer:    otel.Tracer(observability.TracerName),
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.reconciler == nil {
		p.reconciler = reconcile.New(store, log)
	}
	return p
}

// Reconciler exposes the topic reconciler for topic maintenance commands
func (p *Pipeline) Reconciler() *reconcile.Reconciler {
	return p.reconciler
}

// ExtractStatements asks the LLM for the statements of a transcript.
// Gateway failures are returned.
func (p *Pipeline) ExtractStatements(ctx context.Context, transcript, intent string) ([]model.Statement, error) {
	return p.extractor.Extract(ctx, transcript, intent)
}

// MatchTopics assigns topics to statements in batches. It never fails; the
// report lists the batches that produced nothing.
func (p *Pipeline) MatchTopics(ctx context.Context, statements []model.Statement, topics []model.CatalogEntry, intent string, batchSize int) ([]model.Statement, match.Report) {
	return p.matcher.MatchWithReport(ctx, statements, topics, match.Options{Intent: intent, BatchSize: batchSize})
}

// ReconcileAndPersist stores the statements and their topic edges
func (p *Pipeline) ReconcileAndPersist(ctx context.Context, statements []model.Statement) ([]model.Statement, reconcile.Report) {
	return p.reconciler.ReconcileAndPersist(ctx, statements)
}

// Ingest runs the whole ingestion of one transcript. Only a failed
// extraction or an unreadable topic catalog fails the call; every other
// problem becomes a warning on the response.
func (p *Pipeline) Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResponse, error) {
	ctx, span := p.tracer.Start(ctx, "pipeline.ingest", trace.WithAttributes(
		attribute.Int("transcript.chars", len(req.Text)),
		attribute.Int("transcript.id", req.Metadata.TranscriptionID),
	))
	defer span.End()

	resp, err := p.ingest(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(
		attribute.Int("statements.persisted", resp.Data.StatementCount),
		attribute.Int("warnings", len(resp.Data.Warnings)),
	)
	return resp, nil
}

func (p *Pipeline) ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResponse, error) {
	if strings.TrimSpace(req.Text) == "" {
		return nil, ErrEmptyText
	}
	log := p.log.With("transcription_id", req.Metadata.TranscriptionID)
	var warnings []string

	// 1. Extract statements
	statements, err := p.ExtractStatements(ctx, req.Text, req.Intent)
	if err != nil {
		return nil, err
	}
	log.Info("extracted statements", "count", len(statements))

	// 2. Load the topic catalog, generating one when the graph has none
	catalog, err := p.reconciler.Catalog(ctx)
	if err != nil {
		return nil, fmt.Errorf("load topic catalog: %w", err)
	}
	if len(catalog) == 0 && len(statements) > 0 {
		var generated []string
		catalog, generated = p.generateCatalog(ctx, statements, req.Intent)
		warnings = append(warnings, generated...)
	}

	// 3. Match statements to topics
	matched, matchReport := p.MatchTopics(ctx, statements, catalog, req.Intent, 0)
	for _, f := range matchReport.FailedBatches {
		warnings = append(warnings, fmt.Sprintf("topic matching batch %d of %d (%d statements) failed at %s stage: %v",
			f.Index+1, matchReport.TotalBatches, f.Size, f.Stage, f.Err))
	}

	// 4. Embed statement objects before persistence
	if p.embedder != nil && len(matched) > 0 {
		if err := p.embedder.EmbedStatements(ctx, matched); err != nil {
			log.Warn("embedding failed, continuing without vectors", "stage", "embed", "error", err)
			warnings = append(warnings, fmt.Sprintf("embeddings skipped: %v", err))
		}
	}

	// 5. Persist statements and topic edges
	persisted, persistReport := p.ReconcileAndPersist(ctx, matched)
	warnings = append(warnings, persistReport.Warnings()...)
	warnings = append(warnings, p.storeEmbeddings(ctx, persisted)...)

	// 6. Assemble the response
	out := make([]model.StatementWithTopics, 0, len(persisted))
	for _, s := range persisted {
		out = append(out, model.NewStatementWithTopics(s))
	}

	log.Info("ingestion complete",
		"extracted", len(statements),
		"matched", len(matched),
		"persisted", len(persisted),
		"warnings", len(warnings))

	return &model.IngestResponse{
		Status:  StatusSuccess,
		Message: MessageSuccess,
		Data: model.IngestData{
			OriginalRequestMetadata: req.Metadata,
			StatementCount:          len(persisted),
			Timestamp:               p.now().UTC().Format(time.RFC3339),
			Warnings:                warnings,
		},
		TopicMatches: model.TopicMatchingResult{Statements: out},
	}, nil
}

// generateCatalog proposes topics for the statements and creates them
func (p *Pipeline) generateCatalog(ctx context.Context, statements []model.Statement, intent string) ([]model.CatalogEntry, []string) {
	p.log.Info("no topics in graph, generating topics from statements")
	generated := p.generator.Generate(ctx, statements, intent)

	var warnings []string
	catalog := make([]model.CatalogEntry, 0, len(generated))
	for _, g := range generated {
		topic, err := p.reconciler.EnsureTopic(ctx, g.Label, g.Description)
		if err != nil {
			p.log.Warn("failed to create generated topic", "label", g.Label, "error", err)
			warnings = append(warnings, fmt.Sprintf("generated topic %q not created: %v", g.Label, err))
			continue
		}
		catalog = append(catalog, topic.CatalogEntry())
	}
	return catalog, warnings
}

func (p *Pipeline) storeEmbeddings(ctx context.Context, statements []model.Statement) []string {
	var warnings []string
	for _, s := range statements {
		if len(s.Embedding) == 0 {
			continue
		}
		err := p.store.Update(ctx, func(tx graph.Tx) error {
			return tx.SetEmbedding(ctx, s.UUID, s.Embedding)
		})
		if err != nil {
			p.log.Warn("failed to store embedding", "statement_id", s.ID, "error", err)
			warnings = append(warnings, fmt.Sprintf("embedding of statement %s not stored: %v", s.ID, err))
		}
	}
	return warnings
}
