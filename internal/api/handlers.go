package api

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/ppiankov/stmtgraph/internal/graph"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
	"github.com/ppiankov/stmtgraph/internal/pipeline"
)

// Ingester runs one ingestion
type Ingester interface {
	Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResponse, error)
}

// Handler serves the HTTP endpoints
type Handler struct {
	ingester Ingester
	store    graph.Store
	log      *logger.Logger
}

// NewHandler creates the endpoint handlers
func NewHandler(ingester Ingester, store graph.Store, log *logger.Logger) *Handler {
	if log == nil {
		log = logger.Nop()
	}
	return &Handler{ingester: ingester, store: store, log: log}
}

// Health reports whether the graph store is reachable
func (h *Handler) Health(c *gin.Context) {
	if err := h.store.Ping(c.Request.Context()); err != nil {
		h.log.Warn("health check failed", "error", err)
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "unavailable", "error": err.Error()})
		return
	}
	RespondOK(c, gin.H{"status": "ok"})
}

// Ingest runs the pipeline on the posted transcript
func (h *Handler) Ingest(c *gin.Context) {
	var req model.IngestRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		RespondError(c, http.StatusBadRequest, "invalid_request", err)
		return
	}

	resp, err := h.ingester.Ingest(c.Request.Context(), req)
	if err != nil {
		_ = c.Error(err)
		switch {
		case errors.Is(err, pipeline.ErrEmptyText):
			RespondError(c, http.StatusBadRequest, "empty_text", err)
		case errors.Is(err, model.ErrLLMCallFailed):
			RespondError(c, http.StatusBadGateway, "llm_failed", err)
		default:
			RespondError(c, http.StatusInternalServerError, "ingest_failed", err)
		}
		return
	}
	RespondOK(c, resp)
}

// ListTopics returns every topic
func (h *Handler) ListTopics(c *gin.Context) {
	ctx := c.Request.Context()
	var topics []model.Topic
	err := h.store.View(ctx, func(tx graph.Tx) error {
		var err error
		topics, err = tx.ListTopics(ctx)
		return err
	})
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}
	if topics == nil {
		topics = []model.Topic{}
	}
	RespondOK(c, gin.H{"topics": topics, "count": len(topics)})
}

// TopicStatements returns a topic with the statements filed under it
func (h *Handler) TopicStatements(c *gin.Context) {
	ctx := c.Request.Context()
	id := c.Param("uuid")

	var (
		topic      *model.Topic
		statements []model.Statement
	)
	err := h.store.View(ctx, func(tx graph.Tx) error {
		var err error
		if topic, err = tx.TopicByUUID(ctx, id); err != nil {
			return err
		}
		statements, err = tx.StatementsForTopic(ctx, id)
		return err
	})
	if errors.Is(err, graph.ErrNotFound) {
		RespondError(c, http.StatusNotFound, "topic_not_found", err)
		return
	}
	if err != nil {
		_ = c.Error(err)
		RespondError(c, http.StatusInternalServerError, "store_failed", err)
		return
	}

	out := make([]model.StatementWithTopics, 0, len(statements))
	for _, s := range statements {
		out = append(out, model.NewStatementWithTopics(s))
	}
	RespondOK(c, gin.H{"topic": topic, "statements": out})
}
