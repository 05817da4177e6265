// Package embed computes vector embeddings of statements through an
// OpenAI-compatible embeddings endpoint (Voyage AI by default).
package embed

import (
	"context"
	"errors"
	"fmt"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

const (
	DefaultBaseURL = "https://api.voyageai.com/v1"
	DefaultModel   = "voyage-2"
)

// ErrMissingCredentials is returned when no embedding API key is configured
var ErrMissingCredentials = errors.New("embedding API key not configured")

// Embedder turns text into vectors
type Embedder struct {
	client *openai.Client
	model  openai.EmbeddingModel
	log    *logger.Logger
}

// New creates an embedder from the embedding config
func New(cfg model.EmbeddingConfig, log *logger.Logger) (*Embedder, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, ErrMissingCredentials
	}
	if log == nil {
		log = logger.Nop()
	}

	clientCfg := openai.DefaultConfig(cfg.APIKey)
	clientCfg.BaseURL = DefaultBaseURL
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	}

	m := cfg.Model
	if m == "" {
		m = DefaultModel
	}

	return &Embedder{
		client: openai.NewClientWithConfig(clientCfg),
		model:  openai.EmbeddingModel(m),
		log:    log,
	}, nil
}

// Embed returns one vector per input text, in input order
func (e *Embedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	resp, err := e.client.CreateEmbeddings(ctx, openai.EmbeddingRequestStrings{
		Input: texts,
		Model: e.model,
	})
	if err != nil {
		return nil, fmt.Errorf("create embeddings: %w", err)
	}
	if len(resp.Data) != len(texts) {
		return nil, fmt.Errorf("expected %d embeddings, got %d", len(texts), len(resp.Data))
	}

	vectors := make([][]float32, len(texts))
	for _, d := range resp.Data {
		if d.Index < 0 || d.Index >= len(texts) {
			return nil, fmt.Errorf("embedding index %d out of range", d.Index)
		}
		vectors[d.Index] = d.Embedding
	}

	e.log.Debug("embedded texts", "count", len(texts), "model", string(e.model))
	return vectors, nil
}

// EmbedStatements sets the Embedding of each statement to the vector of its object
func (e *Embedder) EmbedStatements(ctx context.Context, statements []model.Statement) error {
	texts := make([]string, len(statements))
	for i, s := range statements {
		texts[i] = s.Object
	}

	vectors, err := e.Embed(ctx, texts)
	if err != nil {
		return err
	}
	for i := range statements {
		statements[i].Embedding = vectors[i]
	}
	return nil
}
