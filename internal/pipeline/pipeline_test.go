package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/ppiankov/stmtgraph/internal/graph"
	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/model"
)

const extractResponse = `{"statements":[
{"id":"s1","subject":"John","predicate":"works at","object":"Acme Corp","context":"Employment","confidence":0.9,"source":"John works at Acme"},
{"id":"s2","subject":"Alice","predicate":"likes","object":"tea","context":"","confidence":0.8}]}`

const generateResponse = "```json\n" + `{"topics":[{"id":"topic_1","label":"Careers","distinctive_terms":["jobs"],"description":"Work and employment"}]}` + "\n```"

const matchResponse = `Here you go: [
{"id":"s1","subject":"John","predicate":"works at","object":"Acme Corp","context":"Employment","confidence":0.9,"topics":[{"name":"Careers","tags":["jobs","work"]}]},
{"id":"s2","subject":"Alice","predicate":"likes","object":"tea","context":"","confidence":0.8,"topics":[]}]`

// fakeLLM answers by operation
type fakeLLM struct {
	responses map[string]string
	errs      map[string]error
	calls     []llm.Request
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.calls = append(f.calls, req)
	if err := f.errs[req.Operation]; err != nil {
		return "", err
	}
	return f.responses[req.Operation], nil
}

func (f *fakeLLM) count(op string) int {
	n := 0
	for _, c := range f.calls {
		if c.Operation == op {
			n++
		}
	}
	return n
}

type fakeEmbedder struct {
	err error
}

func (e *fakeEmbedder) EmbedStatements(ctx context.Context, statements []model.Statement) error {
	if e.err != nil {
		return e.err
	}
	for i := range statements {
		statements[i].Embedding = []float32{float32(len(statements[i].Object))}
	}
	return nil
}

var fixedNow = func() time.Time { return time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC) }

func newTestPipeline(completer llm.Completer, store graph.Store, opts ...Option) *Pipeline {
	cfg := model.DefaultConfig().Matching
	opts = append(opts, WithClock(fixedNow))
	return NewPipeline(completer, store, cfg, nil, opts...)
}

func TestIngest_GeneratesTopicsForEmptyGraph(t *testing.T) {
	store := graph.NewMemoryStore()
	fake := &fakeLLM{responses: map[string]string{
		"extract":  extractResponse,
		"generate": generateResponse,
		"match":    matchResponse,
	}}
	p := newTestPipeline(fake, store)

	resp, err := p.Ingest(context.Background(), model.IngestRequest{
		Text:     "John works at Acme. Alice likes tea.",
		Metadata: model.TranscriptMetadata{TranscriptionID: 7, Language: "en"},
	})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if resp.Status != StatusSuccess || resp.Message != MessageSuccess {
		t.Errorf("Unexpected status: %s / %s", resp.Status, resp.Message)
	}
	if resp.Data.Timestamp != "2024-05-01T12:00:00Z" {
		t.Errorf("Unexpected timestamp: %s", resp.Data.Timestamp)
	}
	if resp.Data.OriginalRequestMetadata.TranscriptionID != 7 {
		t.Errorf("Expected request metadata to be echoed, got %+v", resp.Data.OriginalRequestMetadata)
	}
	if resp.Data.StatementCount != 2 {
		t.Fatalf("Expected 2 statements, got %d", resp.Data.StatementCount)
	}
	if len(resp.Data.Warnings) != 0 {
		t.Errorf("Expected no warnings, got %v", resp.Data.Warnings)
	}
	if fake.count("generate") != 1 || fake.count("match") != 1 {
		t.Errorf("Expected one generate and one match call, got %d and %d", fake.count("generate"), fake.count("match"))
	}

	first := resp.TopicMatches.Statements[0]
	if first.Label != "John works at Acme Corp Employment" {
		t.Errorf("Unexpected label: %q", first.Label)
	}
	if first.ID == "" || first.ID == "s1" {
		t.Errorf("Expected graph uuid as id, got %q", first.ID)
	}
	if len(first.Topics) != 1 || first.Topics[0].Name != "Careers" || len(first.Topics[0].Tags) != 2 {
		t.Errorf("Unexpected topics: %+v", first.Topics)
	}

	second := resp.TopicMatches.Statements[1]
	if len(second.Topics) != 1 || second.Topics[0].Name != "Alice" {
		t.Errorf("Expected subject fallback topic, got %+v", second.Topics)
	}

	if store.TopicCount() != 2 {
		t.Errorf("Expected topics Careers and Alice, got %d", store.TopicCount())
	}
	_ = store.View(context.Background(), func(tx graph.Tx) error {
		careers, err := tx.TopicByLabel(context.Background(), "Careers")
		if err != nil {
			t.Fatalf("Careers not created: %v", err)
		}
		if careers.Description != "Work and employment" {
			t.Errorf("Expected generated description, got %q", careers.Description)
		}
		return nil
	})

	matchPrompt := fake.calls[2].System
	if !strings.Contains(matchPrompt, "Topic: Careers (ID: ") {
		t.Errorf("Expected generated topic in the match catalog, got:\n%s", matchPrompt)
	}
}

func TestIngest_ExistingCatalogSkipsGeneration(t *testing.T) {
	store := graph.NewMemoryStore()
	fake := &fakeLLM{
		responses: map[string]string{"extract": extractResponse},
		errs:      map[string]error{"match": fmt.Errorf("%w: timeout", model.ErrLLMCallFailed)},
	}
	p := newTestPipeline(fake, store)
	if _, err := p.Reconciler().ResolveOrCreate(context.Background(), "Science"); err != nil {
		t.Fatal(err)
	}

	resp, err := p.Ingest(context.Background(), model.IngestRequest{Text: "transcript"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	if fake.count("generate") != 0 {
		t.Error("Expected no topic generation with a non-empty catalog")
	}
	if resp.Data.StatementCount != 0 {
		t.Errorf("Expected the failed batch to be dropped, got %d statements", resp.Data.StatementCount)
	}
	if len(resp.Data.Warnings) != 1 || !strings.Contains(resp.Data.Warnings[0], "failed at llm stage") {
		t.Errorf("Expected a batch warning, got %v", resp.Data.Warnings)
	}
	if resp.Status != StatusSuccess {
		t.Errorf("Expected success status, got %s", resp.Status)
	}
}

func TestIngest_ExtractionFailurePropagates(t *testing.T) {
	fake := &fakeLLM{errs: map[string]error{"extract": fmt.Errorf("%w: connection refused", model.ErrLLMCallFailed)}}
	p := newTestPipeline(fake, graph.NewMemoryStore())

	_, err := p.Ingest(context.Background(), model.IngestRequest{Text: "transcript"})
	if !errors.Is(err, model.ErrLLMCallFailed) {
		t.Errorf("Expected ErrLLMCallFailed, got %v", err)
	}
	if fake.count("match") != 0 {
		t.Error("Expected no matching after a failed extraction")
	}
}

func TestIngest_EmptyText(t *testing.T) {
	fake := &fakeLLM{}
	p := newTestPipeline(fake, graph.NewMemoryStore())

	if _, err := p.Ingest(context.Background(), model.IngestRequest{Text: "  "}); !errors.Is(err, ErrEmptyText) {
		t.Errorf("Expected ErrEmptyText, got %v", err)
	}
	if len(fake.calls) != 0 {
		t.Errorf("Expected no LLM calls, got %d", len(fake.calls))
	}
}

func TestIngest_Embeddings(t *testing.T) {
	store := graph.NewMemoryStore()
	fake := &fakeLLM{responses: map[string]string{
		"extract":  extractResponse,
		"generate": generateResponse,
		"match":    matchResponse,
	}}
	p := newTestPipeline(fake, store, WithEmbedder(&fakeEmbedder{}))

	resp, err := p.Ingest(context.Background(), model.IngestRequest{Text: "transcript"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}

	for _, s := range resp.TopicMatches.Statements {
		vec, ok := store.Embedding(s.ID)
		if !ok || len(vec) != 1 || vec[0] != float32(len(s.Object)) {
			t.Errorf("Expected embedding for %s, got %v", s.ID, vec)
		}
	}
}

func TestIngest_EmbeddingFailureIsWarning(t *testing.T) {
	fake := &fakeLLM{responses: map[string]string{
		"extract":  extractResponse,
		"generate": generateResponse,
		"match":    matchResponse,
	}}
	p := newTestPipeline(fake, graph.NewMemoryStore(), WithEmbedder(&fakeEmbedder{err: errors.New("no key")}))

	resp, err := p.Ingest(context.Background(), model.IngestRequest{Text: "transcript"})
	if err != nil {
		t.Fatalf("Ingest failed: %v", err)
	}
	if resp.Data.StatementCount != 2 {
		t.Errorf("Expected statements to persist without vectors, got %d", resp.Data.StatementCount)
	}
	if len(resp.Data.Warnings) != 1 || !strings.Contains(resp.Data.Warnings[0], "embeddings skipped") {
		t.Errorf("Expected an embedding warning, got %v", resp.Data.Warnings)
	}
}
