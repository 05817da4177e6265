package extract

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/model"
)

type fakeCompleter struct {
	text     string
	err      error
	requests []llm.Request
}

func (f *fakeCompleter) Complete(ctx context.Context, req llm.Request) (string, error) {
	f.requests = append(f.requests, req)
	return f.text, f.err
}

func TestStatementExtractor_Extract(t *testing.T) {
	fake := &fakeCompleter{text: "```json\n" + `{"statements": [
		{"subject": "John", "predicate": "works at", "object": "Acme Corp", "context": "Employment", "confidence": 0.9, "id": "s1", "topics": [{"name": "Work"}]},
		{"subject": "Acme Corp", "predicate": "builds", "object": "rockets", "context": "", "confidence": "0.8"}
	]}` + "\n```"}

	e := NewStatementExtractor(fake, nil, 0)
	statements, err := e.Extract(context.Background(), "John works at Acme.", "")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}

	if len(fake.requests) != 1 {
		t.Fatalf("Expected 1 LLM call, got %d", len(fake.requests))
	}
	req := fake.requests[0]
	if req.User != "Extract statements from this transcript:\n\nJohn works at Acme." {
		t.Errorf("Unexpected user message: %q", req.User)
	}
	if req.MaxTokens != 16000 {
		t.Errorf("Expected max tokens 16000, got %d", req.MaxTokens)
	}
	if strings.Contains(req.System, "IMPORTANT INTENT GUIDANCE") {
		t.Error("Expected no intent guidance without an intent")
	}

	if len(statements) != 2 {
		t.Fatalf("Expected 2 statements, got %d", len(statements))
	}
	if statements[0].Label() != "John works at Acme Corp Employment" {
		t.Errorf("Unexpected label: %s", statements[0].Label())
	}
	if statements[0].ID != "s1" {
		t.Errorf("Expected id s1, got %s", statements[0].ID)
	}
	if statements[1].ID == "" {
		t.Error("Expected a generated id for the second statement")
	}
	if statements[1].Confidence != 0.8 {
		t.Errorf("Expected confidence 0.8, got %v", statements[1].Confidence)
	}
	for _, s := range statements {
		if len(s.Topics) != 0 {
			t.Errorf("Expected topics to be cleared, got %v", s.Topics)
		}
	}
}

func TestStatementExtractor_Intent(t *testing.T) {
	fake := &fakeCompleter{text: "[]"}
	e := NewStatementExtractor(fake, nil, 0)

	statements, err := e.Extract(context.Background(), "text", "find hiring plans")
	if err != nil {
		t.Fatalf("Extract failed: %v", err)
	}
	if len(statements) != 0 {
		t.Errorf("Expected no statements, got %d", len(statements))
	}
	if !strings.Contains(fake.requests[0].System, "IMPORTANT INTENT GUIDANCE: find hiring plans") {
		t.Errorf("Expected intent in system prompt, got %q", fake.requests[0].System)
	}
}

func TestStatementExtractor_PropagatesFailure(t *testing.T) {
	fake := &fakeCompleter{err: model.ErrLLMCallFailed}
	e := NewStatementExtractor(fake, nil, 0)

	_, err := e.Extract(context.Background(), "text", "")
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, model.ErrLLMCallFailed) {
		t.Errorf("Expected ErrLLMCallFailed, got %v", err)
	}
}
