package match

import (
	"context"
	"strings"
	"testing"

	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/model"
)

func TestGenerate(t *testing.T) {
	fake := &scriptedCompleter{replies: []func(llm.Request) (string, error){
		func(llm.Request) (string, error) {
			return "```json\n" + `{"topics": [
				{"id": "topic_1", "label": "Container Orchestration", "distinctive_terms": ["kubernetes", "pods"], "description": "Running containers at scale"},
				{"id": 2, "label": "Rust", "distinctive_terms": ["borrow checker"], "description": "borrow checker"},
				{"id": "topic_3", "label": "  "}
			]}` + "\n```", nil
		},
	}}
	g := NewGenerator(fake, nil, 0)

	topics := g.Generate(context.Background(), dummyStatements(3), "")
	if len(fake.requests) != 1 {
		t.Fatalf("Expected 1 LLM call, got %d", len(fake.requests))
	}
	req := fake.requests[0]
	if req.MaxTokens != 4000 {
		t.Errorf("Expected max tokens 4000, got %d", req.MaxTokens)
	}
	if !strings.HasPrefix(req.User, "Generate topics for these statements:\n\n") {
		t.Errorf("Unexpected user message: %q", req.User)
	}

	if len(topics) != 2 {
		t.Fatalf("Expected 2 topics, got %d", len(topics))
	}
	first := topics[0]
	if first.ID != "topic_1" || first.Label != "Container Orchestration" {
		t.Errorf("Unexpected first topic: %+v", first)
	}
	if len(first.Tags) != 3 || first.Tags[2] != "Running containers at scale" {
		t.Errorf("Expected description appended as a tag, got %v", first.Tags)
	}
	second := topics[1]
	if second.ID != "2" {
		t.Errorf("Expected numeric id as string, got %q", second.ID)
	}
	if len(second.Tags) != 1 {
		t.Errorf("Expected duplicate description not to be appended, got %v", second.Tags)
	}
}

func TestGenerate_Failures(t *testing.T) {
	tests := []struct {
		name  string
		reply func(llm.Request) (string, error)
	}{
		{name: "gateway error", reply: func(llm.Request) (string, error) { return "", model.ErrLLMCallFailed }},
		{name: "no json", reply: func(llm.Request) (string, error) { return "no idea", nil }},
		{name: "no topics key", reply: func(llm.Request) (string, error) { return `{"labels": []}`, nil }},
		{name: "empty topics", reply: func(llm.Request) (string, error) { return `{"topics": []}`, nil }},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fake := &scriptedCompleter{replies: []func(llm.Request) (string, error){tt.reply}}
			g := NewGenerator(fake, nil, 0)

			topics := g.Generate(context.Background(), dummyStatements(1), "")
			if topics == nil || len(topics) != 0 {
				t.Errorf("Expected empty non-nil list, got %v", topics)
			}
		})
	}
}

func TestGenerate_NoStatements(t *testing.T) {
	fake := &scriptedCompleter{}
	g := NewGenerator(fake, nil, 0)

	if topics := g.Generate(context.Background(), nil, ""); len(topics) != 0 {
		t.Errorf("Expected no topics, got %v", topics)
	}
	if len(fake.requests) != 0 {
		t.Errorf("Expected no LLM call, got %d", len(fake.requests))
	}
}

func TestBuildGeneratePrompt_Intent(t *testing.T) {
	if !strings.Contains(BuildGeneratePrompt("compliance"), "IMPORTANT INTENT GUIDANCE: compliance") {
		t.Error("Expected intent guidance in prompt")
	}
}
