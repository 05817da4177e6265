package llm

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"

	"github.com/ppiankov/stmtgraph/internal/cache"
	"github.com/ppiankov/stmtgraph/internal/model"
)

type scriptedProvider struct {
	mu        sync.Mutex
	responses []string
	errs      []error
	calls     []CompletionRequest
	delay     time.Duration
}

func (p *scriptedProvider) Name() string { return "scripted" }

func (p *scriptedProvider) IsAvailable(ctx context.Context) bool { return true }

func (p *scriptedProvider) Complete(ctx context.Context, req CompletionRequest) (*CompletionResponse, error) {
	p.mu.Lock()
	idx := len(p.calls)
	p.calls = append(p.calls, req)
	p.mu.Unlock()

	if p.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(p.delay):
		}
	}

	if idx < len(p.errs) && p.errs[idx] != nil {
		return nil, p.errs[idx]
	}
	text := ""
	if idx < len(p.responses) {
		text = p.responses[idx]
	}
	return &CompletionResponse{Text: text}, nil
}

type countingLimiter struct {
	keys []string
}

func (l *countingLimiter) Wait(ctx context.Context, key string) error {
	l.keys = append(l.keys, key)
	return nil
}

func TestGateway_Complete_Success(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"hello"}}
	limiter := &countingLimiter{}
	g := NewGateway(provider, WithRateLimiter(limiter))

	text, err := g.Complete(context.Background(), Request{System: "s", User: "u", MaxTokens: 16000})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "hello" {
		t.Errorf("Expected hello, got %q", text)
	}
	if len(provider.calls) != 1 || provider.calls[0].MaxTokens != 16000 {
		t.Errorf("Expected one call with max tokens 16000, got %+v", provider.calls)
	}
	if len(limiter.keys) != 1 || limiter.keys[0] != "scripted" {
		t.Errorf("Expected limiter keyed by provider name, got %v", limiter.keys)
	}
}

func TestGateway_Complete_FailureIsWrapped(t *testing.T) {
	provider := &scriptedProvider{errs: []error{errors.New("boom")}}
	g := NewGateway(provider)

	_, err := g.Complete(context.Background(), Request{User: "u"})
	if err == nil {
		t.Fatal("Expected error, got nil")
	}
	if !errors.Is(err, model.ErrLLMCallFailed) {
		t.Errorf("Expected ErrLLMCallFailed, got %v", err)
	}
	if len(provider.calls) != 1 {
		t.Errorf("Expected no retry by default, got %d calls", len(provider.calls))
	}
}

func TestGateway_Complete_Retry(t *testing.T) {
	provider := &scriptedProvider{
		errs:      []error{errors.New("transient"), nil},
		responses: []string{"", "second"},
	}
	g := NewGateway(provider, WithRetry(RetryPolicy{MaxAttempts: 3, BaseDelay: time.Millisecond}))
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }

	text, err := g.Complete(context.Background(), Request{User: "u"})
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if text != "second" {
		t.Errorf("Expected second, got %q", text)
	}
	if len(provider.calls) != 2 {
		t.Errorf("Expected 2 calls, got %d", len(provider.calls))
	}
}

func TestGateway_Complete_Timeout(t *testing.T) {
	provider := &scriptedProvider{delay: time.Second, responses: []string{"late"}}
	g := NewGateway(provider, WithTimeout(20*time.Millisecond))

	start := time.Now()
	_, err := g.Complete(context.Background(), Request{User: "u"})
	if err == nil {
		t.Fatal("Expected timeout error, got nil")
	}
	if !errors.Is(err, model.ErrLLMCallFailed) {
		t.Errorf("Expected ErrLLMCallFailed, got %v", err)
	}
	if time.Since(start) > 500*time.Millisecond {
		t.Errorf("Expected call to be cut off by the timeout, took %v", time.Since(start))
	}
}

func TestGateway_Complete_Cache(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"cached", "fresh"}}
	g := NewGateway(provider, WithCache(cache.NewMemoryCache(time.Minute, time.Minute), time.Minute))

	req := Request{System: "s", User: "u", MaxTokens: 10}
	first, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	second, err := g.Complete(context.Background(), req)
	if err != nil {
		t.Fatalf("Complete failed: %v", err)
	}
	if first != "cached" || second != "cached" {
		t.Errorf("Expected cached response twice, got %q and %q", first, second)
	}
	if len(provider.calls) != 1 {
		t.Errorf("Expected one provider call, got %d", len(provider.calls))
	}
}

func TestTruncate_RuneBoundary(t *testing.T) {
	tests := []struct {
		in   string
		n    int
		want string
	}{
		{"hello", 10, "hello"},
		{"hello", 3, "hel..."},
		{"héllo", 2, "h..."}, // é is 2 bytes starting at index 1
		{"日本語", 4, "日..."},
		{"日本語", 2, "..."},
	}

	for _, tt := range tests {
		got := truncate(tt.in, tt.n)
		if got != tt.want {
			t.Errorf("truncate(%q, %d): expected %q, got %q", tt.in, tt.n, tt.want, got)
		}
		if !utf8.ValidString(got) {
			t.Errorf("truncate(%q, %d) produced invalid UTF-8 %q", tt.in, tt.n, got)
		}
	}
}

// panickingTracer fails every span start
type panickingTracer struct {
	noop.Tracer
}

func (panickingTracer) Start(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, trace.Span) {
	panic("exporter misconfigured")
}

func TestGateway_Complete_TracingFailureDegrades(t *testing.T) {
	provider := &scriptedProvider{responses: []string{"still works"}}
	g := NewGateway(provider)
	g.tracer = panickingTracer{}

	text, err := g.Complete(context.Background(), Request{User: "u", Operation: "match", Batch: &BatchInfo{Index: 1, Size: 2, Total: 3}})
	if err != nil {
		t.Fatalf("Expected untraced call to succeed, got %v", err)
	}
	if text != "still works" {
		t.Errorf("Expected provider text, got %q", text)
	}
	if len(provider.calls) != 1 {
		t.Errorf("Expected 1 provider call, got %d", len(provider.calls))
	}
}
