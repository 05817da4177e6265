package llm

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"
	"unicode/utf8"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/ppiankov/stmtgraph/internal/cache"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
	"github.com/ppiankov/stmtgraph/internal/observability"
	"github.com/ppiankov/stmtgraph/internal/util"
)

// DefaultTimeout bounds one gateway call including retries
const DefaultTimeout = 60 * time.Second

const maxSpanOutput = 2048

// RateLimiter gates outbound calls per key
type RateLimiter interface {
	Wait(ctx context.Context, key string) error
}

// Completer is the single-turn call the extraction and matching stages depend on
type Completer interface {
	Complete(ctx context.Context, req Request) (string, error)
}

// BatchInfo describes the batch a call belongs to. It only feeds tracing.
type BatchInfo struct {
	Index int
	Size  int
	Total int
}

// Request is one system prompt plus one user message
type Request struct {
	System    string
	User      string
	MaxTokens int

	// Timeout overrides the gateway timeout when positive
	Timeout time.Duration

	// Operation names the calling stage (extract, match, generate)
	Operation string
	Batch     *BatchInfo
}

// RetryPolicy bounds retries of a failed call. MaxAttempts 1 disables retry.
type RetryPolicy struct {
	MaxAttempts int
	BaseDelay   time.Duration
}

// Gateway sends completions to a provider with timeout, rate limiting,
// optional retry, optional response caching and tracing.
type Gateway struct {
	provider Provider
	log      *logger.Logger
	limiter  RateLimiter
	cache    cache.Cache
	cacheTTL time.Duration
	timeout  time.Duration
	retry    RetryPolicy
	tracer   trace.Tracer

	sleep func(ctx context.Context, d time.Duration) error
}

// GatewayOption configures a Gateway
type GatewayOption func(*Gateway)

// WithLogger sets the gateway logger
func WithLogger(log *logger.Logger) GatewayOption {
	return func(g *Gateway) {
		if log != nil {
			g.log = log
		}
	}
}

// WithRateLimiter gates every attempt on limiter, keyed by provider name
func WithRateLimiter(limiter RateLimiter) GatewayOption {
	return func(g *Gateway) { g.limiter = limiter }
}

// WithCache caches successful responses for ttl
func WithCache(c cache.Cache, ttl time.Duration) GatewayOption {
	return func(g *Gateway) {
		g.cache = c
		g.cacheTTL = ttl
	}
}

// WithTimeout sets the default per-call timeout
func WithTimeout(d time.Duration) GatewayOption {
	return func(g *Gateway) {
		if d > 0 {
			g.timeout = d
		}
	}
}

// WithRetry enables bounded retry with exponential backoff
func WithRetry(policy RetryPolicy) GatewayOption {
	return func(g *Gateway) {
		if policy.MaxAttempts < 1 {
			policy.MaxAttempts = 1
		}
		g.retry = policy
	}
}

// NewGateway wraps a provider
func NewGateway(provider Provider, opts ...GatewayOption) *Gateway {
	g := &Gateway{
		provider: provider,
		log:      logger.Nop(),
		timeout:  DefaultTimeout,
		retry:    RetryPolicy{MaxAttempts: 1},
		tracer:   otel.Tracer(observability.TracerName),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// NewGatewayFromConfig builds the provider and the gateway from application config
func NewGatewayFromConfig(cfg model.LLMConfig, log *logger.Logger, limiter RateLimiter, c cache.Cache, cacheTTL time.Duration) (*Gateway, error) {
	provider, err := NewProvider(ConfigFromModel(cfg))
	if err != nil {
		return nil, err
	}

	opts := []GatewayOption{
		WithLogger(log),
		WithTimeout(cfg.Timeout),
		WithRetry(RetryPolicy{MaxAttempts: cfg.Retry.MaxAttempts, BaseDelay: cfg.Retry.BaseDelay}),
	}
	if limiter != nil {
		opts = append(opts, WithRateLimiter(limiter))
	}
	if c != nil {
		opts = append(opts, WithCache(c, cacheTTL))
	}
	return NewGateway(provider, opts...), nil
}

// Provider returns the wrapped provider
func (g *Gateway) Provider() Provider {
	return g.provider
}

// Complete returns the raw text of the first content block.
// Every failure is wrapped in model.ErrLLMCallFailed.
func (g *Gateway) Complete(ctx context.Context, req Request) (string, error) {
	ctx, span := g.startSpan(ctx, req)
	defer span.End()

	timeout := g.timeout
	if req.Timeout > 0 {
		timeout = req.Timeout
	}
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	var key string
	if g.cache != nil {
		key = cache.CompletionKey(g.provider.Name(), req.System, req.User, strconv.Itoa(req.MaxTokens))
		if data, ok := g.cache.Get(key); ok {
			span.SetAttributes(attribute.Bool("llm.cache_hit", true))
			g.log.Debug("llm cache hit", "operation", req.Operation)
			return string(data), nil
		}
	}

	start := time.Now()
	var lastErr error
	for attempt := 1; attempt <= g.retry.MaxAttempts; attempt++ {
		if attempt > 1 {
			delay := util.CalculateBackoff(g.retry.BaseDelay, attempt-1)
			g.log.Warn("retrying llm call",
				"operation", req.Operation,
				"attempt", attempt,
				"delay", delay.String(),
				"error", lastErr)
			if err := g.sleep(ctx, delay); err != nil {
				break
			}
		}

		text, err := g.attempt(ctx, req)
		if err == nil {
			span.SetAttributes(
				attribute.Int("llm.attempts", attempt),
				attribute.Int("llm.response_chars", len(text)),
				attribute.String("llm.output", truncate(text, maxSpanOutput)),
			)
			g.log.Debug("llm call completed",
				"operation", req.Operation,
				"provider", g.provider.Name(),
				"duration", time.Since(start).String())
			if g.cache != nil {
				if cerr := g.cache.Set(key, []byte(text), g.cacheTTL); cerr != nil {
					g.log.Warn("failed to cache llm response", "error", cerr)
				}
			}
			return text, nil
		}
		lastErr = err

		if ctx.Err() != nil {
			break
		}
	}

	if lastErr == nil {
		lastErr = ctx.Err()
	}
	span.RecordError(lastErr)
	span.SetStatus(codes.Error, lastErr.Error())
	return "", fmt.Errorf("%w: %w", model.ErrLLMCallFailed, lastErr)
}

func (g *Gateway) attempt(ctx context.Context, req Request) (string, error) {
	if g.limiter != nil {
		if err := g.limiter.Wait(ctx, g.provider.Name()); err != nil {
			return "", fmt.Errorf("rate limit wait: %w", err)
		}
	}

	resp, err := g.provider.Complete(ctx, CompletionRequest{
		System:    req.System,
		User:      req.User,
		MaxTokens: req.MaxTokens,
	})
	if err != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return "", fmt.Errorf("timed out: %w", err)
		}
		return "", err
	}
	if resp == nil {
		return "", errors.New("empty response from provider")
	}
	return resp.Text, nil
}

// startSpan opens the call span. A tracing failure leaves the call untraced.
func (g *Gateway) startSpan(ctx context.Context, req Request) (outCtx context.Context, span trace.Span) {
	defer func() {
		if r := recover(); r != nil {
			g.log.Warn("tracing unavailable", "panic", fmt.Sprint(r))
			outCtx, span = ctx, trace.SpanFromContext(context.Background())
		}
	}()

	outCtx, span = g.tracer.Start(ctx, "llm.complete")
	attrs := []attribute.KeyValue{
		attribute.String("llm.provider", g.provider.Name()),
		attribute.String("llm.operation", req.Operation),
		attribute.Int("llm.max_tokens", req.MaxTokens),
		attribute.Int("llm.prompt_chars", len(req.System)+len(req.User)),
	}
	if req.Batch != nil {
		attrs = append(attrs,
			attribute.Int("batch.index", req.Batch.Index),
			attribute.Int("batch.size", req.Batch.Size),
			attribute.Int("batch.total", req.Batch.Total),
		)
	}
	span.SetAttributes(attrs...)
	return outCtx, span
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// truncate cuts s to at most n bytes on a rune boundary
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
