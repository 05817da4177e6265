package worker

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"sort"
	"strings"
	"time"

	"github.com/ppiankov/stmtgraph/internal/model"
)

// Ingester runs one ingestion
type Ingester interface {
	Ingest(ctx context.Context, req model.IngestRequest) (*model.IngestResponse, error)
}

// SourceLoader turns a transcript reference into a request
type SourceLoader interface {
	Load(ctx context.Context, ref string) (*model.IngestRequest, error)
}

// IngestJob loads and ingests one transcript
type IngestJob struct {
	Index    int
	Source   string
	Intent   string
	Loader   SourceLoader
	Ingester Ingester
}

// Execute runs the job
func (j *IngestJob) Execute(ctx context.Context) Result {
	start := time.Now()
	result := &IngestResult{Index: j.Index, Source: j.Source}

	req, err := j.Loader.Load(ctx, j.Source)
	if err != nil {
		result.Error = fmt.Errorf("load: %w", err)
		result.Duration = time.Since(start)
		return result
	}
	if req.Intent == "" {
		req.Intent = j.Intent
	}

	resp, err := j.Ingester.Ingest(ctx, *req)
	result.Response = resp
	result.Error = err
	result.Duration = time.Since(start)
	return result
}

// IngestResult is the outcome of one transcript
type IngestResult struct {
	Index    int
	Source   string
	Response *model.IngestResponse
	Error    error
	Duration time.Duration
}

// GetError returns the ingestion error
func (r *IngestResult) GetError() error {
	return r.Error
}

// BatchProcessor ingests several transcripts concurrently
type BatchProcessor struct {
	ingester    Ingester
	loader      SourceLoader
	concurrency int
	intent      string
}

// NewBatchProcessor creates a batch processor. intent applies to every
// transcript whose source does not carry its own.
func NewBatchProcessor(ingester Ingester, loader SourceLoader, concurrency int, intent string) *BatchProcessor {
	return &BatchProcessor{
		ingester:    ingester,
		loader:      loader,
		concurrency: concurrency,
		intent:      intent,
	}
}

// ProcessSources ingests every source and returns the results in input order
func (b *BatchProcessor) ProcessSources(ctx context.Context, sources []string) []*IngestResult {
	if len(sources) == 0 {
		return []*IngestResult{}
	}

	pool := NewPool(ctx, b.concurrency)
	pool.Start()

	for i, src := range sources {
		pool.Submit(&IngestJob{
			Index:    i,
			Source:   src,
			Intent:   b.intent,
			Loader:   b.loader,
			Ingester: b.ingester,
		})
	}

	results := pool.Wait()

	out := make([]*IngestResult, 0, len(results))
	for _, r := range results {
		out = append(out, r.(*IngestResult))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Index < out[j].Index })
	return out
}

// ProcessFile reads sources from a list file and ingests them
func (b *BatchProcessor) ProcessFile(ctx context.Context, filePath string) ([]*IngestResult, error) {
	sources, err := ReadSourcesFromFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("read sources: %w", err)
	}
	return b.ProcessSources(ctx, sources), nil
}

// ReadSourcesFromFile reads transcript references (paths or URLs), one per
// line. Blank lines and # comments are skipped; duplicates are dropped.
func ReadSourcesFromFile(filePath string) ([]string, error) {
	file, err := os.Open(filePath)
	if err != nil {
		return nil, fmt.Errorf("open file: %w", err)
	}
	defer func() { _ = file.Close() }()

	var sources []string
	seen := make(map[string]bool)

	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if !seen[line] {
			seen[line] = true
			sources = append(sources, line)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("scan file: %w", err)
	}
	return sources, nil
}
