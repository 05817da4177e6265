package match

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/google/uuid"

	"github.com/ppiankov/stmtgraph/internal/extract"
	"github.com/ppiankov/stmtgraph/internal/llm"
	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

// Defaults of the matching stage
const (
	DefaultBatchSize = 30
	DefaultMaxTokens = 16000
)

// Stages a batch can fail in
const (
	StagePrompt = "prompt"
	StageLLM    = "llm"
	StageParse  = "parse"
)

// Options tunes a single Match call. Zero values take the matcher defaults.
type Options struct {
	Intent        string
	BatchSize     int
	FailurePolicy string
}

// BatchFailure records a batch, or the part of one, that produced no matches
type BatchFailure struct {
	Index int // zero-based
	Size  int // statements affected
	Stage string
	Err   error
}

// Report summarises a Match call
type Report struct {
	TotalBatches  int
	FailedBatches []BatchFailure
}

// Failed reports whether any batch failed
func (r Report) Failed() bool {
	return len(r.FailedBatches) > 0
}

// Matcher assigns topics to statements in fixed-size batches, one LLM call
// per batch, strictly in order.
type Matcher struct {
	llm       llm.Completer
	parser    *extract.ResponseExtractor
	log       *logger.Logger
	maxTokens int
	defaults  Options
}

// NewMatcher creates a matcher from the matching config
func NewMatcher(completer llm.Completer, log *logger.Logger, cfg model.MatchingConfig) *Matcher {
	if log == nil {
		log = logger.Nop()
	}
	maxTokens := cfg.MatchMaxTokens
	if maxTokens <= 0 {
		maxTokens = DefaultMaxTokens
	}
	return &Matcher{
		llm:       completer,
		parser:    extract.NewResponseExtractor(log),
		log:       log,
		maxTokens: maxTokens,
		defaults: Options{
			BatchSize:     cfg.BatchSize,
			FailurePolicy: cfg.FailurePolicy,
		},
	}
}

// Match returns the statements with topics attached. It never fails: a failed
// batch is logged and handled according to the failure policy.
func (m *Matcher) Match(ctx context.Context, statements []model.Statement, topics []model.CatalogEntry, opts Options) []model.Statement {
	out, _ := m.MatchWithReport(ctx, statements, topics, opts)
	return out
}

// MatchWithReport is Match plus a per-batch failure report
func (m *Matcher) MatchWithReport(ctx context.Context, statements []model.Statement, topics []model.CatalogEntry, opts Options) ([]model.Statement, Report) {
	opts = m.resolve(opts)

	if len(statements) == 0 {
		m.log.Warn("no statements provided for topic matching")
		return []model.Statement{}, Report{}
	}

	if len(topics) == 0 {
		m.log.Warn("no topics available, using open-ended topic discovery")
	}
	catalog := FormatCatalog(topics)

	batches := partition(statements, opts.BatchSize)
	report := Report{TotalBatches: len(batches)}
	m.log.Info("matching statements to topics",
		"statements", len(statements),
		"total_batches", len(batches),
		"batch_size", opts.BatchSize)

	results := make([]model.Statement, 0, len(statements))
	for i, batch := range batches {
		log := m.log.With("batch_index", i, "total_batches", len(batches), "batch_size", len(batch))

		matched, found, stage, err := m.matchBatch(ctx, batch, catalog, opts.Intent, llm.BatchInfo{
			Index: i,
			Size:  len(batch),
			Total: len(batches),
		})
		if err != nil {
			report.FailedBatches = append(report.FailedBatches, BatchFailure{Index: i, Size: len(batch), Stage: stage, Err: err})
			if opts.FailurePolicy == model.FailurePolicyPassThrough {
				log.Error("batch failed, passing statements through without topics", "stage", stage, "error", err)
				results = append(results, withoutTopics(batch)...)
			} else {
				log.Error("batch failed, skipping its statements", "stage", stage, "error", err)
			}
			continue
		}

		missing := 0
		for j := range batch {
			if found[j] {
				results = append(results, matched[j])
				continue
			}
			missing++
			if opts.FailurePolicy == model.FailurePolicyPassThrough {
				results = append(results, withoutTopics(batch[j:j+1])...)
			}
		}
		if missing > 0 {
			err := fmt.Errorf("%w: %d of %d statements missing from batch response", model.ErrResponseUnparseable, missing, len(batch))
			report.FailedBatches = append(report.FailedBatches, BatchFailure{Index: i, Size: missing, Stage: StageParse, Err: err})
			log.Error("batch response incomplete", "stage", StageParse, "missing", missing, "policy", opts.FailurePolicy)
		}

		log.Info("batch matched", "matched", len(batch)-missing)
	}

	m.log.Info("finished topic matching",
		"matched", len(results),
		"failed_batches", len(report.FailedBatches))
	return results, report
}

// matchBatch returns one slot per batch input; found marks the slots the
// response answered.
func (m *Matcher) matchBatch(ctx context.Context, batch []model.Statement, catalog, intent string, info llm.BatchInfo) ([]model.Statement, []bool, string, error) {
	prompt, err := BuildMatchPrompt(batch, catalog, intent)
	if err != nil {
		return nil, nil, StagePrompt, err
	}

	text, err := m.llm.Complete(ctx, llm.Request{
		System:    prompt,
		User:      MatchUserMessage,
		MaxTokens: m.maxTokens,
		Operation: "match",
		Batch:     &info,
	})
	if err != nil {
		return nil, nil, StageLLM, err
	}

	env := m.parser.Extract(text)
	if env.Fallback {
		return nil, nil, StageParse, fmt.Errorf("%w: no JSON in batch response", model.ErrResponseUnparseable)
	}

	parsed, skipped := env.Statements()
	if skipped > 0 {
		m.log.Warn("skipped malformed statements in batch response", "batch_index", info.Index, "count", skipped)
	}

	matched, found, extra := alignToBatch(batch, parsed)
	if extra > 0 {
		m.log.Warn("dropped statements not in the batch", "batch_index", info.Index, "count", extra)
	}
	if !slices.Contains(found, true) {
		return nil, nil, StageParse, fmt.Errorf("%w: batch response has none of the %d statements", model.ErrResponseUnparseable, len(batch))
	}

	for i := range matched {
		if !found[i] {
			continue
		}
		if strings.TrimSpace(matched[i].ID) == "" {
			matched[i].ID = uuid.NewString()
		}
		applySubjectFallback(&matched[i])
	}
	return matched, found, "", nil
}

// alignToBatch ties response records to batch inputs: by id, or by position
// when a record has no id. Records matching no unclaimed input are dropped
// and counted in extra.
func alignToBatch(batch, parsed []model.Statement) (matched []model.Statement, found []bool, extra int) {
	matched = make([]model.Statement, len(batch))
	found = make([]bool, len(batch))

	byID := make(map[string]int, len(batch))
	for i, s := range batch {
		if id := strings.TrimSpace(s.ID); id != "" {
			if _, dup := byID[id]; !dup {
				byID[id] = i
			}
		}
	}

	for pos, rec := range parsed {
		slot := -1
		if id := strings.TrimSpace(rec.ID); id != "" {
			if i, ok := byID[id]; ok {
				slot = i
			}
		} else if pos < len(batch) {
			slot = pos
		}
		if slot < 0 || found[slot] {
			extra++
			continue
		}
		rec.ID = batch[slot].ID
		matched[slot] = rec
		found[slot] = true
	}
	return matched, found, extra
}

// applySubjectFallback gives a statement without topics one topic named after
// its subject. A blank subject leaves the topics empty.
func applySubjectFallback(s *model.Statement) {
	if s.HasNamedTopics() {
		return
	}
	s.Topics = []model.TopicAssignment{}
	if fallback, ok := s.SubjectFallback(); ok {
		s.Topics = append(s.Topics, fallback)
	}
}

func (m *Matcher) resolve(opts Options) Options {
	if opts.BatchSize <= 0 {
		opts.BatchSize = m.defaults.BatchSize
	}
	if opts.BatchSize <= 0 {
		opts.BatchSize = DefaultBatchSize
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = m.defaults.FailurePolicy
	}
	if opts.FailurePolicy == "" {
		opts.FailurePolicy = model.FailurePolicyDrop
	}
	return opts
}

// partition splits statements into contiguous batches of size, the last one possibly shorter
func partition(statements []model.Statement, size int) [][]model.Statement {
	batches := make([][]model.Statement, 0, (len(statements)+size-1)/size)
	for i := 0; i < len(statements); i += size {
		end := i + size
		if end > len(statements) {
			end = len(statements)
		}
		batches = append(batches, statements[i:end])
	}
	return batches
}

func withoutTopics(batch []model.Statement) []model.Statement {
	out := make([]model.Statement, len(batch))
	for i, s := range batch {
		s.Topics = []model.TopicAssignment{}
		out[i] = s
	}
	return out
}
