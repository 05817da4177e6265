package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

// Parse paths, in order of attempt
const (
	PathFence    = "fence"
	PathSpan     = "span"
	PathRaw      = "raw"
	PathFallback = "fallback"
)

var (
	// First fenced block with an optional language tag
	fencePattern = regexp.MustCompile("```[\\w+-]*[ \\t]*\\r?\\n?([\\s\\S]*?)```")

	// Greedy span from the first opening to the last closing bracket
	spanPattern = regexp.MustCompile(`[\{\[][\s\S]*[\}\]]`)
)

// Envelope is the normalized result of parsing model output. Data always has a
// "statements" key mapping to a list of objects, each carrying "topics".
type Envelope struct {
	Data map[string]any

	// Path reports which strategy produced Data
	Path string

	// Fallback is true when no strategy parsed and Data holds the placeholder
	Fallback bool
}

// ResponseExtractor parses free-form LLM output into an Envelope. It never fails.
type ResponseExtractor struct {
	log *logger.Logger
}

// NewResponseExtractor creates a response extractor
func NewResponseExtractor(log *logger.Logger) *ResponseExtractor {
	if log == nil {
		log = logger.Nop()
	}
	return &ResponseExtractor{log: log}
}

// Extract tries the fenced block, then the greedy bracket span, then the whole
// text, and finally returns the placeholder envelope.
func (r *ResponseExtractor) Extract(text string) Envelope {
	if m := fencePattern.FindStringSubmatch(text); m != nil {
		data, err := parseContainer(m[1])
		if err == nil {
			return Envelope{Data: normalize(data), Path: PathFence}
		}
		r.log.Warn("found code block but could not parse JSON", "error", err)
	}

	if span := spanPattern.FindString(text); span != "" {
		data, err := parseContainer(span)
		if err == nil {
			return Envelope{Data: normalize(data), Path: PathSpan}
		}
		r.log.Warn("found JSON-like span but could not parse it", "error", err)
	}

	data, err := parseContainer(text)
	if err == nil {
		return Envelope{Data: normalize(data), Path: PathRaw}
	}
	r.log.Warn("no valid JSON in model response, using placeholder", "error", err, "response_chars", len(text))

	return Envelope{Data: placeholder(), Path: PathFallback, Fallback: true}
}

// RawStatements returns the normalized statement list
func (e Envelope) RawStatements() []any {
	list, _ := e.Data["statements"].([]any)
	return list
}

// Statements decodes the statement list. Elements that do not decode are
// skipped and counted.
func (e Envelope) Statements() ([]model.Statement, int) {
	raw := e.RawStatements()
	statements := make([]model.Statement, 0, len(raw))
	skipped := 0
	for _, item := range raw {
		var s model.Statement
		if err := decodeValue(item, &s); err != nil {
			skipped++
			continue
		}
		statements = append(statements, s)
	}
	return statements, skipped
}

// DecodeField decodes one top-level field of the envelope into out
func (e Envelope) DecodeField(key string, out any) error {
	v, ok := e.Data[key]
	if !ok {
		return fmt.Errorf("field %q not present", key)
	}
	return decodeValue(v, out)
}

func decodeValue(v any, out any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, out)
}

// parseContainer decodes s as a single JSON object or array with nothing after it
func parseContainer(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()

	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if _, err := dec.Token(); !errors.Is(err, io.EOF) {
		return nil, errors.New("unexpected data after JSON value")
	}

	switch v.(type) {
	case map[string]any, []any:
		return v, nil
	default:
		return nil, fmt.Errorf("JSON value is %T, not an object or array", v)
	}
}

// normalize wraps a bare list under "statements" and injects empty topics.
// Applying it twice yields the same envelope.
func normalize(v any) map[string]any {
	var data map[string]any
	switch t := v.(type) {
	case []any:
		data = map[string]any{"statements": t}
	case map[string]any:
		data = t
	default:
		data = map[string]any{}
	}

	list, ok := data["statements"].([]any)
	if !ok {
		list = []any{}
	}
	for _, item := range list {
		if obj, ok := item.(map[string]any); ok {
			if _, has := obj["topics"]; !has {
				obj["topics"] = []any{}
			}
		}
	}
	data["statements"] = list
	return data
}

func placeholder() map[string]any {
	return map[string]any{
		"statements": []any{
			map[string]any{
				"subject":    "User",
				"predicate":  "likes",
				"object":     "coffee",
				"context":    "morning routine",
				"confidence": 0.95,
				"source":     "conversation",
				"id":         "123",
				"topics":     []any{},
			},
		},
	}
}
