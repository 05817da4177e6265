// Package source loads transcripts from files, stdin or URLs into ingestion
// requests.
package source

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ppiankov/stmtgraph/internal/logger"
	"github.com/ppiankov/stmtgraph/internal/model"
)

// Stdin is the reference that reads the transcript from standard input
const Stdin = "-"

// ErrEmptyTranscript is returned when a source holds no text
var ErrEmptyTranscript = errors.New("empty transcript")

// Loader resolves a transcript reference to an ingestion request
type Loader struct {
	fetcher *Fetcher
	stdin   io.Reader
	log     *logger.Logger
}

// NewLoader creates a loader. stdin may be nil when "-" is not used.
func NewLoader(fetcher *Fetcher, stdin io.Reader, log *logger.Logger) *Loader {
	if log == nil {
		log = logger.Nop()
	}
	return &Loader{fetcher: fetcher, stdin: stdin, log: log}
}

// IsURL reports whether ref is fetched over HTTP
func IsURL(ref string) bool {
	return strings.HasPrefix(ref, "http://") || strings.HasPrefix(ref, "https://")
}

// Load reads ref and builds a request. JSON content may carry a full request
// (text, utterances, metadata); HTML is reduced to its visible text; anything
// else is taken as plain transcript text.
func (l *Loader) Load(ctx context.Context, ref string) (*model.IngestRequest, error) {
	var (
		data []byte
		kind string
		err  error
	)

	switch {
	case ref == Stdin:
		if l.stdin == nil {
			return nil, fmt.Errorf("stdin not available")
		}
		data, err = io.ReadAll(l.stdin)
		if err != nil {
			return nil, fmt.Errorf("read stdin: %w", err)
		}
		kind = sniff(data, "")
	case IsURL(ref):
		if l.fetcher == nil {
			return nil, fmt.Errorf("fetching %s: no fetcher configured", ref)
		}
		page, err := l.fetcher.Fetch(ctx, ref)
		if err != nil {
			return nil, err
		}
		data = page.Body
		kind = sniff(data, page.ContentType)
	default:
		data, err = os.ReadFile(ref)
		if err != nil {
			return nil, fmt.Errorf("read transcript: %w", err)
		}
		kind = kindFromExt(filepath.Ext(ref))
		if kind == "" {
			kind = sniff(data, "")
		}
	}

	req, err := decode(data, kind)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", ref, err)
	}
	l.log.Debug("loaded transcript", "source", ref, "kind", kind, "chars", len(req.Text))
	return req, nil
}

func kindFromExt(ext string) string {
	switch strings.ToLower(ext) {
	case ".json":
		return "json"
	case ".html", ".htm":
		return "html"
	case ".txt", ".md":
		return "text"
	}
	return ""
}

func sniff(data []byte, contentType string) string {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return "json"
	case strings.Contains(ct, "html"):
		return "html"
	case strings.HasPrefix(ct, "text/"):
		return "text"
	}

	trimmed := bytes.TrimSpace(data)
	if len(trimmed) > 0 && trimmed[0] == '{' && json.Valid(trimmed) {
		return "json"
	}
	head := strings.ToLower(string(trimmed[:min(len(trimmed), 512)]))
	if strings.HasPrefix(head, "<!doctype html") || strings.Contains(head, "<html") {
		return "html"
	}
	return "text"
}

func decode(data []byte, kind string) (*model.IngestRequest, error) {
	req := &model.IngestRequest{}

	switch kind {
	case "json":
		if err := json.Unmarshal(data, req); err != nil {
			return nil, fmt.Errorf("decode request: %w", err)
		}
		if strings.TrimSpace(req.Text) == "" {
			req.Text = joinUtterances(req.Utterances)
		}
	case "html":
		_, text, err := VisibleText(bytes.NewReader(data))
		if err != nil {
			return nil, fmt.Errorf("parse html: %w", err)
		}
		req.Text = text
	default:
		req.Text = string(data)
	}

	req.Text = strings.TrimSpace(req.Text)
	if req.Text == "" {
		return nil, ErrEmptyTranscript
	}
	return req, nil
}

func joinUtterances(utterances []model.Utterance) string {
	var b strings.Builder
	for _, u := range utterances {
		text := strings.TrimSpace(u.Text)
		if text == "" {
			continue
		}
		if u.Speaker != "" {
			b.WriteString(u.Speaker)
			b.WriteString(": ")
		}
		b.WriteString(text)
		b.WriteString("\n")
	}
	return b.String()
}
