package source

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestVisibleText(t *testing.T) {
	page := `<!DOCTYPE html><html><head><title> Weekly sync </title><style>p{}</style></head>
<body><script>var x = 1;</script><p>Alice:   we shipped
the release.</p><noscript>enable js</noscript><p>Bob: great</p></body></html>`

	title, text, err := VisibleText(strings.NewReader(page))
	if err != nil {
		t.Fatalf("VisibleText failed: %v", err)
	}
	if title != "Weekly sync" {
		t.Errorf("Expected title, got %q", title)
	}
	if text != "Alice: we shipped the release. Bob: great" {
		t.Errorf("Unexpected text: %q", text)
	}
}

func TestLoad_Files(t *testing.T) {
	dir := t.TempDir()
	write := func(name, content string) string {
		path := filepath.Join(dir, name)
		if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
			t.Fatal(err)
		}
		return path
	}

	tests := []struct {
		name   string
		path   string
		text   string
		intent string
	}{
		{"plain", write("talk.txt", "  Alice likes tea.\n"), "Alice likes tea.", ""},
		{"html", write("talk.html", "<html><body><p>Bob builds bridges</p></body></html>"), "Bob builds bridges", ""},
		{"request", write("req.json", `{"text":"Carol runs","intent":"hobbies","metadata":{"language":"en"}}`), "Carol runs", "hobbies"},
		{"utterances", write("utt.json", `{"utterances":[{"speaker":"A","text":"hi"},{"speaker":"B","text":"hello"}]}`), "A: hi\nB: hello", ""},
		{"sniffed", write("noext", `{"text":"sniffed json"}`), "sniffed json", ""},
	}

	loader := NewLoader(nil, nil, nil)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req, err := loader.Load(context.Background(), tt.path)
			if err != nil {
				t.Fatalf("Load failed: %v", err)
			}
			if req.Text != tt.text {
				t.Errorf("Expected text %q, got %q", tt.text, req.Text)
			}
			if req.Intent != tt.intent {
				t.Errorf("Expected intent %q, got %q", tt.intent, req.Intent)
			}
		})
	}
}

func TestLoad_Stdin(t *testing.T) {
	loader := NewLoader(nil, strings.NewReader("from stdin"), nil)
	req, err := loader.Load(context.Background(), Stdin)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if req.Text != "from stdin" {
		t.Errorf("Unexpected text: %q", req.Text)
	}
}

func TestLoad_Empty(t *testing.T) {
	loader := NewLoader(nil, strings.NewReader("   \n"), nil)
	if _, err := loader.Load(context.Background(), Stdin); !errors.Is(err, ErrEmptyTranscript) {
		t.Errorf("Expected ErrEmptyTranscript, got %v", err)
	}
}

func TestLoad_MissingFile(t *testing.T) {
	loader := NewLoader(nil, nil, nil)
	if _, err := loader.Load(context.Background(), filepath.Join(t.TempDir(), "missing.txt")); err == nil {
		t.Error("Expected error for a missing file")
	}
}

func TestLoad_URL(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		_, _ = fmt.Fprint(w, "<html><body><h1>Podcast</h1><p>Dan reviews films</p></body></html>")
	}))
	defer server.Close()

	loader := NewLoader(NewFetcher(testHTTPConfig(), nil), nil, nil)
	req, err := loader.Load(context.Background(), server.URL+"/episode")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if req.Text != "Podcast Dan reviews films" {
		t.Errorf("Unexpected text: %q", req.Text)
	}
}
