package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/ppiankov/stmtgraph/internal/model"
)

func TestApplyEnvSecrets(t *testing.T) {
	env := map[string]string{
		"ANTHROPIC_API_KEY": "sk-ant-test",
		"OPENAI_API_KEY":    "sk-openai-test",
		"VOYAGE_API_KEY":    "pa-test",
		"NEO4J_URI":         "neo4j://graph:7687",
		"NEO4J_USER":        "admin",
		"NEO4J_PASSWORD":    "secret",
	}
	getenv := func(k string) string { return env[k] }

	tests := []struct {
		name       string
		provider   string
		configured string
		wantKey    string
	}{
		{"anthropic from env", "anthropic", "", "sk-ant-test"},
		{"openai from env", "openai", "", "sk-openai-test"},
		{"config wins", "anthropic", "from-config", "from-config"},
		{"ollama has no key", "ollama", "", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := model.DefaultConfig()
			cfg.LLM.Provider = tt.provider
			cfg.LLM.APIKey = tt.configured
			applyEnvSecrets(cfg, getenv)

			if cfg.LLM.APIKey != tt.wantKey {
				t.Errorf("Expected API key %q, got %q", tt.wantKey, cfg.LLM.APIKey)
			}
			if cfg.Embedding.APIKey != "pa-test" {
				t.Errorf("Expected embedding key from VOYAGE_API_KEY, got %q", cfg.Embedding.APIKey)
			}
			if cfg.Graph.URI != "neo4j://graph:7687" {
				t.Errorf("Expected graph URI from NEO4J_URI, got %q", cfg.Graph.URI)
			}
			if cfg.Graph.User != "admin" || cfg.Graph.Password != "secret" {
				t.Errorf("Expected graph credentials from env, got %q/%q", cfg.Graph.User, cfg.Graph.Password)
			}
		})
	}
}

func TestApplyEnvSecrets_OllamaBaseURL(t *testing.T) {
	cfg := model.DefaultConfig()
	cfg.LLM.Provider = "ollama"
	cfg.LLM.BaseURL = ""
	applyEnvSecrets(cfg, func(k string) string {
		if k == "OLLAMA_BASE_URL" {
			return "http://ollama:11434"
		}
		return ""
	})

	if cfg.LLM.BaseURL != "http://ollama:11434" {
		t.Errorf("Expected base URL from OLLAMA_BASE_URL, got %q", cfg.LLM.BaseURL)
	}
}

func TestExpandHome(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	tests := []struct {
		in   string
		want string
	}{
		{"~", home},
		{"~/.stmtgraph/cache", filepath.Join(home, ".stmtgraph", "cache")},
		{"/var/cache", "/var/cache"},
		{"relative/dir", "relative/dir"},
		{"~other/dir", "~other/dir"},
	}

	for _, tt := range tests {
		if got := expandHome(tt.in); got != tt.want {
			t.Errorf("expandHome(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}
}

func TestSanitizeFilename(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"transcripts/meeting notes.txt", "meeting-notes"},
		{"https://example.com/a/b?c=d", "example.com_a_b_c=d"},
		{"-", "transcript"},
		{"call.json", "call"},
	}

	for _, tt := range tests {
		if got := sanitizeFilename(tt.in); got != tt.want {
			t.Errorf("sanitizeFilename(%q): expected %q, got %q", tt.in, tt.want, got)
		}
	}

	long := "https://example.com/" + strings.Repeat("x", 200)
	if got := sanitizeFilename(long); len(got) != 100 {
		t.Errorf("Expected length 100, got %d", len(got))
	}
}

func TestWriteTopicTable(t *testing.T) {
	var buf bytes.Buffer
	topics := []model.Topic{
		{UUID: "u1", Label: "Science", Description: "natural sciences"},
		{UUID: "u2", Label: "Physics"},
	}
	if err := writeTopicTable(&buf, topics); err != nil {
		t.Fatalf("writeTopicTable failed: %v", err)
	}

	out := buf.String()
	for _, want := range []string{"UUID", "Science", "natural sciences", "Physics", "2 topics"} {
		if !strings.Contains(out, want) {
			t.Errorf("Expected output to contain %q, got:\n%s", want, out)
		}
	}
}

func TestWriteDefaultConfig(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.yaml")

	if err := writeDefaultConfig(path); err != nil {
		t.Fatalf("writeDefaultConfig failed: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read config: %v", err)
	}
	if !strings.HasPrefix(string(data), "# stmtgraph configuration") {
		t.Errorf("Expected header comment, got %q", string(data[:40]))
	}
	if !strings.Contains(string(data), "VOYAGE_API_KEY") {
		t.Error("Expected env var hints in config")
	}

	var cfg model.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		t.Fatalf("Expected valid YAML, got %v", err)
	}
	if cfg.Matching.BatchSize != model.DefaultConfig().Matching.BatchSize {
		t.Errorf("Expected default batch size %d, got %d", model.DefaultConfig().Matching.BatchSize, cfg.Matching.BatchSize)
	}

	if err := writeDefaultConfig(path); err == nil {
		t.Error("Expected error when config already exists")
	}
}
