package logger

import "testing"

func TestSanitizeKVs_Redacts(t *testing.T) {
	kv := sanitizeKVs([]interface{}{
		"api_key", "sk-ant-123",
		"max_tokens", 16000,
		"Password", "hunter2",
		"batch_index", 3,
	})

	if len(kv) != 8 {
		t.Fatalf("Expected 8 entries, got %d", len(kv))
	}
	if kv[1] != "[REDACTED]" {
		t.Errorf("Expected api_key redacted, got %v", kv[1])
	}
	if kv[3] != 16000 {
		t.Errorf("Expected max_tokens kept, got %v", kv[3])
	}
	if kv[5] != "[REDACTED]" {
		t.Errorf("Expected Password redacted, got %v", kv[5])
	}
	if kv[7] != 3 {
		t.Errorf("Expected batch_index kept, got %v", kv[7])
	}
}

func TestSanitizeKVs_OddLength(t *testing.T) {
	kv := sanitizeKVs([]interface{}{"stage", "match", "dangling"})
	if len(kv) != 3 || kv[2] != "dangling" {
		t.Errorf("Expected dangling key preserved, got %v", kv)
	}
}

func TestNew_Levels(t *testing.T) {
	if _, err := New("production", "warn"); err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := New("development", "verbose"); err == nil {
		t.Error("Expected error for unknown level")
	}
}
