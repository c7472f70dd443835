package fsutil

import (
	"os"
	"path/filepath"
	"testing"
)

func TestWriteFileAtomicCreatesFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "config.json")
	if err := WriteFileAtomic(path, []byte("hello"), 0o600, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "hello" {
		t.Errorf("expected %q, got %q", "hello", string(data))
	}
}

func TestWriteFileAtomicOverwritesExisting(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.json")
	if err := WriteFileAtomic(path, []byte("first"), 0o600, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := WriteFileAtomic(path, []byte("second"), 0o600, 0o755); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if string(data) != "second" {
		t.Errorf("expected %q, got %q", "second", string(data))
	}
}

func TestAppendLineAppendsWithNewline(t *testing.T) {
	path := filepath.Join(t.TempDir(), "log.jsonl")
	if err := AppendLine(path, []byte(`{"a":1}`), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if err := AppendLine(path, []byte(`{"a":2}`), 0o600); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	want := "{\"a\":1}\n{\"a\":2}\n"
	if string(data) != want {
		t.Errorf("expected %q, got %q", want, string(data))
	}
}
