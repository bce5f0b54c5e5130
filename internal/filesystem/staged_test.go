package filesystem

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestStagedOutputCommit(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "nested", "out", "clip.mp4")

	stage, err := NewStagedOutput(dest)
	if err != nil {
		t.Fatalf("NewStagedOutput failed: %v", err)
	}
	defer stage.Discard()

	if filepath.Ext(stage.Path()) != ".mp4" {
		t.Errorf("Staging path should keep the extension, got %s", stage.Path())
	}
	if !strings.HasPrefix(filepath.Base(stage.Path()), ".clip.") {
		t.Errorf("Staging file should be hidden and named after dest, got %s", stage.Path())
	}

	if err := os.WriteFile(stage.Path(), []byte("data"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := stage.Commit(); err != nil {
		t.Fatalf("Commit failed: %v", err)
	}

	data, err := os.ReadFile(dest)
	if err != nil || string(data) != "data" {
		t.Fatalf("Expected committed data at dest, got %q, %v", data, err)
	}
	if _, err := os.Stat(stage.Path()); !os.IsNotExist(err) {
		t.Error("Staging file should be gone after commit")
	}
}

func TestStagedOutputDiscard(t *testing.T) {
	dir := t.TempDir()
	dest := filepath.Join(dir, "image.webp")

	stage, err := NewStagedOutput(dest)
	if err != nil {
		t.Fatal(err)
	}
	stage.Discard()

	entries, _ := os.ReadDir(dir)
	if len(entries) != 0 {
		t.Errorf("Expected empty dir after discard, found %d entries", len(entries))
	}
	if _, err := os.Stat(dest); !os.IsNotExist(err) {
		t.Error("Destination must not exist after discard")
	}
}
