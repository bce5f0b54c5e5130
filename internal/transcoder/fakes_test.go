package transcoder

import (
	"context"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"testing"

	"media-pipeline/internal/probe"
)

// fakeRunner records invocations and writes a few bytes to the output path
// (the last argument) so staged outputs can be committed.
type fakeRunner struct {
	mu    sync.Mutex
	calls [][]string
	err   error
	// failOn makes the nth call (1-based) fail with err.
	failOn int
}

func (r *fakeRunner) Run(_ context.Context, args []string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.calls = append(r.calls, slices.Clone(args))
	if r.err != nil && (r.failOn == 0 || r.failOn == len(r.calls)) {
		return r.err
	}
	out := args[len(args)-1]
	if out != os.DevNull {
		return os.WriteFile(out, []byte("derived"), 0644)
	}
	return nil
}

func (r *fakeRunner) Calls() [][]string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// fakeProber returns source for the source path and output for anything
// else.
type fakeProber struct {
	sourcePath string
	source     probe.MediaProbe
	output     probe.MediaProbe
	err        error
}

func (p *fakeProber) Probe(_ context.Context, path string) (probe.MediaProbe, error) {
	if p.err != nil {
		return probe.MediaProbe{}, p.err
	}
	if path == p.sourcePath {
		return p.source, nil
	}
	return p.output, nil
}

func writeSource(t *testing.T, name string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte("original source bytes"), 0644); err != nil {
		t.Fatalf("Failed to write source: %v", err)
	}
	return path
}

// indexOf returns the position of the first occurrence of v in args, or -1.
func indexOf(args []string, v string) int {
	return slices.Index(args, v)
}

// hasPair reports whether flag is immediately followed by value.
func hasPair(args []string, flag, value string) bool {
	for i := 0; i+1 < len(args); i++ {
		if args[i] == flag && args[i+1] == value {
			return true
		}
	}
	return false
}
