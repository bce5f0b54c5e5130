// Package ledger records which chunks of an upload the server has
// acknowledged, so an interrupted upload resumes instead of restarting.
//
// Entries are keyed by a file identity (name, size and modification time)
// plus the chunk size the indices were counted in.
// A write returns only after it is durable; the upload client treats a chunk
// as complete only once Append has returned.
package ledger

import (
	"context"
	"sort"
	"sync"

	"media-pipeline/internal/metrics"
)

// Ledger is a durable set of acknowledged chunk indices per file identity.
type Ledger interface {
	// Load returns the acknowledged indices for key in ascending order.
	Load(ctx context.Context, key string) ([]int, error)
	// Append records index for key. Appending an index twice is a no-op.
	Append(ctx context.Context, key string, index int) error
	// Clear forgets key.
	Clear(ctx context.Context, key string) error
	// Keys lists keys with at least one acknowledged chunk, sorted.
	Keys(ctx context.Context) ([]string, error)
	Close() error
}

// Memory is a process-local Ledger. It does not survive restarts.
type Memory struct {
	mu      sync.Mutex
	entries map[string]map[int]struct{}
}

// NewMemory returns an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{entries: make(map[string]map[int]struct{})}
}

func (m *Memory) Load(_ context.Context, key string) ([]int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	set := m.entries[key]
	out := make([]int, 0, len(set))
	for i := range set {
		out = append(out, i)
	}
	sort.Ints(out)
	return out, nil
}

func (m *Memory) Append(_ context.Context, key string, index int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	set, ok := m.entries[key]
	if !ok {
		set = make(map[int]struct{})
		m.entries[key] = set
	}
	set[index] = struct{}{}
	metrics.LedgerWritesTotal.WithLabelValues("append", "success").Inc()
	return nil
}

func (m *Memory) Clear(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, key)
	metrics.LedgerWritesTotal.WithLabelValues("clear", "success").Inc()
	return nil
}

func (m *Memory) Keys(_ context.Context) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	keys := make([]string, 0, len(m.entries))
	for k, set := range m.entries {
		if len(set) > 0 {
			keys = append(keys, k)
		}
	}
	sort.Strings(keys)
	return keys, nil
}

func (m *Memory) Close() error { return nil }
