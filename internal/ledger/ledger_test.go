package ledger

import (
	"context"
	"path/filepath"
	"reflect"
	"sync"
	"testing"
)

func ledgers(t *testing.T) map[string]Ledger {
	t.Helper()
	sq, err := OpenSQLite(context.Background(), filepath.Join(t.TempDir(), "state", "ledger.db"))
	if err != nil {
		t.Fatalf("OpenSQLite failed: %v", err)
	}
	t.Cleanup(func() { _ = sq.Close() })
	return map[string]Ledger{"memory": NewMemory(), "sqlite": sq}
}

func TestLedgerAppendLoadClear(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			got, err := l.Load(ctx, "a")
			if err != nil || len(got) != 0 {
				t.Fatalf("Expected empty ledger, got %v, %v", got, err)
			}

			for _, i := range []int{2, 0, 1, 2} {
				if err := l.Append(ctx, "a", i); err != nil {
					t.Fatalf("Append(%d) failed: %v", i, err)
				}
			}
			if err := l.Append(ctx, "b", 7); err != nil {
				t.Fatal(err)
			}

			got, err = l.Load(ctx, "a")
			if err != nil {
				t.Fatal(err)
			}
			if want := []int{0, 1, 2}; !reflect.DeepEqual(got, want) {
				t.Errorf("Expected %v, got %v", want, got)
			}

			if err := l.Clear(ctx, "a"); err != nil {
				t.Fatal(err)
			}
			if got, _ := l.Load(ctx, "a"); len(got) != 0 {
				t.Errorf("Expected cleared ledger, got %v", got)
			}
			if got, _ := l.Load(ctx, "b"); !reflect.DeepEqual(got, []int{7}) {
				t.Errorf("Clearing one key must not touch others, got %v", got)
			}
			if keys, err := l.Keys(ctx); err != nil || !reflect.DeepEqual(keys, []string{"b"}) {
				t.Errorf("Expected keys [b] after clearing a, got %v, %v", keys, err)
			}
		})
	}
}

func TestSQLiteSurvivesReopen(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 4; i++ {
		if err := l.Append(ctx, "movie.mp4:7340032:1700000000", i); err != nil {
			t.Fatal(err)
		}
	}
	if err := l.Close(); err != nil {
		t.Fatal(err)
	}

	reopened, err := OpenSQLite(ctx, path)
	if err != nil {
		t.Fatal(err)
	}
	defer reopened.Close()

	got, err := reopened.Load(ctx, "movie.mp4:7340032:1700000000")
	if err != nil {
		t.Fatal(err)
	}
	if want := []int{0, 1, 2, 3}; !reflect.DeepEqual(got, want) {
		t.Errorf("Expected %v after reopen, got %v", want, got)
	}

	keys, err := reopened.Keys(ctx)
	if err != nil || len(keys) != 1 {
		t.Errorf("Expected one pending key, got %v, %v", keys, err)
	}
}

func TestLedgerConcurrentKeys(t *testing.T) {
	ctx := context.Background()
	for name, l := range ledgers(t) {
		t.Run(name, func(t *testing.T) {
			var wg sync.WaitGroup
			for _, key := range []string{"x", "y", "z"} {
				wg.Add(1)
				go func(key string) {
					defer wg.Done()
					for i := 0; i < 20; i++ {
						if err := l.Append(ctx, key, i); err != nil {
							t.Errorf("Append failed: %v", err)
						}
					}
				}(key)
			}
			wg.Wait()

			for _, key := range []string{"x", "y", "z"} {
				got, _ := l.Load(ctx, key)
				if len(got) != 20 {
					t.Errorf("Key %s: expected 20 entries, got %d", key, len(got))
				}
			}
		})
	}
}
