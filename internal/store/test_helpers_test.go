package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"

	"github.com/roach88/stocksync/internal/op"
)

var testNow = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

// createTestQueue opens a SQLite-backed queue in a temp dir.
func createTestQueue(t *testing.T) (*Queue, string) {
	t.Helper()
	path := filepath.Join(t.TempDir(), "queue.db")
	q, err := Open(path, WithClock(func() time.Time { return testNow }))
	if err != nil {
		t.Fatalf("Open() failed: %v", err)
	}
	t.Cleanup(func() { q.Close() })
	return q, path
}

// createMemQueue returns a queue over MemoryKV plus the backend for fault
// injection.
func createMemQueue(t *testing.T) (*Queue, *MemoryKV) {
	t.Helper()
	kv := NewMemoryKV()
	q := New(kv, WithClock(func() time.Time { return testNow }))
	t.Cleanup(func() { q.Close() })
	return q, kv
}

func testOp(id string) op.Operation {
	return op.Operation{
		ID:     id,
		Target: "https://api.example.com/api/stocks",
		Payload: op.Request{
			Method: "POST",
			Body:   json.RawMessage(`{"name":"` + id + `"}`),
		},
	}
}

func ids(ops []op.Operation) []string {
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = o.ID
	}
	return out
}
