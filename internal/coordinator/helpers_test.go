package coordinator_test

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stocksync/internal/coordinator"
	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/store"
	"github.com/roach88/stocksync/internal/testutil"
)

type fixture struct {
	kv       *store.MemoryKV
	queue    *store.Queue
	deliver  *testutil.ScriptedDeliverer
	notifier *testutil.RecordingNotifier
	prompter *testutil.ScriptedPrompter
	coord    *coordinator.Coordinator
}

func newFixture(t *testing.T, opts ...coordinator.Option) *fixture {
	t.Helper()
	f := &fixture{
		kv:       store.NewMemoryKV(),
		deliver:  testutil.NewScriptedDeliverer(),
		notifier: &testutil.RecordingNotifier{},
		prompter: testutil.NewScriptedPrompter(op.DispositionRequeue),
	}
	clock := testutil.NewFakeClock(time.Date(2026, 4, 1, 8, 0, 0, 0, time.UTC))
	f.queue = store.New(f.kv, store.WithClock(clock.Now))

	base := []coordinator.Option{
		coordinator.WithNotifier(f.notifier),
		coordinator.WithPrompter(f.prompter),
		coordinator.WithAttemptTimeout(time.Second),
	}
	c, err := coordinator.New(f.queue, f.deliver, append(base, opts...)...)
	require.NoError(t, err)
	f.coord = c
	return f
}

func (f *fixture) enqueue(t *testing.T, ids ...string) {
	t.Helper()
	for _, id := range ids {
		_, err := f.queue.Enqueue(context.Background(), op.Operation{
			ID:     id,
			Target: "https://api.example.com/api/stocks",
			Payload: op.Request{
				Method: "POST",
				Body:   json.RawMessage(`{"name":"` + id + `"}`),
			},
		})
		require.NoError(t, err)
	}
}

func (f *fixture) pending(t *testing.T) []string {
	t.Helper()
	ops, err := f.queue.PeekAll(context.Background())
	require.NoError(t, err)
	out := make([]string, len(ops))
	for i, o := range ops {
		out[i] = o.ID
	}
	return out
}

func (f *fixture) inFlight(t *testing.T) int {
	t.Helper()
	ops, err := f.queue.InFlight(context.Background())
	require.NoError(t, err)
	return len(ops)
}

func callIDs(calls []testutil.Call) []string {
	out := make([]string, len(calls))
	for i, c := range calls {
		out[i] = c.OpID
	}
	return out
}

func testContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}
