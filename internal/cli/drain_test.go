package cli

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stocksync/internal/coordinator"
	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/testutil"
)

func TestDrainCommand(t *testing.T) {
	opts := testOptions(t, "json")
	for _, id := range []string{"a", "b"} {
		_, err := execute(t, NewEnqueueCommand(opts), "https://api.test/api/stocks", "--id", id)
		require.NoError(t, err)
	}

	deliverer := testutil.NewScriptedDeliverer()
	deliverer.FailAlways("b", testutil.ErrOffline)
	prompter := testutil.NewScriptedPrompter(op.DispositionRequeue)
	prompter.Answer("b", op.DispositionDiscard)

	out, err := executeDrain(t, opts, deliverer, prompter, "--trace")
	require.NoError(t, err)

	var resp struct {
		Status string      `json:"status"`
		Data   DrainResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 2, resp.Data.Report.Taken)
	assert.Equal(t, 1, resp.Data.Report.Delivered)
	assert.Equal(t, 1, resp.Data.Report.Escalated)
	assert.Equal(t, 1, resp.Data.Report.Discarded)
	assert.Equal(t, 4, resp.Data.Report.Attempts)
	require.NotEmpty(t, resp.Data.Trace)
	assert.Equal(t, coordinator.TracePassStart, resp.Data.Trace[0].Kind)
	assert.Equal(t, coordinator.TracePassEnd, resp.Data.Trace[len(resp.Data.Trace)-1].Kind)

	assert.Equal(t, 3, deliverer.Attempts("b"))
	stats, err := openTestQueue(t, opts).Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Pending)
	assert.Zero(t, stats.InFlight)
}

func TestDrainCommandText(t *testing.T) {
	opts := testOptions(t, "text")
	_, err := execute(t, NewEnqueueCommand(opts), "https://api.test/api/stocks", "--id", "a")
	require.NoError(t, err)

	out, err := executeDrain(t, opts, testutil.NewScriptedDeliverer(), nil, "--trace")
	require.NoError(t, err)
	assert.Contains(t, out, "attempt       op=a attempt=1")
	assert.Contains(t, out, "delivered     op=a")
	assert.Contains(t, out, "Pass 1: 1 delivered, 0 escalated")
}

func TestDrainCommandEmptyQueue(t *testing.T) {
	out, err := executeDrain(t, testOptions(t, "text"), testutil.NewScriptedDeliverer(), nil)
	require.NoError(t, err)
	assert.Contains(t, out, "Pass 1: 0 delivered")
}

// With on_exhausted=prompt and no terminal on stdin the write is requeued.
func TestDrainCommandRequeuesWithoutTerminal(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		assert.Equal(t, "key-1", r.Header.Get(coordinator.HeaderIdempotencyKey))
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	opts := testOptions(t, "text")
	_, err := execute(t, NewEnqueueCommand(opts), srv.URL+"/api/stocks", "--id", "a", "--idempotency-key", "key-1")
	require.NoError(t, err)

	out, err := executeDrain(t, opts, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "1 escalated (1 requeued, 0 discarded)")
	assert.Equal(t, int32(3), hits.Load())

	ops, err := openTestQueue(t, opts).PeekAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "a", ops[0].ID)
	assert.Equal(t, 3, ops[0].Attempts)
}

func TestDrainCommandRetriesRejectedWriteThenDiscards(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusUnprocessableEntity)
	}))
	defer srv.Close()

	opts := testOptions(t, "text")
	opts.Config.OnExhausted = "discard"
	_, err := execute(t, NewEnqueueCommand(opts), srv.URL+"/api/stocks", "--id", "a")
	require.NoError(t, err)

	out, err := executeDrain(t, opts, nil, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "(0 requeued, 1 discarded)")
	assert.Equal(t, int32(3), hits.Load())
}

// executeDrain runs a drain command with injected collaborators.
func executeDrain(t *testing.T, opts *RootOptions, d coordinator.Deliverer, p coordinator.Prompter, args ...string) (string, error) {
	t.Helper()
	cmd := newDrainCommand(&DrainOptions{RootOptions: opts, Deliverer: d, Prompter: p})
	return execute(t, cmd, args...)
}
