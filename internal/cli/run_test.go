package cli

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stocksync/internal/connectivity"
	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/testutil"
)

func TestRunDrainsOnReconnect(t *testing.T) {
	opts := testOptions(t, "text")
	_, err := execute(t, NewEnqueueCommand(opts), "https://api.test/api/stocks", "--id", "a")
	require.NoError(t, err)

	src := connectivity.NewChannelSource()
	deliverer := testutil.NewScriptedDeliverer()
	ready := make(chan struct{})

	cmd := newRunCommand(&RunOptions{
		RootOptions: opts,
		Source:      src,
		Deliverer:   deliverer,
		Ready:       ready,
	})
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs([]string{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()

	select {
	case <-ready:
	case err := <-done:
		t.Fatalf("daemon exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not start")
	}

	// Nothing is delivered before the first connected observation.
	time.Sleep(50 * time.Millisecond)
	assert.Empty(t, deliverer.Calls())

	src.Set(true)
	require.Eventually(t, func() bool { return deliverer.Attempts("a") == 1 }, 5*time.Second, 10*time.Millisecond)

	src.Set(false)
	q := openTestQueue(t, opts)
	_, err = q.Enqueue(context.Background(), op.Operation{
		ID:      "b",
		Target:  "https://api.test/api/stocks",
		Payload: op.Request{Method: "POST"},
	})
	require.NoError(t, err)

	src.Set(true)
	require.Eventually(t, func() bool { return deliverer.Attempts("b") == 1 }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool {
		n, err := q.Len(context.Background())
		return err == nil && n == 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(5 * time.Second):
		t.Fatal("daemon did not stop")
	}
	assert.Contains(t, buf.String(), "Sync daemon started")
}

func TestMetricsHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := prometheus.NewCounter(prometheus.CounterOpts{Name: "stocksync_test_total", Help: "test"})
	reg.MustRegister(c)
	c.Inc()

	srv := httptest.NewServer(metricsHandler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	var body bytes.Buffer
	_, err = body.ReadFrom(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, body.String(), "stocksync_test_total 1")
}

func TestNewSource(t *testing.T) {
	cfg := testOptions(t, "text").Config

	src, err := newSource(cfg, testOptions(t, "text").Logger)
	require.NoError(t, err)
	assert.IsType(t, &connectivity.ChannelSource{}, src)

	cfg.StatusFile = "/tmp/status"
	src, err = newSource(cfg, testOptions(t, "text").Logger)
	require.NoError(t, err)
	assert.IsType(t, &connectivity.FileSource{}, src)

	cfg.ProbeURL = "https://api.test/health"
	src, err = newSource(cfg, testOptions(t, "text").Logger)
	require.NoError(t, err)
	assert.IsType(t, &connectivity.ProbeSource{}, src)
}
