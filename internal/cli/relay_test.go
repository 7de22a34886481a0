package cli

import (
	"bytes"
	"context"
	"net/http"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stocksync/internal/relay"
	"github.com/roach88/stocksync/internal/testutil"
)

type recordingMailer struct {
	mu   sync.Mutex
	sent []relay.Email
}

func (m *recordingMailer) Send(_ context.Context, e relay.Email) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, e)
	return nil
}

func (m *recordingMailer) emails() []relay.Email {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]relay.Email(nil), m.sent...)
}

// startRelay runs the relay command until the test ends and returns its address.
func startRelay(t *testing.T, opts *RootOptions, mailer relay.Mailer) string {
	t.Helper()
	listening := make(chan string, 1)
	cmd := newRelayCommand(&RelayOptions{RootOptions: opts, Mailer: mailer, Listening: listening})
	cmd.SetOut(&bytes.Buffer{})
	cmd.SetErr(&bytes.Buffer{})
	cmd.SetArgs([]string{"--addr", "127.0.0.1:0"})

	ctx, cancel := context.WithCancel(context.Background())
	cmd.SetContext(ctx)

	done := make(chan error, 1)
	go func() { done <- cmd.Execute() }()
	t.Cleanup(func() {
		cancel()
		select {
		case err := <-done:
			assert.NoError(t, err)
		case <-time.After(5 * time.Second):
			t.Error("relay did not stop")
		}
	})

	select {
	case addr := <-listening:
		return addr
	case err := <-done:
		t.Fatalf("relay exited early: %v", err)
	case <-time.After(5 * time.Second):
		t.Fatal("relay did not start")
	}
	return ""
}

func TestRelayCommandServesHealth(t *testing.T) {
	opts := testOptions(t, "text")
	addr := startRelay(t, opts, &recordingMailer{})

	resp, err := http.Get("http://" + addr + "/healthz")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)
}

// A write that exhausts its attempts is reported through the relay.
func TestDrainNotifiesThroughRelay(t *testing.T) {
	relayOpts := testOptions(t, "text")
	relayOpts.Config.Relay.AdminEmail = "ops@example.com"
	mailer := &recordingMailer{}
	addr := startRelay(t, relayOpts, mailer)

	opts := testOptions(t, "text")
	opts.Config.NotifyURL = "http://" + addr + relay.SyncFailurePath
	opts.Config.OnExhausted = "requeue"
	_, err := execute(t, NewEnqueueCommand(opts), "https://api.test/api/stocks", "--id", "a")
	require.NoError(t, err)

	deliverer := testutil.NewScriptedDeliverer()
	deliverer.FailAlways("a", testutil.ErrOffline)
	out, err := executeDrain(t, opts, deliverer, nil)
	require.NoError(t, err)
	assert.Contains(t, out, "(1 requeued, 0 discarded)")

	emails := mailer.emails()
	require.Len(t, emails, 1)
	assert.Equal(t, "ops@example.com", emails[0].To)
	assert.Equal(t, relay.EmailSubject, emails[0].Subject)
	assert.True(t, strings.HasPrefix(emails[0].Content, "Operation a failed: "), emails[0].Content)
	assert.Contains(t, emails[0].Content, testutil.ErrOffline.Error())

	ops, err := openTestQueue(t, opts).PeekAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "a", ops[0].ID)
}
