package cli

import (
	"bytes"
	"context"
	"encoding/json"
	"testing"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stocksync/internal/op"
	"github.com/roach88/stocksync/internal/store"
)

// execute runs cmd with args and returns what it printed.
func execute(t *testing.T, cmd *cobra.Command, args ...string) (string, error) {
	t.Helper()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetIn(&bytes.Buffer{})
	cmd.SetArgs(args)
	cmd.SetContext(context.Background())
	err := cmd.Execute()
	return buf.String(), err
}

func openTestQueue(t *testing.T, opts *RootOptions) *store.Queue {
	t.Helper()
	q, err := store.Open(opts.Config.DBPath)
	require.NoError(t, err)
	t.Cleanup(func() { _ = q.Close() })
	return q
}

func TestEnqueueCommand(t *testing.T) {
	opts := testOptions(t, "text")

	out, err := execute(t, NewEnqueueCommand(opts),
		"https://api.test/api/stocks",
		"--id", "op-1",
		"--body", `{"name":"Echeveria"}`,
		"-H", "Authorization=Bearer abc",
	)
	require.NoError(t, err)
	assert.Contains(t, out, "Queued op-1 (POST https://api.test/api/stocks)")

	ops, err := openTestQueue(t, opts).PeekAll(context.Background())
	require.NoError(t, err)
	require.Len(t, ops, 1)
	assert.Equal(t, "op-1", ops[0].ID)
	assert.Equal(t, "POST", ops[0].Payload.Method)
	assert.Equal(t, "Bearer abc", ops[0].Payload.Headers["Authorization"])
	assert.JSONEq(t, `{"name":"Echeveria"}`, string(ops[0].Payload.Body))
	assert.NotEmpty(t, ops[0].IdempotencyKey)
}

func TestEnqueueCommandJSON(t *testing.T) {
	opts := testOptions(t, "json")

	out, err := execute(t, NewEnqueueCommand(opts), "https://api.test/api/stocks/4", "-X", "delete")
	require.NoError(t, err)

	var resp struct {
		Status string       `json:"status"`
		Data   op.Operation `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.NotEmpty(t, resp.Data.ID)
	assert.Equal(t, "DELETE", resp.Data.Payload.Method)
}

func TestEnqueueCommandInvalid(t *testing.T) {
	t.Run("bad header", func(t *testing.T) {
		_, err := execute(t, NewEnqueueCommand(testOptions(t, "text")), "https://api.test", "-H", "novalue")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
	})

	t.Run("bad body", func(t *testing.T) {
		out, err := execute(t, NewEnqueueCommand(testOptions(t, "text")), "https://api.test", "--body", "{not json")
		require.Error(t, err)
		assert.Equal(t, ExitCommandError, GetExitCode(err))
		assert.Contains(t, out, CodeInvalidOp)
	})

	t.Run("missing url", func(t *testing.T) {
		_, err := execute(t, NewEnqueueCommand(testOptions(t, "text")))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "accepts 1 arg")
	})
}

func TestParseHeaders(t *testing.T) {
	h, err := parseHeaders([]string{"A=1", "B: two", "C=x=y"})
	require.NoError(t, err)
	assert.Equal(t, map[string]string{"A": "1", "B": "two", "C": "x=y"}, h)

	h, err = parseHeaders(nil)
	require.NoError(t, err)
	assert.Nil(t, h)

	_, err = parseHeaders([]string{"=value"})
	require.Error(t, err)
}

func TestPeekDequeueClear(t *testing.T) {
	opts := testOptions(t, "text")
	for _, id := range []string{"a", "b", "c"} {
		_, err := execute(t, NewEnqueueCommand(opts), "https://api.test/api/stocks", "--id", id)
		require.NoError(t, err)
	}

	out, err := execute(t, NewPeekCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "ID")
	assert.Regexp(t, `(?s)a .*b .*c `, out)

	out, err = execute(t, NewDequeueCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Removed a")

	out, err = execute(t, NewStatusCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Pending:   2")
	assert.Contains(t, out, "In flight: 0")

	out, err = execute(t, NewClearCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Queue cleared.")

	out, err = execute(t, NewPeekCommand(opts))
	require.NoError(t, err)
	assert.Contains(t, out, "Queue is empty.")
}

func TestDequeueEmpty(t *testing.T) {
	opts := testOptions(t, "json")

	out, err := execute(t, NewDequeueCommand(opts))
	require.Error(t, err)
	assert.Equal(t, ExitFailure, GetExitCode(err))

	var resp CLIResponse
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "error", resp.Status)
	assert.Equal(t, CodeQueueEmpty, resp.Error.Code)
}

func TestClearEmptyQueueIsNoop(t *testing.T) {
	opts := testOptions(t, "text")
	_, err := execute(t, NewClearCommand(opts))
	require.NoError(t, err)
	_, err = execute(t, NewClearCommand(opts))
	require.NoError(t, err)
}

func TestStatusJSON(t *testing.T) {
	opts := testOptions(t, "json")
	_, err := execute(t, NewEnqueueCommand(opts), "https://api.test/api/stocks", "--id", "a")
	require.NoError(t, err)

	out, err := execute(t, NewStatusCommand(opts))
	require.NoError(t, err)

	var resp struct {
		Data StatusResult `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, 1, resp.Data.Pending)
	assert.Equal(t, opts.Config.DBPath, resp.Data.DBPath)
	assert.NotNil(t, resp.Data.OldestEnqueued)
}
