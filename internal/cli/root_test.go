package cli

import (
	"bytes"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/stocksync/internal/config"
	"github.com/roach88/stocksync/internal/logging"
)

// testOptions returns root options with defaults and a fresh database.
func testOptions(t *testing.T, format string) *RootOptions {
	t.Helper()
	cfg := config.Defaults()
	cfg.DBPath = filepath.Join(t.TempDir(), "queue.db")
	return &RootOptions{Format: format, Config: &cfg, Logger: logging.Discard()}
}

func TestRootCommand(t *testing.T) {
	cmd := NewRootCommand()
	require.NotNil(t, cmd)
	assert.Equal(t, "stocksync", cmd.Use)
	assert.Contains(t, cmd.Long, "offline")
}

func TestCommandPresence(t *testing.T) {
	cmd := NewRootCommand()
	commands := []string{"enqueue", "peek", "dequeue", "clear", "status", "stock", "drain", "run", "relay", "test"}

	for _, cmdName := range commands {
		t.Run(cmdName, func(t *testing.T) {
			subCmd, _, err := cmd.Find([]string{cmdName})
			require.NoError(t, err, "Command %s should exist", cmdName)
			require.NotNil(t, subCmd)
			assert.Equal(t, cmdName, subCmd.Name())
		})
	}
}

func TestGlobalFlags(t *testing.T) {
	cmd := NewRootCommand()

	verboseFlag := cmd.PersistentFlags().Lookup("verbose")
	require.NotNil(t, verboseFlag)
	assert.Equal(t, "v", verboseFlag.Shorthand)
	assert.Equal(t, "false", verboseFlag.DefValue)

	formatFlag := cmd.PersistentFlags().Lookup("format")
	require.NotNil(t, formatFlag)
	assert.Equal(t, "text", formatFlag.DefValue)

	require.NotNil(t, cmd.PersistentFlags().Lookup("config"))
	require.NotNil(t, cmd.PersistentFlags().Lookup("db"))
}

func TestEnqueueCommandFlags(t *testing.T) {
	cmd := NewRootCommand()
	enqueueCmd, _, err := cmd.Find([]string{"enqueue"})
	require.NoError(t, err)

	methodFlag := enqueueCmd.Flags().Lookup("method")
	require.NotNil(t, methodFlag)
	assert.Equal(t, "X", methodFlag.Shorthand)
	assert.Equal(t, "POST", methodFlag.DefValue)

	headerFlag := enqueueCmd.Flags().Lookup("header")
	require.NotNil(t, headerFlag)
	assert.Equal(t, "H", headerFlag.Shorthand)
}

func TestInvalidFormat(t *testing.T) {
	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"status", "--format", "yaml"})

	err := cmd.Execute()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid format")
}

func TestRootLoadsConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "stocksync.yaml")
	dbPath := filepath.Join(dir, "from-config.db")
	require.NoError(t, os.WriteFile(cfgPath, []byte("db_path: "+dbPath+"\nlog:\n  level: error\n"), 0644))

	cmd := NewRootCommand()
	buf := &bytes.Buffer{}
	cmd.SetOut(buf)
	cmd.SetErr(buf)
	cmd.SetArgs([]string{"status", "--config", cfgPath})

	require.NoError(t, cmd.Execute())
	assert.Contains(t, buf.String(), dbPath)
	assert.FileExists(t, dbPath)
}

func TestRootDBFlagOverridesConfig(t *testing.T) {
	dbPath := filepath.Join(t.TempDir(), "flag.db")
	cfg := config.Defaults()
	opts := &RootOptions{Config: &cfg, DBPath: dbPath}

	got, err := opts.Settings()
	require.NoError(t, err)
	assert.Equal(t, dbPath, got.DBPath)
}
