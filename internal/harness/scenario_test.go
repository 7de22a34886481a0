package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_Valid(t *testing.T) {
	path := writeScenario(t, `
name: basic
description: "one write"
max_attempts: 2
queue:
  - id: "1"
    url: https://api.test/stocks
    method: POST
    headers:
      Authorization: Bearer abc
    body: {"name": "Haworthia"}
delivery:
  "1": [fail, ok]
prompts:
  "1": discard
steps:
  - drain: true
  - online: false
assertions:
  - type: pending
    ids: []
`)

	s, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "basic", s.Name)
	assert.Equal(t, 2, s.MaxAttempts)
	require.Len(t, s.Queue, 1)
	assert.Equal(t, "Bearer abc", s.Queue[0].Headers["Authorization"])
	assert.Equal(t, map[string]any{"name": "Haworthia"}, s.Queue[0].Body)
	assert.Equal(t, []string{"fail", "ok"}, s.Delivery["1"])
	require.Len(t, s.Steps, 2)
	assert.True(t, s.Steps[0].Drain)
	require.NotNil(t, s.Steps[1].Online)
	assert.False(t, *s.Steps[1].Online)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "misspelled key"
steps:
  - drain: true
assertion:
  - type: pending
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing name",
			yaml: "description: x\nsteps: [{drain: true}]\nassertions: [{type: pending}]",
			want: "name is required",
		},
		{
			name: "missing steps",
			yaml: "name: x\ndescription: x\nassertions: [{type: pending}]",
			want: "steps list is required",
		},
		{
			name: "two actions in one step",
			yaml: "name: x\ndescription: x\nsteps: [{drain: true, clear: true}]\nassertions: [{type: pending}]",
			want: "exactly one of",
		},
		{
			name: "duplicate id",
			yaml: "name: x\ndescription: x\nqueue: [{id: a, url: 'https://a'}, {id: a, url: 'https://a'}]\nsteps: [{drain: true}]\nassertions: [{type: pending}]",
			want: `duplicate id "a"`,
		},
		{
			name: "unknown outcome",
			yaml: "name: x\ndescription: x\nqueue: [{id: a, url: 'https://a'}]\ndelivery: {a: [explode]}\nsteps: [{drain: true}]\nassertions: [{type: pending}]",
			want: `unknown outcome "explode"`,
		},
		{
			name: "delivery for unknown op",
			yaml: "name: x\ndescription: x\ndelivery: {a: [ok]}\nsteps: [{drain: true}]\nassertions: [{type: pending}]",
			want: `unknown operation "a"`,
		},
		{
			name: "unknown prompt answer",
			yaml: "name: x\ndescription: x\nqueue: [{id: a, url: 'https://a'}]\nprompts: {a: maybe}\nsteps: [{drain: true}]\nassertions: [{type: pending}]",
			want: `unknown answer "maybe"`,
		},
		{
			name: "unknown assertion",
			yaml: "name: x\ndescription: x\nsteps: [{drain: true}]\nassertions: [{type: vibes}]",
			want: `unknown assertion type "vibes"`,
		},
		{
			name: "calls_to without url",
			yaml: "name: x\ndescription: x\nsteps: [{drain: true}]\nassertions: [{type: calls_to, count: 1}]",
			want: "url is required for calls_to",
		},
		{
			name: "bad disposition value",
			yaml: "name: x\ndescription: x\nsteps: [{drain: true}]\nassertions: [{type: disposition, op: a, value: keep}]",
			want: "value must be requeue or discard",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.yaml))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestLoadScenario_Testdata(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			_, err := LoadScenario(path)
			assert.NoError(t, err)
		})
	}
}
