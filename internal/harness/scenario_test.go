package harness

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/jsoncrdt/internal/value"
)

func writeScenario(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "scenario.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0644))
	return path
}

func TestLoadScenario_ValidFile(t *testing.T) {
	path := writeScenario(t, `
name: test_scenario
description: "Test scenario for validation"
seed: 9
shuffle: true
duplicates: 0.25
replicas: [a, b]
steps:
  - connect: [a, b]
  - set:
      replica: a
      json: { items: [1, "two", null, true] }
  - flush: true
assertions:
  - type: converged
  - type: tombstones
    replica: a
    count: 0
`)

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	assert.Equal(t, "test_scenario", scenario.Name)
	assert.Equal(t, uint64(9), scenario.Seed)
	assert.True(t, scenario.Shuffle)
	assert.InDelta(t, 0.25, scenario.Duplicates, 1e-9)
	assert.Equal(t, []string{"a", "b"}, scenario.Replicas)
	require.Len(t, scenario.Steps, 3)
	assert.Equal(t, []string{"a", "b"}, scenario.Steps[0].Connect)
	require.NotNil(t, scenario.Steps[1].Set)
	assert.True(t, scenario.Steps[2].Flush)

	doc, err := nodeValue(&scenario.Steps[1].Set.JSON)
	require.NoError(t, err)
	assert.True(t, value.Equal(value.MustParse(`{"items":[1,"two",null,true]}`), doc))

	require.Len(t, scenario.Assertions, 2)
	require.NotNil(t, scenario.Assertions[1].Count)
	assert.Equal(t, 0, *scenario.Assertions[1].Count)
}

func TestLoadScenario_MissingFile(t *testing.T) {
	_, err := LoadScenario(filepath.Join(t.TempDir(), "nope.yaml"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to read scenario file")
}

func TestLoadScenario_UnknownField(t *testing.T) {
	path := writeScenario(t, `
name: typo
description: "assertion instead of assertions"
replicas: [a]
steps:
  - flush: true
assertion:
  - type: converged
`)
	_, err := LoadScenario(path)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to parse YAML")
}

func TestLoadScenario_CheckedInScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		t.Run(filepath.Base(path), func(t *testing.T) {
			scenario, err := LoadScenario(path)
			require.NoError(t, err)
			assert.Equal(t, filepath.Base(path), scenario.Name+".yaml")
		})
	}
}

func TestParseScenario_Invalid(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{
			name: "missing name",
			content: `
description: d
replicas: [a]
steps: [{flush: true}]
assertions: [{type: converged}]`,
			wantErr: "name is required",
		},
		{
			name: "missing description",
			content: `
name: n
replicas: [a]
steps: [{flush: true}]
assertions: [{type: converged}]`,
			wantErr: "description is required",
		},
		{
			name: "no replicas",
			content: `
name: n
description: d
steps: [{flush: true}]
assertions: [{type: converged}]`,
			wantErr: "replicas list is required",
		},
		{
			name: "duplicate replica",
			content: `
name: n
description: d
replicas: [a, a]
steps: [{flush: true}]
assertions: [{type: converged}]`,
			wantErr: `duplicate id "a"`,
		},
		{
			name: "no steps",
			content: `
name: n
description: d
replicas: [a]
assertions: [{type: converged}]`,
			wantErr: "steps list is required",
		},
		{
			name: "no assertions",
			content: `
name: n
description: d
replicas: [a]
steps: [{flush: true}]`,
			wantErr: "assertions list is required",
		},
		{
			name: "two actions in one step",
			content: `
name: n
description: d
replicas: [a, b]
steps: [{flush: true, connect: [a, b]}]
assertions: [{type: converged}]`,
			wantErr: "exactly one of",
		},
		{
			name: "empty step",
			content: `
name: n
description: d
replicas: [a]
steps: [{}]
assertions: [{type: converged}]`,
			wantErr: "exactly one of",
		},
		{
			name: "unknown replica in set",
			content: `
name: n
description: d
replicas: [a]
steps: [{set: {replica: z, json: 1}}]
assertions: [{type: converged}]`,
			wantErr: `unknown replica "z"`,
		},
		{
			name: "set without json",
			content: `
name: n
description: d
replicas: [a]
steps: [{set: {replica: a}}]
assertions: [{type: converged}]`,
			wantErr: "set requires json",
		},
		{
			name: "self connect",
			content: `
name: n
description: d
replicas: [a]
steps: [{connect: [a, a]}]
assertions: [{type: converged}]`,
			wantErr: "two different replicas",
		},
		{
			name: "unknown restart",
			content: `
name: n
description: d
replicas: [a]
steps: [{restart: q}]
assertions: [{type: converged}]`,
			wantErr: `unknown replica "q"`,
		},
		{
			name: "duplicates out of range",
			content: `
name: n
description: d
duplicates: 1.5
replicas: [a]
steps: [{flush: true}]
assertions: [{type: converged}]`,
			wantErr: "duplicates must be in",
		},
		{
			name: "unknown assertion",
			content: `
name: n
description: d
replicas: [a]
steps: [{flush: true}]
assertions: [{type: eventually}]`,
			wantErr: `unknown assertion type "eventually"`,
		},
		{
			name: "json without expect",
			content: `
name: n
description: d
replicas: [a]
steps: [{flush: true}]
assertions: [{type: json}]`,
			wantErr: "expect is required",
		},
		{
			name: "one_of without options",
			content: `
name: n
description: d
replicas: [a]
steps: [{flush: true}]
assertions: [{type: one_of}]`,
			wantErr: "expect_any is required",
		},
		{
			name: "tombstones without count",
			content: `
name: n
description: d
replicas: [a]
steps: [{flush: true}]
assertions: [{type: tombstones, replica: a}]`,
			wantErr: "non-negative count",
		},
		{
			name: "empty without replica",
			content: `
name: n
description: d
replicas: [a]
steps: [{flush: true}]
assertions: [{type: empty}]`,
			wantErr: "replica is required for empty",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := ParseScenario([]byte(tt.content))
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}
