package harness

import (
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gopkg.in/yaml.v3"
)

func newTestLogger(w io.Writer) *slog.Logger {
	return slog.New(slog.NewTextHandler(w, &slog.HandlerOptions{Level: slog.LevelDebug}))
}

func TestRun_CheckedInScenarios(t *testing.T) {
	paths, err := filepath.Glob("testdata/scenarios/*.yaml")
	require.NoError(t, err)
	require.NotEmpty(t, paths)

	for _, path := range paths {
		scenario, err := LoadScenario(path)
		require.NoError(t, err)

		t.Run(scenario.Name, func(t *testing.T) {
			result, err := Run(scenario)
			require.NoError(t, err)
			assert.True(t, result.Pass, "errors: %v", result.Errors)
			assert.Len(t, result.Trace, len(scenario.Steps))

			first := result.Digests[scenario.Replicas[0]]
			assert.NotEmpty(t, first)
			for _, id := range scenario.Replicas {
				assert.Equal(t, first, result.Digests[id], "digest of %s", id)
			}
		})
	}
}

func TestRun_Deterministic(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/lossy_mesh.yaml")
	require.NoError(t, err)

	first, err := Run(scenario)
	require.NoError(t, err)
	second, err := Run(scenario)
	require.NoError(t, err)

	assert.Equal(t, first.Trace, second.Trace)
	assert.Equal(t, first.Digests, second.Digests)
}

func TestRun_FlushRecordsDeliveries(t *testing.T) {
	scenario := &Scenario{
		Name:        "deliveries",
		Description: "connect then flush",
		Replicas:    []string{"a", "b"},
		Steps: []Step{
			{Set: &SetStep{Replica: "a", JSON: ExpectNode("x")}},
			{Connect: []string{"a", "b"}},
			{Flush: true},
		},
		Assertions: []Assertion{{Type: AssertConverged}},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	require.True(t, result.Pass, "errors: %v", result.Errors)

	flush := result.Trace[2]
	assert.Equal(t, "flush", flush.Op)
	// Both requests, plus a's complete state sent on attach and again in
	// answer to b's request. b is empty and answers with nothing.
	assert.Equal(t, 4, flush.Delivered)
	assert.Len(t, flush.Documents, 2)
}

func TestRun_EmptyReplicaOmittedFromTrace(t *testing.T) {
	scenario := &Scenario{
		Name:        "partial",
		Description: "only a edits and nothing is connected",
		Replicas:    []string{"a", "b"},
		Steps: []Step{
			{Set: &SetStep{Replica: "a", JSON: ExpectNode(map[string]any{"k": 1})}},
		},
		Assertions: []Assertion{
			{Type: AssertEmpty, Replica: "b"},
			{Type: AssertJSON, Replica: "a", Expect: ExpectNode(map[string]any{"k": 1})},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)

	require.Len(t, result.Trace, 1)
	assert.Contains(t, result.Trace[0].Documents, "a")
	assert.NotContains(t, result.Trace[0].Documents, "b")
	assert.Empty(t, result.Digests["b"])
}

func TestRun_FailingAssertionsReported(t *testing.T) {
	count := 3
	scenario := &Scenario{
		Name:        "unconnected",
		Description: "two replicas that never talk",
		Replicas:    []string{"a", "b"},
		Steps: []Step{
			{Set: &SetStep{Replica: "a", JSON: ExpectNode("left")}},
			{Set: &SetStep{Replica: "b", JSON: ExpectNode("right")}},
		},
		Assertions: []Assertion{
			{Type: AssertConverged},
			{Type: AssertJSON, Expect: ExpectNode("left")},
			{Type: AssertOneOf, Replica: "b", ExpectAny: []yaml.Node{ExpectNode("up"), ExpectNode("down")}},
			{Type: AssertTombstones, Replica: "a", Count: &count},
			{Type: AssertEmpty, Replica: "a"},
		},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.False(t, result.Pass)
	require.Len(t, result.Errors, 5)

	assert.Contains(t, result.Errors[0], "Assertion failed: converged (b)")
	assert.Contains(t, result.Errors[1], `Actual: "right"`)
	assert.Contains(t, result.Errors[2], `one of "up", "down"`)
	assert.Contains(t, result.Errors[3], "Expected: 3 tombstones")
	assert.Contains(t, result.Errors[4], `Actual: "left"`)
}

func TestRun_StepErrors(t *testing.T) {
	tests := []struct {
		name    string
		steps   []Step
		wantErr string
	}{
		{
			name:    "disconnect without link",
			steps:   []Step{{Disconnect: []string{"a", "b"}}},
			wantErr: "not connected",
		},
		{
			name:    "connect twice",
			steps:   []Step{{Connect: []string{"a", "b"}}, {Connect: []string{"b", "a"}}},
			wantErr: "already connected",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			scenario := &Scenario{
				Name:        "errors",
				Description: tt.name,
				Replicas:    []string{"a", "b"},
				Steps:       tt.steps,
				Assertions:  []Assertion{{Type: AssertConverged}},
			}
			_, err := Run(scenario)
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestRun_RestartResumesClock(t *testing.T) {
	scenario, err := LoadScenario("testdata/scenarios/restart.yaml")
	require.NoError(t, err)

	// Restart twice more and keep editing; a reused identifier would be
	// rejected as a duplicate on the far side and fail the flush.
	scenario.Steps = append(scenario.Steps,
		Step{Restart: "a"},
		Step{Set: &SetStep{Replica: "a", JSON: ExpectNode(map[string]any{"x": 1, "y": 2, "z": 3})}},
		Step{Restart: "a"},
		Step{Restart: "b"},
		Step{Set: &SetStep{Replica: "a", JSON: ExpectNode(map[string]any{"z": 4})}},
		Step{Flush: true},
	)
	scenario.Assertions = []Assertion{
		{Type: AssertConverged},
		{Type: AssertJSON, Expect: ExpectNode(map[string]any{"z": 4})},
	}

	result, err := Run(scenario)
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
}

func TestRun_ScenarioFileWithLogger(t *testing.T) {
	path := filepath.Join(t.TempDir(), "s.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
name: logged
description: "debug logging does not change the outcome"
replicas: [a, b]
steps:
  - connect: [a, b]
  - set: { replica: b, json: [true] }
  - flush: true
assertions:
  - type: json
    expect: [true]
`), 0644))

	scenario, err := LoadScenario(path)
	require.NoError(t, err)

	var logs strings.Builder
	result, err := Run(scenario, WithLogger(newTestLogger(&logs)))
	require.NoError(t, err)
	assert.True(t, result.Pass, "errors: %v", result.Errors)
	assert.Contains(t, logs.String(), "flushed")
}
