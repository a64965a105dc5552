package harness

import (
	"testing"

	"github.com/sebdah/goldie/v2"

	"github.com/roach88/jsoncrdt/internal/value"
)

// TraceSnapshot captures the golden-relevant part of a scenario run.
// Delivery counts are left out: they depend on duplication and would make
// goldens brittle without saying anything about the documents.
type TraceSnapshot struct {
	ScenarioName string
	Trace        []TraceEvent
}

// toValue converts a TraceSnapshot into a JSON value for canonical
// serialization.
func (s *TraceSnapshot) toValue() value.Value {
	steps := make(value.Array, len(s.Trace))
	for i, event := range s.Trace {
		docs := make(value.Object, len(event.Documents))
		for id, doc := range event.Documents {
			docs[id] = doc
		}
		ev := value.Object{
			"step":      value.Number(event.Step),
			"op":        value.String(event.Op),
			"documents": docs,
		}
		if len(event.Replicas) > 0 {
			replicas := make(value.Array, len(event.Replicas))
			for j, id := range event.Replicas {
				replicas[j] = value.String(id)
			}
			ev["replicas"] = replicas
		}
		steps[i] = ev
	}
	return value.Object{
		"scenario": value.String(s.ScenarioName),
		"steps":    steps,
	}
}

// MarshalTrace renders a result's trace as canonical JSON.
func MarshalTrace(scenarioName string, result *Result) ([]byte, error) {
	snapshot := TraceSnapshot{ScenarioName: scenarioName, Trace: result.Trace}
	return value.MarshalCanonical(snapshot.toValue())
}

// RunWithGolden executes a scenario and compares the trace against a golden file.
// The golden file is stored in testdata/golden/{scenario.Name}.golden
//
// To regenerate golden files, run:
//
//	go test ./internal/harness -update
//
// Returns error if scenario execution fails.
// Test failure (via goldie) occurs if trace doesn't match golden file.
func RunWithGolden(t *testing.T, scenario *Scenario) (*Result, error) {
	t.Helper()

	result, err := Run(scenario)
	if err != nil {
		return nil, err
	}
	if err := AssertGolden(t, scenario.Name, result); err != nil {
		return nil, err
	}
	return result, nil
}

// AssertGolden compares the given result's trace against a golden file
// without re-running the scenario.
func AssertGolden(t *testing.T, scenarioName string, result *Result) error {
	t.Helper()

	traceJSON, err := MarshalTrace(scenarioName, result)
	if err != nil {
		return err
	}

	g := goldie.New(t,
		goldie.WithFixtureDir("testdata/golden"),
		goldie.WithNameSuffix(".golden"),
	)
	g.Assert(t, scenarioName, traceJSON)
	return nil
}
