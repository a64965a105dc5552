package harness

import (
	"bytes"
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/roach88/jsoncrdt/internal/value"
)

// Scenario defines a multi-replica run: who exists, what each step does
// and what must hold at the end.
type Scenario struct {
	// Name uniquely identifies this scenario and names its golden file.
	Name string `yaml:"name"`

	// Description explains what this scenario validates.
	Description string `yaml:"description"`

	// Seed drives allocator randomness and network shuffling.
	Seed uint64 `yaml:"seed,omitempty"`

	// Shuffle interleaves the delivery queues of different links.
	Shuffle bool `yaml:"shuffle,omitempty"`

	// Duplicates is the probability of delivering a message twice.
	Duplicates float64 `yaml:"duplicates,omitempty"`

	// Replicas lists replica ids. Each starts empty.
	Replicas []string `yaml:"replicas"`

	// Steps run in order.
	Steps []Step `yaml:"steps"`

	// Assertions are checked after the last step.
	Assertions []Assertion `yaml:"assertions"`
}

// Step is one scenario action. Exactly one field is set.
type Step struct {
	// Set replaces a replica's document.
	Set *SetStep `yaml:"set,omitempty"`

	// Connect links two replicas; both queue their complete state.
	Connect []string `yaml:"connect,omitempty"`

	// Disconnect removes the link between two replicas and drops whatever
	// it still carries.
	Disconnect []string `yaml:"disconnect,omitempty"`

	// Flush delivers queued messages until the network is quiet.
	Flush bool `yaml:"flush,omitempty"`

	// Restart saves a replica to the store, restores it from there and
	// re-creates its links.
	Restart string `yaml:"restart,omitempty"`
}

// SetStep is the argument of a set step.
type SetStep struct {
	Replica string    `yaml:"replica"`
	JSON    yaml.Node `yaml:"json"`
}

// Assertion validates the final replicas.
type Assertion struct {
	// Type is one of the Assert* constants.
	Type string `yaml:"type"`

	// Replica restricts json, one_of, tombstones and empty to one
	// replica. Empty means every replica (json, one_of) and is required
	// for tombstones and empty.
	Replica string `yaml:"replica,omitempty"`

	// Expect is the document for json.
	Expect yaml.Node `yaml:"expect,omitempty"`

	// ExpectAny lists the documents one_of accepts.
	ExpectAny []yaml.Node `yaml:"expect_any,omitempty"`

	// Count is the tombstone count for tombstones.
	Count *int `yaml:"count,omitempty"`
}

// Assertion type constants.
const (
	AssertConverged  = "converged"
	AssertJSON       = "json"
	AssertOneOf      = "one_of"
	AssertTombstones = "tombstones"
	AssertEmpty      = "empty"
)

// LoadScenario reads and parses a scenario YAML file.
// Returns an error if the file doesn't exist, is malformed,
// contains unknown fields (typos), or is missing required fields.
func LoadScenario(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read scenario file: %w", err)
	}
	return ParseScenario(data)
}

// ParseScenario parses and validates scenario YAML.
func ParseScenario(data []byte) (*Scenario, error) {
	// Strict field validation catches typos like "assertion:" vs "assertions:".
	var scenario Scenario
	decoder := yaml.NewDecoder(bytes.NewReader(data))
	decoder.KnownFields(true)
	if err := decoder.Decode(&scenario); err != nil {
		return nil, fmt.Errorf("failed to parse YAML: %w", err)
	}

	if err := validateScenario(&scenario); err != nil {
		return nil, fmt.Errorf("invalid scenario: %w", err)
	}
	return &scenario, nil
}

// validateScenario checks that required fields are present and that every
// step and assertion names known replicas.
func validateScenario(s *Scenario) error {
	if s.Name == "" {
		return fmt.Errorf("name is required")
	}
	if s.Description == "" {
		return fmt.Errorf("description is required")
	}
	if len(s.Replicas) == 0 {
		return fmt.Errorf("replicas list is required and must be non-empty")
	}
	if len(s.Steps) == 0 {
		return fmt.Errorf("steps list is required and must be non-empty")
	}
	if len(s.Assertions) == 0 {
		return fmt.Errorf("assertions list is required and must be non-empty")
	}
	if s.Duplicates < 0 || s.Duplicates >= 1 {
		return fmt.Errorf("duplicates must be in [0, 1), got %v", s.Duplicates)
	}

	known := make(map[string]bool, len(s.Replicas))
	for i, id := range s.Replicas {
		if id == "" {
			return fmt.Errorf("replicas[%d]: id is required", i)
		}
		if known[id] {
			return fmt.Errorf("replicas[%d]: duplicate id %q", i, id)
		}
		known[id] = true
	}

	for i, step := range s.Steps {
		if err := validateStep(i, &step, known); err != nil {
			return err
		}
	}
	for i, assertion := range s.Assertions {
		if err := validateAssertion(i, &assertion, known); err != nil {
			return err
		}
	}
	return nil
}

func validateStep(index int, step *Step, known map[string]bool) error {
	set := 0
	if step.Set != nil {
		set++
		if !known[step.Set.Replica] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, step.Set.Replica)
		}
		if step.Set.JSON.Kind == 0 {
			return fmt.Errorf("steps[%d]: set requires json", index)
		}
		if _, err := nodeValue(&step.Set.JSON); err != nil {
			return fmt.Errorf("steps[%d]: %w", index, err)
		}
	}
	for _, pair := range [][]string{step.Connect, step.Disconnect} {
		if pair == nil {
			continue
		}
		set++
		if len(pair) != 2 || pair[0] == pair[1] {
			return fmt.Errorf("steps[%d]: connect and disconnect take two different replicas", index)
		}
		for _, id := range pair {
			if !known[id] {
				return fmt.Errorf("steps[%d]: unknown replica %q", index, id)
			}
		}
	}
	if step.Flush {
		set++
	}
	if step.Restart != "" {
		set++
		if !known[step.Restart] {
			return fmt.Errorf("steps[%d]: unknown replica %q", index, step.Restart)
		}
	}
	if set != 1 {
		return fmt.Errorf("steps[%d]: exactly one of set, connect, disconnect, flush, restart is required", index)
	}
	return nil
}

// validateAssertion validates a single assertion based on its type.
func validateAssertion(index int, a *Assertion, known map[string]bool) error {
	if a.Type == "" {
		return fmt.Errorf("assertions[%d]: type is required", index)
	}
	if a.Replica != "" && !known[a.Replica] {
		return fmt.Errorf("assertions[%d]: unknown replica %q", index, a.Replica)
	}

	switch a.Type {
	case AssertConverged:
	case AssertJSON:
		if a.Expect.Kind == 0 {
			return fmt.Errorf("assertions[%d]: expect is required for json", index)
		}
		if _, err := nodeValue(&a.Expect); err != nil {
			return fmt.Errorf("assertions[%d]: %w", index, err)
		}
	case AssertOneOf:
		if len(a.ExpectAny) == 0 {
			return fmt.Errorf("assertions[%d]: expect_any is required for one_of", index)
		}
		for j := range a.ExpectAny {
			if _, err := nodeValue(&a.ExpectAny[j]); err != nil {
				return fmt.Errorf("assertions[%d].expect_any[%d]: %w", index, j, err)
			}
		}
	case AssertTombstones:
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for tombstones", index)
		}
		if a.Count == nil || *a.Count < 0 {
			return fmt.Errorf("assertions[%d]: non-negative count is required for tombstones", index)
		}
	case AssertEmpty:
		if a.Replica == "" {
			return fmt.Errorf("assertions[%d]: replica is required for empty", index)
		}
	default:
		return fmt.Errorf("assertions[%d]: unknown assertion type %q", index, a.Type)
	}
	return nil
}

// nodeValue converts a YAML node into a JSON value.
func nodeValue(n *yaml.Node) (value.Value, error) {
	var raw any
	if err := n.Decode(&raw); err != nil {
		return nil, fmt.Errorf("decode json value: %w", err)
	}
	v, err := value.FromGo(raw)
	if err != nil {
		return nil, fmt.Errorf("json value: %w", err)
	}
	return v, nil
}
