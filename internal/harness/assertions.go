package harness

import (
	"fmt"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/roach88/jsoncrdt/internal/value"
)

// AssertionError is returned when an assertion fails.
// It includes detailed context to help debug the failure.
type AssertionError struct {
	Type     string // Assertion type for categorization
	Replica  string // Replica the assertion looked at, if any
	Expected string // Human-readable expected outcome
	Actual   string // Human-readable actual outcome
}

// Error implements the error interface.
func (e *AssertionError) Error() string {
	var buf strings.Builder
	fmt.Fprintf(&buf, "Assertion failed: %s", e.Type)
	if e.Replica != "" {
		fmt.Fprintf(&buf, " (%s)", e.Replica)
	}
	fmt.Fprintf(&buf, "\n  Expected: %s\n  Actual: %s", e.Expected, e.Actual)
	return buf.String()
}

// check evaluates one assertion against the final replicas.
func (h *Harness) check(a Assertion) error {
	switch a.Type {
	case AssertConverged:
		return h.assertConverged()
	case AssertJSON:
		return h.assertJSON(a)
	case AssertOneOf:
		return h.assertOneOf(a)
	case AssertTombstones:
		return h.assertTombstones(a)
	case AssertEmpty:
		return h.assertEmpty(a)
	default:
		return fmt.Errorf("unknown assertion type: %s", a.Type)
	}
}

// assertConverged checks that every replica projects the same document.
func (h *Harness) assertConverged() error {
	first := h.scenario.Replicas[0]
	want, err := h.nodes[first].Digest()
	if err != nil {
		return err
	}
	for _, id := range h.scenario.Replicas[1:] {
		got, err := h.nodes[id].Digest()
		if err != nil {
			return err
		}
		if got != want {
			return &AssertionError{
				Type:     AssertConverged,
				Replica:  id,
				Expected: fmt.Sprintf("%s like %s", describe(h.documentOf(first)), first),
				Actual:   describe(h.documentOf(id)),
			}
		}
	}
	return nil
}

func (h *Harness) assertJSON(a Assertion) error {
	want, err := nodeValue(&a.Expect)
	if err != nil {
		return err
	}
	for _, id := range h.targets(a) {
		got := h.documentOf(id)
		if got == nil || !value.Equal(got, want) {
			return &AssertionError{
				Type:     AssertJSON,
				Replica:  id,
				Expected: describe(want),
				Actual:   describe(got),
			}
		}
	}
	return nil
}

func (h *Harness) assertOneOf(a Assertion) error {
	accepted := make([]value.Value, 0, len(a.ExpectAny))
	for i := range a.ExpectAny {
		v, err := nodeValue(&a.ExpectAny[i])
		if err != nil {
			return err
		}
		accepted = append(accepted, v)
	}

	for _, id := range h.targets(a) {
		got := h.documentOf(id)
		if !containsValue(accepted, got) {
			parts := make([]string, len(accepted))
			for i, v := range accepted {
				parts[i] = describe(v)
			}
			return &AssertionError{
				Type:     AssertOneOf,
				Replica:  id,
				Expected: "one of " + strings.Join(parts, ", "),
				Actual:   describe(got),
			}
		}
	}
	return nil
}

func (h *Harness) assertTombstones(a Assertion) error {
	got := len(h.nodes[a.Replica].Tombstones())
	if got != *a.Count {
		return &AssertionError{
			Type:     AssertTombstones,
			Replica:  a.Replica,
			Expected: fmt.Sprintf("%d tombstones", *a.Count),
			Actual:   fmt.Sprintf("%d tombstones", got),
		}
	}
	return nil
}

func (h *Harness) assertEmpty(a Assertion) error {
	if got := h.documentOf(a.Replica); got != nil {
		return &AssertionError{
			Type:     AssertEmpty,
			Replica:  a.Replica,
			Expected: "empty document",
			Actual:   describe(got),
		}
	}
	return nil
}

// targets returns the replicas an assertion applies to.
func (h *Harness) targets(a Assertion) []string {
	if a.Replica != "" {
		return []string{a.Replica}
	}
	return h.scenario.Replicas
}

// documentOf returns the replica's document, or nil when it is empty.
func (h *Harness) documentOf(id string) value.Value {
	st := h.nodes[id].State()
	if st.Empty {
		return nil
	}
	return st.JSON
}

func containsValue(vs []value.Value, v value.Value) bool {
	if v == nil {
		return false
	}
	for _, candidate := range vs {
		if value.Equal(candidate, v) {
			return true
		}
	}
	return false
}

// describe renders a document for error messages.
func describe(v value.Value) string {
	if v == nil {
		return "empty document"
	}
	data, err := value.Marshal(v)
	if err != nil {
		return fmt.Sprintf("<%v>", err)
	}
	return string(data)
}

// ExpectNode builds a YAML node holding v, for assertions constructed in
// code rather than parsed from a file.
func ExpectNode(v any) yaml.Node {
	var n yaml.Node
	if err := n.Encode(v); err != nil {
		panic(fmt.Sprintf("harness: encode expected value: %v", err))
	}
	return n
}
