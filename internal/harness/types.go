package harness

import (
	"github.com/roach88/jsoncrdt/internal/value"
)

// TraceEvent records one executed step and the documents afterwards.
type TraceEvent struct {
	Step      int                    `json:"step"`
	Op        string                 `json:"op"`
	Replicas  []string               `json:"replicas,omitempty"`
	Delivered int                    `json:"delivered,omitempty"`
	Documents map[string]value.Value `json:"documents"`
}

// Result is the outcome of a scenario run.
type Result struct {
	// Pass is true when every assertion held.
	Pass bool `json:"pass"`

	// Trace holds one event per step, in order.
	Trace []TraceEvent `json:"trace"`

	// Errors holds assertion failures. Empty if Pass is true.
	Errors []string `json:"errors,omitempty"`

	// Digests maps each replica to its final document digest ("" when
	// empty).
	Digests map[string]string `json:"digests"`
}

// NewResult creates a new passing result.
func NewResult() *Result {
	return &Result{
		Pass:    true,
		Trace:   []TraceEvent{},
		Errors:  []string{},
		Digests: make(map[string]string),
	}
}

// AddError adds a validation error and marks the result as failed.
func (r *Result) AddError(err string) {
	r.Errors = append(r.Errors, err)
	r.Pass = false
}

// AddStep appends a trace event.
func (r *Result) AddStep(ev TraceEvent) {
	r.Trace = append(r.Trace, ev)
}
