// Package conformance aggregates per-backend test outcomes into a
// cross-backend conformance report.
package conformance

import (
	"sync"
)

// Outcome is the result of one test on one backend.
type Outcome struct {
	Backend      string `json:"backend"`
	TestName     string `json:"testName"`
	Passed       bool   `json:"passed"`
	ErrorMessage string `json:"errorMessage,omitempty"`
}

// Tracker is an append-only outcome log safe for concurrent use.
type Tracker struct {
	mu       sync.Mutex
	outcomes []Outcome
	expected []string
}

type Option func(*Tracker)

// WithExpectedBackends fixes the backend set every test is expected to run
// on. Without it the set is every backend seen in the log.
func WithExpectedBackends(names ...string) Option {
	return func(t *Tracker) {
		t.expected = distinct(names)
	}
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

func (t *Tracker) Record(o Outcome) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.outcomes = append(t.outcomes, o)
}

// Outcomes returns a copy of the log in record order.
func (t *Tracker) Outcomes() []Outcome {
	t.mu.Lock()
	defer t.mu.Unlock()

	return append([]Outcome(nil), t.outcomes...)
}

// Report summarizes the log as it is now. Later Records do not affect the
// returned value.
func (t *Tracker) Report() *Report {
	outcomes := t.Outcomes()
	return buildReport(outcomes, t.expected)
}

func distinct(names []string) []string {
	seen := make(map[string]struct{}, len(names))
	result := make([]string, 0, len(names))
	for _, name := range names {
		if _, ok := seen[name]; ok {
			continue
		}
		seen[name] = struct{}{}
		result = append(result, name)
	}
	return result
}
