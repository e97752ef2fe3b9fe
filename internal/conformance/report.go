package conformance

import (
	"fmt"
	"io"
	"slices"
	"strings"
)

type Mode string

const (
	// ModeConformance reports the share of tests on which all backends agree.
	ModeConformance Mode = "conformance"
	// ModePassRate reports the share of tests that passed, used when fewer
	// than two backends ran.
	ModePassRate Mode = "pass-rate"
)

type Status string

const (
	StatusConformant Status = "conformant"
	StatusDivergent  Status = "divergent"
	// StatusUnclassified marks tests with fewer than two outcomes.
	StatusUnclassified Status = "unclassified"
)

type TestResult struct {
	TestName string    `json:"testName"`
	Status   Status    `json:"status"`
	Outcomes []Outcome `json:"outcomes"`
}

func (r TestResult) allPassed() bool {
	for _, o := range r.Outcomes {
		if !o.Passed {
			return false
		}
	}
	return len(r.Outcomes) > 0
}

type Divergence struct {
	TestName string    `json:"testName"`
	Outcomes []Outcome `json:"outcomes"`
}

// Incomplete lists a test that did not run on every expected backend.
type Incomplete struct {
	TestName string   `json:"testName"`
	Backends []string `json:"backends"`
	Missing  []string `json:"missing"`
}

type Report struct {
	TotalTests            int          `json:"totalTests"`
	PassingTests          int          `json:"passingTests"`
	ConformantTests       int          `json:"conformantTests"`
	DivergentTests        []Divergence `json:"divergentTests"`
	IncompleteTests       []Incomplete `json:"incompleteTests"`
	ConformancePercentage float64      `json:"conformancePercentage"`
	Mode                  Mode         `json:"mode"`
	BackendCount          int          `json:"backendCount"`
	Backends              []string     `json:"backends"`
	Tests                 []TestResult `json:"tests"`
}

func buildReport(outcomes []Outcome, expected []string) *Report {
	byTest := make(map[string][]Outcome)
	var names []string
	var seenBackends []string
	for _, o := range outcomes {
		if _, ok := byTest[o.TestName]; !ok {
			names = append(names, o.TestName)
		}
		byTest[o.TestName] = append(byTest[o.TestName], o)
		seenBackends = append(seenBackends, o.Backend)
	}
	slices.Sort(names)

	backends := append([]string(nil), expected...)
	if len(backends) == 0 {
		backends = distinct(seenBackends)
		slices.Sort(backends)
	}

	r := &Report{
		TotalTests:      len(names),
		DivergentTests:  []Divergence{},
		IncompleteTests: []Incomplete{},
		BackendCount:    len(backends),
		Backends:        backends,
		Tests:           make([]TestResult, 0, len(names)),
	}

	for _, name := range names {
		group := byTest[name]
		result := TestResult{TestName: name, Status: StatusUnclassified, Outcomes: group}

		anyPassed := false
		allPassed := true
		var ran []string
		for _, o := range group {
			anyPassed = anyPassed || o.Passed
			allPassed = allPassed && o.Passed
			ran = append(ran, o.Backend)
		}
		ran = distinct(ran)
		if anyPassed {
			r.PassingTests++
		}

		if missing := missingBackends(backends, ran); len(missing) > 0 {
			r.IncompleteTests = append(r.IncompleteTests, Incomplete{TestName: name, Backends: ran, Missing: missing})
		}

		if len(group) >= 2 {
			if allPassed || !anyPassed {
				result.Status = StatusConformant
				r.ConformantTests++
			} else {
				result.Status = StatusDivergent
				r.DivergentTests = append(r.DivergentTests, Divergence{TestName: name, Outcomes: append([]Outcome(nil), group...)})
			}
		}
		r.Tests = append(r.Tests, result)
	}

	if r.BackendCount >= 2 {
		r.Mode = ModeConformance
		r.ConformancePercentage = percentage(r.ConformantTests, r.TotalTests)
	} else {
		r.Mode = ModePassRate
		r.ConformancePercentage = percentage(r.PassingTests, r.TotalTests)
	}

	return r
}

func missingBackends(expected []string, ran []string) []string {
	var missing []string
	for _, b := range expected {
		if !slices.Contains(ran, b) {
			missing = append(missing, b)
		}
	}
	return missing
}

func percentage(n int, total int) float64 {
	if total == 0 {
		return 0
	}
	return float64(n) / float64(total) * 100
}

// CategoryPasses counts tests whose name starts with prefix and that passed
// on every backend that ran them.
func (r *Report) CategoryPasses(prefix string) int {
	passes := 0
	for _, t := range r.Tests {
		if strings.HasPrefix(t.TestName, prefix) && t.allPassed() {
			passes++
		}
	}
	return passes
}

func (r *Report) categoryTotal(prefix string) int {
	total := 0
	for _, t := range r.Tests {
		if strings.HasPrefix(t.TestName, prefix) {
			total++
		}
	}
	return total
}

type Category struct {
	Name   string
	Prefix string
}

// DefaultCategories groups tests by the API surface their name prefix names.
var DefaultCategories = []Category{
	{Name: "Buffer Operations", Prefix: "buffer_"},
	{Name: "Texture Operations", Prefix: "texture_"},
	{Name: "Pipeline Creation", Prefix: "pipeline_"},
	{Name: "Draw Calls", Prefix: "draw_"},
	{Name: "Compute Dispatch", Prefix: "dispatch_"},
}

const rule = "========================================"

// WriteText writes the console summary of the report.
func (r *Report) WriteText(w io.Writer) error {
	var b strings.Builder

	fmt.Fprintf(&b, "\n%s\nBackend Conformance Test Report\n%s\n", rule, rule)
	fmt.Fprintf(&b, "Backends Tested: %d", r.BackendCount)
	if len(r.Backends) > 0 {
		fmt.Fprintf(&b, " (%s)", strings.Join(r.Backends, ", "))
	}
	fmt.Fprintf(&b, "\nTotal Tests: %d\nPassing Tests: %d\n", r.TotalTests, r.PassingTests)

	if r.Mode == ModeConformance {
		fmt.Fprintf(&b, "Conformant: %d\nConformance: %.1f%%\n", r.ConformantTests, r.ConformancePercentage)
	} else {
		fmt.Fprintf(&b, "Pass Rate: %.1f%%\n(Note: Conformance testing requires 2+ backends)\n", r.ConformancePercentage)
	}

	if len(r.DivergentTests) > 0 {
		b.WriteString("\nDivergent Behaviors:\n")
		for _, d := range r.DivergentTests {
			fmt.Fprintf(&b, "  - %s\n", d.TestName)
			for _, o := range d.Outcomes {
				status := "FAIL"
				if o.Passed {
					status = "PASS"
				}
				fmt.Fprintf(&b, "    %s [%s]: %s\n", o.Backend, status, o.ErrorMessage)
			}
		}
	}

	if len(r.IncompleteTests) > 0 {
		b.WriteString("\nIncomplete Coverage:\n")
		for _, i := range r.IncompleteTests {
			fmt.Fprintf(&b, "  - %s: missing %s\n", i.TestName, strings.Join(i.Missing, ", "))
		}
	}

	var categories strings.Builder
	for _, c := range DefaultCategories {
		if total := r.categoryTotal(c.Prefix); total > 0 {
			fmt.Fprintf(&categories, "  %s: %d/%d\n", c.Name, r.CategoryPasses(c.Prefix), total)
		}
	}
	if categories.Len() > 0 {
		b.WriteString("\nTest Results by Category:\n")
		b.WriteString(categories.String())
	}

	fmt.Fprintf(&b, "%s\n", rule)

	_, err := io.WriteString(w, b.String())
	return err
}
