package suite

import (
	"time"

	"gpu-conformance/internal/conformance"
	"gpu-conformance/internal/report"
)

type Summary struct {
	Report *conformance.Report `json:"report"`
	// Timings holds the render time per backend and case.
	Timings  map[string]map[string]time.Duration `json:"timings"`
	Skipped  []Skip                              `json:"skipped"`
	Results  []CaseResult                        `json:"results"`
	Backends []string                            `json:"backends"`
	Cases    []string                            `json:"cases"`
}

// MeanFrameTime is the mean render time of backend over its judged cases.
func (s *Summary) MeanFrameTime(backend string) (time.Duration, bool) {
	timings := s.Timings[backend]
	if len(timings) == 0 {
		return 0, false
	}
	var total time.Duration
	for _, d := range timings {
		total += d
	}
	return total / time.Duration(len(timings)), true
}

func (s *Summary) result(backend string, testName string) (CaseResult, bool) {
	for _, cr := range s.Results {
		if cr.Backend == backend && cr.TestName == testName {
			return cr, true
		}
	}
	return CaseResult{}, false
}

// BuildReport lays the summary out as an HTML report. The first two
// backends are the primary and secondary columns.
func (s *Summary) BuildReport(title string, opts report.Options) *report.Builder {
	var primary, secondary string
	if len(s.Backends) > 0 {
		primary = s.Backends[0]
	}
	if len(s.Backends) > 1 {
		secondary = s.Backends[1]
	}
	if opts.PrimaryLabel == "" {
		opts.PrimaryLabel = primary
	}
	if opts.SecondaryLabel == "" {
		opts.SecondaryLabel = secondary
	}

	b := report.NewBuilder(title, opts)

	if primaryTime, ok := s.MeanFrameTime(primary); ok {
		var secondaryMs *float64
		if secondaryTime, ok := s.MeanFrameTime(secondary); ok && secondary != "" {
			ms := milliseconds(secondaryTime)
			secondaryMs = &ms
		}
		b.AddMetricsTable(milliseconds(primaryTime), secondaryMs)
	}

	for _, name := range s.Cases {
		left, leftOK := s.result(primary, name)
		right, rightOK := s.result(secondary, name)
		if !leftOK || !rightOK || left.Result == nil || right.Result == nil {
			continue
		}
		if left.Result.ActualImagePath != "" && right.Result.ActualImagePath != "" {
			b.AddImagePair(left.Result.ActualImagePath, right.Result.ActualImagePath, name)
		}
	}

	for _, cr := range s.Results {
		if cr.Result != nil {
			b.AddComparison(cr.Backend+"/"+cr.TestName, cr.Result)
		}
	}

	if s.Report != nil {
		b.AddConformanceReport(s.Report)
	}

	return b
}

func milliseconds(d time.Duration) float64 {
	return float64(d) / float64(time.Millisecond)
}
