// Package visualtest adapts visual comparisons to Go tests.
package visualtest

import (
	"context"
	"errors"
	"testing"

	"gpu-conformance/internal/capture"
	"gpu-conformance/internal/visual"
)

// RenderFunc produces the frame under test.
type RenderFunc func(ctx context.Context) (*capture.Image, error)

// AssertMatch fails tb when result is not a match.
func AssertMatch(tb testing.TB, testName string, result *visual.Result, threshold float64) {
	tb.Helper()

	if result == nil {
		tb.Errorf("%s: no comparison result", testName)
		return
	}
	if result.IsMatch {
		return
	}
	if result.DiffImagePath != "" {
		tb.Errorf("%s: visual mismatch, difference %.4f exceeds threshold %.4f, diff image: %s", testName, result.Difference, threshold, result.DiffImagePath)
		return
	}
	tb.Errorf("%s: visual mismatch, difference %.4f exceeds threshold %.4f", testName, result.Difference, threshold)
}

// Run renders a frame, compares it against the golden image for testName and
// asserts the match. A missing reference skips the test, since the result
// is inconclusive until the baseline is recorded.
func Run(tb testing.TB, comparator *visual.Comparator, testName string, cfg visual.Config, render RenderFunc) *visual.Result {
	tb.Helper()

	ctx := tb.Context()
	frame, err := render(ctx)
	if err != nil {
		tb.Fatalf("%s: render failed: %v", testName, err)
		return nil
	}

	result, err := comparator.Compare(ctx, frame, testName, cfg)
	if err != nil {
		if errors.Is(err, visual.ErrReferenceNotFound) {
			tb.Skipf("%s: %v", testName, err)
			return nil
		}
		tb.Fatalf("%s: comparison failed: %v", testName, err)
		return nil
	}

	AssertMatch(tb, testName, result, cfg.Threshold)
	return result
}
