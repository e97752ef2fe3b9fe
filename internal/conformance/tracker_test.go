package conformance_test

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"gpu-conformance/internal/conformance"

	"github.com/google/go-cmp/cmp"
	"github.com/google/go-cmp/cmp/cmpopts"
)

func pass(backend, test string) conformance.Outcome {
	return conformance.Outcome{Backend: backend, TestName: test, Passed: true}
}

func fail(backend, test, message string) conformance.Outcome {
	return conformance.Outcome{Backend: backend, TestName: test, ErrorMessage: message}
}

func TestTracker_Report(t *testing.T) {
	t.Parallel()

	tracker := conformance.NewTracker()
	for _, o := range []conformance.Outcome{
		pass("A", "T1"), pass("B", "T1"),
		pass("A", "T2"), fail("B", "T2", "x"),
		fail("A", "T3", "e"), fail("B", "T3", "e"),
	} {
		tracker.Record(o)
	}

	want := &conformance.Report{
		TotalTests:      3,
		PassingTests:    2,
		ConformantTests: 2,
		DivergentTests: []conformance.Divergence{
			{TestName: "T2", Outcomes: []conformance.Outcome{pass("A", "T2"), fail("B", "T2", "x")}},
		},
		IncompleteTests:       []conformance.Incomplete{},
		ConformancePercentage: 200.0 / 3,
		Mode:                  conformance.ModeConformance,
		BackendCount:          2,
		Backends:              []string{"A", "B"},
	}
	got := tracker.Report()
	if diff := cmp.Diff(want, got, cmpopts.IgnoreFields(conformance.Report{}, "Tests"), cmpopts.EquateApprox(0, 1e-9)); diff != "" {
		t.Errorf("(-want +got):\n%s", diff)
	}
}

func TestTracker_SingleBackendPassRate(t *testing.T) {
	t.Parallel()

	tracker := conformance.NewTracker()
	tracker.Record(pass("A", "buffer_create"))
	tracker.Record(pass("A", "buffer_map"))
	tracker.Record(fail("A", "texture_copy", "unsupported"))
	tracker.Record(pass("A", "draw_triangle"))

	got := tracker.Report()
	if got.Mode != conformance.ModePassRate || got.BackendCount != 1 {
		t.Errorf("Mode = %s, BackendCount = %d", got.Mode, got.BackendCount)
	}
	if got.ConformancePercentage != 75 {
		t.Errorf("ConformancePercentage = %v, want 75", got.ConformancePercentage)
	}
	if got.ConformantTests != 0 || len(got.DivergentTests) != 0 {
		t.Errorf("single outcomes must not be classified: %+v", got)
	}
	if got.CategoryPasses("buffer_") != 2 || got.CategoryPasses("texture_") != 0 {
		t.Errorf("CategoryPasses: buffer=%d texture=%d", got.CategoryPasses("buffer_"), got.CategoryPasses("texture_"))
	}
}

func TestTracker_Empty(t *testing.T) {
	t.Parallel()

	got := conformance.NewTracker().Report()
	if got.TotalTests != 0 || got.ConformancePercentage != 0 {
		t.Errorf("empty report = %+v", got)
	}
}

func TestTracker_IncompleteCoverage(t *testing.T) {
	t.Parallel()

	t.Run("DistinctBackends", func(t *testing.T) {
		t.Parallel()

		tracker := conformance.NewTracker()
		// The first group alone would suggest a single backend.
		tracker.Record(pass("A", "T0"))
		tracker.Record(pass("A", "T1"))
		tracker.Record(pass("B", "T1"))

		got := tracker.Report()
		if got.BackendCount != 2 || got.Mode != conformance.ModeConformance {
			t.Errorf("BackendCount = %d, Mode = %s", got.BackendCount, got.Mode)
		}
		want := []conformance.Incomplete{{TestName: "T0", Backends: []string{"A"}, Missing: []string{"B"}}}
		if diff := cmp.Diff(want, got.IncompleteTests); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})

	t.Run("ExpectedBackends", func(t *testing.T) {
		t.Parallel()

		tracker := conformance.NewTracker(conformance.WithExpectedBackends("wgpu", "dawn", "wgpu"))
		tracker.Record(pass("wgpu", "T1"))

		got := tracker.Report()
		if diff := cmp.Diff([]string{"wgpu", "dawn"}, got.Backends); diff != "" {
			t.Errorf("Backends (-want +got):\n%s", diff)
		}
		want := []conformance.Incomplete{{TestName: "T1", Backends: []string{"wgpu"}, Missing: []string{"dawn"}}}
		if diff := cmp.Diff(want, got.IncompleteTests); diff != "" {
			t.Errorf("(-want +got):\n%s", diff)
		}
	})
}

func TestTracker_SnapshotIsolation(t *testing.T) {
	t.Parallel()

	tracker := conformance.NewTracker()
	tracker.Record(pass("A", "T1"))
	tracker.Record(fail("B", "T1", "boom"))

	report := tracker.Report()
	outcomes := tracker.Outcomes()

	tracker.Record(pass("A", "T2"))
	tracker.Record(pass("B", "T2"))
	outcomes[0].Passed = false

	if report.TotalTests != 1 || len(report.DivergentTests) != 1 {
		t.Errorf("report changed after later records: %+v", report)
	}
	if again := tracker.Report(); again.TotalTests != 2 || !tracker.Outcomes()[0].Passed {
		t.Errorf("tracker log affected by caller: %+v", again)
	}
	if diff := cmp.Diff(tracker.Report(), tracker.Report()); diff != "" {
		t.Errorf("Report must not mutate the log (-first +second):\n%s", diff)
	}
}

func TestTracker_ConcurrentRecord(t *testing.T) {
	t.Parallel()

	tracker := conformance.NewTracker()
	var wg sync.WaitGroup
	for b := 0; b < 4; b++ {
		wg.Add(1)
		go func(backend string) {
			defer wg.Done()
			for i := 0; i < 100; i++ {
				tracker.Record(pass(backend, fmt.Sprintf("T%03d", i)))
			}
		}(fmt.Sprintf("backend-%d", b))
	}
	wg.Wait()

	if got := len(tracker.Outcomes()); got != 400 {
		t.Fatalf("len(Outcomes()) = %d, want 400", got)
	}
	got := tracker.Report()
	if got.TotalTests != 100 || got.ConformantTests != 100 || got.ConformancePercentage != 100 {
		t.Errorf("report = %+v", got)
	}
}

func TestCollector(t *testing.T) {
	t.Parallel()

	tracker := conformance.NewTracker()
	collector := conformance.NewCollector(tracker, 4)

	done := make(chan error, 1)
	go func() {
		done <- collector.Run(context.Background())
	}()

	for i := 0; i < 10; i++ {
		collector.Outcomes() <- pass("A", fmt.Sprintf("T%d", i))
	}
	collector.Close()
	collector.Close()

	if err := <-done; err != nil {
		t.Fatal(err)
	}
	if got := len(tracker.Outcomes()); got != 10 {
		t.Errorf("recorded %d outcomes, want 10", got)
	}
}

func TestCollector_ContextCanceled(t *testing.T) {
	t.Parallel()

	collector := conformance.NewCollector(conformance.NewTracker(), 0)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if err := collector.Run(ctx); err != context.Canceled {
		t.Errorf("Run() = %v, want context.Canceled", err)
	}
}

func TestReport_WriteText(t *testing.T) {
	t.Parallel()

	tracker := conformance.NewTracker()
	tracker.Record(pass("wgpu", "buffer_create_vertex"))
	tracker.Record(pass("dawn", "buffer_create_vertex"))
	tracker.Record(pass("wgpu", "texture_create_2d"))
	tracker.Record(fail("dawn", "texture_create_2d", "format unsupported"))

	var b strings.Builder
	if err := tracker.Report().WriteText(&b); err != nil {
		t.Fatal(err)
	}
	out := b.String()

	for _, want := range []string{
		"Backends Tested: 2 (dawn, wgpu)",
		"Total Tests: 2",
		"Conformance: 50.0%",
		"  - texture_create_2d\n",
		"    dawn [FAIL]: format unsupported\n",
		"    wgpu [PASS]: \n",
		"  Buffer Operations: 1/1\n",
		"  Texture Operations: 0/1\n",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
	if strings.Contains(out, "Draw Calls") {
		t.Errorf("empty categories must be omitted:\n%s", out)
	}
}
