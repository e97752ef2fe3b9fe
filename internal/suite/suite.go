// Package suite runs render cases on several backends, compares every frame
// against its golden image and aggregates the outcomes.
package suite

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"time"

	"gpu-conformance/internal/capture"
	"gpu-conformance/internal/conformance"
	"gpu-conformance/internal/logging"
	"gpu-conformance/internal/visual"

	"golang.org/x/sync/errgroup"
)

type Backend interface {
	Name() string
}

// Case renders one frame on a backend. The frame is compared against the
// golden image named after the case.
type Case struct {
	Name   string
	Render func(ctx context.Context, backend Backend) (*capture.Image, error)
}

type Runner struct {
	Comparator *visual.Comparator
	// Tracker receives every outcome. A fresh Tracker is used when nil.
	Tracker *conformance.Tracker
	// Config is applied per backend with DiffOutputDir suffixed by the
	// backend name, so artifacts of concurrent backends never collide.
	Config visual.Config
	Logger *slog.Logger
}

// Skip is a case that could not be judged because no golden image exists.
type Skip struct {
	Backend  string `json:"backend"`
	TestName string `json:"testName"`
	Reason   string `json:"reason"`
}

type CaseResult struct {
	Backend  string         `json:"backend"`
	TestName string         `json:"testName"`
	Elapsed  time.Duration  `json:"elapsed"`
	Result   *visual.Result `json:"result,omitempty"`
	Error    string         `json:"error,omitempty"`
}

// Run executes backends concurrently and cases sequentially per backend. A
// failing case is recorded and the run continues; only ctx cancellation
// aborts it.
func (r *Runner) Run(ctx context.Context, backends []Backend, cases []Case) (*Summary, error) {
	logger := logging.OrDiscard(r.Logger)
	tracker := r.Tracker
	if tracker == nil {
		tracker = conformance.NewTracker()
	}

	results := make([][]CaseResult, len(backends))
	skips := make([][]Skip, len(backends))

	eg, ctx := errgroup.WithContext(ctx)
	for i, backend := range backends {
		eg.Go(func() error {
			cfg := r.Config
			cfg.DiffOutputDir = filepath.Join(cfg.DiffOutputDir, backend.Name())
			logger := logger.With(slog.String("backend", backend.Name()))

			for _, c := range cases {
				if err := ctx.Err(); err != nil {
					return err
				}

				caseResult, skip, err := r.runCase(ctx, backend, c, cfg)
				if err != nil {
					return err
				}
				if skip != nil {
					logger.WarnContext(ctx, "case skipped", slog.String("test", c.Name), slog.String("reason", skip.Reason))
					skips[i] = append(skips[i], *skip)
					continue
				}

				tracker.Record(outcome(caseResult, cfg.Threshold))
				logger.InfoContext(ctx, "case finished",
					slog.String("test", c.Name),
					slog.Duration("elapsed", caseResult.Elapsed),
					slog.Bool("passed", caseResult.Error == "" && caseResult.Result.IsMatch),
				)
				results[i] = append(results[i], caseResult)
			}
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	summary := &Summary{
		Report:  tracker.Report(),
		Timings: make(map[string]map[string]time.Duration, len(backends)),
	}
	for i, backend := range backends {
		summary.Backends = append(summary.Backends, backend.Name())
		timings := make(map[string]time.Duration, len(results[i]))
		for _, cr := range results[i] {
			timings[cr.TestName] = cr.Elapsed
		}
		summary.Timings[backend.Name()] = timings
		summary.Results = append(summary.Results, results[i]...)
		summary.Skipped = append(summary.Skipped, skips[i]...)
	}
	for _, c := range cases {
		summary.Cases = append(summary.Cases, c.Name)
	}

	return summary, nil
}

// runCase returns an error only when ctx ended.
func (r *Runner) runCase(ctx context.Context, backend Backend, c Case, cfg visual.Config) (CaseResult, *Skip, error) {
	caseResult := CaseResult{Backend: backend.Name(), TestName: c.Name}

	start := time.Now()
	img, err := c.Render(ctx, backend)
	caseResult.Elapsed = time.Since(start)

	var result *visual.Result
	if err == nil {
		result, err = r.Comparator.Compare(ctx, img, c.Name, cfg)
	}

	switch {
	case errors.Is(err, visual.ErrReferenceNotFound):
		return caseResult, &Skip{Backend: backend.Name(), TestName: c.Name, Reason: err.Error()}, nil
	case ctx.Err() != nil:
		return caseResult, nil, ctx.Err()
	case err != nil:
		caseResult.Error = err.Error()
	default:
		caseResult.Result = result
	}
	return caseResult, nil, nil
}

func outcome(cr CaseResult, threshold float64) conformance.Outcome {
	o := conformance.Outcome{Backend: cr.Backend, TestName: cr.TestName}
	switch {
	case cr.Error != "":
		o.ErrorMessage = cr.Error
	case cr.Result.IsMatch:
		o.Passed = true
	default:
		o.ErrorMessage = fmt.Sprintf("difference %.4f exceeds threshold %.4f", cr.Result.Difference, threshold)
	}
	return o
}
