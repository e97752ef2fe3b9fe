// Package report renders visual and conformance results into a single
// self-contained HTML page.
package report

import (
	"bytes"
	"context"
	_ "embed"
	"fmt"
	"html/template"
	"io"
	"os"
	"path/filepath"
	"strings"

	"gpu-conformance/internal/conformance"
	"gpu-conformance/internal/storage"
	"gpu-conformance/internal/visual"

	"golang.org/x/xerrors"
)

//go:embed report.html.tmpl
var reportHTML string

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"join": strings.Join,
	"percent": func(v float64) string {
		return fmt.Sprintf("%.1f%%", v)
	},
}).Parse(reportHTML))

type Options struct {
	PrimaryLabel   string
	SecondaryLabel string
}

// Builder accumulates sections in insertion order. Rendering is
// deterministic: the same sections always produce the same bytes.
type Builder struct {
	title    string
	options  Options
	sections []section
}

type section struct {
	Title       string
	ImagePair   *imagePair
	Metrics     []metricsRow
	Comparisons []comparisonRow
	Conformance *conformance.Report
}

type imagePair struct {
	LeftPath   string
	RightPath  string
	LeftLabel  string
	RightLabel string
	Caption    string
}

type metricsRow struct {
	Label     string
	Available bool
	FrameTime string
	Relative  string
}

type comparisonRow struct {
	TestName      string
	IsMatch       bool
	Difference    string
	DiffImagePath string
}

func NewBuilder(title string, opts Options) *Builder {
	if opts.PrimaryLabel == "" {
		opts.PrimaryLabel = "primary"
	}
	if opts.SecondaryLabel == "" {
		opts.SecondaryLabel = "secondary"
	}
	return &Builder{
		title:   title,
		options: opts,
	}
}

func (b *Builder) AddImagePair(leftPath string, rightPath string, caption string) {
	b.sections = append(b.sections, section{
		Title: "Visual Comparison",
		ImagePair: &imagePair{
			LeftPath:   filepath.ToSlash(leftPath),
			RightPath:  filepath.ToSlash(rightPath),
			LeftLabel:  b.options.PrimaryLabel,
			RightLabel: b.options.SecondaryLabel,
			Caption:    caption,
		},
	})
}

// AddMetricsTable compares mean frame times in milliseconds. A nil or zero
// secondaryMs renders the secondary row as not available.
func (b *Builder) AddMetricsTable(primaryMs float64, secondaryMs *float64) {
	rows := []metricsRow{{
		Label:     b.options.PrimaryLabel,
		Available: true,
		FrameTime: fmt.Sprintf("%.2f ms", primaryMs),
		Relative:  "1.0x",
	}}
	if secondaryMs != nil && *secondaryMs != 0 {
		rows = append(rows, metricsRow{
			Label:     b.options.SecondaryLabel,
			Available: true,
			FrameTime: fmt.Sprintf("%.2f ms", *secondaryMs),
			Relative:  fmt.Sprintf("%.1fx", primaryMs / *secondaryMs),
		})
	} else {
		rows = append(rows, metricsRow{Label: b.options.SecondaryLabel})
	}

	b.sections = append(b.sections, section{
		Title:   "Performance Metrics",
		Metrics: rows,
	})
}

// AddComparison appends a row to the trailing comparison table, starting a
// new table when the previous section is something else.
func (b *Builder) AddComparison(testName string, result *visual.Result) {
	row := comparisonRow{
		TestName:      testName,
		IsMatch:       result.IsMatch,
		Difference:    fmt.Sprintf("%.4f", result.Difference),
		DiffImagePath: filepath.ToSlash(result.DiffImagePath),
	}
	if n := len(b.sections); n > 0 && b.sections[n-1].Comparisons != nil {
		b.sections[n-1].Comparisons = append(b.sections[n-1].Comparisons, row)
		return
	}
	b.sections = append(b.sections, section{
		Title:       "Image Comparisons",
		Comparisons: []comparisonRow{row},
	})
}

func (b *Builder) AddConformanceReport(r *conformance.Report) {
	b.sections = append(b.sections, section{
		Title:       "Backend Conformance",
		Conformance: r,
	})
}

func (b *Builder) Render(w io.Writer) error {
	if err := reportTemplate.Execute(w, struct {
		Title    string
		Sections []section
	}{
		Title:    b.title,
		Sections: b.sections,
	}); err != nil {
		return xerrors.Errorf("failed to render report: %w", err)
	}
	return nil
}

func (b *Builder) bytes() ([]byte, error) {
	var buf bytes.Buffer
	if err := b.Render(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// SaveTo writes the report to path, creating parent directories.
func (b *Builder) SaveTo(path string) error {
	data, err := b.bytes()
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return xerrors.Errorf("failed to create report directory: %w", err)
	}
	if err := os.WriteFile(path, data, 0644); err != nil {
		return xerrors.Errorf("failed to write report: %w", err)
	}
	return nil
}

// Publish uploads the report to s under key and returns its location.
func (b *Builder) Publish(ctx context.Context, s storage.Storage, key string) (string, error) {
	data, err := b.bytes()
	if err != nil {
		return "", err
	}
	location, err := s.Put(ctx, key, data)
	if err != nil {
		return "", xerrors.Errorf("failed to publish report: %w", err)
	}
	return location, nil
}
