// Package visual compares captured frames against golden references and
// writes diff artifacts for mismatches.
package visual

import (
	"context"
	"errors"
	"image"
	"log/slog"
	"path"

	"gpu-conformance/internal/capture"
	diffimage "gpu-conformance/internal/diff/image"
	"gpu-conformance/internal/logging"
	"gpu-conformance/internal/reference"
	"gpu-conformance/internal/storage"

	"golang.org/x/xerrors"
)

// Result is the outcome of one comparison.
type Result struct {
	IsMatch    bool    `json:"isMatch"`
	Difference float64 `json:"difference"`
	// DiffImagePath is empty unless a diff artifact was written.
	DiffImagePath string `json:"diffImagePath,omitempty"`
	// ActualImagePath is empty unless the capture itself was saved.
	ActualImagePath string `json:"actualImagePath,omitempty"`
	// Regions lists the outlined areas when the rectangle style is used.
	Regions []diffimage.Rectangle `json:"regions,omitempty"`
}

type Comparator struct {
	references *reference.Store
	artifacts  storage.Storage
	logger     *slog.Logger
}

type Option func(*Comparator)

// WithArtifacts stores diff and actual images on s under keys relative to
// Config.DiffOutputDir instead of the local filesystem.
func WithArtifacts(s storage.Storage) Option {
	return func(c *Comparator) {
		c.artifacts = s
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(c *Comparator) {
		c.logger = l
	}
}

// NewComparator returns a Comparator backed by refs. refs may be nil when
// only CompareImages is used.
func NewComparator(refs *reference.Store, opts ...Option) *Comparator {
	c := &Comparator{
		references: refs,
	}
	for _, opt := range opts {
		opt(c)
	}
	c.logger = logging.OrDiscard(c.logger)
	return c
}

// Compare checks captured against the golden image for testName.
func (c *Comparator) Compare(ctx context.Context, captured *capture.Image, testName string, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if c.references == nil {
		return nil, xerrors.New("comparator has no reference store")
	}

	referencePath := c.references.Resolve(testName)
	expected, err := c.references.Load(ctx, testName)
	switch {
	case errors.Is(err, reference.ErrNotFound):
		if !cfg.UpdateBaseline {
			return nil, &ReferenceNotFoundError{TestName: testName, Path: referencePath}
		}
		return c.createBaseline(ctx, captured, testName, cfg)
	case errors.Is(err, reference.ErrInvalidName):
		return nil, err
	case err != nil:
		var decodeErr *reference.DecodeError
		if errors.As(err, &decodeErr) {
			return nil, &IOError{Op: "decode reference", Path: referencePath, Err: decodeErr.Err}
		}
		return nil, &IOError{Op: "read reference", Path: referencePath, Err: err}
	}

	return c.compare(ctx, expected, captured, testName, cfg)
}

// CompareImages checks two captures against each other, typically the same
// frame rendered by two backends. No reference store is involved.
func (c *Comparator) CompareImages(ctx context.Context, left *capture.Image, right *capture.Image, testName string, cfg Config) (*Result, error) {
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	if err := reference.ValidateName(testName); err != nil {
		return nil, err
	}
	return c.compare(ctx, left, right, testName, cfg)
}

func (c *Comparator) createBaseline(ctx context.Context, captured *capture.Image, testName string, cfg Config) (*Result, error) {
	location, err := c.references.Save(ctx, testName, captured)
	if err != nil {
		return nil, &IOError{Op: "save reference", Path: c.references.Resolve(testName), Err: err}
	}
	c.logger.InfoContext(ctx, "reference created", slog.String("test", testName), slog.String("path", location))

	result := &Result{IsMatch: true}
	if cfg.SaveActual {
		if result.ActualImagePath, err = c.writeArtifact(ctx, cfg, testName+".png", captured.ToNRGBA()); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func (c *Comparator) compare(ctx context.Context, expected *capture.Image, actual *capture.Image, testName string, cfg Config) (*Result, error) {
	if expected.Width != actual.Width || expected.Height != actual.Height {
		return nil, &DimensionMismatchError{
			Expected: Size{Width: expected.Width, Height: expected.Height},
			Actual:   Size{Width: actual.Width, Height: actual.Height},
		}
	}

	differ, err := diffimage.NewDiffer(cfg.DiffStyle)
	if err != nil {
		return nil, err
	}
	actualImage := actual.ToNRGBA()
	diff, err := differ.Calculate(expected.ToNRGBA(), actualImage)
	if err != nil {
		return nil, xerrors.Errorf("failed to calculate difference: %w", err)
	}

	result := &Result{
		IsMatch:    diff.DiffAmount <= cfg.Threshold,
		Difference: diff.DiffAmount,
	}

	if cfg.SaveActual {
		if result.ActualImagePath, err = c.writeArtifact(ctx, cfg, testName+".png", actualImage); err != nil {
			return nil, err
		}
	}
	if !result.IsMatch {
		if result.DiffImagePath, err = c.writeArtifact(ctx, cfg, testName+"_diff.png", diff.Image); err != nil {
			return nil, err
		}
		result.Regions = diff.Regions
	}

	c.logger.DebugContext(ctx, "images compared",
		slog.String("test", testName),
		slog.Float64("difference", result.Difference),
		slog.Float64("threshold", cfg.Threshold),
		slog.Bool("match", result.IsMatch),
	)

	return result, nil
}

func (c *Comparator) writeArtifact(ctx context.Context, cfg Config, name string, img image.Image) (string, error) {
	data, err := reference.EncodePNG(img)
	if err != nil {
		return "", &IOError{Op: "encode artifact", Path: name, Err: err}
	}

	artifacts, key := c.artifacts, path.Join(cfg.DiffOutputDir, name)
	if artifacts == nil {
		if artifacts, err = storage.NewFileStorage(ctx, storage.FileConfig{Directory: cfg.DiffOutputDir}); err != nil {
			return "", &IOError{Op: "open artifact directory", Path: cfg.DiffOutputDir, Err: err}
		}
		key = name
	}

	location, err := artifacts.Put(ctx, key, data)
	if err != nil {
		return "", &IOError{Op: "write artifact", Path: key, Err: err}
	}
	return location, nil
}
