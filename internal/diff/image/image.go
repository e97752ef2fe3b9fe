package image

import (
	"errors"
	"fmt"
	"image"

	"golang.org/x/xerrors"
)

// DiffResult carries a rendered difference artifact and the normalized
// absolute difference between two images.
type DiffResult struct {
	Image      image.Image
	DiffAmount float64
	Regions    []Rectangle
}

type Differ interface {
	Calculate(baseline image.Image, target image.Image) (*DiffResult, error)
}

var ErrDimensionMismatch = errors.New("image dimensions differ")

type DimensionError struct {
	Baseline image.Point
	Target   image.Point
}

func (e *DimensionError) Error() string {
	return fmt.Sprintf("image dimensions differ: baseline %dx%d, target %dx%d", e.Baseline.X, e.Baseline.Y, e.Target.X, e.Target.Y)
}

func (e *DimensionError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// NewDiffer returns the differ registered under style. An empty style
// selects the intensity differ.
func NewDiffer(style string) (Differ, error) {
	switch style {
	case "", StyleIntensity:
		return NewPixelDiff(), nil
	case StyleRectangle:
		return NewRectangleDiff(), nil
	default:
		return nil, xerrors.Errorf("unknown diff style: %q", style)
	}
}

const (
	StyleIntensity = "intensity"
	StyleRectangle = "rectangle"
)
