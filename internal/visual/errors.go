package visual

import (
	"errors"
	"fmt"
)

var (
	ErrReferenceNotFound = errors.New("reference not found")
	ErrDimensionMismatch = errors.New("dimension mismatch")
)

// ReferenceNotFoundError means no golden image exists and baseline mode is
// off. The comparison is inconclusive rather than failed.
type ReferenceNotFoundError struct {
	TestName string
	Path     string
}

func (e *ReferenceNotFoundError) Error() string {
	return fmt.Sprintf("reference image not found for %s at %s (set %s=1 to create it)", e.TestName, e.Path, UpdateReferencesEnv)
}

func (e *ReferenceNotFoundError) Is(target error) bool {
	return target == ErrReferenceNotFound
}

type Size struct {
	Width  uint32 `json:"width"`
	Height uint32 `json:"height"`
}

func (s Size) String() string {
	return fmt.Sprintf("%dx%d", s.Width, s.Height)
}

type DimensionMismatchError struct {
	Expected Size
	Actual   Size
}

func (e *DimensionMismatchError) Error() string {
	return fmt.Sprintf("image dimensions mismatch: expected %s, actual %s", e.Expected, e.Actual)
}

func (e *DimensionMismatchError) Is(target error) bool {
	return target == ErrDimensionMismatch
}

// IOError wraps a failure reading or writing a reference or an artifact.
type IOError struct {
	Op   string
	Path string
	Err  error
}

func (e *IOError) Error() string {
	return fmt.Sprintf("%s %s: %v", e.Op, e.Path, e.Err)
}

func (e *IOError) Unwrap() error {
	return e.Err
}
