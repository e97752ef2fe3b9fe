package visual

import (
	"math"

	"gpu-conformance/internal/env"
	diffimage "gpu-conformance/internal/diff/image"

	"golang.org/x/xerrors"
)

const (
	DefaultThreshold     = 0.01
	DefaultDiffOutputDir = "tests/visual_regression/output"

	// UpdateReferencesEnv switches comparisons into baseline mode when set
	// to a true value such as "1" or "true".
	UpdateReferencesEnv = "UPDATE_VISUAL_REFERENCES"
)

// Config controls a single comparison. It is a value: build one per call.
type Config struct {
	// Threshold is the largest difference still reported as a match.
	Threshold      float64
	DiffOutputDir  string
	UpdateBaseline bool
	// SaveActual writes the compared capture next to the diff artifact.
	SaveActual bool
	DiffStyle  string
}

func DefaultConfig() Config {
	return Config{
		Threshold:      DefaultThreshold,
		DiffOutputDir:  DefaultDiffOutputDir,
		UpdateBaseline: env.OrDefault(UpdateReferencesEnv, false),
		DiffStyle:      diffimage.StyleIntensity,
	}
}

func (c Config) validate() error {
	if math.IsNaN(c.Threshold) || c.Threshold < 0 {
		return xerrors.Errorf("invalid threshold %v", c.Threshold)
	}
	return nil
}
