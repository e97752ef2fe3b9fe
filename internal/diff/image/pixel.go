package image

import (
	"image"
	"image/color"
	"runtime"
	"sync"
	"sync/atomic"
)

const channels = 4

// PixelDiff measures the mean absolute per-channel difference and renders it
// as a grayscale intensity map.
type PixelDiff struct{}

func NewPixelDiff() *PixelDiff {
	return &PixelDiff{}
}

func (p *PixelDiff) Calculate(baseline image.Image, target image.Image) (*DiffResult, error) {
	intensity, sum, err := absoluteDifference(baseline, target)
	if err != nil {
		return nil, err
	}

	return &DiffResult{
		Image:      intensity,
		DiffAmount: normalize(sum, intensity.Bounds()),
	}, nil
}

// DiffAmount is Σ|b−t| over every pixel and channel divided by w·h·4·255.
func DiffAmount(baseline image.Image, target image.Image) (float64, error) {
	intensity, sum, err := absoluteDifference(baseline, target)
	if err != nil {
		return 0, err
	}
	return normalize(sum, intensity.Bounds()), nil
}

func normalize(sum uint64, bounds image.Rectangle) float64 {
	total := float64(bounds.Dx()) * float64(bounds.Dy()) * channels * 255
	if total == 0 {
		return 0
	}
	return float64(sum) / total
}

// absoluteDifference returns a mask whose pixels hold the rounded-up mean
// channel delta, so a pixel is non-zero exactly when any channel differs.
func absoluteDifference(baseline image.Image, target image.Image) (*image.Gray, uint64, error) {
	baselineBounds := baseline.Bounds()
	targetBounds := target.Bounds()
	if baselineBounds.Dx() != targetBounds.Dx() || baselineBounds.Dy() != targetBounds.Dy() {
		return nil, 0, &DimensionError{Baseline: baselineBounds.Size(), Target: targetBounds.Size()}
	}

	width := baselineBounds.Dx()
	height := baselineBounds.Dy()
	diff := image.NewGray(image.Rect(0, 0, width, height))
	if width == 0 || height == 0 || baseline == target {
		return diff, 0, nil
	}

	baselineNRGBA, baselineIsNRGBA := baseline.(*image.NRGBA)
	targetNRGBA, targetIsNRGBA := target.(*image.NRGBA)

	// Use GOMAXPROCS instead of runtime.NumCPU() to consider cgroup.
	// https://tip.golang.org/doc/go1.25#container-aware-gomaxprocs
	numWorkers := runtime.GOMAXPROCS(0)
	if numWorkers > height {
		numWorkers = height
	}
	rowsPerWorker := height / numWorkers

	var sum atomic.Uint64
	var wg sync.WaitGroup
	wg.Add(numWorkers)

	for i := 0; i < numWorkers; i++ {
		startY := i * rowsPerWorker
		endY := startY + rowsPerWorker
		if i == numWorkers-1 {
			endY = height
		}

		go func(startY int, endY int) {
			defer wg.Done()

			var local uint64
			if baselineIsNRGBA && targetIsNRGBA {
				local = processNRGBA(baselineNRGBA, targetNRGBA, diff, startY, endY)
			} else {
				local = processGeneric(baseline, target, diff, startY, endY)
			}
			sum.Add(local)
		}(startY, endY)
	}

	wg.Wait()

	return diff, sum.Load(), nil
}

func processNRGBA(baseline *image.NRGBA, target *image.NRGBA, diff *image.Gray, startY int, endY int) uint64 {
	width := diff.Rect.Dx()
	baselineMin := baseline.Rect.Min
	targetMin := target.Rect.Min

	var sum uint64
	for y := startY; y < endY; y++ {
		baselineRow := baseline.Pix[baseline.PixOffset(baselineMin.X, baselineMin.Y+y):][:width*channels]
		targetRow := target.Pix[target.PixOffset(targetMin.X, targetMin.Y+y):][:width*channels]
		diffRow := diff.Pix[diff.PixOffset(0, y):][:width]
		sum += diffRows(baselineRow, targetRow, diffRow)
	}
	return sum
}

func processGeneric(baseline image.Image, target image.Image, diff *image.Gray, startY int, endY int) uint64 {
	width := diff.Rect.Dx()
	baselineMin := baseline.Bounds().Min
	targetMin := target.Bounds().Min
	baselineRow := make([]uint8, width*channels)
	targetRow := make([]uint8, width*channels)

	var sum uint64
	for y := startY; y < endY; y++ {
		for x := 0; x < width; x++ {
			putNRGBA(baselineRow[x*channels:], baseline.At(baselineMin.X+x, baselineMin.Y+y))
			putNRGBA(targetRow[x*channels:], target.At(targetMin.X+x, targetMin.Y+y))
		}
		sum += diffRows(baselineRow, targetRow, diff.Pix[diff.PixOffset(0, y):][:width])
	}
	return sum
}

func putNRGBA(dst []uint8, c color.Color) {
	n := color.NRGBAModel.Convert(c).(color.NRGBA)
	dst[0] = n.R
	dst[1] = n.G
	dst[2] = n.B
	dst[3] = n.A
}

func diffRows(baseline []uint8, target []uint8, out []uint8) uint64 {
	var sum uint64
	for x := range out {
		offset := x * channels
		var delta uint32
		for c := 0; c < channels; c++ {
			delta += absDiff(baseline[offset+c], target[offset+c])
		}
		sum += uint64(delta)
		out[x] = uint8((delta + channels - 1) / channels)
	}
	return sum
}

func absDiff(a uint8, b uint8) uint32 {
	if a > b {
		return uint32(a - b)
	}
	return uint32(b - a)
}
