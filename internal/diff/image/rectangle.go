package image

import (
	"image"
	"image/color"
	"image/draw"
)

type Rectangle struct {
	X      int
	Y      int
	Width  int
	Height int
}

const (
	outlineThickness = 3
	mergeDistance    = 10
)

// RectangleDiff outlines every region of differing pixels on a copy of the
// target. DiffAmount is the same absolute metric PixelDiff reports.
type RectangleDiff struct{}

func NewRectangleDiff() *RectangleDiff {
	return &RectangleDiff{}
}

func (r *RectangleDiff) Calculate(baseline image.Image, target image.Image) (*DiffResult, error) {
	mask, sum, err := absoluteDifference(baseline, target)
	if err != nil {
		return nil, err
	}

	bounds := mask.Bounds()
	result := image.NewNRGBA(bounds)
	draw.Draw(result, bounds, target, target.Bounds().Min, draw.Src)

	rectangles := FindRectangles(mask)
	rectColor := color.NRGBA{R: 255, A: 255}
	for _, rect := range rectangles {
		outline(result, rect, rectColor)
	}

	return &DiffResult{
		Image:      result,
		DiffAmount: normalize(sum, bounds),
		Regions:    rectangles,
	}, nil
}

func outline(img *image.NRGBA, rect Rectangle, c color.NRGBA) {
	bounds := img.Bounds()
	set := func(x int, y int) {
		if (image.Point{X: x, Y: y}).In(bounds) {
			img.SetNRGBA(x, y, c)
		}
	}

	for thickness := 0; thickness < outlineThickness; thickness++ {
		top := rect.Y - thickness - 1
		bottom := rect.Y + rect.Height + thickness
		left := rect.X - thickness - 1
		right := rect.X + rect.Width + thickness

		for x := left; x <= right; x++ {
			set(x, top)
			set(x, bottom)
		}
		for y := top; y <= bottom; y++ {
			set(left, y)
			set(right, y)
		}
	}
}

// FindRectangles returns the bounding boxes of the 8-connected non-zero
// regions of mask, merging boxes that overlap or lie within a few pixels of
// each other.
func FindRectangles(mask *image.Gray) []Rectangle {
	bounds := mask.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()
	visited := make([]bool, width*height)

	var rectangles []Rectangle
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			if visited[y*width+x] || mask.GrayAt(bounds.Min.X+x, bounds.Min.Y+y).Y == 0 {
				continue
			}
			rectangles = append(rectangles, findBoundingBox(mask, visited, x, y))
		}
	}

	return mergeRectangles(rectangles)
}

func findBoundingBox(mask *image.Gray, visited []bool, startX int, startY int) Rectangle {
	bounds := mask.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	minX, minY, maxX, maxY := startX, startY, startX, startY
	queue := []image.Point{{X: startX, Y: startY}}
	visited[startY*width+startX] = true

	for head := 0; head < len(queue); head++ {
		point := queue[head]
		minX = min(minX, point.X)
		maxX = max(maxX, point.X)
		minY = min(minY, point.Y)
		maxY = max(maxY, point.Y)

		for dy := -1; dy <= 1; dy++ {
			for dx := -1; dx <= 1; dx++ {
				nx := point.X + dx
				ny := point.Y + dy
				if (dx == 0 && dy == 0) || nx < 0 || nx >= width || ny < 0 || ny >= height {
					continue
				}
				if visited[ny*width+nx] || mask.GrayAt(bounds.Min.X+nx, bounds.Min.Y+ny).Y == 0 {
					continue
				}
				visited[ny*width+nx] = true
				queue = append(queue, image.Point{X: nx, Y: ny})
			}
		}
	}

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX + 1,
		Height: maxY - minY + 1,
	}
}

func mergeRectangles(rects []Rectangle) []Rectangle {
	if len(rects) <= 1 {
		return rects
	}

	merged := make([]Rectangle, 0, len(rects))
	used := make([]bool, len(rects))

	for i := range rects {
		if used[i] {
			continue
		}

		current := rects[i]
		for mergedAny := true; mergedAny; {
			mergedAny = false
			for j := i + 1; j < len(rects); j++ {
				if used[j] || !rectanglesOverlap(current.expand(mergeDistance), rects[j].expand(mergeDistance)) {
					continue
				}
				current = combineRectangles(current, rects[j])
				used[j] = true
				mergedAny = true
			}
		}

		merged = append(merged, current)
	}

	return merged
}

func (r Rectangle) expand(n int) Rectangle {
	return Rectangle{X: r.X - n, Y: r.Y - n, Width: r.Width + 2*n, Height: r.Height + 2*n}
}

func rectanglesOverlap(r1 Rectangle, r2 Rectangle) bool {
	return !(r1.X+r1.Width <= r2.X || r2.X+r2.Width <= r1.X ||
		r1.Y+r1.Height <= r2.Y || r2.Y+r2.Height <= r1.Y)
}

func combineRectangles(r1 Rectangle, r2 Rectangle) Rectangle {
	minX := min(r1.X, r2.X)
	minY := min(r1.Y, r2.Y)
	maxX := max(r1.X+r1.Width, r2.X+r2.Width)
	maxY := max(r1.Y+r1.Height, r2.Y+r2.Height)

	return Rectangle{
		X:      minX,
		Y:      minY,
		Width:  maxX - minX,
		Height: maxY - minY,
	}
}
