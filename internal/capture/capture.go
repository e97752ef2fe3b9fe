package capture

import (
	"context"
	"image"
	"image/draw"
	"log/slog"

	"gpu-conformance/internal/logging"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/xerrors"
)

const bytesPerPixel = 4

// Image is a tightly packed RGBA8 frame read back from the GPU. Rows are
// stored top to bottom without padding.
type Image struct {
	Width  uint32
	Height uint32
	Pixels []byte
}

// NewImage validates that pixels holds exactly width*height RGBA8 texels.
func NewImage(width uint32, height uint32, pixels []byte) (*Image, error) {
	if want := uint64(width) * uint64(height) * bytesPerPixel; uint64(len(pixels)) != want {
		return nil, xerrors.Errorf("pixel buffer has %d bytes, want %d for %dx%d", len(pixels), want, width, height)
	}
	return &Image{
		Width:  width,
		Height: height,
		Pixels: pixels,
	}, nil
}

// FromImage converts any decoded image into a packed RGBA8 Image with
// straight (non-premultiplied) alpha.
func FromImage(img image.Image) *Image {
	bounds := img.Bounds()
	width := bounds.Dx()
	height := bounds.Dy()

	if nrgba, ok := img.(*image.NRGBA); ok && nrgba.Stride == width*bytesPerPixel {
		pixels := make([]byte, width*height*bytesPerPixel)
		copy(pixels, nrgba.Pix[nrgba.PixOffset(bounds.Min.X, bounds.Min.Y):])
		return &Image{Width: uint32(width), Height: uint32(height), Pixels: pixels}
	}

	converted := image.NewNRGBA(image.Rect(0, 0, width, height))
	draw.Draw(converted, converted.Bounds(), img, bounds.Min, draw.Src)
	return &Image{Width: uint32(width), Height: uint32(height), Pixels: converted.Pix}
}

// ToNRGBA returns a copy of the frame as an *image.NRGBA anchored at the origin.
func (i *Image) ToNRGBA() *image.NRGBA {
	img := image.NewNRGBA(image.Rect(0, 0, int(i.Width), int(i.Height)))
	copy(img.Pix, i.Pixels)
	return img
}

// Target describes the texture to read back. The texture must be a single
// mip, single layer 2D texture created with CopySrc usage and already moved
// into a copy-source state by the caller.
type Target struct {
	Texture hal.Texture
	Width   uint32
	Height  uint32
	Format  gputypes.TextureFormat
}

// Copier is the GPU boundary of a capture: it copies the texture into host
// memory using rows of bytesPerRow bytes and returns only after the GPU has
// finished writing them.
type Copier interface {
	RowAlignment() uint32
	CopyTextureToHost(ctx context.Context, target Target, bytesPerRow uint32) ([]byte, error)
}

type Capturer interface {
	Capture(ctx context.Context, target Target) (*Image, error)
}

type capturer struct {
	copier Copier
	logger *slog.Logger
}

func NewCapturer(copier Copier, logger *slog.Logger) Capturer {
	return &capturer{
		copier: copier,
		logger: logging.OrDiscard(logger),
	}
}

func (c *capturer) Capture(ctx context.Context, target Target) (*Image, error) {
	if target.Width == 0 || target.Height == 0 {
		return nil, newError("validate target", xerrors.Errorf("texture has empty extent %dx%d", target.Width, target.Height))
	}
	swizzle, err := needsSwizzle(target.Format)
	if err != nil {
		return nil, newError("validate target", err)
	}

	alignedBytesPerRow := AlignedBytesPerRow(target.Width, bytesPerPixel, c.copier.RowAlignment())

	padded, err := c.copier.CopyTextureToHost(ctx, target, alignedBytesPerRow)
	if err != nil {
		return nil, newError("copy texture", err)
	}

	pixels, err := StripRowPadding(padded, target.Width, target.Height, alignedBytesPerRow)
	if err != nil {
		return nil, newError("repack rows", err)
	}
	if swizzle {
		swizzleBGRA(pixels)
	}

	c.logger.Debug("texture captured",
		slog.Int("width", int(target.Width)),
		slog.Int("height", int(target.Height)),
		slog.Int("bytesPerRow", int(alignedBytesPerRow)),
	)

	return &Image{
		Width:  target.Width,
		Height: target.Height,
		Pixels: pixels,
	}, nil
}

func needsSwizzle(format gputypes.TextureFormat) (bool, error) {
	switch format {
	case gputypes.TextureFormatRGBA8Unorm:
		return false, nil
	case gputypes.TextureFormatBGRA8Unorm:
		return true, nil
	default:
		return false, xerrors.Errorf("unsupported texture format %v", format)
	}
}
