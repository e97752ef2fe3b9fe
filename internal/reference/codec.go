package reference

import (
	"bytes"
	"image"
	"image/png"

	"golang.org/x/image/bmp"
	"golang.org/x/xerrors"
)

type Format string

const (
	FormatPNG Format = "png"
	FormatBMP Format = "bmp"
)

func ParseFormat(s string) (Format, error) {
	switch f := Format(s); f {
	case FormatPNG, FormatBMP:
		return f, nil
	default:
		return "", xerrors.Errorf("unsupported reference format: %q", s)
	}
}

type codec struct {
	encode func(img image.Image) ([]byte, error)
	decode func(data []byte) (image.Image, error)
	// alpha reports whether translucent pixels survive a round trip.
	alpha bool
}

func codecFor(f Format) (codec, error) {
	switch f {
	case FormatPNG:
		return codec{
			encode: func(img image.Image) ([]byte, error) {
				var buf bytes.Buffer
				if err := png.Encode(&buf, img); err != nil {
					return nil, err
				}
				return buf.Bytes(), nil
			},
			decode: func(data []byte) (image.Image, error) {
				return png.Decode(bytes.NewReader(data))
			},
			alpha: true,
		}, nil
	case FormatBMP:
		return codec{
			encode: func(img image.Image) ([]byte, error) {
				var buf bytes.Buffer
				if err := bmp.Encode(&buf, img); err != nil {
					return nil, err
				}
				return buf.Bytes(), nil
			},
			decode: func(data []byte) (image.Image, error) {
				return bmp.Decode(bytes.NewReader(data))
			},
		}, nil
	default:
		return codec{}, xerrors.Errorf("unsupported reference format: %q", f)
	}
}

// EncodePNG is the artifact codec shared by diff and actual-output images.
func EncodePNG(img image.Image) ([]byte, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, xerrors.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeImage decodes PNG or BMP data, sniffing the format from its header.
func DecodeImage(data []byte) (image.Image, error) {
	if bytes.HasPrefix(data, []byte("BM")) {
		return bmp.Decode(bytes.NewReader(data))
	}
	return png.Decode(bytes.NewReader(data))
}
