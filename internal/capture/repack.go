package capture

import "golang.org/x/xerrors"

// CopyBytesPerRowAlignment is the texture-to-buffer row pitch WebGPU and
// DX12 require.
const CopyBytesPerRowAlignment = 256

// AlignedBytesPerRow rounds width*bytesPerPixel up to the next multiple of
// alignment. An alignment of zero or one leaves rows unpadded.
func AlignedBytesPerRow(width uint32, bytesPerPixel uint32, alignment uint32) uint32 {
	bytesPerRow := width * bytesPerPixel
	if alignment <= 1 {
		return bytesPerRow
	}
	return (bytesPerRow + alignment - 1) / alignment * alignment
}

// StripRowPadding re-emits the first width*4 bytes of every padded row as a
// tightly packed buffer.
func StripRowPadding(padded []byte, width uint32, height uint32, alignedBytesPerRow uint32) ([]byte, error) {
	bytesPerRow := uint64(width) * bytesPerPixel
	if uint64(alignedBytesPerRow) < bytesPerRow {
		return nil, xerrors.Errorf("row pitch %d is smaller than row size %d", alignedBytesPerRow, bytesPerRow)
	}
	if want := uint64(alignedBytesPerRow) * uint64(height); uint64(len(padded)) < want {
		return nil, xerrors.Errorf("readback has %d bytes, want at least %d", len(padded), want)
	}

	tight := make([]byte, bytesPerRow*uint64(height))
	if uint64(alignedBytesPerRow) == bytesPerRow {
		copy(tight, padded)
		return tight, nil
	}

	for row := uint64(0); row < uint64(height); row++ {
		srcOff := row * uint64(alignedBytesPerRow)
		dstOff := row * bytesPerRow
		copy(tight[dstOff:dstOff+bytesPerRow], padded[srcOff:srcOff+bytesPerRow])
	}
	return tight, nil
}

func swizzleBGRA(pixels []byte) {
	for i := 0; i+3 < len(pixels); i += bytesPerPixel {
		pixels[i], pixels[i+2] = pixels[i+2], pixels[i]
	}
}
