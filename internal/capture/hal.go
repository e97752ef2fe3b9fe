package capture

import (
	"context"
	"time"
	"unsafe"

	"github.com/gogpu/gputypes"
	"github.com/gogpu/wgpu/hal"
	"golang.org/x/xerrors"
)

const (
	defaultWaitTimeout  = 5 * time.Second
	defaultPollInterval = time.Millisecond
)

type HALConfig struct {
	// WaitTimeout bounds the wait for the copy submission. A context deadline
	// that expires sooner takes precedence.
	WaitTimeout time.Duration
	// PollInterval is how often the queue is asked for completed submissions.
	PollInterval time.Duration
	// RowAlignment is the bytesPerRow multiple of the copy. Zero means
	// CopyBytesPerRowAlignment.
	RowAlignment uint32
	Label        string
}

func DefaultHALConfig() HALConfig {
	return HALConfig{
		WaitTimeout:  defaultWaitTimeout,
		PollInterval: defaultPollInterval,
		RowAlignment: CopyBytesPerRowAlignment,
		Label:        "frame_capture",
	}
}

type halCopier struct {
	device hal.Device
	queue  hal.Queue
	config HALConfig
}

// NewHALCopier reads textures back through a wgpu HAL device and queue.
func NewHALCopier(device hal.Device, queue hal.Queue, h HALConfig) Copier {
	if h.WaitTimeout <= 0 {
		h.WaitTimeout = defaultWaitTimeout
	}
	if h.PollInterval <= 0 {
		h.PollInterval = defaultPollInterval
	}
	if h.RowAlignment == 0 {
		h.RowAlignment = CopyBytesPerRowAlignment
	}
	if h.Label == "" {
		h.Label = "frame_capture"
	}
	return &halCopier{
		device: device,
		queue:  queue,
		config: h,
	}
}

func (c *halCopier) RowAlignment() uint32 {
	return c.config.RowAlignment
}

func (c *halCopier) CopyTextureToHost(ctx context.Context, target Target, bytesPerRow uint32) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	stagingBufSize := uint64(bytesPerRow) * uint64(target.Height)
	stagingBuf, err := c.device.CreateBuffer(&hal.BufferDescriptor{
		Label: c.config.Label + "_staging",
		Size:  stagingBufSize,
		Usage: gputypes.BufferUsageMapRead | gputypes.BufferUsageCopyDst,
	})
	if err != nil {
		return nil, xerrors.Errorf("failed to create staging buffer: %w", err)
	}

	encoder, err := c.device.CreateCommandEncoder(&hal.CommandEncoderDescriptor{
		Label: c.config.Label + "_encoder",
	})
	if err != nil {
		c.device.DestroyBuffer(stagingBuf)
		return nil, xerrors.Errorf("failed to create command encoder: %w", err)
	}
	if err := encoder.BeginEncoding(c.config.Label); err != nil {
		encoder.Destroy()
		c.device.DestroyBuffer(stagingBuf)
		return nil, xerrors.Errorf("failed to begin encoding: %w", err)
	}

	encoder.CopyTextureToBuffer(target.Texture, stagingBuf, []hal.BufferTextureCopy{{
		BufferLayout: hal.ImageDataLayout{Offset: 0, BytesPerRow: bytesPerRow, RowsPerImage: target.Height},
		TextureBase:  hal.ImageCopyTexture{Texture: target.Texture, MipLevel: 0},
		Size:         hal.Extent3D{Width: target.Width, Height: target.Height, DepthOrArrayLayers: 1},
	}})

	cmdBuf, err := encoder.EndEncoding()
	if err != nil {
		encoder.DiscardEncoding()
		encoder.Destroy()
		c.device.DestroyBuffer(stagingBuf)
		return nil, xerrors.Errorf("failed to end encoding: %w", err)
	}

	release := func() {
		c.device.FreeCommandBuffer(cmdBuf)
		encoder.Destroy()
		c.device.DestroyBuffer(stagingBuf)
	}

	submission, err := c.queue.Submit([]hal.CommandBuffer{cmdBuf})
	if err != nil {
		release()
		return nil, xerrors.Errorf("failed to submit copy: %w", err)
	}

	// Resources of a submission that never completed stay with the device;
	// freeing them while the GPU may still write is undefined.
	if err := c.waitForSubmission(ctx, submission); err != nil {
		return nil, err
	}
	defer release()

	mapping, err := c.device.MapBuffer(stagingBuf, 0, stagingBufSize)
	if err != nil {
		return nil, xerrors.Errorf("failed to map staging buffer: %w", err)
	}
	readback := make([]byte, stagingBufSize)
	copy(readback, unsafe.Slice((*byte)(mapping.Ptr), stagingBufSize))
	if err := c.device.UnmapBuffer(stagingBuf); err != nil {
		return nil, xerrors.Errorf("failed to unmap staging buffer: %w", err)
	}

	return readback, nil
}

// waitForSubmission polls the queue until submission completed, ctx is done
// or the wait timeout elapsed.
func (c *halCopier) waitForSubmission(ctx context.Context, submission uint64) error {
	if c.queue.PollCompleted() >= submission {
		return nil
	}

	timeout := time.NewTimer(c.config.WaitTimeout)
	defer timeout.Stop()
	ticker := time.NewTicker(c.config.PollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return xerrors.Errorf("GPU copy did not complete: %w", ctx.Err())
		case <-timeout.C:
			return xerrors.Errorf("GPU copy did not complete within %s: %w", c.config.WaitTimeout, hal.ErrTimeout)
		case <-ticker.C:
			if c.queue.PollCompleted() >= submission {
				return nil
			}
		}
	}
}
