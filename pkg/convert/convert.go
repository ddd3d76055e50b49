// Package convert turns captured frames into JPEG images ready to stream.
//
// Frames wider than the compression threshold are forwarded untouched when the
// sensor already produced JPEG, or encoded straight from the raw format.
// Smaller frames go through an RGB888 matrix first and are encoded at a higher
// quality.
package convert

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"sync"

	"github.com/wachiwi/camstream/pkg/sensor"
)

const (
	CompressionThreshold = 400
	LargeFrameQuality    = 80
	SmallFrameQuality    = 90
)

// ReleasePolicy tells how a JPEG handle gives its bytes back.
type ReleasePolicy int

const (
	// DriverOwned bytes belong to a frame buffer that goes back to the driver.
	DriverOwned ReleasePolicy = iota
	// HeapOwned bytes were produced by the encoder and go back to the buffer pool.
	HeapOwned
)

func (p ReleasePolicy) String() string {
	if p == DriverOwned {
		return "driver"
	}
	return "heap"
}

// JPEG is a scoped handle on encoded bytes. Release must be called exactly
// once the bytes are written; further calls are ignored.
type JPEG struct {
	data    []byte
	policy  ReleasePolicy
	release func()
	once    sync.Once
}

func (j *JPEG) Bytes() []byte         { return j.data }
func (j *JPEG) Len() int              { return len(j.data) }
func (j *JPEG) Policy() ReleasePolicy { return j.policy }
func (j *JPEG) Release()              { j.once.Do(j.release) }

// Encoder writes img as JPEG.
type Encoder interface {
	Encode(w io.Writer, img image.Image, quality int) error
}

// StdEncoder encodes with image/jpeg.
type StdEncoder struct{}

func (StdEncoder) Encode(w io.Writer, img image.Image, quality int) error {
	return jpeg.Encode(w, img, &jpeg.Options{Quality: quality})
}

// Allocator hands out RGB888 matrices for small-frame conversion.
type Allocator interface {
	Alloc(width, height int) (*Matrix, error)
	Free(m *Matrix)
}

// PoolAllocator recycles matrix storage between frames.
type PoolAllocator struct {
	pool sync.Pool
}

func (a *PoolAllocator) Alloc(width, height int) (*Matrix, error) {
	if width <= 0 || height <= 0 {
		return nil, fmt.Errorf("invalid matrix size %dx%d", width, height)
	}
	size := width * height * 3
	if v, ok := a.pool.Get().(*Matrix); ok && cap(v.Pix) >= size {
		v.Width, v.Height, v.Pix = width, height, v.Pix[:size]
		return v, nil
	}
	return &Matrix{Width: width, Height: height, Pix: make([]byte, size)}, nil
}

func (a *PoolAllocator) Free(m *Matrix) {
	if m != nil {
		a.pool.Put(m)
	}
}

// Pipeline converts frame buffers to JPEG handles. It is safe for use by one
// stream at a time; the pools it holds are safe for concurrent use.
type Pipeline struct {
	Threshold    int
	LargeQuality int
	SmallQuality int
	Encoder      Encoder
	Allocator    Allocator

	buffers sync.Pool
}

func NewPipeline() *Pipeline {
	return &Pipeline{
		Threshold:    CompressionThreshold,
		LargeQuality: LargeFrameQuality,
		SmallQuality: SmallFrameQuality,
		Encoder:      StdEncoder{},
		Allocator:    &PoolAllocator{},
	}
}

// Convert takes ownership of fb. On every path, success or error, fb is
// handed to release exactly once: immediately when new bytes were encoded, or
// through the returned handle when fb's own bytes are forwarded.
func (p *Pipeline) Convert(fb *sensor.FrameBuffer, release func(*sensor.FrameBuffer)) (*JPEG, error) {
	if fb == nil {
		return nil, errors.New("nil frame buffer")
	}

	if fb.Width > p.Threshold {
		if fb.Format == sensor.PixelFormatJPEG {
			return p.forward(fb, release), nil
		}
		img, err := frameImage(fb)
		if err != nil {
			release(fb)
			return nil, fmt.Errorf("frame to image: %w", err)
		}
		j, err := p.encode(img, p.LargeQuality)
		release(fb)
		if err != nil {
			return nil, fmt.Errorf("jpeg compression failed: %w", err)
		}
		return j, nil
	}

	m, err := p.Allocator.Alloc(fb.Width, fb.Height)
	if err != nil {
		release(fb)
		return nil, fmt.Errorf("matrix alloc failed: %w", err)
	}
	defer p.Allocator.Free(m)

	if err := toRGB888(fb, m); err != nil {
		release(fb)
		return nil, fmt.Errorf("rgb888 conversion failed: %w", err)
	}
	if fb.Format == sensor.PixelFormatJPEG {
		return p.forward(fb, release), nil
	}
	j, err := p.encode(m, p.SmallQuality)
	release(fb)
	if err != nil {
		return nil, fmt.Errorf("rgb888 to jpeg failed: %w", err)
	}
	return j, nil
}

func (p *Pipeline) forward(fb *sensor.FrameBuffer, release func(*sensor.FrameBuffer)) *JPEG {
	return &JPEG{
		data:    fb.Buf,
		policy:  DriverOwned,
		release: func() { release(fb) },
	}
}

func (p *Pipeline) encode(img image.Image, quality int) (*JPEG, error) {
	buf, _ := p.buffers.Get().(*bytes.Buffer)
	if buf == nil {
		buf = new(bytes.Buffer)
	}
	buf.Reset()
	if err := p.Encoder.Encode(buf, img, quality); err != nil {
		p.buffers.Put(buf)
		return nil, err
	}
	return &JPEG{
		data:    buf.Bytes(),
		policy:  HeapOwned,
		release: func() { p.buffers.Put(buf) },
	}, nil
}
