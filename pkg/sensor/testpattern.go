package sensor

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/jpeg"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// TestPattern is a software sensor. It renders a gradient with a frame counter
// in whatever pixel format it was initialized with, so the whole stream path can
// run on hosts without camera hardware.
//
// It hands out at most FrameBufferCount frames at a time, like the hardware
// driver: a caller that forgets to Release sees ErrNoFrameBuffer.
type TestPattern struct {
	mu          sync.Mutex
	id          SensorID
	interval    time.Duration
	initialized bool
	cfg         Config
	regs        registers
	outstanding int
	frames      uint64
	lastFrame   time.Time
}

type registers struct {
	frameSize     FrameSize
	quality       int
	contrast      int
	brightness    int
	saturation    int
	gainCeiling   GainCeiling
	colorBar      int
	whiteBal      int
	gainCtrl      int
	exposureCtrl  int
	hmirror       int
	vflip         int
	awbGain       int
	agcGain       int
	aecValue      int
	aec2          int
	dcw           int
	bpc           int
	wpc           int
	rawGMA        int
	lensCorr      int
	specialEffect int
	wbMode        int
	aeLevel       int
}

// NewTestPattern creates a software sensor reporting id. interval paces
// Acquire; zero means frames are produced as fast as they are requested.
func NewTestPattern(id SensorID, interval time.Duration) *TestPattern {
	return &TestPattern{
		id:       id,
		interval: interval,
	}
}

func (t *TestPattern) Init(cfg Config) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if !cfg.FrameSize.Valid() {
		return fmt.Errorf("invalid frame size %d", cfg.FrameSize)
	}
	if _, ok := pixelFormatNames[cfg.PixelFormat]; !ok {
		return fmt.Errorf("unsupported pixel format %s", cfg.PixelFormat)
	}
	if cfg.FrameBufferCount < 1 {
		cfg.FrameBufferCount = 1
	}
	t.cfg = cfg
	t.regs = registers{
		frameSize:    cfg.FrameSize,
		quality:      cfg.JPEGQuality,
		whiteBal:     1,
		awbGain:      1,
		gainCtrl:     1,
		exposureCtrl: 1,
		aecValue:     300,
		bpc:          0,
		wpc:          1,
		rawGMA:       1,
		lensCorr:     1,
		dcw:          1,
	}
	t.outstanding = 0
	t.initialized = true
	slog.Debug("Test pattern sensor initialized", "format", cfg.PixelFormat, "framesize", cfg.FrameSize)
	return nil
}

func (t *TestPattern) Deinit() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.initialized = false
	t.outstanding = 0
	return nil
}

func (t *TestPattern) Acquire() (*FrameBuffer, error) {
	t.mu.Lock()
	if !t.initialized {
		t.mu.Unlock()
		return nil, ErrNotInitialized
	}
	if t.outstanding >= t.cfg.FrameBufferCount {
		t.mu.Unlock()
		return nil, ErrNoFrameBuffer
	}
	t.outstanding++
	wait := time.Until(t.lastFrame.Add(t.interval))
	t.mu.Unlock()

	if wait > 0 {
		time.Sleep(wait)
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	t.frames++
	t.lastFrame = time.Now()

	img := t.render()
	buf, err := t.pack(img)
	if err != nil {
		t.outstanding--
		return nil, err
	}
	b := img.Bounds()
	return &FrameBuffer{
		Buf:       buf,
		Width:     b.Dx(),
		Height:    b.Dy(),
		Format:    t.cfg.PixelFormat,
		Timestamp: t.lastFrame,
	}, nil
}

func (t *TestPattern) Release(fb *FrameBuffer) {
	if fb == nil {
		return
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.outstanding > 0 {
		t.outstanding--
	}
}

func (t *TestPattern) Sensor() Sensor {
	t.mu.Lock()
	defer t.mu.Unlock()
	if !t.initialized {
		return nil
	}
	return &patternSensor{t: t}
}

// render draws the current frame. Callers hold t.mu.
func (t *TestPattern) render() *image.RGBA {
	w, h := t.regs.frameSize.Dimensions()
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	shift := byte(t.frames % 256)
	offset := t.regs.brightness*24 + t.regs.aeLevel*12

	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			sx, sy := x, y
			if t.regs.hmirror == 1 {
				sx = w - 1 - x
			}
			if t.regs.vflip == 1 {
				sy = h - 1 - y
			}
			var r, g, b int
			if t.regs.colorBar == 1 {
				r, g, b = colorBar(sx, w)
			} else {
				r = int(shift)
				g = (sx * 255) / w
				b = (sy * 255) / h
			}
			i := y*img.Stride + x*4
			img.Pix[i] = clamp8(r + offset)
			img.Pix[i+1] = clamp8(g + offset)
			img.Pix[i+2] = clamp8(b + offset)
			img.Pix[i+3] = 255
		}
	}

	d := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(4, 14),
	}
	d.DrawString(fmt.Sprintf("frame %d", t.frames))
	return img
}

func colorBar(x, w int) (int, int, int) {
	bars := [8][3]int{
		{255, 255, 255}, {255, 255, 0}, {0, 255, 255}, {0, 255, 0},
		{255, 0, 255}, {255, 0, 0}, {0, 0, 255}, {0, 0, 0},
	}
	c := bars[(x*8)/w]
	return c[0], c[1], c[2]
}

func clamp8(v int) byte {
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return byte(v)
}

// pack serializes img in the configured pixel format. Callers hold t.mu.
func (t *TestPattern) pack(img *image.RGBA) ([]byte, error) {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	switch t.cfg.PixelFormat {
	case PixelFormatJPEG:
		var buf bytes.Buffer
		if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: jpegQuality(t.regs.quality)}); err != nil {
			return nil, fmt.Errorf("failed to encode JPEG: %w", err)
		}
		return buf.Bytes(), nil
	case PixelFormatRGB888:
		out := make([]byte, 0, w*h*3)
		for i := 0; i < len(img.Pix); i += 4 {
			out = append(out, img.Pix[i], img.Pix[i+1], img.Pix[i+2])
		}
		return out, nil
	case PixelFormatRGB565:
		out := make([]byte, 0, w*h*2)
		for i := 0; i < len(img.Pix); i += 4 {
			r, g, bl := uint16(img.Pix[i]), uint16(img.Pix[i+1]), uint16(img.Pix[i+2])
			v := (r>>3)<<11 | (g>>2)<<5 | bl>>3
			out = append(out, byte(v>>8), byte(v))
		}
		return out, nil
	case PixelFormatGrayscale:
		out := make([]byte, 0, w*h)
		for i := 0; i < len(img.Pix); i += 4 {
			y, _, _ := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
			out = append(out, y)
		}
		return out, nil
	case PixelFormatYUV422:
		out := make([]byte, 0, w*h*2)
		for y := 0; y < h; y++ {
			for x := 0; x+1 < w; x += 2 {
				i := y*img.Stride + x*4
				y0, cb, cr := color.RGBToYCbCr(img.Pix[i], img.Pix[i+1], img.Pix[i+2])
				y1, _, _ := color.RGBToYCbCr(img.Pix[i+4], img.Pix[i+5], img.Pix[i+6])
				out = append(out, y0, cb, y1, cr)
			}
		}
		return out, nil
	default:
		return nil, fmt.Errorf("unsupported pixel format %s", t.cfg.PixelFormat)
	}
}

// jpegQuality maps the driver scale (0 best .. 63 worst) onto image/jpeg's 1..100.
func jpegQuality(q int) int {
	v := 100 - (q*100)/63
	if v < 1 {
		return 1
	}
	if v > 100 {
		return 100
	}
	return v
}

type patternSensor struct {
	t *TestPattern
}

func (s *patternSensor) set(dst *int, v, lo, hi int) int {
	if v < lo || v > hi {
		return Fail
	}
	s.t.mu.Lock()
	*dst = v
	s.t.mu.Unlock()
	return OK
}

func (s *patternSensor) ID() SensorID { return s.t.id }

func (s *patternSensor) PixelFormat() PixelFormat {
	s.t.mu.Lock()
	defer s.t.mu.Unlock()
	return s.t.cfg.PixelFormat
}

func (s *patternSensor) SetFrameSize(size FrameSize) int {
	if !size.Valid() {
		return Fail
	}
	s.t.mu.Lock()
	s.t.regs.frameSize = size
	s.t.mu.Unlock()
	return OK
}

func (s *patternSensor) SetGainCeiling(v GainCeiling) int {
	if v < GainCeiling2x || v > GainCeiling128x {
		return Fail
	}
	s.t.mu.Lock()
	s.t.regs.gainCeiling = v
	s.t.mu.Unlock()
	return OK
}

func (s *patternSensor) SetQuality(v int) int      { return s.set(&s.t.regs.quality, v, 0, 63) }
func (s *patternSensor) SetContrast(v int) int     { return s.set(&s.t.regs.contrast, v, -2, 2) }
func (s *patternSensor) SetBrightness(v int) int   { return s.set(&s.t.regs.brightness, v, -2, 2) }
func (s *patternSensor) SetSaturation(v int) int   { return s.set(&s.t.regs.saturation, v, -2, 2) }
func (s *patternSensor) SetColorBar(v int) int     { return s.set(&s.t.regs.colorBar, v, 0, 1) }
func (s *patternSensor) SetWhiteBalance(v int) int { return s.set(&s.t.regs.whiteBal, v, 0, 1) }
func (s *patternSensor) SetGainCtrl(v int) int     { return s.set(&s.t.regs.gainCtrl, v, 0, 1) }
func (s *patternSensor) SetExposureCtrl(v int) int { return s.set(&s.t.regs.exposureCtrl, v, 0, 1) }
func (s *patternSensor) SetHMirror(v int) int      { return s.set(&s.t.regs.hmirror, v, 0, 1) }
func (s *patternSensor) SetVFlip(v int) int        { return s.set(&s.t.regs.vflip, v, 0, 1) }
func (s *patternSensor) SetAWBGain(v int) int      { return s.set(&s.t.regs.awbGain, v, 0, 1) }
func (s *patternSensor) SetAGCGain(v int) int      { return s.set(&s.t.regs.agcGain, v, 0, 30) }
func (s *patternSensor) SetAECValue(v int) int     { return s.set(&s.t.regs.aecValue, v, 0, 1200) }
func (s *patternSensor) SetAEC2(v int) int         { return s.set(&s.t.regs.aec2, v, 0, 1) }
func (s *patternSensor) SetDCW(v int) int          { return s.set(&s.t.regs.dcw, v, 0, 1) }
func (s *patternSensor) SetBPC(v int) int          { return s.set(&s.t.regs.bpc, v, 0, 1) }
func (s *patternSensor) SetWPC(v int) int          { return s.set(&s.t.regs.wpc, v, 0, 1) }
func (s *patternSensor) SetRawGMA(v int) int       { return s.set(&s.t.regs.rawGMA, v, 0, 1) }
func (s *patternSensor) SetLensCorrection(v int) int {
	return s.set(&s.t.regs.lensCorr, v, 0, 1)
}
func (s *patternSensor) SetSpecialEffect(v int) int { return s.set(&s.t.regs.specialEffect, v, 0, 6) }
func (s *patternSensor) SetWBMode(v int) int        { return s.set(&s.t.regs.wbMode, v, 0, 4) }
func (s *patternSensor) SetAELevel(v int) int       { return s.set(&s.t.regs.aeLevel, v, -2, 2) }
