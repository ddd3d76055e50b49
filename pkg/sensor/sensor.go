// Package sensor binds the image sensor driver: init/deinit, frame acquisition
// and release, and the per-parameter setters exposed by the sensor handle.
package sensor

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// Driver return codes. Setters return the driver's own code unchanged.
const (
	OK   = 0
	Fail = -1
)

var (
	ErrNotInitialized = errors.New("camera driver not initialized")
	ErrAcquireTimeout = errors.New("frame acquisition timed out")
	ErrNoFrameBuffer  = errors.New("no free frame buffer")
)

// PixelFormat is the layout of the bytes in a FrameBuffer.
type PixelFormat int

const (
	PixelFormatRGB565 PixelFormat = iota
	PixelFormatYUV422
	PixelFormatGrayscale
	PixelFormatJPEG
	PixelFormatRGB888
)

var pixelFormatNames = map[PixelFormat]string{
	PixelFormatRGB565:    "rgb565",
	PixelFormatYUV422:    "yuv422",
	PixelFormatGrayscale: "grayscale",
	PixelFormatJPEG:      "jpeg",
	PixelFormatRGB888:    "rgb888",
}

func (f PixelFormat) String() string {
	if name, ok := pixelFormatNames[f]; ok {
		return name
	}
	return fmt.Sprintf("pixelformat(%d)", int(f))
}

// ParsePixelFormat accepts the names returned by PixelFormat.String.
func ParsePixelFormat(s string) (PixelFormat, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for f, name := range pixelFormatNames {
		if name == s {
			return f, nil
		}
	}
	return 0, fmt.Errorf("unknown pixel format %q", s)
}

// FrameSize indexes the resolution table shared by all sensors.
type FrameSize int

const (
	FrameSize96x96 FrameSize = iota
	FrameSizeQQVGA
	FrameSizeQCIF
	FrameSizeHQVGA
	FrameSize240x240
	FrameSizeQVGA
	FrameSizeCIF
	FrameSizeHVGA
	FrameSizeVGA
	FrameSizeSVGA
	FrameSizeXGA
	FrameSizeHD
	FrameSizeSXGA
	FrameSizeUXGA
)

type resolution struct {
	name          string
	width, height int
}

var resolutions = []resolution{
	FrameSize96x96:   {"96x96", 96, 96},
	FrameSizeQQVGA:   {"qqvga", 160, 120},
	FrameSizeQCIF:    {"qcif", 176, 144},
	FrameSizeHQVGA:   {"hqvga", 240, 176},
	FrameSize240x240: {"240x240", 240, 240},
	FrameSizeQVGA:    {"qvga", 320, 240},
	FrameSizeCIF:     {"cif", 400, 296},
	FrameSizeHVGA:    {"hvga", 480, 320},
	FrameSizeVGA:     {"vga", 640, 480},
	FrameSizeSVGA:    {"svga", 800, 600},
	FrameSizeXGA:     {"xga", 1024, 768},
	FrameSizeHD:      {"hd", 1280, 720},
	FrameSizeSXGA:    {"sxga", 1280, 1024},
	FrameSizeUXGA:    {"uxga", 1600, 1200},
}

// Valid reports whether f is in the resolution table.
func (f FrameSize) Valid() bool {
	return f >= 0 && int(f) < len(resolutions)
}

// Dimensions returns width and height in pixels, or zeros for an invalid size.
func (f FrameSize) Dimensions() (int, int) {
	if !f.Valid() {
		return 0, 0
	}
	r := resolutions[f]
	return r.width, r.height
}

func (f FrameSize) String() string {
	if !f.Valid() {
		return fmt.Sprintf("framesize(%d)", int(f))
	}
	return resolutions[f].name
}

// ParseFrameSize accepts table names ("svga") or WxH ("800x600").
func ParseFrameSize(s string) (FrameSize, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for i, r := range resolutions {
		if r.name == s || fmt.Sprintf("%dx%d", r.width, r.height) == s {
			return FrameSize(i), nil
		}
	}
	return 0, fmt.Errorf("unknown frame size %q", s)
}

// GainCeiling selects the AGC upper bound, 2x through 128x.
type GainCeiling int

const (
	GainCeiling2x GainCeiling = iota
	GainCeiling4x
	GainCeiling8x
	GainCeiling16x
	GainCeiling32x
	GainCeiling64x
	GainCeiling128x
)

// SensorID is the product ID reported by the sensor.
type SensorID uint16

const (
	OV7725 SensorID = 0x77
	OV2640 SensorID = 0x26
	OV3660 SensorID = 0x3660
	OV5640 SensorID = 0x5640
	OV7670 SensorID = 0x76
	IMX708 SensorID = 0x708
)

func (id SensorID) String() string {
	switch id {
	case OV7725:
		return "OV7725"
	case OV2640:
		return "OV2640"
	case OV3660:
		return "OV3660"
	case OV5640:
		return "OV5640"
	case OV7670:
		return "OV7670"
	case IMX708:
		return "IMX708"
	default:
		return fmt.Sprintf("0x%x", uint16(id))
	}
}

// Pins is the wiring between the host and the camera module. -1 means not connected.
type Pins struct {
	PowerDown int `yaml:"power_down"`
	Reset     int `yaml:"reset"`
	XCLK      int `yaml:"xclk"`
	SDA       int `yaml:"sda"`
	SCL       int `yaml:"scl"`
	D0        int `yaml:"d0"`
	D1        int `yaml:"d1"`
	D2        int `yaml:"d2"`
	D3        int `yaml:"d3"`
	D4        int `yaml:"d4"`
	D5        int `yaml:"d5"`
	D6        int `yaml:"d6"`
	D7        int `yaml:"d7"`
	VSYNC     int `yaml:"vsync"`
	HREF      int `yaml:"href"`
	PCLK      int `yaml:"pclk"`
}

// Config is handed to Driver.Init.
type Config struct {
	Pins             Pins
	XCLKHz           int
	PixelFormat      PixelFormat
	JPEGQuality      int
	FrameBufferCount int
	FrameSize        FrameSize
}

// FrameBuffer is one captured image. It is owned by whoever acquired it until
// it is handed back with Driver.Release.
type FrameBuffer struct {
	Buf       []byte
	Width     int
	Height    int
	Format    PixelFormat
	Timestamp time.Time
}

// Len is the number of valid bytes in Buf.
func (fb *FrameBuffer) Len() int {
	return len(fb.Buf)
}

// Driver is the vendor camera driver. It is not reentrant.
type Driver interface {
	Init(cfg Config) error
	Deinit() error
	Acquire() (*FrameBuffer, error)
	Release(fb *FrameBuffer)
	// Sensor returns nil when no sensor is attached or the driver is not initialized.
	Sensor() Sensor
}

// Sensor is the live handle to the image sensor. The driver is the source of
// truth for every value; setters return OK or a driver specific failure code.
type Sensor interface {
	ID() SensorID
	PixelFormat() PixelFormat

	SetFrameSize(size FrameSize) int
	SetQuality(v int) int
	SetContrast(v int) int
	SetBrightness(v int) int
	SetSaturation(v int) int
	SetGainCeiling(v GainCeiling) int
	SetColorBar(v int) int
	SetWhiteBalance(v int) int
	SetGainCtrl(v int) int
	SetExposureCtrl(v int) int
	SetHMirror(v int) int
	SetVFlip(v int) int
	SetAWBGain(v int) int
	SetAGCGain(v int) int
	SetAECValue(v int) int
	SetAEC2(v int) int
	SetDCW(v int) int
	SetBPC(v int) int
	SetWPC(v int) int
	SetRawGMA(v int) int
	SetLensCorrection(v int) int
	SetSpecialEffect(v int) int
	SetWBMode(v int) int
	SetAELevel(v int) int
}
