package camera

import (
	"bytes"
	"errors"
	"image"
	"image/jpeg"
	"net"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/gin-gonic/gin"

	"github.com/wachiwi/camstream/pkg/board"
	"github.com/wachiwi/camstream/pkg/config"
	"github.com/wachiwi/camstream/pkg/network"
	"github.com/wachiwi/camstream/pkg/sensor"
)

func init() {
	gin.SetMode(gin.TestMode)
}

var errNoFrame = errors.New("no frame")

// fakeDriver hands out a fixed frame. script decides, per Acquire call, whether
// it succeeds; once the script is used up every call returns after.
type fakeDriver struct {
	mu          sync.Mutex
	sensor      *fakeSensor
	initErr     error
	deinitErr   error
	initialized bool
	inits       int
	deinits     int

	frame     *sensor.FrameBuffer
	script    []bool
	after     bool
	acquires  int
	released  int
	onAcquire func(n int)
}

func newFakeDriver(t *testing.T, s *fakeSensor) *fakeDriver {
	return &fakeDriver{sensor: s, frame: testJPEG(t, 640, 480), after: true}
}

func (f *fakeDriver) Init(sensor.Config) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inits++
	if f.initErr != nil {
		return f.initErr
	}
	f.initialized = true
	return nil
}

func (f *fakeDriver) Deinit() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deinits++
	f.initialized = false
	return f.deinitErr
}

func (f *fakeDriver) Acquire() (*sensor.FrameBuffer, error) {
	f.mu.Lock()
	n := f.acquires
	f.acquires++
	ok := f.after
	if n < len(f.script) {
		ok = f.script[n]
	}
	hook := f.onAcquire
	frame := *f.frame
	f.mu.Unlock()

	if hook != nil {
		hook(n)
	}
	if !ok {
		return nil, errNoFrame
	}
	return &frame, nil
}

func (f *fakeDriver) Release(*sensor.FrameBuffer) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.released++
}

func (f *fakeDriver) Sensor() sensor.Sensor {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.initialized || f.sensor == nil {
		return nil
	}
	return f.sensor
}

func (f *fakeDriver) counts() (acquires, released int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.acquires, f.released
}

// fakeSensor records every setter call. Setters return rc[name] or OK.
type fakeSensor struct {
	mu     sync.Mutex
	id     sensor.SensorID
	format sensor.PixelFormat
	rc     map[string]int
	calls  map[string][]int
}

func newFakeSensor(id sensor.SensorID, format sensor.PixelFormat) *fakeSensor {
	return &fakeSensor{id: id, format: format, rc: map[string]int{}, calls: map[string][]int{}}
}

func (s *fakeSensor) set(name string, v int) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls[name] = append(s.calls[name], v)
	return s.rc[name]
}

func (s *fakeSensor) called(name string) []int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[name]
}

func (s *fakeSensor) total() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	n := 0
	for _, c := range s.calls {
		n += len(c)
	}
	return n
}

func (s *fakeSensor) ID() sensor.SensorID             { return s.id }
func (s *fakeSensor) PixelFormat() sensor.PixelFormat { return s.format }

func (s *fakeSensor) SetFrameSize(v sensor.FrameSize) int     { return s.set("framesize", int(v)) }
func (s *fakeSensor) SetGainCeiling(v sensor.GainCeiling) int { return s.set("gainceiling", int(v)) }
func (s *fakeSensor) SetQuality(v int) int                    { return s.set("quality", v) }
func (s *fakeSensor) SetContrast(v int) int                   { return s.set("contrast", v) }
func (s *fakeSensor) SetBrightness(v int) int                 { return s.set("brightness", v) }
func (s *fakeSensor) SetSaturation(v int) int                 { return s.set("saturation", v) }
func (s *fakeSensor) SetColorBar(v int) int                   { return s.set("colorbar", v) }
func (s *fakeSensor) SetWhiteBalance(v int) int               { return s.set("awb", v) }
func (s *fakeSensor) SetGainCtrl(v int) int                   { return s.set("agc", v) }
func (s *fakeSensor) SetExposureCtrl(v int) int               { return s.set("aec", v) }
func (s *fakeSensor) SetHMirror(v int) int                    { return s.set("hmirror", v) }
func (s *fakeSensor) SetVFlip(v int) int                      { return s.set("vflip", v) }
func (s *fakeSensor) SetAWBGain(v int) int                    { return s.set("awb_gain", v) }
func (s *fakeSensor) SetAGCGain(v int) int                    { return s.set("agc_gain", v) }
func (s *fakeSensor) SetAECValue(v int) int                   { return s.set("aec_value", v) }
func (s *fakeSensor) SetAEC2(v int) int                       { return s.set("aec2", v) }
func (s *fakeSensor) SetDCW(v int) int                        { return s.set("dcw", v) }
func (s *fakeSensor) SetBPC(v int) int                        { return s.set("bpc", v) }
func (s *fakeSensor) SetWPC(v int) int                        { return s.set("wpc", v) }
func (s *fakeSensor) SetRawGMA(v int) int                     { return s.set("raw_gma", v) }
func (s *fakeSensor) SetLensCorrection(v int) int             { return s.set("lenc", v) }
func (s *fakeSensor) SetSpecialEffect(v int) int              { return s.set("special_effect", v) }
func (s *fakeSensor) SetWBMode(v int) int                     { return s.set("wb_mode", v) }
func (s *fakeSensor) SetAELevel(v int) int                    { return s.set("ae_level", v) }

type fakeNetwork struct {
	up   atomic.Bool
	mode network.Mode
}

func (n *fakeNetwork) Started() bool      { return n.up.Load() }
func (n *fakeNetwork) Mode() network.Mode { return n.mode }

type fakeSettings struct {
	port uint32
	err  error
}

func (s fakeSettings) CameraPort() (uint32, error) { return s.port, s.err }

func testJPEG(t *testing.T, w, h int) *sensor.FrameBuffer {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, w, h))
	for i := range img.Pix {
		img.Pix[i] = byte(i % 251)
	}
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 50}); err != nil {
		t.Fatalf("failed to encode test frame: %v", err)
	}
	return &sensor.FrameBuffer{Buf: buf.Bytes(), Width: w, Height: h, Format: sensor.PixelFormatJPEG}
}

// newTestDevice returns a device on a mock board with the network up and
// listeners on ephemeral loopback ports.
func newTestDevice(t *testing.T, drv *fakeDriver, mutate ...func(*Options)) (*Device, *board.Mock, *fakeNetwork) {
	t.Helper()
	b := board.NewMock()
	netw := &fakeNetwork{mode: network.ModeSTA}
	netw.up.Store(true)

	opts := Options{
		Profile:     config.Default().Profile,
		Driver:      drv,
		Board:       b,
		Settings:    fakeSettings{port: 8080},
		Network:     netw,
		Host:        "127.0.0.1",
		DefaultPort: 9600,
	}
	for _, m := range mutate {
		m(&opts)
	}
	d := New(opts)
	d.listen = func(string) (net.Listener, error) {
		return net.Listen("tcp", "127.0.0.1:0")
	}
	t.Cleanup(func() { d.StopHardware() })
	return d, b, netw
}
