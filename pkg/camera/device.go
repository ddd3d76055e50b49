// Package camera owns the camera hardware and serves it as an MJPEG stream.
//
// A Device moves through Uninitialized, Initialized, Started and Connected.
// Lifecycle calls (Begin, End, InitHardware, StopHardware, Reconcile) are
// serialized by the Device. Commands may run concurrently with a stream.
package camera

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"net"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"github.com/wachiwi/camstream/pkg/board"
	"github.com/wachiwi/camstream/pkg/config"
	"github.com/wachiwi/camstream/pkg/convert"
	"github.com/wachiwi/camstream/pkg/logger"
	"github.com/wachiwi/camstream/pkg/network"
	"github.com/wachiwi/camstream/pkg/sensor"
)

const (
	DefaultSettleDelay     = time.Second
	DefaultWarmupFrames    = 5
	DefaultWarmupDelay     = 20 * time.Millisecond
	DefaultMaxRetries      = 3
	DefaultShutdownTimeout = 5 * time.Second
)

// PortSource is the settings store holding the stream port.
type PortSource interface {
	CameraPort() (uint32, error)
}

// NetworkState answers whether the network is up and in which mode.
type NetworkState interface {
	Started() bool
	Mode() network.Mode
}

// Output is the operator message sink.
type Output interface {
	PrintMsg(msg string)
	PrintError(msg string)
}

type Options struct {
	Profile  config.Profile
	Driver   sensor.Driver
	Board    board.Board
	Settings PortSource
	Network  NetworkState
	Output   Output

	Host string
	// DefaultPort is used when the settings store has no port.
	DefaultPort uint32

	// Control API credentials. Auth is off when ControlUser is empty.
	ControlUser     string
	ControlPassword string
	SessionSecret   []byte

	// Delays are used as given, zero means no wait.
	SettleDelay time.Duration
	WarmupDelay time.Duration
	// Zero values are replaced by the Default constants.
	WarmupFrames    int
	MaxRetries      int
	ShutdownTimeout time.Duration
}

// Device is the single owner of the camera driver.
type Device struct {
	opts     Options
	pipeline *convert.Pipeline
	commands map[string]setter

	// mu serializes lifecycle operations.
	mu sync.Mutex
	// hw serializes driver calls that are not sensor setters.
	hw sync.Mutex

	initialized atomic.Bool
	started     atomic.Bool
	registered  atomic.Bool // /stream is served
	// conn holds the id of the streaming connection, 0 when none.
	conn     atomic.Uint64
	nextConn atomic.Uint64
	port     atomic.Uint32

	stream  *http.Server
	control *http.Server
	addrs   [2]net.Addr

	listen func(addr string) (net.Listener, error)
}

func New(opts Options) *Device {
	if opts.WarmupFrames == 0 {
		opts.WarmupFrames = DefaultWarmupFrames
	}
	if opts.MaxRetries == 0 {
		opts.MaxRetries = DefaultMaxRetries
	}
	if opts.ShutdownTimeout == 0 {
		opts.ShutdownTimeout = DefaultShutdownTimeout
	}
	if opts.Output == nil {
		opts.Output = logger.NewOutput(io.Discard)
	}
	d := &Device{
		opts:     opts,
		pipeline: convert.NewPipeline(),
		listen: func(addr string) (net.Listener, error) {
			return net.Listen("tcp", addr)
		},
	}
	d.commands = d.commandTable()
	return d
}

func (d *Device) Initialized() bool { return d.initialized.Load() }
func (d *Device) Started() bool     { return d.started.Load() }
func (d *Device) IsConnected() bool { return d.conn.Load() != 0 }
func (d *Device) Port() uint32      { return d.port.Load() }

func (d *Device) Model() config.Model { return d.opts.Profile.Model }
func (d *Device) ModelName() string   { return d.opts.Profile.DisplayName() }

// Connect sets or clears the connected flag. Clearing it stops the active
// stream at its next frame.
func (d *Device) Connect(on bool) {
	if on {
		d.conn.CompareAndSwap(0, d.nextConn.Add(1))
		return
	}
	d.conn.Store(0)
}

// InitHardware brings the driver up. It returns immediately when already
// initialized unless forceInit is set.
func (d *Device) InitHardware(forceInit bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.initHardware(forceInit)
}

// StopHardware ends the stream server and deinitializes the driver.
func (d *Device) StopHardware() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.stopHardware()
}

// Begin runs the full bring-up and returns whether the stream server started.
// The server only starts when the network is up and not in Bluetooth mode.
func (d *Device) Begin(forceInit bool) bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.begin(forceInit)
}

// End stops the stream server. It is a no-op when not started.
func (d *Device) End() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.end()
}

// Reconcile starts or stops the stream server to follow the network state.
func (d *Device) Reconcile() {
	d.mu.Lock()
	defer d.mu.Unlock()

	up := d.networkReady()
	switch {
	case up && !d.started.Load():
		slog.Info("Network is up, starting camera")
		d.begin(false)
	case !up && d.started.Load():
		slog.Info("Network is down, stopping camera server")
		d.end()
	}
}

func (d *Device) networkReady() bool {
	return d.opts.Network != nil && d.opts.Network.Started() && d.opts.Network.Mode() != network.ModeBluetooth
}

func (d *Device) initHardware(forceInit bool) bool {
	if forceInit {
		d.initialized.Store(false)
	}
	if d.initialized.Load() {
		return true
	}

	slog.Debug("Disable brown out")
	if err := d.opts.Board.DisableBrownout(); err != nil {
		slog.Warn("Failed to disable brown out", "error", err)
	}
	cfg := d.opts.Profile.SensorConfig()

	if !d.opts.Board.HasExternalRAM() {
		d.initialized.Store(false)
		slog.Error("psram is not enabled")
		return false
	}
	if !d.stopHardware() {
		slog.Warn("Stop camera failed")
	}

	slog.Info("Init camera", "model", d.ModelName(), "format", cfg.PixelFormat, "framesize", cfg.FrameSize)
	if err := d.opts.Board.PrepareSensor(); err != nil {
		slog.Error("Sensor power up failed", "error", err)
		return false
	}

	d.hw.Lock()
	err := d.opts.Driver.Init(cfg)
	d.hw.Unlock()
	if err != nil {
		slog.Error("Camera init failed", "error", err)
		d.initialized.Store(false)
		return false
	}
	d.initialized.Store(true)
	return true
}

func (d *Device) stopHardware() bool {
	d.end()
	d.initialized.Store(false)

	slog.Debug("deinit camera")
	d.hw.Lock()
	err := d.opts.Driver.Deinit()
	d.hw.Unlock()
	if err != nil {
		slog.Error("Camera deinit failed", "error", err)
		return false
	}
	// The bus may not be held, e.g. before the first init.
	if err := d.opts.Board.ReleaseSensorBus(); err != nil {
		slog.Debug("Sensor bus release failed", "error", err)
	}
	return true
}

func (d *Device) begin(forceInit bool) bool {
	d.end()
	slog.Info("Begin camera")
	if !d.initHardware(forceInit) {
		slog.Error("Init hardware failed")
		return false
	}
	if d.opts.SettleDelay > 0 {
		time.Sleep(d.opts.SettleDelay)
	}

	slog.Debug("Init camera sensor settings")
	d.calibrate()

	if d.networkReady() {
		port := d.configuredPort()
		slog.Info("Starting camera server", "port", port)
		if err := d.startServers(port); err != nil {
			slog.Error("Starting camera server failed", "port", port, "error", err)
			d.opts.Output.PrintError("Starting camera server failed")
			return false
		}
		d.opts.Output.PrintMsg("Camera server started port " + strconv.FormatUint(uint64(port), 10))
		d.started.Store(true)
	}

	d.warmUp()
	return d.started.Load()
}

func (d *Device) end() {
	if !d.started.Load() {
		return
	}
	d.started.Store(false)
	d.Connect(false)
	slog.Info("unregister /stream")
	d.stopServers()
}

// calibrate applies the default sensor settings. A missing sensor is logged
// and skipped.
func (d *Device) calibrate() {
	s := d.opts.Driver.Sensor()
	if s == nil {
		slog.Warn("Cannot access camera sensor")
		return
	}
	// OV3660 starts too dark and oversaturated.
	if s.ID() == sensor.OV3660 {
		s.SetBrightness(1)
		s.SetSaturation(-2)
	}
	if rc := s.SetFrameSize(d.opts.Profile.FrameSize); rc != sensor.OK {
		slog.Warn("Default frame size rejected", "framesize", d.opts.Profile.FrameSize, "result", rc)
	}
	if d.opts.Profile.FlipHorizontal {
		s.SetHMirror(1)
	}
	if d.opts.Profile.FlipVertical {
		s.SetVFlip(1)
	}
}

func (d *Device) warmUp() {
	for i := 0; i < d.opts.WarmupFrames; i++ {
		d.hw.Lock()
		fb, err := d.opts.Driver.Acquire()
		if err != nil {
			slog.Debug("Failed to get fb", "error", err)
		} else {
			d.opts.Driver.Release(fb)
		}
		d.hw.Unlock()
		if d.opts.WarmupDelay > 0 {
			time.Sleep(d.opts.WarmupDelay)
		}
	}
}

func (d *Device) configuredPort() uint32 {
	port := d.opts.DefaultPort
	if d.opts.Settings != nil {
		p, err := d.opts.Settings.CameraPort()
		if err != nil {
			slog.Warn("Failed to read camera port, using default", "error", err)
		} else if p != 0 {
			port = p
		}
	}
	return port
}

// startServers listens on port for the stream and port+1 for control.
func (d *Device) startServers(port uint32) error {
	streamLn, err := d.listen(net.JoinHostPort(d.opts.Host, strconv.FormatUint(uint64(port), 10)))
	if err != nil {
		return err
	}
	controlLn, err := d.listen(net.JoinHostPort(d.opts.Host, strconv.FormatUint(uint64(port)+1, 10)))
	if err != nil {
		streamLn.Close()
		return err
	}

	d.port.Store(port)
	d.addrs = [2]net.Addr{streamLn.Addr(), controlLn.Addr()}
	d.stream = &http.Server{Handler: d.streamRouter(), ReadHeaderTimeout: 10 * time.Second}
	d.control = &http.Server{Handler: d.controlRouter(), ReadHeaderTimeout: 10 * time.Second}

	slog.Info("Registering /stream")
	d.registered.Store(true)
	go serve(d.stream, streamLn, "stream")
	go serve(d.control, controlLn, "control")
	return nil
}

func serve(srv *http.Server, ln net.Listener, name string) {
	if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
		slog.Error("Camera server stopped", "server", name, "error", err)
	}
}

func (d *Device) stopServers() {
	d.registered.Store(false)
	ctx, cancel := context.WithTimeout(context.Background(), d.opts.ShutdownTimeout)
	defer cancel()

	for _, srv := range []*http.Server{d.stream, d.control} {
		if srv == nil {
			continue
		}
		if err := srv.Shutdown(ctx); err != nil {
			slog.Error("Error stopping stream server", "error", err)
			srv.Close()
		}
	}
	d.stream, d.control = nil, nil
	d.addrs = [2]net.Addr{}
}

// Addrs returns the stream and control listener addresses while started.
func (d *Device) Addrs() (stream, control net.Addr) {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.addrs[0], d.addrs[1]
}
