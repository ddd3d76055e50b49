package sensor

import (
	"bytes"
	"fmt"
	"io"
	"log/slog"
	"os/exec"
	"strconv"
	"sync"
	"time"
)

// Libcamera drives a Raspberry Pi camera through rpicam-vid (libcamera-vid on
// older images) running as a persistent MJPEG process. Sensor settings are
// passed as command line options, so changing one restarts the process.
type Libcamera struct {
	mu       sync.Mutex
	command  string
	timeout  time.Duration
	lookPath func(string) (string, error)

	cfg     Config
	opts    libcameraOptions
	cmd     *exec.Cmd
	exited  chan struct{} // closed once cmd has been waited for
	frames  chan []byte
	running bool
}

type libcameraOptions struct {
	frameSize  FrameSize
	quality    int
	contrast   int
	brightness int
	saturation int
	hmirror    int
	vflip      int
	whiteBal   int
	wbMode     int
	gainCtrl   int
	agcGain    int
	expCtrl    int
	aecValue   int
	aeLevel    int
}

const stopTimeout = 5 * time.Second

// NewLibcamera creates the driver. acquireTimeout bounds how long Acquire
// waits for the next frame from the capture process.
func NewLibcamera(acquireTimeout time.Duration) *Libcamera {
	if acquireTimeout <= 0 {
		acquireTimeout = 2 * time.Second
	}
	return &Libcamera{
		timeout:  acquireTimeout,
		lookPath: exec.LookPath,
	}
}

func (l *Libcamera) Init(cfg Config) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if !cfg.FrameSize.Valid() {
		return fmt.Errorf("invalid frame size %d", cfg.FrameSize)
	}
	// Determine command name (rpicam-vid for newer OS, libcamera-vid for older)
	cmdName := "rpicam-vid"
	if _, err := l.lookPath(cmdName); err != nil {
		cmdName = "libcamera-vid"
		if _, err := l.lookPath(cmdName); err != nil {
			return fmt.Errorf("neither rpicam-vid nor libcamera-vid found")
		}
	}
	l.command = cmdName
	l.cfg = cfg
	l.opts = libcameraOptions{
		frameSize: cfg.FrameSize,
		quality:   cfg.JPEGQuality,
		whiteBal:  1,
		gainCtrl:  1,
		expCtrl:   1,
	}
	return l.start()
}

func (l *Libcamera) Deinit() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.stop()
	return nil
}

func (l *Libcamera) Acquire() (*FrameBuffer, error) {
	l.mu.Lock()
	if !l.running {
		l.mu.Unlock()
		return nil, ErrNotInitialized
	}
	frames := l.frames
	w, h := l.opts.frameSize.Dimensions()
	l.mu.Unlock()

	select {
	case frame, ok := <-frames:
		if !ok {
			return nil, ErrNotInitialized
		}
		return &FrameBuffer{
			Buf:       frame,
			Width:     w,
			Height:    h,
			Format:    PixelFormatJPEG,
			Timestamp: time.Now(),
		}, nil
	case <-time.After(l.timeout):
		return nil, ErrAcquireTimeout
	}
}

// Release is a no-op: frames are copied out of the pipe and owned by the caller.
func (l *Libcamera) Release(*FrameBuffer) {}

func (l *Libcamera) Sensor() Sensor {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.running {
		return nil
	}
	return &libcameraSensor{l: l}
}

// args builds the capture command line. Callers hold l.mu.
func (l *Libcamera) args() []string {
	w, h := l.opts.frameSize.Dimensions()
	o := l.opts
	args := []string{
		"--width", strconv.Itoa(w),
		"--height", strconv.Itoa(h),
		"--timeout", "0", // Run indefinitely
		"--nopreview",
		"--codec", "mjpeg",
		"--output", "-",
		"--quality", strconv.Itoa(jpegQuality(o.quality)),
		"--contrast", formatFloat(1 + 0.25*float64(o.contrast)),
		"--brightness", formatFloat(0.25 * float64(o.brightness)),
		"--saturation", formatFloat(1 + 0.25*float64(o.saturation)),
		"--ev", strconv.Itoa(o.aeLevel),
		"--metering", "average",
	}
	if o.whiteBal == 1 {
		args = append(args, "--awb", awbModes[o.wbMode])
	} else {
		args = append(args, "--awbgains", "1,1")
	}
	if o.gainCtrl == 0 {
		args = append(args, "--gain", strconv.Itoa(1+o.agcGain))
	}
	if o.expCtrl == 0 {
		// aec_value is 0..1200 lines; roughly 30µs per line
		args = append(args, "--shutter", strconv.Itoa(o.aecValue*30))
	}
	if o.hmirror == 1 {
		args = append(args, "--hflip")
	}
	if o.vflip == 1 {
		args = append(args, "--vflip")
	}
	return args
}

var awbModes = map[int]string{
	0: "auto",
	1: "daylight",
	2: "cloudy",
	3: "fluorescent",
	4: "incandescent",
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// start launches the capture process. Callers hold l.mu.
func (l *Libcamera) start() error {
	cmd := exec.Command(l.command, l.args()...)

	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("failed to get stdout pipe: %w", err)
	}

	// Capture stderr for debugging
	var stderr bytes.Buffer
	cmd.Stderr = &stderr

	if err := cmd.Start(); err != nil {
		return fmt.Errorf("failed to start %s: %w, stderr: %s", l.command, err, stderr.String())
	}

	frames := make(chan []byte, 1)
	pumped := make(chan struct{})
	exited := make(chan struct{})
	l.cmd = cmd
	l.exited = exited
	l.frames = frames
	l.running = true
	w, h := l.opts.frameSize.Dimensions()
	slog.Info("Started camera streaming process", "command", l.command, "width", w, "height", h)

	go func() {
		defer close(pumped)
		pump(stdout, frames)
	}()

	// Monitor the process and clean up if it exits. Wait closes stdout, so
	// it must not run before pump has read everything.
	go func() {
		<-pumped
		err := cmd.Wait()
		if err != nil {
			slog.Warn("Camera streaming process exited", "error", err, "stderr", stderr.String())
		} else {
			slog.Info("Camera streaming process exited cleanly")
		}
		close(exited)
		l.mu.Lock()
		defer l.mu.Unlock()
		if l.cmd == cmd {
			l.cmd = nil
			l.running = false
		}
	}()
	return nil
}

// stop kills the capture process and waits for it to exit, so a restart
// never overlaps two processes on the camera. Callers hold l.mu.
func (l *Libcamera) stop() {
	if l.cmd == nil {
		l.running = false
		return
	}
	if l.cmd.Process != nil {
		if err := l.cmd.Process.Kill(); err != nil {
			slog.Debug("Failed to kill camera process", "error", err)
		}
	}
	select {
	case <-l.exited:
	case <-time.After(stopTimeout):
		slog.Warn("Camera process did not exit after kill", "timeout", stopTimeout)
	}
	l.cmd = nil
	l.exited = nil
	l.running = false
}

// apply updates one option and restarts the process so it takes effect.
func (l *Libcamera) apply(update func(o *libcameraOptions)) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	update(&l.opts)
	if !l.running {
		return Fail
	}
	l.stop()
	if err := l.start(); err != nil {
		slog.Error("Failed to restart camera process", "error", err)
		return Fail
	}
	return OK
}

// pump feeds complete frames into frames, keeping only the newest one.
func pump(r io.ReadCloser, frames chan []byte) {
	defer close(frames)
	defer r.Close()

	sp := NewSplitter(r)
	for {
		frame, err := sp.Next()
		if err == ErrFrameTooLarge {
			slog.Warn("Frame buffer overflow, resetting")
			continue
		}
		if err != nil {
			if err != io.EOF {
				slog.Error("Stream read error", "error", err)
			}
			return
		}
		select {
		case frames <- frame:
		default:
			select {
			case <-frames:
			default:
			}
			frames <- frame
		}
	}
}

type libcameraSensor struct {
	l *Libcamera
}

func inRange(v, lo, hi int) bool {
	return v >= lo && v <= hi
}

func (s *libcameraSensor) ID() SensorID             { return IMX708 }
func (s *libcameraSensor) PixelFormat() PixelFormat { return PixelFormatJPEG }

func (s *libcameraSensor) SetFrameSize(size FrameSize) int {
	if !size.Valid() {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.frameSize = size })
}

func (s *libcameraSensor) SetQuality(v int) int {
	if !inRange(v, 0, 63) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.quality = v })
}

func (s *libcameraSensor) SetContrast(v int) int {
	if !inRange(v, -2, 2) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.contrast = v })
}

func (s *libcameraSensor) SetBrightness(v int) int {
	if !inRange(v, -2, 2) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.brightness = v })
}

func (s *libcameraSensor) SetSaturation(v int) int {
	if !inRange(v, -2, 2) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.saturation = v })
}

func (s *libcameraSensor) SetWhiteBalance(v int) int {
	if !inRange(v, 0, 1) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.whiteBal = v })
}

func (s *libcameraSensor) SetWBMode(v int) int {
	if _, ok := awbModes[v]; !ok {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.wbMode = v })
}

func (s *libcameraSensor) SetGainCtrl(v int) int {
	if !inRange(v, 0, 1) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.gainCtrl = v })
}

func (s *libcameraSensor) SetAGCGain(v int) int {
	if !inRange(v, 0, 30) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.agcGain = v })
}

func (s *libcameraSensor) SetExposureCtrl(v int) int {
	if !inRange(v, 0, 1) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.expCtrl = v })
}

func (s *libcameraSensor) SetAECValue(v int) int {
	if !inRange(v, 0, 1200) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.aecValue = v })
}

func (s *libcameraSensor) SetAELevel(v int) int {
	if !inRange(v, -2, 2) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.aeLevel = v })
}

func (s *libcameraSensor) SetHMirror(v int) int {
	if !inRange(v, 0, 1) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.hmirror = v })
}

func (s *libcameraSensor) SetVFlip(v int) int {
	if !inRange(v, 0, 1) {
		return Fail
	}
	return s.l.apply(func(o *libcameraOptions) { o.vflip = v })
}

// The ISP has no equivalent for these.
func (s *libcameraSensor) SetGainCeiling(GainCeiling) int { return Fail }
func (s *libcameraSensor) SetColorBar(int) int            { return Fail }
func (s *libcameraSensor) SetAWBGain(int) int             { return Fail }
func (s *libcameraSensor) SetAEC2(int) int                { return Fail }
func (s *libcameraSensor) SetDCW(int) int                 { return Fail }
func (s *libcameraSensor) SetBPC(int) int                 { return Fail }
func (s *libcameraSensor) SetWPC(int) int                 { return Fail }
func (s *libcameraSensor) SetRawGMA(int) int              { return Fail }
func (s *libcameraSensor) SetLensCorrection(int) int      { return Fail }
func (s *libcameraSensor) SetSpecialEffect(int) int       { return Fail }
