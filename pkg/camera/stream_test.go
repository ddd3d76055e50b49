package camera

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/wachiwi/camstream/pkg/sensor"
)

// startedDevice marks d as serving /stream without opening listeners.
func startedDevice(d *Device) {
	d.initialized.Store(true)
	d.started.Store(true)
	d.registered.Store(true)
}

func streamRequest(t *testing.T, d *Device) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/stream", nil)
	d.streamRouter().ServeHTTP(w, req)
	return w
}

func countParts(body string) int {
	return strings.Count(body, "Content-Type: image/jpeg\r\n")
}

func TestStreamNotStarted(t *testing.T) {
	drv := newFakeDriver(t, nil)
	d, _, _ := newTestDevice(t, drv)
	d.registered.Store(true)

	w := streamRequest(t, d)
	if w.Code != http.StatusOK {
		t.Errorf("status = %d, want the default 200", w.Code)
	}
	if w.Body.String() != "Camera not started" {
		t.Errorf("body = %q", w.Body.String())
	}
	if strings.HasPrefix(w.Header().Get("Content-Type"), "multipart/") {
		t.Error("no multipart response expected before start")
	}
	if acquires, _ := drv.counts(); acquires != 0 {
		t.Errorf("no frame should be acquired, got %d", acquires)
	}
}

func TestStreamUnregistered(t *testing.T) {
	d, _, _ := newTestDevice(t, newFakeDriver(t, nil))
	if w := streamRequest(t, d); w.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 while /stream is not registered", w.Code)
	}
}

func TestStreamAlreadyConnected(t *testing.T) {
	drv := newFakeDriver(t, nil)
	d, _, _ := newTestDevice(t, drv)
	startedDevice(d)
	d.Connect(true)

	w := streamRequest(t, d)
	if w.Code != http.StatusOK || w.Body.String() != "Camera already streaming" {
		t.Errorf("got %d %q", w.Code, w.Body.String())
	}
	if !d.IsConnected() {
		t.Error("the existing connection must be kept")
	}
}

func TestStreamParts(t *testing.T) {
	drv := newFakeDriver(t, nil)
	drv.script = []bool{true, true}
	drv.after = false
	d, _, _ := newTestDevice(t, drv)
	startedDevice(d)

	w := streamRequest(t, d)

	if got := w.Header().Get("Content-Type"); got != "multipart/x-mixed-replace;boundary=123456789000000000000987654321" {
		t.Errorf("content type = %q", got)
	}
	if w.Header().Get("Access-Control-Allow-Origin") != "*" {
		t.Error("missing CORS header")
	}

	frame := string(drv.frame.Buf)
	part := fmt.Sprintf("Content-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n", len(frame)) +
		frame + "\r\n--123456789000000000000987654321\r\n"
	if want := part + part; w.Body.String() != want {
		t.Errorf("body does not match two parts (len %d, want %d)", w.Body.Len(), len(want))
	}

	acquires, released := drv.counts()
	if acquires != 2+1+DefaultMaxRetries {
		t.Errorf("acquires = %d, want 2 frames plus 1 attempt and %d retries", acquires, DefaultMaxRetries)
	}
	if released != 2 {
		t.Errorf("released = %d, want 2", released)
	}
	if d.IsConnected() {
		t.Error("connected must be cleared when the stream ends")
	}
}

func TestStreamRetryCounterResets(t *testing.T) {
	drv := newFakeDriver(t, nil)
	// Two failures then a frame, three failures then a frame, then failures
	// until the stream gives up.
	drv.script = []bool{false, false, true, false, false, false, true}
	drv.after = false
	d, _, _ := newTestDevice(t, drv)
	startedDevice(d)

	w := streamRequest(t, d)

	if n := countParts(w.Body.String()); n != 2 {
		t.Errorf("streamed %d frames, want 2", n)
	}
	acquires, released := drv.counts()
	if want := len(drv.script) + 1 + DefaultMaxRetries; acquires != want {
		t.Errorf("acquires = %d, want %d", acquires, want)
	}
	if released != 2 {
		t.Errorf("released = %d, want 2", released)
	}
}

func TestStreamForcedDisconnect(t *testing.T) {
	drv := newFakeDriver(t, nil)
	d, _, _ := newTestDevice(t, drv)
	startedDevice(d)
	drv.onAcquire = func(n int) {
		if n == 2 {
			d.Connect(false)
		}
	}

	w := streamRequest(t, d)

	body := w.Body.String()
	if n := countParts(body); n != 3 {
		t.Errorf("streamed %d frames, want the in-flight frame to finish (3)", n)
	}
	if !strings.HasSuffix(body, "Camera is not connected") {
		t.Errorf("body should end with the disconnect message, ends with %q", body[max(0, len(body)-40):])
	}
	if acquires, released := drv.counts(); acquires != 3 || released != 3 {
		t.Errorf("acquires/released = %d/%d, want 3/3", acquires, released)
	}
}

type failingWriter struct {
	*httptest.ResponseRecorder
	writes    int
	failAfter int
}

func (w *failingWriter) Write(b []byte) (int, error) {
	w.writes++
	if w.writes > w.failAfter {
		return 0, errors.New("broken pipe")
	}
	return w.ResponseRecorder.Write(b)
}

func (w *failingWriter) WriteString(s string) (int, error) {
	return w.Write([]byte(s))
}

func TestStreamWriteFailure(t *testing.T) {
	drv := newFakeDriver(t, nil)
	d, _, _ := newTestDevice(t, drv)
	startedDevice(d)

	// One full part is three writes; the header of the second part fails.
	w := &failingWriter{ResponseRecorder: httptest.NewRecorder(), failAfter: 3}
	d.streamRouter().ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/stream", nil))

	if n := countParts(w.Body.String()); n != 1 {
		t.Errorf("streamed %d frames, want 1", n)
	}
	if acquires, released := drv.counts(); acquires != 2 || released != 2 {
		t.Errorf("acquires/released = %d/%d, want 2/2", acquires, released)
	}
	if d.IsConnected() {
		t.Error("connected must be cleared after a write failure")
	}
}

func TestStreamConversionFailure(t *testing.T) {
	drv := newFakeDriver(t, nil)
	drv.frame = &sensor.FrameBuffer{Buf: make([]byte, 16), Width: 320, Height: 240, Format: sensor.PixelFormatRGB565}
	d, _, _ := newTestDevice(t, drv)
	startedDevice(d)

	w := streamRequest(t, d)

	if n := countParts(w.Body.String()); n != 0 {
		t.Errorf("streamed %d frames, want none", n)
	}
	if acquires, released := drv.counts(); acquires != 1 || released != 1 {
		t.Errorf("conversion failure is terminal and must release the frame, acquires/released = %d/%d", acquires, released)
	}
}

func TestStreamClientDisconnect(t *testing.T) {
	drv := newFakeDriver(t, nil)
	d, _, _ := newTestDevice(t, drv)
	startedDevice(d)

	srv := httptest.NewServer(d.streamRouter())
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("stream request failed: %v", err)
	}

	r := bufio.NewReader(resp.Body)
	line, err := r.ReadString('\n')
	if err != nil || line != "Content-Type: image/jpeg\r\n" {
		t.Fatalf("first line = %q, %v", line, err)
	}
	if !d.IsConnected() {
		t.Fatal("device should be connected while streaming")
	}

	cancel()
	io.Copy(io.Discard, resp.Body)
	resp.Body.Close()

	deadline := time.Now().Add(2 * time.Second)
	for d.IsConnected() {
		if time.Now().After(deadline) {
			t.Fatal("connected still set after the client went away")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
