package camera

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/wachiwi/camstream/pkg/convert"
	"github.com/wachiwi/camstream/pkg/sensor"
)

const (
	partBoundary      = "123456789000000000000987654321"
	streamContentType = "multipart/x-mixed-replace;boundary=" + partBoundary
	streamBoundary    = "\r\n--" + partBoundary + "\r\n"
	streamPart        = "Content-Type: image/jpeg\r\nContent-Length: %d\r\n\r\n"
)

func (d *Device) streamRouter() http.Handler {
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger("stream"))
	router.GET("/stream", d.handleStream)
	return router
}

// requestLogger logs every request at debug level with slog.
func requestLogger(server string) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		slog.Debug("http request",
			"server", server,
			"method", c.Request.Method,
			"path", c.Request.URL.Path,
			"status", c.Writer.Status(),
			"duration", time.Since(start),
		)
	}
}

// disconnected is called when the client of connection id goes away. It only
// clears the flag; the stream loop notices at its next frame.
func (d *Device) disconnected(id uint64) {
	if d.conn.CompareAndSwap(id, 0) {
		slog.Info("Camera stream disconnected")
	}
}

func (d *Device) handleStream(c *gin.Context) {
	if !d.registered.Load() {
		c.AbortWithStatus(http.StatusNotFound)
		return
	}
	slog.Debug("Camera stream reached", "remote", c.ClientIP())
	if !d.Started() {
		slog.Warn("Camera not started")
		c.String(http.StatusOK, "Camera not started")
		return
	}

	id := d.nextConn.Add(1)
	if !d.conn.CompareAndSwap(0, id) {
		slog.Warn("Camera already streaming", "remote", c.ClientIP())
		c.String(http.StatusOK, "Camera already streaming")
		return
	}
	// End may have run between the started check and taking the connection.
	if !d.Started() {
		d.conn.CompareAndSwap(id, 0)
		c.String(http.StatusOK, "Camera not started")
		return
	}
	ctx := c.Request.Context()
	stop := context.AfterFunc(ctx, func() { d.disconnected(id) })
	defer stop()

	log := slog.With("session", uuid.NewString())
	log.Info("Camera stream connected", "remote", c.ClientIP())
	streamSessions.Add(ctx, 1)
	streamConnected.Record(ctx, 1)
	defer func() {
		d.conn.CompareAndSwap(id, 0)
		streamConnected.Record(context.Background(), 0)
		log.Info("Camera stream closed")
	}()

	c.Header("Content-Type", streamContentType)
	c.Header("Access-Control-Allow-Origin", "*")
	c.Header("Cache-Control", "no-cache, no-store, must-revalidate")
	c.Status(http.StatusOK)

	d.streamLoop(ctx, c.Writer, id, log)
}

// streamLoop writes frames until the connection is cleared, acquisition fails
// more than MaxRetries times in a row, a frame cannot be converted or a write
// fails.
func (d *Device) streamLoop(ctx context.Context, w gin.ResponseWriter, id uint64, log *slog.Logger) {
	retry := 0
	for {
		if d.conn.Load() != id {
			log.Info("Camera is not connected")
			io.WriteString(w, "Camera is not connected")
			return
		}

		log.Debug("Camera capture ongoing")
		d.hw.Lock()
		fb, err := d.opts.Driver.Acquire()
		d.hw.Unlock()
		if err != nil {
			acquireFailures.Add(ctx, 1)
			if retry < d.opts.MaxRetries {
				retry++
				log.Debug("Camera capture failed, retrying", "retry", retry, "error", err)
				continue
			}
			log.Error("Camera capture failed", "error", err)
			return
		}
		retry = 0

		j, err := d.pipeline.Convert(fb, d.release)
		if err != nil {
			convertFailures.Add(ctx, 1)
			log.Error("Frame conversion failed", "error", err)
			return
		}
		err = writePart(w, j)
		j.Release()
		if err != nil {
			log.Info("Stream write failed", "error", err)
			return
		}
		framesStreamed.Add(ctx, 1)
	}
}

func (d *Device) release(fb *sensor.FrameBuffer) {
	d.hw.Lock()
	defer d.hw.Unlock()
	d.opts.Driver.Release(fb)
}

// writePart sends one multipart part as three separately flushed writes:
// part header, JPEG payload and boundary.
func writePart(w gin.ResponseWriter, j *convert.JPEG) error {
	if _, err := fmt.Fprintf(w, streamPart, j.Len()); err != nil {
		return err
	}
	w.Flush()
	if _, err := w.Write(j.Bytes()); err != nil {
		return err
	}
	w.Flush()
	if _, err := io.WriteString(w, streamBoundary); err != nil {
		return err
	}
	w.Flush()
	return nil
}
