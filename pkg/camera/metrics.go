package camera

import (
	"log/slog"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"
)

const instrumentation = "github.com/wachiwi/camstream/pkg/camera"

var (
	framesStreamed  metric.Int64Counter
	acquireFailures metric.Int64Counter
	convertFailures metric.Int64Counter
	streamSessions  metric.Int64Counter
	commandsApplied metric.Int64Counter
	streamConnected metric.Int64Gauge

	tracer = otel.Tracer(instrumentation)
)

func init() {
	var err error
	meter := otel.Meter(instrumentation)

	framesStreamed, err = meter.Int64Counter("camera.frames.streamed",
		metric.WithDescription("Frames written to stream clients"),
		metric.WithUnit("{frames}"),
	)
	if err != nil {
		slog.Error("Failed to create frames metric", "error", err)
	}
	acquireFailures, err = meter.Int64Counter("camera.acquire.failures",
		metric.WithDescription("Failed frame acquisitions, including retried ones"),
		metric.WithUnit("{failures}"),
	)
	if err != nil {
		slog.Error("Failed to create acquire failure metric", "error", err)
	}
	convertFailures, err = meter.Int64Counter("camera.convert.failures",
		metric.WithDescription("Frames that could not be converted to JPEG"),
		metric.WithUnit("{failures}"),
	)
	if err != nil {
		slog.Error("Failed to create convert failure metric", "error", err)
	}
	streamSessions, err = meter.Int64Counter("camera.stream.sessions",
		metric.WithDescription("Accepted stream connections"),
		metric.WithUnit("{sessions}"),
	)
	if err != nil {
		slog.Error("Failed to create session metric", "error", err)
	}
	commandsApplied, err = meter.Int64Counter("camera.commands",
		metric.WithDescription("Sensor commands by name and result code"),
		metric.WithUnit("{commands}"),
	)
	if err != nil {
		slog.Error("Failed to create command metric", "error", err)
	}
	streamConnected, err = meter.Int64Gauge("camera.stream.connected",
		metric.WithDescription("1 while a client is streaming, 0 otherwise"),
	)
	if err != nil {
		slog.Error("Failed to create connected gauge", "error", err)
	}
}
