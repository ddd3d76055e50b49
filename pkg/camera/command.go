package camera

import (
	"context"
	"log/slog"
	"sort"
	"strconv"
	"strings"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"

	"github.com/wachiwi/camstream/pkg/sensor"
)

// setter applies one integer parameter to the sensor and returns the driver's
// result code.
type setter func(s sensor.Sensor, v int) int

var sensorCommands = map[string]setter{
	"framesize": func(s sensor.Sensor, v int) int {
		// Resolution can only change on sensors that encode JPEG themselves.
		if s.PixelFormat() != sensor.PixelFormatJPEG {
			return sensor.Fail
		}
		return s.SetFrameSize(sensor.FrameSize(v))
	},
	"quality":    sensor.Sensor.SetQuality,
	"contrast":   sensor.Sensor.SetContrast,
	"brightness": sensor.Sensor.SetBrightness,
	"saturation": sensor.Sensor.SetSaturation,
	"gainceiling": func(s sensor.Sensor, v int) int {
		return s.SetGainCeiling(sensor.GainCeiling(v))
	},
	"colorbar":       sensor.Sensor.SetColorBar,
	"awb":            sensor.Sensor.SetWhiteBalance,
	"agc":            sensor.Sensor.SetGainCtrl,
	"aec":            sensor.Sensor.SetExposureCtrl,
	"hmirror":        sensor.Sensor.SetHMirror,
	"vflip":          sensor.Sensor.SetVFlip,
	"awb_gain":       sensor.Sensor.SetAWBGain,
	"agc_gain":       sensor.Sensor.SetAGCGain,
	"aec_value":      sensor.Sensor.SetAECValue,
	"aec2":           sensor.Sensor.SetAEC2,
	"dcw":            sensor.Sensor.SetDCW,
	"bpc":            sensor.Sensor.SetBPC,
	"wpc":            sensor.Sensor.SetWPC,
	"raw_gma":        sensor.Sensor.SetRawGMA,
	"lenc":           sensor.Sensor.SetLensCorrection,
	"special_effect": sensor.Sensor.SetSpecialEffect,
	"wb_mode":        sensor.Sensor.SetWBMode,
	"ae_level":       sensor.Sensor.SetAELevel,
}

// commandTable adds the light toggle to the sensor commands when the
// profile has a light pin.
func (d *Device) commandTable() map[string]setter {
	table := make(map[string]setter, len(sensorCommands)+1)
	for name, fn := range sensorCommands {
		table[name] = fn
	}
	if d.opts.Profile.HasLight() {
		table["light"] = func(_ sensor.Sensor, v int) int {
			if err := d.opts.Board.SetLight(v == 1); err != nil {
				slog.Error("Failed to set light", "error", err)
				return sensor.Fail
			}
			return sensor.OK
		}
	}
	return table
}

// Commands lists the recognized command names in sorted order.
func (d *Device) Commands() []string {
	names := make([]string, 0, len(d.commands))
	for name := range d.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// ApplyCommand sets sensor parameter name to the integer in value and returns
// the driver's result code: 0 on success, non-zero on failure. It fails with
// -1 when value is not an integer, no sensor is present or name is unknown.
// Value ranges are left to the driver.
func (d *Device) ApplyCommand(name, value string) int {
	rc := d.applyCommand(name, value)

	label := name
	if _, ok := d.commands[name]; !ok {
		label = "unknown"
	}
	commandsApplied.Add(context.Background(), 1, metric.WithAttributes(
		attribute.String("name", label),
		attribute.Int("result", rc),
	))
	return rc
}

func (d *Device) applyCommand(name, value string) int {
	v, err := strconv.Atoi(strings.TrimSpace(value))
	if err != nil {
		slog.Warn("Invalid command value", "name", name, "value", value)
		return sensor.Fail
	}
	s := d.opts.Driver.Sensor()
	if s == nil {
		slog.Warn("No camera sensor", "name", name)
		return sensor.Fail
	}
	fn, ok := d.commands[name]
	if !ok {
		slog.Warn("Unknown camera command", "name", name)
		return sensor.Fail
	}
	rc := fn(s, v)
	slog.Debug("Camera command applied", "name", name, "value", v, "result", rc)
	return rc
}
