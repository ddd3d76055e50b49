package config

import (
	"fmt"
	"strings"

	"github.com/wachiwi/camstream/pkg/sensor"
)

// Model identifies the camera board. Values match the firmware build flags.
type Model int

const (
	ModelCustom Model = iota
	ModelESPEye
	ModelM5StackPSRAM
	ModelM5StackWide
	ModelAIThinker
	ModelWroverKit
)

var modelKeys = map[Model]string{
	ModelCustom:       "custom",
	ModelESPEye:       "esp_eye",
	ModelM5StackPSRAM: "m5stack_psram",
	ModelM5StackWide:  "m5stack_wide",
	ModelAIThinker:    "ai_thinker",
	ModelWroverKit:    "wrover_kit",
}

func (m Model) String() string {
	if k, ok := modelKeys[m]; ok {
		return k
	}
	return fmt.Sprintf("model(%d)", int(m))
}

// DisplayName is the human readable board name.
func (m Model) DisplayName() string {
	switch m {
	case ModelWroverKit:
		return "WROVER Kit"
	case ModelESPEye:
		return "ESP Eye"
	case ModelM5StackPSRAM:
		return "M5Stack with PSRam"
	case ModelM5StackWide:
		return "M5Stack wide"
	case ModelAIThinker:
		return "ESP32 Cam"
	default:
		return "Unknow Camera"
	}
}

func ParseModel(s string) (Model, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	for m, k := range modelKeys {
		if k == s {
			return m, nil
		}
	}
	return 0, fmt.Errorf("unknown camera model %q", s)
}

func (m *Model) UnmarshalYAML(unmarshal func(any) error) error {
	var s string
	if err := unmarshal(&s); err != nil {
		return err
	}
	v, err := ParseModel(s)
	if err != nil {
		return err
	}
	*m = v
	return nil
}

// PinPreset returns the wiring of a known board. Custom boards get every pin
// unset and must be described in the profile file.
func PinPreset(m Model) sensor.Pins {
	switch m {
	case ModelAIThinker:
		return sensor.Pins{
			PowerDown: 32, Reset: -1, XCLK: 0, SDA: 26, SCL: 27,
			D7: 35, D6: 34, D5: 39, D4: 36, D3: 21, D2: 19, D1: 18, D0: 5,
			VSYNC: 25, HREF: 23, PCLK: 22,
		}
	case ModelWroverKit:
		return sensor.Pins{
			PowerDown: -1, Reset: -1, XCLK: 21, SDA: 26, SCL: 27,
			D7: 35, D6: 34, D5: 39, D4: 36, D3: 19, D2: 18, D1: 5, D0: 4,
			VSYNC: 25, HREF: 23, PCLK: 22,
		}
	case ModelESPEye:
		return sensor.Pins{
			PowerDown: -1, Reset: -1, XCLK: 4, SDA: 18, SCL: 23,
			D7: 36, D6: 37, D5: 38, D4: 39, D3: 35, D2: 14, D1: 13, D0: 34,
			VSYNC: 5, HREF: 27, PCLK: 25,
		}
	case ModelM5StackPSRAM:
		return sensor.Pins{
			PowerDown: -1, Reset: 15, XCLK: 27, SDA: 25, SCL: 23,
			D7: 19, D6: 36, D5: 18, D4: 39, D3: 5, D2: 34, D1: 35, D0: 32,
			VSYNC: 22, HREF: 26, PCLK: 21,
		}
	case ModelM5StackWide:
		return sensor.Pins{
			PowerDown: -1, Reset: 15, XCLK: 27, SDA: 22, SCL: 23,
			D7: 19, D6: 36, D5: 18, D4: 39, D3: 5, D2: 34, D1: 35, D0: 32,
			VSYNC: 25, HREF: 26, PCLK: 21,
		}
	default:
		return sensor.Pins{
			PowerDown: -1, Reset: -1, XCLK: -1, SDA: -1, SCL: -1,
			D7: -1, D6: -1, D5: -1, D4: -1, D3: -1, D2: -1, D1: -1, D0: -1,
			VSYNC: -1, HREF: -1, PCLK: -1,
		}
	}
}

// Profile is the immutable description of the camera hardware this build runs
// on. It is constructed once at startup and never changed.
type Profile struct {
	Model          Model       `yaml:"model"`
	Name           string      `yaml:"name"` // overrides the model display name
	Pins           sensor.Pins `yaml:"pins"`
	FlipHorizontal bool        `yaml:"flip_horizontal"`
	FlipVertical   bool        `yaml:"flip_vertical"`

	FrameSizeName   string             `yaml:"frame_size"`
	PixelFormatName string             `yaml:"pixel_format"`
	FrameSize       sensor.FrameSize   `yaml:"-"`
	PixelFormat     sensor.PixelFormat `yaml:"-"`

	JPEGQuality      int `yaml:"jpeg_quality"`
	XCLKHz           int `yaml:"xclk_hz"`
	FrameBufferCount int `yaml:"frame_buffers"`

	LightPin int `yaml:"light_pin"`
	PullUp1  int `yaml:"pullup1"`
	PullUp2  int `yaml:"pullup2"`

	Driver          string `yaml:"driver"` // testpattern or libcamera
	GPIOChip        string `yaml:"gpio_chip"`
	MinMemoryKB     int    `yaml:"min_memory_kb"`
	BrownoutControl string `yaml:"brownout_control"` // sysfs file written with 0 to disable
}

// DisplayName is the custom name if set, else the model name.
func (p Profile) DisplayName() string {
	if p.Name != "" {
		return p.Name
	}
	return p.Model.DisplayName()
}

// HasLight reports whether a light pin is wired.
func (p Profile) HasLight() bool {
	return p.LightPin >= 0
}

// SensorConfig is the record handed to the driver on init.
func (p Profile) SensorConfig() sensor.Config {
	return sensor.Config{
		Pins:             p.Pins,
		XCLKHz:           p.XCLKHz,
		PixelFormat:      p.PixelFormat,
		JPEGQuality:      p.JPEGQuality,
		FrameBufferCount: p.FrameBufferCount,
		FrameSize:        p.FrameSize,
	}
}

func defaultProfile() Profile {
	return Profile{
		Model:            ModelAIThinker,
		Name:             "ESP32-CAM",
		Pins:             PinPreset(ModelAIThinker),
		FrameSizeName:    "svga",
		PixelFormatName:  "jpeg",
		FrameSize:        sensor.FrameSizeSVGA,
		PixelFormat:      sensor.PixelFormatJPEG,
		JPEGQuality:      5,
		XCLKHz:           10000000,
		FrameBufferCount: 1,
		LightPin:         -1,
		PullUp1:          -1,
		PullUp2:          -1,
		Driver:           "testpattern",
		GPIOChip:         "gpiochip0",
		MinMemoryKB:      4096,
	}
}
