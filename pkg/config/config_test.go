package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/wachiwi/camstream/pkg/sensor"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "camstream.yaml")
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}
	return path
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.DefaultPort != 9600 {
		t.Errorf("default port = %d, want 9600", cfg.Server.DefaultPort)
	}
	if cfg.Profile.FrameSize != sensor.FrameSizeSVGA || cfg.Profile.PixelFormat != sensor.PixelFormatJPEG {
		t.Errorf("profile = %v/%v, want SVGA/JPEG", cfg.Profile.FrameSize, cfg.Profile.PixelFormat)
	}
	if cfg.Profile.Pins.PowerDown != 32 {
		t.Errorf("AI Thinker power down pin = %d, want 32", cfg.Profile.Pins.PowerDown)
	}
	if cfg.Profile.HasLight() {
		t.Error("default profile should have no light pin")
	}
}

func TestLoadYAMLModelPreset(t *testing.T) {
	path := writeConfig(t, `
profile:
  model: esp_eye
  frame_size: qvga
  pixel_format: rgb565
  flip_vertical: true
  pins:
    xclk: 7
server:
  default_port: 8000
network:
  mode: ap
`)

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	p := cfg.Profile
	if p.Model != ModelESPEye {
		t.Errorf("model = %v, want esp_eye", p.Model)
	}
	if p.DisplayName() != "ESP Eye" {
		t.Errorf("display name = %q, want model name when no custom name is set", p.DisplayName())
	}
	if p.Pins.XCLK != 7 {
		t.Errorf("explicit xclk pin = %d, want 7", p.Pins.XCLK)
	}
	if p.Pins.SDA != 18 || p.Pins.PowerDown != -1 {
		t.Errorf("preset pins not applied: %+v", p.Pins)
	}
	if p.FrameSize != sensor.FrameSizeQVGA || p.PixelFormat != sensor.PixelFormatRGB565 {
		t.Errorf("profile = %v/%v, want QVGA/RGB565", p.FrameSize, p.PixelFormat)
	}
	if !p.FlipVertical || p.FlipHorizontal {
		t.Error("flip flags not loaded")
	}
	if cfg.Server.DefaultPort != 8000 || cfg.Network.Mode != "ap" {
		t.Errorf("server/network = %d/%s", cfg.Server.DefaultPort, cfg.Network.Mode)
	}
}

func TestLoadEnvOverrides(t *testing.T) {
	t.Setenv("CAMSTREAM_PORT", "9700")
	t.Setenv("CAMSTREAM_CAMERA_NAME", "garage")
	t.Setenv("CAMSTREAM_NETWORK_MODE", "bt")

	cfg, err := Load(writeConfig(t, "server:\n  default_port: 8000\n"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Server.DefaultPort != 9700 {
		t.Errorf("port = %d, want env override 9700", cfg.Server.DefaultPort)
	}
	if cfg.Profile.DisplayName() != "garage" {
		t.Errorf("name = %q, want garage", cfg.Profile.DisplayName())
	}
	if !cfg.BTMode() {
		t.Error("expected bt mode")
	}
}

func TestLoadErrors(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"unknown model", "profile:\n  model: gopro\n", "unknown camera model"},
		{"bad frame size", "profile:\n  frame_size: 8k\n", "frame size"},
		{"bad driver", "profile:\n  driver: v4l2\n", "invalid driver"},
		{"bad port", "server:\n  default_port: 65535\n", "invalid default port"},
		{"half credentials", "server:\n  control_user: admin\n", "set together"},
		{"bad quality", "profile:\n  jpeg_quality: 99\n", "jpeg quality"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Load(writeConfig(t, tt.body))
			if err == nil {
				t.Fatal("expected an error")
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestModelDisplayNames(t *testing.T) {
	tests := map[Model]string{
		ModelWroverKit:    "WROVER Kit",
		ModelESPEye:       "ESP Eye",
		ModelM5StackPSRAM: "M5Stack with PSRam",
		ModelM5StackWide:  "M5Stack wide",
		ModelAIThinker:    "ESP32 Cam",
		ModelCustom:       "Unknow Camera",
	}
	for m, want := range tests {
		if got := m.DisplayName(); got != want {
			t.Errorf("%v display name = %q, want %q", m, got, want)
		}
	}
}

func TestStreamPort(t *testing.T) {
	cfg := Default()
	if got := cfg.StreamPort(0); got != 9600 {
		t.Errorf("StreamPort(0) = %d, want default 9600", got)
	}
	if got := cfg.StreamPort(8081); got != 8081 {
		t.Errorf("StreamPort(8081) = %d", got)
	}
}
