// Package config loads the camera build profile and runtime settings.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/wachiwi/camstream/pkg/sensor"
)

const envPrefix = "CAMSTREAM_"

// Config holds everything the camstream binary needs at startup.
type Config struct {
	Profile   Profile         `yaml:"profile"`
	Server    ServerConfig    `yaml:"server"`
	Network   NetworkConfig   `yaml:"network"`
	Telemetry TelemetryConfig `yaml:"telemetry"`

	DataDir       string `yaml:"data_dir"`
	LogLevel      string `yaml:"log_level"`
	WatchSchedule string `yaml:"watch_schedule"` // cron spec for the network watcher
}

type ServerConfig struct {
	Host        string `yaml:"host"`
	DefaultPort int    `yaml:"default_port"` // used when the settings store has no port

	// BasicAuth on the control API is enabled when both are set.
	ControlUser     string `yaml:"control_user"`
	ControlPassword string `yaml:"control_password"`
	// SessionSecret signs login cookies. A random secret is used when empty.
	SessionSecret string `yaml:"session_secret"`
}

type NetworkConfig struct {
	Mode string `yaml:"mode"` // sta, ap, eth, bt or none
}

type TelemetryConfig struct {
	Endpoint string `yaml:"endpoint"` // OTLP gRPC endpoint, empty disables export
}

// Default returns the configuration used when no file is given.
func Default() *Config {
	return &Config{
		Profile: defaultProfile(),
		Server: ServerConfig{
			Host:        "0.0.0.0",
			DefaultPort: 9600,
		},
		Network:       NetworkConfig{Mode: "sta"},
		DataDir:       "data",
		LogLevel:      "info",
		WatchSchedule: "@every 30s",
	}
}

// Load builds the configuration from defaults, the YAML file at path (when
// path is not empty) and CAMSTREAM_* environment variables, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config: %w", err)
		}
		if err := cfg.decode(data); err != nil {
			return nil, err
		}
	}

	cfg.applyEnv()

	if err := cfg.resolve(); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func (c *Config) decode(data []byte) error {
	// Choosing a model resets the pin map to that model's preset before
	// explicit pins are applied on top of it.
	var probe struct {
		Profile struct {
			Model *Model `yaml:"model"`
		} `yaml:"profile"`
	}
	if err := yaml.Unmarshal(data, &probe); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	if probe.Profile.Model != nil {
		c.Profile.Model = *probe.Profile.Model
		c.Profile.Pins = PinPreset(c.Profile.Model)
		c.Profile.Name = ""
	}

	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Host = getEnvOrDefault("HOST", c.Server.Host)
	c.Server.DefaultPort = getEnvAsIntOrDefault("PORT", c.Server.DefaultPort)
	c.Server.ControlUser = getEnvOrDefault("CONTROL_USER", c.Server.ControlUser)
	c.Server.ControlPassword = getEnvOrDefault("CONTROL_PASSWORD", c.Server.ControlPassword)
	c.Server.SessionSecret = getEnvOrDefault("SESSION_SECRET", c.Server.SessionSecret)
	c.Network.Mode = getEnvOrDefault("NETWORK_MODE", c.Network.Mode)
	c.Telemetry.Endpoint = getEnvOrDefault("OTEL_ENDPOINT", c.Telemetry.Endpoint)
	c.DataDir = getEnvOrDefault("DATA_DIR", c.DataDir)
	c.LogLevel = getEnvOrDefault("LOG_LEVEL", c.LogLevel)
	c.Profile.Driver = getEnvOrDefault("DRIVER", c.Profile.Driver)
	c.Profile.Name = getEnvOrDefault("CAMERA_NAME", c.Profile.Name)
	c.Profile.FrameSizeName = getEnvOrDefault("FRAME_SIZE", c.Profile.FrameSizeName)
	c.Profile.PixelFormatName = getEnvOrDefault("PIXEL_FORMAT", c.Profile.PixelFormatName)
	c.Profile.LightPin = getEnvAsIntOrDefault("LIGHT_PIN", c.Profile.LightPin)
}

func (c *Config) resolve() error {
	fs, err := sensor.ParseFrameSize(c.Profile.FrameSizeName)
	if err != nil {
		return err
	}
	pf, err := sensor.ParsePixelFormat(c.Profile.PixelFormatName)
	if err != nil {
		return err
	}
	c.Profile.FrameSize = fs
	c.Profile.PixelFormat = pf
	return nil
}

// Validate checks ranges that the driver and servers rely on.
func (c *Config) Validate() error {
	var errs []error

	if c.Server.DefaultPort < 1 || c.Server.DefaultPort > 65534 {
		// port+1 hosts the control API
		errs = append(errs, fmt.Errorf("invalid default port: %d", c.Server.DefaultPort))
	}
	switch c.Network.Mode {
	case "sta", "ap", "eth", "bt", "none":
	default:
		errs = append(errs, fmt.Errorf("invalid network mode: %q", c.Network.Mode))
	}
	switch c.Profile.Driver {
	case "testpattern", "libcamera":
	default:
		errs = append(errs, fmt.Errorf("invalid driver: %q", c.Profile.Driver))
	}
	if !c.Profile.FrameSize.Valid() {
		errs = append(errs, fmt.Errorf("invalid frame size: %d", c.Profile.FrameSize))
	}
	if c.Profile.JPEGQuality < 0 || c.Profile.JPEGQuality > 63 {
		errs = append(errs, fmt.Errorf("jpeg quality must be 0-63, got %d", c.Profile.JPEGQuality))
	}
	if c.Profile.FrameBufferCount < 1 {
		errs = append(errs, fmt.Errorf("frame buffer count must be at least 1, got %d", c.Profile.FrameBufferCount))
	}
	if c.Profile.XCLKHz <= 0 {
		errs = append(errs, fmt.Errorf("invalid xclk frequency: %d", c.Profile.XCLKHz))
	}
	if (c.Server.ControlUser == "") != (c.Server.ControlPassword == "") {
		errs = append(errs, errors.New("control user and password must be set together"))
	}
	if c.WatchSchedule == "" {
		errs = append(errs, errors.New("watch schedule is empty"))
	}

	return errors.Join(errs...)
}

// StreamPort returns port when it is set, else the configured default.
func (c *Config) StreamPort(port uint32) uint32 {
	if port == 0 {
		return uint32(c.Server.DefaultPort)
	}
	return port
}

// BTMode reports whether the network is in Bluetooth mode, where the camera
// server never runs.
func (c *Config) BTMode() bool {
	return strings.EqualFold(c.Network.Mode, "bt")
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsIntOrDefault(key string, defaultValue int) int {
	if value := os.Getenv(envPrefix + key); value != "" {
		if v, err := strconv.Atoi(value); err == nil {
			return v
		}
	}
	return defaultValue
}
