package main

import (
	"context"
	"flag"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/robfig/cron/v3"

	"github.com/wachiwi/camstream/pkg/board"
	"github.com/wachiwi/camstream/pkg/camera"
	"github.com/wachiwi/camstream/pkg/config"
	"github.com/wachiwi/camstream/pkg/logger"
	"github.com/wachiwi/camstream/pkg/network"
	"github.com/wachiwi/camstream/pkg/sensor"
	"github.com/wachiwi/camstream/pkg/settings"
	"github.com/wachiwi/camstream/pkg/telemetry"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func newDriver(cfg *config.Config) sensor.Driver {
	switch cfg.Profile.Driver {
	case "libcamera":
		return sensor.NewLibcamera(2 * time.Second)
	default:
		// About 15 fps, close to what an OV2640 delivers at SVGA.
		return sensor.NewTestPattern(sensor.OV2640, 66*time.Millisecond)
	}
}

func newBoard(cfg *config.Config) board.Board {
	if cfg.Profile.Driver == "testpattern" {
		return board.NewMock()
	}
	gpio, err := board.NewGPIO(cfg.Profile.GPIOChip, cfg.Profile)
	if err != nil {
		slog.Warn("GPIO not available, using mock board", "chip", cfg.Profile.GPIOChip, "error", err)
		return board.NewMock()
	}
	return gpio
}

func main() {
	configPath := flag.String("config", os.Getenv("CAMSTREAM_CONFIG"), "path to the YAML config file")
	console := flag.Bool("console", false, "read camera commands from stdin")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatal("Failed to load config", "error", err)
	}
	logger.Setup(cfg.LogLevel)
	gin.SetMode(gin.ReleaseMode)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTelemetry, err := telemetry.Setup(ctx, telemetry.Options{
		ServiceName:    "camstream",
		ServiceVersion: version,
		Endpoint:       cfg.Telemetry.Endpoint,
	})
	if err != nil {
		logger.Fatal("Failed to setup telemetry", "error", err)
	}
	defer func() {
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownTelemetry(sctx); err != nil {
			slog.Error("Failed to shutdown telemetry", "error", err)
		}
	}()

	mode, err := network.ParseMode(cfg.Network.Mode)
	if err != nil {
		logger.Fatal("Invalid network mode", "error", err)
	}
	if cfg.BTMode() {
		slog.Warn("Network is in Bluetooth mode, the camera server will not start")
	}

	store := settings.New(cfg.DataDir)
	b := newBoard(cfg)
	defer b.Close()

	var secret []byte
	if cfg.Server.SessionSecret != "" {
		secret = []byte(cfg.Server.SessionSecret)
	}

	dev := camera.New(camera.Options{
		Profile:         cfg.Profile,
		Driver:          newDriver(cfg),
		Board:           b,
		Settings:        store,
		Network:         network.NewMonitor(mode),
		Output:          logger.NewOutput(os.Stdout),
		Host:            cfg.Server.Host,
		DefaultPort:     uint32(cfg.Server.DefaultPort),
		ControlUser:     cfg.Server.ControlUser,
		ControlPassword: cfg.Server.ControlPassword,
		SessionSecret:   secret,
		SettleDelay:     camera.DefaultSettleDelay,
		WarmupDelay:     camera.DefaultWarmupDelay,
	})

	stored, err := store.CameraPort()
	if err != nil {
		slog.Warn("Failed to read settings", "error", err)
	}
	slog.Info("Starting camstream", "camera", dev.ModelName(), "driver", cfg.Profile.Driver, "port", cfg.StreamPort(stored))

	dev.Begin(false)

	c := cron.New(
		cron.WithLogger(&logger.CronLogger{Logger: slog.Default()}),
		cron.WithChain(cron.SkipIfStillRunning(&logger.CronLogger{Logger: slog.Default()})),
	)
	if _, err := c.AddFunc(cfg.WatchSchedule, dev.Reconcile); err != nil {
		logger.Fatal("Failed to schedule network watcher", "schedule", cfg.WatchSchedule, "error", err)
	}
	c.Start()

	if *console {
		go func() {
			if err := runConsole(ctx, os.Stdin, os.Stdout, dev, store); err != nil {
				slog.Error("Console stopped", "error", err)
			}
		}()
	}

	<-ctx.Done()
	slog.Info("Shutting down")

	<-c.Stop().Done()
	dev.End()
	if !dev.StopHardware() {
		slog.Warn("Camera did not stop cleanly")
	}
}
