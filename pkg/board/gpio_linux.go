//go:build linux

package board

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/warthog618/go-gpiocdev"

	"github.com/wachiwi/camstream/pkg/config"
)

const consumer = "camstream"

// GPIO is the Board for Linux hosts using the GPIO character device.
type GPIO struct {
	mu      sync.Mutex
	chip    *gpiocdev.Chip
	profile config.Profile
	light   *gpiocdev.Line
	// lines claimed for the sensor by PrepareSensor
	bus []*gpiocdev.Line

	memInfo string
}

// NewGPIO opens chipName for the pins described in p.
func NewGPIO(chipName string, p config.Profile) (*GPIO, error) {
	c, err := gpiocdev.NewChip(chipName, gpiocdev.WithConsumer(consumer))
	if err != nil {
		return nil, fmt.Errorf("failed to open chip: %w", err)
	}
	return &GPIO{chip: c, profile: p, memInfo: memInfoPath}, nil
}

func (g *GPIO) DisableBrownout() error {
	return writeBrownout(g.profile.BrownoutControl)
}

func (g *GPIO) HasExternalRAM() bool {
	return hasMemory(g.memInfo, g.profile.MinMemoryKB)
}

func (g *GPIO) PrepareSensor() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	for _, pin := range []int{g.profile.PullUp1, g.profile.PullUp2} {
		if pin < 0 {
			continue
		}
		l, err := g.chip.RequestLine(pin, gpiocdev.AsInput, gpiocdev.WithPullUp)
		if err != nil {
			return fmt.Errorf("failed to request pull-up line %d: %w", pin, err)
		}
		g.bus = append(g.bus, l)
	}

	if g.profile.HasLight() && g.light == nil {
		l, err := g.chip.RequestLine(g.profile.LightPin, gpiocdev.AsOutput(0))
		if err != nil {
			return fmt.Errorf("failed to request light line %d: %w", g.profile.LightPin, err)
		}
		g.light = l
	} else if g.light != nil {
		if err := g.light.SetValue(0); err != nil {
			return err
		}
	}

	// Driving power-down low switches the sensor on.
	if pin := g.profile.Pins.PowerDown; pin >= 0 {
		slog.Debug("powering up sensor", "pin", pin)
		l, err := g.chip.RequestLine(pin, gpiocdev.AsOutput(0))
		if err != nil {
			return fmt.Errorf("failed to request power down line %d: %w", pin, err)
		}
		g.bus = append(g.bus, l)
	}
	return nil
}

func (g *GPIO) SetLight(on bool) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.light == nil {
		return errors.New("no light line")
	}
	v := 0
	if on {
		v = 1
	}
	return g.light.SetValue(v)
}

func (g *GPIO) ReleaseSensorBus() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.bus) == 0 {
		return ErrBusNotHeld
	}
	var errs []error
	for _, l := range g.bus {
		errs = append(errs, l.Close())
	}
	g.bus = nil
	return errors.Join(errs...)
}

// Close releases all GPIO resources.
func (g *GPIO) Close() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	var errs []error
	for _, l := range g.bus {
		errs = append(errs, l.Close())
	}
	g.bus = nil
	if g.light != nil {
		errs = append(errs, g.light.SetValue(0), g.light.Close())
		g.light = nil
	}
	errs = append(errs, g.chip.Close())
	return errors.Join(errs...)
}
