// Package board drives the hardware around the image sensor: power
// supervision, memory checks and the GPIO lines wired to the camera module.
package board

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
	"strconv"
	"strings"
	"sync"
)

// ErrBusNotHeld is returned by ReleaseSensorBus when there is nothing to release.
var ErrBusNotHeld = errors.New("sensor bus not held")

// Board is the board-level side of camera init and teardown.
type Board interface {
	// DisableBrownout turns off the supply brown-out detector, which the
	// sensor's inrush current would otherwise trip.
	DisableBrownout() error
	// HasExternalRAM reports whether enough memory for frame buffers is present.
	HasExternalRAM() bool
	// PrepareSensor configures pull-ups, drives the light low and powers the
	// sensor up.
	PrepareSensor() error
	SetLight(on bool) error
	// ReleaseSensorBus frees the lines claimed for the sensor.
	ReleaseSensorBus() error
	Close() error
}

const memInfoPath = "/proc/meminfo"

// MemTotalKB reads MemTotal from a /proc/meminfo formatted reader.
func MemTotalKB(r io.Reader) (int, error) {
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		fields := strings.Fields(sc.Text())
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.Atoi(fields[1])
		if err != nil {
			return 0, fmt.Errorf("invalid MemTotal %q: %w", fields[1], err)
		}
		return kb, nil
	}
	if err := sc.Err(); err != nil {
		return 0, err
	}
	return 0, errors.New("MemTotal not found")
}

func hasMemory(path string, minKB int) bool {
	if minKB <= 0 {
		return true
	}
	f, err := os.Open(path)
	if err != nil {
		return false
	}
	defer f.Close()
	kb, err := MemTotalKB(f)
	if err != nil {
		return false
	}
	return kb >= minKB
}

func writeBrownout(path string) error {
	if path == "" {
		return nil
	}
	if err := os.WriteFile(path, []byte("0\n"), 0o644); err != nil {
		return fmt.Errorf("failed to disable brownout detector: %w", err)
	}
	return nil
}

// Mock is a Board without hardware for development machines. It records the
// light state and logs every call.
type Mock struct {
	mu       sync.Mutex
	light    bool
	prepared bool

	NoRAM bool // HasExternalRAM reports false
}

func NewMock() *Mock {
	log.Println("[MOCK] Initializing board without GPIO")
	return &Mock{}
}

func (m *Mock) DisableBrownout() error {
	log.Println("[MOCK] Brownout detector disabled")
	return nil
}

func (m *Mock) HasExternalRAM() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return !m.NoRAM
}

func (m *Mock) PrepareSensor() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Println("[MOCK] Sensor powered up")
	m.prepared = true
	m.light = false
	return nil
}

func (m *Mock) SetLight(on bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	log.Printf("[MOCK] Light %v", on)
	m.light = on
	return nil
}

func (m *Mock) ReleaseSensorBus() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.prepared {
		return ErrBusNotHeld
	}
	log.Println("[MOCK] Sensor bus released")
	m.prepared = false
	return nil
}

func (m *Mock) LightOn() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.light
}

func (m *Mock) Close() error {
	return nil
}
