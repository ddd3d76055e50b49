//go:build !linux

package board

import (
	"errors"

	"github.com/wachiwi/camstream/pkg/config"
)

// GPIO is only available on Linux.
type GPIO struct {
	Mock
}

// NewGPIO fails on hosts without the GPIO character device; use NewMock.
func NewGPIO(chipName string, p config.Profile) (*GPIO, error) {
	return nil, errors.New("gpio is only supported on linux")
}
