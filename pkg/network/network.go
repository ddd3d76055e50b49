// Package network reports whether the host network is usable for serving
// the camera stream.
package network

import (
	"fmt"
	"net"
	"strings"
)

// Mode is the configured network mode.
type Mode int

const (
	ModeNone Mode = iota
	ModeSTA
	ModeAP
	ModeEthernet
	ModeBluetooth
)

func (m Mode) String() string {
	switch m {
	case ModeSTA:
		return "sta"
	case ModeAP:
		return "ap"
	case ModeEthernet:
		return "eth"
	case ModeBluetooth:
		return "bt"
	default:
		return "none"
	}
}

func ParseMode(s string) (Mode, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "sta":
		return ModeSTA, nil
	case "ap":
		return ModeAP, nil
	case "eth":
		return ModeEthernet, nil
	case "bt":
		return ModeBluetooth, nil
	case "none", "":
		return ModeNone, nil
	}
	return ModeNone, fmt.Errorf("unknown network mode %q", s)
}

// Iface is the subset of net.Interface the monitor looks at.
type Iface struct {
	Name  string
	Flags net.Flags
	Addrs int
}

// Monitor answers "is the network up" from the OS interface table.
type Monitor struct {
	mode Mode
	list func() ([]Iface, error)
}

func NewMonitor(mode Mode) *Monitor {
	return &Monitor{mode: mode, list: systemInterfaces}
}

func (m *Monitor) Mode() Mode {
	return m.mode
}

// Started reports whether the network is up: the mode is not none and at
// least one non-loopback interface is up with an address.
func (m *Monitor) Started() bool {
	if m.mode == ModeNone {
		return false
	}
	ifaces, err := m.list()
	if err != nil {
		return false
	}
	for _, i := range ifaces {
		if i.Flags&net.FlagUp != 0 && i.Flags&net.FlagLoopback == 0 && i.Addrs > 0 {
			return true
		}
	}
	return false
}

func systemInterfaces() ([]Iface, error) {
	ifaces, err := net.Interfaces()
	if err != nil {
		return nil, err
	}
	out := make([]Iface, 0, len(ifaces))
	for _, i := range ifaces {
		addrs, err := i.Addrs()
		if err != nil {
			continue
		}
		out = append(out, Iface{Name: i.Name, Flags: i.Flags, Addrs: len(addrs)})
	}
	return out, nil
}
