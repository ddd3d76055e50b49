package network

import (
	"errors"
	"net"
	"testing"
)

func TestMonitorStarted(t *testing.T) {
	tests := []struct {
		name   string
		mode   Mode
		ifaces []Iface
		err    error
		want   bool
	}{
		{"wifi up", ModeSTA, []Iface{{Name: "wlan0", Flags: net.FlagUp, Addrs: 1}}, nil, true},
		{"only loopback", ModeSTA, []Iface{{Name: "lo", Flags: net.FlagUp | net.FlagLoopback, Addrs: 1}}, nil, false},
		{"no address", ModeEthernet, []Iface{{Name: "eth0", Flags: net.FlagUp}}, nil, false},
		{"link down", ModeAP, []Iface{{Name: "wlan0", Addrs: 1}}, nil, false},
		{"mode none", ModeNone, []Iface{{Name: "eth0", Flags: net.FlagUp, Addrs: 1}}, nil, false},
		{"list error", ModeSTA, nil, errors.New("netlink"), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := NewMonitor(tt.mode)
			m.list = func() ([]Iface, error) { return tt.ifaces, tt.err }
			if got := m.Started(); got != tt.want {
				t.Errorf("Started = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestParseMode(t *testing.T) {
	for _, m := range []Mode{ModeNone, ModeSTA, ModeAP, ModeEthernet, ModeBluetooth} {
		got, err := ParseMode(m.String())
		if err != nil || got != m {
			t.Errorf("ParseMode(%q) = %v, %v", m.String(), got, err)
		}
	}
	if _, err := ParseMode("lte"); err == nil {
		t.Error("expected an error for an unknown mode")
	}
}
