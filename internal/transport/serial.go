package transport

import (
	"context"
	"path/filepath"
	"time"

	"github.com/banshee-data/obdwatch/internal/failure"
	"github.com/banshee-data/obdwatch/internal/serialmux"
)

// DefaultProbeTimeout bounds the identify exchange with each serial port.
const DefaultProbeTimeout = 500 * time.Millisecond

// SerialScanner lists local serial ports. When Open is set, each port is
// also opened and asked to identify itself; ports that fail to open or
// answer are still listed, without Info.
type SerialScanner struct {
	// List defaults to serialmux.ListPorts.
	List func() ([]string, error)
	// Open, when set, enables identification.
	Open         func(path string) (serialmux.Port, error)
	ProbeTimeout time.Duration
}

func (s SerialScanner) Scan(ctx context.Context) ([]Device, error) {
	list := s.List
	if list == nil {
		list = serialmux.ListPorts
	}
	ports, err := list()
	if err != nil {
		return nil, failure.Transport("scan serial", err)
	}
	devices := make([]Device, 0, len(ports))
	for _, p := range ports {
		d := Device{Name: filepath.Base(p), Address: p, Kind: KindSerial}
		if s.Open != nil && ctx.Err() == nil {
			d.Info = s.identify(p)
		}
		devices = append(devices, d)
	}
	return devices, nil
}

func (s SerialScanner) identify(path string) string {
	port, err := s.Open(path)
	if err != nil {
		return ""
	}
	defer port.Close()

	timeout := s.ProbeTimeout
	if timeout <= 0 {
		timeout = DefaultProbeTimeout
	}
	info, err := serialmux.Probe(port, timeout)
	if err != nil {
		return ""
	}
	return info
}
