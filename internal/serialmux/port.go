package serialmux

import (
	"io"
	"time"
)

// Port is the minimal byte stream an adapter is reached through: a serial
// device, a TCP connection to a wireless adapter, or a test double.
type Port interface {
	io.ReadWriter
	io.Closer
}

// TimeoutPort is a Port whose reads can be bounded. Serial ports implement
// it; probing uses it so that a silent device cannot hang a scan.
type TimeoutPort interface {
	Port
	// SetReadTimeout sets the read timeout for the port.
	SetReadTimeout(timeout time.Duration) error
}

// Opener opens a Port by path. It lets the session swap real hardware for
// a scripted port.
type Opener func(path string, opts PortOptions) (Port, error)
