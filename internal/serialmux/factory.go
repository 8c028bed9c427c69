package serialmux

import (
	"bytes"
	"fmt"
	"time"

	"go.bug.st/serial"
)

// OpenSerial opens the serial device at path with the given options.
func OpenSerial(path string, opts PortOptions) (Port, error) {
	mode, err := opts.SerialMode()
	if err != nil {
		return nil, err
	}

	port, err := serial.Open(path, mode)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	return port, nil
}

// ListPorts enumerates the serial devices known to the operating system.
func ListPorts() ([]string, error) {
	ports, err := serial.GetPortsList()
	if err != nil {
		return nil, fmt.Errorf("list serial ports: %w", err)
	}
	return ports, nil
}

// Probe sends an identify command to an already open port and returns the
// adapter's answer, reading until the prompt or until timeout elapses.
// Ports that cannot bound their reads are probed with a single write and
// the answer is not awaited.
func Probe(port Port, timeout time.Duration) (string, error) {
	if _, err := port.Write([]byte("ATI" + CommandTerminator)); err != nil {
		return "", fmt.Errorf("probe write: %w", err)
	}

	tp, ok := port.(TimeoutPort)
	if !ok {
		return "", nil
	}
	if err := tp.SetReadTimeout(timeout); err != nil {
		return "", fmt.Errorf("probe set timeout: %w", err)
	}

	deadline := time.Now().Add(timeout)
	var resp bytes.Buffer
	buf := make([]byte, 64)
	for time.Now().Before(deadline) {
		n, err := port.Read(buf)
		if err != nil {
			return "", fmt.Errorf("probe read: %w", err)
		}
		if n == 0 {
			continue
		}
		resp.Write(buf[:n])
		if bytes.IndexByte(resp.Bytes(), Prompt) >= 0 {
			break
		}
	}

	if resp.Len() == 0 {
		return "", fmt.Errorf("probe: no response within %s", timeout)
	}
	return cleanResponse(resp.Bytes()), nil
}
