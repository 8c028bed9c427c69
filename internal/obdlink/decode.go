package obdlink

import (
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
)

var (
	ErrNoData        = errors.New("no data")
	ErrUnknownSignal = errors.New("unknown signal")
	ErrBadResponse   = errors.New("malformed response")
)

// adapterErrors are replies an ELM-style adapter gives instead of data.
var adapterErrors = []string{
	"NO DATA",
	"UNABLE TO CONNECT",
	"CAN ERROR",
	"BUS ERROR",
	"STOPPED",
	"ERROR",
	"?",
}

func hexByte(b byte) string { return strings.ToUpper(hex.EncodeToString([]byte{b})) }

// adapterError returns the adapter error in resp, if any.
func adapterError(resp string) error {
	up := strings.ToUpper(strings.TrimSpace(resp))
	if up == "" {
		return ErrNoData
	}
	for _, e := range adapterErrors {
		if strings.Contains(up, e) {
			if e == "NO DATA" {
				return ErrNoData
			}
			return fmt.Errorf("adapter replied %q", strings.TrimSpace(resp))
		}
	}
	return nil
}

// hexLines decodes each line of resp as hex, ignoring whitespace. Lines that
// are not hex, such as an echoed command, are skipped.
func hexLines(resp string) [][]byte {
	var out [][]byte
	for _, line := range strings.Split(resp, "\n") {
		compact := strings.Join(strings.Fields(line), "")
		if compact == "" || len(compact)%2 != 0 {
			continue
		}
		b, err := hex.DecodeString(compact)
		if err != nil {
			continue
		}
		out = append(out, b)
	}
	return out
}

// extractData returns the data bytes of the first line answering mode/pid.
// Mode 01 replies are prefixed with 0x41 and the PID.
func extractData(resp string, p PID) ([]byte, error) {
	if err := adapterError(resp); err != nil {
		return nil, err
	}
	for _, b := range hexLines(resp) {
		if len(b) >= 2 && b[0] == 0x41 && b[1] == p.Code {
			if len(b)-2 < p.Bytes {
				return nil, fmt.Errorf("%w: %s needs %d bytes, got %d", ErrBadResponse, p.Name, p.Bytes, len(b)-2)
			}
			return b[2 : 2+p.Bytes], nil
		}
	}
	return nil, fmt.Errorf("%w: no 41 %s line in %q", ErrBadResponse, hexByte(p.Code), resp)
}
