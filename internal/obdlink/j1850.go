package obdlink

import (
	"errors"
	"fmt"
)

// J1850 VPW frame delimiters.
const (
	J1850SOF byte = 0x00
	J1850EOF byte = 0xFF
)

var ErrFrame = errors.New("invalid J1850 frame")

// J1850CRC folds the payload with XOR. The register starts at 0xFF and is
// inverted at the end, so the two inversions cancel.
func J1850CRC(payload []byte) byte {
	crc := byte(0xFF)
	for _, b := range payload {
		crc ^= b
	}
	return crc ^ 0xFF
}

// EncodeJ1850 frames payload as SOF | payload | CRC | EOF.
func EncodeJ1850(payload []byte) []byte {
	frame := make([]byte, 0, len(payload)+3)
	frame = append(frame, J1850SOF)
	frame = append(frame, payload...)
	return append(frame, J1850CRC(payload), J1850EOF)
}

// DecodeJ1850 checks the delimiters and CRC and returns the payload.
func DecodeJ1850(frame []byte) ([]byte, error) {
	if len(frame) < 3 || frame[0] != J1850SOF || frame[len(frame)-1] != J1850EOF {
		return nil, fmt.Errorf("%w: bad boundaries", ErrFrame)
	}
	payload := frame[1 : len(frame)-2]
	if got, want := frame[len(frame)-2], J1850CRC(payload); got != want {
		return nil, fmt.Errorf("%w: crc %02X, want %02X", ErrFrame, got, want)
	}
	return append([]byte(nil), payload...), nil
}
