package obdlink

import "github.com/banshee-data/obdwatch/internal/signals"

// Request is one of ReadSignal, ClearCodes or RawSend.
type Request interface {
	isRequest()
}

// ReadSignal reads the current value of a catalog signal.
type ReadSignal struct {
	Signal string
}

// ClearCodes clears stored diagnostic trouble codes.
type ClearCodes struct{}

// RawSend sends Payload verbatim. When Framed is set the payload is wrapped
// in a J1850 frame and sent as hex, and the reply is expected to be a frame
// too.
type RawSend struct {
	Payload []byte
	Framed  bool
}

func (ReadSignal) isRequest() {}
func (ClearCodes) isRequest() {}
func (RawSend) isRequest()    {}

// Result is the outcome of a Request. Value and Unit are set for
// ReadSignal; Raw holds the reply payload for RawSend.
type Result struct {
	Value signals.Value
	Unit  string
	Raw   []byte
}
