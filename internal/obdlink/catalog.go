package obdlink

import (
	"math"
	"sort"

	"github.com/banshee-data/obdwatch/internal/signals"
	"github.com/banshee-data/obdwatch/internal/units"
)

// PID describes one mode 01 parameter.
type PID struct {
	Name  string
	Code  byte
	Bytes int
	Unit  string

	Decode func(data []byte) signals.Value
	// Encode produces the data bytes for v. Used by the simulator.
	Encode func(v float64) []byte
}

// Command is the request text sent to the adapter.
func (p PID) Command() string {
	return "01" + hexByte(p.Code)
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }

func clampByte(v float64) byte {
	return byte(math.Max(0, math.Min(255, math.Round(v))))
}

func single(decode func(a float64) float64, encode func(v float64) float64) (func([]byte) signals.Value, func(float64) []byte) {
	return func(d []byte) signals.Value { return signals.Number(round2(decode(float64(d[0])))) },
		func(v float64) []byte { return []byte{clampByte(encode(v))} }
}

func percent() (func([]byte) signals.Value, func(float64) []byte) {
	return single(func(a float64) float64 { return a * 100 / 255 }, func(v float64) float64 { return v * 255 / 100 })
}

func temperature() (func([]byte) signals.Value, func(float64) []byte) {
	return single(func(a float64) float64 { return a - 40 }, func(v float64) float64 { return v + 40 })
}

func identity() (func([]byte) signals.Value, func(float64) []byte) {
	return single(func(a float64) float64 { return a }, func(v float64) float64 { return v })
}

func word(scale float64) (func([]byte) signals.Value, func(float64) []byte) {
	return func(d []byte) signals.Value {
			return signals.Number(round2((float64(d[0])*256 + float64(d[1])) / scale))
		}, func(v float64) []byte {
			n := uint16(math.Max(0, math.Min(65535, math.Round(v*scale))))
			return []byte{byte(n >> 8), byte(n)}
		}
}

var fuelStatus = map[byte]string{
	0x01: "Open loop (cold)",
	0x02: "Closed loop",
	0x04: "Open loop (load)",
	0x08: "Open loop (fault)",
	0x10: "Closed loop (fault)",
}

func newPID(name string, code byte, n int, unit string, codec func() (func([]byte) signals.Value, func(float64) []byte)) PID {
	dec, enc := codec()
	return PID{Name: name, Code: code, Bytes: n, Unit: unit, Decode: dec, Encode: enc}
}

// Catalog is the set of signals the link can read, keyed by name.
var Catalog = map[string]PID{}

func init() {
	for _, p := range []PID{
		newPID("ENGINE_LOAD", 0x04, 1, "%", percent),
		newPID("COOLANT_TEMP", 0x05, 1, units.Celsius, temperature),
		newPID("INTAKE_PRESSURE", 0x0B, 1, "kPa", identity),
		newPID("RPM", 0x0C, 2, "rpm", func() (func([]byte) signals.Value, func(float64) []byte) { return word(4) }),
		newPID("SPEED", 0x0D, 1, units.KPH, identity),
		newPID("INTAKE_TEMP", 0x0F, 1, units.Celsius, temperature),
		newPID("MAF", 0x10, 2, "g/s", func() (func([]byte) signals.Value, func(float64) []byte) { return word(100) }),
		newPID("THROTTLE_POS", 0x11, 1, "%", percent),
		{
			Name: "FUEL_STATUS", Code: 0x03, Bytes: 2,
			Decode: func(d []byte) signals.Value {
				if s, ok := fuelStatus[d[0]]; ok {
					return signals.Opaque(s)
				}
				return signals.Opaque("Unknown")
			},
			Encode: func(v float64) []byte { return []byte{clampByte(v), 0} },
		},
	} {
		Catalog[p.Name] = p
	}
}

// Lookup returns the catalog entry for name.
func Lookup(name string) (PID, bool) {
	p, ok := Catalog[name]
	return p, ok
}

// lookupCode returns the catalog entry with the given PID code.
func lookupCode(code byte) (PID, bool) {
	for _, p := range Catalog {
		if p.Code == code {
			return p, true
		}
	}
	return PID{}, false
}

// Names returns the catalog signal names, sorted.
func Names() []string {
	out := make([]string, 0, len(Catalog))
	for name := range Catalog {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
