package obdlink

import (
	"encoding/hex"
	"math"
	"math/rand/v2"
	"strings"
	"sync"
)

// Simulator answers adapter commands from a synthetic engine that sweeps
// through its rev range. Its Respond method fits serialmux.Responder.
type Simulator struct {
	mu    sync.Mutex
	rng   *rand.Rand
	phase float64
	temp  float64
}

// NewSimulator returns a simulator seeded for reproducible noise.
func NewSimulator(seed uint64) *Simulator {
	return &Simulator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15)), temp: 20}
}

func (s *Simulator) noise(scale float64) float64 {
	return (s.rng.Float64() - 0.5) * scale
}

// value returns the simulated reading for name. Each RPM read advances the
// engine one step.
func (s *Simulator) value(name string) float64 {
	load := 0.5 + 0.5*math.Sin(s.phase)
	rpm := 800 + 6000*load
	switch name {
	case "RPM":
		s.phase += 0.15
		if s.temp < 92 {
			s.temp += 0.5
		}
		return rpm + s.noise(50)
	case "SPEED":
		return rpm / 50
	case "ENGINE_LOAD":
		return 15 + 80*load + s.noise(2)
	case "THROTTLE_POS":
		return 10 + 85*load + s.noise(2)
	case "INTAKE_PRESSURE":
		return 25 + 75*load + s.noise(3)
	case "COOLANT_TEMP":
		return s.temp
	case "INTAKE_TEMP":
		return 30 + 10*load
	case "MAF":
		return 2 + 150*load
	case "FUEL_STATUS":
		return 2
	}
	return 0
}

// Respond produces the reply to one command, without the prompt.
func (s *Simulator) Respond(cmd string) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cmd = strings.ToUpper(strings.Join(strings.Fields(cmd), ""))
	switch {
	case cmd == "ATZ" || cmd == "ATI":
		return "ELM327 v1.5", true
	case strings.HasPrefix(cmd, "AT"):
		return "OK", true
	case cmd == "04":
		return "44", true
	case len(cmd) == 4 && strings.HasPrefix(cmd, "01"):
		code, err := hex.DecodeString(cmd[2:])
		if err != nil {
			return "?", true
		}
		p, ok := lookupCode(code[0])
		if !ok {
			return "NO DATA", true
		}
		data := append([]byte{0x41, p.Code}, p.Encode(s.value(p.Name))...)
		return spacedHex(data), true
	}

	// Framed raw sends are acknowledged with the first byte's response bit set.
	if raw, err := hex.DecodeString(cmd); err == nil {
		if payload, err := DecodeJ1850(raw); err == nil && len(payload) > 0 {
			reply := append([]byte(nil), payload...)
			reply[0] |= 0x40
			return strings.ToUpper(hex.EncodeToString(EncodeJ1850(reply))), true
		}
	}
	return "?", true
}

func spacedHex(b []byte) string {
	parts := make([]string, len(b))
	for i, c := range b {
		parts[i] = hexByte(c)
	}
	return strings.Join(parts, " ")
}
