package grid

import (
	"math"
	"math/rand/v2"
	"sync"
)

// Model derives a cell value for an operating point with no measurement.
type Model interface {
	Derive(primary, secondary float64) float64
}

// FallbackModel is a volumetric-efficiency style estimate: a base value
// shaped by a bell curve over engine speed and a linear ramp over manifold
// pressure.
type FallbackModel struct {
	Base float64 // value at the peak with full load

	Peak     float64 // primary value of maximum efficiency
	Spread   float64 // primary distance over which PeakDrop is lost
	PeakDrop float64

	LowKnee  float64 // below this, efficiency ramps down further
	LowFloor float64 // factor applied at zero primary
	HighKnee float64 // above this, efficiency falls off further
	HighSpan float64
	HighDrop float64

	SecondaryMax   float64
	SecondaryFloor float64 // factor at zero secondary
}

// DefaultFallback returns the model tuned for a naturally aspirated engine.
func DefaultFallback() FallbackModel {
	return FallbackModel{
		Base:           85.0,
		Peak:           4000,
		Spread:         5000,
		PeakDrop:       0.4,
		LowKnee:        1200,
		LowFloor:       0.8,
		HighKnee:       6000,
		HighSpan:       2000,
		HighDrop:       0.15,
		SecondaryMax:   105,
		SecondaryFloor: 0.7,
	}
}

func (m FallbackModel) raw(p, s float64) float64 {
	pf := 1 - math.Abs((p-m.Peak)/m.Spread)*m.PeakDrop
	if p < m.LowKnee {
		pf *= m.LowFloor + (p/m.LowKnee)*(1-m.LowFloor)
	}
	if p > m.HighKnee {
		pf *= 1 - ((p-m.HighKnee)/m.HighSpan)*m.HighDrop
	}
	sf := m.SecondaryFloor + (s/m.SecondaryMax)*(1-m.SecondaryFloor)
	return m.Base * pf * sf
}

// Derive returns the deterministic estimate rounded to 0.1.
func (m FallbackModel) Derive(p, s float64) float64 {
	return round1(m.raw(p, s))
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

// Jittered perturbs a FallbackModel by up to +/- Amount/2 relative, so that
// freshly derived cells are visibly distinct from a flat default.
type Jittered struct {
	Model  FallbackModel
	Amount float64

	mu  sync.Mutex
	rng *rand.Rand
}

// NewJittered returns a jittered model with a +/-5% range drawing from rng.
func NewJittered(m FallbackModel, rng *rand.Rand) *Jittered {
	return &Jittered{Model: m, Amount: 0.1, rng: rng}
}

func (j *Jittered) Derive(p, s float64) float64 {
	j.mu.Lock()
	r := j.rng.Float64()
	j.mu.Unlock()
	return round1(j.Model.raw(p, s) * (1 + (r-0.5)*j.Amount))
}
