package grid

import (
	"errors"
	"fmt"
	"math"
)

// Axis is a strictly increasing sequence of tick values for one dimension.
// Axes are treated as immutable once built.
type Axis []float64

var errEmptyAxis = errors.New("axis has no ticks")

// NewAxis validates ticks and returns them as an Axis. The slice is copied.
func NewAxis(ticks []float64) (Axis, error) {
	if len(ticks) == 0 {
		return nil, errEmptyAxis
	}
	for i, v := range ticks {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("tick %d is not finite", i)
		}
		if i > 0 && v <= ticks[i-1] {
			return nil, fmt.Errorf("ticks must be strictly increasing: tick %d (%g) <= tick %d (%g)", i, v, i-1, ticks[i-1])
		}
	}
	return append(Axis(nil), ticks...), nil
}

// RangeAxis returns start, start+step, ... up to and including stop.
func RangeAxis(start, stop, step float64) Axis {
	if step <= 0 || stop < start {
		return Axis{start}
	}
	n := int(math.Floor((stop-start)/step+1e-9)) + 1
	a := make(Axis, n)
	for i := range a {
		a[i] = start + float64(i)*step
	}
	return a
}

// DefaultPrimaryAxis is the engine speed axis: 400 to 8000 rpm in 400 rpm steps.
func DefaultPrimaryAxis() Axis { return RangeAxis(400, 8000, 400) }

// DefaultSecondaryAxis is the manifold pressure axis: 15 to 105 kPa in 5 kPa steps.
func DefaultSecondaryAxis() Axis { return RangeAxis(15, 105, 5) }

// Nearest returns the index of the tick closest to v. Ties resolve to the
// lower index.
func (a Axis) Nearest(v float64) int {
	best, bestDist := 0, math.Inf(1)
	for i, tick := range a {
		if d := math.Abs(tick - v); d < bestDist {
			best, bestDist = i, d
		}
	}
	return best
}

// Index returns the index of the tick exactly equal to v.
func (a Axis) Index(v float64) (int, bool) {
	for i, tick := range a {
		if tick == v {
			return i, true
		}
	}
	return 0, false
}

// Equal reports whether a and b hold the same ticks.
func (a Axis) Equal(b Axis) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func (a Axis) clone() Axis { return append(Axis(nil), a...) }
