// Package units converts signal readings between the metric units reported
// by the diagnostic link and the display system chosen in configuration.
package units

import "fmt"

// Display systems.
const (
	Metric   = "metric"
	Imperial = "imperial"
)

// Unit labels as reported by the signal catalog.
const (
	KPH     = "km/h"
	MPH     = "mph"
	Celsius = "degC"
	Fahr    = "degF"
)

// ValidSystems contains all valid display systems.
var ValidSystems = []string{Metric, Imperial}

// IsValid reports whether system names a supported display system.
func IsValid(system string) bool {
	for _, s := range ValidSystems {
		if s == system {
			return true
		}
	}
	return false
}

// Validate returns an error naming the valid systems when system is unknown.
func Validate(system string) error {
	if IsValid(system) {
		return nil
	}
	return fmt.Errorf("invalid units %q: expected %s or %s", system, Metric, Imperial)
}

// Convert converts a metric reading into the given display system. Units
// with no imperial counterpart in the catalog, such as rpm, %, and kPa, pass
// through unchanged so that the grid axes stay in their native units.
func Convert(value float64, unit, system string) (float64, string) {
	if system != Imperial {
		return value, unit
	}
	switch unit {
	case KPH:
		return value * 0.621371192237334, MPH
	case Celsius:
		return value*9/5 + 32, Fahr
	default:
		return value, unit
	}
}
