// Package units provides the speed units wind speeds can be reported in.
// Estimates are computed in knots.
package units

import (
	"fmt"
	"slices"
)

// Unit constants
const (
	KTS  = "kts"
	MPS  = "mps"
	KMPH = "kmph"
	MPH  = "mph"
)

// Conversion factors from knots.
const (
	knotsToMPS  = 1852.0 / 3600.0
	knotsToKMPH = 1.852
	knotsToMPH  = 1.150779
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{KTS, MPS, KMPH, MPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	return slices.Contains(ValidUnits, unit)
}

// Validate returns an error naming the valid units if unit is unknown.
func Validate(unit string) error {
	if !IsValid(unit) {
		return fmt.Errorf("invalid speed unit %q, must be one of %v", unit, ValidUnits)
	}
	return nil
}

// ConvertSpeed converts a speed in knots to the target units. Unknown units
// leave the speed in knots.
func ConvertSpeed(speedKnots float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKnots * knotsToMPS
	case KMPH:
		return speedKnots * knotsToKMPH
	case MPH:
		return speedKnots * knotsToMPH
	default:
		return speedKnots
	}
}
