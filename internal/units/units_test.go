package units

import (
	"math"
	"testing"
)

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name       string
		speedKnots float64
		units      string
		expected   float64
	}{
		{"10 kts to mps", 10.0, MPS, 5.1444},
		{"10 kts to kmph", 10.0, KMPH, 18.52},
		{"10 kts to mph", 10.0, MPH, 11.5078},
		{"10 kts to kts", 10.0, KTS, 10.0},
		{"unknown units stay in kts", 10.0, "beaufort", 10.0},
		{"calm", 0.0, MPH, 0.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedKnots, tt.units)
			if math.Abs(result-tt.expected) > 0.001 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedKnots, tt.units, result, tt.expected)
			}
		})
	}
}

func TestIsValid(t *testing.T) {
	for _, unit := range ValidUnits {
		if !IsValid(unit) {
			t.Errorf("IsValid(%q) = false", unit)
		}
		if err := Validate(unit); err != nil {
			t.Errorf("Validate(%q) = %v", unit, err)
		}
	}
	for _, unit := range []string{"", "KTS", "kph", "knots"} {
		if IsValid(unit) {
			t.Errorf("IsValid(%q) = true", unit)
		}
		if err := Validate(unit); err == nil {
			t.Errorf("Validate(%q) = nil", unit)
		}
	}
}
