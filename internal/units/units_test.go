package units

import (
	"math"
	"testing"
)

func TestIsValid(t *testing.T) {
	tests := []struct {
		name     string
		unit     string
		expected bool
	}{
		{"valid mps", MPS, true},
		{"valid mph", MPH, true},
		{"valid kmph", KMPH, true},
		{"valid kph", KPH, true},
		{"invalid unit", "invalid", false},
		{"empty unit", "", false},
		{"uppercase MPH", "MPH", false}, // Case-sensitive
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := IsValid(tt.unit)
			if result != tt.expected {
				t.Errorf("IsValid(%s) = %v, want %v", tt.unit, result, tt.expected)
			}
		})
	}
}

func TestGetValidUnitsString(t *testing.T) {
	expected := "mps, mph, kmph, kph"
	result := GetValidUnitsString()
	if result != expected {
		t.Errorf("GetValidUnitsString() = %s, want %s", result, expected)
	}
}

func TestConvertSpeed(t *testing.T) {
	tests := []struct {
		name     string
		speedKmh float64
		unit     string
		expected float64
	}{
		{"36 km/h to mps", 36, MPS, 10},
		{"100 km/h to mph", 100, MPH, 62.1371},
		{"100 km/h to kmph", 100, KMPH, 100},
		{"100 km/h to kph", 100, KPH, 100},
		{"unknown unit passes through", 42, "furlongs", 42},
		{"zero", 0, MPH, 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ConvertSpeed(tt.speedKmh, tt.unit)
			if math.Abs(result-tt.expected) > 0.0001 {
				t.Errorf("ConvertSpeed(%f, %s) = %f, want %f", tt.speedKmh, tt.unit, result, tt.expected)
			}
		})
	}
}

func TestConvertDistance(t *testing.T) {
	tests := []struct {
		unit      string
		km        float64
		expected  float64
		wantLabel string
	}{
		{KMPH, 12.5, 12.5, "km"},
		{KPH, 12.5, 12.5, "km"},
		{MPH, 10, 6.21371, "mi"},
		{MPS, 1.2, 1200, "m"},
	}

	for _, tt := range tests {
		t.Run(tt.unit, func(t *testing.T) {
			if got := ConvertDistance(tt.km, tt.unit); math.Abs(got-tt.expected) > 0.0001 {
				t.Errorf("ConvertDistance(%f, %s) = %f, want %f", tt.km, tt.unit, got, tt.expected)
			}
			if got := DistanceLabel(tt.unit); got != tt.wantLabel {
				t.Errorf("DistanceLabel(%s) = %s, want %s", tt.unit, got, tt.wantLabel)
			}
		})
	}
}

func TestBaseConversions(t *testing.T) {
	if got := MPSToKmh(10); got != 36 {
		t.Errorf("MPSToKmh(10) = %f, want 36", got)
	}
	if got := KnotsToMPS(10); math.Abs(got-5.14444) > 1e-9 {
		t.Errorf("KnotsToMPS(10) = %f, want 5.14444", got)
	}
	if got := MetresToKm(1500); got != 1.5 {
		t.Errorf("MetresToKm(1500) = %f, want 1.5", got)
	}
}
