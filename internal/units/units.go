// Package units provides shared constants and conversions for speed and
// distance units. Internally speeds are km/h and distances are km, matching
// the trip computer's display.
package units

import "strings"

// Unit constants
const (
	MPS  = "mps"
	MPH  = "mph"
	KMPH = "kmph"
	KPH  = "kph"
)

const (
	kmhPerMPS    = 3.6
	milesPerKm   = 0.621371192237334
	knotsToMPS   = 0.514444
	metresPerKm  = 1000.0
	secondsPerHr = 3600.0
)

// ValidUnits contains all valid unit values
var ValidUnits = []string{MPS, MPH, KMPH, KPH}

// IsValid checks if the given unit is in the list of valid units
func IsValid(unit string) bool {
	for _, validUnit := range ValidUnits {
		if unit == validUnit {
			return true
		}
	}
	return false
}

// GetValidUnitsString returns a comma-separated string of valid units for error messages
func GetValidUnitsString() string {
	return strings.Join(ValidUnits, ", ")
}

// MPSToKmh converts metres per second to km/h.
func MPSToKmh(mps float64) float64 { return mps * kmhPerMPS }

// KnotsToMPS converts knots (NMEA speed over ground) to metres per second.
func KnotsToMPS(knots float64) float64 { return knots * knotsToMPS }

// MetresToKm converts metres to kilometres.
func MetresToKm(m float64) float64 { return m / metresPerKm }

// ConvertSpeed converts a speed in km/h to the target units. Unknown units
// are returned unchanged.
func ConvertSpeed(speedKmh float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return speedKmh / kmhPerMPS
	case MPH:
		return speedKmh * milesPerKm
	default:
		return speedKmh
	}
}

// ConvertDistance converts a distance in km to the display distance for the
// given speed units: miles for mph, metres for mps, otherwise km.
func ConvertDistance(distanceKm float64, targetUnits string) float64 {
	switch targetUnits {
	case MPS:
		return distanceKm * metresPerKm
	case MPH:
		return distanceKm * milesPerKm
	default:
		return distanceKm
	}
}

// DistanceLabel returns the distance unit shown alongside the given speed units.
func DistanceLabel(targetUnits string) string {
	switch targetUnits {
	case MPS:
		return "m"
	case MPH:
		return "mi"
	default:
		return "km"
	}
}
