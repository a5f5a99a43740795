// Package fuel holds the fuel economy arithmetic shared by the trip
// controller, the store and the HTTP layer.
package fuel

import (
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"
)

// DefaultKmPerLitre is used when the rider has not set their bike's mileage.
const DefaultKmPerLitre = 40.0

// MeaningfulTripKm is the distance a trip must exceed to be logged as a ride.
// Shorter trips are GPS noise or a start/stop by mistake.
const MeaningfulTripKm = 0.01

var validate = validator.New(validator.WithRequiredStructEnabled())

// ErrInvalidRefuel wraps every refuel validation failure.
var ErrInvalidRefuel = errors.New("invalid refuel")

// KmPerLitre returns v, or DefaultKmPerLitre when v is unset or unusable.
func KmPerLitre(v float64) float64 {
	if !(v > 0) || math.IsInf(v, 0) {
		return DefaultKmPerLitre
	}
	return v
}

// Used returns the litres burnt covering distanceKm.
func Used(distanceKm, kmPerLitre float64) float64 {
	return distanceKm / KmPerLitre(kmPerLitre)
}

// EstimateRange is the distance the fuel left in the tank should cover:
// everything put in minus everything the logged rides used. It goes negative
// when the rides outrun the refuel log.
func EstimateRange(refuelledLitres, usedLitres, kmPerLitre float64) float64 {
	return (refuelledLitres - usedLitres) * KmPerLitre(kmPerLitre)
}

// Meaningful reports whether a trip of distanceKm should be logged.
func Meaningful(distanceKm, thresholdKm float64) bool {
	if thresholdKm <= 0 {
		thresholdKm = MeaningfulTripKm
	}
	return distanceKm > thresholdKm
}

// Round rounds v to the given number of decimal places.
func Round(v float64, places int) float64 {
	p := math.Pow10(places)
	return math.Round(v*p) / p
}

// RefuelInput is a refuel as entered by the rider.
type RefuelInput struct {
	Litres        float64 `json:"litres" validate:"gt=0"`
	PricePerLitre float64 `json:"price_per_litre" validate:"gt=0"`
	Odometer      *int64  `json:"odometer,omitempty" validate:"omitempty,gte=0"`
}

// Validate checks the input the way the refuel form does: positive litres
// and price, and a non-negative odometer when one is given.
func (in RefuelInput) Validate() error {
	if math.IsNaN(in.Litres) || math.IsNaN(in.PricePerLitre) {
		return fmt.Errorf("%w: litres and price must be numbers", ErrInvalidRefuel)
	}
	if err := validate.Struct(in); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRefuel, err)
	}
	return nil
}

// TotalCost is litres times price.
func (in RefuelInput) TotalCost() float64 {
	return in.Litres * in.PricePerLitre
}
