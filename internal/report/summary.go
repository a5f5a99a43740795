// Package report turns the ride log into summaries, a PNG plot and an HTML
// chart. Figures are converted to the rider's display units on the way out.
package report

import (
	"errors"
	"sort"

	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/units"
)

// ErrNoRides is returned when there is nothing to plot.
var ErrNoRides = errors.New("no rides logged")

// Summary describes a set of rides. Distances and speeds are in the units
// named by DistanceUnit and Units.
type Summary struct {
	Units        string `json:"units"`
	DistanceUnit string `json:"distance_unit"`
	Rides        int    `json:"rides"`

	TotalDistance  float64 `json:"total_distance"`
	MeanDistance   float64 `json:"mean_distance"`
	StdDevDistance float64 `json:"stddev_distance"`
	MedianDistance float64 `json:"median_distance"`
	P90Distance    float64 `json:"p90_distance"`
	LongestRide    float64 `json:"longest_ride"`

	// MeanAvgSpeed weights each ride's average by its distance, so a long
	// highway ride counts for more than a trip to the shop.
	MeanAvgSpeed float64 `json:"mean_avg_speed"`
	TopAvgSpeed  float64 `json:"top_avg_speed"`

	TotalFuelLitres float64 `json:"total_fuel_litres"`
	TotalMinutes    int64   `json:"total_minutes"`
}

// Summarize computes a Summary of rides in displayUnits. An empty log gives a
// zero Summary.
func Summarize(rides []db.Ride, displayUnits string) Summary {
	s := Summary{
		Units:        displayUnits,
		DistanceUnit: units.DistanceLabel(displayUnits),
		Rides:        len(rides),
	}
	if len(rides) == 0 {
		return s
	}

	distances := make([]float64, len(rides))
	speeds := make([]float64, len(rides))
	for i, r := range rides {
		distances[i] = r.DistanceKm
		speeds[i] = r.AvgSpeedKmh
		s.TotalDistance += r.DistanceKm
		s.TotalFuelLitres += r.FuelUsedLitres
		s.TotalMinutes += r.DurationMinutes()
	}

	s.MeanDistance = stat.Mean(distances, nil)
	if len(distances) > 1 {
		s.StdDevDistance = stat.StdDev(distances, nil)
	}
	if s.TotalDistance > 0 {
		s.MeanAvgSpeed = stat.Mean(speeds, distances)
	}

	sorted := append([]float64(nil), distances...)
	sort.Float64s(sorted)
	s.MedianDistance = stat.Quantile(0.5, stat.Empirical, sorted, nil)
	s.P90Distance = stat.Quantile(0.9, stat.Empirical, sorted, nil)
	s.LongestRide = sorted[len(sorted)-1]
	for _, v := range speeds {
		s.TopAvgSpeed = max(s.TopAvgSpeed, v)
	}

	for _, d := range []*float64{&s.TotalDistance, &s.MeanDistance, &s.StdDevDistance, &s.MedianDistance, &s.P90Distance, &s.LongestRide} {
		*d = units.ConvertDistance(*d, displayUnits)
	}
	s.MeanAvgSpeed = units.ConvertSpeed(s.MeanAvgSpeed, displayUnits)
	s.TopAvgSpeed = units.ConvertSpeed(s.TopAvgSpeed, displayUnits)
	return s
}
