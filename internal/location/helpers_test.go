package location

import (
	"strings"

	"github.com/banshee-data/ride.report/internal/geo"
)

func splitLines(b []byte) []string {
	return strings.Split(strings.TrimSpace(string(b)), "\r\n")
}

func distance(a, b Sample) float64 {
	return geo.DistanceMeters(a.Latitude, a.Longitude, b.Latitude, b.Longitude)
}
