package location

import (
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/banshee-data/ride.report/internal/geo"
	"github.com/banshee-data/ride.report/internal/serialmux"
)

// Simulator emits the NMEA output of a receiver riding in a straight line at
// constant speed. It backs the dev-mode mock receiver.
type Simulator struct {
	Latitude   float64
	Longitude  float64
	SpeedKmh   float64
	HeadingDeg float64
	// SigmaMeters is reported as the GST latitude and longitude error.
	SigmaMeters float64

	mu    sync.Mutex
	start time.Time
}

func NewSimulator(lat, lon, speedKmh, headingDeg float64) *Simulator {
	return &Simulator{
		Latitude:    lat,
		Longitude:   lon,
		SpeedKmh:    speedKmh,
		HeadingDeg:  headingDeg,
		SigmaMeters: 2.5,
	}
}

// Lines returns one epoch of GGA, GST and RMC sentences for now. The first
// call fixes the ride's start time. It satisfies serialmux.LineGenerator.
func (s *Simulator) Lines(now time.Time) []byte {
	s.mu.Lock()
	if s.start.IsZero() {
		s.start = now
	}
	elapsed := now.Sub(s.start).Seconds()
	s.mu.Unlock()

	now = now.UTC()
	mps := s.SpeedKmh / 3.6
	heading := s.HeadingDeg * math.Pi / 180
	dist := mps * elapsed
	lat, lon := geo.Offset(s.Latitude, s.Longitude, dist*math.Cos(heading), dist*math.Sin(heading))

	hms := fmt.Sprintf("%02d%02d%02d.%02d", now.Hour(), now.Minute(), now.Second(), now.Nanosecond()/int(10*time.Millisecond))
	dmy := now.Format("020106")
	latField, ns := formatCoordinate(lat, 2, "N", "S")
	lonField, ew := formatCoordinate(lon, 3, "E", "W")
	sigma := s.SigmaMeters / math.Sqrt2

	bodies := []string{
		fmt.Sprintf("GPGGA,%s,%s,%s,%s,%s,1,09,0.9,920.0,M,-86.0,M,,", hms, latField, ns, lonField, ew),
		fmt.Sprintf("GPGST,%s,1.0,%.2f,%.2f,0.0,%.2f,%.2f,3.0", hms, sigma, sigma, sigma, sigma),
		fmt.Sprintf("GPRMC,%s,A,%s,%s,%s,%s,%.2f,%.1f,%s,,", hms, latField, ns, lonField, ew, mps/0.514444, s.HeadingDeg, dmy),
	}

	var b strings.Builder
	for _, body := range bodies {
		b.WriteString(serialmux.Sentence(body))
		b.WriteString("\r\n")
	}
	return []byte(b.String())
}

// formatCoordinate renders decimal degrees as NMEA (d)ddmm.mmmmm plus hemisphere.
func formatCoordinate(deg float64, degDigits int, pos, neg string) (string, string) {
	hemi := pos
	if deg < 0 {
		hemi = neg
		deg = -deg
	}
	whole := math.Floor(deg)
	minutes := (deg - whole) * 60
	return fmt.Sprintf("%0*d%08.5f", degDigits, int(whole), minutes), hemi
}
