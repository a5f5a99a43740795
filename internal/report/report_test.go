package report

import (
	"bytes"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/units"
)

var week = time.Date(2026, time.March, 16, 7, 30, 0, 0, time.UTC)

func sampleRides() []db.Ride {
	// newest first, as ListRides returns them
	distances := []float64{20, 10, 3, 2, 1}
	speeds := []float64{60, 50, 40, 30, 20}
	rides := make([]db.Ride, len(distances))
	for i := range distances {
		start := week.Add(time.Duration(len(distances)-i) * 24 * time.Hour)
		rides[i] = db.Ride{
			ID:             int64(len(distances) - i),
			TripID:         "trip-" + string(rune('a'+i)),
			DateStart:      start,
			DateEnd:        start.Add(30 * time.Minute),
			DistanceKm:     distances[i],
			AvgSpeedKmh:    speeds[i],
			FuelUsedLitres: distances[i] / 40,
		}
	}
	return rides
}

func TestSummarize(t *testing.T) {
	s := Summarize(sampleRides(), units.KMPH)

	assert.Equal(t, 5, s.Rides)
	assert.Equal(t, "km", s.DistanceUnit)
	assert.InDelta(t, 36, s.TotalDistance, 1e-9)
	assert.InDelta(t, 7.2, s.MeanDistance, 1e-9)
	assert.InDelta(t, 3, s.MedianDistance, 1e-9)
	assert.InDelta(t, 20, s.P90Distance, 1e-9)
	assert.InDelta(t, 20, s.LongestRide, 1e-9)
	assert.Greater(t, s.StdDevDistance, 0.0)
	assert.InDelta(t, 1900.0/36.0, s.MeanAvgSpeed, 1e-9)
	assert.InDelta(t, 60, s.TopAvgSpeed, 1e-9)
	assert.InDelta(t, 0.9, s.TotalFuelLitres, 1e-9)
	assert.Equal(t, int64(150), s.TotalMinutes)
}

func TestSummarize_Units(t *testing.T) {
	s := Summarize(sampleRides(), units.MPH)

	assert.Equal(t, "mi", s.DistanceUnit)
	assert.InDelta(t, units.ConvertDistance(36, units.MPH), s.TotalDistance, 1e-9)
	assert.InDelta(t, units.ConvertSpeed(60, units.MPH), s.TopAvgSpeed, 1e-9)
	// fuel and time are not unit dependent
	assert.InDelta(t, 0.9, s.TotalFuelLitres, 1e-9)
}

func TestSummarize_Edges(t *testing.T) {
	t.Run("no rides", func(t *testing.T) {
		s := Summarize(nil, units.KMPH)
		assert.Equal(t, Summary{Units: units.KMPH, DistanceUnit: "km"}, s)
	})

	t.Run("single ride", func(t *testing.T) {
		s := Summarize(sampleRides()[:1], units.KMPH)
		assert.Equal(t, 1, s.Rides)
		assert.Zero(t, s.StdDevDistance)
		assert.InDelta(t, 20, s.MedianDistance, 1e-9)
		assert.InDelta(t, 60, s.MeanAvgSpeed, 1e-9)
	})
}

func TestWritePNG(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WritePNG(&buf, sampleRides(), units.KMPH, 8*vg.Inch, 4*vg.Inch))
	assert.True(t, bytes.HasPrefix(buf.Bytes(), []byte("\x89PNG\r\n\x1a\n")), "output is not a PNG")
}

func TestWritePNG_NoRides(t *testing.T) {
	var buf bytes.Buffer
	err := WritePNG(&buf, nil, units.KMPH, 8*vg.Inch, 4*vg.Inch)
	assert.True(t, errors.Is(err, ErrNoRides), "got %v", err)
	assert.Zero(t, buf.Len())
}

func TestWriteChart(t *testing.T) {
	rides := sampleRides()
	var buf bytes.Buffer
	require.NoError(t, WriteChart(&buf, rides, units.MPH, db.ThemeLight))

	html := buf.String()
	assert.Contains(t, html, "echarts")
	assert.Contains(t, html, "Ride history")
	assert.Contains(t, html, "avg speed (mph)")
	assert.Contains(t, html, "distance (mi)")

	// labels run oldest first
	first := strings.Index(html, rides[len(rides)-1].DateStart.Format("Jan 02 15:04"))
	last := strings.Index(html, rides[0].DateStart.Format("Jan 02 15:04"))
	require.NotEqual(t, -1, first)
	require.NotEqual(t, -1, last)
	assert.Less(t, first, last)
}

func TestWriteChart_Empty(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteChart(&buf, nil, units.KMPH, db.ThemeDark))
	assert.Contains(t, buf.String(), "0 rides")
}

func TestByStartDoesNotReorderInput(t *testing.T) {
	rides := sampleRides()
	sorted := byStart(rides)
	assert.Equal(t, int64(5), rides[0].ID)
	assert.Equal(t, int64(1), sorted[0].ID)
}
