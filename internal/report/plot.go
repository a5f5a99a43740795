package report

import (
	"fmt"
	"image/color"
	"io"
	"sort"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/units"
)

var (
	distanceColor = color.RGBA{R: 31, G: 119, B: 180, A: 255}
	speedColor    = color.RGBA{R: 255, G: 127, B: 14, A: 255}
)

// byStart returns rides oldest first without touching the caller's slice.
func byStart(rides []db.Ride) []db.Ride {
	out := append([]db.Ride(nil), rides...)
	sort.SliceStable(out, func(i, j int) bool { return out[i].DateStart.Before(out[j].DateStart) })
	return out
}

// WritePNG plots each ride's distance and average speed against its start
// date.
func WritePNG(w io.Writer, rides []db.Ride, displayUnits string, width, height vg.Length) error {
	if len(rides) == 0 {
		return ErrNoRides
	}
	rides = byStart(rides)

	distPts := make(plotter.XYs, len(rides))
	speedPts := make(plotter.XYs, len(rides))
	for i, r := range rides {
		x := float64(r.DateStart.Unix())
		distPts[i] = plotter.XY{X: x, Y: units.ConvertDistance(r.DistanceKm, displayUnits)}
		speedPts[i] = plotter.XY{X: x, Y: units.ConvertSpeed(r.AvgSpeedKmh, displayUnits)}
	}

	p := plot.New()
	p.Title.Text = "Rides"
	p.X.Label.Text = "Date"
	p.X.Tick.Marker = plot.TimeTicks{Format: "Jan 02"}
	p.Y.Label.Text = fmt.Sprintf("distance (%s) / avg speed (%s)", units.DistanceLabel(displayUnits), displayUnits)
	p.Add(plotter.NewGrid())

	distLine, distPoints, err := plotter.NewLinePoints(distPts)
	if err != nil {
		return fmt.Errorf("distance series: %w", err)
	}
	distLine.Color = distanceColor
	distLine.Width = vg.Points(1)
	distPoints.Color = distanceColor

	speedLine, speedPoints, err := plotter.NewLinePoints(speedPts)
	if err != nil {
		return fmt.Errorf("speed series: %w", err)
	}
	speedLine.Color = speedColor
	speedLine.Width = vg.Points(1)
	speedLine.Dashes = []vg.Length{vg.Points(4), vg.Points(2)}
	speedPoints.Color = speedColor

	p.Add(distLine, distPoints, speedLine, speedPoints)
	p.Legend.Add("distance", distLine, distPoints)
	p.Legend.Add("avg speed", speedLine, speedPoints)
	p.Legend.Top = true
	p.Legend.Left = false
	p.Legend.XOffs = -10
	p.Legend.YOffs = -10

	wt, err := p.WriterTo(width, height, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}
