package report

import (
	"fmt"
	"io"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/fuel"
	"github.com/banshee-data/ride.report/internal/units"
)

// WriteChart renders an HTML page with one bar per ride for distance and a
// line for average speed on a second axis. Theme is "light" or "dark".
func WriteChart(w io.Writer, rides []db.Ride, displayUnits, theme string) error {
	rides = byStart(rides)

	labels := make([]string, len(rides))
	distances := make([]opts.BarData, len(rides))
	speeds := make([]opts.LineData, len(rides))
	for i, r := range rides {
		labels[i] = r.DateStart.Format("Jan 02 15:04")
		distances[i] = opts.BarData{Value: fuel.Round(units.ConvertDistance(r.DistanceKm, displayUnits), 2)}
		speeds[i] = opts.LineData{Value: fuel.Round(units.ConvertSpeed(r.AvgSpeedKmh, displayUnits), 1)}
	}

	distUnit := units.DistanceLabel(displayUnits)
	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Ride history", Theme: echartsTheme(theme), Width: "100%", Height: "600px"}),
		charts.WithTitleOpts(opts.Title{Title: "Ride history", Subtitle: fmt.Sprintf("%d rides", len(rides))}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithYAxisOpts(opts.YAxis{Name: distUnit}),
	)
	bar.ExtendYAxis(opts.YAxis{Name: displayUnits})
	bar.SetXAxis(labels).
		AddSeries("distance ("+distUnit+")", distances)

	line := charts.NewLine()
	line.SetXAxis(labels).
		AddSeries("avg speed ("+displayUnits+")", speeds,
			charts.WithLineChartOpts(opts.LineChart{Smooth: opts.Bool(false), YAxisIndex: 1}),
		)
	bar.Overlap(line)

	page := components.NewPage()
	page.PageTitle = "Ride history"
	page.AddCharts(bar)
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render chart: %w", err)
	}
	return nil
}

func echartsTheme(theme string) string {
	if theme == db.ThemeLight {
		return "light"
	}
	return "dark"
}
