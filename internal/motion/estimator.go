// Package motion reduces a stream of GPS samples to a smoothed speed, a
// cumulative trip distance and a trip average speed.
//
// An Estimator is a plain stateful reducer: it is not safe for concurrent use
// and Ingest must be called with samples in arrival order. Callers that share
// an Estimator between goroutines serialise access themselves.
package motion

import (
	"math"
	"time"

	"github.com/banshee-data/ride.report/internal/geo"
	"github.com/banshee-data/ride.report/internal/location"
	"github.com/banshee-data/ride.report/internal/timeutil"
	"github.com/banshee-data/ride.report/internal/units"
)

// DefaultSmoothingFactor is the weight of the newest raw speed in the
// exponential moving average.
const DefaultSmoothingFactor = 0.3

const millisPerHour = 3_600_000

// TripState is everything one trip accumulates.
type TripState struct {
	LastSample               *location.Sample
	SmoothedSpeedKmh         float64
	CumulativeDistanceMeters float64
	TripStartTimeMillis      int64
}

// Snapshot is the read-only view handed to presentation. All fields are
// finite and non-negative.
type Snapshot struct {
	SpeedKmh    float64 `json:"speed_kmh"`
	DistanceKm  float64 `json:"distance_km"`
	AvgSpeedKmh float64 `json:"avg_speed_kmh"`
}

type Estimator struct {
	clock timeutil.Clock
	alpha float64

	state       TripState
	avgSpeedKmh float64
}

type Option func(*Estimator)

// WithClock sets the wall clock used for trip start and average speed.
func WithClock(c timeutil.Clock) Option {
	return func(e *Estimator) {
		if c != nil {
			e.clock = c
		}
	}
}

// WithSmoothingFactor overrides α. Values outside (0, 1] are ignored.
func WithSmoothingFactor(alpha float64) Option {
	return func(e *Estimator) {
		if alpha > 0 && alpha <= 1 {
			e.alpha = alpha
		}
	}
}

// New returns an Estimator that has already been Reset.
func New(opts ...Option) *Estimator {
	e := &Estimator{
		clock: timeutil.RealClock{},
		alpha: DefaultSmoothingFactor,
	}
	for _, opt := range opts {
		opt(e)
	}
	e.Reset()
	return e
}

// Reset discards all trip progress and starts the trip clock now.
func (e *Estimator) Reset() {
	e.state = TripState{TripStartTimeMillis: e.clock.Now().UnixMilli()}
	e.avgSpeedKmh = 0
}

// Ingest folds one sample into the trip.
func (e *Estimator) Ingest(s location.Sample) {
	e.advance(s)
	e.state.LastSample = &s

	if avg, ok := e.averageAt(e.clock.Now()); ok {
		e.avgSpeedKmh = avg
	}
}

// advance applies the speed and distance update for s against the current
// anchor. The anchor itself is replaced by the caller on every path.
func (e *Estimator) advance(s location.Sample) {
	prev := e.state.LastSample
	if prev == nil {
		return
	}

	d := geo.DistanceMeters(prev.Latitude, prev.Longitude, s.Latitude, s.Longitude)
	// written so a NaN distance or accuracy also lands in the noise branch
	if !(d > s.AccuracyMeters) || math.IsInf(d, 0) {
		return
	}

	elapsed := float64(s.TimestampMillis-prev.TimestampMillis) / 1000
	if !(elapsed > 0) {
		return
	}

	raw := units.MPSToKmh(d / elapsed)
	smoothed := e.alpha*raw + (1-e.alpha)*e.state.SmoothedSpeedKmh
	if !finiteNonNegative(smoothed) {
		return
	}

	e.state.SmoothedSpeedKmh = smoothed
	e.state.CumulativeDistanceMeters += d
}

func (e *Estimator) averageAt(now time.Time) (float64, bool) {
	elapsedMillis := now.UnixMilli() - e.state.TripStartTimeMillis
	if elapsedMillis <= 0 {
		return 0, false
	}
	avg := units.MetresToKm(e.state.CumulativeDistanceMeters) / (float64(elapsedMillis) / millisPerHour)
	if !finiteNonNegative(avg) {
		return 0, false
	}
	return avg, true
}

// Snapshot returns the current outputs. The average is recomputed against the
// wall clock, so it keeps moving between samples.
func (e *Estimator) Snapshot() Snapshot {
	avg := e.avgSpeedKmh
	if a, ok := e.averageAt(e.clock.Now()); ok {
		avg = a
	}
	return Snapshot{
		SpeedKmh:    e.state.SmoothedSpeedKmh,
		DistanceKm:  units.MetresToKm(e.state.CumulativeDistanceMeters),
		AvgSpeedKmh: avg,
	}
}

// State returns a copy of the trip state.
func (e *Estimator) State() TripState {
	st := e.state
	if st.LastSample != nil {
		s := *st.LastSample
		st.LastSample = &s
	}
	return st
}

// StartTime is the wall-clock time of the last Reset.
func (e *Estimator) StartTime() time.Time {
	return time.UnixMilli(e.state.TripStartTimeMillis)
}

func finiteNonNegative(v float64) bool {
	return v >= 0 && !math.IsInf(v, 0)
}
