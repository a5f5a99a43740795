package location

import (
	"errors"
	"math"
	"strings"
	"time"

	nmea "github.com/adrianmo/go-nmea"

	"github.com/banshee-data/ride.report/internal/units"
)

// Accuracy defaults.
const (
	// DefaultUEREMeters is the user-equivalent range error multiplied by HDOP
	// when the receiver gives no direct error estimate.
	DefaultUEREMeters = 5.0
	// DefaultFallbackAccuracyMeters is used when neither GST nor HDOP is known.
	DefaultFallbackAccuracyMeters = 10.0
)

// hintMaxAgeMillis is how far an accuracy hint may precede the fix it
// refines. Receivers emit one epoch per second.
const hintMaxAgeMillis = 1000

const dayMillis = 24 * 60 * 60 * 1000

var errNoFix = errors.New("receiver reports no fix")

func init() {
	nmea.MustRegisterParser(typeGST, parseGST)
}

const typeGST = "GST"

// gst is the pseudorange error statistics sentence. Only the fields needed
// for a horizontal error estimate are kept.
type gst struct {
	nmea.BaseSentence
	Time           nmea.Time
	LatitudeError  float64 // 1-sigma, meters
	LongitudeError float64 // 1-sigma, meters
}

func parseGST(s nmea.BaseSentence) (nmea.Sentence, error) {
	p := nmea.NewParser(s)
	p.AssertType(typeGST)
	m := gst{
		BaseSentence:   s,
		Time:           p.Time(0, "time"),
		LatitudeError:  p.Float64(5, "latitude error"),
		LongitudeError: p.Float64(6, "longitude error"),
	}
	return m, p.Err()
}

// hint is an accuracy estimate and the epoch it was reported for.
type hint struct {
	value float64
	at    nmea.Time
}

// freshFor reports whether h belongs to epoch or the one just before it.
func (h hint) freshFor(epoch nmea.Time) bool {
	if !(h.value > 0) || !h.at.Valid || !epoch.Valid {
		return false
	}
	d := timeOfDayMillis(epoch) - timeOfDayMillis(h.at)
	if d < 0 {
		d += dayMillis
	}
	return d <= hintMaxAgeMillis
}

func timeOfDayMillis(t nmea.Time) int {
	return ((t.Hour*60+t.Minute)*60+t.Second)*1000 + t.Millisecond
}

// Decoder turns NMEA sentences into events. RMC sentences carry position and
// speed; GGA and GST sentences only refine the accuracy of the fix from the
// same epoch. A Decoder is not safe for concurrent use.
type Decoder struct {
	UEREMeters             float64
	FallbackAccuracyMeters float64

	hdop     hint
	gstSigma hint
}

// NewDecoder returns a Decoder using the defaults for non-positive arguments.
func NewDecoder(uere, fallback float64) *Decoder {
	if uere <= 0 {
		uere = DefaultUEREMeters
	}
	if fallback <= 0 {
		fallback = DefaultFallbackAccuracyMeters
	}
	return &Decoder{UEREMeters: uere, FallbackAccuracyMeters: fallback}
}

// Decode parses one line. ok is false for lines that produce no event:
// unparseable input, non-position sentences and accuracy-only sentences.
func (d *Decoder) Decode(line string) (ev Event, ok bool) {
	line = strings.TrimSpace(line)
	if !strings.HasPrefix(line, "$") {
		return Event{}, false
	}
	s, err := nmea.Parse(line)
	if err != nil {
		return Event{}, false
	}

	switch v := s.(type) {
	case nmea.GGA:
		if v.FixQuality != nmea.Invalid && v.HDOP > 0 {
			d.hdop = hint{value: v.HDOP, at: v.Time}
		}
	case gst:
		if sigma := math.Hypot(v.LatitudeError, v.LongitudeError); sigma > 0 && !math.IsNaN(sigma) && !math.IsInf(sigma, 0) {
			d.gstSigma = hint{value: sigma, at: v.Time}
		}
	case nmea.RMC:
		return d.decodeRMC(v), true
	}
	return Event{}, false
}

func (d *Decoder) decodeRMC(v nmea.RMC) Event {
	if v.Validity != nmea.ValidRMC {
		return errorEvent(PositionUnavailable, errNoFix)
	}
	if !v.Date.Valid || !v.Time.Valid {
		return errorEvent(PositionUnavailable, errors.New("fix has no date or time"))
	}

	ts := time.Date(2000+v.Date.YY, time.Month(v.Date.MM), v.Date.DD,
		v.Time.Hour, v.Time.Minute, v.Time.Second, v.Time.Millisecond*int(time.Millisecond), time.UTC)

	return sampleEvent(Sample{
		Latitude:        v.Latitude,
		Longitude:       v.Longitude,
		AccuracyMeters:  d.accuracy(v.Time),
		RawSpeedMPS:     units.KnotsToMPS(v.Speed),
		HasRawSpeed:     true,
		TimestampMillis: ts.UnixMilli(),
	})
}

// accuracy picks the best estimate reported for epoch: GST sigma, then HDOP
// times UERE, then the fallback.
func (d *Decoder) accuracy(epoch nmea.Time) float64 {
	switch {
	case d.gstSigma.freshFor(epoch):
		return d.gstSigma.value
	case d.hdop.freshFor(epoch):
		return d.hdop.value * d.UEREMeters
	default:
		return d.FallbackAccuracyMeters
	}
}
