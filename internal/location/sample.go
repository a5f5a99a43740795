// Package location turns an NMEA GPS receiver on a serial port into a
// cancellable stream of position samples and reports whether the receiver
// may be used at all.
package location

import (
	"errors"
	"fmt"
	"time"
)

// Sample is one position fix. It is a value: nothing downstream mutates it.
type Sample struct {
	Latitude       float64 `json:"lat"`
	Longitude      float64 `json:"lon"`
	AccuracyMeters float64 `json:"accuracy_m"`
	// RawSpeedMPS is the receiver's own speed over ground. HasRawSpeed is
	// false when the receiver did not report one.
	RawSpeedMPS float64 `json:"raw_speed_mps,omitempty"`
	HasRawSpeed bool    `json:"has_raw_speed"`
	// TimestampMillis is the fix time on the receiver's clock (UTC, ms).
	TimestampMillis int64 `json:"timestamp_ms"`
}

// Time returns the fix timestamp as a time.Time.
func (s Sample) Time() time.Time {
	return time.UnixMilli(s.TimestampMillis).UTC()
}

// ErrorKind discriminates the failures a Source reports.
type ErrorKind int

const (
	PermissionDenied ErrorKind = iota + 1
	PositionUnavailable
	Timeout
)

func (k ErrorKind) String() string {
	switch k {
	case PermissionDenied:
		return "permission-denied"
	case PositionUnavailable:
		return "position-unavailable"
	case Timeout:
		return "timeout"
	default:
		return "unknown"
	}
}

var (
	ErrPermissionDenied    = errors.New("geolocation permission denied")
	ErrPositionUnavailable = errors.New("position unavailable")
	ErrTimeout             = errors.New("timed out waiting for a fix")
)

// Error is a sampling failure. errors.Is matches both the kind's sentinel
// and the underlying cause.
type Error struct {
	Kind ErrorKind
	Err  error
}

func (e *Error) Error() string {
	if e.Err == nil {
		return e.sentinel().Error()
	}
	return fmt.Sprintf("%s: %v", e.sentinel(), e.Err)
}

func (e *Error) Unwrap() []error {
	if e.Err == nil {
		return []error{e.sentinel()}
	}
	return []error{e.sentinel(), e.Err}
}

func (e *Error) sentinel() error {
	switch e.Kind {
	case PermissionDenied:
		return ErrPermissionDenied
	case Timeout:
		return ErrTimeout
	default:
		return ErrPositionUnavailable
	}
}

// Transient reports whether sampling continues after this error.
func (e *Error) Transient() bool {
	return e.Kind != PermissionDenied
}

// Event is one element of the sample stream: either a Sample or an Error.
type Event struct {
	Sample Sample
	Err    *Error
}

func sampleEvent(s Sample) Event { return Event{Sample: s} }

func errorEvent(kind ErrorKind, cause error) Event {
	return Event{Err: &Error{Kind: kind, Err: cause}}
}
