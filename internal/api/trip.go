package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/banshee-data/ride.report/internal/fuel"
	"github.com/banshee-data/ride.report/internal/httputil"
	"github.com/banshee-data/ride.report/internal/location"
	"github.com/banshee-data/ride.report/internal/trip"
	"github.com/banshee-data/ride.report/internal/units"
)

// TripError is the last location failure as shown to the rider.
type TripError struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// TripView is the live trip panel: the three figures in display units plus
// the receiver's state.
type TripView struct {
	Riding       bool                `json:"riding"`
	TripID       string              `json:"trip_id,omitempty"`
	StartedAt    *time.Time          `json:"started_at,omitempty"`
	Speed        float64             `json:"speed"`
	Distance     float64             `json:"distance"`
	AvgSpeed     float64             `json:"avg_speed"`
	Units        string              `json:"units"`
	DistanceUnit string              `json:"distance_unit"`
	Permission   location.Permission `json:"permission"`
	LastError    *TripError          `json:"last_error"`
	// EstimatedRangeKm is nil when the logs cannot be read.
	EstimatedRangeKm *float64 `json:"estimated_range_km"`
	Unsaved          bool     `json:"unsaved"`
}

func (s *Server) tripView() TripView {
	st := s.trip.Status()
	u := s.displayUnits()

	v := TripView{
		Riding:       st.Riding,
		TripID:       st.TripID,
		Speed:        fuel.Round(units.ConvertSpeed(st.Snapshot.SpeedKmh, u), 1),
		Distance:     fuel.Round(units.ConvertDistance(st.Snapshot.DistanceKm, u), 2),
		AvgSpeed:     fuel.Round(units.ConvertSpeed(st.Snapshot.AvgSpeedKmh, u), 1),
		Units:        u,
		DistanceUnit: units.DistanceLabel(u),
		Permission:   st.Permission,
		Unsaved:      st.Unsaved,
	}
	if st.Riding && !st.StartedAt.IsZero() {
		started := st.StartedAt.UTC()
		v.StartedAt = &started
	}
	if st.LastError != nil {
		v.LastError = &TripError{Kind: st.LastError.Kind.String(), Message: st.LastError.Error()}
	}
	if km, err := s.trip.EstimatedRangeKm(); err != nil {
		logf("estimated range: %v", err)
	} else {
		km = fuel.Round(km, 1)
		v.EstimatedRangeKm = &km
	}
	return v
}

func (s *Server) showTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	httputil.WriteJSONOK(w, s.tripView())
}

// streamTrip pushes a TripView as a server-sent event every refresh
// interval until the client goes away.
func (s *Server) streamTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httputil.InternalServerError(w, "streaming unsupported", nil)
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	send := func() bool {
		payload, err := json.Marshal(s.tripView())
		if err != nil {
			logf("encode trip view: %v", err)
			return false
		}
		if _, err := fmt.Fprintf(w, "event: trip\ndata: %s\n\n", payload); err != nil {
			return false
		}
		flusher.Flush()
		return true
	}

	ticker := s.opts.Clock.NewTicker(s.opts.RefreshInterval)
	defer ticker.Stop()

	if !send() {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-ticker.C():
			if !send() {
				return
			}
		}
	}
}

func (s *Server) startTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}
	s.trip.Start()
	httputil.WriteJSONOK(w, s.tripView())
}

// StopResponse is what stopping a trip returns. Ride figures are in km and
// km/h as stored.
type StopResponse struct {
	trip.StopResult
	Trip TripView `json:"trip"`
}

func (s *Server) stopTrip(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httputil.MethodNotAllowed(w)
		return
	}

	res, err := s.trip.Stop()
	switch {
	case errors.Is(err, trip.ErrNotRiding):
		httputil.Conflict(w, err.Error())
		return
	case errors.Is(err, trip.ErrStorageFailure):
		logf("stop: %v", err)
		httputil.ServiceUnavailable(w, "ride not saved, stop again to retry")
		return
	case err != nil:
		httputil.InternalServerError(w, "failed to stop trip", err)
		return
	}
	httputil.WriteJSONOK(w, StopResponse{StopResult: res, Trip: s.tripView()})
}
