package api

import (
	"bytes"
	"errors"
	"net/http"
	"strconv"

	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/httputil"
	"github.com/banshee-data/ride.report/internal/report"
)

const maxListLimit = 1000

// parseLimit reads ?limit=. Missing means everything.
func parseLimit(r *http.Request) (int, error) {
	l := r.URL.Query().Get("limit")
	if l == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(l)
	if err != nil || n < 1 || n > maxListLimit {
		return 0, errors.New("limit must be between 1 and " + strconv.Itoa(maxListLimit))
	}
	return n, nil
}

// RideView is a logged ride with its duration.
type RideView struct {
	db.Ride
	DurationMinutes int64 `json:"duration_minutes"`
}

func (s *Server) rides(w http.ResponseWriter, r *http.Request) ([]db.Ride, bool) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return nil, false
	}
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return nil, false
	}
	rides, err := s.store.ListRides(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to list rides", err)
		return nil, false
	}
	return rides, true
}

func (s *Server) listRides(w http.ResponseWriter, r *http.Request) {
	rides, ok := s.rides(w, r)
	if !ok {
		return
	}
	views := make([]RideView, len(rides))
	for i, ride := range rides {
		views[i] = RideView{Ride: ride, DurationMinutes: ride.DurationMinutes()}
	}
	httputil.WriteJSONOK(w, views)
}

func (s *Server) ridesSummary(w http.ResponseWriter, r *http.Request) {
	rides, ok := s.rides(w, r)
	if !ok {
		return
	}
	httputil.WriteJSONOK(w, report.Summarize(rides, s.displayUnits()))
}

func (s *Server) ridesPNG(w http.ResponseWriter, r *http.Request) {
	rides, ok := s.rides(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	err := report.WritePNG(&buf, rides, s.displayUnits(), 10*vg.Inch, 5*vg.Inch)
	if errors.Is(err, report.ErrNoRides) {
		httputil.NotFound(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to plot rides", err)
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Write(buf.Bytes())
}

func (s *Server) ridesChart(w http.ResponseWriter, r *http.Request) {
	rides, ok := s.rides(w, r)
	if !ok {
		return
	}

	var buf bytes.Buffer
	if err := report.WriteChart(&buf, rides, s.displayUnits(), s.theme()); err != nil {
		httputil.InternalServerError(w, "failed to render chart", err)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Write(buf.Bytes())
}
