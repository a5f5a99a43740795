// Package api serves the trip computer's JSON API, its live trip stream
// and the ride history charts.
package api

import (
	"context"
	"net/http"
	"time"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/httputil"
	"github.com/banshee-data/ride.report/internal/timeutil"
	"github.com/banshee-data/ride.report/internal/trip"
	"github.com/banshee-data/ride.report/internal/units"
	"github.com/banshee-data/ride.report/internal/version"
)

// Trip is the ride lifecycle the API drives. *trip.Controller satisfies it.
type Trip interface {
	Start() string
	Stop() (trip.StopResult, error)
	Status() trip.Status
	EstimatedRangeKm() (float64, error)
}

// Store is the part of the ride log the API reads and writes. *db.DB
// satisfies it.
type Store interface {
	PingContext(ctx context.Context) error
	ListRides(limit int) ([]db.Ride, error)
	ListRefuels(limit int) ([]db.Refuel, error)
	AddRefuel(db.Refuel) (int64, error)
	GetSettings() (db.Settings, error)
	UpsertSettings(db.SettingsPatch) (db.Settings, error)
}

type Options struct {
	// Units is used when the rider's settings cannot be read.
	Units           string
	RefreshInterval time.Duration
	CORSOrigins     []string
	Clock           timeutil.Clock
}

type Server struct {
	trip  Trip
	store Store
	opts  Options
}

func NewServer(t Trip, store Store, opts Options) *Server {
	if !units.IsValid(opts.Units) {
		opts.Units = units.KMPH
	}
	if opts.RefreshInterval <= 0 {
		opts.RefreshInterval = time.Second
	}
	if opts.Clock == nil {
		opts.Clock = timeutil.RealClock{}
	}
	return &Server{trip: t, store: store, opts: opts}
}

// ServeMux returns the API and chart routes.
func (s *Server) ServeMux() *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", s.health)
	mux.HandleFunc("/api/trip", s.showTrip)
	mux.HandleFunc("/api/trip/stream", s.streamTrip)
	mux.HandleFunc("/api/trip/start", s.startTrip)
	mux.HandleFunc("/api/trip/stop", s.stopTrip)
	mux.HandleFunc("/api/rides", s.listRides)
	mux.HandleFunc("/api/rides/summary", s.ridesSummary)
	mux.HandleFunc("/api/rides.png", s.ridesPNG)
	mux.HandleFunc("/api/refuels", s.refuels)
	mux.HandleFunc("/api/settings", s.settings)
	mux.HandleFunc("/charts/rides", s.ridesChart)
	return mux
}

// Handler wraps h, normally the root mux carrying ServeMux and the debug
// routes, with request logging and CORS.
func (s *Server) Handler(h http.Handler) http.Handler {
	return LoggingMiddleware(CORSMiddleware(s.opts.CORSOrigins)(h))
}

// displayUnits is the rider's chosen units, or the configured default.
func (s *Server) displayUnits() string {
	st, err := s.store.GetSettings()
	if err != nil || !units.IsValid(st.DisplayUnits) {
		return s.opts.Units
	}
	return st.DisplayUnits
}

func (s *Server) theme() string {
	st, err := s.store.GetSettings()
	if err != nil {
		return db.ThemeDark
	}
	return st.Theme
}

type healthResponse struct {
	Status    string `json:"status"`
	Database  string `json:"database"`
	Version   string `json:"version"`
	GitSHA    string `json:"git_sha"`
	BuildTime string `json:"build_time"`
	Timestamp string `json:"timestamp"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httputil.MethodNotAllowed(w)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()

	resp := healthResponse{
		Status:    "ok",
		Database:  "connected",
		Version:   version.Version,
		GitSHA:    version.GitSHA,
		BuildTime: version.BuildTime,
		Timestamp: s.opts.Clock.Now().UTC().Format(time.RFC3339),
	}
	status := http.StatusOK
	if err := s.store.PingContext(ctx); err != nil {
		logf("health check: %v", err)
		resp.Status = "error"
		resp.Database = "disconnected"
		status = http.StatusServiceUnavailable
	}
	httputil.WriteJSON(w, status, resp)
}
