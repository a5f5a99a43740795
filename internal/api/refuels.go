package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/fuel"
	"github.com/banshee-data/ride.report/internal/httputil"
)

type refuelCreated struct {
	db.Refuel
	EstimatedRangeKm *float64 `json:"estimated_range_km"`
}

func (s *Server) refuels(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		s.listRefuels(w, r)
	case http.MethodPost:
		s.addRefuel(w, r)
	default:
		httputil.MethodNotAllowed(w)
	}
}

func (s *Server) listRefuels(w http.ResponseWriter, r *http.Request) {
	limit, err := parseLimit(r)
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	refuels, err := s.store.ListRefuels(limit)
	if err != nil {
		httputil.InternalServerError(w, "failed to list refuels", err)
		return
	}
	httputil.WriteJSONOK(w, refuels)
}

func (s *Server) addRefuel(w http.ResponseWriter, r *http.Request) {
	var in fuel.RefuelInput
	if err := httputil.DecodeJSON(w, r, &in); err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}

	refuel, err := db.NewRefuel(in, s.opts.Clock.Now())
	if err != nil {
		httputil.BadRequest(w, err.Error())
		return
	}
	id, err := s.store.AddRefuel(refuel)
	if errors.Is(err, fuel.ErrInvalidRefuel) {
		httputil.BadRequest(w, err.Error())
		return
	}
	if err != nil {
		httputil.InternalServerError(w, "failed to save refuel", err)
		return
	}
	refuel.ID = id

	resp := refuelCreated{Refuel: refuel}
	if km, err := s.trip.EstimatedRangeKm(); err == nil {
		km = fuel.Round(km, 1)
		resp.EstimatedRangeKm = &km
	}
	httputil.WriteJSON(w, http.StatusCreated, resp)
}
