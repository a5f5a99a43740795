package api

import (
	"errors"
	"net/http"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/httputil"
)

func (s *Server) settings(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		st, err := s.store.GetSettings()
		if err != nil {
			httputil.InternalServerError(w, "failed to read settings", err)
			return
		}
		httputil.WriteJSONOK(w, st)

	case http.MethodPatch, http.MethodPost:
		var patch db.SettingsPatch
		if err := httputil.DecodeJSON(w, r, &patch); err != nil {
			httputil.BadRequest(w, err.Error())
			return
		}
		st, err := s.store.UpsertSettings(patch)
		if errors.Is(err, db.ErrInvalidSettings) {
			httputil.BadRequest(w, err.Error())
			return
		}
		if err != nil {
			httputil.InternalServerError(w, "failed to save settings", err)
			return
		}
		httputil.WriteJSONOK(w, st)

	default:
		httputil.MethodNotAllowed(w)
	}
}
