package api

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/banshee-data/ride.report/internal/db"
	"github.com/banshee-data/ride.report/internal/location"
	"github.com/banshee-data/ride.report/internal/motion"
	"github.com/banshee-data/ride.report/internal/testutil"
	"github.com/banshee-data/ride.report/internal/timeutil"
	"github.com/banshee-data/ride.report/internal/trip"
	"github.com/banshee-data/ride.report/internal/units"
)

var now = time.Date(2026, time.March, 19, 9, 0, 0, 0, time.UTC)

type fakeTrip struct {
	mu       sync.Mutex
	status   trip.Status
	stopRes  trip.StopResult
	stopErr  error
	rangeKm  float64
	rangeErr error
	starts   int
}

func (f *fakeTrip) Start() string {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.starts++
	f.status.Riding = true
	if f.status.TripID == "" {
		f.status.TripID = "trip-1"
	}
	return f.status.TripID
}

func (f *fakeTrip) Stop() (trip.StopResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.stopErr == nil {
		f.status.Riding = false
	}
	return f.stopRes, f.stopErr
}

func (f *fakeTrip) Status() trip.Status {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.status
}

func (f *fakeTrip) EstimatedRangeKm() (float64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.rangeKm, f.rangeErr
}

func (f *fakeTrip) setSnapshot(s motion.Snapshot) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.status.Snapshot = s
}

type fixture struct {
	trip   *fakeTrip
	db     *db.DB
	clock  *timeutil.MockClock
	server *Server
	mux    http.Handler
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store, err := db.NewDB(filepath.Join(t.TempDir(), "ride.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	ft := &fakeTrip{
		status:  trip.Status{Permission: location.Granted},
		rangeKm: 123.456,
	}
	clock := timeutil.NewMockClock(now)
	s := NewServer(ft, store, Options{Units: units.KMPH, RefreshInterval: time.Second, Clock: clock})
	return &fixture{trip: ft, db: store, clock: clock, server: s, mux: s.ServeMux()}
}

func (f *fixture) do(method, path, body string) *httptest.ResponseRecorder {
	return testutil.Serve(f.mux, testutil.NewLocalRequest(method, path, body))
}

func (f *fixture) addRide(t *testing.T, id string, start time.Time, km, kmh float64) {
	t.Helper()
	_, err := f.db.AddRide(db.Ride{
		TripID:         id,
		DateStart:      start,
		DateEnd:        start.Add(time.Duration(km / kmh * float64(time.Hour))),
		DistanceKm:     km,
		AvgSpeedKmh:    kmh,
		FuelUsedLitres: km / 40,
	})
	require.NoError(t, err)
}

func TestHealth(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/health", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[healthResponse](t, rec)
	assert.Equal(t, "ok", body.Status)
	assert.Equal(t, "connected", body.Database)
	assert.Equal(t, "2026-03-19T09:00:00Z", body.Timestamp)

	f.db.Close()
	rec = f.do(http.MethodGet, "/api/health", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusServiceUnavailable)
	assert.Equal(t, "disconnected", testutil.DecodeJSON[healthResponse](t, rec).Database)
}

func TestShowTrip(t *testing.T) {
	f := newFixture(t)
	f.trip.status = trip.Status{
		Riding:     true,
		TripID:     "abc",
		StartedAt:  now.Add(-10 * time.Minute),
		Snapshot:   motion.Snapshot{SpeedKmh: 36.04, DistanceKm: 1.234, AvgSpeedKmh: 10.84},
		Permission: location.Granted,
		LastError:  &location.Error{Kind: location.Timeout},
	}

	rec := f.do(http.MethodGet, "/api/trip", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	v := testutil.DecodeJSON[TripView](t, rec)

	assert.True(t, v.Riding)
	assert.Equal(t, "abc", v.TripID)
	require.NotNil(t, v.StartedAt)
	assert.True(t, v.StartedAt.Equal(now.Add(-10*time.Minute)))
	assert.Equal(t, 36.0, v.Speed)
	assert.Equal(t, 1.23, v.Distance)
	assert.Equal(t, 10.8, v.AvgSpeed)
	assert.Equal(t, units.KMPH, v.Units)
	assert.Equal(t, "km", v.DistanceUnit)
	assert.Equal(t, location.Granted, v.Permission)
	require.NotNil(t, v.LastError)
	assert.Equal(t, "timeout", v.LastError.Kind)
	require.NotNil(t, v.EstimatedRangeKm)
	assert.Equal(t, 123.5, *v.EstimatedRangeKm)

	// raw JSON uses the permission's name
	assert.Contains(t, rec.Body.String(), `"permission":"granted"`)
}

func TestShowTrip_DisplayUnitsFromSettings(t *testing.T) {
	f := newFixture(t)
	mph := units.MPH
	_, err := f.db.UpsertSettings(db.SettingsPatch{DisplayUnits: &mph})
	require.NoError(t, err)
	f.trip.setSnapshot(motion.Snapshot{SpeedKmh: 100, DistanceKm: 10, AvgSpeedKmh: 50})

	v := testutil.DecodeJSON[TripView](t, f.do(http.MethodGet, "/api/trip", ""))
	assert.Equal(t, units.MPH, v.Units)
	assert.Equal(t, "mi", v.DistanceUnit)
	assert.InDelta(t, 62.1, v.Speed, 1e-9)
	assert.InDelta(t, 6.21, v.Distance, 1e-9)
	assert.InDelta(t, 31.1, v.AvgSpeed, 1e-9)
}

func TestShowTrip_RangeUnavailable(t *testing.T) {
	f := newFixture(t)
	f.trip.rangeErr = errors.New("disk I/O error")

	rec := f.do(http.MethodGet, "/api/trip", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Body.String(), `"estimated_range_km":null`)
	assert.Contains(t, rec.Body.String(), `"last_error":null`)
}

func TestStartStopTrip(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/trip/start", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	v := testutil.DecodeJSON[TripView](t, rec)
	assert.True(t, v.Riding)
	assert.Equal(t, "trip-1", v.TripID)
	assert.Equal(t, 1, f.trip.starts)

	ride := &db.Ride{ID: 4, TripID: "trip-1", DistanceKm: 12.5, AvgSpeedKmh: 41.2, FuelUsedLitres: 0.3125}
	f.trip.stopRes = trip.StopResult{Saved: true, Ride: ride, Snapshot: motion.Snapshot{DistanceKm: 12.5}}

	rec = f.do(http.MethodPost, "/api/trip/stop", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	resp := testutil.DecodeJSON[StopResponse](t, rec)
	assert.True(t, resp.Saved)
	require.NotNil(t, resp.Ride)
	assert.Equal(t, int64(4), resp.Ride.ID)
	assert.False(t, resp.Trip.Riding)
}

func TestStopTrip_Errors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		status  int
		message string
	}{
		{"not riding", trip.ErrNotRiding, http.StatusConflict, "no ride in progress"},
		{"storage", fmt.Errorf("%w: %w", trip.ErrStorageFailure, db.ErrStorage), http.StatusServiceUnavailable, "stop again"},
		{"other", errors.New("boom"), http.StatusInternalServerError, "failed to stop trip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			f.trip.stopErr = tt.err
			rec := f.do(http.MethodPost, "/api/trip/stop", "")
			testutil.AssertJSONError(t, rec, tt.status, tt.message)
		})
	}
}

func TestMethodNotAllowed(t *testing.T) {
	f := newFixture(t)
	tests := []struct{ method, path string }{
		{http.MethodPost, "/api/health"},
		{http.MethodPost, "/api/trip"},
		{http.MethodGet, "/api/trip/start"},
		{http.MethodGet, "/api/trip/stop"},
		{http.MethodPost, "/api/trip/stream"},
		{http.MethodDelete, "/api/rides"},
		{http.MethodPost, "/api/rides/summary"},
		{http.MethodDelete, "/api/refuels"},
		{http.MethodDelete, "/api/settings"},
		{http.MethodPost, "/charts/rides"},
	}
	for _, tt := range tests {
		rec := f.do(tt.method, tt.path, "")
		if rec.Code != http.StatusMethodNotAllowed {
			t.Errorf("%s %s: status = %d, want 405", tt.method, tt.path, rec.Code)
		}
	}
}

func TestListRides(t *testing.T) {
	f := newFixture(t)
	f.addRide(t, "a", now.Add(-48*time.Hour), 10, 40)
	f.addRide(t, "b", now.Add(-24*time.Hour), 30, 60)

	rec := f.do(http.MethodGet, "/api/rides", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	rides := testutil.DecodeJSON[[]RideView](t, rec)
	require.Len(t, rides, 2)
	assert.Equal(t, "b", rides[0].TripID)
	assert.Equal(t, int64(30), rides[0].DurationMinutes)
	assert.Equal(t, int64(15), rides[1].DurationMinutes)

	rides = testutil.DecodeJSON[[]RideView](t, f.do(http.MethodGet, "/api/rides?limit=1", ""))
	require.Len(t, rides, 1)
	assert.Equal(t, "b", rides[0].TripID)
}

func TestListRides_BadLimit(t *testing.T) {
	f := newFixture(t)
	for _, l := range []string{"0", "-3", "lots", "1001"} {
		rec := f.do(http.MethodGet, "/api/rides?limit="+l, "")
		testutil.AssertJSONError(t, rec, http.StatusBadRequest, "limit")
	}
}

func TestRidesSummary(t *testing.T) {
	f := newFixture(t)
	f.addRide(t, "a", now.Add(-48*time.Hour), 10, 40)
	f.addRide(t, "b", now.Add(-24*time.Hour), 30, 60)

	rec := f.do(http.MethodGet, "/api/rides/summary", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	body := testutil.DecodeJSON[map[string]any](t, rec)
	assert.Equal(t, float64(2), body["rides"])
	assert.InDelta(t, 40, body["total_distance"], 1e-9)
	assert.InDelta(t, 55, body["mean_avg_speed"], 1e-9)
	assert.Equal(t, "km", body["distance_unit"])
}

func TestRidesPNG(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/rides.png", "")
	testutil.AssertJSONError(t, rec, http.StatusNotFound, "no rides")

	f.addRide(t, "a", now.Add(-48*time.Hour), 10, 40)
	f.addRide(t, "b", now.Add(-24*time.Hour), 30, 60)
	rec = f.do(http.MethodGet, "/api/rides.png", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, "image/png", rec.Header().Get("Content-Type"))
	assert.True(t, bytes.HasPrefix(rec.Body.Bytes(), []byte("\x89PNG")))
}

func TestRidesChart(t *testing.T) {
	f := newFixture(t)
	f.addRide(t, "a", now.Add(-24*time.Hour), 10, 40)

	rec := f.do(http.MethodGet, "/charts/rides", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rec.Body.String(), "echarts")
	assert.Contains(t, rec.Body.String(), "1 rides")
}

func TestRefuels(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodPost, "/api/refuels", `{"litres": 10, "price_per_litre": 1.85, "odometer": 12000}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusCreated)
	created := testutil.DecodeJSON[refuelCreated](t, rec)
	assert.Equal(t, int64(1), created.ID)
	assert.InDelta(t, 18.5, created.TotalCost, 1e-9)
	assert.True(t, created.Date.Equal(now))
	require.NotNil(t, created.EstimatedRangeKm)

	rec = f.do(http.MethodGet, "/api/refuels", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	list := testutil.DecodeJSON[[]db.Refuel](t, rec)
	require.Len(t, list, 1)
	require.NotNil(t, list[0].Odometer)
	assert.Equal(t, int64(12000), *list[0].Odometer)
}

func TestRefuels_Invalid(t *testing.T) {
	tests := []struct {
		name string
		body string
		want string
	}{
		{"zero litres", `{"litres": 0, "price_per_litre": 1.5}`, "invalid refuel"},
		{"negative price", `{"litres": 5, "price_per_litre": -1}`, "invalid refuel"},
		{"negative odometer", `{"litres": 5, "price_per_litre": 1, "odometer": -4}`, "invalid refuel"},
		{"unknown field", `{"gallons": 5}`, "unknown field"},
		{"not json", `litres=5`, "invalid request body"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			rec := f.do(http.MethodPost, "/api/refuels", tt.body)
			testutil.AssertJSONError(t, rec, http.StatusBadRequest, tt.want)
		})
	}
}

func TestSettings(t *testing.T) {
	f := newFixture(t)

	rec := f.do(http.MethodGet, "/api/settings", "")
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Equal(t, db.DefaultSettings(), testutil.DecodeJSON[db.Settings](t, rec))

	rec = f.do(http.MethodPatch, "/api/settings", `{"km_per_litre": 32.5, "theme": "light"}`)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	got := testutil.DecodeJSON[db.Settings](t, rec)
	assert.Equal(t, db.Settings{KmPerLitre: 32.5, Theme: db.ThemeLight, DisplayUnits: units.KMPH}, got)

	rec = f.do(http.MethodPatch, "/api/settings", `{"km_per_litre": -1}`)
	testutil.AssertJSONError(t, rec, http.StatusBadRequest, "invalid settings")
	rec = f.do(http.MethodPatch, "/api/settings", `{"theme": "sepia"}`)
	testutil.AssertJSONError(t, rec, http.StatusBadRequest, "invalid settings")
}

func TestStreamTrip(t *testing.T) {
	f := newFixture(t)
	f.trip.setSnapshot(motion.Snapshot{SpeedKmh: 20})

	srv := httptest.NewServer(f.server.Handler(f.mux))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/trip/stream", nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	reader := bufio.NewReader(resp.Body)
	next := func() string {
		t.Helper()
		got := make(chan string, 1)
		go func() {
			var event strings.Builder
			for {
				line, err := reader.ReadString('\n')
				if err != nil || line == "\n" {
					got <- event.String()
					return
				}
				event.WriteString(line)
			}
		}()
		select {
		case ev := <-got:
			return ev
		case <-time.After(2 * time.Second):
			t.Fatal("no event received")
		}
		return ""
	}

	first := next()
	assert.Contains(t, first, "event: trip\n")
	assert.Contains(t, first, `"speed":20`)

	f.trip.setSnapshot(motion.Snapshot{SpeedKmh: 30})
	f.clock.Advance(time.Second)
	assert.Contains(t, next(), `"speed":30`)
}

func TestHandler_CORS(t *testing.T) {
	f := newFixture(t)
	f.server.opts.CORSOrigins = []string{"http://localhost:5173"}
	h := f.server.Handler(f.mux)

	req := testutil.NewLocalRequest(http.MethodOptions, "/api/settings", "")
	req.Header.Set("Origin", "http://localhost:5173")
	req.Header.Set("Access-Control-Request-Method", http.MethodPatch)
	rec := testutil.Serve(h, req)
	assert.Equal(t, "http://localhost:5173", rec.Header().Get("Access-Control-Allow-Origin"))

	req = testutil.NewLocalRequest(http.MethodGet, "/api/settings", "")
	req.Header.Set("Origin", "https://evil.example")
	rec = testutil.Serve(h, req)
	testutil.AssertStatusCode(t, rec.Code, http.StatusOK)
	assert.Empty(t, rec.Header().Get("Access-Control-Allow-Origin"))
}
