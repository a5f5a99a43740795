package db

import (
	"database/sql"
	"time"
)

// Ride is one completed trip as logged.
type Ride struct {
	ID             int64     `json:"id"`
	TripID         string    `json:"trip_id"`
	DateStart      time.Time `json:"date_start"`
	DateEnd        time.Time `json:"date_end"`
	DistanceKm     float64   `json:"distance_km"`
	AvgSpeedKmh    float64   `json:"avg_speed_kmh"`
	FuelUsedLitres float64   `json:"fuel_used_litres"`
}

// DurationMinutes is the whole number of minutes between start and end.
func (r Ride) DurationMinutes() int64 {
	return int64(r.DateEnd.Sub(r.DateStart) / time.Minute)
}

// AddRide logs a ride and returns its row id. A ride with the same TripID is
// only stored once; the second insert returns the existing id.
func (db *DB) AddRide(r Ride) (int64, error) {
	_, err := db.Exec(`
		INSERT INTO rides (trip_id, date_start, date_end, distance_km, avg_speed_kmh, fuel_used_litres)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(trip_id) DO NOTHING`,
		r.TripID, r.DateStart.UnixMilli(), r.DateEnd.UnixMilli(),
		r.DistanceKm, r.AvgSpeedKmh, r.FuelUsedLitres,
	)
	if err != nil {
		return 0, storageErr("add ride", err)
	}

	var id int64
	if err := db.QueryRow(`SELECT id FROM rides WHERE trip_id = ?`, r.TripID).Scan(&id); err != nil {
		return 0, storageErr("add ride", err)
	}
	return id, nil
}

// ListRides returns up to limit rides, newest first. A non-positive limit
// returns every ride.
func (db *DB) ListRides(limit int) ([]Ride, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, trip_id, date_start, date_end, distance_km, avg_speed_kmh, fuel_used_litres
		FROM rides
		ORDER BY date_start DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("list rides", err)
	}
	defer rows.Close()

	rides := []Ride{}
	for rows.Next() {
		var (
			r          Ride
			start, end int64
		)
		if err := rows.Scan(&r.ID, &r.TripID, &start, &end, &r.DistanceKm, &r.AvgSpeedKmh, &r.FuelUsedLitres); err != nil {
			return nil, storageErr("list rides", err)
		}
		r.DateStart = time.UnixMilli(start).UTC()
		r.DateEnd = time.UnixMilli(end).UTC()
		rides = append(rides, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list rides", err)
	}
	return rides, nil
}

// FuelTotals sums the two logs the range estimate is built from.
type FuelTotals struct {
	RefuelledLitres float64 `json:"refuelled_litres"`
	UsedLitres      float64 `json:"used_litres"`
	Rides           int     `json:"rides"`
	Refuels         int     `json:"refuels"`
}

func (db *DB) FuelTotals() (FuelTotals, error) {
	var (
		t               FuelTotals
		used, refuelled sql.NullFloat64
	)
	err := db.QueryRow(`
		SELECT
			(SELECT COUNT(*) FROM rides),
			(SELECT SUM(fuel_used_litres) FROM rides),
			(SELECT COUNT(*) FROM refuels),
			(SELECT SUM(litres) FROM refuels)`,
	).Scan(&t.Rides, &used, &t.Refuels, &refuelled)
	if err != nil {
		return FuelTotals{}, storageErr("fuel totals", err)
	}
	t.UsedLitres = used.Float64
	t.RefuelledLitres = refuelled.Float64
	return t, nil
}
