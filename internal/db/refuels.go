package db

import (
	"database/sql"
	"time"

	"github.com/banshee-data/ride.report/internal/fuel"
)

// Refuel is one fill-up in the fuel log.
type Refuel struct {
	ID            int64     `json:"id"`
	Date          time.Time `json:"date"`
	Litres        float64   `json:"litres"`
	PricePerLitre float64   `json:"price_per_litre"`
	TotalCost     float64   `json:"total_cost"`
	Odometer      *int64    `json:"odometer,omitempty"`
}

// NewRefuel validates in and prices it.
func NewRefuel(in fuel.RefuelInput, at time.Time) (Refuel, error) {
	if err := in.Validate(); err != nil {
		return Refuel{}, err
	}
	return Refuel{
		Date:          at,
		Litres:        in.Litres,
		PricePerLitre: in.PricePerLitre,
		TotalCost:     in.TotalCost(),
		Odometer:      in.Odometer,
	}, nil
}

// AddRefuel logs a refuel and returns its row id. The entry is revalidated,
// so a hand-built Refuel cannot bypass the litres and price checks.
func (db *DB) AddRefuel(r Refuel) (int64, error) {
	in := fuel.RefuelInput{Litres: r.Litres, PricePerLitre: r.PricePerLitre, Odometer: r.Odometer}
	if err := in.Validate(); err != nil {
		return 0, err
	}

	var odometer sql.NullInt64
	if r.Odometer != nil {
		odometer = sql.NullInt64{Int64: *r.Odometer, Valid: true}
	}

	res, err := db.Exec(`
		INSERT INTO refuels (date, litres, price_per_litre, total_cost, odometer)
		VALUES (?, ?, ?, ?, ?)`,
		r.Date.UnixMilli(), r.Litres, r.PricePerLitre, in.TotalCost(), odometer,
	)
	if err != nil {
		return 0, storageErr("add refuel", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return 0, storageErr("add refuel", err)
	}
	return id, nil
}

// ListRefuels returns up to limit refuels, newest first. A non-positive limit
// returns every refuel.
func (db *DB) ListRefuels(limit int) ([]Refuel, error) {
	if limit <= 0 {
		limit = -1
	}
	rows, err := db.Query(`
		SELECT id, date, litres, price_per_litre, total_cost, odometer
		FROM refuels
		ORDER BY date DESC, id DESC
		LIMIT ?`, limit)
	if err != nil {
		return nil, storageErr("list refuels", err)
	}
	defer rows.Close()

	refuels := []Refuel{}
	for rows.Next() {
		var (
			r        Refuel
			date     int64
			odometer sql.NullInt64
		)
		if err := rows.Scan(&r.ID, &date, &r.Litres, &r.PricePerLitre, &r.TotalCost, &odometer); err != nil {
			return nil, storageErr("list refuels", err)
		}
		r.Date = time.UnixMilli(date).UTC()
		if odometer.Valid {
			v := odometer.Int64
			r.Odometer = &v
		}
		refuels = append(refuels, r)
	}
	if err := rows.Err(); err != nil {
		return nil, storageErr("list refuels", err)
	}
	return refuels, nil
}
