package db

import (
	"database/sql"
	"errors"
	"fmt"
	"math"

	"github.com/go-playground/validator/v10"

	"github.com/banshee-data/ride.report/internal/fuel"
	"github.com/banshee-data/ride.report/internal/units"
)

// Theme values.
const (
	ThemeLight = "light"
	ThemeDark  = "dark"
)

// ErrInvalidSettings wraps every settings validation failure.
var ErrInvalidSettings = errors.New("invalid settings")

var validate = validator.New(validator.WithRequiredStructEnabled())

// Settings is the rider's single settings row.
type Settings struct {
	KmPerLitre   float64 `json:"km_per_litre"`
	Theme        string  `json:"theme"`
	DisplayUnits string  `json:"display_units"`
}

// DefaultSettings is what a fresh ride log is seeded with.
func DefaultSettings() Settings {
	return Settings{
		KmPerLitre:   fuel.DefaultKmPerLitre,
		Theme:        ThemeDark,
		DisplayUnits: units.KMPH,
	}
}

// SettingsPatch changes only the fields that are set.
type SettingsPatch struct {
	KmPerLitre   *float64 `json:"km_per_litre,omitempty" validate:"omitempty,gt=0"`
	Theme        *string  `json:"theme,omitempty" validate:"omitempty,oneof=light dark"`
	DisplayUnits *string  `json:"display_units,omitempty" validate:"omitempty,oneof=mps mph kmph kph"`
}

func (p SettingsPatch) Validate() error {
	if p.KmPerLitre != nil && (math.IsNaN(*p.KmPerLitre) || math.IsInf(*p.KmPerLitre, 0)) {
		return fmt.Errorf("%w: km_per_litre must be a finite number", ErrInvalidSettings)
	}
	if err := validate.Struct(p); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidSettings, err)
	}
	return nil
}

func (p SettingsPatch) apply(s Settings) Settings {
	if p.KmPerLitre != nil {
		s.KmPerLitre = *p.KmPerLitre
	}
	if p.Theme != nil {
		s.Theme = *p.Theme
	}
	if p.DisplayUnits != nil {
		s.DisplayUnits = *p.DisplayUnits
	}
	return s
}

// GetSettings returns the settings row, or DefaultSettings when it is missing.
func (db *DB) GetSettings() (Settings, error) {
	var s Settings
	err := db.QueryRow(`SELECT km_per_litre, theme, display_units FROM settings WHERE id = 1`).
		Scan(&s.KmPerLitre, &s.Theme, &s.DisplayUnits)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, storageErr("get settings", err)
	}
	return s, nil
}

// UpsertSettings applies patch to the stored settings, creating the row from
// the defaults when it does not exist, and returns the result.
func (db *DB) UpsertSettings(patch SettingsPatch) (Settings, error) {
	if err := patch.Validate(); err != nil {
		return Settings{}, err
	}

	tx, err := db.Begin()
	if err != nil {
		return Settings{}, storageErr("upsert settings", err)
	}
	defer tx.Rollback()

	current := DefaultSettings()
	err = tx.QueryRow(`SELECT km_per_litre, theme, display_units FROM settings WHERE id = 1`).
		Scan(&current.KmPerLitre, &current.Theme, &current.DisplayUnits)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return Settings{}, storageErr("upsert settings", err)
	}

	next := patch.apply(current)
	_, err = tx.Exec(`
		INSERT INTO settings (id, km_per_litre, theme, display_units)
		VALUES (1, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			km_per_litre = excluded.km_per_litre,
			theme = excluded.theme,
			display_units = excluded.display_units`,
		next.KmPerLitre, next.Theme, next.DisplayUnits,
	)
	if err != nil {
		return Settings{}, storageErr("upsert settings", err)
	}
	if err := tx.Commit(); err != nil {
		return Settings{}, storageErr("upsert settings", err)
	}
	return next, nil
}
