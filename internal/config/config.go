// Package config loads the ride computer's settings file. Every field is
// optional: the Get* accessors supply defaults for anything left out, so a
// partial file is always safe.
package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/banshee-data/ride.report/internal/fuel"
	"github.com/banshee-data/ride.report/internal/location"
	"github.com/banshee-data/ride.report/internal/motion"
	"github.com/banshee-data/ride.report/internal/serialmux"
	"github.com/banshee-data/ride.report/internal/units"
)

const maxFileSize = 1 * 1024 * 1024 // 1MB

// Defaults for values without a home in another package.
const (
	DefaultSerialPort      = "/dev/ttyACM0"
	DefaultListen          = ":8080"
	DefaultDBPath          = "ride.db"
	DefaultRefreshInterval = time.Second
)

// ErrInvalidConfig wraps every validation failure.
var ErrInvalidConfig = errors.New("invalid configuration")

// Config is the settings file. Durations are strings such as "10s".
type Config struct {
	// Receiver
	SerialPort             *string  `json:"serial_port,omitempty" yaml:"serial_port,omitempty"`
	BaudRate               *int     `json:"baud_rate,omitempty" yaml:"baud_rate,omitempty" validate:"omitempty,oneof=4800 9600 19200 38400 57600 115200"`
	FixTimeout             *string  `json:"fix_timeout,omitempty" yaml:"fix_timeout,omitempty" validate:"omitempty,positive_duration"`
	StaleFixTolerance      *string  `json:"stale_fix_tolerance,omitempty" yaml:"stale_fix_tolerance,omitempty" validate:"omitempty,duration"` // negative disables
	UEREMeters             *float64 `json:"uere_meters,omitempty" yaml:"uere_meters,omitempty" validate:"omitempty,gt=0"`
	FallbackAccuracyMeters *float64 `json:"fallback_accuracy_meters,omitempty" yaml:"fallback_accuracy_meters,omitempty" validate:"omitempty,gt=0"`

	// Trip
	SmoothingFactor   *float64 `json:"smoothing_factor,omitempty" yaml:"smoothing_factor,omitempty" validate:"omitempty,gt=0,lte=1"`
	MeaningfulTripKm  *float64 `json:"meaningful_trip_km,omitempty" yaml:"meaningful_trip_km,omitempty" validate:"omitempty,gt=0"`
	DefaultKmPerLitre *float64 `json:"default_km_per_litre,omitempty" yaml:"default_km_per_litre,omitempty" validate:"omitempty,gt=0"`

	// Presentation
	DisplayUnits    *string  `json:"display_units,omitempty" yaml:"display_units,omitempty" validate:"omitempty,oneof=mps mph kmph kph"`
	RefreshInterval *string  `json:"refresh_interval,omitempty" yaml:"refresh_interval,omitempty" validate:"omitempty,positive_duration"`
	Listen          *string  `json:"listen,omitempty" yaml:"listen,omitempty"`
	DBPath          *string  `json:"db_path,omitempty" yaml:"db_path,omitempty"`
	CORSOrigins     []string `json:"cors_origins,omitempty" yaml:"cors_origins,omitempty" validate:"omitempty,dive,required"`
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	// report json names rather than Go field names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	// an empty string means "use the default", as in the Get* accessors
	v.RegisterValidation("duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		_, err := time.ParseDuration(s)
		return err == nil
	})
	v.RegisterValidation("positive_duration", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		if s == "" {
			return true
		}
		d, err := time.ParseDuration(s)
		return err == nil && d > 0
	})
	return v
}

// Empty returns a Config with every field unset.
func Empty() *Config {
	return &Config{}
}

// LoadConfig reads a .json, .yaml or .yml settings file.
func LoadConfig(path string) (*Config, error) {
	cleanPath := filepath.Clean(path)
	ext := strings.ToLower(filepath.Ext(cleanPath))
	if ext != ".json" && ext != ".yaml" && ext != ".yml" {
		return nil, fmt.Errorf("config file must have .json, .yaml or .yml extension, got %q", ext)
	}

	fileInfo, err := os.Stat(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to stat config file: %w", err)
	}
	if fileInfo.Size() > maxFileSize {
		return nil, fmt.Errorf("config file too large: %d bytes (max %d)", fileInfo.Size(), maxFileSize)
	}

	data, err := os.ReadFile(cleanPath)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	cfg := Empty()
	if ext == ".json" {
		err = json.Unmarshal(data, cfg)
	} else {
		err = yaml.Unmarshal(data, cfg)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks every set field.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	return nil
}

// Env variables read by ApplyEnv.
const (
	EnvSerialPort        = "RIDE_SERIAL_PORT"
	EnvBaudRate          = "RIDE_BAUD_RATE"
	EnvListen            = "RIDE_LISTEN"
	EnvDBPath            = "RIDE_DB_PATH"
	EnvDisplayUnits      = "RIDE_DISPLAY_UNITS"
	EnvDefaultKmPerLitre = "RIDE_DEFAULT_KM_PER_LITRE"
	EnvCORSOrigins       = "RIDE_CORS_ORIGINS"
)

// ApplyEnv overrides fields from RIDE_* variables found by lookup and
// revalidates. Empty variables are ignored.
func (c *Config) ApplyEnv(lookup func(string) (string, bool)) error {
	get := func(key string) (string, bool) {
		v, ok := lookup(key)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvSerialPort); ok {
		c.SerialPort = &v
	}
	if v, ok := get(EnvBaudRate); ok {
		baud, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvBaudRate, v)
		}
		c.BaudRate = &baud
	}
	if v, ok := get(EnvListen); ok {
		c.Listen = &v
	}
	if v, ok := get(EnvDBPath); ok {
		c.DBPath = &v
	}
	if v, ok := get(EnvDisplayUnits); ok {
		c.DisplayUnits = &v
	}
	if v, ok := get(EnvDefaultKmPerLitre); ok {
		kmpl, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q is not a number", ErrInvalidConfig, EnvDefaultKmPerLitre, v)
		}
		c.DefaultKmPerLitre = &kmpl
	}
	if v, ok := get(EnvCORSOrigins); ok {
		c.CORSOrigins = nil
		for _, origin := range strings.Split(v, ",") {
			if origin = strings.TrimSpace(origin); origin != "" {
				c.CORSOrigins = append(c.CORSOrigins, origin)
			}
		}
	}
	return c.Validate()
}

func durationOr(s *string, def time.Duration) time.Duration {
	if s == nil || *s == "" {
		return def
	}
	d, err := time.ParseDuration(*s)
	if err != nil {
		return def
	}
	return d
}

// GetSerialPort returns the receiver's device path.
func (c *Config) GetSerialPort() string {
	if c.SerialPort == nil || *c.SerialPort == "" {
		return DefaultSerialPort
	}
	return *c.SerialPort
}

func (c *Config) GetBaudRate() int {
	if c.BaudRate == nil {
		return 9600
	}
	return *c.BaudRate
}

// PortOptions is the serial setup for the receiver.
func (c *Config) PortOptions() serialmux.PortOptions {
	return serialmux.PortOptions{BaudRate: c.GetBaudRate()}
}

func (c *Config) GetFixTimeout() time.Duration {
	return durationOr(c.FixTimeout, location.DefaultFixTimeout)
}

func (c *Config) GetStaleFixTolerance() time.Duration {
	return durationOr(c.StaleFixTolerance, location.DefaultStaleFixTolerance)
}

func (c *Config) GetUEREMeters() float64 {
	if c.UEREMeters == nil {
		return location.DefaultUEREMeters
	}
	return *c.UEREMeters
}

func (c *Config) GetFallbackAccuracyMeters() float64 {
	if c.FallbackAccuracyMeters == nil {
		return location.DefaultFallbackAccuracyMeters
	}
	return *c.FallbackAccuracyMeters
}

func (c *Config) GetSmoothingFactor() float64 {
	if c.SmoothingFactor == nil {
		return motion.DefaultSmoothingFactor
	}
	return *c.SmoothingFactor
}

func (c *Config) GetMeaningfulTripKm() float64 {
	if c.MeaningfulTripKm == nil {
		return fuel.MeaningfulTripKm
	}
	return *c.MeaningfulTripKm
}

// GetDefaultKmPerLitre is the mileage used until the rider sets their own.
func (c *Config) GetDefaultKmPerLitre() float64 {
	if c.DefaultKmPerLitre == nil {
		return fuel.DefaultKmPerLitre
	}
	return *c.DefaultKmPerLitre
}

func (c *Config) GetDisplayUnits() string {
	if c.DisplayUnits == nil || *c.DisplayUnits == "" {
		return units.KMPH
	}
	return *c.DisplayUnits
}

// GetRefreshInterval is how often live trip figures are pushed to the UI.
func (c *Config) GetRefreshInterval() time.Duration {
	return durationOr(c.RefreshInterval, DefaultRefreshInterval)
}

func (c *Config) GetListen() string {
	if c.Listen == nil || *c.Listen == "" {
		return DefaultListen
	}
	return *c.Listen
}

func (c *Config) GetDBPath() string {
	if c.DBPath == nil || *c.DBPath == "" {
		return DefaultDBPath
	}
	return *c.DBPath
}

// GetCORSOrigins returns the dashboard origins allowed to call the API. The
// default admits the Vite dev server.
func (c *Config) GetCORSOrigins() []string {
	if len(c.CORSOrigins) == 0 {
		return []string{"http://localhost:5173", "http://127.0.0.1:5173"}
	}
	return c.CORSOrigins
}
