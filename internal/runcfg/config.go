// Package runcfg loads and validates the run configuration: archive
// locations, download mode, credentials, and the waveform/station/event
// query surfaces. A config file fully describes one acquisition run.
package runcfg

import (
	"path/filepath"
	"reflect"
	"strings"
	"time"

	"github.com/go-viper/mapstructure/v2"
	"github.com/spf13/viper"
	"github.com/zeebo/errs"

	"github.com/seismica/seedvault/internal/travel"
)

// ErrConfig marks a missing or malformed setting. Fatal at startup.
var ErrConfig = errs.Class("config")

// Download modes.
const (
	DownloadEvent      = "event"
	DownloadContinuous = "continuous"
)

// Config is the full run configuration.
type Config struct {
	SDSPath      string  `mapstructure:"sds_path"`
	DBPath       string  `mapstructure:"db_path"`
	DownloadType string  `mapstructure:"download_type"`
	NumProcesses int     `mapstructure:"num_processes"`
	GapTolerance float64 `mapstructure:"gap_tolerance"` // seconds

	// Credentials maps "NN", "NN.SSSSS", or "open" to "user:password".
	Credentials map[string]string `mapstructure:"credentials"`

	Waveform WaveformConfig `mapstructure:"waveform"`
	Station  StationConfig  `mapstructure:"station"`
	Event    EventConfig    `mapstructure:"event"`
}

// WaveformConfig selects the data service and request shaping.
type WaveformConfig struct {
	Client         string   `mapstructure:"client"`
	ChannelPref    []string `mapstructure:"channel_pref"`
	LocationPref   []string `mapstructure:"location_pref"`
	DaysPerRequest int      `mapstructure:"days_per_request"`
}

// GeoConfig is a geographic constraint: a bounding box (used when
// max_latitude > min_latitude) or an annular disk (used when max_radius is
// positive).
type GeoConfig struct {
	MinLatitude  float64 `mapstructure:"min_latitude"`
	MaxLatitude  float64 `mapstructure:"max_latitude"`
	MinLongitude float64 `mapstructure:"min_longitude"`
	MaxLongitude float64 `mapstructure:"max_longitude"`

	Latitude  float64 `mapstructure:"latitude"`
	Longitude float64 `mapstructure:"longitude"`
	MinRadius float64 `mapstructure:"min_radius"`
	MaxRadius float64 `mapstructure:"max_radius"`
}

// StationConfig selects the station service and inventory filters.
type StationConfig struct {
	Client        string `mapstructure:"client"`
	InventoryFile string `mapstructure:"inventory_file"`

	ForceStations   []string `mapstructure:"force_stations"`   // "NN.SSSSS"
	ExcludeStations []string `mapstructure:"exclude_stations"` // "NN.SSSSS"

	Start       time.Time `mapstructure:"start"`
	End         time.Time `mapstructure:"end"`
	StartBefore time.Time `mapstructure:"start_before"`
	StartAfter  time.Time `mapstructure:"start_after"`
	EndBefore   time.Time `mapstructure:"end_before"`
	EndAfter    time.Time `mapstructure:"end_after"`

	Network  string `mapstructure:"network"`
	Station  string `mapstructure:"station"`
	Location string `mapstructure:"location"`
	Channel  string `mapstructure:"channel"`

	Geo GeoConfig `mapstructure:"geo"`

	IncludeRestricted bool `mapstructure:"include_restricted"`
}

// EventConfig selects the event service, catalog filters, and the arrival
// window.
type EventConfig struct {
	Client      string `mapstructure:"client"`
	Model       string `mapstructure:"model"`
	CatalogFile string `mapstructure:"catalog_file"`

	Start time.Time `mapstructure:"start"`
	End   time.Time `mapstructure:"end"`

	MinDepthKm   float64 `mapstructure:"min_depth_km"`
	MaxDepthKm   float64 `mapstructure:"max_depth_km"`
	MinMagnitude float64 `mapstructure:"min_magnitude"`
	MaxMagnitude float64 `mapstructure:"max_magnitude"`

	Geo GeoConfig `mapstructure:"geo"`

	BeforePSec float64 `mapstructure:"before_p_sec"`
	AfterPSec  float64 `mapstructure:"after_p_sec"`

	IncludeAllOrigins    bool `mapstructure:"include_all_origins"`
	IncludeAllMagnitudes bool `mapstructure:"include_all_magnitudes"`
	IncludeArrivals      bool `mapstructure:"include_arrivals"`

	Limit        int       `mapstructure:"limit"`
	Offset       int       `mapstructure:"offset"`
	Contributor  string    `mapstructure:"contributor"`
	UpdatedAfter time.Time `mapstructure:"updated_after"`
}

// Defaults applied before the file is read.
const (
	defaultDaysPerRequest = 1
	defaultGapTolerance   = 60.0
)

// Load reads, defaults, and validates the configuration at path.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetConfigFile(path)
	v.SetDefault("download_type", DownloadContinuous)
	v.SetDefault("gap_tolerance", defaultGapTolerance)
	v.SetDefault("waveform.days_per_request", defaultDaysPerRequest)
	v.SetDefault("event.model", travel.DefaultModel)

	if err := v.ReadInConfig(); err != nil {
		return Config{}, ErrConfig.New("read %s: %v", path, err)
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, viper.DecodeHook(timeDecodeHook())); err != nil {
		return Config{}, ErrConfig.New("decode %s: %v", path, err)
	}
	if cfg.DBPath == "" && cfg.SDSPath != "" {
		cfg.DBPath = filepath.Join(cfg.SDSPath, "database.sqlite")
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the invariants the rest of the engine assumes.
func (c Config) Validate() error {
	if c.SDSPath == "" {
		return ErrConfig.New("sds_path is required")
	}
	if c.DownloadType != DownloadEvent && c.DownloadType != DownloadContinuous {
		return ErrConfig.New("download_type must be %q or %q, got %q",
			DownloadEvent, DownloadContinuous, c.DownloadType)
	}
	if c.NumProcesses < 0 {
		return ErrConfig.New("num_processes must be >= 0")
	}
	if c.GapTolerance < 0 {
		return ErrConfig.New("gap_tolerance must be >= 0")
	}
	if c.Waveform.DaysPerRequest < 1 {
		return ErrConfig.New("waveform.days_per_request must be >= 1")
	}
	for key := range c.Credentials {
		if err := validCredentialKey(key); err != nil {
			return err
		}
	}
	if c.DownloadType == DownloadContinuous {
		if c.Station.Start.IsZero() || c.Station.End.IsZero() {
			return ErrConfig.New("continuous mode requires station.start and station.end")
		}
		if !c.Station.Start.Before(c.Station.End) {
			return ErrConfig.New("station.start must precede station.end")
		}
	}
	if c.DownloadType == DownloadEvent {
		if c.Event.BeforePSec < 0 || c.Event.AfterPSec < 0 {
			return ErrConfig.New("event.before_p_sec and event.after_p_sec must be >= 0")
		}
	}
	return nil
}

// validCredentialKey accepts "open", "NN", or "NN.SSSSS".
func validCredentialKey(key string) error {
	if key == "open" {
		return nil
	}
	net, sta, hasStation := strings.Cut(key, ".")
	if net == "" || (hasStation && sta == "") {
		return ErrConfig.New("malformed credential key %q", key)
	}
	return nil
}

// GapToleranceDuration converts the configured tolerance to a Duration.
func (c Config) GapToleranceDuration() time.Duration {
	return time.Duration(c.GapTolerance * float64(time.Second))
}

// timeDecodeHook accepts RFC 3339 timestamps and bare dates for the
// time.Time config fields.
func timeDecodeHook() mapstructure.DecodeHookFuncType {
	timeType := reflect.TypeOf(time.Time{})
	return func(from, to reflect.Type, data interface{}) (interface{}, error) {
		if to != timeType || from.Kind() != reflect.String {
			return data, nil
		}
		s := data.(string)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02"} {
			if t, err := time.Parse(layout, s); err == nil {
				return t.UTC(), nil
			}
		}
		return nil, ErrConfig.New("unrecognized time %q", s)
	}
}
