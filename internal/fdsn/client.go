package fdsn

import (
	"context"
	"time"

	"github.com/zeebo/errs"

	"github.com/seismica/seedvault/internal/mseed"
)

// ErrFetch marks remote service failures: transport errors, error statuses,
// and empty responses. Requests failing this way are logged and skipped,
// never fatal.
var ErrFetch = errs.Class("fetch")

// StationQuery carries the station-service search parameters. Fields map
// directly onto fdsnws-station query parameters; zero values are omitted.
type StationQuery struct {
	Network  string
	Station  string
	Location string
	Channel  string

	Start       time.Time
	End         time.Time
	StartBefore time.Time
	StartAfter  time.Time
	EndBefore   time.Time
	EndAfter    time.Time

	// Box constraint; used when MaxLatitude > MinLatitude.
	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64

	// Annular-disk constraint; used when MaxRadius > 0.
	Latitude  float64
	Longitude float64
	MinRadius float64
	MaxRadius float64

	IncludeRestricted bool
	Level             string
}

// EventQuery carries the event-service search parameters.
type EventQuery struct {
	Start        time.Time
	End          time.Time
	MinDepthKm   float64
	MaxDepthKm   float64
	MinMagnitude float64
	MaxMagnitude float64

	Latitude  float64
	Longitude float64
	MinRadius float64
	MaxRadius float64

	MinLatitude  float64
	MaxLatitude  float64
	MinLongitude float64
	MaxLongitude float64

	IncludeAllOrigins    bool
	IncludeAllMagnitudes bool
	IncludeArrivals      bool

	Limit        int
	Offset       int
	Contributor  string
	UpdatedAfter time.Time
}

// WaveformClient fetches raw waveform data. Each field of the selection may
// be a single value or a comma-joined set.
type WaveformClient interface {
	GetWaveforms(ctx context.Context, network, station, location, channel string, start, end time.Time) ([]mseed.Trace, error)
}

// StationClient resolves a station query into an inventory.
type StationClient interface {
	GetStations(ctx context.Context, q StationQuery) (Inventory, error)
}

// EventClient resolves an event query into a catalog.
type EventClient interface {
	GetEvents(ctx context.Context, q EventQuery) (Catalog, error)
}
