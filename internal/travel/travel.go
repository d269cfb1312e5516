// Package travel defines the travel-time service boundary. The model itself
// (IASP91, AK135, ...) lives behind the Service interface; the planner only
// needs the first arrival and the first S-named arrival from the ttbasic
// phase set for a given depth and distance.
package travel

import (
	"context"

	"github.com/zeebo/errs"
)

// ErrUnavailable marks geometries for which the model cannot produce a
// first arrival. Callers skip the (event, station) pair and do not retry.
var ErrUnavailable = errs.Class("travel time unavailable")

// DefaultModel is the model name recorded in arrival rows when the
// configuration does not name one.
const DefaultModel = "iasp91"

// Arrivals holds predicted phase arrival offsets relative to the event
// origin time, in seconds.
type Arrivals struct {
	P    float64
	S    float64
	HasS bool
}

// Service computes predicted arrivals for an event at depthKm observed at
// distDeg degrees of arc. Implementations return ErrUnavailable when no
// first arrival exists for the geometry.
type Service interface {
	// Name identifies the Earth model, e.g. "iasp91".
	Name() string

	// FirstArrivals returns the first arrival (P) and, when present, the
	// first S-named arrival from the ttbasic phase set.
	FirstArrivals(ctx context.Context, depthKm, distDeg float64) (Arrivals, error)
}
