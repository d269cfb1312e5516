package travel

import (
	"context"
	"math"

	"github.com/seismica/seedvault/internal/geodesy"
)

// UniformModel approximates first arrivals with straight-ray propagation
// through a homogeneous Earth. It is the built-in fallback when no external
// travel-time service is wired in; the velocities default to upper-mantle
// Pn/Sn values, which track the real first arrival to within a few percent
// at regional distances.
type UniformModel struct {
	VpKmS float64
	VsKmS float64

	// MaxDistDeg bounds the model's validity; beyond it the straight-ray
	// assumption breaks down and the model reports ErrUnavailable.
	MaxDistDeg float64
}

// NewUniformModel returns the default-velocity uniform model.
func NewUniformModel() UniformModel {
	return UniformModel{VpKmS: 8.04, VsKmS: 4.48, MaxDistDeg: 100}
}

// Name identifies the model in stored arrival rows.
func (UniformModel) Name() string { return "uniform" }

// FirstArrivals returns straight-ray P and S travel times in seconds.
func (m UniformModel) FirstArrivals(_ context.Context, depthKm, distDeg float64) (Arrivals, error) {
	if distDeg < 0 || depthKm < 0 || m.VpKmS <= 0 {
		return Arrivals{}, ErrUnavailable.New("bad geometry: depth %.1f km, distance %.2f deg", depthKm, distDeg)
	}
	if m.MaxDistDeg > 0 && distDeg > m.MaxDistDeg {
		return Arrivals{}, ErrUnavailable.New("distance %.2f deg beyond model range %.2f deg", distDeg, m.MaxDistDeg)
	}

	pathKm := math.Hypot(distDeg*geodesy.KmPerDegree, depthKm)
	out := Arrivals{P: pathKm / m.VpKmS}
	if m.VsKmS > 0 {
		out.S = pathKm / m.VsKmS
		out.HasS = true
	}
	return out, nil
}
