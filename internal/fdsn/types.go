// Package fdsn models the external data-service boundary: the inventory and
// event catalog shapes consumed by the planner, the
// GetWaveforms/GetStations/GetEvents client interfaces, and the credential
// map used to resolve per-network access. The engine treats the wire
// protocol as a black box behind these interfaces.
package fdsn

import (
	"time"
)

// Channel is one recording channel of a station, with its operational
// window and sample rate.
type Channel struct {
	Code       string
	Location   string
	SampleRate float64
	Start      time.Time
	End        time.Time // zero means currently operating
}

// Station groups channels at one site.
type Station struct {
	Code      string
	Latitude  float64
	Longitude float64
	Elevation float64
	Start     time.Time
	End       time.Time // zero means currently operating
	Channels  []Channel
}

// Network groups stations under one FDSN network code.
type Network struct {
	Code     string
	Stations []Station
}

// Inventory is the hierarchical station description handed in by the
// station service. The engine never mutates it; filtering returns new
// values.
type Inventory struct {
	Networks []Network
}

// Event is a single earthquake origin.
type Event struct {
	ID        string
	Time      time.Time
	Latitude  float64
	Longitude float64
	DepthKm   float64
	Magnitude float64
}

// Catalog is an ordered collection of events.
type Catalog struct {
	Events []Event
}

// operatingAt reports whether the window [start, end] covers t, treating a
// zero end as open.
func operatingAt(start, end, t time.Time) bool {
	if t.Before(start) {
		return false
	}
	return end.IsZero() || !t.After(end)
}

// OperatingAt reports whether the station was operational at t.
func (s Station) OperatingAt(t time.Time) bool {
	return operatingAt(s.Start, s.End, t)
}

// Select returns a copy of the inventory containing only the stations for
// which keep returns true. Empty networks are dropped; the receiver is left
// untouched.
func (inv Inventory) Select(keep func(net Network, sta Station) bool) Inventory {
	var out Inventory
	for _, net := range inv.Networks {
		filtered := Network{Code: net.Code}
		for _, sta := range net.Stations {
			if keep(net, sta) {
				filtered.Stations = append(filtered.Stations, sta)
			}
		}
		if len(filtered.Stations) > 0 {
			out.Networks = append(out.Networks, filtered)
		}
	}
	return out
}

// MapChannels returns a copy of the inventory with each station's channel
// list replaced by f's result. Stations left with no channels are dropped.
func (inv Inventory) MapChannels(f func(net Network, sta Station) []Channel) Inventory {
	var out Inventory
	for _, net := range inv.Networks {
		filtered := Network{Code: net.Code}
		for _, sta := range net.Stations {
			cp := sta
			cp.Channels = f(net, sta)
			if len(cp.Channels) > 0 {
				filtered.Stations = append(filtered.Stations, cp)
			}
		}
		if len(filtered.Stations) > 0 {
			out.Networks = append(out.Networks, filtered)
		}
	}
	return out
}
