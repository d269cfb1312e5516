package fdsn

import (
	"os"
	"path"
)

// ReadInventoryFile loads a local inventory in the station text format, the
// same shape the station web service returns.
func ReadInventoryFile(p string) (Inventory, error) {
	body, err := os.ReadFile(p)
	if err != nil {
		return Inventory{}, ErrFetch.Wrap(err)
	}
	return parseStationText(body)
}

// ReadCatalogFile loads a local catalog in the event text format.
func ReadCatalogFile(p string) (Catalog, error) {
	body, err := os.ReadFile(p)
	if err != nil {
		return Catalog{}, ErrFetch.Wrap(err)
	}
	return parseEventText(body)
}

// FilterStations drops stations named in exclude ("NN.SSSSS") unless they
// are also named in force. Force wins over exclude; neither list can add a
// station the inventory does not already contain.
func (inv Inventory) FilterStations(force, exclude []string) Inventory {
	forced := toSet(force)
	excluded := toSet(exclude)
	return inv.Select(func(net Network, sta Station) bool {
		id := net.Code + "." + sta.Code
		if _, ok := forced[id]; ok {
			return true
		}
		_, ok := excluded[id]
		return !ok
	})
}

// ApplyChannelPreference keeps, per station, the channels matching the
// first preference pattern (shell-style, e.g. "BH?") that matches anything.
// An empty preference list keeps all channels; a station matching no
// pattern is dropped.
func (inv Inventory) ApplyChannelPreference(pref []string) Inventory {
	if len(pref) == 0 {
		return inv
	}
	return inv.MapChannels(func(_ Network, sta Station) []Channel {
		return firstMatch(pref, sta.Channels, func(ch Channel) string { return ch.Code })
	})
}

// ApplyLocationPreference is ApplyChannelPreference over location codes.
func (inv Inventory) ApplyLocationPreference(pref []string) Inventory {
	if len(pref) == 0 {
		return inv
	}
	return inv.MapChannels(func(_ Network, sta Station) []Channel {
		return firstMatch(pref, sta.Channels, func(ch Channel) string { return ch.Location })
	})
}

func firstMatch(pref []string, channels []Channel, field func(Channel) string) []Channel {
	for _, p := range pref {
		var kept []Channel
		for _, ch := range channels {
			if ok, err := path.Match(p, field(ch)); err == nil && ok {
				kept = append(kept, ch)
			}
		}
		if len(kept) > 0 {
			return kept
		}
	}
	return nil
}

func toSet(values []string) map[string]struct{} {
	out := make(map[string]struct{}, len(values))
	for _, v := range values {
		out[v] = struct{}{}
	}
	return out
}
