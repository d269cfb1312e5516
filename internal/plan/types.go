// Package plan turns an inventory plus intent (a time window, or an event
// catalog with a travel-time model) into the minimal set of fetch requests
// not already satisfied by the archive index. The pipeline order is fixed:
// plan, then prune against the index, then combine.
package plan

import (
	"sort"
	"time"

	"github.com/seismica/seedvault/internal/sds"
)

// MinRequestWindow is the smallest fetch worth issuing. Pruning drops any
// sub-request shorter than this rather than fetch a handful of samples.
const MinRequestWindow = 2 * time.Second

// FetchRequest is one planned remote fetch. Each key field holds a single
// value until Combine runs, after which station, location, and channel may
// be comma-joined sets. Start is inclusive, End exclusive.
type FetchRequest struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Start    time.Time
	End      time.Time
}

// Key returns the request's stream key. Only meaningful before Combine.
func (r FetchRequest) Key() sds.StreamKey {
	return sds.StreamKey{
		Network:  r.Network,
		Station:  r.Station,
		Location: r.Location,
		Channel:  r.Channel,
	}
}

// sortRequests orders requests by (starttime, network, station), the order
// the fetch pipeline consumes them in.
func sortRequests(reqs []FetchRequest) {
	sort.Slice(reqs, func(i, j int) bool {
		a, b := reqs[i], reqs[j]
		if !a.Start.Equal(b.Start) {
			return a.Start.Before(b.Start)
		}
		if a.Network != b.Network {
			return a.Network < b.Network
		}
		return a.Station < b.Station
	})
}
