package plan

import (
	"sort"
	"strings"
)

// Combine merges requests sharing the same (network, starttime, endtime)
// into one request whose station, location, and channel fields are
// comma-joined, lexicographically sorted sets. Time ranges are never
// widened to force a merge.
func Combine(reqs []FetchRequest) []FetchRequest {
	type groupKey struct {
		network    string
		start, end int64 // unix nanoseconds; avoids time.Time equality pitfalls
	}
	type group struct {
		first     FetchRequest
		stations  map[string]struct{}
		locations map[string]struct{}
		channels  map[string]struct{}
	}
	groups := map[groupKey]*group{}
	for _, req := range reqs {
		key := groupKey{req.Network, req.Start.UnixNano(), req.End.UnixNano()}
		g, ok := groups[key]
		if !ok {
			g = &group{
				first:     req,
				stations:  map[string]struct{}{},
				locations: map[string]struct{}{},
				channels:  map[string]struct{}{},
			}
			groups[key] = g
		}
		addSet(g.stations, req.Station)
		addSet(g.locations, req.Location)
		addSet(g.channels, req.Channel)
	}

	out := make([]FetchRequest, 0, len(groups))
	for _, g := range groups {
		out = append(out, FetchRequest{
			Network:  g.first.Network,
			Station:  joinSet(g.stations),
			Location: joinSet(g.locations),
			Channel:  joinSet(g.channels),
			Start:    g.first.Start,
			End:      g.first.End,
		})
	}
	sortRequests(out)
	return out
}

// addSet splits a possibly already comma-joined field so Combine is safe to
// apply to its own output.
func addSet(set map[string]struct{}, field string) {
	for _, v := range strings.Split(field, ",") {
		set[v] = struct{}{}
	}
}

func joinSet(set map[string]struct{}) string {
	values := make([]string, 0, len(set))
	for v := range set {
		values = append(values, v)
	}
	sort.Strings(values)
	return strings.Join(values, ",")
}
