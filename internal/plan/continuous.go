package plan

import (
	"time"

	"github.com/seismica/seedvault/internal/fdsn"
)

// Continuous plans one request per channel per chunk of daysPerRequest days
// covering [t0, t1). The effective window of each channel is clipped to its
// operational range: it opens at max(t0, channel start) and closes at
// min(t1 - one sample period, channel end + one day). The trailing day of
// slack keeps the last partial day of a channel that went offline
// mid-window; the subtracted sample period stops the final request from
// asking for the first sample of t1 itself.
func Continuous(inv fdsn.Inventory, t0, t1 time.Time, daysPerRequest int) []FetchRequest {
	if daysPerRequest < 1 {
		daysPerRequest = 1
	}
	chunk := time.Duration(daysPerRequest) * 24 * time.Hour

	var out []FetchRequest
	for _, net := range inv.Networks {
		for _, sta := range net.Stations {
			for _, ch := range sta.Channels {
				start, end := effectiveWindow(ch, t0, t1)
				if !start.Before(end) {
					continue
				}
				for ws := start; ws.Before(end); ws = ws.Add(chunk) {
					we := ws.Add(chunk)
					if we.After(end) {
						we = end
					}
					out = append(out, FetchRequest{
						Network:  net.Code,
						Station:  sta.Code,
						Location: ch.Location,
						Channel:  ch.Code,
						Start:    ws,
						End:      we,
					})
				}
			}
		}
	}
	sortRequests(out)
	return out
}

func effectiveWindow(ch fdsn.Channel, t0, t1 time.Time) (time.Time, time.Time) {
	start := t0
	if ch.Start.After(start) {
		start = ch.Start
	}

	end := t1
	if ch.SampleRate > 0 {
		end = end.Add(-time.Duration(float64(time.Second) / ch.SampleRate))
	}
	if !ch.End.IsZero() {
		if closed := ch.End.Add(24 * time.Hour); closed.Before(end) {
			end = closed
		}
	}
	return start, end
}
