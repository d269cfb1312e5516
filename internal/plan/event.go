package plan

import (
	"context"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/seismica/seedvault/internal/fdsn"
	"github.com/seismica/seedvault/internal/geodesy"
	"github.com/seismica/seedvault/internal/sdsindex"
	"github.com/seismica/seedvault/internal/travel"
)

// EventPlanner plans fetch windows around the predicted first arrival of an
// event at each station. Computed arrivals are memoized in the index, so a
// re-run of the same event reads them back instead of calling the
// travel-time service again.
type EventPlanner struct {
	Index  *sdsindex.Index
	Travel travel.Service
	Log    *zap.Logger

	// BeforeP/AfterP bound the fetch window around the P arrival; their
	// absolute values are used.
	BeforeP time.Duration
	AfterP  time.Duration
}

// Plan emits one request per channel of every station that was operational
// at the event origin, windowed [P - BeforeP, P + AfterP]. Stations whose
// geometry yields no first arrival are skipped. Newly computed arrivals are
// persisted before returning.
func (p *EventPlanner) Plan(ctx context.Context, ev fdsn.Event, inv fdsn.Inventory) ([]FetchRequest, error) {
	operational := inv.Select(func(_ fdsn.Network, sta fdsn.Station) bool {
		return sta.OperatingAt(ev.Time)
	}).MapChannels(highestRateChannels)

	var (
		out     []FetchRequest
		created []sdsindex.ArrivalRecord
	)
	for _, net := range operational.Networks {
		for _, sta := range net.Stations {
			times, found, err := p.Index.FetchArrivals(ctx, ev.ID, net.Code, sta.Code)
			if err != nil {
				return nil, err
			}
			if !found {
				rec, ok, err := p.computeArrival(ctx, ev, net.Code, sta)
				if err != nil {
					return nil, err
				}
				if !ok {
					continue
				}
				created = append(created, rec)
				times = sdsindex.ArrivalTimes{P: rec.PArrival, S: rec.SArrival, HasS: rec.HasS}
			}

			start := epochToTime(times.P).Add(-absDuration(p.BeforeP))
			end := epochToTime(times.P).Add(absDuration(p.AfterP))
			for _, ch := range sta.Channels {
				out = append(out, FetchRequest{
					Network:  net.Code,
					Station:  sta.Code,
					Location: ch.Location,
					Channel:  ch.Code,
					Start:    start,
					End:      end,
				})
			}
		}
	}

	if err := p.Index.BulkInsertArrivals(ctx, created); err != nil {
		return nil, err
	}
	sortRequests(out)
	return out, nil
}

// computeArrival derives the (event, station) geometry and asks the
// travel-time service for first arrivals. A travel.ErrUnavailable result
// skips the station without failing the plan.
func (p *EventPlanner) computeArrival(ctx context.Context, ev fdsn.Event, netCode string, sta fdsn.Station) (sdsindex.ArrivalRecord, bool, error) {
	distDeg := geodesy.DistanceDeg(ev.Latitude, ev.Longitude, sta.Latitude, sta.Longitude)
	arr, err := p.Travel.FirstArrivals(ctx, ev.DepthKm, distDeg)
	if err != nil {
		if travel.ErrUnavailable.Has(err) {
			p.Log.Warn("no first arrival, skipping station",
				zap.String("event", ev.ID),
				zap.String("station", netCode+"."+sta.Code),
				zap.Float64("dist_deg", distDeg))
			return sdsindex.ArrivalRecord{}, false, nil
		}
		return sdsindex.ArrivalRecord{}, false, err
	}

	origin := timeToEpoch(ev.Time)
	rec := sdsindex.ArrivalRecord{
		EventID:      ev.ID,
		Magnitude:    ev.Magnitude,
		EventLat:     ev.Latitude,
		EventLon:     ev.Longitude,
		EventDepthKm: ev.DepthKm,
		EventOrigin:  origin,

		NetCode:  netCode,
		StaCode:  sta.Code,
		StaLat:   sta.Latitude,
		StaLon:   sta.Longitude,
		StaElevM: sta.Elevation,
		StaStart: timeToEpoch(sta.Start),
		StaEnd:   timeToEpoch(sta.End),

		DistDeg: distDeg,
		DistKm:  geodesy.DistanceKm(ev.Latitude, ev.Longitude, sta.Latitude, sta.Longitude),
		Azimuth: geodesy.Azimuth(ev.Latitude, ev.Longitude, sta.Latitude, sta.Longitude),

		PArrival: origin + arr.P,
		Model:    p.Travel.Name(),
	}
	if arr.HasS {
		rec.SArrival = origin + arr.S
		rec.HasS = true
	}
	return rec, true, nil
}

// highestRateChannels keeps only the channels tied for the station's
// highest sample rate.
func highestRateChannels(_ fdsn.Network, sta fdsn.Station) []fdsn.Channel {
	var best float64
	for _, ch := range sta.Channels {
		if ch.SampleRate > best {
			best = ch.SampleRate
		}
	}
	if best == 0 {
		return nil
	}
	var out []fdsn.Channel
	for _, ch := range sta.Channels {
		if ch.SampleRate == best {
			out = append(out, ch)
		}
	}
	return out
}

func absDuration(d time.Duration) time.Duration {
	if d < 0 {
		return -d
	}
	return d
}

func epochToTime(epoch float64) time.Time {
	sec, frac := math.Modf(epoch)
	return time.Unix(int64(sec), int64(frac*1e9)).UTC()
}

func timeToEpoch(t time.Time) float64 {
	if t.IsZero() {
		return 0
	}
	return float64(t.UnixNano()) / 1e9
}
