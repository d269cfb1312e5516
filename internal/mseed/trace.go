// Package mseed reads and writes single-day MiniSEED files: 512-byte
// big-endian records carrying STEIM2-compressed integer samples. Only the
// subset of SEED 2.4 needed for archive storage is implemented (fixed data
// header plus blockette 1000); sample values pass through unmodified.
package mseed

import (
	"math"
	"sort"
	"time"

	"github.com/seismica/seedvault/internal/sds"
)

// Trace is one gap-free run of samples for a single stream.
type Trace struct {
	Network    string
	Station    string
	Location   string
	Channel    string
	Start      time.Time
	SampleRate float64
	Samples    []int32
}

// Key returns the stream identity of the trace.
func (t *Trace) Key() sds.StreamKey {
	return sds.StreamKey{
		Network:  t.Network,
		Station:  t.Station,
		Location: t.Location,
		Channel:  t.Channel,
	}
}

// Period returns the sample period.
func (t *Trace) Period() time.Duration {
	if t.SampleRate <= 0 {
		return 0
	}
	return time.Duration(float64(time.Second) / t.SampleRate)
}

// End returns the exclusive end of the trace: the time of the sample that
// would follow the last one.
func (t *Trace) End() time.Time {
	return t.Start.Add(time.Duration(len(t.Samples)) * t.Period())
}

// Slice returns the sub-trace covering [from, to). Sample times are snapped
// to the trace's own grid; an empty intersection yields a zero-sample trace.
func (t *Trace) Slice(from, to time.Time) Trace {
	out := *t
	out.Samples = nil

	period := t.Period()
	if period == 0 || len(t.Samples) == 0 {
		return out
	}

	lo := 0
	if from.After(t.Start) {
		lo = int(math.Ceil(from.Sub(t.Start).Seconds() * t.SampleRate))
	}
	hi := len(t.Samples)
	if to.Before(t.End()) {
		hi = int(math.Ceil(to.Sub(t.Start).Seconds() * t.SampleRate))
	}
	if lo < 0 {
		lo = 0
	}
	if hi > len(t.Samples) {
		hi = len(t.Samples)
	}
	if lo >= hi {
		return out
	}

	out.Start = t.Start.Add(time.Duration(lo) * period)
	out.Samples = append([]int32(nil), t.Samples[lo:hi]...)
	return out
}

// contiguous reports whether b starts within half a sample period of a's
// end, i.e. the two runs form one continuous recording.
func contiguous(a, b *Trace) bool {
	if a.SampleRate != b.SampleRate {
		return false
	}
	slack := a.Period() / 2
	gap := b.Start.Sub(a.End())
	return gap > -slack && gap < slack
}

// Merge joins traces of the same stream into the minimal set of gap-free
// runs. Overlapping samples are resolved by keeping the earlier trace's
// values; no interpolation and no gap fill. Input traces for different
// streams or sample rates are kept apart. The result is sorted by
// (stream, start).
func Merge(traces []Trace) []Trace {
	in := make([]*Trace, 0, len(traces))
	for i := range traces {
		if len(traces[i].Samples) > 0 {
			in = append(in, &traces[i])
		}
	}
	sort.SliceStable(in, func(i, j int) bool {
		ki, kj := in[i].Key().String(), in[j].Key().String()
		if ki != kj {
			return ki < kj
		}
		return in[i].Start.Before(in[j].Start)
	})

	var out []Trace
	for _, tr := range in {
		if len(out) == 0 {
			out = append(out, cloneTrace(tr))
			continue
		}
		last := &out[len(out)-1]
		if last.Key() != tr.Key() || last.SampleRate != tr.SampleRate {
			out = append(out, cloneTrace(tr))
			continue
		}
		if tr.Start.Before(last.End()) {
			// Overlap: keep existing samples, append only the tail that
			// extends past the current end.
			tail := tr.Slice(last.End(), tr.End())
			if len(tail.Samples) > 0 && contiguous(last, &tail) {
				last.Samples = append(last.Samples, tail.Samples...)
			} else if len(tail.Samples) > 0 {
				out = append(out, tail)
			}
			continue
		}
		if contiguous(last, tr) {
			last.Samples = append(last.Samples, tr.Samples...)
			continue
		}
		out = append(out, cloneTrace(tr))
	}
	return out
}

func cloneTrace(t *Trace) Trace {
	c := *t
	c.Samples = append([]int32(nil), t.Samples...)
	return c
}
