package mseed

import (
	"encoding/binary"
	"fmt"
	"math"
	"strings"
	"time"
)

const (
	recordLen    = 512
	headerLen    = 48
	blocketteOff = 48
	dataOffset   = 64

	encodingSteim2 = 11
	wordOrderBig   = 1
	recordLenPow   = 9 // 2^9 = 512
)

// btime is the SEED binary time: year, day-of-year, and time of day with
// 0.1 ms resolution.
func putBtime(b []byte, t time.Time) {
	u := t.UTC()
	binary.BigEndian.PutUint16(b[0:2], uint16(u.Year()))
	binary.BigEndian.PutUint16(b[2:4], uint16(u.YearDay()))
	b[4] = byte(u.Hour())
	b[5] = byte(u.Minute())
	b[6] = byte(u.Second())
	b[7] = 0
	binary.BigEndian.PutUint16(b[8:10], uint16(u.Nanosecond()/100000))
}

func parseBtime(b []byte) time.Time {
	year := int(binary.BigEndian.Uint16(b[0:2]))
	doy := int(binary.BigEndian.Uint16(b[2:4]))
	fract := int(binary.BigEndian.Uint16(b[8:10]))
	day := time.Date(year, 1, 1, int(b[4]), int(b[5]), int(b[6]), fract*100000, time.UTC)
	return day.AddDate(0, 0, doy-1)
}

// sampleRateFactors converts a rate in Hz to the SEED factor/multiplier
// pair. Rates below 1 Hz are stored as negative period factors.
func sampleRateFactors(rate float64) (factor, mult int16) {
	if rate >= 1 {
		return int16(math.Round(rate)), 1
	}
	if rate > 0 {
		return int16(-math.Round(1 / rate)), 1
	}
	return 0, 0
}

func sampleRateFrom(factor, mult int16) float64 {
	f, m := float64(factor), float64(mult)
	switch {
	case factor > 0 && mult > 0:
		return f * m
	case factor > 0 && mult < 0:
		return -f / m
	case factor < 0 && mult > 0:
		return -m / f
	case factor < 0 && mult < 0:
		return 1 / (f * m)
	}
	return 0
}

func padded(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s + strings.Repeat(" ", n-len(s))
}

// recordHeader is the decoded fixed data header of one record.
type recordHeader struct {
	key        headerKey
	start      time.Time
	numSamples int
	sampleRate float64
	dataOff    int
}

type headerKey struct {
	network, station, location, channel string
}

func parseHeader(rec []byte) (recordHeader, error) {
	var h recordHeader
	if len(rec) < headerLen {
		return h, fmt.Errorf("mseed: short record header (%d bytes)", len(rec))
	}
	q := rec[6]
	if q != 'D' && q != 'R' && q != 'Q' && q != 'M' {
		return h, fmt.Errorf("mseed: bad data quality indicator %q", q)
	}
	h.key = headerKey{
		station:  strings.TrimSpace(string(rec[8:13])),
		location: strings.TrimSpace(string(rec[13:15])),
		channel:  strings.TrimSpace(string(rec[15:18])),
		network:  strings.TrimSpace(string(rec[18:20])),
	}
	h.start = parseBtime(rec[20:30])
	h.numSamples = int(binary.BigEndian.Uint16(rec[30:32]))
	factor := int16(binary.BigEndian.Uint16(rec[32:34]))
	mult := int16(binary.BigEndian.Uint16(rec[34:36]))
	h.sampleRate = sampleRateFrom(factor, mult)
	h.dataOff = int(binary.BigEndian.Uint16(rec[44:46]))
	if h.dataOff < headerLen || h.dataOff > len(rec) {
		return h, fmt.Errorf("mseed: bad data offset %d", h.dataOff)
	}
	return h, nil
}

func (h recordHeader) end() time.Time {
	if h.sampleRate <= 0 {
		return h.start
	}
	period := time.Duration(float64(time.Second) / h.sampleRate)
	return h.start.Add(time.Duration(h.numSamples) * period)
}

// Decode parses a buffer of 512-byte records and returns the contained
// samples joined into gap-free traces.
func Decode(data []byte) ([]Trace, error) {
	if len(data) == 0 {
		return nil, nil
	}
	if len(data)%recordLen != 0 {
		return nil, fmt.Errorf("mseed: %d bytes is not a whole number of %d-byte records", len(data), recordLen)
	}

	var traces []Trace
	for off := 0; off < len(data); off += recordLen {
		rec := data[off : off+recordLen]
		h, err := parseHeader(rec)
		if err != nil {
			return nil, err
		}
		if h.numSamples == 0 {
			continue
		}
		samples, err := decodeSteim2(rec[h.dataOff:], h.numSamples)
		if err != nil {
			return nil, fmt.Errorf("mseed: record at offset %d: %w", off, err)
		}
		traces = append(traces, Trace{
			Network:    h.key.network,
			Station:    h.key.station,
			Location:   h.key.location,
			Channel:    h.key.channel,
			Start:      h.start,
			SampleRate: h.sampleRate,
			Samples:    samples,
		})
	}
	return Merge(traces), nil
}

// Encode writes traces as a sequence of 512-byte STEIM2 records. Traces are
// written in input order; each trace starts a fresh record.
func Encode(traces []Trace) ([]byte, error) {
	var out []byte
	seq := 1
	for i := range traces {
		tr := &traces[i]
		if len(tr.Samples) == 0 {
			continue
		}
		if tr.SampleRate <= 0 {
			return nil, fmt.Errorf("mseed: trace %s has no sample rate", tr.Key())
		}
		remaining := tr.Samples
		start := tr.Start
		// The first difference of a record is ignored by decoders (X0 seeds
		// the series), so the first record uses its own first sample as
		// history to keep the difference in range.
		prev := tr.Samples[0]
		for len(remaining) > 0 {
			frames, n, err := encodeSteim2(remaining, prev)
			if err != nil {
				return nil, fmt.Errorf("mseed: trace %s: %w", tr.Key(), err)
			}
			rec := make([]byte, recordLen)
			writeHeader(rec, tr, start, n, seq)
			copy(rec[dataOffset:], frames)
			out = append(out, rec...)

			prev = remaining[n-1]
			remaining = remaining[n:]
			start = start.Add(time.Duration(n) * tr.Period())
			seq = seq%999999 + 1
		}
	}
	return out, nil
}

func writeHeader(rec []byte, tr *Trace, start time.Time, numSamples, seq int) {
	copy(rec[0:6], fmt.Sprintf("%06d", seq))
	rec[6] = 'D'
	rec[7] = ' '
	copy(rec[8:13], padded(tr.Station, 5))
	copy(rec[13:15], padded(tr.Location, 2))
	copy(rec[15:18], padded(tr.Channel, 3))
	copy(rec[18:20], padded(tr.Network, 2))
	putBtime(rec[20:30], start)
	binary.BigEndian.PutUint16(rec[30:32], uint16(numSamples))
	factor, mult := sampleRateFactors(tr.SampleRate)
	binary.BigEndian.PutUint16(rec[32:34], uint16(factor))
	binary.BigEndian.PutUint16(rec[34:36], uint16(mult))
	rec[39] = 1 // one blockette follows
	binary.BigEndian.PutUint16(rec[44:46], dataOffset)
	binary.BigEndian.PutUint16(rec[46:48], blocketteOff)

	// Blockette 1000: encoding, word order, record length.
	b := rec[blocketteOff:]
	binary.BigEndian.PutUint16(b[0:2], 1000)
	binary.BigEndian.PutUint16(b[2:4], 0)
	b[4] = encodingSteim2
	b[5] = wordOrderBig
	b[6] = recordLenPow
}

// ScanInfo is the result of a header-only pass over one file.
type ScanInfo struct {
	Network  string
	Station  string
	Location string
	Channel  string
	Start    time.Time
	End      time.Time
}

// Scan reads only the fixed headers of a record buffer and reports the
// stream identity and the min/max time range. Sample data is not decoded,
// which makes this suitable for bulk archive walks.
func Scan(data []byte) (ScanInfo, error) {
	var info ScanInfo
	if len(data) < recordLen {
		return info, fmt.Errorf("mseed: file shorter than one record")
	}
	first := true
	for off := 0; off+recordLen <= len(data); off += recordLen {
		h, err := parseHeader(data[off : off+recordLen])
		if err != nil {
			return info, err
		}
		if h.numSamples == 0 {
			continue
		}
		if first {
			info.Network = h.key.network
			info.Station = h.key.station
			info.Location = h.key.location
			info.Channel = h.key.channel
			info.Start = h.start
			info.End = h.end()
			first = false
			continue
		}
		if h.start.Before(info.Start) {
			info.Start = h.start
		}
		if h.end().After(info.End) {
			info.End = h.end()
		}
	}
	if first {
		return info, fmt.Errorf("mseed: no data records")
	}
	return info, nil
}
