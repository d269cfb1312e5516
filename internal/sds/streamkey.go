// Package sds holds the stream identity and on-disk layout conventions of a
// SeisComP Data Structure archive: the (network, station, location, channel)
// stream key, day-file path construction, and the ISO-8601 UTC time format
// shared with the archive index.
package sds

import (
	"fmt"
	"strings"
	"time"
)

// TimeLayout is the ISO-8601 UTC layout stored in the index. Fixed width so
// that lexicographic comparison of two formatted values matches their time
// order.
const TimeLayout = "2006-01-02T15:04:05.000000Z"

// StreamKey identifies one continuous recording. Location may be empty.
type StreamKey struct {
	Network  string
	Station  string
	Location string
	Channel  string
}

func (k StreamKey) String() string {
	return fmt.Sprintf("%s.%s.%s.%s", k.Network, k.Station, k.Location, k.Channel)
}

// ParseStreamKey parses a dotted "NET.STA.LOC.CHA" identifier. The location
// field may be empty ("AU.CMSA..BHZ").
func ParseStreamKey(s string) (StreamKey, error) {
	parts := strings.Split(s, ".")
	if len(parts) != 4 {
		return StreamKey{}, fmt.Errorf("stream key %q: want NET.STA.LOC.CHA", s)
	}
	return StreamKey{
		Network:  parts[0],
		Station:  parts[1],
		Location: parts[2],
		Channel:  parts[3],
	}, nil
}

// FormatTime renders t in the index time layout (UTC).
func FormatTime(t time.Time) string {
	return t.UTC().Format(TimeLayout)
}

// ParseTime parses a value previously produced by FormatTime. It also
// accepts plain RFC 3339 so hand-written fixtures and operator input work.
func ParseTime(s string) (time.Time, error) {
	if t, err := time.Parse(TimeLayout, s); err == nil {
		return t, nil
	}
	return time.Parse(time.RFC3339, s)
}
