package fdsn

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/seismica/seedvault/internal/mseed"
	"github.com/seismica/seedvault/internal/sds"
)

const (
	defaultTimeout = 120 * time.Second

	// requestsPerSecond keeps the engine polite towards public data
	// centres; bursts cover the per-station fan-out of one combined
	// request.
	requestsPerSecond = 4
	requestBurst      = 8
)

// queryTimeLayout is the time format FDSN web services accept.
const queryTimeLayout = "2006-01-02T15:04:05.000000"

// HTTPClient talks to FDSN dataselect/station/event web services rooted at
// a base URL such as "https://service.iris.edu". It implements
// WaveformClient, StationClient, and EventClient.
type HTTPClient struct {
	base    string
	creds   Credentials
	client  *http.Client
	limiter *rate.Limiter
	log     *zap.Logger
}

// NewHTTPClient builds a client for the service at base. creds may be nil
// for fully open access.
func NewHTTPClient(base string, creds Credentials, log *zap.Logger) *HTTPClient {
	return &HTTPClient{
		base:    strings.TrimRight(base, "/"),
		creds:   creds,
		client:  &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(requestsPerSecond, requestBurst),
		log:     log,
	}
}

func queryTime(t time.Time) string {
	return t.UTC().Format(queryTimeLayout)
}

func (c *HTTPClient) get(ctx context.Context, path string, params url.Values, cred Credential) ([]byte, int, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, 0, ErrFetch.Wrap(err)
	}

	u := c.base + path + "?" + params.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, 0, ErrFetch.Wrap(err)
	}
	if !cred.IsZero() {
		req.SetBasicAuth(cred.User, cred.Password)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, ErrFetch.Wrap(err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, ErrFetch.Wrap(err)
	}
	return body, resp.StatusCode, nil
}

// GetWaveforms fetches MiniSEED for the selection and decodes it into
// traces. Selection fields may be comma-joined sets; each empty location
// member is transmitted as "--" per the dataselect convention.
func (c *HTTPClient) GetWaveforms(ctx context.Context, network, station, location, channel string, start, end time.Time) ([]mseed.Trace, error) {
	params := url.Values{}
	params.Set("net", network)
	params.Set("sta", station)
	params.Set("loc", wireLocation(location))
	params.Set("cha", channel)
	params.Set("start", queryTime(start))
	params.Set("end", queryTime(end))

	// A combined request may span stations with different credentials; the
	// first station in the set decides, which matches how requests are
	// combined (per network).
	firstStation, _, _ := strings.Cut(station, ",")
	cred := c.creds.Resolve(network, firstStation)

	path := "/fdsnws/dataselect/1/query"
	if !cred.IsZero() {
		path = "/fdsnws/dataselect/1/queryauth"
	}

	body, status, err := c.get(ctx, path, params, cred)
	if err != nil {
		return nil, err
	}
	switch {
	case status == http.StatusNoContent:
		return nil, ErrFetch.New("no data for %s.%s.%s.%s [%s, %s)",
			network, station, location, channel, queryTime(start), queryTime(end))
	case status != http.StatusOK:
		return nil, ErrFetch.New("dataselect returned %d: %s", status, firstLine(body))
	}

	traces, err := mseed.Decode(body)
	if err != nil {
		return nil, ErrFetch.New("undecodable dataselect response: %v", err)
	}
	return traces, nil
}

// GetStations queries the station service at channel level using the text
// format and assembles the inventory hierarchy.
func (c *HTTPClient) GetStations(ctx context.Context, q StationQuery) (Inventory, error) {
	params := url.Values{}
	params.Set("format", "text")
	level := q.Level
	if level == "" {
		level = "channel"
	}
	params.Set("level", level)

	setNonEmpty(params, "net", q.Network)
	setNonEmpty(params, "sta", q.Station)
	setNonEmpty(params, "loc", q.Location)
	setNonEmpty(params, "cha", q.Channel)
	setTime(params, "starttime", q.Start)
	setTime(params, "endtime", q.End)
	setTime(params, "startbefore", q.StartBefore)
	setTime(params, "startafter", q.StartAfter)
	setTime(params, "endbefore", q.EndBefore)
	setTime(params, "endafter", q.EndAfter)
	if q.MaxLatitude > q.MinLatitude {
		params.Set("minlatitude", formatFloat(q.MinLatitude))
		params.Set("maxlatitude", formatFloat(q.MaxLatitude))
		params.Set("minlongitude", formatFloat(q.MinLongitude))
		params.Set("maxlongitude", formatFloat(q.MaxLongitude))
	}
	if q.MaxRadius > 0 {
		params.Set("latitude", formatFloat(q.Latitude))
		params.Set("longitude", formatFloat(q.Longitude))
		params.Set("minradius", formatFloat(q.MinRadius))
		params.Set("maxradius", formatFloat(q.MaxRadius))
	}
	if q.IncludeRestricted {
		params.Set("includerestricted", "true")
	}

	body, status, err := c.get(ctx, "/fdsnws/station/1/query", params, Credential{})
	if err != nil {
		return Inventory{}, err
	}
	if status == http.StatusNoContent {
		return Inventory{}, nil
	}
	if status != http.StatusOK {
		return Inventory{}, ErrFetch.New("station service returned %d: %s", status, firstLine(body))
	}
	return parseStationText(body)
}

// GetEvents queries the event service using the text format.
func (c *HTTPClient) GetEvents(ctx context.Context, q EventQuery) (Catalog, error) {
	params := url.Values{}
	params.Set("format", "text")
	setTime(params, "starttime", q.Start)
	setTime(params, "endtime", q.End)
	if q.MaxDepthKm > q.MinDepthKm {
		params.Set("mindepth", formatFloat(q.MinDepthKm))
		params.Set("maxdepth", formatFloat(q.MaxDepthKm))
	}
	if q.MaxMagnitude > q.MinMagnitude {
		params.Set("minmagnitude", formatFloat(q.MinMagnitude))
		params.Set("maxmagnitude", formatFloat(q.MaxMagnitude))
	}
	if q.MaxRadius > 0 {
		params.Set("latitude", formatFloat(q.Latitude))
		params.Set("longitude", formatFloat(q.Longitude))
		params.Set("minradius", formatFloat(q.MinRadius))
		params.Set("maxradius", formatFloat(q.MaxRadius))
	}
	if q.MaxLatitude > q.MinLatitude {
		params.Set("minlatitude", formatFloat(q.MinLatitude))
		params.Set("maxlatitude", formatFloat(q.MaxLatitude))
		params.Set("minlongitude", formatFloat(q.MinLongitude))
		params.Set("maxlongitude", formatFloat(q.MaxLongitude))
	}
	if q.IncludeAllOrigins {
		params.Set("includeallorigins", "true")
	}
	if q.IncludeAllMagnitudes {
		params.Set("includeallmagnitudes", "true")
	}
	if q.IncludeArrivals {
		params.Set("includearrivals", "true")
	}
	if q.Limit > 0 {
		params.Set("limit", strconv.Itoa(q.Limit))
	}
	if q.Offset > 0 {
		params.Set("offset", strconv.Itoa(q.Offset))
	}
	setNonEmpty(params, "contributor", q.Contributor)
	setTime(params, "updatedafter", q.UpdatedAfter)

	body, status, err := c.get(ctx, "/fdsnws/event/1/query", params, Credential{})
	if err != nil {
		return Catalog{}, err
	}
	if status == http.StatusNoContent {
		return Catalog{}, nil
	}
	if status != http.StatusOK {
		return Catalog{}, ErrFetch.New("event service returned %d: %s", status, firstLine(body))
	}
	return parseEventText(body)
}

// wireLocation rewrites each empty member of a comma-joined location set to
// "--", so a combined ",00" goes out as "--,00".
func wireLocation(location string) string {
	parts := strings.Split(location, ",")
	for i, p := range parts {
		if p == "" {
			parts[i] = "--"
		}
	}
	return strings.Join(parts, ",")
}

func setNonEmpty(params url.Values, key, value string) {
	if value != "" {
		params.Set(key, value)
	}
}

func setTime(params url.Values, key string, t time.Time) {
	if !t.IsZero() {
		params.Set(key, queryTime(t))
	}
}

func formatFloat(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}

func firstLine(body []byte) string {
	line, _, _ := strings.Cut(string(body), "\n")
	if len(line) > 200 {
		line = line[:200]
	}
	return line
}

// parseStationText parses the pipe-separated channel-level station format:
// Net|Sta|Loc|Cha|Lat|Lon|Elev|Depth|Azimuth|Dip|Sensor|Scale|ScaleFreq|ScaleUnits|SampleRate|Start|End
func parseStationText(body []byte) (Inventory, error) {
	var inv Inventory
	netIdx := map[string]int{}
	staIdx := map[string]int{}

	sc := bufio.NewScanner(strings.NewReader(string(body)))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 17 {
			return Inventory{}, ErrFetch.New("malformed station line: %q", line)
		}

		lat, _ := strconv.ParseFloat(fields[4], 64)
		lon, _ := strconv.ParseFloat(fields[5], 64)
		elev, _ := strconv.ParseFloat(fields[6], 64)
		rate, _ := strconv.ParseFloat(fields[14], 64)
		start, _ := parseServiceTime(fields[15])
		end, _ := parseServiceTime(fields[16])

		ni, ok := netIdx[fields[0]]
		if !ok {
			ni = len(inv.Networks)
			netIdx[fields[0]] = ni
			inv.Networks = append(inv.Networks, Network{Code: fields[0]})
		}
		net := &inv.Networks[ni]

		staKey := fields[0] + "." + fields[1]
		si, ok := staIdx[staKey]
		if !ok {
			si = len(net.Stations)
			staIdx[staKey] = si
			net.Stations = append(net.Stations, Station{
				Code:      fields[1],
				Latitude:  lat,
				Longitude: lon,
				Elevation: elev,
				Start:     start,
				End:       end,
			})
		}
		sta := &net.Stations[si]
		if !start.IsZero() && (sta.Start.IsZero() || start.Before(sta.Start)) {
			sta.Start = start
		}
		if end.IsZero() || (!sta.End.IsZero() && end.After(sta.End)) {
			sta.End = end
		}
		sta.Channels = append(sta.Channels, Channel{
			Code:       fields[3],
			Location:   fields[2],
			SampleRate: rate,
			Start:      start,
			End:        end,
		})
	}
	if err := sc.Err(); err != nil {
		return Inventory{}, ErrFetch.Wrap(err)
	}
	return inv, nil
}

// parseEventText parses the pipe-separated event format:
// EventID|Time|Lat|Lon|Depth/km|Author|Catalog|Contributor|ContributorID|MagType|Magnitude|MagAuthor|Location
func parseEventText(body []byte) (Catalog, error) {
	var cat Catalog
	sc := bufio.NewScanner(strings.NewReader(string(body)))
	sc.Buffer(make([]byte, 1024*1024), 1024*1024)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		fields := strings.Split(line, "|")
		if len(fields) < 11 {
			return Catalog{}, ErrFetch.New("malformed event line: %q", line)
		}
		when, err := parseServiceTime(fields[1])
		if err != nil {
			return Catalog{}, ErrFetch.New("malformed event time: %q", fields[1])
		}
		lat, _ := strconv.ParseFloat(fields[2], 64)
		lon, _ := strconv.ParseFloat(fields[3], 64)
		depth, _ := strconv.ParseFloat(fields[4], 64)
		mag, _ := strconv.ParseFloat(fields[10], 64)
		cat.Events = append(cat.Events, Event{
			ID:        fields[0],
			Time:      when,
			Latitude:  lat,
			Longitude: lon,
			DepthKm:   depth,
			Magnitude: mag,
		})
	}
	if err := sc.Err(); err != nil {
		return Catalog{}, ErrFetch.Wrap(err)
	}
	return cat, nil
}

// parseServiceTime accepts the time shapes FDSN services emit.
func parseServiceTime(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, nil
	}
	for _, layout := range []string{
		"2006-01-02T15:04:05.999999",
		"2006-01-02T15:04:05",
		time.RFC3339,
		sds.TimeLayout,
		"2006-01-02",
	} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}
