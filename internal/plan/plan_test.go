package plan

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/seismica/seedvault/internal/fdsn"
	"github.com/seismica/seedvault/internal/sdsindex"
	"github.com/seismica/seedvault/internal/travel"
)

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("Failed to parse time %q: %v", value, err)
	}
	return ts.UTC()
}

func openTestIndex(t *testing.T) *sdsindex.Index {
	t.Helper()
	ix, err := sdsindex.Open(filepath.Join(t.TempDir(), "index.sqlite"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

func singleStationInventory(t *testing.T) fdsn.Inventory {
	t.Helper()
	return fdsn.Inventory{Networks: []fdsn.Network{{
		Code: "AU",
		Stations: []fdsn.Station{{
			Code:     "CMSA",
			Latitude: -31.54, Longitude: 145.19,
			Start: at(t, "2023-01-01T00:00:00Z"),
			End:   at(t, "2024-01-01T00:00:00Z"),
			Channels: []fdsn.Channel{{
				Code: "BHZ", SampleRate: 40,
				Start: at(t, "2023-01-01T00:00:00Z"),
				End:   at(t, "2024-01-01T00:00:00Z"),
			}},
		}},
	}}}
}

func TestContinuousSingleDay(t *testing.T) {
	reqs := Continuous(singleStationInventory(t),
		at(t, "2023-06-01T00:00:00Z"), at(t, "2023-06-02T00:00:00Z"), 1)

	require.Len(t, reqs, 1)
	req := reqs[0]
	assert.Equal(t, "AU", req.Network)
	assert.Equal(t, "CMSA", req.Station)
	assert.Equal(t, "", req.Location)
	assert.Equal(t, "BHZ", req.Channel)
	assert.Equal(t, at(t, "2023-06-01T00:00:00Z"), req.Start)
	// One sample period short of the window end, so the next window's first
	// sample is never requested twice.
	assert.Equal(t, at(t, "2023-06-02T00:00:00Z").Add(-25*time.Millisecond), req.End)
}

func TestContinuousChunksByDaysPerRequest(t *testing.T) {
	reqs := Continuous(singleStationInventory(t),
		at(t, "2023-06-01T00:00:00Z"), at(t, "2023-06-08T00:00:00Z"), 2)

	require.Len(t, reqs, 4)
	assert.Equal(t, at(t, "2023-06-01T00:00:00Z"), reqs[0].Start)
	assert.Equal(t, at(t, "2023-06-03T00:00:00Z"), reqs[0].End)
	assert.Equal(t, at(t, "2023-06-07T00:00:00Z"), reqs[3].Start)
	// Final chunk is the remainder.
	assert.True(t, reqs[3].End.Before(at(t, "2023-06-08T00:00:00Z")))
}

func TestContinuousClipsToChannelWindow(t *testing.T) {
	inv := singleStationInventory(t)
	inv.Networks[0].Stations[0].Channels[0].End = at(t, "2023-06-03T00:00:00Z")

	reqs := Continuous(inv, at(t, "2023-06-01T00:00:00Z"), at(t, "2023-07-01T00:00:00Z"), 30)
	require.Len(t, reqs, 1)
	// One day of slack past the channel close keeps its last partial day.
	assert.Equal(t, at(t, "2023-06-04T00:00:00Z"), reqs[0].End)

	// A window entirely before the channel opened plans nothing.
	reqs = Continuous(inv, at(t, "2022-01-01T00:00:00Z"), at(t, "2022-02-01T00:00:00Z"), 30)
	assert.Empty(t, reqs)
}

func TestContinuousEmptyInventory(t *testing.T) {
	reqs := Continuous(fdsn.Inventory{}, at(t, "2023-06-01T00:00:00Z"), at(t, "2023-06-02T00:00:00Z"), 1)
	assert.Empty(t, reqs)
}

func TestPrunePassthroughWithoutOverlap(t *testing.T) {
	ix := openTestIndex(t)
	reqs := Continuous(singleStationInventory(t),
		at(t, "2023-06-01T00:00:00Z"), at(t, "2023-06-02T00:00:00Z"), 1)

	pruned, err := Prune(context.Background(), ix, reqs)
	require.NoError(t, err)
	assert.Equal(t, reqs, pruned)
}

func TestPruneSubtractsStoredCoverage(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	req := FetchRequest{
		Network: "AU", Station: "CMSA", Channel: "BHZ",
		Start: at(t, "2023-06-01T12:00:00Z"),
		End:   at(t, "2023-06-03T00:00:00Z"),
	}
	require.NoError(t, ix.BulkInsertArchive(ctx, []sdsindex.ArchiveInterval{{
		Key:   req.Key(),
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-02T00:00:00Z"),
	}}))

	pruned, err := Prune(ctx, ix, []FetchRequest{req})
	require.NoError(t, err)
	require.Len(t, pruned, 1)
	assert.Equal(t, at(t, "2023-06-02T00:00:00Z"), pruned[0].Start)
	assert.Equal(t, at(t, "2023-06-03T00:00:00Z"), pruned[0].End)
}

func TestPruneEmitsInteriorGaps(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	req := FetchRequest{
		Network: "AU", Station: "CMSA", Channel: "BHZ",
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-04T00:00:00Z"),
	}
	require.NoError(t, ix.BulkInsertArchive(ctx, []sdsindex.ArchiveInterval{
		{Key: req.Key(), Start: at(t, "2023-06-01T06:00:00Z"), End: at(t, "2023-06-01T12:00:00Z")},
		{Key: req.Key(), Start: at(t, "2023-06-02T00:00:00Z"), End: at(t, "2023-06-03T00:00:00Z")},
	}))

	pruned, err := Prune(ctx, ix, []FetchRequest{req})
	require.NoError(t, err)
	require.Len(t, pruned, 3)
	assert.Equal(t, at(t, "2023-06-01T00:00:00Z"), pruned[0].Start)
	assert.Equal(t, at(t, "2023-06-01T06:00:00Z"), pruned[0].End)
	assert.Equal(t, at(t, "2023-06-01T12:00:00Z"), pruned[1].Start)
	assert.Equal(t, at(t, "2023-06-02T00:00:00Z"), pruned[1].End)
	assert.Equal(t, at(t, "2023-06-03T00:00:00Z"), pruned[2].Start)
	assert.Equal(t, at(t, "2023-06-04T00:00:00Z"), pruned[2].End)
}

func TestPruneDropsSubMinimumWindows(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	req := FetchRequest{
		Network: "AU", Station: "CMSA", Channel: "BHZ",
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-01T00:00:01Z"),
	}
	pruned, err := Prune(ctx, ix, []FetchRequest{req})
	require.NoError(t, err)
	assert.Empty(t, pruned, "sub-second request should be dropped")

	// A stored interval ending one second short of the request end leaves a
	// gap below the minimum window; nothing is emitted for it.
	req.End = at(t, "2023-06-02T00:00:00Z")
	require.NoError(t, ix.BulkInsertArchive(ctx, []sdsindex.ArchiveInterval{{
		Key:   req.Key(),
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-01T23:59:59Z"),
	}}))
	pruned, err = Prune(ctx, ix, []FetchRequest{req})
	require.NoError(t, err)
	assert.Empty(t, pruned)
}

func TestPruneLosesNoCoverage(t *testing.T) {
	// Union of pruned requests and stored intervals must equal the union of
	// the original request and stored intervals.
	ix := openTestIndex(t)
	ctx := context.Background()

	req := FetchRequest{
		Network: "AU", Station: "CMSA", Channel: "BHZ",
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-02T00:00:00Z"),
	}
	stored := []sdsindex.ArchiveInterval{
		{Key: req.Key(), Start: at(t, "2023-06-01T03:00:00Z"), End: at(t, "2023-06-01T09:00:00Z")},
		{Key: req.Key(), Start: at(t, "2023-06-01T15:00:00Z"), End: at(t, "2023-06-01T18:00:00Z")},
	}
	require.NoError(t, ix.BulkInsertArchive(ctx, stored))

	pruned, err := Prune(ctx, ix, []FetchRequest{req})
	require.NoError(t, err)

	covered := func(ts time.Time) bool {
		for _, p := range pruned {
			if !ts.Before(p.Start) && ts.Before(p.End) {
				return true
			}
		}
		for _, s := range stored {
			if !ts.Before(s.Start) && ts.Before(s.End) {
				return true
			}
		}
		return false
	}
	for ts := req.Start; ts.Before(req.End); ts = ts.Add(10 * time.Minute) {
		assert.True(t, covered(ts), "lost coverage at %s", ts)
	}
}

func TestCombineGroupsByNetworkAndWindow(t *testing.T) {
	start := at(t, "2023-06-01T00:00:00Z")
	end := at(t, "2023-06-02T00:00:00Z")
	reqs := []FetchRequest{
		{Network: "AU", Station: "A", Location: "", Channel: "BHZ", Start: start, End: end},
		{Network: "AU", Station: "B", Location: "00", Channel: "BHN", Start: start, End: end},
		{Network: "AU", Station: "C", Location: "", Channel: "BHZ", Start: start, End: end},
	}

	combined := Combine(reqs)
	require.Len(t, combined, 1)
	got := combined[0]
	assert.Equal(t, "A,B,C", got.Station)
	assert.Equal(t, ",00", got.Location)
	assert.Equal(t, "BHN,BHZ", got.Channel)
	assert.Equal(t, start, got.Start)
	assert.Equal(t, end, got.End)
}

func TestCombineNeverWidensTimeRanges(t *testing.T) {
	start := at(t, "2023-06-01T00:00:00Z")
	reqs := []FetchRequest{
		{Network: "AU", Station: "A", Channel: "BHZ", Start: start, End: start.Add(time.Hour)},
		{Network: "AU", Station: "A", Channel: "BHZ", Start: start, End: start.Add(2 * time.Hour)},
	}
	combined := Combine(reqs)
	assert.Len(t, combined, 2, "differing end times must not merge")
}

func TestCombineIdempotent(t *testing.T) {
	start := at(t, "2023-06-01T00:00:00Z")
	end := at(t, "2023-06-02T00:00:00Z")
	reqs := []FetchRequest{
		{Network: "AU", Station: "A", Channel: "BHZ", Start: start, End: end},
		{Network: "AU", Station: "B", Channel: "BHN", Start: start, End: end},
	}
	once := Combine(reqs)
	twice := Combine(once)
	assert.Equal(t, once, twice)
}

// countingTravel wraps a fixed arrival and counts service calls.
type countingTravel struct {
	arrivals travel.Arrivals
	err      error
	calls    int
}

func (s *countingTravel) Name() string { return "iasp91" }

func (s *countingTravel) FirstArrivals(_ context.Context, _, _ float64) (travel.Arrivals, error) {
	s.calls++
	if s.err != nil {
		return travel.Arrivals{}, s.err
	}
	return s.arrivals, nil
}

func testEvent(t *testing.T) fdsn.Event {
	t.Helper()
	return fdsn.Event{
		ID:   "E1",
		Time: at(t, "2023-06-01T00:00:00Z"),
		// Equatorial source 30 degrees from the test station.
		Latitude: 0, Longitude: 0, DepthKm: 10, Magnitude: 6.5,
	}
}

func equatorInventory(t *testing.T) fdsn.Inventory {
	t.Helper()
	return fdsn.Inventory{Networks: []fdsn.Network{{
		Code: "AU",
		Stations: []fdsn.Station{{
			Code:     "CMSA",
			Latitude: 0, Longitude: 30,
			Start: at(t, "2023-01-01T00:00:00Z"),
			Channels: []fdsn.Channel{
				{Code: "BHZ", SampleRate: 40},
				{Code: "BHN", SampleRate: 40},
				{Code: "LHZ", SampleRate: 1},
			},
		}},
	}}}
}

func TestEventPlanWindowsAroundP(t *testing.T) {
	ix := openTestIndex(t)
	svc := &countingTravel{arrivals: travel.Arrivals{P: 372.5, S: 670.1, HasS: true}}
	planner := &EventPlanner{
		Index: ix, Travel: svc, Log: zap.NewNop(),
		BeforeP: 60 * time.Second, AfterP: 600 * time.Second,
	}

	reqs, err := planner.Plan(context.Background(), testEvent(t), equatorInventory(t))
	require.NoError(t, err)

	// Only the two highest-rate channels survive.
	require.Len(t, reqs, 2)
	p := at(t, "2023-06-01T00:00:00Z").Add(time.Duration(372.5 * float64(time.Second)))
	for _, req := range reqs {
		assert.Equal(t, p.Add(-60*time.Second), req.Start)
		assert.Equal(t, p.Add(600*time.Second), req.End)
	}
	assert.Equal(t, 1, svc.calls, "one station, one service call")
}

func TestEventPlanReusesStoredArrivals(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()
	svc := &countingTravel{arrivals: travel.Arrivals{P: 372.5}}
	planner := &EventPlanner{
		Index: ix, Travel: svc, Log: zap.NewNop(),
		BeforeP: 60 * time.Second, AfterP: 600 * time.Second,
	}

	first, err := planner.Plan(ctx, testEvent(t), equatorInventory(t))
	require.NoError(t, err)
	require.NotEmpty(t, first)
	require.Equal(t, 1, svc.calls)

	second, err := planner.Plan(ctx, testEvent(t), equatorInventory(t))
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, svc.calls, "second run must read arrivals from the index")
}

func TestEventPlanSkipsUnavailableGeometry(t *testing.T) {
	ix := openTestIndex(t)
	svc := &countingTravel{err: travel.ErrUnavailable.New("no arrival")}
	planner := &EventPlanner{Index: ix, Travel: svc, Log: zap.NewNop()}

	reqs, err := planner.Plan(context.Background(), testEvent(t), equatorInventory(t))
	require.NoError(t, err)
	assert.Empty(t, reqs)

	// The skip is not memoized; a later run asks the service again.
	_, found, err := ix.FetchArrivals(context.Background(), "E1", "AU", "CMSA")
	require.NoError(t, err)
	assert.False(t, found)
}

func TestEventPlanSkipsStationsNotYetOperating(t *testing.T) {
	ix := openTestIndex(t)
	svc := &countingTravel{arrivals: travel.Arrivals{P: 372.5}}
	planner := &EventPlanner{Index: ix, Travel: svc, Log: zap.NewNop()}

	ev := testEvent(t)
	ev.Time = at(t, "2022-06-01T00:00:00Z") // predates the station start

	reqs, err := planner.Plan(context.Background(), ev, equatorInventory(t))
	require.NoError(t, err)
	assert.Empty(t, reqs)
	assert.Zero(t, svc.calls)
}
