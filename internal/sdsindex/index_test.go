package sdsindex

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/seismica/seedvault/internal/sds"
	"github.com/seismica/seedvault/internal/timeutil"
)

func openTestIndex(t *testing.T) *Index {
	t.Helper()
	ix, err := Open(filepath.Join(t.TempDir(), "index.sqlite"), zap.NewNop())
	if err != nil {
		t.Fatalf("Failed to open index: %v", err)
	}
	t.Cleanup(func() { ix.Close() })
	return ix
}

var testKey = sds.StreamKey{Network: "AU", Station: "CMSA", Location: "", Channel: "BHZ"}

func at(t *testing.T, value string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, value)
	if err != nil {
		t.Fatalf("bad fixture time %q: %v", value, err)
	}
	return ts
}

func TestBulkInsertArchiveIdempotent(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	iv := ArchiveInterval{
		Key:   testKey,
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-02T00:00:00Z"),
	}
	for i := 0; i < 3; i++ {
		if err := ix.BulkInsertArchive(ctx, []ArchiveInterval{iv}); err != nil {
			t.Fatalf("insert %d failed: %v", i, err)
		}
	}

	n, err := ix.CountIntervals(ctx, &testKey)
	if err != nil {
		t.Fatalf("count failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one row after repeated insert, got %d", n)
	}
}

func TestOverlappingIntervalsOrderedAndBounded(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	ivs := []ArchiveInterval{
		{Key: testKey, Start: at(t, "2023-06-03T00:00:00Z"), End: at(t, "2023-06-04T00:00:00Z")},
		{Key: testKey, Start: at(t, "2023-06-01T00:00:00Z"), End: at(t, "2023-06-02T00:00:00Z")},
		{Key: testKey, Start: at(t, "2023-06-10T00:00:00Z"), End: at(t, "2023-06-11T00:00:00Z")},
	}
	if err := ix.BulkInsertArchive(ctx, ivs); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := ix.OverlappingIntervals(ctx, testKey,
		at(t, "2023-06-01T12:00:00Z"), at(t, "2023-06-03T12:00:00Z"))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 2 {
		t.Fatalf("expected 2 overlapping intervals, got %d", len(got))
	}
	if !got[0].Start.Before(got[1].Start) {
		t.Error("intervals not ordered by start time")
	}
	if !got[0].Start.Equal(at(t, "2023-06-01T00:00:00Z")) {
		t.Errorf("first interval start: got %v", got[0].Start)
	}
}

func TestOverlappingIntervalsDistinguishesStreams(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	other := testKey
	other.Channel = "BHN"
	ivs := []ArchiveInterval{
		{Key: testKey, Start: at(t, "2023-06-01T00:00:00Z"), End: at(t, "2023-06-02T00:00:00Z")},
		{Key: other, Start: at(t, "2023-06-01T00:00:00Z"), End: at(t, "2023-06-02T00:00:00Z")},
	}
	if err := ix.BulkInsertArchive(ctx, ivs); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	got, err := ix.OverlappingIntervals(ctx, testKey,
		at(t, "2023-06-01T00:00:00Z"), at(t, "2023-06-02T00:00:00Z"))
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if len(got) != 1 {
		t.Fatalf("expected intervals for one stream only, got %d", len(got))
	}
}

func TestDeleteByImportTime(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	fixed := time.Date(2024, 1, 15, 12, 0, 0, 0, time.UTC)
	ix.clock = timeutil.NewMockClock(fixed)

	iv := ArchiveInterval{
		Key:   testKey,
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-02T00:00:00Z"),
	}
	if err := ix.BulkInsertArchive(ctx, []ArchiveInterval{iv}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	// A range that misses the import time removes nothing.
	n, err := ix.Delete(ctx, "archive_data", 0, fixed.Unix()-1)
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n != 0 {
		t.Fatalf("expected no deletions, got %d", n)
	}

	n, err = ix.Delete(ctx, "archive_data", fixed.Unix(), fixed.Unix())
	if err != nil {
		t.Fatalf("delete failed: %v", err)
	}
	if n != 1 {
		t.Fatalf("expected one deletion, got %d", n)
	}
}

func TestDeleteRejectsUnknownTable(t *testing.T) {
	ix := openTestIndex(t)
	if _, err := ix.Delete(context.Background(), "sqlite_master", 0, 1); err == nil {
		t.Fatal("expected error for unknown table")
	}
}

func testArrival(eventID string, p float64) ArrivalRecord {
	return ArrivalRecord{
		EventID:      eventID,
		Magnitude:    5.5,
		EventLat:     0,
		EventLon:     0,
		EventDepthKm: 10,
		EventOrigin:  1685577600,
		NetCode:      "AU",
		StaCode:      "CMSA",
		StaLat:       0,
		StaLon:       30,
		StaStart:     1356998400,
		DistDeg:      30,
		DistKm:       3335.85,
		Azimuth:      90,
		PArrival:     p,
		SArrival:     p + 300,
		HasS:         true,
		Model:        "iasp91",
	}
}

func TestFetchArrivalsReturnsLastInserted(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if err := ix.BulkInsertArrivals(ctx, []ArrivalRecord{testArrival("E1", 1685577960)}); err != nil {
		t.Fatalf("first insert failed: %v", err)
	}
	// Same PK, later import: the re-insert must win.
	ix.clock = timeutil.NewMockClock(time.Now().Add(time.Hour))
	if err := ix.BulkInsertArrivals(ctx, []ArrivalRecord{testArrival("E1", 1685578000)}); err != nil {
		t.Fatalf("second insert failed: %v", err)
	}

	times, found, err := ix.FetchArrivals(ctx, "E1", "AU", "CMSA")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if !found {
		t.Fatal("expected a stored arrival")
	}
	if times.P != 1685578000 {
		t.Errorf("P arrival: got %v want 1685578000", times.P)
	}
	if !times.HasS || times.S != 1685578300 {
		t.Errorf("S arrival: got %v (valid=%v)", times.S, times.HasS)
	}
}

func TestFetchArrivalsMissing(t *testing.T) {
	ix := openTestIndex(t)
	_, found, err := ix.FetchArrivals(context.Background(), "NOPE", "AU", "CMSA")
	if err != nil {
		t.Fatalf("fetch failed: %v", err)
	}
	if found {
		t.Fatal("expected no arrival for unknown event")
	}
}

func TestFetchArrivalsExtGeometry(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	if err := ix.BulkInsertArrivals(ctx, []ArrivalRecord{testArrival("E2", 1685577960)}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}
	geo, found, err := ix.FetchArrivalsExt(ctx, "E2", "AU", "CMSA")
	if err != nil || !found {
		t.Fatalf("fetch failed: found=%v err=%v", found, err)
	}
	if geo.DistDeg != 30 || geo.Azimuth != 90 {
		t.Errorf("geometry: got dist=%v az=%v", geo.DistDeg, geo.Azimuth)
	}
}

func TestExecuteQueryTabular(t *testing.T) {
	ix := openTestIndex(t)
	ctx := context.Background()

	iv := ArchiveInterval{
		Key:   testKey,
		Start: at(t, "2023-06-01T00:00:00Z"),
		End:   at(t, "2023-06-02T00:00:00Z"),
	}
	if err := ix.BulkInsertArchive(ctx, []ArchiveInterval{iv}); err != nil {
		t.Fatalf("insert failed: %v", err)
	}

	res, err := ix.ExecuteQuery(ctx, "SELECT network, station FROM archive_data")
	if err != nil {
		t.Fatalf("query failed: %v", err)
	}
	if !res.Tabular {
		t.Fatal("expected tabular result")
	}
	if len(res.Rows) != 1 || res.Rows[0][0] != "AU" {
		t.Fatalf("unexpected rows: %v", res.Rows)
	}
}

func TestExecuteQueryStatement(t *testing.T) {
	ix := openTestIndex(t)
	res, err := ix.ExecuteQuery(context.Background(),
		"DELETE FROM archive_data WHERE network = 'XX'")
	if err != nil {
		t.Fatalf("statement failed: %v", err)
	}
	if res.Tabular {
		t.Fatal("expected non-tabular result for DELETE")
	}
	if res.Message == "" {
		t.Fatal("expected an affected-rows message")
	}
}
