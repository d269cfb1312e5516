// Package fetch executes planned requests against a remote waveform
// service and lands the results in the SDS tree: responses are split at
// UTC day boundaries, merged with any pre-existing day file, rewritten,
// and recorded in the archive index.
package fetch

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/zeebo/errs"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seismica/seedvault/internal/fdsn"
	"github.com/seismica/seedvault/internal/fsutil"
	"github.com/seismica/seedvault/internal/mseed"
	"github.com/seismica/seedvault/internal/plan"
	"github.com/seismica/seedvault/internal/sds"
	"github.com/seismica/seedvault/internal/sdsindex"
)

var (
	// ErrParse marks an unreadable existing day file; the group is skipped
	// and the file on disk is left untouched.
	ErrParse = errs.Class("parse")

	// ErrWrite marks a failed day-file write; no index row is created for
	// the file.
	ErrWrite = errs.Class("write")
)

// maxStationField caps the comma-joined station field of one remote
// request. Longer lists are split into one sub-request per station so a
// single failing station does not sink the whole batch.
const maxStationField = 256

// Stats aggregates the outcome of one or more archived requests.
type Stats struct {
	Requests        int
	RequestsSkipped int
	StationsSkipped int
	GroupsSkipped   int
	FilesWritten    int
	RowsInserted    int
}

func (s *Stats) add(o Stats) {
	s.Requests += o.Requests
	s.RequestsSkipped += o.RequestsSkipped
	s.StationsSkipped += o.StationsSkipped
	s.GroupsSkipped += o.GroupsSkipped
	s.FilesWritten += o.FilesWritten
	s.RowsInserted += o.RowsInserted
}

// Archiver lands fetched waveforms in an SDS tree rooted at Root and keeps
// the index in step with the files it writes.
type Archiver struct {
	Client fdsn.WaveformClient
	Index  *sdsindex.Index
	FS     fsutil.FileSystem
	Root   string
	Log    *zap.Logger

	// Workers caps the parallel per-station sub-fetches of one oversized
	// request; 0 means GOMAXPROCS. Day-file and index writes stay serial.
	Workers int
}

// ArchiveAll runs every request in order. Fetch failures are logged and the
// offending request skipped; only index errors abort the run. Requests are
// processed one at a time so no two writers ever touch the same day file.
func (a *Archiver) ArchiveAll(ctx context.Context, reqs []plan.FetchRequest) (Stats, error) {
	var total Stats
	for _, req := range reqs {
		st, err := a.Archive(ctx, req)
		total.add(st)
		if err != nil {
			if fdsn.ErrFetch.Has(err) {
				total.RequestsSkipped++
				a.Log.Warn("fetch failed, skipping request",
					zap.String("network", req.Network),
					zap.String("station", req.Station),
					zap.Time("start", req.Start),
					zap.Error(err))
				continue
			}
			return total, err
		}
	}
	return total, nil
}

// Archive executes one request end to end. A fetch error is returned
// without any index update; per-station and per-group failures inside the
// request degrade to log-and-continue.
func (a *Archiver) Archive(ctx context.Context, req plan.FetchRequest) (Stats, error) {
	stats := Stats{Requests: 1}

	traces, stationsSkipped, err := a.fetch(ctx, req)
	stats.StationsSkipped = stationsSkipped
	if err != nil {
		return stats, err
	}

	for _, group := range groupByDay(traces) {
		iv, err := a.writeDay(group)
		if err != nil {
			stats.GroupsSkipped++
			a.Log.Warn("skipping day group",
				zap.String("stream", group.key.String()),
				zap.Int("year", group.year),
				zap.Int("doy", group.doy),
				zap.Error(err))
			continue
		}
		stats.FilesWritten++

		// Upsert directly after the write: an interrupted run never leaves
		// a written file without its index row.
		if err := a.Index.BulkInsertArchive(ctx, []sdsindex.ArchiveInterval{iv}); err != nil {
			return stats, err
		}
		stats.RowsInserted++
	}
	return stats, nil
}

// fetch retrieves the request's traces, splitting oversized combined
// requests into per-station sub-fetches with partial-success semantics.
func (a *Archiver) fetch(ctx context.Context, req plan.FetchRequest) ([]mseed.Trace, int, error) {
	if len(req.Station) <= maxStationField {
		traces, err := a.Client.GetWaveforms(ctx,
			req.Network, req.Station, req.Location, req.Channel, req.Start, req.End)
		return traces, 0, err
	}

	// The sub-fetches are independent remote calls and run concurrently;
	// merging and writing stay with the caller.
	stations := strings.Split(req.Station, ",")
	results := make([][]mseed.Trace, len(stations))
	failed := make([]bool, len(stations))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(a.workers())
	for i, station := range stations {
		g.Go(func() error {
			traces, err := a.Client.GetWaveforms(gctx,
				req.Network, station, req.Location, req.Channel, req.Start, req.End)
			if err != nil {
				if gctx.Err() != nil {
					return gctx.Err()
				}
				failed[i] = true
				a.Log.Warn("station sub-fetch failed",
					zap.String("network", req.Network),
					zap.String("station", station),
					zap.Error(err))
				return nil
			}
			results[i] = traces
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}

	var (
		out     []mseed.Trace
		skipped int
	)
	for i := range stations {
		if failed[i] {
			skipped++
			continue
		}
		out = append(out, results[i]...)
	}
	return out, skipped, nil
}

func (a *Archiver) workers() int {
	if a.Workers > 0 {
		return a.Workers
	}
	return runtime.GOMAXPROCS(0)
}

// dayGroup collects the traces destined for one SDS day file.
type dayGroup struct {
	key    sds.StreamKey
	year   int
	doy    int
	traces []mseed.Trace
}

// groupByDay slices every trace at UTC midnights and buckets the slices by
// (year, doy, stream). A slice that begins within one sample period of the
// next midnight is attributed to the next day, so a recording that starts
// just shy of midnight does not produce a near-empty file.
func groupByDay(traces []mseed.Trace) []dayGroup {
	type groupKey struct {
		key  sds.StreamKey
		year int
		doy  int
	}
	index := map[groupKey]int{}
	var groups []dayGroup

	for _, tr := range traces {
		for _, slice := range daySlices(tr) {
			attributed := slice.Start
			if sds.NextDayStart(slice.Start).Sub(slice.Start) <= slice.Period() {
				attributed = sds.NextDayStart(slice.Start)
			}
			year, doy := sds.DayOf(attributed)

			gk := groupKey{key: slice.Key(), year: year, doy: doy}
			i, ok := index[gk]
			if !ok {
				i = len(groups)
				index[gk] = i
				groups = append(groups, dayGroup{key: gk.key, year: year, doy: doy})
			}
			groups[i].traces = append(groups[i].traces, slice)
		}
	}
	return groups
}

// daySlices cuts a trace at UTC midnights. The slices are exhaustive and
// disjoint: their union is exactly the input range.
func daySlices(tr mseed.Trace) []mseed.Trace {
	var out []mseed.Trace
	cur := tr.Start
	for cur.Before(tr.End()) {
		boundary := sds.NextDayStart(cur)
		slice := tr.Slice(cur, boundary)
		if len(slice.Samples) > 0 {
			out = append(out, slice)
		}
		cur = boundary
	}
	return out
}

// writeDay merges the group into its day file and returns the interval
// covering the file's full content after the write.
func (a *Archiver) writeDay(group dayGroup) (sdsindex.ArchiveInterval, error) {
	path := sds.DayFilePath(a.Root, group.key, group.year, group.doy)

	traces := group.traces
	if a.FS.Exists(path) {
		existing, err := a.FS.ReadFile(path)
		if err != nil {
			return sdsindex.ArchiveInterval{}, ErrParse.New("read %s: %v", path, err)
		}
		old, err := mseed.Decode(existing)
		if err != nil {
			return sdsindex.ArchiveInterval{}, ErrParse.New("decode %s: %v", path, err)
		}
		// Existing data first: on overlap, Merge keeps the earlier-starting
		// trace's samples, so a rewrite never mutates archived values.
		traces = append(old, traces...)
	}

	merged := mseed.Merge(traces)
	data, err := mseed.Encode(merged)
	if err != nil {
		return sdsindex.ArchiveInterval{}, ErrWrite.New("encode %s: %v", path, err)
	}
	if err := a.FS.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return sdsindex.ArchiveInterval{}, ErrWrite.New("mkdir %s: %v", filepath.Dir(path), err)
	}
	if err := a.FS.WriteFile(path, data, os.FileMode(0o644)); err != nil {
		return sdsindex.ArchiveInterval{}, ErrWrite.New("write %s: %v", path, err)
	}

	return fileInterval(group.key, merged), nil
}

// fileInterval spans the min start to the max end over the file's traces.
func fileInterval(key sds.StreamKey, traces []mseed.Trace) sdsindex.ArchiveInterval {
	var start, end time.Time
	for i := range traces {
		if start.IsZero() || traces[i].Start.Before(start) {
			start = traces[i].Start
		}
		if e := traces[i].End(); e.After(end) {
			end = e
		}
	}
	return sdsindex.ArchiveInterval{Key: key, Start: start, End: end}
}
