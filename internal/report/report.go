// Package report summarizes archive coverage: per-stream segment
// statistics and an HTML chart of stored hours.
package report

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/gonum/stat"

	"github.com/seismica/seedvault/internal/sds"
	"github.com/seismica/seedvault/internal/sdsindex"
)

// StreamSummary aggregates the stored intervals of one stream.
type StreamSummary struct {
	Key      sds.StreamKey
	Segments int
	Earliest time.Time
	Latest   time.Time

	// Covered is the summed length of all segments; gaps excluded.
	Covered time.Duration

	// MeanSegmentSec/StdDevSegmentSec describe the segment-length
	// distribution; a high deviation flags a fragmented stream worth
	// compacting.
	MeanSegmentSec   float64
	StdDevSegmentSec float64

	// SpanFraction is Covered over the Earliest..Latest span.
	SpanFraction float64
}

// Report is one snapshot over the whole index.
type Report struct {
	Generated time.Time
	Streams   []StreamSummary
}

// Build reads every interval and folds them into per-stream summaries,
// sorted by stream key.
func Build(ctx context.Context, ix *sdsindex.Index) (Report, error) {
	intervals, err := ix.AllIntervals(ctx)
	if err != nil {
		return Report{}, err
	}

	rep := Report{Generated: time.Now().UTC()}
	byKey := map[sds.StreamKey][]sdsindex.ArchiveInterval{}
	for _, iv := range intervals {
		byKey[iv.Key] = append(byKey[iv.Key], iv)
	}

	for key, ivs := range byKey {
		lengths := make([]float64, len(ivs))
		s := StreamSummary{Key: key, Segments: len(ivs)}
		for i, iv := range ivs {
			lengths[i] = iv.End.Sub(iv.Start).Seconds()
			s.Covered += iv.End.Sub(iv.Start)
			if s.Earliest.IsZero() || iv.Start.Before(s.Earliest) {
				s.Earliest = iv.Start
			}
			if iv.End.After(s.Latest) {
				s.Latest = iv.End
			}
		}
		s.MeanSegmentSec = stat.Mean(lengths, nil)
		if len(lengths) > 1 {
			s.StdDevSegmentSec = stat.StdDev(lengths, nil)
		}
		if span := s.Latest.Sub(s.Earliest); span > 0 {
			s.SpanFraction = float64(s.Covered) / float64(span)
		}
		rep.Streams = append(rep.Streams, s)
	}

	sort.Slice(rep.Streams, func(i, j int) bool {
		return rep.Streams[i].Key.String() < rep.Streams[j].Key.String()
	})
	return rep, nil
}

// RenderHTML writes a bar chart of stored hours per stream.
func (r Report) RenderHTML(w io.Writer) error {
	labels := make([]string, len(r.Streams))
	hours := make([]opts.BarData, len(r.Streams))
	segments := make([]opts.BarData, len(r.Streams))
	for i, s := range r.Streams {
		labels[i] = s.Key.String()
		hours[i] = opts.BarData{Value: s.Covered.Hours()}
		segments[i] = opts.BarData{Value: s.Segments}
	}

	bar := charts.NewBar()
	bar.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			PageTitle: "Archive coverage",
			Width:     "1200px",
			Height:    "600px",
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Archive coverage",
			Subtitle: fmt.Sprintf("%d streams, generated %s", len(r.Streams), r.Generated.Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{AxisLabel: &opts.AxisLabel{Rotate: 45, Show: opts.Bool(true)}}),
		charts.WithYAxisOpts(opts.YAxis{Name: "hours stored"}),
	)
	bar.SetXAxis(labels)
	bar.AddSeries("hours", hours)
	bar.AddSeries("segments", segments)

	var buf bytes.Buffer
	if err := bar.Render(&buf); err != nil {
		return err
	}
	_, err := w.Write(buf.Bytes())
	return err
}

// WriteText prints a fixed-width table of the summaries, one stream per
// line.
func (r Report) WriteText(w io.Writer) error {
	if _, err := fmt.Fprintf(w, "%-24s %9s %12s %10s %22s %22s\n",
		"STREAM", "SEGMENTS", "HOURS", "SPAN%", "EARLIEST", "LATEST"); err != nil {
		return err
	}
	for _, s := range r.Streams {
		if _, err := fmt.Fprintf(w, "%-24s %9d %12.2f %9.1f%% %22s %22s\n",
			s.Key.String(), s.Segments, s.Covered.Hours(), s.SpanFraction*100,
			s.Earliest.Format(time.RFC3339), s.Latest.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}
