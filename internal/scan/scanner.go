// Package scan rebuilds the archive index from an existing SDS tree. It
// walks the tree in parallel, reads only MiniSEED headers, and bulk-inserts
// one interval per day file.
package scan

import (
	"context"
	"io/fs"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"

	"github.com/bmatcuk/doublestar/v4"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/seismica/seedvault/internal/mseed"
	"github.com/seismica/seedvault/internal/sds"
	"github.com/seismica/seedvault/internal/sdsindex"
)

// DefaultPattern matches canonical SDS day-file names:
// NET.STA.LOC.CHA.D.YYYY.DOY with a two-character network code.
const DefaultPattern = "??.*.*.???.?.????.???"

// insertBatchSize bounds how many intervals one index transaction carries.
const insertBatchSize = 1000

// Scanner walks an SDS tree and feeds the index.
type Scanner struct {
	Index *sdsindex.Index
	Log   *zap.Logger

	// Patterns are shell-style name filters; a file passing any one of them
	// is scanned. Empty means DefaultPattern.
	Patterns []string

	// NewerThan, when set, restricts the walk to files modified after it.
	NewerThan time.Time

	// Workers caps the parallel header parsers; 0 means GOMAXPROCS.
	Workers int
}

// Stats reports one Run.
type Stats struct {
	Files    int
	Skipped  int
	Inserted int
}

// Run scans the tree rooted at root. Files that fail to parse are logged
// and skipped; only index errors abort the scan.
func (s *Scanner) Run(ctx context.Context, root string) (Stats, error) {
	patterns := s.Patterns
	if len(patterns) == 0 {
		patterns = []string{DefaultPattern}
	}
	workers := s.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	paths := make(chan string, workers)
	var (
		mu        sync.Mutex
		stats     Stats
		intervals []sdsindex.ArchiveInterval
	)

	flush := func(final bool) error {
		mu.Lock()
		batch := intervals
		if !final && len(batch) < insertBatchSize {
			mu.Unlock()
			return nil
		}
		intervals = nil
		mu.Unlock()
		if err := s.Index.BulkInsertArchive(ctx, batch); err != nil {
			return err
		}
		mu.Lock()
		stats.Inserted += len(batch)
		mu.Unlock()
		return nil
	}

	group, ctx := errgroup.WithContext(ctx)
	group.Go(func() error {
		defer close(paths)
		return filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() || !matchAny(patterns, d.Name()) {
				return nil
			}
			if !s.NewerThan.IsZero() {
				info, err := d.Info()
				if err != nil || !info.ModTime().After(s.NewerThan) {
					return nil
				}
			}
			select {
			case paths <- path:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			}
		})
	})

	for i := 0; i < workers; i++ {
		group.Go(func() error {
			for path := range paths {
				iv, err := scanFile(path)
				if err != nil {
					s.Log.Warn("skipping unreadable day file",
						zap.String("path", path), zap.Error(err))
					mu.Lock()
					stats.Skipped++
					mu.Unlock()
					continue
				}
				mu.Lock()
				stats.Files++
				intervals = append(intervals, iv)
				mu.Unlock()
				if err := flush(false); err != nil {
					return err
				}
			}
			return nil
		})
	}

	if err := group.Wait(); err != nil {
		return stats, err
	}
	if err := flush(true); err != nil {
		return stats, err
	}
	return stats, nil
}

func matchAny(patterns []string, name string) bool {
	for _, p := range patterns {
		if ok, err := doublestar.Match(p, name); err == nil && ok {
			return true
		}
	}
	return false
}

func scanFile(path string) (sdsindex.ArchiveInterval, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return sdsindex.ArchiveInterval{}, err
	}
	info, err := mseed.Scan(data)
	if err != nil {
		return sdsindex.ArchiveInterval{}, err
	}
	return sdsindex.ArchiveInterval{
		Key: sds.StreamKey{
			Network:  info.Network,
			Station:  info.Station,
			Location: info.Location,
			Channel:  info.Channel,
		},
		Start: info.Start,
		End:   info.End,
	}, nil
}
