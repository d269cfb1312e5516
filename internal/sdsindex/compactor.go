package sdsindex

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/seismica/seedvault/internal/sds"
)

// deleteBatchSize keeps each DELETE ... IN (...) statement under the SQLite
// bound-parameter limit.
const deleteBatchSize = 500

// DefaultGapTolerance is the compaction tolerance applied when the
// configuration does not name one.
const DefaultGapTolerance = 60 * time.Second

// CompactStats summarizes one compaction pass.
type CompactStats struct {
	Scanned int
	Merged  int
	Deleted int
}

// Compact joins adjacent intervals of the same stream separated by at most
// tolerance into single rows. Absorbed rows are deleted; surviving rows get
// the later importtime of the pair. Safe to run repeatedly: one pass
// reaches a fixed point for a given tolerance.
func (ix *Index) Compact(ctx context.Context, tolerance time.Duration) (CompactStats, error) {
	var stats CompactStats

	type row struct {
		id         int64
		key        sds.StreamKey
		start, end time.Time
		importtime int64
	}

	var all []row
	err := ix.withRetry(ctx, func(ctx context.Context) error {
		all = all[:0]
		rows, err := ix.db.QueryContext(ctx, `
			SELECT id, network, station, location, channel, starttime, endtime, importtime
			FROM archive_data
			ORDER BY network, station, location, channel, starttime
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var r row
			var s, e string
			if err := rows.Scan(&r.id, &r.key.Network, &r.key.Station,
				&r.key.Location, &r.key.Channel, &s, &e, &r.importtime); err != nil {
				return err
			}
			iv, err := parseInterval(s, e)
			if err != nil {
				return err
			}
			r.start, r.end = iv.Start, iv.End
			all = append(all, r)
		}
		return rows.Err()
	})
	if err != nil {
		return stats, err
	}
	stats.Scanned = len(all)
	if len(all) == 0 {
		return stats, nil
	}

	type update struct {
		id         int64
		end        time.Time
		importtime int64
	}
	var (
		updates   []update
		deleteIDs []int64
	)

	cur := all[0]
	dirty := false
	flush := func() {
		if dirty {
			updates = append(updates, update{id: cur.id, end: cur.end, importtime: cur.importtime})
		}
	}
	for _, r := range all[1:] {
		if r.key == cur.key && !r.start.After(cur.end.Add(tolerance)) {
			if r.end.After(cur.end) {
				cur.end = r.end
			}
			if r.importtime > cur.importtime {
				cur.importtime = r.importtime
			}
			deleteIDs = append(deleteIDs, r.id)
			dirty = true
			stats.Merged++
			continue
		}
		flush()
		cur = r
		dirty = false
	}
	flush()
	stats.Deleted = len(deleteIDs)

	if len(updates) == 0 && len(deleteIDs) == 0 {
		return stats, nil
	}

	err = ix.withRetry(ctx, func(ctx context.Context) error {
		tx, err := ix.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		for _, u := range updates {
			if _, err := tx.ExecContext(ctx,
				`UPDATE archive_data SET endtime = ?, importtime = ? WHERE id = ?`,
				sds.FormatTime(u.end), u.importtime, u.id,
			); err != nil {
				return err
			}
		}

		for off := 0; off < len(deleteIDs); off += deleteBatchSize {
			batch := deleteIDs[off:min(off+deleteBatchSize, len(deleteIDs))]
			placeholders := make([]byte, 0, 2*len(batch))
			args := make([]any, 0, len(batch))
			for i, id := range batch {
				if i > 0 {
					placeholders = append(placeholders, ',')
				}
				placeholders = append(placeholders, '?')
				args = append(args, id)
			}
			if _, err := tx.ExecContext(ctx,
				`DELETE FROM archive_data WHERE id IN (`+string(placeholders)+`)`,
				args...,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
	if err != nil {
		return stats, err
	}

	ix.log.Info("compaction finished",
		zap.Int("scanned", stats.Scanned),
		zap.Int("merged", stats.Merged),
		zap.Int("deleted", stats.Deleted),
		zap.Duration("tolerance", tolerance))
	return stats, nil
}
