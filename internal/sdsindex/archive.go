package sdsindex

import (
	"context"
	"database/sql"
	"time"

	"github.com/seismica/seedvault/internal/sds"
)

// ArchiveInterval is one stored on-disk interval. Start is inclusive, End
// exclusive. Import is stamped by the index on write.
type ArchiveInterval struct {
	Key    sds.StreamKey
	Start  time.Time
	End    time.Time
	Import int64
}

// Interval is a bare (start, end) pair returned by gap queries.
type Interval struct {
	Start time.Time
	End   time.Time
}

// BulkInsertArchive upserts interval rows in a single transaction. The
// operation is idempotent on (StreamKey, starttime, endtime): a re-insert
// only refreshes importtime.
func (ix *Index) BulkInsertArchive(ctx context.Context, intervals []ArchiveInterval) error {
	if len(intervals) == 0 {
		return nil
	}
	now := ix.clock.Now().Unix()

	return ix.withRetry(ctx, func(ctx context.Context) error {
		tx, err := ix.db.BeginTx(ctx, nil)
		if err != nil {
			return err
		}
		defer func() { _ = tx.Rollback() }()

		stmt, err := tx.PrepareContext(ctx, `
			INSERT INTO archive_data (
				network, station, location, channel, starttime, endtime, importtime
			) VALUES (?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(network, station, location, channel, starttime, endtime)
			DO UPDATE SET importtime = excluded.importtime
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, iv := range intervals {
			if _, err := stmt.ExecContext(ctx,
				iv.Key.Network, iv.Key.Station, iv.Key.Location, iv.Key.Channel,
				sds.FormatTime(iv.Start), sds.FormatTime(iv.End), now,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// OverlappingIntervals returns the stored intervals for key satisfying
// end >= start && start <= end, ascending by start time. The query runs over
// idx_archive_data.
func (ix *Index) OverlappingIntervals(ctx context.Context, key sds.StreamKey, start, end time.Time) ([]Interval, error) {
	var out []Interval
	err := ix.withRetry(ctx, func(ctx context.Context) error {
		out = out[:0]
		rows, err := ix.db.QueryContext(ctx, `
			SELECT starttime, endtime
			FROM archive_data
			WHERE network = ? AND station = ? AND location = ? AND channel = ?
			  AND endtime >= ? AND starttime <= ?
			ORDER BY starttime
		`,
			key.Network, key.Station, key.Location, key.Channel,
			sds.FormatTime(start), sds.FormatTime(end),
		)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var s, e string
			if err := rows.Scan(&s, &e); err != nil {
				return err
			}
			iv, err := parseInterval(s, e)
			if err != nil {
				return err
			}
			out = append(out, iv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

func parseInterval(s, e string) (Interval, error) {
	start, err := sds.ParseTime(s)
	if err != nil {
		return Interval{}, err
	}
	end, err := sds.ParseTime(e)
	if err != nil {
		return Interval{}, err
	}
	return Interval{Start: start, End: end}, nil
}

// Delete removes rows from table whose importtime lies within
// [start, end] (unix seconds). Table must be one of the two index tables.
func (ix *Index) Delete(ctx context.Context, table string, start, end int64) (int64, error) {
	if table != "archive_data" && table != "arrival_data" {
		return 0, Error.New("unknown table %q", table)
	}
	var affected int64
	err := ix.withRetry(ctx, func(ctx context.Context) error {
		res, err := ix.db.ExecContext(ctx,
			`DELETE FROM `+table+` WHERE importtime BETWEEN ? AND ?`, start, end)
		if err != nil {
			return err
		}
		affected, err = res.RowsAffected()
		return err
	})
	return affected, err
}

// AllIntervals returns every archive row ordered by (stream key,
// starttime), the order the compactor and the coverage report consume.
func (ix *Index) AllIntervals(ctx context.Context) ([]ArchiveInterval, error) {
	var out []ArchiveInterval
	err := ix.withRetry(ctx, func(ctx context.Context) error {
		out = out[:0]
		rows, err := ix.db.QueryContext(ctx, `
			SELECT network, station, location, channel, starttime, endtime, importtime
			FROM archive_data
			ORDER BY network, station, location, channel, starttime
		`)
		if err != nil {
			return err
		}
		defer rows.Close()

		for rows.Next() {
			var (
				iv   ArchiveInterval
				s, e string
			)
			if err := rows.Scan(&iv.Key.Network, &iv.Key.Station,
				&iv.Key.Location, &iv.Key.Channel, &s, &e, &iv.Import); err != nil {
				return err
			}
			parsed, err := parseInterval(s, e)
			if err != nil {
				return err
			}
			iv.Start, iv.End = parsed.Start, parsed.End
			out = append(out, iv)
		}
		return rows.Err()
	})
	if err != nil {
		return nil, err
	}
	return out, nil
}

// CountIntervals reports the number of archive rows, optionally scoped to
// one stream key.
func (ix *Index) CountIntervals(ctx context.Context, key *sds.StreamKey) (int64, error) {
	var n int64
	err := ix.withRetry(ctx, func(ctx context.Context) error {
		var row *sql.Row
		if key == nil {
			row = ix.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM archive_data`)
		} else {
			row = ix.db.QueryRowContext(ctx, `
				SELECT COUNT(*) FROM archive_data
				WHERE network = ? AND station = ? AND location = ? AND channel = ?`,
				key.Network, key.Station, key.Location, key.Channel)
		}
		return row.Scan(&n)
	})
	return n, err
}
