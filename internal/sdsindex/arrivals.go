package sdsindex

import (
	"context"
	"database/sql"
)

// ArrivalRecord memoizes the geometry and predicted phase arrivals of one
// (event, station) pair. Rows are write-once: computed on first encounter,
// read-only thereafter.
type ArrivalRecord struct {
	EventID      string
	Magnitude    float64
	EventLat     float64
	EventLon     float64
	EventDepthKm float64
	EventOrigin  float64 // unix seconds

	NetCode  string
	StaCode  string
	StaLat   float64
	StaLon   float64
	StaElevM float64
	// StaStart/StaEnd are the station's operational epoch, unix seconds.
	// Zero means open-ended: a station without a known start collapses to a
	// single row per (event, network, code).
	StaStart float64
	StaEnd   float64

	DistDeg float64
	DistKm  float64
	Azimuth float64

	PArrival float64 // unix seconds
	SArrival float64 // unix seconds; valid only when HasS
	HasS     bool

	Model string
}

// ArrivalTimes is the memoized (P, S) pair of one row.
type ArrivalTimes struct {
	P    float64
	S    float64
	HasS bool
}

// ArrivalGeometry extends ArrivalTimes with the stored geometry.
type ArrivalGeometry struct {
	ArrivalTimes
	DistKm  float64
	DistDeg float64
	Azimuth float64
}

// BulkInsertArrivals upserts arrival rows in one transaction. Idempotent on
// the primary key (event_id, s_netcode, s_stacode, s_start).
func (ix *Index) BulkInsertArrivals(ctx context.Context, records []ArrivalRecord) error {
	if len(records) == 0 {
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
			INSERT INTO arrival_data (
				event_id, e_magnitude, e_lat, e_lon, e_depth_km, e_origin,
				s_netcode, s_stacode, s_lat, s_lon, s_elev_m, s_start, s_end,
				dist_deg, dist_km, azimuth, p_arrival, s_arrival, model, importtime
			) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(event_id, s_netcode, s_stacode, s_start) DO UPDATE SET
				p_arrival  = excluded.p_arrival,
				s_arrival  = excluded.s_arrival,
				model      = excluded.model,
				importtime = excluded.importtime
		`)
		if err != nil {
			return err
		}
		defer stmt.Close()

		for _, r := range records {
			var sArrival sql.NullFloat64
			if r.HasS {
				sArrival = sql.NullFloat64{Float64: r.SArrival, Valid: true}
			}
			if _, err := stmt.ExecContext(ctx,
				r.EventID, r.Magnitude, r.EventLat, r.EventLon, r.EventDepthKm, r.EventOrigin,
				r.NetCode, r.StaCode, r.StaLat, r.StaLon, r.StaElevM, r.StaStart, r.StaEnd,
				r.DistDeg, r.DistKm, r.Azimuth, r.PArrival, sArrival, r.Model, now,
			); err != nil {
				return err
			}
		}
		return tx.Commit()
	})
}

// FetchArrivals returns the memoized arrival times for (event, net, sta),
// or found=false when no row exists. When a station restarted under the
// same code, the most recently imported row wins.
func (ix *Index) FetchArrivals(ctx context.Context, eventID, net, sta string) (ArrivalTimes, bool, error) {
	geo, found, err := ix.FetchArrivalsExt(ctx, eventID, net, sta)
	return geo.ArrivalTimes, found, err
}

// FetchArrivalsExt is FetchArrivals extended with the stored distance and
// azimuth.
func (ix *Index) FetchArrivalsExt(ctx context.Context, eventID, net, sta string) (ArrivalGeometry, bool, error) {
	var (
		geo   ArrivalGeometry
		found bool
	)
	err := ix.withRetry(ctx, func(ctx context.Context) error {
		found = false
		var s sql.NullFloat64
		err := ix.db.QueryRowContext(ctx, `
			SELECT p_arrival, s_arrival, dist_km, dist_deg, azimuth
			FROM arrival_data
			WHERE event_id = ? AND s_netcode = ? AND s_stacode = ?
			ORDER BY importtime DESC, s_start DESC
			LIMIT 1
		`, eventID, net, sta).Scan(&geo.P, &s, &geo.DistKm, &geo.DistDeg, &geo.Azimuth)
		if err == sql.ErrNoRows {
			return nil
		}
		if err != nil {
			return err
		}
		geo.S, geo.HasS = s.Float64, s.Valid
		found = true
		return nil
	})
	return geo, found, err
}
