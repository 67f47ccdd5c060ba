// Package postgres stores staged trips and pipeline state in PostgreSQL and
// builds the reporting marts on top of them. It talks to the server through
// database/sql using pgx's driver.
package postgres

import (
	"context"
	"database/sql"

	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" driver
	"github.com/pkg/errors"
)

// TripsTable holds one row per business key.
const TripsTable = "stg_trips"

var schema = []string{
	`CREATE TABLE IF NOT EXISTS ` + TripsTable + ` (
		business_key CHAR(64) PRIMARY KEY,
		trip_id TEXT,
		taxi_id TEXT NOT NULL,
		trip_start_timestamp TIMESTAMPTZ NOT NULL,
		trip_end_timestamp TIMESTAMPTZ,
		trip_date DATE NOT NULL,
		trip_hour SMALLINT NOT NULL,
		trip_weekday SMALLINT NOT NULL,
		is_weekend BOOLEAN NOT NULL,
		trip_seconds DOUBLE PRECISION,
		trip_miles DOUBLE PRECISION,
		fare DOUBLE PRECISION,
		tips DOUBLE PRECISION,
		tolls DOUBLE PRECISION,
		extras DOUBLE PRECISION,
		trip_total DOUBLE PRECISION,
		pickup_community_area TEXT,
		dropoff_community_area TEXT,
		payment_type TEXT,
		company TEXT,
		pickup_latitude DOUBLE PRECISION,
		pickup_longitude DOUBLE PRECISION,
		dropoff_latitude DOUBLE PRECISION,
		dropoff_longitude DOUBLE PRECISION,
		pickup_geohash TEXT,
		dropoff_geohash TEXT,
		outlier_trip_seconds BOOLEAN NOT NULL DEFAULT FALSE,
		outlier_trip_miles BOOLEAN NOT NULL DEFAULT FALSE,
		outlier_fare BOOLEAN NOT NULL DEFAULT FALSE,
		outlier_tips BOOLEAN NOT NULL DEFAULT FALSE,
		observed_at TIMESTAMPTZ,
		first_loaded_at TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS stg_trips_trip_date_idx ON ` + TripsTable + ` (trip_date)`,
	`CREATE TABLE IF NOT EXISTS ` + StateTable + ` (
		name TEXT PRIMARY KEY,
		last_watermark TIMESTAMPTZ,
		last_run_utc TIMESTAMPTZ,
		rows_downloaded BIGINT NOT NULL DEFAULT 0
	)`,
}

// Open opens dsn with the pgx driver and checks that the server answers.
func Open(ctx context.Context, dsn string) (*sql.DB, error) {
	db, err := sql.Open("pgx", dsn)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "pinging database")
	}
	return db, nil
}

// EnsureSchema creates the tables the pipeline writes to if they are missing.
func EnsureSchema(ctx context.Context, db *sql.DB) error {
	return runInTx(ctx, db, func(tx *sql.Tx) error {
		for _, stmt := range schema {
			if _, err := tx.ExecContext(ctx, stmt); err != nil {
				return errors.Wrap(err, "creating schema")
			}
		}
		return nil
	})
}

func runInTx(ctx context.Context, db *sql.DB, fn func(*sql.Tx) error) error {
	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer func() { _ = tx.Rollback() }()
	if err := fn(tx); err != nil {
		return err
	}
	return errors.Wrap(tx.Commit(), "committing")
}
