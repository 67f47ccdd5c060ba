package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// MartTables are rebuilt by RebuildMarts, in this order.
var MartTables = []string{
	"daily_kpis",
	"hourly_kpis",
	"taxi_daily_kpis",
	"zone_daily_kpis",
	"executive_kpis",
	"payment_mix_daily",
}

const revenue = `COALESCE(fare, 0) + COALESCE(tips, 0)`

// activity columns shared by the daily and hourly marts.
const activity = `
	COUNT(*) AS total_trips,
	SUM(` + revenue + `) AS total_revenue,
	SUM(COALESCE(trip_seconds, 0)) AS total_trip_seconds,
	SUM(COALESCE(trip_seconds, 0)) / 3600.0 AS total_trip_hours,
	SUM(` + revenue + `) / NULLIF(SUM(COALESCE(trip_seconds, 0)) / 3600.0, 0) AS revenue_per_active_hour,
	SUM(` + revenue + `) / NULLIF(COUNT(*), 0) AS avg_revenue_per_trip,
	(SUM(COALESCE(trip_seconds, 0)) / 60.0) / NULLIF(COUNT(*), 0) AS avg_trip_minutes,
	SUM(COALESCE(tips, 0)) / NULLIF(SUM(` + revenue + `), 0) AS tips_ratio,
	COUNT(*) FILTER (WHERE outlier_fare OR outlier_trip_miles OR outlier_trip_seconds OR outlier_tips) AS outlier_trips`

// per-entity columns of the taxi and zone marts.
const entity = `
	COUNT(*) AS total_trips,
	SUM(` + revenue + `) AS total_revenue,
	SUM(COALESCE(trip_seconds, 0)) / 3600.0 AS total_trip_hours,
	SUM(` + revenue + `) / NULLIF(SUM(COALESCE(trip_seconds, 0)) / 3600.0, 0) AS revenue_per_active_hour`

var martSQL = map[string]string{
	"daily_kpis": `CREATE TABLE daily_kpis AS
SELECT trip_date,` + activity + `
FROM ` + TripsTable + `
GROUP BY trip_date`,

	"hourly_kpis": `CREATE TABLE hourly_kpis AS
SELECT trip_date, trip_hour,` + activity + `
FROM ` + TripsTable + `
GROUP BY trip_date, trip_hour`,

	"taxi_daily_kpis": `CREATE TABLE taxi_daily_kpis AS
SELECT trip_date, COALESCE(NULLIF(taxi_id, ''), 'unknown') AS taxi_id,` + entity + `
FROM ` + TripsTable + `
GROUP BY trip_date, COALESCE(NULLIF(taxi_id, ''), 'unknown')`,

	"zone_daily_kpis": `CREATE TABLE zone_daily_kpis AS
SELECT trip_date, COALESCE(NULLIF(pickup_community_area, ''), 'unknown') AS pickup_community_area,` + entity + `
FROM ` + TripsTable + `
GROUP BY trip_date, COALESCE(NULLIF(pickup_community_area, ''), 'unknown')`,

	"executive_kpis": `CREATE TABLE executive_kpis AS
SELECT d.trip_date,
	d.total_revenue,
	d.total_trip_hours,
	d.revenue_per_active_hour,
	(SELECT SUM(top.total_revenue) FROM (
		SELECT total_revenue FROM taxi_daily_kpis t
		WHERE t.trip_date = d.trip_date
		ORDER BY total_revenue DESC LIMIT 10) top
	) / NULLIF(d.total_revenue, 0) AS revenue_share_top_10_taxis,
	(SELECT SUM(top.total_revenue) FROM (
		SELECT total_revenue FROM zone_daily_kpis z
		WHERE z.trip_date = d.trip_date
		ORDER BY total_revenue DESC LIMIT 3) top
	) / NULLIF(d.total_revenue, 0) AS revenue_share_top_3_zones
FROM daily_kpis d`,

	"payment_mix_daily": `CREATE TABLE payment_mix_daily AS
SELECT trip_date, COALESCE(NULLIF(payment_type, ''), 'unknown') AS payment_type,
	COUNT(*) AS total_trips,
	SUM(` + revenue + `) AS total_revenue
FROM ` + TripsTable + `
GROUP BY trip_date, COALESCE(NULLIF(payment_type, ''), 'unknown')`,
}

// RebuildMarts drops and recreates every mart from the staged trips inside a
// single transaction, so readers see either the old or the new marts. It
// returns the tables built.
func RebuildMarts(ctx context.Context, db *sql.DB, log cabs.Logger) ([]string, error) {
	if log == nil {
		log = cabs.NopLogger{}
	}
	err := runInTx(ctx, db, func(tx *sql.Tx) error {
		for i := len(MartTables) - 1; i >= 0; i-- {
			if _, err := tx.ExecContext(ctx, `DROP TABLE IF EXISTS `+MartTables[i]); err != nil {
				return errors.Wrapf(err, "dropping %s", MartTables[i])
			}
		}
		for _, table := range MartTables {
			if _, err := tx.ExecContext(ctx, martSQL[table]); err != nil {
				return errors.Wrapf(err, "creating %s", table)
			}
			log.Debugf("built %s", table)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return append([]string(nil), MartTables...), nil
}
