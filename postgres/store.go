package postgres

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// DefaultBatchSize is the number of rows per INSERT statement.
const DefaultBatchSize = 1000

// columns are written in this order by values.
var columns = []string{
	"business_key", "trip_id", "taxi_id",
	"trip_start_timestamp", "trip_end_timestamp",
	"trip_date", "trip_hour", "trip_weekday", "is_weekend",
	"trip_seconds", "trip_miles", "fare", "tips", "tolls", "extras", "trip_total",
	"pickup_community_area", "dropoff_community_area", "payment_type", "company",
	"pickup_latitude", "pickup_longitude", "dropoff_latitude", "dropoff_longitude",
	"pickup_geohash", "dropoff_geohash",
	"outlier_trip_seconds", "outlier_trip_miles", "outlier_fare", "outlier_tips",
	"observed_at",
}

func values(t *cabs.StagedTrip) []interface{} {
	return []interface{}{
		string(t.BusinessKey), nullString(t.TripID), t.TaxiID,
		t.StartTime, nullTime(t.EndTime),
		t.TripDate, t.TripHour, t.Weekday, t.IsWeekend,
		nullFloat(t.TripSeconds), nullFloat(t.TripMiles), nullFloat(t.Fare), nullFloat(t.Tips),
		nullFloat(t.Tolls), nullFloat(t.Extras), nullFloat(t.TripTotal),
		nullString(t.PickupArea), nullString(t.DropoffArea), nullString(t.PaymentType), nullString(t.Company),
		nullFloat(t.PickupLatitude), nullFloat(t.PickupLongitude), nullFloat(t.DropoffLatitude), nullFloat(t.DropoffLongitude),
		nullString(t.PickupGeohash), nullString(t.DropoffGeohash),
		t.OutlierTripSeconds, t.OutlierTripMiles, t.OutlierFare, t.OutlierTips,
		nullTime(&t.ObservedAt),
	}
}

func nullString(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func nullFloat(f *float64) interface{} {
	if f == nil {
		return nil
	}
	return *f
}

func nullTime(t *time.Time) interface{} {
	if t == nil || t.IsZero() {
		return nil
	}
	return *t
}

// upsertSQL returns the statement for n rows. Every column but the key and
// first_loaded_at is replaced on conflict. (xmax = 0) is true only for rows
// the statement inserted.
func upsertSQL(table string, n int) string {
	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", table, strings.Join(columns, ", "))
	p := 1
	for i := 0; i < n; i++ {
		if i > 0 {
			b.WriteString(", ")
		}
		b.WriteByte('(')
		for j := range columns {
			if j > 0 {
				b.WriteString(", ")
			}
			fmt.Fprintf(&b, "$%d", p)
			p++
		}
		b.WriteByte(')')
	}
	b.WriteString(" ON CONFLICT (business_key) DO UPDATE SET ")
	for i, c := range columns[1:] {
		if i > 0 {
			b.WriteString(", ")
		}
		fmt.Fprintf(&b, "%s = EXCLUDED.%s", c, c)
	}
	b.WriteString(" RETURNING (xmax = 0) AS inserted")
	return b.String()
}

// Store is a cabs.Upserter writing to the staged trips table.
type Store struct {
	db        *sql.DB
	table     string
	batchSize int
	log       cabs.Logger
}

// StoreOption is a functional option for Store.
type StoreOption func(s *Store)

// maxParams is the most bind parameters postgres accepts in one statement.
const maxParams = 65535

// MaxBatchSize is the most rows one upsert statement can carry.
var MaxBatchSize = maxParams / len(columns)

// OptStoreBatchSize sets the number of rows per statement, clamped to
// MaxBatchSize.
func OptStoreBatchSize(n int) StoreOption {
	return func(s *Store) {
		switch {
		case n > MaxBatchSize:
			s.batchSize = MaxBatchSize
		case n > 0:
			s.batchSize = n
		}
	}
}

// OptStoreLogger sets the Store's logger.
func OptStoreLogger(l cabs.Logger) StoreOption {
	return func(s *Store) {
		s.log = l
	}
}

// NewStore returns a Store using db.
func NewStore(db *sql.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:        db,
		table:     TripsTable,
		batchSize: DefaultBatchSize,
		log:       cabs.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Upsert implements cabs.Upserter. The whole batch is written in one
// transaction, in statements of at most the configured batch size.
func (s *Store) Upsert(ctx context.Context, b cabs.Batch) (cabs.UpsertResult, error) {
	var res cabs.UpsertResult
	err := runInTx(ctx, s.db, func(tx *sql.Tx) error {
		for start := 0; start < len(b.Trips); start += s.batchSize {
			end := start + s.batchSize
			if end > len(b.Trips) {
				end = len(b.Trips)
			}
			chunk, err := s.upsertChunk(ctx, tx, b.Trips[start:end])
			if err != nil {
				return errors.Wrapf(err, "rows %d-%d", start, end-1)
			}
			res = res.Add(chunk)
		}
		return nil
	})
	if err != nil {
		return cabs.UpsertResult{}, &cabs.UpsertBatchError{Batch: b.ID, Rows: len(b.Trips), Err: err}
	}
	s.log.Debugf("batch %s: %d inserted, %d updated", b.ID, res.Inserted, res.Updated)
	return res, nil
}

func (s *Store) upsertChunk(ctx context.Context, tx *sql.Tx, trips []cabs.StagedTrip) (cabs.UpsertResult, error) {
	var res cabs.UpsertResult
	args := make([]interface{}, 0, len(trips)*len(columns))
	for i := range trips {
		args = append(args, values(&trips[i])...)
	}
	rows, err := tx.QueryContext(ctx, upsertSQL(s.table, len(trips)), args...)
	if err != nil {
		return res, err
	}
	defer rows.Close()
	for rows.Next() {
		var inserted bool
		if err := rows.Scan(&inserted); err != nil {
			return res, err
		}
		if inserted {
			res.Inserted++
		} else {
			res.Updated++
		}
	}
	return res, rows.Err()
}
