// Package parquet writes staged trips as parquet snapshots, one file per trip
// date, for consumers that read the staging area directly.
package parquet

import (
	"bytes"
	"context"
	"path/filepath"
	"sort"
	"time"

	"github.com/apache/arrow/go/v18/arrow"
	"github.com/apache/arrow/go/v18/arrow/array"
	"github.com/apache/arrow/go/v18/arrow/memory"
	pq "github.com/apache/arrow/go/v18/parquet"
	"github.com/apache/arrow/go/v18/parquet/compress"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/file"
)

// SnapshotName is the file name inside each date partition.
const SnapshotName = "trips.parquet"

type column struct {
	field  arrow.Field
	append func(b array.Builder, t *cabs.StagedTrip)
}

func strCol(name string, get func(*cabs.StagedTrip) string) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.BinaryTypes.String, Nullable: true},
		append: func(b array.Builder, t *cabs.StagedTrip) {
			if v := get(t); v != "" {
				b.(*array.StringBuilder).Append(v)
			} else {
				b.AppendNull()
			}
		},
	}
}

func floatCol(name string, get func(*cabs.StagedTrip) *float64) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Float64, Nullable: true},
		append: func(b array.Builder, t *cabs.StagedTrip) {
			if v := get(t); v != nil {
				b.(*array.Float64Builder).Append(*v)
			} else {
				b.AppendNull()
			}
		},
	}
}

func boolCol(name string, get func(*cabs.StagedTrip) bool) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.FixedWidthTypes.Boolean},
		append: func(b array.Builder, t *cabs.StagedTrip) {
			b.(*array.BooleanBuilder).Append(get(t))
		},
	}
}

func intCol(name string, get func(*cabs.StagedTrip) int) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.PrimitiveTypes.Int32},
		append: func(b array.Builder, t *cabs.StagedTrip) {
			b.(*array.Int32Builder).Append(int32(get(t)))
		},
	}
}

func timeCol(name string, get func(*cabs.StagedTrip) *time.Time) column {
	return column{
		field: arrow.Field{Name: name, Type: arrow.FixedWidthTypes.Timestamp_us, Nullable: true},
		append: func(b array.Builder, t *cabs.StagedTrip) {
			if v := get(t); v != nil && !v.IsZero() {
				b.(*array.TimestampBuilder).Append(arrow.Timestamp(v.UnixMicro()))
			} else {
				b.AppendNull()
			}
		},
	}
}

var columns = []column{
	strCol("business_key", func(t *cabs.StagedTrip) string { return string(t.BusinessKey) }),
	strCol("trip_id", func(t *cabs.StagedTrip) string { return t.TripID }),
	strCol("taxi_id", func(t *cabs.StagedTrip) string { return t.TaxiID }),
	timeCol("trip_start_timestamp", func(t *cabs.StagedTrip) *time.Time { return &t.StartTime }),
	timeCol("trip_end_timestamp", func(t *cabs.StagedTrip) *time.Time { return t.EndTime }),
	{
		field: arrow.Field{Name: "trip_date", Type: arrow.FixedWidthTypes.Date32},
		append: func(b array.Builder, t *cabs.StagedTrip) {
			b.(*array.Date32Builder).Append(arrow.Date32FromTime(t.TripDate))
		},
	},
	intCol("trip_hour", func(t *cabs.StagedTrip) int { return t.TripHour }),
	intCol("trip_weekday", func(t *cabs.StagedTrip) int { return t.Weekday }),
	boolCol("is_weekend", func(t *cabs.StagedTrip) bool { return t.IsWeekend }),
	floatCol("trip_seconds", func(t *cabs.StagedTrip) *float64 { return t.TripSeconds }),
	floatCol("trip_miles", func(t *cabs.StagedTrip) *float64 { return t.TripMiles }),
	floatCol("fare", func(t *cabs.StagedTrip) *float64 { return t.Fare }),
	floatCol("tips", func(t *cabs.StagedTrip) *float64 { return t.Tips }),
	floatCol("tolls", func(t *cabs.StagedTrip) *float64 { return t.Tolls }),
	floatCol("extras", func(t *cabs.StagedTrip) *float64 { return t.Extras }),
	floatCol("trip_total", func(t *cabs.StagedTrip) *float64 { return t.TripTotal }),
	strCol("pickup_community_area", func(t *cabs.StagedTrip) string { return t.PickupArea }),
	strCol("dropoff_community_area", func(t *cabs.StagedTrip) string { return t.DropoffArea }),
	strCol("payment_type", func(t *cabs.StagedTrip) string { return t.PaymentType }),
	strCol("company", func(t *cabs.StagedTrip) string { return t.Company }),
	floatCol("pickup_latitude", func(t *cabs.StagedTrip) *float64 { return t.PickupLatitude }),
	floatCol("pickup_longitude", func(t *cabs.StagedTrip) *float64 { return t.PickupLongitude }),
	floatCol("dropoff_latitude", func(t *cabs.StagedTrip) *float64 { return t.DropoffLatitude }),
	floatCol("dropoff_longitude", func(t *cabs.StagedTrip) *float64 { return t.DropoffLongitude }),
	strCol("pickup_geohash", func(t *cabs.StagedTrip) string { return t.PickupGeohash }),
	strCol("dropoff_geohash", func(t *cabs.StagedTrip) string { return t.DropoffGeohash }),
	boolCol("outlier_trip_seconds", func(t *cabs.StagedTrip) bool { return t.OutlierTripSeconds }),
	boolCol("outlier_trip_miles", func(t *cabs.StagedTrip) bool { return t.OutlierTripMiles }),
	boolCol("outlier_fare", func(t *cabs.StagedTrip) bool { return t.OutlierFare }),
	boolCol("outlier_tips", func(t *cabs.StagedTrip) bool { return t.OutlierTips }),
	timeCol("observed_at", func(t *cabs.StagedTrip) *time.Time { return &t.ObservedAt }),
}

// Schema is the arrow schema of a snapshot.
var Schema = func() *arrow.Schema {
	fields := make([]arrow.Field, len(columns))
	for i, c := range columns {
		fields[i] = c.field
	}
	return arrow.NewSchema(fields, nil)
}()

// Writer replaces the snapshot of every trip date it is given.
type Writer struct {
	root string
	mem  memory.Allocator
	log  cabs.Logger
}

// WriterOption is a functional option for Writer.
type WriterOption func(w *Writer)

// OptWriterLogger sets the Writer's logger.
func OptWriterLogger(l cabs.Logger) WriterOption {
	return func(w *Writer) {
		w.log = l
	}
}

// NewWriter returns a Writer placing snapshots under root.
func NewWriter(root string, opts ...WriterOption) *Writer {
	w := &Writer{
		root: root,
		mem:  memory.DefaultAllocator,
		log:  cabs.NopLogger{},
	}
	for _, opt := range opts {
		opt(w)
	}
	return w
}

// Path returns the snapshot path for a trip date (YYYY-MM-DD).
func (w *Writer) Path(date string) string {
	return filepath.Join(file.PartitionDir(w.root, date), SnapshotName)
}

// Write groups trips by trip date and atomically replaces each date's
// snapshot. It returns the dates written, in order.
func (w *Writer) Write(ctx context.Context, trips []cabs.StagedTrip) ([]string, error) {
	byDate := make(map[string][]cabs.StagedTrip)
	for _, t := range trips {
		d := t.TripDate.Format("2006-01-02")
		byDate[d] = append(byDate[d], t)
	}
	dates := make([]string, 0, len(byDate))
	for d := range byDate {
		dates = append(dates, d)
	}
	sort.Strings(dates)

	for i, d := range dates {
		if err := ctx.Err(); err != nil {
			return dates[:i], err
		}
		data, err := w.encode(byDate[d])
		if err != nil {
			return dates[:i], errors.Wrapf(err, "encoding %s", d)
		}
		if err := file.WriteAtomic(w.Path(d), data); err != nil {
			return dates[:i], err
		}
		w.log.Printf("dt=%s: %d rows -> %s", d, len(byDate[d]), w.Path(d))
	}
	return dates, nil
}

func (w *Writer) encode(trips []cabs.StagedTrip) ([]byte, error) {
	b := array.NewRecordBuilder(w.mem, Schema)
	defer b.Release()
	for i := range trips {
		for j, c := range columns {
			c.append(b.Field(j), &trips[i])
		}
	}
	rec := b.NewRecord()
	defer rec.Release()

	var buf bytes.Buffer
	props := pq.NewWriterProperties(pq.WithCompression(compress.Codecs.Snappy), pq.WithAllocator(w.mem))
	fw, err := pqarrow.NewFileWriter(Schema, &buf, props, pqarrow.DefaultWriterProps())
	if err != nil {
		return nil, errors.Wrap(err, "creating parquet writer")
	}
	if err := fw.Write(rec); err != nil {
		fw.Close()
		return nil, errors.Wrap(err, "writing record")
	}
	if err := fw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing parquet writer")
	}
	return buf.Bytes(), nil
}
