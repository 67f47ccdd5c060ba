package postgres

import (
	"context"
	"database/sql/driver"
	"regexp"
	"strings"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/test"
)

func stagedFixture(t *testing.T) []cabs.StagedTrip {
	t.Helper()
	staged, rep := cabs.NewDeduplicator().Dedupe([]cabs.RawTrip{
		test.Trip("a", "t1", "2024-01-10T08:00:00.000"),
		test.Trip("b", "t2", "2024-01-10T09:00:00.000"),
		test.Trip("c", "t3", "2024-01-11T10:00:00.000"),
	})
	require.Empty(t, rep.Errors())
	require.Len(t, staged, 3)
	return staged
}

func TestUpsertSQL(t *testing.T) {
	q := upsertSQL("stg_trips", 2)
	assert.True(t, strings.HasPrefix(q, "INSERT INTO stg_trips (business_key, trip_id, "))
	assert.Contains(t, q, "($32, $33, ")
	assert.Contains(t, q, "$62)")
	assert.NotContains(t, q, "$63")
	assert.Contains(t, q, "ON CONFLICT (business_key) DO UPDATE SET trip_id = EXCLUDED.trip_id")
	assert.NotContains(t, q, "business_key = EXCLUDED")
	assert.NotContains(t, q, "first_loaded_at")
	assert.True(t, strings.HasSuffix(q, "RETURNING (xmax = 0) AS inserted"))
}

func TestStoreUpsert(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	staged := stagedFixture(t)
	insert := regexp.QuoteMeta("INSERT INTO stg_trips")
	mock.ExpectBegin()
	mock.ExpectQuery(insert).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true).AddRow(false))
	mock.ExpectQuery(insert).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectCommit()

	s := NewStore(db, OptStoreBatchSize(2))
	res, err := s.Upsert(context.Background(), cabs.Batch{ID: "run-1", Trips: staged})
	require.NoError(t, err)
	assert.Equal(t, cabs.UpsertResult{Inserted: 2, Updated: 1}, res)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreBatchSizeClamped(t *testing.T) {
	db, _, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	assert.Equal(t, 2114, MaxBatchSize)
	assert.Equal(t, MaxBatchSize, NewStore(db, OptStoreBatchSize(5000)).batchSize)
	assert.Equal(t, 500, NewStore(db, OptStoreBatchSize(500)).batchSize)
	assert.LessOrEqual(t, MaxBatchSize*len(columns), maxParams)
}

func TestStoreUpsertArgs(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	staged := stagedFixture(t)[:1]
	args := make([]driver.Value, len(columns))
	for i := range args {
		args[i] = sqlmock.AnyArg()
	}
	args[0] = string(staged[0].BusinessKey)
	args[1] = staged[0].TripID
	args[2] = staged[0].TaxiID
	args[len(args)-1] = nil // no :updated_at in the fixture
	mock.ExpectBegin()
	mock.ExpectQuery(regexp.QuoteMeta("INSERT INTO stg_trips")).WithArgs(args...).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true))
	mock.ExpectCommit()

	res, err := NewStore(db).Upsert(context.Background(), cabs.Batch{ID: "run-1", Trips: staged})
	require.NoError(t, err)
	assert.Equal(t, 1, res.Inserted)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestStoreUpsertRollsBack(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	staged := stagedFixture(t)
	insert := regexp.QuoteMeta("INSERT INTO stg_trips")
	mock.ExpectBegin()
	mock.ExpectQuery(insert).
		WillReturnRows(sqlmock.NewRows([]string{"inserted"}).AddRow(true).AddRow(true))
	mock.ExpectQuery(insert).WillReturnError(errors.New("connection reset"))
	mock.ExpectRollback()

	s := NewStore(db, OptStoreBatchSize(2))
	res, err := s.Upsert(context.Background(), cabs.Batch{ID: "run-2", Trips: staged})
	require.Error(t, err)
	assert.Equal(t, cabs.UpsertResult{}, res)

	ube, ok := err.(*cabs.UpsertBatchError)
	require.True(t, ok, "got %T", err)
	assert.Equal(t, "run-2", ube.Batch)
	assert.Equal(t, 3, ube.Rows)
	assert.Equal(t, "connection reset", errors.Cause(err).Error())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnsureSchema(t *testing.T) {
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	defer db.Close()

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS stg_trips")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE INDEX IF NOT EXISTS stg_trips_trip_date_idx")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("CREATE TABLE IF NOT EXISTS pipeline_state")).WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectCommit()

	require.NoError(t, EnsureSchema(context.Background(), db))
	require.NoError(t, mock.ExpectationsWereMet())
}
