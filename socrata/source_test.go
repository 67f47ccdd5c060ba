package socrata_test

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strconv"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/socrata"
	"github.com/windycity/cabs/test"
)

var window = cabs.Window{
	Start: time.Date(2024, 1, 9, 18, 0, 0, 0, time.UTC),
	End:   time.Date(2024, 1, 11, 0, 0, 0, 0, time.UTC),
}

func row(i int) string {
	return fmt.Sprintf(`{"trip_id":"t%d","taxi_id":"x","trip_start_timestamp":"2024-01-10T0%d:00:00.000",":updated_at":"2024-01-12T00:00:00.000Z"}`, i, i)
}

func TestWhere(t *testing.T) {
	assert.Equal(t,
		"trip_start_timestamp >= '2024-01-09T18:00:00' AND trip_start_timestamp < '2024-01-11T00:00:00'",
		socrata.Where(window))
}

func TestFetchPages(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		n := atomic.AddInt32(&calls, 1)
		if n == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("$limit"))
		assert.Equal(t, socrata.Where(window), q.Get("$where"))
		assert.Equal(t, "trip_start_timestamp ASC", q.Get("$order"))
		assert.Equal(t, ":*,*", q.Get("$select"))
		assert.Equal(t, "secret", r.Header.Get("X-App-Token"))

		offset, _ := strconv.Atoi(q.Get("$offset"))
		switch offset {
		case 0:
			fmt.Fprintf(w, "[%s,%s]", row(1), row(2))
		case 2:
			fmt.Fprintf(w, "[%s]", row(3))
		default:
			t.Errorf("unexpected offset %d", offset)
		}
	}))
	defer srv.Close()

	src := socrata.NewSource(
		socrata.OptURL(srv.URL),
		socrata.OptAppToken("secret"),
		socrata.OptPageSize(2),
		socrata.OptRetry(3, time.Millisecond, 5*time.Millisecond),
		socrata.OptRate(1000),
	)
	trips, err := src.Fetch(context.Background(), window)
	require.NoError(t, err)
	require.Len(t, trips, 3)
	assert.Equal(t, cabs.Value("t3"), trips[2].TripID)
	assert.Equal(t, cabs.Value("2024-01-12T00:00:00.000Z"), trips[0].UpdatedAt)
	assert.NotEmpty(t, trips[0].Raw)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchEmptyExactPage(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("$offset") == "0" {
			fmt.Fprintf(w, "[%s]", row(1))
			return
		}
		fmt.Fprint(w, "[]")
	}))
	defer srv.Close()

	trips, err := socrata.NewSource(socrata.OptURL(srv.URL), socrata.OptPageSize(1)).Fetch(context.Background(), window)
	require.NoError(t, err)
	assert.Len(t, trips, 1)
}

func TestFetchGivesUp(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := socrata.NewSource(
		socrata.OptURL(srv.URL),
		socrata.OptRetry(3, time.Millisecond, 2*time.Millisecond),
	).Fetch(context.Background(), window)
	assert.Error(t, err)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestFetchClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
		fmt.Fprint(w, `{"message":"bad soql"}`)
	}))
	defer srv.Close()

	_, err := socrata.NewSource(
		socrata.OptURL(srv.URL),
		socrata.OptRetry(3, time.Millisecond, 2*time.Millisecond),
	).Fetch(context.Background(), window)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad soql")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestFetchFeedsDeduplicator(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprintf(w, "[%s,%s]", row(1), row(1))
	}))
	defer srv.Close()

	trips, err := socrata.NewSource(socrata.OptURL(srv.URL)).Fetch(context.Background(), window)
	require.NoError(t, err)
	staged, report := cabs.NewDeduplicator().Dedupe(trips)
	require.Len(t, staged, 1)
	assert.Equal(t, 1, report.Duplicates)
	assert.Equal(t, test.MustTime(t, "2024-01-12T00:00:00Z"), staged[0].ObservedAt)
}
