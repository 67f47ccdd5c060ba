package leveldb_test

import (
	"context"
	"sort"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/leveldb"
	"github.com/windycity/cabs/test"
)

func staged(t *testing.T, raws ...cabs.RawTrip) []cabs.StagedTrip {
	t.Helper()
	out, report := cabs.NewDeduplicator().Dedupe(raws)
	require.Empty(t, report.Errors())
	return out
}

func TestStoreUpsert(t *testing.T) {
	ctx := context.Background()
	s, err := leveldb.NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	first := staged(t,
		test.Trip("t1", "aaa", "2024-01-10T08:00:00.000"),
		test.Trip("t2", "bbb", "2024-01-10T09:00:00.000"),
	)
	res, err := s.Upsert(ctx, cabs.NewBatch(first))
	require.NoError(t, err)
	assert.Equal(t, cabs.UpsertResult{Inserted: 2}, res)

	corrected := staged(t,
		test.Trip("t1", "aaa", "2024-01-10T08:00:00.000", test.Fare("30")),
		test.Trip("t3", "ccc", "2024-01-10T10:00:00.000"),
	)
	res, err = s.Upsert(ctx, cabs.NewBatch(corrected))
	require.NoError(t, err)
	assert.Equal(t, cabs.UpsertResult{Inserted: 1, Updated: 1}, res)

	for _, c := range corrected {
		got, err := s.Get(c.BusinessKey)
		require.NoError(t, err)
		require.NotNil(t, got)
		assert.Equal(t, *c.Fare, *got.Fare)
	}

	var keys []cabs.BusinessKey
	require.NoError(t, s.Scan(func(st cabs.StagedTrip) error {
		keys = append(keys, st.BusinessKey)
		return nil
	}))
	assert.Len(t, keys, 3)
	assert.True(t, sort.SliceIsSorted(keys, func(i, j int) bool { return keys[i] < keys[j] }))

	missing, err := s.Get("nope")
	require.NoError(t, err)
	assert.Nil(t, missing)
}

func TestStoreUpsertIdempotent(t *testing.T) {
	ctx := context.Background()
	s, err := leveldb.NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	batch := staged(t, test.Trip("t1", "aaa", "2024-01-10T08:00:00.000"))
	_, err = s.Upsert(ctx, cabs.NewBatch(batch))
	require.NoError(t, err)
	before, err := s.Get(batch[0].BusinessKey)
	require.NoError(t, err)

	res, err := s.Upsert(ctx, cabs.NewBatch(batch))
	require.NoError(t, err)
	assert.Equal(t, cabs.UpsertResult{Updated: 1}, res)
	after, err := s.Get(batch[0].BusinessKey)
	require.NoError(t, err)
	assert.Equal(t, before, after)
}

func TestStoreCancelledContextWritesNothing(t *testing.T) {
	s, err := leveldb.NewStore(t.TempDir())
	require.NoError(t, err)
	defer s.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b := cabs.NewBatch(staged(t, test.Trip("t1", "aaa", "2024-01-10T08:00:00.000")))
	_, err = s.Upsert(ctx, b)
	var batchErr *cabs.UpsertBatchError
	require.ErrorAs(t, err, &batchErr)
	assert.Equal(t, b.ID, batchErr.Batch)

	got, err := s.Get(b.Trips[0].BusinessKey)
	require.NoError(t, err)
	assert.Nil(t, got)
}
