package parquet

import (
	"context"
	"os"
	"testing"

	"github.com/apache/arrow/go/v18/arrow/array"
	pqfile "github.com/apache/arrow/go/v18/parquet/file"
	"github.com/apache/arrow/go/v18/parquet/pqarrow"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/test"
)

func readSnapshot(t *testing.T, path string) (keys []string, fares []*float64) {
	t.Helper()
	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	pf, err := pqfile.NewParquetReader(f)
	require.NoError(t, err)
	defer pf.Close()
	fr, err := pqarrow.NewFileReader(pf, pqarrow.ArrowReadProperties{}, nil)
	require.NoError(t, err)

	tbl, err := fr.ReadTable(context.Background())
	require.NoError(t, err)
	defer tbl.Release()
	require.Equal(t, int64(len(columns)), tbl.NumCols())

	tr := array.NewTableReader(tbl, 0)
	defer tr.Release()
	for tr.Next() {
		rec := tr.Record()
		k := rec.Column(0).(*array.String)
		fare := rec.Column(11).(*array.Float64)
		for i := 0; i < int(rec.NumRows()); i++ {
			keys = append(keys, k.Value(i))
			if fare.IsNull(i) {
				fares = append(fares, nil)
			} else {
				v := fare.Value(i)
				fares = append(fares, &v)
			}
		}
	}
	return keys, fares
}

func TestWriterPartitionsByTripDate(t *testing.T) {
	staged, rep := cabs.NewDeduplicator().Dedupe([]cabs.RawTrip{
		test.Trip("a", "t1", "2024-01-10T08:00:00.000"),
		test.Trip("b", "t2", "2024-01-10T09:00:00.000", test.Without("fare")),
		test.Trip("c", "t3", "2024-01-11T10:00:00.000"),
	})
	require.Empty(t, rep.Errors())

	root := t.TempDir()
	w := NewWriter(root)
	dates, err := w.Write(context.Background(), staged)
	require.NoError(t, err)
	assert.Equal(t, []string{"2024-01-10", "2024-01-11"}, dates)

	keys, fares := readSnapshot(t, w.Path("2024-01-10"))
	require.Len(t, keys, 2)
	nulls := 0
	for i, k := range keys {
		assert.Len(t, k, 64)
		if fares[i] == nil {
			nulls++
		} else {
			assert.Equal(t, 12.25, *fares[i])
		}
	}
	assert.Equal(t, 1, nulls)

	keys, _ = readSnapshot(t, w.Path("2024-01-11"))
	assert.Len(t, keys, 1)

	// A rewrite replaces the snapshot rather than appending to it.
	_, err = w.Write(context.Background(), staged[:1])
	require.NoError(t, err)
	d := staged[0].TripDate.Format("2006-01-02")
	keys, _ = readSnapshot(t, w.Path(d))
	assert.Equal(t, []string{string(staged[0].BusinessKey)}, keys)
}

func TestSchemaColumnNames(t *testing.T) {
	assert.Equal(t, "business_key", Schema.Field(0).Name)
	assert.Equal(t, "fare", Schema.Field(11).Name)
	assert.Equal(t, "observed_at", Schema.Field(Schema.NumFields()-1).Name)
}
