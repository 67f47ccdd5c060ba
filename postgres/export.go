package postgres

import (
	"context"
	"database/sql"
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// ExportResult is the number of rows written per table.
type ExportResult map[string]int

// Export writes each of tables (all marts if empty) to <dir>/<table>.csv with
// a header row. Only mart tables may be exported.
func Export(ctx context.Context, db *sql.DB, dir string, tables []string, log cabs.Logger) (ExportResult, error) {
	if log == nil {
		log = cabs.NopLogger{}
	}
	if len(tables) == 0 {
		tables = MartTables
	}
	for _, t := range tables {
		if _, ok := martSQL[t]; !ok {
			return nil, errors.Errorf("%q is not a mart table", t)
		}
	}
	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", dir)
	}
	res := ExportResult{}
	for _, t := range tables {
		n, err := exportTable(ctx, db, t, filepath.Join(dir, t+".csv"))
		if err != nil {
			return res, errors.Wrapf(err, "exporting %s", t)
		}
		log.Printf("%s: %d rows exported", t, n)
		res[t] = n
	}
	return res, nil
}

func exportTable(ctx context.Context, db *sql.DB, table, path string) (n int, err error) {
	rows, err := db.QueryContext(ctx, `SELECT * FROM `+table)
	if err != nil {
		return 0, errors.Wrap(err, "querying")
	}
	defer rows.Close()
	cols, err := rows.Columns()
	if err != nil {
		return 0, errors.Wrap(err, "getting columns")
	}

	f, err := os.Create(path)
	if err != nil {
		return 0, errors.Wrapf(err, "creating %s", path)
	}
	defer func() {
		if cerr := f.Close(); err == nil && cerr != nil {
			err = errors.Wrap(cerr, "closing")
		}
	}()
	w := csv.NewWriter(f)
	if err := w.Write(cols); err != nil {
		return 0, errors.Wrap(err, "writing header")
	}

	vals := make([]interface{}, len(cols))
	ptrs := make([]interface{}, len(cols))
	for i := range vals {
		ptrs[i] = &vals[i]
	}
	record := make([]string, len(cols))
	for rows.Next() {
		if err := rows.Scan(ptrs...); err != nil {
			return n, errors.Wrap(err, "scanning")
		}
		for i, v := range vals {
			record[i] = formatCell(v)
		}
		if err := w.Write(record); err != nil {
			return n, errors.Wrap(err, "writing row")
		}
		n++
	}
	if err := rows.Err(); err != nil {
		return n, errors.Wrap(err, "iterating")
	}
	w.Flush()
	return n, errors.Wrap(w.Error(), "flushing")
}

func formatCell(v interface{}) string {
	switch v := v.(type) {
	case nil:
		return ""
	case []byte:
		return string(v)
	case string:
		return v
	case float64:
		return strconv.FormatFloat(v, 'f', -1, 64)
	case float32:
		return strconv.FormatFloat(float64(v), 'f', -1, 32)
	case time.Time:
		if v.Hour() == 0 && v.Minute() == 0 && v.Second() == 0 && v.Nanosecond() == 0 {
			return v.Format("2006-01-02")
		}
		return v.UTC().Format(time.RFC3339)
	default:
		return fmt.Sprint(v)
	}
}
