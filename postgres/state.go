package postgres

import (
	"context"
	"database/sql"

	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// StateTable holds one row of run state per pipeline name.
const StateTable = "pipeline_state"

// StateStore is a cabs.StateStore keeping the state in the same database as
// the trips.
type StateStore struct {
	db   *sql.DB
	name string
}

// NewStateStore returns a StateStore for the named pipeline.
func NewStateStore(db *sql.DB, name string) *StateStore {
	if name == "" {
		name = "ingest"
	}
	return &StateStore{db: db, name: name}
}

// Load implements cabs.StateStore.
func (s *StateStore) Load(ctx context.Context) (*cabs.State, error) {
	var wm, lastRun sql.NullTime
	var rows int64
	err := s.db.QueryRowContext(ctx,
		`SELECT last_watermark, last_run_utc, rows_downloaded FROM `+StateTable+` WHERE name = $1`,
		s.name).Scan(&wm, &lastRun, &rows)
	if err == sql.ErrNoRows {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrap(err, "loading state")
	}
	st := &cabs.State{RowsDownloaded: int(rows)}
	if wm.Valid {
		st.Watermark = wm.Time.UTC()
	}
	if lastRun.Valid {
		st.LastRun = lastRun.Time.UTC()
	}
	return st, nil
}

// Save implements cabs.StateStore with a single upsert statement.
func (s *StateStore) Save(ctx context.Context, st cabs.State) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO `+StateTable+` (name, last_watermark, last_run_utc, rows_downloaded) VALUES ($1, $2, $3, $4)
		ON CONFLICT (name) DO UPDATE SET last_watermark = EXCLUDED.last_watermark,
			last_run_utc = EXCLUDED.last_run_utc, rows_downloaded = EXCLUDED.rows_downloaded`,
		s.name, nullTime(&st.Watermark), nullTime(&st.LastRun), st.RowsDownloaded)
	return errors.Wrap(err, "saving state")
}
