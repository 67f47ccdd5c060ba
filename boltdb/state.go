// Package boltdb provides a cabs.StateStore backed by a boltdb file. It suits
// deployments where the run state should live next to a local staged-trip
// store rather than in a loose JSON file.
package boltdb

import (
	"context"
	"time"

	"github.com/boltdb/bolt"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

var (
	stateBucket = []byte("state")
	// DefaultKey is the key the state is stored under when none is given.
	DefaultKey = "ingest"
)

// StateStore keeps the state of one pipeline under a key in a bolt bucket.
type StateStore struct {
	Db  *bolt.DB
	key []byte
}

type stateDoc struct {
	Watermark      time.Time `json:"last_watermark"`
	LastRun        time.Time `json:"last_run_utc"`
	RowsDownloaded int       `json:"rows_downloaded"`
}

// NewStateStore opens (creating if needed) the bolt file at filename. An
// empty key means DefaultKey.
func NewStateStore(filename, key string) (*StateStore, error) {
	if key == "" {
		key = DefaultKey
	}
	db, err := bolt.Open(filename, 0600, &bolt.Options{Timeout: 1 * time.Second})
	if err != nil {
		return nil, errors.Wrapf(err, "opening db file '%v'", filename)
	}
	err = db.Update(func(tx *bolt.Tx) error {
		_, err := tx.CreateBucketIfNotExists(stateBucket)
		return errors.Wrap(err, "creating state bucket")
	})
	if err != nil {
		db.Close()
		return nil, errors.Wrap(err, "ensuring bucket existence")
	}
	return &StateStore{Db: db, key: []byte(key)}, nil
}

// Close syncs and closes the underlying boltdb.
func (s *StateStore) Close() error {
	err := s.Db.Sync()
	if err != nil {
		return errors.Wrap(err, "syncing db")
	}
	return s.Db.Close()
}

// Load implements cabs.StateStore.
func (s *StateStore) Load(ctx context.Context) (*cabs.State, error) {
	var state *cabs.State
	err := s.Db.View(func(tx *bolt.Tx) error {
		val := tx.Bucket(stateBucket).Get(s.key)
		if val == nil {
			return nil
		}
		var doc stateDoc
		if err := json.Unmarshal(val, &doc); err != nil {
			return errors.Wrap(err, "decoding state")
		}
		state = &cabs.State{
			Watermark:      doc.Watermark,
			LastRun:        doc.LastRun,
			RowsDownloaded: doc.RowsDownloaded,
		}
		return nil
	})
	return state, err
}

// Save implements cabs.StateStore. The value is replaced inside a single bolt
// transaction.
func (s *StateStore) Save(ctx context.Context, state cabs.State) error {
	val, err := json.Marshal(stateDoc{
		Watermark:      state.Watermark.UTC(),
		LastRun:        state.LastRun.UTC(),
		RowsDownloaded: state.RowsDownloaded,
	})
	if err != nil {
		return errors.Wrap(err, "encoding state")
	}
	return s.Db.Update(func(tx *bolt.Tx) error {
		return errors.Wrap(tx.Bucket(stateBucket).Put(s.key, val), "putting state")
	})
}
