package cabs

import (
	"context"
	"time"

	"github.com/pkg/errors"
)

// State is what a run persists between invocations. Only Watermark drives
// planning; the rest describes the last successful run.
type State struct {
	Watermark      time.Time
	LastRun        time.Time
	RowsDownloaded int
}

// StateStore persists State. Load returns a nil State and no error when
// nothing has been saved yet. Save must replace the stored value atomically.
type StateStore interface {
	Load(ctx context.Context) (*State, error)
	Save(ctx context.Context, s State) error
}

// Tracker reads and advances the watermark kept in a StateStore.
type Tracker struct {
	store StateStore
	log   Logger
}

// TrackerOption configures a Tracker.
type TrackerOption func(*Tracker)

// OptTrackerLogger sets the Tracker's logger.
func OptTrackerLogger(l Logger) TrackerOption {
	return func(t *Tracker) {
		t.log = l
	}
}

// NewTracker returns a Tracker backed by store.
func NewTracker(store StateStore, opts ...TrackerOption) *Tracker {
	t := &Tracker{
		store: store,
		log:   NopLogger{},
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Read returns the stored watermark. ok is false on the first run, when no
// watermark has been stored.
func (t *Tracker) Read(ctx context.Context) (wm time.Time, ok bool, err error) {
	s, err := t.store.Load(ctx)
	if err != nil {
		return time.Time{}, false, errors.Wrap(err, "loading state")
	}
	if s == nil || s.Watermark.IsZero() {
		return time.Time{}, false, nil
	}
	return s.Watermark.UTC(), true, nil
}

// Advance stores wm as the new watermark. It must only be called once the
// data up to wm is durably written. A value older than the stored one is
// rejected with a *WatermarkRegressionError; an equal value is a no-op.
func (t *Tracker) Advance(ctx context.Context, wm time.Time) error {
	s, err := t.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "loading state")
	}
	next := State{}
	if s != nil {
		next = *s
		if wm.Before(s.Watermark) {
			return &WatermarkRegressionError{Stored: s.Watermark.UTC(), Proposed: wm.UTC()}
		}
		if wm.Equal(s.Watermark) {
			t.log.Debugf("watermark already at %s", wm.UTC().Format(time.RFC3339))
			return nil
		}
	}
	next.Watermark = wm.UTC()
	if err := t.store.Save(ctx, next); err != nil {
		return errors.Wrap(err, "saving state")
	}
	t.log.Printf("watermark advanced to %s", next.Watermark.Format(time.RFC3339))
	return nil
}

// RecordRun stores the bookkeeping of a successful run without touching the
// watermark.
func (t *Tracker) RecordRun(ctx context.Context, at time.Time, rows int) error {
	s, err := t.store.Load(ctx)
	if err != nil {
		return errors.Wrap(err, "loading state")
	}
	next := State{}
	if s != nil {
		next = *s
	}
	next.LastRun = at.UTC()
	next.RowsDownloaded = rows
	return errors.Wrap(t.store.Save(ctx, next), "saving state")
}
