package mock

import (
	"context"
	"sort"

	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// StateStore keeps cabs.State in memory. Saves counts calls to Save.
type StateStore struct {
	State   *cabs.State
	Saves   int
	LoadErr error
	SaveErr error
}

// Load implements cabs.StateStore.
func (s *StateStore) Load(ctx context.Context) (*cabs.State, error) {
	if s.LoadErr != nil {
		return nil, s.LoadErr
	}
	if s.State == nil {
		return nil, nil
	}
	st := *s.State
	return &st, nil
}

// Save implements cabs.StateStore.
func (s *StateStore) Save(ctx context.Context, st cabs.State) error {
	if s.SaveErr != nil {
		return s.SaveErr
	}
	s.Saves++
	s.State = &st
	return nil
}

// Upserter keeps staged trips in memory by business key. If FailAfter is
// positive, a batch fails after that many rows, leaving the store untouched.
type Upserter struct {
	Rows      map[cabs.BusinessKey]cabs.StagedTrip
	Batches   []string
	FailAfter int
}

// Upsert implements cabs.Upserter.
func (u *Upserter) Upsert(ctx context.Context, b cabs.Batch) (cabs.UpsertResult, error) {
	if u.Rows == nil {
		u.Rows = make(map[cabs.BusinessKey]cabs.StagedTrip)
	}
	pending := make(map[cabs.BusinessKey]cabs.StagedTrip, len(u.Rows))
	for k, v := range u.Rows {
		pending[k] = v
	}
	var res cabs.UpsertResult
	for i, t := range b.Trips {
		if u.FailAfter > 0 && i >= u.FailAfter {
			return cabs.UpsertResult{}, &cabs.UpsertBatchError{Batch: b.ID, Rows: len(b.Trips), Err: errors.New("injected failure")}
		}
		if _, ok := pending[t.BusinessKey]; ok {
			res.Updated++
		} else {
			res.Inserted++
		}
		pending[t.BusinessKey] = t
	}
	u.Rows = pending
	u.Batches = append(u.Batches, b.ID)
	return res, nil
}

// Sorted returns the stored rows ordered by business key.
func (u *Upserter) Sorted() []cabs.StagedTrip {
	out := make([]cabs.StagedTrip, 0, len(u.Rows))
	for _, t := range u.Rows {
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].BusinessKey < out[j].BusinessKey })
	return out
}

// Source returns Trips filtered to the requested window and records every
// window it was asked for.
type Source struct {
	Trips   []cabs.RawTrip
	Windows []cabs.Window
	Err     error
}

// Fetch implements cabs.Source.
func (s *Source) Fetch(ctx context.Context, w cabs.Window) ([]cabs.RawTrip, error) {
	s.Windows = append(s.Windows, w)
	if s.Err != nil {
		return nil, s.Err
	}
	return cabs.FilterWindow(s.Trips, w), nil
}

// Publisher records published trips.
type Publisher struct {
	Published []cabs.StagedTrip
	Err       error
}

// Publish implements cabs.Publisher.
func (p *Publisher) Publish(ctx context.Context, trips []cabs.StagedTrip) error {
	if p.Err != nil {
		return p.Err
	}
	p.Published = append(p.Published, trips...)
	return nil
}
