package cabs

import (
	"context"

	"github.com/google/uuid"
)

// Batch is a set of staged trips written in one transaction. ID names the
// batch in errors and logs.
type Batch struct {
	ID    string
	Trips []StagedTrip
}

// NewBatch returns a batch with a fresh random ID.
func NewBatch(trips []StagedTrip) Batch {
	return Batch{ID: uuid.New().String(), Trips: trips}
}

// UpsertResult counts what an Upsert did.
type UpsertResult struct {
	Inserted int
	Updated  int
}

// Add returns the sum of r and o.
func (r UpsertResult) Add(o UpsertResult) UpsertResult {
	return UpsertResult{Inserted: r.Inserted + o.Inserted, Updated: r.Updated + o.Updated}
}

// Upserter merges staged trips into a store by business key. A key that is
// absent is inserted; a present key has all of its other fields replaced.
// Upsert is atomic: either every trip in the batch is written or none is, in
// which case the error is an *UpsertBatchError.
type Upserter interface {
	Upsert(ctx context.Context, b Batch) (UpsertResult, error)
}
