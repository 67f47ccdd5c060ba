package cabs

import (
	"fmt"
	"time"
)

// InvalidRecordError is returned for a raw record which can not be keyed or
// typed. The record is left out of staging and the run continues.
type InvalidRecordError struct {
	TripID string
	Field  string
	Reason string
}

func (e *InvalidRecordError) Error() string {
	id := e.TripID
	if id == "" {
		id = "<no trip_id>"
	}
	return fmt.Sprintf("invalid record %s: field %s: %s", id, e.Field, e.Reason)
}

// InvalidWindowError is returned when a planned window would start after it
// ends. It is fatal and is detected before anything is fetched.
type InvalidWindowError struct {
	Start time.Time
	End   time.Time
}

func (e *InvalidWindowError) Error() string {
	return fmt.Sprintf("invalid window: start %s is after end %s", e.Start.Format(time.RFC3339), e.End.Format(time.RFC3339))
}

// DeduplicationConflictError is reported for a business key whose records
// disagree about the trip's calendar date. Only that key is skipped.
type DeduplicationConflictError struct {
	Key   BusinessKey
	Dates []string
}

func (e *DeduplicationConflictError) Error() string {
	return fmt.Sprintf("conflicting records for key %s: trip dates %v", e.Key, e.Dates)
}

// UpsertBatchError is returned when a batch could not be committed. Nothing in
// the batch was written.
type UpsertBatchError struct {
	Batch string
	Rows  int
	Err   error
}

func (e *UpsertBatchError) Error() string {
	return fmt.Sprintf("upserting batch %s (%d rows): %v", e.Batch, e.Rows, e.Err)
}

// Cause returns the underlying error for github.com/pkg/errors.
func (e *UpsertBatchError) Cause() error { return e.Err }

// Unwrap returns the underlying error for the standard errors package.
func (e *UpsertBatchError) Unwrap() error { return e.Err }

// WatermarkRegressionError is returned by Tracker.Advance when asked to move
// the watermark backwards. The stored value is left alone.
type WatermarkRegressionError struct {
	Stored   time.Time
	Proposed time.Time
}

func (e *WatermarkRegressionError) Error() string {
	return fmt.Sprintf("watermark regression: stored %s, proposed %s", e.Stored.Format(time.RFC3339), e.Proposed.Format(time.RFC3339))
}
