package cabs

import (
	"sort"
	"time"
)

// DedupeReport describes what Dedupe left out.
type DedupeReport struct {
	Input      int
	Duplicates int
	Invalid    []error
	Conflicts  []*DeduplicationConflictError
}

// Errors returns every per-record error in the report.
func (r *DedupeReport) Errors() []error {
	errs := make([]error, 0, len(r.Invalid)+len(r.Conflicts))
	errs = append(errs, r.Invalid...)
	for _, c := range r.Conflicts {
		errs = append(errs, c)
	}
	return errs
}

// Deduplicator turns raw records into one StagedTrip per business key.
type Deduplicator struct {
	Keyer *Keyer
	// Location is where calendar attributes are computed. Nil means UTC.
	Location     *time.Location
	Outliers     OutlierPolicy
	Transformers []Transformer
	Log          Logger
}

// NewDeduplicator returns a Deduplicator using the default key, UTC and the
// default outlier policy.
func NewDeduplicator() *Deduplicator {
	return &Deduplicator{
		Keyer:    DefaultKeyer,
		Location: time.UTC,
		Outliers: DefaultOutlierPolicy(),
		Log:      NopLogger{},
	}
}

type candidate struct {
	pos  int
	trip StagedTrip
}

// Dedupe groups records by business key and keeps, for each key, the record
// with the latest observation time; ties go to the record appearing later in
// records. A key whose records disagree on the trip date is reported as a
// conflict and dropped. The result is sorted by business key.
func (d *Deduplicator) Dedupe(records []RawTrip) ([]StagedTrip, *DedupeReport) {
	keyer := d.Keyer
	if keyer == nil {
		keyer = DefaultKeyer
	}
	log := d.Log
	if log == nil {
		log = NopLogger{}
	}
	report := &DedupeReport{Input: len(records)}

	groups := make(map[BusinessKey][]candidate)
	valid := 0
	for i := range records {
		rec := &records[i]
		key, err := keyer.Key(rec)
		if err != nil {
			log.Debugf("skipping record: %v", err)
			report.Invalid = append(report.Invalid, err)
			continue
		}
		st, err := stage(rec, key, d.Location)
		if err != nil {
			log.Debugf("skipping record: %v", err)
			report.Invalid = append(report.Invalid, err)
			continue
		}
		valid++
		groups[key] = append(groups[key], candidate{pos: i, trip: st})
	}

	keys := make([]BusinessKey, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })

	out := make([]StagedTrip, 0, len(keys))
	for _, key := range keys {
		members := groups[key]
		if c := dateConflict(key, members); c != nil {
			log.Printf("%v", c)
			report.Conflicts = append(report.Conflicts, c)
			continue
		}
		winner := members[0]
		for _, m := range members[1:] {
			if !m.trip.ObservedAt.Before(winner.trip.ObservedAt) {
				winner = m
			}
		}
		st := winner.trip
		if err := d.transform(&st); err != nil {
			log.Debugf("skipping record: %v", err)
			report.Invalid = append(report.Invalid, err)
			continue
		}
		out = append(out, st)
	}
	report.Duplicates = valid - len(groups)

	if d.Outliers != nil {
		d.Outliers.Apply(out)
	}
	return out, report
}

func (d *Deduplicator) transform(st *StagedTrip) error {
	for _, t := range d.Transformers {
		if err := t.Transform(st); err != nil {
			return &InvalidRecordError{TripID: st.TripID, Field: "transform", Reason: err.Error()}
		}
	}
	return nil
}

// dateConflict returns a conflict if the members of a group fall on
// different trip dates.
func dateConflict(key BusinessKey, members []candidate) *DeduplicationConflictError {
	first := members[0].trip.TripDate
	conflict := false
	for _, m := range members[1:] {
		if !m.trip.TripDate.Equal(first) {
			conflict = true
			break
		}
	}
	if !conflict {
		return nil
	}
	seen := make(map[string]bool)
	var dates []string
	for _, m := range members {
		s := m.trip.TripDate.Format("2006-01-02")
		if !seen[s] {
			seen[s] = true
			dates = append(dates, s)
		}
	}
	sort.Strings(dates)
	return &DeduplicationConflictError{Key: key, Dates: dates}
}
