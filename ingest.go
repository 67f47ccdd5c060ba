package cabs

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
)

// Runner executes one incremental run: plan, fetch, land, stage, upsert and
// advance the watermark. Lander and Publisher are optional.
type Runner struct {
	Source    Source
	Lander    Lander
	Tracker   *Tracker
	Planner   Planner
	Deduper   *Deduplicator
	Upserter  Upserter
	Publisher Publisher

	Log   Logger
	Stats Statter

	// Now returns the run's as-of time. Defaults to time.Now.
	Now func() time.Time
}

// Report summarizes a run.
type Report struct {
	RunID  string
	Window Window

	Fetched     int
	LandedFiles int
	Staged      int
	Duplicates  int
	Invalid     int
	Conflicts   int
	Upsert      UpsertResult
	Published   int

	PrevWatermark time.Time
	HadWatermark  bool
	Watermark     time.Time
	Advanced      bool

	// RecordErrors holds the per-record errors which did not stop the run.
	RecordErrors *multierror.Error
	// PublishError is set when the change feed could not be written. The
	// batch is committed regardless.
	PublishError error
	Duration     time.Duration
}

// Print writes the report through l.
func (r *Report) Print(l Logger) {
	l.Printf("run %s window %s", r.RunID, r.Window)
	l.Printf("fetched=%d landed_files=%d staged=%d duplicates=%d invalid=%d conflicts=%d",
		r.Fetched, r.LandedFiles, r.Staged, r.Duplicates, r.Invalid, r.Conflicts)
	l.Printf("inserted=%d updated=%d published=%d", r.Upsert.Inserted, r.Upsert.Updated, r.Published)
	if r.Advanced {
		l.Printf("watermark %s", r.Watermark.Format(time.RFC3339))
	}
	if r.RecordErrors != nil {
		for _, err := range r.RecordErrors.Errors {
			l.Debugf("record error: %v", err)
		}
	}
	if r.PublishError != nil {
		l.Printf("publish failed: %v", r.PublishError)
	}
	l.Printf("took %s", r.Duration)
}

func (r *Runner) init() error {
	if r.Source == nil {
		return errors.New("runner has no source")
	}
	if r.Tracker == nil {
		return errors.New("runner has no tracker")
	}
	if r.Deduper == nil {
		r.Deduper = NewDeduplicator()
	}
	if r.Log == nil {
		r.Log = NopLogger{}
	}
	if r.Stats == nil {
		r.Stats = NopStatter{}
	}
	if r.Now == nil {
		r.Now = time.Now
	}
	return nil
}

// Ingest plans the window, fetches it and lands the raw records. It neither
// stages nor moves the watermark.
func (r *Runner) Ingest(ctx context.Context) (*Report, []RawTrip, error) {
	if err := r.init(); err != nil {
		return nil, nil, err
	}
	began := time.Now()
	now := r.Now()
	rep := &Report{RunID: uuid.New().String()}
	defer func() {
		rep.Duration = time.Since(began)
	}()

	wm, ok, err := r.Tracker.Read(ctx)
	if err != nil {
		return rep, nil, errors.Wrap(err, "reading watermark")
	}
	rep.PrevWatermark, rep.HadWatermark = wm, ok
	rep.Watermark = wm
	rep.Window, err = r.Planner.Plan(wm, ok, now)
	if err != nil {
		return rep, nil, err
	}
	r.Log.Printf("run %s: fetching %s", rep.RunID, rep.Window)

	trips, err := r.Source.Fetch(ctx, rep.Window)
	if err != nil {
		return rep, nil, errors.Wrapf(err, "fetching %s", rep.Window)
	}
	rep.Fetched = len(trips)
	r.Stats.Count("fetched", int64(len(trips)), 1)

	if r.Lander != nil && len(trips) > 0 {
		n, err := r.Lander.Land(ctx, trips)
		if err != nil {
			return rep, nil, errors.Wrap(err, "landing raw records")
		}
		rep.LandedFiles = n
		r.Stats.Count("landed_files", int64(n), 1)
	}
	return rep, trips, nil
}

// Run executes a complete run. The watermark is advanced only after the
// staged batch has been committed, to the latest trip start time in it, and
// only if that is later than the stored watermark.
func (r *Runner) Run(ctx context.Context) (*Report, error) {
	if r.Upserter == nil {
		return nil, errors.New("runner has no upserter")
	}
	began := time.Now()
	rep, trips, err := r.Ingest(ctx)
	if err != nil {
		return rep, err
	}
	defer func() {
		rep.Duration = time.Since(began)
		r.Stats.Timing("run", rep.Duration, 1)
	}()
	start := r.Now()

	staged, drep := r.Deduper.Dedupe(trips)
	rep.Staged = len(staged)
	rep.Duplicates = drep.Duplicates
	rep.Invalid = len(drep.Invalid)
	rep.Conflicts = len(drep.Conflicts)
	for _, e := range drep.Errors() {
		rep.RecordErrors = multierror.Append(rep.RecordErrors, e)
	}
	r.Stats.Count("staged", int64(len(staged)), 1)
	r.Stats.Count("invalid", int64(rep.Invalid), 1)
	r.Stats.Count("conflicts", int64(rep.Conflicts), 1)

	res, err := r.Upserter.Upsert(ctx, Batch{ID: rep.RunID, Trips: staged})
	if err != nil {
		r.Log.Printf("run %s: upsert failed, watermark stays at %s", rep.RunID, formatWatermark(rep.PrevWatermark, rep.HadWatermark))
		return rep, err
	}
	rep.Upsert = res
	r.Stats.Count("inserted", int64(res.Inserted), 1)
	r.Stats.Count("updated", int64(res.Updated), 1)

	if hwm, found := latestStart(staged); found && (!rep.HadWatermark || hwm.After(rep.PrevWatermark)) {
		if err := r.Tracker.Advance(ctx, hwm); err != nil {
			return rep, errors.Wrap(err, "advancing watermark")
		}
		rep.Watermark = hwm.UTC()
		rep.Advanced = true
	}
	if err := r.Tracker.RecordRun(ctx, start, rep.Fetched); err != nil {
		return rep, errors.Wrap(err, "recording run")
	}

	if r.Publisher != nil && len(staged) > 0 {
		if err := r.Publisher.Publish(ctx, staged); err != nil {
			rep.PublishError = err
		} else {
			rep.Published = len(staged)
			r.Stats.Count("published", int64(len(staged)), 1)
		}
	}
	return rep, nil
}

// Land runs Ingest and then treats the landed raw files as the durable write:
// the watermark moves to the latest parseable trip start among the fetched
// records. It requires a Lander.
func (r *Runner) Land(ctx context.Context) (*Report, error) {
	if r.Lander == nil {
		return nil, errors.New("runner has no lander")
	}
	began := time.Now()
	rep, trips, err := r.Ingest(ctx)
	if err != nil {
		return rep, err
	}
	defer func() {
		rep.Duration = time.Since(began)
		r.Stats.Timing("run", rep.Duration, 1)
	}()
	start := r.Now()

	var hwm time.Time
	for i := range trips {
		if st, err := ParseTimestamp(trips[i].StartTimestamp.String()); err == nil && st.After(hwm) {
			hwm = st
		}
	}
	if !hwm.IsZero() && (!rep.HadWatermark || hwm.After(rep.PrevWatermark)) {
		if err := r.Tracker.Advance(ctx, hwm); err != nil {
			return rep, errors.Wrap(err, "advancing watermark")
		}
		rep.Watermark = hwm.UTC()
		rep.Advanced = true
	}
	if err := r.Tracker.RecordRun(ctx, start, rep.Fetched); err != nil {
		return rep, errors.Wrap(err, "recording run")
	}
	return rep, nil
}

func latestStart(trips []StagedTrip) (time.Time, bool) {
	var max time.Time
	for _, t := range trips {
		if t.StartTime.After(max) {
			max = t.StartTime
		}
	}
	return max, !max.IsZero()
}

func formatWatermark(wm time.Time, ok bool) string {
	if !ok {
		return "<none>"
	}
	return wm.Format(time.RFC3339)
}
