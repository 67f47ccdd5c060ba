package cabs

import (
	"time"
)

// Window is the half open range [Start, End) of trip start times requested
// from a Source.
type Window struct {
	Start time.Time
	End   time.Time
}

// Contains reports whether t falls inside w.
func (w Window) Contains(t time.Time) bool {
	return !t.Before(w.Start) && t.Before(w.End)
}

func (w Window) String() string {
	return "[" + w.Start.UTC().Format(time.RFC3339) + ", " + w.End.UTC().Format(time.RFC3339) + ")"
}

const (
	// DefaultLookback is re-fetched before the watermark on every run.
	DefaultLookback = 6 * time.Hour
	// DefaultFirstRunLookback is fetched on the first run when no start date
	// is configured.
	DefaultFirstRunLookback = 60 * 24 * time.Hour
)

// Planner turns a watermark into the next Window to fetch.
type Planner struct {
	// Lookback is subtracted from the watermark.
	Lookback time.Duration
	// StartDate is used on the first run. If zero, the window starts
	// FirstRunLookback before now, and if that is zero too, at the Unix epoch.
	StartDate        time.Time
	FirstRunLookback time.Duration
	// SettleDelay is subtracted from now to get the end of the window.
	SettleDelay time.Duration
}

// NewPlanner returns a Planner with the default lookbacks.
func NewPlanner() Planner {
	return Planner{
		Lookback:         DefaultLookback,
		FirstRunLookback: DefaultFirstRunLookback,
	}
}

// Plan returns the window for a run at now. ok reports whether wm is a stored
// watermark. A window which would start after it ends is never adjusted; an
// *InvalidWindowError is returned instead.
func (p Planner) Plan(wm time.Time, ok bool, now time.Time) (Window, error) {
	var start time.Time
	switch {
	case ok:
		start = wm.Add(-p.Lookback)
	case !p.StartDate.IsZero():
		start = p.StartDate
	case p.FirstRunLookback > 0:
		start = now.Add(-p.FirstRunLookback)
	default:
		start = time.Unix(0, 0)
	}
	w := Window{Start: start.UTC(), End: now.Add(-p.SettleDelay).UTC()}
	if w.Start.After(w.End) {
		return Window{}, &InvalidWindowError{Start: w.Start, End: w.End}
	}
	return w, nil
}

// PlanWindow plans the window following a stored watermark.
func PlanWindow(wm time.Time, lookback time.Duration, now time.Time) (Window, error) {
	return Planner{Lookback: lookback}.Plan(wm, true, now)
}
