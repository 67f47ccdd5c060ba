package cabs

import (
	"context"
)

// Source returns every raw trip whose start time falls in a window. A record
// may be returned more than once when the upstream has corrected it.
type Source interface {
	Fetch(ctx context.Context, w Window) ([]RawTrip, error)
}

// SourceFunc adapts an ordinary function to the Source interface.
type SourceFunc func(ctx context.Context, w Window) ([]RawTrip, error)

// Fetch calls f.
func (f SourceFunc) Fetch(ctx context.Context, w Window) ([]RawTrip, error) {
	return f(ctx, w)
}

// FilterWindow returns the records of trips starting inside w. Records whose
// start time can not be parsed are kept so that staging reports them.
func FilterWindow(trips []RawTrip, w Window) []RawTrip {
	out := trips[:0:0]
	for _, t := range trips {
		start, err := ParseTimestamp(string(t.StartTimestamp))
		if err != nil || w.Contains(start) {
			out = append(out, t)
		}
	}
	return out
}
