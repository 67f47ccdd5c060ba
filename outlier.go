package cabs

import (
	"math"
	"sort"

	"github.com/pkg/errors"
	"gonum.org/v1/gonum/stat"
)

// NumericField names a staged numeric field which carries an outlier flag.
type NumericField string

// Fields with outlier flags.
const (
	FieldTripSeconds NumericField = "trip_seconds"
	FieldTripMiles   NumericField = "trip_miles"
	FieldFare        NumericField = "fare"
	FieldTips        NumericField = "tips"
)

// NumericFields lists the flagged fields in a stable order.
var NumericFields = []NumericField{FieldTripSeconds, FieldTripMiles, FieldFare, FieldTips}

func (f NumericField) value(st *StagedTrip) *float64 {
	switch f {
	case FieldTripSeconds:
		return st.TripSeconds
	case FieldTripMiles:
		return st.TripMiles
	case FieldFare:
		return st.Fare
	case FieldTips:
		return st.Tips
	}
	return nil
}

func (f NumericField) flag(st *StagedTrip, v bool) {
	switch f {
	case FieldTripSeconds:
		st.OutlierTripSeconds = v
	case FieldTripMiles:
		st.OutlierTripMiles = v
	case FieldFare:
		st.OutlierFare = v
	case FieldTips:
		st.OutlierTips = v
	}
}

// OutlierRule decides which values of one field in a batch are outliers. It
// receives the present values of the field and returns a predicate over them.
type OutlierRule interface {
	Threshold(values []float64) func(v float64) bool
}

// RangeRule flags values outside the fixed plausible range [Min, Max]. It
// does not depend on the batch, so a trip is flagged the same way whatever it
// was loaded with.
type RangeRule struct {
	Min, Max float64
}

// Threshold implements OutlierRule.
func (r RangeRule) Threshold(_ []float64) func(float64) bool {
	return func(v float64) bool { return v < r.Min || v > r.Max }
}

// QuantileRule flags values above the Q quantile of the batch.
type QuantileRule struct {
	Q float64
}

// Threshold implements OutlierRule.
func (r QuantileRule) Threshold(values []float64) func(float64) bool {
	if len(values) == 0 {
		return func(float64) bool { return false }
	}
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	limit := stat.Quantile(r.Q, stat.Empirical, sorted, nil)
	return func(v float64) bool { return v > limit }
}

// StdDevRule flags values more than N standard deviations from the batch mean.
type StdDevRule struct {
	N float64
}

// Threshold implements OutlierRule.
func (r StdDevRule) Threshold(values []float64) func(float64) bool {
	if len(values) < 2 {
		return func(float64) bool { return false }
	}
	mean, std := stat.MeanStdDev(values, nil)
	return func(v float64) bool { return math.Abs(v-mean) > r.N*std }
}

// OutlierPolicy assigns a rule to each flagged field. Fields without a rule
// are never flagged.
type OutlierPolicy map[NumericField]OutlierRule

// DefaultOutlierPolicy uses fixed plausible ranges for each field.
func DefaultOutlierPolicy() OutlierPolicy {
	return OutlierPolicy{
		FieldTripSeconds: RangeRule{Min: 0, Max: 24 * 60 * 60},
		FieldTripMiles:   RangeRule{Min: 0, Max: 500},
		FieldFare:        RangeRule{Min: 0, Max: 1000},
		FieldTips:        RangeRule{Min: 0, Max: 500},
	}
}

// UniformOutlierPolicy applies rule to every flagged field.
func UniformOutlierPolicy(rule OutlierRule) OutlierPolicy {
	p := OutlierPolicy{}
	for _, f := range NumericFields {
		p[f] = rule
	}
	return p
}

// OutlierPolicyByName builds a policy from configuration: "range" for the
// default ranges, "quantile" with param as the quantile, or "stddev" with
// param as the number of deviations.
func OutlierPolicyByName(name string, param float64) (OutlierPolicy, error) {
	switch name {
	case "", "range":
		return DefaultOutlierPolicy(), nil
	case "quantile":
		if param <= 0 || param >= 1 {
			return nil, errors.Errorf("quantile must be in (0, 1), got %v", param)
		}
		return UniformOutlierPolicy(QuantileRule{Q: param}), nil
	case "stddev":
		if param <= 0 {
			return nil, errors.Errorf("stddev multiplier must be positive, got %v", param)
		}
		return UniformOutlierPolicy(StdDevRule{N: param}), nil
	}
	return nil, errors.Errorf("unknown outlier rule %q", name)
}

// Apply sets the outlier flags of every trip in batch. Missing values are
// never outliers.
func (p OutlierPolicy) Apply(batch []StagedTrip) {
	for _, f := range NumericFields {
		rule, ok := p[f]
		if !ok {
			for i := range batch {
				f.flag(&batch[i], false)
			}
			continue
		}
		values := make([]float64, 0, len(batch))
		for i := range batch {
			if v := f.value(&batch[i]); v != nil {
				values = append(values, *v)
			}
		}
		isOutlier := rule.Threshold(values)
		for i := range batch {
			v := f.value(&batch[i])
			f.flag(&batch[i], v != nil && isOutlier(*v))
		}
	}
}
