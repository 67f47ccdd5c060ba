package cabs_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
)

func TestRangeRule(t *testing.T) {
	out := cabs.RangeRule{Min: 0, Max: 100}.Threshold(nil)
	assert.True(t, out(-0.01))
	assert.False(t, out(0))
	assert.False(t, out(100))
	assert.True(t, out(100.01))
}

func TestQuantileRule(t *testing.T) {
	values := make([]float64, 0, 1000)
	for i := 1000; i >= 1; i-- {
		values = append(values, float64(i))
	}
	out := cabs.QuantileRule{Q: 0.999}.Threshold(values)
	assert.True(t, out(1000))
	assert.False(t, out(500))
	assert.False(t, out(1))
	// the input is not reordered
	assert.Equal(t, 1000.0, values[0])

	assert.False(t, cabs.QuantileRule{Q: 0.999}.Threshold(nil)(1e9))
}

func TestStdDevRule(t *testing.T) {
	values := []float64{10, 10, 10, 10, 10, 10, 10, 10, 10, 100}
	out := cabs.StdDevRule{N: 2}.Threshold(values)
	assert.True(t, out(100))
	assert.False(t, out(10))

	assert.False(t, cabs.StdDevRule{N: 2}.Threshold([]float64{5})(1000))
}

func TestOutlierPolicyApply(t *testing.T) {
	f := func(v float64) *float64 { return &v }
	batch := []cabs.StagedTrip{
		{TripID: "a", Fare: f(10), TripMiles: f(2), TripSeconds: f(600), Tips: f(1)},
		{TripID: "b", Fare: f(1500), TripMiles: f(900), TripSeconds: f(90000), Tips: f(600)},
		{TripID: "c"},
	}
	cabs.DefaultOutlierPolicy().Apply(batch)

	assert.False(t, batch[0].OutlierFare || batch[0].OutlierTripMiles || batch[0].OutlierTripSeconds || batch[0].OutlierTips)
	assert.True(t, batch[1].OutlierFare && batch[1].OutlierTripMiles && batch[1].OutlierTripSeconds && batch[1].OutlierTips)
	assert.False(t, batch[2].OutlierFare || batch[2].OutlierTripMiles || batch[2].OutlierTripSeconds || batch[2].OutlierTips)

	only := cabs.OutlierPolicy{cabs.FieldFare: cabs.RangeRule{Min: 0, Max: 5}}
	only.Apply(batch)
	assert.True(t, batch[0].OutlierFare)
	assert.False(t, batch[1].OutlierTripMiles)
}

func TestOutlierPolicyByName(t *testing.T) {
	p, err := cabs.OutlierPolicyByName("", 0)
	require.NoError(t, err)
	assert.Equal(t, cabs.DefaultOutlierPolicy(), p)

	p, err = cabs.OutlierPolicyByName("quantile", 0.999)
	require.NoError(t, err)
	assert.Equal(t, cabs.QuantileRule{Q: 0.999}, p[cabs.FieldTips])

	p, err = cabs.OutlierPolicyByName("stddev", 3)
	require.NoError(t, err)
	assert.Equal(t, cabs.StdDevRule{N: 3}, p[cabs.FieldFare])

	_, err = cabs.OutlierPolicyByName("quantile", 1.5)
	assert.Error(t, err)
	_, err = cabs.OutlierPolicyByName("stddev", 0)
	assert.Error(t, err)
	_, err = cabs.OutlierPolicyByName("vibes", 1)
	assert.Error(t, err)
}
