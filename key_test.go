package cabs_test

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/test"
)

func TestComputeKeyKnownValue(t *testing.T) {
	r := test.Trip("t1", " ABC ", "2024-01-10T08:15:00.000")
	key, err := cabs.ComputeKey(&r)
	require.NoError(t, err)

	sum := sha256.Sum256([]byte("2024-01-10T08:15:00Z||2024-01-10T08:30:00Z||abc||8||32"))
	assert.Equal(t, cabs.BusinessKey(hex.EncodeToString(sum[:])), key)
	assert.Len(t, string(key), 64)
}

func TestComputeKeyStable(t *testing.T) {
	base := test.Trip("t1", "abc", "2024-01-10T08:15:00.000")
	baseKey, err := cabs.ComputeKey(&base)
	require.NoError(t, err)

	tests := map[string]cabs.RawTrip{
		"fare correction":   test.Trip("t1", "abc", "2024-01-10T08:15:00.000", test.Fare("99.50")),
		"distance change":   test.Trip("t1", "abc", "2024-01-10T08:15:00.000", test.Miles("4.0")),
		"identifier case":   test.Trip("t1", "  AbC", "2024-01-10T08:15:00.000"),
		"zulu timestamp":    test.Trip("t1", "abc", "2024-01-10T08:15:00Z"),
		"offset timestamp":  test.Trip("t1", "abc", "2024-01-10T02:15:00-06:00"),
		"sub-second digits": test.Trip("t1", "abc", "2024-01-10T08:15:00.400"),
		"other trip id":     test.Trip("t2", "abc", "2024-01-10T08:15:00.000"),
	}
	for name, r := range tests {
		t.Run(name, func(t *testing.T) {
			// the fixture derives the end time from the start
			r.EndTimestamp = base.EndTimestamp
			key, err := cabs.ComputeKey(&r)
			require.NoError(t, err)
			assert.Equal(t, baseKey, key)
		})
	}
}

func TestComputeKeyDistinguishesTrips(t *testing.T) {
	a := test.Trip("t1", "abc", "2024-01-10T08:15:00.000")
	b := test.Trip("t1", "abd", "2024-01-10T08:15:00.000")
	c := test.Trip("t1", "abc", "2024-01-10T08:15:01.000")
	d := test.Trip("t1", "abc", "2024-01-10T08:15:00.000", test.Without("trip_end_timestamp"))

	keys := map[cabs.BusinessKey]bool{}
	for _, r := range []cabs.RawTrip{a, b, c, d} {
		key, err := cabs.ComputeKey(&r)
		require.NoError(t, err)
		keys[key] = true
	}
	assert.Len(t, keys, 4)
}

func TestComputeKeyMissingRequired(t *testing.T) {
	for _, field := range []string{"taxi_id", "trip_start_timestamp"} {
		t.Run(field, func(t *testing.T) {
			r := test.Trip("t1", "abc", "2024-01-10T08:15:00.000", test.Without(field))
			_, err := cabs.ComputeKey(&r)
			var invalid *cabs.InvalidRecordError
			require.True(t, errors.As(err, &invalid), "got %v", err)
			assert.Equal(t, field, invalid.Field)
			assert.Equal(t, "t1", invalid.TripID)
		})
	}
}

func TestComputeKeyBadTimestamp(t *testing.T) {
	r := test.Trip("t1", "abc", "2024-01-10T08:15:00.000")
	r.EndTimestamp = "yesterday"
	_, err := cabs.ComputeKey(&r)
	var invalid *cabs.InvalidRecordError
	require.True(t, errors.As(err, &invalid))
	assert.Equal(t, "trip_end_timestamp", invalid.Field)
}

func TestKeyerDecimals(t *testing.T) {
	k, err := cabs.NewKeyer([]string{"taxi_id", "trip_miles"}, []string{"taxi_id"})
	require.NoError(t, err)

	key := func(miles string) cabs.BusinessKey {
		r := test.Trip("t1", "abc", "2024-01-10T08:15:00.000", test.Miles(miles))
		key, err := k.Key(&r)
		require.NoError(t, err)
		return key
	}
	assert.Equal(t, key("12.5"), key("12.50"))
	assert.Equal(t, key("12.5"), key("1.25E1"))
	assert.Equal(t, key("10"), key("10.000"))
	assert.Equal(t, key("0"), key("0.00"))
	assert.NotEqual(t, key("12.5"), key("12.51"))
	assert.Equal(t, []string{"taxi_id", "trip_miles"}, k.Fields())
}

func TestNewKeyerErrors(t *testing.T) {
	_, err := cabs.NewKeyer(nil, nil)
	assert.Error(t, err)
	_, err = cabs.NewKeyer([]string{"colour"}, nil)
	assert.Error(t, err)
	_, err = cabs.NewKeyer([]string{"taxi_id", "taxi_id"}, nil)
	assert.Error(t, err)
	_, err = cabs.NewKeyer([]string{"taxi_id"}, []string{"trip_start_timestamp"})
	assert.Error(t, err)
}
