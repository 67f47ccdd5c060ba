package cabs_test

import (
	"testing"

	json "github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/test"
)

func TestParseTimestamp(t *testing.T) {
	want := test.MustTime(t, "2024-01-10T08:15:00Z")
	for _, s := range []string{
		"2024-01-10T08:15:00.000",
		"2024-01-10T08:15:00",
		"2024-01-10 08:15:00",
		"2024-01-10T08:15:00Z",
		"2024-01-10T09:15:00+01:00",
		"01/10/2024 08:15:00 AM",
		" 2024-01-10T08:15:00.000 ",
	} {
		got, err := cabs.ParseTimestamp(s)
		require.NoError(t, err, s)
		assert.True(t, want.Equal(got), "%s parsed as %s", s, got)
		assert.Equal(t, "UTC", got.Location().String())
	}
	for _, s := range []string{"", "soon", "2024-13-01T00:00:00"} {
		_, err := cabs.ParseTimestamp(s)
		assert.Error(t, err, s)
	}
}

func TestParseNumber(t *testing.T) {
	f, err := cabs.ParseNumber("12.50")
	require.NoError(t, err)
	assert.Equal(t, 12.5, *f)

	f, err = cabs.ParseNumber(" ")
	require.NoError(t, err)
	assert.Nil(t, f)

	f, err = cabs.ParseNumber("NaN")
	require.NoError(t, err)
	assert.Nil(t, f)

	_, err = cabs.ParseNumber("twelve")
	assert.Error(t, err)
}

func TestRawTripUnmarshal(t *testing.T) {
	var r cabs.RawTrip
	err := json.Unmarshal([]byte(`{"trip_id":"abc","taxi_id":"t","trip_seconds":540,"fare":"9.25","tips":null,":updated_at":"2024-01-12T03:21:09.123Z"}`), &r)
	require.NoError(t, err)
	assert.Equal(t, cabs.Value("abc"), r.TripID)
	assert.Equal(t, cabs.Value("540"), r.Seconds)
	assert.Equal(t, cabs.Value("9.25"), r.Fare)
	assert.Equal(t, cabs.Value(""), r.Tips)
	assert.Equal(t, cabs.Value("2024-01-12T03:21:09.123Z"), r.UpdatedAt)
}
