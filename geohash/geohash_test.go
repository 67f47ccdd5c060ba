package geohash_test

import (
	"testing"

	mgeohash "github.com/mmcloughlin/geohash"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/geohash"
)

func f(v float64) *float64 { return &v }

func TestTransform(t *testing.T) {
	tests := []struct {
		name        string
		transformer *geohash.Transformer
		trip        *cabs.StagedTrip
		expPickup   string
		expDropoff  string
		expErr      bool
	}{
		{
			name:        "known",
			transformer: &geohash.Transformer{Precision: 11},
			trip:        &cabs.StagedTrip{PickupLatitude: f(57.64911), PickupLongitude: f(10.40744)},
			expPickup:   "u4pruydqqvj",
		},
		{
			name:        "default precision",
			transformer: geohash.NewTransformer(),
			trip: &cabs.StagedTrip{
				PickupLatitude: f(57.64911), PickupLongitude: f(10.40744),
				DropoffLatitude: f(57.64911), DropoffLongitude: f(10.40744),
			},
			expPickup:  "u4pruy",
			expDropoff: "u4pruy",
		},
		{
			name:        "missing longitude",
			transformer: geohash.NewTransformer(),
			trip:        &cabs.StagedTrip{PickupLatitude: f(41.88), PickupGeohash: "stale"},
		},
		{
			name:        "out of range",
			transformer: geohash.NewTransformer(),
			trip:        &cabs.StagedTrip{DropoffLatitude: f(141.88), DropoffLongitude: f(-87.63)},
			expErr:      true,
		},
	}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			err := test.transformer.Transform(test.trip)
			if (err != nil) != test.expErr {
				t.Fatalf("got %v, expected error: %v", errors.Cause(err), test.expErr)
			}
			if err != nil {
				return
			}
			if test.trip.PickupGeohash != test.expPickup {
				t.Fatalf("pickup: got %q, expected %q", test.trip.PickupGeohash, test.expPickup)
			}
			if test.trip.DropoffGeohash != test.expDropoff {
				t.Fatalf("dropoff: got %q, expected %q", test.trip.DropoffGeohash, test.expDropoff)
			}
		})
	}
}

func TestTransformRoundTrip(t *testing.T) {
	trip := &cabs.StagedTrip{PickupLatitude: f(41.8781), PickupLongitude: f(-87.6298)}
	if err := geohash.NewTransformer().Transform(trip); err != nil {
		t.Fatal(err)
	}
	lat, lon := mgeohash.Decode(trip.PickupGeohash)
	if d := lat - 41.8781; d > 0.01 || d < -0.01 {
		t.Fatalf("latitude %v too far from 41.8781", lat)
	}
	if d := lon + 87.6298; d > 0.01 || d < -0.01 {
		t.Fatalf("longitude %v too far from -87.6298", lon)
	}
}
