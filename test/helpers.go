// Package test holds fixtures shared by the tests of several packages.
package test

import (
	"testing"
	"time"

	"github.com/windycity/cabs"
)

// TripOption modifies a RawTrip fixture.
type TripOption func(*cabs.RawTrip)

// Trip returns a plausible raw trip for taxi starting at start, which is a
// floating timestamp like the source uses. It ends 15 minutes later.
func Trip(id, taxi, start string, opts ...TripOption) cabs.RawTrip {
	st, err := cabs.ParseTimestamp(start)
	if err != nil {
		panic(err)
	}
	r := cabs.RawTrip{
		TripID:         cabs.Value(id),
		TaxiID:         cabs.Value(taxi),
		StartTimestamp: cabs.Value(start),
		EndTimestamp:   cabs.Value(st.Add(15 * time.Minute).Format("2006-01-02T15:04:05.000")),
		Seconds:        "900",
		Miles:          "3.2",
		PickupArea:     "8",
		DropoffArea:    "32",
		Fare:           "12.25",
		Tips:           "2",
		Tolls:          "0",
		Extras:         "1",
		TripTotal:      "15.25",
		PaymentType:    "Credit Card",
		Company:        "Flash Cab",
	}
	for _, opt := range opts {
		opt(&r)
	}
	return r
}

// Fare sets the fare.
func Fare(f string) TripOption {
	return func(r *cabs.RawTrip) { r.Fare = cabs.Value(f) }
}

// Miles sets the distance.
func Miles(m string) TripOption {
	return func(r *cabs.RawTrip) { r.Miles = cabs.Value(m) }
}

// UpdatedAt sets the observation time.
func UpdatedAt(ts string) TripOption {
	return func(r *cabs.RawTrip) { r.UpdatedAt = cabs.Value(ts) }
}

// Pickup sets the pickup centroid.
func Pickup(lat, lon string) TripOption {
	return func(r *cabs.RawTrip) {
		r.PickupLatitude = cabs.Value(lat)
		r.PickupLongitude = cabs.Value(lon)
	}
}

// Without clears the named fields. Only the fields used in tests are known.
func Without(fields ...string) TripOption {
	return func(r *cabs.RawTrip) {
		for _, f := range fields {
			switch f {
			case "taxi_id":
				r.TaxiID = ""
			case "trip_start_timestamp":
				r.StartTimestamp = ""
			case "trip_end_timestamp":
				r.EndTimestamp = ""
			case "fare":
				r.Fare = ""
			case "trip_miles":
				r.Miles = ""
			}
		}
	}
}

// MustTime parses an RFC 3339 timestamp or fails the test.
func MustTime(t testing.TB, s string) time.Time {
	t.Helper()
	ts, err := time.Parse(time.RFC3339, s)
	if err != nil {
		t.Fatalf("parsing %q: %v", s, err)
	}
	return ts
}
