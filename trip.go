package cabs

import (
	"strings"
	"time"

	"github.com/cockroachdb/apd/v3"
	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
)

// Value is a single field of a raw trip as the upstream API delivered it. The
// API sends numbers as JSON strings, but a bare number or null is accepted too.
type Value string

// UnmarshalJSON implements json.Unmarshaler.
func (v *Value) UnmarshalJSON(b []byte) error {
	s := string(b)
	switch {
	case s == "null":
		*v = ""
	case strings.HasPrefix(s, `"`):
		var str string
		if err := json.Unmarshal(b, &str); err != nil {
			return err
		}
		*v = Value(str)
	default:
		*v = Value(s)
	}
	return nil
}

// String returns v with surrounding whitespace removed.
func (v Value) String() string {
	return strings.TrimSpace(string(v))
}

// RawTrip is one trip observation as returned by the upstream API. Fields are
// kept untyped; Raw holds the original payload so it can be landed verbatim.
type RawTrip struct {
	TripID           Value `json:"trip_id,omitempty"`
	TaxiID           Value `json:"taxi_id,omitempty"`
	StartTimestamp   Value `json:"trip_start_timestamp,omitempty"`
	EndTimestamp     Value `json:"trip_end_timestamp,omitempty"`
	Seconds          Value `json:"trip_seconds,omitempty"`
	Miles            Value `json:"trip_miles,omitempty"`
	PickupArea       Value `json:"pickup_community_area,omitempty"`
	DropoffArea      Value `json:"dropoff_community_area,omitempty"`
	Fare             Value `json:"fare,omitempty"`
	Tips             Value `json:"tips,omitempty"`
	Tolls            Value `json:"tolls,omitempty"`
	Extras           Value `json:"extras,omitempty"`
	TripTotal        Value `json:"trip_total,omitempty"`
	PaymentType      Value `json:"payment_type,omitempty"`
	Company          Value `json:"company,omitempty"`
	PickupLatitude   Value `json:"pickup_centroid_latitude,omitempty"`
	PickupLongitude  Value `json:"pickup_centroid_longitude,omitempty"`
	DropoffLatitude  Value `json:"dropoff_centroid_latitude,omitempty"`
	DropoffLongitude Value `json:"dropoff_centroid_longitude,omitempty"`
	// UpdatedAt is the source's system field recording when the row was last
	// written upstream. It is the observation time used by deduplication.
	UpdatedAt Value `json:":updated_at,omitempty"`

	Raw []byte `json:"-"`
}

// StagedTrip is the canonical typed form of a trip, identified by its
// BusinessKey. Optional numeric fields are nil when the source left them
// empty or unparseable.
type StagedTrip struct {
	BusinessKey BusinessKey `json:"business_key"`
	TripID      string      `json:"trip_id,omitempty"`
	TaxiID      string      `json:"taxi_id"`

	StartTime time.Time  `json:"trip_start_timestamp"`
	EndTime   *time.Time `json:"trip_end_timestamp,omitempty"`

	TripDate  time.Time `json:"trip_date"`
	TripHour  int       `json:"trip_hour"`
	Weekday   int       `json:"trip_weekday"`
	IsWeekend bool      `json:"is_weekend"`

	TripSeconds *float64 `json:"trip_seconds,omitempty"`
	TripMiles   *float64 `json:"trip_miles,omitempty"`
	Fare        *float64 `json:"fare,omitempty"`
	Tips        *float64 `json:"tips,omitempty"`
	Tolls       *float64 `json:"tolls,omitempty"`
	Extras      *float64 `json:"extras,omitempty"`
	TripTotal   *float64 `json:"trip_total,omitempty"`

	PickupArea  string `json:"pickup_community_area,omitempty"`
	DropoffArea string `json:"dropoff_community_area,omitempty"`
	PaymentType string `json:"payment_type,omitempty"`
	Company     string `json:"company,omitempty"`

	PickupLatitude   *float64 `json:"pickup_latitude,omitempty"`
	PickupLongitude  *float64 `json:"pickup_longitude,omitempty"`
	DropoffLatitude  *float64 `json:"dropoff_latitude,omitempty"`
	DropoffLongitude *float64 `json:"dropoff_longitude,omitempty"`
	PickupGeohash    string   `json:"pickup_geohash,omitempty"`
	DropoffGeohash   string   `json:"dropoff_geohash,omitempty"`

	OutlierTripSeconds bool `json:"outlier_trip_seconds"`
	OutlierTripMiles   bool `json:"outlier_trip_miles"`
	OutlierFare        bool `json:"outlier_fare"`
	OutlierTips        bool `json:"outlier_tips"`

	ObservedAt time.Time `json:"observed_at"`
}

// timestampLayouts are tried in order. Layouts without a zone are the
// source's floating timestamps and are read as UTC.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999",
	"01/02/2006 03:04:05 PM",
}

// ParseTimestamp parses a source timestamp and returns it in UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, errors.New("empty timestamp")
	}
	for _, layout := range timestampLayouts {
		if t, err := time.ParseInLocation(layout, s, time.UTC); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, errors.Errorf("unrecognized timestamp %q", s)
}

// ParseNumber parses a decimal field. Empty values yield nil without an
// error, and so do NaN and infinities which the source occasionally carries.
func ParseNumber(v Value) (*float64, error) {
	s := v.String()
	if s == "" {
		return nil, nil
	}
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing number %q", s)
	}
	if d.Form != apd.Finite {
		return nil, nil
	}
	f, err := d.Float64()
	if err != nil {
		return nil, errors.Wrapf(err, "converting %q", s)
	}
	return &f, nil
}

// CalendarAttributes returns the civil date (as midnight UTC), hour of day,
// weekday (Monday is 0) and weekend flag of t in loc.
func CalendarAttributes(t time.Time, loc *time.Location) (date time.Time, hour, weekday int, weekend bool) {
	if loc == nil {
		loc = time.UTC
	}
	lt := t.In(loc)
	date = time.Date(lt.Year(), lt.Month(), lt.Day(), 0, 0, 0, 0, time.UTC)
	weekday = (int(lt.Weekday()) + 6) % 7
	return date, lt.Hour(), weekday, weekday >= 5
}

// PartitionDate returns the YYYY-MM-DD raw partition a record belongs to,
// which is the UTC date of its start timestamp, or "unknown".
func PartitionDate(r *RawTrip) string {
	t, err := ParseTimestamp(string(r.StartTimestamp))
	if err != nil {
		return "unknown"
	}
	return t.Format("2006-01-02")
}

// stage types the fields of a raw record. Unparseable optional numbers and
// timestamps are left nil, matching how the marts treat missing values.
func stage(r *RawTrip, key BusinessKey, loc *time.Location) (StagedTrip, error) {
	st := StagedTrip{
		BusinessKey: key,
		TripID:      r.TripID.String(),
		TaxiID:      r.TaxiID.String(),
		PickupArea:  normalizeIdentifier(string(r.PickupArea)),
		DropoffArea: normalizeIdentifier(string(r.DropoffArea)),
		PaymentType: r.PaymentType.String(),
		Company:     r.Company.String(),
	}
	start, err := ParseTimestamp(string(r.StartTimestamp))
	if err != nil {
		return st, &InvalidRecordError{TripID: st.TripID, Field: "trip_start_timestamp", Reason: err.Error()}
	}
	st.StartTime = start
	if end, err := ParseTimestamp(string(r.EndTimestamp)); err == nil {
		st.EndTime = &end
	}
	st.TripDate, st.TripHour, st.Weekday, st.IsWeekend = CalendarAttributes(start, loc)
	if r.UpdatedAt.String() != "" {
		if obs, err := ParseTimestamp(string(r.UpdatedAt)); err == nil {
			st.ObservedAt = obs
		}
	}

	nums := []struct {
		v   Value
		dst **float64
	}{
		{r.Seconds, &st.TripSeconds},
		{r.Miles, &st.TripMiles},
		{r.Fare, &st.Fare},
		{r.Tips, &st.Tips},
		{r.Tolls, &st.Tolls},
		{r.Extras, &st.Extras},
		{r.TripTotal, &st.TripTotal},
		{r.PickupLatitude, &st.PickupLatitude},
		{r.PickupLongitude, &st.PickupLongitude},
		{r.DropoffLatitude, &st.DropoffLatitude},
		{r.DropoffLongitude, &st.DropoffLongitude},
	}
	for _, n := range nums {
		if f, err := ParseNumber(n.v); err == nil {
			*n.dst = f
		}
	}
	return st, nil
}
