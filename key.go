package cabs

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"

	"github.com/cockroachdb/apd/v3"
	"github.com/pkg/errors"
)

// BusinessKey deterministically identifies a real world trip. It is the 64
// character hex encoding of a SHA-256 digest.
type BusinessKey string

// KeySeparator joins the canonical field values before hashing.
const KeySeparator = "||"

type keyKind int

const (
	kindIdentifier keyKind = iota
	kindTimestamp
	kindDecimal
)

type keyField struct {
	kind keyKind
	get  func(*RawTrip) Value
}

// keyFields lists every raw field which may take part in a business key.
var keyFields = map[string]keyField{
	"trip_id":                {kindIdentifier, func(r *RawTrip) Value { return r.TripID }},
	"taxi_id":                {kindIdentifier, func(r *RawTrip) Value { return r.TaxiID }},
	"trip_start_timestamp":   {kindTimestamp, func(r *RawTrip) Value { return r.StartTimestamp }},
	"trip_end_timestamp":     {kindTimestamp, func(r *RawTrip) Value { return r.EndTimestamp }},
	"pickup_community_area":  {kindIdentifier, func(r *RawTrip) Value { return r.PickupArea }},
	"dropoff_community_area": {kindIdentifier, func(r *RawTrip) Value { return r.DropoffArea }},
	"trip_seconds":           {kindDecimal, func(r *RawTrip) Value { return r.Seconds }},
	"trip_miles":             {kindDecimal, func(r *RawTrip) Value { return r.Miles }},
	"fare":                   {kindDecimal, func(r *RawTrip) Value { return r.Fare }},
	"company":                {kindIdentifier, func(r *RawTrip) Value { return r.Company }},
	"payment_type":           {kindIdentifier, func(r *RawTrip) Value { return r.PaymentType }},
}

// DefaultKeyFields are the stable fields of a trip. Fare and distance are
// left out on purpose so that upstream corrections to them update the
// existing row rather than creating a new one.
var DefaultKeyFields = []string{
	"trip_start_timestamp",
	"trip_end_timestamp",
	"taxi_id",
	"pickup_community_area",
	"dropoff_community_area",
}

// DefaultRequiredKeyFields must be present for a record to be keyed.
var DefaultRequiredKeyFields = []string{"trip_start_timestamp", "taxi_id"}

// Keyer computes business keys over a fixed, ordered set of fields.
type Keyer struct {
	names    []string
	fields   []keyField
	required map[string]bool
}

// NewKeyer returns a Keyer hashing fields in the given order. Every name in
// required must also appear in fields.
func NewKeyer(fields, required []string) (*Keyer, error) {
	if len(fields) == 0 {
		return nil, errors.New("no key fields")
	}
	k := &Keyer{required: make(map[string]bool)}
	seen := make(map[string]bool)
	for _, name := range fields {
		f, ok := keyFields[name]
		if !ok {
			return nil, errors.Errorf("unknown key field %q", name)
		}
		if seen[name] {
			return nil, errors.Errorf("duplicate key field %q", name)
		}
		seen[name] = true
		k.names = append(k.names, name)
		k.fields = append(k.fields, f)
	}
	for _, name := range required {
		if !seen[name] {
			return nil, errors.Errorf("required field %q is not a key field", name)
		}
		k.required[name] = true
	}
	return k, nil
}

// DefaultKeyer hashes DefaultKeyFields.
var DefaultKeyer = mustKeyer(DefaultKeyFields, DefaultRequiredKeyFields)

func mustKeyer(fields, required []string) *Keyer {
	k, err := NewKeyer(fields, required)
	if err != nil {
		panic(err)
	}
	return k
}

// Fields returns the key's field names in hashing order.
func (k *Keyer) Fields() []string {
	return append([]string(nil), k.names...)
}

// Key returns the business key of r or an *InvalidRecordError.
func (k *Keyer) Key(r *RawTrip) (BusinessKey, error) {
	parts := make([]string, len(k.fields))
	for i, f := range k.fields {
		name := k.names[i]
		raw := f.get(r).String()
		if raw == "" {
			if k.required[name] {
				return "", &InvalidRecordError{TripID: r.TripID.String(), Field: name, Reason: "missing required key field"}
			}
			continue
		}
		s, err := canonical(f.kind, raw)
		if err != nil {
			return "", &InvalidRecordError{TripID: r.TripID.String(), Field: name, Reason: err.Error()}
		}
		parts[i] = s
	}
	sum := sha256.Sum256([]byte(strings.Join(parts, KeySeparator)))
	return BusinessKey(hex.EncodeToString(sum[:])), nil
}

// ComputeKey returns r's business key using DefaultKeyer.
func ComputeKey(r *RawTrip) (BusinessKey, error) {
	return DefaultKeyer.Key(r)
}

func canonical(kind keyKind, s string) (string, error) {
	switch kind {
	case kindTimestamp:
		t, err := ParseTimestamp(s)
		if err != nil {
			return "", err
		}
		return t.Format("2006-01-02T15:04:05Z"), nil
	case kindDecimal:
		return canonicalDecimal(s)
	default:
		return normalizeIdentifier(s), nil
	}
}

// canonicalDecimal renders s without exponent or trailing zeros so that
// "12.50", "12.5" and "1.25E1" agree.
func canonicalDecimal(s string) (string, error) {
	d, _, err := apd.NewFromString(s)
	if err != nil {
		return "", errors.Wrapf(err, "parsing decimal %q", s)
	}
	if d.Form != apd.Finite {
		return "", errors.Errorf("non-finite decimal %q", s)
	}
	if d.IsZero() {
		return "0", nil
	}
	d.Reduce(d)
	return d.Text('f'), nil
}

func normalizeIdentifier(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}
