// Package geohash fills in the geohash columns of staged trips from their
// pickup and dropoff centroids.
package geohash

import (
	"github.com/mmcloughlin/geohash"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// DefaultPrecision is about 1.2km by 0.6km, a bit finer than a community
// area.
const DefaultPrecision = 6

// Transformer is a cabs.Transformer for geohashing trip centroids.
type Transformer struct {
	Precision uint
}

// NewTransformer returns a Transformer with the default precision.
func NewTransformer() *Transformer {
	return &Transformer{Precision: DefaultPrecision}
}

// Transform sets PickupGeohash and DropoffGeohash from the centroids. A
// location with either coordinate missing is left without a hash.
func (t *Transformer) Transform(trip *cabs.StagedTrip) error {
	var err error
	trip.PickupGeohash, err = t.hash(trip.PickupLatitude, trip.PickupLongitude)
	if err != nil {
		return errors.Wrap(err, "pickup")
	}
	trip.DropoffGeohash, err = t.hash(trip.DropoffLatitude, trip.DropoffLongitude)
	return errors.Wrap(err, "dropoff")
}

func (t *Transformer) hash(lat, lon *float64) (string, error) {
	if lat == nil || lon == nil {
		return "", nil
	}
	if *lat < -90 || *lat > 90 || *lon < -180 || *lon > 180 {
		return "", errors.Errorf("coordinates out of range: %v,%v", *lat, *lon)
	}
	p := t.Precision
	if p == 0 {
		p = DefaultPrecision
	}
	return geohash.EncodeWithPrecision(*lat, *lon, p), nil
}
