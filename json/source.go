// Package json reads and writes raw trips as JSON, one object per line when
// landed and as an array when returned by the upstream API.
package json

import (
	"bufio"
	"io"

	gojson "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// Source decodes a stream of JSON trip objects.
type Source struct {
	dec *gojson.Decoder
}

// NewSource gets a new json source which will decode from the given reader.
func NewSource(r io.Reader) *Source {
	return &Source{
		dec: gojson.NewDecoder(r),
	}
}

// Record returns the next trip in the stream, or io.EOF. The trip's Raw field
// holds the object exactly as it was read.
func (s *Source) Record() (cabs.RawTrip, error) {
	var raw gojson.RawMessage
	if err := s.dec.Decode(&raw); err != nil {
		return cabs.RawTrip{}, err
	}
	return Decode(raw)
}

// Decode decodes a single trip object and keeps a copy of it in Raw.
func Decode(raw []byte) (cabs.RawTrip, error) {
	var trip cabs.RawTrip
	if err := gojson.Unmarshal(raw, &trip); err != nil {
		return cabs.RawTrip{}, errors.Wrap(err, "decoding trip")
	}
	trip.Raw = append([]byte(nil), raw...)
	return trip, nil
}

// ReadAll decodes every trip in r.
func ReadAll(r io.Reader) ([]cabs.RawTrip, error) {
	src := NewSource(r)
	var trips []cabs.RawTrip
	for {
		trip, err := src.Record()
		if err == io.EOF {
			return trips, nil
		} else if err != nil {
			return trips, errors.Wrapf(err, "reading record %d", len(trips))
		}
		trips = append(trips, trip)
	}
}

// DecodeArray decodes a JSON array of trip objects.
func DecodeArray(data []byte) ([]cabs.RawTrip, error) {
	var raws []gojson.RawMessage
	if err := gojson.Unmarshal(data, &raws); err != nil {
		return nil, errors.Wrap(err, "decoding page")
	}
	trips := make([]cabs.RawTrip, 0, len(raws))
	for i, raw := range raws {
		trip, err := Decode(raw)
		if err != nil {
			return nil, errors.Wrapf(err, "record %d", i)
		}
		trips = append(trips, trip)
	}
	return trips, nil
}

// WriteLines writes one trip per line. A trip's Raw payload is written as is;
// trips without one are encoded from their fields.
func WriteLines(w io.Writer, trips []cabs.RawTrip) error {
	bw := bufio.NewWriter(w)
	for _, t := range trips {
		line := t.Raw
		if len(line) == 0 {
			var err error
			line, err = gojson.Marshal(t)
			if err != nil {
				return errors.Wrapf(err, "encoding trip %s", t.TripID)
			}
		}
		if _, err := bw.Write(line); err != nil {
			return errors.Wrap(err, "writing trip")
		}
		if err := bw.WriteByte('\n'); err != nil {
			return errors.Wrap(err, "writing newline")
		}
	}
	return errors.Wrap(bw.Flush(), "flushing")
}
