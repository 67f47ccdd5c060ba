package s3

import (
	"context"
	"path"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/file"
)

// SourceOption is a functional option type for s3.Source.
type SourceOption func(s *Source)

// OptSourceBucket sets the S3 bucket for a Source.
func OptSourceBucket(bucket string) SourceOption {
	return func(s *Source) {
		s.bucket = bucket
	}
}

// OptSourceRegion sets the AWS region for a Source.
func OptSourceRegion(region string) SourceOption {
	return func(s *Source) {
		s.region = region
	}
}

// OptSourcePrefix reads objects under prefix.
func OptSourcePrefix(prefix string) SourceOption {
	return func(s *Source) {
		s.prefix = prefix
	}
}

// OptSourceClient uses svc instead of a client built from the region.
func OptSourceClient(svc s3iface.S3API) SourceOption {
	return func(s *Source) {
		s.svc = svc
	}
}

// OptSourceDays limits a Fetch of the zero window to the most recent n dated
// partitions.
func OptSourceDays(n int) SourceOption {
	return func(s *Source) {
		s.days = n
	}
}

// OptSourceLogger sets the Source's logger.
func OptSourceLogger(log cabs.Logger) SourceOption {
	return func(s *Source) {
		s.log = log
	}
}

// Source is a cabs.Source reading back the partitions a Lander wrote to a
// bucket.
type Source struct {
	bucket string
	prefix string
	region string
	days   int

	svc s3iface.S3API
	log cabs.Logger
}

// NewSource returns a new Source with the options applied.
func NewSource(opts ...SourceOption) (*Source, error) {
	s := &Source{
		log: cabs.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.bucket == "" {
		return nil, errors.New("no bucket")
	}
	if s.svc == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(s.region)},
		)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		s.svc = s3.New(sess)
	}
	return s, nil
}

// partitions maps each dated partition under the prefix to its part keys,
// ordered by part number.
func (s *Source) partitions(ctx context.Context) ([]string, map[string][]string, error) {
	keys := make(map[string][]string)
	base := path.Join(s.prefix, "dt=")
	if s.prefix == "" {
		base = "dt="
	}
	err := s.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(base),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			if _, ok := file.PartNumber(path.Base(key)); !ok {
				continue
			}
			p := strings.TrimPrefix(path.Base(path.Dir(key)), "dt=")
			if _, err := time.Parse("2006-01-02", p); err != nil {
				s.log.Debugf("skipping %s", key)
				continue
			}
			keys[p] = append(keys[p], key)
		}
		return true
	})
	if err != nil {
		return nil, nil, errors.Wrap(err, "listing objects")
	}
	parts := make([]string, 0, len(keys))
	for p := range keys {
		file.SortParts(keys[p])
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return parts, keys, nil
}

func (s *Source) read(ctx context.Context, key string) ([]cabs.RawTrip, error) {
	out, err := s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, errors.Wrapf(err, "fetching s3://%s/%s", s.bucket, key)
	}
	defer out.Body.Close()
	trips, err := file.DecodePart(out.Body)
	return trips, errors.Wrapf(err, "reading s3://%s/%s", s.bucket, key)
}

// Fetch implements cabs.Source. Partitions outside w are not read. A zero
// window reads the most recent partitions allowed by OptSourceDays and
// filters nothing.
func (s *Source) Fetch(ctx context.Context, w cabs.Window) ([]cabs.RawTrip, error) {
	parts, keys, err := s.partitions(ctx)
	if err != nil {
		return nil, err
	}
	all := w.End.IsZero()
	if all && s.days > 0 && len(parts) > s.days {
		parts = parts[len(parts)-s.days:]
	}
	first, last := w.Start.UTC().Format("2006-01-02"), w.End.UTC().Format("2006-01-02")
	var trips []cabs.RawTrip
	for _, p := range parts {
		if !all && (p < first || p > last) {
			continue
		}
		for _, key := range keys[p] {
			pt, err := s.read(ctx, key)
			if err != nil {
				return nil, err
			}
			trips = append(trips, pt...)
		}
		s.log.Debugf("read partition %s from s3://%s", p, s.bucket)
	}
	if all {
		return trips, nil
	}
	return cabs.FilterWindow(trips, w), nil
}
