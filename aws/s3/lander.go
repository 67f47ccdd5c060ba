// Package s3 lands raw trips in an S3 bucket using the same partition layout
// as the file package, and reads them back.
package s3

import (
	"bytes"
	"context"
	"path"
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/file"
)

// LanderOption is a functional option type for s3.Lander.
type LanderOption func(l *Lander)

// OptLanderBucket sets the S3 bucket for a Lander.
func OptLanderBucket(bucket string) LanderOption {
	return func(l *Lander) {
		l.bucket = bucket
	}
}

// OptLanderRegion sets the AWS region for a Lander.
func OptLanderRegion(region string) LanderOption {
	return func(l *Lander) {
		l.region = region
	}
}

// OptLanderPrefix puts every object under prefix.
func OptLanderPrefix(prefix string) LanderOption {
	return func(l *Lander) {
		l.prefix = prefix
	}
}

// OptLanderClient uses svc instead of a client built from the region.
func OptLanderClient(svc s3iface.S3API) LanderOption {
	return func(l *Lander) {
		l.svc = svc
	}
}

// OptLanderLogger sets the Lander's logger.
func OptLanderLogger(log cabs.Logger) LanderOption {
	return func(l *Lander) {
		l.log = log
	}
}

// Lander is a cabs.Lander which writes gzip JSON lines objects to
// <prefix>/dt=YYYY-MM-DD/part-NNNNN.jsonl.gz.
type Lander struct {
	bucket string
	prefix string
	region string

	svc s3iface.S3API
	log cabs.Logger

	once  sync.Once
	parts *cabs.Nexter
	err   error
}

// NewLander returns a new Lander with the options applied.
func NewLander(opts ...LanderOption) (*Lander, error) {
	l := &Lander{
		log: cabs.NopLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	if l.bucket == "" {
		return nil, errors.New("no bucket")
	}
	if l.svc == nil {
		sess, err := session.NewSession(&aws.Config{
			Region: aws.String(l.region)},
		)
		if err != nil {
			return nil, errors.Wrap(err, "getting new session")
		}
		l.svc = s3.New(sess)
	}
	return l, nil
}

// init finds the highest part number already in the bucket.
func (l *Lander) init(ctx context.Context) {
	var max uint64
	l.err = l.svc.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(l.bucket),
		Prefix: aws.String(l.prefix),
	}, func(page *s3.ListObjectsV2Output, last bool) bool {
		for _, obj := range page.Contents {
			if n, ok := file.PartNumber(path.Base(aws.StringValue(obj.Key))); ok && n > max {
				max = n
			}
		}
		return true
	})
	if l.err != nil {
		l.err = errors.Wrap(l.err, "listing objects")
		return
	}
	l.parts = cabs.NewNexter(cabs.NexterStartFrom(max + 1))
}

// Land implements cabs.Lander.
func (l *Lander) Land(ctx context.Context, trips []cabs.RawTrip) (int, error) {
	l.once.Do(func() { l.init(ctx) })
	if l.err != nil {
		return 0, l.err
	}
	names, groups := cabs.GroupByPartition(trips)
	written := 0
	for _, p := range names {
		data, err := file.EncodePart(groups[p])
		if err != nil {
			return written, errors.Wrapf(err, "encoding partition %s", p)
		}
		key := path.Join(l.prefix, "dt="+p, file.PartName(l.parts.Next()))
		_, err = l.svc.PutObjectWithContext(ctx, &s3.PutObjectInput{
			Bucket:          aws.String(l.bucket),
			Key:             aws.String(key),
			Body:            bytes.NewReader(data),
			ContentType:     aws.String("application/x-ndjson"),
			ContentEncoding: aws.String("gzip"),
		})
		if err != nil {
			return written, errors.Wrapf(err, "putting s3://%s/%s", l.bucket, key)
		}
		l.log.Debugf("landed %d records in s3://%s/%s", len(groups[p]), l.bucket, key)
		written++
	}
	return written, nil
}
