package s3_test

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sort"
	"strings"
	"testing"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	awss3 "github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/aws/s3"
	"github.com/windycity/cabs/file"
	"github.com/windycity/cabs/test"
)

type fakeS3 struct {
	s3iface.S3API
	existing []string
	objects  map[string][]byte
	putErr   error
	listErr  error
	gets     []string
}

func (f *fakeS3) ListObjectsV2PagesWithContext(ctx aws.Context, in *awss3.ListObjectsV2Input, fn func(*awss3.ListObjectsV2Output, bool) bool, opts ...request.Option) error {
	if f.listErr != nil {
		return f.listErr
	}
	keys := append([]string{}, f.existing...)
	for k := range f.objects {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	// One object per page.
	for i, k := range keys {
		if !strings.HasPrefix(k, aws.StringValue(in.Prefix)) {
			continue
		}
		page := &awss3.ListObjectsV2Output{Contents: []*awss3.Object{{Key: aws.String(k)}}}
		if !fn(page, i == len(keys)-1) {
			break
		}
	}
	return nil
}

func (f *fakeS3) GetObjectWithContext(ctx aws.Context, in *awss3.GetObjectInput, opts ...request.Option) (*awss3.GetObjectOutput, error) {
	f.gets = append(f.gets, aws.StringValue(in.Key))
	data, ok := f.objects[aws.StringValue(in.Key)]
	if !ok {
		return nil, errors.New("NoSuchKey")
	}
	return &awss3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(data))}, nil
}

func (f *fakeS3) PutObjectWithContext(ctx aws.Context, in *awss3.PutObjectInput, opts ...request.Option) (*awss3.PutObjectOutput, error) {
	if f.putErr != nil {
		return nil, f.putErr
	}
	data, err := io.ReadAll(in.Body)
	if err != nil {
		return nil, err
	}
	if f.objects == nil {
		f.objects = make(map[string][]byte)
	}
	f.objects[aws.StringValue(in.Key)] = data
	return &awss3.PutObjectOutput{}, nil
}

func TestLander(t *testing.T) {
	fake := &fakeS3{existing: []string{"raw/dt=2024-01-09/part-00007.jsonl.gz", "raw/README"}}
	l, err := s3.NewLander(s3.OptLanderBucket("cabs-raw"), s3.OptLanderPrefix("raw"), s3.OptLanderClient(fake))
	require.NoError(t, err)

	n, err := l.Land(context.Background(), []cabs.RawTrip{
		test.Trip("t1", "aaa", "2024-01-10T08:00:00.000"),
		test.Trip("t2", "bbb", "2024-01-11T08:00:00.000"),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	data, ok := fake.objects["raw/dt=2024-01-10/part-00008.jsonl.gz"]
	require.True(t, ok, "objects: %v", fake.objects)
	trips, err := file.DecodePart(bytes.NewReader(data))
	require.NoError(t, err)
	require.Len(t, trips, 1)
	assert.Equal(t, cabs.Value("t1"), trips[0].TripID)
	assert.Contains(t, fake.objects, "raw/dt=2024-01-11/part-00009.jsonl.gz")
}

func TestLanderPutError(t *testing.T) {
	fake := &fakeS3{putErr: errors.New("access denied")}
	l, err := s3.NewLander(s3.OptLanderBucket("cabs-raw"), s3.OptLanderClient(fake))
	require.NoError(t, err)
	_, err = l.Land(context.Background(), []cabs.RawTrip{test.Trip("t1", "aaa", "2024-01-10T08:00:00.000")})
	assert.Error(t, err)
}

func TestLanderNeedsBucket(t *testing.T) {
	_, err := s3.NewLander(s3.OptLanderClient(&fakeS3{}))
	assert.Error(t, err)
}
