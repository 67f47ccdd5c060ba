package file

import (
	"context"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// Lander writes raw trips under a root directory as
// dt=YYYY-MM-DD/part-NNNNN.jsonl.gz, one part per partition per call. Part
// numbers increase across the whole root and continue after the highest part
// already present, so earlier landings are never overwritten.
type Lander struct {
	root  string
	parts *cabs.Nexter
	log   cabs.Logger
}

// LanderOption configures a Lander.
type LanderOption func(l *Lander)

// OptLanderLogger sets the Lander's logger.
func OptLanderLogger(log cabs.Logger) LanderOption {
	return func(l *Lander) {
		l.log = log
	}
}

// NewLander returns a Lander writing under root, creating it if needed.
func NewLander(root string, opts ...LanderOption) (*Lander, error) {
	if err := os.MkdirAll(root, 0755); err != nil {
		return nil, errors.Wrapf(err, "creating %s", root)
	}
	last, err := highestPart(root)
	if err != nil {
		return nil, err
	}
	l := &Lander{
		root:  root,
		parts: cabs.NewNexter(cabs.NexterStartFrom(last + 1)),
		log:   cabs.NopLogger{},
	}
	for _, opt := range opts {
		opt(l)
	}
	return l, nil
}

func highestPart(root string) (uint64, error) {
	matches, err := filepath.Glob(filepath.Join(root, partitionPrefix+"*", "part-*.jsonl.gz"))
	if err != nil {
		return 0, errors.Wrap(err, "listing parts")
	}
	var max uint64
	for _, m := range matches {
		if n, ok := PartNumber(filepath.Base(m)); ok && n > max {
			max = n
		}
	}
	return max, nil
}

// Land implements cabs.Lander.
func (l *Lander) Land(ctx context.Context, trips []cabs.RawTrip) (int, error) {
	names, groups := cabs.GroupByPartition(trips)
	written := 0
	for _, p := range names {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		data, err := EncodePart(groups[p])
		if err != nil {
			return written, errors.Wrapf(err, "encoding partition %s", p)
		}
		path := filepath.Join(PartitionDir(l.root, p), PartName(l.parts.Next()))
		if err := WriteAtomic(path, data); err != nil {
			return written, err
		}
		l.log.Debugf("landed %d records in %s", len(groups[p]), path)
		written++
	}
	return written, nil
}
