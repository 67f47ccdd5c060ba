package file

import (
	"context"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// Source reads landed raw partitions back. It implements cabs.Source so that
// staging and loading can be rerun from disk without calling the API.
type Source struct {
	root string
	days int
	log  cabs.Logger
}

// SrcOption is a functional option for the file Source.
type SrcOption func(s *Source)

// OptSrcDays limits Partitions, and a Fetch of the zero window, to the most
// recent n dated partitions. A Fetch with a window reads every partition the
// window overlaps.
func OptSrcDays(n int) SrcOption {
	return func(s *Source) {
		s.days = n
	}
}

// OptSrcLogger sets the Source's logger.
func OptSrcLogger(log cabs.Logger) SrcOption {
	return func(s *Source) {
		s.log = log
	}
}

// NewSource gets a new file source reading partitions under root.
func NewSource(root string, opts ...SrcOption) *Source {
	s := &Source{
		root: root,
		log:  cabs.NopLogger{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Partitions lists the dated partitions under root in ascending order,
// honoring OptSrcDays. Partitions of undatable records are left out.
func (s *Source) Partitions() ([]string, error) {
	parts, err := s.datedPartitions()
	if err != nil {
		return nil, err
	}
	if s.days > 0 && len(parts) > s.days {
		parts = parts[len(parts)-s.days:]
	}
	return parts, nil
}

func (s *Source) datedPartitions() ([]string, error) {
	entries, err := os.ReadDir(s.root)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s", s.root)
	}
	var parts []string
	for _, e := range entries {
		name := e.Name()
		if !e.IsDir() || !strings.HasPrefix(name, partitionPrefix) {
			continue
		}
		p := strings.TrimPrefix(name, partitionPrefix)
		if _, err := time.Parse("2006-01-02", p); err != nil {
			s.log.Debugf("skipping partition %s", name)
			continue
		}
		parts = append(parts, p)
	}
	sort.Strings(parts)
	return parts, nil
}

// ReadPartition returns every record landed in a partition, in the order the
// parts were written.
func (s *Source) ReadPartition(p string) ([]cabs.RawTrip, error) {
	files, err := filepath.Glob(filepath.Join(PartitionDir(s.root, p), "part-*.jsonl.gz"))
	if err != nil {
		return nil, errors.Wrap(err, "listing parts")
	}
	SortParts(files)
	var trips []cabs.RawTrip
	for _, name := range files {
		f, err := os.Open(name)
		if err != nil {
			return nil, errors.Wrapf(err, "opening %s", name)
		}
		part, err := DecodePart(f)
		f.Close()
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		trips = append(trips, part...)
	}
	return trips, nil
}

// Fetch implements cabs.Source. Partitions outside w are not read. A zero
// window reads the partitions listed by Partitions and filters nothing.
func (s *Source) Fetch(ctx context.Context, w cabs.Window) ([]cabs.RawTrip, error) {
	all := w.End.IsZero()
	list := s.datedPartitions
	if all {
		list = s.Partitions
	}
	parts, err := list()
	if err != nil {
		return nil, err
	}
	first, last := w.Start.UTC().Format("2006-01-02"), w.End.UTC().Format("2006-01-02")
	var trips []cabs.RawTrip
	for _, p := range parts {
		if !all && (p < first || p > last) {
			continue
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		pt, err := s.ReadPartition(p)
		if err != nil {
			return nil, err
		}
		s.log.Debugf("read %d records from partition %s", len(pt), p)
		trips = append(trips, pt...)
	}
	if all {
		return trips, nil
	}
	return cabs.FilterWindow(trips, w), nil
}
