package file

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/klauspost/compress/gzip"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
	"github.com/windycity/cabs/json"
)

const (
	partitionPrefix = "dt="
	partPattern     = "part-%05d.jsonl.gz"
)

// PartitionDir returns the directory of a partition under root.
func PartitionDir(root, partition string) string {
	return filepath.Join(root, partitionPrefix+partition)
}

// PartName returns the file name of part n.
func PartName(n uint64) string {
	return fmt.Sprintf(partPattern, n)
}

// PartNumber parses the number out of a part file name.
func PartNumber(name string) (uint64, bool) {
	if !strings.HasPrefix(name, "part-") || !strings.HasSuffix(name, ".jsonl.gz") {
		return 0, false
	}
	n, err := strconv.ParseUint(strings.TrimSuffix(strings.TrimPrefix(name, "part-"), ".jsonl.gz"), 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// SortParts orders part file names by their number, leaving names which are
// not parts at the end.
func SortParts(names []string) {
	sort.SliceStable(names, func(i, j int) bool {
		a, aok := PartNumber(filepath.Base(names[i]))
		b, bok := PartNumber(filepath.Base(names[j]))
		if aok != bok {
			return aok
		}
		return a < b
	})
}

// EncodePart returns trips as gzip compressed JSON lines.
func EncodePart(trips []cabs.RawTrip) ([]byte, error) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	if err := json.WriteLines(zw, trips); err != nil {
		return nil, err
	}
	if err := zw.Close(); err != nil {
		return nil, errors.Wrap(err, "closing gzip writer")
	}
	return buf.Bytes(), nil
}

// DecodePart reads gzip compressed JSON lines.
func DecodePart(r io.Reader) ([]cabs.RawTrip, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, errors.Wrap(err, "opening gzip reader")
	}
	defer zr.Close()
	return json.ReadAll(zr)
}

// WriteAtomic writes data to a temporary file next to path and renames it
// into place, so readers never see a partial file.
func WriteAtomic(path string, data []byte) error {
	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return errors.Wrapf(err, "creating %s", dir)
	}
	tmp, err := os.CreateTemp(dir, "."+filepath.Base(path)+".*")
	if err != nil {
		return errors.Wrap(err, "creating temp file")
	}
	defer os.Remove(tmp.Name())
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		return errors.Wrap(err, "writing temp file")
	}
	if err := tmp.Sync(); err != nil {
		tmp.Close()
		return errors.Wrap(err, "syncing temp file")
	}
	if err := tmp.Close(); err != nil {
		return errors.Wrap(err, "closing temp file")
	}
	return errors.Wrapf(os.Rename(tmp.Name(), path), "renaming into %s", path)
}
