package file

import (
	"context"
	"os"
	"time"

	json "github.com/goccy/go-json"
	"github.com/pkg/errors"
	"github.com/windycity/cabs"
)

// StateFile is a cabs.StateStore keeping the run state in a small JSON
// document which is replaced atomically on every save.
type StateFile struct {
	path string
}

// NewStateFile returns a StateFile at path.
func NewStateFile(path string) *StateFile {
	return &StateFile{path: path}
}

type stateDoc struct {
	LastWatermark  *string `json:"last_watermark"`
	LastRunUTC     *string `json:"last_run_utc"`
	RowsDownloaded int     `json:"rows_downloaded"`
}

// Load implements cabs.StateStore.
func (f *StateFile) Load(ctx context.Context) (*cabs.State, error) {
	data, err := os.ReadFile(f.path)
	if os.IsNotExist(err) {
		return nil, nil
	} else if err != nil {
		return nil, errors.Wrapf(err, "reading %s", f.path)
	}
	var doc stateDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, errors.Wrapf(err, "decoding %s", f.path)
	}
	s := &cabs.State{RowsDownloaded: doc.RowsDownloaded}
	if s.Watermark, err = parseOptional(doc.LastWatermark); err != nil {
		return nil, errors.Wrap(err, "last_watermark")
	}
	if s.LastRun, err = parseOptional(doc.LastRunUTC); err != nil {
		return nil, errors.Wrap(err, "last_run_utc")
	}
	return s, nil
}

// Save implements cabs.StateStore.
func (f *StateFile) Save(ctx context.Context, s cabs.State) error {
	doc := stateDoc{
		LastWatermark:  formatOptional(s.Watermark),
		LastRunUTC:     formatOptional(s.LastRun),
		RowsDownloaded: s.RowsDownloaded,
	}
	data, err := json.MarshalIndent(doc, "", "  ")
	if err != nil {
		return errors.Wrap(err, "encoding state")
	}
	return WriteAtomic(f.path, data)
}

func parseOptional(s *string) (time.Time, error) {
	if s == nil || *s == "" {
		return time.Time{}, nil
	}
	return time.Parse(time.RFC3339Nano, *s)
}

func formatOptional(t time.Time) *string {
	if t.IsZero() {
		return nil
	}
	s := t.UTC().Format(time.RFC3339Nano)
	return &s
}
