package export

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

// MaxImportBatchSize is the maximum number of lines written at once
const MaxImportBatchSize = 5000

// ErrInvalidBackup is returned when the body is not a Backup document.
var ErrInvalidBackup = errors.New("invalid backup")

// Importer loads Backup documents into storage
type Importer struct {
	storage storage.Storage
	now     func() time.Time
}

// NewImporter creates a new importer
func NewImporter(store storage.Storage) *Importer {
	return &Importer{storage: store, now: time.Now}
}

// ImportResult summarizes an import
type ImportResult struct {
	LinesImported  int       `json:"lines_imported"`
	BatchesWritten int       `json:"batches_written"`
	Oldest         time.Time `json:"oldest,omitempty"`
	Newest         time.Time `json:"newest,omitempty"`
	Errors         []string  `json:"errors,omitempty"`
}

// Import decodes a Backup from r and writes its valid lines to storage.
// Invalid lines are skipped and listed in the result.
func (im *Importer) Import(ctx context.Context, r io.Reader) (*ImportResult, error) {
	var backup Backup
	if err := json.NewDecoder(r).Decode(&backup); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidBackup, err)
	}

	res := &ImportResult{}
	now := im.now()
	valid := make([]metrics.Metric, 0, len(backup.Lines))
	for i, m := range backup.Lines {
		if err := validateImported(m, now); err != nil {
			res.Errors = append(res.Errors, fmt.Sprintf("line %d: %v", i, err))
			continue
		}
		valid = append(valid, m)

		if res.Oldest.IsZero() || m.Timestamp.Before(res.Oldest) {
			res.Oldest = m.Timestamp
		}
		if m.Timestamp.After(res.Newest) {
			res.Newest = m.Timestamp
		}
	}

	for start := 0; start < len(valid); start += MaxImportBatchSize {
		end := min(start+MaxImportBatchSize, len(valid))
		if err := im.storage.Write(ctx, valid[start:end]); err != nil {
			return res, fmt.Errorf("failed to write batch %d: %w", res.BatchesWritten, err)
		}
		res.BatchesWritten++
		res.LinesImported += end - start
	}

	return res, nil
}

func validateImported(m metrics.Metric, now time.Time) error {
	if m.Name == "" {
		return errors.New("name cannot be empty")
	}
	if !m.Type.Valid() {
		return fmt.Errorf("%w: %q", metrics.ErrUnknownType, m.Type)
	}
	if math.IsNaN(m.Value) || math.IsInf(m.Value, 0) {
		return errors.New("value must be finite")
	}
	if m.Timestamp.IsZero() {
		return errors.New("timestamp cannot be zero")
	}
	if m.Timestamp.After(now.Add(24 * time.Hour)) {
		return fmt.Errorf("timestamp too far in future: %s", m.Timestamp)
	}
	return nil
}
