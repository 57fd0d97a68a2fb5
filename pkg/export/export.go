package export

import (
	"bufio"
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

// Format is an export encoding.
type Format string

const (
	FormatStatsD Format = "statsd"
	FormatJSON   Format = "json"
	FormatCSV    Format = "csv"
)

// ErrUnknownFormat is returned for a format other than statsd, json or csv.
var ErrUnknownFormat = errors.New("unknown export format")

// Valid reports whether f is a supported format.
func (f Format) Valid() bool {
	switch f {
	case FormatStatsD, FormatJSON, FormatCSV:
		return true
	}
	return false
}

// Backup is the JSON document written by a json export and read by Import.
type Backup struct {
	Metadata Metadata         `json:"metadata"`
	Lines    []metrics.Metric `json:"lines"`
}

// Metadata describes a backup.
type Metadata struct {
	ExportedAt time.Time `json:"exported_at"`
	StartTime  time.Time `json:"start_time"`
	EndTime    time.Time `json:"end_time"`
	LineCount  int       `json:"line_count"`
	Version    string    `json:"version"`
}

// backupVersion is bumped when the Backup layout changes.
const backupVersion = "1"

// Exporter reads lines from storage and encodes them
type Exporter struct {
	storage storage.Storage
	now     func() time.Time
}

// NewExporter creates a new exporter
func NewExporter(store storage.Storage) *Exporter {
	return &Exporter{storage: store, now: time.Now}
}

// Options configures an export
type Options struct {
	Start time.Time
	End   time.Time
	Names []string
	Types []metrics.MetricType
}

// Result summarizes an export
type Result struct {
	LinesExported int       `json:"lines_exported"`
	Format        Format    `json:"format"`
	ExportedAt    time.Time `json:"exported_at"`
}

// Export writes every line matching opts to w in the given format, oldest
// first.
func (e *Exporter) Export(ctx context.Context, w io.Writer, format Format, opts Options) (*Result, error) {
	if !format.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}

	lines, err := e.storage.Query(ctx, storage.QueryRequest{
		Start: opts.Start,
		End:   opts.End,
		Names: opts.Names,
		Types: opts.Types,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query lines: %w", err)
	}

	exportedAt := e.now()
	switch format {
	case FormatStatsD:
		err = writeStatsD(w, lines)
	case FormatCSV:
		err = writeCSV(w, lines)
	default:
		err = writeJSON(w, Backup{
			Metadata: Metadata{
				ExportedAt: exportedAt,
				StartTime:  opts.Start,
				EndTime:    opts.End,
				LineCount:  len(lines),
				Version:    backupVersion,
			},
			Lines: lines,
		})
	}
	if err != nil {
		return nil, err
	}

	return &Result{
		LinesExported: len(lines),
		Format:        format,
		ExportedAt:    exportedAt,
	}, nil
}

func writeStatsD(w io.Writer, lines []metrics.Metric) error {
	bw := bufio.NewWriter(w)
	for _, m := range lines {
		bw.WriteString(metrics.Format(m))
		bw.WriteByte('\n')
	}
	if err := bw.Flush(); err != nil {
		return fmt.Errorf("failed to write lines: %w", err)
	}
	return nil
}

func writeJSON(w io.Writer, b Backup) error {
	if b.Lines == nil {
		b.Lines = []metrics.Metric{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(b); err != nil {
		return fmt.Errorf("failed to encode JSON: %w", err)
	}
	return nil
}

func writeCSV(w io.Writer, lines []metrics.Metric) error {
	cw := csv.NewWriter(w)

	if err := cw.Write([]string{"timestamp", "name", "type", "value", "line"}); err != nil {
		return fmt.Errorf("failed to write CSV header: %w", err)
	}
	for _, m := range lines {
		row := []string{
			m.Timestamp.UTC().Format(time.RFC3339Nano),
			m.Name,
			string(m.Type),
			strconv.FormatFloat(m.Value, 'f', -1, 64),
			metrics.Format(m),
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("failed to write CSV row: %w", err)
		}
	}

	cw.Flush()
	return cw.Error()
}
