package export

import (
	"errors"
	"fmt"
	"mime"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"

	"github.com/nicktill/tinystatsd/pkg/httpx"
	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
)

const (
	// DefaultExportWindow is the time range exported when start is omitted
	DefaultExportWindow = 24 * time.Hour

	// MaxExportWindow is the largest allowed export time range
	MaxExportWindow = 30 * 24 * time.Hour
)

// Handler serves export and import over HTTP
type Handler struct {
	exporter *Exporter
	importer *Importer
	logger   *zap.Logger
}

// NewHandler creates a new export/import handler. logger may be nil.
func NewHandler(store storage.Storage, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		exporter: NewExporter(store),
		importer: NewImporter(store),
		logger:   logger,
	}
}

// Register adds GET /v1/export and POST /v1/import to r
func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/v1/export", h.HandleExport).Methods(http.MethodGet)
	r.HandleFunc("/v1/import", h.HandleImport).Methods(http.MethodPost)
}

var contentTypes = map[Format]string{
	FormatStatsD: "text/plain; charset=utf-8",
	FormatJSON:   "application/json",
	FormatCSV:    "text/csv",
}

var extensions = map[Format]string{
	FormatStatsD: "txt",
	FormatJSON:   "json",
	FormatCSV:    "csv",
}

// HandleExport streams matching lines as an attachment
func (h *Handler) HandleExport(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	format := Format(q.Get("format"))
	if format == "" {
		format = FormatJSON
	}
	if !format.Valid() {
		httpx.RespondErrorString(w, http.StatusBadRequest, "format must be statsd, json or csv")
		return
	}

	end, err := parseTime(q.Get("end"), time.Now())
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	start, err := parseTime(q.Get("start"), end.Add(-DefaultExportWindow))
	if err != nil {
		httpx.RespondError(w, http.StatusBadRequest, err)
		return
	}
	if !start.Before(end) {
		httpx.RespondErrorString(w, http.StatusBadRequest, "start must be before end")
		return
	}
	if end.Sub(start) > MaxExportWindow {
		httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("time range too large, maximum is %v", MaxExportWindow))
		return
	}

	opts := Options{Start: start, End: end, Names: q["name"]}
	for _, typ := range q["type"] {
		mt := metrics.MetricType(typ)
		if !mt.Valid() {
			httpx.RespondErrorString(w, http.StatusBadRequest, fmt.Sprintf("unknown type %q", typ))
			return
		}
		opts.Types = append(opts.Types, mt)
	}

	w.Header().Set("Content-Type", contentTypes[format])
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=statsd-export-%s.%s",
		time.Now().Format("20060102-150405"), extensions[format]))

	result, err := h.exporter.Export(r.Context(), w, format, opts)
	if err != nil {
		// Headers may already be out; the body is truncated either way.
		h.logger.Error("export failed", zap.Error(err))
		httpx.RespondError(w, http.StatusInternalServerError, err)
		return
	}

	h.logger.Info("exported lines",
		zap.Int("lines", result.LinesExported),
		zap.String("format", string(format)),
		zap.Time("start", start),
		zap.Time("end", end),
	)
}

// HandleImport loads a JSON backup
func (h *Handler) HandleImport(w http.ResponseWriter, r *http.Request) {
	mediaType, _, err := mime.ParseMediaType(r.Header.Get("Content-Type"))
	if err != nil || mediaType != "application/json" {
		httpx.RespondErrorString(w, http.StatusUnsupportedMediaType, "Content-Type must be application/json")
		return
	}

	result, err := h.importer.Import(r.Context(), r.Body)
	if err != nil {
		status := http.StatusInternalServerError
		if errors.Is(err, ErrInvalidBackup) {
			status = http.StatusBadRequest
		}
		h.logger.Error("import failed", zap.Error(err))
		httpx.RespondError(w, status, err)
		return
	}

	if len(result.Errors) > 0 {
		h.logger.Warn("import skipped invalid lines", zap.Int("skipped", len(result.Errors)))
	}
	h.logger.Info("imported lines",
		zap.Int("lines", result.LinesImported),
		zap.Int("batches", result.BatchesWritten),
	)

	httpx.RespondJSON(w, http.StatusOK, result)
}

func parseTime(raw string, def time.Time) (time.Time, error) {
	if raw == "" {
		return def, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t, nil
	}
	if t, err := time.Parse("2006-01-02T15:04:05", raw); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("invalid time %q, want RFC3339", raw)
}
