package export

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/mux"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
	"github.com/nicktill/tinystatsd/pkg/storage"
	"github.com/nicktill/tinystatsd/pkg/storage/memory"
)

func seededStore(t *testing.T, now time.Time) *memory.Storage {
	t.Helper()
	store := memory.New(0)
	t.Cleanup(func() { store.Close() })

	err := store.Write(context.Background(), []metrics.Metric{
		{Name: "api.hits", Type: metrics.CounterType, Value: 1, Timestamp: now.Add(-2 * time.Minute)},
		{Name: "db.query", Type: metrics.TimerType, Value: 4.25, Timestamp: now.Add(-time.Minute)},
		{Name: "queue.depth", Type: metrics.GaugeType, Value: -3, Timestamp: now},
	})
	require.NoError(t, err)
	return store
}

func TestExportStatsD(t *testing.T) {
	now := time.Now()
	exporter := NewExporter(seededStore(t, now))

	var buf bytes.Buffer
	res, err := exporter.Export(context.Background(), &buf, FormatStatsD, Options{})
	require.NoError(t, err)

	assert.Equal(t, 3, res.LinesExported)
	assert.Equal(t, "api.hits:1|c\ndb.query:4.25|ms\nqueue.depth:-3|g\n", buf.String())
}

func TestExportJSON(t *testing.T) {
	now := time.Now()
	exporter := NewExporter(seededStore(t, now))

	var buf bytes.Buffer
	res, err := exporter.Export(context.Background(), &buf, FormatJSON, Options{
		Start: now.Add(-90 * time.Second),
		End:   now.Add(time.Minute),
	})
	require.NoError(t, err)
	assert.Equal(t, 2, res.LinesExported)

	var backup Backup
	require.NoError(t, json.Unmarshal(buf.Bytes(), &backup))
	assert.Equal(t, 2, backup.Metadata.LineCount)
	assert.Equal(t, backupVersion, backup.Metadata.Version)
	require.Len(t, backup.Lines, 2)
	assert.Equal(t, "db.query", backup.Lines[0].Name)
}

func TestExportJSON_Empty(t *testing.T) {
	store := memory.New(0)
	defer store.Close()

	var buf bytes.Buffer
	_, err := NewExporter(store).Export(context.Background(), &buf, FormatJSON, Options{})
	require.NoError(t, err)
	assert.Contains(t, buf.String(), `"lines": []`)
}

func TestExportCSV(t *testing.T) {
	now := time.Now()
	exporter := NewExporter(seededStore(t, now))

	var buf bytes.Buffer
	_, err := exporter.Export(context.Background(), &buf, FormatCSV, Options{Types: []metrics.MetricType{metrics.GaugeType}})
	require.NoError(t, err)

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"timestamp", "name", "type", "value", "line"}, records[0])
	assert.Equal(t, []string{"queue.depth", "g", "-3", "queue.depth:-3|g"}, records[1][1:])
}

func TestExportUnknownFormat(t *testing.T) {
	store := memory.New(0)
	defer store.Close()

	_, err := NewExporter(store).Export(context.Background(), &bytes.Buffer{}, Format("xml"), Options{})
	assert.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExportImportRoundTrip(t *testing.T) {
	now := time.Now()
	src := seededStore(t, now)

	var buf bytes.Buffer
	_, err := NewExporter(src).Export(context.Background(), &buf, FormatJSON, Options{})
	require.NoError(t, err)

	dst := memory.New(0)
	defer dst.Close()

	res, err := NewImporter(dst).Import(context.Background(), &buf)
	require.NoError(t, err)
	assert.Equal(t, 3, res.LinesImported)
	assert.Equal(t, 1, res.BatchesWritten)
	assert.Empty(t, res.Errors)

	lines, err := dst.Query(context.Background(), storage.QueryRequest{})
	require.NoError(t, err)
	require.Len(t, lines, 3)
	assert.True(t, lines[0].Timestamp.Equal(now.Add(-2*time.Minute)), "timestamps are preserved")
}

func TestImportSkipsInvalid(t *testing.T) {
	store := memory.New(0)
	defer store.Close()

	now := time.Now().UTC().Format(time.RFC3339)
	future := time.Now().Add(72 * time.Hour).UTC().Format(time.RFC3339)
	body := `{"lines": [
		{"name": "ok", "type": "c", "value": 1, "timestamp": "` + now + `"},
		{"name": "", "type": "c", "value": 1, "timestamp": "` + now + `"},
		{"name": "hist", "type": "h", "value": 1, "timestamp": "` + now + `"},
		{"name": "nots", "type": "g", "value": 1},
		{"name": "later", "type": "g", "value": 1, "timestamp": "` + future + `"}
	]}`

	res, err := NewImporter(store).Import(context.Background(), strings.NewReader(body))
	require.NoError(t, err)
	assert.Equal(t, 1, res.LinesImported)
	assert.Len(t, res.Errors, 4)
}

func TestImportInvalidBackup(t *testing.T) {
	store := memory.New(0)
	defer store.Close()

	_, err := NewImporter(store).Import(context.Background(), strings.NewReader("not json"))
	assert.ErrorIs(t, err, ErrInvalidBackup)
}

func TestHandler(t *testing.T) {
	now := time.Now()
	store := seededStore(t, now)

	r := mux.NewRouter()
	NewHandler(store, nil).Register(r)

	t.Run("export statsd", func(t *testing.T) {
		w := httptest.NewRecorder()
		r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/export?format=statsd&name=api.hits", nil))

		require.Equal(t, http.StatusOK, w.Code)
		assert.Equal(t, "api.hits:1|c\n", w.Body.String())
		assert.Contains(t, w.Header().Get("Content-Disposition"), ".txt")
	})

	t.Run("export bad params", func(t *testing.T) {
		for _, q := range []string{
			"?format=xml",
			"?start=yesterday",
			"?type=h",
			"?start=2024-01-02T00:00:00Z&end=2024-01-01T00:00:00Z",
			"?start=2023-01-01T00:00:00Z&end=2024-01-01T00:00:00Z",
		} {
			w := httptest.NewRecorder()
			r.ServeHTTP(w, httptest.NewRequest(http.MethodGet, "/v1/export"+q, nil))
			assert.Equal(t, http.StatusBadRequest, w.Code, q)
		}
	})

	t.Run("import", func(t *testing.T) {
		body := `{"lines": [{"name": "restored", "type": "c", "value": 1, "timestamp": "` +
			now.UTC().Format(time.RFC3339) + `"}]}`
		req := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json; charset=utf-8")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)

		require.Equal(t, http.StatusOK, w.Code)
		var res ImportResult
		require.NoError(t, json.NewDecoder(w.Body).Decode(&res))
		assert.Equal(t, 1, res.LinesImported)
	})

	t.Run("import wrong content type", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader("{}"))
		req.Header.Set("Content-Type", "text/plain")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusUnsupportedMediaType, w.Code)
	})

	t.Run("import garbage", func(t *testing.T) {
		req := httptest.NewRequest(http.MethodPost, "/v1/import", strings.NewReader("nope"))
		req.Header.Set("Content-Type", "application/json")
		w := httptest.NewRecorder()
		r.ServeHTTP(w, req)
		assert.Equal(t, http.StatusBadRequest, w.Code)
	})
}
