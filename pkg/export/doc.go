// Package export dumps lines stored by the sink and loads them back.
//
// # Formats
//
//   - statsd: one StatsD line per stored line, ready to replay with nc -u
//   - json: a backup document with metadata, the only format Import reads
//   - csv: timestamp, name, type, value and line columns for spreadsheets
//
// # HTTP API
//
// Export endpoint: GET /v1/export
//
//   - format: "statsd", "json" or "csv" (default: json)
//   - start: RFC3339 timestamp (default: 24h before end)
//   - end: RFC3339 timestamp (default: now)
//   - name: line name filter, repeatable
//
// Example:
//
//	curl "http://localhost:8126/v1/export?format=statsd&name=api.hits" -o hits.txt
//
// Import endpoint: POST /v1/import with Content-Type: application/json
//
//	curl -X POST http://localhost:8126/v1/import \
//	  -H "Content-Type: application/json" -d @backup.json
//
// Imported lines keep their original timestamps. Invalid lines are skipped
// and reported in ImportResult.Errors instead of failing the import.
package export
