package metrics

import (
	"strconv"
	"time"
)

// FormatCounter returns a single-increment counter line, "<bucket>:1|c".
func FormatCounter(bucket string) string {
	return bucket + ":1|c"
}

// FormatTimer returns "<bucket>:<ms>|ms" where ms is d in fractional
// milliseconds, printed as a plain decimal.
func FormatTimer(bucket string, d time.Duration) string {
	if d < 0 {
		d = 0
	}
	ms := float64(d) / float64(time.Millisecond)
	b := make([]byte, 0, len(bucket)+24)
	b = append(b, bucket...)
	b = append(b, ':')
	b = strconv.AppendFloat(b, ms, 'f', -1, 64)
	b = append(b, "|ms"...)
	return string(b)
}

// FormatGauge returns "<metric>:<value>|g".
func FormatGauge(metric string, value int32) string {
	b := make([]byte, 0, len(metric)+16)
	b = append(b, metric...)
	b = append(b, ':')
	b = strconv.AppendInt(b, int64(value), 10)
	b = append(b, "|g"...)
	return string(b)
}

// Format renders m in wire form. Counter values other than 1 are kept as-is
// so that lines read back through Parse round-trip.
func Format(m Metric) string {
	b := make([]byte, 0, len(m.Name)+24)
	b = append(b, m.Name...)
	b = append(b, ':')
	b = strconv.AppendFloat(b, m.Value, 'f', -1, 64)
	b = append(b, '|')
	b = append(b, m.Type...)
	return string(b)
}
