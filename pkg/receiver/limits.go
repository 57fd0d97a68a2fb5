package receiver

import (
	"errors"
	"fmt"
	"strings"
	"unicode"

	"github.com/nicktill/tinystatsd/pkg/statsd/metrics"
)

// Validation limits
const (
	MaxNameLength      = 256     // Maximum bucket or metric name length
	MaxLinesPerRequest = 1000    // Maximum lines in a single HTTP ingest body
	MaxBodyBytes       = 1 << 20 // Maximum HTTP ingest body size
)

var (
	// ErrNameEmpty is returned for a line with an empty name
	ErrNameEmpty = errors.New("metric name cannot be empty")

	// ErrNameTooLong is returned when a name exceeds MaxNameLength
	ErrNameTooLong = fmt.Errorf("metric name too long (max %d chars)", MaxNameLength)

	// ErrNameInvalid is returned for names containing whitespace or control characters
	ErrNameInvalid = errors.New("metric name contains whitespace or control characters")

	// ErrTooManyLines is returned when an HTTP ingest body has too many lines
	ErrTooManyLines = fmt.Errorf("too many lines in request (max %d)", MaxLinesPerRequest)
)

// ValidateLine checks a decoded line's name against the sink's limits.
func ValidateLine(m metrics.Metric) error {
	if m.Name == "" {
		return ErrNameEmpty
	}
	if len(m.Name) > MaxNameLength {
		return fmt.Errorf("%w: %q has %d chars", ErrNameTooLong, m.Name[:32]+"...", len(m.Name))
	}
	if strings.IndexFunc(m.Name, func(r rune) bool {
		return unicode.IsSpace(r) || unicode.IsControl(r)
	}) >= 0 {
		return fmt.Errorf("%w: %q", ErrNameInvalid, m.Name)
	}
	return nil
}
