package metrics

import (
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Parse decodes a single "<name>:<value>|<type>" line.
// A trailing sample rate ("|@0.5") is accepted and ignored.
func Parse(line string) (Metric, error) {
	line = strings.TrimSpace(line)

	colon := strings.LastIndexByte(line, ':')
	if colon <= 0 {
		return Metric{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	name, rest := line[:colon], line[colon+1:]

	pipe := strings.IndexByte(rest, '|')
	if pipe < 0 {
		return Metric{}, fmt.Errorf("%w: %q", ErrMalformedLine, line)
	}
	raw, typ := rest[:pipe], rest[pipe+1:]
	if i := strings.IndexByte(typ, '|'); i >= 0 {
		typ = typ[:i]
	}

	mt := MetricType(typ)
	if !mt.Valid() {
		return Metric{}, fmt.Errorf("%w: %q", ErrUnknownType, typ)
	}

	value, err := strconv.ParseFloat(raw, 64)
	if err != nil {
		return Metric{}, fmt.Errorf("parse value of %q: %w", name, err)
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return Metric{}, fmt.Errorf("%w: non-finite value in %q", ErrMalformedLine, line)
	}

	return Metric{Name: name, Type: mt, Value: value}, nil
}
