package table

// convert.go coerces raw text cells into numbers and timestamps.
//
// Coercion never fails loudly: a value that cannot be interpreted becomes a
// missing cell, and values already of the target kind pass through.

import (
	"math"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// numericRegex matches integers, decimals and scientific notation.
var numericRegex = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)

// timestampLayouts are tried in order; the first match wins.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02T15:04:05",
	time.RFC3339,
	"2006-01-02T15:04:05.000",
	"2006-01-02 15:04",
	"2006-01-02T15:04",
	"2006-01-02",
	"2006/01/02 15:04:05",
	"2006/01/02",
	"1/2/2006 15:04:05",
	"1/2/2006 15:04",
	"1/2/2006 3:04:05 PM",
	"1/2/2006 3:04 PM",
	"01/02/2006",
	"1/2/2006",
	"1-2-2006",
	"Jan 2, 2006",
	"2 Jan 2006",
}

// ParseNumber interprets s as a decimal number.
func ParseNumber(s string) (float64, bool) {
	s = strings.TrimSpace(s)
	if s == "" || !numericRegex.MatchString(s) {
		return 0, false
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsInf(f, 0) || math.IsNaN(f) {
		return 0, false
	}
	return f, true
}

// ParseTimestamp interprets s using the known timestamp layouts.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// ToNumber coerces a cell to a numeric cell or missing.
func ToNumber(c Cell) Cell {
	switch c.Kind {
	case KindNumber, KindMissing:
		return c
	case KindText:
		if f, ok := ParseNumber(c.Text); ok {
			return Number(f)
		}
	}
	return Missing()
}

// ToTimestamp coerces a cell to a time cell or missing.
func ToTimestamp(c Cell) Cell {
	switch c.Kind {
	case KindTime, KindMissing:
		return c
	case KindText:
		if t, ok := ParseTimestamp(c.Text); ok {
			return Timestamp(t)
		}
	}
	return Missing()
}

// ToLower lower-cases text cells; other kinds are unchanged.
func ToLower(c Cell) Cell {
	if c.Kind == KindText {
		return Text(strings.ToLower(c.Text))
	}
	return c
}
