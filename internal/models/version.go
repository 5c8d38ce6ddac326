package models

import (
	"errors"
	"fmt"
	"strconv"
	"time"
)

// TimestampLayout is the YYYYMMDDHHMMSS layout used for versions and build times
const TimestampLayout = "20060102150405"

// ErrInvalidVersion is returned when a version token is not a base-10 integer
var ErrInvalidVersion = errors.New("invalid version")

// ParseVersion parses a version token for ordering.
// Only ASCII digits are accepted; there is no lexicographic fallback.
func ParseVersion(v string) (int64, error) {
	if v == "" {
		return 0, fmt.Errorf("empty version: %w", ErrInvalidVersion)
	}
	for i := 0; i < len(v); i++ {
		if v[i] < '0' || v[i] > '9' {
			return 0, fmt.Errorf("version %q is not numeric: %w", v, ErrInvalidVersion)
		}
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("version %q out of range: %w", v, ErrInvalidVersion)
	}
	return n, nil
}

// CompareVersions returns -1, 0 or 1 comparing a and b numerically
func CompareVersions(a, b string) (int, error) {
	na, err := ParseVersion(a)
	if err != nil {
		return 0, err
	}
	nb, err := ParseVersion(b)
	if err != nil {
		return 0, err
	}
	switch {
	case na < nb:
		return -1, nil
	case na > nb:
		return 1, nil
	}
	return 0, nil
}

// FormatTimestamp renders t as an integer in YYYYMMDDHHMMSS form
func FormatTimestamp(t time.Time) int64 {
	n, _ := strconv.ParseInt(t.Format(TimestampLayout), 10, 64)
	return n
}
