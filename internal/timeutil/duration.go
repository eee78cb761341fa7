// Package timeutil parses the duration strings accepted by since/until
// event filters: "<int><unit>" with unit in s/m/h/d/w, or an absolute
// YYYY-MM-DD date. Anything else is rejected.
package timeutil

import (
	"strconv"
	"time"

	"github.com/untoldecay/intent-engine/internal/types"
)

const dateLayout = "2006-01-02"

// ParseSince resolves a since/until filter value to an absolute time.
// Relative durations are subtracted from now.
func ParseSince(value string, now time.Time) (time.Time, error) {
	if value == "" {
		return time.Time{}, types.NewInvalidInput("empty duration")
	}

	// Absolute date form.
	if len(value) == len(dateLayout) {
		if t, err := time.ParseInLocation(dateLayout, value, time.Local); err == nil {
			return t, nil
		}
	}

	d, err := ParseDuration(value)
	if err != nil {
		return time.Time{}, err
	}
	return now.Add(-d), nil
}

// ParseDuration parses the strict "<int><unit>" grammar. Fractional,
// negative, compound ("1h30m"), and unitless forms are all rejected.
func ParseDuration(value string) (time.Duration, error) {
	if len(value) < 2 {
		return 0, types.NewInvalidInput("invalid duration %q: expected <int><unit> (units: s, m, h, d, w) or YYYY-MM-DD", value)
	}

	unit := value[len(value)-1]
	n, err := strconv.ParseInt(value[:len(value)-1], 10, 64)
	if err != nil || n < 0 {
		return 0, types.NewInvalidInput("invalid duration %q: expected <int><unit> (units: s, m, h, d, w) or YYYY-MM-DD", value)
	}

	switch unit {
	case 's':
		return time.Duration(n) * time.Second, nil
	case 'm':
		return time.Duration(n) * time.Minute, nil
	case 'h':
		return time.Duration(n) * time.Hour, nil
	case 'd':
		return time.Duration(n) * 24 * time.Hour, nil
	case 'w':
		return time.Duration(n) * 7 * 24 * time.Hour, nil
	default:
		return 0, types.NewInvalidInput("invalid duration unit %q in %q: units are s, m, h, d, w", string(unit), value)
	}
}
