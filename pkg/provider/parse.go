package provider

import (
	"strconv"
	"strings"
	"time"
)

// Number parses the loosely formatted numerics vendors return: quoted numbers,
// "None", "-", thousands separators and trailing percent signs. Anything
// unparseable is zero.
func Number(s string) float64 {
	s = strings.TrimSpace(s)
	s = strings.TrimSuffix(s, "%")
	s = strings.ReplaceAll(s, ",", "")
	switch strings.ToLower(s) {
	case "", "none", "-", "n/a", "nan", "null":
		return 0
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return v
}

// Date parses the date layouts used across vendors.
func Date(s string) time.Time {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339, "2006-01-02T15:04:05.000Z", "2006-01-02T15:04:05-0700", "2006-01-02T15:04:05", time.DateOnly} {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC()
		}
	}
	return time.Time{}
}
