package config

import (
	"fmt"
	"strings"
	"time"
)

// ParseDuration reads a Go duration field such as "250ms" or "168h". An empty or
// zero value yields def; negative values are rejected. field names the key in errors.
func ParseDuration(field, raw string, def time.Duration) (time.Duration, error) {
	s := strings.TrimSpace(raw)
	if s == "" {
		return def, nil
	}
	d, err := time.ParseDuration(s)
	switch {
	case err != nil:
		return 0, fmt.Errorf("%s: invalid duration %q: %w", field, raw, err)
	case d < 0:
		return 0, fmt.Errorf("%s: duration must be >= 0, got %s", field, raw)
	case d == 0:
		return def, nil
	}
	return d, nil
}
