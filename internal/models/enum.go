package models

import "strings"

// ParseEnum resolves s against the closed set of allowed values. An empty
// string yields def when def is non-empty; anything else unknown is a
// ConfigValidationError.
func ParseEnum[T ~string](field, s string, def T, allowed ...T) (T, error) {
	v := strings.TrimSpace(s)
	if v == "" && def != "" {
		return def, nil
	}
	for _, a := range allowed {
		if string(a) == v {
			return a, nil
		}
	}
	return "", &ConfigValidationError{Field: field, Value: s, Reason: "unknown value"}
}
