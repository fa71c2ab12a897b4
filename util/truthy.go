package util

import "strings"

// IsTruthy reports whether an environment style value means "on": 1, t, true, y, yes or on, in
// any case.
func IsTruthy(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "1", "t", "true", "y", "yes", "on":
		return true
	default:
		return false
	}
}
