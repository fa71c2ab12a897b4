package env

import (
	"os"
	"strconv"
)

// GetOrDefault returns the value of the environment variable name, or def when it is unset or
// empty.
func GetOrDefault(name, def string) string {
	if v, ok := os.LookupEnv(name); ok && v != "" {
		return v
	}
	return def
}

// IntOrDefault parses the environment variable name as an integer, returning def when it is
// unset, empty, malformed or not positive.
func IntOrDefault(name string, def int) int {
	v, err := strconv.Atoi(GetOrDefault(name, ""))
	if err != nil || v <= 0 {
		return def
	}
	return v
}
