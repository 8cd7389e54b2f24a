package env

import (
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Get gets an environment variable value from a set of environment variables.
//
// When a variable is set more than once, the last value wins.
func Get(env []string, name string) string {
	var value string
	for _, s := range env {
		n, v, ok := strings.Cut(s, "=")
		if ok && n == name {
			value = v
		}
	}
	return value
}

// Int parses an integer environment variable.
//
// It returns def if the variable is unset or empty.
func Int(env []string, name string, def int) (int, error) {
	s := Get(env, name)
	if s == "" {
		return def, nil
	}
	v, err := strconv.Atoi(s)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q", name, s)
	}
	return v, nil
}

// Duration parses a duration environment variable, e.g. "250ms".
//
// It returns def if the variable is unset or empty.
func Duration(env []string, name string, def time.Duration) (time.Duration, error) {
	s := Get(env, name)
	if s == "" {
		return def, nil
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return def, fmt.Errorf("invalid %s: %q", name, s)
	}
	return v, nil
}
