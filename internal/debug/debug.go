// Package debug provides a minimal, env-toggled diagnostic logger for
// output that is too noisy for the structured slog handler at normal levels.
package debug

import (
	"fmt"
	"os"
)

var enabled = os.Getenv("SOURCEWATCH_DEBUG") != ""

// Enabled reports whether debug output is currently turned on.
func Enabled() bool {
	return enabled
}

// SetEnabled overrides the env-derived default, mainly for tests.
func SetEnabled(v bool) {
	enabled = v
}

// Logf writes a diagnostic line to stderr when debug output is enabled.
func Logf(format string, args ...interface{}) {
	if enabled {
		fmt.Fprintf(os.Stderr, format, args...)
	}
}
