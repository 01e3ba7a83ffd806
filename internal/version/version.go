// Package version holds build metadata injected at link time.
package version

import "fmt"

// Build metadata, overridden via -ldflags at release time.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a human-readable version string.
func Info() string {
	return fmt.Sprintf("epipanel %s (commit %s, built %s)", Version, Commit, Date)
}
