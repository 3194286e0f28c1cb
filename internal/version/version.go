// Package version holds build metadata injected with -ldflags.
package version

import "fmt"

var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// Info returns a one-line build description.
func Info() string {
	return fmt.Sprintf("geminigate %s (commit %s, built %s)", Version, Commit, Date)
}
