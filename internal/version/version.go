// Package version holds build metadata injected with -ldflags -X.
package version

import "fmt"

var (
	// Version is the current bridge release
	Version = "dev"
	// GitSHA is the git commit SHA
	GitSHA = "unknown"
	// BuildTime is the build timestamp
	BuildTime = "unknown"
)

// String describes the running build, e.g. "ibus-bridge v1.2.0 (abc123, built 2026-01-01)".
func String() string {
	return fmt.Sprintf("ibus-bridge %s (%s, built %s)", Version, GitSHA, BuildTime)
}
