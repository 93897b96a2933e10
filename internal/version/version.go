// Package version holds build-time version information for the holocron
// binaries. The variables are injected via -ldflags:
//
// -X github.com/holocron-labs/holocron/internal/version.Version=v0.3.0
// -X github.com/holocron-labs/holocron/internal/version.Commit=abc1234
// -X github.com/holocron-labs/holocron/internal/version.Date=2026-10-01T00:00:00Z
package version

import "fmt"

// Variables set at link time. Default to dev values.
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String returns a single-line human-readable version string.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}

// Short returns just the version tag.
func Short() string {
	return Version
}

// UserAgent is the User-Agent sent to the upstream API.
func UserAgent() string {
	return "holocron/" + Version
}
