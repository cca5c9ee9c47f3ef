// Package version holds build information for phasedoc.
package version

import "fmt"

// Set at build time, e.g. go build -ldflags "-X phasedoc/pkg/version.Version=v1.2.3".
//
//nolint:gochecknoglobals // ldflags injection needs package-level vars
var (
	Version = "dev"
	Commit  = "none"
	Date    = "unknown"
)

// String formats the build information for --version.
func String() string {
	return fmt.Sprintf("%s (commit %s, built %s)", Version, Commit, Date)
}
