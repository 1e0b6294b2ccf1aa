// Package version stamps build metadata into the muse binaries, mirroring
// the teacher's pkg/version package (trimmed of the telemetry user-agent
// machinery, which has no counterpart in Muse's scope).
package version

import (
	"fmt"
	"os"
	"path/filepath"
)

var (
	version     = "dev"
	buildCommit = "none"
	buildTime   = "unknown"
)

// GetVersionString returns a standard version header, e.g.
// "muse 0.1.0 (a1b2c3d), built 2026-07-31T00:00:00Z".
func GetVersionString() string {
	return fmt.Sprintf("%s %s (%s), built %s", filepath.Base(os.Args[0]), version, buildCommit, buildTime)
}

// GetVersion returns the semver-compatible version number.
func GetVersion() string {
	return version
}

// GetBuildCommit returns the VCS commit the binary was built from.
func GetBuildCommit() string {
	return buildCommit
}

// GetBuildTime returns the time at which the build took place.
func GetBuildTime() string {
	return buildTime
}
