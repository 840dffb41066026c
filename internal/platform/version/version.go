// Package version exposes the build metadata served on /version.
package version

import (
	"fmt"
	"runtime"
)

// Injected via -ldflags at release build time; the zero values identify a
// local development build.
var (
	// Version is the git tag or semantic version of this build.
	Version = "dev"
	// Commit is the short git commit SHA.
	Commit = "unknown"
	// BuildTime is the ISO 8601 timestamp of the build.
	BuildTime = "unknown"
)

// Info is the /version response body.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
}

// Get returns the build metadata of the running binary.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		BuildTime: BuildTime,
		GoVersion: runtime.Version(),
	}
}

// Short returns a compact "version (commit)" string for startup logs.
func Short() string {
	return fmt.Sprintf("%s (%s)", Version, Commit)
}
