// Package version exposes build metadata injected through -ldflags.
package version

import "fmt"

var (
	// Version is the semantic version.
	Version = "v0.0.0-dev"

	// GitCommit is the source revision.
	GitCommit = "unknown"

	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)

// Info returns a one-line description suitable for a startup banner.
func Info() string {
	return fmt.Sprintf("kokoro %s (%s) built at %s", Version, GitCommit, BuildTime)
}
