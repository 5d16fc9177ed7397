package staterequest

import (
	"fmt"
	"runtime"
)

var (
	// Version is the module's semantic version (injected at build time optionally).
	Version = "v0.1.0"
	// GitCommit is the git SHA the binary was built from (inject via -ldflags).
	GitCommit = "unknown"
	// BuildDate is the build timestamp (inject via -ldflags).
	BuildDate = "unknown"
	// GoVersion records the Go toolchain used to build the binary.
	GoVersion = runtime.Version()
)

// GetVersion returns a human-readable version string.
func GetVersion() string {
	return fmt.Sprintf("stable-request %s (commit: %s, built: %s, go: %s)",
		Version, GitCommit, BuildDate, GoVersion)
}

// GetVersionInfo returns version metadata as a map, suitable for logging or
// attaching to metrics/export.
func GetVersionInfo() map[string]string {
	return map[string]string{
		"version":    Version,
		"commit":     GitCommit,
		"build_date": BuildDate,
		"go_version": GoVersion,
	}
}
