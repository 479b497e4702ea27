// Package version provides build-time version information for psxav.
//
// Version and Commit are injected at build time via ldflags:
//
//	go build -ldflags "-X github.com/m35/jpsxdec-sub004/internal/version.Version=x.y.z \
//	                   -X github.com/m35/jpsxdec-sub004/internal/version.Commit=$(git rev-parse HEAD)"
package version

import (
	"fmt"
	"runtime"
)

// Build-time variables injected via ldflags.
var (
	// Version is the semantic version, "dev" for local builds.
	Version = "dev"

	// Commit is the full git commit SHA.
	Commit = "unknown"
)

// ApplicationName is the canonical name of this application.
const ApplicationName = "psxav"

// String returns a human-readable version string.
func String() string {
	platform := fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH)
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s version %s (commit: %s, %s, %s)",
			ApplicationName, Version, Commit[:8], runtime.Version(), platform)
	}
	return fmt.Sprintf("%s version %s (%s, %s)", ApplicationName, Version, runtime.Version(), platform)
}

// Short returns a short version string suitable for CLI --version output.
func Short() string {
	if Commit != "unknown" && len(Commit) >= 8 {
		return fmt.Sprintf("%s %s (%s)", ApplicationName, Version, Commit[:8])
	}
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}

// Software returns the encoder tag written into container metadata.
func Software() string {
	return fmt.Sprintf("%s %s", ApplicationName, Version)
}
