// Package version carries build metadata, overridden via -ldflags at
// release time.
package version

var (
	// Version is the release version string.
	Version = "dev"
	// GitSHA is the commit the binary was built from.
	GitSHA = "unknown"
	// BuildTime is the build timestamp.
	BuildTime = "unknown"
)
