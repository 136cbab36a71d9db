// Package version holds build version information, injected at build
// time via -ldflags.
package version

var (
	// Version is the semantic version of this build.
	Version = "0.3.0"
	// Commit is the git commit the binary was built from.
	Commit = "unknown"
	// Date is the build timestamp.
	Date = "unknown"
)
