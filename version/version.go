// Package version holds the build-time identity of the binary:
// module path, release version and VCS revision, set via -ldflags at
// build time the same way distribution-distribution's own version
// package does it.
package version

// mainpkg is the overall, canonical project import path under which
// the module was built.
var mainpkg = "github.com/go-revlog/revlog"

// version indicates which version of the binary is running. Replaced
// at build time; the value here is what you get from a plain `go
// install`.
var version = "v0.0.0+unknown"

// revision is the VCS commit the binary was built from. Replaced at
// build time via -ldflags.
var revision = "unknown"

// Package returns the module import path the binary was built from.
func Package() string {
	return mainpkg
}

// Version returns the release version.
func Version() string {
	return version
}

// Revision returns the VCS revision.
func Revision() string {
	return revision
}
