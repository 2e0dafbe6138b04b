// Package version exposes build metadata stamped at link time.
package version

import "runtime/debug"

// Version is the semantic version of the dirtman binary, set via ldflags.
var Version = "dev"

// Commit is the Git commit hash the binary was built from, set via ldflags.
var Commit = "unknown"

// Date is the build timestamp in RFC 3339 format, set via ldflags.
var Date = "unknown"

// InitBinaryVersion fills in commit metadata from the embedded build info
// when ldflags did not stamp it.
func InitBinaryVersion() {
	if Commit != "unknown" {
		return
	}

	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}

	for _, setting := range info.Settings {
		if setting.Key == "vcs.revision" {
			Commit = setting.Value

			return
		}
	}
}
