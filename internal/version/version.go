// Package version provides build information for the correlator binary.
package version

import "fmt"

// Set at build time with -ldflags "-X .../internal/version.Version=v1.2.3".
var (
	Version   = "dev"
	BuildTime = "unknown"
	GitCommit = "unknown"
)

const Name = "correlator"

func Info() map[string]string {
	return map[string]string{
		"name":       Name,
		"version":    Version,
		"build_time": BuildTime,
		"git_commit": GitCommit,
	}
}

// String is the one-line form printed by the version command.
func String() string {
	return fmt.Sprintf("%s %s (commit %s, built %s)", Name, Version, GitCommit, BuildTime)
}
