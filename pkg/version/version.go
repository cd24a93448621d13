// Package version carries build metadata. Release builds inject it with
// -ldflags "-X"; otherwise the VCS stamp from the Go toolchain is used.
package version

import "runtime/debug"

var (
	Version   = "dev"
	GitCommit = "unknown"
	BuildDate = "unknown"
)

// init fills fields left unset by the linker from the embedded build info.
func init() {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return
	}
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			if GitCommit == "unknown" {
				GitCommit = s.Value
			}
		case "vcs.time":
			if BuildDate == "unknown" {
				BuildDate = s.Value
			}
		}
	}
}

func short(commit string) string {
	if len(commit) > 7 {
		return commit[:7]
	}
	return commit
}

// String renders "<version> (<short commit>, built <date>)".
func String() string {
	return Version + " (" + short(GitCommit) + ", built " + BuildDate + ")"
}
