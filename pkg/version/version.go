// Package version stamps binaries with their release and commit. Values
// come from -ldflags on release builds and fall back to module build info
// for plain `go build` / `go test` runs.
package version

import "runtime/debug"

// Set via -ldflags:
//
//	-X .../pkg/version.release=v0.3.0 -X .../pkg/version.commit=a3f8c2d1
var (
	release = ""
	commit  = ""
)

// Release returns the tagged release, or "dev" for untagged builds.
func Release() string {
	if release != "" {
		return release
	}
	return "dev"
}

// Commit returns the short VCS revision, with a "-modified" suffix for
// dirty worktrees. Unknown when neither ldflags nor build info carry it.
func Commit() string {
	if commit != "" {
		return short(commit)
	}
	rev := buildSetting("vcs.revision")
	if rev == "" {
		return "unknown"
	}
	rev = short(rev)
	if buildSetting("vcs.modified") == "true" {
		rev += "-modified"
	}
	return rev
}

// Full returns "pagegen <release> (<commit>)" for startup logs and the
// health endpoint.
func Full() string {
	return "pagegen " + Release() + " (" + Commit() + ")"
}

func buildSetting(key string) string {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return ""
	}
	for _, s := range info.Settings {
		if s.Key == key {
			return s.Value
		}
	}
	return ""
}

func short(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
