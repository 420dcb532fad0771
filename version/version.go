// Package version reports the build of the library that wrote a store.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Build information, set with -ldflags when a release is cut.
var (
	CommitHash = "dev"
	BuildTime  = "unknown"
	Version    = "dev"
)

const modulePath = "github.com/teranos/quadstore"

// Info contains version and build information.
type Info struct {
	CommitHash string `json:"commit_hash" toml:"commit_hash"`
	BuildTime  string `json:"build_time" toml:"build_time"`
	Version    string `json:"version" toml:"version"`
	GoVersion  string `json:"go_version" toml:"go_version"`
	Platform   string `json:"platform" toml:"platform"`
}

// Get returns the current version information. When the library is built
// as a dependency without ldflags, the module version recorded in the
// binary is used.
func Get() Info {
	v := Version
	if v == "dev" {
		if bi, ok := debug.ReadBuildInfo(); ok {
			for _, dep := range bi.Deps {
				if dep.Path == modulePath && dep.Version != "" {
					v = dep.Version
				}
			}
		}
	}
	return Info{
		CommitHash: CommitHash,
		BuildTime:  BuildTime,
		Version:    v,
		GoVersion:  runtime.Version(),
		Platform:   fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}

// String returns a human-readable version string.
func (i Info) String() string {
	if i.Version != "dev" {
		return fmt.Sprintf("quadstore %s (commit %s, built %s)", i.Version, i.CommitHash, i.BuildTime)
	}
	return fmt.Sprintf("quadstore dev (commit %s, built %s)", i.CommitHash, i.BuildTime)
}

// Short returns the version, or the short commit hash for dev builds.
func (i Info) Short() string {
	if i.Version != "dev" {
		return i.Version
	}
	if len(i.CommitHash) >= 7 {
		return i.CommitHash[:7]
	}
	return i.CommitHash
}
