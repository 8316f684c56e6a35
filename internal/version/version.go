// Package version reports the build of the primaria binary. Release builds
// set the variables with -ldflags:
//
//	go build -ldflags="-X github.com/54b3r/primaria-go/internal/version.Version=v1.2.3 \
//	                    -X github.com/54b3r/primaria-go/internal/version.Commit=abc1234 \
//	                    -X github.com/54b3r/primaria-go/internal/version.BuildDate=2025-01-01"
//
// Other builds fall back to the VCS stamp the Go toolchain embeds.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

var (
	Version   = "dev"
	Commit    = "unknown"
	BuildDate = "unknown"
)

// Info is the build description served by `primaria version` and
// GET /api/health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	// Modified is set when the binary was built from a dirty tree.
	Modified bool `json:"modified,omitempty"`
}

// Get returns the build description.
func Get() Info {
	info := Info{Version: Version, Commit: Commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
	bi, ok := debug.ReadBuildInfo()
	if !ok {
		return info
	}
	for _, s := range bi.Settings {
		switch s.Key {
		case "vcs.revision":
			if info.Commit == "unknown" && len(s.Value) >= 7 {
				info.Commit = s.Value[:7]
			}
		case "vcs.time":
			if info.BuildDate == "unknown" {
				info.BuildDate = s.Value
			}
		case "vcs.modified":
			info.Modified = s.Value == "true"
		}
	}
	if info.Version == "dev" && bi.Main.Version != "" && bi.Main.Version != "(devel)" {
		info.Version = bi.Main.Version
	}
	return info
}

// String formats i for a terminal.
func (i Info) String() string {
	dirty := ""
	if i.Modified {
		dirty = ", modified"
	}
	return fmt.Sprintf("primaria %s (commit: %s%s, built: %s, %s)", i.Version, i.Commit, dirty, i.BuildDate, i.GoVersion)
}
