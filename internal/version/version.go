// Package version holds build information for feedwatch.
//
// Set at build time via ldflags:
//
//	go build -ldflags "-X github.com/rickgao/cosmic-feed/internal/version.Version=1.0.0 \
//	                   -X github.com/rickgao/cosmic-feed/internal/version.Commit=$(git rev-parse --short HEAD)" \
//	    ./cmd/feedwatch
//
// When Commit is not set, the VCS revision embedded by the go tool is used.
package version

import "runtime/debug"

var (
	Version   = "dev"
	Commit    = ""
	BuildTime = "unknown"
)

// Info is the build information reported by /health.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildTime string `json:"build_time"`
}

// Get returns the build information.
func Get() Info {
	return Info{
		Version:   Version,
		Commit:    commit(),
		BuildTime: BuildTime,
	}
}

// String returns a formatted version string.
func String() string {
	i := Get()
	return i.Version + " (" + i.Commit + ") built " + i.BuildTime
}

func commit() string {
	if Commit != "" {
		return Commit
	}
	if bi, ok := debug.ReadBuildInfo(); ok {
		for _, s := range bi.Settings {
			if s.Key == "vcs.revision" && len(s.Value) >= 7 {
				return s.Value[:7]
			}
		}
	}
	return "unknown"
}
