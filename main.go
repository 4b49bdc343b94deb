package main

import (
	"runtime/debug"
	"strings"

	"github.com/marcus/evstream/cmd"
)

// Version may be set at build time via -ldflags "-X main.Version=...".
// If left as "dev", we will attempt to derive a version from Go build info.
var Version = "dev"

func effectiveVersion(v string) string {
	if v != "" && v != "dev" {
		return v
	}

	info, ok := debug.ReadBuildInfo()
	if !ok || info == nil {
		return v
	}

	// `go install module@vX.Y.Z` records the module version.
	if info.Main.Version != "" && info.Main.Version != "(devel)" {
		return info.Main.Version
	}

	var rev, modified string
	for _, s := range info.Settings {
		switch s.Key {
		case "vcs.revision":
			rev = s.Value
		case "vcs.modified":
			modified = s.Value
		}
	}
	if rev == "" {
		return v
	}
	parts := []string{"devel", rev[:min(len(rev), 12)]}
	if modified == "true" {
		parts = append(parts, "dirty")
	}
	return strings.Join(parts, "+")
}

func main() {
	cmd.SetVersion(effectiveVersion(Version))
	cmd.Execute()
}
