// Package version derives a human-readable version from the build info
// the Go toolchain embeds into the binary.
package version

import (
	"runtime/debug"
	"strings"
)

func readParts() (revision string, modified, ok bool) {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return "", false, false
	}
	settings := make(map[string]string)
	for _, s := range info.Settings {
		settings[s.Key] = s.Value
	}
	// Built from a local VCS checkout: vcs.revision is present.
	if rev, ok := settings["vcs.revision"]; ok {
		return rev, settings["vcs.modified"] == "true", true
	}
	// Built as a module dependency: info.Main.Version looks like
	// v0.0.0-20230107144322-7a5757f46310.
	v := info.Main.Version
	if idx := strings.LastIndexByte(v, '-'); idx > -1 {
		return v[idx+1:], false, true
	}
	return "", false, false
}

// Read returns the full revision the binary was built from.
func Read() string {
	revision, modified, ok := readParts()
	if !ok {
		return "(unknown)"
	}
	if modified {
		revision += " (modified)"
	}
	return revision
}

// ReadBrief returns a short version suffix suitable for one-line output.
func ReadBrief() string {
	revision, modified, ok := readParts()
	if !ok {
		return "(unknown)"
	}
	modifiedSuffix := ""
	if modified {
		modifiedSuffix = "+"
	}
	if len(revision) > 6 {
		revision = revision[:6]
	}
	return "g" + revision + modifiedSuffix
}
