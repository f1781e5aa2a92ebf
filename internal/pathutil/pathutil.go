// Package pathutil implements the small, pure PATH-manipulation helpers
// the driver uses to build descendants' PATH. The colon-splitting
// technique is grounded on internal/runner.BuildChildEnv / splitEnvVar.
package pathutil

import (
	"runtime"
	"strings"
)

// separator returns the platform's PATH list separator.
func separator() string {
	if runtime.GOOS == "windows" {
		return ";"
	}
	return ":"
}

// split breaks a PATH string into its components using the platform list
// separator.
func split(path string) []string {
	if path == "" {
		return nil
	}
	return strings.Split(path, separator())
}

// RemoveFromPath returns path with every occurrence of entry (as a
// separator-delimited component) removed.
func RemoveFromPath(entry, path string) string {
	parts := split(path)
	kept := make([]string, 0, len(parts))
	for _, p := range parts {
		if p != entry {
			kept = append(kept, p)
		}
	}
	return strings.Join(kept, separator())
}

// KeepFrontInPath returns a PATH that begins with exactly one copy of
// entry, followed by the remaining components of path with entry removed
// elsewhere. Used by internal/session to put the wrapper directory first
// on PATH and the shim first on LD_PRELOAD.
func KeepFrontInPath(entry, path string) string {
	rest := RemoveFromPath(entry, path)
	if rest == "" {
		return entry
	}
	return entry + separator() + rest
}
