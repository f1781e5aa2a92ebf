// Package resolver implements the PATH-search resolution policy: given a
// program name and a search path, find the absolute path of the first
// regular, executable file that qualifies. Grounded on
// bear's source/libexec_a/Resolver.h and
// internal/platform.unixPlatform.Resolve (PATH-filtering technique).
package resolver

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
)

// Errors map to the errno values the underlying primitive would have
// produced.
var (
	ErrNotFound     = errors.New("resolver: no such file or directory")
	ErrNotExecutable = errors.New("resolver: permission denied")
)

// HasPathSeparator reports whether name contains a path separator and
// should therefore be treated as absolute/relative rather than searched
// for on PATH.
func HasPathSeparator(name string) bool {
	return strings.ContainsRune(name, os.PathSeparator)
}

// qualifies reports whether path names a regular file with the executable
// bit set for someone (the effective-caller check is approximated here as
// "any executable bit set", since Go cannot portably test the calling
// process's effective uid/gid against a file's owner without cgo).
func qualifies(path string) bool {
	info, err := os.Stat(path)
	if err != nil || info.IsDir() {
		return false
	}
	return info.Mode().Perm()&0111 != 0
}

// ResolveDirect verifies that name (already absolute or relative, i.e.
// containing a path separator) exists and is executable, used as-is
// without a PATH search.
func ResolveDirect(name string) (string, error) {
	if _, err := os.Stat(name); err != nil {
		if os.IsPermission(err) {
			return "", ErrNotExecutable
		}
		return "", ErrNotFound
	}
	if !qualifies(name) {
		return "", ErrNotExecutable
	}
	return name, nil
}

// Resolve implements the full policy: if name contains a separator, it is
// used as-is (see ResolveDirect); otherwise searchPath is scanned in order,
// an empty entry meaning the current directory, and the first qualifying
// candidate wins. When nothing qualifies but a non-executable regular file
// of that name was seen, the error is ErrNotExecutable, else ErrNotFound.
func Resolve(name string, searchPath []string) (string, error) {
	if HasPathSeparator(name) {
		return ResolveDirect(name)
	}

	sawNonExecutable := false
	for _, entry := range searchPath {
		dir := entry
		if dir == "" {
			dir = "."
		}
		candidate := filepath.Join(dir, name)
		if qualifies(candidate) {
			abs, err := filepath.Abs(candidate)
			if err != nil {
				return candidate, nil
			}
			return abs, nil
		}
		if info, err := os.Stat(candidate); err == nil && info.Mode().IsRegular() {
			sawNonExecutable = true
		}
	}

	if sawNonExecutable {
		return "", ErrNotExecutable
	}
	return "", ErrNotFound
}

// SplitSearchPath splits a colon-separated (platform list separator)
// search path string, as found in a PATH environment variable or a BSD
// execvP explicit search_path argument.
func SplitSearchPath(path string) []string {
	if path == "" {
		return nil
	}
	return filepath.SplitList(path)
}

// EnvValue returns the value of key within envp ("KEY=VALUE" entries),
// or "" with ok=false if absent.
func EnvValue(envp []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range envp {
		if strings.HasPrefix(kv, prefix) {
			return kv[len(prefix):], true
		}
	}
	return "", false
}
