// Package wrapper implements the fallback interception mode for platforms
// where LD_PRELOAD (or an equivalent) is unavailable: a directory of
// symlinks, one per well-known compiler driver name, all
// pointing at a single wrapper binary, with that directory placed first
// on a descendant's PATH. Grounded on
// internal/platform.unixPlatform.CreateIntercept (os.Symlink) and
// platform.Resolve (PATH-filtering via filepath.SplitList).
package wrapper

import (
	"fmt"
	"os"
	"path/filepath"
)

// DefaultTools is the set of compiler driver and build-tool names the
// original wraps (Session.cc's ia::wrapper_tools), planted as symlinks
// whenever a caller does not supply an explicit list.
var DefaultTools = []string{"cc", "c++", "gcc", "g++", "clang", "clang++", "ar", "ld", "as"}

// Plant creates dir (if absent) and, within it, one symlink per tool name
// pointing at wrapperBinary. Returns the paths created. An existing
// symlink for a tool is left alone only if it already points at
// wrapperBinary; otherwise Plant replaces it, since a stale wrapper from
// a previous run must not silently keep intercepting with old settings.
func Plant(dir, wrapperBinary string, tools []string) ([]string, error) {
	if len(tools) == 0 {
		tools = DefaultTools
	}
	if _, err := os.Stat(wrapperBinary); err != nil {
		return nil, fmt.Errorf("wrapper binary not found: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create wrapper directory %s: %w", dir, err)
	}

	created := make([]string, 0, len(tools))
	for _, tool := range tools {
		link := filepath.Join(dir, tool)

		if existing, err := os.Readlink(link); err == nil {
			if existing == wrapperBinary {
				created = append(created, link)
				continue
			}
			if err := os.Remove(link); err != nil {
				return created, fmt.Errorf("failed to replace stale wrapper symlink %s: %w", link, err)
			}
		}

		if err := os.Symlink(wrapperBinary, link); err != nil {
			return created, fmt.Errorf("failed to create wrapper symlink %s: %w", link, err)
		}
		created = append(created, link)
	}
	return created, nil
}

// Cleanup removes every symlink Plant created for tools in dir. Errors
// for individual entries are collected but do not stop the sweep, since a
// best-effort cleanup of a temporary directory should not abandon partway.
func Cleanup(dir string, tools []string) error {
	if len(tools) == 0 {
		tools = DefaultTools
	}
	var firstErr error
	for _, tool := range tools {
		link := filepath.Join(dir, tool)
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) && firstErr == nil {
			firstErr = fmt.Errorf("failed to remove wrapper symlink %s: %w", link, err)
		}
	}
	return firstErr
}

// ToolFromArgv0 derives the tool name the wrapper binary was invoked as,
// from its own argv[0], the way a symlink-dispatched binary determines
// which real tool it is standing in for.
func ToolFromArgv0(argv0 string) string {
	return filepath.Base(argv0)
}
