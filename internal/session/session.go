// Package session implements the two process-observation strategies: a
// "library preload" case and a "wrapper" case, each knowing how to plant
// its own environment and rewrite PATH. Re-expressed from the original's
// inheritance hierarchy
// (bear's source/intercept_a/Session.h,
// source/intercept/source/collect/SessionLibrary.h) as a small interface
// with two concrete implementations, dispatching on behavior rather than
// a runtime tag field.
package session

import (
	"fmt"
	"os"

	"github.com/rizsotto/intercept/internal/pathutil"
)

// Environment variable names shared by the driver and the shim/reporter.
// The names themselves are arbitrary but must stay consistent between
// writer (driver) and reader (shim, reporter).
const (
	KeyDestination = "INTERCEPT_REPORT_DESTINATION"
	KeyReporter    = "INTERCEPT_REPORT_COMMAND"
	KeyLibrary     = "INTERCEPT_SESSION_LIBRARY"
	KeyVerbose     = "INTERCEPT_VERBOSE"

	// LDPreloadKey is the platform's preload environment variable. Linux and
	// most other ELF-based Unixes use LD_PRELOAD; this is the only name
	// wired up since the preload mechanism itself is POSIX/ELF specific.
	LDPreloadKey = "LD_PRELOAD"
)

// Core holds the fields common to every session variant: the fixed
// parameters shared by all processes in one observation run.
type Core struct {
	Destination string // IPC endpoint identifier
	Reporter    string // absolute path to the reporter helper
	Verbose     bool
}

// IsValid reports whether the fields every session needs are present: if
// any of destination, reporter, library is absent, the shim treats itself
// as inactive. Library is variant-specific so each Session type re-checks
// it too; Core.IsValid only covers the two fields every variant needs.
func (c Core) IsValid() bool {
	return c.Destination != "" && c.Reporter != ""
}

// Session is implemented by LibraryPreloadSession and WrapperSession. Env
// plants the session's environment variables into base (a copy of the
// ambient environment, typically os.Environ()) and returns the augmented
// slice. RewritePath returns a new PATH value for a descendant that must
// propagate interception.
type Session interface {
	// Env returns base with the session's variables planted, overriding any
	// attempt by the caller to unset or change them.
	Env(base []string) []string
	// RewritePath returns the PATH value a spawned descendant should see.
	RewritePath(currentPath string) string
	// Type names the session kind for the persisted report's
	// context.intercept field (source/intercept/source/Report.cc).
	Type() string
	// Valid reports whether every field this variant requires is present.
	Valid() bool
}

// LibraryPreloadSession is used when the platform's dynamic linker supports
// LD_PRELOAD. It plants INTERCEPT_SESSION_LIBRARY and ensures the shim is
// the first entry of LD_PRELOAD, preserving any pre-existing entries.
type LibraryPreloadSession struct {
	Core
	Library string // absolute path to the preload shim
}

var _ Session = LibraryPreloadSession{}

func (s LibraryPreloadSession) Type() string { return "library preload" }

func (s LibraryPreloadSession) Valid() bool {
	return s.Core.IsValid() && s.Library != ""
}

func (s LibraryPreloadSession) Env(base []string) []string {
	existingPreload, _ := lookupEnv(base, LDPreloadKey)
	out := setEnv(base, map[string]string{
		KeyDestination: s.Destination,
		KeyReporter:    s.Reporter,
		KeyLibrary:     s.Library,
		KeyVerbose:     verboseValue(s.Verbose),
		LDPreloadKey:   s.LDPreloadValue(existingPreload),
	})
	return out
}

func (s LibraryPreloadSession) RewritePath(currentPath string) string {
	return currentPath
}

// LDPreloadValue returns the LD_PRELOAD value a descendant should see,
// prepending the shim ahead of any pre-existing entries so the shim binds
// first, while preserving whatever was already there.
func (s LibraryPreloadSession) LDPreloadValue(existing string) string {
	return pathutil.KeepFrontInPath(s.Library, existing)
}

// WrapperSession is used on platforms without a usable preload mechanism.
// Its Env plants only the Core session variables (the wrapper binary still
// needs to find the driver and the reporter); the wrapper directory is not
// planted. RewritePath puts that directory first on PATH.
type WrapperSession struct {
	Core
	WrapperDir string // directory of per-tool symlinks, placed first on PATH
}

var _ Session = WrapperSession{}

func (s WrapperSession) Type() string { return "wrapper" }

func (s WrapperSession) Valid() bool {
	return s.Core.IsValid() && s.WrapperDir != ""
}

func (s WrapperSession) Env(base []string) []string {
	return setEnv(base, map[string]string{
		KeyDestination: s.Destination,
		KeyReporter:    s.Reporter,
		KeyVerbose:     verboseValue(s.Verbose),
	})
}

func (s WrapperSession) RewritePath(currentPath string) string {
	return pathutil.KeepFrontInPath(s.WrapperDir, currentPath)
}

func verboseValue(v bool) string {
	if v {
		return "1"
	}
	return ""
}

// setEnv returns a copy of base with each key in overrides set to its
// value, replacing any existing entry for that key and appending entries
// that were not already present. Mirrors
// internal/runner.BuildChildEnv's rebuild-in-place technique, generalized
// to an arbitrary key set instead of three hardcoded names.
func setEnv(base []string, overrides map[string]string) []string {
	seen := make(map[string]bool, len(overrides))
	out := make([]string, 0, len(base)+len(overrides))

	for _, kv := range base {
		key := kv
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				key = kv[:i]
				break
			}
		}
		if val, ok := overrides[key]; ok {
			if val == "" {
				continue // e.g. verbose=false: drop rather than plant empty
			}
			out = append(out, fmt.Sprintf("%s=%s", key, val))
			seen[key] = true
			continue
		}
		out = append(out, kv)
	}

	for key, val := range overrides {
		if !seen[key] && val != "" {
			out = append(out, fmt.Sprintf("%s=%s", key, val))
		}
	}

	return out
}

// FromEnvironment parses the session variables out of an environment
// slice, returning the Core, the library value ("" when absent), and
// whether both Core fields (destination and reporter) are present. It
// does not check the library: callers that need one check it themselves.
func FromEnvironment(envp []string) (core Core, library string, ok bool) {
	lookup := func(key string) string {
		v, _ := lookupEnv(envp, key)
		return v
	}
	core = Core{
		Destination: lookup(KeyDestination),
		Reporter:    lookup(KeyReporter),
		Verbose:     lookup(KeyVerbose) != "",
	}
	library = lookup(KeyLibrary)
	return core, library, core.IsValid()
}

func lookupEnv(envp []string, key string) (string, bool) {
	prefix := key + "="
	for _, kv := range envp {
		if len(kv) >= len(prefix) && kv[:len(prefix)] == prefix {
			return kv[len(prefix):], true
		}
	}
	return "", false
}

// OSEnviron is a seam for tests; production code calls os.Environ directly.
var OSEnviron = os.Environ
