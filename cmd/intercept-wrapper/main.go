// Command intercept-wrapper is the fallback interception entry point used
// on platforms without a usable preload mechanism. It is never invoked
// directly: internal/wrapper.Plant symlinks it under the names of
// well-known compiler drivers and build tools, so when a build runs
// "cc", it actually runs this binary (as "cc", via argv[0]).
//
// It determines which real tool it is standing in for from its own
// basename, resolves the real executable with the wrapper directory
// removed from PATH (so the search does not find itself again), then
// delegates through the same reporter path the shim uses: it execs
// intercept-reporter with the same flag set the shim would have built,
// so reporting and the final exec happen identically in both modes.
package main

import (
	"fmt"
	"os"

	"golang.org/x/sys/unix"

	"github.com/rizsotto/intercept/internal/pathutil"
	"github.com/rizsotto/intercept/internal/resolver"
	"github.com/rizsotto/intercept/internal/session"
	"github.com/rizsotto/intercept/internal/wrapper"
)

func main() {
	os.Exit(run(os.Args, os.Environ()))
}

func run(argv, envp []string) int {
	if len(argv) == 0 {
		return 1
	}
	tool := wrapper.ToolFromArgv0(argv[0])

	core, _, ok := session.FromEnvironment(envp)
	if !ok {
		fmt.Fprintln(os.Stderr, "intercept-wrapper: no active session in environment")
		return 1
	}

	selfDir := "."
	self, selfErr := os.Executable()
	if selfErr == nil {
		selfDir = dirOf(self)
	}
	currentPath, _ := resolver.EnvValue(envp, "PATH")
	cleanPath := pathutil.RemoveFromPath(selfDir, currentPath)

	target, err := resolver.Resolve(tool, resolver.SplitSearchPath(cleanPath))
	// os.Executable may name the binary a planted symlink points at rather
	// than the symlink, so a hit that is this very binary drops its
	// directory from the search too.
	for err == nil && selfErr == nil {
		ti, tErr := os.Stat(target)
		si, sErr := os.Stat(self)
		next := pathutil.RemoveFromPath(dirOf(target), cleanPath)
		if tErr != nil || sErr != nil || !os.SameFile(ti, si) || next == cleanPath {
			break
		}
		cleanPath = next
		target, err = resolver.Resolve(tool, resolver.SplitSearchPath(cleanPath))
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercept-wrapper: %s: not found\n", tool)
		return 127
	}

	reporterArgs := make([]string, 0, len(argv)+6)
	reporterArgs = append(reporterArgs, core.Reporter,
		"--destination", core.Destination,
		"--library", "")
	if core.Verbose {
		reporterArgs = append(reporterArgs, "--verbose")
	}
	reporterArgs = append(reporterArgs, "--execute", target, "--")
	reporterArgs = append(reporterArgs, argv...)

	cleanEnv := replacePath(envp, cleanPath)

	if err := unix.Exec(core.Reporter, reporterArgs, cleanEnv); err != nil {
		fmt.Fprintf(os.Stderr, "intercept-wrapper: exec %s: %v\n", core.Reporter, err)
		if os.IsPermission(err) {
			return 126
		}
		return 1
	}
	return 0
}

func dirOf(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func replacePath(envp []string, newPath string) []string {
	out := make([]string, len(envp))
	copy(out, envp)
	for i, kv := range envp {
		if len(kv) >= 5 && kv[:5] == "PATH=" {
			out[i] = "PATH=" + newPath
			return out
		}
	}
	return append(out, "PATH="+newPath)
}
