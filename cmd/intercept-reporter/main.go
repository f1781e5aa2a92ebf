// Command intercept-reporter is the standalone executable the shim (and
// the wrapper) substitute in place of the real target for every
// intercepted call: it becomes the actual child process, so it is the
// only process that can correctly report a Started event carrying the
// child's own pid, then it replaces itself with the real target via
// execve so the shim, still preloaded, goes on to intercept whatever
// that target execs in turn.
//
// Usage: intercept-reporter --destination <addr> --library <path>
//
//	[--verbose] --execute <resolved program> -- <original argv...>
package main

import (
	"fmt"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/rizsotto/intercept/internal/event"
	"github.com/rizsotto/intercept/internal/execution"
	"github.com/rizsotto/intercept/internal/ipc"
	"github.com/rizsotto/intercept/internal/session"
)

// reportTimeout bounds how long the reporter will wait for the IPC write
// to complete before giving up and exec-ing anyway: interception must
// never block the user's build.
const reportTimeout = 3 * time.Second

type flags struct {
	destination string
	library     string
	verbose     bool
	execute     string
	argv        []string
}

// exitMissingFlag is the distinguished exit status used when a required
// flag is missing: the reporter must not attempt to run the target.
const exitMissingFlag = 64

func main() {
	os.Exit(run(os.Args[1:], os.Environ()))
}

func run(args, envp []string) int {
	f, err := parseFlags(args)
	if err != nil {
		fmt.Fprintf(os.Stderr, "intercept-reporter: %v\n", err)
		return exitMissingFlag
	}

	report(f, envp)

	return execInto(f.execute, f.argv, plantSessionEnv(envp, f))
}

func parseFlags(args []string) (flags, error) {
	var f flags
	i := 0
	for i < len(args) {
		switch args[i] {
		case "--destination":
			if i+1 >= len(args) {
				return f, fmt.Errorf("--destination requires a value")
			}
			f.destination = args[i+1]
			i += 2
		case "--library":
			if i+1 >= len(args) {
				return f, fmt.Errorf("--library requires a value")
			}
			f.library = args[i+1]
			i += 2
		case "--verbose":
			f.verbose = true
			i++
		case "--execute":
			if i+1 >= len(args) {
				return f, fmt.Errorf("--execute requires a value")
			}
			f.execute = args[i+1]
			i += 2
		case "--":
			f.argv = args[i+1:]
			i = len(args)
		default:
			return f, fmt.Errorf("unrecognized argument %q", args[i])
		}
	}
	if f.destination == "" {
		return f, fmt.Errorf("missing required --destination")
	}
	if f.execute == "" {
		return f, fmt.Errorf("missing required --execute")
	}
	if f.argv == nil {
		return f, fmt.Errorf("missing '--' separator before original argv")
	}
	return f, nil
}

// report opens an IPC client to f.destination and emits a Started event,
// bounded by reportTimeout. A failure or timeout is logged (if verbose)
// and never prevents the subsequent exec.
func report(f flags, envp []string) {
	done := make(chan struct{})
	go func() {
		defer close(done)
		conn, err := ipc.Dial(f.destination)
		if err != nil {
			if f.verbose {
				fmt.Fprintf(os.Stderr, "intercept-reporter: warning: failed to reach collector: %v\n", err)
			}
			return
		}
		defer conn.Close()

		client := ipc.NewClient(conn)
		wd, _ := os.Getwd()
		exec := execution.Execution{
			Program:     f.execute,
			Arguments:   f.argv,
			WorkingDir:  wd,
			Environment: execution.EnvironmentFromSlice(envp),
		}
		factory := event.NewFactory()
		started := factory.Start(uint32(os.Getpid()), uint32(os.Getppid()), exec)
		if err := client.Report(started); err != nil && f.verbose {
			fmt.Fprintf(os.Stderr, "intercept-reporter: warning: failed to report start: %v\n", err)
		}
	}()

	select {
	case <-done:
	case <-time.After(reportTimeout):
		if f.verbose {
			fmt.Fprintln(os.Stderr, "intercept-reporter: warning: report timed out, proceeding with exec")
		}
	}
}

// plantSessionEnv ensures the outgoing environment still carries the
// session variables, so interception remains active in the exec'd
// target. f.library is empty when this invocation came from the wrapper
// fallback (cmd/intercept-wrapper always passes "--library" ""), which
// never uses LD_PRELOAD; planting a LibraryPreloadSession in that case
// would inject a malformed, empty-entry LD_PRELOAD the wrapper-mode
// target has no use for.
func plantSessionEnv(envp []string, f flags) []string {
	core := session.Core{Destination: f.destination, Reporter: selfPath(), Verbose: f.verbose}
	var sess session.Session
	if f.library != "" {
		sess = session.LibraryPreloadSession{Core: core, Library: f.library}
	} else {
		sess = session.WrapperSession{Core: core}
	}
	return sess.Env(envp)
}

func selfPath() string {
	self, err := os.Executable()
	if err != nil {
		return os.Args[0]
	}
	return self
}

// execInto replaces the current process image with target, the same
// semantics execve(2) provides: it must use execve, not posix_spawn, so
// the shim (still preloaded in this very process) continues to intercept
// whatever the target execs next.
func execInto(target string, argv, envp []string) int {
	if err := unix.Exec(target, argv, envp); err != nil {
		fmt.Fprintf(os.Stderr, "intercept-reporter: exec %s: %v\n", target, err)
		if os.IsNotExist(err) {
			return 127
		}
		if os.IsPermission(err) {
			return 126
		}
		return 1
	}
	return 0 // unreachable on success
}
