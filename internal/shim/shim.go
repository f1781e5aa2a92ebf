// Package shim implements the cgo-free core of the preload interception
// logic: resolve, rewrite, delegate, expressed against small interfaces
// so it is unit-testable without ever linking a real shared library.
// cmd/intercept-shim wires this package to the actual libc symbols via
// cgo. Grounded on
// bear's source/intercept/source/report/libexec/Executor.h
// and Linker.cc (dlsym(RTLD_NEXT, ...) delegation), and on
// internal/platform.Platform's interface-as-test-seam idiom.
//
// The shim never opens its own IPC connection and never reports an event
// itself: every intercepted call is rewritten so that the reporter helper
// becomes the delegate's argv[0]/program, and it is the reporter (running
// as the real child, cmd/intercept-reporter) that reports Started and
// then execs into the resolved target. This keeps the shim itself free of
// any blocking call.
package shim

import (
	"errors"

	"github.com/rizsotto/intercept/internal/resolver"
	"github.com/rizsotto/intercept/internal/session"
)

// Linker is the subset of the real exec/posix_spawn family the shim
// delegates to once it has rewritten the call. A real cgo implementation
// resolves these via dlsym(RTLD_NEXT, ...) once at load time; tests
// supply a fake that records calls instead of replacing the process.
type Linker interface {
	// Execve replaces the calling process image, as execve(2) would. On
	// success this never returns; on failure it returns the error libc
	// would have reported via errno.
	Execve(program string, argv, envp []string) error
	// PosixSpawn starts a new process without replacing the caller, as
	// posix_spawn(2) would, and returns its pid.
	PosixSpawn(program string, argv, envp []string) (pid int, err error)
}

// ErrInactive names the state in which the shim's session is absent or
// malformed. No function in this package returns it: cmd/intercept-shim
// detects that state as a nil Executor and calls through unchanged.
var ErrInactive = errors.New("shim: session is not active")

// Executor holds everything one call-site interception needs: the active
// session and the delegate Linker. One Executor is constructed once at
// shim load time and reused for every intercepted call in that process's
// lifetime.
type Executor struct {
	Session session.Session
	Linker  Linker

	// ReporterPath is the absolute path to the reporter helper binary,
	// substituted in place of the real program for every intercepted call.
	ReporterPath string

	// SearchPath is the process's current PATH, split, used to resolve
	// bare command names the same way the shell would.
	SearchPath []string
}

// NewExecutor builds an Executor.
func NewExecutor(sess session.Session, linker Linker, reporterPath string, searchPath []string) *Executor {
	return &Executor{
		Session:      sess,
		Linker:       linker,
		ReporterPath: reporterPath,
		SearchPath:   searchPath,
	}
}

// resolveProgram applies the resolution policy of the intercepted
// primitive: execve/posix_spawn take name literally (relative to the current
// directory when it has no separator, exactly as the real primitive
// would); execvp/posix_spawnp/execlp (byName) walk PATH, using the
// Executor's captured SearchPath unless an explicit search path was
// supplied (the execvP BSD variant's explicit list).
func (x *Executor) resolveProgram(name string, byName bool, explicitSearchPath []string) (string, error) {
	if !byName {
		return resolver.ResolveDirect(name)
	}
	path := x.SearchPath
	if explicitSearchPath != nil {
		path = explicitSearchPath
	}
	return resolver.Resolve(name, path)
}

// rewrite builds the reporter-fronted argv and an envp carrying the
// session's variables (PATH rewritten for wrapper-mode sessions and left
// as is for library-preload sessions; for the latter, Session.Env plants
// LD_PRELOAD with the shim first again on every rewrite, so a caller that
// drops it does not stop propagation).
func (x *Executor) rewrite(program string, argv, envp []string) (newProgram string, newArgv, newEnvp []string) {
	args := make([]string, 0, len(argv)+6)
	args = append(args, x.ReporterPath,
		"--destination", destinationOf(x.Session),
		"--library", libraryOf(x.Session))
	if verboseOf(x.Session) {
		args = append(args, "--verbose")
	}
	args = append(args, "--execute", program, "--")
	args = append(args, argv...)

	out := x.Session.Env(envp)
	if path, ok := resolver.EnvValue(out, "PATH"); ok {
		if newPath := x.Session.RewritePath(path); newPath != path {
			out = replacePathEntry(out, newPath)
		}
	}

	return x.ReporterPath, args, out
}

func replacePathEntry(envp []string, newPath string) []string {
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

func destinationOf(s session.Session) string {
	switch v := s.(type) {
	case session.LibraryPreloadSession:
		return v.Destination
	case session.WrapperSession:
		return v.Destination
	default:
		return ""
	}
}

func libraryOf(s session.Session) string {
	if v, ok := s.(session.LibraryPreloadSession); ok {
		return v.Library
	}
	return ""
}

func verboseOf(s session.Session) bool {
	switch v := s.(type) {
	case session.LibraryPreloadSession:
		return v.Verbose
	case session.WrapperSession:
		return v.Verbose
	default:
		return false
	}
}

// Execve implements the execve(2)/execv(2)/execvp(2)/execvpe(2) family
// interception point: resolve, rewrite, delegate. byName selects the
// resolution policy: false for execve/execv (name taken literally), true
// for execvp/execvpe/execlp (name searched against explicitSearchPath, or
// the Executor's captured PATH if explicitSearchPath is nil). Only
// returns on error, matching execve(2)'s own contract.
func (x *Executor) Execve(name string, argv, envp []string, byName bool, explicitSearchPath []string) error {
	program, err := x.resolveProgram(name, byName, explicitSearchPath)
	if err != nil {
		return err
	}
	reporterPath, newArgv, newEnvp := x.rewrite(program, argv, envp)
	return x.Linker.Execve(reporterPath, newArgv, newEnvp)
}

// PosixSpawn implements the posix_spawn(2)/posix_spawnp(2) interception
// point: resolve, rewrite, delegate, returning the delegate's pid (which
// is the reporter's pid until it execs into the real target, preserving
// the pid across the exec). byName distinguishes posix_spawnp (true,
// PATH-searched) from posix_spawn (false, literal), as for Execve.
func (x *Executor) PosixSpawn(name string, argv, envp []string, byName bool, explicitSearchPath []string) (int, error) {
	program, err := x.resolveProgram(name, byName, explicitSearchPath)
	if err != nil {
		return 0, err
	}
	reporterPath, newArgv, newEnvp := x.rewrite(program, argv, envp)
	return x.Linker.PosixSpawn(reporterPath, newArgv, newEnvp)
}

// RewriteShellInvocation resolves and rewrites a system(3)/popen(3) shell
// command into the reporter-fronted (program, argv, envp) triple the
// caller must itself spawn, without performing the spawn: popen(3)'s
// caller still has to wire the pipe end into the child's stdin/stdout
// before exec, something neither Execve nor PosixSpawn's Linker contract
// can express. /bin/sh is an absolute path, so resolution is literal
// either way.
func (x *Executor) RewriteShellInvocation(command string, envp []string) (program string, argv, newEnvp []string, err error) {
	program, err = x.resolveProgram("/bin/sh", false, nil)
	if err != nil {
		return "", nil, nil, err
	}
	reporterPath, rewrittenArgv, rewrittenEnvp := x.rewrite(program, []string{"sh", "-c", command}, envp)
	return reporterPath, rewrittenArgv, rewrittenEnvp, nil
}

// ShellInvocation implements the system(3) interception point. Unlike
// Execve, it must not replace the calling process's own image: system(3)
// forks a child to run the command and returns control to its caller once
// that child exits, so this spawns the rewritten invocation as a child via
// PosixSpawn and hands back its pid for the caller to wait on.
func (x *Executor) ShellInvocation(command string, envp []string) (int, error) {
	reporterPath, argv, newEnvp, err := x.RewriteShellInvocation(command, envp)
	if err != nil {
		return 0, err
	}
	return x.Linker.PosixSpawn(reporterPath, argv, newEnvp)
}

// PackVariadic assembles an argv slice for the execl/execlp/execle family,
// whose C callers pass arguments one at a time terminated by a NULL
// pointer instead of as an array. cmd/intercept-shim does not call it:
// exported.c's collect_varargs packs the C varargs into an argv array
// before crossing into Go. This is the pure-Go form of that copy.
func PackVariadic(args []string) []string {
	out := make([]string, len(args))
	copy(out, args)
	return out
}
