// Command intercept-shim is the preload library: built with
// -buildmode=c-shared, it is the ".so" the driver places first on
// LD_PRELOAD. Its exported C symbols (execve, execv, execvp, execvpe,
// execvP, execl, execlp, execle, posix_spawn, posix_spawnp, system,
// popen, pclose — defined in exported.c) are picked up by the dynamic
// linker ahead of libc's own, so every process the driver's command tree
// creates binds to this package instead. Each exported symbol delegates
// into the cgo-free internal/shim package for the actual
// rewrite-and-delegate logic, keeping that logic unit-testable without
// ever linking a real shared object.
package main

/*
#include <spawn.h>
#include <stdlib.h>
#include <sys/types.h>

#include "preload.h"
*/
import "C"

import (
	"fmt"
	"os"
	"strconv"
	"sync"
	"unsafe"

	"golang.org/x/sys/unix"

	"github.com/rizsotto/intercept/internal/resolver"
	"github.com/rizsotto/intercept/internal/session"
	"github.com/rizsotto/intercept/internal/shim"
)

// loadOnce guards the single load-time capture of the session and
// symbol-resolution state: the constructor runs once when the shim is
// loaded, and that captured state is then reused for every intercepted
// call in the process's lifetime.
var (
	loadOnce sync.Once
	executor *shim.Executor // nil if the session is absent/malformed
)

func load() {
	loadOnce.Do(func() {
		envp := os.Environ()
		core, library, ok := session.FromEnvironment(envp)
		if !ok || library == "" {
			if core.Verbose {
				fmt.Fprintln(os.Stderr, "intercept-shim: no active session, interception disabled")
			}
			return
		}
		sess := session.LibraryPreloadSession{Core: core, Library: library}

		path, _ := resolver.EnvValue(envp, "PATH")
		executor = shim.NewExecutor(sess, realLinker{}, core.Reporter, resolver.SplitSearchPath(path))
	})
}

// init captures the session as soon as the Go runtime initializes the
// loaded library, from the environment the process started with.
func init() { //nolint:gochecknoinits
	load()
}

// realLinker implements shim.Linker by delegating to the real,
// dlsym(RTLD_NEXT, ...)-resolved primitives cached in preload.c.
type realLinker struct{}

func (realLinker) Execve(program string, argv, envp []string) error {
	cProgram := C.CString(program)
	defer C.free(unsafe.Pointer(cProgram))
	cArgv := toCStringArray(argv)
	defer freeCStringArray(cArgv)
	cEnvp := toCStringArray(envp)
	defer freeCStringArray(cEnvp)

	rc, cerr := C.intercept_call_real_execve(cProgram,
		(**C.char)(unsafe.Pointer(&cArgv[0])),
		(**C.char)(unsafe.Pointer(&cEnvp[0])))
	if rc != 0 {
		if errno, ok := cerr.(unix.Errno); ok && errno != 0 {
			return fmt.Errorf("execve %s: errno %d", program, int(errno))
		}
		return fmt.Errorf("execve %s: delegate failed", program)
	}
	return nil // unreachable on success
}

func (realLinker) PosixSpawn(program string, argv, envp []string) (int, error) {
	cProgram := C.CString(program)
	defer C.free(unsafe.Pointer(cProgram))
	cArgv := toCStringArray(argv)
	defer freeCStringArray(cArgv)
	cEnvp := toCStringArray(envp)
	defer freeCStringArray(cEnvp)

	var pid C.pid_t
	rc := C.intercept_call_real_posix_spawn(&pid, cProgram, nil, nil,
		(**C.char)(unsafe.Pointer(&cArgv[0])),
		(**C.char)(unsafe.Pointer(&cEnvp[0])))
	if rc != 0 {
		return 0, fmt.Errorf("posix_spawn %s: errno %d", program, rc)
	}
	return int(pid), nil
}

// toCStringArray builds a NULL-terminated C argv/envp array from a Go
// string slice. The caller owns and must free it via freeCStringArray.
func toCStringArray(ss []string) []*C.char {
	out := make([]*C.char, len(ss)+1)
	for i, s := range ss {
		out[i] = C.CString(s)
	}
	out[len(ss)] = nil
	return out
}

func freeCStringArray(arr []*C.char) {
	for _, p := range arr {
		if p != nil {
			C.free(unsafe.Pointer(p))
		}
	}
}

// callOrPassthroughExecve runs the call through the Executor if the
// session is active, or else calls through unchanged: since a
// cgo-exported function must still call the real primitive itself on
// this path, realLinker.Execve is reused directly with the caller's
// original, unrewritten arguments.
func callOrPassthroughExecve(program string, argv, envp []string) error {
	load()
	if executor == nil {
		return realLinker{}.Execve(program, argv, envp)
	}
	return executor.Execve(program, argv, envp, false, nil)
}

func callOrPassthroughExecvp(file string, argv, envp []string) error {
	load()
	if executor == nil {
		resolved, err := resolver.Resolve(file, resolver.SplitSearchPath(envValue(envp, "PATH")))
		if err != nil {
			return err
		}
		return realLinker{}.Execve(resolved, argv, envp)
	}
	return executor.Execve(file, argv, envp, true, nil)
}

// callOrPassthroughExecvP implements the execvP(3) BSD variant: like
// execvp, file is searched by name, but against the caller's explicit
// searchPath argument rather than the environment's PATH.
func callOrPassthroughExecvP(file string, searchPath []string, argv, envp []string) error {
	load()
	if executor == nil {
		resolved, err := resolver.Resolve(file, searchPath)
		if err != nil {
			return err
		}
		return realLinker{}.Execve(resolved, argv, envp)
	}
	return executor.Execve(file, argv, envp, true, searchPath)
}

func callOrPassthroughPosixSpawn(program string, argv, envp []string, byName bool) (int, error) {
	load()
	if executor == nil {
		target := program
		if byName {
			resolved, err := resolver.Resolve(program, resolver.SplitSearchPath(envValue(envp, "PATH")))
			if err != nil {
				return 0, err
			}
			target = resolved
		}
		return realLinker{}.PosixSpawn(target, argv, envp)
	}
	return executor.PosixSpawn(program, argv, envp, byName, nil)
}

func envValue(envp []string, key string) string {
	v, _ := resolver.EnvValue(envp, key)
	return v
}

//export goExecve
func goExecve(path, argv, envp *C.char) C.int {
	goArgv := fromCStringArray((**C.char)(unsafe.Pointer(argv)))
	goEnvp := fromCStringArray((**C.char)(unsafe.Pointer(envp)))
	if err := callOrPassthroughExecve(C.GoString(path), goArgv, goEnvp); err != nil {
		return errnoOf(err)
	}
	return 0
}

//export goExecvp
func goExecvp(file, argv, envp *C.char) C.int {
	goArgv := fromCStringArray((**C.char)(unsafe.Pointer(argv)))
	goEnvp := fromCStringArray((**C.char)(unsafe.Pointer(envp)))
	if err := callOrPassthroughExecvp(C.GoString(file), goArgv, goEnvp); err != nil {
		return errnoOf(err)
	}
	return 0
}

//export goExecvP
func goExecvP(file, searchPath, argv *C.char) C.int {
	goArgv := fromCStringArray((**C.char)(unsafe.Pointer(argv)))
	path := resolver.SplitSearchPath(C.GoString(searchPath))
	if err := callOrPassthroughExecvP(C.GoString(file), path, goArgv, os.Environ()); err != nil {
		return errnoOf(err)
	}
	return 0
}

//export goPosixSpawn
func goPosixSpawn(byName C.int, pid *C.pid_t, path *C.char, fileActions, attrp unsafe.Pointer, argv, envp *C.char) C.int {
	goArgv := fromCStringArray((**C.char)(unsafe.Pointer(argv)))
	goEnvp := fromCStringArray((**C.char)(unsafe.Pointer(envp)))
	childPid, err := callOrPassthroughPosixSpawn(C.GoString(path), goArgv, goEnvp, byName != 0)
	if err != nil {
		return errnoOf(err)
	}
	if pid != nil {
		*pid = C.pid_t(childPid)
	}
	return 0
}

//export goSystem
func goSystem(command *C.char) C.int {
	load()
	cmd := C.GoString(command)
	if executor == nil {
		return C.intercept_call_real_system(command)
	}
	pid, err := executor.ShellInvocation(cmd, os.Environ())
	if err != nil {
		return -1
	}
	return waitForShellChild(pid)
}

// waitForShellChild blocks until pid exits and translates its wait status
// into system(3)'s own return convention: the raw status word wait(2)
// produced, which the caller then inspects with WEXITSTATUS/WIFSIGNALED
// exactly as it would for a real system(3) call. The calling process
// itself is untouched throughout, unlike the exec family.
func waitForShellChild(pid int) C.int {
	var ws unix.WaitStatus
	for {
		_, err := unix.Wait4(pid, &ws, 0, nil)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return -1
		}
		return C.int(ws)
	}
}

// goPopenArgv resolves and rewrites a popen(3) command into a reporter
// invocation, handing the result back to exported.c's popen() as two
// NUL-separated, double-NUL-terminated string buffers (one for argv, one
// for envp) copied into C-owned memory via C.CBytes so they survive past
// this call; exported.c parses them with build_argv_from_buffer and owns
// freeing them. *active is set to 0 when there is no session to rewrite
// for, signalling the caller to pass the command straight through to the
// real popen(3).
//
//export goPopenArgv
func goPopenArgv(command *C.char, active *C.int, program **C.char, argvBuf, envpBuf *unsafe.Pointer) {
	load()
	*active = 0
	if executor == nil {
		return
	}
	reporterPath, argv, envp, err := executor.RewriteShellInvocation(C.GoString(command), os.Environ())
	if err != nil {
		return
	}
	*program = C.CString(reporterPath)
	*argvBuf = packCStrings(argv)
	*envpBuf = packCStrings(envp)
	*active = 1
}

// packCStrings lays ss out as consecutive NUL-terminated strings, doubly
// NUL-terminated at the end, copied into C-owned memory.
func packCStrings(ss []string) unsafe.Pointer {
	var buf []byte
	for _, s := range ss {
		buf = append(buf, s...)
		buf = append(buf, 0)
	}
	buf = append(buf, 0)
	return C.CBytes(buf)
}

// fromCStringArray reads a NULL-terminated C string array into a Go
// slice, without taking ownership or freeing the original.
func fromCStringArray(arr **C.char) []string {
	if arr == nil {
		return nil
	}
	var out []string
	for i := 0; ; i++ {
		p := charAt(arr, i)
		if p == nil {
			break
		}
		out = append(out, C.GoString(p))
	}
	return out
}

func charAt(arr **C.char, i int) *C.char {
	const ptrSize = unsafe.Sizeof(uintptr(0))
	base := uintptr(unsafe.Pointer(arr))
	return *(**C.char)(unsafe.Pointer(base + uintptr(i)*ptrSize))
}

// errnoOf maps a resolver/delegate error to a plausible errno value. The
// exact numeric mapping is cosmetic here (the real Linker delegate
// already returns the process's own errno via its -1/errno contract in
// the common case); this only covers the resolver's own synthetic
// failures.
func errnoOf(err error) C.int {
	switch err {
	case resolver.ErrNotFound:
		return 2 // ENOENT
	case resolver.ErrNotExecutable:
		return 13 // EACCES
	default:
		if n, convErr := strconv.Atoi(lastWord(err.Error())); convErr == nil {
			return C.int(n)
		}
		return 1
	}
}

func lastWord(s string) string {
	i := len(s)
	for i > 0 && s[i-1] != ' ' {
		i--
	}
	return s[i:]
}

func main() {
	// Required by the `main` package for -buildmode=c-shared, never called.
}
