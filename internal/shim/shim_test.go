package shim

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rizsotto/intercept/internal/session"
)

type fakeLinker struct {
	execveProgram string
	execveArgv    []string
	execveEnvp    []string
	execveErr     error

	spawnProgram string
	spawnArgv    []string
	spawnEnvp    []string
	spawnPID     int
	spawnErr     error
}

func (f *fakeLinker) Execve(program string, argv, envp []string) error {
	f.execveProgram = program
	f.execveArgv = argv
	f.execveEnvp = envp
	return f.execveErr
}

func (f *fakeLinker) PosixSpawn(program string, argv, envp []string) (int, error) {
	f.spawnProgram = program
	f.spawnArgv = argv
	f.spawnEnvp = envp
	return f.spawnPID, f.spawnErr
}

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestExecutor_Execve_RewritesArgvWithReporterFront(t *testing.T) {
	dir := t.TempDir()
	cc := writeExecutable(t, dir, "cc")

	sess := session.LibraryPreloadSession{
		Core:    session.Core{Destination: "/tmp/x.sock", Reporter: "/usr/local/bin/intercept-reporter"},
		Library: "/usr/local/lib/intercept-shim.so",
	}
	linker := &fakeLinker{}
	x := NewExecutor(sess, linker, "/usr/local/bin/intercept-reporter", []string{dir})

	err := x.Execve("cc", []string{"cc", "-c", "a.c"}, []string{"HOME=/home/user"}, true, nil)
	require.NoError(t, err)

	assert.Equal(t, "/usr/local/bin/intercept-reporter", linker.execveProgram)
	assert.Equal(t, []string{
		"/usr/local/bin/intercept-reporter",
		"--destination", "/tmp/x.sock",
		"--library", "/usr/local/lib/intercept-shim.so",
		"--execute", cc,
		"--",
		"cc", "-c", "a.c",
	}, linker.execveArgv)
}

func TestExecutor_Execve_VerboseFlagAddedWhenSessionVerbose(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "cc")

	sess := session.LibraryPreloadSession{
		Core:    session.Core{Destination: "d", Reporter: "r", Verbose: true},
		Library: "l",
	}
	linker := &fakeLinker{}
	x := NewExecutor(sess, linker, "r", []string{dir})

	require.NoError(t, x.Execve("cc", []string{"cc"}, nil, true, nil))
	assert.Contains(t, linker.execveArgv, "--verbose")

	idx := indexOf(linker.execveArgv, "--verbose")
	execIdx := indexOf(linker.execveArgv, "--execute")
	require.NotEqual(t, -1, idx)
	require.NotEqual(t, -1, execIdx)
	assert.Less(t, idx, execIdx, "--verbose must precede --execute")
}

func TestExecutor_Execve_PlantsSessionEnvironment(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "cc")

	sess := session.LibraryPreloadSession{
		Core:    session.Core{Destination: "/sock", Reporter: "/bin/reporter"},
		Library: "/lib/shim.so",
	}
	linker := &fakeLinker{}
	x := NewExecutor(sess, linker, "/bin/reporter", []string{dir})

	require.NoError(t, x.Execve("cc", []string{"cc"}, []string{"HOME=/home/user"}, true, nil))

	env := toEnvMap(linker.execveEnvp)
	assert.Equal(t, "/sock", env[session.KeyDestination])
	assert.Equal(t, "/bin/reporter", env[session.KeyReporter])
	assert.Equal(t, "/lib/shim.so", env[session.KeyLibrary])
	assert.Equal(t, "/home/user", env["HOME"])
}

func TestExecutor_Execve_WrapperSessionRewritesPathForDescendant(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "cc")

	sess := session.WrapperSession{
		Core:       session.Core{Destination: "/sock", Reporter: "/bin/reporter"},
		WrapperDir: "/wrap",
	}
	linker := &fakeLinker{}
	x := NewExecutor(sess, linker, "/bin/reporter", []string{dir})

	require.NoError(t, x.Execve("cc", []string{"cc"}, []string{"PATH=/usr/bin"}, true, nil))

	env := toEnvMap(linker.execveEnvp)
	assert.Equal(t, "/wrap:/usr/bin", env["PATH"])
}

func TestExecutor_Execve_LibraryPreloadSessionLeavesPathUntouched(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "cc")

	sess := session.LibraryPreloadSession{
		Core:    session.Core{Destination: "/sock", Reporter: "/bin/reporter"},
		Library: "/lib/shim.so",
	}
	linker := &fakeLinker{}
	x := NewExecutor(sess, linker, "/bin/reporter", []string{dir})

	require.NoError(t, x.Execve("cc", []string{"cc"}, []string{"PATH=/usr/bin"}, true, nil))

	env := toEnvMap(linker.execveEnvp)
	assert.Equal(t, "/usr/bin", env["PATH"])
}

func TestExecutor_Execve_UnresolvableNameReturnsErrorWithoutCallingLinker(t *testing.T) {
	sess := session.LibraryPreloadSession{Core: session.Core{Destination: "d", Reporter: "r"}, Library: "l"}
	linker := &fakeLinker{}
	x := NewExecutor(sess, linker, "r", []string{t.TempDir()})

	err := x.Execve("does-not-exist", []string{"does-not-exist"}, nil, true, nil)
	assert.Error(t, err)
	assert.Empty(t, linker.execveProgram)
}

func TestExecutor_Execve_ExplicitSearchPathOverridesCapturedSearchPath(t *testing.T) {
	capturedDir := t.TempDir()
	explicitDir := t.TempDir()
	cc := writeExecutable(t, explicitDir, "cc")

	sess := session.LibraryPreloadSession{Core: session.Core{Destination: "d", Reporter: "r"}, Library: "l"}
	linker := &fakeLinker{}
	x := NewExecutor(sess, linker, "r", []string{capturedDir})

	err := x.Execve("cc", []string{"cc"}, nil, true, []string{explicitDir})
	require.NoError(t, err)
	assert.Contains(t, linker.execveArgv, cc)
}

func TestExecutor_PosixSpawn_ReturnsDelegatePID(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "ld")

	sess := session.LibraryPreloadSession{Core: session.Core{Destination: "d", Reporter: "r"}, Library: "l"}
	linker := &fakeLinker{spawnPID: 4242}
	x := NewExecutor(sess, linker, "r", []string{dir})

	pid, err := x.PosixSpawn("ld", []string{"ld"}, nil, true, nil)
	require.NoError(t, err)
	assert.Equal(t, 4242, pid)
	assert.Equal(t, "r", linker.spawnProgram)
}

func TestExecutor_PosixSpawn_PropagatesLinkerError(t *testing.T) {
	dir := t.TempDir()
	writeExecutable(t, dir, "ld")

	sess := session.LibraryPreloadSession{Core: session.Core{Destination: "d", Reporter: "r"}, Library: "l"}
	wantErr := errors.New("boom")
	linker := &fakeLinker{spawnErr: wantErr}
	x := NewExecutor(sess, linker, "r", []string{dir})

	_, err := x.PosixSpawn("ld", []string{"ld"}, nil, true, nil)
	assert.ErrorIs(t, err, wantErr)
}

func TestExecutor_ShellInvocation_SpawnsChildInsteadOfReplacingCaller(t *testing.T) {
	// /bin/sh is resolved via ResolveDirect (it contains a path separator),
	// not via SearchPath, so this relies on /bin/sh existing on the host,
	// true of any Unix system this shim could ever run on.
	sess := session.LibraryPreloadSession{Core: session.Core{Destination: "d", Reporter: "r"}, Library: "l"}
	linker := &fakeLinker{spawnPID: 777}
	x := NewExecutor(sess, linker, "r", nil)

	pid, err := x.ShellInvocation("echo hi", nil)
	require.NoError(t, err)
	assert.Equal(t, 777, pid)
	assert.Equal(t, "r", linker.spawnProgram)
	assert.Contains(t, linker.spawnArgv, "echo hi")
	assert.Contains(t, linker.spawnArgv, "-c")
	assert.Empty(t, linker.execveProgram, "system(3) must not replace the calling process's image")
}

func TestPackVariadic_CopiesArgs(t *testing.T) {
	in := []string{"a", "b", "c"}
	out := PackVariadic(in)
	assert.Equal(t, in, out)

	// Mutating the returned slice must not alias the input.
	out[0] = "z"
	assert.Equal(t, "a", in[0])
}

func indexOf(s []string, v string) int {
	for i, x := range s {
		if x == v {
			return i
		}
	}
	return -1
}

func toEnvMap(envp []string) map[string]string {
	m := make(map[string]string, len(envp))
	for _, kv := range envp {
		for i := 0; i < len(kv); i++ {
			if kv[i] == '=' {
				m[kv[:i]] = kv[i+1:]
				break
			}
		}
	}
	return m
}
