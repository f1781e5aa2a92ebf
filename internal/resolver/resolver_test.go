package resolver

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeExecutable(t *testing.T, dir, name string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"), 0o755))
	return path
}

func TestResolve_DirectPath(t *testing.T) {
	dir := t.TempDir()
	bin := writeExecutable(t, dir, "tool")

	got, err := Resolve(bin, nil)
	require.NoError(t, err)
	assert.Equal(t, bin, got)
}

func TestResolve_SearchesPathInOrder(t *testing.T) {
	dirA := t.TempDir()
	dirB := t.TempDir()
	writeExecutable(t, dirB, "tool")

	got, err := Resolve("tool", []string{dirA, dirB})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dirB, "tool"), got)
}

func TestResolve_NotFound(t *testing.T) {
	_, err := Resolve("nonexistent-tool-xyz", []string{t.TempDir()})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestResolve_NotExecutable(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tool")
	require.NoError(t, os.WriteFile(path, []byte("not executable"), 0o644))

	_, err := Resolve("tool", []string{dir})
	assert.ErrorIs(t, err, ErrNotExecutable) // found, but no execute bit: EACCES, as execvp reports
}

func TestResolve_EmptyEntryMeansCurrentDir(t *testing.T) {
	wd, err := os.Getwd()
	require.NoError(t, err)
	defer func() { _ = os.Chdir(wd) }()

	dir := t.TempDir()
	writeExecutable(t, dir, "tool")
	require.NoError(t, os.Chdir(dir))

	got, err := Resolve("tool", []string{""})
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "tool"), filepath.Clean(got))
}

func TestSplitSearchPath(t *testing.T) {
	assert.Equal(t, []string{"/a", "/b"}, SplitSearchPath("/a:/b"))
	assert.Nil(t, SplitSearchPath(""))
}

func TestEnvValue(t *testing.T) {
	env := []string{"FOO=bar", "PATH=/a:/b"}
	v, ok := EnvValue(env, "PATH")
	assert.True(t, ok)
	assert.Equal(t, "/a:/b", v)

	_, ok = EnvValue(env, "MISSING")
	assert.False(t, ok)
}
