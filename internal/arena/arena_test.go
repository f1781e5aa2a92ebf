package arena

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestArena_StoreAndRetrieve(t *testing.T) {
	a := New(64)

	s1, err := a.Store("hello")
	require.NoError(t, err)
	assert.Equal(t, "hello", s1)

	s2, err := a.Store("world")
	require.NoError(t, err)
	assert.Equal(t, "world", s2)

	// Earlier stores remain valid after later ones.
	assert.Equal(t, "hello", s1)
}

func TestArena_FullReturnsErrFullAndLeavesStateUnmodified(t *testing.T) {
	a := New(8)

	_, err := a.Store("1234567") // 7 bytes + NUL == 8, exactly fits
	require.NoError(t, err)
	assert.Equal(t, 0, a.Remaining())

	_, err = a.Store("x")
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 0, a.Remaining()) // rejected store must not move top
}

func TestArena_Remaining(t *testing.T) {
	a := New(16)
	assert.Equal(t, 16, a.Remaining())

	_, err := a.Store("abc")
	require.NoError(t, err)
	assert.Equal(t, 16-4, a.Remaining()) // 3 bytes + NUL terminator
}

func TestArena_StoreLongStringExhaustsCapacity(t *testing.T) {
	a := New(10)
	_, err := a.Store(strings.Repeat("a", 20))
	assert.ErrorIs(t, err, ErrFull)
	assert.Equal(t, 10, a.Remaining()) // rejected store must not move top
}
