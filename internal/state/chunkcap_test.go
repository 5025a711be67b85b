package state

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestChunkCapSetValidRange(t *testing.T) {
	c := NewChunkCap(4096)
	require.NoError(t, c.Set(1))
	require.EqualValues(t, 1, c.Get())

	require.NoError(t, c.Set(MaxChunkCap))
	require.EqualValues(t, MaxChunkCap, c.Get())
}

func TestChunkCapRejectsOutOfRange(t *testing.T) {
	c := NewChunkCap(4096)
	require.Error(t, c.Set(0))
	require.Error(t, c.Set(MaxChunkCap+1))
	require.EqualValues(t, 4096, c.Get())
}
