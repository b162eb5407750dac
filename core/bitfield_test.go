package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestBitfieldSetGetTruncate(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bits-*.dat")
	require.NoError(t, err)

	bf, err := OpenBitfield(f)
	require.NoError(t, err)

	require.False(t, bf.Get(5))
	require.NoError(t, bf.Set(5, true))
	require.True(t, bf.Get(5))
	require.False(t, bf.Get(4))

	require.NoError(t, bf.Set(130, true))
	require.True(t, bf.Get(130))

	require.NoError(t, bf.Drop(5))
	require.False(t, bf.Get(5))

	require.NoError(t, bf.Truncate(64))
	require.False(t, bf.Get(130))
}

func TestBitfieldReopenPreservesBits(t *testing.T) {
	f, err := os.CreateTemp(t.TempDir(), "bits-*.dat")
	require.NoError(t, err)

	bf, err := OpenBitfield(f)
	require.NoError(t, err)
	require.NoError(t, bf.Set(3, true))
	require.NoError(t, bf.Set(70, true))

	reopened, err := OpenBitfield(f)
	require.NoError(t, err)
	require.True(t, reopened.Get(3))
	require.True(t, reopened.Get(70))
	require.False(t, reopened.Get(4))
}
