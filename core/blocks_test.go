package core

import (
	"os"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTempBlocks(t *testing.T) *Blocks {
	t.Helper()
	data, err := os.CreateTemp(t.TempDir(), "blocks-*.dat")
	require.NoError(t, err)
	offsets, err := os.CreateTemp(t.TempDir(), "offsets-*.idx")
	require.NoError(t, err)
	b, err := OpenBlocks(data, offsets)
	require.NoError(t, err)
	return b
}

func TestBlocksAppendAndGet(t *testing.T) {
	b := openTempBlocks(t)

	idx0, err := b.Append([]byte("hello"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx0)

	idx1, err := b.Append([]byte("world!"))
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx1)

	got, err := b.Get(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hello"), got)

	got, err = b.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("world!"), got)

	_, err = b.Get(2)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestBlocksPutRewritesAnAllocatedIndex(t *testing.T) {
	b := openTempBlocks(t)
	_, err := b.Append([]byte("original"))
	require.NoError(t, err)

	require.NoError(t, b.Put(0, []byte("replacement")))
	got, err := b.Get(0)
	require.NoError(t, err)
	require.Equal(t, []byte("replacement"), got)
	require.Equal(t, uint64(1), b.Length())

	err = b.Put(5, []byte("nope"))
	require.Error(t, err)
}

func TestBlocksTruncate(t *testing.T) {
	b := openTempBlocks(t)
	for _, s := range []string{"a", "bb", "ccc", "dddd"} {
		_, err := b.Append([]byte(s))
		require.NoError(t, err)
	}
	require.NoError(t, b.Truncate(2))
	require.Equal(t, uint64(2), b.Length())

	got, err := b.Get(1)
	require.NoError(t, err)
	require.Equal(t, []byte("bb"), got)

	_, err = b.Get(2)
	require.ErrorIs(t, err, ErrBlockNotFound)

	idx, err := b.Append([]byte("new"))
	require.NoError(t, err)
	require.Equal(t, uint64(2), idx)
}
