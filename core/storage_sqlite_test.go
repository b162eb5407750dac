package core

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func openTempSQLStorage(t *testing.T) *SQLStorage {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "log.db")
	s, err := OpenSQLStorage(dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestSQLStorageNodeRoundtrip(t *testing.T) {
	s := openTempSQLStorage(t)

	idx, err := s.AppendNode([]byte("hash-a"), 10)
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	idx, err = s.AppendNode([]byte("hash-b"), 20)
	require.NoError(t, err)
	require.Equal(t, uint64(1), idx)

	hash, size, err := s.GetNode(0)
	require.NoError(t, err)
	require.Equal(t, []byte("hash-a"), hash)
	require.Equal(t, uint64(10), size)

	require.NoError(t, s.TruncateNodes(1))
	_, _, err = s.GetNode(1)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestSQLStorageBlockRoundtrip(t *testing.T) {
	s := openTempSQLStorage(t)

	idx, err := s.AppendBlock([]byte("first"))
	require.NoError(t, err)
	require.Equal(t, uint64(0), idx)

	data, err := s.GetBlock(0)
	require.NoError(t, err)
	require.Equal(t, []byte("first"), data)

	require.NoError(t, s.TruncateBlocks(0))
	_, err = s.GetBlock(0)
	require.ErrorIs(t, err, ErrBlockNotFound)
}

func TestSQLStorageBitfield(t *testing.T) {
	s := openTempSQLStorage(t)

	v, err := s.GetBit(5)
	require.NoError(t, err)
	require.False(t, v)

	require.NoError(t, s.SetBit(5, true))
	v, err = s.GetBit(5)
	require.NoError(t, err)
	require.True(t, v)

	require.NoError(t, s.SetBit(5, false))
	v, err = s.GetBit(5)
	require.NoError(t, err)
	require.False(t, v)
}

func TestSQLStorageHeaderRoundtrip(t *testing.T) {
	s := openTempSQLStorage(t)

	h := Header{
		PublicKey: []byte("pub"),
		SignerKey: []byte("signer"),
		Fork:      3,
		UserData:  map[string][]byte{"a": []byte("1")},
	}
	require.NoError(t, s.WriteHeader(h))

	got, err := s.ReadHeader()
	require.NoError(t, err)
	require.Equal(t, h.PublicKey, got.PublicKey)
	require.Equal(t, h.SignerKey, got.SignerKey)
	require.Equal(t, h.Fork, got.Fork)
	require.Equal(t, h.UserData, got.UserData)
}
