package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCBORCodecRoundtrip(t *testing.T) {
	in := Info{Length: 10, ByteLen: 200, Fork: 1, Writable: true}
	data, err := CBORCodec.Marshal(in)
	require.NoError(t, err)

	var out Info
	require.NoError(t, CBORCodec.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestGobCodecRoundtrip(t *testing.T) {
	in := Have{Start: 5, Length: 3, Fork: 2}
	data, err := GobCodec.Marshal(in)
	require.NoError(t, err)

	var out Have
	require.NoError(t, GobCodec.Unmarshal(data, &out))
	require.Equal(t, in, out)
}

func TestWriteReadFrameCBOR(t *testing.T) {
	var buf bytes.Buffer
	req := Request{ID: 7, Index: 3, Fork: 0}
	require.NoError(t, WriteFrame(&buf, CBORCodec, TypeRequest, req))

	typ, codec, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeRequest, typ)
	require.Equal(t, FormatCBOR, codec.ID())

	var got Request
	require.NoError(t, codec.Unmarshal(body, &got))
	require.Equal(t, req, got)
}

func TestWriteReadFrameGob(t *testing.T) {
	var buf bytes.Buffer
	ext := Extension{Name: "caps", Data: []byte("abc")}
	require.NoError(t, WriteFrame(&buf, GobCodec, TypeExtension, ext))

	typ, codec, body, err := ReadFrame(&buf)
	require.NoError(t, err)
	require.Equal(t, TypeExtension, typ)
	require.Equal(t, FormatGob, codec.ID())

	var got Extension
	require.NoError(t, codec.Unmarshal(body, &got))
	require.Equal(t, ext, got)
}

func TestReadFrameUnknownFormat(t *testing.T) {
	var buf bytes.Buffer
	buf.Write([]byte{99, 0, 0, 0, 0, 0})
	_, _, _, err := ReadFrame(&buf)
	require.Error(t, err)
}
