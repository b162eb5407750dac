// Package wire implements the message envelopes exchanged between peers
// replicating a log, and a pair of interchangeable codecs for them. Every
// frame carries a format byte naming the codec its body was encoded with,
// so a reader decodes each frame on its own: CBOR by default, with Gob
// kept available for peers that would rather not pull in a CBOR decoder.
package wire

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"io"

	"github.com/fxamacker/cbor/v2"
)

// FormatID identifies the codec used for a connection's frames.
type FormatID uint8

const (
	FormatCBOR FormatID = iota
	FormatGob
)

// Codec marshals and unmarshals wire messages.
type Codec interface {
	ID() FormatID
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type cborCodec struct{}

func (cborCodec) ID() FormatID                    { return FormatCBOR }
func (cborCodec) Marshal(v any) ([]byte, error)   { return cbor.Marshal(v) }
func (cborCodec) Unmarshal(d []byte, v any) error { return cbor.Unmarshal(d, v) }

type gobCodec struct{}

func (gobCodec) ID() FormatID { return FormatGob }

func (gobCodec) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (gobCodec) Unmarshal(d []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(d)).Decode(v)
}

// CBORCodec and GobCodec are the two codecs a connection may negotiate.
var (
	CBORCodec Codec = cborCodec{}
	GobCodec  Codec = gobCodec{}
)

// CodecFor resolves a FormatID to its Codec.
func CodecFor(id FormatID) (Codec, error) {
	switch id {
	case FormatCBOR:
		return CBORCodec, nil
	case FormatGob:
		return GobCodec, nil
	default:
		return nil, fmt.Errorf("wire: unknown format id %d", id)
	}
}

// MessageType tags each frame so the reader knows which envelope to decode
// into before dispatching it.
type MessageType uint8

const (
	TypeInfo MessageType = iota
	TypeHave
	TypeRequest
	TypeBlockData
	TypeUpgradeRequest
	TypeUpgradeResponse
	TypeSeekRequest
	TypeSeekResponse
	TypeOptions
	TypeExtension
	TypeClose
)

// Frame is one length-prefixed, typed, codec-encoded message on the wire.
type Frame struct {
	Type MessageType
	Body []byte
}

// WriteFrame writes a frame as: 1 byte format id, 1 byte type, 4-byte
// big-endian length, then the encoded body.
func WriteFrame(w io.Writer, codec Codec, typ MessageType, v any) error {
	body, err := codec.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal %T: %w", v, err)
	}
	header := []byte{byte(codec.ID()), byte(typ), 0, 0, 0, 0}
	putUint32(header[2:], uint32(len(body)))
	if _, err := w.Write(header); err != nil {
		return fmt.Errorf("write frame header: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write frame body: %w", err)
	}
	return nil
}

// ReadFrame reads one frame and returns its type, codec and raw body; the
// caller decodes the body into the concrete envelope its type implies.
func ReadFrame(r io.Reader) (MessageType, Codec, []byte, error) {
	header := make([]byte, 6)
	if _, err := io.ReadFull(r, header); err != nil {
		return 0, nil, nil, err
	}
	codec, err := CodecFor(FormatID(header[0]))
	if err != nil {
		return 0, nil, nil, err
	}
	typ := MessageType(header[1])
	length := getUint32(header[2:])
	body := make([]byte, length)
	if _, err := io.ReadFull(r, body); err != nil {
		return 0, nil, nil, fmt.Errorf("read frame body: %w", err)
	}
	return typ, codec, body, nil
}

func putUint32(b []byte, v uint32) {
	b[0] = byte(v >> 24)
	b[1] = byte(v >> 16)
	b[2] = byte(v >> 8)
	b[3] = byte(v)
}

func getUint32(b []byte) uint32 {
	return uint32(b[0])<<24 | uint32(b[1])<<16 | uint32(b[2])<<8 | uint32(b[3])
}
