package wire

// Info is broadcast whenever a peer's view of a log changes: new length,
// new fork, or a change in whether it can still serve old blocks.
type Info struct {
	Length   uint64 `cbor:"1,keyasint"`
	ByteLen  uint64 `cbor:"2,keyasint"`
	Fork     uint64 `cbor:"3,keyasint"`
	Prunable bool   `cbor:"4,keyasint"`
	Writable bool   `cbor:"5,keyasint"`
}

// Have announces that the sender holds a contiguous range of blocks.
type Have struct {
	Start  uint64 `cbor:"1,keyasint"`
	Length uint64 `cbor:"2,keyasint"`
	Fork   uint64 `cbor:"3,keyasint"`
}

// Request asks for a single block, optionally restricted to a fork.
type Request struct {
	ID    uint64 `cbor:"1,keyasint"`
	Index uint64 `cbor:"2,keyasint"`
	Fork  uint64 `cbor:"3,keyasint"`
	Nonce uint64 `cbor:"4,keyasint"`
}

// BlockData answers a Request with the raw block. Proof carries the
// responder's mountain peak hashes at its current length.
type BlockData struct {
	ID    uint64   `cbor:"1,keyasint"`
	Index uint64   `cbor:"2,keyasint"`
	Fork  uint64   `cbor:"3,keyasint"`
	Data  []byte   `cbor:"4,keyasint"`
	Proof [][]byte `cbor:"5,keyasint"`
}

// UpgradeRequest asks a peer to confirm it can extend the sender's known
// length, and to supply the nodes needed to verify the new root.
type UpgradeRequest struct {
	ID          uint64 `cbor:"1,keyasint"`
	Fork        uint64 `cbor:"2,keyasint"`
	Length      uint64 `cbor:"3,keyasint"`
	KnownLength uint64 `cbor:"4,keyasint"`
}

// UpgradeResponse carries every mountain peak hash of the responder's
// tree at Length, plus the COSE signature over that root if the responder
// has one on hand to forward.
type UpgradeResponse struct {
	ID        uint64   `cbor:"1,keyasint"`
	Fork      uint64   `cbor:"2,keyasint"`
	Length    uint64   `cbor:"3,keyasint"`
	Nodes     [][]byte `cbor:"4,keyasint"`
	Signature []byte   `cbor:"5,keyasint"`
}

// SeekRequest asks a peer which block index contains a given byte offset.
type SeekRequest struct {
	ID    uint64 `cbor:"1,keyasint"`
	Bytes uint64 `cbor:"2,keyasint"`
	Fork  uint64 `cbor:"3,keyasint"`
}

// SeekResponse answers a SeekRequest.
type SeekResponse struct {
	ID        uint64 `cbor:"1,keyasint"`
	Index     uint64 `cbor:"2,keyasint"`
	RelOffset uint64 `cbor:"3,keyasint"`
}

// Options negotiates per-connection behavior, such as whether extension
// messages for a named capability should be forwarded at all.
type Options struct {
	Extensions []string `cbor:"1,keyasint"`
}

// Extension carries an opaque, application-defined payload tied to a
// named capability both peers registered locally.
type Extension struct {
	Name string `cbor:"1,keyasint"`
	Data []byte `cbor:"2,keyasint"`
}

// Close signals the sender is ending this channel of the connection.
type Close struct {
	Reason string `cbor:"1,keyasint"`
}
