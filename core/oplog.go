package core

import (
	"bytes"
	"encoding/gob"
	"io"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// Header is the small amount of state a Core keeps outside the tree,
// blocks and bitfield: the log's public key, its signer material (if this
// Core is writable), the most recently signed root, and a flat set of
// user-data entries. It is rewritten wholesale on every change, the same
// truncate-then-rewrite approach used for the on-disk tail record.
type Header struct {
	PublicKey []byte
	SignerKey []byte // PKCS8 ECDSA private key, nil for a read-only Core
	Fork      uint64
	UserData  map[string][]byte

	// RootSignature is the COSE signature over SignedRoot{SignedLength,
	// hash}, produced locally by Append/Truncate when a signer is present,
	// or accepted from a peer via AcceptSignedRoot and kept so it can be
	// forwarded to other peers without needing the private key.
	RootSignature []byte
	SignedLength  uint64
}

// OpLog persists a Header to a single file.
type OpLog struct {
	mu   sync.RWMutex
	file *os.File
}

// OpenOpLog opens the header file, returning the header if one already
// exists.
func OpenOpLog(f *os.File) (*OpLog, Header, error) {
	log := &OpLog{file: f}
	h, err := log.read()
	if err != nil {
		return nil, Header{}, err
	}
	if h.UserData == nil {
		h.UserData = make(map[string][]byte)
	}
	return log, h, nil
}

func (l *OpLog) read() (Header, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return Header{}, errors.Wrap(err, "seek header file")
	}
	var h Header
	dec := gob.NewDecoder(l.file)
	if err := dec.Decode(&h); err != nil {
		if errors.Is(err, io.EOF) {
			return Header{UserData: make(map[string][]byte)}, nil
		}
		return Header{}, errors.Wrap(err, "decode header")
	}
	return h, nil
}

// Write replaces the stored header.
func (l *OpLog) Write(h Header) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(h); err != nil {
		return errors.Wrap(err, "encode header")
	}

	if err := l.file.Truncate(0); err != nil {
		return errors.Wrap(err, "truncate header file")
	}
	if _, err := l.file.Seek(0, io.SeekStart); err != nil {
		return errors.Wrap(err, "seek header file")
	}
	if _, err := l.file.Write(buf.Bytes()); err != nil {
		return errors.Wrap(err, "write header file")
	}
	return l.file.Sync()
}

func (l *OpLog) sync() error {
	return l.file.Sync()
}
