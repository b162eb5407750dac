package core

import (
	"bytes"
	"sync"

	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
)

// Core is the storage engine behind a log: the Merkle tree of block
// hashes, the raw block bytes, a bitfield of which blocks are actually
// held, and a small header carrying the log's key material and user data.
// Exactly one Core exists per discovery key; every session sharing that
// key talks to the same Core instance.
type Core struct {
	mu sync.Mutex

	storage *Storage
	tree    *MerkleTree
	blocks  *Blocks
	bits    *Bitfield
	oplog   *OpLog
	header  Header

	closed bool
}

// Open constructs a Core over storage opened by a StorageFactory.
func Open(storage *Storage) (*Core, error) {
	tree, err := OpenMerkleTree(storage.Tree)
	if err != nil {
		return nil, errors.Wrap(err, "open tree")
	}
	blocks, err := OpenBlocks(storage.Blocks, storage.Offsets)
	if err != nil {
		return nil, errors.Wrap(err, "open blocks")
	}
	bits, err := OpenBitfield(storage.Bitfield)
	if err != nil {
		return nil, errors.Wrap(err, "open bitfield")
	}
	oplog, header, err := OpenOpLog(storage.Header)
	if err != nil {
		return nil, errors.Wrap(err, "open header")
	}

	return &Core{
		storage: storage,
		tree:    tree,
		blocks:  blocks,
		bits:    bits,
		oplog:   oplog,
		header:  header,
	}, nil
}

// Tree returns the Core's Merkle tree.
func (c *Core) Tree() *MerkleTree { return c.tree }

// Blocks returns the Core's raw block store.
func (c *Core) Blocks() *Blocks { return c.blocks }

// Bitfield returns the Core's presence bitfield.
func (c *Core) Bitfield() *Bitfield { return c.bits }

// Length returns the number of appended blocks.
func (c *Core) Length() uint64 {
	return c.tree.Length()
}

// Fork returns the Core's current fork id, bumped on every Truncate.
func (c *Core) Fork() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header.Fork
}

// PublicKey returns the log's public key, or nil if none has been set.
func (c *Core) PublicKey() []byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.header.PublicKey
}

// Get returns block i's raw bytes, verifying nothing beyond presence; the
// caller is expected to check the block's hash against the tree itself
// when verification matters.
func (c *Core) Get(i uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	if !c.bits.Get(i) {
		return nil, ErrBlockNotFound
	}
	return c.blocks.Get(i)
}

// Append writes a new block, updates the tree and marks the corresponding
// bit present. It is a thin single-block wrapper over AppendBatch.
func (c *Core) Append(data []byte) (uint64, []byte, error) {
	start, hashes, err := c.AppendBatch([][]byte{data}, nil)
	if err != nil {
		return 0, nil, err
	}
	return start, hashes[0], nil
}

// AppendBatch writes every block in data as a single atomic extension of
// the tree, under one hold of the Core's lock so a reader never observes
// one store updated without the others. If preappend is non-nil, it is
// invoked once, inside the lock, with data and the index/fork the batch is
// about to be assigned; it may rewrite data's entries in place — this is
// the only point at which a caller can know the final index a block will
// land at before it is actually committed, which per-index encryption
// needs. If the header carries a signer, the new root is signed and
// persisted in the same critical section, so a Core with a signer never
// has unsigned data a peer could be asked to trust. Appending an empty
// batch is a no-op that returns the Core's unchanged length.
func (c *Core) AppendBatch(data [][]byte, preappend func(buffers [][]byte, startIndex, fork uint64) error) (startIndex uint64, leafHashes [][]byte, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return 0, nil, ErrClosed
	}
	start := c.tree.Length()
	if len(data) == 0 {
		return start, nil, nil
	}

	if preappend != nil {
		if err := preappend(data, start, c.header.Fork); err != nil {
			return 0, nil, errors.Wrap(err, "preappend hook")
		}
	}

	hashes := make([][]byte, len(data))
	for i, block := range data {
		idx, err := c.blocks.Append(block)
		if err != nil {
			return 0, nil, errors.Wrap(err, "append block")
		}
		leafHash, err := c.tree.Append(block, uint64(len(block)))
		if err != nil {
			return 0, nil, errors.Wrap(err, "append tree leaf")
		}
		if err := c.bits.Set(idx, true); err != nil {
			return 0, nil, errors.Wrap(err, "set bitfield")
		}
		hashes[i] = leafHash
	}

	length := start + uint64(len(data))
	if len(c.header.SignerKey) > 0 {
		sig, err := c.signRootLocked(length)
		if err != nil {
			return 0, nil, errors.Wrap(err, "sign root")
		}
		c.header.RootSignature = sig
		c.header.SignedLength = length
		if err := c.oplog.Write(c.header); err != nil {
			return 0, nil, errors.Wrap(err, "persist signed root")
		}
	}
	return start, hashes, nil
}

// Truncate discards every block at or beyond length and bumps the fork id.
// A writable Core re-signs the root at the new length; a read-only Core
// drops whatever forwarded signature it held if that signature named a
// length beyond the truncation point.
func (c *Core) Truncate(length uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if err := c.blocks.Truncate(length); err != nil {
		return errors.Wrap(err, "truncate blocks")
	}
	if err := c.tree.Truncate(length); err != nil {
		return errors.Wrap(err, "truncate tree")
	}
	if err := c.bits.Truncate(length); err != nil {
		return errors.Wrap(err, "truncate bitfield")
	}
	c.header.Fork++

	if len(c.header.SignerKey) > 0 {
		sig, err := c.signRootLocked(length)
		if err != nil {
			return errors.Wrap(err, "sign root")
		}
		c.header.RootSignature = sig
		c.header.SignedLength = length
	} else if c.header.SignedLength > length {
		c.header.RootSignature = nil
		c.header.SignedLength = 0
	}
	return c.oplog.Write(c.header)
}

// signRootLocked signs the bagged root at length with the header's stored
// signer key. The caller must already hold c.mu.
func (c *Core) signRootLocked(length uint64) ([]byte, error) {
	if len(c.header.SignerKey) == 0 {
		return nil, ErrNoSigner
	}
	signer, err := SignerFromPKCS8(c.header.SignerKey)
	if err != nil {
		return nil, errors.Wrap(err, "load signer")
	}
	hash, err := c.tree.BaggedRoot(length)
	if err != nil {
		return nil, err
	}
	return signer.Sign(SignedRoot{Length: length, Hash: hash})
}

// SignRoot signs the bagged root at length with the Core's stored signer,
// for callers that need a signature outside the append/truncate path.
func (c *Core) SignRoot(length uint64) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil, ErrClosed
	}
	return c.signRootLocked(length)
}

// SignedState returns the length and signature most recently signed or
// accepted from a peer, and whether any signature is held at all.
func (c *Core) SignedState() (length uint64, signature []byte, ok bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.header.RootSignature) == 0 {
		return 0, nil, false
	}
	return c.header.SignedLength, c.header.RootSignature, true
}

// AcceptSignedRoot verifies sig against the Core's own public key and, if
// it checks out and names a length at least as recent as anything already
// held, persists it so this Core can forward the same proof to other
// peers without needing the private key.
func (c *Core) AcceptSignedRoot(length uint64, sig []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if len(c.header.PublicKey) == 0 {
		return ErrNoPublicKey
	}
	signed, err := Verify(c.header.PublicKey, sig)
	if err != nil {
		return err
	}
	if signed.Length != length {
		return ErrInvalidSignature
	}
	if length < c.header.SignedLength {
		return nil
	}
	c.header.RootSignature = sig
	c.header.SignedLength = length
	return c.oplog.Write(c.header)
}

// Restore re-populates the bytes for leaf i, whose hash the tree already
// committed but whose body was previously dropped, verifying data against
// that committed leaf hash before writing anything back.
func (c *Core) Restore(i uint64, data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	want, err := c.tree.LeafHash(i)
	if err != nil {
		return errors.Wrap(err, "leaf hash")
	}
	if !bytes.Equal(hashLeaf(data), want) {
		return ErrBlockHashMismatch
	}
	if err := c.blocks.Put(i, data); err != nil {
		return errors.Wrap(err, "restore block")
	}
	return c.bits.Set(i, true)
}

// SetUserData stores a key/value pair in the header, persisting it
// immediately.
func (c *Core) SetUserData(key string, value []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	if c.header.UserData == nil {
		c.header.UserData = make(map[string][]byte)
	}
	if value == nil {
		delete(c.header.UserData, key)
	} else {
		c.header.UserData[key] = value
	}
	return c.oplog.Write(c.header)
}

// GetUserData returns a previously stored value.
func (c *Core) GetUserData(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	v, ok := c.header.UserData[key]
	return v, ok
}

// SetKeyPair installs the public key and, for a writable Core, the signer
// material, persisting both to the header.
func (c *Core) SetKeyPair(publicKey []byte, signer *Signer) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return ErrClosed
	}
	c.header.PublicKey = publicKey
	if signer != nil {
		der, err := signer.MarshalPKCS8()
		if err != nil {
			return errors.Wrap(err, "marshal signer key")
		}
		c.header.SignerKey = der
	}
	return c.oplog.Write(c.header)
}

// DefaultSign returns the Core's stored signer, if the header carries one.
func (c *Core) DefaultSign() (*Signer, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.header.SignerKey) == 0 {
		return nil, ErrNoSigner
	}
	return SignerFromPKCS8(c.header.SignerKey)
}

// Close flushes every store to disk and releases the backing files. The
// four stores live in separate files, so their final syncs run concurrently
// rather than one after another.
func (c *Core) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.closed = true

	var g errgroup.Group
	g.Go(c.tree.sync)
	g.Go(c.blocks.sync)
	g.Go(c.bits.sync)
	g.Go(c.oplog.sync)
	if err := g.Wait(); err != nil {
		return err
	}
	return c.storage.Close()
}
