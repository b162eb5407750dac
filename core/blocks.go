package core

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// offsetEntrySize is one record in the offsets index: the byte offset of a
// block within the data file, and its length.
const offsetEntrySize = 8 + 8

// Blocks stores raw block bytes in an append-only data file, indexed by a
// parallel offsets file, trading one small extra file for O(1) lookups
// instead of a linear scan of the data file.
type Blocks struct {
	mu      sync.RWMutex
	data    *os.File
	offsets *os.File
	count   uint64
	dataLen int64
}

// OpenBlocks opens the block store backed by data and offsets files.
func OpenBlocks(data, offsets *os.File) (*Blocks, error) {
	info, err := offsets.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat offsets file")
	}
	dinfo, err := data.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat data file")
	}
	return &Blocks{
		data:    data,
		offsets: offsets,
		count:   uint64(info.Size()) / offsetEntrySize,
		dataLen: dinfo.Size(),
	}, nil
}

// Length returns the number of blocks stored.
func (b *Blocks) Length() uint64 {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.count
}

// Get returns the raw bytes of block i.
func (b *Blocks) Get(i uint64) ([]byte, error) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	if i >= b.count {
		return nil, ErrBlockNotFound
	}
	entry := make([]byte, offsetEntrySize)
	if _, err := b.offsets.ReadAt(entry, int64(i)*offsetEntrySize); err != nil {
		return nil, errors.Wrapf(err, "read offset entry %d", i)
	}
	off := binary.BigEndian.Uint64(entry[:8])
	length := binary.BigEndian.Uint64(entry[8:])
	buf := make([]byte, length)
	if _, err := b.data.ReadAt(buf, int64(off)); err != nil {
		return nil, errors.Wrapf(err, "read block %d", i)
	}
	return buf, nil
}

// Append writes a new block and returns its index.
func (b *Blocks) Append(block []byte) (uint64, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	off := b.dataLen
	if _, err := b.data.WriteAt(block, off); err != nil {
		return 0, errors.Wrap(err, "write block")
	}
	b.dataLen += int64(len(block))

	entry := make([]byte, offsetEntrySize)
	binary.BigEndian.PutUint64(entry[:8], uint64(off))
	binary.BigEndian.PutUint64(entry[8:], uint64(len(block)))
	if _, err := b.offsets.WriteAt(entry, int64(b.count)*offsetEntrySize); err != nil {
		return 0, errors.Wrap(err, "write offset entry")
	}
	idx := b.count
	b.count++
	return idx, nil
}

// Put rewrites the body for an already-allocated index i, appending fresh
// bytes to the data file and repointing i's offset entry at them. It exists
// for restoring a block whose bytes were previously dropped; a block's
// first write must still go through Append.
func (b *Blocks) Put(i uint64, data []byte) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if i >= b.count {
		return errors.Errorf("cannot restore block %d, have %d", i, b.count)
	}

	off := b.dataLen
	if _, err := b.data.WriteAt(data, off); err != nil {
		return errors.Wrap(err, "write block")
	}
	b.dataLen += int64(len(data))

	entry := make([]byte, offsetEntrySize)
	binary.BigEndian.PutUint64(entry[:8], uint64(off))
	binary.BigEndian.PutUint64(entry[8:], uint64(len(data)))
	if _, err := b.offsets.WriteAt(entry, int64(i)*offsetEntrySize); err != nil {
		return errors.Wrap(err, "write offset entry")
	}
	return nil
}

// Truncate discards every block at or beyond length. Unless length is
// zero, the underlying data file is left with its unreferenced trailing
// bytes, since Put may have moved a retained block's body past them; new
// blocks are written after those bytes, which are not reclaimed.
func (b *Blocks) Truncate(length uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if length > b.count {
		return errors.Errorf("cannot truncate to %d blocks, have %d", length, b.count)
	}
	if err := b.offsets.Truncate(int64(length) * offsetEntrySize); err != nil {
		return errors.Wrap(err, "truncate offsets file")
	}
	if length == 0 {
		b.dataLen = 0
		if err := b.data.Truncate(0); err != nil {
			return errors.Wrap(err, "truncate data file")
		}
	}
	b.count = length
	return nil
}

func (b *Blocks) sync() error {
	if err := b.data.Sync(); err != nil {
		return err
	}
	return b.offsets.Sync()
}
