package core

import (
	"os"
	"sync"

	"github.com/pkg/errors"
)

const bitfieldWordSize = 8 // bytes per uint64 word on disk

// Bitfield tracks which block indices a Core actually holds data for. A set
// bit means "present"; a clear bit means "known to exist upstream but not
// downloaded" or "dropped". It grows by appending whole words and persists
// every mutation immediately.
type Bitfield struct {
	mu    sync.Mutex
	file  *os.File
	words []uint64
}

// OpenBitfield loads a bitfield from f, extending the in-memory words slice
// to match whatever was already on disk.
func OpenBitfield(f *os.File) (*Bitfield, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat bitfield file")
	}
	n := int(info.Size()) / bitfieldWordSize
	words := make([]uint64, n)
	buf := make([]byte, info.Size())
	if _, err := f.ReadAt(buf, 0); err != nil && n > 0 {
		return nil, errors.Wrap(err, "read bitfield file")
	}
	for i := 0; i < n; i++ {
		words[i] = beUint64(buf[i*bitfieldWordSize:])
	}
	return &Bitfield{file: f, words: words}, nil
}

func beUint64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8; i++ {
		v = v<<8 | uint64(b[i])
	}
	return v
}

func putBeUint64(b []byte, v uint64) {
	for i := 7; i >= 0; i-- {
		b[i] = byte(v)
		v >>= 8
	}
}

func (b *Bitfield) ensureWord(word int) {
	for len(b.words) <= word {
		b.words = append(b.words, 0)
	}
}

// Get reports whether bit i is set.
func (b *Bitfield) Get(i uint64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	word := int(i / 64)
	if word >= len(b.words) {
		return false
	}
	return b.words[word]&(uint64(1)<<(i%64)) != 0
}

// Set marks bit i present or absent and persists the owning word.
func (b *Bitfield) Set(i uint64, value bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	word := int(i / 64)
	b.ensureWord(word)
	if value {
		b.words[word] |= uint64(1) << (i % 64)
	} else {
		b.words[word] &^= uint64(1) << (i % 64)
	}
	return b.flushWordLocked(word)
}

// Drop clears bit i, marking the block as no longer held locally.
func (b *Bitfield) Drop(i uint64) error {
	return b.Set(i, false)
}

// Truncate clears every bit at or beyond length and drops the backing
// words that are no longer reachable.
func (b *Bitfield) Truncate(length uint64) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	word := int(length / 64)
	if word >= len(b.words) {
		return nil
	}
	mask := (uint64(1) << (length % 64)) - 1
	b.words[word] &= mask
	if err := b.flushWordLocked(word); err != nil {
		return err
	}
	for w := word + 1; w < len(b.words); w++ {
		b.words[w] = 0
	}
	b.words = b.words[:word+1]
	return b.file.Truncate(int64(len(b.words)) * bitfieldWordSize)
}

func (b *Bitfield) flushWordLocked(word int) error {
	buf := make([]byte, bitfieldWordSize)
	putBeUint64(buf, b.words[word])
	if _, err := b.file.WriteAt(buf, int64(word)*bitfieldWordSize); err != nil {
		return errors.Wrap(err, "write bitfield word")
	}
	return nil
}

func (b *Bitfield) sync() error {
	return b.file.Sync()
}
