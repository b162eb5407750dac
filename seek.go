package corelog

// Snapshot is a byte-addressable, verifiable fixed view of the log as of
// the moment it was taken: later appends to the underlying log do not
// change what Snapshot.Seek or Snapshot.Roots report.
type Snapshot struct {
	log    *Log
	length uint64
}

// Snapshot freezes the log's current length for later byte-offset
// lookups and root retrieval, immune to concurrent appends because no
// Merkle node the snapshot can reach is ever overwritten.
func (l *Log) Snapshot() *Snapshot {
	return &Snapshot{log: l, length: l.Length()}
}

// Length returns the number of blocks visible through this snapshot.
func (s *Snapshot) Length() uint64 { return s.length }

// Seek finds the block index and relative offset containing bytesOffset,
// as of this snapshot's length.
func (s *Snapshot) Seek(bytesOffset uint64) (index, relOffset uint64, err error) {
	index, relOffset, err = s.log.shared.core.Tree().Seek(bytesOffset)
	if err != nil {
		return 0, 0, &StorageError{Err: err}
	}
	if index >= s.length {
		return 0, 0, ErrOutOfBounds
	}
	return index, relOffset, nil
}

// Roots returns the Merkle mountain peaks as of this snapshot's length.
func (s *Snapshot) Roots() ([]TreeRoot, error) {
	roots, err := s.log.shared.core.Tree().GetRoots(s.length)
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	out := make([]TreeRoot, len(roots))
	for i, r := range roots {
		out[i] = TreeRoot{Index: r.Index, Hash: r.Hash, Size: r.Size}
	}
	return out, nil
}

// TreeRoot is one mountain peak of the log's Merkle tree, exposed to
// callers outside the core package.
type TreeRoot struct {
	Index uint64
	Hash  []byte
	Size  uint64
}

// Seek finds the block index and relative offset containing bytesOffset
// as of the log's current length.
func (l *Log) Seek(bytesOffset uint64) (index, relOffset uint64, err error) {
	return l.Snapshot().Seek(bytesOffset)
}

// TreeHash returns a single fixed-size commitment to the log's mountain
// peaks: the bagged Merkle root at length, or at the log's current length
// if length is omitted. Passing more than one value is a programmer error;
// only the first is used.
func (l *Log) TreeHash(length ...uint64) ([]byte, error) {
	at := l.Length()
	if len(length) > 0 {
		at = length[0]
	}
	h, err := l.shared.core.Tree().BaggedRoot(at)
	if err != nil {
		return nil, &StorageError{Err: err}
	}
	return h, nil
}
