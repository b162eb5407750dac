package core

import (
	"encoding/binary"
	"os"
	"sync"

	"github.com/pkg/errors"
)

// nodeRecordSize is the on-disk size of one tree node: a 32-byte digest
// followed by the byte span it covers.
const nodeRecordSize = 32 + 8

// nodeStore persists the flat MMR node array backing a MerkleTree. It is
// intentionally dumb: callers are responsible for addressing nodes by
// their mmr index and for deciding when a node is a leaf or interior.
type nodeStore struct {
	mu   sync.RWMutex
	file *os.File
	size uint64 // number of records currently stored
}

func openNodeStore(f *os.File) (*nodeStore, error) {
	info, err := f.Stat()
	if err != nil {
		return nil, errors.Wrap(err, "stat tree file")
	}
	return &nodeStore{file: f, size: uint64(info.Size()) / nodeRecordSize}, nil
}

func (s *nodeStore) length() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.size
}

func (s *nodeStore) get(i uint64) ([]byte, uint64, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if i >= s.size {
		return nil, 0, errors.Errorf("node %d out of range (have %d)", i, s.size)
	}
	buf := make([]byte, nodeRecordSize)
	if _, err := s.file.ReadAt(buf, int64(i)*nodeRecordSize); err != nil {
		return nil, 0, errors.Wrapf(err, "read node %d", i)
	}
	hash := append([]byte(nil), buf[:32]...)
	sz := binary.BigEndian.Uint64(buf[32:])
	return hash, sz, nil
}

func (s *nodeStore) append(hash []byte, nodeSize uint64) (uint64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	buf := make([]byte, nodeRecordSize)
	copy(buf, hash)
	binary.BigEndian.PutUint64(buf[32:], nodeSize)

	if _, err := s.file.WriteAt(buf, int64(s.size)*nodeRecordSize); err != nil {
		return 0, errors.Wrap(err, "append node")
	}
	idx := s.size
	s.size++
	return idx, nil
}

func (s *nodeStore) truncate(newSize uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.file.Truncate(int64(newSize) * nodeRecordSize); err != nil {
		return errors.Wrap(err, "truncate tree file")
	}
	s.size = newSize
	return nil
}

func (s *nodeStore) sync() error {
	return s.file.Sync()
}
