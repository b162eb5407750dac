package core

import (
	"os"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/pkg/errors"
)

const (
	treeFileName    = "tree.dat"
	blocksFileName  = "blocks.dat"
	offsetsFileName = "offsets.idx"
	bitfieldName    = "bitfield.dat"
	headerFileName  = "header.dat"
	lockFileName    = "LOCK"
)

// Storage is the set of open files a single Core instance needs. A
// StorageFactory produces one per discovery key.
type Storage struct {
	Tree     *os.File
	Blocks   *os.File
	Offsets  *os.File
	Bitfield *os.File
	Header   *os.File

	lock *os.File
}

// Close releases the advisory lock and closes every file.
func (s *Storage) Close() error {
	var err error
	for _, f := range []*os.File{s.Tree, s.Blocks, s.Offsets, s.Bitfield, s.Header} {
		if cerr := f.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	if s.lock != nil {
		_ = syscall.Flock(int(s.lock.Fd()), syscall.LOCK_UN)
		if cerr := s.lock.Close(); cerr != nil && err == nil {
			err = cerr
		}
	}
	return err
}

// StorageFactory opens (or creates) the Storage for a given discovery key,
// identified here by its hex string to keep the factory filesystem-shaped.
type StorageFactory interface {
	Open(discoveryKey string) (*Storage, error)
}

// DirStorageFactory lays out one subdirectory per discovery key under a
// root directory, one directory per log.
type DirStorageFactory struct {
	mu   sync.Mutex
	root string
}

// NewDirStorageFactory returns a factory rooted at dir, creating it if
// necessary.
func NewDirStorageFactory(dir string) (*DirStorageFactory, error) {
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "create storage root")
	}
	return &DirStorageFactory{root: dir}, nil
}

// Open implements StorageFactory.
func (f *DirStorageFactory) Open(discoveryKey string) (*Storage, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	dir := filepath.Join(f.root, discoveryKey)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return nil, errors.Wrap(err, "create log directory")
	}

	lockFile, err := os.OpenFile(filepath.Join(dir, lockFileName), os.O_RDWR|os.O_CREATE, 0600)
	if err != nil {
		return nil, errors.Wrap(err, "open lock file")
	}
	if err := syscall.Flock(int(lockFile.Fd()), syscall.LOCK_EX|syscall.LOCK_NB); err != nil {
		_ = lockFile.Close()
		return nil, ErrLocked
	}

	open := func(name string, flag int) (*os.File, error) {
		fl, err := os.OpenFile(filepath.Join(dir, name), flag, 0600)
		if err != nil {
			return nil, errors.Wrapf(err, "open %s", name)
		}
		return fl, nil
	}

	tree, err := open(treeFileName, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, f.failOpen(lockFile, err)
	}
	blocks, err := open(blocksFileName, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, f.failOpen(lockFile, err, tree)
	}
	offsets, err := open(offsetsFileName, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, f.failOpen(lockFile, err, tree, blocks)
	}
	bitfield, err := open(bitfieldName, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, f.failOpen(lockFile, err, tree, blocks, offsets)
	}
	header, err := open(headerFileName, os.O_RDWR|os.O_CREATE)
	if err != nil {
		return nil, f.failOpen(lockFile, err, tree, blocks, offsets, bitfield)
	}

	return &Storage{
		Tree:     tree,
		Blocks:   blocks,
		Offsets:  offsets,
		Bitfield: bitfield,
		Header:   header,
		lock:     lockFile,
	}, nil
}

func (f *DirStorageFactory) failOpen(lock *os.File, err error, opened ...*os.File) error {
	for _, o := range opened {
		_ = o.Close()
	}
	_ = syscall.Flock(int(lock.Fd()), syscall.LOCK_UN)
	_ = lock.Close()
	return err
}
