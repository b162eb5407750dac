package core

import (
	"os"
	"sync"

	"github.com/pkg/errors"
	"github.com/zeebo/blake3"
)

// leafTag and nodeTag domain-separate leaf and interior hashing so that an
// interior node's preimage can never be mistaken for a leaf's.
const (
	leafTag byte = 0x00
	nodeTag byte = 0x01
)

func hashLeaf(data []byte) []byte {
	h := blake3.New()
	h.Write([]byte{leafTag})
	h.Write(data)
	return h.Sum(nil)
}

func hashNode(left, right []byte) []byte {
	h := blake3.New()
	h.Write([]byte{nodeTag})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

// Root is one mountain peak of the tree: Index is the peak's position in
// the flat node array, and Size is the number of data bytes under that
// peak alone.
type Root struct {
	Index uint64
	Hash  []byte
	Size  uint64
}

type peak struct {
	index  uint64
	height uint64
}

// MerkleTree is the append-only, truncatable Merkle Mountain Range backing
// a Core's block log. Every node it ever writes is immutable; growing the
// tree only ever appends new nodes, which is what lets GetRoots recover the
// root for any historical length without recomputation.
type MerkleTree struct {
	mu     sync.Mutex
	nodes  *nodeStore
	leaves uint64
	peaks  []peak
}

// OpenMerkleTree opens (or creates) the tree backed by the given file.
func OpenMerkleTree(f *os.File) (*MerkleTree, error) {
	ns, err := openNodeStore(f)
	if err != nil {
		return nil, err
	}
	t := &MerkleTree{nodes: ns}
	t.leaves = leafCountForSize(ns.length())
	t.peaks = make([]peak, 0, 64)
	for _, idx := range peaks(ns.length()) {
		t.peaks = append(t.peaks, peak{index: idx, height: indexHeight(idx)})
	}
	return t, nil
}

// Length returns the number of leaves (blocks) committed to the tree.
func (t *MerkleTree) Length() uint64 {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.leaves
}

// ByteLength returns the total number of data bytes committed across all
// leaves.
func (t *MerkleTree) ByteLength() (uint64, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	var total uint64
	for _, p := range t.peaks {
		_, sz, err := t.nodes.get(p.index)
		if err != nil {
			return 0, err
		}
		total += sz
	}
	return total, nil
}

// Append commits one new leaf covering blockSize bytes of data and returns
// its leaf hash.
func (t *MerkleTree) Append(data []byte, blockSize uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	h := hashLeaf(data)
	idx, err := t.nodes.append(h, blockSize)
	if err != nil {
		return nil, err
	}
	t.peaks = append(t.peaks, peak{index: idx, height: 0})

	for len(t.peaks) >= 2 {
		r := t.peaks[len(t.peaks)-1]
		l := t.peaks[len(t.peaks)-2]
		if l.height != r.height {
			break
		}
		lh, lsz, err := t.nodes.get(l.index)
		if err != nil {
			return nil, err
		}
		rh, rsz, err := t.nodes.get(r.index)
		if err != nil {
			return nil, err
		}
		parentHash := hashNode(lh, rh)
		parentIdx, err := t.nodes.append(parentHash, lsz+rsz)
		if err != nil {
			return nil, err
		}
		t.peaks = t.peaks[:len(t.peaks)-2]
		t.peaks = append(t.peaks, peak{index: parentIdx, height: l.height + 1})
	}

	t.leaves++
	return h, nil
}

// Truncate discards every leaf at or beyond newLength, rewinding the
// backing node store to the mmr size that held exactly newLength leaves.
func (t *MerkleTree) Truncate(newLength uint64) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if newLength > t.leaves {
		return errors.Errorf("cannot truncate to %d leaves, tree only has %d", newLength, t.leaves)
	}
	newSize := sizeForLeaves(newLength)
	if err := t.nodes.truncate(newSize); err != nil {
		return err
	}
	t.leaves = newLength
	t.peaks = t.peaks[:0]
	for _, idx := range peaks(newSize) {
		t.peaks = append(t.peaks, peak{index: idx, height: indexHeight(idx)})
	}
	return nil
}

// GetRoots returns the mountain peaks of the tree as it stood after exactly
// length leaves were appended. length may be less than the tree's current
// Length, since no node is ever overwritten.
func (t *MerkleTree) GetRoots(length uint64) ([]Root, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if length > t.leaves {
		return nil, errors.Errorf("requested length %d exceeds tree length %d", length, t.leaves)
	}
	size := sizeForLeaves(length)
	var roots []Root
	for _, idx := range peaks(size) {
		h, sz, err := t.nodes.get(idx)
		if err != nil {
			return nil, err
		}
		roots = append(roots, Root{Index: idx, Hash: h, Size: sz})
	}
	return roots, nil
}

// BaggedRoot folds the mountain peaks at the given length into a single
// accumulator hash, right to left, so callers that want one fixed-size
// commitment to compare (rather than a variable-length peak list) can get
// one without changing how peaks themselves are stored.
func (t *MerkleTree) BaggedRoot(length uint64) ([]byte, error) {
	roots, err := t.GetRoots(length)
	if err != nil {
		return nil, err
	}
	if len(roots) == 0 {
		return hashLeaf(nil), nil
	}
	acc := roots[len(roots)-1].Hash
	for i := len(roots) - 2; i >= 0; i-- {
		acc = hashNode(roots[i].Hash, acc)
	}
	return acc, nil
}

// LeafHash returns the stored leaf hash for leafIndex, without touching the
// block store.
func (t *MerkleTree) LeafHash(leafIndex uint64) ([]byte, error) {
	t.mu.Lock()
	defer t.mu.Unlock()
	if leafIndex >= t.leaves {
		return nil, errors.Errorf("leaf %d out of range (have %d)", leafIndex, t.leaves)
	}
	h, _, err := t.nodes.get(mmrIndex(leafIndex))
	return h, err
}

// Seek finds the leaf that contains byte offset bytesOffset, and the
// relative offset into that leaf's block. It descends from the mountain
// peaks using each node's stored byte span, so it costs O(log n) node
// reads regardless of tree size.
func (t *MerkleTree) Seek(bytesOffset uint64) (leafIndex, relOffset uint64, err error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	var base uint64
	for _, p := range t.peaks {
		_, sz, err := t.nodes.get(p.index)
		if err != nil {
			return 0, 0, err
		}
		if bytesOffset < base+sz {
			return t.descend(p.index, bytesOffset-base)
		}
		base += sz
	}
	return 0, 0, errors.Errorf("offset %d beyond tree byte length %d", bytesOffset, base)
}

func (t *MerkleTree) descend(nodeIndex, offset uint64) (leafIndex, relOffset uint64, err error) {
	for {
		if indexHeight(nodeIndex) == 0 {
			return leafIndexForNode(nodeIndex), offset, nil
		}
		left, right := childrenOf(nodeIndex)
		_, leftSize, err := t.nodes.get(left)
		if err != nil {
			return 0, 0, err
		}
		if offset < leftSize {
			nodeIndex = left
			continue
		}
		offset -= leftSize
		nodeIndex = right
	}
}

func (t *MerkleTree) sync() error {
	return t.nodes.sync()
}
