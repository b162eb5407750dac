package core

import "math/bits"

// This file implements the Merkle Mountain Range addressing scheme used by
// the tree: leaves and the interior nodes that bag them together live in a
// single flat, append-only array. A node's position in that array together
// with the array's total size is enough to recover its height and its peers
// without ever materializing the tree shape. The derivations below follow
// the classic MMR construction (see datatrails/go-datatrails-merklelog/mmr
// for the reference presentation this was learned from).

// allOnes reports whether the binary representation of a 1-based position
// is all ones (1, 3, 7, 15, ...), i.e. whether it is the root of a perfect
// subtree.
func allOnes(pos uint64) bool {
	return pos != 0 && pos == (uint64(1)<<bits.Len64(pos))-1
}

// jumpLeftPerfect jumps from a 1-based position to the left-most node at the
// same height, by subtracting the size of the largest perfect subtree that
// precedes it.
func jumpLeftPerfect(pos uint64) uint64 {
	msb := uint64(1) << (bits.Len64(pos) - 1)
	return pos - (msb - 1)
}

// posHeight returns the zero-based height of a 1-based MMR position.
func posHeight(pos uint64) uint64 {
	for !allOnes(pos) {
		pos = jumpLeftPerfect(pos)
	}
	return uint64(bits.Len64(pos)) - 1
}

// indexHeight returns the zero-based height of a zero-based node index.
func indexHeight(i uint64) uint64 {
	return posHeight(i + 1)
}

// mmrIndex returns the node index assigned to the leafIndex-th leaf (leaves
// counted 0, 1, 2, ... ignoring interior nodes) in a tree built by
// successive appendLeaf calls.
func mmrIndex(leafIndex uint64) uint64 {
	sum := uint64(0)
	for leafIndex > 0 {
		h := uint64(bits.Len64(leafIndex))
		sum += (uint64(1) << h) - 1
		leafIndex -= uint64(1) << (h - 1)
	}
	return sum
}

// sizeForLeaves returns the total node count (mmr size) of the tree once it
// holds the given number of leaves. The identity 2*leaves - popcount(leaves)
// follows from the fact that each set bit in the binary expansion of
// leaves contributes one unmerged peak.
func sizeForLeaves(leaves uint64) uint64 {
	if leaves == 0 {
		return 0
	}
	return 2*leaves - uint64(bits.OnesCount64(leaves))
}

// firstMMRSize returns the smallest complete mmr size that contains node
// index i.
func firstMMRSize(i uint64) uint64 {
	h0, h1 := indexHeight(i), indexHeight(i+1)
	for h0 < h1 {
		i++
		h0, h1 = h1, indexHeight(i+1)
	}
	return i + 1
}

// leafCountForSize returns how many leaves a complete mmr of the given size
// contains, by peeling off the perfect-subtree sizes implied by size's
// binary expansion.
func leafCountForSize(size uint64) uint64 {
	if size == 0 {
		return 0
	}
	pos := size
	peak := (uint64(1) << bits.Len64(size)) - 1
	var count uint64
	for peak > 0 {
		count <<= 1
		if pos >= peak {
			pos -= peak
			count |= 1
		}
		peak >>= 1
	}
	return count
}

// leafIndexForNode returns the leaf index (0-based, ignoring interior
// nodes) that node index i resolves to. Only valid when i is itself a leaf
// (height 0).
func leafIndexForNode(i uint64) uint64 {
	return leafCountForSize(firstMMRSize(i)) - 1
}

// leftChild returns the left child of a 1-based peak position, or false if
// pos is a leaf.
func leftChild(pos uint64) (uint64, bool) {
	h := posHeight(pos)
	if h == 0 {
		return 0, false
	}
	return pos - (uint64(1) << h), true
}

// jumpRightSibling moves from a 1-based position to its right sibling at
// the same height.
func jumpRightSibling(pos uint64) uint64 {
	return pos + (uint64(1) << (posHeight(pos) + 1)) - 1
}

// peaks returns the zero-based indices of the mountain peaks of a complete
// mmr of the given size, left to right (tallest peak first).
func peaks(size uint64) []uint64 {
	if size == 0 {
		return nil
	}
	if posHeight(size+1) > posHeight(size) {
		return nil // not a complete mmr size
	}
	top := uint64(1)
	for top-1 <= size {
		top <<= 1
	}
	top = (top >> 1) - 1
	if top == 0 {
		return nil
	}

	out := []uint64{top - 1}
	peak := top
	for {
		peak = jumpRightSibling(peak)
		for peak > size {
			lc, ok := leftChild(peak)
			if !ok {
				return out
			}
			peak = lc
		}
		out = append(out, peak-1)
	}
}

// childrenOf returns the zero-based indices of the left and right children
// of interior node i (height must be > 0).
func childrenOf(i uint64) (left, right uint64) {
	h := indexHeight(i)
	return i - (uint64(2) << (h - 1)), i - 1
}
