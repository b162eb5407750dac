package core

import "testing"

func TestSizeForLeaves(t *testing.T) {
	cases := map[uint64]uint64{
		0: 0,
		1: 1,
		2: 3,
		3: 4,
		4: 7,
		5: 8,
		7: 11,
		8: 15,
	}
	for leaves, want := range cases {
		if got := sizeForLeaves(leaves); got != want {
			t.Errorf("sizeForLeaves(%d) = %d, want %d", leaves, got, want)
		}
	}
}

func TestMMRIndexMatchesSizeForLeaves(t *testing.T) {
	for leaves := uint64(1); leaves <= 64; leaves++ {
		idx := mmrIndex(leaves - 1)
		if idx >= sizeForLeaves(leaves) {
			t.Fatalf("mmrIndex(%d) = %d, out of range for size %d", leaves-1, idx, sizeForLeaves(leaves))
		}
	}
}

func TestFirstMMRSizeAndLeafCountRoundtrip(t *testing.T) {
	for leaves := uint64(1); leaves <= 40; leaves++ {
		size := sizeForLeaves(leaves)
		if got := leafCountForSize(size); got != leaves {
			t.Errorf("leafCountForSize(sizeForLeaves(%d)) = %d, want %d", leaves, got, leaves)
		}
	}
}

func TestPeaksCoverWholeSize(t *testing.T) {
	for leaves := uint64(1); leaves <= 40; leaves++ {
		size := sizeForLeaves(leaves)
		p := peaks(size)
		if len(p) == 0 {
			t.Fatalf("peaks(%d) returned none", size)
		}
		// peaks should be strictly increasing.
		for i := 1; i < len(p); i++ {
			if p[i] <= p[i-1] {
				t.Fatalf("peaks not increasing: %v", p)
			}
		}
		if p[len(p)-1] != size-1 {
			t.Errorf("last peak of size %d should be %d, got %d", size, size-1, p[len(p)-1])
		}
	}
}

func TestChildrenOfMatchesIndexHeight(t *testing.T) {
	size := sizeForLeaves(16)
	for i := uint64(0); i < size; i++ {
		if indexHeight(i) == 0 {
			continue
		}
		left, right := childrenOf(i)
		if indexHeight(left) != indexHeight(i)-1 {
			t.Errorf("left child of %d has wrong height", i)
		}
		if indexHeight(right) != indexHeight(i)-1 {
			t.Errorf("right child of %d has wrong height", i)
		}
		if right != i-1 {
			t.Errorf("right child of %d should be %d, got %d", i, i-1, right)
		}
	}
}
