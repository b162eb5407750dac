package corelog

import lru "github.com/hashicorp/golang-lru/v2"

// blockCache is a bounded LRU in front of a Core's decrypted blocks, held
// before value decoding so each session can apply its own ValueEncoding on
// a hit. It is invalidated wholesale on truncate, since there is no cheap
// way to know which cached entries a fork discarded.
type blockCache struct {
	c *lru.Cache[uint64, []byte]
}

func newBlockCache(size int) (*blockCache, error) {
	if size <= 0 {
		return &blockCache{}, nil
	}
	c, err := lru.New[uint64, []byte](size)
	if err != nil {
		return nil, err
	}
	return &blockCache{c: c}, nil
}

func (b *blockCache) get(i uint64) ([]byte, bool) {
	if b.c == nil {
		return nil, false
	}
	return b.c.Get(i)
}

func (b *blockCache) put(i uint64, v []byte) {
	if b.c == nil {
		return
	}
	b.c.Add(i, v)
}

func (b *blockCache) purge() {
	if b.c == nil {
		return
	}
	b.c.Purge()
}

func (b *blockCache) dropOne(i uint64) {
	if b.c == nil {
		return
	}
	b.c.Remove(i)
}

func (b *blockCache) dropFrom(length uint64) {
	if b.c == nil {
		return
	}
	for _, k := range b.c.Keys() {
		if k >= length {
			b.c.Remove(k)
		}
	}
}
