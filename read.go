package corelog

import (
	"errors"

	"github.com/teneriv/corelog/core"
)

// Get returns the decoded value stored at index, decrypting and decoding
// it first if the session has an encryption key or a custom value
// encoding installed. Results are served from the block cache when
// present. If index is in range but its bytes aren't held locally, Get
// asks every connected peer for them, restoring and verifying the first
// answer that matches the leaf hash this log's tree already committed for
// that index, before giving up and returning the underlying storage
// error. Use TryGet to skip the peer fetch and fail immediately instead.
func (l *Log) Get(index uint64) (any, error) {
	return l.get(index, true)
}

// TryGet behaves like Get but never asks a peer: a block that is in range
// but not held locally fails immediately with a StorageError wrapping
// core.ErrBlockNotFound.
func (l *Log) TryGet(index uint64) (any, error) {
	return l.get(index, false)
}

func (l *Log) get(index uint64, wait bool) (any, error) {
	if index >= l.Length() {
		return nil, ErrOutOfBounds
	}

	if cached, ok := l.shared.cache.get(index); ok {
		return l.valueEncoding.Decode(cached)
	}

	raw, err := l.shared.core.Get(index)
	if err != nil {
		if !wait || !errors.Is(err, core.ErrBlockNotFound) {
			return nil, &StorageError{Err: err}
		}
		raw, err = l.fetchFromPeers(index)
		if err != nil {
			return nil, &StorageError{Err: err}
		}
	}

	if l.shared.enc != nil {
		raw, err = l.shared.enc.open(index, l.Fork(), raw)
		if err != nil {
			return nil, &CryptoError{Err: err}
		}
	}

	l.shared.cache.put(index, raw)
	return l.valueEncoding.Decode(raw)
}

// fetchFromPeers asks each connected peer in turn for index's bytes,
// restoring and returning the first answer that matches the leaf hash
// this log's tree already committed for that index.
func (l *Log) fetchFromPeers(index uint64) ([]byte, error) {
	peers := l.shared.replicator.Peers()
	if len(peers) == 0 {
		return nil, core.ErrBlockNotFound
	}

	var lastErr error = core.ErrBlockNotFound
	for _, p := range peers {
		data, err := l.shared.replicator.RequestBlock(p, index)
		if err != nil {
			lastErr = err
			continue
		}
		if err := l.shared.core.Restore(index, data); err != nil {
			lastErr = err
			continue
		}
		l.shared.replicator.NotifyHave(index)
		l.shared.publish(Event{Kind: EventDownload, Index: index, Length: l.Length(), Fork: l.Fork()})
		return l.shared.core.Get(index)
	}
	return nil, lastErr
}

// Has reports whether block index is both within range and present
// locally (as opposed to known-but-not-downloaded).
func (l *Log) Has(index uint64) bool {
	if index >= l.Length() {
		return false
	}
	return l.shared.core.Bitfield().Get(index)
}

// Drop discards index's locally held bytes without touching the tree's
// committed hash for it, freeing space for a block that can still be
// re-fetched from a peer later through Get.
func (l *Log) Drop(index uint64) error {
	if index >= l.Length() {
		return ErrOutOfBounds
	}
	if err := l.shared.core.Bitfield().Drop(index); err != nil {
		return &StorageError{Err: err}
	}
	l.shared.cache.dropOne(index)
	return nil
}
