package corelog

import "errors"

// sealError tags an error that came from the encryption preappend hook,
// so Append can report it as a CryptoError rather than a StorageError once
// it comes back wrapped from inside Core.AppendBatch's lock.
type sealError struct{ err error }

func (e *sealError) Error() string { return e.err.Error() }
func (e *sealError) Unwrap() error { return e.err }

// Append encodes v with the session's value encoding (or, if EncodeBatch
// is set, the whole batch at once), commits the resulting blocks to the
// Merkle tree and block store as one atomic batch, then broadcasts the
// new length to every connected peer. v may be a single value, a [][]byte
// of already-raw blocks, or a []any batch; any other shape is treated as
// one block. Appending an empty batch is a no-op returning the log's
// unchanged length.
//
// Encryption, when configured, runs inside a preappend hook invoked by
// Core under its append lock, once the index and fork each block will
// actually land at are known — reading those values ahead of the lock, as
// opposed to inside the hook, would race a concurrent writable session.
func (l *Log) Append(v any) (uint64, error) {
	if !l.Writable() {
		return 0, ErrNotWritable
	}

	values := normalizeBatch(v)
	if len(values) == 0 {
		return l.Length(), nil
	}

	var encoded [][]byte
	var err error
	if l.encodeBatch != nil {
		encoded, err = l.encodeBatch(values)
		if err != nil {
			return 0, err
		}
	} else {
		encoded = make([][]byte, len(values))
		for i, v := range values {
			encoded[i], err = l.valueEncoding.Encode(v)
			if err != nil {
				return 0, err
			}
		}
	}

	stored := make([][]byte, len(encoded))
	copy(stored, encoded)

	var preappend func(buffers [][]byte, startIndex, fork uint64) error
	if l.shared.enc != nil {
		preappend = func(buffers [][]byte, startIndex, fork uint64) error {
			for i, b := range buffers {
				sealed, err := l.shared.enc.seal(startIndex+uint64(i), fork, b)
				if err != nil {
					return &sealError{err: err}
				}
				buffers[i] = sealed
			}
			return nil
		}
	}

	start, _, err := l.shared.core.AppendBatch(stored, preappend)
	if err != nil {
		var se *sealError
		if errors.As(err, &se) {
			return 0, &CryptoError{Err: se.err}
		}
		return 0, &StorageError{Err: err}
	}

	for i, raw := range encoded {
		idx := start + uint64(i)
		l.shared.cache.put(idx, raw)
		l.shared.replicator.BroadcastHave(idx, 1)
	}
	l.shared.replicator.BroadcastInfo()
	l.shared.publish(Event{Kind: EventAppend, Length: start + uint64(len(values)), Fork: l.Fork()})
	return start, nil
}

// normalizeBatch turns the argument to Append into a slice of individual
// values to encode, per-value, in order. A [][]byte is treated as an
// already-split batch of raw blocks; a []any is treated as a batch of
// arbitrary values; anything else is one block.
func normalizeBatch(v any) []any {
	switch vv := v.(type) {
	case nil:
		return nil
	case []any:
		return vv
	case [][]byte:
		out := make([]any, len(vv))
		for i, b := range vv {
			out[i] = b
		}
		return out
	default:
		return []any{v}
	}
}

// Truncate discards every block at or beyond length, bumping the fork id,
// emptying the block cache, and announcing the new state to every
// connected peer.
func (l *Log) Truncate(length uint64) error {
	if !l.Writable() {
		return ErrNotWritable
	}
	if length > l.Length() {
		return ErrOutOfBounds
	}

	if err := l.shared.core.Truncate(length); err != nil {
		return &StorageError{Err: err}
	}

	l.shared.cache.purge()
	l.shared.replicator.BroadcastInfo()
	l.shared.publish(Event{Kind: EventTruncate, Length: length, Fork: l.Fork()})
	return nil
}
