// Package corelog implements a secure, append-only, cryptographically
// verifiable log that can be replicated between peers. A Log is a
// lightweight session over a shared Core: many sessions, possibly with
// different value encodings or extensions, can multiplex the same
// physical storage and the same replication connections.
package corelog

import (
	"sync"

	"github.com/teneriv/corelog/core"
)

// Log is one session over a shared log. A Log returned by Open or
// OpenPath and every Log derived from it with Session share a single
// underlying Core and Replicator; only the last of them to Close releases
// them. A second Open of the same storage builds its own Core.
type Log struct {
	shared *sharedLog

	valueEncoding ValueEncoding
	encodeBatch   BatchEncoder

	mu       sync.Mutex
	closed   bool
	events   chan Event
	extNames map[string]replicatorExtensionHandler
}

type replicatorExtensionHandler func(peerID string, data []byte)

// Open constructs a Log from an explicit Options value.
func Open(opts Options) (*Log, error) {
	sl, err := openSharedLog(opts)
	if err != nil {
		return nil, err
	}
	sl.acquire()

	l := &Log{
		shared:        sl,
		valueEncoding: opts.ValueEncoding,
		encodeBatch:   opts.EncodeBatch,
		events:        sl.subscribe(),
		extNames:      make(map[string]replicatorExtensionHandler),
	}
	if l.valueEncoding == nil {
		l.valueEncoding = rawEncoding{}
	}
	return l, nil
}

// OpenPath is a functional-options convenience wrapper around Open for
// the common case of a directory-backed log.
func OpenPath(path string, opts ...Option) (*Log, error) {
	o := Options{Path: path}
	for _, fn := range opts {
		fn(&o)
	}
	return Open(o)
}

// Session opens a second session sharing this Log's underlying storage
// and replication state, optionally with a different value encoding.
func (l *Log) Session(opts ...Option) *Log {
	o := Options{}
	for _, fn := range opts {
		fn(&o)
	}
	enc := o.ValueEncoding
	if enc == nil {
		enc = l.valueEncoding
	}
	batchEnc := o.EncodeBatch
	if batchEnc == nil {
		batchEnc = l.encodeBatch
	}
	l.shared.acquire()
	return &Log{
		shared:        l.shared,
		valueEncoding: enc,
		encodeBatch:   batchEnc,
		events:        l.shared.subscribe(),
		extNames:      make(map[string]replicatorExtensionHandler),
	}
}

// Length returns the number of blocks appended to the log.
func (l *Log) Length() uint64 {
	return l.shared.core.Length()
}

// ByteLength returns the total number of payload bytes across all
// blocks.
func (l *Log) ByteLength() (uint64, error) {
	return l.shared.core.Tree().ByteLength()
}

// Fork returns the log's current fork id.
func (l *Log) Fork() uint64 {
	return l.shared.core.Fork()
}

// Key returns the log's public key, if any.
func (l *Log) Key() []byte {
	return l.shared.discoveryKey
}

// DiscoveryKey returns the rendezvous key derived from the log's public
// key.
func (l *Log) DiscoveryKey() []byte {
	if l.shared.discoveryKey == nil {
		return nil
	}
	return core.DiscoveryKey(l.shared.discoveryKey)
}

// Writable reports whether this Log can Append.
func (l *Log) Writable() bool {
	if _, err := l.shared.core.DefaultSign(); err == nil {
		return true
	}
	return false
}

// Ready blocks until the underlying Core finished opening (already true
// by the time Open returns; kept for sessions that want to wait on a
// peer-driven open rather than a local one).
func (l *Log) Ready() <-chan struct{} {
	return l.shared.ready
}

// Close releases this session. Once every session sharing the underlying
// Core has closed, the Core itself is closed. A listener ranging over
// On() sees an EventClosed just before the channel closes.
func (l *Log) Close() error {
	l.mu.Lock()
	if l.closed {
		l.mu.Unlock()
		return nil
	}
	l.closed = true
	l.mu.Unlock()

	select {
	case l.events <- Event{Kind: EventClosed, Length: l.shared.core.Length(), Fork: l.shared.core.Fork()}:
	default:
	}
	l.shared.unsubscribe(l.events)
	return l.shared.release()
}
