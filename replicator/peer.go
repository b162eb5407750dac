package replicator

import (
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/teneriv/corelog/wire"
)

// Peer is one remote endpoint replicating the same log. It owns the
// framed connection and the bookkeeping needed to match responses back to
// the request that triggered them.
type Peer struct {
	ID     uuid.UUID
	stream *SecureStream
	codec  wire.Codec

	remoteLength uint64
	remoteFork   uint64
	remoteWritable bool

	mu       sync.Mutex
	pending  map[uint64]chan wire.Frame
	nextReq  uint64
	closed   bool
	extNames map[string]bool
}

// wire.Frame is declared in wire package as Type+Body; define a small
// local alias so peer.go doesn't need a second import for the decoded
// envelope shape.

// NewPeer wraps a stream as a replication peer using the given codec.
func NewPeer(stream *SecureStream, codec wire.Codec) *Peer {
	return &Peer{
		ID:       uuid.New(),
		stream:   stream,
		codec:    codec,
		pending:  make(map[uint64]chan wire.Frame),
		extNames: make(map[string]bool),
	}
}

func (p *Peer) nextRequestID() uint64 {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextReq++
	return p.nextReq
}

func (p *Peer) registerPending(id uint64) chan wire.Frame {
	ch := make(chan wire.Frame, 1)
	p.mu.Lock()
	p.pending[id] = ch
	p.mu.Unlock()
	return ch
}

func (p *Peer) resolvePending(id uint64, frame wire.Frame) bool {
	p.mu.Lock()
	ch, ok := p.pending[id]
	if ok {
		delete(p.pending, id)
	}
	p.mu.Unlock()
	if ok {
		ch <- frame
	}
	return ok
}

func (p *Peer) forgetPending(id uint64) {
	p.mu.Lock()
	delete(p.pending, id)
	p.mu.Unlock()
}

func (p *Peer) markClosed() {
	p.mu.Lock()
	p.closed = true
	pending := p.pending
	p.pending = make(map[uint64]chan wire.Frame)
	p.mu.Unlock()
	for _, ch := range pending {
		close(ch)
	}
}

// IsClosed reports whether the peer's connection has ended.
func (p *Peer) IsClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// RemoteState returns the peer's last-announced length and fork.
func (p *Peer) RemoteState() (length, fork uint64, writable bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.remoteLength, p.remoteFork, p.remoteWritable
}

func (p *Peer) setRemoteState(info wire.Info) {
	p.mu.Lock()
	p.remoteLength = info.Length
	p.remoteFork = info.Fork
	p.remoteWritable = info.Writable
	p.mu.Unlock()
}

func (p *Peer) supportsExtension(name string) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.extNames[name]
}

func (p *Peer) setSupportedExtensions(names []string) {
	p.mu.Lock()
	p.extNames = make(map[string]bool, len(names))
	for _, n := range names {
		p.extNames[n] = true
	}
	p.mu.Unlock()
}

// defaultRequestTimeout bounds how long a caller waits for a response to a
// request before giving up on a peer that has stopped answering.
const defaultRequestTimeout = 10 * time.Second

func (p *Peer) await(id uint64, ch chan wire.Frame) (wire.Frame, error) {
	select {
	case frame, ok := <-ch:
		if !ok {
			return wire.Frame{}, ErrPeerGone
		}
		return frame, nil
	case <-time.After(defaultRequestTimeout):
		p.forgetPending(id)
		return wire.Frame{}, ErrRequestTimeout
	}
}
