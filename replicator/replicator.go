// Package replicator implements the peer-to-peer side of keeping a log in
// sync across machines: announcing length changes, serving and issuing
// block/upgrade/seek requests, and dispatching extension messages, all
// over framed connections described by package wire.
package replicator

import (
	"fmt"
	"sync"

	"github.com/teneriv/corelog/core"
	"github.com/teneriv/corelog/wire"
)

// Replicator coordinates every peer connected for a single log's
// discovery key against that log's Core.
type Replicator struct {
	core *core.Core

	mu    sync.RWMutex
	peers map[string]*Peer
	ranges *rangeSet

	extMu    sync.RWMutex
	handlers map[string]ExtensionHandler

	onHave   func(index uint64)         // invoked when a peer's BlockData response arrives, before the block is stored
	onChange func(p *Peer, joined bool) // invoked whenever a peer connects or disconnects
	onServe  func(p *Peer, index uint64) // invoked after a block request to p is answered
}

// New builds a Replicator over core.
func New(c *core.Core) *Replicator {
	return &Replicator{
		core:     c,
		peers:    make(map[string]*Peer),
		ranges:   newRangeSet(),
		handlers: make(map[string]ExtensionHandler),
	}
}

// AddPeer registers a new connection and starts its protocol loop in the
// background, returning the constructed Peer immediately.
func (r *Replicator) AddPeer(stream *SecureStream) *Peer {
	p := NewPeer(stream, wire.CBORCodec)
	r.mu.Lock()
	r.peers[p.ID.String()] = p
	r.mu.Unlock()

	go func() {
		if err := r.joinProtocol(p); err != nil {
			_ = p.stream.Fail(err)
		}
	}()

	go func() {
		r.sendInfo(p)
		if names := r.extensionNames(); len(names) > 0 {
			_ = wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeOptions, wire.Options{Extensions: names})
		}
	}()
	if r.onChange != nil {
		r.onChange(p, true)
	}
	return p
}

func (r *Replicator) removePeer(p *Peer) {
	r.mu.Lock()
	delete(r.peers, p.ID.String())
	r.mu.Unlock()
	if r.onChange != nil {
		r.onChange(p, false)
	}
}

// OnPeerChange installs a callback invoked whenever a peer joins or leaves
// replication, so a caller such as a session layer can fan that out as an
// event of its own.
func (r *Replicator) OnPeerChange(fn func(p *Peer, joined bool)) {
	r.onChange = fn
}

// OnServe installs a callback invoked after a peer's block request has
// been answered.
func (r *Replicator) OnServe(fn func(p *Peer, index uint64)) {
	r.onServe = fn
}

// Peers returns a snapshot of currently connected peers.
func (r *Replicator) Peers() []*Peer {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*Peer, 0, len(r.peers))
	for _, p := range r.peers {
		out = append(out, p)
	}
	return out
}

// RegisterExtension installs a handler for extension messages addressed
// to name, and advertises that capability to every currently connected
// peer (and to every peer that connects afterward, via AddPeer).
func (r *Replicator) RegisterExtension(name string, handler ExtensionHandler) {
	r.extMu.Lock()
	r.handlers[name] = handler
	r.extMu.Unlock()

	opts := wire.Options{Extensions: r.extensionNames()}
	for _, p := range r.Peers() {
		_ = wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeOptions, opts)
	}
}

func (r *Replicator) extensionNames() []string {
	r.extMu.RLock()
	defer r.extMu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for n := range r.handlers {
		names = append(names, n)
	}
	return names
}

// BroadcastExtension sends an extension payload to every peer that has
// advertised support for name.
func (r *Replicator) BroadcastExtension(name string, data []byte) {
	ext := wire.Extension{Name: name, Data: data}
	for _, p := range r.Peers() {
		if !p.supportsExtension(name) {
			continue
		}
		_ = wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeExtension, ext)
	}
}

func (r *Replicator) onExtension(p *Peer, ext wire.Extension) {
	r.extMu.RLock()
	h, ok := r.handlers[ext.Name]
	r.extMu.RUnlock()
	if ok {
		h(p, ext.Data)
	}
}

// sendInfo announces the Core's current state to p.
func (r *Replicator) sendInfo(p *Peer) {
	byteLen, _ := r.core.Tree().ByteLength()
	info := wire.Info{
		Length:   r.core.Length(),
		ByteLen:  byteLen,
		Fork:     r.core.Fork(),
		Writable: r.core.PublicKey() != nil,
	}
	_ = wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeInfo, info)
}

// BroadcastInfo announces the Core's current state to every connected
// peer, called after every local Append or Truncate.
func (r *Replicator) BroadcastInfo() {
	for _, p := range r.Peers() {
		r.sendInfo(p)
	}
}

// BroadcastHave announces a contiguous range of freshly downloaded or
// appended blocks to every peer.
func (r *Replicator) BroadcastHave(start, length uint64) {
	have := wire.Have{Start: start, Length: length, Fork: r.core.Fork()}
	for _, p := range r.Peers() {
		_ = wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeHave, have)
	}
}

func (r *Replicator) onPeerInfo(p *Peer, info wire.Info) {
	_ = p
	_ = info
}

func (r *Replicator) onPeerHave(p *Peer, have wire.Have) {
	_ = p
	_ = have
}

// RequestBlock asks p for block index and returns the block bytes from
// p's response. The response is not verified here: neither the block nor
// the proof nodes it arrives with are checked against any root.
func (r *Replicator) RequestBlock(p *Peer, index uint64) ([]byte, error) {
	id := p.nextRequestID()
	ch := p.registerPending(id)

	req := wire.Request{ID: id, Index: index, Fork: r.core.Fork()}
	if err := wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeRequest, req); err != nil {
		p.forgetPending(id)
		return nil, fmt.Errorf("send request: %w", err)
	}

	frame, err := p.await(id, ch)
	if err != nil {
		return nil, err
	}

	var data wire.BlockData
	if err := p.codec.Unmarshal(frame.Body, &data); err != nil {
		return nil, err
	}
	return data.Data, nil
}

func (r *Replicator) serveRequest(p *Peer, req wire.Request) {
	block, err := r.core.Get(req.Index)
	if err != nil {
		return
	}
	roots, err := r.core.Tree().GetRoots(r.core.Length())
	if err != nil {
		return
	}
	proof := make([][]byte, len(roots))
	for i, root := range roots {
		proof[i] = root.Hash
	}
	resp := wire.BlockData{ID: req.ID, Index: req.Index, Fork: req.Fork, Data: block, Proof: proof}
	if err := wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeBlockData, resp); err != nil {
		return
	}
	if r.onServe != nil {
		r.onServe(p, req.Index)
	}
}

func (r *Replicator) onBlockData(p *Peer, data wire.BlockData) {
	_ = p
	if r.onHave != nil {
		r.onHave(data.Index)
	}
	r.NotifyHave(data.Index)
}

// NotifyHave marks index as freshly available locally, retiring any
// outstanding linear range whose span is now fully satisfied. Callers that
// append blocks directly to the Core, bypassing the request/response path
// that drives onBlockData, must call this themselves to keep ranges created
// with CreateRange accurate.
func (r *Replicator) NotifyHave(index uint64) {
	r.ranges.onBlock(index, func(i uint64) bool { return r.core.Bitfield().Get(i) })
}

// RequestUpgrade asks p to justify extending the caller's known length up
// to p's advertised length, returning every peak node of p's tree at that
// length (not only the ones beyond knownLength) and, when p holds one for
// exactly that length, its root signature.
func (r *Replicator) RequestUpgrade(p *Peer, knownLength uint64) (wire.UpgradeResponse, error) {
	remoteLength, remoteFork, _ := p.RemoteState()
	id := p.nextRequestID()
	ch := p.registerPending(id)

	req := wire.UpgradeRequest{ID: id, Fork: remoteFork, Length: remoteLength, KnownLength: knownLength}
	if err := wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeUpgradeRequest, req); err != nil {
		p.forgetPending(id)
		return wire.UpgradeResponse{}, fmt.Errorf("send upgrade request: %w", err)
	}

	frame, err := p.await(id, ch)
	if err != nil {
		return wire.UpgradeResponse{}, err
	}
	var resp wire.UpgradeResponse
	if err := p.codec.Unmarshal(frame.Body, &resp); err != nil {
		return wire.UpgradeResponse{}, err
	}
	return resp, nil
}

func (r *Replicator) serveUpgrade(p *Peer, req wire.UpgradeRequest) {
	roots, err := r.core.Tree().GetRoots(req.Length)
	if err != nil {
		return
	}
	nodes := make([][]byte, len(roots))
	for i, root := range roots {
		nodes[i] = root.Hash
	}
	resp := wire.UpgradeResponse{ID: req.ID, Fork: r.core.Fork(), Length: req.Length, Nodes: nodes}
	if signedLength, sig, ok := r.core.SignedState(); ok && signedLength == req.Length {
		resp.Signature = sig
	}
	_ = wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeUpgradeResponse, resp)
}

// RequestSeek asks p which block index contains bytesOffset.
func (r *Replicator) RequestSeek(p *Peer, bytesOffset uint64) (wire.SeekResponse, error) {
	id := p.nextRequestID()
	ch := p.registerPending(id)

	req := wire.SeekRequest{ID: id, Bytes: bytesOffset, Fork: r.core.Fork()}
	if err := wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeSeekRequest, req); err != nil {
		p.forgetPending(id)
		return wire.SeekResponse{}, fmt.Errorf("send seek request: %w", err)
	}

	frame, err := p.await(id, ch)
	if err != nil {
		return wire.SeekResponse{}, err
	}
	var resp wire.SeekResponse
	if err := p.codec.Unmarshal(frame.Body, &resp); err != nil {
		return wire.SeekResponse{}, err
	}
	return resp, nil
}

func (r *Replicator) serveSeek(p *Peer, req wire.SeekRequest) {
	index, rel, err := r.core.Tree().Seek(req.Bytes)
	if err != nil {
		return
	}
	resp := wire.SeekResponse{ID: req.ID, Index: index, RelOffset: rel}
	_ = wire.WriteFrame(p.stream.RawStream(), p.codec, wire.TypeSeekResponse, resp)
}

// CreateRange registers interest in downloading [start, end); if linear is
// false the range stays open, matching every future block from start on.
func (r *Replicator) CreateRange(start, end uint64, linear bool) *Range {
	return r.ranges.create(start, end, linear)
}

// CancelRange abandons a previously created range.
func (r *Replicator) CancelRange(id uint64) {
	r.ranges.cancel(id)
}

// FailRange ends a previously created range with a specific error, for
// callers that abandon it for a reason more precise than a plain cancel.
func (r *Replicator) FailRange(id uint64, err error) {
	r.ranges.fail(id, err)
}

// OnHave installs a callback invoked whenever a peer's BlockData response
// to a block request arrives, before the requester stores the block.
func (r *Replicator) OnHave(fn func(index uint64)) {
	r.onHave = fn
}
