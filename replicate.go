package corelog

import (
	"bytes"
	"fmt"

	"github.com/teneriv/corelog/core"
	"github.com/teneriv/corelog/replicator"
	"github.com/zeebo/blake3"
)

// bagPair folds two peak hashes the same way core.MerkleTree.BaggedRoot
// does, so a peer's advertised peak list can be checked against this
// log's own root without exporting the tree's internal hashing helpers.
func bagPair(left, right []byte) []byte {
	h := blake3.New()
	h.Write([]byte{0x01})
	h.Write(left)
	h.Write(right)
	return h.Sum(nil)
}

func bagPeaks(nodes [][]byte) []byte {
	acc := nodes[len(nodes)-1]
	for i := len(nodes) - 2; i >= 0; i-- {
		acc = bagPair(nodes[i], acc)
	}
	return acc
}

// Replicate joins stream to this log's replication set as a new peer. It
// returns immediately; the connection's protocol loop runs in the
// background until the stream closes.
func (l *Log) Replicate(stream *replicator.SecureStream) *replicator.Peer {
	return l.shared.replicator.AddPeer(stream)
}

// Peers returns the currently connected replication peers.
func (l *Log) Peers() []*replicator.Peer {
	return l.shared.replicator.Peers()
}

// fetchPeerRoot asks peer to justify extending to length, verifies the
// COSE signature it returns against this log's own public key, and cross
// checks that signature against the peak nodes peer actually sent before
// returning the bagged hash they commit to. It touches no local storage.
func (l *Log) fetchPeerRoot(peer *replicator.Peer, length uint64) (hash []byte, sig []byte, err error) {
	resp, err := l.shared.replicator.RequestUpgrade(peer, length)
	if err != nil {
		return nil, nil, &PeerRequestError{Err: err}
	}
	if resp.Length != length {
		return nil, nil, fmt.Errorf("corelog: peer has not advertised length %d (has %d)", length, resp.Length)
	}
	if len(resp.Nodes) == 0 {
		return nil, nil, fmt.Errorf("corelog: peer returned no upgrade nodes")
	}
	baggedPeaks := bagPeaks(resp.Nodes)

	pub := l.shared.core.PublicKey()
	if len(pub) == 0 {
		return nil, nil, fmt.Errorf("corelog: log has no public key to verify peer roots against")
	}
	if len(resp.Signature) == 0 {
		return nil, nil, core.ErrInvalidSignature
	}
	signed, err := core.Verify(pub, resp.Signature)
	if err != nil {
		return nil, nil, err
	}
	if signed.Length != length || !bytes.Equal(signed.Hash, baggedPeaks) {
		return nil, nil, core.ErrInvalidSignature
	}
	return baggedPeaks, resp.Signature, nil
}

// VerifyPeerRoot checks that peer's signed root at knownLength is a
// genuine signature from this log's key holder, cross-checked against the
// peak nodes peer actually sent. When this log's own tree has already
// reached knownLength, it additionally compares the result against the
// root this log computes locally, the strongest check available once
// data has actually been synced. A verified root is remembered so it can
// later be forwarded to other peers.
func (l *Log) VerifyPeerRoot(peer *replicator.Peer, knownLength uint64) error {
	hash, sig, err := l.fetchPeerRoot(peer, knownLength)
	if err != nil {
		return err
	}
	if knownLength <= l.shared.core.Length() {
		ownRoot, err := l.shared.core.Tree().BaggedRoot(knownLength)
		if err != nil {
			return &StorageError{Err: err}
		}
		if !bytes.Equal(ownRoot, hash) {
			return core.ErrInvalidSignature
		}
	}
	if err := l.shared.core.AcceptSignedRoot(knownLength, sig); err != nil {
		return &CryptoError{Err: err}
	}
	return nil
}

// DownloadRange fetches every block in [start, end) from peer. It first
// obtains peer's signed root at end via fetchPeerRoot, then appends
// blocks one at a time as they arrive; once every block in the range has
// landed it recomputes the bagged root from what it actually stored and
// compares it against the signed root, rolling the whole batch back to
// start if they don't match. A partial-trust peer can make the transfer
// fail, but cannot make bytes it didn't really hold survive in the log.
// It returns a Range whose Done channel closes once the fetch completes
// or fails.
//
// Blocks must be backfilled in index order: the tree and block store are
// strictly append-only, so a gap can never be filled out of turn the way
// a sparse bitfield download could in principle request one.
func (l *Log) DownloadRange(peer *replicator.Peer, start, end uint64) *replicator.Range {
	r := l.shared.replicator.CreateRange(start, end, true)
	go l.fillRange(peer, r, start, end)
	return r
}

func (l *Log) fillRange(peer *replicator.Peer, r *replicator.Range, start, end uint64) {
	trustedHash, sig, err := l.fetchPeerRoot(peer, end)
	if err != nil {
		l.shared.replicator.FailRange(r.ID, err)
		return
	}

	// downloaded collects the indices landed this pass so NotifyHave for
	// them, which is what retires a linear Range, can be deferred until
	// after the bagged-root check below passes. Calling it inline with the
	// download loop would let a caller observe Done() close successfully
	// an instant before a bad-root rollback truncates the same blocks back
	// out from under it.
	downloaded := make([]uint64, 0, end-start)
	for {
		current := l.Length()
		if current >= end {
			break
		}
		block, err := l.shared.replicator.RequestBlock(peer, current)
		if err != nil {
			l.abortDownload(start, r, err)
			return
		}
		if _, _, err := l.shared.core.Append(block); err != nil {
			l.abortDownload(start, r, err)
			return
		}

		plain := block
		if l.shared.enc != nil {
			plain, err = l.shared.enc.open(current, l.Fork(), block)
			if err != nil {
				l.abortDownload(start, r, err)
				return
			}
		}
		l.shared.cache.put(current, plain)
		l.shared.replicator.BroadcastInfo()
		l.shared.replicator.BroadcastHave(current, 1)
		l.shared.publish(Event{Kind: EventDownload, Index: current, Length: current + 1, Fork: l.Fork()})
		downloaded = append(downloaded, current)
	}

	gotHash, err := l.shared.core.Tree().BaggedRoot(end)
	if err != nil || !bytes.Equal(gotHash, trustedHash) {
		l.abortDownload(start, r, replicator.ErrBadProof)
		return
	}
	_ = l.shared.core.AcceptSignedRoot(end, sig)

	for _, idx := range downloaded {
		l.shared.replicator.NotifyHave(idx)
	}
}

// abortDownload truncates back to start, discarding every block fillRange
// appended for the range that just failed verification, and ends the
// range with err.
func (l *Log) abortDownload(start uint64, r *replicator.Range, err error) {
	if l.Length() > start {
		_ = l.shared.core.Truncate(start)
		l.shared.cache.purge()
		l.shared.publish(Event{Kind: EventTruncate, Length: start, Fork: l.Fork()})
	}
	l.shared.replicator.FailRange(r.ID, err)
}
