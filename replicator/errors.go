package replicator

import "errors"

var (
	// ErrPeerGone is returned when a request targets a peer that has
	// already disconnected.
	ErrPeerGone = errors.New("replicator: peer disconnected")
	// ErrRequestTimeout is returned when a peer does not answer a
	// request within its deadline.
	ErrRequestTimeout = errors.New("replicator: request timed out")
	// errRangeCancelled is the sentinel stored on a Range cancelled by its
	// owner rather than by completing.
	errRangeCancelled = errors.New("replicator: range cancelled")
	// ErrBadProof is returned when a peer's block data fails Merkle
	// verification against an already-trusted root.
	ErrBadProof = errors.New("replicator: block failed proof verification")
)
