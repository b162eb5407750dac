package core

import "errors"

var (
	// ErrClosed is returned by any Core operation attempted after Close.
	ErrClosed = errors.New("core: closed")
	// ErrBlockNotFound is returned by Blocks.Get for a missing index.
	ErrBlockNotFound = errors.New("core: block not found")
	// ErrInvalidSignature is returned when a stored or replicated root
	// signature fails verification.
	ErrInvalidSignature = errors.New("core: invalid root signature")
	// ErrNoSigner is returned by DefaultSign when the header carries no
	// signing key material.
	ErrNoSigner = errors.New("core: no signer configured")
	// ErrLocked is returned when the storage directory is already held by
	// another process.
	ErrLocked = errors.New("core: storage directory is locked")
	// ErrNoPublicKey is returned when an operation needs a public key to
	// verify against but the header carries none.
	ErrNoPublicKey = errors.New("core: no public key configured")
	// ErrBlockHashMismatch is returned when a restored block's bytes don't
	// hash to the leaf value the tree already committed for its index.
	ErrBlockHashMismatch = errors.New("core: block hash does not match committed leaf")
)
