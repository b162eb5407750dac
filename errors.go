package corelog

import "errors"

var (
	// ErrInvalidKey is returned when a supplied key is the wrong length or
	// otherwise malformed, and by Open when Options sets neither Storage
	// nor Path.
	ErrInvalidKey = errors.New("corelog: invalid key")
	// ErrInvalidStream names an unusable replication stream. No function
	// in this package returns it.
	ErrInvalidStream = errors.New("corelog: invalid stream")
	// ErrNotWritable is returned by Append when the log has no signer.
	ErrNotWritable = errors.New("corelog: log is not writable")
	// ErrSessionClosing names work attempted on a closed session. No
	// function in this package returns it: Session does not check whether
	// its Log is closed, and other operations on a closed Log are not
	// rejected up front.
	ErrSessionClosing = errors.New("corelog: session closing")
	// ErrOutOfBounds is returned by Get/Seek for an index or offset past
	// the log's current length.
	ErrOutOfBounds = errors.New("corelog: index out of bounds")
)

// StorageError wraps a failure from the underlying Core storage.
type StorageError struct{ Err error }

func (e *StorageError) Error() string { return "corelog: storage error: " + e.Err.Error() }
func (e *StorageError) Unwrap() error { return e.Err }

// CryptoError wraps a failure from signing, verification or encryption.
type CryptoError struct{ Err error }

func (e *CryptoError) Error() string { return "corelog: crypto error: " + e.Err.Error() }
func (e *CryptoError) Unwrap() error { return e.Err }

// PeerRequestError wraps a failure completing a replication request.
type PeerRequestError struct{ Err error }

func (e *PeerRequestError) Error() string { return "corelog: peer request failed: " + e.Err.Error() }
func (e *PeerRequestError) Unwrap() error { return e.Err }
