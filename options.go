package corelog

import (
	"github.com/teneriv/corelog/core"
)

// ValueEncoding decodes a raw block into an application value and encodes
// one back, run after decryption and cache lookup. The default is the
// identity encoding (callers get raw bytes back).
type ValueEncoding interface {
	Encode(v any) ([]byte, error)
	Decode(data []byte) (any, error)
}

type rawEncoding struct{}

func (rawEncoding) Encode(v any) ([]byte, error) { return v.([]byte), nil }
func (rawEncoding) Decode(data []byte) (any, error) { return data, nil }

// BatchEncoder encodes an entire Append batch into block buffers in one
// call, overriding the session's per-value ValueEncoding for that call.
type BatchEncoder func(values []any) ([][]byte, error)

// Options configures a new Log. There is no positional-argument
// constructor: every field is named, and OpenPath / Open are the only
// entry points.
type Options struct {
	// Storage opens the Core's on-disk state. Exactly one of Storage or
	// Path must be set.
	Storage core.StorageFactory
	// Path is a convenience for NewDirStorageFactory(Path) when Storage
	// is nil.
	Path string

	// PublicKey identifies the log. Required when opening a read-only
	// replica of a log you did not create locally.
	PublicKey []byte
	// Signer, when set, makes the log writable.
	Signer *core.Signer

	// EncryptionKey, when set, enables per-block secretbox encryption.
	EncryptionKey []byte

	// ValueEncoding decodes/encodes block payloads; defaults to raw
	// bytes when nil.
	ValueEncoding ValueEncoding

	// EncodeBatch, when set, encodes an entire Append batch at once,
	// overriding ValueEncoding for that call.
	EncodeBatch BatchEncoder

	// CacheSize bounds the number of blocks kept in the LRU cache. Zero
	// selects the default of 65536 entries; a negative value disables
	// caching.
	CacheSize int
}

// Option mutates an Options value; used by OpenPath's functional-options
// convenience wrapper.
type Option func(*Options)

// WithSigner makes the opened log writable with the given signer.
func WithSigner(s *core.Signer) Option {
	return func(o *Options) { o.Signer = s }
}

// WithPublicKey opens the log identified by the given public key.
func WithPublicKey(pub []byte) Option {
	return func(o *Options) { o.PublicKey = pub }
}

// WithEncryptionKey enables per-block encryption using key.
func WithEncryptionKey(key []byte) Option {
	return func(o *Options) { o.EncryptionKey = key }
}

// WithValueEncoding installs a custom value codec.
func WithValueEncoding(enc ValueEncoding) Option {
	return func(o *Options) { o.ValueEncoding = enc }
}

// WithEncodeBatch installs a whole-batch encoder, overriding ValueEncoding
// for every Append call on the resulting log.
func WithEncodeBatch(fn BatchEncoder) Option {
	return func(o *Options) { o.EncodeBatch = fn }
}

// WithCacheSize bounds the block cache.
func WithCacheSize(n int) Option {
	return func(o *Options) { o.CacheSize = n }
}

func (o *Options) fillDefaults() {
	if o.ValueEncoding == nil {
		o.ValueEncoding = rawEncoding{}
	}
	if o.CacheSize == 0 {
		o.CacheSize = 65536
	}
}
