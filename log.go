package corelog

import (
	"encoding/hex"
	"sync"

	"github.com/teneriv/corelog/core"
	"github.com/teneriv/corelog/replicator"
)

// sharedLog is the mutable state every Session derived from the same
// discovery key shares: one Core, one Replicator, one cache, one
// encryptor, and the dispatcher that fans out update events. It is
// reference-counted; the last session to Close it tears it down.
type sharedLog struct {
	mu sync.Mutex

	core         *core.Core
	replicator   *replicator.Replicator
	discoveryKey []byte
	cache        *blockCache
	enc          *encryptor

	refs int

	readyOnce sync.Once
	ready     chan struct{}
	openErr   error

	events   chan Event
	subsMu   sync.Mutex
	subs     []chan Event
	stopDisp chan struct{}
}

func openSharedLog(opts Options) (*sharedLog, error) {
	opts.fillDefaults()

	factory := opts.Storage
	if factory == nil {
		if opts.Path == "" {
			return nil, ErrInvalidKey
		}
		f, err := core.NewDirStorageFactory(opts.Path)
		if err != nil {
			return nil, &StorageError{Err: err}
		}
		factory = f
	}

	discoveryKey := opts.PublicKey
	if discoveryKey == nil && opts.Signer != nil {
		pub, err := opts.Signer.PublicKey()
		if err != nil {
			return nil, &CryptoError{Err: err}
		}
		discoveryKey = pub
	}

	var keyHex string
	if discoveryKey != nil {
		keyHex = hex.EncodeToString(core.DiscoveryKey(discoveryKey))
	} else {
		keyHex = "anonymous"
	}

	storage, err := factory.Open(keyHex)
	if err != nil {
		return nil, &StorageError{Err: err}
	}

	c, err := core.Open(storage)
	if err != nil {
		return nil, &StorageError{Err: err}
	}

	if opts.Signer != nil {
		if err := c.SetKeyPair(discoveryKey, opts.Signer); err != nil {
			return nil, &StorageError{Err: err}
		}
	} else if discoveryKey != nil && c.PublicKey() == nil {
		if err := c.SetKeyPair(discoveryKey, nil); err != nil {
			return nil, &StorageError{Err: err}
		}
	}

	cache, err := newBlockCache(opts.CacheSize)
	if err != nil {
		return nil, &StorageError{Err: err}
	}

	var enc *encryptor
	if len(opts.EncryptionKey) > 0 {
		enc, err = newEncryptor(opts.EncryptionKey)
		if err != nil {
			return nil, err
		}
	}

	sl := &sharedLog{
		core:         c,
		replicator:   replicator.New(c),
		discoveryKey: discoveryKey,
		cache:        cache,
		enc:          enc,
		ready:        make(chan struct{}),
		events:       make(chan Event, 256),
		stopDisp:     make(chan struct{}),
	}
	sl.replicator.OnPeerChange(func(p *replicator.Peer, joined bool) {
		kind := EventPeerAdd
		if !joined {
			kind = EventPeerRemove
		}
		sl.publish(Event{Kind: kind, Length: sl.core.Length(), Fork: sl.core.Fork(), PeerID: p.ID.String()})
	})
	sl.replicator.OnServe(func(p *replicator.Peer, index uint64) {
		sl.publish(Event{Kind: EventUpload, Index: index, Length: sl.core.Length(), Fork: sl.core.Fork()})
	})
	close(sl.ready)
	go sl.dispatchLoop()
	return sl, nil
}

func (sl *sharedLog) acquire() {
	sl.mu.Lock()
	sl.refs++
	sl.mu.Unlock()
}

func (sl *sharedLog) release() error {
	sl.mu.Lock()
	sl.refs--
	remaining := sl.refs
	sl.mu.Unlock()
	if remaining > 0 {
		return nil
	}
	close(sl.stopDisp)
	return sl.core.Close()
}

func (sl *sharedLog) dispatchLoop() {
	for {
		select {
		case ev := <-sl.events:
			sl.subsMu.Lock()
			subs := make([]chan Event, len(sl.subs))
			copy(subs, sl.subs)
			sl.subsMu.Unlock()
			for _, ch := range subs {
				select {
				case ch <- ev:
				default:
				}
			}
		case <-sl.stopDisp:
			return
		}
	}
}

func (sl *sharedLog) publish(ev Event) {
	select {
	case sl.events <- ev:
	default:
	}
}

func (sl *sharedLog) subscribe() chan Event {
	ch := make(chan Event, 64)
	sl.subsMu.Lock()
	sl.subs = append(sl.subs, ch)
	sl.subsMu.Unlock()
	return ch
}

func (sl *sharedLog) unsubscribe(ch chan Event) {
	sl.subsMu.Lock()
	defer sl.subsMu.Unlock()
	for i, c := range sl.subs {
		if c == ch {
			sl.subs = append(sl.subs[:i], sl.subs[i+1:]...)
			close(ch)
			return
		}
	}
}
