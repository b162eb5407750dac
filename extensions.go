package corelog

import "github.com/teneriv/corelog/replicator"

// RegisterExtension installs a handler for extension messages addressed
// to name, and advertises the capability to every connected and future
// peer. Only one handler per name can be registered per shared log;
// registering the same name from a second session replaces the handler.
func (l *Log) RegisterExtension(name string, handler func(peerID string, data []byte)) {
	l.shared.replicator.RegisterExtension(name, func(p *replicator.Peer, data []byte) {
		handler(p.ID.String(), data)
	})
}

// BroadcastExtension sends data to every peer that has advertised support
// for name.
func (l *Log) BroadcastExtension(name string, data []byte) {
	l.shared.replicator.BroadcastExtension(name, data)
}
