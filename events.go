package corelog

// EventKind classifies an Event delivered to a session's event channel.
type EventKind int

const (
	// EventAppend fires after a local Append commits. Blocks landed by
	// replication produce EventDownload instead.
	EventAppend EventKind = iota
	// EventTruncate fires after a local Truncate commits, and when
	// DownloadRange rolls back blocks that failed verification.
	EventTruncate
	// EventDownload fires after fillRange accepts a block fetched from a
	// peer and appends it locally.
	EventDownload
	// EventUpload fires after serveRequest answers a peer's request for a
	// block this log holds.
	EventUpload
	// EventPeerAdd fires when a new peer joins replication.
	EventPeerAdd
	// EventPeerRemove fires when a peer disconnects.
	EventPeerRemove
	// EventClosed fires on a session's own channel the moment that session
	// is closed, whether or not it was the last session sharing the Core.
	EventClosed
)

// Event is one state-change notification. Fields not relevant to Kind are
// left at their zero value.
type Event struct {
	Kind   EventKind
	Length uint64
	Fork   uint64
	Index  uint64 // set by EventDownload/EventUpload
	PeerID string // set by EventPeerAdd/EventPeerRemove
}

// On returns a channel of events for this session. The channel is closed
// when the session is closed; callers should range over it rather than
// polling.
func (l *Log) On() <-chan Event {
	return l.events
}
