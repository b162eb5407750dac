package replicator

import (
	"fmt"
	"io"

	"github.com/teneriv/corelog/wire"
)

// ExtensionHandler receives extension payloads addressed to a locally
// registered capability name.
type ExtensionHandler func(peer *Peer, data []byte)

// joinProtocol runs the read loop for one peer until the stream closes or
// a fatal decode error occurs, dispatching each frame to r's handlers. It
// is meant to be run in its own goroutine per peer, each owning its
// connection's read side start to finish.
func (r *Replicator) joinProtocol(p *Peer) error {
	defer func() {
		p.markClosed()
		r.removePeer(p)
	}()

	conn := p.stream.RawStream()
	for {
		typ, codec, body, err := wire.ReadFrame(conn)
		if err != nil {
			if err == io.EOF {
				return nil
			}
			return fmt.Errorf("read frame from %s: %w", p.ID, err)
		}
		p.codec = codec

		if err := r.dispatch(p, typ, body); err != nil {
			return fmt.Errorf("dispatch frame from %s: %w", p.ID, err)
		}
	}
}

func (r *Replicator) dispatch(p *Peer, typ wire.MessageType, body []byte) error {
	switch typ {
	case wire.TypeInfo:
		var info wire.Info
		if err := p.codec.Unmarshal(body, &info); err != nil {
			return err
		}
		p.setRemoteState(info)
		r.onPeerInfo(p, info)

	case wire.TypeHave:
		var have wire.Have
		if err := p.codec.Unmarshal(body, &have); err != nil {
			return err
		}
		r.onPeerHave(p, have)

	case wire.TypeRequest:
		var req wire.Request
		if err := p.codec.Unmarshal(body, &req); err != nil {
			return err
		}
		r.serveRequest(p, req)

	case wire.TypeBlockData:
		var data wire.BlockData
		if err := p.codec.Unmarshal(body, &data); err != nil {
			return err
		}
		p.resolvePending(data.ID, wire.Frame{Type: typ, Body: body})
		r.onBlockData(p, data)

	case wire.TypeUpgradeRequest:
		var req wire.UpgradeRequest
		if err := p.codec.Unmarshal(body, &req); err != nil {
			return err
		}
		r.serveUpgrade(p, req)

	case wire.TypeUpgradeResponse:
		var resp wire.UpgradeResponse
		if err := p.codec.Unmarshal(body, &resp); err != nil {
			return err
		}
		p.resolvePending(resp.ID, wire.Frame{Type: typ, Body: body})

	case wire.TypeSeekRequest:
		var req wire.SeekRequest
		if err := p.codec.Unmarshal(body, &req); err != nil {
			return err
		}
		r.serveSeek(p, req)

	case wire.TypeSeekResponse:
		var resp wire.SeekResponse
		if err := p.codec.Unmarshal(body, &resp); err != nil {
			return err
		}
		p.resolvePending(resp.ID, wire.Frame{Type: typ, Body: body})

	case wire.TypeOptions:
		var opts wire.Options
		if err := p.codec.Unmarshal(body, &opts); err != nil {
			return err
		}
		p.setSupportedExtensions(opts.Extensions)

	case wire.TypeExtension:
		var ext wire.Extension
		if err := p.codec.Unmarshal(body, &ext); err != nil {
			return err
		}
		r.onExtension(p, ext)

	case wire.TypeClose:
		return io.EOF

	default:
		return fmt.Errorf("unknown frame type %d", typ)
	}
	return nil
}
