package replicator

import (
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/teneriv/corelog/core"
)

func newTestCore(t *testing.T) *core.Core {
	t.Helper()
	factory, err := core.NewDirStorageFactory(t.TempDir())
	require.NoError(t, err)
	storage, err := factory.Open("r")
	require.NoError(t, err)
	c, err := core.Open(storage)
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })
	return c
}

func connectedReplicators(t *testing.T) (*Replicator, *Peer, *Replicator, *Peer) {
	t.Helper()
	c1 := newTestCore(t)
	c2 := newTestCore(t)
	for i := 0; i < 3; i++ {
		_, _, err := c1.Append([]byte{byte(i)})
		require.NoError(t, err)
	}

	r1 := New(c1)
	r2 := New(c2)

	a, b := net.Pipe()
	p1 := r1.AddPeer(NewSecureStream(a))
	p2 := r2.AddPeer(NewSecureStream(b))

	time.Sleep(20 * time.Millisecond)
	return r1, p1, r2, p2
}

func TestRequestBlockRoundtrip(t *testing.T) {
	r1, _, r2, p2 := connectedReplicators(t)
	_ = r1

	block, err := r2.RequestBlock(p2, 1)
	require.NoError(t, err)
	require.Equal(t, []byte{1}, block)
}

func TestRequestSeekRoundtrip(t *testing.T) {
	r1, _, r2, p2 := connectedReplicators(t)
	_ = r1

	resp, err := r2.RequestSeek(p2, 2)
	require.NoError(t, err)
	require.Equal(t, uint64(2), resp.Index)
	require.Equal(t, uint64(0), resp.RelOffset)
}

func TestRequestUpgradeRoundtrip(t *testing.T) {
	r1, _, r2, p2 := connectedReplicators(t)
	_ = r1
	time.Sleep(20 * time.Millisecond) // let the initial Info frame land

	resp, err := r2.RequestUpgrade(p2, 0)
	require.NoError(t, err)
	require.NotEmpty(t, resp.Nodes)
}

func TestExtensionDispatch(t *testing.T) {
	r1, _, r2, p2 := connectedReplicators(t)
	_ = p2

	received := make(chan []byte, 1)
	r1.RegisterExtension("chat", func(p *Peer, data []byte) {
		received <- data
	})
	time.Sleep(20 * time.Millisecond)

	r2.BroadcastExtension("chat", []byte("hello"))

	select {
	case got := <-received:
		require.Equal(t, []byte("hello"), got)
	case <-time.After(time.Second):
		t.Fatal("extension message never arrived")
	}
}
