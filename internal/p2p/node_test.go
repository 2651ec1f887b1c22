package p2p

import (
	"context"
	"testing"
	"time"

	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/btcrelay/internal/blocksync"
)

func TestNode_New(t *testing.T) {
	n := New(testConfig())
	assert.Nil(t, n.Host())
	assert.Empty(t, n.ID())
	assert.Nil(t, n.Addrs())
	assert.Zero(t, n.PeerCount())
	assert.Empty(t, n.ConnectedPeers())
}

func TestNode_StopBeforeStart(t *testing.T) {
	n := New(testConfig())
	assert.NoError(t, n.Stop())
}

func TestNode_NotStarted(t *testing.T) {
	n := New(testConfig())
	assert.ErrorIs(t, n.Send(blocksync.Command{Message: wire.NewMsgInv()}), ErrNotStarted)
	assert.ErrorIs(t, n.DisconnectPeer(peer.ID("p")), ErrNotStarted)
	_, err := n.Connect(context.Background(), "/ip4/127.0.0.1/tcp/1")
	assert.ErrorIs(t, err, ErrNotStarted)
}

func TestNode_StartStop(t *testing.T) {
	n := New(testConfig())
	require.NoError(t, n.Start())
	assert.NotEmpty(t, n.ID())
	assert.NotEmpty(t, n.Addrs())
	assert.ErrorIs(t, n.Start(), ErrAlreadyStarted)
	require.NoError(t, n.Stop())
}

func TestNode_AddRemovePeer(t *testing.T) {
	n := New(testConfig())
	id := peer.ID("test-peer-1")

	n.addPeer(id, 0, SourceInbound)
	n.addPeer(id, 0, SourceSeed)
	require.Equal(t, 1, n.PeerCount())
	assert.Equal(t, SourceSeed, n.PeerList()[0].Source)
	assert.Empty(t, n.ConnectedPeers(), "not ready before handshake")

	n.markReady(id, HandshakeMessage{BestHeight: 5})
	assert.Equal(t, []peer.ID{id}, n.ConnectedPeers())

	n.removePeer(id)
	assert.Zero(t, n.PeerCount())
}

func TestNode_PeerListSorted(t *testing.T) {
	n := New(testConfig())
	n.addPeer(peer.ID("c"), 0, SourceInbound)
	n.addPeer(peer.ID("a"), 0, SourceInbound)
	n.addPeer(peer.ID("b"), 0, SourceInbound)

	list := n.PeerList()
	require.Len(t, list, 3)
	assert.Equal(t, peer.ID("a"), list[0].ID)
	assert.Equal(t, peer.ID("c"), list[2].ID)
}

func TestNode_SendUnknownPeer(t *testing.T) {
	n := startTestNode(t)
	err := n.Send(blocksync.Command{Peer: peer.ID("nobody"), Message: wire.NewMsgGetHeaders()})
	assert.ErrorIs(t, err, ErrPeerNotReady)
}

func TestTwoNodes_DirectMessage(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	var got inbox
	nodeB.SetMessageHandler(got.handler)
	connectNodes(t, nodeA, nodeB)

	msg := wire.NewMsgGetHeaders()
	require.NoError(t, msg.AddBlockLocatorHash(testParams.GenesisHash))
	require.NoError(t, nodeA.Send(blocksync.Command{Peer: nodeB.ID(), Message: msg}))

	require.Eventually(t, func() bool { return len(got.snapshot()) == 1 }, 5*time.Second, 20*time.Millisecond)
	rcv := got.snapshot()[0]
	assert.Equal(t, nodeA.ID(), rcv.from)
	gh, ok := rcv.msg.(*wire.MsgGetHeaders)
	require.True(t, ok, "received %T", rcv.msg)
	assert.Equal(t, *testParams.GenesisHash, *gh.BlockLocatorHashes[0])
}

func TestTwoNodes_Broadcast(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	var got inbox
	nodeB.SetMessageHandler(got.handler)
	connectNodes(t, nodeA, nodeB)

	inv := wire.NewMsgInv()
	require.NoError(t, inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, testParams.GenesisHash)))

	// The mesh forms asynchronously; republish until the subscriber sees it.
	require.Eventually(t, func() bool {
		_ = nodeA.Send(blocksync.Command{Message: inv})
		return len(got.snapshot()) > 0
	}, 10*time.Second, 200*time.Millisecond)

	rcv := got.snapshot()[0]
	assert.Equal(t, nodeA.ID(), rcv.from)
	assert.IsType(t, &wire.MsgInv{}, rcv.msg)
}

func TestTwoNodes_MalformedMessagePenalized(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	var got inbox
	nodeB.SetMessageHandler(got.handler)
	connectNodes(t, nodeA, nodeB)

	stream, err := nodeA.Host().NewStream(t.Context(), nodeB.ID(), WireProtocol)
	require.NoError(t, err)
	_, err = stream.Write([]byte("definitely not a bitcoin message header"))
	require.NoError(t, err)
	// The receiver resets the stream once it rejects the message.
	_ = stream.Close()

	require.Eventually(t, func() bool {
		return nodeB.BanManager.Score(nodeA.ID()) == PenaltyMalformedMessage
	}, 5*time.Second, 20*time.Millisecond)
	assert.Empty(t, got.snapshot())
}

func TestTwoNodes_DisconnectPeer(t *testing.T) {
	nodeA := startTestNode(t)
	nodeB := startTestNode(t)
	connectNodes(t, nodeA, nodeB)

	require.NoError(t, nodeA.DisconnectPeer(nodeB.ID()))
	assert.Empty(t, nodeA.ConnectedPeers())
	require.Eventually(t, func() bool { return nodeB.PeerCount() == 0 }, 5*time.Second, 20*time.Millisecond)
}

func TestTwoNodes_SeedConnect(t *testing.T) {
	seed := startTestNode(t)
	n := startTestNode(t, func(c *Config) { c.Seeds = seed.Addrs()[:1] })

	require.Eventually(t, func() bool { return n.isReady(seed.ID()) }, 5*time.Second, 20*time.Millisecond)
	list := n.PeerList()
	require.Len(t, list, 1)
	assert.Equal(t, SourceSeed, list[0].Source)
}

func TestNode_MaxPeers(t *testing.T) {
	hub := startTestNode(t, func(c *Config) { c.MaxPeers = 1 })
	first := startTestNode(t)
	second := startTestNode(t)

	connectNodes(t, first, hub)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, _ = second.Connect(ctx, hub.Addrs()[0])

	// The hub closes the connection after the secure handshake, so the
	// dial itself may or may not report an error.
	time.Sleep(300 * time.Millisecond)
	assert.Equal(t, 1, hub.PeerCount())
	assert.False(t, hub.isReady(second.ID()))
}
