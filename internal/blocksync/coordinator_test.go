package blocksync

import (
	"errors"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/btcrelay/internal/chain"
	"github.com/Klingon-tech/btcrelay/internal/chain/chaintest"
)

func TestAddPeer_Bootstrap(t *testing.T) {
	f := newFixture(t)
	f.coord.AddPeer(peerA)
	f.coord.AddPeer(peerA)

	p := f.peer(t, peerA)
	assert.Equal(t, uint32(0), p.height)
	assert.Equal(t, f.store.Genesis().Hash, p.tip)
	require.NotNil(t, p.request)
	assert.Equal(t, DisconnectOnTimeout, p.request.onTimeout)

	f.coord.flush(f.tr)
	sent := f.tr.take()
	require.Len(t, sent, 1)
	assert.Equal(t, peerA, sent[0].Peer)
	msg := getHeaders(t, sent[0])
	assert.Equal(t, []chainhash.Hash{f.store.Genesis().Hash}, locators(msg))
	assert.Equal(t, chainhash.Hash{}, msg.HashStop)
	assert.Equal(t, uint32(wire.ProtocolVersion), msg.ProtocolVersion)
}

func TestRemovePeer_ReturnsFetchesToFrontier(t *testing.T) {
	f := newFixture(t)
	blocks := f.addBlocks(t, 2)
	f.connect(t, peerA)

	f.coord.Enqueue(blocks[0].BlockHash(), blocks[1].BlockHash())
	f.coord.Tick(f.tr)
	require.Len(t, f.coord.pending, 2)
	assert.Empty(t, f.coord.frontier)

	f.coord.RemovePeer(peerA)
	f.coord.RemovePeer(peerA)

	assert.NotContains(t, f.coord.peers, peerA)
	assert.Empty(t, f.coord.pending)
	assert.Len(t, f.coord.frontier, 2)
}

func TestOnInventory(t *testing.T) {
	f := newFixture(t)
	known := chaintest.GenerateHeaders(chaintest.Genesis(), 3, 0)
	_, err := f.store.AddHeaders(known)
	require.NoError(t, err)

	unknown1 := chaintest.NextHeader(known[2], 1).BlockHash()
	unknown2 := chaintest.NextHeader(known[2], 2).BlockHash()
	items := []*wire.InvVect{
		wire.NewInvVect(wire.InvTypeBlock, &unknown1),
		wire.NewInvVect(wire.InvTypeTx, &chainhash.Hash{0x09}),
		wire.NewInvVect(wire.InvTypeBlock, &unknown2),
	}

	err = f.coord.OnInventory(peerA, items)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	f.connect(t, peerA)
	require.NoError(t, f.coord.OnInventory(peerA, items))

	p := f.peer(t, peerA)
	assert.Equal(t, unknown2, p.tip)
	require.NotNil(t, p.request)
	assert.Equal(t, IgnoreOnTimeout, p.request.onTimeout)

	f.coord.flush(f.tr)
	sent := f.tr.take()
	require.Len(t, sent, 1)
	msg := getHeaders(t, sent[0])
	assert.Equal(t, f.store.LocatorHashes(), locators(msg))
	assert.Equal(t, unknown2, msg.HashStop)
}

func TestOnInventory_KnownBlocksOnly(t *testing.T) {
	f := newFixture(t)
	f.connect(t, peerA)

	g := f.store.Genesis().Hash
	require.NoError(t, f.coord.OnInventory(peerA, []*wire.InvVect{wire.NewInvVect(wire.InvTypeBlock, &g)}))
	assert.Nil(t, f.peer(t, peerA).request)
	assert.Empty(t, f.coord.outbox)
}

func TestOnInventory_TooMuch(t *testing.T) {
	f := newFixture(t)
	items := make([]*wire.InvVect, MaxInventorySize+1)
	for i := range items {
		items[i] = wire.NewInvVect(wire.InvTypeBlock, &chainhash.Hash{})
	}

	// The size check runs before the peer lookup.
	err := f.coord.OnInventory(peerA, items)
	assert.ErrorIs(t, err, ErrTooMuchInventory)
	assert.ErrorIs(t, err, ErrProtocolLimitExceeded)
}

func TestOnHeaders_UnknownPeer(t *testing.T) {
	f := newFixture(t)
	err := f.coord.OnHeaders(peerA, chaintest.GenerateHeaders(chaintest.Genesis(), 1, 0))
	assert.ErrorIs(t, err, ErrUnknownPeer)
}

func TestOnHeaders_Unsolicited(t *testing.T) {
	f := newFixture(t)
	f.connect(t, peerA)
	headers := chaintest.GenerateHeaders(chaintest.Genesis(), 21, 0)

	err := f.coord.OnHeaders(peerA, headers)
	assert.ErrorIs(t, err, ErrTooManyUnsolicitedHeaders)
	assert.ErrorIs(t, err, ErrProtocolLimitExceeded)
	assert.Equal(t, 1, f.store.HeaderCount())

	require.NoError(t, f.coord.OnHeaders(peerA, headers[:MaxUnsolicitedHeaders]))
	assert.Equal(t, uint32(20), f.store.ActiveTip().Height)
	assert.Equal(t, uint32(20), f.peer(t, peerA).height)
}

func TestOnHeaders_SolicitedBatchBeyondUnsolicitedCap(t *testing.T) {
	f := newFixture(t)
	f.coord.AddPeer(peerA)

	require.NoError(t, f.coord.OnHeaders(peerA, chaintest.GenerateHeaders(chaintest.Genesis(), 50, 0)))
	p := f.peer(t, peerA)
	assert.Equal(t, uint32(50), p.height)
	assert.Nil(t, p.request, "short batch means the peer is caught up")
}

func TestOnHeaders_TooMany(t *testing.T) {
	f := newFixture(t)
	f.coord.AddPeer(peerA)

	err := f.coord.OnHeaders(peerA, make([]*wire.BlockHeader, MaxHeadersSize+1))
	assert.ErrorIs(t, err, ErrTooManyHeaders)
}

func TestOnHeaders_Empty(t *testing.T) {
	f := newFixture(t)
	f.coord.AddPeer(peerA)
	require.NoError(t, f.coord.OnHeaders(peerA, nil))
	assert.Nil(t, f.peer(t, peerA).request)
	assert.Len(t, f.coord.outbox, 1) // only the bootstrap getheaders
}

func TestOnHeaders_FullBatchRequestsContinuation(t *testing.T) {
	f := newFixture(t)
	f.coord.AddPeer(peerA)
	f.coord.outbox = nil

	headers := chaintest.GenerateHeaders(chaintest.Genesis(), MaxHeadersSize, 0)
	require.NoError(t, f.coord.OnHeaders(peerA, headers))

	last := headers[len(headers)-1].BlockHash()
	p := f.peer(t, peerA)
	assert.Equal(t, uint32(MaxHeadersSize), p.height)
	assert.Equal(t, last, p.tip)
	require.NotNil(t, p.request)
	assert.Equal(t, IgnoreOnTimeout, p.request.onTimeout)

	f.coord.flush(f.tr)
	sent := f.tr.take()
	require.Len(t, sent, 1)
	msg := getHeaders(t, sent[0])
	assert.Equal(t, []chainhash.Hash{last}, locators(msg))
	assert.Equal(t, chainhash.Hash{}, msg.HashStop)
}

func TestOnHeaders_PrevNotCachedRerequests(t *testing.T) {
	f := newFixture(t)
	f.coord.AddPeer(peerA)
	f.coord.outbox = nil

	headers := chaintest.GenerateHeaders(chaintest.Genesis(), 4, 0)
	require.NoError(t, f.coord.OnHeaders(peerA, headers[:1]))
	require.Empty(t, f.coord.outbox)

	// headers[1] is missing from the batch.
	require.NoError(t, f.coord.OnHeaders(peerA, headers[2:]))

	f.coord.flush(f.tr)
	sent := f.tr.take()
	require.Len(t, sent, 1)
	msg := getHeaders(t, sent[0])
	assert.Equal(t, f.store.LocatorHashes(), locators(msg))
	assert.Equal(t, headers[2].BlockHash(), msg.HashStop)
	assert.Equal(t, IgnoreOnTimeout, f.peer(t, peerA).request.onTimeout)
}

func TestOnHeaders_Invalid(t *testing.T) {
	f := newFixtureWithValidator(t, failingValidator{})
	f.coord.AddPeer(peerA)

	err := f.coord.OnHeaders(peerA, chaintest.GenerateHeaders(chaintest.Genesis(), 2, 0))
	assert.ErrorIs(t, err, ErrReceivedInvalidHeader)
	assert.ErrorIs(t, err, chain.ErrInvalidHeader)
	assert.Equal(t, 1, f.store.HeaderCount())
}

func TestOnHeaders_PeerHeightNeverDecreases(t *testing.T) {
	f := newFixture(t)
	f.connect(t, peerA)
	headers := chaintest.GenerateHeaders(chaintest.Genesis(), 5, 0)

	require.NoError(t, f.coord.OnHeaders(peerA, headers))
	require.NoError(t, f.coord.OnHeaders(peerA, headers[:2]))

	p := f.peer(t, peerA)
	assert.Equal(t, uint32(5), p.height)
	assert.Equal(t, headers[4].BlockHash(), p.tip)

	// Known headers still move a lagging peer forward.
	f.connect(t, peerB)
	require.NoError(t, f.coord.OnHeaders(peerB, headers[:3]))
	assert.Equal(t, uint32(3), f.peer(t, peerB).height)
}

func TestOnBlock(t *testing.T) {
	f := newFixture(t)
	blocks := f.addBlocks(t, 1)

	err := f.coord.OnBlock(peerA, blocks[0])
	assert.ErrorIs(t, err, ErrUnknownPeer)

	f.connect(t, peerA)
	require.NoError(t, f.coord.OnBlock(peerA, blocks[0]))
	_, ok := f.store.Block(blocks[0].BlockHash())
	assert.True(t, ok)
}

func TestOnBlock_Rejected(t *testing.T) {
	f := newFixture(t)
	blocks := f.addBlocks(t, 1)
	f.connect(t, peerA)
	f.coord.Enqueue(blocks[0].BlockHash())
	f.coord.Tick(f.tr)
	require.Equal(t, 1, f.peer(t, peerA).outstanding)

	bad := *blocks[0]
	bad.Transactions = nil
	err := f.coord.OnBlock(peerA, &bad)
	assert.ErrorIs(t, err, ErrBodyNotAdded)
	assert.ErrorIs(t, err, chain.ErrInvalidBlock)

	assert.Equal(t, 1, f.peer(t, peerA).outstanding)
	assert.Len(t, f.coord.pending, 1)
}

func TestOnBlock_FromOtherPeer(t *testing.T) {
	f := newFixture(t)
	blocks := f.addBlocks(t, 1)
	f.connect(t, peerA)
	f.coord.Enqueue(blocks[0].BlockHash())
	f.coord.Tick(f.tr)
	require.Equal(t, 1, f.peer(t, peerA).outstanding)

	f.connect(t, peerB)
	require.NoError(t, f.coord.OnBlock(peerB, blocks[0]))

	// The fetch is resolved but only the addressed peer frees a slot.
	assert.Empty(t, f.coord.pending)
	assert.Equal(t, 1, f.peer(t, peerA).outstanding)
	assert.Equal(t, 0, f.peer(t, peerB).outstanding)
}

func TestOnBlock_FromAddressedPeer(t *testing.T) {
	f := newFixture(t)
	blocks := f.addBlocks(t, 1)
	f.connect(t, peerA)
	f.coord.Enqueue(blocks[0].BlockHash())
	f.coord.Tick(f.tr)
	require.Equal(t, 1, f.peer(t, peerA).outstanding)

	require.NoError(t, f.coord.OnBlock(peerA, blocks[0]))
	assert.Empty(t, f.coord.pending)
	assert.Equal(t, 0, f.peer(t, peerA).outstanding)
}

func TestProcessEvent(t *testing.T) {
	f := newFixture(t)
	headers := chaintest.GenerateHeaders(chaintest.Genesis(), 2, 0)

	hdrs := wire.NewMsgHeaders()
	for _, h := range headers {
		require.NoError(t, hdrs.AddBlockHeader(h))
	}

	err := f.coord.ProcessEvent(Event{From: peerA, Message: hdrs})
	assert.ErrorIs(t, err, ErrInvalidMessage)
	assert.ErrorIs(t, err, ErrUnknownPeer)

	f.coord.AddPeer(peerA)
	require.NoError(t, f.coord.ProcessEvent(Event{From: peerA, Message: hdrs}))
	assert.Equal(t, uint32(2), f.store.ActiveTip().Height)

	inv := wire.NewMsgInv()
	h := chaintest.NextHeader(headers[1], 0).BlockHash()
	require.NoError(t, inv.AddInvVect(wire.NewInvVect(wire.InvTypeBlock, &h)))
	require.NoError(t, f.coord.ProcessEvent(Event{From: peerA, Message: inv}))

	// Messages the coordinator does not consume are ignored.
	assert.NoError(t, f.coord.ProcessEvent(Event{From: peerB, Message: wire.NewMsgPing(1)}))
}

func TestProcessEvent_BadBlock(t *testing.T) {
	f := newFixture(t)
	f.connect(t, peerA)
	blk := chaintest.NewBlock(chaintest.Genesis(), 1)
	blk.Transactions[0].LockTime = 99

	err := f.coord.ProcessEvent(Event{From: peerA, Message: blk})
	assert.True(t, errors.Is(err, ErrInvalidMessage))
	assert.True(t, errors.Is(err, ErrBodyNotAdded))
}
