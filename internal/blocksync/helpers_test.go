package blocksync

import (
	"errors"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/Klingon-tech/btcrelay/internal/chain"
	"github.com/Klingon-tech/btcrelay/internal/chain/chaintest"
)

const (
	peerA = peer.ID("peer-a")
	peerB = peer.ID("peer-b")
)

type fakeClock struct{ t time.Time }

func (f *fakeClock) Now() time.Time          { return f.t }
func (f *fakeClock) Advance(d time.Duration) { f.t = f.t.Add(d) }

type mockTransport struct {
	connected    []peer.ID
	sent         []Command
	disconnected []peer.ID
}

func (m *mockTransport) ConnectedPeers() []peer.ID { return m.connected }

func (m *mockTransport) Send(cmd Command) error {
	m.sent = append(m.sent, cmd)
	return nil
}

func (m *mockTransport) DisconnectPeer(id peer.ID) error {
	m.disconnected = append(m.disconnected, id)
	return nil
}

// take returns and clears the commands sent so far.
func (m *mockTransport) take() []Command {
	out := m.sent
	m.sent = nil
	return out
}

type fixture struct {
	store *chain.Store
	coord *Coordinator
	clock *fakeClock
	tr    *mockTransport
}

func newFixture(t *testing.T, opts ...Option) *fixture {
	t.Helper()
	return newFixtureWithValidator(t, nil, opts...)
}

func newFixtureWithValidator(t *testing.T, v chain.Validator, opts ...Option) *fixture {
	t.Helper()
	store := chain.New(chaintest.Genesis(), v, chain.WithLogger(zerolog.Nop()))
	clock := &fakeClock{t: time.Unix(1_700_000_000, 0)}
	base := []Option{
		WithClock(clock.Now),
		WithLogger(zerolog.Nop()),
		WithSampler(FirstSampler{}),
	}
	return &fixture{
		store: store,
		coord: NewCoordinator(store, append(base, opts...)...),
		clock: clock,
		tr:    &mockTransport{},
	}
}

// connect adds peers through a tick, drops the bootstrap commands and
// marks the peers as caught up.
func (f *fixture) connect(t *testing.T, ids ...peer.ID) {
	t.Helper()
	f.tr.connected = append(f.tr.connected, ids...)
	f.coord.Tick(f.tr)
	f.tr.take()
	for _, id := range ids {
		f.coord.peers[id].request = nil
	}
}

func (f *fixture) peer(t *testing.T, id peer.ID) *peerState {
	t.Helper()
	p, ok := f.coord.peers[id]
	require.True(t, ok, "peer %s not tracked", id)
	return p
}

// addBlocks builds n blocks on genesis and adds their headers to the
// store, returning the blocks.
func (f *fixture) addBlocks(t *testing.T, n int) []*wire.MsgBlock {
	t.Helper()
	blocks := chaintest.BlockChain(chaintest.Genesis(), n, 100)
	_, err := f.store.AddHeaders(chaintest.Headers(blocks))
	require.NoError(t, err)
	return blocks
}

func getHeaders(t *testing.T, cmd Command) *wire.MsgGetHeaders {
	t.Helper()
	msg, ok := cmd.Message.(*wire.MsgGetHeaders)
	require.True(t, ok, "expected getheaders, got %T", cmd.Message)
	return msg
}

func getData(t *testing.T, cmd Command) *wire.MsgGetData {
	t.Helper()
	msg, ok := cmd.Message.(*wire.MsgGetData)
	require.True(t, ok, "expected getdata, got %T", cmd.Message)
	return msg
}

func locators(msg *wire.MsgGetHeaders) []chainhash.Hash {
	out := make([]chainhash.Hash, len(msg.BlockLocatorHashes))
	for i, h := range msg.BlockLocatorHashes {
		out[i] = *h
	}
	return out
}

func invHashes(msg *wire.MsgGetData) []chainhash.Hash {
	out := make([]chainhash.Hash, len(msg.InvList))
	for i, iv := range msg.InvList {
		out[i] = iv.Hash
	}
	return out
}

type failingValidator struct{ chain.MerkleValidator }

func (failingValidator) ValidHeader(*wire.BlockHeader) bool { return false }

var errSend = errors.New("send failed")

type failingTransport struct{ mockTransport }

func (f *failingTransport) Send(Command) error { return errSend }

// churningTransport reports a different peer set on every call.
type churningTransport struct {
	mockTransport
	snapshots [][]peer.ID
	calls     int
}

func (c *churningTransport) ConnectedPeers() []peer.ID {
	ids := c.snapshots[c.calls%len(c.snapshots)]
	c.calls++
	return ids
}
