package p2p

import (
	"context"
	"crypto/rand"
	"sync"
	"testing"
	"time"

	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/wire"
	libp2pcrypto "github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/peer"
	"github.com/stretchr/testify/require"
)

var testParams = &chaincfg.RegressionNetParams

func testConfig() Config {
	return Config{
		ListenAddr:  "127.0.0.1",
		Port:        0,
		Network:     "regtest",
		Net:         testParams.Net,
		GenesisHash: *testParams.GenesisHash,
		UserAgent:   "btcrelay-test",
	}
}

// startTestNode starts a node on an ephemeral port. mutate may adjust the
// config before Start.
func startTestNode(t *testing.T, mutate ...func(*Config)) *Node {
	t.Helper()
	cfg := testConfig()
	for _, fn := range mutate {
		fn(&cfg)
	}
	n := New(cfg)
	require.NoError(t, n.Start())
	t.Cleanup(func() { n.Stop() })
	return n
}

// connectNodes dials b from a and waits until both sides see each other as ready.
func connectNodes(t *testing.T, a, b *Node) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_, err := a.Connect(ctx, b.Addrs()[0])
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		return a.isReady(b.ID()) && b.isReady(a.ID())
	}, 5*time.Second, 20*time.Millisecond, "handshake did not complete")
}

func generateTestPeerID(t *testing.T) peer.ID {
	t.Helper()
	priv, _, err := libp2pcrypto.GenerateEd25519Key(rand.Reader)
	require.NoError(t, err)
	id, err := peer.IDFromPrivateKey(priv)
	require.NoError(t, err)
	return id
}

// inbox collects messages delivered to a node's handler.
type inbox struct {
	mu   sync.Mutex
	msgs []received
}

type received struct {
	from peer.ID
	msg  wire.Message
}

func (ib *inbox) handler(from peer.ID, msg wire.Message) {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	ib.msgs = append(ib.msgs, received{from: from, msg: msg})
}

func (ib *inbox) snapshot() []received {
	ib.mu.Lock()
	defer ib.mu.Unlock()
	return append([]received(nil), ib.msgs...)
}

type fakeDisconnecter struct {
	mu  sync.Mutex
	ids []peer.ID
}

func (f *fakeDisconnecter) DisconnectPeer(id peer.ID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ids = append(f.ids, id)
	return nil
}

func (f *fakeDisconnecter) disconnected() []peer.ID {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]peer.ID(nil), f.ids...)
}
