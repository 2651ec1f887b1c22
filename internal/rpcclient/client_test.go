package rpcclient

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcrelay/config"
	"github.com/Klingon-tech/btcrelay/internal/blocksync"
	"github.com/Klingon-tech/btcrelay/internal/chain"
	"github.com/Klingon-tech/btcrelay/internal/chain/chaintest"
	"github.com/Klingon-tech/btcrelay/internal/p2p"
	"github.com/Klingon-tech/btcrelay/internal/rpc"
)

// backend is a minimal rpc.Backend over a real store.
type backend struct {
	mu    sync.Mutex
	store *chain.Store
	coord *blocksync.Coordinator
}

func (b *backend) Network() string         { return "regtest" }
func (b *backend) Genesis() chainhash.Hash { return b.store.Genesis().Hash }

func (b *backend) Successors(hashes []chainhash.Hash) *wire.MsgBlock {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coord.SuccessorsOf(hashes)
}

func (b *backend) Header(hash chainhash.Hash) (*chain.CachedHeader, []chainhash.Hash, bool, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	hdr, ok := b.store.Header(hash)
	if !ok {
		return nil, nil, false, false
	}
	_, has := b.store.Block(hash)
	return hdr, b.store.Children(hash), has, true
}

func (b *backend) SyncStatus() blocksync.Status {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.coord.Status()
}

func (b *backend) PeerInfo() []p2p.Peer     { return nil }
func (b *backend) BanList() []p2p.BanRecord { return nil }

type testEnv struct {
	client *Client
	store  *chain.Store
	blocks []*wire.MsgBlock
}

func setupTestEnv(t *testing.T) *testEnv {
	t.Helper()

	store := chain.New(chaintest.Genesis(), nil, chain.WithLogger(zerolog.Nop()))
	blocks := chaintest.BlockChain(chaintest.Genesis(), 3, 1)
	if _, err := store.AddHeaders(chaintest.Headers(blocks)); err != nil {
		t.Fatalf("add headers: %v", err)
	}
	for _, b := range blocks {
		if _, err := store.AddBlock(b); err != nil {
			t.Fatalf("add block: %v", err)
		}
	}
	be := &backend{
		store: store,
		coord: blocksync.NewCoordinator(store, blocksync.WithLogger(zerolog.Nop())),
	}

	// Create and start RPC server on random port.
	srv := rpc.New(config.RPCConfig{Addr: "127.0.0.1"}, be, rpc.WithLogger(zerolog.Nop()))
	if err := srv.Start(); err != nil {
		t.Fatalf("start rpc: %v", err)
	}
	t.Cleanup(func() { srv.Stop() })

	return &testEnv{
		client: New("http://" + srv.Addr() + "/"),
		store:  store,
		blocks: blocks,
	}
}

func TestClient_ChainInfo(t *testing.T) {
	env := setupTestEnv(t)

	info, err := env.client.ChainInfo()
	if err != nil {
		t.Fatalf("ChainInfo error: %v", err)
	}
	if info.Network != "regtest" {
		t.Errorf("network = %q, want regtest", info.Network)
	}
	if info.TipHeight != 3 {
		t.Errorf("tip height = %d, want 3", info.TipHeight)
	}
	if want := env.blocks[2].BlockHash().String(); info.TipHash != want {
		t.Errorf("tip hash = %s, want %s", info.TipHash, want)
	}
}

func TestClient_Successors(t *testing.T) {
	env := setupTestEnv(t)

	blk, height, err := env.client.Successors([]chainhash.Hash{env.store.Genesis().Hash})
	if err != nil {
		t.Fatalf("Successors error: %v", err)
	}
	if blk == nil {
		t.Fatal("expected a block")
	}
	if blk.BlockHash() != env.blocks[0].BlockHash() {
		t.Errorf("block = %s, want %s", blk.BlockHash(), env.blocks[0].BlockHash())
	}
	if height != 1 {
		t.Errorf("height = %d, want 1", height)
	}

	// Walking the chain ends at the tip.
	blk, _, err = env.client.Successors([]chainhash.Hash{env.blocks[2].BlockHash()})
	if err != nil {
		t.Fatalf("Successors error: %v", err)
	}
	if blk != nil {
		t.Errorf("expected no successor of tip, got %s", blk.BlockHash())
	}
}

func TestClient_Header(t *testing.T) {
	env := setupTestEnv(t)

	h := env.blocks[1].BlockHash()
	hdr, err := env.client.Header(h)
	if err != nil {
		t.Fatalf("Header error: %v", err)
	}
	if hdr.Height != 2 {
		t.Errorf("height = %d, want 2", hdr.Height)
	}
	if len(hdr.Children) != 1 || hdr.Children[0] != env.blocks[2].BlockHash().String() {
		t.Errorf("children = %v", hdr.Children)
	}
}

func TestClient_Header_NotFound(t *testing.T) {
	env := setupTestEnv(t)

	_, err := env.client.Header(chainhash.Hash{0x01})
	if err == nil {
		t.Fatal("expected error for unknown header")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != rpc.CodeNotFound {
		t.Errorf("error code = %d, want %d", rpcErr.Code, rpc.CodeNotFound)
	}
}

func TestClient_StatusPeersBans(t *testing.T) {
	env := setupTestEnv(t)

	st, err := env.client.SyncStatus()
	if err != nil {
		t.Fatalf("SyncStatus error: %v", err)
	}
	if len(st.Peers) != 0 {
		t.Errorf("peers = %d, want 0", len(st.Peers))
	}

	peers, err := env.client.Peers()
	if err != nil {
		t.Fatalf("Peers error: %v", err)
	}
	if len(peers) != 0 {
		t.Errorf("peer info = %v, want empty", peers)
	}

	bans, err := env.client.Bans()
	if err != nil {
		t.Fatalf("Bans error: %v", err)
	}
	if len(bans) != 0 {
		t.Errorf("bans = %v, want empty", bans)
	}
}

func TestClient_Call_InvalidEndpoint(t *testing.T) {
	client := New("http://127.0.0.1:1/") // port 1, should refuse

	var result rpc.ChainInfoResult
	if err := client.Call("chain_getInfo", nil, &result); err == nil {
		t.Fatal("expected connection error")
	}
}

func TestClient_Call_MethodNotFound(t *testing.T) {
	env := setupTestEnv(t)

	err := env.client.Call("nonexistent_method", nil, nil)
	if err == nil {
		t.Fatal("expected error for unknown method")
	}

	var rpcErr *RPCError
	if !errors.As(err, &rpcErr) {
		t.Fatalf("expected RPCError, got %T: %v", err, err)
	}
	if rpcErr.Code != rpc.CodeMethodNotFound {
		t.Errorf("error code = %d, want %d", rpcErr.Code, rpc.CodeMethodNotFound)
	}
}

func TestClient_Call_HTTPStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "forbidden", http.StatusForbidden)
	}))
	defer srv.Close()

	if err := New(srv.URL).Call("chain_getInfo", nil, nil); err == nil {
		t.Fatal("expected error for non-200 status")
	}
}

func TestClient_Successors_HashMismatch(t *testing.T) {
	raw := blockHex(t, chaintest.NewBlock(chaintest.Genesis(), 9))
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprintf(w, `{"jsonrpc":"2.0","id":1,"result":{"found":true,"hash":"%s","block":"%s"}}`,
			chainhash.Hash{}, raw)
	}))
	defer srv.Close()

	if _, _, err := New(srv.URL).Successors([]chainhash.Hash{{}}); err == nil {
		t.Fatal("expected hash mismatch error")
	}
}

func blockHex(t *testing.T, b *wire.MsgBlock) string {
	t.Helper()
	var buf bytes.Buffer
	if err := b.Serialize(&buf); err != nil {
		t.Fatalf("serialize: %v", err)
	}
	return hex.EncodeToString(buf.Bytes())
}
