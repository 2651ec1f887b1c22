// Package rpcclient provides a JSON-RPC 2.0 client for btcrelay nodes.
package rpcclient

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"

	"github.com/Klingon-tech/btcrelay/internal/rpc"
)

// Client is a JSON-RPC 2.0 HTTP client.
// A Client is not safe for concurrent use.
type Client struct {
	endpoint string
	http     *http.Client
	nextID   int
}

// New creates a new RPC client targeting the given endpoint URL.
func New(endpoint string) *Client {
	return NewWithTimeout(endpoint, 10*time.Second)
}

// NewWithTimeout creates a new RPC client with a custom HTTP timeout.
func NewWithTimeout(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Client{
		endpoint: endpoint,
		http: &http.Client{
			Timeout: timeout,
		},
	}
}

// request is a JSON-RPC 2.0 request.
type request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params,omitempty"`
	ID      int         `json:"id"`
}

// response is a JSON-RPC 2.0 response. The ID is echoed back verbatim.
type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *rpcError       `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

// rpcError is a JSON-RPC 2.0 error.
type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// RPCError is returned when the server responds with an error.
type RPCError struct {
	Code    int
	Message string
}

func (e *RPCError) Error() string {
	return fmt.Sprintf("rpc error %d: %s", e.Code, e.Message)
}

// Call invokes a JSON-RPC method and unmarshals the result into the provided pointer.
// If result is nil, the response result is discarded.
func (c *Client) Call(method string, params, result interface{}) error {
	c.nextID++
	req := request{
		JSONRPC: "2.0",
		Method:  method,
		Params:  params,
		ID:      c.nextID,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	resp, err := c.http.Post(c.endpoint, "application/json", bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("http request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("http status %d", resp.StatusCode)
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	var rpcResp response
	if err := json.Unmarshal(data, &rpcResp); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}

	if rpcResp.Error != nil {
		return &RPCError{
			Code:    rpcResp.Error.Code,
			Message: rpcResp.Error.Message,
		}
	}

	if result != nil && rpcResp.Result != nil {
		if err := json.Unmarshal(rpcResp.Result, result); err != nil {
			return fmt.Errorf("decode result: %w", err)
		}
	}

	return nil
}

// Successors asks the relay for the first cached block following the
// given known hashes. It returns nil when no successor is cached yet.
func (c *Client) Successors(known []chainhash.Hash) (*wire.MsgBlock, uint32, error) {
	params := rpc.SuccessorsParam{Hashes: make([]string, len(known))}
	for i, h := range known {
		params.Hashes[i] = h.String()
	}

	var res rpc.SuccessorsResult
	if err := c.Call("relay_getSuccessors", params, &res); err != nil {
		return nil, 0, err
	}
	if !res.Found {
		return nil, 0, nil
	}

	raw, err := hex.DecodeString(res.Block)
	if err != nil {
		return nil, 0, fmt.Errorf("decode block hex: %w", err)
	}
	var block wire.MsgBlock
	if err := block.Deserialize(bytes.NewReader(raw)); err != nil {
		return nil, 0, fmt.Errorf("deserialize block: %w", err)
	}
	if got := block.BlockHash(); got.String() != res.Hash {
		return nil, 0, fmt.Errorf("block hash mismatch: got %s, want %s", got, res.Hash)
	}
	return &block, res.Height, nil
}

// ChainInfo calls chain_getInfo.
func (c *Client) ChainInfo() (*rpc.ChainInfoResult, error) {
	var res rpc.ChainInfoResult
	if err := c.Call("chain_getInfo", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Header calls chain_getHeader.
func (c *Client) Header(hash chainhash.Hash) (*rpc.HeaderResult, error) {
	var res rpc.HeaderResult
	if err := c.Call("chain_getHeader", rpc.HashParam{Hash: hash.String()}, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// SyncStatus calls sync_getStatus.
func (c *Client) SyncStatus() (*rpc.SyncStatusResult, error) {
	var res rpc.SyncStatusResult
	if err := c.Call("sync_getStatus", nil, &res); err != nil {
		return nil, err
	}
	return &res, nil
}

// Peers calls net_getPeerInfo.
func (c *Client) Peers() ([]rpc.PeerInfoResult, error) {
	var res []rpc.PeerInfoResult
	if err := c.Call("net_getPeerInfo", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}

// Bans calls net_getBanList.
func (c *Client) Bans() ([]rpc.BanResult, error) {
	var res []rpc.BanResult
	if err := c.Call("net_getBanList", nil, &res); err != nil {
		return nil, err
	}
	return res, nil
}
