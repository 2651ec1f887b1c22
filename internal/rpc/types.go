package rpc

// JSON-RPC 2.0 error codes.
const (
	CodeParseError     = -32700
	CodeInvalidRequest = -32600
	CodeMethodNotFound = -32601
	CodeInvalidParams  = -32602
	CodeInternalError  = -32603
	CodeNotFound       = -32000
)

// Request is a JSON-RPC 2.0 request.
type Request struct {
	JSONRPC string      `json:"jsonrpc"`
	Method  string      `json:"method"`
	Params  interface{} `json:"params"`
	ID      interface{} `json:"id"`
}

// Response is a JSON-RPC 2.0 response.
type Response struct {
	JSONRPC string      `json:"jsonrpc"`
	Result  interface{} `json:"result,omitempty"`
	Error   *Error      `json:"error,omitempty"`
	ID      interface{} `json:"id"`
}

// Error is a JSON-RPC 2.0 error object.
type Error struct {
	Code    int         `json:"code"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

// ── Param types ─────────────────────────────────────────────────────────

// HashParam is used by endpoints that take a single block hash.
type HashParam struct {
	Hash string `json:"hash"`
}

// SuccessorsParam is used by relay_getSuccessors. Hashes are the blocks the
// consumer already holds.
type SuccessorsParam struct {
	Hashes []string `json:"hashes"`
}

// ── Result types ────────────────────────────────────────────────────────

// SuccessorsResult answers relay_getSuccessors. Block is the hex wire
// serialization of the first cached successor.
type SuccessorsResult struct {
	Found  bool   `json:"found"`
	Hash   string `json:"hash,omitempty"`
	Height uint32 `json:"height,omitempty"`
	Block  string `json:"block,omitempty"`
}

// ChainInfoResult is returned by chain_getInfo.
type ChainInfoResult struct {
	Network      string `json:"network"`
	GenesisHash  string `json:"genesis_hash"`
	TipHash      string `json:"tip_hash"`
	TipHeight    uint32 `json:"tip_height"`
	TipWork      string `json:"tip_work"` // Decimal cumulative work.
	Headers      int    `json:"headers"`
	CachedBlocks int    `json:"cached_blocks"`
}

// HeaderResult is returned by chain_getHeader.
type HeaderResult struct {
	Hash       string   `json:"hash"`
	Height     uint32   `json:"height"`
	Version    int32    `json:"version"`
	PrevBlock  string   `json:"prev_block"`
	MerkleRoot string   `json:"merkle_root"`
	Timestamp  int64    `json:"timestamp"`
	Bits       string   `json:"bits"` // Compact target, hex.
	Nonce      uint32   `json:"nonce"`
	Work       string   `json:"work"`
	HasBlock   bool     `json:"has_block"`
	Children   []string `json:"children"`
}

// SyncPeerResult is one peer in sync_getStatus.
type SyncPeerResult struct {
	ID              string `json:"id"`
	Height          uint32 `json:"height"`
	Tip             string `json:"tip"`
	Outstanding     int    `json:"outstanding"`
	AwaitingHeaders bool   `json:"awaiting_headers"`
}

// SyncStatusResult is returned by sync_getStatus.
type SyncStatusResult struct {
	Peers          []SyncPeerResult `json:"peers"`
	PendingFetches int              `json:"pending_fetches"`
	FrontierSize   int              `json:"frontier_size"`
}

// PeerInfoResult is one entry of net_getPeerInfo.
type PeerInfoResult struct {
	ID          string `json:"id"`
	Direction   string `json:"direction"`
	Source      string `json:"source"`
	ConnectedAt int64  `json:"connected_at"`
	Ready       bool   `json:"ready"`
	BestHeight  uint32 `json:"best_height"`
	UserAgent   string `json:"user_agent,omitempty"`
}

// BanResult is one entry of net_getBanList.
type BanResult struct {
	ID        string `json:"id"`
	Reason    string `json:"reason"`
	Score     int    `json:"score"`
	BannedAt  int64  `json:"banned_at"`
	ExpiresAt int64  `json:"expires_at"`
}
