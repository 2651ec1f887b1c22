package rpc

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/rs/zerolog"

	"github.com/Klingon-tech/btcrelay/config"
)

// FuzzRPCRequest feeds arbitrary bodies through the request handler. Every
// body must produce a well-formed JSON-RPC response without panicking.
func FuzzRPCRequest(f *testing.F) {
	f.Add([]byte(`{"jsonrpc":"2.0","method":"chain_getInfo","params":null,"id":1}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"chain_getHeader","params":{"hash":"abc"},"id":"test"}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"relay_getSuccessors","params":{"hashes":["0f9188f13cb7b2c71f2a335e3a4fc328bf5beb436012afca590b1a11466e2206"]},"id":2}`))
	f.Add([]byte(`{}`))
	f.Add([]byte(`null`))
	f.Add([]byte(`{"method":"","params":[]}`))
	f.Add([]byte(`{"jsonrpc":"2.0","method":"relay_getSuccessors","params":[1,2,3],"id":999}`))

	b := newFakeBackend()
	s := New(config.RPCConfig{}, b, WithLogger(zerolog.Nop()))

	f.Fuzz(func(t *testing.T, data []byte) {
		req := httptest.NewRequest(http.MethodPost, "/", bytes.NewReader(data))
		rec := httptest.NewRecorder()
		s.server.Handler.ServeHTTP(rec, req)

		var resp Response
		if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
			t.Fatalf("response is not JSON: %q", rec.Body.String())
		}
		if resp.JSONRPC != "2.0" {
			t.Fatalf("jsonrpc = %q", resp.JSONRPC)
		}
		if resp.Error == nil && resp.Result == nil {
			t.Fatalf("response has neither result nor error: %q", rec.Body.String())
		}
	})
}
