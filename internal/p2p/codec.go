package p2p

import (
	"bytes"
	"fmt"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// maxWireMessageSize bounds one framed message: header plus the largest payload
// the wire package accepts.
const maxWireMessageSize = wire.MessageHeaderSize + wire.MaxMessagePayload

// encodeMessage frames msg with the magic of net.
func encodeMessage(msg wire.Message, net wire.BitcoinNet) ([]byte, error) {
	var buf bytes.Buffer
	if err := wire.WriteMessage(&buf, msg, wire.ProtocolVersion, net); err != nil {
		return nil, fmt.Errorf("encode %s: %w", msg.Command(), err)
	}
	return buf.Bytes(), nil
}

// decodeMessage reads exactly one framed message from r.
func decodeMessage(r io.Reader, net wire.BitcoinNet) (wire.Message, error) {
	msg, _, err := wire.ReadMessage(io.LimitReader(r, maxWireMessageSize), wire.ProtocolVersion, net)
	if err != nil {
		return nil, fmt.Errorf("decode wire message: %w", err)
	}
	return msg, nil
}
