package blocksync

import (
	"errors"
	"fmt"
)

// Message handling errors.
var (
	ErrUnknownPeer           = errors.New("message from unknown peer")
	ErrProtocolLimitExceeded = errors.New("protocol limit exceeded")
	ErrReceivedInvalidHeader = errors.New("received invalid header")
	ErrBodyNotAdded          = errors.New("block body not added")

	// ErrInvalidMessage is the single signal ProcessEvent reports for any
	// rejected message.
	ErrInvalidMessage = errors.New("invalid message")
)

// Limit violations; all match ErrProtocolLimitExceeded.
var (
	ErrTooMuchInventory          = fmt.Errorf("%w: too much inventory", ErrProtocolLimitExceeded)
	ErrTooManyHeaders            = fmt.Errorf("%w: too many headers", ErrProtocolLimitExceeded)
	ErrTooManyUnsolicitedHeaders = fmt.Errorf("%w: too many unsolicited headers", ErrProtocolLimitExceeded)
)
