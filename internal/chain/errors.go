package chain

import (
	"errors"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// Chain store errors.
var (
	ErrInvalidHeader = errors.New("invalid block header")
	ErrPrevNotCached = errors.New("previous header not cached")
	ErrInvalidBlock  = errors.New("invalid block")
)

// HeaderError ties a store error to the header that caused it. For block
// failures Hash is the block's header hash.
type HeaderError struct {
	Hash chainhash.Hash
	Err  error
}

func (e *HeaderError) Error() string {
	return fmt.Sprintf("%v: %s", e.Err, e.Hash)
}

func (e *HeaderError) Unwrap() error { return e.Err }

func headerErr(hash chainhash.Hash, err error) error {
	return &HeaderError{Hash: hash, Err: err}
}
