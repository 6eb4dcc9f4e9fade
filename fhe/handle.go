// Package fhe holds the client side of encrypted counters: ciphertext
// handles, user decryption authorizations and the decryptors that resolve
// handles to plaintext values.
package fhe

import (
	"fmt"
	"math/big"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
)

// Handle is an opaque reference to an encrypted on-chain value.
type Handle = common.Hash

// ZeroHandle denotes a counter that was never written. It must never be
// submitted for decryption.
var ZeroHandle = Handle{}

// IsZero reports whether h is the "no data yet" sentinel.
func IsZero(h Handle) bool {
	return h == ZeroHandle
}

// ParseHandle decodes a 0x-prefixed 32-byte hex string.
func ParseHandle(s string) (Handle, error) {
	b, err := hexutil.Decode(s)
	if err != nil {
		return Handle{}, fmt.Errorf("invalid handle %q: %w", s, err)
	}
	if len(b) != common.HashLength {
		return Handle{}, fmt.Errorf("invalid handle %q: want %d bytes, got %d", s, common.HashLength, len(b))
	}
	return common.BytesToHash(b), nil
}

// HandleContractPair names a handle together with the contract allowed to
// expose it.
type HandleContractPair struct {
	Handle          Handle         `json:"handle"`
	ContractAddress common.Address `json:"contractAddress"`
}

// NonZero drops pairs whose handle is the zero sentinel.
func NonZero(pairs []HandleContractPair) []HandleContractPair {
	out := make([]HandleContractPair, 0, len(pairs))
	for _, p := range pairs {
		if !IsZero(p.Handle) {
			out = append(out, p)
		}
	}
	return out
}

// Results maps decrypted handles to their plaintext values.
type Results map[Handle]*big.Int

// Value returns the plaintext for h. Zero handles read as 0.
func (r Results) Value(h Handle) (*big.Int, bool) {
	if IsZero(h) {
		return new(big.Int), true
	}
	v, ok := r[h]
	return v, ok
}
