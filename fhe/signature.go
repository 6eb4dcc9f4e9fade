package fhe

import (
	"bytes"
	"context"
	"crypto/ecdsa"
	"fmt"
	"math/big"
	"sort"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/common/math"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/signer/core/apitypes"

	gerrors "campusgallery/errors"
)

// DefaultDurationDays is the validity window requested for new signatures.
const DefaultDurationDays = 365

// Signer signs 32-byte digests on behalf of the connected account.
type Signer interface {
	Address() common.Address
	SignHash(hash []byte) ([]byte, error)
}

// Keypair is the transport keypair the decryption service encrypts results to.
type Keypair struct {
	PublicKey  hexutil.Bytes `json:"publicKey"`
	PrivateKey hexutil.Bytes `json:"privateKey"`
}

// GenerateKeypair creates a fresh secp256k1 transport keypair.
func GenerateKeypair() (Keypair, error) {
	key, err := crypto.GenerateKey()
	if err != nil {
		return Keypair{}, fmt.Errorf("failed to generate keypair: %w", err)
	}
	return Keypair{
		PublicKey:  crypto.FromECDSAPub(&key.PublicKey),
		PrivateKey: crypto.FromECDSA(key),
	}, nil
}

// DecryptionSignature authorizes a user to decrypt handles exposed by a set
// of contracts during a validity window.
type DecryptionSignature struct {
	Keypair
	Signature         hexutil.Bytes    `json:"signature"`
	ContractAddresses []common.Address `json:"contractAddresses"`
	UserAddress       common.Address   `json:"userAddress"`
	StartTimestamp    int64            `json:"startTimestamp"`
	DurationDays      int64            `json:"durationDays"`
	ChainID           uint64           `json:"chainId"`
	VerifyingContract common.Address   `json:"verifyingContract"`
}

// Expiry is the end of the validity window.
func (s *DecryptionSignature) Expiry() time.Time {
	return time.Unix(s.StartTimestamp, 0).Add(time.Duration(s.DurationDays) * 24 * time.Hour)
}

// ValidAt reports whether t falls inside the validity window.
func (s *DecryptionSignature) ValidAt(t time.Time) bool {
	return !t.Before(time.Unix(s.StartTimestamp, 0)) && t.Before(s.Expiry())
}

// Covers reports whether contract is one of the signed contracts.
func (s *DecryptionSignature) Covers(contract common.Address) bool {
	for _, c := range s.ContractAddresses {
		if c == contract {
			return true
		}
	}
	return false
}

// SignRequest describes the authorization to produce.
type SignRequest struct {
	ContractAddresses []common.Address
	ChainID           uint64
	VerifyingContract common.Address
	StartTimestamp    int64
	DurationDays      int64
}

// NewDecryptionSignature generates a keypair and signs the EIP-712
// UserDecryptRequestVerification message with signer.
func NewDecryptionSignature(signer Signer, req SignRequest) (*DecryptionSignature, error) {
	if len(req.ContractAddresses) == 0 {
		return nil, gerrors.Wrapf("sign decryption request", gerrors.ErrDecryptFailed, "no contract addresses")
	}
	if req.DurationDays <= 0 {
		req.DurationDays = DefaultDurationDays
	}

	kp, err := GenerateKeypair()
	if err != nil {
		return nil, gerrors.WrapError("sign decryption request", gerrors.ErrDecryptFailed, err)
	}

	sig := &DecryptionSignature{
		Keypair:           kp,
		ContractAddresses: sortedAddresses(req.ContractAddresses),
		UserAddress:       signer.Address(),
		StartTimestamp:    req.StartTimestamp,
		DurationDays:      req.DurationDays,
		ChainID:           req.ChainID,
		VerifyingContract: req.VerifyingContract,
	}

	hash, err := sig.hash()
	if err != nil {
		return nil, gerrors.WrapError("sign decryption request", gerrors.ErrDecryptFailed, err)
	}
	raw, err := signer.SignHash(hash)
	if err != nil {
		return nil, gerrors.WrapError("sign decryption request", gerrors.ErrDecryptFailed, err)
	}
	sig.Signature = raw
	return sig, nil
}

// Verify checks that the signature was produced by UserAddress.
func (s *DecryptionSignature) Verify() error {
	if len(s.Signature) != crypto.SignatureLength {
		return fmt.Errorf("signature has %d bytes", len(s.Signature))
	}
	hash, err := s.hash()
	if err != nil {
		return err
	}
	sig := make([]byte, crypto.SignatureLength)
	copy(sig, s.Signature)
	if sig[crypto.RecoveryIDOffset] >= 27 {
		sig[crypto.RecoveryIDOffset] -= 27
	}
	pub, err := crypto.SigToPub(hash, sig)
	if err != nil {
		return fmt.Errorf("failed to recover signer: %w", err)
	}
	if got := crypto.PubkeyToAddress(*pub); got != s.UserAddress {
		return fmt.Errorf("signature from %s, expected %s", got.Hex(), s.UserAddress.Hex())
	}
	return nil
}

func (s *DecryptionSignature) hash() ([]byte, error) {
	hash, _, err := apitypes.TypedDataAndHash(s.typedData())
	if err != nil {
		return nil, fmt.Errorf("failed to hash typed data: %w", err)
	}
	return hash, nil
}

func (s *DecryptionSignature) typedData() apitypes.TypedData {
	contracts := make([]interface{}, len(s.ContractAddresses))
	for i, c := range s.ContractAddresses {
		contracts[i] = c.Hex()
	}

	return apitypes.TypedData{
		Types: apitypes.Types{
			"EIP712Domain": {
				{Name: "name", Type: "string"},
				{Name: "version", Type: "string"},
				{Name: "chainId", Type: "uint256"},
				{Name: "verifyingContract", Type: "address"},
			},
			"UserDecryptRequestVerification": {
				{Name: "publicKey", Type: "bytes"},
				{Name: "contractAddresses", Type: "address[]"},
				{Name: "startTimestamp", Type: "uint256"},
				{Name: "durationDays", Type: "uint256"},
				{Name: "extraData", Type: "bytes"},
			},
		},
		PrimaryType: "UserDecryptRequestVerification",
		Domain: apitypes.TypedDataDomain{
			Name:              "Decryption",
			Version:           "1",
			ChainId:           (*math.HexOrDecimal256)(new(big.Int).SetUint64(s.ChainID)),
			VerifyingContract: s.VerifyingContract.Hex(),
		},
		Message: apitypes.TypedDataMessage{
			"publicKey":         []byte(s.PublicKey),
			"contractAddresses": contracts,
			"startTimestamp":    math.NewHexOrDecimal256(s.StartTimestamp),
			"durationDays":      math.NewHexOrDecimal256(s.DurationDays),
			"extraData":         []byte{},
		},
	}
}

func sortedAddresses(addrs []common.Address) []common.Address {
	out := make([]common.Address, len(addrs))
	copy(out, addrs)
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// SignatureStore persists signatures between runs.
type SignatureStore interface {
	LoadSignature(ctx context.Context, user common.Address, chainID uint64, contracts []common.Address) (*DecryptionSignature, error)
	SaveSignature(ctx context.Context, sig *DecryptionSignature) error
}

// Authorizer hands out decryption signatures, reusing an unexpired one for
// the same user and contract set.
type Authorizer struct {
	mu                sync.Mutex
	chainID           uint64
	verifyingContract common.Address
	durationDays      int64
	store             SignatureStore
	cache             map[string]*DecryptionSignature
	now               func() time.Time
}

func NewAuthorizer(chainID uint64, verifyingContract common.Address, store SignatureStore) *Authorizer {
	return &Authorizer{
		chainID:           chainID,
		verifyingContract: verifyingContract,
		durationDays:      DefaultDurationDays,
		store:             store,
		cache:             make(map[string]*DecryptionSignature),
		now:               time.Now,
	}
}

// Authorize returns a signature covering contracts for signer's account.
func (a *Authorizer) Authorize(ctx context.Context, signer Signer, contracts []common.Address) (*DecryptionSignature, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	contracts = sortedAddresses(contracts)
	key := cacheKey(signer.Address(), a.chainID, contracts)
	now := a.now()

	if sig, ok := a.cache[key]; ok && sig.ValidAt(now) {
		return sig, nil
	}
	if a.store != nil {
		sig, err := a.store.LoadSignature(ctx, signer.Address(), a.chainID, contracts)
		if err == nil && sig != nil && sig.ValidAt(now) {
			a.cache[key] = sig
			return sig, nil
		}
	}

	sig, err := NewDecryptionSignature(signer, SignRequest{
		ContractAddresses: contracts,
		ChainID:           a.chainID,
		VerifyingContract: a.verifyingContract,
		StartTimestamp:    now.Unix(),
		DurationDays:      a.durationDays,
	})
	if err != nil {
		return nil, err
	}
	a.cache[key] = sig
	if a.store != nil {
		if err := a.store.SaveSignature(ctx, sig); err != nil {
			return nil, gerrors.WrapError("store decryption signature", gerrors.ErrDecryptFailed, err)
		}
	}
	return sig, nil
}

func cacheKey(user common.Address, chainID uint64, contracts []common.Address) string {
	var b bytes.Buffer
	fmt.Fprintf(&b, "%d:%s", chainID, user.Hex())
	for _, c := range contracts {
		b.WriteString(":")
		b.WriteString(c.Hex())
	}
	return b.String()
}

// KeySigner signs with an in-process private key.
type KeySigner struct {
	key *ecdsa.PrivateKey
}

func NewKeySigner(key *ecdsa.PrivateKey) *KeySigner {
	return &KeySigner{key: key}
}

func (s *KeySigner) Address() common.Address {
	return crypto.PubkeyToAddress(s.key.PublicKey)
}

// SignHash returns a 65-byte signature with the recovery id in wallet form (27/28).
func (s *KeySigner) SignHash(hash []byte) ([]byte, error) {
	sig, err := crypto.Sign(hash, s.key)
	if err != nil {
		return nil, err
	}
	sig[crypto.RecoveryIDOffset] += 27
	return sig, nil
}
