package fhe

import (
	"context"
	"encoding/binary"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/tuneinsight/lattigo/v6/core/rlwe"
	"github.com/tuneinsight/lattigo/v6/schemes/bgv"
)

// coprocessorParams is a small BGV parameter set: one counter per
// ciphertext in slot 0, additions only.
var coprocessorParams = bgv.ParametersLiteral{
	LogN:             12,
	LogQ:             []int{54},
	LogP:             []int{54},
	PlaintextModulus: 0x10001,
}

// Coprocessor keeps encrypted counters for development chains. Every write
// produces a new handle, the old one stays readable.
type Coprocessor struct {
	mu        sync.Mutex
	params    bgv.Parameters
	encoder   *bgv.Encoder
	encryptor *rlwe.Encryptor
	decryptor *rlwe.Decryptor
	evaluator *bgv.Evaluator

	chainID    uint64
	seq        uint64
	ciphertext map[Handle]*rlwe.Ciphertext
	owner      map[Handle]common.Address

	logger *slog.Logger
	now    func() time.Time
}

// NewCoprocessor generates a fresh BGV key pair for chainID.
func NewCoprocessor(chainID uint64, logger *slog.Logger) (*Coprocessor, error) {
	if logger == nil {
		logger = slog.Default()
	}

	params, err := bgv.NewParametersFromLiteral(coprocessorParams)
	if err != nil {
		return nil, fmt.Errorf("failed to build BGV parameters: %w", err)
	}

	kgen := rlwe.NewKeyGenerator(params)
	sk, pk := kgen.GenKeyPairNew()

	logger.Info("coprocessor keys generated", "logN", params.LogN(), "slots", params.MaxSlots(), "t", params.PlaintextModulus())

	return &Coprocessor{
		params:     params,
		encoder:    bgv.NewEncoder(params),
		encryptor:  rlwe.NewEncryptor(params, pk),
		decryptor:  rlwe.NewDecryptor(params, sk),
		evaluator:  bgv.NewEvaluator(params, nil),
		chainID:    chainID,
		ciphertext: make(map[Handle]*rlwe.Ciphertext),
		owner:      make(map[Handle]common.Address),
		logger:     logger,
		now:        time.Now,
	}, nil
}

// Add stores h+delta under a new handle. The zero handle is treated as an
// encryption of 0.
func (c *Coprocessor) Add(contract common.Address, h Handle, delta uint64) (Handle, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	inc, err := c.encrypt(delta)
	if err != nil {
		return Handle{}, err
	}
	if IsZero(h) {
		return c.store(contract, inc), nil
	}

	ct, ok := c.ciphertext[h]
	if !ok {
		return Handle{}, fmt.Errorf("unknown handle %s", h.Hex())
	}
	sum, err := c.evaluator.AddNew(ct, inc)
	if err != nil {
		return Handle{}, fmt.Errorf("homomorphic add failed: %w", err)
	}
	return c.store(contract, sum), nil
}

// Increment adds one to the counter behind h.
func (c *Coprocessor) Increment(contract common.Address, h Handle) (Handle, error) {
	return c.Add(contract, h, 1)
}

// UserDecrypt checks sig against the request and decrypts every pair.
func (c *Coprocessor) UserDecrypt(ctx context.Context, pairs []HandleContractPair, sig *DecryptionSignature) (Results, error) {
	if sig == nil {
		return nil, fmt.Errorf("missing decryption signature")
	}
	if err := sig.Verify(); err != nil {
		return nil, fmt.Errorf("invalid decryption signature: %w", err)
	}
	if sig.ChainID != c.chainID {
		return nil, fmt.Errorf("signature for chain %d, coprocessor serves %d", sig.ChainID, c.chainID)
	}
	if !sig.ValidAt(c.now()) {
		return nil, fmt.Errorf("decryption signature expired at %s", sig.Expiry().Format(time.RFC3339))
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	results := make(Results, len(pairs))
	for _, p := range pairs {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		if !sig.Covers(p.ContractAddress) {
			return nil, fmt.Errorf("contract %s not covered by signature", p.ContractAddress.Hex())
		}
		if owner, ok := c.owner[p.Handle]; ok && owner != p.ContractAddress {
			return nil, fmt.Errorf("handle %s is not exposed by %s", p.Handle.Hex(), p.ContractAddress.Hex())
		}
		v, err := c.decrypt(p.Handle)
		if err != nil {
			return nil, err
		}
		results[p.Handle] = new(big.Int).SetUint64(v)
	}

	c.logger.Info("user decrypt served", "user", sig.UserAddress.Hex(), "handles", len(pairs))
	return results, nil
}

func (c *Coprocessor) encrypt(value uint64) (*rlwe.Ciphertext, error) {
	pt := bgv.NewPlaintext(c.params, c.params.MaxLevel())
	if err := c.encoder.Encode([]uint64{value}, pt); err != nil {
		return nil, fmt.Errorf("failed to encode value: %w", err)
	}
	ct, err := c.encryptor.EncryptNew(pt)
	if err != nil {
		return nil, fmt.Errorf("failed to encrypt value: %w", err)
	}
	return ct, nil
}

func (c *Coprocessor) decrypt(h Handle) (uint64, error) {
	ct, ok := c.ciphertext[h]
	if !ok {
		return 0, fmt.Errorf("unknown handle %s", h.Hex())
	}
	pt := c.decryptor.DecryptNew(ct)
	values := make([]uint64, c.params.MaxSlots())
	if err := c.encoder.Decode(pt, values); err != nil {
		return 0, fmt.Errorf("failed to decode plaintext: %w", err)
	}
	return values[0], nil
}

// store must be called with c.mu held.
func (c *Coprocessor) store(contract common.Address, ct *rlwe.Ciphertext) Handle {
	c.seq++
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], c.chainID)
	binary.BigEndian.PutUint64(buf[8:], c.seq)
	h := common.BytesToHash(crypto.Keccak256(contract.Bytes(), buf[:]))

	c.ciphertext[h] = ct
	c.owner[h] = contract
	return h
}
