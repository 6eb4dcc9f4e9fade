package chain

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"math/big"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"

	"campusgallery/fhe"
)

// Backend is what the contract client needs from a node connection;
// *ethclient.Client satisfies it.
type Backend interface {
	bind.ContractBackend
	bind.DeployBackend
}

// Signer holds the account key that sends transactions and signs
// decryption requests.
type Signer struct {
	*fhe.KeySigner
	key     *ecdsa.PrivateKey
	chainID *big.Int
}

// NewSigner parses a hex private key (with or without 0x) for chainID.
func NewSigner(hexKey string, chainID uint64) (*Signer, error) {
	key, err := crypto.HexToECDSA(strings.TrimPrefix(hexKey, "0x"))
	if err != nil {
		return nil, fmt.Errorf("invalid private key: %w", err)
	}
	return NewSignerFromKey(key, chainID), nil
}

func NewSignerFromKey(key *ecdsa.PrivateKey, chainID uint64) *Signer {
	return &Signer{
		KeySigner: fhe.NewKeySigner(key),
		key:       key,
		chainID:   new(big.Int).SetUint64(chainID),
	}
}

// ChainID is the chain the signer's transactions are bound to.
func (s *Signer) ChainID() uint64 {
	return s.chainID.Uint64()
}

// TransactOpts returns options for one transaction sent under ctx.
func (s *Signer) TransactOpts(ctx context.Context) (*bind.TransactOpts, error) {
	opts, err := bind.NewKeyedTransactorWithChainID(s.key, s.chainID)
	if err != nil {
		return nil, fmt.Errorf("failed to create transactor: %w", err)
	}
	opts.Context = ctx
	return opts, nil
}

// Client is the go-ethereum binding of the CampusGallery contract.
type Client struct {
	address  common.Address
	contract *bind.BoundContract
	backend  Backend
	signer   *Signer
	logger   *slog.Logger
}

// NewClient binds the contract at address. signer may be nil for a
// read-only client.
func NewClient(address common.Address, backend Backend, signer *Signer, logger *slog.Logger) (*Client, error) {
	parsed, err := abi.JSON(strings.NewReader(GalleryABI))
	if err != nil {
		return nil, fmt.Errorf("failed to parse gallery ABI: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Client{
		address:  address,
		contract: bind.NewBoundContract(address, parsed, backend, backend, backend),
		backend:  backend,
		signer:   signer,
		logger:   logger,
	}, nil
}

func (c *Client) Address() common.Address {
	return c.address
}

func (c *Client) call(ctx context.Context, method string, params ...interface{}) ([]interface{}, error) {
	startTime := time.Now()
	var out []interface{}
	err := c.contract.Call(&bind.CallOpts{Context: ctx}, &out, method, params...)
	c.logger.Debug("contract call", "method", method, "duration", time.Since(startTime))
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	return out, nil
}

func (c *Client) GetAllArtworks(ctx context.Context) ([]uint64, error) {
	out, err := c.call(ctx, "getAllArtworks")
	if err != nil {
		return nil, err
	}
	raw, ok := out[0].([]*big.Int)
	if !ok {
		return nil, fmt.Errorf("getAllArtworks: unexpected result type %T", out[0])
	}
	ids := make([]uint64, len(raw))
	for i, id := range raw {
		ids[i] = id.Uint64()
	}
	return ids, nil
}

func (c *Client) GetArtwork(ctx context.Context, id uint64) (Artwork, error) {
	out, err := c.call(ctx, "getArtwork", new(big.Int).SetUint64(id))
	if err != nil {
		return Artwork{}, err
	}
	if len(out) != 8 {
		return Artwork{}, fmt.Errorf("getArtwork: expected 8 fields, got %d", len(out))
	}
	return Artwork{
		ID:              out[0].(*big.Int).Uint64(),
		Artist:          out[1].(common.Address),
		Title:           out[2].(string),
		DescriptionHash: out[3].(string),
		FileHash:        out[4].(string),
		Tags:            out[5].([]string),
		Categories:      out[6].([]string),
		Timestamp:       out[7].(*big.Int).Uint64(),
	}, nil
}

func (c *Client) GetLikes(ctx context.Context, id uint64) (fhe.Handle, error) {
	out, err := c.call(ctx, "getLikes", new(big.Int).SetUint64(id))
	if err != nil {
		return fhe.Handle{}, err
	}
	return toHandle("getLikes", out[0])
}

func (c *Client) GetVotes(ctx context.Context, id uint64, category string) (fhe.Handle, error) {
	out, err := c.call(ctx, "getVotes", new(big.Int).SetUint64(id), category)
	if err != nil {
		return fhe.Handle{}, err
	}
	return toHandle("getVotes", out[0])
}

func toHandle(method string, v interface{}) (fhe.Handle, error) {
	raw, ok := v.([32]byte)
	if !ok {
		return fhe.Handle{}, fmt.Errorf("%s: unexpected result type %T", method, v)
	}
	return fhe.Handle(raw), nil
}

func (c *Client) transact(ctx context.Context, method string, params ...interface{}) (Tx, error) {
	if c.signer == nil {
		return nil, fmt.Errorf("%s: no signer configured", method)
	}
	opts, err := c.signer.TransactOpts(ctx)
	if err != nil {
		return nil, err
	}
	tx, err := c.contract.Transact(opts, method, params...)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", method, err)
	}
	c.logger.Info("transaction sent", "method", method, "tx", tx.Hash().Hex(), "from", c.signer.Address().Hex())
	return &sentTx{tx: tx, backend: c.backend, method: method, logger: c.logger}, nil
}

func (c *Client) SubmitPainting(ctx context.Context, s Submission) (Tx, error) {
	return c.transact(ctx, "submitPainting", s.Title, s.DescriptionHash, s.FileHash, nonNil(s.Tags), nonNil(s.Categories))
}

func (c *Client) Like(ctx context.Context, id uint64) (Tx, error) {
	return c.transact(ctx, "likeArtwork", new(big.Int).SetUint64(id))
}

func (c *Client) Vote(ctx context.Context, id uint64, category string) (Tx, error) {
	return c.transact(ctx, "voteArtwork", new(big.Int).SetUint64(id), category)
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}

type sentTx struct {
	tx      *types.Transaction
	backend bind.DeployBackend
	method  string
	logger  *slog.Logger
}

func (t *sentTx) Hash() common.Hash {
	return t.tx.Hash()
}

func (t *sentTx) Wait(ctx context.Context) error {
	startTime := time.Now()
	receipt, err := bind.WaitMined(ctx, t.backend, t.tx)
	if err != nil {
		return fmt.Errorf("%s: waiting for %s: %w", t.method, t.tx.Hash().Hex(), err)
	}
	t.logger.Info("transaction mined", "method", t.method, "tx", t.tx.Hash().Hex(),
		"block", receipt.BlockNumber, "gasUsed", receipt.GasUsed, "duration", time.Since(startTime))
	if receipt.Status != types.ReceiptStatusSuccessful {
		return fmt.Errorf("%s: transaction %s reverted", t.method, t.tx.Hash().Hex())
	}
	return nil
}
