package chain

import (
	"context"
	"math/big"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusgallery/fhe"
)

var (
	galleryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	artistAddr  = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

// fakeBackend answers contract calls from canned artworks. Only the methods
// the bound contract uses are implemented.
type fakeBackend struct {
	Backend

	mu     sync.Mutex
	parsed abi.ABI
	likes  fhe.Handle
	sent   []*types.Transaction
	status uint64
}

func newFakeBackend(t *testing.T) *fakeBackend {
	parsed, err := abi.JSON(strings.NewReader(GalleryABI))
	require.NoError(t, err)
	return &fakeBackend{parsed: parsed, status: types.ReceiptStatusSuccessful}
}

func (f *fakeBackend) CallContract(ctx context.Context, call ethereum.CallMsg, blockNumber *big.Int) ([]byte, error) {
	method, err := f.parsed.MethodById(call.Data[:4])
	if err != nil {
		return nil, err
	}
	args, err := method.Inputs.Unpack(call.Data[4:])
	if err != nil {
		return nil, err
	}

	switch method.Name {
	case "getAllArtworks":
		return method.Outputs.Pack([]*big.Int{big.NewInt(1), big.NewInt(2)})
	case "getArtwork":
		id := args[0].(*big.Int)
		return method.Outputs.Pack(id, artistAddr, "Dusk sketch", "ipfs://QmDesc", "ipfs://QmFile",
			[]string{"campus", "dusk"}, []string{"campus-classic"}, big.NewInt(1700000000))
	case "getLikes":
		return method.Outputs.Pack([32]byte(f.likes))
	case "getVotes":
		return method.Outputs.Pack([32]byte{})
	}
	return nil, nil
}

func (f *fakeBackend) CodeAt(ctx context.Context, contract common.Address, blockNumber *big.Int) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) PendingCodeAt(ctx context.Context, account common.Address) ([]byte, error) {
	return []byte{0x60}, nil
}

func (f *fakeBackend) HeaderByNumber(ctx context.Context, number *big.Int) (*types.Header, error) {
	return &types.Header{Number: big.NewInt(1), BaseFee: big.NewInt(1_000_000_000)}, nil
}

func (f *fakeBackend) SuggestGasTipCap(ctx context.Context) (*big.Int, error) {
	return big.NewInt(1_000_000_000), nil
}

func (f *fakeBackend) SuggestGasPrice(ctx context.Context) (*big.Int, error) {
	return big.NewInt(2_000_000_000), nil
}

func (f *fakeBackend) EstimateGas(ctx context.Context, call ethereum.CallMsg) (uint64, error) {
	return 150_000, nil
}

func (f *fakeBackend) PendingNonceAt(ctx context.Context, account common.Address) (uint64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return uint64(len(f.sent)), nil
}

func (f *fakeBackend) SendTransaction(ctx context.Context, tx *types.Transaction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, tx)
	return nil
}

func (f *fakeBackend) TransactionReceipt(ctx context.Context, txHash common.Hash) (*types.Receipt, error) {
	return &types.Receipt{Status: f.status, TxHash: txHash, BlockNumber: big.NewInt(2), GasUsed: 21000}, nil
}

func TestGalleryABIEvents(t *testing.T) {
	parsed, err := abi.JSON(strings.NewReader(GalleryABI))
	require.NoError(t, err)

	for name, sig := range map[string]string{
		"ArtworkSubmitted": "ArtworkSubmitted(uint256,address,string)",
		"ArtworkLiked":     "ArtworkLiked(uint256,address)",
		"ArtworkVoted":     "ArtworkVoted(uint256,address,string)",
	} {
		ev, ok := parsed.Events[name]
		require.True(t, ok, name)
		assert.Equal(t, sig, ev.Sig)
		assert.Equal(t, crypto.Keccak256Hash([]byte(sig)), ev.ID)
	}
}

func TestClientReads(t *testing.T) {
	backend := newFakeBackend(t)
	backend.likes = common.HexToHash("0xabc")
	client, err := NewClient(galleryAddr, backend, nil, nil)
	require.NoError(t, err)

	ids, err := client.GetAllArtworks(context.Background())
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	art, err := client.GetArtwork(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, uint64(2), art.ID)
	assert.Equal(t, artistAddr, art.Artist)
	assert.Equal(t, "Dusk sketch", art.Title)
	assert.Equal(t, []string{"campus", "dusk"}, art.Tags)
	assert.True(t, art.HasCategory("campus-classic"))
	assert.False(t, art.HasCategory("campus-modern"))
	assert.True(t, art.IsBy(strings.ToLower(artistAddr.Hex())))
	assert.Equal(t, uint64(1700000000), art.Timestamp)

	likes, err := client.GetLikes(context.Background(), 2)
	require.NoError(t, err)
	assert.Equal(t, backend.likes, likes)

	votes, err := client.GetVotes(context.Background(), 2, "campus-classic")
	require.NoError(t, err)
	assert.True(t, fhe.IsZero(votes))
}

func TestClientWritesNeedSigner(t *testing.T) {
	client, err := NewClient(galleryAddr, newFakeBackend(t), nil, nil)
	require.NoError(t, err)
	_, err = client.Like(context.Background(), 1)
	require.Error(t, err)
}

func TestClientTransact(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	signer := NewSignerFromKey(key, 31337)

	backend := newFakeBackend(t)
	client, err := NewClient(galleryAddr, backend, signer, nil)
	require.NoError(t, err)

	tx, err := client.Vote(context.Background(), 1, "campus-modern")
	require.NoError(t, err)
	require.NoError(t, tx.Wait(context.Background()))
	require.Len(t, backend.sent, 1)
	assert.Equal(t, tx.Hash(), backend.sent[0].Hash())
	assert.Equal(t, galleryAddr, *backend.sent[0].To())

	method, err := backend.parsed.MethodById(backend.sent[0].Data()[:4])
	require.NoError(t, err)
	assert.Equal(t, "voteArtwork", method.Name)

	backend.status = types.ReceiptStatusFailed
	tx, err = client.Like(context.Background(), 1)
	require.NoError(t, err)
	assert.Error(t, tx.Wait(context.Background()))
}

func TestNewSigner(t *testing.T) {
	// Hardhat account #0.
	s, err := NewSigner("0xac0974bec39a17e36ba4a6b4d238ff944bacb478cbed5efcae784d7bf4f2ff80", 31337)
	require.NoError(t, err)
	assert.Equal(t, common.HexToAddress("0xf39Fd6e51aad88F6F4ce6aB8827279cffFb92266"), s.Address())
	assert.Equal(t, uint64(31337), s.ChainID())

	_, err = NewSigner("zz", 1)
	assert.Error(t, err)
}

func newMemoryGallery(t *testing.T) *MemoryGallery {
	cop, err := fhe.NewCoprocessor(31337, nil)
	require.NoError(t, err)
	return NewMemoryGallery(galleryAddr, artistAddr, cop)
}

func TestMemoryGallery(t *testing.T) {
	ctx := context.Background()
	g := newMemoryGallery(t)

	_, err := g.SubmitPainting(ctx, Submission{Title: "A", FileHash: "ipfs://a", Categories: []string{"campus-modern"}})
	require.NoError(t, err)
	_, err = g.SubmitPainting(ctx, Submission{Title: "B", FileHash: "ipfs://b", Categories: []string{"campus-classic"}})
	require.NoError(t, err)

	ids, err := g.GetAllArtworks(ctx)
	require.NoError(t, err)
	assert.Equal(t, []uint64{1, 2}, ids)

	h, err := g.GetLikes(ctx, 1)
	require.NoError(t, err)
	assert.True(t, fhe.IsZero(h))

	for i := 0; i < 3; i++ {
		tx, err := g.Like(ctx, 1)
		require.NoError(t, err)
		require.NoError(t, tx.Wait(ctx))
	}
	h, err = g.GetLikes(ctx, 1)
	require.NoError(t, err)
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	sig, err := fhe.NewDecryptionSignature(fhe.NewKeySigner(key), fhe.SignRequest{
		ContractAddresses: []common.Address{galleryAddr},
		ChainID:           31337,
		StartTimestamp:    time.Now().Add(-time.Minute).Unix(),
	})
	require.NoError(t, err)
	res, err := g.cop.UserDecrypt(ctx, []fhe.HandleContractPair{{Handle: h, ContractAddress: galleryAddr}}, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res[h].Int64())

	_, err = g.Vote(ctx, 1, "campus-classic")
	assert.Error(t, err)
	_, err = g.Vote(ctx, 1, "campus-modern")
	require.NoError(t, err)
	h, err = g.GetVotes(ctx, 1, "campus-modern")
	require.NoError(t, err)
	assert.False(t, fhe.IsZero(h))

	_, err = g.Like(ctx, 9)
	assert.Error(t, err)
	_, err = g.GetArtwork(ctx, 0)
	assert.Error(t, err)
}
