package deploy

import (
	"context"
	"errors"
	"math/big"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient/simulated"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusgallery/chain"
	"campusgallery/network"
	"campusgallery/store"
)

// returns42 deploys a contract whose runtime code returns the word 42.
const returns42 = "0x600a600c600039600a6000f3602a60005260206000f3"

func writeArtifact(t *testing.T, dir string) {
	t.Helper()
	path := filepath.Join(dir, "CampusGallery.sol", "CampusGallery.json")
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(`{
		"contractName": "CampusGallery",
		"abi": [],
		"bytecode": "`+returns42+`"
	}`), 0o644))
}

type fakeDeployer struct {
	calls int
	err   error
}

func (d *fakeDeployer) Deploy(ctx context.Context, artifact *Artifact) (common.Address, common.Hash, error) {
	d.calls++
	if d.err != nil {
		return common.Address{}, common.Hash{}, d.err
	}
	return common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3"), common.HexToHash("0xfeed"), nil
}

func newTestRunner(t *testing.T, n network.Network, deployer Deployer) (*Runner, *store.DeploymentRepository, *network.AddressBook) {
	t.Helper()
	dir := t.TempDir()
	writeArtifact(t, filepath.Join(dir, "artifacts"))

	db, err := store.Open(filepath.Join(dir, "gallery.db"))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	records := store.NewDeploymentRepository(db)

	book, err := network.LoadAddressBook(filepath.Join(dir, "deployments", "addresses.json"))
	require.NoError(t, err)

	return NewRunner(Config{
		Network:   n,
		Records:   records,
		Deployer:  deployer,
		Artifacts: FileArtifacts(filepath.Join(dir, "artifacts")),
		Book:      book,
	}), records, book
}

func TestRunSkipsSecondTime(t *testing.T) {
	ctx := context.Background()
	deployer := &fakeDeployer{}
	runner, records, book := newTestRunner(t, network.LocalNetwork(), deployer)

	first, err := runner.Run(ctx, CampusGallery)
	require.NoError(t, err)
	assert.False(t, first.Skipped)
	assert.Equal(t, 1, deployer.calls)

	second, err := runner.Run(ctx, CampusGallery)
	require.NoError(t, err)
	assert.True(t, second.Skipped)
	assert.Equal(t, first.Address, second.Address)
	assert.Equal(t, 1, deployer.calls)

	rec, err := records.Get(ctx, network.LocalChainID, "deploy_campusgallery")
	require.NoError(t, err)
	require.NotNil(t, rec)
	assert.Equal(t, "CampusGallery", rec.Contract)
	assert.Equal(t, "localhost", rec.Network)

	addr, ok := book.Address(network.LocalChainID)
	require.True(t, ok)
	assert.Equal(t, first.Address, addr)
}

func TestRunWritesAddressBook(t *testing.T) {
	ctx := context.Background()
	runner, _, _ := newTestRunner(t, network.LocalNetwork(), &fakeDeployer{})
	path := filepath.Join(t.TempDir(), "addresses.json")
	book, err := network.LoadAddressBook(path)
	require.NoError(t, err)
	runner.cfg.Book = book

	res, err := runner.Run(ctx, CampusGallery)
	require.NoError(t, err)

	reloaded, err := network.LoadAddressBook(path)
	require.NoError(t, err)
	addr, ok := reloaded.Address(network.LocalChainID)
	require.True(t, ok)
	assert.Equal(t, res.Address, addr)
}

func TestRunIsPerNetwork(t *testing.T) {
	ctx := context.Background()
	deployer := &fakeDeployer{}
	runner, records, _ := newTestRunner(t, network.LocalNetwork(), deployer)

	_, err := runner.Run(ctx, CampusGallery)
	require.NoError(t, err)

	sepolia := NewRunner(Config{
		Network:   network.SepoliaNetwork("https://sepolia.example"),
		Records:   records,
		Deployer:  deployer,
		Artifacts: runner.cfg.Artifacts,
	})
	res, err := sepolia.Run(ctx, CampusGallery)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, 2, deployer.calls)
}

func TestRunDeployFailureRecordsNothing(t *testing.T) {
	ctx := context.Background()
	deployer := &fakeDeployer{err: errors.New("insufficient funds")}
	runner, records, book := newTestRunner(t, network.LocalNetwork(), deployer)

	_, err := runner.Run(ctx, CampusGallery)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient funds")

	rec, err := records.Get(ctx, network.LocalChainID, CampusGallery.ID)
	require.NoError(t, err)
	assert.Nil(t, rec)
	_, ok := book.Address(network.LocalChainID)
	assert.False(t, ok)
}

func TestRunTags(t *testing.T) {
	ctx := context.Background()
	deployer := &fakeDeployer{}
	runner, _, _ := newTestRunner(t, network.LocalNetwork(), deployer)

	results, err := runner.RunTags(ctx, "Unknown")
	require.NoError(t, err)
	assert.Empty(t, results)
	assert.Equal(t, 0, deployer.calls)

	results, err = runner.RunTags(ctx, "CampusGallery")
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Equal(t, "deploy_campusgallery", results[0].Task)

	results, err = runner.RunTags(ctx)
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.True(t, results[0].Skipped)
}

func TestFileArtifacts(t *testing.T) {
	dir := t.TempDir()
	writeArtifact(t, dir)

	a, err := FileArtifacts(dir)("CampusGallery")
	require.NoError(t, err)
	code, err := a.Code()
	require.NoError(t, err)
	assert.Len(t, code, 22)

	file := filepath.Join(dir, "CampusGallery.sol", "CampusGallery.json")
	_, err = FileArtifacts(file)("CampusGallery")
	require.NoError(t, err)
	_, err = FileArtifacts(file)("Other")
	assert.Error(t, err)
	_, err = FileArtifacts(filepath.Join(dir, "missing"))("CampusGallery")
	assert.Error(t, err)
}

func TestChainDeployer(t *testing.T) {
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	deployerAddr := crypto.PubkeyToAddress(key.PublicKey)

	backend := simulated.NewBackend(types.GenesisAlloc{
		deployerAddr: {Balance: new(big.Int).Mul(big.NewInt(1000), big.NewInt(1e18))},
	})
	defer backend.Close()
	client := backend.Client()

	chainID, err := client.ChainID(context.Background())
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	// Mine blocks while the deployer waits for its receipt.
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				backend.Commit()
			}
		}
	}()

	d := ChainDeployer{Backend: client, Signer: chain.NewSignerFromKey(key, chainID.Uint64())}
	a := &Artifact{ContractName: "CampusGallery", ABI: []byte(`[]`), Bytecode: returns42}
	addr, txHash, err := d.Deploy(ctx, a)
	require.NoError(t, err)
	assert.NotEqual(t, common.Hash{}, txHash)

	code, err := client.CodeAt(ctx, addr, nil)
	require.NoError(t, err)
	assert.Equal(t, common.FromHex("0x602a60005260206000f3"), code)
}
