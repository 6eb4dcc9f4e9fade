package network

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "campusgallery/errors"
)

func TestNetworkPresets(t *testing.T) {
	tests := []struct {
		name        string
		network     Network
		expectValid bool
	}{
		{name: "hardhat", network: HardhatNetwork(), expectValid: true},
		{name: "localhost", network: LocalNetwork(), expectValid: true},
		{name: "sepolia", network: SepoliaNetwork("https://sepolia.example.org/v3/key"), expectValid: true},
		{name: "sepolia without rpc", network: SepoliaNetwork(""), expectValid: false},
		{name: "bad rpc", network: Network{Name: "x", ChainID: 1, RPCURL: "not a url"}, expectValid: false},
		{name: "missing chain id", network: Network{Name: "x", RPCURL: LocalRPCURL}, expectValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.network.Validate()
			if tt.expectValid {
				require.NoError(t, err)
			} else {
				require.Error(t, err)
				require.True(t, gerrors.IsConfigurationError(err))
			}
		})
	}
}

func TestHexChainID(t *testing.T) {
	assert.Equal(t, "0xaa36a7", SepoliaNetwork("").HexChainID())
	assert.Equal(t, "0x7a69", LocalNetwork().HexChainID())
}

func TestRegistry(t *testing.T) {
	r := NewRegistry("")
	assert.True(t, r.IsSupported(LocalChainID))
	assert.False(t, r.IsSupported(SepoliaChainID))
	_, err := r.ByName("sepolia")
	require.ErrorIs(t, err, gerrors.ErrUnsupportedNetwork)

	r = NewRegistry("https://sepolia.example.org")
	n, ok := r.ByChainID(SepoliaChainID)
	require.True(t, ok)
	assert.Equal(t, "sepolia", n.Name)
	assert.Len(t, r.Networks(), 3)
	assert.False(t, r.IsSupported(1))
}

func TestAddressBook(t *testing.T) {
	path := filepath.Join(t.TempDir(), "deployments", "CampusGalleryAddresses.json")

	book, err := LoadAddressBook(path)
	require.NoError(t, err)
	_, ok := book.Address(LocalChainID)
	require.False(t, ok)

	addr := common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	book.Set(LocalChainID, "hardhat", addr)
	require.NoError(t, book.Save())

	reloaded, err := LoadAddressBook(path)
	require.NoError(t, err)
	got, ok := reloaded.Address(LocalChainID)
	require.True(t, ok)
	assert.Equal(t, addr, got)

	_, ok = reloaded.Address(SepoliaChainID)
	assert.False(t, ok)
}

type rpcErr struct {
	code int
}

func (e rpcErr) Error() string  { return "wallet error" }
func (e rpcErr) ErrorCode() int { return e.code }

type fakeWallet struct {
	mu      sync.Mutex
	known   map[string]bool
	current string
	calls   []string
	addErr  error
}

func (w *fakeWallet) CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.calls = append(w.calls, method)

	switch method {
	case "wallet_switchEthereumChain":
		p := args[0].(switchChainParams)
		if !w.known[p.ChainID] {
			return rpcErr{code: UnrecognizedChainCode}
		}
		w.current = p.ChainID
	case "wallet_addEthereumChain":
		if w.addErr != nil {
			return w.addErr
		}
		p := args[0].(addChainParams)
		w.known[p.ChainID] = true
	case "eth_chainId":
		raw, _ := json.Marshal(w.current)
		return json.Unmarshal(raw, result)
	}
	return nil
}

func TestSwitcherAddsUnknownChain(t *testing.T) {
	wallet := &fakeWallet{known: map[string]bool{"0x7a69": true}, current: "0x7a69"}
	s := NewSwitcher(wallet, nil)

	chainID, err := s.SwitchTo(context.Background(), SepoliaNetwork("https://sepolia.example.org"))
	require.NoError(t, err)
	assert.Equal(t, SepoliaChainID, chainID)
	assert.Equal(t, []string{
		"wallet_switchEthereumChain",
		"wallet_addEthereumChain",
		"wallet_switchEthereumChain",
		"eth_chainId",
	}, wallet.calls)
}

func TestSwitcherKnownChain(t *testing.T) {
	wallet := &fakeWallet{known: map[string]bool{"0x7a69": true, "0xaa36a7": true}, current: "0xaa36a7"}
	s := NewSwitcher(wallet, nil)

	chainID, err := s.SwitchTo(context.Background(), LocalNetwork())
	require.NoError(t, err)
	assert.Equal(t, LocalChainID, chainID)
	assert.Equal(t, []string{"wallet_switchEthereumChain", "eth_chainId"}, wallet.calls)
}

func TestSwitcherAddRejected(t *testing.T) {
	wallet := &fakeWallet{known: map[string]bool{}, addErr: rpcErr{code: 4001}}
	s := NewSwitcher(wallet, nil)

	_, err := s.SwitchTo(context.Background(), SepoliaNetwork("https://sepolia.example.org"))
	require.ErrorIs(t, err, gerrors.ErrWrongNetwork)
	assert.True(t, gerrors.IsUserRejection(err))
}

func TestAutoSwitchOnlyOnce(t *testing.T) {
	wallet := &fakeWallet{known: map[string]bool{}, addErr: rpcErr{code: 4001}}
	auto := NewAutoSwitch(NewSwitcher(wallet, nil), SepoliaNetwork("https://sepolia.example.org"))

	_, tried, err := auto.Check(context.Background(), LocalChainID)
	assert.True(t, tried)
	assert.Error(t, err)

	_, tried, err = auto.Check(context.Background(), LocalChainID)
	assert.False(t, tried)
	assert.NoError(t, err)
}

type countingSource struct {
	readyAfter int32
	calls      atomic.Int32
}

func (s *countingSource) Available(ctx context.Context) bool {
	return s.calls.Add(1) > s.readyAfter
}

type notifyingSource struct {
	ready chan struct{}
}

func (s *notifyingSource) Available(ctx context.Context) bool { return false }

func (s *notifyingSource) Subscribe(ctx context.Context) (<-chan struct{}, error) {
	return s.ready, nil
}

func TestWatcherPollsUntilAvailable(t *testing.T) {
	src := &countingSource{readyAfter: 3}
	w := NewWatcher(src, time.Second, nil)

	require.NoError(t, w.Wait(context.Background()))
	assert.Equal(t, int32(4), src.calls.Load())
}

func TestWatcherGivesUp(t *testing.T) {
	src := &countingSource{readyAfter: 1 << 30}
	w := NewWatcher(src, 350*time.Millisecond, nil)

	start := time.Now()
	err := w.Wait(context.Background())
	require.ErrorIs(t, err, gerrors.ErrProviderAbsent)
	assert.GreaterOrEqual(t, time.Since(start), 350*time.Millisecond)
	assert.Less(t, src.calls.Load(), int32(10))
}

func TestWatcherUsesSubscription(t *testing.T) {
	src := &notifyingSource{ready: make(chan struct{})}
	w := NewWatcher(src, 50*time.Millisecond, nil)

	go func() {
		time.Sleep(150 * time.Millisecond)
		close(src.ready)
	}()
	require.NoError(t, w.Wait(context.Background()))
}

func TestCheckNode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
		}
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		w.Header().Set("Content-Type", "application/json")
		if req.Method != "web3_clientVersion" {
			json.NewEncoder(w).Encode(map[string]interface{}{
				"jsonrpc": "2.0", "id": req.ID,
				"error": map[string]interface{}{"code": -32601, "message": "method not found"},
			})
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{
			"jsonrpc": "2.0", "id": req.ID, "result": "HardhatNetwork/2.22.0",
		})
	}))
	defer srv.Close()

	version, err := CheckNode(context.Background(), srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "HardhatNetwork/2.22.0", version)

	assert.True(t, RPCProvider{URL: srv.URL}.Available(context.Background()))
}

func TestCheckNodeDown(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := CheckNode(context.Background(), url)
	require.Error(t, err)
}
