package network

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/rpc"

	gerrors "campusgallery/errors"
)

// UnrecognizedChainCode is returned by wallets asked to switch to a chain
// they have not been told about.
const UnrecognizedChainCode = 4902

// Caller is the JSON-RPC surface of a wallet provider; *rpc.Client satisfies it.
type Caller interface {
	CallContext(ctx context.Context, result interface{}, method string, args ...interface{}) error
}

type switchChainParams struct {
	ChainID string `json:"chainId"`
}

type addChainParams struct {
	ChainID           string   `json:"chainId"`
	ChainName         string   `json:"chainName"`
	NativeCurrency    Currency `json:"nativeCurrency"`
	RPCURLs           []string `json:"rpcUrls"`
	BlockExplorerURLs []string `json:"blockExplorerUrls,omitempty"`
}

// Switcher asks a wallet provider to change its selected chain.
type Switcher struct {
	wallet Caller
	logger *slog.Logger
}

func NewSwitcher(wallet Caller, logger *slog.Logger) *Switcher {
	if logger == nil {
		logger = slog.Default()
	}
	return &Switcher{wallet: wallet, logger: logger}
}

// SwitchTo selects n in the wallet, registering the chain first if the
// wallet reports it as unknown. It returns the chain ID the wallet ends up on.
func (s *Switcher) SwitchTo(ctx context.Context, n Network) (uint64, error) {
	err := s.switchChain(ctx, n)
	if err != nil && gerrors.RPCCode(err) == UnrecognizedChainCode {
		s.logger.Info("wallet does not know chain, adding it", "chainId", n.HexChainID(), "name", n.ChainName)
		if addErr := s.addChain(ctx, n); addErr != nil {
			return 0, gerrors.WrapError("switch network", gerrors.ErrWrongNetwork, addErr)
		}
		err = s.switchChain(ctx, n)
	}
	if err != nil {
		return 0, gerrors.WrapError("switch network", gerrors.ErrWrongNetwork, err)
	}
	return s.ChainID(ctx)
}

// ChainID returns the wallet's currently selected chain.
func (s *Switcher) ChainID(ctx context.Context) (uint64, error) {
	var id hexutil.Uint64
	if err := s.wallet.CallContext(ctx, &id, "eth_chainId"); err != nil {
		return 0, fmt.Errorf("eth_chainId: %w", err)
	}
	return uint64(id), nil
}

func (s *Switcher) switchChain(ctx context.Context, n Network) error {
	return s.wallet.CallContext(ctx, nil, "wallet_switchEthereumChain", switchChainParams{ChainID: n.HexChainID()})
}

func (s *Switcher) addChain(ctx context.Context, n Network) error {
	params := addChainParams{
		ChainID:        n.HexChainID(),
		ChainName:      n.ChainName,
		NativeCurrency: n.Currency,
		RPCURLs:        []string{n.RPCURL},
	}
	if n.ChainID == SepoliaChainID {
		params.RPCURLs = []string{SepoliaPublicRPC}
	}
	if n.ExplorerURL != "" {
		params.BlockExplorerURLs = []string{n.ExplorerURL}
	}
	return s.wallet.CallContext(ctx, nil, "wallet_addEthereumChain", params)
}

// AutoSwitch performs at most one automatic switch to a target network.
type AutoSwitch struct {
	mu       sync.Mutex
	tried    bool
	switcher *Switcher
	target   Network
}

func NewAutoSwitch(switcher *Switcher, target Network) *AutoSwitch {
	return &AutoSwitch{switcher: switcher, target: target}
}

// Check switches when current differs from the target and no attempt was
// made before. It reports whether a switch was attempted.
func (a *AutoSwitch) Check(ctx context.Context, current uint64) (uint64, bool, error) {
	a.mu.Lock()
	if current == a.target.ChainID || a.tried {
		a.mu.Unlock()
		return current, false, nil
	}
	a.tried = true
	a.mu.Unlock()

	chainID, err := a.switcher.SwitchTo(ctx, a.target)
	if err != nil {
		return current, true, err
	}
	return chainID, true, nil
}

// CheckNode asks the JSON-RPC endpoint for its client version. An error
// means the node is not running or not reachable.
func CheckNode(ctx context.Context, rpcURL string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, 3*time.Second)
	defer cancel()

	client, err := rpc.DialContext(ctx, rpcURL)
	if err != nil {
		return "", fmt.Errorf("failed to dial %s: %w", rpcURL, err)
	}
	defer client.Close()

	var version string
	if err := client.CallContext(ctx, &version, "web3_clientVersion"); err != nil {
		return "", fmt.Errorf("node at %s is not running: %w", rpcURL, err)
	}
	return version, nil
}
