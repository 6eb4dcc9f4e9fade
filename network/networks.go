// Package network describes the chains the gallery runs on and the wallet
// plumbing around them: presets, contract address book, provider detection,
// chain switching and node liveness checks.
package network

import (
	"fmt"
	"net/url"

	"github.com/ethereum/go-ethereum/common/hexutil"

	gerrors "campusgallery/errors"
)

const (
	LocalChainID   uint64 = 31337
	SepoliaChainID uint64 = 11155111

	LocalRPCURL = "http://localhost:8545"

	// SepoliaPublicRPC is offered to wallets that do not know Sepolia yet.
	SepoliaPublicRPC = "https://rpc.sepolia.org"
)

// Currency is the native currency description used by wallet_addEthereumChain.
type Currency struct {
	Name     string `json:"name"`
	Symbol   string `json:"symbol"`
	Decimals uint8  `json:"decimals"`
}

// Network defines one chain the gallery can be used on.
type Network struct {
	Name        string   `json:"name"`
	ChainID     uint64   `json:"chain_id"`
	ChainName   string   `json:"chain_name"`
	RPCURL      string   `json:"rpc_url"`
	Currency    Currency `json:"native_currency"`
	ExplorerURL string   `json:"explorer_url,omitempty"`

	// Mock marks chains whose FHE operations are served by the local coprocessor.
	Mock bool `json:"mock"`
}

// HardhatNetwork is the in-process development chain.
func HardhatNetwork() Network {
	return Network{
		Name:      "hardhat",
		ChainID:   LocalChainID,
		ChainName: "Hardhat",
		RPCURL:    LocalRPCURL,
		Currency:  Currency{Name: "Ether", Symbol: "ETH", Decimals: 18},
		Mock:      true,
	}
}

// LocalNetwork is a standalone development node on localhost.
func LocalNetwork() Network {
	n := HardhatNetwork()
	n.Name = "localhost"
	n.ChainName = "Localhost"
	return n
}

// SepoliaNetwork is the public test network reached through rpcURL.
func SepoliaNetwork(rpcURL string) Network {
	return Network{
		Name:        "sepolia",
		ChainID:     SepoliaChainID,
		ChainName:   "Sepolia",
		RPCURL:      rpcURL,
		Currency:    Currency{Name: "Sepolia ETH", Symbol: "ETH", Decimals: 18},
		ExplorerURL: "https://sepolia.etherscan.io",
	}
}

// HexChainID returns the chain ID in the 0x-prefixed form wallets expect.
func (n Network) HexChainID() string {
	return hexutil.EncodeUint64(n.ChainID)
}

// Validate checks that the network can be dialed.
func (n Network) Validate() error {
	if n.Name == "" {
		return fmt.Errorf("network name is required: %w", gerrors.ErrInvalidConfig)
	}
	if n.ChainID == 0 {
		return fmt.Errorf("network %s: chain id is required: %w", n.Name, gerrors.ErrInvalidConfig)
	}
	if n.RPCURL == "" {
		return fmt.Errorf("network %s: rpc url is required: %w", n.Name, gerrors.ErrMissingConfig)
	}
	u, err := url.Parse(n.RPCURL)
	if err != nil || u.Scheme == "" || u.Host == "" {
		return fmt.Errorf("network %s: invalid rpc url %q: %w", n.Name, n.RPCURL, gerrors.ErrInvalidConfig)
	}
	return nil
}

// Registry holds the networks recognized by this process.
type Registry struct {
	networks []Network
}

// NewRegistry returns the local networks, plus Sepolia when an RPC URL for
// it is configured.
func NewRegistry(sepoliaRPC string) *Registry {
	r := &Registry{networks: []Network{HardhatNetwork(), LocalNetwork()}}
	if sepoliaRPC != "" {
		r.networks = append(r.networks, SepoliaNetwork(sepoliaRPC))
	}
	return r
}

// ByName returns the network registered under name.
func (r *Registry) ByName(name string) (Network, error) {
	for _, n := range r.networks {
		if n.Name == name {
			return n, nil
		}
	}
	return Network{}, fmt.Errorf("network %q: %w", name, gerrors.ErrUnsupportedNetwork)
}

// ByChainID returns the first network registered for chainID.
func (r *Registry) ByChainID(chainID uint64) (Network, bool) {
	for _, n := range r.networks {
		if n.ChainID == chainID {
			return n, true
		}
	}
	return Network{}, false
}

// IsSupported reports whether the gallery can be used on chainID.
func (r *Registry) IsSupported(chainID uint64) bool {
	_, ok := r.ByChainID(chainID)
	return ok
}

func (r *Registry) Networks() []Network {
	out := make([]Network, len(r.networks))
	copy(out, r.networks)
	return out
}
