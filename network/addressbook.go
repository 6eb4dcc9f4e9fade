package network

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// AddressEntry is one deployed contract in the address book file.
type AddressEntry struct {
	Address   common.Address `json:"address"`
	ChainID   uint64         `json:"chainId"`
	ChainName string         `json:"chainName"`
}

// AddressBook maps chain IDs to the deployed CampusGallery address. The file
// layout is {"31337": {"address": "0x..", "chainId": 31337, "chainName": "hardhat"}}.
type AddressBook struct {
	mu      sync.RWMutex
	path    string
	entries map[uint64]AddressEntry
}

func NewAddressBook() *AddressBook {
	return &AddressBook{entries: make(map[uint64]AddressEntry)}
}

// LoadAddressBook reads path. A missing file gives an empty book bound to path.
func LoadAddressBook(path string) (*AddressBook, error) {
	book := NewAddressBook()
	book.path = path

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return book, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read address book: %w", err)
	}

	var raw map[string]AddressEntry
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("failed to parse address book %s: %w", path, err)
	}
	for key, entry := range raw {
		chainID, err := strconv.ParseUint(key, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("address book key %q is not a chain id: %w", key, err)
		}
		entry.ChainID = chainID
		book.entries[chainID] = entry
	}
	return book, nil
}

// Address returns the contract address for chainID. The second result is
// false for chains without a deployment, which disables all contract calls.
func (b *AddressBook) Address(chainID uint64) (common.Address, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	entry, ok := b.entries[chainID]
	if !ok || entry.Address == (common.Address{}) {
		return common.Address{}, false
	}
	return entry.Address, true
}

// Set records a deployment in memory.
func (b *AddressBook) Set(chainID uint64, chainName string, addr common.Address) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.entries[chainID] = AddressEntry{Address: addr, ChainID: chainID, ChainName: chainName}
}

// Save writes the book back to the file it was loaded from.
func (b *AddressBook) Save() error {
	if b.path == "" {
		return nil
	}

	b.mu.RLock()
	raw := make(map[string]AddressEntry, len(b.entries))
	for chainID, entry := range b.entries {
		raw[strconv.FormatUint(chainID, 10)] = entry
	}
	b.mu.RUnlock()

	data, err := json.MarshalIndent(raw, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to encode address book: %w", err)
	}
	if dir := filepath.Dir(b.path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("failed to create address book dir: %w", err)
		}
	}
	return os.WriteFile(b.path, data, 0o644)
}
