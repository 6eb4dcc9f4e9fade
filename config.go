package main

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"

	gerrors "campusgallery/errors"
	"campusgallery/network"
)

const (
	BackendMemory = "memory"
	BackendRPC    = "rpc"
)

// Config is the node configuration.
type Config struct {
	Port        int    `json:"port"`
	DBPath      string `json:"db_path"`
	IndexDBPath string `json:"index_db_path"`
	LogDir      string `json:"log_dir"`
	LogLevel    string `json:"log_level"`

	Network       string `json:"network"`
	Backend       string `json:"backend"`
	RPCURL        string `json:"rpc_url"`
	SepoliaRPCURL string `json:"sepolia_rpc_url"`
	WalletURL     string `json:"wallet_url"`
	PrivateKey    string `json:"-"`
	ForceSepolia  bool   `json:"force_sepolia"`

	RelayerURL string `json:"relayer_url"`
	// DecryptionVerifier is the verifying contract of the decryption
	// signature domain.
	DecryptionVerifier string `json:"decryption_verifier"`

	AddressBook  string `json:"address_book"`
	ArtifactPath string `json:"artifact_path"`
	PersistMarks bool   `json:"persist_marks"`

	IndexInterval Duration `json:"index_interval"`
	ProviderWait  Duration `json:"provider_wait"`
}

// Duration reads "2s" style strings from the config file.
type Duration struct {
	time.Duration
}

func (d Duration) MarshalJSON() ([]byte, error) {
	return json.Marshal(d.String())
}

func (d *Duration) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := time.ParseDuration(s)
	if err != nil {
		return err
	}
	d.Duration = v
	return nil
}

func DefaultConfig() *Config {
	return &Config{
		Port:               3000,
		DBPath:             "campusgallery.db",
		IndexDBPath:        "campusgallery-index.db",
		LogDir:             "logs",
		LogLevel:           "info",
		Network:            "hardhat",
		Backend:            BackendMemory,
		DecryptionVerifier: "0x0000000000000000000000000000000000000044",
		AddressBook:        filepath.Join("deployments", "addresses.json"),
		ArtifactPath:       filepath.Join("artifacts", "contracts"),
		IndexInterval:      Duration{2 * time.Second},
		ProviderWait:       Duration{network.HomeMaxWait},
	}
}

// LoadConfig builds the configuration from defaults, the JSON file named by
// CONFIG_FILE (configs/config.json when unset), a .env file and the
// environment, in that order.
func LoadConfig() (*Config, error) {
	cfg := DefaultConfig()

	configFile := os.Getenv("CONFIG_FILE")
	if configFile == "" {
		configFile = filepath.Join("configs", "config.json")
	}
	if _, err := os.Stat(configFile); err == nil {
		file, err := os.Open(configFile)
		if err != nil {
			return nil, err
		}
		defer file.Close()

		if err := json.NewDecoder(file).Decode(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse %s: %w", configFile, err)
		}
	}

	// A missing .env is fine.
	_ = godotenv.Load()

	cfg.applyEnv()
	return cfg, nil
}

func (c *Config) applyEnv() {
	if port := os.Getenv("PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			c.Port = p
		}
	}
	setString(&c.DBPath, "DB_PATH")
	setString(&c.IndexDBPath, "INDEX_DB_PATH")
	setString(&c.LogDir, "LOG_DIR")
	setString(&c.LogLevel, "LOG_LEVEL")
	setString(&c.Network, "NETWORK")
	setString(&c.Backend, "BACKEND")
	setString(&c.RPCURL, "RPC_URL")
	setString(&c.SepoliaRPCURL, "SEPOLIA_RPC_URL")
	setString(&c.WalletURL, "WALLET_URL")
	setString(&c.PrivateKey, "PRIVATE_KEY")
	setString(&c.RelayerURL, "RELAYER_URL")
	setString(&c.DecryptionVerifier, "DECRYPTION_VERIFIER")
	setString(&c.AddressBook, "ADDRESS_BOOK")
	setString(&c.ArtifactPath, "ARTIFACT_PATH")
	setBool(&c.ForceSepolia, "FORCE_SEPOLIA")
	setBool(&c.PersistMarks, "PERSIST_MARKS")
}

func setString(dst *string, key string) {
	if v := os.Getenv(key); v != "" {
		*dst = v
	}
}

func setBool(dst *bool, key string) {
	if v := os.Getenv(key); v != "" {
		if b, err := strconv.ParseBool(v); err == nil {
			*dst = b
		}
	}
}

// Registry returns the networks this configuration can select.
func (c *Config) Registry() *network.Registry {
	return network.NewRegistry(c.SepoliaRPCURL)
}

// SelectedNetwork resolves Network, applying RPCURL to local networks.
func (c *Config) SelectedNetwork() (network.Network, error) {
	n, err := c.Registry().ByName(c.Network)
	if err != nil {
		return network.Network{}, err
	}
	if c.RPCURL != "" && n.ChainID != network.SepoliaChainID {
		n.RPCURL = c.RPCURL
	}
	return n, nil
}

// Validate checks the configuration before anything is opened.
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port %d: %w", c.Port, gerrors.ErrInvalidConfig)
	}
	if c.DBPath == "" || c.IndexDBPath == "" {
		return fmt.Errorf("database paths are required: %w", gerrors.ErrMissingConfig)
	}
	c.Backend = strings.ToLower(c.Backend)
	switch c.Backend {
	case BackendMemory, BackendRPC:
	default:
		return fmt.Errorf("unknown backend %q: %w", c.Backend, gerrors.ErrInvalidConfig)
	}
	if c.IndexInterval.Duration <= 0 {
		return fmt.Errorf("index interval must be positive: %w", gerrors.ErrInvalidConfig)
	}

	n, err := c.SelectedNetwork()
	if err != nil {
		return err
	}
	if c.Backend == BackendRPC {
		if err := n.Validate(); err != nil {
			return err
		}
	}
	if c.Backend == BackendMemory && !n.Mock {
		return fmt.Errorf("network %s needs the rpc backend: %w", n.Name, gerrors.ErrInvalidConfig)
	}
	if c.ForceSepolia && c.SepoliaRPCURL == "" {
		return fmt.Errorf("FORCE_SEPOLIA needs SEPOLIA_RPC_URL: %w", gerrors.ErrMissingConfig)
	}
	return nil
}
