package main

import (
	"context"
	"crypto/ecdsa"
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/ethclient"
	"github.com/ethereum/go-ethereum/rpc"

	"campusgallery/chain"
	"campusgallery/deploy"
	gerrors "campusgallery/errors"
	"campusgallery/fhe"
	"campusgallery/gallery"
	"campusgallery/network"
	"campusgallery/store"
)

// App owns everything a running node needs: databases, the controller,
// the artwork index and the chain bindings of the selected network.
type App struct {
	cfg      *Config
	logger   *slog.Logger
	registry *network.Registry

	db          *store.Database
	deployments *store.DeploymentRepository
	signatures  *store.SignatureRepository
	marks       *store.MarkRepository
	book        *network.AddressBook

	index   *IndexStore
	queue   *IndexQueue
	indexer *Indexer

	controller *gallery.Controller
	hub        *Hub

	wallet     *network.Switcher
	walletConn *rpc.Client
	autoSwitch *network.AutoSwitch

	mu           sync.Mutex
	key          *ecdsa.PrivateKey
	current      network.Network
	coprocessors map[uint64]*fhe.Coprocessor
	memory       map[uint64]*chain.MemoryGallery
	clients      map[string]*ethclient.Client
}

// NewApp opens the stores and builds the controller. No network is
// selected until Start.
func NewApp(cfg *Config, logger *slog.Logger) (*App, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	a := &App{
		cfg:          cfg,
		logger:       logger,
		registry:     cfg.Registry(),
		queue:        NewIndexQueue(),
		coprocessors: make(map[uint64]*fhe.Coprocessor),
		memory:       make(map[uint64]*chain.MemoryGallery),
		clients:      make(map[string]*ethclient.Client),
	}

	key, err := loadKey(cfg, logger)
	if err != nil {
		return nil, err
	}
	a.key = key

	a.db, err = store.Open(cfg.DBPath)
	if err != nil {
		return nil, err
	}
	a.deployments = store.NewDeploymentRepository(a.db)
	a.signatures = store.NewSignatureRepository(a.db)
	a.marks = store.NewMarkRepository(a.db)

	a.book, err = network.LoadAddressBook(cfg.AddressBook)
	if err != nil {
		a.db.Close()
		return nil, err
	}

	a.index, err = OpenIndexStore(logger, cfg.IndexDBPath)
	if err != nil {
		a.db.Close()
		return nil, err
	}
	a.indexer = NewIndexer(a.index, a.queue, cfg.IndexInterval.Duration, logger)

	var account common.Address
	if key != nil {
		account = crypto.PubkeyToAddress(key.PublicKey)
	}
	session := gallery.NewSession(account, 0).WithLogger(logger)
	a.controller = gallery.NewController(gallery.Options{
		Session: session,
		Sink:    a.queue,
		Logger:  logger,
	})
	if cfg.PersistMarks {
		if err := session.AttachMarkStore(context.Background(), a.marks); err != nil {
			logger.Warn("failed to load persisted marks", "error", err)
		}
	}

	a.hub = NewHub(a.controller.State, logger)
	a.controller.OnChange(a.hub.BroadcastState)
	return a, nil
}

func loadKey(cfg *Config, logger *slog.Logger) (*ecdsa.PrivateKey, error) {
	if cfg.PrivateKey != "" {
		key, err := crypto.HexToECDSA(strings.TrimPrefix(cfg.PrivateKey, "0x"))
		if err != nil {
			return nil, fmt.Errorf("invalid PRIVATE_KEY: %w", gerrors.ErrInvalidConfig)
		}
		return key, nil
	}
	if cfg.Backend != BackendMemory {
		logger.Warn("no PRIVATE_KEY configured, running read-only")
		return nil, nil
	}
	key, err := crypto.GenerateKey()
	if err != nil {
		return nil, err
	}
	logger.Warn("no PRIVATE_KEY configured, using an ephemeral development account",
		"account", crypto.PubkeyToAddress(key.PublicKey).Hex())
	return key, nil
}

// Start waits for the provider, selects the configured network and starts
// the background workers.
func (a *App) Start(ctx context.Context) error {
	n, err := a.cfg.SelectedNetwork()
	if err != nil {
		return err
	}

	if a.cfg.Backend == BackendRPC {
		watcher := network.NewWatcher(network.RPCProvider{URL: n.RPCURL}, a.cfg.ProviderWait.Duration, a.logger)
		if err := watcher.Wait(ctx); err != nil {
			a.logger.Warn("node not reachable, starting without a contract", "rpc", n.RPCURL, "error", err)
		}
	}

	if a.cfg.WalletURL != "" {
		conn, err := rpc.DialContext(ctx, a.cfg.WalletURL)
		if err != nil {
			return fmt.Errorf("failed to dial wallet %s: %w", a.cfg.WalletURL, err)
		}
		a.walletConn = conn
		a.wallet = network.NewSwitcher(conn, a.logger)
		if a.cfg.ForceSepolia {
			a.autoSwitch = network.NewAutoSwitch(a.wallet, network.SepoliaNetwork(a.cfg.SepoliaRPCURL))
		}
	}

	if a.autoSwitch != nil {
		current, err := a.wallet.ChainID(ctx)
		if err != nil {
			a.logger.Warn("failed to read wallet chain", "error", err)
		} else if chainID, switched, err := a.autoSwitch.Check(ctx, current); err != nil {
			a.logger.Warn("automatic switch to sepolia failed", "error", err)
		} else if switched {
			if sepolia, ok := a.registry.ByChainID(chainID); ok {
				n = sepolia
			}
		}
	}

	if _, err := a.selectNetwork(ctx, n, false); err != nil {
		return err
	}

	go a.hub.Run()
	a.indexer.Start()

	if a.controller.MutationsEnabled() {
		if _, err := a.controller.Refresh(ctx); err != nil {
			a.logger.Warn("initial refresh failed", "error", err)
		}
	}
	return nil
}

// SwitchNetwork asks the wallet (when configured) to change chains and
// rebinds the controller. It reports whether the chain has a contract.
func (a *App) SwitchNetwork(ctx context.Context, req SwitchRequest) (network.Network, bool, error) {
	var (
		n   network.Network
		err error
	)
	switch {
	case req.Name != "":
		n, err = a.registry.ByName(req.Name)
	case req.ChainID != 0:
		if !a.registry.IsSupported(req.ChainID) {
			err = gerrors.Wrapf("switch network", gerrors.ErrUnsupportedNetwork, "chain %d", req.ChainID)
			break
		}
		n, _ = a.registry.ByChainID(req.ChainID)
	default:
		err = gerrors.Wrapf("switch network", gerrors.ErrValidation, "network name or chain id is required")
	}
	if err != nil {
		return network.Network{}, false, err
	}

	n = a.withLocalRPC(n)
	supported, err := a.selectNetwork(ctx, n, true)
	return n, supported, err
}

// withLocalRPC points local networks at the configured node.
func (a *App) withLocalRPC(n network.Network) network.Network {
	if a.cfg.RPCURL != "" && n.ChainID != network.SepoliaChainID {
		n.RPCURL = a.cfg.RPCURL
	}
	return n
}

func (a *App) selectNetwork(ctx context.Context, n network.Network, useWallet bool) (bool, error) {
	if useWallet && a.wallet != nil {
		chainID, err := a.wallet.SwitchTo(ctx, n)
		if err == nil && chainID != n.ChainID {
			err = gerrors.Wrapf("switch network", gerrors.ErrWrongNetwork, "wallet is on chain %d", chainID)
		}
		if err != nil {
			a.followWallet(ctx)
			return false, err
		}
	}

	binding, signer, err := a.bindingFor(ctx, n)
	if err != nil {
		a.logger.Warn("no contract binding for network", "network", n.Name, "error", err)
		binding = gallery.Binding{}
	}

	if err := a.controller.SetNetwork(ctx, n.ChainID, binding); err != nil {
		return false, err
	}
	if signer != nil {
		if err := a.controller.SetSigner(ctx, signer); err != nil {
			return false, err
		}
	}

	if binding.Gallery != nil {
		ids, err := a.index.IndexedIDs(ctx, n.ChainID, binding.Gallery.Address())
		if err != nil {
			a.logger.Warn("failed to read indexed artworks", "error", err)
		}
		a.queue.SetScope(n.ChainID, binding.Gallery.Address(), ids)
	} else {
		a.queue.SetScope(n.ChainID, common.Address{}, nil)
	}

	a.mu.Lock()
	a.current = n
	a.mu.Unlock()
	return binding.Gallery != nil, nil
}

// followWallet rebinds the node to the chain the wallet is on after a
// failed switch. An unknown chain, or one the wallet cannot report, leaves
// the controller without a contract.
func (a *App) followWallet(ctx context.Context) {
	chainID, err := a.wallet.ChainID(ctx)
	if err != nil {
		a.logger.Warn("failed to read wallet chain", "error", err)
		chainID = 0
	}
	if chainID != 0 && a.registry.IsSupported(chainID) {
		n, _ := a.registry.ByChainID(chainID)
		_, err := a.selectNetwork(ctx, a.withLocalRPC(n), false)
		if err == nil {
			return
		}
		a.logger.Warn("failed to follow wallet chain", "chainId", chainID, "error", err)
	}

	if err := a.controller.SetNetwork(ctx, chainID, gallery.Binding{}); err != nil {
		a.logger.Warn("failed to unbind network", "chainId", chainID, "error", err)
		return
	}
	a.queue.SetScope(chainID, common.Address{}, nil)
	a.mu.Lock()
	a.current = network.Network{ChainID: chainID}
	a.mu.Unlock()
}

// Network returns the selected network.
func (a *App) Network() network.Network {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.current
}

// contractAddress resolves the gallery address on chainID from the address
// book, falling back to the deployment records.
func (a *App) contractAddress(ctx context.Context, chainID uint64) (common.Address, bool) {
	if addr, ok := a.book.Address(chainID); ok {
		return addr, true
	}
	rec, err := a.deployments.Get(ctx, chainID, deploy.CampusGallery.ID)
	if err != nil || rec == nil {
		return common.Address{}, false
	}
	return rec.ContractAddress(), true
}

func (a *App) bindingFor(ctx context.Context, n network.Network) (gallery.Binding, *chain.Signer, error) {
	var signer *chain.Signer
	if a.key != nil {
		signer = chain.NewSignerFromKey(a.key, n.ChainID)
	}
	verifier := common.HexToAddress(a.cfg.DecryptionVerifier)
	authorizer := fhe.NewAuthorizer(n.ChainID, verifier, a.signatures)

	if a.cfg.Backend == BackendMemory {
		if !n.Mock {
			return gallery.Binding{}, signer, gerrors.Wrapf("bind gallery", gerrors.ErrUnsupportedNetwork, "%s needs a node", n.Name)
		}
		g, cop, err := a.memoryGallery(n)
		if err != nil {
			return gallery.Binding{}, signer, err
		}
		return gallery.Binding{Gallery: g, Authorizer: authorizer, Decryptor: cop}, signer, nil
	}

	addr, ok := a.contractAddress(ctx, n.ChainID)
	if !ok {
		return gallery.Binding{}, signer, gerrors.Wrapf("bind gallery", gerrors.ErrUnsupportedNetwork, "no deployment on chain %d", n.ChainID)
	}
	client, err := a.dial(ctx, n.RPCURL)
	if err != nil {
		return gallery.Binding{}, signer, err
	}
	g, err := chain.NewClient(addr, client, signer, a.logger)
	if err != nil {
		return gallery.Binding{}, signer, err
	}

	b := gallery.Binding{Gallery: g, Authorizer: authorizer}
	if a.cfg.RelayerURL != "" {
		b.Decryptor = fhe.NewHTTPRelayer(a.cfg.RelayerURL)
	}
	return b, signer, nil
}

// memoryGallery returns the in-process gallery of chain n, creating it and
// recording its address on first use.
func (a *App) memoryGallery(n network.Network) (*chain.MemoryGallery, *fhe.Coprocessor, error) {
	a.mu.Lock()
	defer a.mu.Unlock()

	if g, ok := a.memory[n.ChainID]; ok {
		return g, a.coprocessors[n.ChainID], nil
	}
	cop, err := fhe.NewCoprocessor(n.ChainID, a.logger)
	if err != nil {
		return nil, nil, err
	}
	sender := crypto.PubkeyToAddress(a.key.PublicKey)
	addr, ok := a.book.Address(n.ChainID)
	if !ok {
		addr = crypto.CreateAddress(sender, 0)
		a.book.Set(n.ChainID, n.Name, addr)
	}
	g := chain.NewMemoryGallery(addr, sender, cop)
	a.memory[n.ChainID] = g
	a.coprocessors[n.ChainID] = cop
	a.logger.Info("in-memory gallery ready", "network", n.Name, "address", addr.Hex())
	return g, cop, nil
}

func (a *App) dial(ctx context.Context, url string) (*ethclient.Client, error) {
	a.mu.Lock()
	defer a.mu.Unlock()
	if c, ok := a.clients[url]; ok {
		return c, nil
	}
	c, err := ethclient.DialContext(ctx, url)
	if err != nil {
		return nil, gerrors.WrapError("connect", gerrors.ErrProviderAbsent, err)
	}
	a.clients[url] = c
	return c, nil
}

// IndexCount counts the indexed artworks of the selected contract.
func (a *App) IndexCount(ctx context.Context) (CountResponse, error) {
	chainID, contract := a.queue.Scope()
	if contract == (common.Address{}) {
		return CountResponse{}, gerrors.WrapError("count indexed artworks", gerrors.ErrUnsupportedNetwork, nil)
	}
	n, err := a.index.CountArtworks(ctx, chainID, contract)
	if err != nil {
		return CountResponse{}, gerrors.WrapError("count indexed artworks", gerrors.ErrReadFailed, err)
	}
	return CountResponse{Count: n, Block: a.index.LastBlock(ctx)}, nil
}

// IndexQuery queries the indexed artworks of the selected contract.
func (a *App) IndexQuery(ctx context.Context, q ArtworkQuery) ([]IndexedArtwork, error) {
	if q.Category != "" && !gallery.IsKnownCategory(q.Category) {
		return nil, gerrors.Wrapf("query index", gerrors.ErrValidation, "unknown category %q", q.Category)
	}
	if q.Artist != "" && !common.IsHexAddress(q.Artist) {
		return nil, gerrors.Wrapf("query index", gerrors.ErrValidation, "invalid artist address %q", q.Artist)
	}
	chainID, contract := a.queue.Scope()
	if contract == (common.Address{}) {
		return nil, gerrors.WrapError("query index", gerrors.ErrUnsupportedNetwork, nil)
	}
	list, err := a.index.QueryArtworks(ctx, chainID, contract, q)
	if err != nil {
		return nil, gerrors.WrapError("query index", gerrors.ErrReadFailed, err)
	}
	return list, nil
}

// IndexStatus reports the queued artworks and the last written index block.
func (a *App) IndexStatus(ctx context.Context) (int, uint64) {
	return a.queue.GetQueueSize(), a.index.LastBlock(ctx)
}

// Server returns the HTTP API bound to this app.
func (a *App) Server() *Server {
	return NewServer(a.controller, a, a.hub, a.cfg.Backend, a.logger)
}

// Close stops the workers and closes every resource.
func (a *App) Close() error {
	a.indexer.Stop()
	a.hub.Stop()

	a.mu.Lock()
	for _, c := range a.clients {
		c.Close()
	}
	a.clients = map[string]*ethclient.Client{}
	a.mu.Unlock()
	if a.walletConn != nil {
		a.walletConn.Close()
	}

	if err := a.index.Close(); err != nil {
		a.logger.Warn("failed to close index store", "error", err)
	}
	return a.db.Close()
}
