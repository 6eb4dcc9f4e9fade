package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/ethereum/go-ethereum/ethclient"

	"campusgallery/chain"
	"campusgallery/deploy"
	gerrors "campusgallery/errors"
	"campusgallery/network"
	"campusgallery/store"
)

func main() {
	if len(os.Args) > 1 {
		switch os.Args[1] {
		case "cli":
			os.Exit(RunCLI(os.Args[2:], getServerURL(), os.Stdout))
		case "deploy":
			os.Exit(runDeploy(os.Args[2:]))
		case "node-check":
			os.Exit(runNodeCheck(os.Args[2:]))
		case "reindex":
			os.Exit(runReindex(os.Args[2:]))
		case "serve":
			os.Exit(runServe(os.Args[2:]))
		case "help", "--help", "-h":
			printMainUsage()
			return
		}
	}
	os.Exit(runServe(os.Args[1:]))
}

func printMainUsage() {
	fmt.Print(`Usage: campusgallery [command] [flags]

Commands:
  serve        Run the gallery node (default)
  cli          Talk to a running node (campusgallery cli help)
  deploy       Run the deployment tasks on the configured network
  node-check   Check that the configured JSON-RPC node is running
  reindex      Rebuild the artwork index from the chain into a new database
`)
}

// loadConfig reads the configuration and applies the common flags.
func loadConfig(fs *flag.FlagSet, args []string) (*Config, error) {
	cfg, err := LoadConfig()
	if err != nil {
		return nil, err
	}
	fs.IntVar(&cfg.Port, "port", cfg.Port, "Server port")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Database file path")
	fs.StringVar(&cfg.IndexDBPath, "index-db-path", cfg.IndexDBPath, "Artwork index database file path")
	fs.StringVar(&cfg.Network, "network", cfg.Network, "Network name (hardhat, localhost, sepolia)")
	fs.StringVar(&cfg.Backend, "backend", cfg.Backend, "Chain backend (memory, rpc)")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "JSON-RPC URL of the local node")
	fs.StringVar(&cfg.LogDir, "log-dir", cfg.LogDir, "Directory of the log files")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	SetLogDir(cfg.LogDir)
	return cfg, nil
}

func runServe(args []string) int {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	cfg, err := loadConfig(fs, args)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	logger := NewLogger(parseLevel(cfg.LogLevel))
	slog.SetDefault(logger)

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("failed to start node", "error", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := app.Start(ctx); err != nil {
		logger.Error("failed to start node", "error", err)
		app.Close()
		return 1
	}

	err = app.Server().ListenAndServe(ctx, cfg.Port)
	fmt.Println("\nShutting down...")
	if cerr := app.Close(); cerr != nil {
		logger.Warn("failed to close node", "error", cerr)
	}
	if err != nil {
		logger.Error("server stopped", "error", err)
		return 1
	}
	return 0
}

func runDeploy(args []string) int {
	fs := flag.NewFlagSet("deploy", flag.ExitOnError)
	cfg, err := LoadConfig()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	fs.StringVar(&cfg.Network, "network", cfg.Network, "Network to deploy to")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "JSON-RPC URL of the local node")
	fs.StringVar(&cfg.ArtifactPath, "artifacts", cfg.ArtifactPath, "Hardhat artifacts directory or artifact file")
	fs.StringVar(&cfg.DBPath, "db-path", cfg.DBPath, "Database file path")
	tags := fs.String("tags", "", "Only run tasks with this tag")
	fs.Parse(args)
	SetLogDir(cfg.LogDir)
	logger := NewLogger(parseLevel(cfg.LogLevel))

	if err := deployWith(context.Background(), cfg, *tags, logger); err != nil {
		logger.Error("deployment failed", "error", err)
		return 1
	}
	return 0
}

func deployWith(ctx context.Context, cfg *Config, tags string, logger *slog.Logger) error {
	n, err := cfg.SelectedNetwork()
	if err != nil {
		return err
	}
	if err := n.Validate(); err != nil {
		return err
	}
	if cfg.PrivateKey == "" {
		return fmt.Errorf("PRIVATE_KEY is required to deploy: %w", gerrors.ErrMissingConfig)
	}

	if err := waitForNode(ctx, n.RPCURL, network.PageMaxWait, logger); err != nil {
		return err
	}
	client, err := ethclient.DialContext(ctx, n.RPCURL)
	if err != nil {
		return gerrors.WrapError("deploy", gerrors.ErrProviderAbsent, err)
	}
	defer client.Close()

	chainID, err := client.ChainID(ctx)
	if err != nil {
		return gerrors.WrapError("deploy", gerrors.ErrProviderAbsent, err)
	}
	if chainID.Uint64() != n.ChainID {
		return gerrors.Wrapf("deploy", gerrors.ErrWrongNetwork, "node is on chain %d, %s is %d", chainID.Uint64(), n.Name, n.ChainID)
	}
	signer, err := chain.NewSigner(cfg.PrivateKey, n.ChainID)
	if err != nil {
		return err
	}

	db, err := store.Open(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	book, err := network.LoadAddressBook(cfg.AddressBook)
	if err != nil {
		return err
	}

	runner := deploy.NewRunner(deploy.Config{
		Network:   n,
		Records:   store.NewDeploymentRepository(db),
		Deployer:  deploy.ChainDeployer{Backend: client, Signer: signer},
		Artifacts: deploy.FileArtifacts(cfg.ArtifactPath),
		Book:      book,
		Logger:    logger,
	})

	var selected []string
	if tags != "" {
		selected = append(selected, tags)
	}
	results, err := runner.RunTags(ctx, selected...)
	for _, r := range results {
		status := "deployed"
		if r.Skipped {
			status = "reused"
		}
		fmt.Printf("%s: %s %s\n", r.Task, status, r.Address.Hex())
	}
	return err
}

// waitForNode polls the node at url until it answers or maxWait passes.
func waitForNode(ctx context.Context, url string, maxWait time.Duration, logger *slog.Logger) error {
	watcher := network.NewWatcher(network.RPCProvider{URL: url}, maxWait, logger)
	if err := watcher.Wait(ctx); err != nil {
		return fmt.Errorf("node at %s: %w", url, err)
	}
	return nil
}

func runNodeCheck(args []string) int {
	fs := flag.NewFlagSet("node-check", flag.ExitOnError)
	cfg, err := LoadConfig()
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	fs.StringVar(&cfg.Network, "network", cfg.Network, "Network to check")
	fs.StringVar(&cfg.RPCURL, "rpc-url", cfg.RPCURL, "JSON-RPC URL to check")
	fs.Parse(args)

	n, err := cfg.SelectedNetwork()
	if err != nil {
		fmt.Printf("✗ %v\n", err)
		return 1
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	version, err := network.CheckNode(ctx, n.RPCURL)
	if err != nil {
		fmt.Printf("✗ Node is not running at %s: %v\n", n.RPCURL, err)
		return 1
	}
	fmt.Printf("✓ Node is running at %s (%s)\n", n.RPCURL, version)
	return 0
}

func runReindex(args []string) int {
	fs := flag.NewFlagSet("reindex", flag.ExitOnError)
	target := fs.String("target", "campusgallery-reindex.db", "Index database to write")
	perBlock := fs.Int("per-block", defaultArtworksPerBlock, "Artworks per index block")
	csvLog := fs.String("csv", "reindex_log.csv", "CSV log of written blocks (empty to disable)")
	cfg, err := loadConfig(fs, args)
	if err != nil {
		log.Printf("Failed to load configuration: %v", err)
		return 1
	}
	logger := NewLogger(parseLevel(cfg.LogLevel))

	ctx := context.Background()
	if cfg.Backend == BackendRPC {
		n, err := cfg.SelectedNetwork()
		if err != nil {
			logger.Error("reindex failed", "error", err)
			return 1
		}
		if err := waitForNode(ctx, n.RPCURL, network.PageMaxWait, logger); err != nil {
			logger.Error("reindex failed", "error", err)
			return 1
		}
	}

	app, err := NewApp(cfg, logger)
	if err != nil {
		logger.Error("failed to open node", "error", err)
		return 1
	}
	defer app.Close()

	res, err := app.RunReindex(ctx, ReindexOptions{
		Target:   *target,
		PerBlock: *perBlock,
		CSVLog:   *csvLog,
	})
	if err != nil {
		logger.Error("reindex failed", "error", err)
		return 1
	}
	fmt.Printf("✓ Reindexed %d artworks into %d blocks (last block %d)\n", res.Artworks, res.Blocks, res.LastBlock)
	fmt.Printf("  Read time: %s, average block write: %s\n", res.ReadTime, res.AvgWriteTime)
	return 0
}
