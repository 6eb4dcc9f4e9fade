// Package deploy runs named contract deployment tasks. A task runs at most
// once per network: the store remembers where it was deployed.
package deploy

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/ethereum/go-ethereum/accounts/abi/bind"
	"github.com/ethereum/go-ethereum/common"

	"campusgallery/chain"
	"campusgallery/network"
	"campusgallery/store"
)

// Task is one named deployment.
type Task struct {
	ID       string
	Tags     []string
	Contract string
}

// CampusGallery deploys the gallery contract.
var CampusGallery = Task{
	ID:       "deploy_campusgallery",
	Tags:     []string{"CampusGallery"},
	Contract: "CampusGallery",
}

// Tasks is every task known to the runner, in execution order.
var Tasks = []Task{CampusGallery}

func (t Task) HasTag(tag string) bool {
	for _, tt := range t.Tags {
		if tt == tag {
			return true
		}
	}
	return false
}

// Records stores which tasks ran on which chain. *store.DeploymentRepository
// implements it.
type Records interface {
	Get(ctx context.Context, chainID uint64, taskID string) (*store.Deployment, error)
	Save(ctx context.Context, d *store.Deployment) error
}

// Deployer sends the creation transaction and waits until the contract
// exists.
type Deployer interface {
	Deploy(ctx context.Context, artifact *Artifact) (common.Address, common.Hash, error)
}

// Result is the outcome of one task.
type Result struct {
	Task    string         `json:"task"`
	Address common.Address `json:"address"`
	TxHash  common.Hash    `json:"txHash"`
	Skipped bool           `json:"skipped"`
}

type Config struct {
	Network   network.Network
	Records   Records
	Deployer  Deployer
	Artifacts ArtifactSource
	// Book is updated after every task when set.
	Book   *network.AddressBook
	Logger *slog.Logger
}

type Runner struct {
	cfg    Config
	logger *slog.Logger
}

func NewRunner(cfg Config) *Runner {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{cfg: cfg, logger: logger}
}

// Run executes task unless it already ran on the configured network.
func (r *Runner) Run(ctx context.Context, task Task) (Result, error) {
	n := r.cfg.Network
	rec, err := r.cfg.Records.Get(ctx, n.ChainID, task.ID)
	if err != nil {
		return Result{}, err
	}
	if rec != nil {
		r.logger.Info("deployment task already ran, reusing",
			"task", task.ID, "network", n.Name, "address", rec.Address, "deployedAt", rec.DeployedAt)
		addr := rec.ContractAddress()
		if err := r.updateBook(addr); err != nil {
			return Result{}, err
		}
		return Result{Task: task.ID, Address: addr, TxHash: common.HexToHash(rec.TxHash), Skipped: true}, nil
	}

	artifact, err := r.cfg.Artifacts(task.Contract)
	if err != nil {
		return Result{}, fmt.Errorf("task %s: %w", task.ID, err)
	}

	startTime := time.Now()
	addr, txHash, err := r.cfg.Deployer.Deploy(ctx, artifact)
	if err != nil {
		return Result{}, fmt.Errorf("task %s: failed to deploy %s: %w", task.ID, task.Contract, err)
	}
	r.logger.Info(fmt.Sprintf("%s contract: %s", task.Contract, addr.Hex()),
		"task", task.ID, "network", n.Name, "tx", txHash.Hex(), "duration", time.Since(startTime))

	err = r.cfg.Records.Save(ctx, &store.Deployment{
		ChainID:  int64(n.ChainID),
		TaskID:   task.ID,
		Network:  n.Name,
		Contract: task.Contract,
		Address:  addr.Hex(),
		TxHash:   txHash.Hex(),
	})
	if err != nil {
		return Result{}, err
	}
	if err := r.updateBook(addr); err != nil {
		return Result{}, err
	}
	return Result{Task: task.ID, Address: addr, TxHash: txHash}, nil
}

// RunTags runs every task carrying one of tags, or every task when tags is
// empty.
func (r *Runner) RunTags(ctx context.Context, tags ...string) ([]Result, error) {
	var results []Result
	for _, task := range Tasks {
		if !selected(task, tags) {
			continue
		}
		res, err := r.Run(ctx, task)
		if err != nil {
			return results, err
		}
		results = append(results, res)
	}
	return results, nil
}

func selected(task Task, tags []string) bool {
	if len(tags) == 0 {
		return true
	}
	for _, tag := range tags {
		if task.HasTag(tag) {
			return true
		}
	}
	return false
}

func (r *Runner) updateBook(addr common.Address) error {
	if r.cfg.Book == nil {
		return nil
	}
	r.cfg.Book.Set(r.cfg.Network.ChainID, r.cfg.Network.Name, addr)
	if err := r.cfg.Book.Save(); err != nil {
		return fmt.Errorf("failed to update address book: %w", err)
	}
	return nil
}

// ChainDeployer deploys through a node connection.
type ChainDeployer struct {
	Backend chain.Backend
	Signer  *chain.Signer
}

func (d ChainDeployer) Deploy(ctx context.Context, artifact *Artifact) (common.Address, common.Hash, error) {
	parsed, err := artifact.ParsedABI()
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	code, err := artifact.Code()
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	opts, err := d.Signer.TransactOpts(ctx)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}

	addr, tx, _, err := bind.DeployContract(opts, parsed, code, d.Backend)
	if err != nil {
		return common.Address{}, common.Hash{}, err
	}
	if _, err := bind.WaitDeployed(ctx, d.Backend, tx); err != nil {
		return common.Address{}, tx.Hash(), fmt.Errorf("waiting for deployment %s: %w", tx.Hash().Hex(), err)
	}
	return addr, tx.Hash(), nil
}
