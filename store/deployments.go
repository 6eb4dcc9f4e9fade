package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// Deployment records one deploy task that ran on a network.
type Deployment struct {
	ChainID    int64     `db:"chain_id" json:"chainId"`
	TaskID     string    `db:"task_id" json:"taskId"`
	Network    string    `db:"network" json:"network"`
	Contract   string    `db:"contract" json:"contract"`
	Address    string    `db:"address" json:"address"`
	TxHash     string    `db:"tx_hash" json:"txHash"`
	DeployedAt time.Time `db:"deployed_at" json:"deployedAt"`
}

func (d Deployment) ContractAddress() common.Address {
	return common.HexToAddress(d.Address)
}

// DeploymentRepository handles database operations related to deployments
type DeploymentRepository struct {
	db *Database
}

func NewDeploymentRepository(db *Database) *DeploymentRepository {
	return &DeploymentRepository{db: db}
}

// Get returns the record of taskID on chainID, or nil if the task never ran
// there.
func (r *DeploymentRepository) Get(ctx context.Context, chainID uint64, taskID string) (*Deployment, error) {
	d := &Deployment{}
	query := `SELECT chain_id, task_id, network, contract, address, tx_hash, deployed_at
			  FROM deployments WHERE chain_id = ? AND task_id = ?`

	err := r.db.GetDB().GetContext(ctx, d, query, int64(chainID), taskID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load deployment %s: %w", taskID, err)
	}
	return d, nil
}

// Save inserts or replaces the record of d.TaskID on d.ChainID.
func (r *DeploymentRepository) Save(ctx context.Context, d *Deployment) error {
	if d.DeployedAt.IsZero() {
		d.DeployedAt = time.Now().UTC()
	}
	query := `INSERT OR REPLACE INTO deployments
			  (chain_id, task_id, network, contract, address, tx_hash, deployed_at)
			  VALUES (:chain_id, :task_id, :network, :contract, :address, :tx_hash, :deployed_at)`

	if _, err := r.db.GetDB().NamedExecContext(ctx, query, d); err != nil {
		return fmt.Errorf("failed to save deployment %s: %w", d.TaskID, err)
	}
	return nil
}

// List returns every record, oldest first.
func (r *DeploymentRepository) List(ctx context.Context) ([]Deployment, error) {
	deployments := []Deployment{}
	query := `SELECT chain_id, task_id, network, contract, address, tx_hash, deployed_at
			  FROM deployments ORDER BY deployed_at ASC`

	if err := r.db.GetDB().SelectContext(ctx, &deployments, query); err != nil {
		return nil, fmt.Errorf("failed to list deployments: %w", err)
	}
	return deployments, nil
}
