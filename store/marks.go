package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/jmoiron/sqlx"
)

// MarkRepository persists the liked/voted marks of a session.
type MarkRepository struct {
	db *Database
}

func NewMarkRepository(db *Database) *MarkRepository {
	return &MarkRepository{db: db}
}

type markRow struct {
	Kind      string `db:"kind"`
	ArtworkID int64  `db:"artwork_id"`
}

func (r *MarkRepository) LoadMarks(ctx context.Context, chainID uint64, account common.Address) (liked, voted []uint64, err error) {
	rows := []markRow{}
	query := `SELECT kind, artwork_id FROM session_marks
			  WHERE chain_id = ? AND account = ? ORDER BY artwork_id`

	if err := r.db.GetDB().SelectContext(ctx, &rows, query, int64(chainID), strings.ToLower(account.Hex())); err != nil {
		return nil, nil, fmt.Errorf("failed to load session marks: %w", err)
	}
	for _, row := range rows {
		switch row.Kind {
		case "liked":
			liked = append(liked, uint64(row.ArtworkID))
		case "voted":
			voted = append(voted, uint64(row.ArtworkID))
		}
	}
	return liked, voted, nil
}

func (r *MarkRepository) SaveMark(ctx context.Context, chainID uint64, account common.Address, kind string, artworkID uint64) error {
	query := `INSERT OR IGNORE INTO session_marks (chain_id, account, kind, artwork_id, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err := r.db.GetDB().ExecContext(ctx, query, int64(chainID), strings.ToLower(account.Hex()), kind, int64(artworkID), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save %s mark for artwork %d: %w", kind, artworkID, err)
	}
	return nil
}

// ClearMarks forgets every mark of account on chainID.
func (r *MarkRepository) ClearMarks(ctx context.Context, chainID uint64, account common.Address) error {
	return r.db.Transaction(func(tx *sqlx.Tx) error {
		_, err := tx.ExecContext(ctx, `DELETE FROM session_marks WHERE chain_id = ? AND account = ?`,
			int64(chainID), strings.ToLower(account.Hex()))
		return err
	})
}
