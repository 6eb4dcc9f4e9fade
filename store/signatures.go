package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"campusgallery/fhe"
)

// SignatureRepository caches decryption signatures so a user signs once per
// validity window. It implements fhe.SignatureStore.
type SignatureRepository struct {
	db *Database
}

func NewSignatureRepository(db *Database) *SignatureRepository {
	return &SignatureRepository{db: db}
}

func contractsKey(contracts []common.Address) string {
	hexes := make([]string, len(contracts))
	for i, c := range contracts {
		hexes[i] = strings.ToLower(c.Hex())
	}
	sort.Strings(hexes)
	return strings.Join(hexes, ",")
}

func (r *SignatureRepository) LoadSignature(ctx context.Context, user common.Address, chainID uint64, contracts []common.Address) (*fhe.DecryptionSignature, error) {
	var payload string
	query := `SELECT payload FROM decryption_signatures
			  WHERE user_address = ? AND chain_id = ? AND contracts = ?`

	err := r.db.GetDB().GetContext(ctx, &payload, query, strings.ToLower(user.Hex()), int64(chainID), contractsKey(contracts))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to load decryption signature: %w", err)
	}

	sig := &fhe.DecryptionSignature{}
	if err := json.Unmarshal([]byte(payload), sig); err != nil {
		return nil, fmt.Errorf("failed to decode decryption signature: %w", err)
	}
	return sig, nil
}

func (r *SignatureRepository) SaveSignature(ctx context.Context, sig *fhe.DecryptionSignature) error {
	payload, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("failed to encode decryption signature: %w", err)
	}
	query := `INSERT OR REPLACE INTO decryption_signatures
			  (user_address, chain_id, contracts, start_ts, duration_days, payload, created_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	_, err = r.db.GetDB().ExecContext(ctx, query,
		strings.ToLower(sig.UserAddress.Hex()), int64(sig.ChainID), contractsKey(sig.ContractAddresses),
		sig.StartTimestamp, sig.DurationDays, string(payload), time.Now().UTC())
	if err != nil {
		return fmt.Errorf("failed to save decryption signature: %w", err)
	}
	return nil
}

// DeleteExpired removes signatures whose validity window ended before now.
func (r *SignatureRepository) DeleteExpired(ctx context.Context, now time.Time) (int64, error) {
	query := `DELETE FROM decryption_signatures WHERE start_ts + duration_days * 86400 <= ?`
	res, err := r.db.GetDB().ExecContext(ctx, query, now.Unix())
	if err != nil {
		return 0, fmt.Errorf("failed to delete expired signatures: %w", err)
	}
	return res.RowsAffected()
}
