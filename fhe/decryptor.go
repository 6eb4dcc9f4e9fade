package fhe

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math/big"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"

	gerrors "campusgallery/errors"
)

// Decryptor resolves handles to plaintext for the holder of sig.
type Decryptor interface {
	UserDecrypt(ctx context.Context, pairs []HandleContractPair, sig *DecryptionSignature) (Results, error)
}

// DecryptNonZero submits only the non-sentinel handles of pairs. When none
// remain it returns ErrNoData without contacting d.
func DecryptNonZero(ctx context.Context, d Decryptor, pairs []HandleContractPair, sig *DecryptionSignature) (Results, error) {
	valid := NonZero(pairs)
	if len(valid) == 0 {
		return nil, gerrors.WrapError("decrypt", gerrors.ErrNoData, nil)
	}
	res, err := d.UserDecrypt(ctx, valid, sig)
	if err != nil {
		return nil, gerrors.WrapError("decrypt", gerrors.ErrDecryptFailed, err)
	}
	for _, p := range valid {
		if _, ok := res[p.Handle]; !ok {
			return nil, gerrors.Wrapf("decrypt", gerrors.ErrDecryptFailed, "no value returned for handle %s", p.Handle.Hex())
		}
	}
	return res, nil
}

type requestValidity struct {
	StartTimestamp string `json:"startTimestamp"`
	DurationDays   string `json:"durationDays"`
}

type userDecryptRequest struct {
	HandleContractPairs []HandleContractPair `json:"handleContractPairs"`
	RequestValidity     requestValidity      `json:"requestValidity"`
	ContractsChainID    string               `json:"contractsChainId"`
	ContractAddresses   []common.Address     `json:"contractAddresses"`
	UserAddress         common.Address       `json:"userAddress"`
	Signature           string               `json:"signature"`
	PublicKey           string               `json:"publicKey"`
	ExtraData           string               `json:"extraData"`
}

type userDecryptResponse struct {
	Results map[string]string `json:"results"`
	Message string            `json:"message,omitempty"`
}

// HTTPRelayer sends user decryption requests to a decryption gateway.
type HTTPRelayer struct {
	baseURL string
	client  *http.Client
}

func NewHTTPRelayer(baseURL string) *HTTPRelayer {
	return &HTTPRelayer{
		baseURL: strings.TrimRight(baseURL, "/"),
		client:  &http.Client{Timeout: 60 * time.Second},
	}
}

func (r *HTTPRelayer) UserDecrypt(ctx context.Context, pairs []HandleContractPair, sig *DecryptionSignature) (Results, error) {
	body := userDecryptRequest{
		HandleContractPairs: pairs,
		RequestValidity: requestValidity{
			StartTimestamp: strconv.FormatInt(sig.StartTimestamp, 10),
			DurationDays:   strconv.FormatInt(sig.DurationDays, 10),
		},
		ContractsChainID:  strconv.FormatUint(sig.ChainID, 10),
		ContractAddresses: sig.ContractAddresses,
		UserAddress:       sig.UserAddress,
		Signature:         strings.TrimPrefix(hexutil.Encode(sig.Signature), "0x"),
		PublicKey:         strings.TrimPrefix(hexutil.Encode(sig.PublicKey), "0x"),
		ExtraData:         "0x00",
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, r.baseURL+"/v1/user-decrypt", bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("HTTP request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("relayer returned status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var out userDecryptResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode relayer response: %w", err)
	}

	results := make(Results, len(out.Results))
	for handleHex, valueStr := range out.Results {
		h, err := ParseHandle(handleHex)
		if err != nil {
			return nil, err
		}
		v, ok := new(big.Int).SetString(valueStr, 0)
		if !ok {
			return nil, fmt.Errorf("relayer returned invalid value %q for %s", valueStr, handleHex)
		}
		results[h] = v
	}
	return results, nil
}
