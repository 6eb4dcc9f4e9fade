package fhe

import (
	"context"
	"encoding/json"
	"errors"
	"math/big"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	gerrors "campusgallery/errors"
)

var (
	galleryAddr = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	otherAddr   = common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
)

func newTestSigner(t *testing.T) *KeySigner {
	t.Helper()
	key, err := crypto.GenerateKey()
	require.NoError(t, err)
	return NewKeySigner(key)
}

func TestParseHandle(t *testing.T) {
	h, err := ParseHandle("0x0000000000000000000000000000000000000000000000000000000000000000")
	require.NoError(t, err)
	assert.True(t, IsZero(h))

	h, err = ParseHandle("0x" + "ab" + "00000000000000000000000000000000000000000000000000000000000001")
	require.NoError(t, err)
	assert.False(t, IsZero(h))

	_, err = ParseHandle("0x1234")
	assert.Error(t, err)
	_, err = ParseHandle("nothex")
	assert.Error(t, err)
}

func TestNonZeroAndResults(t *testing.T) {
	live := common.HexToHash("0x01")
	pairs := []HandleContractPair{
		{Handle: ZeroHandle, ContractAddress: galleryAddr},
		{Handle: live, ContractAddress: galleryAddr},
		{Handle: ZeroHandle, ContractAddress: galleryAddr},
	}
	valid := NonZero(pairs)
	require.Len(t, valid, 1)
	assert.Equal(t, live, valid[0].Handle)

	res := Results{live: big.NewInt(7)}
	v, ok := res.Value(ZeroHandle)
	require.True(t, ok)
	assert.Equal(t, int64(0), v.Int64())
	v, ok = res.Value(live)
	require.True(t, ok)
	assert.Equal(t, int64(7), v.Int64())
}

func TestDecryptionSignatureVerify(t *testing.T) {
	signer := newTestSigner(t)
	now := time.Now()

	sig, err := NewDecryptionSignature(signer, SignRequest{
		ContractAddresses: []common.Address{otherAddr, galleryAddr},
		ChainID:           31337,
		StartTimestamp:    now.Unix(),
		DurationDays:      10,
	})
	require.NoError(t, err)
	require.NoError(t, sig.Verify())

	assert.Equal(t, signer.Address(), sig.UserAddress)
	assert.True(t, sig.Covers(galleryAddr))
	assert.True(t, sig.ValidAt(now))
	assert.False(t, sig.ValidAt(now.Add(11*24*time.Hour)))
	assert.False(t, sig.ValidAt(now.Add(-time.Minute)))
	assert.Len(t, sig.PublicKey, 65)

	// Tampering with the signed window must break verification.
	sig.DurationDays = 1000
	assert.Error(t, sig.Verify())
}

func TestNewDecryptionSignatureRequiresContracts(t *testing.T) {
	_, err := NewDecryptionSignature(newTestSigner(t), SignRequest{ChainID: 1})
	require.ErrorIs(t, err, gerrors.ErrDecryptFailed)
}

type memSignatureStore struct {
	saved []*DecryptionSignature
}

func (s *memSignatureStore) LoadSignature(ctx context.Context, user common.Address, chainID uint64, contracts []common.Address) (*DecryptionSignature, error) {
	for _, sig := range s.saved {
		if sig.UserAddress == user && sig.ChainID == chainID {
			return sig, nil
		}
	}
	return nil, nil
}

func (s *memSignatureStore) SaveSignature(ctx context.Context, sig *DecryptionSignature) error {
	s.saved = append(s.saved, sig)
	return nil
}

func TestAuthorizerReusesSignature(t *testing.T) {
	signer := newTestSigner(t)
	store := &memSignatureStore{}
	auth := NewAuthorizer(31337, common.Address{}, store)

	first, err := auth.Authorize(context.Background(), signer, []common.Address{galleryAddr})
	require.NoError(t, err)
	second, err := auth.Authorize(context.Background(), signer, []common.Address{galleryAddr})
	require.NoError(t, err)
	assert.Same(t, first, second)
	assert.Len(t, store.saved, 1)

	// A fresh authorizer picks the persisted signature up.
	again := NewAuthorizer(31337, common.Address{}, store)
	third, err := again.Authorize(context.Background(), signer, []common.Address{galleryAddr})
	require.NoError(t, err)
	assert.Equal(t, first.Signature, third.Signature)

	// Expired signatures are replaced.
	auth.now = func() time.Time { return time.Now().Add(400 * 24 * time.Hour) }
	fourth, err := auth.Authorize(context.Background(), signer, []common.Address{galleryAddr})
	require.NoError(t, err)
	assert.NotEqual(t, first.Signature, fourth.Signature)
}

type countingDecryptor struct {
	calls int
	pairs []HandleContractPair
	err   error
}

func (d *countingDecryptor) UserDecrypt(ctx context.Context, pairs []HandleContractPair, sig *DecryptionSignature) (Results, error) {
	d.calls++
	d.pairs = pairs
	if d.err != nil {
		return nil, d.err
	}
	res := Results{}
	for i, p := range pairs {
		res[p.Handle] = big.NewInt(int64(i + 1))
	}
	return res, nil
}

func TestDecryptNonZeroSkipsSentinels(t *testing.T) {
	d := &countingDecryptor{}
	_, err := DecryptNonZero(context.Background(), d, []HandleContractPair{
		{Handle: ZeroHandle, ContractAddress: galleryAddr},
		{Handle: ZeroHandle, ContractAddress: galleryAddr},
	}, nil)
	require.ErrorIs(t, err, gerrors.ErrNoData)
	assert.Equal(t, 0, d.calls)

	live := common.HexToHash("0x0a")
	res, err := DecryptNonZero(context.Background(), d, []HandleContractPair{
		{Handle: ZeroHandle, ContractAddress: galleryAddr},
		{Handle: live, ContractAddress: galleryAddr},
	}, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, d.calls)
	require.Len(t, d.pairs, 1)
	assert.Equal(t, live, d.pairs[0].Handle)
	assert.Equal(t, int64(1), res[live].Int64())
}

func TestDecryptNonZeroWrapsFailure(t *testing.T) {
	d := &countingDecryptor{err: errors.New("gateway down")}
	_, err := DecryptNonZero(context.Background(), d, []HandleContractPair{
		{Handle: common.HexToHash("0x0b"), ContractAddress: galleryAddr},
	}, nil)
	require.ErrorIs(t, err, gerrors.ErrDecryptFailed)
	assert.Equal(t, "Decrypt failed: gateway down", gerrors.Message(err))
}

func TestHTTPRelayer(t *testing.T) {
	live := common.HexToHash("0x0c")
	var got userDecryptRequest

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/v1/user-decrypt", r.URL.Path)
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.Header().Set("Content-Type", "application/json")
		json.NewEncoder(w).Encode(userDecryptResponse{Results: map[string]string{live.Hex(): "42"}})
	}))
	defer srv.Close()

	signer := newTestSigner(t)
	sig, err := NewDecryptionSignature(signer, SignRequest{
		ContractAddresses: []common.Address{galleryAddr},
		ChainID:           11155111,
		StartTimestamp:    1700000000,
		DurationDays:      365,
	})
	require.NoError(t, err)

	relayer := NewHTTPRelayer(srv.URL + "/")
	res, err := relayer.UserDecrypt(context.Background(), []HandleContractPair{{Handle: live, ContractAddress: galleryAddr}}, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(42), res[live].Int64())

	assert.Equal(t, "11155111", got.ContractsChainID)
	assert.Equal(t, "1700000000", got.RequestValidity.StartTimestamp)
	assert.Equal(t, "365", got.RequestValidity.DurationDays)
	assert.Equal(t, signer.Address(), got.UserAddress)
	require.Len(t, got.HandleContractPairs, 1)
}

func TestHTTPRelayerErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "invalid signature", http.StatusBadRequest)
	}))
	defer srv.Close()

	sig := &DecryptionSignature{ContractAddresses: []common.Address{galleryAddr}}
	_, err := NewHTTPRelayer(srv.URL).UserDecrypt(context.Background(), nil, sig)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid signature")
}

// plaintext decrypts h without a signature.
func plaintext(t *testing.T, cop *Coprocessor, h Handle) uint64 {
	t.Helper()
	cop.mu.Lock()
	defer cop.mu.Unlock()
	v, err := cop.decrypt(h)
	require.NoError(t, err)
	return v
}

func TestCoprocessorCounters(t *testing.T) {
	cop, err := NewCoprocessor(31337, nil)
	require.NoError(t, err)

	h, err := cop.Increment(galleryAddr, ZeroHandle)
	require.NoError(t, err)
	h2, err := cop.Increment(galleryAddr, h)
	require.NoError(t, err)
	h3, err := cop.Add(galleryAddr, h2, 5)
	require.NoError(t, err)

	assert.NotEqual(t, h, h2)
	for handle, want := range map[Handle]uint64{h: 1, h2: 2, h3: 7} {
		assert.Equal(t, want, plaintext(t, cop, handle))
	}

	_, err = cop.Increment(galleryAddr, common.HexToHash("0xdead"))
	assert.Error(t, err)
}

func TestCoprocessorUserDecrypt(t *testing.T) {
	cop, err := NewCoprocessor(31337, nil)
	require.NoError(t, err)
	h, err := cop.Add(galleryAddr, ZeroHandle, 3)
	require.NoError(t, err)

	signer := newTestSigner(t)
	sig, err := NewDecryptionSignature(signer, SignRequest{
		ContractAddresses: []common.Address{galleryAddr},
		ChainID:           31337,
		StartTimestamp:    time.Now().Add(-time.Hour).Unix(),
		DurationDays:      1,
	})
	require.NoError(t, err)

	res, err := cop.UserDecrypt(context.Background(), []HandleContractPair{{Handle: h, ContractAddress: galleryAddr}}, sig)
	require.NoError(t, err)
	assert.Equal(t, int64(3), res[h].Int64())

	// Contract outside the signed set.
	_, err = cop.UserDecrypt(context.Background(), []HandleContractPair{{Handle: h, ContractAddress: otherAddr}}, sig)
	assert.Error(t, err)

	// Wrong chain.
	other, err := NewCoprocessor(11155111, nil)
	require.NoError(t, err)
	_, err = other.UserDecrypt(context.Background(), []HandleContractPair{{Handle: h, ContractAddress: galleryAddr}}, sig)
	assert.Error(t, err)

	// Expired window.
	cop.now = func() time.Time { return time.Now().Add(48 * time.Hour) }
	_, err = cop.UserDecrypt(context.Background(), []HandleContractPair{{Handle: h, ContractAddress: galleryAddr}}, sig)
	assert.Error(t, err)
}
