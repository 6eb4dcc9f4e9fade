package gallery

import (
	"context"
	"errors"
	"math/big"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ipfs/go-cid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type markKey struct {
	chainID uint64
	account common.Address
}

type memMarkStore struct {
	liked map[markKey][]uint64
	voted map[markKey][]uint64
	err   error
}

func newMemMarkStore() *memMarkStore {
	return &memMarkStore{liked: map[markKey][]uint64{}, voted: map[markKey][]uint64{}}
}

func (s *memMarkStore) LoadMarks(ctx context.Context, chainID uint64, account common.Address) ([]uint64, []uint64, error) {
	k := markKey{chainID, account}
	return s.liked[k], s.voted[k], nil
}

func (s *memMarkStore) SaveMark(ctx context.Context, chainID uint64, account common.Address, kind string, artworkID uint64) error {
	if s.err != nil {
		return s.err
	}
	k := markKey{chainID, account}
	if kind == MarkLiked {
		s.liked[k] = append(s.liked[k], artworkID)
	} else {
		s.voted[k] = append(s.voted[k], artworkID)
	}
	return nil
}

func TestSessionMarks(t *testing.T) {
	ctx := context.Background()
	s := NewSession(aliceAddr, 31337)

	assert.False(t, s.HasLiked(1))
	s.MarkLiked(ctx, 1)
	s.MarkVoted(ctx, 2)
	assert.True(t, s.HasLiked(1))
	assert.False(t, s.HasVoted(1))
	assert.True(t, s.HasVoted(2))

	s.SetDecrypted(common.HexToHash("0x01"), big.NewInt(4))
	s.SetLikeCount(1, big.NewInt(4))
	snap := s.Snapshot()
	assert.Equal(t, []uint64{1}, snap.Liked)
	assert.Equal(t, []uint64{2}, snap.Voted)
	assert.Equal(t, "4", snap.LikeCounts[1])
	assert.Len(t, snap.Decrypted, 1)

	require.NoError(t, s.Reset(ctx, bobAddr, 11155111))
	assert.False(t, s.HasLiked(1))
	assert.Equal(t, bobAddr, s.Account())
	assert.Equal(t, uint64(11155111), s.ChainID())
	_, ok := s.LikeCount(1)
	assert.False(t, ok)
}

func TestSessionPersistsMarks(t *testing.T) {
	ctx := context.Background()
	store := newMemMarkStore()

	s := NewSession(aliceAddr, 31337)
	require.NoError(t, s.AttachMarkStore(ctx, store))
	s.MarkLiked(ctx, 7)
	s.MarkVoted(ctx, 8)

	restored := NewSession(aliceAddr, 31337)
	require.NoError(t, restored.AttachMarkStore(ctx, store))
	assert.True(t, restored.HasLiked(7))
	assert.True(t, restored.HasVoted(8))

	// Marks are per account.
	require.NoError(t, restored.Reset(ctx, bobAddr, 31337))
	assert.False(t, restored.HasLiked(7))

	// Marks are per chain.
	require.NoError(t, restored.Reset(ctx, aliceAddr, 11155111))
	assert.False(t, restored.HasLiked(7))
}

func (s *memMarkStore) ClearMarks(ctx context.Context, chainID uint64, account common.Address) error {
	if s.err != nil {
		return s.err
	}
	k := markKey{chainID, account}
	delete(s.liked, k)
	delete(s.voted, k)
	return nil
}

func TestSessionForgetMarks(t *testing.T) {
	ctx := context.Background()
	store := newMemMarkStore()
	store.liked[markKey{31337, bobAddr}] = []uint64{9}

	s := NewSession(aliceAddr, 31337)
	require.NoError(t, s.AttachMarkStore(ctx, store))
	s.MarkLiked(ctx, 7)
	s.MarkVoted(ctx, 8)
	s.SetLikeCount(7, big.NewInt(2))

	require.NoError(t, s.ForgetMarks(ctx))
	assert.False(t, s.HasLiked(7))
	assert.False(t, s.HasVoted(8))
	_, ok := s.LikeCount(7)
	assert.True(t, ok)

	restored := NewSession(aliceAddr, 31337)
	require.NoError(t, restored.AttachMarkStore(ctx, store))
	assert.False(t, restored.HasLiked(7))

	// Other accounts keep their marks.
	assert.Equal(t, []uint64{9}, store.liked[markKey{31337, bobAddr}])
}

func TestSessionMarkSurvivesStoreFailure(t *testing.T) {
	ctx := context.Background()
	store := newMemMarkStore()
	store.err = errors.New("disk full")

	s := NewSession(aliceAddr, 31337)
	require.NoError(t, s.AttachMarkStore(ctx, store))
	s.MarkLiked(ctx, 3)
	assert.True(t, s.HasLiked(3))
}

func TestCategories(t *testing.T) {
	cats := Categories()
	require.Len(t, cats, 4)
	assert.Equal(t, CategoryClassic, cats[0].ID)

	name, ok := CategoryName(CategoryCalligraphy)
	assert.True(t, ok)
	assert.Equal(t, "书法", name)

	assert.True(t, IsKnownCategory(CategoryModern))
	assert.False(t, IsKnownCategory("Campus-Modern"))
	assert.False(t, IsKnownCategory(""))

	cats[0].ID = "changed"
	assert.Equal(t, CategoryClassic, Categories()[0].ID)
}

func TestParseTags(t *testing.T) {
	tests := []struct {
		raw  string
		want []string
	}{
		{"", []string{}},
		{"a", []string{"a"}},
		{" a , b ,c ", []string{"a", "b", "c"}},
		{"a,,b, ,", []string{"a", "b"}},
		{"校园, 速写", []string{"校园", "速写"}},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, ParseTags(tt.raw), tt.raw)
	}
}

func TestContentRef(t *testing.T) {
	ref, err := ContentRef([]byte("campus gallery"))
	require.NoError(t, err)
	require.True(t, strings.HasPrefix(ref, "ipfs://Qm"))

	c, err := cid.Decode(strings.TrimPrefix(ref, "ipfs://"))
	require.NoError(t, err)
	assert.Equal(t, uint64(0), c.Version())

	again, err := ContentRef([]byte("campus gallery"))
	require.NoError(t, err)
	assert.Equal(t, ref, again)

	other, err := ContentRef([]byte("campus gallery!"))
	require.NoError(t, err)
	assert.NotEqual(t, ref, other)
}
