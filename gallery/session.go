package gallery

import (
	"context"
	"log/slog"
	"math/big"
	"sort"
	"sync"

	"github.com/ethereum/go-ethereum/common"

	"campusgallery/fhe"
)

// Mark kinds persisted by a MarkStore.
const (
	MarkLiked = "liked"
	MarkVoted = "voted"
)

// MarkStore keeps liked/voted marks across restarts, keyed by chain and
// account.
type MarkStore interface {
	LoadMarks(ctx context.Context, chainID uint64, account common.Address) (liked, voted []uint64, err error)
	SaveMark(ctx context.Context, chainID uint64, account common.Address, kind string, artworkID uint64) error
	ClearMarks(ctx context.Context, chainID uint64, account common.Address) error
}

// Session is the state of one connected account on one chain. The liked and
// voted sets are local bookkeeping; the contract remains the authority.
type Session struct {
	mu         sync.RWMutex
	account    common.Address
	chainID    uint64
	liked      map[uint64]bool
	voted      map[uint64]bool
	decrypted  map[fhe.Handle]*big.Int
	likeCounts map[uint64]*big.Int

	marks  MarkStore
	logger *slog.Logger
}

func NewSession(account common.Address, chainID uint64) *Session {
	s := &Session{logger: slog.Default()}
	s.reset(account, chainID)
	return s
}

// WithLogger sets the logger used for mark persistence failures.
func (s *Session) WithLogger(logger *slog.Logger) *Session {
	if logger != nil {
		s.logger = logger
	}
	return s
}

// AttachMarkStore enables mark persistence and loads the marks stored for
// the current account and chain.
func (s *Session) AttachMarkStore(ctx context.Context, marks MarkStore) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.marks = marks
	return s.loadMarks(ctx)
}

// Reset drops all per-session state and starts over for account on chainID.
func (s *Session) Reset(ctx context.Context, account common.Address, chainID uint64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reset(account, chainID)
	return s.loadMarks(ctx)
}

func (s *Session) reset(account common.Address, chainID uint64) {
	s.account = account
	s.chainID = chainID
	s.liked = make(map[uint64]bool)
	s.voted = make(map[uint64]bool)
	s.decrypted = make(map[fhe.Handle]*big.Int)
	s.likeCounts = make(map[uint64]*big.Int)
}

// loadMarks must be called with s.mu held.
func (s *Session) loadMarks(ctx context.Context) error {
	if s.marks == nil || s.account == (common.Address{}) {
		return nil
	}
	liked, voted, err := s.marks.LoadMarks(ctx, s.chainID, s.account)
	if err != nil {
		return err
	}
	for _, id := range liked {
		s.liked[id] = true
	}
	for _, id := range voted {
		s.voted[id] = true
	}
	return nil
}

func (s *Session) Account() common.Address {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.account
}

func (s *Session) ChainID() uint64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.chainID
}

func (s *Session) HasLiked(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.liked[id]
}

func (s *Session) HasVoted(id uint64) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.voted[id]
}

func (s *Session) MarkLiked(ctx context.Context, id uint64) {
	s.mark(ctx, MarkLiked, id)
}

func (s *Session) MarkVoted(ctx context.Context, id uint64) {
	s.mark(ctx, MarkVoted, id)
}

func (s *Session) mark(ctx context.Context, kind string, id uint64) {
	s.mu.Lock()
	if kind == MarkLiked {
		s.liked[id] = true
	} else {
		s.voted[id] = true
	}
	marks, chainID, account := s.marks, s.chainID, s.account
	s.mu.Unlock()

	if marks == nil {
		return
	}
	if err := marks.SaveMark(ctx, chainID, account, kind, id); err != nil {
		s.logger.Warn("failed to persist session mark", "kind", kind, "artworkId", id, "error", err)
	}
}

// ForgetMarks drops the liked and voted marks of the current account and
// chain, including persisted ones. Decrypted values are kept.
func (s *Session) ForgetMarks(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.liked = make(map[uint64]bool)
	s.voted = make(map[uint64]bool)
	if s.marks == nil || s.account == (common.Address{}) {
		return nil
	}
	return s.marks.ClearMarks(ctx, s.chainID, s.account)
}

// SetDecrypted caches the plaintext of h.
func (s *Session) SetDecrypted(h fhe.Handle, v *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.decrypted[h] = new(big.Int).Set(v)
}

func (s *Session) Decrypted(h fhe.Handle) (*big.Int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.decrypted[h]
	return v, ok
}

// SetLikeCount records the decrypted like count of an artwork.
func (s *Session) SetLikeCount(id uint64, v *big.Int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.likeCounts[id] = new(big.Int).Set(v)
}

func (s *Session) LikeCount(id uint64) (*big.Int, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := s.likeCounts[id]
	return v, ok
}

// SessionSnapshot is the JSON view of a session.
type SessionSnapshot struct {
	Account    common.Address    `json:"account"`
	ChainID    uint64            `json:"chainId"`
	Liked      []uint64          `json:"liked"`
	Voted      []uint64          `json:"voted"`
	LikeCounts map[uint64]string `json:"likeCounts"`
	Decrypted  map[string]string `json:"decrypted"`
}

func (s *Session) Snapshot() SessionSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	snap := SessionSnapshot{
		Account:    s.account,
		ChainID:    s.chainID,
		Liked:      sortedIDs(s.liked),
		Voted:      sortedIDs(s.voted),
		LikeCounts: make(map[uint64]string, len(s.likeCounts)),
		Decrypted:  make(map[string]string, len(s.decrypted)),
	}
	for id, v := range s.likeCounts {
		snap.LikeCounts[id] = v.String()
	}
	for h, v := range s.decrypted {
		snap.Decrypted[h.Hex()] = v.String()
	}
	return snap
}

func sortedIDs(set map[uint64]bool) []uint64 {
	ids := make([]uint64, 0, len(set))
	for id := range set {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
