package chain

import (
	"context"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"

	"campusgallery/fhe"
)

// MemoryGallery is an in-process CampusGallery used on development setups
// without a node. Like and vote counters live encrypted in a Coprocessor.
type MemoryGallery struct {
	mu       sync.Mutex
	address  common.Address
	sender   common.Address
	cop      *fhe.Coprocessor
	artworks []Artwork
	likes    map[uint64]fhe.Handle
	votes    map[uint64]map[string]fhe.Handle
	txSeq    uint64
	now      func() time.Time
}

// NewMemoryGallery creates an empty gallery at address whose writes are
// attributed to sender.
func NewMemoryGallery(address, sender common.Address, cop *fhe.Coprocessor) *MemoryGallery {
	return &MemoryGallery{
		address: address,
		sender:  sender,
		cop:     cop,
		likes:   make(map[uint64]fhe.Handle),
		votes:   make(map[uint64]map[string]fhe.Handle),
		now:     time.Now,
	}
}

func (g *MemoryGallery) Address() common.Address {
	return g.address
}

func (g *MemoryGallery) GetAllArtworks(ctx context.Context) ([]uint64, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	ids := make([]uint64, len(g.artworks))
	for i, a := range g.artworks {
		ids[i] = a.ID
	}
	return ids, nil
}

func (g *MemoryGallery) GetArtwork(ctx context.Context, id uint64) (Artwork, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, err := g.artwork(id)
	if err != nil {
		return Artwork{}, err
	}
	return *a, nil
}

func (g *MemoryGallery) GetLikes(ctx context.Context, id uint64) (fhe.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.artwork(id); err != nil {
		return fhe.Handle{}, err
	}
	return g.likes[id], nil
}

func (g *MemoryGallery) GetVotes(ctx context.Context, id uint64, category string) (fhe.Handle, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.artwork(id); err != nil {
		return fhe.Handle{}, err
	}
	return g.votes[id][category], nil
}

func (g *MemoryGallery) SubmitPainting(ctx context.Context, s Submission) (Tx, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	id := uint64(len(g.artworks)) + 1
	g.artworks = append(g.artworks, Artwork{
		ID:              id,
		Artist:          g.sender,
		Title:           s.Title,
		DescriptionHash: s.DescriptionHash,
		FileHash:        s.FileHash,
		Tags:            append([]string{}, s.Tags...),
		Categories:      append([]string{}, s.Categories...),
		Timestamp:       uint64(g.now().Unix()),
	})
	return g.newTx(), nil
}

func (g *MemoryGallery) Like(ctx context.Context, id uint64) (Tx, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, err := g.artwork(id); err != nil {
		return nil, err
	}
	h, err := g.cop.Increment(g.address, g.likes[id])
	if err != nil {
		return nil, fmt.Errorf("likeArtwork: %w", err)
	}
	g.likes[id] = h
	return g.newTx(), nil
}

func (g *MemoryGallery) Vote(ctx context.Context, id uint64, category string) (Tx, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	a, err := g.artwork(id)
	if err != nil {
		return nil, err
	}
	if !a.HasCategory(category) {
		return nil, fmt.Errorf("voteArtwork: artwork %d is not in category %s", id, category)
	}
	if g.votes[id] == nil {
		g.votes[id] = make(map[string]fhe.Handle)
	}
	h, err := g.cop.Increment(g.address, g.votes[id][category])
	if err != nil {
		return nil, fmt.Errorf("voteArtwork: %w", err)
	}
	g.votes[id][category] = h
	return g.newTx(), nil
}

// artwork must be called with g.mu held.
func (g *MemoryGallery) artwork(id uint64) (*Artwork, error) {
	if id == 0 || id > uint64(len(g.artworks)) {
		return nil, fmt.Errorf("artwork %d does not exist", id)
	}
	return &g.artworks[id-1], nil
}

func (g *MemoryGallery) newTx() Tx {
	g.txSeq++
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], g.txSeq)
	return memoryTx(common.BytesToHash(crypto.Keccak256(g.address.Bytes(), buf[:])))
}

// memoryTx is mined as soon as it is created.
type memoryTx common.Hash

func (t memoryTx) Hash() common.Hash {
	return common.Hash(t)
}

func (t memoryTx) Wait(ctx context.Context) error {
	return ctx.Err()
}
