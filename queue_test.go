package main

import (
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusgallery/chain"
)

var (
	testContract = common.HexToAddress("0x5FbDB2315678afecb367f032d93F642f64180aa3")
	testArtist   = common.HexToAddress("0x70997970C51812dc3A010C7d01b50e0d17dc79C8")
)

func testArtworks(ids ...uint64) []chain.Artwork {
	out := make([]chain.Artwork, len(ids))
	for i, id := range ids {
		out[i] = chain.Artwork{
			ID:         id,
			Artist:     testArtist,
			Title:      "Artwork",
			FileHash:   "bafybeigdyrzt5sfp7udm7hu76uh7y26nf3efuylqabf3oclgtqy55fbzdi",
			Tags:       []string{"ink"},
			Categories: []string{"campus-classic"},
			Timestamp:  1700000000 + id,
		}
	}
	return out
}

func TestIndexQueueWithoutScopeDropsArtworks(t *testing.T) {
	q := NewIndexQueue()
	assert.Equal(t, 0, q.Enqueue(testArtworks(1, 2)))
	assert.Equal(t, 0, q.GetQueueSize())
}

func TestIndexQueueSkipsIndexedAndPending(t *testing.T) {
	q := NewIndexQueue()
	q.SetScope(31337, testContract, map[uint64]bool{1: true})

	assert.Equal(t, 2, q.Enqueue(testArtworks(1, 2, 3)))
	assert.Equal(t, 0, q.Enqueue(testArtworks(2, 3)))
	assert.Equal(t, 2, q.GetQueueSize())

	pending := q.DequeueAll()
	require.Len(t, pending, 2)
	assert.Equal(t, uint64(2), pending[0].Artwork.ID)
	assert.Equal(t, uint64(31337), pending[0].ChainID)
	assert.Equal(t, strings.ToLower(testContract.Hex()), pending[0].Contract)
	assert.NotEqual(t, pending[0].ID, pending[1].ID)

	// Dequeued artworks count as indexed.
	assert.Equal(t, 0, q.Enqueue(testArtworks(2, 3)))
}

func TestIndexQueueBlockNumber(t *testing.T) {
	q := NewIndexQueue()
	q.SetScope(31337, testContract, nil)
	assert.Equal(t, uint64(1), q.GetCurrentBlockNumber())

	q.DequeueAll()
	assert.Equal(t, uint64(1), q.GetCurrentBlockNumber(), "empty dequeue keeps the block")

	q.Enqueue(testArtworks(1))
	q.DequeueAll()
	assert.Equal(t, uint64(2), q.GetCurrentBlockNumber())

	q.SetCurrentBlockNumber(40)
	assert.Equal(t, uint64(40), q.GetCurrentBlockNumber())
}

func TestIndexQueueScopeChangeDropsPending(t *testing.T) {
	q := NewIndexQueue()
	q.SetScope(31337, testContract, nil)
	q.Enqueue(testArtworks(1, 2))

	other := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	q.SetScope(11155111, other, map[uint64]bool{2: true})

	assert.Equal(t, 0, q.GetQueueSize())
	chainID, contract := q.Scope()
	assert.Equal(t, uint64(11155111), chainID)
	assert.Equal(t, other, contract)
	assert.Equal(t, 1, q.Enqueue(testArtworks(1, 2)))
}

func TestIndexQueueRequeue(t *testing.T) {
	q := NewIndexQueue()
	q.SetScope(31337, testContract, nil)
	q.IndexArtworks(testArtworks(1, 2))
	pending := q.DequeueAll()

	q.Requeue(pending)
	assert.Equal(t, 2, q.GetQueueSize())

	// Artworks from a previous scope are not put back.
	stale := q.DequeueAll()
	q.SetScope(1, common.HexToAddress("0x01"), nil)
	q.Requeue(stale)
	assert.Equal(t, 0, q.GetQueueSize())
}

func TestRandomString(t *testing.T) {
	s := randomString(9)
	assert.Len(t, s, 9)
	assert.NotEqual(t, s, randomString(9))
}
