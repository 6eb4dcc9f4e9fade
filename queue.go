package main

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"campusgallery/chain"
)

// IndexQueue collects refreshed artworks until the indexer writes them as
// the next index block. Artworks already indexed for the current chain and
// contract are not queued again.
type IndexQueue struct {
	mu                 sync.Mutex
	queue              []*PendingArtwork
	indexed            map[uint64]bool
	chainID            uint64
	contract           common.Address
	currentBlockNumber uint64
}

func NewIndexQueue() *IndexQueue {
	return &IndexQueue{
		indexed:            make(map[uint64]bool),
		currentBlockNumber: 1,
	}
}

// SetScope selects the chain and contract that incoming artworks belong to.
// Changing scope drops pending artworks and replaces the indexed set.
func (q *IndexQueue) SetScope(chainID uint64, contract common.Address, indexed map[uint64]bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if chainID != q.chainID || contract != q.contract {
		q.queue = q.queue[:0]
	}
	q.chainID = chainID
	q.contract = contract
	q.indexed = make(map[uint64]bool, len(indexed))
	for id := range indexed {
		q.indexed[id] = true
	}
}

// Scope returns the current chain and contract.
func (q *IndexQueue) Scope() (uint64, common.Address) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.chainID, q.contract
}

// IndexArtworks queues every artwork not yet indexed or pending.
func (q *IndexQueue) IndexArtworks(artworks []chain.Artwork) {
	q.Enqueue(artworks)
}

// Enqueue queues artworks and returns how many were added.
func (q *IndexQueue) Enqueue(artworks []chain.Artwork) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.contract == (common.Address{}) {
		return 0
	}
	pending := make(map[uint64]bool, len(q.queue))
	for _, p := range q.queue {
		pending[p.Artwork.ID] = true
	}

	added := 0
	for _, a := range artworks {
		if q.indexed[a.ID] || pending[a.ID] {
			continue
		}
		q.queue = append(q.queue, &PendingArtwork{
			ID:       fmt.Sprintf("%d-%s", time.Now().UnixNano(), randomString(9)),
			ChainID:  q.chainID,
			Contract: strings.ToLower(q.contract.Hex()),
			Artwork:  a,
		})
		pending[a.ID] = true
		added++
	}
	return added
}

// DequeueAll removes and returns all pending artworks and marks them
// indexed. The block number advances when anything was dequeued.
func (q *IndexQueue) DequeueAll() []*PendingArtwork {
	q.mu.Lock()
	defer q.mu.Unlock()

	artworks := make([]*PendingArtwork, len(q.queue))
	copy(artworks, q.queue)
	q.queue = q.queue[:0]
	for _, p := range artworks {
		q.indexed[p.Artwork.ID] = true
	}
	if len(artworks) > 0 {
		q.currentBlockNumber++
	}
	return artworks
}

// Requeue puts artworks back after a failed write.
func (q *IndexQueue) Requeue(artworks []*PendingArtwork) {
	q.mu.Lock()
	defer q.mu.Unlock()
	for _, p := range artworks {
		if p.ChainID != q.chainID || p.Contract != strings.ToLower(q.contract.Hex()) {
			continue
		}
		delete(q.indexed, p.Artwork.ID)
		q.queue = append(q.queue, p)
	}
}

func (q *IndexQueue) GetQueueSize() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.queue)
}

func (q *IndexQueue) GetCurrentBlockNumber() uint64 {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.currentBlockNumber
}

func (q *IndexQueue) SetCurrentBlockNumber(blockNumber uint64) {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.currentBlockNumber = blockNumber
}

// randomString generates a random string of the given length
func randomString(length int) string {
	b := make([]byte, (length+3)/4*3)
	rand.Read(b)
	encoded := base64.URLEncoding.EncodeToString(b)
	if len(encoded) > length {
		return encoded[:length]
	}
	return encoded
}
