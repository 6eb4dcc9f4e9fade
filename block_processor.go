package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	arkivevents "github.com/Arkiv-Network/arkiv-events"
	"github.com/Arkiv-Network/arkiv-events/events"
	"github.com/Arkiv-Network/sqlite-bitmap-store/pusher"
	"github.com/ethereum/go-ethereum/common"
)

// artworkBTL keeps indexed artworks alive for as long as the index runs.
const artworkBTL = uint64(1) << 40

// Indexer turns queued artworks into index blocks on a fixed interval and
// feeds them to the store through a push iterator.
type Indexer struct {
	mu       sync.Mutex
	store    *IndexStore
	queue    *IndexQueue
	interval time.Duration
	logger   *slog.Logger

	ticker       *time.Ticker
	done         chan struct{}
	pushIterator *pusher.PushIterator
	ctx          context.Context
	cancel       context.CancelFunc
	wg           sync.WaitGroup
}

func NewIndexer(store *IndexStore, queue *IndexQueue, interval time.Duration, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{store: store, queue: queue, interval: interval, logger: logger}
}

// Start begins processing. Calling Start on a running indexer does nothing.
func (ix *Indexer) Start() {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	if ix.ticker != nil {
		ix.logger.Info("indexer already running")
		return
	}

	ix.ctx, ix.cancel = context.WithCancel(context.Background())
	next := ix.store.LastBlock(ix.ctx) + 1
	ix.queue.SetCurrentBlockNumber(next)
	ix.logger.Info("starting index block processor", "nextBlock", next, "interval", ix.interval)

	ix.pushIterator = pusher.NewPushIterator()
	it := ix.pushIterator.Iterator()
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		if err := ix.store.FollowEvents(ix.ctx, arkivevents.BatchIterator(it)); err != nil {
			if errors.Is(err, context.Canceled) {
				ix.logger.Info("index follow events stopped")
			} else {
				ix.logger.Error("index follow events failed", "error", err)
			}
		}
	}()

	ix.ticker = time.NewTicker(ix.interval)
	ix.done = make(chan struct{})
	ticker, done := ix.ticker, ix.done
	ix.wg.Add(1)
	go func() {
		defer ix.wg.Done()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				ix.safeProcess()
			}
		}
	}()
}

// Stop halts the ticker and the follower and waits for both.
func (ix *Indexer) Stop() {
	ix.mu.Lock()
	if ix.ticker == nil {
		ix.mu.Unlock()
		return
	}
	ix.ticker.Stop()
	close(ix.done)
	ix.cancel()
	ix.pushIterator.Close()
	ix.ticker = nil
	ix.mu.Unlock()

	ix.wg.Wait()
	ix.logger.Info("index block processor stopped")
}

// Flush writes pending artworks immediately.
func (ix *Indexer) Flush() {
	ix.safeProcess()
}

func (ix *Indexer) safeProcess() {
	defer func() {
		if r := recover(); r != nil {
			ix.logger.Error("panic in index block processor", "panic", fmt.Sprint(r))
		}
	}()
	ix.processBlock()
}

func (ix *Indexer) processBlock() {
	ix.mu.Lock()
	it, ctx := ix.pushIterator, ix.ctx
	ix.mu.Unlock()
	if it == nil {
		return
	}

	startTime := time.Now()
	blockNumber := ix.queue.GetCurrentBlockNumber()
	pending := ix.queue.DequeueAll()
	if len(pending) == 0 {
		return
	}

	block, err := buildArtworkBlock(blockNumber, pending)
	if err != nil {
		ix.logger.Error("failed to build index block", "block", blockNumber, "error", err)
		ix.queue.Requeue(pending)
		return
	}
	if ctx.Err() != nil {
		ix.queue.Requeue(pending)
		return
	}

	it.Push(ctx, events.BlockBatch{Blocks: []events.Block{block}})

	duration := time.Since(startTime)
	ix.logger.Info("index block pushed", "block", blockNumber, "artworks", len(pending), "duration", duration)
	if duration > 1000*time.Millisecond {
		logIndexWarning(blockNumber, len(pending), duration)
	}
}

// buildArtworkBlock packs pending artworks into one block of create
// operations, ten operations per transaction.
func buildArtworkBlock(blockNumber uint64, pending []*PendingArtwork) (events.Block, error) {
	block := events.Block{
		Number:     blockNumber,
		Operations: make([]events.Operation, 0, len(pending)),
	}
	for i, p := range pending {
		op, err := artworkOperation(p)
		if err != nil {
			return events.Block{}, err
		}
		op.TxIndex = uint64(i / 10)
		op.OpIndex = uint64(i % 10)
		block.Operations = append(block.Operations, op)
	}
	return block, nil
}

func artworkOperation(p *PendingArtwork) (events.Operation, error) {
	content, err := json.Marshal(p.Artwork)
	if err != nil {
		return events.Operation{}, fmt.Errorf("failed to encode artwork %d: %w", p.Artwork.ID, err)
	}
	contract := common.HexToAddress(p.Contract)
	stringAttrs, numericAttrs := artworkAttributes(p.ChainID, contract, p.Artwork)
	return events.Operation{
		Create: &events.OPCreate{
			Key:               artworkKey(p.ChainID, contract, p.Artwork.ID),
			ContentType:       artworkContentType,
			BTL:               artworkBTL,
			Owner:             p.Artwork.Artist,
			Content:           content,
			StringAttributes:  stringAttrs,
			NumericAttributes: numericAttrs,
		},
	}, nil
}
