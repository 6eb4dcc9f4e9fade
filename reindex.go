package main

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	arkivevents "github.com/Arkiv-Network/arkiv-events"
	"github.com/Arkiv-Network/arkiv-events/events"
	"github.com/Arkiv-Network/sqlite-bitmap-store/pusher"
	"github.com/ethereum/go-ethereum/common"

	"campusgallery/chain"
	gerrors "campusgallery/errors"
)

const defaultArtworksPerBlock = 100

// ReindexOptions configures a rebuild of the artwork index from the chain.
type ReindexOptions struct {
	// Target is the index database to write. It should not be the live one.
	Target string
	// PerBlock is the number of artworks written per index block.
	PerBlock int
	// CSVLog receives one row per written block when set.
	CSVLog string
	// Settle bounds the wait for the store to apply the last block.
	Settle time.Duration
}

// ReindexResult summarizes a rebuild.
type ReindexResult struct {
	Artworks     int
	Blocks       int
	LastBlock    uint64
	ReadTime     time.Duration
	AvgWriteTime time.Duration
}

// readChainArtworks reads every artwork of g once, oldest first.
func readChainArtworks(ctx context.Context, g chain.Gallery) ([]chain.Artwork, error) {
	ids, err := g.GetAllArtworks(ctx)
	if err != nil {
		return nil, gerrors.WrapError("read artworks", gerrors.ErrReadFailed, err)
	}
	seen := make(map[uint64]bool, len(ids))
	list := make([]chain.Artwork, 0, len(ids))
	for _, id := range ids {
		if seen[id] {
			continue
		}
		seen[id] = true
		a, err := g.GetArtwork(ctx, id)
		if err != nil {
			return nil, gerrors.WrapError("read artworks", gerrors.ErrReadFailed, err)
		}
		list = append(list, a)
	}
	sort.Slice(list, func(i, j int) bool { return list[i].ID < list[j].ID })
	return list, nil
}

// Reindex writes every artwork of g into a fresh index at opts.Target.
func Reindex(ctx context.Context, g chain.Gallery, chainID uint64, opts ReindexOptions, logger *slog.Logger) (ReindexResult, error) {
	if opts.PerBlock <= 0 {
		opts.PerBlock = defaultArtworksPerBlock
	}
	if opts.Settle <= 0 {
		opts.Settle = 30 * time.Second
	}
	var res ReindexResult

	readStart := time.Now()
	artworks, err := readChainArtworks(ctx, g)
	if err != nil {
		return res, err
	}
	res.ReadTime = time.Since(readStart)
	res.Artworks = len(artworks)
	logger.Info("reindex read artworks from chain", "artworks", len(artworks), "duration", res.ReadTime)

	target, err := OpenIndexStore(logger, opts.Target)
	if err != nil {
		return res, err
	}
	defer target.Close()

	var report *csv.Writer
	if opts.CSVLog != "" {
		f, err := os.Create(opts.CSVLog)
		if err != nil {
			return res, fmt.Errorf("failed to create CSV log file: %w", err)
		}
		defer f.Close()
		report = csv.NewWriter(f)
		defer report.Flush()
		header := []string{"block", "artworks", "string_attributes", "numeric_attributes", "write_time_ms", "output_db_size_bytes"}
		if err := report.Write(header); err != nil {
			return res, err
		}
	}

	followCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	it := pusher.NewPushIterator()
	followDone := make(chan error, 1)
	go func() {
		followDone <- target.FollowEvents(followCtx, arkivevents.BatchIterator(it.Iterator()))
	}()

	contract := g.Address()
	blockNumber := target.LastBlock(ctx) + 1
	var totalWrite time.Duration
	for start := 0; start < len(artworks); start += opts.PerBlock {
		end := start + opts.PerBlock
		if end > len(artworks) {
			end = len(artworks)
		}

		writeStart := time.Now()
		pending := pendingFor(chainID, contract, artworks[start:end])
		block, err := buildArtworkBlock(blockNumber, pending)
		if err != nil {
			it.Close()
			return res, err
		}
		it.Push(followCtx, events.BlockBatch{Blocks: []events.Block{block}})
		writeTime := time.Since(writeStart)
		totalWrite += writeTime

		if report != nil {
			stringAttrs, numericAttrs := countAttributes(block)
			var size int64
			if info, err := os.Stat(opts.Target); err == nil {
				size = info.Size()
			}
			err := report.Write([]string{
				strconv.FormatUint(blockNumber, 10),
				strconv.Itoa(len(pending)),
				strconv.Itoa(stringAttrs),
				strconv.Itoa(numericAttrs),
				strconv.FormatFloat(float64(writeTime.Nanoseconds())/1e6, 'f', 2, 64),
				strconv.FormatInt(size, 10),
			})
			if err != nil {
				it.Close()
				return res, fmt.Errorf("failed to write CSV log: %w", err)
			}
		}

		res.Blocks++
		res.LastBlock = blockNumber
		blockNumber++
	}
	if res.Blocks > 0 {
		res.AvgWriteTime = totalWrite / time.Duration(res.Blocks)
	}

	if res.Blocks > 0 {
		if err := waitForBlock(ctx, target, res.LastBlock, opts.Settle); err != nil {
			it.Close()
			return res, err
		}
	}
	it.Close()
	cancel()
	if err := <-followDone; err != nil && !errors.Is(err, context.Canceled) {
		logger.Warn("reindex follower stopped with error", "error", err)
	}

	if report != nil {
		report.Flush()
		if err := report.Error(); err != nil {
			return res, fmt.Errorf("failed to write CSV log: %w", err)
		}
	}

	logger.Info("reindex block batch processed", "artworks", res.Artworks, "blocks", res.Blocks,
		"lastBlock", res.LastBlock, "avgWriteTime", res.AvgWriteTime)
	return res, nil
}

// samePath reports whether a and b name the same file once made absolute.
func samePath(a, b string) bool {
	absA, errA := filepath.Abs(a)
	absB, errB := filepath.Abs(b)
	if errA != nil || errB != nil {
		return filepath.Clean(a) == filepath.Clean(b)
	}
	return absA == absB
}

func pendingFor(chainID uint64, contract common.Address, artworks []chain.Artwork) []*PendingArtwork {
	pending := make([]*PendingArtwork, len(artworks))
	for i, a := range artworks {
		pending[i] = &PendingArtwork{
			ID:       fmt.Sprintf("reindex-%d", a.ID),
			ChainID:  chainID,
			Contract: strings.ToLower(contract.Hex()),
			Artwork:  a,
		}
	}
	return pending
}

// countAttributes counts string and numeric attributes in a block
func countAttributes(block events.Block) (stringCount, numericCount int) {
	for _, op := range block.Operations {
		if op.Create == nil {
			continue
		}
		stringCount += len(op.Create.StringAttributes)
		numericCount += len(op.Create.NumericAttributes)
	}
	return
}

// waitForBlock polls until the store reports block as applied.
func waitForBlock(ctx context.Context, s *IndexStore, block uint64, timeout time.Duration) error {
	ticker := time.NewTicker(100 * time.Millisecond)
	defer ticker.Stop()
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()

	for {
		if s.LastBlock(ctx) >= block {
			return nil
		}
		select {
		case <-ticker.C:
		case <-deadline.C:
			return fmt.Errorf("index did not reach block %d within %s", block, timeout)
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// RunReindex rebuilds the index of the selected network's contract.
func (a *App) RunReindex(ctx context.Context, opts ReindexOptions) (ReindexResult, error) {
	n, err := a.cfg.SelectedNetwork()
	if err != nil {
		return ReindexResult{}, err
	}
	binding, _, err := a.bindingFor(ctx, n)
	if err != nil {
		return ReindexResult{}, err
	}
	if binding.Gallery == nil {
		return ReindexResult{}, gerrors.WrapError("reindex", gerrors.ErrUnsupportedNetwork, nil)
	}
	if samePath(opts.Target, a.cfg.IndexDBPath) {
		return ReindexResult{}, gerrors.Wrapf("reindex", gerrors.ErrValidation, "target must differ from the live index %s", a.cfg.IndexDBPath)
	}
	return Reindex(ctx, binding.Gallery, n.ChainID, opts, a.logger)
}
