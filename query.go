package main

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	arkivevents "github.com/Arkiv-Network/arkiv-events"
	sqlitestore "github.com/Arkiv-Network/sqlite-bitmap-store"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/ethereum/go-ethereum/crypto"

	"campusgallery/chain"
)

const (
	artworkType        = "artwork"
	artworkContentType = "application/json"

	defaultQueryLimit = 100
	maxQueryLimit     = 10000
)

// IndexStore is the artwork index kept in the sqlite-bitmap-store.
type IndexStore struct {
	mu       sync.RWMutex
	store    *sqlitestore.SQLiteStore
	logger   *slog.Logger
	pageSize uint64
}

// OpenIndexStore opens or creates the index database at dbPath.
func OpenIndexStore(logger *slog.Logger, dbPath string) (*IndexStore, error) {
	s, err := sqlitestore.NewSQLiteStore(logger, dbPath, 7)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize index store: %w", err)
	}
	return &IndexStore{store: s, logger: logger, pageSize: sqlitestore.QueryResultCountLimit}, nil
}

func (s *IndexStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.store == nil {
		return nil
	}
	err := s.store.Close()
	s.store = nil
	return err
}

func (s *IndexStore) get() (*sqlitestore.SQLiteStore, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.store == nil {
		return nil, fmt.Errorf("index store not initialized")
	}
	return s.store, nil
}

// LastBlock returns the last index block written, or 0 for an empty index.
func (s *IndexStore) LastBlock(ctx context.Context) uint64 {
	st, err := s.get()
	if err != nil {
		return 0
	}
	block, err := st.GetLastBlock(ctx)
	if err != nil {
		return 0
	}
	return block
}

// UpsertLastBlock records block as the last written index block.
func (s *IndexStore) UpsertLastBlock(ctx context.Context, block uint64) error {
	st, err := s.get()
	if err != nil {
		return err
	}
	return st.NewQueries().UpsertLastBlock(ctx, block)
}

// FollowEvents applies every batch the iterator yields until ctx ends.
func (s *IndexStore) FollowEvents(ctx context.Context, it arkivevents.BatchIterator) error {
	st, err := s.get()
	if err != nil {
		return err
	}
	return st.FollowEvents(ctx, it)
}

// QueryArtworks returns indexed artworks of the given chain and contract
// matching q, newest first.
func (s *IndexStore) QueryArtworks(ctx context.Context, chainID uint64, contract common.Address, q ArtworkQuery) ([]IndexedArtwork, error) {
	startTime := time.Now()
	query := buildArtworkQuery(chainID, contract, q)
	defer func() {
		s.logger.Info("index query", "query", query, "duration", time.Since(startTime))
	}()

	st, err := s.get()
	if err != nil {
		return nil, err
	}

	limit := q.Limit
	if limit <= 0 {
		limit = defaultQueryLimit
	}
	if limit > maxQueryLimit {
		limit = maxQueryLimit
	}
	artworks := make([]IndexedArtwork, 0)
	err = s.queryPages(ctx, st, query, limit, &sqlitestore.IncludeData{
		Key:                 true,
		Attributes:          true,
		Payload:             true,
		ContentType:         true,
		Owner:               true,
		LastModifiedAtBlock: true,
	}, func(item json.RawMessage) {
		a, err := parseArtworkEntity(item)
		if err != nil {
			s.logger.Warn("skipping unreadable index entry", "error", err)
			return
		}
		artworks = append(artworks, a)
	})
	if err != nil {
		return nil, fmt.Errorf("failed to query artworks: %w", err)
	}
	sortIndexed(artworks)
	return artworks, nil
}

// IndexedIDs returns the artwork IDs already present in the index for the
// given chain and contract.
func (s *IndexStore) IndexedIDs(ctx context.Context, chainID uint64, contract common.Address) (map[uint64]bool, error) {
	st, err := s.get()
	if err != nil {
		return nil, err
	}

	ids := make(map[uint64]bool)
	err = s.queryPages(ctx, st, buildArtworkQuery(chainID, contract, ArtworkQuery{}), 0, &sqlitestore.IncludeData{
		Key:        true,
		Attributes: true,
	}, func(item json.RawMessage) {
		var entity struct {
			NumericAttributes []struct {
				Key   string `json:"key"`
				Value uint64 `json:"value"`
			} `json:"numericAttributes,omitempty"`
		}
		if err := json.Unmarshal(item, &entity); err != nil {
			return
		}
		for _, attr := range entity.NumericAttributes {
			if attr.Key == "artworkId" {
				ids[attr.Value] = true
			}
		}
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list indexed artworks: %w", err)
	}
	return ids, nil
}

// queryPages runs query at the last indexed block and hands every entity to
// visit, following the store's cursor page by page. It stops after limit
// entities, or when the results are exhausted if limit is 0.
func (s *IndexStore) queryPages(ctx context.Context, st *sqlitestore.SQLiteStore, query string, limit int, include *sqlitestore.IncludeData, visit func(json.RawMessage)) error {
	atBlock := s.LastBlock(ctx)
	seen := 0
	cursor := ""
	for page := 1; ; page++ {
		resultsPerPage := s.pageSize
		if limit > 0 && uint64(limit-seen) < resultsPerPage {
			resultsPerPage = uint64(limit - seen)
		}
		response, err := st.QueryEntities(ctx, query, &sqlitestore.Options{
			AtBlock:        &atBlock,
			ResultsPerPage: &resultsPerPage,
			IncludeData:    include,
			Cursor:         cursor,
		})
		if err != nil {
			return err
		}
		for _, item := range response.Data {
			visit(item)
		}
		seen += len(response.Data)

		if response.Cursor == nil || len(response.Data) == 0 || (limit > 0 && seen >= limit) {
			s.logger.Debug("index query paged", "pages", page, "results", seen)
			return nil
		}
		cursor = *response.Cursor
	}
}

// CountArtworks counts the indexed artworks of the given chain and contract.
func (s *IndexStore) CountArtworks(ctx context.Context, chainID uint64, contract common.Address) (int, error) {
	ids, err := s.IndexedIDs(ctx, chainID, contract)
	if err != nil {
		return 0, err
	}
	return len(ids), nil
}

// artworkKey is the entity key of an artwork. Artworks of different chains
// and contracts never collide.
func artworkKey(chainID uint64, contract common.Address, id uint64) common.Hash {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], chainID)
	binary.BigEndian.PutUint64(buf[8:], id)
	return crypto.Keccak256Hash(buf[:8], contract.Bytes(), buf[8:])
}

// categoryAttribute is the numeric attribute flagging membership in
// category. Attribute names cannot carry dashes.
func categoryAttribute(category string) string {
	return strings.ReplaceAll(category, "-", "_")
}

func artworkAttributes(chainID uint64, contract common.Address, a chain.Artwork) (map[string]string, map[string]uint64) {
	stringAttrs := map[string]string{
		"type":            artworkType,
		"title":           a.Title,
		"fileHash":        a.FileHash,
		"descriptionHash": a.DescriptionHash,
		"tags":            strings.Join(a.Tags, ","),
		"categories":      strings.Join(a.Categories, ","),
		"contract":        strings.ToLower(contract.Hex()),
	}
	numericAttrs := map[string]uint64{
		"artworkId": a.ID,
		"timestamp": a.Timestamp,
		"chainId":   chainID,
	}
	for _, c := range a.Categories {
		numericAttrs[categoryAttribute(c)] = 1
	}
	return stringAttrs, numericAttrs
}

// buildArtworkQuery builds the store query for q, scoped to one chain and
// contract.
func buildArtworkQuery(chainID uint64, contract common.Address, q ArtworkQuery) string {
	conditions := []string{
		fmt.Sprintf("type = %q", artworkType),
		fmt.Sprintf("chainId = %d", chainID),
		fmt.Sprintf("contract = %q", strings.ToLower(contract.Hex())),
	}
	if q.Category != "" {
		conditions = append(conditions, fmt.Sprintf("%s = 1", categoryAttribute(q.Category)))
	}
	if q.Artist != "" {
		conditions = append(conditions, fmt.Sprintf(`$owner = %q`, strings.ToLower(q.Artist)))
	}
	return strings.Join(conditions, " AND ")
}

// parseArtworkEntity decodes one QueryEntities result. The artwork itself is
// the JSON payload; attributes fill in what the payload lacks.
func parseArtworkEntity(data json.RawMessage) (IndexedArtwork, error) {
	var entity struct {
		Key                 *common.Hash    `json:"key,omitempty"`
		Value               hexutil.Bytes   `json:"value,omitempty"`
		ContentType         *string         `json:"contentType,omitempty"`
		Owner               *common.Address `json:"owner,omitempty"`
		LastModifiedAtBlock *uint64         `json:"lastModifiedAtBlock,omitempty"`
		StringAttributes    []struct {
			Key   string `json:"key"`
			Value string `json:"value"`
		} `json:"stringAttributes,omitempty"`
		NumericAttributes []struct {
			Key   string `json:"key"`
			Value uint64 `json:"value"`
		} `json:"numericAttributes,omitempty"`
	}
	if err := json.Unmarshal(data, &entity); err != nil {
		return IndexedArtwork{}, fmt.Errorf("failed to unmarshal entity data: %w", err)
	}

	var out IndexedArtwork
	if len(entity.Value) > 0 {
		if err := json.Unmarshal(entity.Value, &out.Artwork); err != nil {
			return IndexedArtwork{}, fmt.Errorf("failed to decode artwork payload: %w", err)
		}
	}
	if entity.Key != nil {
		out.EntityKey = entity.Key.Hex()
	}
	if entity.Owner != nil && out.Artist == (common.Address{}) {
		out.Artist = *entity.Owner
	}
	if entity.LastModifiedAtBlock != nil {
		out.IndexedBlock = *entity.LastModifiedAtBlock
	}
	for _, attr := range entity.StringAttributes {
		switch attr.Key {
		case "contract":
			out.Contract = attr.Value
		case "title":
			if out.Title == "" {
				out.Title = attr.Value
			}
		}
	}
	for _, attr := range entity.NumericAttributes {
		switch attr.Key {
		case "chainId":
			out.ChainID = attr.Value
		case "artworkId":
			if out.ID == 0 {
				out.ID = attr.Value
			}
		case "timestamp":
			if out.Timestamp == 0 {
				out.Timestamp = attr.Value
			}
		}
	}
	if out.ID == 0 && len(entity.Value) == 0 {
		return IndexedArtwork{}, fmt.Errorf("entity %s is not an artwork", out.EntityKey)
	}
	return out, nil
}

func sortIndexed(list []IndexedArtwork) {
	sort.SliceStable(list, func(i, j int) bool {
		if list[i].Timestamp != list[j].Timestamp {
			return list[i].Timestamp > list[j].Timestamp
		}
		return list[i].ID > list[j].ID
	})
}
