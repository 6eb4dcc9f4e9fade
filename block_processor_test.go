package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"campusgallery/chain"
)

func TestBuildArtworkBlock(t *testing.T) {
	ids := make([]uint64, 23)
	for i := range ids {
		ids[i] = uint64(i + 1)
	}
	pending := pendingFor(31337, testContract, testArtworks(ids...))

	block, err := buildArtworkBlock(9, pending)
	require.NoError(t, err)
	assert.Equal(t, uint64(9), block.Number)
	require.Len(t, block.Operations, 23)

	last := block.Operations[22]
	assert.Equal(t, uint64(2), last.TxIndex)
	assert.Equal(t, uint64(2), last.OpIndex)

	op := block.Operations[0].Create
	require.NotNil(t, op)
	assert.Equal(t, artworkKey(31337, testContract, 1), op.Key)
	assert.Equal(t, testArtist, op.Owner)
	assert.Equal(t, "application/json", op.ContentType)
	assert.Equal(t, artworkBTL, op.BTL)
	assert.Equal(t, "artwork", op.StringAttributes["type"])
	assert.Equal(t, strings.ToLower(testContract.Hex()), op.StringAttributes["contract"])

	var decoded chain.Artwork
	require.NoError(t, json.Unmarshal(op.Content, &decoded))
	assert.Equal(t, pending[0].Artwork, decoded)
}

func TestCountAttributes(t *testing.T) {
	block, err := buildArtworkBlock(1, pendingFor(31337, testContract, testArtworks(1, 2)))
	require.NoError(t, err)

	stringAttrs, numericAttrs := countAttributes(block)
	assert.Equal(t, 14, stringAttrs)
	// artworkId, timestamp, chainId and one category each.
	assert.Equal(t, 8, numericAttrs)
}

func TestIndexerProcessBlockWithoutStart(t *testing.T) {
	q := NewIndexQueue()
	q.SetScope(31337, testContract, nil)
	q.Enqueue(testArtworks(1))

	ix := NewIndexer(nil, q, 0, nil)
	ix.Flush()
	assert.Equal(t, 1, q.GetQueueSize(), "nothing is written before Start")
	ix.Stop()
}
