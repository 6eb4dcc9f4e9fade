package main

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildArtworkQuery(t *testing.T) {
	contract := strings.ToLower(testContract.Hex())

	q := buildArtworkQuery(31337, testContract, ArtworkQuery{})
	assert.Equal(t, `type = "artwork" AND chainId = 31337 AND contract = "`+contract+`"`, q)

	q = buildArtworkQuery(31337, testContract, ArtworkQuery{
		Category: "campus-modern",
		Artist:   testArtist.Hex(),
	})
	assert.Contains(t, q, "campus_modern = 1")
	assert.Contains(t, q, `$owner = "`+strings.ToLower(testArtist.Hex())+`"`)
}

func TestArtworkKey(t *testing.T) {
	other := common.HexToAddress("0xe7f1725E7734CE288F8367e1Bb143E90bb3F0512")
	k := artworkKey(31337, testContract, 1)

	assert.Equal(t, k, artworkKey(31337, testContract, 1))
	assert.NotEqual(t, k, artworkKey(31337, testContract, 2))
	assert.NotEqual(t, k, artworkKey(11155111, testContract, 1))
	assert.NotEqual(t, k, artworkKey(31337, other, 1))
}

func TestArtworkAttributes(t *testing.T) {
	a := testArtworks(7)[0]
	a.Tags = []string{"ink", "paper"}
	a.Categories = []string{"campus-classic", "campus-calligraphy"}

	stringAttrs, numericAttrs := artworkAttributes(31337, testContract, a)
	assert.Equal(t, "artwork", stringAttrs["type"])
	assert.Equal(t, "ink,paper", stringAttrs["tags"])
	assert.Equal(t, "campus-classic,campus-calligraphy", stringAttrs["categories"])
	assert.Equal(t, strings.ToLower(testContract.Hex()), stringAttrs["contract"])

	assert.Equal(t, uint64(7), numericAttrs["artworkId"])
	assert.Equal(t, uint64(31337), numericAttrs["chainId"])
	assert.Equal(t, a.Timestamp, numericAttrs["timestamp"])
	assert.Equal(t, uint64(1), numericAttrs["campus_classic"])
	assert.Equal(t, uint64(1), numericAttrs["campus_calligraphy"])
	assert.NotContains(t, numericAttrs, "campus_modern")
}

func TestParseArtworkEntity(t *testing.T) {
	a := testArtworks(3)[0]
	payload, err := json.Marshal(a)
	require.NoError(t, err)

	key := artworkKey(31337, testContract, 3)
	raw, err := json.Marshal(map[string]any{
		"key":                 key.Hex(),
		"value":               "0x" + common.Bytes2Hex(payload),
		"owner":               testArtist.Hex(),
		"lastModifiedAtBlock": 12,
		"stringAttributes": []map[string]any{
			{"key": "contract", "value": strings.ToLower(testContract.Hex())},
		},
		"numericAttributes": []map[string]any{
			{"key": "chainId", "value": 31337},
			{"key": "artworkId", "value": 3},
		},
	})
	require.NoError(t, err)

	got, err := parseArtworkEntity(raw)
	require.NoError(t, err)
	assert.Equal(t, a, got.Artwork)
	assert.Equal(t, key.Hex(), got.EntityKey)
	assert.Equal(t, uint64(12), got.IndexedBlock)
	assert.Equal(t, uint64(31337), got.ChainID)
	assert.Equal(t, strings.ToLower(testContract.Hex()), got.Contract)
}

func TestParseArtworkEntityFromAttributes(t *testing.T) {
	raw := json.RawMessage(`{
		"owner": "` + testArtist.Hex() + `",
		"stringAttributes": [{"key": "title", "value": "Library at dusk"}],
		"numericAttributes": [{"key": "artworkId", "value": 5}, {"key": "timestamp", "value": 1700000005}]
	}`)

	got, err := parseArtworkEntity(raw)
	require.NoError(t, err)
	assert.Equal(t, uint64(5), got.ID)
	assert.Equal(t, "Library at dusk", got.Title)
	assert.Equal(t, testArtist, got.Artist)
	assert.Equal(t, uint64(1700000005), got.Timestamp)
}

func TestParseArtworkEntityRejectsOtherEntities(t *testing.T) {
	_, err := parseArtworkEntity(json.RawMessage(`{"stringAttributes": [{"key": "type", "value": "note"}]}`))
	assert.Error(t, err)

	_, err = parseArtworkEntity(json.RawMessage(`not json`))
	assert.Error(t, err)
}

func TestSortIndexed(t *testing.T) {
	list := []IndexedArtwork{}
	for _, a := range testArtworks(1, 2, 3) {
		list = append(list, IndexedArtwork{Artwork: a})
	}
	list[0].Timestamp = list[2].Timestamp

	sortIndexed(list)
	ids := []uint64{list[0].ID, list[1].ID, list[2].ID}
	assert.Equal(t, []uint64{3, 1, 2}, ids)
}
