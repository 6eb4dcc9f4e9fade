package main

import (
	"campusgallery/chain"
	"campusgallery/gallery"
	"campusgallery/network"
)

// IndexedArtwork is an artwork as mirrored into the index store, with the
// index block it was written in.
type IndexedArtwork struct {
	chain.Artwork
	ChainID      uint64 `json:"chainId"`
	Contract     string `json:"contract"`
	IndexedBlock uint64 `json:"indexedBlock"`
	EntityKey    string `json:"entityKey"`
}

// ArtworkQuery filters indexed artworks. Empty fields match everything.
type ArtworkQuery struct {
	Category string `json:"category,omitempty"`
	Artist   string `json:"artist,omitempty"`
	Limit    int    `json:"limit,omitempty"`
}

// PendingArtwork is an artwork waiting for the next index block.
type PendingArtwork struct {
	ID       string
	ChainID  uint64
	Contract string
	Artwork  chain.Artwork
}

// VoteRequest is the body of POST /artworks/{id}/vote.
type VoteRequest struct {
	Category string `json:"category"`
}

// SwitchRequest is the body of POST /network/switch. Name wins over ChainID.
type SwitchRequest struct {
	Name    string `json:"name,omitempty"`
	ChainID uint64 `json:"chainId,omitempty"`
}

type SwitchResponse struct {
	Network   network.Network `json:"network"`
	Supported bool            `json:"supported"`
	State     gallery.State   `json:"state"`
}

type ActionResponse struct {
	Message string        `json:"message"`
	State   gallery.State `json:"state"`
}

type ArtworksResponse struct {
	Artworks []chain.Artwork `json:"artworks"`
	Count    int             `json:"count"`
}

type IndexedArtworksResponse struct {
	Artworks []IndexedArtwork `json:"artworks"`
	Count    int              `json:"count"`
}

type CountResponse struct {
	Count int    `json:"count"`
	Block uint64 `json:"block"`
}

type HealthResponse struct {
	Status       string `json:"status"`
	Network      string `json:"network"`
	ChainID      uint64 `json:"chainId"`
	Backend      string `json:"backend"`
	Supported    bool   `json:"supported"`
	IndexPending int    `json:"indexPending"`
	IndexBlock   uint64 `json:"indexBlock"`
}

type CategoryResponse struct {
	Categories []gallery.Category `json:"categories"`
}
