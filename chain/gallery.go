// Package chain binds the CampusGallery contract: the Gallery interface the
// controller talks to, an ethclient-backed implementation and an in-memory
// development implementation.
package chain

import (
	"context"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"campusgallery/fhe"
)

// Artwork is one submission as stored by the contract.
type Artwork struct {
	ID              uint64         `json:"id"`
	Artist          common.Address `json:"artist"`
	Title           string         `json:"title"`
	DescriptionHash string         `json:"descriptionHash"`
	FileHash        string         `json:"fileHash"`
	Tags            []string       `json:"tags"`
	Categories      []string       `json:"categories"`
	Timestamp       uint64         `json:"timestamp"`
}

// HasCategory reports whether the artwork was submitted under category.
func (a Artwork) HasCategory(category string) bool {
	for _, c := range a.Categories {
		if c == category {
			return true
		}
	}
	return false
}

// IsBy compares the artist with addr case-insensitively.
func (a Artwork) IsBy(addr string) bool {
	return strings.EqualFold(a.Artist.Hex(), addr)
}

// Submission is the argument list of submitPainting.
type Submission struct {
	Title           string
	DescriptionHash string
	FileHash        string
	Tags            []string
	Categories      []string
}

// Tx is a sent transaction.
type Tx interface {
	Hash() common.Hash
	// Wait blocks until the transaction is mined and fails on revert.
	Wait(ctx context.Context) error
}

// Gallery is the contract surface used by the gallery controller.
type Gallery interface {
	Address() common.Address

	GetAllArtworks(ctx context.Context) ([]uint64, error)
	GetArtwork(ctx context.Context, id uint64) (Artwork, error)
	GetLikes(ctx context.Context, id uint64) (fhe.Handle, error)
	GetVotes(ctx context.Context, id uint64, category string) (fhe.Handle, error)

	SubmitPainting(ctx context.Context, s Submission) (Tx, error)
	Like(ctx context.Context, id uint64) (Tx, error)
	Vote(ctx context.Context, id uint64, category string) (Tx, error)
}
