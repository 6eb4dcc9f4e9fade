package gallery

import (
	"fmt"
	"html"
	"strings"

	"github.com/google/uuid"
	"github.com/ipfs/go-cid"
	"github.com/microcosm-cc/bluemonday"
	mh "github.com/multiformats/go-multihash"

	"campusgallery/chain"
	gerrors "campusgallery/errors"
)

// Draft is the upload form as entered by the user. Tags is the raw
// comma-separated string.
type Draft struct {
	Title           string   `json:"title"`
	DescriptionHash string   `json:"descriptionHash"`
	FileHash        string   `json:"fileHash"`
	Tags            string   `json:"tags"`
	Categories      []string `json:"categories"`
}

// ExampleDraft is the sample artwork offered by the upload form.
func ExampleDraft() Draft {
	return Draft{
		Title:           "校园黄昏速写",
		DescriptionHash: "ipfs://QmExampleDescriptionHash123",
		FileHash:        "ipfs://QmExampleFileHash456",
		Tags:            "校园, 速写, 傍晚, 林荫",
		Categories:      []string{CategoryClassic},
	}
}

// ParseTags splits raw on commas, trims every piece and drops empty ones.
func ParseTags(raw string) []string {
	tags := []string{}
	for _, t := range strings.Split(raw, ",") {
		if t = strings.TrimSpace(t); t != "" {
			tags = append(tags, t)
		}
	}
	return tags
}

var textPolicy = bluemonday.StrictPolicy()

// sanitize strips all markup from s and returns the remaining plain text.
func sanitize(s string) string {
	return strings.TrimSpace(html.UnescapeString(textPolicy.Sanitize(s)))
}

// Submission validates d and converts it to contract arguments.
func (d Draft) Submission() (chain.Submission, error) {
	s := chain.Submission{
		Title:           sanitize(d.Title),
		DescriptionHash: sanitize(d.DescriptionHash),
		FileHash:        sanitize(d.FileHash),
		Tags:            []string{},
	}
	for _, t := range ParseTags(d.Tags) {
		if t = sanitize(t); t != "" {
			s.Tags = append(s.Tags, t)
		}
	}

	if s.Title == "" {
		return chain.Submission{}, gerrors.Wrapf("submit", gerrors.ErrValidation, "title is required")
	}
	if s.FileHash == "" {
		return chain.Submission{}, gerrors.Wrapf("submit", gerrors.ErrValidation, "file reference is required")
	}
	if len(d.Categories) == 0 {
		return chain.Submission{}, gerrors.Wrapf("submit", gerrors.ErrValidation, "select at least one category")
	}
	seen := make(map[string]bool, len(d.Categories))
	for _, c := range d.Categories {
		if !IsKnownCategory(c) {
			return chain.Submission{}, gerrors.Wrapf("submit", gerrors.ErrValidation, "unknown category %q", c)
		}
		if !seen[c] {
			seen[c] = true
			s.Categories = append(s.Categories, c)
		}
	}
	return s, nil
}

// ContentRef returns the ipfs:// CIDv0 reference of data.
func ContentRef(data []byte) (string, error) {
	sum, err := mh.Sum(data, mh.SHA2_256, -1)
	if err != nil {
		return "", fmt.Errorf("failed to hash content: %w", err)
	}
	return "ipfs://" + cid.NewCidV0(sum).String(), nil
}

// mockDraft generates a sample artwork whose references point at generated
// description and image content.
func mockDraft(category string) (Draft, error) {
	id := uuid.New()
	short := id.String()[:8]

	desc, err := ContentRef([]byte("CampusGallery mock description " + id.String()))
	if err != nil {
		return Draft{}, err
	}
	file, err := ContentRef([]byte("CampusGallery mock artwork " + id.String()))
	if err != nil {
		return Draft{}, err
	}
	return Draft{
		Title:           "示例作品 " + short,
		DescriptionHash: desc,
		FileHash:        file,
		Tags:            "示例, 快速创建",
		Categories:      []string{category},
	}, nil
}
