package domain

import (
	"context"
	"sort"
	"strings"
)

// Document is an uploaded file waiting to be ingested.
type Document struct {
	Name      string
	MediaType string
	Data      []byte
}

// Extraction is the plain text of a document together with its page layout.
type Extraction struct {
	Text string
	// PageStarts holds the rune offset at which each page begins, in page order.
	PageStarts []int
}

// PageAt returns the 1-based page containing the rune offset, or 0 when the
// extraction carries no page information.
func (e Extraction) PageAt(offset int) int {
	if len(e.PageStarts) == 0 {
		return 0
	}
	i := sort.Search(len(e.PageStarts), func(i int) bool { return e.PageStarts[i] > offset })
	if i == 0 {
		return 1
	}
	return i
}

// Chunk is a bounded slice of document text used as a retrieval unit.
type Chunk struct {
	Seq    int
	Text   string
	Offset int
	// Page is 1-based; 0 means the source page is unknown.
	Page int
}

// Vector is a fixed-dimension embedding.
type Vector []float32

// Match represents a retrieved chunk with its similarity score.
type Match struct {
	Chunk Chunk
	Score float64
}

// Embedder converts free text into a numeric vector representation.
type Embedder interface {
	Name() string
	Embed(ctx context.Context, text string) (Vector, error)
}

// BatchEmbedder embeds several texts in one call. Output order matches input order.
type BatchEmbedder interface {
	EmbedBatch(ctx context.Context, texts []string) ([]Vector, error)
}

// Fitter is implemented by embedders that must learn from the corpus before use.
// Fit returns a new embedder and leaves the receiver untouched.
type Fitter interface {
	Fit(corpus []string) (Embedder, error)
}

// Synthesizer produces an answer to a question from retrieved context.
type Synthesizer interface {
	Name() string
	Synthesize(ctx context.Context, question, passages string) (string, error)
}

// Extractor turns a document stored at path into plain text.
type Extractor interface {
	Extract(ctx context.Context, path string) (Extraction, error)
}

// NormalizeMediaType maps file extensions and MIME types onto the short media
// type names used to key extractors ("pdf", "txt", "csv", "xlsx").
func NormalizeMediaType(s string) string {
	s = strings.ToLower(strings.TrimSpace(s))
	if i := strings.IndexByte(s, ';'); i >= 0 {
		s = strings.TrimSpace(s[:i])
	}
	switch s {
	case "application/pdf":
		return "pdf"
	case "text/plain":
		return "txt"
	case "text/csv":
		return "csv"
	case "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet":
		return "xlsx"
	}
	if i := strings.LastIndexByte(s, '.'); i >= 0 {
		s = s[i+1:]
	}
	if s == "text" {
		return "txt"
	}
	return s
}
