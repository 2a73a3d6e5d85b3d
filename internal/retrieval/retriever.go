package retrieval

import (
	"context"
	"fmt"

	"docqa/internal/domain"
)

// DefaultTopK is the number of chunks retrieved when the caller does not ask for a specific k.
const DefaultTopK = 3

// Index is the query side of a vector index.
type Index interface {
	Query(vector domain.Vector, k int) ([]domain.Match, error)
}

// Retriever embeds a question and returns the most similar chunks of one index.
type Retriever struct {
	embedder domain.Embedder
	index    Index
}

// New returns a retriever over index. The embedder must be the one the index was built with.
func New(embedder domain.Embedder, index Index) *Retriever {
	return &Retriever{embedder: embedder, index: index}
}

// Retrieve returns up to k matches for question, best first. k <= 0 means DefaultTopK.
// Errors from the embedder are wrapped with domain.ErrEmbedding; index errors pass through.
func (r *Retriever) Retrieve(ctx context.Context, question string, k int) ([]domain.Match, error) {
	if k <= 0 {
		k = DefaultTopK
	}
	vec, err := r.embedder.Embed(ctx, question)
	if err != nil {
		return nil, fmt.Errorf("embed question: %w: %w", domain.ErrEmbedding, err)
	}
	matches, err := r.index.Query(vec, k)
	if err != nil {
		return nil, fmt.Errorf("query index: %w", err)
	}
	return matches, nil
}
