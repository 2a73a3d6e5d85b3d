package memory

import (
	"fmt"
	"math"
	"sort"

	"docqa/internal/domain"
)

// Entry pairs a chunk with its embedding.
type Entry struct {
	Vector domain.Vector
	Chunk  domain.Chunk
}

// Index is an immutable brute-force cosine similarity index over one document.
// It is safe for concurrent queries.
type Index struct {
	dimension int
	vectors   [][]float64
	norms     []float64
	chunks    []domain.Chunk
}

// Build creates an index from the entries. All vectors must share one dimension.
func Build(entries []Entry) (*Index, error) {
	idx := &Index{
		vectors: make([][]float64, len(entries)),
		norms:   make([]float64, len(entries)),
		chunks:  make([]domain.Chunk, len(entries)),
	}
	for i, e := range entries {
		if len(e.Vector) == 0 {
			return nil, fmt.Errorf("%w: entry %d has an empty vector", domain.ErrDimensionMismatch, i)
		}
		if i == 0 {
			idx.dimension = len(e.Vector)
		} else if len(e.Vector) != idx.dimension {
			return nil, fmt.Errorf("%w: entry %d has %d dimensions, expected %d",
				domain.ErrDimensionMismatch, i, len(e.Vector), idx.dimension)
		}
		idx.vectors[i], idx.norms[i] = widen(e.Vector)
		idx.chunks[i] = e.Chunk
	}
	return idx, nil
}

// Len returns the number of indexed chunks.
func (x *Index) Len() int { return len(x.chunks) }

// Dimension returns the vector dimension, or 0 for an empty index.
func (x *Index) Dimension() int { return x.dimension }

// Query returns the k chunks most similar to vector by cosine similarity,
// highest score first. Equal scores are ordered by ascending chunk sequence.
// k is clamped to [1, Len()].
func (x *Index) Query(vector domain.Vector, k int) ([]domain.Match, error) {
	if len(x.chunks) == 0 {
		return nil, domain.ErrEmptyIndex
	}
	if len(vector) != x.dimension {
		return nil, fmt.Errorf("%w: query has %d dimensions, index has %d",
			domain.ErrDimensionMismatch, len(vector), x.dimension)
	}
	if k < 1 {
		k = 1
	}
	if k > len(x.chunks) {
		k = len(x.chunks)
	}

	q, qnorm := widen(vector)
	scores := make([]float64, len(x.vectors))
	for i := range x.vectors {
		scores[i] = cosine(x.vectors[i], x.norms[i], q, qnorm)
	}

	order := make([]int, len(scores))
	for i := range order {
		order[i] = i
	}
	sort.Slice(order, func(a, b int) bool {
		ia, ib := order[a], order[b]
		if scores[ia] != scores[ib] {
			return scores[ia] > scores[ib]
		}
		return x.chunks[ia].Seq < x.chunks[ib].Seq
	})

	matches := make([]domain.Match, 0, k)
	for _, i := range order[:k] {
		matches = append(matches, domain.Match{Chunk: x.chunks[i], Score: scores[i]})
	}
	return matches, nil
}

func widen(v domain.Vector) ([]float64, float64) {
	out := make([]float64, len(v))
	norm := 0.0
	for i, f := range v {
		out[i] = float64(f)
		norm += out[i] * out[i]
	}
	return out, math.Sqrt(norm)
}

func cosine(a []float64, anorm float64, b []float64, bnorm float64) float64 {
	if anorm == 0 || bnorm == 0 {
		return 0
	}
	sum := 0.0
	for i := range a {
		sum += a[i] * b[i]
	}
	return sum / (anorm * bnorm)
}
