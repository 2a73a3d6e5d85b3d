package memory

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func entry(seq int, v ...float32) Entry {
	return Entry{Vector: v, Chunk: domain.Chunk{Seq: seq, Text: fmt.Sprintf("chunk %d", seq)}}
}

func seqs(matches []domain.Match) []int {
	out := make([]int, len(matches))
	for i, m := range matches {
		out[i] = m.Chunk.Seq
	}
	return out
}

func TestQuery_EmptyIndex(t *testing.T) {
	idx, err := Build(nil)
	require.NoError(t, err)
	assert.Equal(t, 0, idx.Len())

	_, err = idx.Query(domain.Vector{1, 0}, 3)
	assert.True(t, errors.Is(err, domain.ErrEmptyIndex))
}

func TestQuery_ExactMatchRanksFirst(t *testing.T) {
	idx, err := Build([]Entry{
		entry(0, 1, 0, 0, 0),
		entry(1, 0, 1, 0, 0),
		entry(2, 0, 0, 1, 0),
		entry(3, 0.5, 0.5, 0.5, 0.5),
		entry(4, 0, 0, 0, 1),
	})
	require.NoError(t, err)

	matches, err := idx.Query(domain.Vector{0.5, 0.5, 0.5, 0.5}, 2)
	require.NoError(t, err)
	require.Len(t, matches, 2)
	assert.Equal(t, 3, matches[0].Chunk.Seq)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.InDelta(t, 0.5, matches[1].Score, 1e-9)
	// chunks 0,1,2,4 tie at 0.5; the earliest wins.
	assert.Equal(t, 0, matches[1].Chunk.Seq)
}

func TestQuery_KClampedToCorpusWithTieBreak(t *testing.T) {
	idx, err := Build([]Entry{
		entry(0, 0, 1),
		entry(1, 1, 0),
		entry(2, 1, 1),
		entry(3, 2, 0),
		entry(4, 0, 3),
	})
	require.NoError(t, err)

	matches, err := idx.Query(domain.Vector{1, 0}, 50)
	require.NoError(t, err)
	require.Len(t, matches, 5)
	assert.Equal(t, []int{1, 3, 2, 0, 4}, seqs(matches))
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
	assert.InDelta(t, 1.0, matches[1].Score, 1e-9)
	assert.InDelta(t, 0.0, matches[4].Score, 1e-9)
}

func TestQuery_NonPositiveKReturnsOne(t *testing.T) {
	idx, err := Build([]Entry{entry(0, 1, 0), entry(1, 0, 1)})
	require.NoError(t, err)

	for _, k := range []int{0, -3} {
		matches, err := idx.Query(domain.Vector{0, 1}, k)
		require.NoError(t, err)
		assert.Equal(t, []int{1}, seqs(matches))
	}
}

func TestQuery_ZeroVectorScoresZero(t *testing.T) {
	idx, err := Build([]Entry{entry(0, 0, 0), entry(1, 1, 1)})
	require.NoError(t, err)

	matches, err := idx.Query(domain.Vector{0, 0}, 2)
	require.NoError(t, err)
	assert.Equal(t, []int{0, 1}, seqs(matches))
	for _, m := range matches {
		assert.Equal(t, 0.0, m.Score)
	}
}

func TestBuild_DimensionMismatch(t *testing.T) {
	_, err := Build([]Entry{entry(0, 1, 0), entry(1, 1, 0, 0)})
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))

	_, err = Build([]Entry{entry(0)})
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
}

func TestQuery_DimensionMismatch(t *testing.T) {
	idx, err := Build([]Entry{entry(0, 1, 0)})
	require.NoError(t, err)
	assert.Equal(t, 2, idx.Dimension())

	_, err = idx.Query(domain.Vector{1, 0, 0}, 1)
	assert.True(t, errors.Is(err, domain.ErrDimensionMismatch))
}

func TestBuild_CopiesInput(t *testing.T) {
	entries := []Entry{entry(0, 1, 0), entry(1, 0, 1)}
	idx, err := Build(entries)
	require.NoError(t, err)

	entries[0].Vector[0] = 0
	entries[0].Chunk.Text = "mutated"

	matches, err := idx.Query(domain.Vector{1, 0}, 1)
	require.NoError(t, err)
	assert.Equal(t, "chunk 0", matches[0].Chunk.Text)
	assert.InDelta(t, 1.0, matches[0].Score, 1e-9)
}

func TestQuery_Concurrent(t *testing.T) {
	entries := make([]Entry, 64)
	for i := range entries {
		entries[i] = entry(i, float32(i), 1)
	}
	idx, err := Build(entries)
	require.NoError(t, err)

	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < 50; i++ {
				matches, err := idx.Query(domain.Vector{1, 0}, 3)
				assert.NoError(t, err)
				assert.Len(t, matches, 3)
			}
		}()
	}
	wg.Wait()
}
