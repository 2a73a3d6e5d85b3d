package chunker

import (
	"fmt"
	"unicode"

	"docqa/internal/domain"
)

const (
	DefaultChunkSize    = 600
	DefaultChunkOverlap = 100
)

// CharacterChunker splits text into overlapping windows measured in characters.
// Consecutive chunks share exactly overlap characters, so dropping the first
// overlap characters of every chunk but the first and concatenating the rest
// gives back the original text.
type CharacterChunker struct {
	size     int
	overlap  int
	lookback int
}

// New creates a chunker. It fails with domain.ErrConfiguration unless
// 0 <= overlap < size.
func New(size, overlap int) (*CharacterChunker, error) {
	if size <= 0 {
		return nil, fmt.Errorf("%w: chunk size must be positive, got %d", domain.ErrConfiguration, size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: chunk overlap must be in [0, %d), got %d", domain.ErrConfiguration, size, overlap)
	}
	return &CharacterChunker{size: size, overlap: overlap, lookback: size / 10}, nil
}

// Size returns the maximum chunk length in characters.
func (c *CharacterChunker) Size() int { return c.size }

// Overlap returns the number of characters shared by consecutive chunks.
func (c *CharacterChunker) Overlap() int { return c.overlap }

// Split returns the chunks of text in document order.
func (c *CharacterChunker) Split(text string) ([]domain.Chunk, error) {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil, nil
	}
	var chunks []domain.Chunk
	start := 0
	for {
		end := start + c.size
		if end >= n {
			end = n
		} else {
			end = c.boundary(runes, start, end)
		}
		chunks = append(chunks, domain.Chunk{
			Seq:    len(chunks),
			Text:   string(runes[start:end]),
			Offset: start,
		})
		if end == n {
			break
		}
		start = end - c.overlap
	}
	return chunks, nil
}

// boundary moves end back to just after a paragraph break, line break or
// whitespace found near the window edge. The returned end is always greater
// than start+overlap so the next window starts after this one.
func (c *CharacterChunker) boundary(runes []rune, start, end int) int {
	floor := end - c.lookback
	if least := start + c.overlap + 1; floor < least {
		floor = least
	}
	if floor >= end {
		return end
	}
	for i := end - 1; i >= floor; i-- {
		if runes[i] == '\n' && runes[i-1] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if runes[i] == '\n' {
			return i + 1
		}
	}
	for i := end - 1; i >= floor; i-- {
		if unicode.IsSpace(runes[i]) {
			return i + 1
		}
	}
	return end
}
