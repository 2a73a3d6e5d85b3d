package extractive

import (
	"context"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"

	"docqa/internal/domain"
)

const DefaultMaxSentences = 3

var (
	tokenPattern    = regexp.MustCompile(`\p{L}+(?:['’]\p{L}+)*|\p{N}+`)
	sentencePattern = regexp.MustCompile(`[^.!?\n]+(?:[.!?]+|\n|$)`)
)

// Synthesizer answers offline by picking the context sentences that best cover
// the question, ranked by term frequency. Useful without an LLM endpoint.
type Synthesizer struct {
	maxSentences int
	stopwords    map[string]struct{}
}

// New creates an extractive synthesizer returning at most maxSentences sentences.
func New(maxSentences int) *Synthesizer {
	if maxSentences <= 0 {
		maxSentences = DefaultMaxSentences
	}
	return &Synthesizer{maxSentences: maxSentences, stopwords: defaultStopwords()}
}

// Name returns the identifier of this synthesizer.
func (s *Synthesizer) Name() string { return "extractive" }

// Synthesize selects sentences from passages. Sentences sharing no term with
// the question are only used when nothing matches.
func (s *Synthesizer) Synthesize(ctx context.Context, question, passages string) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
	}
	var sentences []string
	for _, m := range sentencePattern.FindAllString(passages, -1) {
		if t := strings.TrimSpace(m); t != "" {
			sentences = append(sentences, t)
		}
	}
	if len(sentences) == 0 {
		return "", fmt.Errorf("%w: no context to answer from", domain.ErrSynthesis)
	}

	// Word frequencies over the passages, normalized to [0, 1].
	freq := map[string]float64{}
	for _, sent := range sentences {
		for _, tok := range s.tokens(sent) {
			freq[tok]++
		}
	}
	maxF := 0.0
	for _, v := range freq {
		maxF = math.Max(maxF, v)
	}
	for k, v := range freq {
		freq[k] = v / maxF
	}

	asked := map[string]struct{}{}
	for _, tok := range s.tokens(question) {
		asked[tok] = struct{}{}
	}

	type pair struct {
		idx     int
		overlap int
		score   float64
	}
	scores := make([]pair, 0, len(sentences))
	seen := map[string]struct{}{}
	for i, sent := range sentences {
		// overlapping chunks repeat sentences
		if _, dup := seen[sent]; dup {
			continue
		}
		seen[sent] = struct{}{}
		toks := s.tokens(sent)
		p := pair{idx: i}
		hit := map[string]struct{}{}
		for _, tok := range toks {
			p.score += freq[tok]
			if _, ok := asked[tok]; ok {
				hit[tok] = struct{}{}
			}
		}
		p.overlap = len(hit)
		// Normalize by sentence length to avoid bias
		if l := float64(len(toks)); l > 0 {
			p.score /= math.Sqrt(l)
		}
		scores = append(scores, p)
	}
	sort.SliceStable(scores, func(i, j int) bool {
		if scores[i].overlap != scores[j].overlap {
			return scores[i].overlap > scores[j].overlap
		}
		return scores[i].score > scores[j].score
	})

	n := s.maxSentences
	if n > len(scores) {
		n = len(scores)
	}
	if scores[0].overlap > 0 {
		for n > 1 && scores[n-1].overlap == 0 {
			n--
		}
	}
	// Keep original order among selected
	selected := make([]int, n)
	for i := 0; i < n; i++ {
		selected[i] = scores[i].idx
	}
	sort.Ints(selected)
	out := make([]string, 0, n)
	for _, idx := range selected {
		out = append(out, sentences[idx])
	}
	return strings.Join(out, " "), nil
}

func (s *Synthesizer) tokens(text string) []string {
	raw := tokenPattern.FindAllString(strings.ToLower(text), -1)
	out := raw[:0]
	for _, t := range raw {
		if _, stop := s.stopwords[t]; !stop {
			out = append(out, t)
		}
	}
	return out
}

func defaultStopwords() map[string]struct{} {
	words := []string{
		"a", "an", "the", "and", "or", "but", "if", "then", "else", "for", "to", "of", "in", "on", "at", "by", "with", "as", "is", "are", "was", "were", "be", "been", "being", "it", "this", "that", "these", "those", "from", "up", "down", "over", "under", "again", "further", "than", "so", "such", "into", "about", "between", "through", "during", "before", "after", "above", "below", "out", "off", "own", "same", "too", "very", "can", "will", "just", "don", "should", "now",
		"what", "which", "who", "whom", "how", "when", "where", "why", "does", "do", "did",
	}
	m := make(map[string]struct{}, len(words))
	for _, w := range words {
		m[w] = struct{}{}
	}
	return m
}
