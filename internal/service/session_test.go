package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/chunker"
	"docqa/internal/domain"
	"docqa/internal/embedding/tfidf"
	"docqa/internal/extract"
)

var fruits = []string{"apple", "banana", "cherry"}

// fruitEmbedder counts fruit names, one dimension per fruit.
type fruitEmbedder struct {
	fail  atomic.Bool
	delay time.Duration
	calls atomic.Int32
}

func (e *fruitEmbedder) Name() string { return "fruit" }

func (e *fruitEmbedder) Embed(ctx context.Context, text string) (domain.Vector, error) {
	e.calls.Add(1)
	if e.delay > 0 {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(e.delay):
		}
	}
	if e.fail.Load() {
		return nil, errors.New("embedding backend down")
	}
	v := make(domain.Vector, len(fruits))
	for i, f := range fruits {
		v[i] = float32(strings.Count(strings.ToLower(text), f))
	}
	return v, nil
}

// batchFruitEmbedder records the size of every batch it receives.
type batchFruitEmbedder struct {
	fruitEmbedder
	mu      sync.Mutex
	batches []int
}

func (e *batchFruitEmbedder) EmbedBatch(ctx context.Context, texts []string) ([]domain.Vector, error) {
	e.mu.Lock()
	e.batches = append(e.batches, len(texts))
	e.mu.Unlock()
	out := make([]domain.Vector, len(texts))
	for i, t := range texts {
		v, err := e.fruitEmbedder.Embed(ctx, t)
		if err != nil {
			return nil, err
		}
		out[i] = v
	}
	return out, nil
}

// echoSynthesizer answers with the passages it was given.
type echoSynthesizer struct {
	err   error
	panic bool
}

func (s echoSynthesizer) Name() string { return "echo" }

func (s echoSynthesizer) Synthesize(_ context.Context, _, passages string) (string, error) {
	if s.panic {
		panic("synthesizer exploded")
	}
	if s.err != nil {
		return "", s.err
	}
	return passages, nil
}

type panickingExtractor struct{}

func (panickingExtractor) Extract(context.Context, string) (domain.Extraction, error) {
	panic("parser bug")
}

const fruitDoc = "Apple apple apple.\n\nBanana banana banana.\n\nCherry cherry cherry.\n\n"

func txtDoc(name, text string) domain.Document {
	return domain.Document{Name: name, MediaType: "text/plain", Data: []byte(text)}
}

func newTestSession(t *testing.T, emb domain.Embedder, synth domain.Synthesizer, opts ...Option) (*Session, string) {
	t.Helper()
	c, err := chunker.New(30, 5)
	require.NoError(t, err)
	dir := t.TempDir()
	opts = append([]Option{WithTempDir(dir), WithTopK(1)}, opts...)
	return NewSession(c, extract.NewRegistry(), emb, synth, opts...), dir
}

func stagedFiles(t *testing.T, dir string) []string {
	t.Helper()
	files, err := filepath.Glob(filepath.Join(dir, "docqa-*"))
	require.NoError(t, err)
	return files
}

func TestSession_AskBeforeIngest(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})
	assert.Equal(t, StateEmpty, s.State())

	_, err := s.Ask(context.Background(), "anything?")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotReady))
	assert.Equal(t, "no document ingested yet", err.Error())

	var nre *domain.NotReadyError
	require.True(t, errors.As(err, &nre))
	assert.Nil(t, nre.LastIngestErr)
}

func TestSession_IngestAndAsk(t *testing.T) {
	s, dir := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})

	n, err := s.Ingest(context.Background(), txtDoc("fruit.txt", fruitDoc))
	require.NoError(t, err)
	assert.Greater(t, n, 1)
	assert.Equal(t, StateReady, s.State())

	info := s.Info()
	assert.Equal(t, "fruit.txt", info.Document)
	assert.Equal(t, n, info.Chunks)
	assert.False(t, info.IngestedAt.IsZero())

	answer, err := s.Ask(context.Background(), "Tell me about the banana")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(answer), "banana banana")

	assert.Empty(t, stagedFiles(t, dir))
}

func TestSession_ContextJoinsPassagesInRankOrder(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{}, WithTopK(2))
	_, err := s.Ingest(context.Background(), txtDoc("fruit.txt", fruitDoc))
	require.NoError(t, err)

	answer, err := s.Ask(context.Background(), "cherry")
	require.NoError(t, err)
	parts := strings.Split(answer, "\n\n")
	require.GreaterOrEqual(t, len(parts), 2)
	assert.Contains(t, strings.ToLower(parts[0]), "cherry")
}

func TestSession_FailedIngestKeepsPreviousDocument(t *testing.T) {
	emb := &fruitEmbedder{}
	s, dir := newTestSession(t, emb, echoSynthesizer{})

	_, err := s.Ingest(context.Background(), txtDoc("first.txt", fruitDoc))
	require.NoError(t, err)

	emb.fail.Store(true)
	_, err = s.Ingest(context.Background(), txtDoc("second.txt", "Only cherry here."))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbedding))

	emb.fail.Store(false)
	assert.Equal(t, "first.txt", s.Info().Document)
	answer, err := s.Ask(context.Background(), "apple")
	require.NoError(t, err)
	assert.Contains(t, strings.ToLower(answer), "apple")
	assert.Empty(t, stagedFiles(t, dir))
}

func TestSession_NotReadyCarriesLastIngestError(t *testing.T) {
	emb := &fruitEmbedder{}
	emb.fail.Store(true)
	s, _ := newTestSession(t, emb, echoSynthesizer{})

	_, err := s.Ingest(context.Background(), txtDoc("a.txt", fruitDoc))
	require.Error(t, err)

	_, err = s.Ask(context.Background(), "apple")
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrNotReady))
	assert.Contains(t, err.Error(), "last ingestion failed")
	assert.Contains(t, err.Error(), "embedding backend down")
}

func TestSession_UnsupportedFormat(t *testing.T) {
	s, dir := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})

	_, err := s.Ingest(context.Background(), domain.Document{Name: "pic.png", MediaType: "image/png", Data: []byte{1}})
	assert.True(t, errors.Is(err, domain.ErrUnsupportedFormat))
	assert.Equal(t, StateEmpty, s.State())
	assert.Empty(t, stagedFiles(t, dir))
}

func TestSession_MediaTypeFromName(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})

	n, err := s.Ingest(context.Background(), domain.Document{Name: "notes.txt", Data: []byte("apple")})
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestSession_ExtractorPanicCleansUp(t *testing.T) {
	reg := extract.NewRegistry()
	reg.Register("pdf", panickingExtractor{})
	c, err := chunker.New(chunker.DefaultChunkSize, chunker.DefaultChunkOverlap)
	require.NoError(t, err)
	dir := t.TempDir()
	s := NewSession(c, reg, &fruitEmbedder{}, echoSynthesizer{}, WithTempDir(dir))

	_, err = s.Ingest(context.Background(), domain.Document{Name: "x.pdf", MediaType: "application/pdf", Data: []byte("%PDF-")})
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrExtraction))
	assert.Contains(t, err.Error(), "parser bug")
	assert.Empty(t, stagedFiles(t, dir))
}

func TestSession_MalformedPDF(t *testing.T) {
	s, dir := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})

	_, err := s.Ingest(context.Background(), domain.Document{Name: "x.pdf", MediaType: "pdf", Data: []byte("garbage")})
	assert.True(t, errors.Is(err, domain.ErrExtraction))
	assert.Empty(t, stagedFiles(t, dir))
}

func TestSession_SynthesisFailureBecomesAnswer(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{err: errors.New("model overloaded")})
	_, err := s.Ingest(context.Background(), txtDoc("f.txt", fruitDoc))
	require.NoError(t, err)

	answer, err := s.Ask(context.Background(), "apple")
	require.NoError(t, err)
	assert.Equal(t, "Error generating answer: model overloaded", answer)
}

func TestSession_SynthesisPanicBecomesAnswer(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{panic: true})
	_, err := s.Ingest(context.Background(), txtDoc("f.txt", fruitDoc))
	require.NoError(t, err)

	answer, err := s.Ask(context.Background(), "apple")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(answer, "Error generating answer: "))
	assert.Contains(t, answer, "synthesizer exploded")
}

func TestSession_EmptyDocument(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})

	n, err := s.Ingest(context.Background(), txtDoc("empty.txt", ""))
	require.NoError(t, err)
	assert.Equal(t, 0, n)
	assert.Equal(t, StateReady, s.State())

	_, err = s.Ask(context.Background(), "apple")
	assert.True(t, errors.Is(err, domain.ErrRetrieval))
	assert.True(t, errors.Is(err, domain.ErrEmptyIndex))
}

func TestSession_BatchEmbedding(t *testing.T) {
	emb := &batchFruitEmbedder{}
	var mu sync.Mutex
	var last, total int
	s, _ := newTestSession(t, emb, echoSynthesizer{},
		WithBatchSize(2),
		WithProgress(func(done, all int) {
			mu.Lock()
			defer mu.Unlock()
			if done > last {
				last = done
			}
			total = all
		}),
	)

	n, err := s.Ingest(context.Background(), txtDoc("f.txt", fruitDoc))
	require.NoError(t, err)

	sum := 0
	for _, b := range emb.batches {
		assert.LessOrEqual(t, b, 2)
		sum += b
	}
	assert.Equal(t, n, sum)
	assert.Len(t, emb.batches, (n+1)/2)
	assert.Equal(t, n, last)
	assert.Equal(t, n, total)
}

func TestSession_EmbedTimeout(t *testing.T) {
	emb := &fruitEmbedder{delay: time.Second}
	s, _ := newTestSession(t, emb, echoSynthesizer{}, WithTimeouts(Timeouts{Embed: 20 * time.Millisecond}))

	start := time.Now()
	_, err := s.Ingest(context.Background(), txtDoc("f.txt", fruitDoc))
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrEmbedding))
	assert.True(t, errors.Is(err, context.DeadlineExceeded))
	assert.Less(t, time.Since(start), 900*time.Millisecond)
	assert.Equal(t, StateEmpty, s.State())
}

func TestSession_FittedEmbedder(t *testing.T) {
	doc := "Goroutines are lightweight threads managed by the runtime.\n\n" +
		"Channels let goroutines communicate safely.\n\n" +
		"The garbage collector reclaims unused memory automatically.\n\n"
	c, err := chunker.New(70, 10)
	require.NoError(t, err)
	s := NewSession(c, extract.NewRegistry(), tfidf.NewEmbedder(), echoSynthesizer{},
		WithTempDir(t.TempDir()), WithTopK(1))

	_, err = s.Ingest(context.Background(), txtDoc("go.txt", doc))
	require.NoError(t, err)

	answer, err := s.Ask(context.Background(), "What reclaims unused memory?")
	require.NoError(t, err)
	assert.Contains(t, answer, "reclaims unused memory")
}

func TestSession_Reset(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})
	_, err := s.Ingest(context.Background(), txtDoc("f.txt", fruitDoc))
	require.NoError(t, err)

	s.Reset()
	assert.Equal(t, StateEmpty, s.State())
	assert.Equal(t, Info{State: StateEmpty}, s.Info())
	_, err = s.Ask(context.Background(), "apple")
	assert.True(t, errors.Is(err, domain.ErrNotReady))
}

func TestSession_AskDuringIngest(t *testing.T) {
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{})
	_, err := s.Ingest(context.Background(), txtDoc("a.txt", strings.Repeat("Apple pie. ", 20)))
	require.NoError(t, err)

	var wg sync.WaitGroup
	stop := make(chan struct{})
	for g := 0; g < 4; g++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for {
				select {
				case <-stop:
					return
				default:
				}
				answer, err := s.Ask(context.Background(), "apple banana")
				if !assert.NoError(t, err) {
					return
				}
				lower := strings.ToLower(answer)
				assert.True(t, strings.Contains(lower, "apple") || strings.Contains(lower, "banana"), answer)
			}
		}()
	}
	for i := 0; i < 10; i++ {
		doc := fmt.Sprintf("Banana split %d. ", i)
		_, err := s.Ingest(context.Background(), txtDoc("b.txt", strings.Repeat(doc, 10)))
		require.NoError(t, err)
	}
	close(stop)
	wg.Wait()
}

func TestSession_StagingDirMissing(t *testing.T) {
	missing := filepath.Join(t.TempDir(), "nope")
	s, _ := newTestSession(t, &fruitEmbedder{}, echoSynthesizer{}, WithTempDir(missing))

	_, err := s.Ingest(context.Background(), txtDoc("f.txt", fruitDoc))
	assert.True(t, errors.Is(err, domain.ErrExtraction))
	_, statErr := os.Stat(missing)
	assert.True(t, os.IsNotExist(statErr))
}
