package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"docqa/internal/domain"
	"docqa/internal/metrics"
	"docqa/internal/retrieval"
	"docqa/internal/vectorstore/memory"
)

// State is the lifecycle state of a Session.
type State string

const (
	StateEmpty State = "EMPTY"
	StateReady State = "READY"
)

const (
	DefaultBatchSize         = 32
	DefaultConcurrency       = 4
	DefaultExtractTimeout    = 2 * time.Minute
	DefaultEmbedTimeout      = 2 * time.Minute
	DefaultSynthesizeTimeout = time.Minute

	answerErrorPrefix = "Error generating answer: "
	contextSeparator  = "\n\n"
)

// Splitter cuts text into ordered chunks.
type Splitter interface {
	Split(text string) ([]domain.Chunk, error)
}

// Extractors resolves the extractor for a media type.
type Extractors interface {
	Lookup(mediaType string) (domain.Extractor, bool)
}

// ProgressFunc receives embedding progress during ingestion.
type ProgressFunc func(done, total int)

// Info describes the document a session currently answers from.
type Info struct {
	State      State     `json:"state"`
	Document   string    `json:"document,omitempty"`
	Chunks     int       `json:"chunks"`
	IngestedAt time.Time `json:"ingested_at,omitzero"`
}

// snapshot is everything a query needs. It is never mutated after publication.
type snapshot struct {
	index      *memory.Index
	embedder   domain.Embedder
	document   string
	chunks     int
	ingestedAt time.Time
}

// Timeouts bound each external call made by a session.
type Timeouts struct {
	Extract    time.Duration
	Embed      time.Duration
	Synthesize time.Duration
}

// Session answers questions about the last successfully ingested document.
// Ask may run concurrently with Ingest; it always sees a complete index.
type Session struct {
	splitter    Splitter
	extractors  Extractors
	embedder    domain.Embedder
	synthesizer domain.Synthesizer

	topK        int
	batchSize   int
	concurrency int
	timeouts    Timeouts
	tempDir     string
	logger      *zap.Logger
	progress    ProgressFunc

	ingestMu   sync.Mutex
	current    atomic.Pointer[snapshot]
	lastErrMu  sync.Mutex
	lastIngest error
}

// Option configures a Session.
type Option func(*Session)

// WithTopK sets how many chunks are retrieved per question.
func WithTopK(k int) Option { return func(s *Session) { s.topK = k } }

// WithBatchSize sets how many chunks go into one batch embedding request.
func WithBatchSize(n int) Option { return func(s *Session) { s.batchSize = n } }

// WithConcurrency limits parallel embedding calls for embedders without batch support.
func WithConcurrency(n int) Option { return func(s *Session) { s.concurrency = n } }

// WithTimeouts overrides the per-call timeouts. Zero fields keep their defaults.
func WithTimeouts(t Timeouts) Option {
	return func(s *Session) {
		if t.Extract > 0 {
			s.timeouts.Extract = t.Extract
		}
		if t.Embed > 0 {
			s.timeouts.Embed = t.Embed
		}
		if t.Synthesize > 0 {
			s.timeouts.Synthesize = t.Synthesize
		}
	}
}

// WithLogger sets the session logger.
func WithLogger(l *zap.Logger) Option { return func(s *Session) { s.logger = l } }

// WithProgress registers an embedding progress callback.
func WithProgress(fn ProgressFunc) Option { return func(s *Session) { s.progress = fn } }

// WithTempDir sets where uploaded documents are staged for extraction.
func WithTempDir(dir string) Option { return func(s *Session) { s.tempDir = dir } }

// NewSession creates an EMPTY session.
func NewSession(splitter Splitter, extractors Extractors, embedder domain.Embedder, synthesizer domain.Synthesizer, opts ...Option) *Session {
	s := &Session{
		splitter:    splitter,
		extractors:  extractors,
		embedder:    embedder,
		synthesizer: synthesizer,
		topK:        retrieval.DefaultTopK,
		batchSize:   DefaultBatchSize,
		concurrency: DefaultConcurrency,
		timeouts: Timeouts{
			Extract:    DefaultExtractTimeout,
			Embed:      DefaultEmbedTimeout,
			Synthesize: DefaultSynthesizeTimeout,
		},
		logger: zap.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.topK <= 0 {
		s.topK = retrieval.DefaultTopK
	}
	if s.batchSize <= 0 {
		s.batchSize = DefaultBatchSize
	}
	if s.concurrency <= 0 {
		s.concurrency = 1
	}
	return s
}

// State reports whether a document has been ingested.
func (s *Session) State() State {
	if s.current.Load() == nil {
		return StateEmpty
	}
	return StateReady
}

// Info describes the active document.
func (s *Session) Info() Info {
	snap := s.current.Load()
	if snap == nil {
		return Info{State: StateEmpty}
	}
	return Info{State: StateReady, Document: snap.document, Chunks: snap.chunks, IngestedAt: snap.ingestedAt}
}

// Reset drops the active document and returns the session to EMPTY.
func (s *Session) Reset() {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()
	s.current.Store(nil)
	s.setLastIngestErr(nil)
}

// Ingest extracts, chunks, embeds and indexes doc, then makes it the active
// document. It returns the number of chunks. On failure the previously
// active document stays in place.
func (s *Session) Ingest(ctx context.Context, doc domain.Document) (n int, err error) {
	s.ingestMu.Lock()
	defer s.ingestMu.Unlock()

	mediaType := domain.NormalizeMediaType(doc.MediaType)
	if mediaType == "" {
		mediaType = domain.NormalizeMediaType(doc.Name)
	}
	log := s.logger.With(zap.String("document", doc.Name), zap.String("media_type", mediaType))
	start := time.Now()
	defer func() {
		status := "success"
		if err != nil {
			status = "error"
			log.Warn("Ingestion failed", zap.Error(err))
		} else {
			log.Info("Document ingested", zap.Int("chunks", n), zap.Duration("duration", time.Since(start)))
			metrics.IngestedChunks.Observe(float64(n))
		}
		metrics.IngestionsTotal.WithLabelValues(mediaType, status).Inc()
		metrics.IngestionDuration.WithLabelValues(mediaType).Observe(time.Since(start).Seconds())
		s.setLastIngestErr(err)
	}()

	extractor, ok := s.extractors.Lookup(mediaType)
	if !ok {
		return 0, fmt.Errorf("%w: %q", domain.ErrUnsupportedFormat, doc.MediaType)
	}

	ext, err := s.extract(ctx, extractor, doc, mediaType)
	if err != nil {
		return 0, err
	}

	chunks, err := s.splitter.Split(ext.Text)
	if err != nil {
		return 0, fmt.Errorf("split document: %w", err)
	}
	for i := range chunks {
		chunks[i].Page = ext.PageAt(chunks[i].Offset)
	}
	log.Debug("Document split", zap.Int("chunks", len(chunks)), zap.Int("runes", len([]rune(ext.Text))))

	texts := make([]string, len(chunks))
	for i, ch := range chunks {
		texts[i] = ch.Text
	}

	embedder := s.embedder
	if fitter, ok := embedder.(domain.Fitter); ok && len(texts) > 0 {
		fitted, err := fitter.Fit(texts)
		if err != nil {
			return 0, fmt.Errorf("fit embedder: %w: %w", domain.ErrEmbedding, err)
		}
		embedder = fitted
	}

	vectors, err := s.embedAll(ctx, embedder, texts)
	if err != nil {
		return 0, err
	}

	entries := make([]memory.Entry, len(chunks))
	for i := range chunks {
		entries[i] = memory.Entry{Vector: vectors[i], Chunk: chunks[i]}
	}
	index, err := memory.Build(entries)
	if err != nil {
		return 0, fmt.Errorf("build index: %w: %w", domain.ErrEmbedding, err)
	}

	s.current.Store(&snapshot{
		index:      index,
		embedder:   embedder,
		document:   doc.Name,
		chunks:     len(chunks),
		ingestedAt: time.Now(),
	})
	return len(chunks), nil
}

// extract stages the document bytes in a temporary file and runs the extractor on it.
// The file is removed on every path, including a panicking parser.
func (s *Session) extract(ctx context.Context, extractor domain.Extractor, doc domain.Document, mediaType string) (ext domain.Extraction, err error) {
	f, err := os.CreateTemp(s.tempDir, "docqa-"+uuid.NewString()+"-*."+mediaType)
	if err != nil {
		return domain.Extraction{}, fmt.Errorf("%w: stage document: %w", domain.ErrExtraction, err)
	}
	path := f.Name()
	defer func() {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("Failed to remove staged document", zap.String("path", path), zap.Error(rmErr))
		}
	}()
	_, werr := f.Write(doc.Data)
	cerr := f.Close()
	if werr != nil || cerr != nil {
		return domain.Extraction{}, fmt.Errorf("%w: stage document: %w", domain.ErrExtraction, errors.Join(werr, cerr))
	}

	defer func() {
		if r := recover(); r != nil {
			ext = domain.Extraction{}
			err = fmt.Errorf("%w: extractor panic: %v", domain.ErrExtraction, r)
		}
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Extract)
	defer cancel()
	ext, err = extractor.Extract(ctx, path)
	if err != nil {
		if errors.Is(err, domain.ErrExtraction) {
			return domain.Extraction{}, err
		}
		return domain.Extraction{}, fmt.Errorf("%w: %w", domain.ErrExtraction, err)
	}
	return ext, nil
}

// embedAll embeds texts in order under the embed timeout. Batch embedders get
// requests of up to batchSize texts; others are called once per text with at
// most concurrency calls in flight.
func (s *Session) embedAll(ctx context.Context, embedder domain.Embedder, texts []string) ([]domain.Vector, error) {
	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Embed)
	defer cancel()

	vectors := make([]domain.Vector, len(texts))
	var done atomic.Int64
	report := func(n int) {
		if s.progress != nil {
			s.progress(int(done.Add(int64(n))), len(texts))
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.concurrency)
	if be, ok := embedder.(domain.BatchEmbedder); ok {
		for start := 0; start < len(texts); start += s.batchSize {
			start := start
			end := min(start+s.batchSize, len(texts))
			g.Go(func() error {
				out, err := be.EmbedBatch(gctx, texts[start:end])
				if err != nil {
					return err
				}
				if len(out) != end-start {
					return fmt.Errorf("batch returned %d vectors for %d texts", len(out), end-start)
				}
				copy(vectors[start:end], out)
				report(end - start)
				return nil
			})
		}
	} else {
		for i := range texts {
			i := i
			g.Go(func() error {
				v, err := embedder.Embed(gctx, texts[i])
				if err != nil {
					return err
				}
				vectors[i] = v
				report(1)
				return nil
			})
		}
	}
	if err := g.Wait(); err != nil {
		if errors.Is(err, domain.ErrEmbedding) {
			return nil, fmt.Errorf("embed chunks: %w", err)
		}
		return nil, fmt.Errorf("embed chunks: %w: %w", domain.ErrEmbedding, err)
	}
	return vectors, nil
}

// Ask answers question from the active document. A synthesizer failure is
// reported inside the answer text rather than as an error.
func (s *Session) Ask(ctx context.Context, question string) (answer string, err error) {
	snap := s.current.Load()
	if snap == nil {
		metrics.QuestionsTotal.WithLabelValues("not_ready").Inc()
		return "", &domain.NotReadyError{LastIngestErr: s.lastIngestErr()}
	}
	if snap.index.Len() == 0 {
		metrics.QuestionsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("retrieve: %w: %w", domain.ErrRetrieval, domain.ErrEmptyIndex)
	}

	embedCtx, cancel := context.WithTimeout(ctx, s.timeouts.Embed)
	matches, err := retrieval.New(snap.embedder, snap.index).Retrieve(embedCtx, question, s.topK)
	cancel()
	if err != nil {
		metrics.QuestionsTotal.WithLabelValues("error").Inc()
		return "", fmt.Errorf("retrieve: %w: %w", domain.ErrRetrieval, err)
	}

	passages := make([]string, len(matches))
	for i, m := range matches {
		passages[i] = m.Chunk.Text
	}
	s.logger.Debug("Retrieved passages",
		zap.String("document", snap.document),
		zap.Int("matches", len(matches)),
	)

	answer, synthErr := s.synthesize(ctx, question, strings.Join(passages, contextSeparator))
	if synthErr != nil {
		s.logger.Warn("Answer synthesis failed", zap.String("synthesizer", s.synthesizer.Name()), zap.Error(synthErr))
		metrics.QuestionsTotal.WithLabelValues("synthesis_error").Inc()
		return answerErrorPrefix + synthErr.Error(), nil
	}
	metrics.QuestionsTotal.WithLabelValues("success").Inc()
	return answer, nil
}

func (s *Session) synthesize(ctx context.Context, question, passages string) (answer string, err error) {
	name := s.synthesizer.Name()
	start := time.Now()
	defer func() {
		if r := recover(); r != nil {
			answer, err = "", fmt.Errorf("%w: synthesizer panic: %v", domain.ErrSynthesis, r)
		}
		status := "success"
		if err != nil {
			status = "error"
		}
		metrics.SynthesisRequestsTotal.WithLabelValues(name, status).Inc()
		metrics.SynthesisDuration.WithLabelValues(name).Observe(time.Since(start).Seconds())
	}()

	ctx, cancel := context.WithTimeout(ctx, s.timeouts.Synthesize)
	defer cancel()
	return s.synthesizer.Synthesize(ctx, question, passages)
}

func (s *Session) setLastIngestErr(err error) {
	s.lastErrMu.Lock()
	s.lastIngest = err
	s.lastErrMu.Unlock()
}

func (s *Session) lastIngestErr() error {
	s.lastErrMu.Lock()
	defer s.lastErrMu.Unlock()
	return s.lastIngest
}
