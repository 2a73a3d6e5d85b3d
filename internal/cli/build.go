package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"go.uber.org/zap"

	"docqa/internal/chunker"
	"docqa/internal/config"
	"docqa/internal/domain"
	"docqa/internal/embedding/openai"
	"docqa/internal/embedding/tfidf"
	"docqa/internal/extract"
	"docqa/internal/service"
	"docqa/internal/synthesizer/extractive"
	chat "docqa/internal/synthesizer/openai"
)

func newEmbedder(cfg *config.AppConfig, log *zap.Logger) (domain.Embedder, error) {
	switch cfg.Embedder.Type {
	case "tfidf":
		return tfidf.NewEmbedder(), nil
	case "openai":
		o := cfg.Embedder.OpenAI
		client, err := openai.NewClient(openai.Config{
			BaseURL:    o.BaseURL,
			APIKey:     cfg.EmbedderAPIKey(),
			Model:      o.Model,
			Dimensions: o.Dimensions,
			MaxRetries: o.MaxRetries,
			Logger:     log,

			RequestsPerSecond: o.RequestsPerSecond,
		})
		if err != nil {
			return nil, err
		}
		return client, nil
	default:
		return nil, fmt.Errorf("%w: unknown embedder %q", domain.ErrConfiguration, cfg.Embedder.Type)
	}
}

func newSynthesizer(cfg *config.AppConfig) (domain.Synthesizer, error) {
	switch cfg.Synthesizer.Type {
	case "extractive":
		return extractive.New(cfg.Synthesizer.MaxSentences), nil
	case "openai":
		o := cfg.Synthesizer.OpenAI
		synth, err := chat.New(chat.Config{
			BaseURL:     o.BaseURL,
			APIKey:      cfg.SynthesizerAPIKey(),
			Model:       o.Model,
			Temperature: o.Temperature,
			MaxTokens:   o.MaxTokens,
		})
		if err != nil {
			return nil, err
		}
		return synth, nil
	default:
		return nil, fmt.Errorf("%w: unknown synthesizer %q", domain.ErrConfiguration, cfg.Synthesizer.Type)
	}
}

// newSessionFactory assembles the pipeline components once and returns a
// factory of empty sessions sharing them.
func newSessionFactory(cfg *config.AppConfig, log *zap.Logger, extra ...service.Option) (service.SessionFactory, error) {
	split, err := chunker.New(cfg.Chunker.Size, cfg.Chunker.Overlap)
	if err != nil {
		return nil, err
	}
	emb, err := newEmbedder(cfg, log)
	if err != nil {
		return nil, err
	}
	synth, err := newSynthesizer(cfg)
	if err != nil {
		return nil, err
	}
	registry := extract.NewRegistry()

	opts := []service.Option{
		service.WithTopK(cfg.Retrieval.TopK),
		service.WithBatchSize(cfg.Retrieval.BatchSize),
		service.WithConcurrency(cfg.Retrieval.Concurrency),
		service.WithTimeouts(service.Timeouts{
			Extract:    config.Seconds(cfg.Timeouts.ExtractSecs),
			Embed:      config.Seconds(cfg.Timeouts.EmbedSecs),
			Synthesize: config.Seconds(cfg.Timeouts.SynthesizeSecs),
		}),
		service.WithLogger(log),
	}
	if cfg.Sessions.TempDir != "" {
		opts = append(opts, service.WithTempDir(cfg.Sessions.TempDir))
	}
	opts = append(opts, extra...)

	log.Info("Pipeline assembled",
		zap.String("embedder", emb.Name()),
		zap.String("synthesizer", synth.Name()),
		zap.Int("chunk_size", split.Size()),
		zap.Int("chunk_overlap", split.Overlap()),
		zap.Strings("formats", registry.MediaTypes()),
	)
	return func() *service.Session {
		return service.NewSession(split, registry, emb, synth, opts...)
	}, nil
}

func readDocument(path string) (domain.Document, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return domain.Document{}, fmt.Errorf("failed to read %s: %w", path, err)
	}
	return domain.Document{
		Name:      filepath.Base(path),
		MediaType: filepath.Ext(path),
		Data:      data,
	}, nil
}
