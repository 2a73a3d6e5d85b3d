package openai

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"

	openai "github.com/sashabaranov/go-openai"

	"docqa/internal/domain"
)

const DefaultModel = "gpt-4"

// promptTemplate stuffs every retrieved chunk into a single prompt.
const promptTemplate = `Use the following pieces of context to answer the question at the end. If you don't know the answer, just say that you don't know, don't try to make up an answer.

%s

Question: %s
Helpful Answer:`

// Config configures the chat completion synthesizer.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float32
	MaxTokens   int
}

// Synthesizer answers questions with an OpenAI-compatible chat model.
type Synthesizer struct {
	client      *openai.Client
	model       string
	temperature float32
	maxTokens   int
}

// New creates a chat synthesizer.
func New(cfg Config) (*Synthesizer, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("%w: missing chat API key, set it in the OPENAI_API_KEY environment variable", domain.ErrConfiguration)
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	clientCfg := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		clientCfg.BaseURL = cfg.BaseURL
	}
	temperature := cfg.Temperature
	if temperature == 0 {
		// go-openai omits a zero temperature from the request.
		temperature = math.SmallestNonzeroFloat32
	}
	return &Synthesizer{
		client:      openai.NewClientWithConfig(clientCfg),
		model:       cfg.Model,
		temperature: temperature,
		maxTokens:   cfg.MaxTokens,
	}, nil
}

// Name returns the identifier of this synthesizer.
func (s *Synthesizer) Name() string { return "openai" }

// Synthesize asks the chat model to answer question from the retrieved passages.
func (s *Synthesizer) Synthesize(ctx context.Context, question, passages string) (string, error) {
	req := openai.ChatCompletionRequest{
		Model: s.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleUser, Content: Prompt(question, passages)},
		},
		Temperature: s.temperature,
	}
	if s.maxTokens > 0 {
		req.MaxCompletionTokens = s.maxTokens
	}
	resp, err := s.client.CreateChatCompletion(ctx, req)
	if err != nil {
		var apiErr *openai.APIError
		if errors.As(err, &apiErr) {
			return "", fmt.Errorf("%w: chat API error %d: %s", domain.ErrSynthesis, apiErr.HTTPStatusCode, apiErr.Message)
		}
		return "", fmt.Errorf("%w: %w", domain.ErrSynthesis, err)
	}
	if len(resp.Choices) == 0 {
		return "", fmt.Errorf("%w: empty chat completion", domain.ErrSynthesis)
	}
	return strings.TrimSpace(resp.Choices[0].Message.Content), nil
}

// Prompt renders the prompt sent to the model.
func Prompt(question, passages string) string {
	return fmt.Sprintf(promptTemplate, passages, question)
}
