package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"docqa/internal/domain"
)

// OpenAIEmbedderConfig holds configuration for the OpenAI-compatible embedder.
type OpenAIEmbedderConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key,omitempty"`
	APIKeyEnv  string `yaml:"api_key_env"`
	Model      string `yaml:"model"`
	Dimensions int    `yaml:"dimensions,omitempty"`
	MaxRetries int    `yaml:"max_retries"`

	// RequestsPerSecond throttles embedding calls; 0 disables throttling.
	RequestsPerSecond float64 `yaml:"requests_per_second,omitempty"`
}

// EmbedderConfig selects and configures the text embedder implementation.
type EmbedderConfig struct {
	Type   string                `yaml:"type"`
	OpenAI *OpenAIEmbedderConfig `yaml:"openai,omitempty"`
}

// OpenAIChatConfig holds configuration for the chat completion synthesizer.
type OpenAIChatConfig struct {
	BaseURL     string  `yaml:"base_url"`
	APIKey      string  `yaml:"api_key,omitempty"`
	APIKeyEnv   string  `yaml:"api_key_env"`
	Model       string  `yaml:"model"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens,omitempty"`
}

// SynthesizerConfig selects and configures how answers are produced.
type SynthesizerConfig struct {
	Type         string            `yaml:"type"`
	MaxSentences int               `yaml:"max_sentences"`
	OpenAI       *OpenAIChatConfig `yaml:"openai,omitempty"`
}

// ChunkerConfig configures how documents are split into chunks.
type ChunkerConfig struct {
	Size    int `yaml:"size"`
	Overlap int `yaml:"overlap"`
}

// RetrievalConfig configures embedding fan-out and how many chunks answer a question.
type RetrievalConfig struct {
	TopK        int `yaml:"top_k"`
	BatchSize   int `yaml:"batch_size"`
	Concurrency int `yaml:"concurrency"`
}

// TimeoutsConfig bounds each external call, in seconds.
type TimeoutsConfig struct {
	ExtractSecs    int `yaml:"extract_secs"`
	EmbedSecs      int `yaml:"embed_secs"`
	SynthesizeSecs int `yaml:"synthesize_secs"`
}

// HTTPConfig configures the API server.
type HTTPConfig struct {
	Addr            string `yaml:"addr"`
	ReadTimeoutSec  int    `yaml:"read_timeout_sec"`
	WriteTimeoutSec int    `yaml:"write_timeout_sec"`
	ShutdownSec     int    `yaml:"shutdown_sec"`
	MaxUploadMB     int    `yaml:"max_upload_mb"`
}

// UsersConfig locates the e-mail registry database.
type UsersConfig struct {
	DBPath string `yaml:"db_path"`
}

// SessionsConfig controls idle session expiry.
type SessionsConfig struct {
	TTLMinutes int    `yaml:"ttl_minutes"`
	SweepSecs  int    `yaml:"sweep_secs"`
	TempDir    string `yaml:"temp_dir,omitempty"`
}

// LoggingConfig configures the zap logger.
type LoggingConfig struct {
	Env   string `yaml:"env"`
	Level string `yaml:"level"`
}

// AppConfig is the root application configuration structure.
type AppConfig struct {
	Embedder    EmbedderConfig    `yaml:"embedder"`
	Synthesizer SynthesizerConfig `yaml:"synthesizer"`
	Chunker     ChunkerConfig     `yaml:"chunker"`
	Retrieval   RetrievalConfig   `yaml:"retrieval"`
	Timeouts    TimeoutsConfig    `yaml:"timeouts"`
	HTTP        HTTPConfig        `yaml:"http"`
	Users       UsersConfig       `yaml:"users"`
	Sessions    SessionsConfig    `yaml:"sessions"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// Load reads a config from a specified path. If the file does not exist, returns defaults.
// ${VAR} and ${VAR:-default} references are replaced with environment values.
func Load(path string) (*AppConfig, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Default(), nil
		}
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	var cfg AppConfig
	if err := yaml.Unmarshal(expandEnvVars(data), &cfg); err != nil {
		return nil, fmt.Errorf("%w: parse config %s: %w", domain.ErrConfiguration, path, err)
	}
	cfg.ApplyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return &cfg, nil
}

// LoadDefault tries ./config.yaml first, then ~/.config/docqa/config.yaml.
// If neither exists, it writes defaults to ~/.config/docqa/config.yaml and returns them.
func LoadDefault() (*AppConfig, string, error) {
	cwdPath := "config.yaml"
	if _, err := os.Stat(cwdPath); err == nil {
		cfg, err := Load(cwdPath)
		return cfg, cwdPath, err
	}
	userPath, err := defaultUserConfigPath()
	if err != nil {
		return nil, "", err
	}
	if _, err := os.Stat(userPath); err == nil {
		cfg, err := Load(userPath)
		return cfg, userPath, err
	}
	cfg := Default()
	if err := Save(userPath, cfg); err != nil {
		return nil, "", err
	}
	return cfg, userPath, nil
}

// Save writes the config to the given path, creating directories as needed.
func Save(path string, cfg *AppConfig) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	data, err := yaml.Marshal(cfg)
	if err != nil {
		return err
	}
	return os.WriteFile(path, data, 0o644)
}

func defaultUserConfigPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "docqa", "config.yaml"), nil
}

// Default returns the configuration used when no file is present. It works
// offline: TF-IDF embeddings and extractive answers.
func Default() *AppConfig {
	cfg := &AppConfig{
		Embedder:    EmbedderConfig{Type: "tfidf"},
		Synthesizer: SynthesizerConfig{Type: "extractive"},
	}
	cfg.ApplyDefaults()
	return cfg
}

// ApplyDefaults fills empty fields with default values.
func (c *AppConfig) ApplyDefaults() {
	if c.Embedder.Type == "" {
		c.Embedder.Type = "tfidf"
	}
	if c.Embedder.Type == "openai" {
		if c.Embedder.OpenAI == nil {
			c.Embedder.OpenAI = &OpenAIEmbedderConfig{}
		}
		o := c.Embedder.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "text-embedding-3-small"
		}
		if o.MaxRetries == 0 {
			o.MaxRetries = 5
		}
	}

	if c.Synthesizer.Type == "" {
		c.Synthesizer.Type = "extractive"
	}
	if c.Synthesizer.MaxSentences <= 0 {
		c.Synthesizer.MaxSentences = 3
	}
	if c.Synthesizer.Type == "openai" {
		if c.Synthesizer.OpenAI == nil {
			c.Synthesizer.OpenAI = &OpenAIChatConfig{}
		}
		o := c.Synthesizer.OpenAI
		if o.BaseURL == "" {
			o.BaseURL = "https://api.openai.com/v1"
		}
		if o.APIKeyEnv == "" {
			o.APIKeyEnv = "OPENAI_API_KEY"
		}
		if o.Model == "" {
			o.Model = "gpt-4"
		}
	}

	if c.Chunker.Size == 0 {
		c.Chunker.Size = 600
		if c.Chunker.Overlap == 0 {
			c.Chunker.Overlap = 100
		}
	}
	if c.Retrieval.TopK <= 0 {
		c.Retrieval.TopK = 3
	}
	if c.Retrieval.BatchSize <= 0 {
		c.Retrieval.BatchSize = 32
	}
	if c.Retrieval.Concurrency <= 0 {
		c.Retrieval.Concurrency = 4
	}
	if c.Timeouts.ExtractSecs <= 0 {
		c.Timeouts.ExtractSecs = 120
	}
	if c.Timeouts.EmbedSecs <= 0 {
		c.Timeouts.EmbedSecs = 120
	}
	if c.Timeouts.SynthesizeSecs <= 0 {
		c.Timeouts.SynthesizeSecs = 60
	}
	if c.HTTP.Addr == "" {
		c.HTTP.Addr = ":8080"
	}
	if c.HTTP.ReadTimeoutSec <= 0 {
		c.HTTP.ReadTimeoutSec = 60
	}
	if c.HTTP.WriteTimeoutSec <= 0 {
		c.HTTP.WriteTimeoutSec = 300
	}
	if c.HTTP.ShutdownSec <= 0 {
		c.HTTP.ShutdownSec = 10
	}
	if c.HTTP.MaxUploadMB <= 0 {
		c.HTTP.MaxUploadMB = 50
	}
	if c.Users.DBPath == "" {
		c.Users.DBPath = "docqa.db"
	}
	if c.Sessions.TTLMinutes == 0 {
		c.Sessions.TTLMinutes = 60
	}
	if c.Sessions.SweepSecs <= 0 {
		c.Sessions.SweepSecs = 60
	}
	if c.Logging.Env == "" {
		c.Logging.Env = "local"
	}
	if c.Logging.Level == "" {
		c.Logging.Level = "info"
	}
}

// Validate checks the configuration for correctness.
func (c *AppConfig) Validate() error {
	switch c.Embedder.Type {
	case "tfidf", "openai":
	default:
		return fmt.Errorf("%w: embedder.type must be \"tfidf\" or \"openai\", got %q", domain.ErrConfiguration, c.Embedder.Type)
	}
	switch c.Synthesizer.Type {
	case "extractive", "openai":
	default:
		return fmt.Errorf("%w: synthesizer.type must be \"extractive\" or \"openai\", got %q", domain.ErrConfiguration, c.Synthesizer.Type)
	}
	if c.Chunker.Size <= 0 || c.Chunker.Overlap < 0 || c.Chunker.Overlap >= c.Chunker.Size {
		return fmt.Errorf("%w: chunker.overlap must be in [0, size), got size=%d overlap=%d",
			domain.ErrConfiguration, c.Chunker.Size, c.Chunker.Overlap)
	}
	switch c.Logging.Env {
	case "local", "dev", "prod":
	default:
		return fmt.Errorf("%w: logging.env must be local, dev or prod, got %q", domain.ErrConfiguration, c.Logging.Env)
	}
	return nil
}

// EmbedderAPIKey resolves the embedder key: the inline value, else the named environment variable.
func (c *AppConfig) EmbedderAPIKey() string {
	if c.Embedder.OpenAI == nil {
		return ""
	}
	return resolveKey(c.Embedder.OpenAI.APIKey, c.Embedder.OpenAI.APIKeyEnv)
}

// SynthesizerAPIKey resolves the chat model key the same way as EmbedderAPIKey.
func (c *AppConfig) SynthesizerAPIKey() string {
	if c.Synthesizer.OpenAI == nil {
		return ""
	}
	return resolveKey(c.Synthesizer.OpenAI.APIKey, c.Synthesizer.OpenAI.APIKeyEnv)
}

func resolveKey(inline, env string) string {
	if inline != "" {
		return inline
	}
	if env == "" {
		return ""
	}
	return os.Getenv(env)
}

// SessionTTL returns the idle session lifetime. Zero or negative disables expiry.
func (c *AppConfig) SessionTTL() time.Duration {
	return time.Duration(c.Sessions.TTLMinutes) * time.Minute
}

// Seconds converts a seconds setting to a duration.
func Seconds(n int) time.Duration { return time.Duration(n) * time.Second }

var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1])
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
