package config

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docqa/internal/domain"
)

func writeConfig(t *testing.T, body string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	require.NoError(t, err)
	assert.Equal(t, Default(), cfg)
	assert.Equal(t, 600, cfg.Chunker.Size)
	assert.Equal(t, 100, cfg.Chunker.Overlap)
	assert.Equal(t, 3, cfg.Retrieval.TopK)
	assert.Equal(t, "tfidf", cfg.Embedder.Type)
	assert.Equal(t, "extractive", cfg.Synthesizer.Type)
}

func TestLoad_ExpandsEnvAndAppliesDefaults(t *testing.T) {
	t.Setenv("DOCQA_TEST_KEY", "sk-from-env")
	t.Setenv("DOCQA_TEST_MODEL", "")
	path := writeConfig(t, `
embedder:
  type: openai
  openai:
    api_key: ${DOCQA_TEST_KEY}
    model: ${DOCQA_TEST_MODEL:-nomic-embed-text}
    base_url: http://localhost:11434/v1
synthesizer:
  type: openai
chunker:
  size: 300
  overlap: 50
http:
  addr: ${DOCQA_TEST_ADDR:-:9090}
`)

	cfg, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, "sk-from-env", cfg.EmbedderAPIKey())
	assert.Equal(t, "nomic-embed-text", cfg.Embedder.OpenAI.Model)
	assert.Equal(t, "OPENAI_API_KEY", cfg.Embedder.OpenAI.APIKeyEnv)
	assert.Equal(t, 5, cfg.Embedder.OpenAI.MaxRetries)
	assert.Equal(t, "gpt-4", cfg.Synthesizer.OpenAI.Model)
	assert.Equal(t, 300, cfg.Chunker.Size)
	assert.Equal(t, 50, cfg.Chunker.Overlap)
	assert.Equal(t, ":9090", cfg.HTTP.Addr)
}

func TestLoad_ExplicitZeroOverlapKept(t *testing.T) {
	cfg, err := Load(writeConfig(t, "chunker:\n  size: 200\n  overlap: 0\n"))
	require.NoError(t, err)
	assert.Equal(t, 0, cfg.Chunker.Overlap)
}

func TestLoad_Invalid(t *testing.T) {
	cases := map[string]string{
		"bad yaml":          "embedder: [",
		"unknown embedder":  "embedder:\n  type: word2vec\n",
		"unknown synth":     "synthesizer:\n  type: oracle\n",
		"overlap too large": "chunker:\n  size: 100\n  overlap: 100\n",
		"bad log env":       "logging:\n  env: staging\n",
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := Load(writeConfig(t, body))
			require.Error(t, err)
			assert.True(t, errors.Is(err, domain.ErrConfiguration))
		})
	}
}

func TestAPIKeyFromEnvName(t *testing.T) {
	t.Setenv("MY_KEY", "secret")
	cfg := &AppConfig{Synthesizer: SynthesizerConfig{Type: "openai", OpenAI: &OpenAIChatConfig{APIKeyEnv: "MY_KEY"}}}
	assert.Equal(t, "secret", cfg.SynthesizerAPIKey())
	assert.Equal(t, "", cfg.EmbedderAPIKey())
}

func TestLoadDefault_WritesUserConfig(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	chdir(t, t.TempDir())

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(home, ".config", "docqa", "config.yaml"), path)
	assert.Equal(t, Default(), cfg)

	again, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadDefault_PrefersWorkingDirectory(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	dir := t.TempDir()
	chdir(t, dir)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "config.yaml"), []byte("retrieval:\n  top_k: 7\n"), 0o600))

	cfg, path, err := LoadDefault()
	require.NoError(t, err)
	assert.Equal(t, "config.yaml", path)
	assert.Equal(t, 7, cfg.Retrieval.TopK)
}

// chdir changes the working directory for the duration of the test,
// equivalent to testing.T.Chdir (Go 1.24+).
func chdir(t *testing.T, dir string) {
	t.Helper()
	prev, err := os.Getwd()
	require.NoError(t, err)
	require.NoError(t, os.Chdir(dir))
	t.Cleanup(func() { _ = os.Chdir(prev) })
}
