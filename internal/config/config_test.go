package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var envKeys = []string{
	"PORT", "LAWN_BIND_ADDRESS", "LAWN_AI_PROVIDER", "LAWN_AI_MODEL",
	"GEMINI_API_KEY", "NEXT_PUBLIC_GEMINI_API_KEY", "OPENAI_API_KEY",
	"LAWN_LOG_LEVEL", "LAWN_LOG_FORMAT", "LAWN_DATA_DIR",
}

// clearEnv unsets every variable the loader reads and restores them afterwards.
func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range envKeys {
		prev, ok := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if ok {
				os.Setenv(key, prev)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}

func TestLoadConfig_CreatesDefault(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "lawn-analyzer.yaml")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.FileExists(t, path)
	assert.Equal(t, 8080, cfg.Server.Port)
	assert.Equal(t, "gemini", cfg.AI.Provider)
	assert.Equal(t, DefaultAnalysisPrompt, cfg.Analysis.Prompt)
	assert.Equal(t, DefaultSelfTestPrompt, cfg.Analysis.SelfTestPrompt)
	assert.False(t, cfg.Analysis.AttachPhoto)
	assert.True(t, filepath.IsAbs(cfg.Storage.ScratchDir))

	// Reloading the generated file yields the same settings.
	again, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadConfig_ReadsYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
server:
  port: 9090
ai:
  provider: openai
  apiKey: sk-from-file
  model: gpt-4o
analysis:
  attachPhoto: true
storage:
  backend: disk
  scratchDir: /tmp/lawn
`), 0644))

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 9090, cfg.Server.Port)
	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "sk-from-file", cfg.AI.APIKey)
	assert.Equal(t, "gpt-4o", cfg.AI.Model)
	assert.True(t, cfg.Analysis.AttachPhoto)
	assert.Equal(t, "/tmp/lawn", cfg.Storage.ScratchDir)
	// Unset keys keep their defaults.
	assert.Equal(t, DefaultAnalysisPrompt, cfg.Analysis.Prompt)
	assert.Equal(t, 100, cfg.Session.MaxSessions)
}

func TestLoadConfig_InvalidYAML(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("server: [unclosed"), 0644))

	_, err := LoadConfig(path)
	assert.Error(t, err)
}

func TestLoadConfig_ProviderIsCaseInsensitive(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	require.NoError(t, os.WriteFile(path, []byte("ai:\n  provider: \" OpenAI\"\n"), 0644))
	t.Setenv("OPENAI_API_KEY", "sk-from-env")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, "openai", cfg.AI.Provider)
	assert.Equal(t, "sk-from-env", cfg.AI.APIKey)
	assert.NoError(t, cfg.Validate())
}

func TestLoadConfig_EnvironmentOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")

	t.Setenv("PORT", "7000")
	t.Setenv("GEMINI_API_KEY", "AIzaFromEnv")
	t.Setenv("LAWN_LOG_FORMAT", "json")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)

	assert.Equal(t, 7000, cfg.Server.Port)
	assert.Equal(t, "AIzaFromEnv", cfg.AI.APIKey)
	assert.Equal(t, "json", cfg.Logging.Format)
}

func TestLoadConfig_LegacyKeyVariable(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.yaml")
	t.Setenv("NEXT_PUBLIC_GEMINI_API_KEY", "AIzaLegacy")

	cfg, err := LoadConfig(path)
	require.NoError(t, err)
	assert.Equal(t, "AIzaLegacy", cfg.AI.APIKey)
}

func TestLoadConfig_DotEnv(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".env"), []byte("GEMINI_API_KEY=AIzaDotEnv\n"), 0644))

	cfg, err := LoadConfig(filepath.Join(dir, "config.yaml"))
	require.NoError(t, err)
	assert.Equal(t, "AIzaDotEnv", cfg.AI.APIKey)
}

func TestSave_OmitsAPIKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "config.yaml")
	cfg := DefaultConfig()
	cfg.AI.APIKey = "AIzaSecret"

	require.NoError(t, cfg.Save(path))

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "AIzaSecret")
	assert.Equal(t, "AIzaSecret", cfg.AI.APIKey)
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *AppConfig)
		wantErr string
	}{
		{name: "valid", mutate: func(c *AppConfig) {}},
		{name: "missing key", mutate: func(c *AppConfig) { c.AI.APIKey = "" }, wantErr: "ai.apiKey is required"},
		{name: "unknown provider", mutate: func(c *AppConfig) { c.AI.Provider = "llama" }, wantErr: "ai.provider"},
		{name: "unknown backend", mutate: func(c *AppConfig) { c.Storage.Backend = "s3" }, wantErr: "storage.backend"},
		{name: "bad port", mutate: func(c *AppConfig) { c.Server.Port = 0 }, wantErr: "server.port"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			cfg.AI.APIKey = "AIzaKey"
			tt.mutate(cfg)

			err := cfg.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGetServerAddr(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, "0.0.0.0:8080", cfg.GetServerAddr())
}
