package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaultValidates(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, BackendOllama, cfg.Backend)
	assert.Equal(t, cfg.Ollama.Model, cfg.Model())
}

func TestValidateNamesTheField(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantMsg string
	}{
		{
			name:    "unsupported schema version",
			mutate:  func(c *Config) { c.SchemaVersion = 99 },
			wantMsg: "schema_version 99",
		},
		{
			name:    "unknown backend",
			mutate:  func(c *Config) { c.Backend = "groq" },
			wantMsg: "backend",
		},
		{
			name:    "empty ollama host",
			mutate:  func(c *Config) { c.Ollama.Host = "" },
			wantMsg: "ollama.host",
		},
		{
			name: "openai backend without model",
			mutate: func(c *Config) {
				c.Backend = BackendOpenAI
				c.OpenAI.Model = ""
			},
			wantMsg: "openai.model",
		},
		{
			name:    "temperature out of range",
			mutate:  func(c *Config) { c.Generation.Temperature = 3.5 },
			wantMsg: "generation.temperature",
		},
		{
			name:    "reply budget exceeds context",
			mutate:  func(c *Config) { c.Limits.MaxReplyTokens = c.Limits.MaxContextTokens },
			wantMsg: "max_reply_tokens",
		},
		{
			name:    "empty workspace root",
			mutate:  func(c *Config) { c.Workspace.Root = "" },
			wantMsg: "workspace.root",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Default()
			tt.mutate(&cfg)
			err := cfg.Validate()
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantMsg)
		})
	}
}

func TestLoadWritesDefaultsOnFirstRun(t *testing.T) {
	dir := t.TempDir()

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, Default().Ollama.Host, cfg.Ollama.Host)

	// The file now exists and loads back identically.
	_, err = os.Stat(ConfigPath(dir))
	require.NoError(t, err)
	again, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, cfg, again)
}

func TestLoadAppliesEnvOverrides(t *testing.T) {
	dir := t.TempDir()
	t.Setenv("SIDEKICK_MODEL", "codellama:13b")
	t.Setenv("OLLAMA_HOST", "http://gpu-box:11434")

	cfg, err := Load(dir)
	require.NoError(t, err)
	assert.Equal(t, "codellama:13b", cfg.Ollama.Model)
	assert.Equal(t, "http://gpu-box:11434", cfg.Ollama.Host)
}

func TestLoadRejectsUnknownSchemaVersion(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DirName), 0o755))
	doc := `{"schema_version": 7, "backend": "ollama"}`
	require.NoError(t, os.WriteFile(ConfigPath(dir), []byte(doc), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "schema_version 7")
}

func TestLoadRejectsMalformedFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.MkdirAll(filepath.Join(dir, DirName), 0o755))
	require.NoError(t, os.WriteFile(ConfigPath(dir), []byte("{not json"), 0o644))

	_, err := Load(dir)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse")
}
