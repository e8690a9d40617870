package config

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"sidekick/pkg/logx"
)

const configFileName = "config.json"

// ConfigPath returns the config file location for a project directory.
func ConfigPath(projectDir string) string {
	return filepath.Join(projectDir, DirName, configFileName)
}

// Load reads the project's config, writing the defaults on first run.
// Precedence, lowest to highest: defaults, file, environment overrides.
func Load(projectDir string) (Config, error) {
	logger := logx.NewLogger("config")
	cfg := Default()

	path := ConfigPath(projectDir)
	data, err := os.ReadFile(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		logger.Info("no config at %s, writing defaults", path)
		if err := Save(projectDir, cfg); err != nil {
			return Config{}, err
		}
	case err != nil:
		return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
	default:
		if err := json.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("failed to parse config %s: %w", path, err)
		}
	}

	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config %s: %w", path, err)
	}
	return cfg, nil
}

// Save writes the config document, creating the .sidekick directory if
// needed.
func Save(projectDir string, cfg Config) error {
	dir := filepath.Join(projectDir, DirName)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}

	data, err := json.MarshalIndent(cfg, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to serialize config: %w", err)
	}
	path := filepath.Join(dir, configFileName)
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return fmt.Errorf("failed to write config %s: %w", path, err)
	}
	return nil
}

// applyEnvOverrides lets the environment trump the file for the knobs that
// change per machine or per invocation.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("SIDEKICK_BACKEND"); v != "" {
		cfg.Backend = Backend(v)
	}
	if v := os.Getenv("OLLAMA_HOST"); v != "" {
		cfg.Ollama.Host = v
	}
	if v := os.Getenv("SIDEKICK_MODEL"); v != "" {
		cfg.Ollama.Model = v
		cfg.OpenAI.Model = v
	}
}
