// Package config loads and validates the copilot's configuration from the
// project's .sidekick directory, and manages the encrypted secrets file that
// sits next to it.
package config

import (
	"fmt"

	"sidekick/pkg/llm"
)

// CurrentSchemaVersion is the config file format this build reads and writes.
const CurrentSchemaVersion = 1

// DirName is the per-project state directory.
const DirName = ".sidekick"

// Backend names the inference backend in use.
type Backend string

const (
	BackendOllama Backend = "ollama"
	BackendOpenAI Backend = "openai"
)

// Config is the full configuration document.
type Config struct {
	SchemaVersion int                   `json:"schema_version"`
	Backend       Backend               `json:"backend"`
	Ollama        OllamaCfg             `json:"ollama"`
	OpenAI        OpenAICfg             `json:"openai"`
	Generation    llm.GenerationOptions `json:"generation"`
	Limits        LimitsCfg             `json:"limits"`
	Workspace     WorkspaceCfg          `json:"workspace"`
}

// OllamaCfg configures the Ollama backend.
type OllamaCfg struct {
	Host  string `json:"host"`
	Model string `json:"model"`
}

// OpenAICfg configures an OpenAI-compatible backend (LM Studio, vLLM,
// llama.cpp server). The API key lives in the secrets file, not here.
type OpenAICfg struct {
	BaseURL string `json:"base_url"`
	Model   string `json:"model"`
}

// LimitsCfg bounds prompt assembly and context summaries.
type LimitsCfg struct {
	MaxContextTokens    int `json:"max_context_tokens"`
	MaxReplyTokens      int `json:"max_reply_tokens"`
	SummaryTurns        int `json:"summary_turns"`
	SummaryMessageChars int `json:"summary_message_chars"`
}

// WorkspaceCfg locates the project and its shell.
type WorkspaceCfg struct {
	Root  string `json:"root"`
	Shell string `json:"shell"`
}

// Default returns the configuration written on first run.
func Default() Config {
	return Config{
		SchemaVersion: CurrentSchemaVersion,
		Backend:       BackendOllama,
		Ollama: OllamaCfg{
			Host:  "http://localhost:11434",
			Model: "qwen2.5-coder:7b",
		},
		OpenAI: OpenAICfg{
			BaseURL: "http://localhost:1234/v1",
		},
		Generation: llm.GenerationOptions{
			Temperature: llm.TemperatureDefault,
			TopP:        0.9,
			NumCtx:      8192,
			NumPredict:  2048,
		},
		Limits: LimitsCfg{
			MaxContextTokens:    8192,
			MaxReplyTokens:      2048,
			SummaryTurns:        4,
			SummaryMessageChars: 240,
		},
		Workspace: WorkspaceCfg{
			Root:  ".",
			Shell: "/bin/sh",
		},
	}
}

// Validate checks the loaded document, naming the offending field.
func (c *Config) Validate() error {
	if c.SchemaVersion != CurrentSchemaVersion {
		return fmt.Errorf("schema_version %d is not supported (this build reads version %d)",
			c.SchemaVersion, CurrentSchemaVersion)
	}

	switch c.Backend {
	case BackendOllama:
		if c.Ollama.Host == "" {
			return fmt.Errorf("ollama.host cannot be empty")
		}
		if c.Ollama.Model == "" {
			return fmt.Errorf("ollama.model cannot be empty")
		}
	case BackendOpenAI:
		if c.OpenAI.BaseURL == "" {
			return fmt.Errorf("openai.base_url cannot be empty")
		}
		if c.OpenAI.Model == "" {
			return fmt.Errorf("openai.model cannot be empty")
		}
	default:
		return fmt.Errorf("backend %q is not one of %q or %q", c.Backend, BackendOllama, BackendOpenAI)
	}

	if c.Generation.Temperature < 0 || c.Generation.Temperature > 2 {
		return fmt.Errorf("generation.temperature %v is out of range [0,2]", c.Generation.Temperature)
	}
	if c.Limits.MaxContextTokens <= 0 {
		return fmt.Errorf("limits.max_context_tokens must be positive")
	}
	if c.Limits.MaxReplyTokens <= 0 {
		return fmt.Errorf("limits.max_reply_tokens must be positive")
	}
	if c.Limits.MaxReplyTokens >= c.Limits.MaxContextTokens {
		return fmt.Errorf("limits.max_reply_tokens must be smaller than limits.max_context_tokens")
	}
	if c.Limits.SummaryTurns < 0 {
		return fmt.Errorf("limits.summary_turns cannot be negative")
	}
	if c.Workspace.Root == "" {
		return fmt.Errorf("workspace.root cannot be empty")
	}
	return nil
}

// Model returns the model name for the configured backend.
func (c *Config) Model() string {
	if c.Backend == BackendOpenAI {
		return c.OpenAI.Model
	}
	return c.Ollama.Model
}
