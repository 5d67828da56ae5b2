// Package ai holds the configuration shared by the LLM-backed services.
package ai

import (
	"github.com/lembraai/lembra/internal/profile"
)

// Config represents AI configuration.
type Config struct {
	LLM       LLMConfig
	Embedding EmbeddingConfig
	Enabled   bool
}

// LLMConfig represents completion LLM configuration.
type LLMConfig struct {
	Provider    string // openai, deepseek, siliconflow, ollama
	Model       string
	APIKey      string
	BaseURL     string
	MaxTokens   int     // default: 1024
	Temperature float32 // default: 0.2, extraction wants determinism
	Timeout     int     // request timeout in seconds
}

// EmbeddingConfig represents vector embedding configuration.
type EmbeddingConfig struct {
	Provider   string
	Model      string
	APIKey     string
	BaseURL    string
	Dimensions int
}

// NewConfigFromProfile creates AI config from profile.
func NewConfigFromProfile(p *profile.Profile) *Config {
	cfg := &Config{
		Enabled: p.IsLLMEnabled(),
	}

	cfg.LLM = LLMConfig{
		Provider:    p.LLMProvider,
		Model:       p.LLMModel,
		APIKey:      p.LLMAPIKey,
		BaseURL:     p.LLMBaseURL,
		MaxTokens:   1024,
		Temperature: 0.2,
		Timeout:     p.LLMTimeout,
	}

	cfg.Embedding = EmbeddingConfig{
		Provider:   p.EmbeddingProvider,
		Model:      p.EmbeddingModel,
		APIKey:     p.EmbeddingAPIKey,
		BaseURL:    p.EmbeddingBaseURL,
		Dimensions: p.EmbeddingDimensions,
	}

	return cfg
}
