package profile

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is the runtime configuration for the memory engine.
type Profile struct {
	// LLM completion configuration (OpenAI-compatible protocol).
	// All providers (openai, deepseek, siliconflow, ollama) use the same config.
	LLMProvider string // Provider identifier: openai, deepseek, siliconflow, ollama
	LLMAPIKey   string
	LLMBaseURL  string // Optional, has a default per provider
	LLMModel    string
	LLMTimeout  int // Request timeout in seconds (default: 60)

	// Embedding configuration
	EmbeddingProvider   string
	EmbeddingModel      string
	EmbeddingAPIKey     string
	EmbeddingBaseURL    string
	EmbeddingDimensions int

	// Retrieval configuration
	TemporalBoostMode string // recency, balanced, archival (default: balanced)

	// Consolidation configuration
	ConsolidationIntervalHours int // 0 disables the scheduler
	ConsolidationLookbackDays  int
	ConsolidationMinCluster    int

	// Server configuration
	Mode    string // dev, demo, prod
	Addr    string
	Port    int
	Data    string
	Driver  string // postgres, sqlite
	DSN     string
	Version string
}

// Provider default configurations for LLM, used when LEMBRA_LLM_BASE_URL
// is not explicitly set.
var llmProviderDefaults = map[string]struct {
	BaseURL string
	Model   string
}{
	"openai": {
		BaseURL: "https://api.openai.com/v1",
		Model:   "gpt-4o-mini",
	},
	"deepseek": {
		BaseURL: "https://api.deepseek.com",
		Model:   "deepseek-chat",
	},
	"siliconflow": {
		BaseURL: "https://api.siliconflow.cn/v1",
		Model:   "Qwen/Qwen2.5-72B-Instruct",
	},
	"ollama": {
		BaseURL: "http://localhost:11434/v1",
		Model:   "llama3.1",
	},
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// IsLLMEnabled returns true if a completion provider is configured.
// Without one the extractor and consolidator run on their rule fallbacks.
func (p *Profile) IsLLMEnabled() bool {
	return p.LLMAPIKey != "" || p.LLMProvider == "ollama"
}

func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// FromEnv fills the profile from LEMBRA_-prefixed environment variables.
// Values already set on the profile (e.g. from flags) are not overridden.
func (p *Profile) FromEnv() {
	p.LLMProvider = getEnvOrDefault("LEMBRA_LLM_PROVIDER", p.LLMProvider)
	p.LLMAPIKey = getEnvOrDefault("LEMBRA_LLM_API_KEY", p.LLMAPIKey)
	p.LLMBaseURL = getEnvOrDefault("LEMBRA_LLM_BASE_URL", p.LLMBaseURL)
	p.LLMModel = getEnvOrDefault("LEMBRA_LLM_MODEL", p.LLMModel)
	p.LLMTimeout = getEnvOrDefaultInt("LEMBRA_LLM_TIMEOUT", 60)

	p.EmbeddingProvider = getEnvOrDefault("LEMBRA_EMBEDDING_PROVIDER", p.LLMProvider)
	p.EmbeddingModel = getEnvOrDefault("LEMBRA_EMBEDDING_MODEL", "text-embedding-3-small")
	p.EmbeddingAPIKey = getEnvOrDefault("LEMBRA_EMBEDDING_API_KEY", p.LLMAPIKey)
	p.EmbeddingBaseURL = getEnvOrDefault("LEMBRA_EMBEDDING_BASE_URL", p.LLMBaseURL)
	p.EmbeddingDimensions = getEnvOrDefaultInt("LEMBRA_EMBEDDING_DIMENSIONS", 1024)

	p.TemporalBoostMode = getEnvOrDefault("LEMBRA_TEMPORAL_BOOST_MODE", "balanced")

	p.ConsolidationIntervalHours = getEnvOrDefaultInt("LEMBRA_CONSOLIDATION_INTERVAL_HOURS", 6)
	p.ConsolidationLookbackDays = getEnvOrDefaultInt("LEMBRA_CONSOLIDATION_LOOKBACK_DAYS", 90)
	p.ConsolidationMinCluster = getEnvOrDefaultInt("LEMBRA_CONSOLIDATION_MIN_CLUSTER", 5)

	// Apply provider defaults after env resolution.
	if defaults, ok := llmProviderDefaults[p.LLMProvider]; ok {
		if p.LLMBaseURL == "" {
			p.LLMBaseURL = defaults.BaseURL
		}
		if p.LLMModel == "" {
			p.LLMModel = defaults.Model
		}
	}
}

// Validate checks the profile and normalizes derived fields.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	switch p.Driver {
	case "sqlite", "postgres":
	default:
		return errors.Errorf("unsupported driver %q (want sqlite or postgres)", p.Driver)
	}

	if p.Data == "" {
		p.Data = "."
	}
	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		return err
	}
	p.Data = dataDir

	if p.DSN == "" {
		if p.Driver == "postgres" {
			return errors.New("dsn required for postgres driver")
		}
		p.DSN = filepath.Join(p.Data, fmt.Sprintf("lembra_%s.db", p.Mode))
	}

	switch p.TemporalBoostMode {
	case "":
		p.TemporalBoostMode = "balanced"
	case "recency", "balanced", "archival":
	default:
		return errors.Errorf("unsupported temporal boost mode %q", p.TemporalBoostMode)
	}

	if p.EmbeddingDimensions <= 0 {
		p.EmbeddingDimensions = 1024
	}
	if p.ConsolidationLookbackDays <= 0 {
		p.ConsolidationLookbackDays = 90
	}
	if p.ConsolidationMinCluster <= 0 {
		p.ConsolidationMinCluster = 5
	}

	return nil
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	dataDir = strings.TrimSuffix(dataDir, "/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}

	return dataDir, nil
}
