// Package config provides configuration for the run service.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/xiaot623/gogo/uxrunner/internal/runner"
)

// Session backend modes.
const (
	SessionModeRemote = "remote"
	SessionModeRod    = "rod"
)

// Config holds the service configuration.
type Config struct {
	// Server settings
	HTTPPort int
	RPCPort  int

	// Database
	DatabaseURL string

	// Session backend
	SessionMode       string
	SessionBackendURL string
	SessionTimeout    time.Duration
	ChromeURL         string

	// Decision oracle
	LLMProvider   string
	LiteLLMURL    string
	LiteLLMAPIKey string
	LLMModel      string
	LLMTimeout    time.Duration
	GenAIAPIKey   string
	GenAIModel    string

	// Knowledge retrieval
	EmbeddingModel string
	KnowledgeURL   string

	// Runs
	RunCacheDir string
	RunTimeout  time.Duration
	PolicyFile  string

	// External design metadata
	FigmaAPIToken string

	// Logging
	LogLevel string

	Runner   runner.Config  `yaml:"runner"`
	Analysis AnalysisConfig `yaml:"analysis"`
}

// AnalysisConfig holds the findings pipeline thresholds. ClusterThreshold applies to
// word-set similarity; EmbeddingClusterThreshold replaces it when findings are compared
// by embeddings.
type AnalysisConfig struct {
	ClusterThreshold          float64 `yaml:"cluster_threshold"`
	EmbeddingClusterThreshold float64 `yaml:"embedding_cluster_threshold"`
	KnowledgeThreshold        float64 `yaml:"knowledge_threshold"`
	KnowledgeLimit            int     `yaml:"knowledge_limit"`
}

// ClusterThresholdFor returns the clustering threshold for the active scorer.
func (a AnalysisConfig) ClusterThresholdFor(embeddings bool) float64 {
	if embeddings {
		return a.EmbeddingClusterThreshold
	}
	return a.ClusterThreshold
}

// fileConfig is the shape of the optional YAML overlay.
type fileConfig struct {
	Runner   *runner.Config  `yaml:"runner"`
	Analysis *AnalysisConfig `yaml:"analysis"`
}

// Load loads configuration from environment variables, then overlays the YAML
// file named by CONFIG_FILE if set.
func Load() (*Config, error) {
	cfg := &Config{
		HTTPPort:          getEnvInt("HTTP_PORT", 8080),
		RPCPort:           getEnvInt("RPC_PORT", 8081),
		DatabaseURL:       getEnv("DATABASE_URL", "file:uxrunner.db?cache=shared&mode=rwc"),
		SessionMode:       getEnv("SESSION_MODE", SessionModeRemote),
		SessionBackendURL: getEnv("SESSION_BACKEND_URL", "http://localhost:8000"),
		SessionTimeout:    time.Duration(getEnvInt("SESSION_TIMEOUT_MS", 30000)) * time.Millisecond,
		ChromeURL:         getEnv("CHROME_URL", ""),
		LLMProvider:       getEnv("LLM_PROVIDER", "openai"),
		LiteLLMURL:        getEnv("LITELLM_URL", "http://localhost:4000"),
		LiteLLMAPIKey:     getEnv("LITELLM_API_KEY", ""),
		LLMModel:          getEnv("LLM_MODEL", "gpt-4o"),
		LLMTimeout:        time.Duration(getEnvInt("LLM_TIMEOUT_MS", 120000)) * time.Millisecond,
		GenAIAPIKey:       getEnv("GENAI_API_KEY", ""),
		GenAIModel:        getEnv("GENAI_MODEL", "gemini-2.0-flash"),
		EmbeddingModel:    getEnv("EMBEDDING_MODEL", ""),
		KnowledgeURL:      getEnv("KNOWLEDGE_URL", ""),
		RunCacheDir:       getEnv("RUN_CACHE_DIR", ".uxrunner/cache"),
		RunTimeout:        time.Duration(getEnvInt("RUN_TIMEOUT_MS", 0)) * time.Millisecond,
		PolicyFile:        getEnv("POLICY_FILE", ""),
		FigmaAPIToken:     getEnv("FIGMA_API_TOKEN", ""),
		LogLevel:          getEnv("LOG_LEVEL", "info"),
		Runner:            runner.DefaultConfig(),
		Analysis: AnalysisConfig{
			ClusterThreshold:          0.6,
			EmbeddingClusterThreshold: 0.85,
			KnowledgeThreshold:        0.3,
			KnowledgeLimit:            5,
		},
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.overlay(path); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}

// overlay applies the keys present in the YAML file on top of cfg.
func (c *Config) overlay(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config file: %w", err)
	}
	fc := fileConfig{Runner: &c.Runner, Analysis: &c.Analysis}
	if err := yaml.Unmarshal(raw, &fc); err != nil {
		return fmt.Errorf("parse config file %s: %w", path, err)
	}
	return nil
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if intVal, err := strconv.Atoi(val); err == nil {
			return intVal
		}
	}
	return defaultVal
}
