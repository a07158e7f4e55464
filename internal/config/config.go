// Package config handles Castellan configuration loading.
package config

import (
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// DefaultSearchPaths returns the config file search order.
// An explicit path (from -config flag) is checked first.
// Then: ./config.yaml, ~/.config/castellan/config.yaml, /etc/castellan/config.yaml.
func DefaultSearchPaths() []string {
	paths := []string{"config.yaml"}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, filepath.Join(home, ".config", "castellan", "config.yaml"))
	}

	paths = append(paths, "/etc/castellan/config.yaml")
	return paths
}

// FindConfig locates a config file. If explicit is non-empty, it must exist.
// Otherwise, searches DefaultSearchPaths and returns the first that exists.
func FindConfig(explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			return "", fmt.Errorf("config file not found: %s", explicit)
		}
		return explicit, nil
	}

	for _, p := range DefaultSearchPaths() {
		if _, err := os.Stat(p); err == nil {
			return p, nil
		}
	}

	return "", fmt.Errorf("no config file found (searched: %v)", DefaultSearchPaths())
}

// Config holds all Castellan configuration.
type Config struct {
	Listen     ListenConfig     `yaml:"listen"`
	Models     ModelsConfig     `yaml:"models"`
	Anthropic  AnthropicConfig  `yaml:"anthropic"`
	Search     SearchConfig     `yaml:"search"`
	Embeddings EmbeddingsConfig `yaml:"embeddings"`
	Documents  DocumentsConfig  `yaml:"documents"`
	ImageGen   ImageGenConfig   `yaml:"imagegen"`
	MQTT       MQTTConfig       `yaml:"mqtt"`
	Context    ContextConfig    `yaml:"context"`
	Extraction ExtractionConfig `yaml:"extraction"`
	DataDir    string           `yaml:"data_dir"`
	LogLevel   string           `yaml:"log_level"`
	LogFormat  string           `yaml:"log_format"` // "text" (default) or "json"
}

// ListenConfig defines the API server settings.
type ListenConfig struct {
	Address string `yaml:"address"` // Bind address (default: "" = all interfaces)
	Port    int    `yaml:"port"`
}

// ModelsConfig defines which LLM providers and models to use.
type ModelsConfig struct {
	Provider  string `yaml:"provider"`  // "ollama" or "anthropic"
	Default   string `yaml:"default"`   // Default chat model
	Fallback  string `yaml:"fallback"`  // Optional fallback provider name
	OllamaURL string `yaml:"ollama_url"`
}

// AnthropicConfig defines Anthropic API settings.
type AnthropicConfig struct {
	APIKey string `yaml:"api_key"`
	Model  string `yaml:"model"`
}

// SearchConfig defines the web search collaborator.
type SearchConfig struct {
	Provider        string       `yaml:"provider"` // "serper" or "brave"
	Serper          ProviderKey  `yaml:"serper"`
	Brave           ProviderKey  `yaml:"brave"`
	CacheTTLSeconds int          `yaml:"cache_ttl_seconds"`
	FetchTopResult  bool         `yaml:"fetch_top_result"`
}

// ProviderKey holds an API key for a keyed provider.
type ProviderKey struct {
	APIKey string `yaml:"api_key"`
}

// Configured reports whether an API key is set.
func (p ProviderKey) Configured() bool {
	return p.APIKey != ""
}

// EmbeddingsConfig defines embedding generation settings.
type EmbeddingsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Model   string `yaml:"model"`   // Embedding model name (e.g., nomic-embed-text)
	BaseURL string `yaml:"baseurl"` // Ollama URL (defaults to models.ollama_url)
}

// DocumentsConfig defines document store settings.
type DocumentsConfig struct {
	ChunkSize int `yaml:"chunk_size"` // Max characters per chunk (default 500)
	TopK      int `yaml:"top_k"`      // Passages retrieved per query (default 3)
}

// ImageGenConfig defines the image generation collaborator.
type ImageGenConfig struct {
	Enabled bool   `yaml:"enabled"`
	BaseURL string `yaml:"baseurl"` // OpenAI-compatible images endpoint base
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

// MQTTConfig defines the optional turn-event publisher.
type MQTTConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Broker      string `yaml:"broker"` // e.g., mqtt://host:1883
	Username    string `yaml:"username"`
	Password    string `yaml:"password"`
	TopicPrefix string `yaml:"topic_prefix"` // default "castellan"
	ClientID    string `yaml:"client_id"`
}

// ContextConfig bounds the conversational context assembled per turn.
type ContextConfig struct {
	HistoryTurns int `yaml:"history_turns"` // Recent turns included (default 6)
	MemoryLimit  int `yaml:"memory_limit"`  // Recent memory facts included (default 10)
	TruncateAt   int `yaml:"truncate_at"`   // Per-field character ceiling (default 1500)
}

// ExtractionConfig controls post-turn memory extraction.
type ExtractionConfig struct {
	Enabled        bool `yaml:"enabled"`
	TimeoutSeconds int  `yaml:"timeout_seconds"`
}

// Load reads configuration from a YAML file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Expand environment variables
	expanded := os.ExpandEnv(string(data))

	cfg := Default()
	if err := yaml.Unmarshal([]byte(expanded), cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// Default returns a default configuration.
func Default() *Config {
	return &Config{
		Listen:  ListenConfig{Port: 8080},
		DataDir: "data",
		Models: ModelsConfig{
			Provider:  "ollama",
			Default:   "qwen3:4b",
			OllamaURL: "http://localhost:11434",
		},
		Search: SearchConfig{
			Provider:        "serper",
			CacheTTLSeconds: 300,
		},
		Documents: DocumentsConfig{
			ChunkSize: 500,
			TopK:      3,
		},
		Context: ContextConfig{
			HistoryTurns: 6,
			MemoryLimit:  10,
			TruncateAt:   1500,
		},
		Extraction: ExtractionConfig{
			Enabled:        true,
			TimeoutSeconds: 30,
		},
	}
}
