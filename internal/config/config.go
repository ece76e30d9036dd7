// Package config provides YAML-based configuration for sai.
// Configuration is loaded with a layered precedence: defaults → YAML file → env vars.
// Environment variables always win, so existing workflows are unaffected.
//
// File search order:
//  1. --config CLI flag (explicit path)
//  2. SAI_CONFIG environment variable
//  3. ~/.sai/config.yaml
//  4. ./sai.yaml
//
// If no file is found the system runs entirely from env vars.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"

	"gopkg.in/yaml.v3"
)

// Config is the top-level YAML configuration structure.
// Field names use yaml tags that mirror the env var naming (lowercase, underscored).
type Config struct {
	// Engine configures the OpenSearch cluster connection.
	Engine EngineConfig `yaml:"engine"`

	// Index configures the k-NN index and its embedding pipeline.
	Index IndexConfig `yaml:"index"`

	// Model configures the engine-side embedding model.
	Model ModelConfig `yaml:"model"`

	// Ingest configures the document ingestor.
	Ingest IngestConfig `yaml:"ingest"`

	// Server configures the HTTP server.
	Server ServerConfig `yaml:"server"`

	// Logging configures structured logging.
	Logging LoggingConfig `yaml:"logging"`

	// History configures ingestion run history persistence.
	History HistoryConfig `yaml:"history"`

	// Cluster configures the local container orchestration wrapper.
	Cluster ClusterConfig `yaml:"cluster"`

	// Acquire configures the web search acquisition workflow.
	Acquire AcquireConfig `yaml:"acquire"`
}

// EngineConfig holds OpenSearch connection settings.
type EngineConfig struct {
	// Host is the OpenSearch host address.
	Host string `yaml:"host"`
	// Port is the OpenSearch REST port.
	Port int `yaml:"port"`
	// Username is the basic-auth user. Empty when security is disabled.
	Username string `yaml:"username"`
	// Password is the basic-auth password. Prefer env var OPENSEARCH_PASSWORD.
	Password string `yaml:"password"`
	// TLS connects over https with standard certificate verification.
	TLS bool `yaml:"tls"`
	// Insecure skips TLS certificate verification (local clusters only).
	Insecure bool `yaml:"insecure"`
	// TimeoutSeconds is the per-request timeout passed to the HTTP client.
	TimeoutSeconds int `yaml:"timeout_seconds"`
}

// IndexConfig holds index, pipeline, and field mapping settings.
type IndexConfig struct {
	// Name is the k-NN index name.
	Name string `yaml:"name"`
	// Pipeline is the ingest pipeline name that embeds documents at write time.
	Pipeline string `yaml:"pipeline"`
	// TextField is the source field the pipeline reads text from.
	TextField string `yaml:"text_field"`
	// EmbeddingField is the knn_vector field the pipeline writes embeddings to.
	EmbeddingField string `yaml:"embedding_field"`
	// Dimension is the embedding vector dimension (384 for the default model).
	Dimension int `yaml:"dimension"`
}

// ModelConfig holds the engine-side embedding model settings.
type ModelConfig struct {
	// Name is the pretrained model identifier registered with the ML plugin.
	Name string `yaml:"name"`
	// Version is the model version string.
	Version string `yaml:"version"`
	// Format is the model artifact format (e.g. TORCH_SCRIPT).
	Format string `yaml:"format"`
}

// IngestConfig holds document ingestor settings.
type IngestConfig struct {
	// BatchSize is the maximum number of documents per bulk request.
	BatchSize int `yaml:"batch_size"`
	// Workers is the number of concurrent batch submitters. 1 = sequential.
	Workers int `yaml:"workers"`
	// RetryAttempts is the maximum bulk attempts on transient engine errors
	// (429/503). 1 disables retries.
	RetryAttempts int `yaml:"retry_attempts"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	// Host is the bind address.
	Host string `yaml:"host"`
	// Port is the TCP port.
	Port int `yaml:"port"`
	// APIKey is the Bearer token for API authentication. Prefer env var SAI_API_KEY.
	APIKey string `yaml:"api_key"`
}

// LoggingConfig holds structured logging settings.
type LoggingConfig struct {
	// Level is the minimum log level: debug, info, warn, error.
	Level string `yaml:"level"`
	// Format is the log output format: json, text.
	Format string `yaml:"format"`
}

// HistoryConfig holds ingestion run history settings.
type HistoryConfig struct {
	// DBPath is the SQLite database path. Set to "disabled" to disable.
	DBPath string `yaml:"db_path"`
}

// ClusterConfig holds container orchestration settings.
type ClusterConfig struct {
	// ComposeFile is the docker compose file that defines the cluster.
	ComposeFile string `yaml:"compose_file"`
}

// AcquireConfig holds web search acquisition settings.
type AcquireConfig struct {
	// DataDir is the directory fetched search results are written into.
	DataDir string `yaml:"data_dir"`
	// APIKey is the search API subscription token. Prefer env var
	// BRAVE_SEARCH_API_KEY.
	APIKey string `yaml:"api_key"`
}

// envMapping maps YAML config fields to their corresponding env var names.
// Only non-empty YAML values are applied; env vars always take precedence.
var envMapping = []struct {
	envKey string
	value  func(*Config) string
}{
	{"OPENSEARCH_HOST", func(c *Config) string { return c.Engine.Host }},
	{"OPENSEARCH_PORT", func(c *Config) string { return intStr(c.Engine.Port) }},
	{"OPENSEARCH_USERNAME", func(c *Config) string { return c.Engine.Username }},
	{"OPENSEARCH_PASSWORD", func(c *Config) string { return c.Engine.Password }},
	{"OPENSEARCH_TLS", func(c *Config) string { return boolStr(c.Engine.TLS) }},
	{"OPENSEARCH_INSECURE", func(c *Config) string { return boolStr(c.Engine.Insecure) }},
	{"OPENSEARCH_TIMEOUT", func(c *Config) string { return intStr(c.Engine.TimeoutSeconds) }},
	{"SAI_INDEX", func(c *Config) string { return c.Index.Name }},
	{"SAI_PIPELINE", func(c *Config) string { return c.Index.Pipeline }},
	{"SAI_TEXT_FIELD", func(c *Config) string { return c.Index.TextField }},
	{"SAI_EMBEDDING_FIELD", func(c *Config) string { return c.Index.EmbeddingField }},
	{"SAI_EMBEDDING_DIMENSION", func(c *Config) string { return intStr(c.Index.Dimension) }},
	{"SAI_MODEL_NAME", func(c *Config) string { return c.Model.Name }},
	{"SAI_MODEL_VERSION", func(c *Config) string { return c.Model.Version }},
	{"SAI_MODEL_FORMAT", func(c *Config) string { return c.Model.Format }},
	{"SAI_BATCH_SIZE", func(c *Config) string { return intStr(c.Ingest.BatchSize) }},
	{"SAI_INGEST_WORKERS", func(c *Config) string { return intStr(c.Ingest.Workers) }},
	{"SAI_RETRY_ATTEMPTS", func(c *Config) string { return intStr(c.Ingest.RetryAttempts) }},
	{"SAI_SERVER_HOST", func(c *Config) string { return c.Server.Host }},
	{"SAI_SERVER_PORT", func(c *Config) string { return intStr(c.Server.Port) }},
	{"SAI_API_KEY", func(c *Config) string { return c.Server.APIKey }},
	{"LOG_LEVEL", func(c *Config) string { return c.Logging.Level }},
	{"LOG_FORMAT", func(c *Config) string { return c.Logging.Format }},
	{"SAI_HISTORY_DB", func(c *Config) string { return c.History.DBPath }},
	{"SAI_COMPOSE_FILE", func(c *Config) string { return c.Cluster.ComposeFile }},
	{"SAI_DATA_DIR", func(c *Config) string { return c.Acquire.DataDir }},
	{"BRAVE_SEARCH_API_KEY", func(c *Config) string { return c.Acquire.APIKey }},
}

// Load reads a YAML config file and applies non-empty values as environment
// variables. Existing env vars are never overwritten (env always wins).
// Returns the path that was loaded, or empty string if no file was found.
func Load(explicitPath string, log *slog.Logger) (string, error) {
	path := resolveConfigPath(explicitPath)
	if path == "" {
		log.Debug("config: no YAML config file found, using env vars only")
		return "", nil
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("config: failed to read %s: %w", path, err)
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return "", fmt.Errorf("config: failed to parse %s: %w", path, err)
	}

	applied := 0
	for _, m := range envMapping {
		yamlVal := m.value(&cfg)
		if yamlVal == "" {
			continue
		}
		if os.Getenv(m.envKey) != "" {
			continue // env var already set — do not override
		}
		os.Setenv(m.envKey, yamlVal)
		applied++
	}

	log.Info("config: loaded YAML config",
		slog.String("path", path),
		slog.Int("keys_applied", applied),
	)

	return path, nil
}

// resolveConfigPath returns the first config file path that exists.
func resolveConfigPath(explicit string) string {
	if explicit != "" {
		if _, err := os.Stat(explicit); err == nil {
			return explicit
		}
		return ""
	}

	if envPath := os.Getenv("SAI_CONFIG"); envPath != "" {
		if _, err := os.Stat(envPath); err == nil {
			return envPath
		}
	}

	home, err := os.UserHomeDir()
	if err == nil {
		p := filepath.Join(home, ".sai", "config.yaml")
		if _, err := os.Stat(p); err == nil {
			return p
		}
	}

	if _, err := os.Stat("sai.yaml"); err == nil {
		return "sai.yaml"
	}

	return ""
}

// intStr converts an int to string, returning "" for zero values.
func intStr(v int) string {
	if v == 0 {
		return ""
	}
	return fmt.Sprintf("%d", v)
}

// boolStr converts a bool to string, returning "" for false.
func boolStr(v bool) string {
	if !v {
		return ""
	}
	return "true"
}
