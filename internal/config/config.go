// Package config loads the memory core's configuration: defaults overlaid
// by an optional YAML file, overlaid by environment variables, the same
// layering the teacher's CLI entrypoint applies ad hoc with os.Getenv calls.
package config

import (
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/vthunder/cmemory/internal/logging"
)

type SparseConfig struct {
	TitleBoost float64 `yaml:"title_boost"`
	BodyBoost  float64 `yaml:"body_boost"`
	TagBoost   float64 `yaml:"tag_boost"`
	UserBoost  float64 `yaml:"user_boost"`
}

type RetrievalConfig struct {
	DefaultTopK int          `yaml:"default_top_k"`
	Sparse      SparseConfig `yaml:"sparse"`
	RRFK        int          `yaml:"rrf_k"`
}

type DecayConfig struct {
	TimeThresholdDays int     `yaml:"time_threshold_days"`
	UsageThreshold    float64 `yaml:"usage_threshold"`
}

type CompressionConfig struct {
	SentenceBoundaryRegex string `yaml:"sentence_boundary_regex"`
}

type BackendConfig struct {
	Vector   string `yaml:"vector"`
	Graph    string `yaml:"graph"`
	Embedder string `yaml:"embedder"`
	Reasoner string `yaml:"reasoner"`
}

// Config is the fully resolved configuration for a MemoryCore instance.
type Config struct {
	BlockDir     string            `yaml:"block_dir"`
	ArchiveDir   string            `yaml:"archive_dir"`
	EmbeddingDim int               `yaml:"embedding_dim"`
	Retrieval    RetrievalConfig   `yaml:"retrieval"`
	Decay        DecayConfig       `yaml:"decay"`
	Compression  CompressionConfig `yaml:"compression"`
	Backend      BackendConfig     `yaml:"backend"`

	OllamaBaseURL    string `yaml:"ollama_base_url"`
	EmbeddingModel   string `yaml:"embedding_model"`
	ReasoningModel   string `yaml:"reasoning_model"`
	SQLitePath       string `yaml:"sqlite_path"`
}

// Default returns the default value of every configuration field listed in
// SPEC_FULL.md's configuration paragraph, before any file or environment
// overlay.
func Default() Config {
	return Config{
		BlockDir:     "blocks",
		ArchiveDir:   "archive",
		EmbeddingDim: 768,
		Retrieval: RetrievalConfig{
			DefaultTopK: 5,
			Sparse: SparseConfig{
				TitleBoost: 0.20,
				BodyBoost:  0.10,
				TagBoost:   0.10,
				UserBoost:  0.15,
			},
			RRFK: 60,
		},
		Decay: DecayConfig{
			TimeThresholdDays: 180,
			UsageThreshold:    0.01,
		},
		Compression: CompressionConfig{
			SentenceBoundaryRegex: `[.!?]\s+`,
		},
		Backend: BackendConfig{
			Vector:   "memory",
			Graph:    "memory",
			Embedder: "ollama",
			Reasoner: "ollama",
		},
		OllamaBaseURL:  "http://localhost:11434",
		EmbeddingModel: "nomic-embed-text",
		ReasoningModel: "llama3.2",
		SQLitePath:     "state/cmemory.db",
	}
}

// Load builds a Config starting from Default, overlaying yamlPath if it
// exists (empty path skips the file overlay), then overlaying recognized
// environment variables. It also loads a .env file into the process
// environment first, the way cmd/bud/main.go does, tolerating a missing
// file.
func Load(yamlPath string) (Config, error) {
	if err := godotenv.Load(); err != nil {
		logging.Info("config", "no .env file found, using environment variables")
	} else {
		logging.Info("config", "loaded .env file")
	}

	cfg := Default()

	if yamlPath != "" {
		data, err := os.ReadFile(yamlPath)
		if err == nil {
			if err := yaml.Unmarshal(data, &cfg); err != nil {
				return cfg, err
			}
		} else if !os.IsNotExist(err) {
			return cfg, err
		}
	}

	overlayEnv(&cfg)
	return cfg, nil
}

func overlayEnv(cfg *Config) {
	if v := os.Getenv("CMEMORY_BLOCK_DIR"); v != "" {
		cfg.BlockDir = v
	}
	if v := os.Getenv("CMEMORY_ARCHIVE_DIR"); v != "" {
		cfg.ArchiveDir = v
	}
	if v := os.Getenv("CMEMORY_EMBEDDING_DIM"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			cfg.EmbeddingDim = n
		}
	}
	if v := os.Getenv("CMEMORY_BACKEND_VECTOR"); v != "" {
		cfg.Backend.Vector = v
	}
	if v := os.Getenv("CMEMORY_BACKEND_GRAPH"); v != "" {
		cfg.Backend.Graph = v
	}
	if v := os.Getenv("OLLAMA_BASE_URL"); v != "" {
		cfg.OllamaBaseURL = v
	}
	if v := os.Getenv("CMEMORY_EMBEDDING_MODEL"); v != "" {
		cfg.EmbeddingModel = v
	}
	if v := os.Getenv("CMEMORY_REASONING_MODEL"); v != "" {
		cfg.ReasoningModel = v
	}
	if v := os.Getenv("CMEMORY_SQLITE_PATH"); v != "" {
		cfg.SQLitePath = v
	}
}
