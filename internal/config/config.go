package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"

	"github.com/joho/godotenv"
)

type Config struct {
	Server    ServerConfig
	Ollama    OllamaConfig
	LLM       LLMConfig
	Zilliz    ZillizConfig
	Retrieval RetrievalConfig
	Chunking  ChunkingConfig
	Storage   StorageConfig
	Log       LogConfig
}

type ServerConfig struct {
	Port     int
	APIToken string
}

type OllamaConfig struct {
	BaseURL    string
	EmbedModel string
}

// LLMConfig points at an OpenAI-compatible chat completions endpoint.
type LLMConfig struct {
	BaseURL           string
	Model             string
	Temperature       float64
	RequestsPerMinute int
	MaxRetries        int
	APIKey            string
}

type ZillizConfig struct {
	URI        string
	Token      string
	Collection string
}

type RetrievalConfig struct {
	TopK int
}

type ChunkingConfig struct {
	BreakpointPercentile float64
	BufferSize           int
}

type StorageConfig struct {
	DataDir string
}

type LogConfig struct {
	Level string
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Port: 4100},
		Ollama: OllamaConfig{
			BaseURL:    "http://localhost:11434",
			EmbedModel: "all-minilm",
		},
		LLM: LLMConfig{
			BaseURL:     "https://router.huggingface.co/v1",
			Model:       "meta-llama/Meta-Llama-3-8B-Instruct",
			Temperature: 0.5,
		},
		Retrieval: RetrievalConfig{TopK: 4},
		Chunking: ChunkingConfig{
			BreakpointPercentile: 95,
			BufferSize:           1,
		},
		Storage: StorageConfig{DataDir: defaultDataDir()},
		Log:     LogConfig{Level: "info"},
	}
}

func defaultDataDir() string {
	dir := os.Getenv("XDG_DATA_HOME")
	if dir == "" {
		if home, err := os.UserHomeDir(); err == nil {
			dir = filepath.Join(home, ".local", "share")
		} else {
			return "kbchat-data"
		}
	}
	return filepath.Join(dir, "kbchat")
}

// Load builds the configuration from, in increasing precedence: defaults,
// the YAML file at $XDG_CONFIG_HOME/kbchat/config.yaml, and environment
// variables. A .env file in the working directory is read first; variables
// already set in the environment win over it.
//
// Secrets (API keys, Zilliz URI and token) come from the environment only.
func Load() (Config, error) {
	return loadWith(newYAMLBackend(configFilePath()), ".env")
}

func loadWith(b ConfigBackend, envFile string) (Config, error) {
	if envFile != "" {
		if err := godotenv.Load(envFile); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("loading %s: %w", envFile, err)
		}
	}

	cfg := defaults()
	if err := applyBackend(&cfg, b); err != nil {
		return Config{}, err
	}
	applyEnvOverrides(&cfg)

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks value ranges. A missing LLM key is not an error here;
// commands that talk to the model report it themselves.
func (c Config) Validate() error {
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		return fmt.Errorf("server.port %d out of range", c.Server.Port)
	}
	if c.Retrieval.TopK <= 0 {
		return fmt.Errorf("retrieval.top_k must be positive, got %d", c.Retrieval.TopK)
	}
	if p := c.Chunking.BreakpointPercentile; p <= 0 || p > 100 {
		return fmt.Errorf("chunking.breakpoint_percentile must be in (0, 100], got %v", p)
	}
	if c.Chunking.BufferSize <= 0 {
		return fmt.Errorf("chunking.buffer_size must be positive, got %d", c.Chunking.BufferSize)
	}
	if c.LLM.Temperature < 0 {
		return fmt.Errorf("llm.temperature must not be negative, got %v", c.LLM.Temperature)
	}
	return nil
}
