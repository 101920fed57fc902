package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

type Config struct {
	APIAddr string `yaml:"api_addr"`

	OpenAIAPIKey    string `yaml:"openai_api_key"`
	OpenAIBaseURL   string `yaml:"openai_base_url"`
	EmbeddingModel  string `yaml:"embedding_model"`
	CompletionModel string `yaml:"completion_model"`
	EmbedDim        int    `yaml:"embed_dim"`

	GrobidURL string `yaml:"grobid_url"`

	UploadDir   string `yaml:"upload_dir"`
	MetadataDir string `yaml:"metadata_dir"`
	VectorDir   string `yaml:"vector_dir"`

	Tokenizer    string  `yaml:"tokenizer"`
	ChunkSize    int     `yaml:"chunk_size"`
	ChunkOverlap int     `yaml:"chunk_overlap"`
	TopK         int     `yaml:"top_k"`
	Temperature  float64 `yaml:"temperature"`
	MaxTokens    int     `yaml:"max_tokens"`

	EmbedMaxRetries    int `yaml:"embed_max_retries"`
	ProviderTimeoutSec int `yaml:"provider_timeout_seconds"`

	RefDiscoveryEnabled bool `yaml:"ref_discovery_enabled"`
	RefFetchTimeoutSec  int  `yaml:"ref_fetch_timeout_seconds"`
	RefFetchConcurrency int  `yaml:"ref_fetch_concurrency"`

	CORSOrigins string `yaml:"cors_origins"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
}

// Load builds the configuration from defaults, an optional YAML file named by
// REFIND_CONFIG, and finally REFIND_* environment variables, in that order.
func Load() (Config, error) {
	cfg := defaults()
	if path := os.Getenv("REFIND_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return Config{}, fmt.Errorf("read config file %s: %w", path, err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return Config{}, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}
	applyEnv(&cfg)
	return cfg, nil
}

func defaults() Config {
	return Config{
		APIAddr:             ":8000",
		OpenAIBaseURL:       "https://api.openai.com",
		EmbeddingModel:      "text-embedding-ada-002",
		CompletionModel:     "gpt-4o-mini",
		EmbedDim:            1536,
		GrobidURL:           "http://localhost:8070",
		UploadDir:           "./data/uploads",
		MetadataDir:         "./data/metadata",
		VectorDir:           "./data/vectors",
		Tokenizer:           "word",
		ChunkSize:           512,
		ChunkOverlap:        50,
		TopK:                5,
		Temperature:         0.7,
		MaxTokens:           1000,
		EmbedMaxRetries:     5,
		ProviderTimeoutSec:  60,
		RefDiscoveryEnabled: true,
		RefFetchTimeoutSec:  30,
		RefFetchConcurrency: 3,
		CORSOrigins:         "*",
		LogLevel:            "info",
		LogFormat:           "text",
	}
}

func applyEnv(cfg *Config) {
	cfg.APIAddr = getenv("REFIND_API_ADDR", cfg.APIAddr)
	cfg.OpenAIAPIKey = getenv("OPENAI_API_KEY", cfg.OpenAIAPIKey)
	cfg.OpenAIBaseURL = getenv("OPENAI_BASE_URL", cfg.OpenAIBaseURL)
	cfg.EmbeddingModel = getenv("OPENAI_EMBEDDING_MODEL", cfg.EmbeddingModel)
	cfg.CompletionModel = getenv("OPENAI_COMPLETION_MODEL", cfg.CompletionModel)
	cfg.EmbedDim = getenvInt("REFIND_EMBED_DIM", cfg.EmbedDim)
	cfg.GrobidURL = getenv("GROBID_URL", cfg.GrobidURL)
	cfg.UploadDir = getenv("REFIND_UPLOAD_DIR", cfg.UploadDir)
	cfg.MetadataDir = getenv("REFIND_METADATA_DIR", cfg.MetadataDir)
	cfg.VectorDir = getenv("REFIND_VECTOR_DIR", cfg.VectorDir)
	cfg.Tokenizer = getenv("REFIND_TOKENIZER", cfg.Tokenizer)
	cfg.ChunkSize = getenvInt("REFIND_CHUNK_SIZE", cfg.ChunkSize)
	cfg.ChunkOverlap = getenvInt("REFIND_CHUNK_OVERLAP", cfg.ChunkOverlap)
	cfg.TopK = getenvInt("REFIND_TOP_K", cfg.TopK)
	cfg.Temperature = getenvFloat("REFIND_TEMPERATURE", cfg.Temperature)
	cfg.MaxTokens = getenvInt("REFIND_MAX_TOKENS", cfg.MaxTokens)
	cfg.EmbedMaxRetries = getenvInt("REFIND_EMBED_MAX_RETRIES", cfg.EmbedMaxRetries)
	cfg.ProviderTimeoutSec = getenvInt("REFIND_PROVIDER_TIMEOUT_SECONDS", cfg.ProviderTimeoutSec)
	cfg.RefDiscoveryEnabled = getenvBool("REFIND_REF_DISCOVERY", cfg.RefDiscoveryEnabled)
	cfg.RefFetchTimeoutSec = getenvInt("REFIND_REF_FETCH_TIMEOUT_SECONDS", cfg.RefFetchTimeoutSec)
	cfg.RefFetchConcurrency = getenvInt("REFIND_REF_FETCH_CONCURRENCY", cfg.RefFetchConcurrency)
	cfg.CORSOrigins = getenv("BACKEND_CORS_ORIGINS", cfg.CORSOrigins)
	cfg.LogLevel = getenv("REFIND_LOG_LEVEL", cfg.LogLevel)
	cfg.LogFormat = getenv("REFIND_LOG_FORMAT", cfg.LogFormat)
}

// Origins splits the configured CORS origin list.
func (c Config) Origins() []string {
	parts := strings.Split(c.CORSOrigins, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func getenv(k, fallback string) string {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	return v
}

func getenvInt(k string, fallback int) int {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return fallback
	}
	return n
}

func getenvFloat(k string, fallback float64) float64 {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return fallback
	}
	return f
}

func getenvBool(k string, fallback bool) bool {
	v := os.Getenv(k)
	if v == "" {
		return fallback
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return fallback
	}
	return b
}
