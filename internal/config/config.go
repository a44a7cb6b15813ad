// Package config resolves server configuration from a YAML file and
// HUMPBACK_* environment variables. Environment values override the file;
// built-in defaults fill the rest.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Config holds the full resolved server configuration.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	Store    StoreConfig    `yaml:"store"`
	Redis    RedisConfig    `yaml:"redis"`
	Qdrant   QdrantConfig   `yaml:"qdrant"`
	Meili    MeiliConfig    `yaml:"meilisearch"`
	OpenAI   OpenAIConfig   `yaml:"openai"`
	Cohere   CohereConfig   `yaml:"cohere"`
	Tavily   TavilyConfig   `yaml:"tavily"`
	Tinybird TinybirdConfig `yaml:"tinybird"`
}

type ServerConfig struct {
	Addr           string `yaml:"addr"`
	InternalSecret string `yaml:"internal_secret"`
}

type StoreConfig struct {
	DBPath string `yaml:"db_path"`
}

type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Collection string `yaml:"collection"`
	Dimensions int    `yaml:"dimensions"`
}

type MeiliConfig struct {
	Host   string `yaml:"host"`
	APIKey string `yaml:"api_key"`
	Index  string `yaml:"index"`
}

type OpenAIConfig struct {
	BaseURL      string `yaml:"base_url"`
	APIKey       string `yaml:"api_key"`
	EmbedModel   string `yaml:"embed_model"`
	RewriteModel string `yaml:"rewrite_model"`
}

type CohereConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
}

type TavilyConfig struct {
	BaseURL string `yaml:"base_url"`
	APIKey  string `yaml:"api_key"`
}

type TinybirdConfig struct {
	Endpoint string `yaml:"endpoint"`
	Token    string `yaml:"token"`
}

// Load reads the YAML file at path (missing file is not an error), applies
// environment overrides, then fills defaults.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		b, err := os.ReadFile(path)
		if err != nil {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("reading %s: %w", path, err)
			}
		} else if err := yaml.Unmarshal(b, cfg); err != nil {
			return nil, fmt.Errorf("parsing %s: %w", path, err)
		}
	}

	cfg.applyEnv()
	cfg.applyDefaults()
	cfg.Store.DBPath = expandUserPath(cfg.Store.DBPath)

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() {
	applyEnv(&c.Server.Addr, "HUMPBACK_ADDR")
	applyEnv(&c.Server.InternalSecret, "HUMPBACK_INTERNAL_SECRET")
	applyEnv(&c.Store.DBPath, "HUMPBACK_DB_PATH")

	applyEnv(&c.Redis.Addr, "REDIS_ADDR")
	applyEnv(&c.Redis.Password, "REDIS_PASSWORD")
	applyEnvInt(&c.Redis.DB, "REDIS_DB")

	applyEnv(&c.Qdrant.Addr, "QDRANT_ADDR")
	applyEnv(&c.Qdrant.Collection, "QDRANT_COLLECTION")
	applyEnvInt(&c.Qdrant.Dimensions, "QDRANT_DIMENSIONS")

	applyEnv(&c.Meili.Host, "MEILISEARCH_HOST")
	applyEnv(&c.Meili.APIKey, "MEILISEARCH_API_KEY")
	applyEnv(&c.Meili.Index, "MEILISEARCH_INDEX")

	applyEnv(&c.OpenAI.BaseURL, "OPENAI_BASE_URL")
	applyEnv(&c.OpenAI.APIKey, "OPENAI_API_KEY")
	applyEnv(&c.OpenAI.EmbedModel, "OPENAI_EMBED_MODEL")
	applyEnv(&c.OpenAI.RewriteModel, "OPENAI_REWRITE_MODEL")

	applyEnv(&c.Cohere.BaseURL, "COHERE_BASE_URL")
	applyEnv(&c.Cohere.APIKey, "COHERE_API_KEY")
	applyEnv(&c.Cohere.Model, "COHERE_RERANK_MODEL")

	applyEnv(&c.Tavily.BaseURL, "TAVILY_BASE_URL")
	applyEnv(&c.Tavily.APIKey, "TAVILY_API_KEY")

	applyEnv(&c.Tinybird.Endpoint, "TINYBIRD_ENDPOINT")
	applyEnv(&c.Tinybird.Token, "TINYBIRD_TOKEN")
}

func (c *Config) applyDefaults() {
	defaultStr(&c.Server.Addr, ":8080")
	defaultStr(&c.Store.DBPath, "humpback.db")
	defaultStr(&c.Redis.Addr, "127.0.0.1:6379")
	defaultStr(&c.Qdrant.Addr, "127.0.0.1:6334")
	defaultStr(&c.Qdrant.Collection, "chunks")
	if c.Qdrant.Dimensions <= 0 {
		c.Qdrant.Dimensions = 1536
	}
	defaultStr(&c.Meili.Host, "http://127.0.0.1:7700")
	defaultStr(&c.Meili.Index, "chunks")
	defaultStr(&c.OpenAI.BaseURL, "https://api.openai.com/v1")
	defaultStr(&c.OpenAI.EmbedModel, "text-embedding-3-small")
	defaultStr(&c.OpenAI.RewriteModel, "gpt-4o-mini")
	defaultStr(&c.Cohere.BaseURL, "https://api.cohere.com")
	defaultStr(&c.Cohere.Model, "rerank-v3.5")
	defaultStr(&c.Tavily.BaseURL, "https://api.tavily.com")
}

func (c *Config) validate() error {
	if c.Server.InternalSecret == "" {
		return fmt.Errorf("internal secret is required (HUMPBACK_INTERNAL_SECRET)")
	}
	if c.OpenAI.APIKey == "" {
		return fmt.Errorf("openai api key is required (OPENAI_API_KEY)")
	}
	return nil
}

func applyEnv(dst *string, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		*dst = v
	}
}

func applyEnvInt(dst *int, key string) {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			*dst = n
		}
	}
}

func defaultStr(dst *string, fallback string) {
	if strings.TrimSpace(*dst) == "" {
		*dst = fallback
	}
}

// expandUserPath resolves a leading ~ so yaml configs can use home-relative
// database paths.
func expandUserPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err != nil {
			return path
		}
		if path == "~" {
			return home
		}
		return filepath.Join(home, path[2:])
	}
	return path
}
