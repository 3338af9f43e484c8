package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"runtime"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/midras-ai/midras/internal/domain"
)

// Vector store drivers.
const (
	DriverMemory = "memory"
	DriverRedis  = "redis"
	DriverQdrant = "qdrant"
	DriverSQLite = "sqlite"
)

var drivers = []string{DriverMemory, DriverRedis, DriverQdrant, DriverSQLite}

// Config holds the midras CLI configuration.
type Config struct {
	API         APIConfig         `yaml:"api"`
	Embedding   EmbeddingConfig   `yaml:"embedding"`
	Raster      RasterConfig      `yaml:"raster"`
	VectorStore VectorStoreConfig `yaml:"vector_store"`
	MockServer  MockServerConfig  `yaml:"mock_server"`
	Logging     LoggingConfig     `yaml:"logging"`
}

// LoggingConfig holds logging settings.
type LoggingConfig struct {
	Level string `yaml:"level"` // debug, info, warn, error (default: determined by env)
}

// APIConfig holds embedding service settings.
type APIConfig struct {
	BaseURL    string `yaml:"base_url"`
	APIKey     string `yaml:"api_key"`
	TimeoutSec int    `yaml:"timeout_sec"`
}

// Timeout returns the per-request timeout.
func (c APIConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSec) * time.Second
}

// EmbeddingConfig holds batching and query cache settings.
type EmbeddingConfig struct {
	Mode           string       `yaml:"mode"`
	BatchSize      int          `yaml:"batch_size"`
	Concurrency    int          `yaml:"concurrency"`      // > 1 uses the async client
	QueryCacheSize int          `yaml:"query_cache_size"` // 0 = disabled
	OpenAI         OpenAIConfig `yaml:"openai"`
	Budget         BudgetConfig `yaml:"budget"`
}

// BudgetConfig holds credit budget settings.
type BudgetConfig struct {
	DailyCreditLimit   int64  `yaml:"daily_credit_limit"`   // 0 = unlimited
	MonthlyCreditLimit int64  `yaml:"monthly_credit_limit"` // 0 = unlimited
	Action             string `yaml:"action"`               // "reject" | "warn" (default)
}

// Enabled reports whether any limit is set.
func (c BudgetConfig) Enabled() bool {
	return c.DailyCreditLimit > 0 || c.MonthlyCreditLimit > 0
}

// OpenAIConfig switches text embedding to an OpenAI-compatible endpoint.
type OpenAIConfig struct {
	BaseURL string `yaml:"base_url"`
	Model   string `yaml:"model"`
}

// Enabled reports whether the OpenAI provider is configured.
func (c OpenAIConfig) Enabled() bool { return c.Model != "" }

// RasterConfig holds PDF rasterization settings.
type RasterConfig struct {
	Binary string `yaml:"binary"`
	DPI    int    `yaml:"dpi"`
}

// VectorStoreConfig selects and configures the vector store backend.
type VectorStoreConfig struct {
	Driver string       `yaml:"driver"` // memory, redis, qdrant, sqlite (default: memory)
	Redis  RedisConfig  `yaml:"redis"`
	Qdrant QdrantConfig `yaml:"qdrant"`
	SQLite SQLiteConfig `yaml:"sqlite"`
}

// RedisConfig holds redis backend settings.
type RedisConfig struct {
	Addrs            []string `yaml:"addrs"`
	Username         string   `yaml:"username"`
	Password         string   `yaml:"password"`
	DB               int      `yaml:"db"`
	KeyPrefix        string   `yaml:"key_prefix"`
	CacheTTLSec      int      `yaml:"cache_ttl_sec"` // 0 = no expiry
	ReadinessTimeout int      `yaml:"readiness_timeout_sec"`
}

// QdrantConfig holds qdrant backend settings.
type QdrantConfig struct {
	Addr       string `yaml:"addr"`
	Dimensions int    `yaml:"dimensions"`
}

// SQLiteConfig holds sqlite backend settings.
type SQLiteConfig struct {
	Path string `yaml:"path"`
}

// MockServerConfig holds settings of the local mock embedding service.
type MockServerConfig struct {
	Port    int      `yaml:"port"`
	APIKeys []string `yaml:"api_keys"`
	Dims    int      `yaml:"dims"`
}

// Load reads configuration from a YAML file by environment name (local, dev, prod).
func Load(env string) (Config, error) {
	configPath := findConfigPath(env)

	data, err := os.ReadFile(filepath.Clean(configPath))
	if err != nil {
		return Config{}, fmt.Errorf("failed to read config %s: %w", configPath, err)
	}
	return Parse(data)
}

// Parse decodes, defaults and validates a YAML configuration.
func Parse(data []byte) (Config, error) {
	// Substitute env variables of the form ${VAR}
	data = expandEnvVars(data)

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return Config{}, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.ApplyDefaults()

	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}

	return cfg, nil
}

// GetEnv returns the current environment from the ENV variable, defaulting to "local".
func GetEnv() string {
	if env := os.Getenv("ENV"); env != "" {
		return env
	}
	return "local"
}

// ApplyDefaults fills empty fields with default values.
func (c *Config) ApplyDefaults() {
	if c.API.TimeoutSec <= 0 {
		c.API.TimeoutSec = 180
	}
	if c.Embedding.Mode == "" {
		c.Embedding.Mode = string(domain.ModeStandard)
	}
	if c.Embedding.BatchSize == 0 {
		c.Embedding.BatchSize = domain.DefaultBatchSize
	}
	if c.Embedding.Concurrency <= 0 {
		c.Embedding.Concurrency = 1
	}
	if c.Raster.Binary == "" {
		c.Raster.Binary = "pdftoppm"
	}
	if c.Raster.DPI <= 0 {
		c.Raster.DPI = 200
	}
	if c.VectorStore.Driver == "" {
		c.VectorStore.Driver = DriverMemory
	}
	if c.VectorStore.Redis.KeyPrefix == "" {
		c.VectorStore.Redis.KeyPrefix = "midras:"
	}
	if c.VectorStore.Redis.ReadinessTimeout <= 0 {
		c.VectorStore.Redis.ReadinessTimeout = 10
	}
	if c.VectorStore.SQLite.Path == "" {
		c.VectorStore.SQLite.Path = "midras.db"
	}
	if c.MockServer.Port <= 0 {
		c.MockServer.Port = 8089
	}
}

// Validate checks the configuration for correctness.
func (c *Config) Validate() error {
	if c.Embedding.BatchSize <= 0 {
		return fmt.Errorf("embedding.batch_size must be positive, got %d", c.Embedding.BatchSize)
	}
	if c.Embedding.QueryCacheSize < 0 {
		return fmt.Errorf("embedding.query_cache_size must not be negative, got %d", c.Embedding.QueryCacheSize)
	}
	switch c.Embedding.Budget.Action {
	case "", "warn", "reject":
		// ok
	default:
		return fmt.Errorf("embedding.budget.action must be \"warn\" or \"reject\", got %q",
			c.Embedding.Budget.Action)
	}
	if c.Embedding.Budget.DailyCreditLimit < 0 || c.Embedding.Budget.MonthlyCreditLimit < 0 {
		return fmt.Errorf("embedding.budget limits must not be negative")
	}
	if c.MockServer.Port > 65535 {
		return fmt.Errorf("mock_server.port must be between 1 and 65535, got %d", c.MockServer.Port)
	}

	vs := c.VectorStore
	if !slices.Contains(drivers, vs.Driver) {
		return fmt.Errorf("vector_store.driver must be one of %s, got %q",
			strings.Join(drivers, ", "), vs.Driver)
	}
	switch vs.Driver {
	case DriverRedis:
		if len(vs.Redis.Addrs) == 0 {
			return fmt.Errorf("vector_store.redis.addrs is required")
		}
	case DriverQdrant:
		if vs.Qdrant.Addr == "" {
			return fmt.Errorf("vector_store.qdrant.addr is required")
		}
		if vs.Qdrant.Dimensions <= 0 {
			return fmt.Errorf("vector_store.qdrant.dimensions must be positive, got %d", vs.Qdrant.Dimensions)
		}
	}
	return nil
}

// findConfigPath locates the config file.
func findConfigPath(env string) string {
	filename := fmt.Sprintf("%s.yaml", env)

	// 1. Check ./config/
	if path := filepath.Join("config", filename); fileExists(path) {
		return path
	}

	// 2. Check relative to the source file
	_, b, _, _ := runtime.Caller(0)
	projectRoot := filepath.Dir(filepath.Dir(filepath.Dir(b))) // internal/config -> project root
	if path := filepath.Join(projectRoot, "config", filename); fileExists(path) {
		return path
	}

	// 3. Fallback to ./config/
	return filepath.Join("config", filename)
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}

// expandEnvVars replaces ${VAR} and ${VAR:-default} with environment variable values.
var envVarRegex = regexp.MustCompile(`\$\{([^}]+)\}`)

func expandEnvVars(data []byte) []byte {
	return envVarRegex.ReplaceAllFunc(data, func(match []byte) []byte {
		expr := string(match[2 : len(match)-1]) // strip ${ and }
		varName, defaultVal, hasDefault := strings.Cut(expr, ":-")
		val := os.Getenv(varName)
		if val == "" && hasDefault {
			val = defaultVal
		}
		return []byte(val)
	})
}
