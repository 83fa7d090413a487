// Package config loads the complete application configuration once at
// startup. Values come from an optional YAML file overridden by environment
// variables; runtime overrides are rejected by construction since nothing
// re-reads the source after Load returns.
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/viper"
)

// DatabaseType selects the backing store implementation
type DatabaseType string

const (
	DatabasePostgres DatabaseType = "postgresql"
	DatabaseSupabase DatabaseType = "supabase"
	DatabaseMongo    DatabaseType = "mongodb"
)

// DatabaseConfig holds connection settings for the document store
type DatabaseConfig struct {
	Type         DatabaseType  `mapstructure:"type"`
	Skip         bool          `mapstructure:"skip"`
	Host         string        `mapstructure:"host"`
	Port         int           `mapstructure:"port"`
	Name         string        `mapstructure:"name"`
	User         string        `mapstructure:"user"`
	Password     string        `mapstructure:"password"`
	SSLMode      string        `mapstructure:"ssl_mode"`
	SupabaseURL  string        `mapstructure:"supabase_url"`
	SupabaseKey  string        `mapstructure:"supabase_key"`
	MaxOpenConns int           `mapstructure:"max_open_conns"`
	MaxIdleConns int           `mapstructure:"max_idle_conns"`
	ConnLifetime time.Duration `mapstructure:"conn_lifetime"`
}

// DSN builds the Postgres connection string
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf("host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		d.Host, d.Port, d.Name, d.User, d.Password, d.SSLMode)
}

// ProvidersConfig holds per-provider credentials and orchestration policy
type ProvidersConfig struct {
	OpenAIAPIKey         string        `mapstructure:"openai_api_key"`
	GeminiAPIKey         string        `mapstructure:"gemini_api_key"`
	BedrockRegion        string        `mapstructure:"bedrock_region"`
	BedrockModelID       string        `mapstructure:"bedrock_model_id"`
	MaxPrivacyLevel      string        `mapstructure:"max_privacy_level"`
	PreferredProvider    string        `mapstructure:"preferred_provider"`
	RequestTimeout       time.Duration `mapstructure:"request_timeout"`
	EnableClarifications bool          `mapstructure:"enable_clarifications"`
}

// EmbeddingConfig configures the embedding collaborator
type EmbeddingConfig struct {
	APIKey        string  `mapstructure:"api_key"`
	Model         string  `mapstructure:"model"`
	RatePerSecond float64 `mapstructure:"rate_per_second"`
	Burst         int     `mapstructure:"burst"`
}

// StorageConfig configures the mockup object storage
type StorageConfig struct {
	Region         string        `mapstructure:"region"`
	Bucket         string        `mapstructure:"bucket"`
	Endpoint       string        `mapstructure:"endpoint"`
	ForcePathStyle bool          `mapstructure:"force_path_style"`
	SignedURLTTL   time.Duration `mapstructure:"signed_url_ttl"`
}

// QueueConfig configures the indexing job queue
type QueueConfig struct {
	QueueURL    string `mapstructure:"queue_url"`
	Region      string `mapstructure:"region"`
	WaitSeconds int32  `mapstructure:"wait_seconds"`
	InMemory    bool   `mapstructure:"in_memory"`
}

// CacheConfig configures the redis analysis cache
type CacheConfig struct {
	Address  string        `mapstructure:"address"`
	Password string        `mapstructure:"password"`
	DB       int           `mapstructure:"db"`
	TTL      time.Duration `mapstructure:"ttl"`
	Enabled  bool          `mapstructure:"enabled"`
}

// IndexerConfig bounds repository fetching and chunk generation
type IndexerConfig struct {
	GitHubToken     string        `mapstructure:"github_token"`
	BatchSize       int           `mapstructure:"batch_size"`
	BatchDelay      time.Duration `mapstructure:"batch_delay"`
	MaxRetries      int           `mapstructure:"max_retries"`
	MaxFileSize     int64         `mapstructure:"max_file_size"`
	ChunkTargetSize int           `mapstructure:"chunk_target_size"`
	ChunkOverlap    int           `mapstructure:"chunk_overlap"`
}

// APIConfig configures the HTTP edge
type APIConfig struct {
	Port           int           `mapstructure:"port"`
	RequestTimeout time.Duration `mapstructure:"request_timeout"`
	EnableCORS     bool          `mapstructure:"enable_cors"`
}

// Config holds the complete application configuration
type Config struct {
	API       APIConfig       `mapstructure:"api"`
	Database  DatabaseConfig  `mapstructure:"database"`
	Providers ProvidersConfig `mapstructure:"providers"`
	Embedding EmbeddingConfig `mapstructure:"embedding"`
	Storage   StorageConfig   `mapstructure:"storage"`
	Queue     QueueConfig     `mapstructure:"queue"`
	Cache     CacheConfig     `mapstructure:"cache"`
	Indexer   IndexerConfig   `mapstructure:"indexer"`
}

// Load loads configuration from file and environment variables
func Load() (*Config, error) {
	v := viper.New()

	setDefaults(v)

	configFile := os.Getenv("PRD_CONFIG_FILE")
	if configFile == "" {
		configFile = "configs/config.yaml"
	}
	v.SetConfigFile(configFile)

	v.SetEnvPrefix("PRD")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if err := v.ReadInConfig(); err != nil {
		// Config file is not required when environment variables are set
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			if !os.IsNotExist(err) {
				return nil, fmt.Errorf("failed to read config file: %w", err)
			}
		}
	}

	bindLegacyEnv(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// bindLegacyEnv maps the historical flat variable names onto config keys so
// existing deployments keep working without the PRD_ prefix.
func bindLegacyEnv(v *viper.Viper) {
	legacy := map[string]string{
		"database.type":                   "DATABASE_TYPE",
		"database.skip":                   "SKIP_DATABASE",
		"database.host":                   "DATABASE_HOST",
		"database.port":                   "DATABASE_PORT",
		"database.name":                   "DATABASE_NAME",
		"database.user":                   "DATABASE_USER",
		"database.password":               "DATABASE_PASSWORD",
		"database.supabase_url":           "SUPABASE_URL",
		"database.supabase_key":           "SUPABASE_SERVICE_KEY",
		"providers.openai_api_key":        "OPENAI_API_KEY",
		"providers.gemini_api_key":        "GEMINI_API_KEY",
		"providers.bedrock_region":        "BEDROCK_REGION",
		"providers.max_privacy_level":     "MAX_PRIVACY_LEVEL",
		"providers.preferred_provider":    "PREFERRED_PROVIDER",
		"providers.enable_clarifications": "ENABLE_CLARIFICATIONS",
		"embedding.api_key":               "OPENAI_API_KEY",
		"indexer.github_token":            "GITHUB_TOKEN",
		"api.port":                        "PORT",
	}
	for key, env := range legacy {
		if val, ok := os.LookupEnv(env); ok && val != "" {
			v.Set(key, val)
		}
	}
}

// Validate rejects configurations the core cannot serve
func (c *Config) Validate() error {
	switch c.Database.Type {
	case DatabasePostgres, DatabaseSupabase:
	case DatabaseMongo:
		return fmt.Errorf("validation: DATABASE_TYPE %q is not supported by this deployment", c.Database.Type)
	default:
		return fmt.Errorf("validation: unknown DATABASE_TYPE %q", c.Database.Type)
	}
	switch c.Providers.MaxPrivacyLevel {
	case "onDevice", "privateCloud", "external":
	default:
		return fmt.Errorf("validation: unknown MAX_PRIVACY_LEVEL %q", c.Providers.MaxPrivacyLevel)
	}
	if c.API.Port <= 0 || c.API.Port > 65535 {
		return fmt.Errorf("validation: invalid port %d", c.API.Port)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("api.port", 8080)
	v.SetDefault("api.request_timeout", 30*time.Second)
	v.SetDefault("api.enable_cors", false)

	v.SetDefault("database.type", string(DatabasePostgres))
	v.SetDefault("database.skip", false)
	v.SetDefault("database.host", "localhost")
	v.SetDefault("database.port", 5432)
	v.SetDefault("database.name", "prd_engine")
	v.SetDefault("database.user", "postgres")
	v.SetDefault("database.ssl_mode", "disable")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_lifetime", 5*time.Minute)

	v.SetDefault("providers.max_privacy_level", "external")
	v.SetDefault("providers.request_timeout", 30*time.Second)
	v.SetDefault("providers.enable_clarifications", true)
	v.SetDefault("providers.bedrock_model_id", "anthropic.claude-3-5-sonnet-20241022-v2:0")

	v.SetDefault("embedding.model", "text-embedding-3-small")
	v.SetDefault("embedding.rate_per_second", 10.0)
	v.SetDefault("embedding.burst", 20)

	v.SetDefault("storage.region", "us-east-1")
	v.SetDefault("storage.bucket", "prd-mockups")
	v.SetDefault("storage.signed_url_ttl", time.Hour)

	v.SetDefault("queue.region", "us-east-1")
	v.SetDefault("queue.wait_seconds", 10)
	v.SetDefault("queue.in_memory", false)

	v.SetDefault("cache.address", "localhost:6379")
	v.SetDefault("cache.ttl", 15*time.Minute)
	v.SetDefault("cache.enabled", false)

	v.SetDefault("indexer.batch_size", 10)
	v.SetDefault("indexer.batch_delay", 500*time.Millisecond)
	v.SetDefault("indexer.max_retries", 3)
	v.SetDefault("indexer.max_file_size", 1024*1024)
	v.SetDefault("indexer.chunk_target_size", 2500)
	v.SetDefault("indexer.chunk_overlap", 200)
}
