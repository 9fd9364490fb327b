package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server      ServerConfig
	Zilliz      ZillizConfig
	SQLite      SQLiteConfig
	Redis       RedisConfig
	Storage     StorageConfig
	LLM         LLMConfig
	Search      SearchConfig
	Classifier  ClassifierConfig
	Geocoder    GeocoderConfig
	Neo4j       Neo4jConfig
	Geography   GeographyConfig
	Dialogue    DialogueConfig
	Session     SessionConfig
	Aggregation AggregationConfig
	Logging     LoggingConfig
	RateLimit   RateLimitConfig
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  int
	WriteTimeout int
	BodyLimit    int
}

type ZillizConfig struct {
	Endpoint       string
	APIKey         string
	CollectionName string
	VectorDim      int
	IndexType      string
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Host     string
	Port     int
	Password string
	DB       int
}

// StorageConfig selects where session records and message reports live.
type StorageConfig struct {
	Backend string
}

type LLMConfig struct {
	Provider       string
	Model          string
	APIKey         string
	BaseURL        string
	Temperature    float32
	MaxTokens      int
	TimeoutSec     int
	EmbeddingModel string
	EmbeddingDim   int
}

type SearchConfig struct {
	Enabled    bool
	SerpAPIKey string
	MaxResults int
	TimeoutSec int
}

type ClassifierConfig struct {
	Endpoint   string
	APIKey     string
	TimeoutSec int
}

type GeocoderConfig struct {
	BaseURL     string
	TimeoutSec  int
	CacheTTLMin int
}

type Neo4jConfig struct {
	URI      string
	Username string
	Password string
	Database string
}

// GeographyConfig chooses the source of officials and their wards: a YAML
// file or the neo4j graph.
type GeographyConfig struct {
	Source string
	File   string
}

type DialogueConfig struct {
	WindowSize     int
	RetrievalK     int
	ReportLookback int
	TurnTimeoutSec int
}

type SessionConfig struct {
	IdleTimeoutMin  int
	ReapIntervalSec int
}

type AggregationConfig struct {
	Timezone        string
	Sink            string
	ChartDir        string
	LeaseTTLMin     int
	KeywordsPerDoc  int
	KeywordsPerWeek int
	KeywordMaxNgram int
	KeywordDedupe   float64
	ExtraStopwords  []string
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

type RateLimitConfig struct {
	Requests  int
	WindowSec int
}

func Load() (*Config, error) {
	return LoadFile("")
}

// LoadFile reads the given config file, or searches the default locations
// when path is empty.
func LoadFile(path string) (*Config, error) {
	v := viper.New()
	if path != "" {
		v.SetConfigFile(path)
	} else {
		v.SetConfigName("config")
		v.SetConfigType("yaml")
		v.AddConfigPath(".")
		v.AddConfigPath("./config")
		v.AddConfigPath("/etc/civic-sage")
	}

	v.SetEnvPrefix("CIVIC_SAGE")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := v.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := config.validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

func (c *Config) validate() error {
	switch c.Storage.Backend {
	case "redis", "sqlite":
	default:
		return fmt.Errorf("unknown storage backend %q", c.Storage.Backend)
	}
	switch c.Geography.Source {
	case "file", "neo4j":
	default:
		return fmt.Errorf("unknown geography source %q", c.Geography.Source)
	}
	switch c.Aggregation.Sink {
	case "csv", "redis":
	default:
		return fmt.Errorf("unknown chart sink %q", c.Aggregation.Sink)
	}
	if c.Dialogue.WindowSize <= 0 {
		return fmt.Errorf("dialogue.windowSize must be positive, got %d", c.Dialogue.WindowSize)
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.readTimeout", 30)
	v.SetDefault("server.writeTimeout", 120)
	v.SetDefault("server.bodyLimit", 1048576)

	v.SetDefault("zilliz.endpoint", "localhost:19530")
	v.SetDefault("zilliz.collectionName", "civic_sage_knowledge")
	v.SetDefault("zilliz.vectorDim", 1536)
	v.SetDefault("zilliz.indexType", "IVF_FLAT")

	v.SetDefault("sqlite.path", "./data/civic-sage.db")

	v.SetDefault("redis.host", "localhost")
	v.SetDefault("redis.port", 6379)
	v.SetDefault("redis.db", 0)

	v.SetDefault("storage.backend", "redis")

	v.SetDefault("llm.provider", "openai")
	v.SetDefault("llm.model", "gpt-4o-mini")
	v.SetDefault("llm.temperature", 0.0)
	v.SetDefault("llm.maxTokens", 1024)
	v.SetDefault("llm.timeoutSec", 60)
	v.SetDefault("llm.embeddingModel", "text-embedding-3-small")
	v.SetDefault("llm.embeddingDim", 1536)

	v.SetDefault("search.enabled", true)
	v.SetDefault("search.maxResults", 5)
	v.SetDefault("search.timeoutSec", 10)

	v.SetDefault("classifier.endpoint", "https://api-inference.huggingface.co/models/facebook/bart-large-mnli")
	v.SetDefault("classifier.timeoutSec", 20)

	v.SetDefault("geocoder.baseURL", "https://api.postcodes.io")
	v.SetDefault("geocoder.timeoutSec", 5)
	v.SetDefault("geocoder.cacheTTLMin", 1440)

	v.SetDefault("neo4j.uri", "bolt://localhost:7687")
	v.SetDefault("neo4j.username", "neo4j")
	v.SetDefault("neo4j.password", "password")
	v.SetDefault("neo4j.database", "neo4j")

	v.SetDefault("geography.source", "file")
	v.SetDefault("geography.file", "./config/geography.yaml")

	v.SetDefault("dialogue.windowSize", 20)
	v.SetDefault("dialogue.retrievalK", 5)
	v.SetDefault("dialogue.reportLookback", 6)
	v.SetDefault("dialogue.turnTimeoutSec", 90)

	v.SetDefault("session.idleTimeoutMin", 30)
	v.SetDefault("session.reapIntervalSec", 60)

	v.SetDefault("aggregation.timezone", "Europe/London")
	v.SetDefault("aggregation.sink", "csv")
	v.SetDefault("aggregation.chartDir", "./data/charts")
	v.SetDefault("aggregation.leaseTTLMin", 30)
	v.SetDefault("aggregation.keywordsPerDoc", 5)
	v.SetDefault("aggregation.keywordsPerWeek", 5)
	v.SetDefault("aggregation.keywordMaxNgram", 3)
	v.SetDefault("aggregation.keywordDedupe", 0.9)
	v.SetDefault("aggregation.extraStopwords", []string{"person", "email_address", "phone_number", "ip_address", "credit_card"})

	v.SetDefault("logging.level", "info")
	v.SetDefault("logging.format", "json")
	v.SetDefault("logging.outputPath", "stdout")

	v.SetDefault("ratelimit.requests", 30)
	v.SetDefault("ratelimit.windowSec", 60)
}
