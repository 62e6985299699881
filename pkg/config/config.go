package config

import (
	"fmt"
	"strings"

	"github.com/spf13/viper"
)

type Config struct {
	Server  ServerConfig
	SQLite  SQLiteConfig
	Redis   RedisConfig
	LLM     LLMConfig
	Extract ExtractConfig
	Chunker ChunkerConfig
	Eval    EvalConfig
	Fetch   FetchConfig
	Logging LoggingConfig
}

type ServerConfig struct {
	Host                 string
	Port                 int
	ReadTimeout          int
	WriteTimeout         int
	BodyLimit            int
	MaxRequestsPerMinute int
}

type SQLiteConfig struct {
	Path string
}

type RedisConfig struct {
	Enabled  bool
	Host     string
	Port     int
	Password string
	DB       int
	TTLHours int
}

type LLMConfig struct {
	Provider    string
	Model       string
	APIKey      string
	Temperature float32
	MaxTokens   int
	TimeoutSec  int
}

type ExtractConfig struct {
	MaxDepth           int
	MaxMembers         int
	MaxMemberSizeBytes int64
}

type ChunkerConfig struct {
	TargetSize int
	Overlap    int
}

type EvalConfig struct {
	Workers       int
	MaxCandidates int
}

type FetchConfig struct {
	TimeoutSec       int
	MaxFileSizeBytes int64
}

type LoggingConfig struct {
	Level      string
	Format     string
	OutputPath string
}

func Load() (*Config, error) {
	viper.SetConfigName("config")
	viper.SetConfigType("yaml")
	viper.AddConfigPath(".")
	viper.AddConfigPath("./config")
	viper.AddConfigPath("/etc/tender-engine")

	viper.SetEnvPrefix("TENDER_ENGINE")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	setDefaults()

	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	var config Config
	if err := viper.Unmarshal(&config); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	return &config, nil
}

func setDefaults() {
	viper.SetDefault("server.host", "0.0.0.0")
	viper.SetDefault("server.port", 8080)
	viper.SetDefault("server.readTimeout", 120)
	viper.SetDefault("server.writeTimeout", 300)
	viper.SetDefault("server.bodyLimit", 52428800)
	viper.SetDefault("server.maxRequestsPerMinute", 30)

	viper.SetDefault("sqlite.path", "./data/tender.db")

	viper.SetDefault("redis.enabled", false)
	viper.SetDefault("redis.host", "localhost")
	viper.SetDefault("redis.port", 6379)
	viper.SetDefault("redis.db", 0)
	viper.SetDefault("redis.ttlHours", 24)

	viper.SetDefault("llm.provider", "openai")
	viper.SetDefault("llm.model", "gpt-4o")
	viper.SetDefault("llm.temperature", 0)
	viper.SetDefault("llm.maxTokens", 2500)
	viper.SetDefault("llm.timeoutSec", 60)

	viper.SetDefault("extract.maxDepth", 3)
	viper.SetDefault("extract.maxMembers", 100)
	viper.SetDefault("extract.maxMemberSizeBytes", 52428800)

	viper.SetDefault("chunker.targetSize", 5000)
	viper.SetDefault("chunker.overlap", 300)

	viper.SetDefault("eval.workers", 4)
	viper.SetDefault("eval.maxCandidates", 20)

	viper.SetDefault("fetch.timeoutSec", 60)
	viper.SetDefault("fetch.maxFileSizeBytes", 52428800)

	viper.SetDefault("logging.level", "info")
	viper.SetDefault("logging.format", "json")
	viper.SetDefault("logging.outputPath", "stdout")
}
