package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the videotagger service
type Config struct {
	Port        int    `yaml:"port"`
	DatabaseURL string `yaml:"database_url"` // sqlite path, or postgres:// DSN
	RedisAddr   string `yaml:"redis_addr"`   // Redis address for queue backend and API cache

	WorkerConcurrency int `yaml:"worker_concurrency"` // Number of videos processed at once

	YouTubeAPIKey            string        `yaml:"youtube_api_key"`
	YouTubeBaseURL           string        `yaml:"youtube_base_url"`
	YouTubeWatchURL          string        `yaml:"youtube_watch_url"`
	YouTubeRequestsPerSecond float64       `yaml:"youtube_requests_per_second"`
	APICacheTTL              time.Duration `yaml:"api_cache_ttl"`
	APICacheSize             int           `yaml:"api_cache_size"`

	OpenAIAPIKey        string `yaml:"openai_api_key"`
	OpenAIBaseURL       string `yaml:"openai_base_url"`
	TagModel            string `yaml:"tag_model"`
	IntervieweeModel    string `yaml:"interviewee_model"`
	IncludeInterviewees bool   `yaml:"include_interviewees"`

	NERBaseURL       string `yaml:"ner_base_url"`
	EmbeddingBaseURL string `yaml:"embedding_base_url"`
	EmbeddingModel   string `yaml:"embedding_model"`

	DefaultNumVideos          int     `yaml:"default_num_videos"`
	DefaultNumComments        int     `yaml:"default_num_comments"`
	DefaultNumTags            int     `yaml:"default_num_tags"`
	DefaultClusteringStrength float64 `yaml:"default_clustering_strength"`

	UpstreamMaxRetries int           `yaml:"upstream_max_retries"`
	UpstreamRetryDelay time.Duration `yaml:"upstream_retry_delay"`

	OTLPEndpoint string `yaml:"otlp_endpoint"` // Empty keeps spans in-process
	Environment  string `yaml:"environment"`
	LogLevel     string `yaml:"log_level"`
}

// Defaults returns the configuration used when nothing is set
func Defaults() *Config {
	return &Config{
		Port:                      8080,
		DatabaseURL:               "./videotagger.db",
		RedisAddr:                 "localhost:6379",
		WorkerConcurrency:         10,
		YouTubeBaseURL:            "https://www.googleapis.com/youtube/v3",
		YouTubeWatchURL:           "https://www.youtube.com",
		YouTubeRequestsPerSecond:  5,
		APICacheTTL:               6 * time.Hour,
		APICacheSize:              512,
		OpenAIBaseURL:             "https://api.openai.com/v1",
		TagModel:                  "gpt-4",
		IntervieweeModel:          "gpt-3.5-turbo",
		NERBaseURL:                "http://localhost:8091",
		EmbeddingBaseURL:          "http://localhost:8092",
		EmbeddingModel:            "paraphrase-MiniLM-L6-v2",
		DefaultNumVideos:          10,
		DefaultNumComments:        50,
		DefaultNumTags:            5,
		DefaultClusteringStrength: 0.3,
		UpstreamMaxRetries:        3,
		UpstreamRetryDelay:        2 * time.Second,
		Environment:               "production",
		LogLevel:                  "info",
	}
}

// Load reads configuration from an optional YAML file (CONFIG_FILE), then a
// .env file if present, then environment variables. Later sources win.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	config := Defaults()
	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := config.loadFile(path); err != nil {
			return nil, err
		}
	}
	config.applyEnv()

	if err := config.Validate(); err != nil {
		return nil, err
	}

	return config, nil
}

func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}
	if err := yaml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("failed to parse config file %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Port = getEnvAsInt("PORT", c.Port)
	c.DatabaseURL = getEnv("DATABASE_URL", c.DatabaseURL)
	c.RedisAddr = getEnv("REDIS_ADDR", c.RedisAddr)
	c.WorkerConcurrency = getEnvAsInt("WORKER_CONCURRENCY", c.WorkerConcurrency)

	c.YouTubeAPIKey = getEnv("YOUTUBE_API_KEY", c.YouTubeAPIKey)
	c.YouTubeBaseURL = getEnv("YOUTUBE_BASE_URL", c.YouTubeBaseURL)
	c.YouTubeWatchURL = getEnv("YOUTUBE_WATCH_URL", c.YouTubeWatchURL)
	c.YouTubeRequestsPerSecond = getEnvAsFloat("YOUTUBE_REQUESTS_PER_SECOND", c.YouTubeRequestsPerSecond)
	c.APICacheTTL = getEnvAsDuration("API_CACHE_TTL", c.APICacheTTL)
	c.APICacheSize = getEnvAsInt("API_CACHE_SIZE", c.APICacheSize)

	c.OpenAIAPIKey = getEnv("OPENAI_API_KEY", c.OpenAIAPIKey)
	c.OpenAIBaseURL = getEnv("OPENAI_BASE_URL", c.OpenAIBaseURL)
	c.TagModel = getEnv("TAG_MODEL", c.TagModel)
	c.IntervieweeModel = getEnv("INTERVIEWEE_MODEL", c.IntervieweeModel)
	c.IncludeInterviewees = getEnvAsBool("INCLUDE_INTERVIEWEES", c.IncludeInterviewees)

	c.NERBaseURL = getEnv("NER_BASE_URL", c.NERBaseURL)
	c.EmbeddingBaseURL = getEnv("EMBEDDING_BASE_URL", c.EmbeddingBaseURL)
	c.EmbeddingModel = getEnv("EMBEDDING_MODEL", c.EmbeddingModel)

	c.DefaultNumVideos = getEnvAsInt("DEFAULT_NUM_VIDEOS", c.DefaultNumVideos)
	c.DefaultNumComments = getEnvAsInt("DEFAULT_NUM_COMMENTS", c.DefaultNumComments)
	c.DefaultNumTags = getEnvAsInt("DEFAULT_NUM_TAGS", c.DefaultNumTags)
	c.DefaultClusteringStrength = getEnvAsFloat("DEFAULT_CLUSTERING_STRENGTH", c.DefaultClusteringStrength)

	c.UpstreamMaxRetries = getEnvAsInt("UPSTREAM_MAX_RETRIES", c.UpstreamMaxRetries)
	c.UpstreamRetryDelay = getEnvAsDuration("UPSTREAM_RETRY_DELAY", c.UpstreamRetryDelay)

	c.OTLPEndpoint = getEnv("OTEL_EXPORTER_OTLP_ENDPOINT", c.OTLPEndpoint)
	c.Environment = getEnv("ENVIRONMENT", c.Environment)
	c.LogLevel = getEnv("LOG_LEVEL", c.LogLevel)
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("DATABASE_URL is required")
	}
	if c.RedisAddr == "" {
		return fmt.Errorf("REDIS_ADDR is required")
	}
	if c.WorkerConcurrency <= 0 {
		return fmt.Errorf("WORKER_CONCURRENCY must be greater than 0")
	}
	if c.YouTubeRequestsPerSecond <= 0 {
		return fmt.Errorf("YOUTUBE_REQUESTS_PER_SECOND must be greater than 0")
	}
	if c.NERBaseURL == "" {
		return fmt.Errorf("NER_BASE_URL is required")
	}
	if c.EmbeddingBaseURL == "" {
		return fmt.Errorf("EMBEDDING_BASE_URL is required")
	}
	if c.DefaultNumVideos <= 0 || c.DefaultNumComments <= 0 || c.DefaultNumTags <= 0 {
		return fmt.Errorf("DEFAULT_NUM_VIDEOS, DEFAULT_NUM_COMMENTS and DEFAULT_NUM_TAGS must be greater than 0")
	}
	if c.DefaultClusteringStrength < 0 {
		return fmt.Errorf("DEFAULT_CLUSTERING_STRENGTH must be >= 0")
	}
	if c.UpstreamMaxRetries < 0 {
		return fmt.Errorf("UPSTREAM_MAX_RETRIES must be >= 0")
	}
	return nil
}

// ValidateIngestion checks the settings only the pipeline needs. The
// consolidate and export commands run without them.
func (c *Config) ValidateIngestion() error {
	if c.YouTubeAPIKey == "" {
		return fmt.Errorf("YOUTUBE_API_KEY is required")
	}
	if c.OpenAIAPIKey == "" {
		return fmt.Errorf("OPENAI_API_KEY is required")
	}
	return nil
}

// IsPostgres reports whether DatabaseURL points at PostgreSQL
func (c *Config) IsPostgres() bool {
	return strings.HasPrefix(c.DatabaseURL, "postgres://") || strings.HasPrefix(c.DatabaseURL, "postgresql://")
}

func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if valueStr == "" {
		return defaultValue
	}
	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
