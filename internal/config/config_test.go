package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoad(t *testing.T) {
	// Set test environment variables
	t.Setenv("PORT", "9090")
	t.Setenv("DATABASE_URL", "postgres://user:pass@db:5432/tags")
	t.Setenv("REDIS_ADDR", "redis:6379")
	t.Setenv("WORKER_CONCURRENCY", "4")
	t.Setenv("YOUTUBE_API_KEY", "yt-key")
	t.Setenv("OPENAI_API_KEY", "openai-key")
	t.Setenv("EMBEDDING_MODEL", "all-MiniLM-L6-v2")
	t.Setenv("DEFAULT_CLUSTERING_STRENGTH", "0.45")
	t.Setenv("UPSTREAM_RETRY_DELAY", "500ms")
	t.Setenv("INCLUDE_INTERVIEWEES", "true")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 9090 {
		t.Errorf("Expected Port 9090, got %d", cfg.Port)
	}
	if !cfg.IsPostgres() {
		t.Errorf("Expected postgres database URL, got '%s'", cfg.DatabaseURL)
	}
	if cfg.RedisAddr != "redis:6379" {
		t.Errorf("Expected RedisAddr 'redis:6379', got '%s'", cfg.RedisAddr)
	}
	if cfg.WorkerConcurrency != 4 {
		t.Errorf("Expected WorkerConcurrency 4, got %d", cfg.WorkerConcurrency)
	}
	if cfg.YouTubeAPIKey != "yt-key" {
		t.Errorf("Expected YouTubeAPIKey 'yt-key', got '%s'", cfg.YouTubeAPIKey)
	}
	if cfg.EmbeddingModel != "all-MiniLM-L6-v2" {
		t.Errorf("Expected EmbeddingModel 'all-MiniLM-L6-v2', got '%s'", cfg.EmbeddingModel)
	}
	if cfg.DefaultClusteringStrength != 0.45 {
		t.Errorf("Expected DefaultClusteringStrength 0.45, got %f", cfg.DefaultClusteringStrength)
	}
	if cfg.UpstreamRetryDelay != 500*time.Millisecond {
		t.Errorf("Expected UpstreamRetryDelay 500ms, got %s", cfg.UpstreamRetryDelay)
	}
	if !cfg.IncludeInterviewees {
		t.Error("Expected IncludeInterviewees to be true")
	}
	if err := cfg.ValidateIngestion(); err != nil {
		t.Errorf("Expected ingestion settings to validate, got %v", err)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 8080 {
		t.Errorf("Expected default Port 8080, got %d", cfg.Port)
	}
	if cfg.DatabaseURL != "./videotagger.db" {
		t.Errorf("Expected default DatabaseURL './videotagger.db', got '%s'", cfg.DatabaseURL)
	}
	if cfg.IsPostgres() {
		t.Error("Expected sqlite by default")
	}
	if cfg.WorkerConcurrency != 10 {
		t.Errorf("Expected default WorkerConcurrency 10, got %d", cfg.WorkerConcurrency)
	}
	if cfg.EmbeddingModel != "paraphrase-MiniLM-L6-v2" {
		t.Errorf("Expected default EmbeddingModel, got '%s'", cfg.EmbeddingModel)
	}
	if cfg.DefaultNumVideos != 10 || cfg.DefaultNumComments != 50 || cfg.DefaultNumTags != 5 {
		t.Errorf("Unexpected request defaults: %d/%d/%d", cfg.DefaultNumVideos, cfg.DefaultNumComments, cfg.DefaultNumTags)
	}
	if cfg.DefaultClusteringStrength != 0.3 {
		t.Errorf("Expected default DefaultClusteringStrength 0.3, got %f", cfg.DefaultClusteringStrength)
	}
	if cfg.TagModel != "gpt-4" {
		t.Errorf("Expected default TagModel 'gpt-4', got '%s'", cfg.TagModel)
	}
	if cfg.ValidateIngestion() == nil {
		t.Error("Expected ingestion validation to fail without API keys")
	}
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "videotagger.yaml")
	content := []byte(`
port: 7070
worker_concurrency: 3
api_cache_ttl: 30m
embedding_base_url: http://embedder:9000
default_clustering_strength: 0.6
`)
	if err := os.WriteFile(path, content, 0o600); err != nil {
		t.Fatalf("Failed to write config file: %v", err)
	}

	t.Setenv("CONFIG_FILE", path)
	t.Setenv("WORKER_CONCURRENCY", "8") // env wins over file

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Failed to load config: %v", err)
	}

	if cfg.Port != 7070 {
		t.Errorf("Expected Port 7070 from file, got %d", cfg.Port)
	}
	if cfg.WorkerConcurrency != 8 {
		t.Errorf("Expected env WorkerConcurrency 8, got %d", cfg.WorkerConcurrency)
	}
	if cfg.APICacheTTL != 30*time.Minute {
		t.Errorf("Expected APICacheTTL 30m, got %s", cfg.APICacheTTL)
	}
	if cfg.EmbeddingBaseURL != "http://embedder:9000" {
		t.Errorf("Expected EmbeddingBaseURL from file, got '%s'", cfg.EmbeddingBaseURL)
	}
	if cfg.DefaultClusteringStrength != 0.6 {
		t.Errorf("Expected DefaultClusteringStrength 0.6, got %f", cfg.DefaultClusteringStrength)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{name: "defaults are valid", mutate: func(c *Config) {}, wantErr: false},
		{name: "invalid port", mutate: func(c *Config) { c.Port = 70000 }, wantErr: true},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: true},
		{name: "missing redis", mutate: func(c *Config) { c.RedisAddr = "" }, wantErr: true},
		{name: "zero concurrency", mutate: func(c *Config) { c.WorkerConcurrency = 0 }, wantErr: true},
		{name: "zero rate limit", mutate: func(c *Config) { c.YouTubeRequestsPerSecond = 0 }, wantErr: true},
		{name: "negative strength", mutate: func(c *Config) { c.DefaultClusteringStrength = -0.1 }, wantErr: true},
		{name: "zero strength allowed", mutate: func(c *Config) { c.DefaultClusteringStrength = 0 }, wantErr: false},
		{name: "zero tags", mutate: func(c *Config) { c.DefaultNumTags = 0 }, wantErr: true},
		{name: "negative retries", mutate: func(c *Config) { c.UpstreamMaxRetries = -1 }, wantErr: true},
		{name: "missing embedding service", mutate: func(c *Config) { c.EmbeddingBaseURL = "" }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := Defaults()
			tt.mutate(cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestGetEnvAsDuration(t *testing.T) {
	t.Setenv("TEST_DURATION", "not-a-duration")
	if got := getEnvAsDuration("TEST_DURATION", time.Second); got != time.Second {
		t.Errorf("Expected fallback for invalid duration, got %s", got)
	}

	t.Setenv("TEST_DURATION", "90s")
	if got := getEnvAsDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("Expected 90s, got %s", got)
	}
}
