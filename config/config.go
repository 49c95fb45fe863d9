/*
Package config provides configuration management for the news monitor backend.

This package separates configuration concerns from business logic and provides
a centralized way to manage application configuration including the datastore
connection, external service endpoints, pipeline pacing knobs and other
service dependencies.
*/
package config

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"cloud.google.com/go/datastore"
	"github.com/sirupsen/logrus"
	"github.com/wartamigas/news-monitor-backend/aggregator"
	"github.com/wartamigas/news-monitor-backend/cache"
	"github.com/wartamigas/news-monitor-backend/container"
	"github.com/wartamigas/news-monitor-backend/crawler"
	"github.com/wartamigas/news-monitor-backend/httpclient"
	"github.com/wartamigas/news-monitor-backend/ingest"
	"github.com/wartamigas/news-monitor-backend/llm"
	"github.com/wartamigas/news-monitor-backend/middleware"
	"github.com/wartamigas/news-monitor-backend/pipeline"
	"github.com/wartamigas/news-monitor-backend/scheduler"
)

// Config holds all application configuration
type Config struct {
	ProjectID   string
	LogLevel    string
	Environment string
	ServerPort  string
	// Rate limiting configuration
	RateLimitRequestsPerMinute float64
	RateLimitBurst             int
	RateLimitCleanupInterval   time.Duration
	// Enhanced CORS configuration
	CORSConfig CORSConfig
	// Cleanup intervals
	ClientCleanupInterval time.Duration
	// Decoded URL cache
	DecodedURLCacheTTL time.Duration
	// Alerting
	AlertWebhookURL string
	// Tracing
	TracingEnabled  bool
	JaegerEndpoint  string
	TraceSampleRate float64
	// External service and pipeline settings
	HTTP       httpclient.Config
	Retry      httpclient.RetryConfig
	Aggregator aggregator.Config
	Ingest     ingest.Config
	Crawler    crawler.Config
	LLM        llm.Config
	Pipeline   pipeline.Config
	Scheduler  scheduler.Config
}

// CORSConfig holds CORS-related configuration
type CORSConfig struct {
	// Environment-specific settings
	Environment string
	// Allowed origins based on environment
	DevelopmentOrigins []string
	StagingOrigins     []string
	ProductionOrigins  []string
	// Additional CORS settings
	AllowedMethods   []string
	AllowedHeaders   []string
	ExposedHeaders   []string
	AllowCredentials bool
	MaxAge           int
	// Dynamic origin validation
	AllowSubdomains bool
	AllowedDomains  []string
}

// Services holds all service dependencies
type Services struct {
	Container *container.Container
	Logger    *logrus.Logger
}

// AppConfig holds both configuration and services
type AppConfig struct {
	Config   *Config
	Services *Services
}

// NewConfig creates a new configuration instance
func NewConfig() *Config {
	environment := getEnv("ENVIRONMENT", "development")

	return &Config{
		ProjectID:   getEnv("PROJECT_ID", ""),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		Environment: environment,
		ServerPort:  getEnv("SERVER_PORT", "8080"),
		// Rate limiting defaults (60 requests per minute, burst of 10)
		RateLimitRequestsPerMinute: getEnvFloat("RATE_LIMIT_RPM", 60.0),
		RateLimitBurst:             getEnvInt("RATE_LIMIT_BURST", 10),
		RateLimitCleanupInterval:   getEnvDuration("RATE_LIMIT_CLEANUP_INTERVAL", 5*time.Minute),
		// Enhanced CORS configuration
		CORSConfig: CORSConfig{
			Environment: environment,
			DevelopmentOrigins: getEnvSlice("DEV_CORS_ORIGINS", []string{
				"http://localhost:3000",
				"http://localhost:3001",
				"http://127.0.0.1:3000",
				"http://127.0.0.1:3001",
				"http://localhost:8080",
			}),
			StagingOrigins: getEnvSlice("STAGING_CORS_ORIGINS", []string{
				"https://staging.wartamigas.id",
				"https://staging-api.wartamigas.id",
			}),
			ProductionOrigins: getEnvSlice("PROD_CORS_ORIGINS", []string{
				"https://wartamigas.id",
				"https://www.wartamigas.id",
				"https://api.wartamigas.id",
			}),
			AllowedMethods: getEnvSlice("CORS_ALLOWED_METHODS", []string{
				"GET", "POST", "PUT", "DELETE", "OPTIONS",
			}),
			AllowedHeaders: getEnvSlice("CORS_ALLOWED_HEADERS", []string{
				"Content-Type", "Authorization", "X-Requested-With",
				"X-Request-ID", "X-User-ID", "Accept", "Origin", "Cache-Control",
			}),
			ExposedHeaders: getEnvSlice("CORS_EXPOSED_HEADERS", []string{
				"X-Request-ID", "X-Total-Count", "X-Next-Cursor",
			}),
			AllowCredentials: getEnvBool("CORS_ALLOW_CREDENTIALS", true),
			MaxAge:           getEnvInt("CORS_MAX_AGE", 86400), // 24 hours
			AllowSubdomains:  getEnvBool("CORS_ALLOW_SUBDOMAINS", false),
			AllowedDomains:   getEnvSlice("CORS_ALLOWED_DOMAINS", []string{}),
		},
		// Cleanup intervals
		ClientCleanupInterval: getEnvDuration("CLIENT_CLEANUP_INTERVAL", 1*time.Minute),
		// Decoded URLs never change once resolved, so the in-memory layer
		// can hold them for a long time
		DecodedURLCacheTTL: getEnvDuration("DECODED_URL_CACHE_TTL", 24*time.Hour),
		// Alerting
		AlertWebhookURL: getEnv("ALERT_WEBHOOK_URL", ""),
		// Tracing
		TracingEnabled:  getEnvBool("TRACING_ENABLED", false),
		JaegerEndpoint:  getEnv("JAEGER_ENDPOINT", "http://localhost:14268/api/traces"),
		TraceSampleRate: getEnvFloat("TRACE_SAMPLE_RATE", 1.0),
		// Shared HTTP client settings
		HTTP: httpclient.Config{
			Timeout:      getEnvDuration("HTTP_TIMEOUT", 30*time.Second),
			UserAgent:    getEnv("HTTP_USER_AGENT", httpclient.DefaultUserAgent),
			MaxURLLength: getEnvInt("MAX_URL_LENGTH", 2048),
		},
		Retry: httpclient.RetryConfig{
			MaxAttempts: getEnvInt("HTTP_MAX_RETRIES", 3),
			BaseDelay:   getEnvDuration("HTTP_RETRY_BASE_DELAY", 1*time.Second),
			MaxDelay:    getEnvDuration("HTTP_RETRY_MAX_DELAY", 30*time.Second),
			Multiplier:  getEnvFloat("HTTP_RETRY_MULTIPLIER", 2.0),
		},
		// News aggregator settings (Indonesian edition by default)
		Aggregator: aggregator.Config{
			BaseURL:  getEnv("AGGREGATOR_BASE_URL", "https://news.google.com"),
			Language: getEnv("AGGREGATOR_HL", "id"),
			Country:  getEnv("AGGREGATOR_GL", "ID"),
			Edition:  getEnv("AGGREGATOR_CEID", "ID:id"),
		},
		// Ingestion orchestrator settings
		Ingest: ingest.Config{
			SearchDelay:      getEnvDuration("SEARCH_DELAY", 500*time.Millisecond),
			RSSConcurrency:   getEnvInt("RSS_CONCURRENCY", 5),
			KeywordsPerTopic: getEnvInt("KEYWORDS_PER_TOPIC", 5),
			TopicLookback:    getEnvDuration("TOPIC_LOOKBACK", 7*24*time.Hour),
		},
		// Crawler settings
		Crawler: crawler.Config{
			BaseURL:          getEnv("CRAWLER_BASE_URL", ""),
			Timeout:          getEnvDuration("CRAWLER_TIMEOUT", 30*time.Second),
			MaxRetries:       getEnvInt("CRAWLER_MAX_RETRIES", 2),
			MinContentLength: getEnvInt("MIN_CONTENT_LENGTH", 50),
			MaxContentLength: getEnvInt("MAX_CONTENT_LENGTH", 4000),
		},
		// LLM settings
		LLM: llm.Config{
			BaseURL:     getEnv("LLM_BASE_URL", ""),
			APIKey:      getEnv("LLM_API_KEY", ""),
			Model:       getEnv("LLM_MODEL", "gpt-4o-mini"),
			Temperature: getEnvFloat("LLM_TEMPERATURE", 0.3),
			MaxRetries:  getEnvInt("LLM_MAX_RETRIES", 3),
			ContentCap:  getEnvInt("LLM_CONTENT_CAP", 15000),
			Timeout:     getEnvDuration("LLM_TIMEOUT", 60*time.Second),
		},
		// Stream engine pacing
		Pipeline: pipeline.Config{
			DecodeDelay:     getEnvDuration("DECODE_DELAY", 3*time.Second),
			AnalyzeDelay:    getEnvDuration("ANALYZE_DELAY", 500*time.Millisecond),
			DecodeBatchSize: getEnvInt("DECODE_BATCH_SIZE", 100),
		},
		// Auto-fetch scheduler
		Scheduler: scheduler.Config{
			Enabled:      getEnvBool("SCHEDULER_ENABLED", true),
			Interval:     getEnvDuration("FETCH_INTERVAL", 1*time.Hour),
			MinGap:       getEnvDuration("MIN_FETCH_GAP", 55*time.Minute),
			InitialDelay: getEnvDuration("SCHEDULER_INITIAL_DELAY", 2*time.Second),
			Users:        getEnvSlice("SCHEDULER_USERS", []string{}),
		},
	}
}

// Validate validates the configuration
func (c *Config) Validate() error {
	var errors []string

	if c.ProjectID == "" {
		errors = append(errors, "PROJECT_ID environment variable is required")
	}
	if err := validateBaseURL("AGGREGATOR_BASE_URL", c.Aggregator.BaseURL, true); err != nil {
		errors = append(errors, err.Error())
	}
	if err := validateBaseURL("CRAWLER_BASE_URL", c.Crawler.BaseURL, false); err != nil {
		errors = append(errors, err.Error())
	}
	if err := validateBaseURL("LLM_BASE_URL", c.LLM.BaseURL, false); err != nil {
		errors = append(errors, err.Error())
	}
	if c.Ingest.RSSConcurrency < 1 {
		errors = append(errors, "RSS_CONCURRENCY must be at least 1")
	}
	if c.Ingest.KeywordsPerTopic < 1 {
		errors = append(errors, "KEYWORDS_PER_TOPIC must be at least 1")
	}
	if c.Pipeline.DecodeBatchSize < 1 || c.Pipeline.DecodeBatchSize > 500 {
		errors = append(errors, "DECODE_BATCH_SIZE must be between 1 and 500")
	}
	if c.Crawler.MinContentLength < 0 {
		errors = append(errors, "MIN_CONTENT_LENGTH cannot be negative")
	}
	if c.Crawler.MaxContentLength <= c.Crawler.MinContentLength {
		errors = append(errors, "MAX_CONTENT_LENGTH must be greater than MIN_CONTENT_LENGTH")
	}
	if c.LLM.Temperature < 0 || c.LLM.Temperature > 2 {
		errors = append(errors, "LLM_TEMPERATURE must be between 0 and 2")
	}
	if c.Scheduler.MinGap > c.Scheduler.Interval {
		errors = append(errors, "MIN_FETCH_GAP cannot exceed FETCH_INTERVAL")
	}

	if len(errors) > 0 {
		return fmt.Errorf("configuration validation failed: %s", strings.Join(errors, "; "))
	}
	return nil
}

// validateBaseURL checks that a configured endpoint is a usable http(s) URL.
// Optional endpoints may be empty; the feature depending on them degrades.
func validateBaseURL(name, value string, required bool) error {
	if value == "" {
		if required {
			return fmt.Errorf("%s environment variable is required", name)
		}
		return nil
	}
	parsed, err := url.Parse(value)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return fmt.Errorf("%s must be a valid http(s) URL", name)
	}
	return nil
}

// NewServices creates and initializes all service dependencies using DI container
func NewServices(config *Config) (*Services, error) {
	logger := middleware.Logger
	if logger == nil {
		logger = logrus.New()
		logger.SetLevel(logrus.InfoLevel)
	}

	// Initialize Datastore client
	datastoreClient, err := datastore.NewClient(context.Background(), config.ProjectID)
	if err != nil {
		return nil, fmt.Errorf("failed to create Datastore client: %v", err)
	}
	logger.WithField("project_id", config.ProjectID).Info("Datastore client initialized successfully")

	// Initialize decoded URL cache
	inMemoryCache := cache.NewInMemoryCache(config.DecodedURLCacheTTL)
	urlCache := cache.NewDecodedURLCache(inMemoryCache, logger, config.DecodedURLCacheTTL)
	logger.Info("Decoded URL cache initialized successfully")

	// Initialize dependency injection container
	diContainer := container.NewContainer()
	opts := container.Options{
		HTTP:       config.HTTP,
		Retry:      config.Retry,
		Aggregator: config.Aggregator,
		Ingest:     config.Ingest,
		Crawler:    config.Crawler,
		LLM:        config.LLM,
		Pipeline:   config.Pipeline,
		Scheduler:  config.Scheduler,
	}
	if err := diContainer.InitializeServices(datastoreClient, urlCache, logger, opts); err != nil {
		return nil, fmt.Errorf("failed to initialize dependency container: %v", err)
	}

	return &Services{
		Container: diContainer,
		Logger:    logger,
	}, nil
}

// NewAppConfig creates a new application configuration with all dependencies
func NewAppConfig() (*AppConfig, error) {
	config := NewConfig()

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %v", err)
	}

	services, err := NewServices(config)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize services: %v", err)
	}

	return &AppConfig{
		Config:   config,
		Services: services,
	}, nil
}

// Close gracefully closes all service connections
func (s *Services) Close() error {
	if s.Container != nil {
		return s.Container.Close()
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvFloat gets an environment variable as float64 with a default value
func getEnvFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseFloat(value, 64); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvInt gets an environment variable as int with a default value
func getEnvInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.Atoi(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvDuration gets an environment variable as time.Duration with a default value
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if parsed, err := time.ParseDuration(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvBool gets an environment variable as bool with a default value
func getEnvBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if parsed, err := strconv.ParseBool(value); err == nil {
			return parsed
		}
	}
	return defaultValue
}

// getEnvSlice gets an environment variable as a string slice with a default value
func getEnvSlice(key string, defaultValue []string) []string {
	if value := os.Getenv(key); value != "" {
		return strings.Split(value, ",")
	}
	return defaultValue
}
