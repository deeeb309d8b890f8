package common

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all application configuration.
// Values are resolved as defaults, then the optional YAML file named by
// AUDIT_CONFIG, then environment variables.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Extract  ExtractConfig  `yaml:"extract"`
	LLM      LLMConfig      `yaml:"llm"`
	Keywords KeywordConfig  `yaml:"keywords"`
	Queue    QueueConfig    `yaml:"queue"`
	Upload   UploadConfig   `yaml:"upload"`
	Fetch    FetchConfig    `yaml:"fetch"`
	Export   ExportConfig   `yaml:"export"`
	Log      LogConfig      `yaml:"log"`
}

// DatabaseConfig holds database-related configuration
type DatabaseConfig struct {
	Driver           string        `yaml:"driver"` // postgres | sqlite | mysql
	DSN              string        `yaml:"dsn"`
	MaxConns         int32         `yaml:"max_conns"`
	MinConns         int32         `yaml:"min_conns"`
	MaxConnLifetime  time.Duration `yaml:"max_conn_lifetime"`
	MaxConnIdleTime  time.Duration `yaml:"max_conn_idle_time"`
	DialTimeout      time.Duration `yaml:"dial_timeout"`
	StatementTimeout time.Duration `yaml:"statement_timeout"`
}

// ServerConfig holds server-related configuration
type ServerConfig struct {
	HTTPAddr        string        `yaml:"http_addr"`
	GRPCAddr        string        `yaml:"grpc_addr"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
	MaxUploadBytes  int64         `yaml:"max_upload_bytes"`
	AllowedOrigins  []string      `yaml:"allowed_origins"`
}

type ExtractConfig struct {
	PdftotextBin    string        `yaml:"pdftotext_bin"`
	DefaultStrategy string        `yaml:"default_strategy"`
	MaxChars        int           `yaml:"max_chars"`
	Timeout         time.Duration `yaml:"timeout"`
}

// ModelRate is USD per one million tokens.
type ModelRate struct {
	InputPerMillion  float64 `yaml:"input_per_million"`
	OutputPerMillion float64 `yaml:"output_per_million"`
}

// LLMConfig holds LLM-related configuration
type LLMConfig struct {
	Primary           string        `yaml:"primary"`
	Timeout           time.Duration `yaml:"timeout"`
	RequestsPerSecond float64       `yaml:"requests_per_second"`
	Burst             int           `yaml:"burst"`
	OpenAI            OpenAIConfig  `yaml:"openai"`
	Gemini            GeminiConfig  `yaml:"gemini"`
	// Rates is keyed by provider, then model.
	Rates map[string]map[string]ModelRate `yaml:"rates"`
}

type OpenAIConfig struct {
	APIKey      string  `yaml:"api_key"`
	Model       string  `yaml:"model"`
	BaseURL     string  `yaml:"base_url"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

type GeminiConfig struct {
	APIKey  string `yaml:"api_key"`
	Model   string `yaml:"model"`
	BaseURL string `yaml:"base_url"`
}

type KeywordConfig struct {
	// FuzzyThreshold is the minimum normalized Levenshtein similarity for a fuzzy alias hit.
	FuzzyThreshold float64 `yaml:"fuzzy_threshold"`
}

type QueueConfig struct {
	MinConfidence   float64       `yaml:"min_confidence"`
	Workers         int           `yaml:"workers"`
	Size            int           `yaml:"size"`
	ClassifyTimeout time.Duration `yaml:"classify_timeout"`
}

type UploadConfig struct {
	Concurrency    int           `yaml:"concurrency"`
	ReservationTTL time.Duration `yaml:"reservation_ttl"`
}

type FetchConfig struct {
	MaxBytes  int64         `yaml:"max_bytes"`
	Timeout   time.Duration `yaml:"timeout"`
	UserAgent string        `yaml:"user_agent"`
}

type ExportConfig struct {
	Bucket    string `yaml:"bucket"`
	Prefix    string `yaml:"prefix"`
	Endpoint  string `yaml:"endpoint"`
	AccessKey string `yaml:"access_key"`
	SecretKey string `yaml:"secret_key"`
	UseSSL    bool   `yaml:"use_ssl"`
}

type LogConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"` // json | text
}

// DefaultRates mirrors published list prices at the time of writing.
func DefaultRates() map[string]map[string]ModelRate {
	return map[string]map[string]ModelRate{
		"openai": {
			"gpt-4o-mini":  {InputPerMillion: 0.15, OutputPerMillion: 0.60},
			"gpt-5-nano":   {InputPerMillion: 0.05, OutputPerMillion: 0.40},
			"gpt-4.1-nano": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
			"gpt-4.1-mini": {InputPerMillion: 0.40, OutputPerMillion: 1.60},
		},
		"gemini": {
			"gemini-2.5-flash": {InputPerMillion: 0.075, OutputPerMillion: 0.30},
			"gemini-2.0-flash": {InputPerMillion: 0.10, OutputPerMillion: 0.40},
		},
	}
}

// Defaults returns a Config with every default applied and no env or file read.
func Defaults() *Config {
	return &Config{
		Database: DatabaseConfig{
			Driver:          "postgres",
			MaxConns:        20,
			MinConns:        5,
			MaxConnLifetime: 30 * time.Minute,
			MaxConnIdleTime: 5 * time.Minute,
			DialTimeout:     3 * time.Second,
		},
		Server: ServerConfig{
			HTTPAddr:        ":8080",
			GRPCAddr:        ":8081",
			ShutdownTimeout: 15 * time.Second,
			MaxUploadBytes:  256 << 20,
			AllowedOrigins:  []string{"*"},
		},
		Extract: ExtractConfig{
			PdftotextBin:    "pdftotext",
			DefaultStrategy: "structured-fast",
			MaxChars:        80000,
			Timeout:         90 * time.Second,
		},
		LLM: LLMConfig{
			Primary:           "openai",
			Timeout:           45 * time.Second,
			RequestsPerSecond: 2,
			Burst:             2,
			OpenAI: OpenAIConfig{
				Model:   "gpt-4o-mini",
				BaseURL: "https://api.openai.com/v1",
			},
			Gemini: GeminiConfig{
				Model:   "gemini-2.5-flash",
				BaseURL: "https://generativelanguage.googleapis.com/v1beta",
			},
			Rates: DefaultRates(),
		},
		Keywords: KeywordConfig{FuzzyThreshold: 0.90},
		Queue: QueueConfig{
			MinConfidence:   0.5,
			Workers:         2,
			Size:            128,
			ClassifyTimeout: 2 * time.Minute,
		},
		Upload: UploadConfig{
			Concurrency:    4,
			ReservationTTL: 15 * time.Minute,
		},
		Fetch: FetchConfig{
			MaxBytes:  100 << 20,
			Timeout:   60 * time.Second,
			UserAgent: "audit-reports/1.0",
		},
		Log: LogConfig{Level: "info", Format: "json"},
	}
}

// LoadConfig resolves configuration from defaults, the optional YAML file and the environment.
func LoadConfig() (*Config, error) {
	cfg := Defaults()
	if path := os.Getenv("AUDIT_CONFIG"); path != "" {
		if err := cfg.overlayFile(path); err != nil {
			return nil, err
		}
	}
	cfg.overlayEnv()
	return cfg, nil
}

func (c *Config) overlayFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return NewAppError("CONFIG_ERROR", "read "+path, err)
	}
	if err := yaml.Unmarshal(raw, c); err != nil {
		return NewAppError("CONFIG_ERROR", "parse "+path, err)
	}
	return nil
}

func (c *Config) overlayEnv() {
	d := &c.Database
	d.Driver = getEnv("DB_DRIVER", d.Driver)
	d.DSN = getEnv("DB_URL", d.DSN)
	d.MaxConns = getEnvAsInt32("DB_MAX_CONNS", d.MaxConns)
	d.MinConns = getEnvAsInt32("DB_MIN_CONNS", d.MinConns)
	d.MaxConnLifetime = getEnvAsDuration("DB_MAX_CONN_LIFETIME", d.MaxConnLifetime)
	d.MaxConnIdleTime = getEnvAsDuration("DB_MAX_CONN_IDLE_TIME", d.MaxConnIdleTime)
	d.DialTimeout = getEnvAsDuration("DB_DIAL_TIMEOUT", d.DialTimeout)
	d.StatementTimeout = getEnvAsDuration("DB_STATEMENT_TIMEOUT", d.StatementTimeout)

	s := &c.Server
	s.HTTPAddr = getEnv("HTTP_ADDR", s.HTTPAddr)
	s.GRPCAddr = getEnv("GRPC_ADDR", s.GRPCAddr)
	s.ShutdownTimeout = getEnvAsDuration("SHUTDOWN_TIMEOUT", s.ShutdownTimeout)
	s.MaxUploadBytes = getEnvAsInt64("MAX_UPLOAD_BYTES", s.MaxUploadBytes)
	if v := getEnv("CORS_ALLOWED_ORIGINS", ""); v != "" {
		s.AllowedOrigins = splitList(v)
	}

	e := &c.Extract
	e.PdftotextBin = getEnv("PDFTOTEXT_BIN", e.PdftotextBin)
	e.DefaultStrategy = getEnv("EXTRACT_STRATEGY", e.DefaultStrategy)
	e.MaxChars = getEnvAsInt("EXTRACT_MAX_CHARS", e.MaxChars)
	e.Timeout = getEnvAsDuration("EXTRACT_TIMEOUT", e.Timeout)

	l := &c.LLM
	l.Primary = getEnv("LLM_PRIMARY", l.Primary)
	l.Timeout = getEnvAsDuration("LLM_TIMEOUT", l.Timeout)
	l.RequestsPerSecond = getEnvAsFloat64("LLM_RPS", l.RequestsPerSecond)
	l.Burst = getEnvAsInt("LLM_BURST", l.Burst)
	l.OpenAI.APIKey = getEnv("OPENAI_API_KEY", l.OpenAI.APIKey)
	l.OpenAI.Model = getEnv("OPENAI_MODEL", l.OpenAI.Model)
	l.OpenAI.BaseURL = getEnv("OPENAI_BASE_URL", l.OpenAI.BaseURL)
	l.OpenAI.Temperature = getEnvAsFloat32("OPENAI_TEMPERATURE", l.OpenAI.Temperature)
	l.OpenAI.MaxTokens = getEnvAsInt("OPENAI_MAX_TOKENS", l.OpenAI.MaxTokens)
	l.Gemini.APIKey = getEnv("GEMINI_API_KEY", l.Gemini.APIKey)
	l.Gemini.Model = getEnv("GEMINI_MODEL", l.Gemini.Model)
	l.Gemini.BaseURL = getEnv("GEMINI_BASE_URL", l.Gemini.BaseURL)

	c.Keywords.FuzzyThreshold = getEnvAsFloat64("KEYWORD_FUZZY_THRESHOLD", c.Keywords.FuzzyThreshold)

	q := &c.Queue
	q.MinConfidence = getEnvAsFloat64("QUEUE_MIN_CONFIDENCE", q.MinConfidence)
	q.Workers = getEnvAsInt("QUEUE_WORKERS", q.Workers)
	q.Size = getEnvAsInt("QUEUE_SIZE", q.Size)
	q.ClassifyTimeout = getEnvAsDuration("QUEUE_CLASSIFY_TIMEOUT", q.ClassifyTimeout)

	c.Upload.Concurrency = getEnvAsInt("UPLOAD_CONCURRENCY", c.Upload.Concurrency)
	c.Upload.ReservationTTL = getEnvAsDuration("FINGERPRINT_RESERVATION_TTL", c.Upload.ReservationTTL)

	c.Fetch.MaxBytes = getEnvAsInt64("FETCH_MAX_BYTES", c.Fetch.MaxBytes)
	c.Fetch.Timeout = getEnvAsDuration("FETCH_TIMEOUT", c.Fetch.Timeout)
	c.Fetch.UserAgent = getEnv("FETCH_USER_AGENT", c.Fetch.UserAgent)

	x := &c.Export
	x.Bucket = getEnv("EXPORT_BUCKET", x.Bucket)
	x.Prefix = getEnv("EXPORT_PREFIX", x.Prefix)
	x.Endpoint = getEnv("MINIO_ENDPOINT", x.Endpoint)
	x.AccessKey = getEnv("MINIO_ACCESS_KEY", x.AccessKey)
	x.SecretKey = getEnv("MINIO_SECRET_KEY", x.SecretKey)
	x.UseSSL = getEnvAsBool("MINIO_USE_SSL", x.UseSSL)

	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
}

// Helper functions for environment variable parsing
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsInt32(key string, defaultValue int32) int32 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 32); err == nil {
			return int32(intVal)
		}
	}
	return defaultValue
}

func getEnvAsInt64(key string, defaultValue int64) int64 {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.ParseInt(value, 10, 64); err == nil {
			return intVal
		}
	}
	return defaultValue
}

func getEnvAsFloat32(key string, defaultValue float32) float32 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 32); err == nil {
			return float32(floatVal)
		}
	}
	return defaultValue
}

func getEnvAsFloat64(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

func getEnvAsBool(key string, defaultValue bool) bool {
	if value := os.Getenv(key); value != "" {
		if b, err := strconv.ParseBool(value); err == nil {
			return b
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if duration, err := time.ParseDuration(value); err == nil {
			return duration
		}
	}
	return defaultValue
}

func splitList(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

// Validate checks the values every binary needs.
func (c *Config) Validate() error {
	switch c.Database.Driver {
	case "postgres", "sqlite", "mysql":
	default:
		return NewAppError("CONFIG_ERROR", fmt.Sprintf("DB_DRIVER %q is not supported", c.Database.Driver), ErrInvalidInput)
	}
	if c.Database.DSN == "" {
		return NewAppError("CONFIG_ERROR", "DB_URL is required", ErrInvalidInput)
	}
	if c.LLM.OpenAI.APIKey == "" && c.LLM.Gemini.APIKey == "" {
		return NewAppError("CONFIG_ERROR", "one of OPENAI_API_KEY or GEMINI_API_KEY is required", ErrInvalidInput)
	}
	if c.LLM.Timeout <= 0 {
		return NewAppError("CONFIG_ERROR", "LLM_TIMEOUT must be positive", ErrInvalidInput)
	}
	if t := c.Keywords.FuzzyThreshold; t <= 0 || t > 1 {
		return NewAppError("CONFIG_ERROR", "KEYWORD_FUZZY_THRESHOLD must be in (0,1]", ErrInvalidInput)
	}
	if m := c.Queue.MinConfidence; m < 0 || m > 1 {
		return NewAppError("CONFIG_ERROR", "QUEUE_MIN_CONFIDENCE must be in [0,1]", ErrInvalidInput)
	}
	if c.Upload.Concurrency <= 0 {
		return NewAppError("CONFIG_ERROR", "UPLOAD_CONCURRENCY must be positive", ErrInvalidInput)
	}
	return nil
}
