// Package config loads ingestd settings from the environment.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

type Config struct {
	HTTPAddr string
	RedisURL string

	NATSURL         string
	ProgressSubject string
	SubmitSubject   string
	SubmitQueue     string

	JobTTL        time.Duration
	SweepInterval time.Duration
	LeaseTTL      time.Duration
	FileTimeout   time.Duration
	Workers       int

	SpoolDir string
	// SpoolShared declares SpoolDir a volume every instance mounts. Uploads
	// are staged there, so a Redis queue shared by instances needs it.
	SpoolShared bool

	RecordsDB         string
	SubCategoriesFile string

	LLMProvider     string
	LLMModel        string
	OllamaHost      string
	OpenAIAPIKey    string
	AnthropicAPIKey string
	ExtractRPS      float64
	ExtractBurst    int
	ImageMaxDim     int

	ContentDatabaseURL string

	LogFile  string
	LogLevel slog.Level
}

// Load reads the configuration. Unset variables take their defaults; values
// that are set but malformed are errors.
func Load() (Config, error) {
	cfg := Config{
		HTTPAddr:           getenv("HTTP_ADDR", ":8080"),
		RedisURL:           getenv("REDIS_URL", ""),
		NATSURL:            getenv("NATS_URL", ""),
		ProgressSubject:    getenv("PROGRESS_SUBJECT", "ingest.jobs.progress"),
		SubmitSubject:      getenv("SUBMIT_SUBJECT", "ingest.jobs.submit"),
		SubmitQueue:        getenv("SUBMIT_QUEUE", "ingest-workers"),
		SpoolDir:           getenv("SPOOL_DIR", "./data/spool"),
		SpoolShared:        getenvBool("SPOOL_SHARED", false),
		RecordsDB:          getenv("RECORDS_DB", "./data/records.db"),
		SubCategoriesFile:  getenv("SUBCATEGORIES_FILE", ""),
		LLMProvider:        strings.ToLower(getenv("LLM_PROVIDER", "ollama")),
		LLMModel:           getenv("LLM_MODEL", "llava"),
		OllamaHost:         getenv("OLLAMA_HOST", ""),
		OpenAIAPIKey:       getenv("OPENAI_API_KEY", ""),
		AnthropicAPIKey:    getenv("ANTHROPIC_API_KEY", ""),
		ContentDatabaseURL: getenv("CONTENT_DATABASE_URL", ""),
		LogFile:            getenv("LOG_FILE", ""),
	}

	var err error
	if cfg.JobTTL, err = parsePositiveDuration(getenv("JOB_TTL", "24h"), "JOB_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.SweepInterval, err = parsePositiveDuration(getenv("SWEEP_INTERVAL", "1h"), "SWEEP_INTERVAL"); err != nil {
		return Config{}, err
	}
	if cfg.LeaseTTL, err = parsePositiveDuration(getenv("LEASE_TTL", "10m"), "LEASE_TTL"); err != nil {
		return Config{}, err
	}
	if cfg.FileTimeout, err = parsePositiveDuration(getenv("FILE_TIMEOUT", "2m"), "FILE_TIMEOUT"); err != nil {
		return Config{}, err
	}
	if cfg.Workers, err = parsePositiveInt(getenv("WORKERS", "4"), "WORKERS"); err != nil {
		return Config{}, err
	}
	if cfg.ExtractBurst, err = parsePositiveInt(getenv("EXTRACT_BURST", "1"), "EXTRACT_BURST"); err != nil {
		return Config{}, err
	}
	if cfg.ImageMaxDim, err = parsePositiveInt(getenv("IMAGE_MAX_DIM", "2048"), "IMAGE_MAX_DIM"); err != nil {
		return Config{}, err
	}

	rps, err := strconv.ParseFloat(getenv("EXTRACT_RPS", "2"), 64)
	if err != nil {
		return Config{}, fmt.Errorf("invalid EXTRACT_RPS: %w", err)
	}
	if rps <= 0 {
		return Config{}, fmt.Errorf("EXTRACT_RPS must be greater than zero (got %g)", rps)
	}
	cfg.ExtractRPS = rps

	if err := cfg.LogLevel.UnmarshalText([]byte(getenv("LOG_LEVEL", "INFO"))); err != nil {
		return Config{}, fmt.Errorf("invalid LOG_LEVEL: %w", err)
	}

	return cfg, nil
}

// UnsharedSpool reports a Redis-backed deployment whose spool is not declared
// shared. Another instance may dequeue an upload it cannot read.
func (c Config) UnsharedSpool() bool {
	return c.RedisURL != "" && !c.SpoolShared
}

func getenv(k, d string) string {
	if v := os.Getenv(k); v != "" {
		return v
	}
	return d
}

func getenvBool(key string, defaultValue bool) bool {
	val := getenv(key, "")
	if val == "" {
		return defaultValue
	}
	return val == "true"
}

func parsePositiveInt(value string, name string) (int, error) {
	v, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if v <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %d)", name, v)
	}
	return v, nil
}

func parsePositiveDuration(value string, name string) (time.Duration, error) {
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", name, err)
	}
	if d <= 0 {
		return 0, fmt.Errorf("%s must be greater than zero (got %s)", name, d)
	}
	return d, nil
}
