package config

import (
	"bytes"
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	for _, k := range []string{"HTTP_ADDR", "REDIS_URL", "NATS_URL", "JOB_TTL", "WORKERS", "EXTRACT_RPS", "LOG_LEVEL", "LLM_PROVIDER"} {
		t.Setenv(k, "")
	}

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}

	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected HTTP addr: %s", cfg.HTTPAddr)
	}
	if cfg.RedisURL != "" || cfg.NATSURL != "" {
		t.Fatalf("expected optional backends to be disabled, got redis=%q nats=%q", cfg.RedisURL, cfg.NATSURL)
	}
	if cfg.ProgressSubject != "ingest.jobs.progress" || cfg.SubmitSubject != "ingest.jobs.submit" {
		t.Fatalf("unexpected subjects: %s %s", cfg.ProgressSubject, cfg.SubmitSubject)
	}
	if cfg.JobTTL != 24*time.Hour || cfg.LeaseTTL != 10*time.Minute || cfg.FileTimeout != 2*time.Minute {
		t.Fatalf("unexpected durations: ttl=%s lease=%s file=%s", cfg.JobTTL, cfg.LeaseTTL, cfg.FileTimeout)
	}
	if cfg.Workers != 4 || cfg.ImageMaxDim != 2048 {
		t.Fatalf("unexpected sizes: workers=%d maxdim=%d", cfg.Workers, cfg.ImageMaxDim)
	}
	if cfg.ExtractRPS != 2 || cfg.ExtractBurst != 1 {
		t.Fatalf("unexpected rate limit: %g/%d", cfg.ExtractRPS, cfg.ExtractBurst)
	}
	if cfg.LLMProvider != "ollama" || cfg.LLMModel != "llava" {
		t.Fatalf("unexpected model: %s/%s", cfg.LLMProvider, cfg.LLMModel)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("WORKERS", "8")
	t.Setenv("JOB_TTL", "30m")
	t.Setenv("LLM_PROVIDER", "OpenAI")
	t.Setenv("EXTRACT_RPS", "0.5")
	t.Setenv("LOG_LEVEL", "debug")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if cfg.Workers != 8 || cfg.JobTTL != 30*time.Minute {
		t.Fatalf("overrides not applied: workers=%d ttl=%s", cfg.Workers, cfg.JobTTL)
	}
	if cfg.LLMProvider != "openai" {
		t.Fatalf("provider should be lower-cased, got %s", cfg.LLMProvider)
	}
	if cfg.ExtractRPS != 0.5 {
		t.Fatalf("unexpected rps: %g", cfg.ExtractRPS)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Fatalf("unexpected log level: %s", cfg.LogLevel)
	}
}

func TestLoadInvalid(t *testing.T) {
	tests := []struct {
		key, value string
	}{
		{"WORKERS", "not-a-number"},
		{"WORKERS", "0"},
		{"JOB_TTL", "tomorrow"},
		{"FILE_TIMEOUT", "-1s"},
		{"EXTRACT_RPS", "0"},
		{"IMAGE_MAX_DIM", "-5"},
		{"LOG_LEVEL", "chatty"},
	}
	for _, tt := range tests {
		t.Run(tt.key+"="+tt.value, func(t *testing.T) {
			t.Setenv(tt.key, tt.value)
			_, err := Load()
			if err == nil {
				t.Fatalf("expected error for %s=%q", tt.key, tt.value)
			}
			if !strings.Contains(err.Error(), tt.key) {
				t.Fatalf("error should name %s: %v", tt.key, err)
			}
		})
	}
}

func TestUnsharedSpool(t *testing.T) {
	tests := []struct {
		name   string
		cfg    Config
		expect bool
	}{
		{"memory", Config{}, false},
		{"redis local spool", Config{RedisURL: "redis://localhost:6379"}, true},
		{"redis shared spool", Config{RedisURL: "redis://localhost:6379", SpoolShared: true}, false},
	}
	for _, tt := range tests {
		if got := tt.cfg.UnsharedSpool(); got != tt.expect {
			t.Errorf("%s: UnsharedSpool() = %v, want %v", tt.name, got, tt.expect)
		}
	}
}

func TestLoadSpoolShared(t *testing.T) {
	t.Setenv("REDIS_URL", "redis://localhost:6379")
	t.Setenv("SPOOL_SHARED", "true")
	t.Setenv("SUBCATEGORIES_FILE", "/etc/ingest/subcategories.json")

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load returned error: %v", err)
	}
	if !cfg.SpoolShared || cfg.UnsharedSpool() {
		t.Fatalf("expected shared spool, got %+v", cfg.SpoolShared)
	}
	if cfg.SubCategoriesFile != "/etc/ingest/subcategories.json" {
		t.Fatalf("unexpected sub-categories file: %s", cfg.SubCategoriesFile)
	}
}

func TestGetenvBool(t *testing.T) {
	t.Setenv("FLAG_ON", "true")
	t.Setenv("FLAG_OFF", "yes")
	if !getenvBool("FLAG_ON", false) {
		t.Fatal("expected true")
	}
	if getenvBool("FLAG_OFF", true) {
		t.Fatal("only the literal \"true\" enables a flag")
	}
	if !getenvBool("FLAG_UNSET_FOR_TEST", true) {
		t.Fatal("expected default")
	}
}

func TestSetupLoggerWritesJSONFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "ingest.log")
	logger, cleanup := SetupLogger(path, slog.LevelInfo)
	logger.Info("job submitted", "job_id", "j1")
	logger.Debug("hidden")
	if err := cleanup(); err != nil {
		t.Fatalf("cleanup: %v", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read log file: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 1 {
		t.Fatalf("expected one line, got %d: %s", len(lines), data)
	}
	var entry map[string]any
	if err := json.Unmarshal([]byte(lines[0]), &entry); err != nil {
		t.Fatalf("log line is not JSON: %v", err)
	}
	if entry["msg"] != "job submitted" || entry["job_id"] != "j1" {
		t.Fatalf("unexpected entry: %v", entry)
	}
}

func TestNewLoggerFansOut(t *testing.T) {
	var text, js bytes.Buffer
	NewLogger(&text, &js, slog.LevelInfo).Warn("lease lost", "job_id", "j2")

	if !strings.Contains(text.String(), "lease lost") || !strings.Contains(text.String(), "job_id=j2") {
		t.Fatalf("text output missing entry: %q", text.String())
	}
	if !strings.Contains(js.String(), `"job_id":"j2"`) {
		t.Fatalf("json output missing entry: %q", js.String())
	}
}
