package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func validBase() Config {
	return Config{
		Campaign: CampaignConfig{
			StartDate:        "2020-01-01",
			EndDate:          "2020-03-01",
			WindowSpanDays:   30,
			WindowAttemptCap: 3,
			WindowDelaySec:   5,
		},
		Portal: PortalConfig{Driver: "noop"},
		Captcha: CaptchaConfig{
			Strategies:             []string{"ocr", "manual"},
			ConfidenceThreshold:    0.6,
			MinTextLength:          4,
			MaxAttemptsPerStrategy: 3,
			MaxTotalAttempts:       9,
		},
		Retry:    RetryConfig{MaxAttempts: 3, BaseDelayMs: 100, MaxDelayMs: 1000},
		Progress: ProgressConfig{SnapshotPath: "data/progress.json"},
		Storage:  StorageConfig{Provider: "memory", Prefix: "judgments/", CacheDir: "data/cache"},
		Database: DatabaseConfig{Provider: "noop"},
		Queue:    QueueConfig{Provider: "noop"},
		API:      APIConfig{Enabled: true, Port: 8080},
	}
}

func TestLoadWithFileOverrides(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "config.yaml")
	configYAML := `
campaign:
  start_date: "2020-01-01"
  end_date: "2020-03-01"
  window_span_days: 14
  window_attempt_cap: 5
  window_delay_seconds: 10
court:
  type: supreme
  level: 1
  name: Supreme Court
  jurisdiction: national
portal:
  driver: chromedp
  base_url: https://court.example/judgments
  headless: false
  queries_per_minute: 3
captcha:
  strategies: ["ocr", "gemini", "manual"]
  confidence_threshold: 0.7
  min_text_length: 5
  max_attempts_per_strategy: 3
  max_total_attempts: 10
retry:
  max_attempts: 4
  base_delay_ms: 250
  max_delay_ms: 5000
progress:
  snapshot_path: /var/lib/harvester/progress.json
storage:
  provider: gcs
  gcs_bucket: judgment-archive
  prefix: supreme/
database:
  provider: postgres
  dsn: postgres://harvester@localhost/judgments
queue:
  provider: pubsub
  project_id: court-project
  topic_name: judgment-records
api:
  port: 9090
logging:
  development: false
`
	if err := os.WriteFile(path, []byte(configYAML), 0o600); err != nil {
		t.Fatalf("failed to write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load() error = %v", err)
	}

	if cfg.Campaign.WindowSpanDays != 14 || cfg.Campaign.WindowAttemptCap != 5 {
		t.Fatalf("expected campaign overrides to apply: %+v", cfg.Campaign)
	}
	if cfg.Portal.Driver != "chromedp" || cfg.Portal.BaseURL != "https://court.example/judgments" {
		t.Fatalf("expected portal overrides to apply: %+v", cfg.Portal)
	}
	if cfg.Portal.Headless {
		t.Fatalf("expected headless override to apply")
	}
	if len(cfg.Captcha.Strategies) != 3 || cfg.Captcha.Strategies[1] != "gemini" {
		t.Fatalf("expected strategy order to be preserved: %v", cfg.Captcha.Strategies)
	}
	if cfg.Storage.Provider != "gcs" || cfg.Storage.GCSBucket != "judgment-archive" {
		t.Fatalf("expected gcs storage config: %+v", cfg.Storage)
	}
	if cfg.Queue.TopicName != "judgment-records" {
		t.Fatalf("expected pubsub topic: %+v", cfg.Queue)
	}
	if got := cfg.WindowDelay(); got != 10*time.Second {
		t.Fatalf("expected window delay 10s, got %v", got)
	}

	info := cfg.CampaignInfo()
	if info.MaxSpanDays != 14 || info.CourtType != "supreme" {
		t.Fatalf("unexpected campaign info: %+v", info)
	}
	if info.GlobalStart.After(info.GlobalEnd) {
		t.Fatalf("campaign dates parsed out of order: %+v", info)
	}
}

func TestConfigValidateErrors(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(*Config)
		want   string
	}{
		{"bad start date", func(c *Config) { c.Campaign.StartDate = "01-01-2020" }, "campaign.start_date"},
		{"missing end date", func(c *Config) { c.Campaign.EndDate = "" }, "campaign.end_date"},
		{"zero span", func(c *Config) { c.Campaign.WindowSpanDays = 0 }, "window_span_days"},
		{"zero window cap", func(c *Config) { c.Campaign.WindowAttemptCap = 0 }, "window_attempt_cap"},
		{"unknown driver", func(c *Config) { c.Portal.Driver = "selenium" }, "portal.driver"},
		{"chromedp without url", func(c *Config) { c.Portal.Driver = "chromedp" }, "portal.base_url"},
		{"no strategies", func(c *Config) { c.Captcha.Strategies = nil }, "captcha.strategies"},
		{"unknown strategy", func(c *Config) { c.Captcha.Strategies = []string{"psychic"} }, "psychic"},
		{"missing threshold", func(c *Config) { c.Captcha.ConfidenceThreshold = 0 }, "confidence_threshold"},
		{"threshold above one", func(c *Config) { c.Captcha.ConfidenceThreshold = 1.5 }, "confidence_threshold"},
		{"missing strategy cap", func(c *Config) { c.Captcha.MaxAttemptsPerStrategy = 0 }, "max_attempts_per_strategy"},
		{"missing total cap", func(c *Config) { c.Captcha.MaxTotalAttempts = 0 }, "max_total_attempts"},
		{"missing retry cap", func(c *Config) { c.Retry.MaxAttempts = 0 }, "retry.max_attempts"},
		{"missing snapshot path", func(c *Config) { c.Progress.SnapshotPath = "" }, "snapshot_path"},
		{"gcs without bucket", func(c *Config) { c.Storage.Provider = "gcs" }, "gcs_bucket"},
		{"postgres without dsn", func(c *Config) { c.Database.Provider = "postgres" }, "database.dsn"},
		{"pubsub without topic", func(c *Config) { c.Queue.Provider = "pubsub"; c.Queue.ProjectID = "p" }, "topic_name"},
		{"api without port", func(c *Config) { c.API.Port = 0 }, "api.port"},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			cfg := validBase()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Fatalf("expected error containing %q, got %v", tt.want, err)
			}
		})
	}
}

func TestValidBaseValidates(t *testing.T) {
	t.Parallel()
	cfg := validBase()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}
}
