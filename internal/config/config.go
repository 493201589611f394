// Package config loads and validates harvester configuration via Viper.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/courtdata/judgment-harvester/internal/harvest"
)

// Config captures all harvester configuration knobs loaded via Viper.
type Config struct {
	Campaign CampaignConfig `mapstructure:"campaign"`
	Court    CourtConfig    `mapstructure:"court"`
	Portal   PortalConfig   `mapstructure:"portal"`
	Captcha  CaptchaConfig  `mapstructure:"captcha"`
	Retry    RetryConfig    `mapstructure:"retry"`
	Progress ProgressConfig `mapstructure:"progress"`
	Storage  StorageConfig  `mapstructure:"storage"`
	Database DatabaseConfig `mapstructure:"database"`
	Queue    QueueConfig    `mapstructure:"queue"`
	API      APIConfig      `mapstructure:"api"`
	Logging  LoggingConfig  `mapstructure:"logging"`
}

// CampaignConfig pins the date range and window geometry of the harvest.
type CampaignConfig struct {
	StartDate        string `mapstructure:"start_date"`
	EndDate          string `mapstructure:"end_date"`
	WindowSpanDays   int    `mapstructure:"window_span_days"`
	WindowAttemptCap int    `mapstructure:"window_attempt_cap"`
	WindowDelaySec   int    `mapstructure:"window_delay_seconds"`
}

// CourtConfig identifies the judicial source stamped into every record.
type CourtConfig struct {
	Type         string `mapstructure:"type"`
	Level        int    `mapstructure:"level"`
	Name         string `mapstructure:"name"`
	Jurisdiction string `mapstructure:"jurisdiction"`
}

// PortalConfig governs the browser session and document downloads.
type PortalConfig struct {
	Driver           string  `mapstructure:"driver"` // chromedp | noop
	BaseURL          string  `mapstructure:"base_url"`
	UserAgent        string  `mapstructure:"user_agent"`
	Headless         bool    `mapstructure:"headless"`
	NavTimeoutSec    int     `mapstructure:"nav_timeout_seconds"`
	SubmitTimeoutSec int     `mapstructure:"submit_timeout_seconds"`
	DownloadTimeout  int     `mapstructure:"download_timeout_seconds"`
	QueriesPerMinute float64 `mapstructure:"queries_per_minute"`
	MaxResultPages   int     `mapstructure:"max_result_pages"`
	MaxDocumentMB    int     `mapstructure:"max_document_mb"`
}

// CaptchaConfig configures the gate-solving chain. Threshold and caps are
// required: there are no safe defaults for spending attempts against a
// rate-limited portal.
type CaptchaConfig struct {
	Strategies             []string `mapstructure:"strategies"` // ordered: ocr, gemini, manual
	ConfidenceThreshold    float64  `mapstructure:"confidence_threshold"`
	MinTextLength          int      `mapstructure:"min_text_length"`
	MaxAttemptsPerStrategy int      `mapstructure:"max_attempts_per_strategy"`
	MaxTotalAttempts       int      `mapstructure:"max_total_attempts"`
	DecodeTimeoutSec       int      `mapstructure:"decode_timeout_seconds"`

	TesseractBinary    string `mapstructure:"tesseract_binary"`
	TesseractWhitelist string `mapstructure:"tesseract_whitelist"`

	GeminiProjectID string `mapstructure:"gemini_project_id"`
	GeminiLocation  string `mapstructure:"gemini_location"`
	GeminiModel     string `mapstructure:"gemini_model"`

	ManualSpoolDir string `mapstructure:"manual_spool_dir"`
}

// RetryConfig governs per-stage retries. The attempt cap is required.
type RetryConfig struct {
	MaxAttempts int `mapstructure:"max_attempts"`
	BaseDelayMs int `mapstructure:"base_delay_ms"`
	MaxDelayMs  int `mapstructure:"max_delay_ms"`
}

// ProgressConfig locates the durable snapshot.
type ProgressConfig struct {
	SnapshotPath string `mapstructure:"snapshot_path"`
}

// StorageConfig selects and parameterizes the object store and the local
// document cache.
type StorageConfig struct {
	Provider     string `mapstructure:"provider"` // gcs | memory
	GCSBucket    string `mapstructure:"gcs_bucket"`
	Prefix       string `mapstructure:"prefix"`
	CacheDir     string `mapstructure:"cache_dir"`
	RemoveCached bool   `mapstructure:"remove_cached"`
}

// DatabaseConfig controls access to the metadata database.
type DatabaseConfig struct {
	Provider       string `mapstructure:"provider"` // postgres | noop
	DSN            string `mapstructure:"dsn"`
	JudgmentsTable string `mapstructure:"judgments_table"`
	RunsTable      string `mapstructure:"runs_table"`
	MaxConns       int    `mapstructure:"max_conns"`
	MinConns       int    `mapstructure:"min_conns"`
	ConnLifetime   int    `mapstructure:"conn_lifetime_seconds"`
}

// QueueConfig holds metadata for record notifications.
type QueueConfig struct {
	Provider  string `mapstructure:"provider"` // pubsub | memory | noop
	ProjectID string `mapstructure:"project_id"`
	TopicName string `mapstructure:"topic_name"`
}

// APIConfig controls the status HTTP server.
type APIConfig struct {
	Enabled bool `mapstructure:"enabled"`
	Port    int  `mapstructure:"port"`
}

// LoggingConfig toggles zap development features.
type LoggingConfig struct {
	Development bool `mapstructure:"development"`
}

// Load builds a Config from disk/environment.
func Load(path string) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix("HARVESTER")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}

	return cfg, nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("campaign.window_span_days", 30)
	v.SetDefault("campaign.window_attempt_cap", 3)
	v.SetDefault("campaign.window_delay_seconds", 5)
	v.SetDefault("court.type", "supreme")
	v.SetDefault("court.level", 1)
	v.SetDefault("portal.driver", "chromedp")
	v.SetDefault("portal.user_agent", "judgment-harvester/1.0")
	v.SetDefault("portal.headless", true)
	v.SetDefault("portal.nav_timeout_seconds", 30)
	v.SetDefault("portal.submit_timeout_seconds", 30)
	v.SetDefault("portal.download_timeout_seconds", 60)
	v.SetDefault("portal.queries_per_minute", 6)
	v.SetDefault("portal.max_result_pages", 50)
	v.SetDefault("portal.max_document_mb", 50)
	v.SetDefault("captcha.strategies", []string{"ocr", "manual"})
	v.SetDefault("captcha.decode_timeout_seconds", 30)
	v.SetDefault("captcha.tesseract_binary", "tesseract")
	v.SetDefault("captcha.manual_spool_dir", "data/captcha")
	v.SetDefault("retry.base_delay_ms", 500)
	v.SetDefault("retry.max_delay_ms", 30000)
	v.SetDefault("progress.snapshot_path", "data/progress.json")
	v.SetDefault("storage.provider", "memory")
	v.SetDefault("storage.prefix", "judgments/")
	v.SetDefault("storage.cache_dir", "data/cache")
	v.SetDefault("database.provider", "noop")
	v.SetDefault("database.judgments_table", "judgments")
	v.SetDefault("database.runs_table", "harvest_runs")
	v.SetDefault("database.max_conns", 4)
	v.SetDefault("database.min_conns", 1)
	v.SetDefault("database.conn_lifetime_seconds", 1800)
	v.SetDefault("queue.provider", "noop")
	v.SetDefault("api.enabled", true)
	v.SetDefault("api.port", 8080)
	v.SetDefault("logging.development", true)
}

// Validate enforces required values and reasonable limits. The CAPTCHA
// threshold and attempt caps and the stage retry cap have no defaults and
// must be configured explicitly.
func (c Config) Validate() error {
	if _, err := time.Parse(harvest.DateLayout, c.Campaign.StartDate); err != nil {
		return fmt.Errorf("campaign.start_date must be %s: %w", harvest.DateLayout, err)
	}
	if _, err := time.Parse(harvest.DateLayout, c.Campaign.EndDate); err != nil {
		return fmt.Errorf("campaign.end_date must be %s: %w", harvest.DateLayout, err)
	}
	if c.Campaign.WindowSpanDays < 1 {
		return fmt.Errorf("campaign.window_span_days must be >= 1")
	}
	if c.Campaign.WindowAttemptCap < 1 {
		return fmt.Errorf("campaign.window_attempt_cap must be >= 1")
	}
	switch c.Portal.Driver {
	case "chromedp", "noop":
	default:
		return fmt.Errorf("portal.driver must be chromedp or noop, got %q", c.Portal.Driver)
	}
	if c.Portal.Driver == "chromedp" && c.Portal.BaseURL == "" {
		return fmt.Errorf("portal.base_url is required")
	}
	if len(c.Captcha.Strategies) == 0 {
		return fmt.Errorf("captcha.strategies must list at least one strategy")
	}
	for _, s := range c.Captcha.Strategies {
		switch s {
		case "ocr", "gemini", "manual":
		default:
			return fmt.Errorf("unknown captcha strategy %q", s)
		}
	}
	if c.Captcha.ConfidenceThreshold <= 0 || c.Captcha.ConfidenceThreshold > 1 {
		return fmt.Errorf("captcha.confidence_threshold must be in (0, 1]")
	}
	if c.Captcha.MinTextLength < 1 {
		return fmt.Errorf("captcha.min_text_length must be >= 1")
	}
	if c.Captcha.MaxAttemptsPerStrategy < 1 {
		return fmt.Errorf("captcha.max_attempts_per_strategy must be >= 1")
	}
	if c.Captcha.MaxTotalAttempts < 1 {
		return fmt.Errorf("captcha.max_total_attempts must be >= 1")
	}
	if c.Retry.MaxAttempts < 1 {
		return fmt.Errorf("retry.max_attempts must be >= 1")
	}
	if c.Progress.SnapshotPath == "" {
		return fmt.Errorf("progress.snapshot_path is required")
	}
	switch c.Storage.Provider {
	case "gcs":
		if c.Storage.GCSBucket == "" {
			return fmt.Errorf("storage.gcs_bucket is required for the gcs provider")
		}
	case "memory":
	default:
		return fmt.Errorf("storage.provider must be gcs or memory, got %q", c.Storage.Provider)
	}
	switch c.Database.Provider {
	case "postgres":
		if c.Database.DSN == "" {
			return fmt.Errorf("database.dsn is required for the postgres provider")
		}
	case "noop":
	default:
		return fmt.Errorf("database.provider must be postgres or noop, got %q", c.Database.Provider)
	}
	switch c.Queue.Provider {
	case "pubsub":
		if c.Queue.ProjectID == "" || c.Queue.TopicName == "" {
			return fmt.Errorf("queue.project_id and queue.topic_name are required for the pubsub provider")
		}
	case "memory", "noop":
	default:
		return fmt.Errorf("queue.provider must be pubsub, memory, or noop, got %q", c.Queue.Provider)
	}
	if c.API.Enabled && c.API.Port <= 0 {
		return fmt.Errorf("api.port must be > 0")
	}
	return nil
}

// CampaignInfo converts the campaign block into the planner's form. Call
// only after Validate.
func (c Config) CampaignInfo() harvest.CampaignInfo {
	start, _ := time.Parse(harvest.DateLayout, c.Campaign.StartDate)
	end, _ := time.Parse(harvest.DateLayout, c.Campaign.EndDate)
	return harvest.CampaignInfo{
		GlobalStart: start,
		GlobalEnd:   end,
		MaxSpanDays: c.Campaign.WindowSpanDays,
		CourtType:   c.Court.Type,
	}
}

// WindowDelay returns the politeness pause between window queries.
func (c Config) WindowDelay() time.Duration {
	return time.Duration(c.Campaign.WindowDelaySec) * time.Second
}
