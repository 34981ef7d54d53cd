package config

import (
	"context"
	"fmt"
	"time"

	"github.com/sethvargo/go-envconfig"
)

// Config holds runtime configuration for the dispatch API service.
type Config struct {
	Addr           string   `env:"ADDR,default=:8080"`
	LogLevel       string   `env:"LOG_LEVEL,default=info"`
	LogFormat      string   `env:"LOG_FORMAT,default=json"`
	AllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS"`
	RateLimit      int      `env:"RATE_LIMIT_PER_MINUTE,default=600"`
	Timezone       string   `env:"TIMEZONE,default=Local"`

	// DBDSN selects Postgres; empty keeps everything in memory.
	DBDSN string `env:"DB_DSN"`
	// NATSURL routes notices through the bus and the relay.
	NATSURL string `env:"NATS_URL"`

	MonitorInterval     time.Duration `env:"MONITOR_INTERVAL,default=30s"`
	InactivityThreshold time.Duration `env:"INACTIVITY_THRESHOLD,default=15m"`
	HeartbeatInterval   time.Duration `env:"HEARTBEAT_INTERVAL,default=30s"`
	AutoAssign          bool          `env:"AUTO_ASSIGN,default=false"`
	ReportCron          string        `env:"REPORT_CRON,default=0 19 * * *"`

	RulesYAML string `env:"RULES_YAML"`
	RulesXLSX string `env:"RULES_XLSX"`
	CorpusCSV string `env:"CORPUS_CSV"`

	ArchiveBucket   string        `env:"S3_BUCKET"`
	ArchivePrefix   string        `env:"S3_PREFIX"`
	ReportBucket    string        `env:"S3_REPORT_BUCKET"`
	LinkTTL         time.Duration `env:"LINK_TTL,default=4h"`
	ArchiveCacheTTL time.Duration `env:"ARCHIVE_CACHE_TTL,default=5m"`

	TelegramToken  string `env:"TELEGRAM_BOT_TOKEN"`
	LeadChatID     string `env:"TEAM_LEAD_CHAT_ID"`
	WebhookSecret  string `env:"TELEGRAM_WEBHOOK_SECRET"`
	PublicBaseURL  string `env:"PUBLIC_BASE_URL"`
	MondayToken    string `env:"MONDAY_TOKEN"`
	MondayBoardID  string `env:"MONDAY_BOARD_ID"`
	MondayEndpoint string `env:"MONDAY_API_URL"`
	OTLPEndpoint   string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// Load returns a Config populated from environment variables.
func Load(ctx context.Context) (Config, error) {
	var cfg Config
	if err := envconfig.Process(ctx, &cfg); err != nil {
		return Config{}, err
	}
	if cfg.MonitorInterval <= 0 || cfg.InactivityThreshold <= 0 || cfg.HeartbeatInterval <= 0 {
		return Config{}, fmt.Errorf("MONITOR_INTERVAL, INACTIVITY_THRESHOLD and HEARTBEAT_INTERVAL must be positive")
	}
	return cfg, nil
}

// Location resolves Timezone.
func (c Config) Location() (*time.Location, error) {
	if c.Timezone == "" || c.Timezone == "Local" {
		return time.Local, nil
	}
	return time.LoadLocation(c.Timezone)
}
