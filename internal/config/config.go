// Package config loads Sentinela's runtime configuration from environment
// variables.
package config

import (
	"fmt"

	"github.com/caarlos0/env/v11"
)

// Config holds all application configuration, loaded from environment variables.
type Config struct {
	// Mode selects the runtime mode: bot, worker, migrate, checkup, cpf-sweep,
	// export, integrity-check.
	Mode string `env:"SENTINELA_MODE" envDefault:"bot"`

	// Admin HTTP API
	Host string `env:"SENTINELA_HOST" envDefault:"0.0.0.0"`
	Port int    `env:"SENTINELA_PORT" envDefault:"8080"`

	// Storage
	DatabaseFile  string `env:"DATABASE_FILE" envDefault:"sentinela.db"`
	MigrationsDir string `env:"MIGRATIONS_DIR" envDefault:"migrations"`

	// Redis (cross-process rate-limit pause window + health pub/sub)
	RedisURL string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`

	// Logging
	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`

	// Metrics
	MetricsPath string `env:"METRICS_PATH" envDefault:"/metrics"`

	// Telegram / chat transport (collaborator credentials; presentation
	// adapter lives outside the core, but the composition root needs these
	// to construct it)
	TelegramToken   string `env:"TELEGRAM_TOKEN"`
	TelegramGroupID string `env:"TELEGRAM_GROUP_ID"`
	RulesTopicID    string `env:"RULES_TOPIC_ID"`
	WelcomeTopicID  string `env:"WELCOME_TOPIC_ID"`
	SupportTopicID  string `env:"SUPPORT_TOPIC_ID"`

	// Admin bootstrap
	AdminUserIDs []int64 `env:"ADMIN_USER_IDS" envSeparator:","`

	// Group invites
	InviteLinkExpireSeconds int `env:"INVITE_LINK_EXPIRE_TIME" envDefault:"3600"`
	InviteLinkMemberLimit   int `env:"INVITE_LINK_MEMBER_LIMIT" envDefault:"1"`

	// HubSoft upstream
	HubSoftHost               string  `env:"HUBSOFT_HOST"`
	HubSoftClientID           string  `env:"HUBSOFT_CLIENT_ID"`
	HubSoftClientSecret       string  `env:"HUBSOFT_CLIENT_SECRET"`
	HubSoftUser               string  `env:"HUBSOFT_USER"`
	HubSoftPassword           string  `env:"HUBSOFT_PASSWORD"`
	HubSoftEnabled            bool    `env:"HUBSOFT_ENABLED" envDefault:"true"`
	HubSoftRateLimitPerSecond float64 `env:"HUBSOFT_RATE_LIMIT_PER_SECOND" envDefault:"10"`

	// Integration Engine
	EngineWorkerCount  int `env:"ENGINE_WORKER_COUNT" envDefault:"4"`
	EnginePollInterval int `env:"ENGINE_POLL_INTERVAL_SECONDS" envDefault:"5"`
	EngineBatchSize    int `env:"ENGINE_BATCH_SIZE" envDefault:"20"`

	// CORS (admin API)
	CORSAllowedOrigins []string `env:"CORS_ALLOWED_ORIGINS" envDefault:"*" envSeparator:","`

	// Admin API auth — bearer tokens accepted alongside ADMIN_USER_IDS.
	AdminAPIToken string `env:"ADMIN_API_TOKEN"`
}

// Load reads configuration from environment variables.
func Load() (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parsing config from env: %w", err)
	}
	return cfg, nil
}

// ListenAddr returns the address the admin HTTP server should listen on.
func (c *Config) ListenAddr() string {
	return fmt.Sprintf("%s:%d", c.Host, c.Port)
}
