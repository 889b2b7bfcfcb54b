package config

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/caarlos0/env/v11"

	"github.com/thenasky/mail-delivery/modules/email/models"
)

// Store drivers
const (
	DriverMemory   = "memory"
	DriverMongo    = "mongo"
	DriverPostgres = "postgres"
	DriverSQLite   = "sqlite"
	DriverRedis    = "redis"
)

// Config holds all application configuration
type Config struct {
	Port            string        `env:"PORT" envDefault:"8080"`
	Environment     string        `env:"ENVIRONMENT" envDefault:"local"`
	ReadTimeout     time.Duration `env:"SERVER_READ_TIMEOUT" envDefault:"15s"`
	WriteTimeout    time.Duration `env:"SERVER_WRITE_TIMEOUT" envDefault:"15s"`
	IdleTimeout     time.Duration `env:"SERVER_IDLE_TIMEOUT" envDefault:"60s"`
	ShutdownTimeout time.Duration `env:"SHUTDOWN_TIMEOUT" envDefault:"30s"`

	Log      LogConfig
	Store    StoreConfig
	Delivery DeliveryConfig

	Mailgun     ProviderEnv `envPrefix:"MAILGUN_"`
	SMTP        ProviderEnv `envPrefix:"SMTP_"`
	LogProvider ProviderEnv `envPrefix:"LOG_PROVIDER_"`
}

// LogConfig controls the process logger and the request logger
type LogConfig struct {
	Level      string `env:"LOG_LEVEL" envDefault:"info"`
	Format     string `env:"LOG_FORMAT" envDefault:"console"`
	DateFormat string `env:"LOG_DATE_FORMAT" envDefault:"time"`

	Route    bool `env:"LOG_ROUTE" envDefault:"true"`
	Queries  bool `env:"LOG_QUERIES" envDefault:"false"`
	Headers  bool `env:"LOG_HEADERS" envDefault:"false"`
	Body     bool `env:"LOG_BODY" envDefault:"false"`
	Response bool `env:"LOG_RESPONSE" envDefault:"false"`
}

// StoreConfig selects where scheduled emails are mirrored
type StoreConfig struct {
	Driver string `env:"STORE_DRIVER" envDefault:"memory"`

	MongoURI        string `env:"MONGODB_URI"`
	MongoDatabase   string `env:"MONGODB_DATABASE" envDefault:"go_db"`
	MongoCollection string `env:"MONGODB_COLLECTION" envDefault:"scheduled_emails"`

	PostgresDSN string `env:"POSTGRES_DSN"`
	SQLitePath  string `env:"SQLITE_PATH" envDefault:"mail.db"`

	RedisURL       string `env:"REDIS_URL" envDefault:"redis://localhost:6379/0"`
	RedisNamespace string `env:"REDIS_NAMESPACE" envDefault:"mail:"`
}

// DeliveryConfig tunes the delivery manager
type DeliveryConfig struct {
	SkipWaitThreshold time.Duration `env:"EMAIL_SKIP_WAIT_THRESHOLD" envDefault:"5s"`
	CleanupSchedule   string        `env:"EMAIL_CLEANUP_SCHEDULE" envDefault:"@every 1h"`
	CleanupAfter      time.Duration `env:"EMAIL_CLEANUP_AFTER" envDefault:"24h"`
}

// ProviderEnv is one provider block. The same fields are read under each prefix.
type ProviderEnv struct {
	// Enabled defaults to true when the provider's credentials are present
	Enabled  *bool  `env:"ENABLED"`
	Name     string `env:"NAME"`
	Priority int    `env:"PRIORITY"`

	RateAlgorithm string        `env:"RATE_LIMIT_ALGORITHM" envDefault:"token_bucket"`
	RateRPS       float64       `env:"RATE_LIMIT_RPS" envDefault:"10"`
	RateBurst     int           `env:"RATE_LIMIT_BURST"`
	RateWindow    time.Duration `env:"RATE_LIMIT_WINDOW" envDefault:"1s"`
	MaxRateWait   time.Duration `env:"MAX_RATE_WAIT" envDefault:"5s"`

	MaxRetries         int           `env:"RETRY_MAX" envDefault:"3"`
	InitialDelay       time.Duration `env:"RETRY_INITIAL_DELAY" envDefault:"1s"`
	MaxDelay           time.Duration `env:"RETRY_MAX_DELAY" envDefault:"30s"`
	Multiplier         float64       `env:"RETRY_MULTIPLIER" envDefault:"2"`
	ExhaustionInterval time.Duration `env:"RETRY_EXHAUSTION_INTERVAL"`

	APIKey   string `env:"API_KEY"`
	Domain   string `env:"DOMAIN"`
	APIBase  string `env:"API_BASE"`
	Host     string `env:"HOST"`
	Port     int    `env:"PORT"`
	Username string `env:"USERNAME"`
	Password string `env:"PASSWORD"`
}

// NewConfig parses the environment into a Config. Callers load .env first.
func NewConfig(log *slog.Logger) (*Config, error) {
	cfg := &Config{}
	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	log.Info("configuration loaded",
		slog.String("environment", cfg.Environment),
		slog.String("port", cfg.Port),
		slog.String("store", cfg.Store.Driver),
		slog.Int("providers", len(cfg.ProviderConfigs())),
	)
	return cfg, nil
}

// Validate checks settings env.Parse cannot
func (c *Config) Validate() error {
	c.Store.Driver = strings.ToLower(c.Store.Driver)
	switch c.Store.Driver {
	case DriverMemory, DriverRedis, DriverSQLite:
	case DriverMongo:
		if c.Store.MongoURI == "" {
			return errors.New("MONGODB_URI is required when STORE_DRIVER=mongo")
		}
	case DriverPostgres:
		if c.Store.PostgresDSN == "" {
			return errors.New("POSTGRES_DSN is required when STORE_DRIVER=postgres")
		}
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}
	return nil
}

// ProviderConfigs returns the provider blocks that are configured, in declaration order
func (c *Config) ProviderConfigs() []models.ProviderConfig {
	var out []models.ProviderConfig
	if c.Mailgun.Domain != "" && c.Mailgun.APIKey != "" {
		out = append(out, c.Mailgun.toProviderConfig("mailgun", models.KindMailgun, 1, true))
	}
	if c.SMTP.Host != "" {
		out = append(out, c.SMTP.toProviderConfig("smtp", models.KindSMTP, 2, true))
	}
	if c.LogProvider.Enabled != nil && *c.LogProvider.Enabled {
		out = append(out, c.LogProvider.toProviderConfig("log", models.KindLog, 100, true))
	}
	return out
}

func (p ProviderEnv) toProviderConfig(id, kind string, defaultPriority int, defaultEnabled bool) models.ProviderConfig {
	enabled := defaultEnabled
	if p.Enabled != nil {
		enabled = *p.Enabled
	}
	priority := p.Priority
	if priority == 0 {
		priority = defaultPriority
	}
	name := p.Name
	if name == "" {
		name = id
	}
	return models.ProviderConfig{
		ID:       id,
		Kind:     kind,
		Name:     name,
		Priority: priority,
		Enabled:  enabled,
		RateLimit: models.RateLimitConfig{
			Algorithm:         p.RateAlgorithm,
			RequestsPerSecond: p.RateRPS,
			BurstSize:         p.RateBurst,
			Window:            p.RateWindow,
		},
		Retry: models.RetryPolicy{
			MaxRetries:         p.MaxRetries,
			InitialDelay:       p.InitialDelay,
			MaxDelay:           p.MaxDelay,
			BackoffMultiplier:  p.Multiplier,
			ExhaustionInterval: p.ExhaustionInterval,
		},
		Credentials: models.ProviderCredentials{
			APIKey:   p.APIKey,
			Domain:   p.Domain,
			APIBase:  p.APIBase,
			Host:     p.Host,
			Port:     p.Port,
			Username: p.Username,
			Password: p.Password,
		},
		MaxRateWait: p.MaxRateWait,
	}
}
