package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/viper"

	"github.com/segyhp/funds-engine/internal/domain"
)

// Store and idempotency drivers
const (
	DriverPostgres = "postgres"
	DriverRedis    = "redis"
	DriverMemory   = "memory"
)

// Config holds all configuration for our application
type Config struct {
	Server      ServerConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	Idempotency IdempotencyConfig
	Events      EventsConfig
	Scheduler   SchedulerConfig
	Logging     LoggingConfig
	Engine      EngineConfig
	Policy      PolicyConfig
}

type ServerConfig struct {
	Port string
	Host string
	Env  string
}

type DatabaseConfig struct {
	Driver       string
	URL          string
	MaxOpenConns int
	LockTimeout  string
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
}

type IdempotencyConfig struct {
	Driver    string
	LockTTL   string
	ResultTTL string
}

type EventsConfig struct {
	RabbitMQURL string
	Exchange    string
	BufferSize  int
}

type SchedulerConfig struct {
	Cron         string
	Timezone     string
	Workers      int
	RunLockTTL   string
	MaxRetries   int
	RetryBackoff string
}

type LoggingConfig struct {
	Level string
}

type EngineConfig struct {
	LockRetryAttempts int
	LockRetryBackoff  string
}

type PolicyConfig struct {
	GracePeriodDays        int
	LateThresholdDays      int
	EarlyCreditDelta       int
	OnTimeCreditDelta      int
	LatePenalty            int
	MissedPenalty          int
	MaxConsecutiveFailures int
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("SERVER_PORT", "8080")
	v.SetDefault("SERVER_HOST", "0.0.0.0")
	v.SetDefault("ENV", "development")
	v.SetDefault("STORE_DRIVER", DriverPostgres)
	v.SetDefault("DB_MAX_OPEN_CONNS", 25)
	v.SetDefault("DB_LOCK_TIMEOUT", "5s")
	v.SetDefault("REDIS_ADDR", "localhost:6379")
	v.SetDefault("REDIS_DB", 0)
	v.SetDefault("IDEMPOTENCY_DRIVER", DriverRedis)
	v.SetDefault("IDEMPOTENCY_LOCK_TTL", "5m")
	v.SetDefault("IDEMPOTENCY_RESULT_TTL", "24h")
	v.SetDefault("RABBITMQ_EXCHANGE", "payments_events")
	v.SetDefault("EVENT_BUFFER_SIZE", 1024)
	v.SetDefault("SCHEDULER_CRON", "0 5 0 * * *")
	v.SetDefault("SCHEDULER_TIMEZONE", "Asia/Kolkata")
	v.SetDefault("SCHEDULER_WORKERS", 8)
	v.SetDefault("SCHEDULER_RUN_LOCK_TTL", "1h")
	v.SetDefault("SCHEDULER_MAX_RETRIES", 3)
	v.SetDefault("SCHEDULER_RETRY_BACKOFF", "30s")
	v.SetDefault("LOG_LEVEL", "info")
	v.SetDefault("LOCK_RETRY_ATTEMPTS", 3)
	v.SetDefault("LOCK_RETRY_BACKOFF", "50ms")

	policy := domain.DefaultPenaltyPolicy()
	v.SetDefault("GRACE_PERIOD_DAYS", policy.GracePeriodDays)
	v.SetDefault("LATE_THRESHOLD_DAYS", policy.LateThresholdDays)
	v.SetDefault("CREDIT_DELTA_EARLY", policy.EarlyCreditDelta)
	v.SetDefault("CREDIT_DELTA_ON_TIME", policy.OnTimeCreditDelta)
	v.SetDefault("PENALTY_TIER1", policy.LatePenalty)
	v.SetDefault("PENALTY_TIER2", policy.MissedPenalty)
	v.SetDefault("MAX_CONSECUTIVE_FAILURES", policy.MaxConsecutiveFailures)
}

// Load reads configuration from environment variables. An optional .env file
// in the working directory is loaded first; real environment variables win.
func Load() (*Config, error) {
	_ = godotenv.Load()

	v := viper.New()
	setDefaults(v)
	v.AutomaticEnv()

	config := &Config{
		Server: ServerConfig{
			Port: v.GetString("SERVER_PORT"),
			Host: v.GetString("SERVER_HOST"),
			Env:  v.GetString("ENV"),
		},
		Database: DatabaseConfig{
			Driver:       v.GetString("STORE_DRIVER"),
			URL:          v.GetString("DATABASE_URL"),
			MaxOpenConns: v.GetInt("DB_MAX_OPEN_CONNS"),
			LockTimeout:  v.GetString("DB_LOCK_TIMEOUT"),
		},
		Redis: RedisConfig{
			Addr:     v.GetString("REDIS_ADDR"),
			Password: v.GetString("REDIS_PASSWORD"),
			DB:       v.GetInt("REDIS_DB"),
		},
		Idempotency: IdempotencyConfig{
			Driver:    v.GetString("IDEMPOTENCY_DRIVER"),
			LockTTL:   v.GetString("IDEMPOTENCY_LOCK_TTL"),
			ResultTTL: v.GetString("IDEMPOTENCY_RESULT_TTL"),
		},
		Events: EventsConfig{
			RabbitMQURL: v.GetString("RABBITMQ_URL"),
			Exchange:    v.GetString("RABBITMQ_EXCHANGE"),
			BufferSize:  v.GetInt("EVENT_BUFFER_SIZE"),
		},
		Scheduler: SchedulerConfig{
			Cron:         v.GetString("SCHEDULER_CRON"),
			Timezone:     v.GetString("SCHEDULER_TIMEZONE"),
			Workers:      v.GetInt("SCHEDULER_WORKERS"),
			RunLockTTL:   v.GetString("SCHEDULER_RUN_LOCK_TTL"),
			MaxRetries:   v.GetInt("SCHEDULER_MAX_RETRIES"),
			RetryBackoff: v.GetString("SCHEDULER_RETRY_BACKOFF"),
		},
		Logging: LoggingConfig{
			Level: v.GetString("LOG_LEVEL"),
		},
		Engine: EngineConfig{
			LockRetryAttempts: v.GetInt("LOCK_RETRY_ATTEMPTS"),
			LockRetryBackoff:  v.GetString("LOCK_RETRY_BACKOFF"),
		},
		Policy: PolicyConfig{
			GracePeriodDays:        v.GetInt("GRACE_PERIOD_DAYS"),
			LateThresholdDays:      v.GetInt("LATE_THRESHOLD_DAYS"),
			EarlyCreditDelta:       v.GetInt("CREDIT_DELTA_EARLY"),
			OnTimeCreditDelta:      v.GetInt("CREDIT_DELTA_ON_TIME"),
			LatePenalty:            v.GetInt("PENALTY_TIER1"),
			MissedPenalty:          v.GetInt("PENALTY_TIER2"),
			MaxConsecutiveFailures: v.GetInt("MAX_CONSECUTIVE_FAILURES"),
		},
	}

	// Validate configuration
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return config, nil
}

// Validate checks if the configuration is valid
func (c *Config) Validate() error {
	if c.Server.Port == "" {
		return errors.New("SERVER_PORT is required")
	}

	switch c.Database.Driver {
	case DriverPostgres:
		if c.Database.URL == "" {
			return errors.New("DATABASE_URL is required when STORE_DRIVER=postgres")
		}
	case DriverMemory:
	default:
		return fmt.Errorf("STORE_DRIVER must be %s or %s, got %q", DriverPostgres, DriverMemory, c.Database.Driver)
	}

	switch c.Idempotency.Driver {
	case DriverRedis, DriverMemory:
	default:
		return fmt.Errorf("IDEMPOTENCY_DRIVER must be %s or %s, got %q", DriverRedis, DriverMemory, c.Idempotency.Driver)
	}

	durations := map[string]string{
		"DB_LOCK_TIMEOUT":         c.Database.LockTimeout,
		"IDEMPOTENCY_LOCK_TTL":    c.Idempotency.LockTTL,
		"IDEMPOTENCY_RESULT_TTL":  c.Idempotency.ResultTTL,
		"SCHEDULER_RUN_LOCK_TTL":  c.Scheduler.RunLockTTL,
		"SCHEDULER_RETRY_BACKOFF": c.Scheduler.RetryBackoff,
		"LOCK_RETRY_BACKOFF":      c.Engine.LockRetryBackoff,
	}
	for key, value := range durations {
		d, err := time.ParseDuration(value)
		if err != nil {
			return fmt.Errorf("%s must be a valid duration: %w", key, err)
		}
		if d <= 0 {
			return fmt.Errorf("%s must be positive", key)
		}
	}

	if _, err := time.LoadLocation(c.Scheduler.Timezone); err != nil {
		return fmt.Errorf("SCHEDULER_TIMEZONE must be a valid IANA zone: %w", err)
	}

	if c.Scheduler.Workers <= 0 {
		return errors.New("SCHEDULER_WORKERS must be greater than 0")
	}
	if c.Engine.LockRetryAttempts < 0 || c.Scheduler.MaxRetries < 0 {
		return errors.New("retry counts must not be negative")
	}

	p := c.Policy
	if p.GracePeriodDays <= 0 || p.LateThresholdDays <= 0 || p.MaxConsecutiveFailures <= 0 {
		return errors.New("GRACE_PERIOD_DAYS, LATE_THRESHOLD_DAYS and MAX_CONSECUTIVE_FAILURES must be greater than 0")
	}
	if p.LateThresholdDays <= p.GracePeriodDays {
		return fmt.Errorf("LATE_THRESHOLD_DAYS (%d) must be greater than GRACE_PERIOD_DAYS (%d)", p.LateThresholdDays, p.GracePeriodDays)
	}
	if p.EarlyCreditDelta < 0 || p.OnTimeCreditDelta < 0 || p.LatePenalty < 0 || p.MissedPenalty < 0 {
		return errors.New("credit deltas and penalties are magnitudes and must not be negative")
	}

	return nil
}

// IsDevelopment returns true if running in development environment
func (c *Config) IsDevelopment() bool {
	return c.Server.Env == "development" || c.Server.Env == "dev"
}

// IsProduction returns true if running in production environment
func (c *Config) IsProduction() bool {
	return c.Server.Env == "production" || c.Server.Env == "prod"
}

// PenaltyPolicy returns the configured thresholds and credit deltas
func (c *Config) PenaltyPolicy() domain.PenaltyPolicy {
	return domain.PenaltyPolicy{
		GracePeriodDays:        c.Policy.GracePeriodDays,
		LateThresholdDays:      c.Policy.LateThresholdDays,
		EarlyCreditDelta:       c.Policy.EarlyCreditDelta,
		OnTimeCreditDelta:      c.Policy.OnTimeCreditDelta,
		LatePenalty:            c.Policy.LatePenalty,
		MissedPenalty:          c.Policy.MissedPenalty,
		MaxConsecutiveFailures: c.Policy.MaxConsecutiveFailures,
	}
}

// GetLocation returns the scheduler time zone
func (c *Config) GetLocation() *time.Location {
	loc, err := time.LoadLocation(c.Scheduler.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func mustDuration(s string) time.Duration {
	d, _ := time.ParseDuration(s)
	return d
}

// GetDBLockTimeout returns the row lock wait timeout
func (c *Config) GetDBLockTimeout() time.Duration { return mustDuration(c.Database.LockTimeout) }

// GetLockTTL returns the idempotency lock TTL
func (c *Config) GetLockTTL() time.Duration { return mustDuration(c.Idempotency.LockTTL) }

// GetResultTTL returns the idempotency result TTL
func (c *Config) GetResultTTL() time.Duration { return mustDuration(c.Idempotency.ResultTTL) }

// GetRunLockTTL returns the daily cycle lock TTL
func (c *Config) GetRunLockTTL() time.Duration { return mustDuration(c.Scheduler.RunLockTTL) }

// GetRetryBackoff returns the initial backoff between daily cycle attempts
func (c *Config) GetRetryBackoff() time.Duration { return mustDuration(c.Scheduler.RetryBackoff) }

// GetLockRetryBackoff returns the initial backoff between account lock attempts
func (c *Config) GetLockRetryBackoff() time.Duration { return mustDuration(c.Engine.LockRetryBackoff) }
