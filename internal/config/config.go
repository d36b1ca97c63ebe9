package config

import (
	"errors"
	"fmt"
	"io/fs"
	"strings"
	"time"

	"github.com/spf13/viper"
	"github.com/subosito/gotenv"
)

// Config holds all application configuration
type Config struct {
	Server     ServerConfig     `mapstructure:"server"`
	Database   DatabaseConfig   `mapstructure:"database"`
	Lock       LockConfig       `mapstructure:"lock"`
	Redis      RedisConfig      `mapstructure:"redis"`
	Credential CredentialConfig `mapstructure:"credential"`
	Mail       MailConfig       `mapstructure:"mail"`
	Worker     WorkerConfig     `mapstructure:"worker"`
	Seed       SeedConfig       `mapstructure:"seed"`
	Logger     LoggerConfig     `mapstructure:"logger"`
}

// ServerConfig holds HTTP server configuration
type ServerConfig struct {
	Host            string        `mapstructure:"host"`
	Port            int           `mapstructure:"port"`
	BaseURL         string        `mapstructure:"base_url"`
	ReadTimeout     time.Duration `mapstructure:"read_timeout"`
	WriteTimeout    time.Duration `mapstructure:"write_timeout"`
	ShutdownTimeout time.Duration `mapstructure:"shutdown_timeout"`
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Path            string        `mapstructure:"path"`
	MaxOpenConns    int           `mapstructure:"max_open_conns"`
	MaxIdleConns    int           `mapstructure:"max_idle_conns"`
	ConnMaxLifetime time.Duration `mapstructure:"conn_max_lifetime"`
	BusyTimeout     time.Duration `mapstructure:"busy_timeout"`
}

// LockConfig selects the per-proposal lock backend: memory or redis
type LockConfig struct {
	Backend string        `mapstructure:"backend"`
	TTL     time.Duration `mapstructure:"ttl"`
}

// RedisConfig holds Redis connection settings, used when lock.backend is redis
type RedisConfig struct {
	Addr     string `mapstructure:"addr"`
	Password string `mapstructure:"password"`
	DB       int    `mapstructure:"db"`
}

// CredentialConfig holds approval link signing settings
type CredentialConfig struct {
	Secret string        `mapstructure:"secret"`
	TTL    time.Duration `mapstructure:"ttl"`
	Issuer string        `mapstructure:"issuer"`
}

// MailConfig holds outbound email settings
type MailConfig struct {
	Transport     string        `mapstructure:"transport"` // log or smtp
	From          string        `mapstructure:"from"`
	SMTP          SMTPConfig    `mapstructure:"smtp"`
	RatePerSecond float64       `mapstructure:"rate_per_second"`
	Burst         int           `mapstructure:"burst"`
	Attempts      uint          `mapstructure:"attempts"`
	SendTimeout   time.Duration `mapstructure:"send_timeout"`
}

// SMTPConfig holds SMTP relay settings
type SMTPConfig struct {
	Host     string `mapstructure:"host"`
	Port     int    `mapstructure:"port"`
	Username string `mapstructure:"username"`
	Password string `mapstructure:"password"`
}

// WorkerConfig holds outbox delivery worker settings
type WorkerConfig struct {
	PollInterval time.Duration `mapstructure:"poll_interval"`
	BatchSize    int           `mapstructure:"batch_size"`
	MaxAttempts  int           `mapstructure:"max_attempts"`
}

// SeedConfig points at optional startup data
type SeedConfig struct {
	ApprovalGroups string `mapstructure:"approval_groups"`
}

// LoggerConfig holds logger configuration
type LoggerConfig struct {
	Level      string `mapstructure:"level"`
	OutputPath string `mapstructure:"output_path"`
	Format     string `mapstructure:"format"`
}

// Load reads .env (if present), the YAML file at configPath and C2_* environment
// overrides. An empty configPath uses defaults and environment only.
func Load(configPath string) (*Config, error) {
	if err := gotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("failed to load .env: %w", err)
	}

	v := viper.New()
	v.SetEnvPrefix("c2")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if configPath != "" {
		v.SetConfigFile(configPath)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}
	}

	bindEnvVars(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// setDefaults sets default configuration values
func setDefaults(v *viper.Viper) {
	// Server defaults
	v.SetDefault("server.host", "0.0.0.0")
	v.SetDefault("server.port", 8080)
	v.SetDefault("server.base_url", "http://localhost:8080")
	v.SetDefault("server.read_timeout", 30*time.Second)
	v.SetDefault("server.write_timeout", 30*time.Second)
	v.SetDefault("server.shutdown_timeout", 30*time.Second)

	// Database defaults
	v.SetDefault("database.path", "data/c2.db")
	v.SetDefault("database.max_open_conns", 25)
	v.SetDefault("database.max_idle_conns", 5)
	v.SetDefault("database.conn_max_lifetime", 5*time.Minute)
	v.SetDefault("database.busy_timeout", 5*time.Second)

	v.SetDefault("lock.backend", "memory")
	v.SetDefault("lock.ttl", 30*time.Second)
	v.SetDefault("redis.addr", "localhost:6379")

	v.SetDefault("credential.ttl", 7*24*time.Hour)
	v.SetDefault("credential.issuer", "c2")

	// Mail defaults
	v.SetDefault("mail.transport", "log")
	v.SetDefault("mail.from", "c2@localhost")
	v.SetDefault("mail.smtp.port", 587)
	v.SetDefault("mail.rate_per_second", 10)
	v.SetDefault("mail.burst", 5)
	v.SetDefault("mail.attempts", 3)
	v.SetDefault("mail.send_timeout", 10*time.Second)

	v.SetDefault("worker.poll_interval", 5*time.Second)
	v.SetDefault("worker.batch_size", 20)
	v.SetDefault("worker.max_attempts", 5)

	// Logger defaults
	v.SetDefault("logger.level", "info")
	v.SetDefault("logger.output_path", "stdout")
	v.SetDefault("logger.format", "json")
}

// bindEnvVars binds unprefixed names for secrets
func bindEnvVars(v *viper.Viper) {
	_ = v.BindEnv("credential.secret", "C2_CREDENTIAL_SECRET", "CREDENTIAL_SECRET")
	_ = v.BindEnv("mail.smtp.password", "C2_MAIL_SMTP_PASSWORD", "SMTP_PASSWORD")
	_ = v.BindEnv("redis.password", "C2_REDIS_PASSWORD", "REDIS_PASSWORD")
}

// Validate validates the configuration
func (c *Config) Validate() error {
	if c.Credential.Secret == "" {
		return fmt.Errorf("credential.secret is required")
	}
	if len(c.Credential.Secret) < 16 {
		return fmt.Errorf("credential.secret must be at least 16 bytes")
	}
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}

	switch c.Lock.Backend {
	case "memory":
	case "redis":
		if c.Redis.Addr == "" {
			return fmt.Errorf("redis.addr is required for the redis lock backend")
		}
	default:
		return fmt.Errorf("lock.backend must be memory or redis, got %q", c.Lock.Backend)
	}

	switch c.Mail.Transport {
	case "log":
	case "smtp":
		if c.Mail.SMTP.Host == "" {
			return fmt.Errorf("mail.smtp.host is required for the smtp transport")
		}
	default:
		return fmt.Errorf("mail.transport must be log or smtp, got %q", c.Mail.Transport)
	}

	if c.Worker.MaxAttempts < 1 {
		return fmt.Errorf("worker.max_attempts must be positive")
	}
	return nil
}
