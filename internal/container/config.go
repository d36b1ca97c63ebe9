// Package container wires the approval workflow's components and owns their lifecycle.
package container

import (
	"fmt"
	"time"

	"github.com/mobomo/C2/internal/domain/entity"
)

// Config holds all configuration for the Container.
type Config struct {
	Database   DatabaseConfig
	Lock       LockConfig
	Credential CredentialConfig
	Mail       MailConfig
	Worker     WorkerConfig

	// ApprovalGroupsFile is an optional YAML seed applied at startup
	ApprovalGroupsFile string
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	// Path to SQLite database file, or :memory:
	Path string

	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
	BusyTimeout     time.Duration
}

// LockConfig selects the proposal lock backend.
type LockConfig struct {
	// Backend is memory or redis
	Backend string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
	TTL           time.Duration
}

// CredentialConfig holds approval link signing settings.
type CredentialConfig struct {
	Secret string
	TTL    time.Duration
	Issuer string
}

// MailConfig holds outbound mail settings.
type MailConfig struct {
	// Transport is log or smtp
	Transport string
	BaseURL   string
	From      string

	SMTPHost     string
	SMTPPort     int
	SMTPUsername string
	SMTPPassword string

	RatePerSecond float64
	Burst         int
	Attempts      uint
	SendTimeout   time.Duration
}

// WorkerConfig holds delivery worker settings.
type WorkerConfig struct {
	PollInterval time.Duration
	BatchSize    int
	MaxAttempts  int
}

// DefaultConfig returns a Config with sensible defaults. Secret is left empty.
func DefaultConfig() *Config {
	return &Config{
		Database: DatabaseConfig{
			Path:            "data/c2.db",
			MaxOpenConns:    25,
			MaxIdleConns:    5,
			ConnMaxLifetime: 5 * time.Minute,
			BusyTimeout:     5 * time.Second,
		},
		Lock: LockConfig{
			Backend: "memory",
			TTL:     30 * time.Second,
		},
		Credential: CredentialConfig{
			TTL:    entity.AccessTokenTTL,
			Issuer: "c2",
		},
		Mail: MailConfig{
			Transport:     "log",
			BaseURL:       "http://localhost:8080",
			From:          "c2@localhost",
			SMTPPort:      587,
			RatePerSecond: 10,
			Burst:         5,
			Attempts:      3,
			SendTimeout:   10 * time.Second,
		},
		Worker: WorkerConfig{
			PollInterval: 5 * time.Second,
			BatchSize:    20,
			MaxAttempts:  5,
		},
	}
}

// Validate checks that required configuration values are present.
func (c *Config) Validate() error {
	if c.Database.Path == "" {
		return fmt.Errorf("database.path is required")
	}
	if c.Credential.Secret == "" {
		return fmt.Errorf("credential.secret is required")
	}
	if c.Lock.Backend == "redis" && c.Lock.RedisAddr == "" {
		return fmt.Errorf("redis address is required for the redis lock backend")
	}
	if c.Mail.Transport == "smtp" && c.Mail.SMTPHost == "" {
		return fmt.Errorf("smtp host is required for the smtp transport")
	}
	if c.Worker.PollInterval <= 0 || c.Worker.BatchSize <= 0 {
		return fmt.Errorf("worker poll interval and batch size must be positive")
	}
	return nil
}
