package config

import (
	"github.com/mobomo/C2/internal/container"
)

// ToContainerConfig converts the file-based Config into the container's
// configuration structure.
func (c *Config) ToContainerConfig() *container.Config {
	return &container.Config{
		Database: container.DatabaseConfig{
			Path:            c.Database.Path,
			MaxOpenConns:    c.Database.MaxOpenConns,
			MaxIdleConns:    c.Database.MaxIdleConns,
			ConnMaxLifetime: c.Database.ConnMaxLifetime,
			BusyTimeout:     c.Database.BusyTimeout,
		},
		Lock: container.LockConfig{
			Backend:       c.Lock.Backend,
			RedisAddr:     c.Redis.Addr,
			RedisPassword: c.Redis.Password,
			RedisDB:       c.Redis.DB,
			TTL:           c.Lock.TTL,
		},
		Credential: container.CredentialConfig{
			Secret: c.Credential.Secret,
			TTL:    c.Credential.TTL,
			Issuer: c.Credential.Issuer,
		},
		Mail: container.MailConfig{
			Transport:     c.Mail.Transport,
			BaseURL:       c.Server.BaseURL,
			From:          c.Mail.From,
			SMTPHost:      c.Mail.SMTP.Host,
			SMTPPort:      c.Mail.SMTP.Port,
			SMTPUsername:  c.Mail.SMTP.Username,
			SMTPPassword:  c.Mail.SMTP.Password,
			RatePerSecond: c.Mail.RatePerSecond,
			Burst:         c.Mail.Burst,
			Attempts:      c.Mail.Attempts,
			SendTimeout:   c.Mail.SendTimeout,
		},
		Worker: container.WorkerConfig{
			PollInterval: c.Worker.PollInterval,
			BatchSize:    c.Worker.BatchSize,
			MaxAttempts:  c.Worker.MaxAttempts,
		},
		ApprovalGroupsFile: c.Seed.ApprovalGroups,
	}
}
