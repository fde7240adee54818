// File: internal/config/config.go
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"
)

type RuntimeConfig struct {
	Dev bool
}

type LogConfig struct {
	Level    string `yaml:"level"`    // trace|debug|info|warn|error
	Format   string `yaml:"format"`   // json|console
	Sampling bool   `yaml:"sampling"` // enable sampling in prod
}

type DatabaseConfig struct {
	URL      string `yaml:"url"`
	MaxConns int32  `yaml:"max_conns"`
}

type RedisConfig struct {
	URL      string `yaml:"url"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

type LedgerConfig struct {
	RPCURL          string        `yaml:"rpc_url"`
	MerchantAccount string        `yaml:"merchant_account"` // destination for every charge
	RetryAttempts   int           `yaml:"retry_attempts"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
}

type BillingConfig struct {
	Period           time.Duration `yaml:"period"`            // one billing period
	SweepInterval    time.Duration `yaml:"sweep_interval"`    // charge worker tick
	SweepBatch       int           `yaml:"sweep_batch"`       // due subscriptions per sweep
	SweepConcurrency int           `yaml:"sweep_concurrency"` // parallel charges per sweep
	ReaperInterval   time.Duration `yaml:"reaper_interval"`   // pending-grant reaper tick
	ReaperStaleAfter time.Duration `yaml:"reaper_stale_after"`
}

type SecurityConfig struct {
	EncryptionKey string `yaml:"encryption_key"` // AES key for delegate secrets at rest
}

type AdminConfig struct {
	Port       int           `yaml:"port"`
	JWTSecret  string        `yaml:"jwt_secret"`
	SessionTTL time.Duration `yaml:"session_ttl"`
}

type AlertsConfig struct {
	TelegramToken  string `yaml:"telegram_token"`
	TelegramChatID int64  `yaml:"telegram_chat_id"`
}

type Config struct {
	Log      LogConfig      `yaml:"log"`
	Database DatabaseConfig `yaml:"database"`
	Redis    RedisConfig    `yaml:"redis"`
	Ledger   LedgerConfig   `yaml:"ledger"`
	Billing  BillingConfig  `yaml:"billing"`
	Security SecurityConfig `yaml:"security"`
	Admin    AdminConfig    `yaml:"admin"`
	Alerts   AlertsConfig   `yaml:"alerts"`

	Runtime RuntimeConfig `yaml:"-"`
}

func LoadConfig(configPath string, dev bool) (*Config, error) {
	b, err := os.ReadFile(configPath)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}

	// defaults
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
	if cfg.Log.Format == "" {
		cfg.Log.Format = "json"
	}
	if cfg.Database.MaxConns <= 0 {
		cfg.Database.MaxConns = 10
	}
	if cfg.Ledger.RetryAttempts <= 0 {
		cfg.Ledger.RetryAttempts = 3
	}
	if cfg.Ledger.RetryBackoff <= 0 {
		cfg.Ledger.RetryBackoff = 200 * time.Millisecond
	}
	if cfg.Billing.Period <= 0 {
		cfg.Billing.Period = 30 * 24 * time.Hour
	}
	if cfg.Billing.SweepInterval <= 0 {
		cfg.Billing.SweepInterval = time.Minute
	}
	if cfg.Billing.SweepBatch <= 0 {
		cfg.Billing.SweepBatch = 100
	}
	if cfg.Billing.SweepConcurrency <= 0 {
		cfg.Billing.SweepConcurrency = 4
	}
	if cfg.Billing.ReaperInterval <= 0 {
		cfg.Billing.ReaperInterval = time.Minute
	}
	if cfg.Billing.ReaperStaleAfter <= 0 {
		cfg.Billing.ReaperStaleAfter = 10 * time.Minute
	}
	if cfg.Admin.Port <= 0 {
		cfg.Admin.Port = 8080
	}
	if cfg.Admin.SessionTTL <= 0 {
		cfg.Admin.SessionTTL = 30 * time.Minute
	}

	// Minimal validation
	if cfg.Database.URL == "" {
		return nil, errors.New("database.url is required")
	}
	if cfg.Redis.URL == "" {
		return nil, errors.New("redis.url is required")
	}
	if !dev && cfg.Ledger.RPCURL == "" {
		return nil, errors.New("ledger.rpc_url is required")
	}
	if cfg.Ledger.MerchantAccount == "" {
		return nil, errors.New("ledger.merchant_account is required")
	}

	cfg.Runtime.Dev = dev
	return &cfg, nil
}
