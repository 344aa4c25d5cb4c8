package config

import (
	"fmt"
	"os"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/go-playground/validator/v10"
)

const (
	DefaultConfigPath     = "config.toml"
	DefaultHTTPAddr       = ":8080"
	DefaultMaxRecordCount = 10
	DefaultContextTTL     = "24h"
	DefaultSweepSchedule  = "@every 10m"
	DefaultTelemetryQueue = 256
	DefaultPGHost         = "127.0.0.1"
	DefaultPGPort         = 5432
	DefaultPGUser         = "postgres"
	DefaultPGDatabase     = "chatrelay"
	DefaultPGSSLMode      = "disable"
)

type Config struct {
	Log      LogConfig      `toml:"log"`
	Server   ServerConfig   `toml:"server"`
	Pipeline PipelineConfig `toml:"pipeline"`
	Postgres PostgresConfig `toml:"postgres"`
	WeChat   WeChatConfig   `toml:"wechat"`
}

type LogConfig struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type ServerConfig struct {
	Addr string `toml:"addr"`
}

// PipelineConfig tunes dedup and history retention. MaxRecordCount 0
// retains no history and disables context-based dedup.
type PipelineConfig struct {
	MaxRecordCount      int    `toml:"max_record_count" validate:"gte=0"`
	OmitRepeatedMessage *bool  `toml:"omit_repeated_message"`
	ContextTTL          string `toml:"context_ttl"`
	SweepSchedule       string `toml:"sweep_schedule"`
	TelemetryQueue      int    `toml:"telemetry_queue" validate:"gte=0"`
}

// PostgresConfig selects the distributed backend. Leaving Enabled false
// runs a single instance on in-memory history and in-process locks.
type PostgresConfig struct {
	Enabled  bool   `toml:"enabled"`
	Host     string `toml:"host"`
	Port     int    `toml:"port" validate:"gte=0,lte=65535"`
	User     string `toml:"user"`
	Password string `toml:"password"`
	Database string `toml:"database"`
	SSLMode  string `toml:"sslmode"`
}

type WeChatConfig struct {
	AppID          string `toml:"app_id"`
	Token          string `toml:"token" validate:"required"`
	EncodingAESKey string `toml:"encoding_aes_key" validate:"omitempty,len=43"`
	Welcome        string `toml:"welcome"`
}

// OmitRepeated reports the dedup flag with its enabled-by-default
// semantics.
func (c PipelineConfig) OmitRepeated() bool {
	if c.OmitRepeatedMessage == nil {
		return true
	}
	return *c.OmitRepeatedMessage
}

// TTL parses ContextTTL, falling back to the default on empty input.
func (c PipelineConfig) TTL() (time.Duration, error) {
	raw := c.ContextTTL
	if raw == "" {
		raw = DefaultContextTTL
	}
	ttl, err := time.ParseDuration(raw)
	if err != nil {
		return 0, fmt.Errorf("parse context_ttl: %w", err)
	}
	return ttl, nil
}

// Load reads, defaults, and validates the configuration file.
func Load(path string) (Config, error) {
	if path == "" {
		path = DefaultConfigPath
	}
	cfg := defaults()
	raw, err := os.ReadFile(path)
	if err != nil {
		return Config{}, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(raw, &cfg); err != nil {
		return Config{}, fmt.Errorf("parse config %s: %w", path, err)
	}
	if err := validator.New().Struct(cfg); err != nil {
		return Config{}, fmt.Errorf("validate config %s: %w", path, err)
	}
	if _, err := cfg.Pipeline.TTL(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func defaults() Config {
	return Config{
		Server: ServerConfig{Addr: DefaultHTTPAddr},
		Pipeline: PipelineConfig{
			MaxRecordCount: DefaultMaxRecordCount,
			ContextTTL:     DefaultContextTTL,
			SweepSchedule:  DefaultSweepSchedule,
			TelemetryQueue: DefaultTelemetryQueue,
		},
		Postgres: PostgresConfig{
			Host:     DefaultPGHost,
			Port:     DefaultPGPort,
			User:     DefaultPGUser,
			Database: DefaultPGDatabase,
			SSLMode:  DefaultPGSSLMode,
		},
	}
}
