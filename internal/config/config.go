// Package config loads process configuration from flags, environment
// variables (prefix REBALANCER_), and an optional config file.
package config

import (
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/xliquidity/rebalance-engine/internal/engine"
)

// EnvPrefix is prepended to every environment variable.
const EnvPrefix = "REBALANCER"

// Config holds configuration values loaded from flags, env, or config file.
type Config struct {
	Port            string
	DatabaseURL     string
	RedisURL        string
	CacheTTL        time.Duration
	Migrate         bool
	LogLevel        string
	RequirePayment  bool
	ShutdownTimeout time.Duration

	AuditFile       string
	AuditMaxSizeMB  int
	AuditMaxBackups int
	AuditMaxAgeDays int
	AuditCompress   bool

	Protocol Protocol
}

// Protocol holds the bootstrap values for the protocol config. Monetary
// values are kept as strings until ProtocolParams parses them.
type Protocol struct {
	FeeRecipient         string
	ProtocolFeeBps       uint16
	PerformanceFeeBps    uint16
	MinPayment           string
	GlobalPositionCap    string
	GlobalTradeCap       string
	MinRebalanceInterval time.Duration
	MaxSlippageBps       uint16
	AuditLogEnabled      bool
	ApproverMayBeOwner   bool
}

// Load merges config file, environment variables, and flags into Config.
func Load(cfgFile string, flags *pflag.FlagSet) (Config, error) {
	v := viper.New()
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	v.SetDefault("port", "8080")
	v.SetDefault("cache-ttl", 30*time.Second)
	v.SetDefault("migrate", true)
	v.SetDefault("log-level", "info")
	v.SetDefault("require-payment", false)
	v.SetDefault("shutdown-timeout", 5*time.Second)
	v.SetDefault("audit-max-size-mb", 100)
	v.SetDefault("audit-max-backups", 10)
	v.SetDefault("audit-max-age-days", 30)
	v.SetDefault("audit-compress", true)

	v.SetDefault("protocol-fee-bps", 100)
	v.SetDefault("performance-fee-bps", 1000)
	v.SetDefault("min-payment", "0")
	v.SetDefault("global-position-cap", engine.DefaultGlobalPositionCap.String())
	v.SetDefault("global-trade-cap", engine.DefaultGlobalTradeCap.String())
	v.SetDefault("min-rebalance-interval", engine.DefaultMinRebalanceInterval)
	v.SetDefault("max-slippage-bps", engine.DefaultMaxSlippageBps)
	v.SetDefault("audit-log-enabled", true)
	v.SetDefault("approver-may-be-owner", true)

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Config{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("rebalancer")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Config{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	cfg := Config{
		Port:            v.GetString("port"),
		DatabaseURL:     v.GetString("database-url"),
		RedisURL:        v.GetString("redis-url"),
		CacheTTL:        v.GetDuration("cache-ttl"),
		Migrate:         v.GetBool("migrate"),
		LogLevel:        v.GetString("log-level"),
		RequirePayment:  v.GetBool("require-payment"),
		ShutdownTimeout: v.GetDuration("shutdown-timeout"),

		AuditFile:       v.GetString("audit-file"),
		AuditMaxSizeMB:  v.GetInt("audit-max-size-mb"),
		AuditMaxBackups: v.GetInt("audit-max-backups"),
		AuditMaxAgeDays: v.GetInt("audit-max-age-days"),
		AuditCompress:   v.GetBool("audit-compress"),

		Protocol: Protocol{
			FeeRecipient:         v.GetString("fee-recipient"),
			ProtocolFeeBps:       v.GetUint16("protocol-fee-bps"),
			PerformanceFeeBps:    v.GetUint16("performance-fee-bps"),
			MinPayment:           v.GetString("min-payment"),
			GlobalPositionCap:    v.GetString("global-position-cap"),
			GlobalTradeCap:       v.GetString("global-trade-cap"),
			MinRebalanceInterval: v.GetDuration("min-rebalance-interval"),
			MaxSlippageBps:       v.GetUint16("max-slippage-bps"),
			AuditLogEnabled:      v.GetBool("audit-log-enabled"),
			ApproverMayBeOwner:   v.GetBool("approver-may-be-owner"),
		},
	}

	return cfg, nil
}

// ProtocolParams parses the bootstrap values into engine parameters.
func (p Protocol) ProtocolParams() (engine.ProtocolParams, error) {
	minPayment, err := decimal.NewFromString(p.MinPayment)
	if err != nil {
		return engine.ProtocolParams{}, fmt.Errorf("min-payment: %w", err)
	}
	positionCap, err := decimal.NewFromString(p.GlobalPositionCap)
	if err != nil {
		return engine.ProtocolParams{}, fmt.Errorf("global-position-cap: %w", err)
	}
	tradeCap, err := decimal.NewFromString(p.GlobalTradeCap)
	if err != nil {
		return engine.ProtocolParams{}, fmt.Errorf("global-trade-cap: %w", err)
	}
	return engine.ProtocolParams{
		FeeRecipient:         p.FeeRecipient,
		PerformanceFeeBps:    p.PerformanceFeeBps,
		ProtocolFeeBps:       p.ProtocolFeeBps,
		MinPayment:           minPayment,
		AuditLogEnabled:      p.AuditLogEnabled,
		GlobalPositionCap:    positionCap,
		GlobalTradeCap:       tradeCap,
		MinRebalanceInterval: p.MinRebalanceInterval,
		MaxSlippageBps:       p.MaxSlippageBps,
		ApproverMayBeOwner:   p.ApproverMayBeOwner,
	}, nil
}

// Level parses the configured log level.
func (c Config) Level() (slog.Level, error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(c.LogLevel)); err != nil {
		return slog.LevelInfo, fmt.Errorf("log-level %q: %w", c.LogLevel, err)
	}
	return lvl, nil
}
