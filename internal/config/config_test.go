package config

import (
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/spf13/pflag"
)

func TestLoad_Defaults(t *testing.T) {
	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "8080" {
		t.Errorf("expected port 8080, got %q", cfg.Port)
	}
	if cfg.CacheTTL != 30*time.Second {
		t.Errorf("expected cache ttl 30s, got %s", cfg.CacheTTL)
	}
	if cfg.Protocol.MinRebalanceInterval != time.Hour {
		t.Errorf("expected 1h interval, got %s", cfg.Protocol.MinRebalanceInterval)
	}
	if cfg.Protocol.MaxSlippageBps != 1000 {
		t.Errorf("expected slippage ceiling 1000, got %d", cfg.Protocol.MaxSlippageBps)
	}
	if !cfg.Protocol.AuditLogEnabled || !cfg.Protocol.ApproverMayBeOwner {
		t.Errorf("expected audit log and owner approval enabled by default: %+v", cfg.Protocol)
	}
}

func TestLoad_EnvOverridesDefaults(t *testing.T) {
	t.Setenv("REBALANCER_PORT", "9090")
	t.Setenv("REBALANCER_DATABASE_URL", "postgres://localhost/rebalancer")
	t.Setenv("REBALANCER_PROTOCOL_FEE_BPS", "250")

	cfg, err := Load("", nil)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "9090" {
		t.Errorf("expected port from env, got %q", cfg.Port)
	}
	if cfg.DatabaseURL != "postgres://localhost/rebalancer" {
		t.Errorf("expected database url from env, got %q", cfg.DatabaseURL)
	}
	if cfg.Protocol.ProtocolFeeBps != 250 {
		t.Errorf("expected protocol fee from env, got %d", cfg.Protocol.ProtocolFeeBps)
	}
}

func TestLoad_FlagsAndFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "rebalancer.yaml")
	content := "port: \"7070\"\nlog-level: debug\nfee-recipient: treasury\nmin-rebalance-interval: 15m\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	flags := pflag.NewFlagSet("test", pflag.ContinueOnError)
	flags.String("audit-file", "", "")
	if err := flags.Parse([]string{"--audit-file=/tmp/audit.jsonl"}); err != nil {
		t.Fatalf("parse flags: %v", err)
	}

	cfg, err := Load(path, flags)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Port != "7070" {
		t.Errorf("expected port from file, got %q", cfg.Port)
	}
	if cfg.AuditFile != "/tmp/audit.jsonl" {
		t.Errorf("expected audit file from flag, got %q", cfg.AuditFile)
	}
	if cfg.Protocol.FeeRecipient != "treasury" || cfg.Protocol.MinRebalanceInterval != 15*time.Minute {
		t.Errorf("unexpected protocol values: %+v", cfg.Protocol)
	}
	lvl, err := cfg.Level()
	if err != nil || lvl != slog.LevelDebug {
		t.Errorf("expected debug level, got %v (%v)", lvl, err)
	}
}

func TestLoad_MissingExplicitFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml"), nil); err == nil {
		t.Fatal("expected error for missing config file")
	}
}

func TestProtocolParams(t *testing.T) {
	p := Protocol{
		FeeRecipient:      "treasury",
		ProtocolFeeBps:    100,
		PerformanceFeeBps: 1000,
		MinPayment:        "1000",
		GlobalPositionCap: "1000000",
		GlobalTradeCap:    "100000.5",
		MaxSlippageBps:    300,
	}
	params, err := p.ProtocolParams()
	if err != nil {
		t.Fatalf("params: %v", err)
	}
	if !params.GlobalTradeCap.Equal(decimal.RequireFromString("100000.5")) {
		t.Errorf("unexpected trade cap %s", params.GlobalTradeCap)
	}

	p.GlobalPositionCap = "lots"
	if _, err := p.ProtocolParams(); err == nil {
		t.Fatal("expected parse error for non-numeric cap")
	}
}

func TestLevel_Invalid(t *testing.T) {
	if _, err := (Config{LogLevel: "loud"}).Level(); err == nil {
		t.Fatal("expected error for unknown level")
	}
}
