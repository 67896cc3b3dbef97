package config_test

import (
	"testing"

	"github.com/kvswarm/kvswarm/config"
)

func TestParseDefaults(t *testing.T) {
	cfg, err := config.Parse([]byte("ip_port: 127.0.0.1:7100\n"))

	if err != nil {
		t.Fatalf("Parse: %s", err)
	}

	if cfg.JoinMode != config.Stabilize {
		t.Fatalf("JoinMode = %q, want %q", cfg.JoinMode, config.Stabilize)
	}

	if cfg.StabilizePeriodUs == 0 {
		t.Fatal("expected a default stabilize_period_us")
	}
}

func TestParseRejectsUnsupportedJoinMode(t *testing.T) {
	_, err := config.Parse([]byte("ip_port: 127.0.0.1:7100\njoin_mode: gossip\n"))

	if err == nil {
		t.Fatal("expected an error for an unsupported join_mode")
	}
}

func TestParseRequiresIpPort(t *testing.T) {
	_, err := config.Parse([]byte("join_mode: stabilize\n"))

	if err == nil {
		t.Fatal("expected an error when ip_port is missing")
	}
}
