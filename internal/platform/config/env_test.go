package config

import (
	"strings"
	"testing"
	"time"
)

type envTestConfig struct {
	Endpoint    string        `env:"ENDPOINT" envDefault:"localhost:8443"`
	CallTimeout time.Duration `env:"CALL_TIMEOUT" envDefault:"3s"`
}

func TestParseEnvPrefixedDefaults(t *testing.T) {
	var cfg envTestConfig

	if err := ParseEnvPrefixed(&cfg, "LEDGERLINK_TEST_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.CallTimeout != 3*time.Second {
		t.Fatalf("CallTimeout = %v, want 3s", cfg.CallTimeout)
	}
	if cfg.Endpoint != "localhost:8443" {
		t.Fatalf("Endpoint = %q, want %q", cfg.Endpoint, "localhost:8443")
	}
}

func TestParseEnvPrefixedReadsPrefixedNames(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("LEDGERLINK_TEST_ENDPOINT", "ledger.internal:443")
	t.Setenv("ENDPOINT", "unprefixed:1")

	if err := ParseEnvPrefixed(&cfg, "LEDGERLINK_TEST_"); err != nil {
		t.Fatalf("parse env: %v", err)
	}
	if cfg.Endpoint != "ledger.internal:443" {
		t.Fatalf("Endpoint = %q, want %q", cfg.Endpoint, "ledger.internal:443")
	}
}

func TestParseEnvPrefixedError(t *testing.T) {
	var cfg envTestConfig
	t.Setenv("LEDGERLINK_TEST_CALL_TIMEOUT", "soon")

	err := ParseEnvPrefixed(&cfg, "LEDGERLINK_TEST_")
	if err == nil {
		t.Fatal("expected error")
	}
	if !strings.Contains(err.Error(), "parse env LEDGERLINK_TEST_*:") {
		t.Fatalf("error = %v, want parse env prefix", err)
	}
}
