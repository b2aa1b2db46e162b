package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestLoadServerConfigDefaults(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":8080" || cfg.SendBuffer != 64 || cfg.ClaimTTL != 24*time.Hour {
		t.Fatalf("defaults not applied: %+v", cfg)
	}
	if cfg.RelaxedAuth || cfg.AllowMalformedRideIDs {
		t.Fatal("permissive switches must default to off")
	}
}

func TestLoadServerConfigRequiresSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "")
	if _, err := LoadServerConfig(); err == nil || !strings.Contains(err.Error(), "JWT_SECRET") {
		t.Fatalf("expected JWT_SECRET error, got %v", err)
	}
}

func TestLoadServerConfigCollectsErrors(t *testing.T) {
	t.Setenv("JWT_SECRET", "s3cret")
	t.Setenv("HTTP_READ_TIMEOUT", "soon")
	t.Setenv("WS_RELAXED_AUTH", "maybe")
	t.Setenv("PUSH_PROVIDER", "pigeon")
	_, err := LoadServerConfig()
	if err == nil {
		t.Fatal("expected error")
	}
	for _, want := range []string{"HTTP_READ_TIMEOUT", "WS_RELAXED_AUTH", "PUSH_PROVIDER"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %s", err, want)
		}
	}
}

func TestConfigFileThenEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	body := "http_addr: \":9090\"\njwt_secret: from-file\nclaim_ttl: 2h\nkafka_brokers: [a:9092, b:9092]\nallow_malformed_ride_ids: true\n"
	if err := os.WriteFile(path, []byte(body), 0o600); err != nil {
		t.Fatal(err)
	}
	t.Setenv("CONFIG_FILE", path)
	t.Setenv("HTTP_ADDR", ":7070")

	cfg, err := LoadServerConfig()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.HTTPAddr != ":7070" {
		t.Errorf("env should win over file, got %s", cfg.HTTPAddr)
	}
	if cfg.JWTSecret != "from-file" || cfg.ClaimTTL != 2*time.Hour || len(cfg.KafkaBrokers) != 2 || !cfg.AllowMalformedRideIDs {
		t.Errorf("file values not applied: %+v", cfg)
	}
}

func TestConsumerConfigBrokers(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", " k1:9092 , ,k2:9092")
	cfg, err := LoadConsumerConfig()
	if err != nil {
		t.Fatal(err)
	}
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "k2:9092" {
		t.Fatalf("brokers = %v", cfg.KafkaBrokers)
	}
}
