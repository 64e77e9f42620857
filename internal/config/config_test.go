package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefault(t *testing.T) {
	cfg := Default()
	if cfg.ListenAddr != ":1935" {
		t.Fatalf("listen addr = %s", cfg.ListenAddr)
	}
	if time.Duration(cfg.IdleTimeout) != 30*time.Second {
		t.Fatalf("idle timeout = %v", time.Duration(cfg.IdleTimeout))
	}
	if cfg.ReadBuffer != 64*1024 || cfg.WriteBuffer != 64*1024 {
		t.Fatalf("buffer sizes = %d/%d", cfg.ReadBuffer, cfg.WriteBuffer)
	}
	if cfg.DefaultWindowAckSize != 2_500_000 {
		t.Fatalf("default window ack size = %d", cfg.DefaultWindowAckSize)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
}

func TestLoadFileAndValidate(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "config.json")

	data := []byte(`{"listen_addr":":1935","http_addr":":8080","idle_timeout":"15s","read_buffer":4096,"write_buffer":4096,"default_window_ack_size":2500000,"default_service_profile":"youtube"}`)
	if err := os.WriteFile(cfgPath, data, 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := LoadFile(cfgPath)
	if err != nil {
		t.Fatalf("load config: %v", err)
	}

	if err := cfg.Validate(); err != nil {
		t.Fatalf("validate config: %v", err)
	}
	if time.Duration(cfg.IdleTimeout) != 15*time.Second {
		t.Fatalf("idle timeout = %v", time.Duration(cfg.IdleTimeout))
	}
}

func TestValidateMissingListenAddr(t *testing.T) {
	cfg := Default()
	cfg.ListenAddr = ""
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected validation error")
	}
}

func TestValidateBufferSizeBounds(t *testing.T) {
	cfg := Default()
	cfg.ReadBuffer = 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected read_buffer validation error")
	}

	cfg = Default()
	cfg.WriteBuffer = MaxBufferSize + 1
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected write_buffer validation error")
	}
}

func TestValidateServiceProfile(t *testing.T) {
	cfg := Default()
	cfg.DefaultServiceProfile = "not-a-profile"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected invalid service profile to fail validation")
	}

	cfg.DefaultServiceProfile = "twitch"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected twitch profile to validate, got %v", err)
	}
}

func TestValidateRateLimit(t *testing.T) {
	cfg := Default()
	cfg.RateLimit.Enabled = true
	cfg.RateLimit.RequestsPerSec = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected rate limit validation error")
	}

	cfg.RateLimit.RequestsPerSec = 10
	if err := cfg.Validate(); err != nil {
		t.Fatalf("expected rate limit to validate, got %v", err)
	}
}
