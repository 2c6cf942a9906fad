package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/example/brewguard/internal/detection"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, key := range []string{
		"UPSTREAM_BASE_URL", "PROXY_URL", "APP_ENV", "LISTEN_ADDR", "GRPC_ADDR",
		"EVENTS_ENDPOINT", "REDIS_ADDR", "DATABASE_DSN", "LOG_LEVEL", "LOG_FORMAT", "DEBUG_EVENTS",
	} {
		t.Setenv(key, "")
	}
}

func TestResolvePathPrecedence(t *testing.T) {
	t.Setenv("BREWGUARD_CONFIG", "")
	if path, explicit := ResolvePath(""); path != DefaultPath || explicit {
		t.Fatalf("expected default path, got %q explicit=%v", path, explicit)
	}

	t.Setenv("BREWGUARD_CONFIG", " /etc/brewguard.toml ")
	if path, explicit := ResolvePath("  "); path != "/etc/brewguard.toml" || !explicit {
		t.Fatalf("expected env path, got %q explicit=%v", path, explicit)
	}
	if path, explicit := ResolvePath("local.toml"); path != "local.toml" || !explicit {
		t.Fatalf("flag should win, got %q explicit=%v", path, explicit)
	}
}

func TestLoadDefaultsWhenFileMissing(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.toml"), false)
	if err != nil {
		t.Fatalf("expected defaults, got error: %v", err)
	}
	if cfg.UpstreamTimeout() != 55*time.Second {
		t.Fatalf("unexpected upstream timeout: %s", cfg.UpstreamTimeout())
	}
	if cfg.ClientTimeout() <= cfg.UpstreamTimeout() {
		t.Fatal("client deadline must exceed proxy deadline")
	}
	opts, err := cfg.DetectionOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts != detection.DefaultOptions() {
		t.Fatalf("unexpected detection defaults: %+v", opts)
	}
}

func TestLoadMissingExplicitFileFails(t *testing.T) {
	clearEnv(t)

	if _, err := Load(filepath.Join(t.TempDir(), "missing.toml"), true); err == nil {
		t.Fatal("expected error for missing explicit config")
	}
}

func TestLoadParsesFileAndEnvOverrides(t *testing.T) {
	clearEnv(t)
	path := filepath.Join(t.TempDir(), "config.toml")
	content := `
[upstream]
base_url = "https://inference.example.com"
timeout_seconds = 30

[client]
timeout_seconds = 40

[detection]
model_type = "spots-full-leaf"
detection_type = "both"
confidence = 70
overlap = 20
`
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}
	t.Setenv("LISTEN_ADDR", ":9999")

	cfg, err := Load(path, true)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Upstream.BaseURL != "https://inference.example.com" {
		t.Fatalf("unexpected base url: %s", cfg.Upstream.BaseURL)
	}
	if cfg.Server.Addr != ":9999" {
		t.Fatalf("env override not applied: %s", cfg.Server.Addr)
	}
	opts, err := cfg.DetectionOptions()
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if opts.ModelType != detection.ModelSpotsFullLeaf || opts.DetectionType != detection.DetectBoth {
		t.Fatalf("unexpected options: %+v", opts)
	}
}

func TestValidateRejectsClientDeadlineBelowProxy(t *testing.T) {
	cfg := Default()
	cfg.Client.TimeoutSeconds = cfg.Upstream.TimeoutSeconds
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when client deadline does not exceed proxy deadline")
	}
}

func TestValidateRequiresHTTPSInProduction(t *testing.T) {
	cfg := Default()
	cfg.Client.Environment = EnvironmentProduction
	cfg.Upstream.BaseURL = "http://inference.internal"
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected https requirement in production")
	}

	cfg.Client.Environment = "development"
	if err := cfg.Validate(); err != nil {
		t.Fatalf("http upstream should be allowed outside production: %v", err)
	}
}

func TestValidateRejectsBadDetectionDefaults(t *testing.T) {
	cfg := Default()
	cfg.Detection.Confidence = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for confidence 0")
	}
}
