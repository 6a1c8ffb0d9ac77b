package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	unsetEnv(t, "HTTP_ADDR", "PREVIEW_STORE", "CLASSIFIER_URL", "CLASSIFIER_TIMEOUT",
		"SESSION_IDLE_TIMEOUT", "SESSION_SWEEP_INTERVAL", "MAX_SESSIONS", "PREVIEW_TTL")

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("expected defaults to load, got %v", err)
	}
	if cfg.HTTPAddr != ":8080" {
		t.Fatalf("unexpected addr: %s", cfg.HTTPAddr)
	}
	if cfg.ClassifierURL != "http://127.0.0.1:8000" {
		t.Fatalf("unexpected classifier url: %s", cfg.ClassifierURL)
	}
	if cfg.ClassifierTimeout != 0 {
		t.Fatalf("expected no classifier timeout by default, got %s", cfg.ClassifierTimeout)
	}
	if cfg.PreviewStore != PreviewStoreMemory {
		t.Fatalf("unexpected preview store: %s", cfg.PreviewStore)
	}
	if cfg.SessionIdleTimeout != 15*time.Minute || cfg.SessionSweepInterval != time.Minute || cfg.MaxSessions != 1000 {
		t.Fatalf("unexpected session defaults: %s / %s / %d", cfg.SessionIdleTimeout, cfg.SessionSweepInterval, cfg.MaxSessions)
	}
	if cfg.PreviewTTL <= cfg.SessionIdleTimeout+cfg.SessionSweepInterval {
		t.Fatalf("default preview ttl %s must outlive idle sessions", cfg.PreviewTTL)
	}
}

func TestValidateTiesPreviewTTLToSessionExpiry(t *testing.T) {
	valid := func() *Config {
		return &Config{
			PreviewStore:         PreviewStoreRedis,
			ClassifierURL:        "http://x",
			PreviewTTL:           30 * time.Minute,
			SessionIdleTimeout:   15 * time.Minute,
			SessionSweepInterval: time.Minute,
		}
	}
	if err := valid().Validate(); err != nil {
		t.Fatalf("expected valid config, got %v", err)
	}

	cfg := valid()
	cfg.PreviewTTL = 16 * time.Minute
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error when previews can expire before their session")
	}

	cfg = valid()
	cfg.SessionIdleTimeout = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for redis previews without session expiry")
	}

	cfg = valid()
	cfg.PreviewStore = PreviewStoreMemory
	cfg.PreviewTTL = time.Minute
	if err := cfg.Validate(); err != nil {
		t.Fatalf("memory previews do not expire, got %v", err)
	}

	cfg = valid()
	cfg.SessionSweepInterval = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for idle timeout without a sweep interval")
	}
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), ".env")
	content := "CLASSIFIER_URL=http://classifier:9000\nCLASSIFIER_TIMEOUT=5s\nPREVIEW_STORE=Redis\n"
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("write env file: %v", err)
	}
	unsetEnv(t, "CLASSIFIER_URL", "CLASSIFIER_TIMEOUT", "PREVIEW_STORE",
		"SESSION_IDLE_TIMEOUT", "SESSION_SWEEP_INTERVAL", "PREVIEW_TTL")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.ClassifierURL != "http://classifier:9000" {
		t.Fatalf("unexpected classifier url: %s", cfg.ClassifierURL)
	}
	if cfg.ClassifierTimeout != 5*time.Second {
		t.Fatalf("unexpected timeout: %s", cfg.ClassifierTimeout)
	}
	if cfg.PreviewStore != PreviewStoreRedis {
		t.Fatalf("expected preview store to be normalised, got %s", cfg.PreviewStore)
	}
}

func TestValidateRejectsUnknownPreviewStore(t *testing.T) {
	cfg := &Config{PreviewStore: "disk", ClassifierURL: "http://x", PreviewTTL: time.Minute}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for unknown preview store")
	}
}

func TestValidateRejectsNegativeTimeout(t *testing.T) {
	cfg := &Config{PreviewStore: PreviewStoreMemory, ClassifierURL: "http://x", ClassifierTimeout: -time.Second, PreviewTTL: time.Minute}
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected error for negative timeout")
	}
}

// unsetEnv clears keys for the duration of the test, including values a
// loaded .env file writes into the process environment.
func unsetEnv(t *testing.T, keys ...string) {
	t.Helper()
	for _, key := range keys {
		key := key
		prev, had := os.LookupEnv(key)
		os.Unsetenv(key)
		t.Cleanup(func() {
			if had {
				os.Setenv(key, prev)
			} else {
				os.Unsetenv(key)
			}
		})
	}
}
