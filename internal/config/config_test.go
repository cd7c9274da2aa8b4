package config

import (
	"testing"
	"time"
)

func TestEnvStrFallback(t *testing.T) {
	if v := envStr("KANSA_TEST_MISSING_STR", "fallback"); v != "fallback" {
		t.Fatalf("expected fallback, got %q", v)
	}
	t.Setenv("KANSA_TEST_STR", "value")
	if v := envStr("KANSA_TEST_STR", "fallback"); v != "value" {
		t.Fatalf("expected value, got %q", v)
	}
}

func TestEnvIntParsing(t *testing.T) {
	t.Setenv("KANSA_TEST_INT", "42")
	if v := envInt("KANSA_TEST_INT", 0); v != 42 {
		t.Fatalf("expected 42, got %d", v)
	}
	if v := envInt("KANSA_TEST_MISSING_INT", 99); v != 99 {
		t.Fatalf("expected fallback 99, got %d", v)
	}
	t.Setenv("KANSA_TEST_INT_BAD", "abc")
	if v := envInt("KANSA_TEST_INT_BAD", 7); v != 7 {
		t.Fatalf("expected fallback 7 for unparseable value, got %d", v)
	}
}

func TestEnvDurationParsing(t *testing.T) {
	t.Setenv("KANSA_TEST_DUR", "5s")
	if v := envDuration("KANSA_TEST_DUR", 0); v != 5*time.Second {
		t.Fatalf("expected 5s, got %s", v)
	}
	t.Setenv("KANSA_TEST_DUR_BAD", "five-seconds")
	if v := envDuration("KANSA_TEST_DUR_BAD", time.Minute); v != time.Minute {
		t.Fatalf("expected fallback 1m for unparseable value, got %s", v)
	}
}

func TestEnvFloatParsing(t *testing.T) {
	t.Setenv("KANSA_TEST_FLOAT", "2.5")
	if v := envFloat("KANSA_TEST_FLOAT", 0); v != 2.5 {
		t.Fatalf("expected 2.5, got %f", v)
	}
}

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("expected Load() to succeed with defaults, got: %v", err)
	}
	if cfg.Port != 8080 {
		t.Fatalf("expected default port 8080, got %d", cfg.Port)
	}
	if cfg.EmbeddingDimensions != 1536 {
		t.Fatalf("expected default dimensions 1536, got %d", cfg.EmbeddingDimensions)
	}
	if cfg.Drafter != "mock" {
		t.Fatalf("expected default drafter mock, got %q", cfg.Drafter)
	}
}

func TestValidateRejectsUnknownProvider(t *testing.T) {
	t.Setenv("KANSA_EMBEDDING_PROVIDER", "quantum")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail with unknown embedding provider")
	}
}

func TestValidateGeminiNeedsKey(t *testing.T) {
	t.Setenv("KANSA_DRAFTER", "gemini")
	t.Setenv("GEMINI_API_KEY", "")
	if _, err := Load(); err == nil {
		t.Fatal("expected Load() to fail when gemini drafter has no API key")
	}
}

func TestValidateRejectsZeroConcurrency(t *testing.T) {
	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	cfg.MaxConcurrentRuns = 0
	if err := cfg.Validate(); err == nil {
		t.Fatal("expected Validate to reject zero MaxConcurrentRuns")
	}
}
