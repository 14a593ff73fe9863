package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Redis.QueueKey != "tasks" || cfg.Redis.PollTimeout != 10*time.Second {
		t.Fatalf("unexpected redis defaults: %+v", cfg.Redis)
	}
	if cfg.Validation.MinConfidence != 0.70 {
		t.Fatalf("expected default min confidence 0.70, got %v", cfg.Validation.MinConfidence)
	}
	if cfg.Vision.OpenAI.Model != "gpt-4o" || cfg.Vision.OpenAI.MaxTokens != 1200 {
		t.Fatalf("unexpected openai defaults: %+v", cfg.Vision.OpenAI)
	}
	if cfg.Session.TTL != 30*time.Minute {
		t.Fatalf("expected 30m session ttl, got %s", cfg.Session.TTL)
	}
}

func TestLoadLegacyEnv(t *testing.T) {
	t.Setenv("MIN_CONFIDENCE", "0.8")
	t.Setenv("DATABASE_URL", `"DATABASE_URL=postgres://u:p@db:5432/tn"`)
	t.Setenv("REDIS_URL", "redis://cache:6379/1")
	t.Setenv("SESSION_TTL", "5m")
	t.Setenv("WAYBILL_BITRIX_ATTEMPTS", "5")

	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Validation.MinConfidence != 0.8 {
		t.Fatalf("MIN_CONFIDENCE not applied: %v", cfg.Validation.MinConfidence)
	}
	if cfg.Database.URL != "postgres://u:p@db:5432/tn" {
		t.Fatalf("DATABASE_URL not cleaned: %q", cfg.Database.URL)
	}
	if cfg.Redis.URL != "redis://cache:6379/1" {
		t.Fatalf("REDIS_URL not applied: %q", cfg.Redis.URL)
	}
	if cfg.Session.TTL != 5*time.Minute {
		t.Fatalf("SESSION_TTL not applied: %s", cfg.Session.TTL)
	}
	if cfg.Bitrix.Attempts != 5 {
		t.Fatalf("prefixed env not applied: %d", cfg.Bitrix.Attempts)
	}
}

func TestLoadEnvFile(t *testing.T) {
	dir := t.TempDir()
	envFile := filepath.Join(dir, ".env")
	if err := os.WriteFile(envFile, []byte("BITRIX_CHAT_ID=chat54955\n"), 0o600); err != nil {
		t.Fatalf("write env: %v", err)
	}
	t.Cleanup(func() { os.Unsetenv("BITRIX_CHAT_ID") })

	cfg, err := Load(envFile, "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Bitrix.ChatID != "chat54955" {
		t.Fatalf("expected chat id from .env, got %q", cfg.Bitrix.ChatID)
	}
}

func TestCleanDatabaseURL(t *testing.T) {
	cases := map[string]string{
		"postgres://a":                  "postgres://a",
		`  "postgres://a" `:             "postgres://a",
		"DATABASE_URL=postgres://a":     "postgres://a",
		`'DATABASE_URL="postgres://a"'`: "postgres://a",
	}
	for in, want := range cases {
		if got := CleanDatabaseURL(in); got != want {
			t.Errorf("CleanDatabaseURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestValidate(t *testing.T) {
	cfg, err := Load("", "")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if err := cfg.Validate("database", "vision", "telegram"); err == nil {
		t.Fatalf("expected missing settings to be reported")
	}
	cfg.Database.URL = "postgres://x"
	cfg.Vision.OpenAI.APIKey = "k"
	cfg.Telegram.Token = "t"
	if err := cfg.Validate("database", "vision", "telegram", "storage", "validation"); err != nil {
		t.Fatalf("unexpected validation error: %v", err)
	}
}
