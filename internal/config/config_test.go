package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func clearEnv(t *testing.T) {
	t.Helper()
	for _, k := range keys {
		if old, ok := os.LookupEnv(k); ok {
			os.Unsetenv(k)
			t.Cleanup(func() { os.Setenv(k, old) })
		} else {
			t.Cleanup(func() { os.Unsetenv(k) })
		}
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)

	cfg, err := Load(filepath.Join(t.TempDir(), "missing.env"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "8000" {
		t.Errorf("expected default port 8000, got %s", cfg.Port)
	}
	if cfg.StorageDriver != DriverPostgres {
		t.Errorf("expected postgres driver, got %s", cfg.StorageDriver)
	}
	if cfg.DBMaxConns != 20 {
		t.Errorf("expected default max conns 20, got %d", cfg.DBMaxConns)
	}
	if cfg.MaxRecurrenceWeeks != 52 {
		t.Errorf("expected 52 recurrence weeks, got %d", cfg.MaxRecurrenceWeeks)
	}
	if cfg.CompletionInterval != 5*time.Minute {
		t.Errorf("expected 5m completion interval, got %s", cfg.CompletionInterval)
	}
	if cfg.DirectoryCacheTTL != 5*time.Minute {
		t.Errorf("expected 5m directory cache ttl, got %s", cfg.DirectoryCacheTTL)
	}
	if len(cfg.CORSOrigins) != 1 || cfg.CORSOrigins[0] != "http://localhost:3000" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
}

func TestLoad_EnvFileAndOverrides(t *testing.T) {
	clearEnv(t)
	file := filepath.Join(t.TempDir(), ".env")
	content := "STORAGE_DRIVER=SQLite\nSQLITE_PATH=/tmp/s.db\nPORT=9000\nCORS_ORIGINS=https://a.test, https://b.test\nCOMPLETION_INTERVAL=90s\n"
	if err := os.WriteFile(file, []byte(content), 0o600); err != nil {
		t.Fatal(err)
	}
	os.Setenv("PORT", "7000")

	cfg, err := Load(file)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if cfg.Port != "7000" {
		t.Errorf("process env should win, got port %s", cfg.Port)
	}
	if cfg.StorageDriver != DriverSQLite || cfg.SQLitePath != "/tmp/s.db" {
		t.Errorf("unexpected storage %s %s", cfg.StorageDriver, cfg.SQLitePath)
	}
	if strings.Join(cfg.CORSOrigins, "|") != "https://a.test|https://b.test" {
		t.Errorf("unexpected CORS origins %v", cfg.CORSOrigins)
	}
	if cfg.CompletionInterval != 90*time.Second {
		t.Errorf("expected 90s, got %s", cfg.CompletionInterval)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("expected valid dev sqlite config: %v", err)
	}
}

func validConfig() *Config {
	return &Config{
		Env:                "development",
		StorageDriver:      DriverPostgres,
		DatabaseURL:        "postgres://localhost/scheduler",
		ScheduleTimezone:   "UTC",
		MaxRecurrenceWeeks: 52,
		CompletionInterval: time.Minute,
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid", func(*Config) {}, ""},
		{"postgres without url", func(c *Config) { c.DatabaseURL = "" }, "DATABASE_URL"},
		{"unknown driver", func(c *Config) { c.StorageDriver = "mysql" }, "STORAGE_DRIVER"},
		{"production without key", func(c *Config) { c.Env = "production" }, "AUTH_SIGNING_KEY"},
		{"short key", func(c *Config) { c.AuthSigningKey = "short" }, "at least 32 bytes"},
		{"production with key", func(c *Config) {
			c.Env = "production"
			c.AuthSigningKey = strings.Repeat("k", 32)
		}, ""},
		{"bad timezone", func(c *Config) { c.ScheduleTimezone = "Mars/Olympus" }, "SCHEDULE_TIMEZONE"},
		{"zero weeks", func(c *Config) { c.MaxRecurrenceWeeks = 0 }, "MAX_RECURRENCE_WEEKS"},
		{"zero interval", func(c *Config) { c.CompletionInterval = 0 }, "COMPLETION_INTERVAL"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := validConfig()
			tt.mutate(c)
			err := c.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestConfig_IsDev(t *testing.T) {
	c := &Config{Env: "development"}
	if !c.IsDev() {
		t.Error("expected IsDev() to return true for development")
	}

	c.Env = "production"
	if c.IsDev() || !c.IsProduction() {
		t.Error("expected production mode")
	}
}
