package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestDefaultConfig(t *testing.T) {
	cfg := DefaultConfig()
	if cfg.Name != "sipdmod" {
		t.Errorf("expected Name=sipdmod, got %s", cfg.Name)
	}
	if cfg.Retrieval.MaxConcurrent != 2 {
		t.Errorf("expected MaxConcurrent=2, got %d", cfg.Retrieval.MaxConcurrent)
	}
	if cfg.Credential.CookieName != "X-SIPD-PU-TK" {
		t.Errorf("expected cookie X-SIPD-PU-TK, got %s", cfg.Credential.CookieName)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("default config should validate: %v", err)
	}
}

func TestConfig_SaveLoad(t *testing.T) {
	t.Setenv("SIPDMOD_BASE_URL", "")
	t.Setenv("SIPDMOD_SKPD", "")

	path := filepath.Join(t.TempDir(), "config.yaml")

	cfg := DefaultConfig()
	cfg.Retrieval.Scope = "123"
	cfg.Aggregate.GroupBy = []string{"kode_program", "kode_giat"}

	if err := cfg.Save(path); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	loaded, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if loaded.Retrieval.Scope != "123" {
		t.Errorf("expected Scope=123, got %s", loaded.Retrieval.Scope)
	}
	if len(loaded.Aggregate.GroupBy) != 2 || loaded.Aggregate.GroupBy[1] != "kode_giat" {
		t.Errorf("unexpected GroupBy: %v", loaded.Aggregate.GroupBy)
	}
}

func TestLoad_MissingFileReturnsDefaults(t *testing.T) {
	cfg, err := Load(filepath.Join(t.TempDir(), "absent.yaml"))
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}
	if cfg.Retrieval.ReportPath != DefaultConfig().Retrieval.ReportPath {
		t.Errorf("expected default report path, got %s", cfg.Retrieval.ReportPath)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("retrieval: [unterminated"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestConfig_EnvOverrides(t *testing.T) {
	t.Setenv("SIPDMOD_BASE_URL", "http://localhost:9999")
	t.Setenv("SIPDMOD_SKPD", "77")
	t.Setenv("SIPDMOD_MAX_CONCURRENT", "4")

	cfg := DefaultConfig()
	cfg.applyEnvOverrides()

	if cfg.Retrieval.BaseURL != "http://localhost:9999" {
		t.Errorf("expected overridden base url, got %s", cfg.Retrieval.BaseURL)
	}
	if cfg.Retrieval.Scope != "77" {
		t.Errorf("expected scope 77, got %s", cfg.Retrieval.Scope)
	}
	if cfg.Retrieval.MaxConcurrent != 4 {
		t.Errorf("expected max concurrent 4, got %d", cfg.Retrieval.MaxConcurrent)
	}
}

func TestConfig_Validate(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Retrieval.MaxConcurrent = 0
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for zero concurrency")
	}

	cfg = DefaultConfig()
	cfg.Retrieval.Scope = ""
	if err := cfg.Validate(); err == nil {
		t.Error("expected validation error for empty scope")
	}
}

func TestConfig_DurationHelpers(t *testing.T) {
	cfg := DefaultConfig()
	if got := cfg.GetWatchTimeout(); got != 15*time.Second {
		t.Errorf("GetWatchTimeout = %v", got)
	}
	if got := cfg.GetHistoryDelay(); got != 300*time.Millisecond {
		t.Errorf("GetHistoryDelay = %v", got)
	}

	want := []time.Duration{500 * time.Millisecond, 1500 * time.Millisecond, 3 * time.Second, 5 * time.Second}
	got := cfg.GetStartupRetries()
	if len(got) != len(want) {
		t.Fatalf("GetStartupRetries = %v", got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("retry %d = %v, want %v", i, got[i], want[i])
		}
	}

	cfg.Lifecycle.SettlePoll = "not-a-duration"
	if got := cfg.GetSettlePoll(); got != 200*time.Millisecond {
		t.Errorf("invalid duration should fall back, got %v", got)
	}
}

func TestConfig_Resolve(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Resolve("/work")
	if cfg.Store.DatabasePath != filepath.Join("/work", ".sipdmod", "snapshots.db") {
		t.Errorf("unexpected db path %s", cfg.Store.DatabasePath)
	}
	if cfg.Credential.TokenFile != "" {
		t.Errorf("empty token file should stay empty, got %s", cfg.Credential.TokenFile)
	}
}

func TestLoggingConfig_IsCategoryEnabled(t *testing.T) {
	lc := LoggingConfig{DebugMode: true, Categories: map[string]bool{"browser": false}}
	if lc.IsCategoryEnabled("browser") {
		t.Error("browser should be disabled")
	}
	if !lc.IsCategoryEnabled("lifecycle") {
		t.Error("unspecified category should default to enabled")
	}
	lc.DebugMode = false
	if lc.IsCategoryEnabled("lifecycle") {
		t.Error("production mode disables everything")
	}
}
