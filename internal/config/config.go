package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// DefaultConfigFile is the workspace-relative config path.
const DefaultConfigFile = ".sipdmod/config.yaml"

// Config holds all sipdmod configuration.
type Config struct {
	Name string `yaml:"name"`

	// Browser session used as the host page
	Browser BrowserConfig `yaml:"browser"`

	// Attachment lifecycle timings
	Lifecycle LifecycleConfig `yaml:"lifecycle"`

	// Remote report endpoint
	Retrieval RetrievalConfig `yaml:"retrieval"`

	// Bearer token sources
	Credential CredentialConfig `yaml:"credential"`

	// Workbook export
	Export ExportConfig `yaml:"export"`

	// Summary grouping
	Aggregate AggregateConfig `yaml:"aggregate"`

	// Snapshot cache
	Store StoreConfig `yaml:"store"`

	Logging LoggingConfig `yaml:"logging"`
}

// BrowserConfig configures the Chrome instance driven over CDP.
type BrowserConfig struct {
	DebuggerURL       string   `yaml:"debugger_url"`
	Launch            []string `yaml:"launch"`
	Headless          bool     `yaml:"headless"`
	StartURL          string   `yaml:"start_url"`
	ViewportWidth     int      `yaml:"viewport_width"`
	ViewportHeight    int      `yaml:"viewport_height"`
	NavigationTimeout string   `yaml:"navigation_timeout"`
	SessionStore      string   `yaml:"session_store"`
}

// LifecycleConfig holds the watcher, settler and navigation timings.
type LifecycleConfig struct {
	WatchTimeout   string   `yaml:"watch_timeout"`
	WatchPoll      string   `yaml:"watch_poll"`
	SettleCeiling  string   `yaml:"settle_ceiling"`
	SettlePoll     string   `yaml:"settle_poll"`
	HistoryDelay   string   `yaml:"history_delay"`
	DedupeWindow   string   `yaml:"dedupe_window"`
	StartupRetries []string `yaml:"startup_retries"`
}

// RetrievalConfig describes the remote report endpoint.
type RetrievalConfig struct {
	BaseURL        string `yaml:"base_url"`
	ReportPath     string `yaml:"report_path"`
	DocumentType   string `yaml:"document_type"`
	Scope          string `yaml:"scope"`
	MaxConcurrent  int    `yaml:"max_concurrent"`
	RequestTimeout string `yaml:"request_timeout"`
}

// CredentialConfig lists where the bearer token may come from.
// Sources are consulted in order: cookie (attach mode only), env var, token file.
type CredentialConfig struct {
	CookieName string `yaml:"cookie_name"`
	EnvVar     string `yaml:"env_var"`
	TokenFile  string `yaml:"token_file"`
}

// ExportConfig configures workbook output.
type ExportConfig struct {
	Dir       string `yaml:"dir"`
	FileName  string `yaml:"file_name"`
	Title     string `yaml:"title"`
	SheetName string `yaml:"sheet_name"`
}

// AggregateConfig configures the summary sheet and report command.
type AggregateConfig struct {
	GroupBy  []string `yaml:"group_by"`
	Describe []string `yaml:"describe"`
	Sum      []string `yaml:"sum"`
	SortBy   string   `yaml:"sort_by"`
	Locale   string   `yaml:"locale"`
}

// StoreConfig configures the SQLite snapshot cache.
type StoreConfig struct {
	Enabled      bool   `yaml:"enabled"`
	DatabasePath string `yaml:"database_path"`
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Name: "sipdmod",

		Browser: BrowserConfig{
			Headless:          false,
			StartURL:          "https://sipd.kemendagri.go.id/penatausahaan/",
			ViewportWidth:     1920,
			ViewportHeight:    1080,
			NavigationTimeout: "30s",
			SessionStore:      ".sipdmod/browser/sessions.json",
		},

		Lifecycle: LifecycleConfig{
			WatchTimeout:   "15s",
			WatchPoll:      "500ms",
			SettleCeiling:  "5s",
			SettlePoll:     "200ms",
			HistoryDelay:   "300ms",
			DedupeWindow:   "1s",
			StartupRetries: []string{"500ms", "1500ms", "3s", "5s"},
		},

		Retrieval: RetrievalConfig{
			BaseURL:        "https://service.sipd.kemendagri.go.id",
			ReportPath:     "/pengeluaran/strict/laporan/realisasi/cetak",
			DocumentType:   "dokumen",
			Scope:          "498",
			MaxConcurrent:  2,
			RequestTimeout: "60s",
		},

		Credential: CredentialConfig{
			CookieName: "X-SIPD-PU-TK",
			EnvVar:     "SIPDMOD_TOKEN",
		},

		Export: ExportConfig{
			Dir:       "exports",
			FileName:  "Laporan Realisasi Per Dokumen.xlsx",
			Title:     "LAPORAN REALISASI PER DOKUMEN",
			SheetName: "Data Realisasi Dokumen",
		},

		Aggregate: AggregateConfig{
			GroupBy:  []string{"kode_sub_giat"},
			Describe: []string{"nama_sub_giat"},
			Sum:      []string{"nilai_realisasi", "nilai_setoran", "nilai_spd_detail", "nilai_sp2d"},
			Locale:   "id",
		},

		Store: StoreConfig{
			Enabled:      true,
			DatabasePath: ".sipdmod/snapshots.db",
		},

		Logging: LoggingConfig{
			Level: "info",
		},
	}
}

// Load loads configuration from a YAML file.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			cfg.applyEnvOverrides()
			return cfg, nil
		}
		return nil, fmt.Errorf("failed to read config: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}

	cfg.applyEnvOverrides()
	return cfg, nil
}

// Save saves configuration to a YAML file.
func (c *Config) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return fmt.Errorf("failed to create config directory: %w", err)
	}

	data, err := yaml.Marshal(c)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}

	if err := os.WriteFile(path, data, 0644); err != nil {
		return fmt.Errorf("failed to write config: %w", err)
	}
	return nil
}

// applyEnvOverrides applies environment variable overrides.
func (c *Config) applyEnvOverrides() {
	if v := os.Getenv("SIPDMOD_BASE_URL"); v != "" {
		c.Retrieval.BaseURL = v
	}
	if v := os.Getenv("SIPDMOD_SKPD"); v != "" {
		c.Retrieval.Scope = v
	}
	if v := os.Getenv("SIPDMOD_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			c.Retrieval.MaxConcurrent = n
		}
	}
	if v := os.Getenv("SIPDMOD_DB"); v != "" {
		c.Store.DatabasePath = v
	}
	if v := os.Getenv("SIPDMOD_DEBUGGER_URL"); v != "" {
		c.Browser.DebuggerURL = v
	}
	if v := os.Getenv("SIPDMOD_TOKEN_FILE"); v != "" {
		c.Credential.TokenFile = v
	}
}

// Resolve makes workspace-relative paths absolute.
func (c *Config) Resolve(workspace string) {
	abs := func(p string) string {
		if p == "" || filepath.IsAbs(p) {
			return p
		}
		return filepath.Join(workspace, p)
	}
	c.Browser.SessionStore = abs(c.Browser.SessionStore)
	c.Export.Dir = abs(c.Export.Dir)
	c.Store.DatabasePath = abs(c.Store.DatabasePath)
	c.Credential.TokenFile = abs(c.Credential.TokenFile)
}

func parseDuration(s string, fallback time.Duration) time.Duration {
	d, err := time.ParseDuration(s)
	if err != nil || d < 0 {
		return fallback
	}
	return d
}

// GetWatchTimeout returns how long the anchor watcher waits before giving up.
func (c *Config) GetWatchTimeout() time.Duration {
	return parseDuration(c.Lifecycle.WatchTimeout, 15*time.Second)
}

// GetWatchPoll returns the anchor watcher poll interval.
func (c *Config) GetWatchPoll() time.Duration {
	return parseDuration(c.Lifecycle.WatchPoll, 500*time.Millisecond)
}

// GetSettleCeiling returns the transition settler safety ceiling.
func (c *Config) GetSettleCeiling() time.Duration {
	return parseDuration(c.Lifecycle.SettleCeiling, 5*time.Second)
}

// GetSettlePoll returns the transition settler poll interval.
func (c *Config) GetSettlePoll() time.Duration {
	return parseDuration(c.Lifecycle.SettlePoll, 200*time.Millisecond)
}

// GetHistoryDelay returns the settle delay applied to history (popstate) changes.
func (c *Config) GetHistoryDelay() time.Duration {
	return parseDuration(c.Lifecycle.HistoryDelay, 300*time.Millisecond)
}

// GetDedupeWindow returns the window in which a repeated URL change is dropped.
func (c *Config) GetDedupeWindow() time.Duration {
	return parseDuration(c.Lifecycle.DedupeWindow, time.Second)
}

// GetStartupRetries returns the delays after initial load at which re-evaluation is forced.
func (c *Config) GetStartupRetries() []time.Duration {
	out := make([]time.Duration, 0, len(c.Lifecycle.StartupRetries))
	for _, s := range c.Lifecycle.StartupRetries {
		if d, err := time.ParseDuration(s); err == nil && d > 0 {
			out = append(out, d)
		}
	}
	return out
}

// GetRequestTimeout returns the per-request HTTP timeout.
func (c *Config) GetRequestTimeout() time.Duration {
	return parseDuration(c.Retrieval.RequestTimeout, 60*time.Second)
}

// GetNavigationTimeout returns the browser navigation timeout.
func (c *Config) GetNavigationTimeout() time.Duration {
	return parseDuration(c.Browser.NavigationTimeout, 30*time.Second)
}

// Validate validates the configuration.
func (c *Config) Validate() error {
	if c.Retrieval.BaseURL == "" {
		return fmt.Errorf("retrieval.base_url is required")
	}
	if _, err := url.Parse(c.Retrieval.BaseURL); err != nil {
		return fmt.Errorf("invalid retrieval.base_url: %w", err)
	}
	if c.Retrieval.Scope == "" {
		return fmt.Errorf("retrieval.scope is required")
	}
	if c.Retrieval.MaxConcurrent < 1 {
		return fmt.Errorf("retrieval.max_concurrent must be at least 1, got %d", c.Retrieval.MaxConcurrent)
	}
	if len(c.Aggregate.Sum) == 0 {
		return fmt.Errorf("aggregate.sum must name at least one field")
	}
	return nil
}

// FindWorkspaceRoot walks up from the working directory looking for .sipdmod/.
// Falls back to the working directory itself.
func FindWorkspaceRoot() (string, error) {
	dir, err := os.Getwd()
	if err != nil {
		return "", err
	}

	originalDir := dir
	for {
		if _, err := os.Stat(filepath.Join(dir, ".sipdmod")); err == nil {
			return dir, nil
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			break
		}
		dir = parent
	}
	return originalDir, nil
}
