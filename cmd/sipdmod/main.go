package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"golang.org/x/text/language"

	"sipdmod/internal/aggregate"
	"sipdmod/internal/config"
	"sipdmod/internal/logging"
	"sipdmod/internal/modules/realisasi"
	"sipdmod/internal/report"
	"sipdmod/internal/retrieval"
	"sipdmod/internal/store"
)

var (
	// Global flags
	verbose    bool
	configPath string
	workspace  string
	timeout    time.Duration

	// Logger
	logger *zap.Logger
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "sipdmod",
	Short: "SIPD Mod - extra panels and offline reports for SIPD Penatausahaan",
	Long: `sipdmod attaches to a SIPD Penatausahaan browser tab and injects extra
panels into the pages it knows, starting with "Filter Tambahan" on the
realisasi report page.

The same retrieval and export code is available headless: fetch a month
range, cache it, export it to a workbook or summarise it in the terminal.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		zcfg := zap.NewProductionConfig()
		if verbose {
			zcfg.Level = zap.NewAtomicLevelAt(zapcore.DebugLevel)
		}
		var err error
		logger, err = zcfg.Build()
		if err != nil {
			return fmt.Errorf("failed to initialize logger: %w", err)
		}
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.CloseAudit()
		logging.CloseAll()
		if logger != nil {
			_ = logger.Sync()
		}
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable verbose logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Config file (default: <workspace>/.sipdmod/config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&workspace, "workspace", "w", "", "Workspace directory (default: nearest directory with .sipdmod/)")
	rootCmd.PersistentFlags().DurationVar(&timeout, "timeout", 5*time.Minute, "Operation timeout")

	rootCmd.AddCommand(attachCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(exportCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(configCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// resolveWorkspace returns the --workspace flag or the nearest workspace root.
func resolveWorkspace() (string, error) {
	if workspace != "" {
		return filepath.Abs(workspace)
	}
	return config.FindWorkspaceRoot()
}

func resolveConfigPath(ws string) string {
	if configPath != "" {
		return configPath
	}
	return filepath.Join(ws, ".sipdmod", "config.yaml")
}

// loadConfig loads and validates the configuration and starts file logging.
func loadConfig() (*config.Config, string, error) {
	ws, err := resolveWorkspace()
	if err != nil {
		return nil, "", fmt.Errorf("failed to resolve workspace: %w", err)
	}
	path := resolveConfigPath(ws)
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	cfg.Resolve(ws)
	if err := cfg.Validate(); err != nil {
		return nil, "", fmt.Errorf("invalid config %s: %w", path, err)
	}

	if err := logging.Initialize(ws, cfg.Logging.ToLogging()); err != nil {
		logger.Warn("File logging disabled", zap.Error(err))
	} else if err := logging.InitAudit(); err != nil {
		logger.Warn("Audit log disabled", zap.Error(err))
	}
	logger.Debug("Configuration loaded",
		zap.String("workspace", ws),
		zap.String("config", path),
		zap.String("scope", cfg.Retrieval.Scope))
	return cfg, ws, nil
}

// commandContext returns a context bounded by --timeout that is also
// cancelled on SIGINT/SIGTERM.
func commandContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
		signal.Stop(sigCh)
	}()
	return ctx, cancel
}

func endpoint(cfg *config.Config) retrieval.Endpoint {
	return retrieval.Endpoint{
		BaseURL:      cfg.Retrieval.BaseURL,
		Path:         cfg.Retrieval.ReportPath,
		DocumentType: cfg.Retrieval.DocumentType,
		Scope:        cfg.Retrieval.Scope,
	}
}

func newClient(cfg *config.Config, creds retrieval.CredentialSource) *retrieval.Client {
	return retrieval.NewClient(endpoint(cfg), creds,
		retrieval.WithMaxConcurrent(cfg.Retrieval.MaxConcurrent),
		retrieval.WithTimeout(cfg.GetRequestTimeout()))
}

// credentialChain builds the token chain: first, when given, the browser
// cookie, then the token file, then the environment variable. The returned
// FileToken is nil when no token file is configured.
func credentialChain(cfg *config.Config, first retrieval.CredentialSource) (retrieval.Chain, *retrieval.FileToken, error) {
	var chain retrieval.Chain
	if first != nil {
		chain = append(chain, first)
	}
	var ft *retrieval.FileToken
	if cfg.Credential.TokenFile != "" {
		var err error
		ft, err = retrieval.NewFileToken(cfg.Credential.TokenFile)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to read token file: %w", err)
		}
		chain = append(chain, ft)
	}
	chain = append(chain, retrieval.Env(cfg.Credential.EnvVar))
	return chain, ft, nil
}

func summarySpec(cfg *config.Config) aggregate.Spec {
	tag, err := language.Parse(cfg.Aggregate.Locale)
	if err != nil {
		tag = language.Indonesian
	}
	return aggregate.Spec{
		Keys:     cfg.Aggregate.GroupBy,
		Describe: cfg.Aggregate.Describe,
		Sums:     cfg.Aggregate.Sum,
		SortBy:   cfg.Aggregate.SortBy,
		Language: tag,
	}
}

func openStore(cfg *config.Config) (*store.Store, error) {
	if !cfg.Store.Enabled {
		return nil, nil
	}
	st, err := store.Open(cfg.Store.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("failed to open snapshot store: %w", err)
	}
	return st, nil
}

func moduleOptions(cfg *config.Config) realisasi.Options {
	return realisasi.Options{
		Scope:     cfg.Retrieval.Scope,
		ExportDir: cfg.Export.Dir,
		FileName:  cfg.Export.FileName,
		Title:     cfg.Export.Title,
		SheetName: cfg.Export.SheetName,
		Summary:   summarySpec(cfg),
	}
}

// columnLabels maps every report field to its table header.
func columnLabels() map[string]string {
	labels := make(map[string]string, len(report.RealisasiColumns))
	for _, c := range report.RealisasiColumns {
		labels[c.Field] = c.Label
	}
	return labels
}
