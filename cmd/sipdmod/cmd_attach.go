// Package main implements the sipdmod CLI commands.
// This file contains the attach command that drives the browser panels.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sipdmod/internal/anchor"
	"sipdmod/internal/browser"
	"sipdmod/internal/config"
	"sipdmod/internal/host"
	"sipdmod/internal/lifecycle"
	"sipdmod/internal/modules/realisasi"
	"sipdmod/internal/navigation"
)

// =============================================================================
// ATTACH COMMAND - panel injection into a live SIPD tab
// =============================================================================

var attachURL string

var attachCmd = &cobra.Command{
	Use:   "attach",
	Short: "Attach to a SIPD tab and inject the extra panels",
	Long: `Connects to the browser named by browser.debugger_url (or launches one),
attaches to the first tab under the start URL and keeps the panels mounted
while you navigate. The bearer token is read from the tab's cookie, with the
token file and environment variable as fallbacks.

Runs until interrupted.`,
	RunE: runAttach,
}

func init() {
	attachCmd.Flags().StringVar(&attachURL, "url", "", "Tab URL prefix to attach to (default: browser.start_url)")
}

func browserConfig(cfg *config.Config) browser.Config {
	bc := browser.DefaultConfig()
	bc.DebuggerURL = cfg.Browser.DebuggerURL
	bc.Launch = cfg.Browser.Launch
	bc.Headless = cfg.Browser.Headless
	bc.ViewportWidth = cfg.Browser.ViewportWidth
	bc.ViewportHeight = cfg.Browser.ViewportHeight
	bc.NavigationTimeout = cfg.GetNavigationTimeout()
	bc.SessionStore = cfg.Browser.SessionStore
	return bc
}

func runAttach(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigCh)
	go func() {
		select {
		case <-sigCh:
			logger.Info("Received shutdown signal")
			cancel()
		case <-ctx.Done():
		}
	}()

	mgr := browser.NewSessionManager(browserConfig(cfg))
	startCtx, startCancel := context.WithTimeout(ctx, timeout)
	defer startCancel()
	if err := mgr.Start(startCtx); err != nil {
		return fmt.Errorf("failed to start session manager: %w", err)
	}
	defer func() {
		if err := mgr.Shutdown(context.Background()); err != nil {
			logger.Warn("Browser shutdown failed", zap.Error(err))
		}
	}()

	prefix := attachURL
	if prefix == "" {
		prefix = cfg.Browser.StartURL
	}
	session, err := mgr.AttachMatching(startCtx, prefix)
	if err != nil {
		return fmt.Errorf("failed to attach: %w", err)
	}
	logger.Info("Attached",
		zap.String("session", session.ID),
		zap.String("url", session.URL),
		zap.String("control", mgr.ControlURL()))

	doc, err := mgr.Document(ctx, session.ID)
	if err != nil {
		return fmt.Errorf("failed to hook page: %w", err)
	}
	defer doc.Close()

	cookie, err := mgr.Cookie(session.ID, cfg.Credential.CookieName)
	if err != nil {
		return err
	}
	creds, tokenFile, err := credentialChain(cfg, cookie)
	if err != nil {
		return err
	}
	if tokenFile != nil {
		if err := tokenFile.Start(ctx); err != nil {
			logger.Warn("Token file not watched", zap.Error(err))
		} else {
			defer tokenFile.Stop()
		}
	}

	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st != nil {
		defer st.Close()
	}

	opts := moduleOptions(cfg)
	opts.Fetcher = newClient(cfg, creds)
	opts.Store = st

	fmt.Printf("Attached to %s (session %s)\n", session.URL, session.ID)
	fmt.Println("Press Ctrl+C to detach")

	err = attachSession(ctx, cfg, doc, opts)
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}

// attachSession registers the panels on page and keeps them in sync with its
// navigation until ctx is done. Mounted panels are removed on the way out.
func attachSession(ctx context.Context, cfg *config.Config, page host.Page, opts realisasi.Options) error {
	engine := lifecycle.New(page, lifecycle.Options{
		Watcher: anchor.NewWatcher(cfg.GetWatchTimeout(), cfg.GetWatchPoll()),
		Settler: anchor.NewSettler(cfg.GetSettleCeiling(), cfg.GetSettlePoll()),
	})
	defer engine.Close()

	mod := realisasi.New(opts)
	if err := engine.Register(mod.Descriptor()); err != nil {
		return err
	}

	detector := navigation.NewDetector(navigation.Options{
		HistoryDelay:   cfg.GetHistoryDelay(),
		DedupeWindow:   cfg.GetDedupeWindow(),
		StartupRetries: cfg.GetStartupRetries(),
	})
	signals, err := detector.Run(ctx, page, page)
	if err != nil {
		return err
	}
	actions, err := page.Actions(ctx)
	if err != nil {
		return fmt.Errorf("subscribe actions: %w", err)
	}

	runErr := engine.Run(ctx, signals, actions)

	cleanup, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()
	for _, m := range engine.Modules() {
		if err := engine.Unmount(cleanup, m.ID); err != nil {
			logger.Debug("Unmount failed", zap.String("module", m.ID), zap.Error(err))
		}
	}
	return runErr
}
