package main

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"sipdmod/internal/browser"
	"sipdmod/internal/store"
)

var runsLimit int

// sessionsCmd lists what earlier runs left behind.
var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List saved browser sessions",
	RunE:  runSessionsList,
}

var sessionsRunsCmd = &cobra.Command{
	Use:   "runs",
	Short: "List recent fetch runs from the snapshot store",
	RunE:  runSessionsRuns,
}

func init() {
	sessionsRunsCmd.Flags().IntVarP(&runsLimit, "limit", "n", 20, "Number of runs to show")
	sessionsCmd.AddCommand(sessionsRunsCmd)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}

	mgr := browser.NewSessionManager(browserConfig(cfg))
	if err := mgr.LoadSessions(); err != nil {
		return fmt.Errorf("failed to load sessions: %w", err)
	}
	sessions := mgr.List()
	if len(sessions) == 0 {
		fmt.Println("No saved sessions found.")
		return nil
	}

	fmt.Println("Saved Sessions")
	fmt.Println(strings.Repeat("─", 60))
	for i, s := range sessions {
		fmt.Printf("  %d. %s  %s\n", i+1, s.ID, s.URL)
		fmt.Printf("     last active %s (%s)\n", s.LastActive.Format("2006-01-02 15:04"), s.Status)
	}
	fmt.Println(strings.Repeat("─", 60))
	fmt.Printf("Total: %d sessions\n", len(sessions))
	return nil
}

func runSessionsRuns(cmd *cobra.Command, args []string) error {
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	if st == nil {
		fmt.Println("Snapshot store disabled.")
		return nil
	}
	defer st.Close()

	ctx, cancel := commandContext()
	defer cancel()
	runs, err := st.Runs(ctx, runsLimit)
	if err != nil {
		return err
	}
	if len(runs) == 0 {
		fmt.Println("No runs recorded.")
		return nil
	}
	for _, r := range runs {
		printRun(r)
	}
	return nil
}

func printRun(r store.Run) {
	status := "ok"
	if r.Err != "" {
		status = "error: " + r.Err
	}
	fmt.Printf("  %s  %s  scope %s  months %d-%d  %d records  %v  %s\n",
		r.StartedAt.Local().Format("2006-01-02 15:04"), r.Source, r.Scope, r.From, r.To, r.Records, r.Elapsed, status)
}
