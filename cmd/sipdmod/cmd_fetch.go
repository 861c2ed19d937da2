// Package main implements the sipdmod CLI commands.
// This file contains the headless retrieval, export and report commands.
package main

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"sipdmod/internal/aggregate"
	"sipdmod/internal/config"
	"sipdmod/internal/modules/realisasi"
	"sipdmod/internal/record"
	"sipdmod/internal/report"
	"sipdmod/internal/retrieval"
	"sipdmod/internal/store"
)

// =============================================================================
// DATA COMMANDS - fetch, export, report
// =============================================================================

var (
	fromMonth int
	toMonth   int
	useCached bool
	exportDir string
	groupBy   []string
)

var fetchCmd = &cobra.Command{
	Use:   "fetch",
	Short: "Fetch a month range and cache it in the snapshot store",
	Long: `Fetches every month of the range from the report endpoint, at most
retrieval.max_concurrent at a time, and stores each month as a snapshot.

Example:
  sipdmod fetch --from 1 --to 3`,
	RunE: runFetch,
}

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Export a month range to the realisasi workbook",
	Long: `Writes the per-document realisasi workbook, with a Rekap sheet grouped by
aggregate.group_by. With --cached the snapshot store is used and nothing is
fetched.`,
	RunE: runExport,
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print a grouped summary of a month range",
	RunE:  runReport,
}

func init() {
	for _, c := range []*cobra.Command{fetchCmd, exportCmd, reportCmd} {
		c.Flags().IntVar(&fromMonth, "from", 1, "First month (1-12)")
		c.Flags().IntVar(&toMonth, "to", int(time.Now().Month()), "Last month (1-12)")
	}
	for _, c := range []*cobra.Command{exportCmd, reportCmd} {
		c.Flags().BoolVar(&useCached, "cached", false, "Read from the snapshot store instead of fetching")
	}
	exportCmd.Flags().StringVarP(&exportDir, "out", "o", "", "Output directory (default: export.dir)")
	reportCmd.Flags().StringSliceVar(&groupBy, "group-by", nil, "Grouping fields (default: aggregate.group_by)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	if err := retrieval.ValidateRange(fromMonth, toMonth); err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	res, err := fetchRange(ctx, cfg, fromMonth, toMonth)
	if err != nil {
		return err
	}

	fmt.Printf("Fetched %d documents for %s in %v\n",
		len(res.Records), realisasi.Period(res.From, res.To), res.Elapsed.Round(time.Millisecond))
	for m := res.From; m <= res.To; m++ {
		fmt.Printf("  %-10s %6d\n", realisasi.MonthName(m), len(res.Month(m)))
	}
	if !cfg.Store.Enabled {
		fmt.Println("Snapshot store disabled; nothing cached.")
	}
	return nil
}

// fetchRange fetches from..to and saves the run when the store is enabled.
func fetchRange(ctx context.Context, cfg *config.Config, from, to int) (*retrieval.Result, error) {
	creds, _, err := credentialChain(cfg, nil)
	if err != nil {
		return nil, err
	}
	client := newClient(cfg, creds)

	logger.Info("Fetching months",
		zap.Int("from", from),
		zap.Int("to", to),
		zap.String("scope", cfg.Retrieval.Scope))
	res, err := client.FetchRange(ctx, from, to)
	if err != nil {
		return nil, fmt.Errorf("fetch failed: %w", err)
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if st != nil {
		defer st.Close()
		if err := realisasi.SaveResult(ctx, st, cfg.Retrieval.Scope, res); err != nil {
			return nil, fmt.Errorf("failed to cache run: %w", err)
		}
		logger.Debug("Run cached", zap.String("run", res.RunID), zap.String("db", st.Path()))
	}
	return res, nil
}

// loadRecords returns from..to either from the snapshot store or by fetching.
func loadRecords(ctx context.Context, cfg *config.Config, from, to int, cached bool) ([]record.RawRecord, error) {
	if !cached {
		res, err := fetchRange(ctx, cfg, from, to)
		if err != nil {
			return nil, err
		}
		return res.Records, nil
	}

	st, err := openStore(cfg)
	if err != nil {
		return nil, err
	}
	if st == nil {
		return nil, errors.New("--cached needs store.enabled")
	}
	defer st.Close()

	recs, missing, err := st.LoadRange(ctx, cfg.Retrieval.Scope, from, to)
	if err != nil {
		return nil, err
	}
	if len(missing) > 0 {
		names := make([]string, len(missing))
		for i, m := range missing {
			names[i] = realisasi.MonthName(m)
		}
		return nil, fmt.Errorf("%w: no snapshot for %v; run 'sipdmod fetch' first", store.ErrNotFound, names)
	}
	logger.Debug("Loaded cached records", zap.Int("records", len(recs)))
	return recs, nil
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := retrieval.ValidateRange(fromMonth, toMonth); err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	recs, err := loadRecords(ctx, cfg, fromMonth, toMonth, useCached)
	if err != nil {
		return err
	}

	opts := moduleOptions(cfg)
	if exportDir != "" {
		opts.ExportDir = exportDir
	}
	path, err := realisasi.WriteExport(opts, recs, fromMonth, toMonth)
	if err != nil {
		return fmt.Errorf("export failed: %w", err)
	}
	fmt.Printf("%d dokumen tersimpan di %s\n", len(recs), path)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	if err := retrieval.ValidateRange(fromMonth, toMonth); err != nil {
		return err
	}
	cfg, _, err := loadConfig()
	if err != nil {
		return err
	}
	ctx, cancel := commandContext()
	defer cancel()

	recs, err := loadRecords(ctx, cfg, fromMonth, toMonth, useCached)
	if err != nil {
		return err
	}

	spec := summarySpec(cfg)
	if len(groupBy) > 0 {
		spec.Keys = groupBy
		spec.Describe = nil
	}
	res := aggregate.Aggregate(recs, spec)

	fmt.Println(report.TerminalTable(res, report.SummaryLayout{
		Title:    "Rekap " + realisasi.Period(fromMonth, toMonth),
		Keys:     spec.Keys,
		Describe: spec.Describe,
		Sums:     spec.Sums,
		Labels:   columnLabels(),
	}, report.DefaultFormatter()))
	return nil
}
