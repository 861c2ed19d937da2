// Package realisasi is the "Filter Tambahan" panel for the realisasi report
// page. It lets the user pick a month range, shows every document of that
// range as a table and exports it as a workbook.
package realisasi

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"time"

	"sipdmod/internal/aggregate"
	"sipdmod/internal/host"
	"sipdmod/internal/lifecycle"
	"sipdmod/internal/logging"
	"sipdmod/internal/record"
	"sipdmod/internal/report"
	"sipdmod/internal/retrieval"
	"sipdmod/internal/store"
)

const (
	ModuleID   = "realisasi-filter"
	Name       = "Filter Tambahan"
	URLPattern = "/pengeluaran/laporan/realisasi"
	Selector   = "div.container-fluid"
	BusyLabel  = "Mohon Tunggu ..."
	MountDelay = time.Second

	ActionView     = "view"
	ActionDownload = "download"

	FieldStart = "bulanAwal"
	FieldEnd   = "bulanAkhir"

	noticeClass = "sipd-notice"
	resultClass = "sipd-result"
)

var (
	noticeSelector = "." + noticeClass
	resultSelector = "." + resultClass
)

// ErrNoRange is returned when the panel's month selects are not filled in.
var ErrNoRange = errors.New("realisasi: month range not selected")

// Fetcher retrieves a month range. *retrieval.Client satisfies it.
type Fetcher interface {
	FetchRange(ctx context.Context, from, to int) (*retrieval.Result, error)
}

// Options configures the module.
type Options struct {
	Fetcher Fetcher
	// Store, when set, receives every fetched month.
	Store *store.Store
	Scope string

	ExportDir string
	FileName  string
	Title     string
	SheetName string
	// Summary drives the Rekap sheet. Empty Keys disables it.
	Summary aggregate.Spec

	Formatter *report.Formatter
	Subtitle  string
}

type cached struct {
	from, to int
	records  []record.RawRecord
}

// Module holds the per-mount state of the panel.
type Module struct {
	opts Options

	mu   sync.Mutex
	last *cached
}

func (o Options) withDefaults() Options {
	if o.Formatter == nil {
		o.Formatter = report.DefaultFormatter()
	}
	if o.FileName == "" {
		o.FileName = "Laporan Realisasi Per Dokumen.xlsx"
	}
	if o.Title == "" {
		o.Title = "LAPORAN REALISASI PER DOKUMEN"
	}
	if o.SheetName == "" {
		o.SheetName = "Data Realisasi Dokumen"
	}
	if o.Subtitle == "" {
		o.Subtitle = "SIPD Mod"
	}
	return o
}

// New creates the module.
func New(opts Options) *Module {
	return &Module{opts: opts.withDefaults()}
}

// Descriptor returns the registration for the lifecycle engine.
func (m *Module) Descriptor() lifecycle.ModuleDescriptor {
	return lifecycle.ModuleDescriptor{
		ID:         ModuleID,
		Name:       Name,
		URLPattern: URLPattern,
		Selector:   Selector,
		Position:   host.BeforeEnd,
		Render:     func() string { return renderPanel(Name, m.opts.Subtitle) },
		OnMount:    m.onMount,
		OnUnmount:  m.onUnmount,
		Readiness:  lifecycle.ReadinessSettle,
		MountDelay: MountDelay,
		Actions: map[string]lifecycle.ActionFunc{
			ActionView:     m.view,
			ActionDownload: m.download,
		},
		BusyLabel: BusyLabel,
	}
}

func (m *Module) onMount(ctx context.Context, node host.Node) {
	m.mu.Lock()
	m.last = nil
	m.mu.Unlock()
	logging.LifecycleDebug("%s mounted at %s", ModuleID, node.Describe())
}

func (m *Module) onUnmount(node host.Node) {
	m.mu.Lock()
	m.last = nil
	m.mu.Unlock()
}

// Cached returns the records of the last view in this mount.
func (m *Module) Cached() (from, to int, recs []record.RawRecord, ok bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.last == nil {
		return 0, 0, nil, false
	}
	return m.last.from, m.last.to, m.last.records, true
}

// ParseRange reads the start and end month from panel form values.
func ParseRange(values map[string]string) (from, to int, err error) {
	from, errFrom := strconv.Atoi(strings.TrimSpace(values[FieldStart]))
	to, errTo := strconv.Atoi(strings.TrimSpace(values[FieldEnd]))
	if errFrom != nil || errTo != nil {
		return 0, 0, ErrNoRange
	}
	if err := retrieval.ValidateRange(from, to); err != nil {
		return 0, 0, err
	}
	return from, to, nil
}

func (m *Module) rangeOf(ctx context.Context, ac lifecycle.ActionContext) (int, int, error) {
	values := ac.Action.Values
	if len(values) == 0 {
		v, err := ac.Panel.FormValues(ctx, ac.ModuleID)
		if err != nil {
			return 0, 0, err
		}
		values = v
	}
	return ParseRange(values)
}

func (m *Module) notify(ctx context.Context, panel host.Panel, text string, isErr bool) {
	if err := panel.SetContent(context.WithoutCancel(ctx), ModuleID, noticeSelector, renderNotice(text, isErr)); err != nil {
		logging.LifecycleWarn("%s: notice not shown: %v", ModuleID, err)
	}
}

func rangeMessage(err error) string {
	if errors.Is(err, ErrNoRange) {
		return "Pilih bulan awal dan bulan akhir terlebih dahulu."
	}
	return "Bulan akhir tidak boleh sebelum bulan awal."
}

// fetch retrieves from..to and stores the snapshot when a store is set.
func (m *Module) fetch(ctx context.Context, from, to int) ([]record.RawRecord, error) {
	res, err := m.opts.Fetcher.FetchRange(ctx, from, to)
	if err != nil {
		return nil, err
	}
	if m.opts.Store != nil {
		if err := SaveResult(ctx, m.opts.Store, m.opts.Scope, res); err != nil {
			logging.LifecycleWarn("%s: snapshot not saved: %v", ModuleID, err)
		}
	}
	return res.Records, nil
}

// SaveResult stores every month of res as a snapshot under scope.
func SaveResult(ctx context.Context, st *store.Store, scope string, res *retrieval.Result) error {
	snaps := make([]store.Snapshot, 0, res.To-res.From+1)
	for mo := res.From; mo <= res.To; mo++ {
		snaps = append(snaps, store.Snapshot{Scope: scope, Month: mo, Records: res.Month(mo)})
	}
	return st.SaveRun(ctx, store.Run{
		ID:        res.RunID,
		Scope:     scope,
		From:      res.From,
		To:        res.To,
		StartedAt: time.Now().Add(-res.Elapsed),
		Elapsed:   res.Elapsed,
		Records:   len(res.Records),
		Source:    store.SourceRemote,
	}, snaps)
}

func (m *Module) view(ctx context.Context, ac lifecycle.ActionContext) error {
	from, to, err := m.rangeOf(ctx, ac)
	if err != nil {
		m.notify(ctx, ac.Panel, rangeMessage(err), true)
		return err
	}

	recs, err := m.fetch(ctx, from, to)
	if err != nil {
		m.notify(ctx, ac.Panel, "Gagal mengambil data: "+err.Error(), true)
		return err
	}

	m.mu.Lock()
	m.last = &cached{from: from, to: to, records: recs}
	m.mu.Unlock()

	table, err := report.HTMLTable(report.RealisasiColumns, recs, m.opts.Formatter)
	if err != nil {
		return err
	}
	m.notify(ctx, ac.Panel, "Periode "+Period(from, to), false)
	if err := ac.Panel.SetContent(ctx, ModuleID, resultSelector, table); err != nil {
		return fmt.Errorf("show table: %w", err)
	}
	logging.Lifecycle("%s: showing %d documents for %s", ModuleID, len(recs), Period(from, to))
	return nil
}

func (m *Module) download(ctx context.Context, ac lifecycle.ActionContext) error {
	from, to, err := m.rangeOf(ctx, ac)
	if err != nil {
		m.notify(ctx, ac.Panel, rangeMessage(err), true)
		return err
	}

	var (
		recs []record.RawRecord
		hit  bool
	)
	m.mu.Lock()
	if m.last != nil && m.last.from == from && m.last.to == to {
		recs, hit = m.last.records, true
	}
	m.mu.Unlock()

	if !hit {
		if recs, err = m.fetch(ctx, from, to); err != nil {
			m.notify(ctx, ac.Panel, "Gagal mengambil data: "+err.Error(), true)
			return err
		}
	} else {
		logging.LifecycleDebug("%s: exporting cached view of %s", ModuleID, Period(from, to))
	}

	path, err := m.Export(recs, from, to)
	if err != nil {
		m.notify(ctx, ac.Panel, "Gagal menyimpan file: "+err.Error(), true)
		return err
	}
	m.notify(ctx, ac.Panel, fmt.Sprintf("%d dokumen tersimpan di %s", len(recs), path), false)
	return nil
}

// Export writes recs to the configured workbook path and returns it.
func (m *Module) Export(recs []record.RawRecord, from, to int) (string, error) {
	return WriteExport(m.opts, recs, from, to)
}

// WriteExport writes the realisasi workbook for recs into opts.ExportDir.
// The file is written under a temporary name and renamed into place.
func WriteExport(opts Options, recs []record.RawRecord, from, to int) (path string, err error) {
	opts = opts.withDefaults()
	start := time.Now()
	path = filepath.Join(opts.ExportDir, opts.FileName)
	defer func() { logging.Audit().Export(path, len(recs), time.Since(start), err) }()

	wb := report.Workbook{
		Title:     opts.Title,
		Subtitles: []string{"Periode " + Period(from, to)},
		SheetName: opts.SheetName,
		Columns:   report.RealisasiColumns,
		Records:   recs,
	}
	if opts.Scope != "" {
		wb.Subtitles = append(wb.Subtitles, "SKPD "+opts.Scope)
	}
	if len(opts.Summary.Keys) > 0 {
		sum := aggregate.Aggregate(recs, opts.Summary)
		wb.Summary = &sum
		wb.SummaryKeys = opts.Summary.Keys
		wb.SummaryDescribe = opts.Summary.Describe
		wb.SummarySums = opts.Summary.Sums
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return "", fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(path), ".export-*.xlsx")
	if err != nil {
		return "", fmt.Errorf("create export file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if err := report.WriteWorkbook(tmp, wb, opts.Formatter); err != nil {
		tmp.Close()
		return "", err
	}
	if err := tmp.Close(); err != nil {
		return "", fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return "", fmt.Errorf("move export file: %w", err)
	}
	logging.Report("Exported %d records to %s", len(recs), path)
	return path, nil
}
