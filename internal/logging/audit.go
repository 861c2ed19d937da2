package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// =============================================================================
// AUDIT EVENT TYPES
// =============================================================================

// AuditEventType identifies one auditable state transition.
type AuditEventType string

const (
	// Module lifecycle
	AuditModuleRegister AuditEventType = "module_register"
	AuditModuleWatch    AuditEventType = "module_watch"
	AuditModuleTimeout  AuditEventType = "module_timeout"
	AuditModuleMount    AuditEventType = "module_mount"
	AuditModuleSkip     AuditEventType = "module_skip"
	AuditModuleUnmount  AuditEventType = "module_unmount"

	// User actions inside mounted panels
	AuditActionStart    AuditEventType = "action_start"
	AuditActionComplete AuditEventType = "action_complete"

	// Retrieval runs
	AuditFetchRun AuditEventType = "fetch_run"

	// Exports
	AuditExport AuditEventType = "export"
)

// AuditEvent is one line in the audit trail.
type AuditEvent struct {
	Type       AuditEventType
	Subject    string // module id, run id, or output path
	Detail     string
	DurationMs int64
	Success    bool
	Error      string
}

// AuditLogger writes audit events as JSON lines.
type AuditLogger struct {
	logger *zap.Logger
}

var (
	auditLogger *AuditLogger
	auditFile   *os.File
	auditMu     sync.Mutex
)

// InitAudit opens <logs>/audit.jsonl. It is a no-op outside debug mode.
func InitAudit() error {
	auditMu.Lock()
	defer auditMu.Unlock()

	if !IsDebugMode() || logsDir == "" {
		return nil
	}
	if auditLogger != nil {
		return nil
	}

	f, err := os.OpenFile(filepath.Join(logsDir, "audit.jsonl"), os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		return err
	}
	encCfg := zap.NewProductionEncoderConfig()
	encCfg.TimeKey = "ts"
	encCfg.EncodeTime = zapcore.EpochMillisTimeEncoder
	encCfg.LevelKey = ""
	core := zapcore.NewCore(zapcore.NewJSONEncoder(encCfg), zapcore.AddSync(f), zapcore.InfoLevel)

	auditFile = f
	auditLogger = &AuditLogger{logger: zap.New(core)}
	return nil
}

// CloseAudit flushes and closes the audit trail.
func CloseAudit() {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger != nil {
		_ = auditLogger.logger.Sync()
	}
	if auditFile != nil {
		auditFile.Close()
	}
	auditLogger = nil
	auditFile = nil
}

// Audit returns the global audit logger. The returned value is never nil.
func Audit() *AuditLogger {
	auditMu.Lock()
	defer auditMu.Unlock()
	if auditLogger == nil {
		return &AuditLogger{}
	}
	return auditLogger
}

// Log writes one event.
func (a *AuditLogger) Log(e AuditEvent) {
	if a == nil || a.logger == nil {
		return
	}
	fields := []zap.Field{
		zap.String("subject", e.Subject),
		zap.Bool("success", e.Success),
	}
	if e.Detail != "" {
		fields = append(fields, zap.String("detail", e.Detail))
	}
	if e.DurationMs > 0 {
		fields = append(fields, zap.Int64("duration_ms", e.DurationMs))
	}
	if e.Error != "" {
		fields = append(fields, zap.String("error", e.Error))
	}
	a.logger.Info(string(e.Type), fields...)
}

// ModuleEvent records a lifecycle transition for a module.
func (a *AuditLogger) ModuleEvent(t AuditEventType, moduleID, detail string) {
	a.Log(AuditEvent{Type: t, Subject: moduleID, Detail: detail, Success: true})
}

// ActionComplete records the end of a panel action.
func (a *AuditLogger) ActionComplete(moduleID, action string, elapsed time.Duration, err error) {
	e := AuditEvent{
		Type:       AuditActionComplete,
		Subject:    moduleID,
		Detail:     action,
		DurationMs: elapsed.Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log(e)
}

// FetchRun records one retrieval pipeline run.
func (a *AuditLogger) FetchRun(runID string, tasks, records int, elapsed time.Duration, err error) {
	e := AuditEvent{
		Type:       AuditFetchRun,
		Subject:    runID,
		Detail:     formatCounts(tasks, records),
		DurationMs: elapsed.Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log(e)
}

func formatCounts(tasks, records int) string {
	return fmt.Sprintf("tasks=%d records=%d", tasks, records)
}

// Export records a written report file.
func (a *AuditLogger) Export(path string, records int, elapsed time.Duration, err error) {
	e := AuditEvent{
		Type:       AuditExport,
		Subject:    path,
		Detail:     fmt.Sprintf("records=%d", records),
		DurationMs: elapsed.Milliseconds(),
		Success:    err == nil,
	}
	if err != nil {
		e.Error = err.Error()
	}
	a.Log(e)
}
