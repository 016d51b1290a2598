// Package audit keeps an append-only trail of task mutations and
// startup failures, written to logs/audit.jsonl and, once a database is
// attached, to the audit_log table.
package audit

import (
	"context"
	"database/sql"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/basket/gotodo/internal/shared"
)

// Outcomes.
const (
	OutcomeOK     = "ok"
	OutcomeDenied = "rejected"
	OutcomeFailed = "failed"
	OutcomeFatal  = "fatal"
)

type entry struct {
	Timestamp string `json:"timestamp"`
	TraceID   string `json:"trace_id"`
	Action    string `json:"action"`
	Outcome   string `json:"outcome"`
	Subject   string `json:"subject,omitempty"`
	Detail    string `json:"detail,omitempty"`
}

var (
	mu           sync.Mutex
	file         *os.File
	db           *sql.DB
	failureCount atomic.Int64
)

func Init(homeDir string) error {
	mu.Lock()
	defer mu.Unlock()
	if file != nil {
		return nil
	}
	logDir := filepath.Join(homeDir, "logs")
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return err
	}
	f, err := os.OpenFile(filepath.Join(logDir, "audit.jsonl"), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return err
	}
	file = f
	return nil
}

// SetDB attaches the database used for audit_log writes. Nil detaches it.
func SetDB(d *sql.DB) {
	mu.Lock()
	defer mu.Unlock()
	db = d
}

func Close() error {
	mu.Lock()
	defer mu.Unlock()
	db = nil
	if file == nil {
		return nil
	}
	err := file.Close()
	file = nil
	return err
}

// FailureCount returns the number of failed or rejected records since startup.
func FailureCount() int64 {
	return failureCount.Load()
}

// Record appends one audit entry. It never fails; write errors are dropped.
func Record(ctx context.Context, action, outcome, subject, detail string) {
	if outcome != OutcomeOK {
		failureCount.Add(1)
	}
	subject = shared.Redact(subject)
	detail = shared.Redact(detail)
	traceID := shared.TraceID(ctx)

	mu.Lock()
	defer mu.Unlock()

	if file != nil {
		b, err := json.Marshal(entry{
			Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
			TraceID:   traceID,
			Action:    action,
			Outcome:   outcome,
			Subject:   subject,
			Detail:    detail,
		})
		if err == nil {
			_, _ = file.Write(append(b, '\n'))
		}
	}

	if db != nil {
		_, _ = db.ExecContext(context.WithoutCancel(ctx), `
			INSERT INTO audit_log (trace_id, action, outcome, subject, detail)
			VALUES (?, ?, ?, ?, ?);
		`, traceID, action, outcome, subject, detail)
	}
}
