package otel

import (
	"context"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel/metric"
)

// Metrics holds the gotodo instruments. It also keeps process-local totals
// so /metrics can report them when no exporter is configured. A nil
// *Metrics discards everything.
type Metrics struct {
	RequestDuration  metric.Float64Histogram
	TaskMutations    metric.Int64Counter
	ImportCells      metric.Int64Counter
	ImportRuns       metric.Int64Counter
	RateLimitRejects metric.Int64Counter
	Backups          metric.Int64Counter

	requests       atomic.Int64
	importRuns     atomic.Int64
	importInserted atomic.Int64
	importSkipped  atomic.Int64
	importFailed   atomic.Int64
	rateRejects    atomic.Int64
	backupsOK      atomic.Int64
	backupsFailed  atomic.Int64
}

// Totals is a snapshot of the process-local counters.
type Totals struct {
	Requests         int64 `json:"requests"`
	ImportRuns       int64 `json:"import_runs"`
	ImportInserted   int64 `json:"import_inserted"`
	ImportSkipped    int64 `json:"import_skipped"`
	ImportFailed     int64 `json:"import_failed"`
	RateLimitRejects int64 `json:"rate_limit_rejects"`
	BackupsOK        int64 `json:"backups_ok"`
	BackupsFailed    int64 `json:"backups_failed"`
}

// NewMetrics creates all metric instruments from the given meter.
func NewMetrics(meter metric.Meter) (*Metrics, error) {
	m := &Metrics{}
	var err error

	m.RequestDuration, err = meter.Float64Histogram("gotodo.request.duration",
		metric.WithDescription("HTTP request duration in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	m.TaskMutations, err = meter.Int64Counter("gotodo.task.mutations",
		metric.WithDescription("Task create, complete and delete operations"),
	)
	if err != nil {
		return nil, err
	}

	m.ImportCells, err = meter.Int64Counter("gotodo.import.cells",
		metric.WithDescription("Schedule cells processed, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	m.ImportRuns, err = meter.Int64Counter("gotodo.import.runs",
		metric.WithDescription("Completed schedule imports"),
	)
	if err != nil {
		return nil, err
	}

	m.RateLimitRejects, err = meter.Int64Counter("gotodo.ratelimit.rejects",
		metric.WithDescription("Requests rejected by rate limiter"),
	)
	if err != nil {
		return nil, err
	}

	m.Backups, err = meter.Int64Counter("gotodo.backup.runs",
		metric.WithDescription("Database backups, by outcome"),
	)
	if err != nil {
		return nil, err
	}

	return m, nil
}

func (m *Metrics) RecordRequest(ctx context.Context, route string, status int, elapsed time.Duration) {
	if m == nil {
		return
	}
	m.requests.Add(1)
	m.RequestDuration.Record(ctx, elapsed.Seconds(), metric.WithAttributes(
		AttrRoute.String(route),
		AttrStatus.Int(status),
	))
}

// RecordTaskMutation counts one create, complete or delete.
func (m *Metrics) RecordTaskMutation(ctx context.Context, op string) {
	if m == nil {
		return
	}
	m.TaskMutations.Add(ctx, 1, metric.WithAttributes(AttrOperation.String(op)))
}

// RecordImport satisfies schedule.Recorder.
func (m *Metrics) RecordImport(ctx context.Context, inserted, skipped, failed int) {
	if m == nil {
		return
	}
	m.importRuns.Add(1)
	m.importInserted.Add(int64(inserted))
	m.importSkipped.Add(int64(skipped))
	m.importFailed.Add(int64(failed))
	m.ImportRuns.Add(ctx, 1)
	for outcome, n := range map[string]int{"inserted": inserted, "skipped": skipped, "failed": failed} {
		if n > 0 {
			m.ImportCells.Add(ctx, int64(n), metric.WithAttributes(AttrOutcome.String(outcome)))
		}
	}
}

func (m *Metrics) RecordRateLimitReject(ctx context.Context, route string) {
	if m == nil {
		return
	}
	m.rateRejects.Add(1)
	m.RateLimitRejects.Add(ctx, 1, metric.WithAttributes(AttrRoute.String(route)))
}

func (m *Metrics) RecordBackup(ctx context.Context, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "failed"
		m.backupsFailed.Add(1)
	} else {
		m.backupsOK.Add(1)
	}
	m.Backups.Add(ctx, 1, metric.WithAttributes(AttrOutcome.String(outcome)))
}

func (m *Metrics) Totals() Totals {
	if m == nil {
		return Totals{}
	}
	return Totals{
		Requests:         m.requests.Load(),
		ImportRuns:       m.importRuns.Load(),
		ImportInserted:   m.importInserted.Load(),
		ImportSkipped:    m.importSkipped.Load(),
		ImportFailed:     m.importFailed.Load(),
		RateLimitRejects: m.rateRejects.Load(),
		BackupsOK:        m.backupsOK.Load(),
		BackupsFailed:    m.backupsFailed.Load(),
	}
}
