package schedule

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"path/filepath"

	"github.com/basket/gotodo/internal/audit"
	"github.com/basket/gotodo/internal/bus"
	"github.com/basket/gotodo/internal/persistence"
	"github.com/basket/gotodo/internal/shared"
)

// Store is the subset of persistence.Store the importer writes through.
type Store interface {
	TaskExists(ctx context.Context, timeLabel, content string) (bool, error)
	CreateTask(ctx context.Context, timeLabel, content string) (*persistence.Task, error)
}

// Recorder receives the counts of each finished import.
type Recorder interface {
	RecordImport(ctx context.Context, inserted, skipped, failed int)
}

type Config struct {
	Store      Store
	Logger     *slog.Logger
	Bus        *bus.Bus
	Metrics    Recorder
	HeaderRows int
}

// Result reports one import run.
type Result struct {
	BatchID  string `json:"batch_id"`
	Inserted int    `json:"inserted_count"`
	Skipped  int    `json:"skipped_count"`
	Failed   int    `json:"failed_count"`
}

type Importer struct {
	store      Store
	logger     *slog.Logger
	bus        *bus.Bus
	metrics    Recorder
	headerRows int
}

func NewImporter(cfg Config) *Importer {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	headerRows := cfg.HeaderRows
	if headerRows <= 0 {
		headerRows = DefaultHeaderRows
	}
	return &Importer{
		store:      cfg.Store,
		logger:     logger.With("component", "schedule"),
		bus:        cfg.Bus,
		metrics:    cfg.Metrics,
		headerRows: headerRows,
	}
}

// Import reads a timetable workbook and inserts every cell not already
// present. Structural problems fail the whole call before any write; a
// store error on one cell is counted in Failed and the run continues.
// Cancelling ctx after the grid has been read does not stop the run.
func (im *Importer) Import(ctx context.Context, filename string, r io.Reader) (Result, error) {
	res := Result{BatchID: shared.NewBatchID()}
	ctx = shared.WithBatchID(ctx, res.BatchID)
	source := filepath.Base(filename)

	rows, err := ReadGrid(filename, r, im.headerRows)
	if err != nil {
		outcome := audit.OutcomeDenied
		if errors.Is(err, ErrUnreadable) {
			outcome = audit.OutcomeFailed
		}
		audit.Record(ctx, "schedule.import", outcome, source, err.Error())
		return Result{}, err
	}

	// Once the grid is read the run finishes: a dropped upload or a daemon
	// shutdown must not turn the remaining cells into failures.
	ctx = context.WithoutCancel(ctx)
	for _, entry := range Normalize(rows) {
		im.importEntry(ctx, entry, &res)
	}

	audit.Record(ctx, "schedule.import", audit.OutcomeOK, source,
		fmt.Sprintf("batch=%s inserted=%d skipped=%d failed=%d", res.BatchID, res.Inserted, res.Skipped, res.Failed))
	im.logger.Info("schedule imported",
		"trace_id", shared.TraceID(ctx),
		"batch_id", res.BatchID,
		"source", source,
		"inserted", res.Inserted,
		"skipped", res.Skipped,
		"failed", res.Failed,
	)
	if im.metrics != nil {
		im.metrics.RecordImport(ctx, res.Inserted, res.Skipped, res.Failed)
	}
	im.bus.Publish(bus.TopicScheduleImported, bus.ScheduleImportedEvent{
		BatchID:  res.BatchID,
		Source:   source,
		Inserted: res.Inserted,
		Skipped:  res.Skipped,
		Failed:   res.Failed,
	})
	return res, nil
}

func (im *Importer) importEntry(ctx context.Context, entry Entry, res *Result) {
	exists, err := im.store.TaskExists(ctx, entry.Time, entry.Content)
	if err != nil {
		res.Failed++
		im.logCellFailure(ctx, entry, "dedup lookup", err)
		return
	}
	if exists {
		res.Skipped++
		return
	}
	if _, err := im.store.CreateTask(ctx, entry.Time, entry.Content); err != nil {
		res.Failed++
		im.logCellFailure(ctx, entry, "insert", err)
		return
	}
	res.Inserted++
}

func (im *Importer) logCellFailure(ctx context.Context, entry Entry, step string, err error) {
	im.logger.Warn("schedule cell skipped",
		"trace_id", shared.TraceID(ctx),
		"batch_id", shared.BatchID(ctx),
		"step", step,
		"sheet_row", entry.Row+im.headerRows+1,
		"sheet_column", entry.Column+1,
		"time", entry.Time,
		"error", err,
	)
}
