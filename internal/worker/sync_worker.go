package worker

import (
	"context"
	"errors"
	"fmt"

	"ryohi/internal/amqp"
	"ryohi/internal/core"
	"ryohi/internal/log"
	"ryohi/internal/ports"
	"ryohi/internal/storage"
)

// SyncStore is the part of storage.SQLiteRepository the worker needs.
type SyncStore interface {
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	GetPendingSyncExpenses(ctx context.Context, limit int) ([]storage.PendingSyncExpense, error)
	MarkSynced(ctx context.Context, id, version int64) error
	MarkSyncError(ctx context.Context, id int64, cause error) error
}

var _ SyncStore = (*storage.SQLiteRepository)(nil)

// SyncWorker exports claims from SQLite to the spreadsheet.
type SyncWorker struct {
	store     SyncStore
	exporter  ports.ExpenseExporter
	batchSize int
	logger    *log.Logger
}

func NewSyncWorker(store SyncStore, exporter ports.ExpenseExporter, batchSize int, logger *log.Logger) *SyncWorker {
	if batchSize < 1 {
		batchSize = 1
	}
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	return &SyncWorker{
		store:     store,
		exporter:  exporter,
		batchSize: batchSize,
		logger:    logger.WithComponent(log.ComponentWorker),
	}
}

// HandleEvent exports the claim named by an AMQP event. The current stored
// state is exported, so a stale event still converges on the latest row.
// Events for claims that no longer exist are dropped.
func (w *SyncWorker) HandleEvent(ctx context.Context, ev *amqp.ExpenseEvent) error {
	w.logger.InfoContext(ctx, "Processing expense event",
		"type", ev.Type,
		log.FieldExpenseID, ev.ID,
		log.FieldVersion, ev.Version)

	expense, err := w.store.GetExpense(ctx, ev.ID)
	if errors.Is(err, ports.ErrNotFound) {
		w.logger.WarnContext(ctx, "Dropping event for unknown expense", log.FieldExpenseID, ev.ID)
		return nil
	}
	if err != nil {
		return fmt.Errorf("get expense from storage: %w", err)
	}

	if err := w.export(ctx, expense); err != nil {
		return fmt.Errorf("export expense: %w", err)
	}
	return nil
}

// ProcessPendingExpenses exports one batch of claims whose latest version
// has not reached the sheet. It is the backstop for lost AMQP messages.
func (w *SyncWorker) ProcessPendingExpenses(ctx context.Context) error {
	synced, failed, err := w.processBatch(ctx, w.batchSize)
	if err != nil {
		return err
	}
	if synced+failed > 0 {
		w.logger.InfoContext(ctx, "Processed pending expenses", "synced", synced, "errors", failed)
	}
	return nil
}

// StartupSyncCheck drains a larger batch once when the worker starts.
func (w *SyncWorker) StartupSyncCheck(ctx context.Context) error {
	synced, failed, err := w.processBatch(ctx, w.batchSize*5)
	if err != nil {
		return fmt.Errorf("startup sync check: %w", err)
	}
	if synced+failed == 0 {
		w.logger.InfoContext(ctx, "No pending expenses found on startup")
		return nil
	}
	w.logger.InfoContext(ctx, "Startup sync completed",
		"total", synced+failed,
		"synced", synced,
		"errors", failed)
	return nil
}

func (w *SyncWorker) processBatch(ctx context.Context, limit int) (synced, failed int, err error) {
	pending, err := w.store.GetPendingSyncExpenses(ctx, limit)
	if err != nil {
		return 0, 0, fmt.Errorf("get pending expenses: %w", err)
	}

	for _, p := range pending {
		if ctx.Err() != nil {
			return synced, failed, ctx.Err()
		}

		expense, err := w.store.GetExpense(ctx, p.ID)
		if err != nil {
			w.logger.ErrorContext(ctx, "Failed to get expense", log.FieldExpenseID, p.ID, log.FieldError, err)
			if markErr := w.store.MarkSyncError(ctx, p.ID, err); markErr != nil {
				w.logger.ErrorContext(ctx, "Failed to mark sync error", log.FieldExpenseID, p.ID, log.FieldError, markErr)
			}
			failed++
			continue
		}

		if err := w.export(ctx, expense); err != nil {
			w.logger.ErrorContext(ctx, "Failed to sync expense", log.FieldExpenseID, p.ID, log.FieldError, err)
			failed++
			continue
		}
		synced++
	}
	return synced, failed, nil
}

// export writes the row and records the exported version. A failure to
// record success is only logged: the row is already in the sheet and the
// next export overwrites it in place.
func (w *SyncWorker) export(ctx context.Context, e core.Expense) error {
	ref, err := w.exporter.Export(ctx, e)
	if err != nil {
		if markErr := w.store.MarkSyncError(ctx, e.ID, err); markErr != nil {
			w.logger.ErrorContext(ctx, "Failed to mark sync error", log.FieldExpenseID, e.ID, log.FieldError, markErr)
		}
		return err
	}

	if err := w.store.MarkSynced(ctx, e.ID, e.Version); err != nil {
		w.logger.ErrorContext(ctx, "Failed to mark as synced", log.FieldExpenseID, e.ID, log.FieldError, err)
	}

	w.logger.InfoContext(ctx, "Exported expense",
		log.FieldExpenseID, e.ID,
		log.FieldVersion, e.Version,
		log.FieldStatus, e.Status.String(),
		log.FieldSheetsRef, ref)
	return nil
}
