package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"ryohi/internal/core"
	"ryohi/internal/ports"

	_ "modernc.org/sqlite"
)

const timestampLayout = time.RFC3339Nano

type SQLiteRepository struct {
	db      *sql.DB
	queries *Queries
	now     func() time.Time
}

func NewSQLiteRepository(dbPath string) (*SQLiteRepository, error) {
	if err := os.MkdirAll(filepath.Dir(dbPath), 0755); err != nil {
		return nil, fmt.Errorf("create db directory: %w", err)
	}

	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}
	// A single writer avoids SQLITE_BUSY between the server and its own goroutines.
	db.SetMaxOpenConns(1)

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	if err := RunMigrations(dbPath); err != nil {
		db.Close()
		return nil, fmt.Errorf("run migrations: %w", err)
	}

	return &SQLiteRepository{
		db:      db,
		queries: New(db),
		now:     time.Now,
	}, nil
}

func (r *SQLiteRepository) Close() error {
	if r.db != nil {
		return r.db.Close()
	}
	return nil
}

// Create implements ports.ExpenseWriter
func (r *SQLiteRepository) Create(ctx context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	now := r.now().UTC().Format(timestampLayout)
	row, err := r.queries.CreateExpense(ctx, CreateExpenseParams{
		UserName:    e.UserName,
		Date:        e.Date.String(),
		Destination: e.Destination,
		Purpose:     e.Purpose,
		Amount:      e.Amount.Int64(),
		Status:      e.Status.String(),
		CreatedAt:   now,
		UpdatedAt:   now,
	})
	if err != nil {
		return 0, fmt.Errorf("create expense: %w", err)
	}

	slog.InfoContext(ctx, "Expense saved to SQLite",
		"id", row.ID,
		"user_name", row.UserName,
		"date", row.Date,
		"amount", row.Amount)

	return row.ID, nil
}

// ListExpenses implements ports.ExpenseLister
func (r *SQLiteRepository) ListExpenses(ctx context.Context, f ports.ListFilter) ([]core.Expense, error) {
	var (
		rows []Expense
		err  error
	)
	if f.Status == "" {
		rows, err = r.queries.ListExpenses(ctx)
	} else {
		rows, err = r.queries.ListExpensesByStatus(ctx, f.Status.String())
	}
	if err != nil {
		return nil, fmt.Errorf("list expenses: %w", err)
	}

	expenses := make([]core.Expense, 0, len(rows))
	for _, row := range rows {
		e, err := row.toDomain()
		if err != nil {
			return nil, fmt.Errorf("decode expense %d: %w", row.ID, err)
		}
		expenses = append(expenses, e)
	}
	return expenses, nil
}

// GetExpense implements ports.ExpenseGetter
func (r *SQLiteRepository) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	row, err := r.queries.GetExpense(ctx, id)
	if errors.Is(err, sql.ErrNoRows) {
		return core.Expense{}, ports.ErrNotFound
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("get expense by id: %w", err)
	}
	return row.toDomain()
}

// UpdateStatus implements ports.StatusUpdater
func (r *SQLiteRepository) UpdateStatus(ctx context.Context, id int64, status core.Status) (core.Expense, error) {
	row, err := r.queries.UpdateExpenseStatus(ctx, UpdateExpenseStatusParams{
		Status:    status.String(),
		UpdatedAt: r.now().UTC().Format(timestampLayout),
		ID:        id,
	})
	if errors.Is(err, sql.ErrNoRows) {
		// Nothing matched: either the claim is missing or it was already decided.
		if _, getErr := r.queries.GetExpense(ctx, id); errors.Is(getErr, sql.ErrNoRows) {
			return core.Expense{}, ports.ErrNotFound
		} else if getErr != nil {
			return core.Expense{}, fmt.Errorf("get expense by id: %w", getErr)
		}
		return core.Expense{}, ports.ErrNotPending
	}
	if err != nil {
		return core.Expense{}, fmt.Errorf("update expense status: %w", err)
	}

	slog.InfoContext(ctx, "Expense status updated",
		"id", row.ID,
		"status", row.Status,
		"version", row.Version)

	return row.toDomain()
}

// PendingSyncExpense represents minimal data needed for sync queue messages
type PendingSyncExpense struct {
	ID        int64
	Version   int64
	CreatedAt time.Time
}

// GetPendingSyncExpenses returns claims whose latest version has not been exported yet.
func (r *SQLiteRepository) GetPendingSyncExpenses(ctx context.Context, limit int) ([]PendingSyncExpense, error) {
	rows, err := r.queries.GetPendingSyncExpenses(ctx, int64(limit))
	if err != nil {
		return nil, fmt.Errorf("get pending sync expenses: %w", err)
	}

	out := make([]PendingSyncExpense, len(rows))
	for i, row := range rows {
		created, err := parseTimestamp(row.CreatedAt)
		if err != nil {
			// Only informational here; the export reloads the full row.
			slog.WarnContext(ctx, "Invalid created_at on pending expense", "id", row.ID, "error", err)
		}
		out[i] = PendingSyncExpense{
			ID:        row.ID,
			Version:   row.Version,
			CreatedAt: created,
		}
	}
	return out, nil
}

// MarkSynced records that version of the claim has been exported. Older
// versions never move the marker backwards.
func (r *SQLiteRepository) MarkSynced(ctx context.Context, id, version int64) error {
	n, err := r.queries.MarkExpenseSynced(ctx, MarkExpenseSyncedParams{
		Version:  version,
		SyncedAt: r.now().UTC().Format(timestampLayout),
		ID:       id,
	})
	if err != nil {
		return fmt.Errorf("mark expense synced: %w", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}

	slog.InfoContext(ctx, "Expense marked as synced", "id", id, "version", version)
	return nil
}

// MarkSyncError stores the last export failure for the claim.
func (r *SQLiteRepository) MarkSyncError(ctx context.Context, id int64, cause error) error {
	msg := "unknown error"
	if cause != nil {
		msg = cause.Error()
	}
	n, err := r.queries.MarkExpenseSyncError(ctx, MarkExpenseSyncErrorParams{SyncError: msg, ID: id})
	if err != nil {
		return fmt.Errorf("mark expense sync error: %w", err)
	}
	if n == 0 {
		return ports.ErrNotFound
	}

	slog.WarnContext(ctx, "Expense marked with sync error", "id", id, "error", msg)
	return nil
}

// Ping reports whether the database is reachable.
func (r *SQLiteRepository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

func (row Expense) toDomain() (core.Expense, error) {
	d, err := core.ParseDate(row.Date)
	if err != nil {
		return core.Expense{}, err
	}
	created, err := parseTimestamp(row.CreatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d created_at: %w", row.ID, err)
	}
	updated, err := parseTimestamp(row.UpdatedAt)
	if err != nil {
		return core.Expense{}, fmt.Errorf("expense %d updated_at: %w", row.ID, err)
	}
	return core.Expense{
		ID:          row.ID,
		UserName:    row.UserName,
		Date:        d,
		Destination: row.Destination,
		Purpose:     row.Purpose,
		Amount:      core.Yen(row.Amount),
		Status:      core.Status(row.Status),
		Version:     row.Version,
		CreatedAt:   created,
		UpdatedAt:   updated,
	}, nil
}

func parseTimestamp(s string) (time.Time, error) {
	t, err := time.Parse(timestampLayout, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid timestamp %q: %w", s, err)
	}
	return t, nil
}
