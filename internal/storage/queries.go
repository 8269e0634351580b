package storage

import (
	"context"
	"database/sql"
)

type DBTX interface {
	ExecContext(context.Context, string, ...interface{}) (sql.Result, error)
	QueryContext(context.Context, string, ...interface{}) (*sql.Rows, error)
	QueryRowContext(context.Context, string, ...interface{}) *sql.Row
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

type Queries struct {
	db DBTX
}

func (q *Queries) WithTx(tx *sql.Tx) *Queries {
	return &Queries{db: tx}
}

// Expense mirrors one row of the expenses table.
type Expense struct {
	ID            int64
	UserName      string
	Date          string
	Destination   string
	Purpose       string
	Amount        int64
	Status        string
	Version       int64
	CreatedAt     string
	UpdatedAt     string
	SyncedVersion int64
	SyncedAt      sql.NullString
	SyncError     sql.NullString
}

const expenseColumns = `id, user_name, date, destination, purpose, amount, status, version,
created_at, updated_at, synced_version, synced_at, sync_error`

func scanExpense(row interface{ Scan(...interface{}) error }) (Expense, error) {
	var i Expense
	err := row.Scan(
		&i.ID,
		&i.UserName,
		&i.Date,
		&i.Destination,
		&i.Purpose,
		&i.Amount,
		&i.Status,
		&i.Version,
		&i.CreatedAt,
		&i.UpdatedAt,
		&i.SyncedVersion,
		&i.SyncedAt,
		&i.SyncError,
	)
	return i, err
}

const createExpense = `INSERT INTO expenses (
    user_name, date, destination, purpose, amount, status, created_at, updated_at
) VALUES (?, ?, ?, ?, ?, ?, ?, ?)
RETURNING ` + expenseColumns

type CreateExpenseParams struct {
	UserName    string
	Date        string
	Destination string
	Purpose     string
	Amount      int64
	Status      string
	CreatedAt   string
	UpdatedAt   string
}

func (q *Queries) CreateExpense(ctx context.Context, arg CreateExpenseParams) (Expense, error) {
	row := q.db.QueryRowContext(ctx, createExpense,
		arg.UserName,
		arg.Date,
		arg.Destination,
		arg.Purpose,
		arg.Amount,
		arg.Status,
		arg.CreatedAt,
		arg.UpdatedAt,
	)
	return scanExpense(row)
}

const getExpense = `SELECT ` + expenseColumns + ` FROM expenses WHERE id = ?`

func (q *Queries) GetExpense(ctx context.Context, id int64) (Expense, error) {
	row := q.db.QueryRowContext(ctx, getExpense, id)
	return scanExpense(row)
}

const listExpenses = `SELECT ` + expenseColumns + ` FROM expenses
ORDER BY date DESC, id DESC`

func (q *Queries) ListExpenses(ctx context.Context) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpenses)
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

const listExpensesByStatus = `SELECT ` + expenseColumns + ` FROM expenses
WHERE status = ?
ORDER BY date DESC, id DESC`

func (q *Queries) ListExpensesByStatus(ctx context.Context, status string) ([]Expense, error) {
	rows, err := q.db.QueryContext(ctx, listExpensesByStatus, status)
	if err != nil {
		return nil, err
	}
	return collectExpenses(rows)
}

const updateExpenseStatus = `UPDATE expenses
SET status = ?, version = version + 1, updated_at = ?
WHERE id = ? AND status = 'pending'
RETURNING ` + expenseColumns

type UpdateExpenseStatusParams struct {
	Status    string
	UpdatedAt string
	ID        int64
}

func (q *Queries) UpdateExpenseStatus(ctx context.Context, arg UpdateExpenseStatusParams) (Expense, error) {
	row := q.db.QueryRowContext(ctx, updateExpenseStatus, arg.Status, arg.UpdatedAt, arg.ID)
	return scanExpense(row)
}

const getPendingSyncExpenses = `SELECT id, version, created_at FROM expenses
WHERE synced_version < version
ORDER BY id ASC
LIMIT ?`

type GetPendingSyncExpensesRow struct {
	ID        int64
	Version   int64
	CreatedAt string
}

func (q *Queries) GetPendingSyncExpenses(ctx context.Context, limit int64) ([]GetPendingSyncExpensesRow, error) {
	rows, err := q.db.QueryContext(ctx, getPendingSyncExpenses, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []GetPendingSyncExpensesRow
	for rows.Next() {
		var i GetPendingSyncExpensesRow
		if err := rows.Scan(&i.ID, &i.Version, &i.CreatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const markExpenseSynced = `UPDATE expenses
SET synced_version = MAX(synced_version, ?), synced_at = ?, sync_error = NULL
WHERE id = ?`

type MarkExpenseSyncedParams struct {
	Version  int64
	SyncedAt string
	ID       int64
}

func (q *Queries) MarkExpenseSynced(ctx context.Context, arg MarkExpenseSyncedParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, markExpenseSynced, arg.Version, arg.SyncedAt, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

const markExpenseSyncError = `UPDATE expenses SET sync_error = ? WHERE id = ?`

type MarkExpenseSyncErrorParams struct {
	SyncError string
	ID        int64
}

func (q *Queries) MarkExpenseSyncError(ctx context.Context, arg MarkExpenseSyncErrorParams) (int64, error) {
	res, err := q.db.ExecContext(ctx, markExpenseSyncError, arg.SyncError, arg.ID)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func collectExpenses(rows *sql.Rows) ([]Expense, error) {
	defer rows.Close()
	var items []Expense
	for rows.Next() {
		i, err := scanExpense(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Close(); err != nil {
		return nil, err
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}
