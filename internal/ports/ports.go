// Package ports declares the interfaces the service layer needs from its
// storage and export adapters.
package ports

import (
	"context"
	"errors"

	"ryohi/internal/core"
)

// ErrNotFound is returned when no claim exists with the requested ID.
var ErrNotFound = errors.New("expense not found")

// ErrNotPending is returned by StatusUpdater when the claim has already
// been decided.
var ErrNotPending = errors.New("expense is not pending")

// ListFilter narrows a listing. The zero value lists everything.
type ListFilter struct {
	Status core.Status
}

// Matches reports whether e passes the filter.
func (f ListFilter) Matches(e core.Expense) bool {
	return f.Status == "" || e.Status == f.Status
}

// CacheKey identifies the filter in list caches.
func (f ListFilter) CacheKey() string {
	if f.Status == "" {
		return "list:all"
	}
	return "list:" + string(f.Status)
}

// Ports for outbound adapters.
type (
	ExpenseWriter interface {
		// Create stores a new claim and returns its assigned ID.
		Create(ctx context.Context, e core.Expense) (int64, error)
	}

	// ExpenseLister returns claims ordered by date descending, then ID descending.
	ExpenseLister interface {
		ListExpenses(ctx context.Context, f ListFilter) ([]core.Expense, error)
	}

	ExpenseGetter interface {
		GetExpense(ctx context.Context, id int64) (core.Expense, error)
	}

	// StatusUpdater decides a pending claim and bumps its version. The
	// pending check and the write happen atomically; a claim that is no
	// longer pending yields ErrNotPending.
	StatusUpdater interface {
		UpdateStatus(ctx context.Context, id int64, status core.Status) (core.Expense, error)
	}

	// ExpenseExporter pushes a claim to an external spreadsheet.
	ExpenseExporter interface {
		Export(ctx context.Context, e core.Expense) (ref string, err error)
	}

	// Repository is the full set of operations a storage backend provides.
	Repository interface {
		ExpenseWriter
		ExpenseLister
		ExpenseGetter
		StatusUpdater
	}
)
