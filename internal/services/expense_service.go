package services

import (
	"context"
	"errors"
	"fmt"
	"io"

	"ryohi/internal/amqp"
	"ryohi/internal/core"
	"ryohi/internal/log"
	"ryohi/internal/ports"
)

// ErrInvalidTransition is returned when a status change is not allowed:
// only pending claims can be approved or rejected.
var ErrInvalidTransition = errors.New("invalid status transition")

// EventPublisher is implemented by amqp.Client.
type EventPublisher interface {
	PublishExpenseEvent(ctx context.Context, ev *amqp.ExpenseEvent) error
}

// ExpenseService validates claims, stores them and announces changes.
type ExpenseService struct {
	repo      ports.Repository
	publisher EventPublisher
	logger    *log.Logger
	events    *log.StructuredLogger
	closers   []io.Closer
}

// NewExpenseService wires the service. publisher may be nil, in which case
// no events are sent.
func NewExpenseService(repo ports.Repository, publisher EventPublisher, logger *log.Logger) *ExpenseService {
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	logger = logger.WithComponent(log.ComponentExpense)
	return &ExpenseService{
		repo:      repo,
		publisher: publisher,
		logger:    logger,
		events:    log.NewStructuredLogger(logger),
	}
}

// OnClose registers resources released by Close, in order.
func (s *ExpenseService) OnClose(c io.Closer) {
	if c != nil {
		s.closers = append(s.closers, c)
	}
}

// CreateExpense stores a new claim as pending and publishes expense.created.
// A publish failure is logged; the claim is already saved.
func (s *ExpenseService) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	e.ID = 0
	e.Status = core.StatusPending
	if err := e.Validate(); err != nil {
		return core.Expense{}, err
	}

	id, err := s.repo.Create(ctx, e)
	if err != nil {
		return core.Expense{}, fmt.Errorf("save expense: %w", err)
	}
	saved, err := s.repo.GetExpense(ctx, id)
	if err != nil {
		return core.Expense{}, fmt.Errorf("reload expense %d: %w", id, err)
	}

	s.events.LogExpenseCreated(ctx, saved.ID, saved.UserName, saved.Amount.Int64(), saved.Status.String())
	s.publish(ctx, amqp.EventExpenseCreated, saved)
	return saved, nil
}

// UpdateStatus approves or rejects a pending claim and publishes
// expense.status_changed.
func (s *ExpenseService) UpdateStatus(ctx context.Context, id int64, status core.Status) (core.Expense, error) {
	if status != core.StatusApproved && status != core.StatusRejected {
		return core.Expense{}, fmt.Errorf("%w: cannot set %q", ErrInvalidTransition, status)
	}

	updated, err := s.repo.UpdateStatus(ctx, id, status)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		return core.Expense{}, err
	case errors.Is(err, ports.ErrNotPending):
		return core.Expense{}, fmt.Errorf("%w: expense %d was already decided", ErrInvalidTransition, id)
	case err != nil:
		return core.Expense{}, fmt.Errorf("update status: %w", err)
	}

	s.events.LogStatusChanged(ctx, id, core.StatusPending.String(), updated.Status.String(), updated.Version)
	s.publish(ctx, amqp.EventStatusChanged, updated)
	return updated, nil
}

// ListExpenses returns claims newest first.
func (s *ExpenseService) ListExpenses(ctx context.Context, f ports.ListFilter) ([]core.Expense, error) {
	return s.repo.ListExpenses(ctx, f)
}

func (s *ExpenseService) GetExpense(ctx context.Context, id int64) (core.Expense, error) {
	return s.repo.GetExpense(ctx, id)
}

func (s *ExpenseService) publish(ctx context.Context, t amqp.EventType, e core.Expense) {
	if s.publisher == nil {
		s.logger.DebugContext(ctx, "AMQP publisher not configured, skipping event",
			"type", t, log.FieldExpenseID, e.ID)
		return
	}
	ev := amqp.NewExpenseEvent(t, e.ID, e.Version, e.Status.String())
	if err := s.publisher.PublishExpenseEvent(ctx, ev); err != nil {
		s.events.LogError(ctx, "Failed to publish expense event", err,
			log.ComponentAMQP, log.OpPublish, log.ErrorTypeNetwork,
			log.NewFields().WithExpense(e.ID, e.UserName, e.Amount.Int64(), e.Status.String()))
	}
}

// Close releases registered resources.
func (s *ExpenseService) Close() error {
	var errs []error
	for _, c := range s.closers {
		if err := c.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	if len(errs) > 0 {
		return fmt.Errorf("close expense service: %w", errors.Join(errs...))
	}
	return nil
}
