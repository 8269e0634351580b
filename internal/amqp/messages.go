package amqp

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// EventType names what happened to a claim.
type EventType string

const (
	EventExpenseCreated EventType = "expense.created"
	EventStatusChanged  EventType = "expense.status_changed"
)

// ExpenseEvent announces a change to a claim. It carries only the ID and
// version; consumers load the claim itself from the database.
type ExpenseEvent struct {
	Type      EventType `json:"type"`
	ID        int64     `json:"id"`
	Version   int64     `json:"version"`
	Status    string    `json:"status"`
	Timestamp time.Time `json:"timestamp"`
}

var ErrInvalidEvent = errors.New("invalid expense event")

func NewExpenseEvent(t EventType, id, version int64, status string) *ExpenseEvent {
	return &ExpenseEvent{
		Type:      t,
		ID:        id,
		Version:   version,
		Status:    status,
		Timestamp: time.Now().UTC(),
	}
}

// ToJSON converts the event to JSON bytes
func (e *ExpenseEvent) ToJSON() ([]byte, error) {
	return json.Marshal(e)
}

// ExpenseEventFromJSON decodes and validates an event body.
func ExpenseEventFromJSON(data []byte) (*ExpenseEvent, error) {
	var ev ExpenseEvent
	if err := json.Unmarshal(data, &ev); err != nil {
		return nil, err
	}
	switch ev.Type {
	case EventExpenseCreated, EventStatusChanged:
	default:
		return nil, fmt.Errorf("%w: unknown type %q", ErrInvalidEvent, ev.Type)
	}
	if ev.ID <= 0 {
		return nil, fmt.Errorf("%w: id must be positive", ErrInvalidEvent)
	}
	if ev.Version <= 0 {
		return nil, fmt.Errorf("%w: version must be positive", ErrInvalidEvent)
	}
	return &ev, nil
}
