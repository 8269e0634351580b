package memory

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"strings"
	"sync"
	"time"

	"ryohi/internal/core"
	"ryohi/internal/ports"
)

// Store keeps claims in process memory. Used for development and tests.
type Store struct {
	mu     sync.Mutex
	items  []core.Expense
	nextID int64
	now    func() time.Time
}

func New(seed ...core.Expense) *Store {
	s := &Store{now: time.Now}
	for _, e := range seed {
		_, _ = s.insert(e)
	}
	return s
}

// NewFromFile seeds the store from a pipe-separated file with one claim per
// line: user|date|destination|purpose|amount|status. Blank lines and lines
// starting with # are skipped, as are malformed ones.
func NewFromFile(path string) *Store {
	s := New()
	for _, line := range readLines(path) {
		e, err := parseSeedLine(line)
		if err != nil {
			continue
		}
		_, _ = s.insert(e)
	}
	return s
}

// Create stores the claim and returns its ID.
func (s *Store) Create(_ context.Context, e core.Expense) (int64, error) {
	if err := e.Validate(); err != nil {
		return 0, err
	}
	return s.insert(e)
}

func (s *Store) insert(e core.Expense) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextID++
	now := s.now().UTC()
	e.ID = s.nextID
	if e.Version == 0 {
		e.Version = 1
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = now
	}
	e.UpdatedAt = now
	s.items = append(s.items, e)
	return e.ID, nil
}

// ListExpenses returns a copy of the matching claims, newest first.
func (s *Store) ListExpenses(_ context.Context, f ports.ListFilter) ([]core.Expense, error) {
	s.mu.Lock()
	out := make([]core.Expense, 0, len(s.items))
	for _, e := range s.items {
		if f.Matches(e) {
			out = append(out, e)
		}
	}
	s.mu.Unlock()
	core.SortNewestFirst(out)
	return out, nil
}

func (s *Store) GetExpense(_ context.Context, id int64) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, e := range s.items {
		if e.ID == id {
			return e, nil
		}
	}
	return core.Expense{}, ports.ErrNotFound
}

func (s *Store) UpdateStatus(_ context.Context, id int64, status core.Status) (core.Expense, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.items {
		if s.items[i].ID == id {
			if s.items[i].Status != core.StatusPending {
				return core.Expense{}, ports.ErrNotPending
			}
			s.items[i].Status = status
			s.items[i].Version++
			s.items[i].UpdatedAt = s.now().UTC()
			return s.items[i], nil
		}
	}
	return core.Expense{}, ports.ErrNotFound
}

func parseSeedLine(line string) (core.Expense, error) {
	parts := strings.Split(line, "|")
	if len(parts) != 6 {
		return core.Expense{}, fmt.Errorf("expected 6 fields, got %d", len(parts))
	}
	for i := range parts {
		parts[i] = strings.TrimSpace(parts[i])
	}
	d, err := core.ParseDate(parts[1])
	if err != nil {
		return core.Expense{}, err
	}
	amt, err := core.ParseYen(parts[4])
	if err != nil {
		return core.Expense{}, err
	}
	// Seed files may carry legacy status values; they are kept as-is.
	return core.Expense{
		UserName:    parts[0],
		Date:        d,
		Destination: parts[2],
		Purpose:     parts[3],
		Amount:      amt,
		Status:      core.Status(parts[5]),
	}, nil
}

func readLines(path string) []string {
	f, err := os.Open(path)
	if err != nil {
		return nil
	}
	defer f.Close()
	var out []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		out = append(out, line)
	}
	return out
}
