package core

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"
)

const dateLayout = "2006-01-02"

type (
	Date struct {
		time.Time
	}

	// Expense is one business-trip expense claim.
	Expense struct {
		ID          int64
		UserName    string // Requester display name
		Date        Date
		Destination string
		Purpose     string
		Amount      Yen
		Status      Status
		Version     int64 // Bumped on every status change
		CreatedAt   time.Time
		UpdatedAt   time.Time
	}
)

var (
	ErrInvalidDate      = errors.New("invalid date")
	ErrEmptyUserName    = errors.New("empty user name")
	ErrEmptyDestination = errors.New("empty destination")
	ErrEmptyPurpose     = errors.New("empty purpose")
	ErrTooLong          = errors.New("value too long")
)

const (
	maxUserNameLen    = 100
	maxDestinationLen = 200
	maxPurposeLen     = 1000
)

// NewDate creates a new Date from year, month, day
func NewDate(year, month, day int) Date {
	return Date{Time: time.Date(year, time.Month(month), day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a date in YYYY-MM-DD form.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse(dateLayout, strings.TrimSpace(s))
	if err != nil {
		return Date{}, ErrInvalidDate
	}
	return Date{Time: t}, nil
}

// String returns the date as YYYY-MM-DD.
func (d Date) String() string {
	return d.Format(dateLayout)
}

func (d Date) Validate() error {
	if d.IsZero() {
		return ErrInvalidDate
	}
	return nil
}

// Validate checks the claim as submitted by a requester.
func (e Expense) Validate() error {
	if strings.TrimSpace(e.UserName) == "" {
		return ErrEmptyUserName
	}
	if utf8.RuneCountInString(e.UserName) > maxUserNameLen {
		return fmt.Errorf("user name: %w (max %d characters)", ErrTooLong, maxUserNameLen)
	}
	if err := e.Date.Validate(); err != nil {
		return err
	}
	if strings.TrimSpace(e.Destination) == "" {
		return ErrEmptyDestination
	}
	if utf8.RuneCountInString(e.Destination) > maxDestinationLen {
		return fmt.Errorf("destination: %w (max %d characters)", ErrTooLong, maxDestinationLen)
	}
	if strings.TrimSpace(e.Purpose) == "" {
		return ErrEmptyPurpose
	}
	if utf8.RuneCountInString(e.Purpose) > maxPurposeLen {
		return fmt.Errorf("purpose: %w (max %d characters)", ErrTooLong, maxPurposeLen)
	}
	if err := e.Amount.Validate(); err != nil {
		return err
	}
	if !e.Status.IsValid() {
		return ErrInvalidStatus
	}
	return nil
}

// SortNewestFirst orders claims by date descending, then ID descending.
func SortNewestFirst(items []Expense) {
	sort.SliceStable(items, func(i, j int) bool {
		if !items[i].Date.Equal(items[j].Date.Time) {
			return items[i].Date.After(items[j].Date.Time)
		}
		return items[i].ID > items[j].ID
	})
}
