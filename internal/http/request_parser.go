package http

import (
	"errors"
	"net/url"
	"strconv"
	"strings"

	"ryohi/internal/core"
	"ryohi/internal/ports"
	"ryohi/internal/view"
)

// Form validation messages shown above the creation form.
const (
	msgUserNameRequired    = "申請者を入力してください"
	msgDateInvalid         = "日付はYYYY-MM-DD形式で入力してください"
	msgDestinationRequired = "出張先を入力してください"
	msgPurposeRequired     = "目的を入力してください"
	msgAmountInvalid       = "金額は0円以上の整数で入力してください"
	msgTooLong             = "入力が長すぎます"
	msgInvalidInput        = "入力内容を確認してください"
)

// ParseExpenseForm reads the creation form. It returns the submitted values
// for re-rendering, the parsed claim and one message per invalid field in
// form order. The claim is only usable when no messages are returned.
func ParseExpenseForm(form url.Values) (view.FormValues, core.Expense, []string) {
	values := view.FormValues{
		UserName:    sanitizeInput(form.Get("user_name")),
		Date:        strings.TrimSpace(form.Get("date")),
		Destination: sanitizeInput(form.Get("destination")),
		Purpose:     sanitizeInput(form.Get("purpose")),
		Amount:      strings.TrimSpace(form.Get("amount")),
	}

	var errs []string
	e := core.Expense{
		UserName:    values.UserName,
		Destination: values.Destination,
		Purpose:     values.Purpose,
		Status:      core.StatusPending,
	}

	if values.UserName == "" {
		errs = append(errs, msgUserNameRequired)
	}
	if d, err := core.ParseDate(values.Date); err != nil {
		errs = append(errs, msgDateInvalid)
	} else {
		e.Date = d
	}
	if values.Destination == "" {
		errs = append(errs, msgDestinationRequired)
	}
	if values.Purpose == "" {
		errs = append(errs, msgPurposeRequired)
	}
	if amt, err := core.ParseYen(values.Amount); err != nil {
		errs = append(errs, msgAmountInvalid)
	} else {
		e.Amount = amt
	}

	if len(errs) == 0 {
		if err := e.Validate(); err != nil {
			errs = append(errs, validationMessage(err))
		}
	}
	return values, e, errs
}

// validationMessage maps a domain validation error to a form message.
func validationMessage(err error) string {
	switch {
	case errors.Is(err, core.ErrEmptyUserName):
		return msgUserNameRequired
	case errors.Is(err, core.ErrInvalidDate):
		return msgDateInvalid
	case errors.Is(err, core.ErrEmptyDestination):
		return msgDestinationRequired
	case errors.Is(err, core.ErrEmptyPurpose):
		return msgPurposeRequired
	case errors.Is(err, core.ErrInvalidAmount):
		return msgAmountInvalid
	case errors.Is(err, core.ErrTooLong):
		return msgTooLong
	default:
		return msgInvalidInput
	}
}

var validationErrors = []error{
	core.ErrEmptyUserName,
	core.ErrInvalidDate,
	core.ErrEmptyDestination,
	core.ErrEmptyPurpose,
	core.ErrInvalidAmount,
	core.ErrTooLong,
	core.ErrInvalidStatus,
}

// isValidationError reports whether err comes from claim validation.
func isValidationError(err error) bool {
	for _, target := range validationErrors {
		if errors.Is(err, target) {
			return true
		}
	}
	return false
}

// parseListFilter reads ?status=. Unknown values mean no filter.
func parseListFilter(query url.Values) ports.ListFilter {
	raw := strings.TrimSpace(query.Get("status"))
	if raw == "" {
		return ports.ListFilter{}
	}
	st, err := core.ParseStatus(raw)
	if err != nil {
		return ports.ListFilter{}
	}
	return ports.ListFilter{Status: st}
}

// parseID parses a positive claim ID from a path segment.
func parseID(s string) (int64, bool) {
	id, err := strconv.ParseInt(strings.TrimSpace(s), 10, 64)
	if err != nil || id <= 0 {
		return 0, false
	}
	return id, true
}

// parseDecision accepts only the review outcomes.
func parseDecision(s string) (core.Status, bool) {
	st, err := core.ParseStatus(s)
	if err != nil || st == core.StatusPending {
		return "", false
	}
	return st, true
}
