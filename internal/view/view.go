// Package view renders the HTML pages of the expense application.
//
// Rendering is a pure function of the page value passed in: it reads no
// request state and performs no I/O besides writing to the given writer.
package view

import (
	"bytes"
	"fmt"
	"html/template"
	"io"
	"io/fs"

	"ryohi/internal/core"
)

const (
	ListTitle = "出張経費一覧"
	FormTitle = "出張経費登録"
)

type (
	// ListPage is the input of the expense list.
	ListPage struct {
		Expenses []core.Expense
		Flashes  []string
		NewURL   string
		// ActionURL, when set, returns the approve/reject form target for a
		// pending claim. Rows get no review buttons when it is nil.
		ActionURL func(id int64) string
	}

	// FormPage is the input of the creation form.
	FormPage struct {
		Values    FormValues
		Errors    []string
		Action    string
		CancelURL string
	}

	// FormValues echoes the raw submitted fields.
	FormValues struct {
		UserName    string
		Date        string
		Destination string
		Purpose     string
		Amount      string
	}

	// Row is one formatted table row.
	Row struct {
		ID          int64
		UserName    string
		Date        string
		Destination string
		Purpose     string
		Amount      string
		Badge       Badge
		ActionURL   string
	}
)

// Renderer holds the parsed page templates.
type Renderer struct {
	list *template.Template
	form *template.Template
}

// New parses the page templates from fsys, which must contain
// templates/partials.html, templates/index.html and templates/new.html.
func New(fsys fs.FS) (*Renderer, error) {
	list, err := template.ParseFS(fsys, "templates/partials.html", "templates/index.html")
	if err != nil {
		return nil, fmt.Errorf("parse list templates: %w", err)
	}
	form, err := template.ParseFS(fsys, "templates/partials.html", "templates/new.html")
	if err != nil {
		return nil, fmt.Errorf("parse form templates: %w", err)
	}
	return &Renderer{list: list, form: form}, nil
}

// Rows formats the claims in input order.
func Rows(expenses []core.Expense, actionURL func(id int64) string) []Row {
	rows := make([]Row, 0, len(expenses))
	for _, e := range expenses {
		row := Row{
			ID:          e.ID,
			UserName:    e.UserName,
			Date:        FormatDate(e.Date),
			Destination: e.Destination,
			Purpose:     e.Purpose,
			Amount:      FormatYen(e.Amount),
			Badge:       StatusBadge(e.Status),
		}
		if actionURL != nil && e.Status == core.StatusPending {
			row.ActionURL = actionURL(e.ID)
		}
		rows = append(rows, row)
	}
	return rows
}

// ExpenseList writes the list document. Nothing is written when
// execution fails.
func (r *Renderer) ExpenseList(w io.Writer, p ListPage) error {
	data := struct {
		Title   string
		NewURL  string
		Flashes []string
		Rows    []Row
	}{
		Title:   ListTitle,
		NewURL:  p.NewURL,
		Flashes: p.Flashes,
		Rows:    Rows(p.Expenses, p.ActionURL),
	}
	return execute(w, r.list, "index.html", data)
}

// ExpenseForm writes the creation form document.
func (r *Renderer) ExpenseForm(w io.Writer, p FormPage) error {
	data := struct {
		Title string
		FormPage
	}{Title: FormTitle, FormPage: p}
	return execute(w, r.form, "new.html", data)
}

func execute(w io.Writer, t *template.Template, name string, data any) error {
	var buf bytes.Buffer
	if err := t.ExecuteTemplate(&buf, name, data); err != nil {
		return fmt.Errorf("execute %s: %w", name, err)
	}
	_, err := buf.WriteTo(w)
	return err
}
