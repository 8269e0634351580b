// Package google exports expense claims to a Google Sheets spreadsheet.
package google

import (
	"context"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"

	"ryohi/internal/core"
	"ryohi/internal/log"
	"ryohi/internal/ports"

	googleoauth "golang.org/x/oauth2/google"
	goption "google.golang.org/api/option"
	gsheet "google.golang.org/api/sheets/v4"
)

// Options configures a Client.
type Options struct {
	SpreadsheetID   string
	SheetName       string
	CredentialsFile string // Service account key file
	CredentialsJSON string // Inline service account key, wins over CredentialsFile
}

type Client struct {
	svc           *gsheet.Service
	spreadsheetID string
	sheetName     string
}

var _ ports.ExpenseExporter = (*Client)(nil)

// New authenticates with service account credentials and returns a client
// writing to opts.SheetName.
func New(ctx context.Context, opts Options) (*Client, error) {
	if strings.TrimSpace(opts.SpreadsheetID) == "" {
		return nil, errors.New("missing spreadsheet ID")
	}
	if strings.TrimSpace(opts.SheetName) == "" {
		return nil, errors.New("missing sheet name")
	}

	var credentialsJSON []byte
	switch {
	case strings.TrimSpace(opts.CredentialsJSON) != "":
		credentialsJSON = []byte(opts.CredentialsJSON)
	case opts.CredentialsFile != "":
		b, err := os.ReadFile(opts.CredentialsFile)
		if err != nil {
			return nil, fmt.Errorf("read service account file: %w", err)
		}
		credentialsJSON = b
	default:
		return nil, errors.New("missing service account credentials")
	}

	jwtCfg, err := googleoauth.JWTConfigFromJSON(credentialsJSON, gsheet.SpreadsheetsScope)
	if err != nil {
		return nil, fmt.Errorf("service account config: %w", err)
	}

	svc, err := gsheet.NewService(ctx, goption.WithTokenSource(jwtCfg.TokenSource(ctx)))
	if err != nil {
		return nil, fmt.Errorf("create sheets service: %w", err)
	}

	return NewWithService(svc, opts.SpreadsheetID, opts.SheetName), nil
}

// NewWithService wraps an already configured Sheets service.
func NewWithService(svc *gsheet.Service, spreadsheetID, sheetName string) *Client {
	return &Client{
		svc:           svc,
		spreadsheetID: spreadsheetID,
		sheetName:     sheetName,
	}
}

// Export writes the claim as one row. A row whose column A holds the same ID
// is overwritten; otherwise the row is appended. The header row is written
// first when the sheet is empty.
func (c *Client) Export(ctx context.Context, e core.Expense) (string, error) {
	if c.svc == nil {
		return "", errors.New("sheets service not initialized")
	}
	if e.ID <= 0 {
		return "", fmt.Errorf("export expense: invalid id %d", e.ID)
	}

	idRange := c.a1("A:A")
	resp, err := c.svc.Spreadsheets.Values.Get(c.spreadsheetID, idRange).Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("read %s: %w", idRange, err)
	}

	if len(resp.Values) == 0 {
		headerRange := c.a1("A1:H1")
		header := &gsheet.ValueRange{Values: [][]any{headerRow()}}
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, headerRange, header).
			ValueInputOption("RAW").Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("write header %s: %w", headerRange, err)
		}
	}

	vr := &gsheet.ValueRange{Values: [][]any{expenseRow(e)}}

	if row := findRow(resp.Values, e.ID); row > 0 {
		rng := c.a1(fmt.Sprintf("A%d:H%d", row, row))
		if _, err := c.svc.Spreadsheets.Values.Update(c.spreadsheetID, rng, vr).
			ValueInputOption("USER_ENTERED").Context(ctx).Do(); err != nil {
			return "", fmt.Errorf("update %s: %w", rng, err)
		}
		log.FromContext(ctx).WithComponent(log.ComponentSheets).DebugContext(ctx, "Updated sheet row", log.FieldExpenseID, e.ID, "range", rng)
		return rng, nil
	}

	appendRange := c.a1("A:H")
	out, err := c.svc.Spreadsheets.Values.Append(c.spreadsheetID, appendRange, vr).
		ValueInputOption("USER_ENTERED").
		InsertDataOption("INSERT_ROWS").
		Context(ctx).Do()
	if err != nil {
		return "", fmt.Errorf("append %s: %w", appendRange, err)
	}

	ref := appendRange
	if out.Updates != nil && out.Updates.UpdatedRange != "" {
		ref = out.Updates.UpdatedRange
	}
	log.FromContext(ctx).WithComponent(log.ComponentSheets).DebugContext(ctx, "Appended sheet row", log.FieldExpenseID, e.ID, "range", ref)
	return ref, nil
}

// a1 prefixes cells with the quoted sheet name.
func (c *Client) a1(cells string) string {
	return "'" + strings.ReplaceAll(c.sheetName, "'", "''") + "'!" + cells
}

func headerRow() []any {
	return []any{"ID", "申請者", "日付", "出張先", "目的", "金額", "ステータス", "更新日時"}
}

func expenseRow(e core.Expense) []any {
	updated := e.UpdatedAt
	if updated.IsZero() {
		updated = e.CreatedAt
	}
	updatedText := ""
	if !updated.IsZero() {
		updatedText = updated.UTC().Format(time.DateTime)
	}
	return []any{
		e.ID,
		e.UserName,
		e.Date.String(),
		e.Destination,
		e.Purpose,
		e.Amount.Int64(),
		e.Status.String(),
		updatedText,
	}
}

// findRow returns the 1-based row whose first cell equals id, or 0.
func findRow(values [][]any, id int64) int {
	want := fmt.Sprint(id)
	for i, row := range values {
		if len(row) == 0 {
			continue
		}
		if strings.TrimSpace(fmt.Sprint(row[0])) == want {
			return i + 1
		}
	}
	return 0
}
