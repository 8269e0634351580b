package http

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"testing/fstest"

	"ryohi/internal/core"
	"ryohi/internal/log"
	"ryohi/internal/memory"
	"ryohi/internal/ports"
	"ryohi/internal/services"
	"ryohi/internal/session"
)

func tanaka() core.Expense {
	return core.Expense{
		UserName:    "田中太郎",
		Date:        core.NewDate(2024, 5, 20),
		Destination: "大阪",
		Purpose:     "顧客訪問",
		Amount:      12000,
		Status:      core.StatusPending,
	}
}

func newTestServer(t *testing.T, svc ExpenseService, mutate func(*Options)) (*Server, *bytes.Buffer) {
	t.Helper()
	var buf bytes.Buffer
	cfg := log.DefaultConfig()
	cfg.Output = &buf
	cfg.Level = slog.LevelDebug
	opts := Options{
		Addr:    ":0",
		Service: svc,
		Logger:  log.New(cfg),
	}
	if mutate != nil {
		mutate(&opts)
	}
	srv, err := NewServer(opts)
	if err != nil {
		t.Fatalf("NewServer: %v", err)
	}
	t.Cleanup(func() { _ = srv.Shutdown(context.Background()) })
	return srv, &buf
}

func memoryService(seed ...core.Expense) *services.ExpenseService {
	cfg := log.DefaultConfig()
	cfg.Output = &bytes.Buffer{}
	return services.NewExpenseService(memory.New(seed...), nil, log.New(cfg))
}

// client keeps the session cookie between requests.
type client struct {
	t      *testing.T
	h      http.Handler
	cookie *http.Cookie
}

func (c *client) do(req *http.Request) *httptest.ResponseRecorder {
	c.t.Helper()
	if c.cookie != nil {
		req.AddCookie(c.cookie)
	}
	rr := httptest.NewRecorder()
	c.h.ServeHTTP(rr, req)
	for _, ck := range rr.Result().Cookies() {
		if ck.Name == session.CookieName {
			c.cookie = ck
		}
	}
	return rr
}

func (c *client) get(path string) *httptest.ResponseRecorder {
	return c.do(httptest.NewRequest(http.MethodGet, path, nil))
}

func (c *client) post(path string, form url.Values) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	return c.do(req)
}

func validForm() url.Values {
	return url.Values{
		"user_name":   {"佐藤花子"},
		"date":        {"2024-06-01"},
		"destination": {"福岡"},
		"purpose":     {"展示会"},
		"amount":      {"35,000"},
	}
}

func TestListPage(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(tanaka()), nil)
	c := &client{t: t, h: srv.Handler}

	rr := c.get("/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"出張経費一覧", "申請者", "田中太郎", "2024-05-20", "大阪", "顧客訪問", "¥12,000", "審査中", "bg-warning", `action="/expenses/1/status"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if got := rr.Header().Get("Content-Type"); got != "text/html; charset=utf-8" {
		t.Errorf("Content-Type = %q", got)
	}
	if rr.Header().Get("Content-Security-Policy") == "" {
		t.Error("security headers missing")
	}
	if c.cookie == nil || !c.cookie.HttpOnly {
		t.Error("expected an HttpOnly session cookie")
	}
}

func TestUnknownPathIs404(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(), nil)
	c := &client{t: t, h: srv.Handler}
	if rr := c.get("/nope"); rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404", rr.Code)
	}
}

func TestListFilterByStatus(t *testing.T) {
	approved := tanaka()
	approved.UserName = "鈴木一郎"
	approved.Status = core.StatusApproved
	srv, _ := newTestServer(t, memoryService(tanaka(), approved), nil)
	c := &client{t: t, h: srv.Handler}

	body := c.get("/?status=approved").Body.String()
	if !strings.Contains(body, "鈴木一郎") || strings.Contains(body, "田中太郎") {
		t.Errorf("filter not applied: %s", body)
	}

	body = c.get("/?status=bogus").Body.String()
	if !strings.Contains(body, "鈴木一郎") || !strings.Contains(body, "田中太郎") {
		t.Error("invalid filter should list everything")
	}
}

func TestCreateExpense_FlashShownOnce(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(tanaka()), nil)
	c := &client{t: t, h: srv.Handler}

	// warm the cache so the redirect target must see the invalidation
	c.get("/")

	rr := c.post("/expenses", validForm())
	if rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d, body = %s", rr.Code, rr.Body.String())
	}
	if loc := rr.Header().Get("Location"); loc != "/" {
		t.Errorf("Location = %q", loc)
	}

	body := c.get("/").Body.String()
	if strings.Count(body, "経費が登録されました") != 1 {
		t.Errorf("expected flash once, body: %s", body)
	}
	if !strings.Contains(body, "佐藤花子") || !strings.Contains(body, "¥35,000") {
		t.Error("new claim missing from list")
	}
	// newest date first
	if strings.Index(body, "佐藤花子") > strings.Index(body, "田中太郎") {
		t.Error("expected the 2024-06-01 claim before the 2024-05-20 claim")
	}

	if strings.Contains(c.get("/").Body.String(), "経費が登録されました") {
		t.Error("flash shown twice")
	}
}

func TestCreateExpense_FlashIsPerSession(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(), nil)
	alice := &client{t: t, h: srv.Handler}
	bob := &client{t: t, h: srv.Handler}
	alice.get("/")
	bob.get("/")

	if rr := alice.post("/expenses", validForm()); rr.Code != http.StatusSeeOther {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(bob.get("/").Body.String(), "経費が登録されました") {
		t.Error("flash leaked to another session")
	}
	if !strings.Contains(alice.get("/").Body.String(), "経費が登録されました") {
		t.Error("flash missing for submitting session")
	}
}

func TestCreateExpense_ValidationErrors(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(), nil)
	c := &client{t: t, h: srv.Handler}

	form := validForm()
	form.Set("user_name", "")
	form.Set("date", "2024/06/01")
	form.Set("amount", "12.5")
	form.Set("destination", "<b>福岡</b>")

	rr := c.post("/expenses", form)
	if rr.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{msgUserNameRequired, msgDateInvalid, msgAmountInvalid, "&lt;b&gt;福岡&lt;/b&gt;"} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
	if strings.Contains(body, "<b>福岡</b>") {
		t.Error("submitted value must be escaped")
	}

	if strings.Contains(c.get("/").Body.String(), "福岡") {
		t.Error("invalid claim must not be stored")
	}
}

func TestNewExpenseForm(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(), nil)
	c := &client{t: t, h: srv.Handler}

	rr := c.get("/expenses/new")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	body := rr.Body.String()
	for _, want := range []string{"出張経費登録", `name="user_name"`, `action="/expenses"`, `type="date"`} {
		if !strings.Contains(body, want) {
			t.Errorf("body missing %q", want)
		}
	}
}

func TestUpdateStatus(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(tanaka()), nil)
	c := &client{t: t, h: srv.Handler}
	c.get("/")

	tests := []struct {
		name   string
		path   string
		status string
		want   int
	}{
		{"bad id", "/expenses/abc/status", "approved", http.StatusBadRequest},
		{"zero id", "/expenses/0/status", "approved", http.StatusBadRequest},
		{"pending is not a decision", "/expenses/1/status", "pending", http.StatusBadRequest},
		{"unknown status", "/expenses/1/status", "archived", http.StatusBadRequest},
		{"unknown claim", "/expenses/999/status", "approved", http.StatusNotFound},
		{"approve", "/expenses/1/status", "approved", http.StatusSeeOther},
		{"already decided", "/expenses/1/status", "rejected", http.StatusConflict},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rr := c.post(tt.path, url.Values{"status": {tt.status}})
			if rr.Code != tt.want {
				t.Errorf("status = %d, want %d (%s)", rr.Code, tt.want, rr.Body.String())
			}
		})
	}

	body := c.get("/").Body.String()
	if !strings.Contains(body, "承認済") || !strings.Contains(body, "ステータスを更新しました") {
		t.Errorf("list not updated: %s", body)
	}
	if strings.Contains(body, `action="/expenses/1/status"`) {
		t.Error("decided claims must not offer review buttons")
	}
}

func TestRateLimitOnPost(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(), func(o *Options) { o.RateLimitPerMinute = 1 })
	c := &client{t: t, h: srv.Handler}

	if rr := c.post("/expenses", validForm()); rr.Code != http.StatusSeeOther {
		t.Fatalf("first post: %d", rr.Code)
	}
	rr := c.post("/expenses", validForm())
	if rr.Code != http.StatusTooManyRequests {
		t.Fatalf("second post: %d", rr.Code)
	}
	if rr.Header().Get("Retry-After") == "" {
		t.Error("missing Retry-After")
	}

	// reads are not limited
	if rr := c.get("/"); rr.Code != http.StatusOK {
		t.Errorf("GET after limit: %d", rr.Code)
	}
}

type failingService struct {
	ExpenseService
	listErr error
	items   []core.Expense
}

func (f failingService) ListExpenses(ctx context.Context, _ ports.ListFilter) ([]core.Expense, error) {
	return f.items, f.listErr
}

func TestListError(t *testing.T) {
	srv, _ := newTestServer(t, failingService{listErr: errors.New("database is locked")}, nil)
	c := &client{t: t, h: srv.Handler}

	rr := c.get("/")
	if rr.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "database is locked") {
		t.Error("internal error leaked to client")
	}

	if rr := c.get("/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rr.Code)
	}
}

// ctxService fails like a real store when its context is done.
type ctxService struct {
	ExpenseService
	items       []core.Expense
	hadDeadline bool
}

func (c *ctxService) ListExpenses(ctx context.Context, _ ports.ListFilter) ([]core.Expense, error) {
	_, c.hadDeadline = ctx.Deadline()
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return c.items, nil
}

func TestListLoadOutlivesCallerContext(t *testing.T) {
	svc := &ctxService{items: []core.Expense{tanaka()}}
	srv, _ := newTestServer(t, svc, nil)

	// The caller that triggers the shared load has already gone away.
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	items, err := srv.listExpenses(ctx, ports.ListFilter{})
	if err != nil {
		t.Fatalf("shared load failed with the caller's cancellation: %v", err)
	}
	if len(items) != 1 {
		t.Fatalf("items = %+v", items)
	}
	if !svc.hadDeadline {
		t.Error("shared load should run with a timeout")
	}
}

func TestUnknownStatusIsWarned(t *testing.T) {
	odd := tanaka()
	odd.ID = 3
	odd.Status = core.Status("archived")
	srv, logs := newTestServer(t, failingService{items: []core.Expense{odd}}, nil)
	c := &client{t: t, h: srv.Handler}

	rr := c.get("/")
	if rr.Code != http.StatusOK {
		t.Fatalf("status = %d", rr.Code)
	}
	if !strings.Contains(rr.Body.String(), "bg-danger") || !strings.Contains(rr.Body.String(), `data-status="archived"`) {
		t.Error("expected fallback badge with raw status")
	}
	if !strings.Contains(logs.String(), "Unknown expense status") {
		t.Error("expected a warning log")
	}
}

func TestMissingTemplates(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(), func(o *Options) { o.Templates = fstest.MapFS{} })
	c := &client{t: t, h: srv.Handler}

	if rr := c.get("/"); rr.Code != http.StatusInternalServerError {
		t.Errorf("index = %d, want 500", rr.Code)
	}
	if rr := c.get("/expenses/new"); rr.Code != http.StatusInternalServerError {
		t.Errorf("form = %d, want 500", rr.Code)
	}
	if rr := c.get("/readyz"); rr.Code != http.StatusServiceUnavailable {
		t.Errorf("readyz = %d, want 503", rr.Code)
	}
}

func TestOperationalEndpoints(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(tanaka()), nil)
	c := &client{t: t, h: srv.Handler}

	for _, path := range []string{"/healthz", "/readyz"} {
		rr := c.get(path)
		if rr.Code != http.StatusOK {
			t.Errorf("%s = %d", path, rr.Code)
		}
		if !strings.Contains(rr.Header().Get("Content-Type"), "application/json") {
			t.Errorf("%s content type = %q", path, rr.Header().Get("Content-Type"))
		}
	}

	c.get("/")
	c.get("/")
	body := c.get("/metrics").Body.String()
	for _, want := range []string{"http_requests_total", "list_cache_hits_total 1", "list_cache_misses_total", "expenses_created_total 0"} {
		if !strings.Contains(body, want) {
			t.Errorf("metrics missing %q", want)
		}
	}

	rr := c.get("/static/app.css")
	if rr.Code != http.StatusOK || rr.Header().Get("Cache-Control") == "" {
		t.Errorf("static = %d, cache-control %q", rr.Code, rr.Header().Get("Cache-Control"))
	}
}

func TestShutdownIsIdempotent(t *testing.T) {
	srv, _ := newTestServer(t, memoryService(), nil)
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	if err := srv.Shutdown(context.Background()); err != nil {
		t.Fatalf("second Shutdown: %v", err)
	}
}

func TestParseExpenseForm(t *testing.T) {
	values, e, errs := ParseExpenseForm(validForm())
	if len(errs) != 0 {
		t.Fatalf("unexpected errors: %v", errs)
	}
	if e.Amount != 35000 || e.Date.String() != "2024-06-01" || e.Status != core.StatusPending {
		t.Errorf("unexpected claim: %+v", e)
	}
	if values.Amount != "35,000" {
		t.Errorf("raw amount not echoed: %q", values.Amount)
	}

	_, _, errs = ParseExpenseForm(url.Values{})
	want := []string{msgUserNameRequired, msgDateInvalid, msgDestinationRequired, msgPurposeRequired, msgAmountInvalid}
	if len(errs) != len(want) {
		t.Fatalf("errs = %v", errs)
	}
	for i := range want {
		if errs[i] != want[i] {
			t.Errorf("errs[%d] = %q, want %q", i, errs[i], want[i])
		}
	}

	free := validForm()
	free.Set("amount", "0")
	if _, e, errs := ParseExpenseForm(free); len(errs) != 0 || e.Amount != 0 {
		t.Errorf("zero amount: %v %+v", errs, e)
	}

	long := validForm()
	long.Set("purpose", strings.Repeat("あ", 1001))
	if _, _, errs := ParseExpenseForm(long); len(errs) != 1 || errs[0] != msgTooLong {
		t.Errorf("long purpose: %v", errs)
	}
}

func TestSanitizeInput(t *testing.T) {
	tests := []struct{ in, want string }{
		{"  田中  ", "田中"},
		{"a\x00b\x07c", "abc"},
		{"line1\nline2", "line1\nline2"},
		{"tab\there", "tab\there"},
		{"del\x7f", "del"},
	}
	for _, tt := range tests {
		if got := sanitizeInput(tt.in); got != tt.want {
			t.Errorf("sanitizeInput(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}
