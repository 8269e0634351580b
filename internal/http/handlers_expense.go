package http

import (
	"bytes"
	"errors"
	"net/http"
	"time"

	"ryohi/internal/log"
	"ryohi/internal/ports"
	"ryohi/internal/services"
	"ryohi/internal/session"
	"ryohi/internal/view"
)

const (
	flashCreated       = "経費が登録されました"
	flashStatusUpdated = "ステータスを更新しました"
)

// handleList renders the claim list with any pending flash messages.
func (s *Server) handleList(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentHTTP)

	if s.renderer == nil {
		logger.ErrorContext(ctx, "Templates not loaded",
			log.FieldPath, r.URL.Path,
			log.FieldErrorType, log.ErrorTypeConfiguration)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	filter := parseListFilter(r.URL.Query())
	expenses, err := s.listExpenses(ctx, filter)
	if err != nil {
		logger.ErrorContext(ctx, "List expenses failed",
			log.FieldError, err,
			log.FieldStatus, filter.Status.String(),
			log.FieldErrorType, log.ErrorTypeDatabase)
		http.Error(w, "経費一覧を取得できませんでした", http.StatusInternalServerError)
		return
	}

	for _, e := range expenses {
		if !e.Status.IsValid() {
			s.appMetrics.unknownStatuses.Add(1)
			logger.WarnContext(ctx, "Unknown expense status, rendering fallback badge",
				log.FieldExpenseID, e.ID,
				log.FieldStatus, e.Status.String())
		}
	}

	sid := session.ID(ctx)
	flashes := s.flashes.Pop(sid)

	page := view.ListPage{
		Expenses:  expenses,
		Flashes:   flashes,
		NewURL:    "/expenses/new",
		ActionURL: statusURL,
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := s.renderer.ExpenseList(w, page); err != nil {
		s.appMetrics.renderErrors.Add(1)
		logger.ErrorContext(ctx, "List template execution failed", log.FieldError, err)
		// Nothing was written; keep the messages for the next view.
		for _, msg := range flashes {
			s.flashes.Add(sid, msg)
		}
		http.Error(w, "ページを表示できませんでした", http.StatusInternalServerError)
	}
}

// handleNewExpense renders an empty creation form dated today.
func (s *Server) handleNewExpense(w http.ResponseWriter, r *http.Request) {
	values := view.FormValues{Date: time.Now().Format("2006-01-02")}
	s.renderForm(w, r, http.StatusOK, values, nil)
}

// handleCreateExpense stores a claim from the form and redirects to the list.
func (s *Server) handleCreateExpense(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentHTTP)

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		logger.WarnContext(ctx, "Parse form error", log.FieldError, err, log.FieldPath, r.URL.Path)
		http.Error(w, "リクエストの形式が正しくありません", http.StatusBadRequest)
		return
	}

	values, exp, errs := ParseExpenseForm(r.PostForm)
	if len(errs) > 0 {
		s.renderForm(w, r, http.StatusUnprocessableEntity, values, errs)
		return
	}

	saved, err := s.svc.CreateExpense(ctx, exp)
	if err != nil {
		if isValidationError(err) {
			s.renderForm(w, r, http.StatusUnprocessableEntity, values, []string{validationMessage(err)})
			return
		}
		logger.ErrorContext(ctx, "Failed to save expense",
			log.FieldError, err,
			log.FieldUserName, exp.UserName,
			log.FieldAmount, exp.Amount.Int64(),
			log.FieldOperation, log.OpCreate)
		http.Error(w, "経費を登録できませんでした", http.StatusInternalServerError)
		return
	}

	s.appMetrics.expensesCreated.Add(1)
	s.invalidateList()
	s.flashes.Add(session.ID(ctx), flashCreated)

	logger.InfoContext(ctx, "Expense created via form", log.FieldExpenseID, saved.ID)
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

// handleUpdateStatus approves or rejects a pending claim.
func (s *Server) handleUpdateStatus(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	logger := log.FromContext(ctx).WithComponent(log.ComponentHTTP)

	id, ok := parseID(r.PathValue("id"))
	if !ok {
		http.Error(w, "IDが正しくありません", http.StatusBadRequest)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "リクエストの形式が正しくありません", http.StatusBadRequest)
		return
	}
	status, ok := parseDecision(r.PostForm.Get("status"))
	if !ok {
		http.Error(w, "ステータスが正しくありません", http.StatusBadRequest)
		return
	}

	updated, err := s.svc.UpdateStatus(ctx, id, status)
	switch {
	case errors.Is(err, ports.ErrNotFound):
		http.Error(w, "経費が見つかりません", http.StatusNotFound)
		return
	case errors.Is(err, services.ErrInvalidTransition):
		http.Error(w, "この経費のステータスは変更できません", http.StatusConflict)
		return
	case err != nil:
		logger.ErrorContext(ctx, "Failed to update expense status",
			log.FieldError, err,
			log.FieldExpenseID, id,
			log.FieldStatus, status.String(),
			log.FieldOperation, log.OpUpdateStatus)
		http.Error(w, "ステータスを更新できませんでした", http.StatusInternalServerError)
		return
	}

	s.appMetrics.statusUpdates.Add(1)
	s.invalidateList()
	s.flashes.Add(session.ID(ctx), flashStatusUpdated)

	logger.InfoContext(ctx, "Expense status updated via form",
		log.FieldExpenseID, updated.ID,
		log.FieldStatus, updated.Status.String())
	http.Redirect(w, r, "/", http.StatusSeeOther)
}

func (s *Server) renderForm(w http.ResponseWriter, r *http.Request, code int, values view.FormValues, errs []string) {
	ctx := r.Context()
	if s.renderer == nil {
		log.FromContext(ctx).ErrorContext(ctx, "Templates not loaded", log.FieldPath, r.URL.Path)
		http.Error(w, "templates not loaded", http.StatusInternalServerError)
		return
	}

	page := view.FormPage{
		Values:    values,
		Errors:    errs,
		Action:    "/expenses",
		CancelURL: "/",
	}

	// Render into a buffer so a template error can still become a 500.
	var buf bytes.Buffer
	if err := s.renderer.ExpenseForm(&buf, page); err != nil {
		s.appMetrics.renderErrors.Add(1)
		log.FromContext(ctx).ErrorContext(ctx, "Form template execution failed", log.FieldError, err)
		http.Error(w, "ページを表示できませんでした", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(code)
	_, _ = w.Write(buf.Bytes())
}
