package session

import (
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestFlashStoreOneShot(t *testing.T) {
	s := NewFlashStore(time.Minute)
	s.Add("a", "first")
	s.Add("a", "second")
	s.Add("b", "other")

	got := s.Pop("a")
	if len(got) != 2 || got[0] != "first" || got[1] != "second" {
		t.Fatalf("unexpected messages: %v", got)
	}
	if again := s.Pop("a"); len(again) != 0 {
		t.Fatalf("messages returned twice: %v", again)
	}
	if got := s.Pop("b"); len(got) != 1 || got[0] != "other" {
		t.Fatalf("sessions leaked into each other: %v", got)
	}
}

func TestFlashStoreIgnoresEmpty(t *testing.T) {
	s := NewFlashStore(0)
	s.Add("", "msg")
	s.Add("a", "")
	if s.Len() != 0 {
		t.Fatalf("expected nothing stored, got %d", s.Len())
	}
	if s.Pop("") != nil {
		t.Fatalf("expected nil for empty session")
	}
}

func TestFlashStoreExpires(t *testing.T) {
	s := NewFlashStore(20 * time.Millisecond)
	s.Add("a", "msg")
	time.Sleep(50 * time.Millisecond)
	if got := s.Pop("a"); len(got) != 0 {
		t.Fatalf("expected expired messages to be gone, got %v", got)
	}
}

func TestFlashStoreConcurrentAdd(t *testing.T) {
	s := NewFlashStore(time.Minute)
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			s.Add("a", "msg")
		}()
	}
	wg.Wait()
	if got := s.Pop("a"); len(got) != 50 {
		t.Fatalf("expected 50 messages, got %d", len(got))
	}
}

func TestMiddlewareIssuesCookie(t *testing.T) {
	var seen string
	h := Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ID(r.Context())
	}))

	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, httptest.NewRequest(http.MethodGet, "/", nil))

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Name != CookieName {
		t.Fatalf("expected session cookie, got %v", cookies)
	}
	c := cookies[0]
	if !c.HttpOnly || c.SameSite != http.SameSiteLaxMode {
		t.Fatalf("unexpected cookie attributes: %+v", c)
	}
	if _, err := uuid.Parse(c.Value); err != nil || seen != c.Value {
		t.Fatalf("context id %q does not match cookie %q", seen, c.Value)
	}
}

func TestMiddlewareReusesCookie(t *testing.T) {
	id := uuid.NewString()
	var seen string
	h := Middleware(false)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: id})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	if seen != id {
		t.Fatalf("expected %q, got %q", id, seen)
	}
	if len(rr.Result().Cookies()) != 0 {
		t.Fatalf("cookie should not be reissued")
	}
}

func TestMiddlewareReplacesMalformedCookie(t *testing.T) {
	var seen string
	h := Middleware(true)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		seen = ID(r.Context())
	}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req.AddCookie(&http.Cookie{Name: CookieName, Value: "not-a-uuid"})
	rr := httptest.NewRecorder()
	h.ServeHTTP(rr, req)

	cookies := rr.Result().Cookies()
	if len(cookies) != 1 || cookies[0].Value == "not-a-uuid" || !cookies[0].Secure {
		t.Fatalf("expected fresh secure cookie, got %v", cookies)
	}
	if seen != cookies[0].Value {
		t.Fatalf("context id mismatch")
	}
}
