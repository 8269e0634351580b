// Package http serves the expense list, the creation form and the review
// actions.
package http

import (
	"context"
	"fmt"
	"io/fs"
	"net/http"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"ryohi/internal/cache"
	"ryohi/internal/core"
	"ryohi/internal/log"
	"ryohi/internal/middleware/ratelimit"
	"ryohi/internal/middleware/security"
	"ryohi/internal/middleware/trace"
	"ryohi/internal/ports"
	"ryohi/internal/session"
	"ryohi/internal/view"
	appweb "ryohi/web"

	"golang.org/x/sync/singleflight"
)

const listLoadTimeout = 5 * time.Second

// ExpenseService is implemented by services.ExpenseService.
type ExpenseService interface {
	CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error)
	ListExpenses(ctx context.Context, f ports.ListFilter) ([]core.Expense, error)
	GetExpense(ctx context.Context, id int64) (core.Expense, error)
	UpdateStatus(ctx context.Context, id int64, status core.Status) (core.Expense, error)
}

// Options configures NewServer. Zero values fall back to defaults.
type Options struct {
	Addr               string
	Service            ExpenseService
	Logger             *log.Logger
	Templates          fs.FS // defaults to the embedded web templates
	Static             fs.FS // defaults to the embedded web/static directory
	SecureCookies      bool
	TrustedProxies     []string
	FlashTTL           time.Duration
	ListCacheTTL       time.Duration
	ListCacheSize      int
	RateLimitPerMinute int
}

type Server struct {
	http.Server
	svc      ExpenseService
	renderer *view.Renderer
	logger   *log.Logger

	flashes *session.FlashStore

	// List pages are cached per filter. gen is bumped on every write so a
	// load that started before the write never repopulates the cache.
	listCache *cache.LRUCache[[]core.Expense]
	listGroup singleflight.Group
	listGen   atomic.Uint64
	caches    *cache.Manager

	rateLimiter      *ratelimit.Limiter
	securityDetector *security.Detector
	traceMiddleware  *trace.Middleware

	appMetrics   appMetrics
	shutdownOnce sync.Once
}

type appMetrics struct {
	expensesCreated atomic.Int64
	statusUpdates   atomic.Int64
	unknownStatuses atomic.Int64
	renderErrors    atomic.Int64
	uptime          time.Time
}

// NewServer wires routes and middleware. A template parse failure is
// logged and leaves the pages answering 500 and /readyz not ready.
func NewServer(opts Options) (*Server, error) {
	if opts.Service == nil {
		return nil, fmt.Errorf("expense service is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = log.New(log.DefaultConfig())
	}
	if opts.FlashTTL <= 0 {
		opts.FlashTTL = session.DefaultFlashTTL
	}
	if opts.ListCacheTTL <= 0 {
		opts.ListCacheTTL = time.Minute
	}
	if opts.ListCacheSize <= 0 {
		opts.ListCacheSize = 16
	}
	if opts.Templates == nil {
		opts.Templates = appweb.TemplatesFS
	}
	if opts.Static == nil {
		sub, err := fs.Sub(appweb.StaticFS, "static")
		if err != nil {
			return nil, fmt.Errorf("mount static assets: %w", err)
		}
		opts.Static = sub
	}

	detector, err := security.NewDetector(opts.TrustedProxies)
	if err != nil {
		return nil, err
	}

	s := &Server{
		svc:              opts.Service,
		logger:           logger.WithComponent(log.ComponentHTTP),
		flashes:          session.NewFlashStore(opts.FlashTTL),
		listCache:        cache.NewLRUCache[[]core.Expense](opts.ListCacheSize, opts.ListCacheTTL),
		caches:           cache.NewManager(),
		rateLimiter:      ratelimit.NewLimiter(ratelimit.Config{RequestsPerMinute: opts.RateLimitPerMinute}),
		securityDetector: detector,
		traceMiddleware:  trace.NewMiddleware(detector.ClientIP, logger),
	}
	s.appMetrics.uptime = time.Now()

	renderer, err := view.New(opts.Templates)
	if err != nil {
		s.logger.Error("Failed parsing templates",
			log.FieldError, err,
			log.FieldErrorType, log.ErrorTypeConfiguration)
	}
	s.renderer = renderer

	cacheLogger := logger.WithComponent(log.ComponentCache)
	s.caches.Register(s.listCache)
	s.caches.OnClean(func(removed int) {
		cacheLogger.Debug("Expired list cache entries removed", "removed", removed)
	})
	s.caches.StartCleanup(opts.ListCacheTTL)

	mux := http.NewServeMux()
	limit := s.rateLimiter.Middleware(detector.ClientIP, s.handleRateLimited)

	static := http.StripPrefix("/static/", http.FileServerFS(opts.Static))
	mux.Handle("GET /static/", security.StaticAssetMiddleware(3600)(static))

	mux.HandleFunc("GET /{$}", s.handleList)
	mux.HandleFunc("GET /expenses/new", s.handleNewExpense)
	mux.Handle("POST /expenses", limit(http.HandlerFunc(s.handleCreateExpense)))
	mux.Handle("POST /expenses/{id}/status", limit(http.HandlerFunc(s.handleUpdateStatus)))

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /metrics", s.handleMetrics)

	var h http.Handler = mux
	h = session.Middleware(opts.SecureCookies)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = detector.Middleware(h)
	h = log.RequestIDMiddleware(trace.RequestIDFromRequest)(h)
	h = log.Middleware(logger)(h)
	h = s.traceMiddleware.Middleware(h)

	s.Server = http.Server{
		Addr:              opts.Addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
		ReadTimeout:       30 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       120 * time.Second,
	}
	return s, nil
}

// listExpenses serves the list from cache, collapsing concurrent loads of
// the same filter into one backend call.
func (s *Server) listExpenses(ctx context.Context, f ports.ListFilter) ([]core.Expense, error) {
	key := f.CacheKey()
	if items, ok := s.listCache.Get(key); ok {
		return items, nil
	}

	gen := s.listGen.Load()
	v, err, _ := s.listGroup.Do(key+"#"+strconv.FormatUint(gen, 10), func() (any, error) {
		// Shared by every waiter, so it must outlive the caller that started it.
		loadCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), listLoadTimeout)
		defer cancel()
		items, err := s.svc.ListExpenses(loadCtx, f)
		if err != nil {
			return nil, err
		}
		if s.listGen.Load() == gen {
			s.listCache.Set(key, items)
		}
		return items, nil
	})
	if err != nil {
		return nil, err
	}
	return v.([]core.Expense), nil
}

// invalidateList drops every cached list page after a write.
func (s *Server) invalidateList() {
	s.listGen.Add(1)
	s.listCache.Purge()
}

// Shutdown stops background goroutines once and then drains the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	s.shutdownOnce.Do(func() {
		s.caches.Stop()
		s.rateLimiter.Stop()
	})
	return s.Server.Shutdown(ctx)
}
