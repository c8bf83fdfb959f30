// Package http exposes the caja workflow of one front desk as a JSON API
// for the dashboard.
package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/handlers"

	"gymspace/internal/backend"
	"gymspace/internal/cache"
	"gymspace/internal/caja"
	"gymspace/internal/core"
	"gymspace/internal/log"
	"gymspace/internal/middleware/ratelimit"
	"gymspace/internal/middleware/security"
	"gymspace/internal/middleware/trace"
)

const (
	maxBodyBytes      = 64 << 10
	paymentsCacheSize = 32
	readyTimeout      = 5 * time.Second
)

// Pinger is implemented by dependencies that can report their health.
type Pinger interface {
	Ping(ctx context.Context) error
}

type Options struct {
	Workflow *caja.Workflow
	Payments backend.PaymentLister
	Mirror   Pinger // optional, checked by /readyz
	Logger   *log.Logger

	AllowedOrigin    string
	RateLimitPerMin  int
	PaymentsCacheTTL time.Duration // zero disables caching

	// Now defaults to time.Now. It decides which day's payments are read.
	Now func() time.Time
}

type Server struct {
	http.Server

	workflow *caja.Workflow
	payments backend.PaymentLister
	mirror   Pinger
	logger   *log.Logger
	now      func() time.Time
	started  time.Time

	paymentsCache *cache.LRUCache[[]core.Payment]

	limiter  *ratelimit.Limiter
	tracer   *trace.Middleware
	detector *security.Detector

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run server.
func NewServer(addr string, opts Options) *Server {
	s := &Server{
		Server:   http.Server{Addr: addr, ReadHeaderTimeout: 10 * time.Second},
		workflow: opts.Workflow,
		payments: opts.Payments,
		mirror:   opts.Mirror,
		logger:   opts.Logger,
		now:      opts.Now,
		detector: security.NewDetector(),
	}
	if s.logger == nil {
		s.logger = log.FromSlog(nil, log.ComponentHTTP)
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.started = s.now()
	if opts.PaymentsCacheTTL > 0 {
		s.paymentsCache = cache.NewLRUCache[[]core.Payment](paymentsCacheSize, opts.PaymentsCacheTTL)
	}

	limitCfg := ratelimit.DefaultConfig()
	if opts.RateLimitPerMin > 0 {
		limitCfg.RequestsPerMinute = opts.RateLimitPerMin
	}
	s.limiter = ratelimit.NewLimiter(limitCfg)
	s.tracer = trace.NewMiddleware(s.logger.Logger, s.detector.ExtractClientIP)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)
	mux.HandleFunc("GET /api/session", s.handleGetSession)
	mux.HandleFunc("DELETE /api/session", s.handleReset)
	mux.HandleFunc("PUT /api/session/shift", s.handleSelectShift)
	mux.HandleFunc("POST /api/session/sync", s.handleSync)
	mux.HandleFunc("POST /api/session/open", s.handleOpen)
	mux.HandleFunc("POST /api/session/close", s.handleClose)
	mux.HandleFunc("GET /api/session/balance", s.handleBalance)

	var h http.Handler = mux
	h = s.limiter.Middleware(s.detector.ExtractClientIP, s.onRateLimited)(h)
	h = corsMiddleware(opts.AllowedOrigin)(h)
	h = security.NewHeadersMiddleware(security.DefaultHeadersConfig()).Middleware(h)
	h = s.detector.Middleware(s.logger.Logger)(h)
	h = s.tracer.Middleware(h)
	s.Handler = h

	return s
}

func corsMiddleware(origin string) func(http.Handler) http.Handler {
	if origin == "" {
		return func(h http.Handler) http.Handler { return h }
	}
	return handlers.CORS(
		handlers.AllowedOrigins([]string{origin}),
		handlers.AllowedMethods([]string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete}),
		handlers.AllowedHeaders([]string{"Content-Type", trace.HeaderRequestID}),
		handlers.ExposedHeaders([]string{trace.HeaderRequestID}),
		handlers.AllowCredentials(),
		handlers.MaxAge(600),
	)
}

func (s *Server) onRateLimited(w http.ResponseWriter, r *http.Request) {
	s.logger.WarnContext(r.Context(), "Rate limit exceeded",
		log.FieldClientIP, s.detector.ExtractClientIP(r),
		log.FieldMethod, r.Method,
		log.FieldPath, r.URL.Path)
	writeJSON(w, http.StatusTooManyRequests, errorResponse{Error: "Demasiadas solicitudes, intente nuevamente en un momento"})
}

// PaymentsCache exposes the payments cache for periodic cleanup. It is nil
// when caching is disabled.
func (s *Server) PaymentsCache() cache.Cleaner {
	if s.paymentsCache == nil {
		return nil
	}
	return s.paymentsCache
}

// Shutdown gracefully shuts down the server and its cleanup routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error
	s.shutdownOnce.Do(func() {
		s.limiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})
	return shutdownErr
}
