package http

import (
	"context"
	"net/http"
	"sync"
	"time"

	"kitty/internal/cache"
	"kitty/internal/core"
	"kitty/internal/middleware/ratelimit"
	"kitty/internal/middleware/security"
	"kitty/internal/middleware/trace"
	"kitty/internal/services"
)

// Config carries the server's tunables.
type Config struct {
	Addr string

	// AuditPageLimit is the default audit page size, AuditPageCap the
	// largest size a client may request.
	AuditPageLimit int
	AuditPageCap   int
}

type Server struct {
	http.Server
	svc         *services.LedgerService
	cfg         Config
	rateLimiter *ratelimit.Limiter

	// Read caches. Any write invalidates both wholesale: deposits touch
	// event totals, so per-key invalidation buys nothing.
	eventsCache *cache.LRUCache[[]core.Event]
	eventCache  *cache.LRUCache[core.Event]
	cacheMgr    *cache.Manager

	shutdownOnce sync.Once
}

// NewServer configures routes and middleware, returning a ready-to-run
// http.Server.
func NewServer(cfg Config, svc *services.LedgerService) *Server {
	if cfg.AuditPageLimit < 1 {
		cfg.AuditPageLimit = 100
	}
	if cfg.AuditPageCap < cfg.AuditPageLimit {
		cfg.AuditPageCap = cfg.AuditPageLimit
	}

	mux := http.NewServeMux()

	s := &Server{
		Server: http.Server{
			Addr:              cfg.Addr,
			ReadHeaderTimeout: 10 * time.Second,
		},
		svc:         svc,
		cfg:         cfg,
		rateLimiter: ratelimit.NewLimiter(ratelimit.DefaultConfig()),
		eventsCache: cache.NewLRUCache[[]core.Event](1, time.Minute),
		eventCache:  cache.NewLRUCache[core.Event](100, time.Minute),
		cacheMgr:    cache.NewManager(),
	}

	s.cacheMgr.Register(s.eventsCache)
	s.cacheMgr.Register(s.eventCache)
	s.cacheMgr.StartCleanup(10 * time.Minute)

	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.HandleFunc("GET /readyz", s.handleReady)

	mux.HandleFunc("GET /api/events", s.handleListEvents)
	mux.HandleFunc("POST /api/events", s.handleCreateEvent)
	mux.HandleFunc("GET /api/events/{id}", s.handleGetEvent)
	mux.HandleFunc("GET /api/events/{id}/audit", s.handleAuditLog)
	mux.HandleFunc("GET /api/events/{id}/dues", s.handleOutstandingDues)

	mux.HandleFunc("POST /api/categories/opt-in", s.handleOptIn)
	mux.HandleFunc("POST /api/categories/deposit", s.handleDeposit)
	mux.HandleFunc("POST /api/categories/refund", s.handleRefund)

	mux.HandleFunc("GET /api/groups/users", s.handleGroupUsers)

	traced := trace.NewMiddleware(extractClientIP)
	secured := security.NewHeadersMiddleware(security.DefaultHeadersConfig())
	s.Handler = traced.Middleware(secured.Middleware(s.limitWrites(mux)))

	return s
}

// limitWrites applies the per-client rate limit to mutating requests.
// Reads stay unlimited, the caches absorb them.
func (s *Server) limitWrites(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodPost && !s.rateLimiter.Allow(extractClientIP(r)) {
			w.Header().Set("Retry-After", "60")
			http.Error(w, "Rate limit exceeded. Please try again later.", http.StatusTooManyRequests)
			return
		}
		next.ServeHTTP(w, r)
	})
}

// invalidateReads drops cached event state after any write.
func (s *Server) invalidateReads() {
	s.eventsCache.Purge()
	s.eventCache.Purge()
}

// Shutdown gracefully shuts down the server and its background routines.
func (s *Server) Shutdown(ctx context.Context) error {
	var shutdownErr error

	s.shutdownOnce.Do(func() {
		s.cacheMgr.Stop()
		s.rateLimiter.Stop()
		shutdownErr = s.Server.Shutdown(ctx)
	})

	return shutdownErr
}
