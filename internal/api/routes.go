package api

import (
	"bufio"
	"crypto/subtle"
	"errors"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/onnwee/event-companion/backend/internal/api/handlers"
	"github.com/onnwee/event-companion/backend/internal/apierr"
	"github.com/onnwee/event-companion/backend/internal/cache"
	"github.com/onnwee/event-companion/backend/internal/config"
	"github.com/onnwee/event-companion/backend/internal/metrics"
	"github.com/onnwee/event-companion/backend/internal/middleware"
	"github.com/onnwee/event-companion/backend/internal/network"
	"github.com/onnwee/event-companion/backend/internal/syncer"
)

// Sync is what the router needs from the sync coordinator.
type Sync interface {
	handlers.Syncer
	QueueLen() int
}

// Deps wires the diagnostics API to the running agent.
type Deps struct {
	Engine  *cache.Engine
	Sync    Sync
	Network network.Monitor
	// Events serves GET /ws; nil disables the route.
	Events http.Handler
	// Breaker reports the remote API circuit state; may be nil.
	Breaker func() string
}

var _ Sync = (*syncer.Coordinator)(nil)

// NewRouter builds the diagnostics API. Mutating routes require the admin
// bearer token and share one rate limiter.
func NewRouter(d Deps) http.Handler {
	cfg := config.Load()
	r := mux.NewRouter()
	r.Use(instrument)

	adminOnly := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.AdminAPIToken == "" {
				apierr.WriteErrorWithContext(w, r, apierr.SystemUnavailable("Admin token not configured"))
				return
			}
			auth := r.Header.Get("Authorization")
			if auth == "" {
				apierr.WriteErrorWithContext(w, r, apierr.AuthMissing())
				return
			}
			token, ok := strings.CutPrefix(auth, "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(cfg.AdminAPIToken)) != 1 {
				apierr.WriteErrorWithContext(w, r, apierr.AuthInvalid())
				return
			}
			next.ServeHTTP(w, r)
		})
	}
	throttle := middleware.Throttle(rate.NewLimiter(rate.Every(time.Second), 5))
	mutating := func(h http.HandlerFunc) http.Handler { return adminOnly(throttle(h)) }

	health := handlers.NewHealthHandler(d.Network, d.Sync, d.Breaker)
	r.HandleFunc("/health", health.Health).Methods("GET")

	ch := handlers.NewCacheHandler(d.Engine)
	r.HandleFunc("/cache/stats", ch.Stats).Methods("GET")
	r.HandleFunc("/cache/entries", ch.Entries).Methods("GET")
	r.HandleFunc("/cache/entries/{key}", ch.Entry).Methods("GET")
	r.Handle("/cache/entries/{key}", mutating(ch.Delete)).Methods("DELETE")
	r.Handle("/cache/clear", mutating(ch.Clear)).Methods("POST")
	r.Handle("/cache/sweep", mutating(ch.Sweep)).Methods("POST")

	sh := handlers.NewSyncHandler(d.Sync)
	r.HandleFunc("/sync/status", sh.Status).Methods("GET")
	r.Handle("/sync", mutating(sh.Trigger)).Methods("POST")

	r.Handle("/metrics", promhttp.Handler()).Methods("GET")
	if d.Events != nil {
		r.Handle("/ws", d.Events).Methods("GET")
	}

	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		apierr.WriteErrorWithContext(w, r, apierr.ResourceNotFound("route"))
	})

	return middleware.RequestID(middleware.Compress(middleware.RecoverWithSentry(r)))
}

// statusRecorder keeps the status code for metrics and passes hijacking
// through for websocket upgrades.
type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (s *statusRecorder) WriteHeader(code int) {
	if s.status == 0 {
		s.status = code
	}
	s.ResponseWriter.WriteHeader(code)
}

func (s *statusRecorder) Write(b []byte) (int, error) {
	if s.status == 0 {
		s.status = http.StatusOK
	}
	return s.ResponseWriter.Write(b)
}

func (s *statusRecorder) Flush() {
	if f, ok := s.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (s *statusRecorder) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	if h, ok := s.ResponseWriter.(http.Hijacker); ok {
		s.status = http.StatusSwitchingProtocols
		return h.Hijack()
	}
	return nil, nil, errors.New("hijack not supported")
}

func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		rec := &statusRecorder{ResponseWriter: w}
		next.ServeHTTP(rec, r)
		route := r.URL.Path
		if cur := mux.CurrentRoute(r); cur != nil {
			if tmpl, err := cur.GetPathTemplate(); err == nil {
				route = tmpl
			}
		}
		status := rec.status
		if status == 0 {
			status = http.StatusOK
		}
		metrics.DiagnosticsRequests.WithLabelValues(route, r.Method, strconv.Itoa(status)).Inc()
	})
}
