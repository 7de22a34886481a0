package relay

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/roach88/stocksync/internal/coordinator"
)

// SyncFailurePath is the route the notifier posts to.
const SyncFailurePath = "/functions/v1/sync-failure-email"

// EmailSubject is the subject of every sync-failure email.
const EmailSubject = "Sync Failed"

// maxBodyBytes bounds a failure report.
const maxBodyBytes = 64 << 10

// Options configures a Server.
type Options struct {
	AdminEmail string
	Mailer     Mailer
	RateLimit  int
	RateWindow time.Duration
	Logger     *slog.Logger
	Registry   *prometheus.Registry
	Now        func() time.Time
}

// Server is the relay HTTP handler.
type Server struct {
	adminEmail string
	mailer     Mailer
	limiter    *FixedWindow
	logger     *slog.Logger
	registry   *prometheus.Registry
	requests   *prometheus.CounterVec
	router     chi.Router
}

// New builds a relay server. A nil Registry gets a fresh one.
func New(opts Options) (*Server, error) {
	if opts.Mailer == nil {
		return nil, errors.New("relay: mailer is required")
	}
	if opts.RateLimit < 1 || opts.RateWindow <= 0 {
		return nil, fmt.Errorf("relay: invalid rate limit %d per %s", opts.RateLimit, opts.RateWindow)
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.Registry == nil {
		opts.Registry = prometheus.NewRegistry()
	}

	s := &Server{
		adminEmail: opts.AdminEmail,
		mailer:     opts.Mailer,
		limiter:    NewFixedWindow(opts.RateLimit, opts.RateWindow, opts.Now),
		logger:     opts.Logger,
		registry:   opts.Registry,
		requests: promauto.With(opts.Registry).NewCounterVec(prometheus.CounterOpts{
			Name: "stocksync_relay_requests_total",
			Help: "Sync-failure relay requests by outcome.",
		}, []string{"outcome"}),
	}
	s.router = s.routes()
	return s, nil
}

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(s.limiter.Middleware(func(*http.Request) {
			s.requests.WithLabelValues("rate_limited").Inc()
		}))
		r.Post(SyncFailurePath, s.handleSyncFailure)
	})
	return r
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.router.ServeHTTP(w, r)
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleSyncFailure(w http.ResponseWriter, r *http.Request) {
	var report coordinator.FailureReport
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	if err := dec.Decode(&report); err != nil {
		s.requests.WithLabelValues("bad_request").Inc()
		s.logger.Warn("invalid failure report", "error", err)
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if strings.TrimSpace(report.Operation.ID) == "" {
		s.requests.WithLabelValues("bad_request").Inc()
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "operation.id is required"})
		return
	}

	if s.adminEmail == "" {
		s.requests.WithLabelValues("misconfigured").Inc()
		http.Error(w, "Missing ADMIN_EMAIL", http.StatusInternalServerError)
		return
	}

	email := Email{
		To:      s.adminEmail,
		Subject: EmailSubject,
		Content: fmt.Sprintf("Operation %s failed: %s", report.Operation.ID, report.Error),
	}
	if err := s.mailer.Send(r.Context(), email); err != nil {
		s.requests.WithLabelValues("mail_failed").Inc()
		s.logger.Error("send sync-failure email", "op_id", report.Operation.ID, "error", err)
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": "email not sent"})
		return
	}

	s.requests.WithLabelValues("sent").Inc()
	s.logger.Info("sync-failure email sent", "op_id", report.Operation.ID)
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = io.WriteString(w, "ok")
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}
