// Package api is the thin HTTP surface: request validation, auth, rate
// limiting, and delegation to the directory/delivery/host-event services.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"

	"pushbridge/internal/composer"
	"pushbridge/internal/delivery"
	"pushbridge/internal/directory"
	"pushbridge/internal/eventbus"
	"pushbridge/internal/hostevents"
	"pushbridge/internal/ratelimit"
	logx "pushbridge/pkg/logx"
)

// Body caps for inbound payloads. Overlong values are truncated, not
// rejected.
const (
	maxTitleLen     = 128
	maxBodyLen      = 512
	maxBroadcastLen = 4000
)

const maxRequestBytes = 64 << 10

type Config struct {
	Addr        string
	ExternalURL string
	AuthSecret  string

	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration

	RegistrationMax    int
	RegistrationWindow time.Duration
	BroadcastMax       int
	BroadcastWindow    time.Duration
}

type Server struct {
	mu  sync.Mutex
	cfg Config

	log     logx.Logger
	dir     directory.Store
	del     *delivery.Service
	comp    *composer.Composer
	limiter *ratelimit.Limiter
	host    *hostevents.Adapter
	bus     eventbus.Bus
}

func New(cfg Config, dir directory.Store, del *delivery.Service, comp *composer.Composer, limiter *ratelimit.Limiter, host *hostevents.Adapter, bus eventbus.Bus, log logx.Logger) *Server {
	if log.IsZero() {
		log = logx.Nop()
	}
	s := &Server{log: log, dir: dir, del: del, comp: comp, limiter: limiter, host: host, bus: bus}
	s.applyLocked(cfg)
	return s
}

func (s *Server) rejectRateLimited(w http.ResponseWriter, key string, window time.Duration, msg string) {
	retry := s.limiter.RetryAfterSeconds(key, window)
	w.Header().Set("Retry-After", strconv.Itoa(retry))
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeRateLimitRejected, Data: map[string]any{
			"key":         key,
			"retry_after": retry,
		}})
	}
	writeError(w, http.StatusTooManyRequests, msg)
}

func (s *Server) Apply(cfg Config) {
	s.mu.Lock()
	s.applyLocked(cfg)
	s.mu.Unlock()
}

func (s *Server) applyLocked(cfg Config) {
	if cfg.Addr == "" {
		cfg.Addr = "127.0.0.1:8096"
	}
	if cfg.RegistrationMax <= 0 {
		cfg.RegistrationMax = 10
	}
	if cfg.RegistrationWindow <= 0 {
		cfg.RegistrationWindow = time.Minute
	}
	if cfg.BroadcastMax <= 0 {
		cfg.BroadcastMax = 3
	}
	if cfg.BroadcastWindow <= 0 {
		cfg.BroadcastWindow = time.Minute
	}
	s.cfg = cfg
}

func (s *Server) secret() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg.AuthSecret
}

func (s *Server) config() Config {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cfg
}

// Router builds the chi handler tree.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.Recoverer)

	r.Get("/healthz", s.handleHealth)

	r.Route("/api/v1", func(r chi.Router) {
		r.Use(s.authenticate)

		r.Post("/devices", s.handleRegisterDevice)
		r.Delete("/devices/{token}", s.handleUnregisterDevice)

		r.Get("/users", requireAdmin(s.handleListUsers))
		r.Delete("/users/{userID}", requireAdmin(s.handleDeleteUser))
		r.Get("/users/{userID}/preferences", s.handleGetPreferences)
		r.Put("/users/{userID}/preferences", s.handleSetPreferences)

		r.Post("/notify", requireAdmin(s.handleNotify))
		r.Post("/broadcast", requireAdmin(s.handleBroadcast))
		r.Get("/baseurl", s.handleBaseURL)

		// Host webhook: the media server posts its events here.
		r.Route("/events", func(r chi.Router) {
			r.Post("/item-added", requireAdmin(s.handleItemAdded))
			r.Post("/playback-start", requireAdmin(s.handlePlaybackStart))
			r.Post("/playback-stop", requireAdmin(s.handlePlaybackStop))
		})
	})

	return r
}

// Serve runs the HTTP server until ctx is canceled.
func (s *Server) Serve(ctx context.Context) error {
	cfg := s.config()

	srv := &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.Router(),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- srv.ListenAndServe() }()

	select {
	case <-ctx.Done():
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(sctx)
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

// ---- response helpers ----

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

func decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxRequestBytes))
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return false
	}
	return true
}

// truncateRunes caps s at n runes. Caps are applied by truncation, not
// rejection.
func truncateRunes(s string, n int) string {
	if n <= 0 {
		return s
	}
	runes := []rune(s)
	if len(runes) <= n {
		return s
	}
	return string(runes[:n])
}
