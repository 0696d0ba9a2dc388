package httpserver

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/auth"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/config"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/hls"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/metrics"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/origin"
	"github.com/wilsonzlin/aero/proxy/camera-signal-relay/internal/signaling"
)

var ErrServerClosed = http.ErrServerClosed

type BuildInfo struct {
	Commit    string `json:"commit"`
	BuildTime string `json:"buildTime"`
}

// Deps are the components the HTTP surface exposes. Routes whose component is
// nil answer 503.
type Deps struct {
	Router    *signaling.Router
	Signaling http.Handler
	Monitor   *hls.Monitor
	Metrics   *metrics.Metrics
	// Verifier guards /hls/ when authentication is enabled.
	Verifier auth.Verifier
}

type Server struct {
	log   *slog.Logger
	cfg   config.Config
	build BuildInfo
	deps  Deps

	origins origin.Policy
	now     func() time.Time

	ready atomic.Bool

	mux chi.Router
	srv *http.Server
}

func New(cfg config.Config, logger *slog.Logger, build BuildInfo, deps Deps) *Server {
	s := &Server{
		log:     logger,
		cfg:     cfg,
		build:   build,
		deps:    deps,
		origins: origin.NewPolicy(cfg.AllowedOrigins),
		now:     time.Now,
		mux:     chi.NewRouter(),
	}

	s.mux.Use(
		recoverMiddleware(s.log),
		requestIDMiddleware(),
		requestLoggerMiddleware(s.log),
		requestCounterMiddleware(deps.Metrics),
	)
	s.registerRoutes()

	s.srv = &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           s.mux,
		ReadHeaderTimeout: 5 * time.Second,
		// Signaling connections are long-lived, so no read/write timeouts.
	}

	return s
}

// Handler returns the full middleware-wrapped router.
func (s *Server) Handler() http.Handler {
	return s.mux
}

func (s *Server) Serve(l net.Listener) error {
	s.ready.Store(true)
	s.log.Info("http server serving", "addr", l.Addr().String())
	return s.srv.Serve(l)
}

func (s *Server) Shutdown(ctx context.Context) error {
	s.ready.Store(false)
	return s.srv.Shutdown(ctx)
}

func (s *Server) Close() error {
	s.ready.Store(false)
	return s.srv.Close()
}

func (s *Server) registerRoutes() {
	s.mux.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, map[string]any{"ok": true})
	})

	s.mux.Get("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if !s.ready.Load() {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false})
			return
		}
		if err := s.cfg.ICEConfigError(); err != nil {
			WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"ready": false, "error": err.Error()})
			return
		}
		WriteJSON(w, http.StatusOK, map[string]any{"ready": true})
	})

	s.mux.Get("/version", func(w http.ResponseWriter, r *http.Request) {
		WriteJSON(w, http.StatusOK, s.build)
	})

	s.mux.Route("/api", func(r chi.Router) {
		r.Use(s.corsMiddleware())
		r.Get("/streams", s.handleStreams)
		r.Get("/streams/health", s.handleStreamsHealth)
		r.Get("/streams/{streamId}/health", s.handleStreamHealth)
		r.Get("/system/health", s.handleSystemHealth)
		r.Get("/signaling/streams", s.handleSignalingStreams)
	})

	s.mux.Route("/webrtc", func(r chi.Router) {
		r.Use(s.corsMiddleware())
		r.Get("/ice", func(w http.ResponseWriter, r *http.Request) {
			if err := s.cfg.ICEConfigError(); err != nil {
				WriteJSON(w, http.StatusServiceUnavailable, map[string]any{"error": err.Error()})
				return
			}
			WriteJSON(w, http.StatusOK, map[string]any{"iceServers": s.cfg.ICEServers})
		})
	})

	s.mux.Route("/hls", func(r chi.Router) {
		r.Use(s.corsMiddleware(), s.hlsAccessMiddleware())
		r.Get("/*", s.handleHLSFile)
	})

	s.mux.Handle("/metrics", s.deps.Metrics.Handler(s.refreshGauges))

	signal := s.deps.Signaling
	if signal == nil {
		signal = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeError(w, http.StatusServiceUnavailable, "signaling not configured")
		})
	}
	s.mux.Get("/signal", signal.ServeHTTP)
}

// refreshGauges makes scrapes reflect the router even if no event has
// touched the gauges since the last change.
func (s *Server) refreshGauges() {
	if s.deps.Router == nil {
		return
	}
	s.deps.Metrics.SetSessions(s.deps.Router.Sessions())
	s.deps.Metrics.SetBindings(len(s.deps.Router.StreamBindings()))
}

type Middleware func(http.Handler) http.Handler

func recoverMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if rec := recover(); rec != nil {
					if rec == http.ErrAbortHandler {
						panic(rec)
					}
					logger.Error("panic in http handler", "recover", rec, "stack", string(debug.Stack()))
					http.Error(w, http.StatusText(http.StatusInternalServerError), http.StatusInternalServerError)
				}
			}()
			next.ServeHTTP(w, r)
		})
	}
}

func requestIDMiddleware() Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" {
				var buf [16]byte
				if _, err := rand.Read(buf[:]); err == nil {
					reqID = hex.EncodeToString(buf[:])
				}
			}
			if reqID != "" {
				r.Header.Set("X-Request-ID", reqID)
				w.Header().Set("X-Request-ID", reqID)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// statusWriter records the response status. It forwards Hijack so the
// signaling route can still upgrade to a WebSocket behind it.
type statusWriter struct {
	http.ResponseWriter
	status int
}

func (w *statusWriter) WriteHeader(status int) {
	w.status = status
	w.ResponseWriter.WriteHeader(status)
}

func (w *statusWriter) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := w.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("response writer does not support hijacking")
	}
	// A successful upgrade reports 101 in the request log.
	w.status = http.StatusSwitchingProtocols
	return h.Hijack()
}

func (w *statusWriter) Flush() {
	if f, ok := w.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (w *statusWriter) Unwrap() http.ResponseWriter {
	return w.ResponseWriter
}

func wrapStatus(w http.ResponseWriter) *statusWriter {
	if sw, ok := w.(*statusWriter); ok {
		return sw
	}
	return &statusWriter{ResponseWriter: w, status: http.StatusOK}
}

func requestLoggerMiddleware(logger *slog.Logger) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrapStatus(w)
			start := time.Now()

			next.ServeHTTP(sw, r)

			reqID := r.Header.Get("X-Request-ID")
			logger.Info("http_request",
				"method", r.Method,
				"path", r.URL.Path,
				"status", sw.status,
				"duration_ms", time.Since(start).Milliseconds(),
				"remote_addr", r.RemoteAddr,
				"request_id", reqID,
			)
		})
	}
}

func requestCounterMiddleware(m *metrics.Metrics) Middleware {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			sw := wrapStatus(w)
			next.ServeHTTP(sw, r)
			m.IncHTTPRequest(r.Method, sw.status)
		})
	}
}

// WriteJSON writes a JSON response body and sets the Content-Type header.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	enc := json.NewEncoder(w)
	enc.SetEscapeHTML(true)
	_ = enc.Encode(v)
}

func writeError(w http.ResponseWriter, status int, message string) {
	WriteJSON(w, status, map[string]string{"error": message})
}
