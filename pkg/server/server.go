// Package server exposes the framework over HTTP: the bootstrap page,
// the script and update endpoints, per-session resources, and the
// WebSocket live transport.
package server

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/gorilla/websocket"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/loomdev/loom/pkg/app"
	"github.com/loomdev/loom/pkg/session"
)

// Server ties the controller, the application factory, and the HTTP
// surface together.
type Server struct {
	cfg        Config
	log        *slog.Logger
	controller *session.Controller
	factory    app.Factory

	trustedProxies *proxyMatcher
	upgrader       websocket.Upgrader
	router         chi.Router
	http           *http.Server
}

// New creates a server. The controller's sweep loop starts
// immediately; Run starts listening.
func New(cfg Config, sessCfg session.Config, factory app.Factory, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{
		cfg:            cfg,
		log:            logger.With("component", "server"),
		controller:     session.NewController(sessCfg, logger),
		factory:        factory,
		trustedProxies: newProxyMatcher(cfg.TrustedProxies, logger),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		CheckOrigin:     s.checkOrigin,
	}
	s.router = s.routes()
	s.http = &http.Server{
		Addr:         cfg.Addr,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
	}
	return s
}

// Controller returns the session controller.
func (s *Server) Controller() *session.Controller { return s.controller }

// Handler returns the HTTP handler, for embedding in another mux or
// for tests.
func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() chi.Router {
	r := chi.NewRouter()
	r.Use(methodGate, s.corsHandling)

	base := s.cfg.BasePath
	r.With(metricsMiddleware("app"), traceMiddleware("app")).
		HandleFunc(base, s.handleApp)
	r.With(metricsMiddleware("resource"), traceMiddleware("resource")).
		HandleFunc(base+"/resources/{rid}", s.handleResource)
	r.Get(base+"/ws", s.handleWebSocket)
	r.Get(base+"/loom.js", s.handleRuntime)

	r.Handle("/metrics", promhttp.Handler())
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	return r
}

func (s *Server) handleRuntime(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Write([]byte(runtimeJS))
}

// checkOrigin accepts same-origin upgrades plus the configured
// allowlist.
func (s *Server) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || s.originAllowed(r, origin) {
		return true
	}
	s.log.Warn("rejected cross-origin upgrade", "origin", origin)
	return false
}

// originAllowed accepts the request's own origin and the configured
// allowlist.
func (s *Server) originAllowed(r *http.Request, origin string) bool {
	host := "://" + r.Host
	if origin == "http"+host || origin == "https"+host {
		return true
	}
	for _, allowed := range s.cfg.AllowedOrigins {
		if origin == allowed {
			return true
		}
	}
	return false
}

// Run listens until the context is canceled, then shuts down
// gracefully: sessions are killed first so clients get close frames,
// then the listener drains.
func (s *Server) Run(ctx context.Context) error {
	errc := make(chan error, 1)
	go func() {
		s.log.Info("listening", "addr", s.cfg.Addr)
		if err := s.http.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errc <- err
		}
	}()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), s.cfg.ShutdownTimeout)
	defer cancel()
	if err := s.controller.Shutdown(shutdownCtx); err != nil {
		s.log.Warn("controller shutdown", "error", err)
	}
	return s.http.Shutdown(shutdownCtx)
}
