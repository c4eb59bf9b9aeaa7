// Package frontend serves the HTTP surface: the REST API, the dynamic
// webhook endpoints, and the operational admin routes.
package frontend

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httplog/v2"

	"github.com/refluxhq/reflux/internal/cmn/config"
	"github.com/refluxhq/reflux/internal/cmn/logger"
	"github.com/refluxhq/reflux/internal/cmn/logger/tag"
	"github.com/refluxhq/reflux/internal/service/frontend/api"
)

const (
	readHeaderTimeout      = 10 * time.Second
	idleTimeout            = 120 * time.Second
	writeTimeout           = 60 * time.Second
	defaultShutdownTimeout = 10 * time.Second
)

// Server is the HTTP frontend.
type Server struct {
	cfg        config.Server
	logging    config.Logging
	api        *api.API
	listener   net.Listener
	httpServer *http.Server
}

// ServerOption configures the server.
type ServerOption func(*Server)

// WithListener serves on a pre-bound listener instead of binding the
// configured address. Tests use it for ephemeral ports.
func WithListener(ln net.Listener) ServerOption {
	return func(srv *Server) { srv.listener = ln }
}

// New builds the frontend server around the API handlers.
func New(cfg *config.Config, apiHandlers *api.API, opts ...ServerOption) *Server {
	srv := &Server{
		cfg:     cfg.Server,
		logging: cfg.Logging,
		api:     apiHandlers,
	}
	for _, opt := range opts {
		opt(srv)
	}
	return srv
}

// Addr returns the address the server is bound to. Before Serve it is
// the configured address; with a listener it is the actual port.
func (srv *Server) Addr() string {
	if srv.listener != nil {
		return srv.listener.Addr().String()
	}
	return srv.cfg.Addr()
}

// Serve runs the HTTP server until ctx is cancelled, then shuts down
// gracefully within the configured timeout.
func (srv *Server) Serve(ctx context.Context) error {
	level := slog.LevelInfo
	if srv.logging.Debug() {
		level = slog.LevelDebug
	}
	requestLogger := httplog.NewLogger("http", httplog.Options{
		LogLevel:         level,
		JSON:             srv.logging.Format == "json",
		Concise:          true,
		MessageFieldName: "msg",
	})

	r := chi.NewMux()
	r.Use(middleware.RealIP)
	r.Use(middleware.Compress(5))
	r.Use(httplog.RequestLogger(requestLogger))
	r.Use(middleware.Recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   srv.allowedOrigins(),
		AllowedMethods:   []string{"GET", "POST", "PUT", "PATCH", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Content-Type", "Authorization", "Content-Encoding", "Accept"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	r.Use(middleware.RedirectSlashes)
	if srv.cfg.RequestTimeout > 0 {
		r.Use(middleware.Timeout(srv.cfg.RequestTimeout))
	}

	if base := srv.basePath(); base != "" {
		r.Route(base, func(r chi.Router) { srv.api.ConfigureRoutes(r) })
	} else {
		srv.api.ConfigureRoutes(r)
	}

	srv.httpServer = &http.Server{
		Handler:           r,
		Addr:              srv.cfg.Addr(),
		ReadHeaderTimeout: readHeaderTimeout,
		IdleTimeout:       idleTimeout,
		WriteTimeout:      writeTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		var err error
		if srv.listener != nil {
			err = srv.httpServer.Serve(srv.listener)
		} else {
			err = srv.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	logger.Info(ctx, "Server is starting",
		tag.Host(srv.cfg.Host), tag.Port(srv.cfg.Port))

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	timeout := srv.cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = defaultShutdownTimeout
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()

	logger.Info(shutdownCtx, "Server is shutting down", tag.Timeout(timeout))
	if err := srv.httpServer.Shutdown(shutdownCtx); err != nil {
		_ = srv.httpServer.Close()
		return err
	}
	return nil
}

// allowedOrigins falls back to the wildcard when none are configured.
func (srv *Server) allowedOrigins() []string {
	if len(srv.cfg.AllowedOrigins) > 0 {
		return srv.cfg.AllowedOrigins
	}
	return []string{"*"}
}

// basePath normalizes the configured base path for mounting; empty
// means the root.
func (srv *Server) basePath() string {
	base := strings.Trim(srv.cfg.BasePath, "/")
	if base == "" {
		return ""
	}
	return "/" + base
}
