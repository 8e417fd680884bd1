// Package server exposes the processing router over HTTP.
package server

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/lithammer/shortuuid/v4"
	"github.com/pkg/errors"

	"github.com/hrygo/fincue/ai/observability/logging"
	"github.com/hrygo/fincue/ai/routing"
	"github.com/hrygo/fincue/internal/profile"
	apiv1 "github.com/hrygo/fincue/server/router/api/v1"
)

// Server owns the echo instance and its listener.
type Server struct {
	Profile *profile.Profile
	Router  *routing.Router

	echoServer *echo.Echo
	logger     *slog.Logger
}

// Options carries the optional collaborators of a Server.
type Options struct {
	// Metrics is mounted at /metrics when set.
	Metrics http.Handler
	// MaxInFlight bounds concurrent process requests.
	MaxInFlight int
	// SnapshotQueue is reported by /healthz when set.
	SnapshotQueue func() int
	Logger        *slog.Logger
}

// NewServer builds the HTTP surface for router.
func NewServer(ctx context.Context, profile *profile.Profile, router *routing.Router, opts Options) (*Server, error) {
	if router == nil {
		return nil, errors.New("router is required")
	}
	logger := logging.OrDefault(opts.Logger).With("component", "server")

	echoServer := echo.New()
	echoServer.Debug = profile.IsDev()
	echoServer.HideBanner = true
	echoServer.HidePort = true
	echoServer.HTTPErrorHandler = apiv1.HTTPErrorHandler

	echoServer.Use(middleware.RequestIDWithConfig(middleware.RequestIDConfig{
		Generator: shortuuid.New,
	}))
	echoServer.Use(requestLogger(logger))
	echoServer.Use(middleware.Recover())
	echoServer.Use(middleware.GzipWithConfig(middleware.GzipConfig{
		Skipper: func(c echo.Context) bool {
			// promhttp negotiates its own compression.
			return strings.HasPrefix(c.Path(), "/metrics")
		},
	}))

	s := &Server{
		Profile:    profile,
		Router:     router,
		echoServer: echoServer,
		logger:     logger,
	}

	apiService := apiv1.NewAPIV1Service(profile, router, opts.MaxInFlight)
	apiService.SnapshotQueue = opts.SnapshotQueue
	apiService.RegisterRoutes(ctx, echoServer)
	if opts.Metrics != nil {
		echoServer.GET("/metrics", echo.WrapHandler(opts.Metrics))
	}
	return s, nil
}

// Handler returns the HTTP handler serving every route.
func (s *Server) Handler() http.Handler {
	return s.echoServer
}

// Addr returns the configured listen address.
func (s *Server) Addr() string {
	return fmt.Sprintf("%s:%d", s.Profile.Addr, s.Profile.Port)
}

// Start binds the listener and serves in the background. Bind errors are returned.
func (s *Server) Start(_ context.Context) error {
	listener, err := net.Listen("tcp", s.Addr())
	if err != nil {
		return errors.Wrapf(err, "failed to listen on %s", s.Addr())
	}
	s.echoServer.Listener = listener

	go func() {
		if err := s.echoServer.Start(""); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server stopped", "error", err)
		}
	}()
	s.logger.Info("http server started", "addr", listener.Addr().String())
	return nil
}

// ListenAddr returns the bound address once Start succeeded.
func (s *Server) ListenAddr() net.Addr {
	if s.echoServer.Listener == nil {
		return nil
	}
	return s.echoServer.Listener.Addr()
}

// Shutdown stops accepting requests and waits for in-flight ones until ctx expires.
func (s *Server) Shutdown(ctx context.Context) error {
	if err := s.echoServer.Shutdown(ctx); err != nil {
		return errors.Wrap(err, "failed to shutdown http server")
	}
	s.logger.Info("http server stopped")
	return nil
}

// requestLogger attaches a request-scoped logger to the context and logs each request.
func requestLogger(logger *slog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			start := time.Now()
			req := c.Request()
			reqLogger := logger.With("request_id", c.Response().Header().Get(echo.HeaderXRequestID))
			c.SetRequest(req.WithContext(logging.ToContext(req.Context(), reqLogger)))

			err := next(c)
			if err != nil {
				c.Error(err)
			}

			level := slog.LevelInfo
			if req.URL.Path == "/healthz" || req.URL.Path == "/metrics" {
				level = slog.LevelDebug
			}
			reqLogger.Log(req.Context(), level, "request",
				"method", req.Method,
				"path", req.URL.Path,
				"status", c.Response().Status,
				"latency_ms", time.Since(start).Milliseconds())
			return nil
		}
	}
}
