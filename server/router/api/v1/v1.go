package v1

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"golang.org/x/sync/semaphore"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/observability/logging"
	"github.com/hrygo/fincue/ai/routing"
	"github.com/hrygo/fincue/internal/profile"
	"github.com/hrygo/fincue/internal/version"
)

const (
	// defaultMaxInFlight bounds concurrent process requests across all task kinds.
	defaultMaxInFlight = 8
	// maxUploadBytes bounds image and audio uploads.
	maxUploadBytes = 20 << 20
)

// APIV1Service serves the routing API.
type APIV1Service struct {
	Profile *profile.Profile
	Router  *routing.Router
	// SnapshotQueue reports snapshots waiting to be persisted; nil hides the field.
	SnapshotQueue func() int

	inflight *semaphore.Weighted
}

// NewAPIV1Service creates a service; maxInFlight <= 0 selects the default.
func NewAPIV1Service(profile *profile.Profile, router *routing.Router, maxInFlight int) *APIV1Service {
	if maxInFlight <= 0 {
		maxInFlight = defaultMaxInFlight
	}
	return &APIV1Service{
		Profile:  profile,
		Router:   router,
		inflight: semaphore.NewWeighted(int64(maxInFlight)),
	}
}

// RegisterRoutes registers the REST endpoints with the given Echo instance.
func (s *APIV1Service) RegisterRoutes(_ context.Context, echoServer *echo.Echo) {
	apiGroup := echoServer.Group("/api/v1", middleware.CORS())

	processGroup := apiGroup.Group("/process", s.limitInFlight)
	processGroup.POST("/text", s.ProcessText)
	processGroup.POST("/text/batch", s.ProcessTextBatch)
	processGroup.POST("/image", s.ProcessImage)
	processGroup.POST("/audio", s.ProcessAudio)

	apiGroup.GET("/strategy", s.GetStrategy)
	apiGroup.PUT("/strategy", s.UpdateStrategy)
	apiGroup.GET("/threshold", s.GetThreshold)
	apiGroup.PUT("/threshold", s.UpdateThreshold)

	apiGroup.GET("/performance", s.GetPerformance)
	apiGroup.GET("/performance/history", s.GetPerformanceHistory)
	apiGroup.POST("/performance/reset", s.ResetPerformance)

	apiGroup.GET("/capability", s.GetCapability)

	echoServer.GET("/healthz", s.Healthz)
}

// limitInFlight waits for a processing slot, giving up when the client goes away.
func (s *APIV1Service) limitInFlight(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		ctx := c.Request().Context()
		if err := s.inflight.Acquire(ctx, 1); err != nil {
			return echo.NewHTTPError(http.StatusServiceUnavailable, "server busy").SetInternal(err)
		}
		defer s.inflight.Release(1)
		return next(c)
	}
}

type healthResponse struct {
	Status        string `json:"status"`
	Version       string `json:"version"`
	Connected     bool   `json:"connected"`
	Strategy      string `json:"strategy"`
	SnapshotQueue *int   `json:"snapshot_queue,omitempty"`
}

// Healthz reports liveness plus the current connectivity, strategy and snapshot backlog.
func (s *APIV1Service) Healthz(c echo.Context) error {
	resp := healthResponse{
		Status:    "ok",
		Version:   version.GetCurrentVersion(s.Profile.Mode),
		Connected: s.Router.Network().IsConnected(),
		Strategy:  s.Router.Strategy().Current().String(),
	}
	if s.SnapshotQueue != nil {
		n := s.SnapshotQueue()
		resp.SnapshotQueue = &n
	}
	return c.JSON(http.StatusOK, resp)
}

// processingError maps router errors onto HTTP statuses.
func processingError(c echo.Context, err error) error {
	logger := logging.FromContext(c.Request().Context())
	switch {
	case errors.Is(err, context.Canceled):
		return echo.NewHTTPError(http.StatusRequestTimeout, "request canceled").SetInternal(err)
	case errors.Is(err, backend.ErrProcessingTimeout), errors.Is(err, context.DeadlineExceeded):
		logger.Warn("processing timed out", "error", err)
		return echo.NewHTTPError(http.StatusGatewayTimeout, "processing timed out").SetInternal(err)
	case backend.IsNetworkUnavailable(err):
		return echo.NewHTTPError(http.StatusServiceUnavailable, "network unavailable").SetInternal(err)
	case errors.Is(err, backend.ErrUnsupported):
		return echo.NewHTTPError(http.StatusNotImplemented, "task not supported by any available backend").SetInternal(err)
	default:
		var pe *backend.ProcessingError
		if errors.As(err, &pe) {
			logger.Info("processing failed", "task", pe.Task, "source", pe.Source, "error", err)
			return echo.NewHTTPError(http.StatusUnprocessableEntity, pe.Kind.Error()).SetInternal(err)
		}
		logger.Error("unexpected processing error", "error", err)
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to process request").SetInternal(err)
	}
}

// HTTPErrorHandler renders errors as {"message": ...} and logs server-side failures.
func HTTPErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	he := &echo.HTTPError{}
	if !errors.As(err, &he) {
		he = echo.NewHTTPError(http.StatusInternalServerError, http.StatusText(http.StatusInternalServerError)).SetInternal(err)
	}
	if he.Code >= http.StatusInternalServerError {
		logging.FromContext(c.Request().Context()).Error("request failed",
			slog.Int("status", he.Code),
			slog.Any("error", err))
	}
	msg := he.Message
	if s, ok := msg.(string); ok {
		msg = map[string]string{"message": s}
	}
	var writeErr error
	if c.Request().Method == http.MethodHead {
		writeErr = c.NoContent(he.Code)
	} else {
		writeErr = c.JSON(he.Code, msg)
	}
	if writeErr != nil {
		slog.Warn("failed to write error response", "error", writeErr)
	}
}
