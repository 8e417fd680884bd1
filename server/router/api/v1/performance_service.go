package v1

import (
	"net/http"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/fincue/ai/backend"
	"github.com/hrygo/fincue/ai/cache"
	"github.com/hrygo/fincue/ai/capability"
	"github.com/hrygo/fincue/ai/network"
	"github.com/hrygo/fincue/ai/stats"
)

type performanceResponse struct {
	Metrics         stats.Aggregates `json:"metrics"`
	Recommendations []string         `json:"recommendations"`
	Cache           cache.Stats      `json:"cache"`
}

type historyResponse struct {
	Snapshots []stats.Snapshot `json:"snapshots"`
}

type capabilityResponse struct {
	Offline          capability.OfflineCapabilities `json:"offline"`
	OverallScore     float64                        `json:"overall_score"`
	DeviceCapability float64                        `json:"device_capability"`
	Connected        bool                           `json:"connected"`
	ConnectionType   network.ConnectionType         `json:"connection_type"`
	Quality          network.Quality                `json:"quality"`
	LowBandwidth     bool                           `json:"low_bandwidth"`
}

// GetPerformance returns the aggregates from the last refresh and the recommendations
// derived from them. ?refresh=true recomputes the aggregates first.
func (s *APIV1Service) GetPerformance(c echo.Context) error {
	monitor := s.Router.Monitor()
	if c.QueryParam("refresh") == "true" {
		monitor.Refresh(c.Request().Context())
	}
	recs := monitor.Recommendations()
	if recs == nil {
		recs = []string{}
	}
	return c.JSON(http.StatusOK, performanceResponse{
		Metrics:         monitor.Metrics(),
		Recommendations: recs,
		Cache:           s.Router.CacheStats(),
	})
}

// GetPerformanceHistory returns recorded snapshots, optionally filtered by
// ?source=local|remote and ?window=<duration>.
func (s *APIV1Service) GetPerformanceHistory(c echo.Context) error {
	var source *backend.Source
	if v := c.QueryParam("source"); v != "" {
		src, err := backend.ParseSource(v)
		if err != nil {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		}
		source = &src
	}
	var window time.Duration
	if v := c.QueryParam("window"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return echo.NewHTTPError(http.StatusBadRequest, "invalid window").SetInternal(err)
		}
		window = d
	}
	return c.JSON(http.StatusOK, historyResponse{Snapshots: s.Router.Monitor().History(source, window)})
}

// ResetPerformance clears counters and history.
func (s *APIV1Service) ResetPerformance(c echo.Context) error {
	s.Router.Monitor().Reset()
	return c.NoContent(http.StatusNoContent)
}

// GetCapability reports what the device and network can take on right now.
func (s *APIV1Service) GetCapability(c echo.Context) error {
	caps := s.Router.Capabilities()
	net := s.Router.Network()
	return c.JSON(http.StatusOK, capabilityResponse{
		Offline:          caps,
		OverallScore:     caps.OverallScore(),
		DeviceCapability: s.Router.DeviceCapability(),
		Connected:        net.IsConnected(),
		ConnectionType:   net.ConnectionType(),
		Quality:          net.Quality(),
		LowBandwidth:     net.IsLowBandwidth(),
	})
}
