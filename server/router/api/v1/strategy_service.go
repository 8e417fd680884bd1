package v1

import (
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/hrygo/fincue/ai/routing"
)

type strategyResponse struct {
	Current         routing.Strategy   `json:"current"`
	Preferred       routing.Strategy   `json:"preferred"`
	OfflineOverride bool               `json:"offline_override"`
	Forced          bool               `json:"forced"`
	Available       []routing.Strategy `json:"available"`
}

type updateStrategyRequest struct {
	Strategy string `json:"strategy"`
}

type thresholdBody struct {
	Threshold *float64 `json:"threshold"`
}

func (s *APIV1Service) strategyResponse() strategyResponse {
	state := s.Router.Strategy()
	return strategyResponse{
		Current:         state.Current(),
		Preferred:       state.Preferred(),
		OfflineOverride: state.OfflineOverride(),
		Forced:          state.Forced(),
		Available:       routing.AllStrategies,
	}
}

// GetStrategy returns the effective and preferred strategies.
func (s *APIV1Service) GetStrategy(c echo.Context) error {
	return c.JSON(http.StatusOK, s.strategyResponse())
}

// UpdateStrategy stores a new preferred strategy.
func (s *APIV1Service) UpdateStrategy(c echo.Context) error {
	req := &updateStrategyRequest{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	st, err := routing.ParseStrategy(req.Strategy)
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
	}
	if err := s.Router.Strategy().Update(c.Request().Context(), st); err != nil {
		if errors.Is(err, routing.ErrInvalidStrategy) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update strategy").SetInternal(err)
	}
	return c.JSON(http.StatusOK, s.strategyResponse())
}

// GetThreshold returns the LocalFirst confidence threshold.
func (s *APIV1Service) GetThreshold(c echo.Context) error {
	v := s.Router.Strategy().Threshold()
	return c.JSON(http.StatusOK, thresholdBody{Threshold: &v})
}

// UpdateThreshold sets the LocalFirst confidence threshold.
func (s *APIV1Service) UpdateThreshold(c echo.Context) error {
	req := &thresholdBody{}
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body").SetInternal(err)
	}
	if req.Threshold == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "threshold is required")
	}
	if err := s.Router.Strategy().SetThreshold(c.Request().Context(), *req.Threshold); err != nil {
		if errors.Is(err, routing.ErrInvalidThreshold) {
			return echo.NewHTTPError(http.StatusBadRequest, err.Error()).SetInternal(err)
		}
		return echo.NewHTTPError(http.StatusInternalServerError, "failed to update threshold").SetInternal(err)
	}
	v := s.Router.Strategy().Threshold()
	return c.JSON(http.StatusOK, thresholdBody{Threshold: &v})
}
