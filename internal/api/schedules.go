package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/smartlambda/internal/client"
	"github.com/serverledge-faas/smartlambda/internal/event"
	"github.com/serverledge-faas/smartlambda/internal/function"
)

// CreateSchedule stores a new scheduled invocation of an existing function.
func (s *Server) CreateSchedule(c echo.Context) error {
	var req client.ScheduleRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, "could not parse request")
	}
	if _, ok := function.GetFunction(req.Function); !ok {
		return c.JSON(http.StatusNotFound, "function not found")
	}

	e := &event.ScheduledEvent{
		Name:          req.Name,
		Function:      req.Function,
		NextExecution: req.NextExecution,
		Params:        req.Params,
		Recurrence:    req.Recurrence,
	}
	err := s.Events.Create(c.Request().Context(), e)
	if errors.Is(err, event.ErrInvalid) {
		return c.JSON(http.StatusBadRequest, err.Error())
	} else if err != nil {
		s.logger().Errorf("Could not create schedule: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}

	s.logger().WithField("event", e.ID).WithField("function", e.Function).Infof("Scheduled at %v", e.NextExecution)
	return c.JSON(http.StatusOK, client.ScheduleResponse{ID: e.ID})
}

// ListSchedules lists the schedules of the function in the query, or all of them.
func (s *Server) ListSchedules(c echo.Context) error {
	events, err := s.Events.List(c.Request().Context(), c.QueryParam("function"))
	if err != nil {
		s.logger().Errorf("Could not list schedules: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	if events == nil {
		events = []*event.ScheduledEvent{}
	}
	return c.JSON(http.StatusOK, events)
}

func (s *Server) GetSchedule(c echo.Context) error {
	e, err := s.Events.Get(c.Request().Context(), c.Param("id"))
	if errors.Is(err, event.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "schedule not found")
	} else if err != nil {
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, e)
}

func (s *Server) DeleteSchedule(c echo.Context) error {
	id := c.Param("id")
	err := s.Events.Delete(c.Request().Context(), id)
	if errors.Is(err, event.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "schedule not found")
	} else if err != nil {
		s.logger().Errorf("Could not delete schedule: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	response := struct{ Deleted string }{id}
	return c.JSON(http.StatusOK, response)
}
