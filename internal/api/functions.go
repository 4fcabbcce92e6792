package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/smartlambda/internal/client"
	"github.com/serverledge-faas/smartlambda/internal/executor"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"github.com/serverledge-faas/smartlambda/internal/metrics"
	"github.com/serverledge-faas/smartlambda/internal/monitoring"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/serverledge-faas/smartlambda/internal/results"
	"github.com/sirupsen/logrus"
)

// GetFunctions handles a request to list the function available in the system.
func (s *Server) GetFunctions(c echo.Context) error {
	list, err := function.GetAll()
	if err != nil {
		return c.String(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, list)
}

// GetFunction returns the definition of a function.
func (s *Server) GetFunction(c echo.Context) error {
	fun, ok := function.GetFunction(c.Param("fun"))
	if !ok {
		return c.JSON(http.StatusNotFound, "function not found")
	}
	return c.JSON(http.StatusOK, fun)
}

// InvokeFunction handles a function invocation request.
func (s *Server) InvokeFunction(c echo.Context) error {
	funcName := c.Param("fun")
	fun, ok := function.GetFunction(funcName)
	if !ok {
		s.logger().Debugf("Dropping request for unknown fun '%s'", funcName)
		return c.JSON(http.StatusNotFound, "function not found")
	}

	var invocationRequest client.InvocationRequest
	err := json.NewDecoder(c.Request().Body).Decode(&invocationRequest)
	if err != nil && err != io.EOF {
		s.logger().Debugf("Could not parse request: %v", err)
		return c.JSON(http.StatusBadRequest, "could not parse request")
	}

	async := fun.Async
	if invocationRequest.Async != nil {
		async = *invocationRequest.Async
	}

	if async {
		future := s.Invoker.Dispatch(c.Request().Context(), fun, invocationRequest.Params)
		go s.publishWhenDone(future)
		return c.JSON(http.StatusOK, client.AsyncResponse{ReqId: future.ReqId})
	}

	report := s.Invoker.Invoke(c.Request().Context(), fun, invocationRequest.Params)
	response := results.FromReport(report)
	switch {
	case report.Dropped:
		return c.JSON(http.StatusTooManyRequests, response)
	case report.Result.Failed() && report.Result.Err().Kind == executor.InternalError:
		return c.JSON(http.StatusInternalServerError, response)
	default:
		return c.JSON(http.StatusOK, response)
	}
}

func (s *Server) publishWhenDone(future *invocation.Future) {
	report, _ := future.Wait(context.Background())
	if err := s.Results.Publish(context.Background(), results.FromReport(report)); err != nil {
		s.logger().WithField("request", report.ReqId).Errorf("Could not publish async result: %v", err)
	}
}

// PollAsyncResult checks for the result of an asynchronous invocation.
func (s *Server) PollAsyncResult(c echo.Context) error {
	reqId := c.Param("reqId")
	r, err := s.Results.Get(c.Request().Context(), reqId)
	if errors.Is(err, results.ErrNotFound) {
		return c.JSON(http.StatusNotFound, "request not found")
	}
	if err != nil {
		s.logger().Errorf("Could not read result of %s: %v", reqId, err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, r)
}

// CreateFunction handles a function creation request.
func (s *Server) CreateFunction(c echo.Context) error {
	var f function.Function
	err := json.NewDecoder(c.Request().Body).Decode(&f)
	if err != nil && err != io.EOF {
		return c.JSON(http.StatusBadRequest, "could not parse request")
	}

	err = f.Create()
	switch {
	case errors.Is(err, function.ErrDuplicateFunction):
		s.logger().Debugf("Dropping request for already existing function '%s'", f.Name)
		return c.JSON(http.StatusConflict, "function already exists")
	case errors.Is(err, function.ErrInvalidFunction):
		return c.JSON(http.StatusBadRequest, err.Error())
	case err != nil:
		s.logger().Errorf("Failed creation: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}

	s.logger().WithField("function", f.Name).Info("Function created")
	s.Monitor.Add(monitoring.Record{Function: f.Name, Kind: monitoring.Deployment})
	response := struct{ Created string }{f.Name}
	return c.JSON(http.StatusOK, response)
}

// UpdateFunction changes the fields set in the request.
func (s *Server) UpdateFunction(c echo.Context) error {
	var req client.FunctionUpdateRequest
	if err := json.NewDecoder(c.Request().Body).Decode(&req); err != nil {
		return c.JSON(http.StatusBadRequest, "could not parse request")
	}
	f, ok := function.GetFunction(req.Name)
	if !ok {
		return c.JSON(http.StatusNotFound, "function not found")
	}

	if req.HasParameter != nil {
		f.HasParameter = *req.HasParameter
	}
	if req.ParameterType != nil {
		f.ParameterType = *req.ParameterType
	}
	if req.Async != nil {
		f.Async = *req.Async
	}
	if req.MemoryMB != nil {
		f.MemoryMB = *req.MemoryMB
	}
	if req.Timeout != nil {
		f.Timeout = *req.Timeout
	}

	err := f.SaveToEtcd()
	if errors.Is(err, function.ErrInvalidFunction) {
		return c.JSON(http.StatusBadRequest, err.Error())
	} else if err != nil {
		s.logger().Errorf("Failed update: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	s.Monitor.Add(monitoring.Record{Function: f.Name, Kind: monitoring.Deployment})
	response := struct{ Updated string }{f.Name}
	return c.JSON(http.StatusOK, response)
}

// DeleteFunction handles a function deletion request. The schedules of the
// function are deleted with it.
func (s *Server) DeleteFunction(c echo.Context) error {
	var req client.FunctionDeletionRequest
	err := json.NewDecoder(c.Request().Body).Decode(&req)
	if err != nil && err != io.EOF {
		return c.JSON(http.StatusBadRequest, "could not parse request")
	}

	f, ok := function.GetFunction(req.Name)
	if !ok {
		s.logger().Debugf("Dropping request for non existing function '%s'", req.Name)
		return c.JSON(http.StatusNotFound, "function not found")
	}

	log := s.logger().WithField("function", f.Name)
	if err := f.Delete(); err != nil {
		log.Errorf("Failed deletion: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}

	ctx := c.Request().Context()
	events, err := s.Events.List(ctx, f.Name)
	if err != nil {
		log.Warnf("Could not list the schedules of a deleted function: %v", err)
	}
	for _, e := range events {
		if err := s.Events.Delete(ctx, e.ID); err != nil {
			log.WithField("event", e.ID).Warnf("Could not delete schedule: %v", err)
		}
	}

	s.Monitor.Add(monitoring.Record{Function: f.Name, Kind: monitoring.Deletion})
	response := struct{ Deleted string }{f.Name}
	return c.JSON(http.StatusOK, response)
}

// GetStatistics returns the execution statistics of a function.
func (s *Server) GetStatistics(c echo.Context) error {
	name := c.Param("fun")
	stats := s.Monitor.Stats(name)
	response := client.FunctionStatistics{
		Function:             name,
		Executions:           stats.Executions,
		Errors:               stats.Errors,
		AverageExecutionTime: stats.AverageExecutionTime,
	}
	if completions, failures, avg, ok := metrics.GetMetrics(name); ok {
		response.ClusterCompletions = completions
		response.ClusterFailures = failures
		response.ClusterAvgTime = avg
	}
	return c.JSON(http.StatusOK, response)
}

// GetServerStatus returns the status of the node.
func (s *Server) GetServerStatus(c echo.Context) error {
	status := client.StatusInformation{
		Node:      node.LocalNode.String(),
		LoadAvg:   node.LoadAvg(),
		Scheduler: s.SchedulerEnabled,
	}
	if s.Resources != nil {
		status.AvailableMemMB = s.Resources.FreeMemory()
		status.UsedMemMB = s.Resources.UsedMemory()
		status.TotalMemMB = s.Resources.TotalMemory()
		status.AvailableCPUs = s.Resources.TotalCPUs()
		status.Running = s.Resources.Running()
	}
	logrus.Tracef("Status: %+v", status)
	return c.JSON(http.StatusOK, status)
}

// GetNodes lists the nodes registered in the area of this node.
func (s *Server) GetNodes(c echo.Context) error {
	if s.Registry == nil {
		return c.JSON(http.StatusServiceUnavailable, "registry not available")
	}
	area := c.QueryParam("area")
	if area == "" {
		area = s.Registry.Self().Area
	}
	nodes, err := s.Registry.Nodes(c.Request().Context(), area)
	if err != nil {
		s.logger().Errorf("Could not list nodes: %v", err)
		return c.JSON(http.StatusServiceUnavailable, "")
	}
	return c.JSON(http.StatusOK, nodes)
}
