package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/labstack/gommon/log"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/event"
	"github.com/serverledge-faas/smartlambda/internal/function"
	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"github.com/serverledge-faas/smartlambda/internal/metrics"
	"github.com/serverledge-faas/smartlambda/internal/monitoring"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/serverledge-faas/smartlambda/internal/registration"
	"github.com/serverledge-faas/smartlambda/internal/results"
	"github.com/sirupsen/logrus"
)

// Invoker runs function invocations.
type Invoker interface {
	Invoke(ctx context.Context, fn *function.Function, payload []byte) invocation.Report
	Dispatch(ctx context.Context, fn *function.Function, payload []byte) *invocation.Future
}

// Server holds the collaborators of the HTTP handlers.
type Server struct {
	Invoker   Invoker
	Results   results.Store
	Events    event.Store
	Monitor   *monitoring.Log
	Resources *node.Resources
	Registry  *registration.Registry
	// SchedulerEnabled reports whether this node runs the claim loop.
	SchedulerEnabled bool
}

func (s *Server) logger() *logrus.Entry {
	return logrus.WithField("component", "api")
}

// Routes registers the handlers on e.
func (s *Server) Routes(e *echo.Echo) {
	e.Use(middleware.Recover())

	e.POST("/invoke/:fun", s.InvokeFunction)
	e.GET("/poll/:reqId", s.PollAsyncResult)
	e.POST("/create", s.CreateFunction)
	e.POST("/update", s.UpdateFunction)
	e.POST("/delete", s.DeleteFunction)
	e.GET("/function", s.GetFunctions)
	e.GET("/function/:fun", s.GetFunction)
	e.GET("/function/:fun/stats", s.GetStatistics)
	e.GET("/status", s.GetServerStatus)
	e.GET("/nodes", s.GetNodes)

	e.POST("/schedule", s.CreateSchedule)
	e.GET("/schedule", s.ListSchedules)
	e.GET("/schedule/:id", s.GetSchedule)
	e.DELETE("/schedule/:id", s.DeleteSchedule)

	if metrics.Enabled {
		e.GET("/metrics", func(c echo.Context) error {
			metrics.ScrapingHandler.ServeHTTP(c.Response(), c.Request())
			return nil
		})
	}
}

// StartAPIServer registers the routes and serves until the server is shut down.
func StartAPIServer(e *echo.Echo, s *Server) {
	s.Routes(e)

	if level, err := logrus.ParseLevel(config.GetString(config.LOG_LEVEL, "info")); err == nil && level >= logrus.DebugLevel {
		e.Logger.SetLevel(log.DEBUG)
	} else {
		e.Logger.SetLevel(log.WARN)
	}

	portNumber := config.GetInt(config.API_PORT, 1323)
	e.HideBanner = true

	if err := e.Start(fmt.Sprintf("%s:%d", config.GetString(config.API_IP, ""), portNumber)); err != nil && !errors.Is(err, http.ErrServerClosed) {
		e.Logger.Fatal("shutting down the server")
	}
}

// RegisterTerminationHandler shuts the node down on SIGINT or SIGTERM:
// cancel stops the claim loop, then the HTTP server is stopped and the
// cleanup functions run in order.
func RegisterTerminationHandler(e *echo.Echo, cancel context.CancelFunc, cleanup ...func()) {
	c := make(chan os.Signal, 1)
	signal.Notify(c, os.Interrupt, syscall.SIGTERM)

	go func() {
		sig := <-c
		logrus.Infof("Got %s signal. Terminating...", sig)
		cancel()

		ctx, stop := context.WithTimeout(context.Background(), 10*time.Second)
		defer stop()
		if err := e.Shutdown(ctx); err != nil {
			e.Logger.Fatal(err)
		}
		for _, fn := range cleanup {
			fn()
		}
		os.Exit(0)
	}()
}
