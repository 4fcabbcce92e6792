package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/serverledge-faas/smartlambda/internal/api"
	"github.com/serverledge-faas/smartlambda/internal/config"
	"github.com/serverledge-faas/smartlambda/internal/container"
	"github.com/serverledge-faas/smartlambda/internal/event"
	"github.com/serverledge-faas/smartlambda/internal/invocation"
	"github.com/serverledge-faas/smartlambda/internal/logging"
	"github.com/serverledge-faas/smartlambda/internal/metrics"
	"github.com/serverledge-faas/smartlambda/internal/monitoring"
	"github.com/serverledge-faas/smartlambda/internal/node"
	"github.com/serverledge-faas/smartlambda/internal/registration"
	"github.com/serverledge-faas/smartlambda/internal/results"
	"github.com/serverledge-faas/smartlambda/internal/scheduling"
	"github.com/serverledge-faas/smartlambda/internal/telemetry"
	"github.com/serverledge-faas/smartlambda/utils"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	_ "go.uber.org/automaxprocs"
)

var configFileName string

var rootCmd = &cobra.Command{
	Use:   "smartlambda",
	Short: "Function execution node with scheduled invocations",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Starts the API server and, if enabled, the schedule claim loop",
	Run: func(cmd *cobra.Command, args []string) {
		if err := serve(); err != nil {
			logrus.Fatal(err)
		}
	},
}

func main() {
	serveCmd.Flags().StringVarP(&configFileName, "config", "c", "", "configuration file")
	rootCmd.AddCommand(serveCmd)
	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}

func serve() error {
	config.ReadConfiguration(configFileName)
	logging.Init()

	myArea := config.GetString(config.REGISTRY_AREA, "ROME")
	node.LocalNode = node.NewIdentifier(myArea)
	log := logging.For("main").WithField("node", node.LocalNode.String())

	metrics.Init()

	ctx, cancel := context.WithCancel(context.Background())
	var cleanup []func()

	if config.GetBool(config.TRACING_ENABLED, false) {
		tracesOutfile := config.GetString(config.TRACING_OUTFILE, "")
		if len(tracesOutfile) < 1 {
			tracesOutfile = fmt.Sprintf("traces-%s.json", time.Now().Format("20060102-150405"))
		}
		log.Infof("Enabling tracing to %s", tracesOutfile)
		otelShutdown, err := telemetry.SetupOTelSDK(ctx, tracesOutfile)
		if err != nil {
			cancel()
			return err
		}
		cleanup = append(cleanup, func() {
			if err := otelShutdown(context.Background()); err != nil {
				log.Warnf("Tracing shutdown: %v", err)
			}
		})
	}

	resources := &node.Resources{}
	resources.Init()
	log.Infof("Resources: %s", resources)

	factory, err := container.NewFactory()
	if err != nil {
		cancel()
		return err
	}

	monitor := monitoring.NewLog(config.GetInt(config.MONITORING_CAPACITY, 10000))
	gateway := invocation.NewGateway(factory,
		invocation.WithResources(resources),
		invocation.WithTimeout(config.GetDuration(config.EXECUTOR_TIMEOUT, invocation.DefaultTimeout)),
		invocation.WithObserver(monitor.Observe))

	events, err := event.NewStore(ctx)
	if err != nil {
		cancel()
		return fmt.Errorf("event store: %w", err)
	}
	cleanup = append(cleanup, func() { _ = events.Close() })

	resultStore, err := results.NewStore()
	if err != nil {
		cancel()
		return fmt.Errorf("results store: %w", err)
	}
	cleanup = append(cleanup, func() { _ = resultStore.Close() })

	schedulerEnabled := config.GetBool(config.SCHEDULER_ENABLED, true)
	if schedulerEnabled {
		scheduler, err := scheduling.New(events, gateway, scheduling.ConfigFromSettings())
		if err != nil {
			cancel()
			return err
		}
		go func() {
			if err := scheduler.Run(ctx); err != nil {
				log.Errorf("Claim loop stopped: %v", err)
			}
		}()
	}

	server := &api.Server{
		Invoker:          gateway,
		Results:          resultStore,
		Events:           events,
		Monitor:          monitor,
		Resources:        resources,
		SchedulerEnabled: schedulerEnabled,
	}

	// register to etcd, this way the node is visible to the others under a given local area
	if cli, err := utils.GetEtcdClient(); err != nil {
		log.Warnf("Node not registered: %v", err)
	} else {
		self := registration.NewRegistration(registration.NodeRegistration{NodeID: node.LocalNode, Scheduler: schedulerEnabled})
		reg, err := registration.Register(ctx, cli, self)
		if err != nil {
			log.Warnf("Node not registered: %v", err)
		} else {
			server.Registry = reg
			// deregistration must precede the etcd client shutdown
			cleanup = append([]func(){func() { _ = reg.Deregister() }}, cleanup...)
		}
	}
	cleanup = append(cleanup, utils.CloseEtcdClient)

	e := echo.New()

	// Register a signal handler to cleanup things on termination
	api.RegisterTerminationHandler(e, cancel, cleanup...)

	api.StartAPIServer(e, server)
	return nil
}
